package domain

import "time"

// OrphanResolution tracks how an orphan record was resolved.
type OrphanResolution string

const (
	OrphanUnresolved    OrphanResolution = "unresolved"
	OrphanManualClose   OrphanResolution = "manual_close"
	OrphanAutoClose     OrphanResolution = "auto_close"
	OrphanFalsePositive OrphanResolution = "false_positive"
)

// OrphanKind distinguishes the direction of the mismatch.
type OrphanKind string

const (
	// OrphanExchangeSide: the exchange reports an order/position with no
	// local counterpart.
	OrphanExchangeSide OrphanKind = "exchange_side"
	// OrphanLocalSide: a local open position has no exchange counterpart.
	// Flagged for operator review, never auto-cancelled.
	OrphanLocalSide OrphanKind = "local_side"
)

// OrphanRecord is created by the reconciliation scanner and mutated only by
// an explicit resolution action.
type OrphanRecord struct {
	ID              string
	Account         string
	Platform        Platform
	MarketID        string
	ExchangeOrderID string
	Kind            OrphanKind
	Resolution      OrphanResolution
	DetectedAt      time.Time
	ResolvedAt      *time.Time
}
