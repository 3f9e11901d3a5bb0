package domain

import "time"

// PositionStatus tracks a position through its lifecycle.
type PositionStatus string

const (
	PositionStatusPending   PositionStatus = "pending"
	PositionStatusOpen      PositionStatus = "open"
	PositionStatusExiting   PositionStatus = "exiting"
	PositionStatusClosed    PositionStatus = "closed"
	PositionStatusCancelled PositionStatus = "cancelled"
)

// validTransitions encodes the position state machine:
// pending -> open -> exiting -> closed, and pending -> cancelled on a
// timeout or explicit cancel before fill.
var validTransitions = map[PositionStatus][]PositionStatus{
	PositionStatusPending: {PositionStatusOpen, PositionStatusCancelled},
	PositionStatusOpen:    {PositionStatusExiting},
	PositionStatusExiting: {PositionStatusClosed},
}

// CanTransition reports whether moving from one status to another is allowed
// by the state machine.
func CanTransition(from, to PositionStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Position represents a tracked market position. It is exclusively owned by
// the engine once created and mutated only by the execution manager through
// the state machine above.
type Position struct {
	ID           string
	Account      string
	MarketID     string
	Match        string
	Sport        Sport
	Platform     Platform
	Side         OrderSide
	EntryPrice   float64
	Size         float64
	Status       PositionStatus
	EntryOrderID string
	ExitOrderID  string
	OpenedAt     time.Time
	ClosedAt     *time.Time
	ExitPrice    *float64
	RealizedPnL  float64
}

// Notional returns the position's current notional value at the given price.
func (p Position) Notional(price float64) float64 {
	return price * p.Size
}

// UnrealizedPnLPct returns the percentage gain or loss at the given price
// relative to the entry price. Returns 0 when the entry price is zero.
func (p Position) UnrealizedPnLPct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	if p.Side == OrderSideSell {
		return (p.EntryPrice - price) / p.EntryPrice
	}
	return (price - p.EntryPrice) / p.EntryPrice
}

// Live reports whether the position still contributes to account exposure.
func (p Position) Live() bool {
	return p.Status == PositionStatusOpen || p.Status == PositionStatusExiting
}
