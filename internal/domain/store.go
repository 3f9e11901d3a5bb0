package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions. Transition enforces the state machine by
// updating only when the current status matches from; it returns
// ErrInvalidTransition when the row has already moved on.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Transition(ctx context.Context, id string, from, to PositionStatus) error
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListLive(ctx context.Context, account string) ([]Position, error)
	ListByMarket(ctx context.Context, account, marketID string) ([]Position, error)
	ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Position, error)
	ListHistory(ctx context.Context, account string, opts ListOpts) ([]Position, error)
}

// OrderStore persists local order records.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error
	SetExchangeOrderID(ctx context.Context, id, exchangeOrderID string) error
	MarkFilled(ctx context.Context, id string, price float64, at time.Time) error
	GetByID(ctx context.Context, id string) (Order, error)
	ListLive(ctx context.Context, account string) ([]Order, error)
}

// RiskStore persists per-account risk state and kill-switch events.
type RiskStore interface {
	Get(ctx context.Context, account string) (RiskState, error)
	Save(ctx context.Context, state RiskState) error
	AppendKillSwitchEvent(ctx context.Context, evt KillSwitchEvent) error
	ListKillSwitchEvents(ctx context.Context, account string, opts ListOpts) ([]KillSwitchEvent, error)
}

// OrphanStore persists orphan records produced by the reconciliation scanner.
type OrphanStore interface {
	Create(ctx context.Context, rec OrphanRecord) error
	Resolve(ctx context.Context, id string, res OrphanResolution) error
	ListUnresolved(ctx context.Context, account string) ([]OrphanRecord, error)
	// ExistsUnresolved dedupes repeated scans of the same exchange-side item.
	ExistsUnresolved(ctx context.Context, platform Platform, marketID, exchangeOrderID string) (bool, error)
}

// MarketOverrideStore supplies per-market config overrides.
type MarketOverrideStore interface {
	Get(ctx context.Context, account, marketID string) (MarketOverride, error)
	Upsert(ctx context.Context, o MarketOverride) error
}

// AuditStore persists the append-only audit log.
type AuditStore interface {
	Append(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, account string, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
