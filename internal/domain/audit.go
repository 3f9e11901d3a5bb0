package domain

import "time"

// AuditEntry is one append-only audit row. Each order transition, decision,
// and risk event writes exactly one entry capturing the order payload and
// the game-state, market, and risk snapshots that produced it. Entries are
// never mutated or deleted (aged entries may be archived to cold storage).
type AuditEntry struct {
	ID         int64
	Account    string
	Event      string
	PositionID string
	OrderID    string
	Order      map[string]any
	GameState  map[string]any
	MarketData map[string]any
	Risk       map[string]any
	CreatedAt  time.Time
}
