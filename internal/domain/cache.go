package domain

import (
	"context"
	"time"
)

// PriceCache stores the last-seen market price per market, fed by the
// websocket feed and read by the slippage check.
type PriceCache interface {
	SetPrice(ctx context.Context, marketID string, price float64) error
	GetPrice(ctx context.Context, marketID string) (price float64, updatedAt time.Time, err error)
	// SetReference records the reference price used by the entry-drop rule.
	SetReference(ctx context.Context, marketID string, price float64) error
	GetReference(ctx context.Context, marketID string) (float64, error)
}

// GameStateCache stores the most recent game-state snapshot per match so
// restarted cycles resume without an immediate feed round-trip.
type GameStateCache interface {
	Set(ctx context.Context, state GameState) error
	Get(ctx context.Context, matchID string) (GameState, error)
}

// RateLimiter provides a shared token-bucket limiter keyed by caller.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides a distributed lock so only one process runs the
// reconciliation scan for an account at a time. Acquire returns an unlock
// function that is safe to call more than once, or ErrLockHeld when another
// holder owns the lock.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one durable message read from the signal bus.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus publishes structured engine events (decisions, risk denials,
// kill-switch triggers, orphans) for dashboards and alerting. Pub/Sub is
// ephemeral; streams are durable and trimmed.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
