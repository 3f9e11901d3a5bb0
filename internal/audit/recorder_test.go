package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

type flakyAuditStore struct {
	failures int
	appends  []domain.AuditEntry
}

func (f *flakyAuditStore) Append(ctx context.Context, e domain.AuditEntry) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("db unavailable")
	}
	f.appends = append(f.appends, e)
	return nil
}

func (f *flakyAuditStore) List(ctx context.Context, account string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return f.appends, nil
}

func (f *flakyAuditStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (f *flakyAuditStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func newTestRecorder(store domain.AuditStore) *Recorder {
	return NewRecorder(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRecordRetriesTransientFailures(t *testing.T) {
	store := &flakyAuditStore{failures: 2}
	r := newTestRecorder(store)

	err := r.Record(context.Background(), domain.AuditEntry{Account: "acct", Event: EventOrderFilled})

	assert.NoError(t, err)
	assert.Len(t, store.appends, 1)
}

func TestRecordReturnsFinalErrorAfterRetries(t *testing.T) {
	store := &flakyAuditStore{failures: 10}
	r := newTestRecorder(store)

	err := r.Record(context.Background(), domain.AuditEntry{Account: "acct", Event: EventOrderFilled})

	assert.Error(t, err)
	assert.Empty(t, store.appends)
}

func TestGameStateSnapshotCarriesProgressVariant(t *testing.T) {
	mins := 7.5
	gs := domain.GameState{
		Sport:     domain.SportNBA,
		MatchID:   "game-1",
		HomeScore: 101,
		AwayScore: 99,
		Progress:  domain.Progress{MinutesRemaining: &mins},
	}

	snap := GameStateSnapshot(gs)

	assert.Equal(t, 7.5, snap["minutes_remaining"])
	assert.Equal(t, 101, snap["home_score"])
	_, hasInning := snap["inning"]
	assert.False(t, hasInning)
}

func TestOrderSnapshotOmitsEmptyOptionalFields(t *testing.T) {
	snap := OrderSnapshot(domain.Order{
		ID:       "ord-1",
		MarketID: "mkt-1",
		Side:     domain.OrderSideBuy,
		Price:    0.4,
		Size:     10,
		Status:   domain.OrderStatusPending,
	})

	_, hasExchangeID := snap["exchange_order_id"]
	assert.False(t, hasExchangeID)
	_, hasFilled := snap["filled_price"]
	assert.False(t, hasFilled)
}
