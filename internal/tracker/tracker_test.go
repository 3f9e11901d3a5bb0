package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

type fakeSource struct {
	states []domain.GameState
	errs   []error
	calls  int
}

func (f *fakeSource) FetchGame(ctx context.Context, sport domain.Sport, matchID string) (domain.GameState, error) {
	i := f.calls
	f.calls++
	if i >= len(f.states) {
		i = len(f.states) - 1
	}
	if f.errs[i] != nil {
		return domain.GameState{}, f.errs[i]
	}
	return f.states[i], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mins(v float64) *float64 { return &v }

func TestPollSuccessResetsFailures(t *testing.T) {
	good := domain.GameState{
		Sport:   domain.SportNBA,
		MatchID: "game-1",
		Progress: domain.Progress{
			MinutesRemaining: mins(8),
		},
		HomeScore: 90,
		AwayScore: 88,
	}
	src := &fakeSource{
		states: []domain.GameState{good},
		errs:   []error{nil},
	}
	tr := New(src, nil, 3, testLogger())

	state, err := tr.Poll(context.Background(), domain.SportNBA, "game-1")
	require.NoError(t, err)
	assert.Equal(t, 90, state.HomeScore)
	assert.Equal(t, 2, state.ScoreDiff())
	assert.False(t, state.Progress.Empty())
}

func TestPollReturnsPreviousSnapshotBelowStaleBound(t *testing.T) {
	good := domain.GameState{
		Sport:     domain.SportNBA,
		MatchID:   "game-1",
		HomeScore: 50,
	}
	boom := errors.New("feed down")
	src := &fakeSource{
		states: []domain.GameState{good, {}},
		// First poll succeeds, every fetch after that fails. In-poll retries
		// consume one call each, so pad the error list.
		errs: []error{nil, boom, boom, boom, boom, boom, boom, boom, boom, boom},
	}
	tr := New(src, nil, 3, testLogger())
	ctx := context.Background()

	_, err := tr.Poll(ctx, domain.SportNBA, "game-1")
	require.NoError(t, err)

	state, err := tr.Poll(ctx, domain.SportNBA, "game-1")
	require.NoError(t, err)
	assert.Equal(t, 50, state.HomeScore, "previous snapshot served while below stale bound")
}

func TestPollReportsStaleDataAfterMaxFailures(t *testing.T) {
	boom := errors.New("feed down")
	errs := make([]error, 32)
	for i := range errs {
		errs[i] = boom
	}
	src := &fakeSource{
		states: make([]domain.GameState, 32),
		errs:   errs,
	}
	tr := New(src, nil, 3, testLogger())
	ctx := context.Background()

	var err error
	for i := 0; i < 3; i++ {
		_, err = tr.Poll(ctx, domain.SportNBA, "game-1")
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStaleData)
}

func TestPollRateLimitSkipsInPollRetries(t *testing.T) {
	limited := domain.ErrRateLimited
	src := &fakeSource{
		states: make([]domain.GameState, 4),
		errs:   []error{limited, limited, limited, limited},
	}
	tr := New(src, nil, 5, testLogger())

	_, err := tr.Poll(context.Background(), domain.SportNBA, "game-1")
	require.Error(t, err)
	assert.Equal(t, 1, src.calls, "rate-limited fetch must not be retried within the poll")
}

func TestLastFallsBackToNotFound(t *testing.T) {
	src := &fakeSource{states: make([]domain.GameState, 1), errs: []error{nil}}
	tr := New(src, nil, 3, testLogger())

	_, err := tr.Last(context.Background(), "never-polled")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
