// Package tracker polls the live-scores feed and maintains the current game
// state snapshot for each tracked match.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

// ScoreSource fetches the current state of a match from the scores feed.
type ScoreSource interface {
	FetchGame(ctx context.Context, sport domain.Sport, matchID string) (domain.GameState, error)
}

const (
	// retryBaseDelay is the first in-poll retry delay after a fetch failure.
	retryBaseDelay = 500 * time.Millisecond
	// retryMaxDelay caps the in-poll retry backoff.
	retryMaxDelay = 4 * time.Second
	// retriesPerPoll bounds fetch attempts within a single Poll call.
	retriesPerPoll = 3
)

// Tracker wraps a ScoreSource with retry, staleness accounting, and snapshot
// caching. Snapshots are immutable; a newer one supersedes the old.
type Tracker struct {
	source   ScoreSource
	cache    domain.GameStateCache
	maxStale int
	logger   *slog.Logger

	mu       sync.Mutex
	failures map[string]int
	last     map[string]domain.GameState
}

// New creates a Tracker. maxStale is how many consecutive failed polls are
// tolerated before Poll reports ErrStaleData.
func New(source ScoreSource, cache domain.GameStateCache, maxStale int, logger *slog.Logger) *Tracker {
	if maxStale < 1 {
		maxStale = 3
	}
	return &Tracker{
		source:   source,
		cache:    cache,
		maxStale: maxStale,
		logger:   logger.With(slog.String("component", "tracker")),
		failures: make(map[string]int),
		last:     make(map[string]domain.GameState),
	}
}

// Poll fetches a fresh snapshot for the match, retrying with bounded backoff
// within the call. On success the snapshot is cached and the failure count
// resets. On failure the previous snapshot is returned; once the match has
// failed maxStale consecutive polls the error wraps ErrStaleData so the
// caller stops trusting the stale snapshot.
func (t *Tracker) Poll(ctx context.Context, sport domain.Sport, matchID string) (domain.GameState, error) {
	state, err := t.fetchWithRetry(ctx, sport, matchID)
	if err == nil {
		t.mu.Lock()
		t.failures[matchID] = 0
		t.last[matchID] = state
		t.mu.Unlock()

		if t.cache != nil {
			if cacheErr := t.cache.Set(ctx, state); cacheErr != nil {
				t.logger.Warn("game state cache update failed",
					slog.String("match_id", matchID),
					slog.String("error", cacheErr.Error()),
				)
			}
		}
		return state, nil
	}

	t.mu.Lock()
	t.failures[matchID]++
	failures := t.failures[matchID]
	prev, havePrev := t.last[matchID]
	t.mu.Unlock()

	t.logger.Warn("score poll failed",
		slog.String("match_id", matchID),
		slog.String("sport", string(sport)),
		slog.Int("consecutive_failures", failures),
		slog.String("error", err.Error()),
	)

	if failures >= t.maxStale {
		return prev, fmt.Errorf("tracker: match %s after %d failed polls: %w", matchID, failures, domain.ErrStaleData)
	}
	if havePrev {
		// Below the staleness bound the previous snapshot is still usable.
		return prev, nil
	}
	return domain.GameState{}, fmt.Errorf("tracker: match %s: %w", matchID, err)
}

// Last returns the most recent successful snapshot for a match, falling back
// to the cache when this process has not polled it yet.
func (t *Tracker) Last(ctx context.Context, matchID string) (domain.GameState, error) {
	t.mu.Lock()
	state, ok := t.last[matchID]
	t.mu.Unlock()
	if ok {
		return state, nil
	}
	if t.cache != nil {
		return t.cache.Get(ctx, matchID)
	}
	return domain.GameState{}, domain.ErrNotFound
}

func (t *Tracker) fetchWithRetry(ctx context.Context, sport domain.Sport, matchID string) (domain.GameState, error) {
	delay := retryBaseDelay
	var lastErr error

	for attempt := 0; attempt < retriesPerPoll; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return domain.GameState{}, ctx.Err()
			case <-timer.C:
			}
			delay *= 2
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
		}

		state, err := t.source.FetchGame(ctx, sport, matchID)
		if err == nil {
			return state, nil
		}
		lastErr = err

		// Rate limiting is not transient within one poll; back off until the
		// next cycle instead of hammering the provider.
		if errors.Is(err, domain.ErrRateLimited) {
			break
		}
	}
	return domain.GameState{}, lastErr
}
