package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

// gameStateTTL bounds how long a cached snapshot is served after the last
// poll. Anything older than this is useless to a restarted cycle anyway.
const gameStateTTL = 10 * time.Minute

// GameStateCache implements domain.GameStateCache using JSON-encoded values
// at "gamestate:{matchID}".
type GameStateCache struct {
	rdb *redis.Client
}

// NewGameStateCache creates a GameStateCache backed by the given Client.
func NewGameStateCache(c *Client) *GameStateCache {
	return &GameStateCache{rdb: c.Underlying()}
}

func gameStateKey(matchID string) string {
	return "gamestate:" + matchID
}

// Set stores the latest snapshot for a match.
func (gc *GameStateCache) Set(ctx context.Context, state domain.GameState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("redis: marshal game state %s: %w", state.MatchID, err)
	}
	if err := gc.rdb.Set(ctx, gameStateKey(state.MatchID), data, gameStateTTL).Err(); err != nil {
		return fmt.Errorf("redis: set game state %s: %w", state.MatchID, err)
	}
	return nil
}

// Get retrieves the latest snapshot for a match, or domain.ErrNotFound when
// none is cached.
func (gc *GameStateCache) Get(ctx context.Context, matchID string) (domain.GameState, error) {
	data, err := gc.rdb.Get(ctx, gameStateKey(matchID)).Bytes()
	if err == redis.Nil {
		return domain.GameState{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.GameState{}, fmt.Errorf("redis: get game state %s: %w", matchID, err)
	}

	var state domain.GameState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.GameState{}, fmt.Errorf("redis: unmarshal game state %s: %w", matchID, err)
	}
	return state, nil
}

// Compile-time interface check.
var _ domain.GameStateCache = (*GameStateCache)(nil)
