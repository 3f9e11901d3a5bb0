// Package scores implements the live-scores feed client the game state
// tracker polls. Responses are normalized into domain.GameState with the
// progress variant matching the sport.
package scores

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

// Client is the REST client for the scores API. All requests share one
// token-bucket limiter so concurrent match cycles stay under the provider's
// rate limit.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a scores feed client.
//
// baseURL is the API root, e.g. "https://api.balldontlie.io/v1".
// ratePerSec bounds outgoing requests across all matches.
func NewClient(baseURL, apiKey string, ratePerSec float64, timeout time.Duration) *Client {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
	}
}

// FetchGame retrieves the current state of a match and normalizes it for the
// given sport. It blocks on the shared rate limiter before issuing the
// request.
func (c *Client) FetchGame(ctx context.Context, sport domain.Sport, matchID string) (domain.GameState, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.GameState{}, fmt.Errorf("scores: rate limit wait: %w", err)
	}

	path := fmt.Sprintf("%s/%s/games/%s", c.baseURL, url.PathEscape(string(sport)), url.PathEscape(matchID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.GameState{}, fmt.Errorf("scores: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.GameState{}, fmt.Errorf("scores: fetch game %s: %w", matchID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.GameState{}, fmt.Errorf("scores: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.GameState{}, fmt.Errorf("scores: game %s: %w", matchID, domain.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.GameState{}, fmt.Errorf("scores: game %s: %w", matchID, domain.ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return domain.GameState{}, fmt.Errorf("scores: game %s: HTTP %d: %s", matchID, resp.StatusCode, string(body))
	}

	var wrapper struct {
		Data gameDTO `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return domain.GameState{}, fmt.Errorf("scores: decode game %s: %w", matchID, err)
	}

	state, err := wrapper.Data.toDomain(sport, matchID)
	if err != nil {
		return domain.GameState{}, fmt.Errorf("scores: normalize game %s: %w", matchID, err)
	}
	return state, nil
}
