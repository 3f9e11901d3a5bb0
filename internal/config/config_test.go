package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateTradeRequiresCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kalshi: api_key_id")
	assert.Contains(t, err.Error(), "polymarket: api_key")
}

func TestValidateRejectsUnknownMatchSport(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.Matches = []TrackedMatch{{
		MatchID:  "m1",
		Sport:    "cricket",
		MarketID: "mkt-1",
		Platform: "polymarket",
	}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown sport "cricket"`)
}

func TestValidateRejectsZeroPaperBalance(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "paper"
	cfg.Engine.PaperBalanceUSDC = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paper_balance_usdc")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
account = "desk-1"
mode = "monitor"

[engine]
poll_interval = "10s"
max_slippage_pct = 0.05

[[engine.matches]]
match_id = "lakers-celtics"
sport = "nba"
market_id = "mkt-1"
platform = "polymarket"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "desk-1", cfg.Account)
	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "10s", cfg.Engine.PollInterval.String())
	assert.Equal(t, 0.05, cfg.Engine.MaxSlippagePct)
	// Untouched fields keep their defaults.
	assert.Equal(t, "30s", cfg.Engine.OrderFillTimeout.String())
	require.Len(t, cfg.Engine.Matches, 1)
	assert.Equal(t, "lakers-celtics", cfg.Engine.Matches[0].MatchID)

	require.NoError(t, cfg.Validate())
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "paper"`), 0o600))

	t.Setenv("SPORTSBOT_MODE", "monitor")
	t.Setenv("SPORTSBOT_POLYMARKET_API_KEY", "k-123")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "k-123", cfg.Polymarket.ApiKey)
}

func TestSportConfigCarriesRiskLimits(t *testing.T) {
	cfg := Defaults()

	sc, ok := cfg.SportConfig(domain.SportNBA)
	require.True(t, ok)

	assert.Equal(t, domain.SportNBA, sc.Sport)
	assert.Equal(t, 0.15, sc.EntryDropPct)
	assert.Equal(t, cfg.Risk.MaxDailyLossUSDC, sc.MaxDailyLossUSDC)
	assert.Equal(t, cfg.Risk.MaxExposureUSDC, sc.MaxExposureUSDC)

	_, ok = cfg.SportConfig(domain.Sport("cricket"))
	assert.False(t, ok)
}
