// Package config defines the top-level configuration for the sports trading
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/sportsbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SPORTSBOT_* environment
// variables.
type Config struct {
	Account    string                     `toml:"account"`
	Mode       string                     `toml:"mode"`
	LogLevel   string                     `toml:"log_level"`
	Kalshi     KalshiConfig               `toml:"kalshi"`
	Polymarket PolymarketConfig           `toml:"polymarket"`
	Scores     ScoresConfig               `toml:"scores"`
	Postgres   PostgresConfig             `toml:"postgres"`
	Redis      RedisConfig                `toml:"redis"`
	S3         S3Config                   `toml:"s3"`
	Risk       RiskConfig                 `toml:"risk"`
	Engine     EngineConfig               `toml:"engine"`
	Sports     map[string]SportThresholds `toml:"sports"`
	Notify     NotifyConfig               `toml:"notify"`
}

// KalshiConfig holds Kalshi exchange API credentials.
type KalshiConfig struct {
	ApiKeyID          string `toml:"api_key_id"`
	RsaPrivateKeyPath string `toml:"rsa_private_key_path"`
	EncryptedKeyPath  string `toml:"encrypted_key_path"`
	KeyPassword       string `toml:"key_password"`
	BaseURL           string `toml:"base_url"`
}

// PolymarketConfig holds Polymarket CLOB endpoints and credentials.
// ApiKey, ApiSecret, and Passphrase are the pre-derived CLOB API
// credentials; Address is the funder wallet they were derived for.
type PolymarketConfig struct {
	ClobHost   string `toml:"clob_host"`
	GammaHost  string `toml:"gamma_host"`
	WsHost     string `toml:"ws_host"`
	ApiKey     string `toml:"api_key"`
	ApiSecret  string `toml:"api_secret"`
	Passphrase string `toml:"passphrase"`
	Address    string `toml:"address"`
}

// ScoresConfig holds the live-scores feed parameters.
type ScoresConfig struct {
	BaseURL      string   `toml:"base_url"`
	ApiKey       string   `toml:"api_key"`
	PollInterval duration `toml:"poll_interval"`
	RatePerSec   float64  `toml:"rate_per_sec"`
	FetchTimeout duration `toml:"fetch_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object storage parameters for audit cold archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// RiskConfig holds the account-level risk limits enforced before every order.
type RiskConfig struct {
	MaxExposureUSDC           float64 `toml:"max_exposure_usdc"`
	MaxDailyLossUSDC          float64 `toml:"max_daily_loss_usdc"`
	MinBalanceUSDC            float64 `toml:"min_balance_usdc"`
	MaxConsecutiveLosses      int     `toml:"max_consecutive_losses"`
	StreakReductionEnabled    bool    `toml:"streak_reduction_enabled"`
	StreakReductionPctPerLoss float64 `toml:"streak_reduction_pct_per_loss"`
	MinOrderSize              float64 `toml:"min_order_size"`
}

// TrackedMatch binds a live match to the market traded against it.
type TrackedMatch struct {
	MatchID  string `toml:"match_id"`
	Sport    string `toml:"sport"`
	MarketID string `toml:"market_id"`
	Platform string `toml:"platform"`
}

// EngineConfig holds decision-cycle parameters.
type EngineConfig struct {
	Matches             []TrackedMatch `toml:"matches"`
	PollInterval        duration       `toml:"poll_interval"`
	OrderFillTimeout    duration       `toml:"order_fill_timeout"`
	FillPollInterval    duration       `toml:"fill_poll_interval"`
	MaxSlippagePct      float64        `toml:"max_slippage_pct"`
	ReconcileInterval   duration       `toml:"reconcile_interval"`
	MaxConsecutiveStale int            `toml:"max_consecutive_stale"`
	// PaperBalanceUSDC is the balance assumed by risk checks when the engine
	// is not querying the exchange for one (paper and monitor modes).
	PaperBalanceUSDC float64 `toml:"paper_balance_usdc"`
}

// SportThresholds is the TOML shape of a per-sport configuration block.
type SportThresholds struct {
	EntryDropPct            float64 `toml:"entry_drop_pct"`
	EntryAbsolutePrice      float64 `toml:"entry_absolute_price"`
	TakeProfitPct           float64 `toml:"take_profit_pct"`
	StopLossPct             float64 `toml:"stop_loss_pct"`
	MinVolume               float64 `toml:"min_volume"`
	MaxVolume               float64 `toml:"max_volume"`
	TradingOpenHour         int     `toml:"trading_open_hour"`
	TradingCloseHour        int     `toml:"trading_close_hour"`
	ExitTimeRemainingSec    float64 `toml:"exit_time_remaining_sec"`
	MinTimeRemainingMinutes float64 `toml:"min_time_remaining_minutes"`
	MaxElapsedMinutes       float64 `toml:"max_elapsed_minutes"`
	MaxEntryInning          int     `toml:"max_entry_inning"`
	MinOutsRemaining        int     `toml:"min_outs_remaining"`
	MaxEntrySet             int     `toml:"max_entry_set"`
	MinSetsRemaining        int     `toml:"min_sets_remaining"`
	MaxEntryRound           int     `toml:"max_entry_round"`
	MaxEntryHole            int     `toml:"max_entry_hole"`
	MinHolesRemaining       int     `toml:"min_holes_remaining"`
	OrderSize               float64 `toml:"order_size"`
	Priority                int     `toml:"priority"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// SportConfig converts the TOML block for the given sport into the domain
// config the evaluator reads, carrying over the account-level risk limits.
func (c *Config) SportConfig(sport domain.Sport) (domain.SportConfig, bool) {
	t, ok := c.Sports[string(sport)]
	if !ok {
		return domain.SportConfig{}, false
	}
	return domain.SportConfig{
		Sport:              sport,
		EntryDropPct:       t.EntryDropPct,
		EntryAbsolutePrice: t.EntryAbsolutePrice,
		MinVolume:          t.MinVolume,
		MaxVolume:          t.MaxVolume,
		TradingWindow: domain.TradingWindow{
			OpenHour:  t.TradingOpenHour,
			CloseHour: t.TradingCloseHour,
		},
		TakeProfitPct:           t.TakeProfitPct,
		StopLossPct:             t.StopLossPct,
		ExitTimeRemainingSec:    t.ExitTimeRemainingSec,
		MinTimeRemainingMinutes: t.MinTimeRemainingMinutes,
		MaxElapsedMinutes:       t.MaxElapsedMinutes,
		MaxEntryInning:          t.MaxEntryInning,
		MinOutsRemaining:        t.MinOutsRemaining,
		MaxEntrySet:             t.MaxEntrySet,
		MinSetsRemaining:        t.MinSetsRemaining,
		MaxEntryRound:           t.MaxEntryRound,
		MaxEntryHole:            t.MaxEntryHole,
		MinHolesRemaining:       t.MinHolesRemaining,
		OrderSize:               t.OrderSize,
		Priority:                t.Priority,
		MaxDailyLossUSDC:        c.Risk.MaxDailyLossUSDC,
		MaxExposureUSDC:         c.Risk.MaxExposureUSDC,
	}, true
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Account:  "default",
		Mode:     "paper",
		LogLevel: "info",
		Kalshi: KalshiConfig{
			BaseURL: "https://api.elections.kalshi.com/trade-api/v2",
		},
		Polymarket: PolymarketConfig{
			ClobHost:  "https://clob.polymarket.com",
			GammaHost: "https://gamma-api.polymarket.com",
			WsHost:    "wss://ws-subscriptions-clob.polymarket.com/ws/market",
		},
		Scores: ScoresConfig{
			BaseURL:      "https://api.balldontlie.io/v1",
			PollInterval: duration{5 * time.Second},
			RatePerSec:   1,
			FetchTimeout: duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "sportsbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "sportsbot-audit",
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Risk: RiskConfig{
			MaxExposureUSDC:           500,
			MaxDailyLossUSDC:          100,
			MinBalanceUSDC:            25,
			MaxConsecutiveLosses:      5,
			StreakReductionEnabled:    true,
			StreakReductionPctPerLoss: 0.25,
			MinOrderSize:              1,
		},
		Engine: EngineConfig{
			PollInterval:        duration{5 * time.Second},
			OrderFillTimeout:    duration{30 * time.Second},
			FillPollInterval:    duration{2 * time.Second},
			MaxSlippagePct:      0.02,
			ReconcileInterval:   duration{1 * time.Minute},
			MaxConsecutiveStale: 3,
			PaperBalanceUSDC:    1000,
		},
		Sports: map[string]SportThresholds{
			"nba": {
				EntryDropPct:            0.15,
				EntryAbsolutePrice:      0.35,
				TakeProfitPct:           0.20,
				StopLossPct:             0.10,
				MinVolume:               1000,
				ExitTimeRemainingSec:    120,
				MinTimeRemainingMinutes: 5,
				OrderSize:               10,
				Priority:                1,
			},
			"mlb": {
				EntryDropPct:       0.15,
				EntryAbsolutePrice: 0.35,
				TakeProfitPct:      0.20,
				StopLossPct:        0.10,
				MinVolume:          500,
				MaxEntryInning:     7,
				MinOutsRemaining:   6,
				OrderSize:          10,
				Priority:           2,
			},
			"soccer": {
				EntryDropPct:       0.12,
				EntryAbsolutePrice: 0.30,
				TakeProfitPct:      0.18,
				StopLossPct:        0.10,
				MinVolume:          500,
				MaxElapsedMinutes:  75,
				OrderSize:          10,
				Priority:           3,
			},
			"tennis": {
				EntryDropPct:       0.15,
				EntryAbsolutePrice: 0.30,
				TakeProfitPct:      0.20,
				StopLossPct:        0.12,
				MinVolume:          250,
				MaxEntrySet:        2,
				MinSetsRemaining:   1,
				OrderSize:          5,
				Priority:           4,
			},
			"mma": {
				EntryDropPct:       0.20,
				EntryAbsolutePrice: 0.25,
				TakeProfitPct:      0.25,
				StopLossPct:        0.15,
				MinVolume:          250,
				MaxEntryRound:      2,
				OrderSize:          5,
				Priority:           5,
			},
			"golf": {
				EntryDropPct:       0.15,
				EntryAbsolutePrice: 0.30,
				TakeProfitPct:      0.20,
				StopLossPct:        0.12,
				MinVolume:          100,
				MaxEntryHole:       14,
				MinHolesRemaining:  4,
				OrderSize:          5,
				Priority:           6,
			},
		},
		Notify: NotifyConfig{
			Events: []string{"kill_switch", "orphan_detected", "daily_loss_limit", "error"},
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Account) == "" {
		errs = append(errs, "account must not be empty")
	}
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Live trading needs exchange credentials; paper mode does not.
	if strings.ToLower(c.Mode) == "trade" {
		if c.Kalshi.ApiKeyID == "" {
			errs = append(errs, "kalshi: api_key_id is required for mode trade")
		}
		if c.Kalshi.RsaPrivateKeyPath == "" && c.Kalshi.EncryptedKeyPath == "" {
			errs = append(errs, "kalshi: either rsa_private_key_path or encrypted_key_path must be set for mode trade")
		}
		if c.Kalshi.EncryptedKeyPath != "" && c.Kalshi.KeyPassword == "" {
			errs = append(errs, "kalshi: key_password is required when encrypted_key_path is set")
		}
		if c.Polymarket.ApiKey == "" || c.Polymarket.ApiSecret == "" {
			errs = append(errs, "polymarket: api_key and api_secret are required for mode trade")
		}
		if c.Polymarket.Address == "" {
			errs = append(errs, "polymarket: address is required for mode trade")
		}
	}
	if c.Kalshi.BaseURL == "" {
		errs = append(errs, "kalshi: base_url must not be empty")
	}
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}

	// Scores feed.
	if c.Scores.BaseURL == "" {
		errs = append(errs, "scores: base_url must not be empty")
	}
	if c.Scores.PollInterval.Duration <= 0 {
		errs = append(errs, "scores: poll_interval must be positive")
	}

	// Postgres.
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis.
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3.
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1 when enabled")
		}
	}

	// Risk limits.
	if c.Risk.MaxExposureUSDC <= 0 {
		errs = append(errs, "risk: max_exposure_usdc must be > 0")
	}
	if c.Risk.MaxDailyLossUSDC <= 0 {
		errs = append(errs, "risk: max_daily_loss_usdc must be > 0")
	}
	if c.Risk.MaxConsecutiveLosses < 1 {
		errs = append(errs, "risk: max_consecutive_losses must be >= 1")
	}
	if c.Risk.StreakReductionEnabled {
		if c.Risk.StreakReductionPctPerLoss <= 0 || c.Risk.StreakReductionPctPerLoss >= 1 {
			errs = append(errs, "risk: streak_reduction_pct_per_loss must be in (0, 1)")
		}
	}
	if c.Risk.MinOrderSize <= 0 {
		errs = append(errs, "risk: min_order_size must be > 0")
	}

	// Engine.
	if c.Engine.PollInterval.Duration <= 0 {
		errs = append(errs, "engine: poll_interval must be positive")
	}
	if c.Engine.OrderFillTimeout.Duration <= 0 {
		errs = append(errs, "engine: order_fill_timeout must be positive")
	}
	if c.Engine.MaxSlippagePct <= 0 {
		errs = append(errs, "engine: max_slippage_pct must be > 0")
	}
	if c.Engine.MaxConsecutiveStale < 1 {
		errs = append(errs, "engine: max_consecutive_stale must be >= 1")
	}
	if strings.ToLower(c.Mode) != "trade" && c.Engine.PaperBalanceUSDC <= 0 {
		errs = append(errs, "engine: paper_balance_usdc must be > 0 for paper and monitor modes")
	}
	for i, m := range c.Engine.Matches {
		if m.MatchID == "" {
			errs = append(errs, fmt.Sprintf("engine: matches[%d]: match_id must not be empty", i))
		}
		if !domain.Sport(m.Sport).Valid() {
			errs = append(errs, fmt.Sprintf("engine: matches[%d]: unknown sport %q", i, m.Sport))
		}
		if m.MarketID == "" {
			errs = append(errs, fmt.Sprintf("engine: matches[%d]: market_id must not be empty", i))
		}
		switch domain.Platform(m.Platform) {
		case domain.PlatformKalshi, domain.PlatformPolymarket:
		default:
			errs = append(errs, fmt.Sprintf("engine: matches[%d]: unknown platform %q", i, m.Platform))
		}
		if _, ok := c.Sports[m.Sport]; !ok {
			errs = append(errs, fmt.Sprintf("engine: matches[%d]: no [sports.%s] config block", i, m.Sport))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
