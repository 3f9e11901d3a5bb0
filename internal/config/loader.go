package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SPORTSBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SPORTSBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Account, "SPORTSBOT_ACCOUNT")
	setStr(&cfg.Mode, "SPORTSBOT_MODE")
	setStr(&cfg.LogLevel, "SPORTSBOT_LOG_LEVEL")

	// ── Kalshi ──
	setStr(&cfg.Kalshi.ApiKeyID, "SPORTSBOT_KALSHI_API_KEY_ID")
	setStr(&cfg.Kalshi.RsaPrivateKeyPath, "SPORTSBOT_KALSHI_RSA_PRIVATE_KEY_PATH")
	setStr(&cfg.Kalshi.EncryptedKeyPath, "SPORTSBOT_KALSHI_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Kalshi.KeyPassword, "SPORTSBOT_KALSHI_KEY_PASSWORD")
	setStr(&cfg.Kalshi.BaseURL, "SPORTSBOT_KALSHI_BASE_URL")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "SPORTSBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.WsHost, "SPORTSBOT_POLYMARKET_WS_HOST")
	setStr(&cfg.Polymarket.ApiKey, "SPORTSBOT_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "SPORTSBOT_POLYMARKET_API_SECRET")

	// ── Scores feed ──
	setStr(&cfg.Scores.BaseURL, "SPORTSBOT_SCORES_BASE_URL")
	setStr(&cfg.Scores.ApiKey, "SPORTSBOT_SCORES_API_KEY")
	setFloat64(&cfg.Scores.RatePerSec, "SPORTSBOT_SCORES_RATE_PER_SEC")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SPORTSBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SPORTSBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SPORTSBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SPORTSBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SPORTSBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SPORTSBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SPORTSBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SPORTSBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SPORTSBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SPORTSBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SPORTSBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SPORTSBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SPORTSBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SPORTSBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SPORTSBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SPORTSBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SPORTSBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SPORTSBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SPORTSBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SPORTSBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SPORTSBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SPORTSBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "SPORTSBOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "SPORTSBOT_S3_RETENTION_DAYS")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxExposureUSDC, "SPORTSBOT_RISK_MAX_EXPOSURE_USDC")
	setFloat64(&cfg.Risk.MaxDailyLossUSDC, "SPORTSBOT_RISK_MAX_DAILY_LOSS_USDC")
	setFloat64(&cfg.Risk.MinBalanceUSDC, "SPORTSBOT_RISK_MIN_BALANCE_USDC")
	setInt(&cfg.Risk.MaxConsecutiveLosses, "SPORTSBOT_RISK_MAX_CONSECUTIVE_LOSSES")
	setBool(&cfg.Risk.StreakReductionEnabled, "SPORTSBOT_RISK_STREAK_REDUCTION_ENABLED")
	setFloat64(&cfg.Risk.StreakReductionPctPerLoss, "SPORTSBOT_RISK_STREAK_REDUCTION_PCT_PER_LOSS")
	setFloat64(&cfg.Risk.MinOrderSize, "SPORTSBOT_RISK_MIN_ORDER_SIZE")

	// ── Engine ──
	setFloat64(&cfg.Engine.MaxSlippagePct, "SPORTSBOT_ENGINE_MAX_SLIPPAGE_PCT")
	setInt(&cfg.Engine.MaxConsecutiveStale, "SPORTSBOT_ENGINE_MAX_CONSECUTIVE_STALE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SPORTSBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SPORTSBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SPORTSBOT_NOTIFY_DISCORD_WEBHOOK_URL")
}

// setStr overwrites dst when the environment variable is set and non-empty.
func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// setInt overwrites dst when the environment variable parses as an integer.
func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// setFloat64 overwrites dst when the environment variable parses as a float.
func setFloat64(dst *float64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// setBool overwrites dst when the environment variable parses as a bool.
func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
