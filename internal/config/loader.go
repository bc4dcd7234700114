package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CROSSARB_* environment variable overrides, and
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

// applyEnvOverrides reads well-known CROSSARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Kalshi ──
	setStr(&cfg.Kalshi.WsURL, "CROSSARB_KALSHI_WS_URL")
	setStr(&cfg.Kalshi.BaseURL, "CROSSARB_KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.ApiKey, "CROSSARB_KALSHI_API_KEY")
	setInt64(&cfg.Kalshi.FeeRateBps, "CROSSARB_KALSHI_FEE_RATE_BPS")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.WsURL, "CROSSARB_POLYMARKET_WS_URL")
	setStr(&cfg.Polymarket.ClobHost, "CROSSARB_POLYMARKET_CLOB_HOST")
	setInt64(&cfg.Polymarket.FeeRateBps, "CROSSARB_POLYMARKET_FEE_RATE_BPS")

	// ── Detector ──
	setInt64(&cfg.Detector.MinEdgeCents, "CROSSARB_DETECTOR_MIN_EDGE_CENTS")
	setInt64(&cfg.Detector.MaxOrderSize, "CROSSARB_DETECTOR_MAX_ORDER_SIZE")

	// ── Breaker ──
	setInt64(&cfg.Breaker.MaxPositionPerMarket, "CROSSARB_BREAKER_MAX_POSITION_PER_MARKET")
	setInt64(&cfg.Breaker.MaxTotalPosition, "CROSSARB_BREAKER_MAX_TOTAL_POSITION")
	setInt64(&cfg.Breaker.MaxDailyLossCents, "CROSSARB_BREAKER_MAX_DAILY_LOSS_CENTS")
	setInt(&cfg.Breaker.MaxConsecutiveErrors, "CROSSARB_BREAKER_MAX_CONSECUTIVE_ERRORS")
	setDuration(&cfg.Breaker.Cooldown, "CROSSARB_BREAKER_COOLDOWN")

	// ── Executor ──
	setDuration(&cfg.Executor.LegTimeout, "CROSSARB_EXECUTOR_LEG_TIMEOUT")
	setBool(&cfg.Executor.DryRun, "CROSSARB_EXECUTOR_DRY_RUN")
	setStr(&cfg.Executor.ReconcilePolicy, "CROSSARB_EXECUTOR_RECONCILE_POLICY")
	setDuration(&cfg.Executor.DedupTTL, "CROSSARB_EXECUTOR_DEDUP_TTL")
	setInt(&cfg.Executor.OrderRateLimit, "CROSSARB_EXECUTOR_ORDER_RATE_LIMIT")
	setDuration(&cfg.Executor.OrderRateWindow, "CROSSARB_EXECUTOR_ORDER_RATE_WINDOW")
	setDuration(&cfg.Executor.PairLockTTL, "CROSSARB_EXECUTOR_PAIR_LOCK_TTL")

	// ── Engine ──
	setInt(&cfg.Engine.EventBuffer, "CROSSARB_ENGINE_EVENT_BUFFER")
	setInt64(&cfg.Engine.ExecutionSlots, "CROSSARB_ENGINE_EXECUTION_SLOTS")
	setDuration(&cfg.Engine.MarkInterval, "CROSSARB_ENGINE_MARK_INTERVAL")
	setBool(&cfg.Engine.Synthetic, "CROSSARB_ENGINE_SYNTHETIC_OPPORTUNITIES")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CROSSARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CROSSARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CROSSARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CROSSARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CROSSARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CROSSARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CROSSARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CROSSARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CROSSARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CROSSARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CROSSARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CROSSARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CROSSARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CROSSARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CROSSARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CROSSARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CROSSARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CROSSARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CROSSARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CROSSARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "CROSSARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CROSSARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CROSSARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CROSSARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CROSSARB_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "CROSSARB_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "CROSSARB_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "CROSSARB_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CROSSARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CROSSARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CROSSARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CROSSARB_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "CROSSARB_METRICS_ENABLED")
	setInt(&cfg.Metrics.Port, "CROSSARB_METRICS_PORT")

	setBool(&cfg.Server.Enabled, "CROSSARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CROSSARB_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "CROSSARB_SERVER_API_KEY")

	// ── Top-level ──
	setStr(&cfg.Mode, "CROSSARB_MODE")
	setStr(&cfg.LogLevel, "CROSSARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
