// Package config defines the top-level configuration for the cross-venue
// arbitrage engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by CROSSARB_* environment
// variables.
type Config struct {
	Kalshi     KalshiConfig     `toml:"kalshi"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Pairs      []PairConfig     `toml:"pairs"`
	Detector   DetectorConfig   `toml:"detector"`
	Breaker    BreakerConfig    `toml:"breaker"`
	Executor   ExecutorConfig   `toml:"executor"`
	Engine     EngineConfig     `toml:"engine"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Server     ServerConfig     `toml:"server"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// KalshiConfig holds Kalshi endpoints, credentials, and fee parameters.
type KalshiConfig struct {
	WsURL      string `toml:"ws_url"`
	BaseURL    string `toml:"base_url"`
	ApiKey     string `toml:"api_key"`
	FeeRateBps int64  `toml:"fee_rate_bps"`
}

// PolymarketConfig holds Polymarket endpoints and fee parameters.
type PolymarketConfig struct {
	WsURL      string `toml:"ws_url"`
	ClobHost   string `toml:"clob_host"`
	FeeRateBps int64  `toml:"fee_rate_bps"`
}

// PairConfig binds one Kalshi market to its Polymarket counterpart. Leaving
// the Polymarket tokens empty makes a Kalshi-only pair that is scanned for
// same-venue arbitrage alone.
type PairConfig struct {
	ID           string `toml:"id"`
	KalshiMarket string `toml:"kalshi_market"`
	PolyYesToken string `toml:"poly_yes_token"`
	PolyNoToken  string `toml:"poly_no_token"`
}

// DetectorConfig holds arbitrage detection parameters.
type DetectorConfig struct {
	MinEdgeCents int64 `toml:"min_edge_cents"`
	MaxOrderSize int64 `toml:"max_order_size"`
}

// BreakerConfig holds circuit breaker limits. The daily loss limit is
// applied to realized settlement P&L, which excludes venue fees; size it
// with that slack in mind.
type BreakerConfig struct {
	MaxPositionPerMarket int64    `toml:"max_position_per_market"`
	MaxTotalPosition     int64    `toml:"max_total_position"`
	MaxDailyLossCents    int64    `toml:"max_daily_loss_cents"`
	MaxConsecutiveErrors int      `toml:"max_consecutive_errors"`
	Cooldown             duration `toml:"cooldown"`
}

// ExecutorConfig holds execution engine parameters.
type ExecutorConfig struct {
	LegTimeout      duration `toml:"leg_timeout"`
	DryRun          bool     `toml:"dry_run"`
	ReconcilePolicy string   `toml:"reconcile_policy"` // "accept_exposure" or "offset"
	DedupTTL        duration `toml:"dedup_ttl"`
	OrderRateLimit  int      `toml:"order_rate_limit"`
	OrderRateWindow duration `toml:"order_rate_window"`
	PairLockTTL     duration `toml:"pair_lock_ttl"`
}

// EngineConfig holds event pump parameters.
type EngineConfig struct {
	EventBuffer    int      `toml:"event_buffer"`
	ExecutionSlots int64    `toml:"execution_slots"`
	MarkInterval   duration `toml:"mark_interval"`
	Synthetic      bool     `toml:"synthetic_opportunities"`
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls cold-storage archival of aged rows.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds the operator HTTP API parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// MetricsConfig holds the Prometheus exposition endpoint parameters.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// duration wraps time.Duration to support TOML string decoding ("45s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. These
// match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Kalshi: KalshiConfig{
			WsURL:      "wss://api.elections.kalshi.com/trade-api/ws/v2",
			BaseURL:    "https://api.elections.kalshi.com/trade-api/v2",
			FeeRateBps: 700,
		},
		Polymarket: PolymarketConfig{
			WsURL:      "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ClobHost:   "https://clob.polymarket.com",
			FeeRateBps: 0,
		},
		Detector: DetectorConfig{
			MinEdgeCents: 1,
			MaxOrderSize: 10,
		},
		Breaker: BreakerConfig{
			MaxPositionPerMarket: 100,
			MaxTotalPosition:     500,
			MaxDailyLossCents:    10_000,
			MaxConsecutiveErrors: 3,
			Cooldown:             duration{45 * time.Second},
		},
		Executor: ExecutorConfig{
			LegTimeout:      duration{3 * time.Second},
			DryRun:          true,
			ReconcilePolicy: "accept_exposure",
			DedupTTL:        duration{2 * time.Minute},
			OrderRateLimit:  10,
			OrderRateWindow: duration{time.Second},
			PairLockTTL:     duration{10 * time.Second},
		},
		Engine: EngineConfig{
			EventBuffer:    4096,
			ExecutionSlots: 4,
			MarkInterval:   duration{15 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "crossarb",
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
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "crossarb-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"execution", "stranded_leg", "breaker"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9091,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8600,
		},
		Mode:     "dryrun",
		LogLevel: "info",
	}
}

// MarketPairs converts the configured pair list into the domain
// representation consumed by the detector and engine.
func (c *Config) MarketPairs() []domain.MarketPair {
	pairs := make([]domain.MarketPair, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		mp := domain.MarketPair{
			ID:   p.ID,
			YesA: domain.BookKey{Venue: domain.VenueKalshi, MarketID: p.KalshiMarket, Outcome: domain.OutcomeYes},
			NoA:  domain.BookKey{Venue: domain.VenueKalshi, MarketID: p.KalshiMarket, Outcome: domain.OutcomeNo},
			FeeA: domain.FeeSchedule{RateBps: c.Kalshi.FeeRateBps},
		}
		if p.PolyYesToken != "" && p.PolyNoToken != "" {
			mp.YesB = domain.BookKey{Venue: domain.VenuePolymarket, MarketID: p.ID, Outcome: domain.OutcomeYes}
			mp.NoB = domain.BookKey{Venue: domain.VenuePolymarket, MarketID: p.ID, Outcome: domain.OutcomeNo}
			mp.FeeB = domain.FeeSchedule{RateBps: c.Polymarket.FeeRateBps}
		}
		pairs = append(pairs, mp)
	}
	return pairs
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":    true,
	"dryrun":  true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validReconcilePolicies = map[string]bool{
	"accept_exposure": true,
	"offset":          true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, dryrun, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Kalshi.WsURL == "" {
		errs = append(errs, "kalshi: ws_url must not be empty")
	}
	if c.Kalshi.FeeRateBps < 0 {
		errs = append(errs, "kalshi: fee_rate_bps must be >= 0")
	}
	if c.Mode == "live" && c.Kalshi.ApiKey == "" {
		errs = append(errs, "kalshi: api_key is required for live mode")
	}
	if c.Polymarket.WsURL == "" {
		errs = append(errs, "polymarket: ws_url must not be empty")
	}
	if c.Polymarket.FeeRateBps < 0 {
		errs = append(errs, "polymarket: fee_rate_bps must be >= 0")
	}

	seen := make(map[string]bool, len(c.Pairs))
	for i, p := range c.Pairs {
		if p.ID == "" {
			errs = append(errs, fmt.Sprintf("pairs[%d]: id must not be empty", i))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Sprintf("pairs[%d]: duplicate id %q", i, p.ID))
		}
		seen[p.ID] = true
		if p.KalshiMarket == "" {
			errs = append(errs, fmt.Sprintf("pairs[%d] %s: kalshi_market must not be empty", i, p.ID))
		}
		if (p.PolyYesToken == "") != (p.PolyNoToken == "") {
			errs = append(errs, fmt.Sprintf("pairs[%d] %s: poly_yes_token and poly_no_token must be set together", i, p.ID))
		}
	}

	if c.Detector.MinEdgeCents < 0 {
		errs = append(errs, "detector: min_edge_cents must be >= 0")
	}
	if c.Detector.MaxOrderSize < 1 {
		errs = append(errs, "detector: max_order_size must be >= 1")
	}

	if c.Breaker.MaxPositionPerMarket < 0 || c.Breaker.MaxTotalPosition < 0 || c.Breaker.MaxDailyLossCents < 0 {
		errs = append(errs, "breaker: limits must be >= 0 (zero disables the limit)")
	}
	if c.Breaker.MaxConsecutiveErrors < 1 {
		errs = append(errs, "breaker: max_consecutive_errors must be >= 1")
	}
	if c.Breaker.Cooldown.Duration <= 0 {
		errs = append(errs, "breaker: cooldown must be > 0")
	}

	if c.Executor.LegTimeout.Duration <= 0 {
		errs = append(errs, "executor: leg_timeout must be > 0")
	}
	if !validReconcilePolicies[c.Executor.ReconcilePolicy] {
		errs = append(errs, fmt.Sprintf("executor: unknown reconcile_policy %q (valid: accept_exposure, offset)", c.Executor.ReconcilePolicy))
	}

	if c.Engine.ExecutionSlots < 1 {
		errs = append(errs, "engine: execution_slots must be >= 1")
	}

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
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}
	if c.Archive.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			errs = append(errs, fmt.Sprintf("metrics: port must be 1-65535, got %d", c.Metrics.Port))
		}
	}
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Metrics.Enabled && c.Server.Port == c.Metrics.Port {
			errs = append(errs, "server: port collides with metrics.port")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
