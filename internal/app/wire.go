package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/oddlotlabs/crossarb/internal/blob/s3"
	"github.com/oddlotlabs/crossarb/internal/book"
	"github.com/oddlotlabs/crossarb/internal/breaker"
	"github.com/oddlotlabs/crossarb/internal/cache/redis"
	"github.com/oddlotlabs/crossarb/internal/config"
	"github.com/oddlotlabs/crossarb/internal/domain"
	"github.com/oddlotlabs/crossarb/internal/metrics"
	"github.com/oddlotlabs/crossarb/internal/notify"
	"github.com/oddlotlabs/crossarb/internal/position"
	"github.com/oddlotlabs/crossarb/internal/store/postgres"
)

// Dependencies bundles everything the run modes need. Constructed by Wire
// and torn down by the returned cleanup function. Optional collaborators are
// nil when their backing service is disabled in configuration.
type Dependencies struct {
	Pairs   []domain.MarketPair
	Cache   *book.Cache
	Tracker *position.Tracker
	Gate    *breaker.Breaker

	// Postgres stores (nil in monitor mode).
	Executions domain.ExecutionStore
	Audit      domain.AuditStore
	Positions  domain.PositionStore

	// Redis collaborators (nil unless redis.enabled).
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	BookMirror  domain.BookMirror

	// Blob storage (nil unless s3.enabled).
	Archiver domain.Archiver

	Alerter *notify.Alerter
	Metrics *metrics.Metrics
}

// needsPostgres returns true for modes that persist executions.
func needsPostgres(mode string) bool {
	return mode == "live" || mode == "dryrun"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Pairs:   cfg.MarketPairs(),
		Cache:   book.New(),
		Tracker: position.NewTracker(logger),
	}

	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Executions = postgres.NewExecutionStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Positions = postgres.NewPositionStore(pool)

		// Recover exposure from the last snapshot so the breaker's limits
		// see positions opened before a restart.
		if positions, at, err := deps.Positions.LatestSnapshot(ctx); err == nil {
			deps.Tracker.Restore(positions)
			logger.Info("restored position snapshot",
				slog.Int("positions", len(positions)),
				slog.Time("taken_at", at),
			)
		} else if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("position snapshot restore failed", slog.String("error", err.Error()))
		}
	}

	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.BookMirror = redis.NewBookMirror(redisClient)
	}

	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		if deps.Executions != nil && deps.Audit != nil {
			deps.Archiver = s3blob.NewArchiver(
				s3blob.NewWriter(s3Client),
				s3blob.NewReader(s3Client),
				deps.Executions,
				deps.Audit,
				0,
				logger,
			)
		}
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Alerter = notify.NewAlerter(senders, cfg.Notify.Events, logger)

	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New()
	}

	deps.Gate = breaker.New(breaker.Config{
		MaxPositionPerMarket: cfg.Breaker.MaxPositionPerMarket,
		MaxTotalPosition:     cfg.Breaker.MaxTotalPosition,
		MaxDailyLossCents:    cfg.Breaker.MaxDailyLossCents,
		MaxConsecutiveErrors: cfg.Breaker.MaxConsecutiveErrors,
		Cooldown:             cfg.Breaker.Cooldown.Duration,
	}, deps.Tracker, logger)
	deps.Gate.OnTransition(func(from, to breaker.Status, reason string) {
		// Transition callbacks run on the trading path; bound the side
		// effects so a slow audit write cannot stall it.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if deps.Audit != nil {
			_ = deps.Audit.Log(ctx, "breaker_transition", map[string]any{
				"from":   from.String(),
				"to":     to.String(),
				"reason": reason,
			})
		}
		deps.Alerter.BreakerTransition(ctx, from.String(), to.String(), reason)
	})

	return deps, cleanup, nil
}
