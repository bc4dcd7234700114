// Package app owns the application lifecycle: it wires the stores, caches,
// blob storage, venues, and the engine together from configuration and runs
// the process in the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oddlotlabs/crossarb/internal/config"
	"github.com/oddlotlabs/crossarb/internal/domain"
	"github.com/oddlotlabs/crossarb/internal/venue"
)

// App is the root application object. It owns the configuration, logger, any
// externally registered order submitters, and a list of cleanup functions
// called in reverse order on shutdown.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	submitters map[domain.Venue]venue.OrderSubmitter
	closers    []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "app")),
		submitters: make(map[domain.Venue]venue.OrderSubmitter),
	}
}

// RegisterSubmitter installs a live order submitter for a venue. Venue order
// protocols and signing live outside this module; live mode refuses to start
// until a submitter is registered for every venue the pair universe touches.
func (a *App) RegisterSubmitter(v domain.Venue, s venue.OrderSubmitter) {
	a.submitters[v] = s
}

// Run wires all dependencies, starts the configured mode, and blocks until
// the context is cancelled. On return it runs all registered cleanup
// functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Int("pairs", len(a.cfg.Pairs)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "live":
		return a.liveMode(ctx, deps)
	case "dryrun":
		return a.dryRunMode(ctx, deps)
	case "monitor":
		return a.monitorMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
