package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	cfg.Detector.MaxOrderSize = 0
	cfg.Executor.ReconcilePolicy = "pray"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "max_order_size")
	assert.Contains(t, err.Error(), "reconcile_policy")
}

func TestValidateLiveNeedsKalshiKey(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")

	cfg.Kalshi.ApiKey = "k"
	assert.NoError(t, cfg.Validate())
}

func TestValidatePairTokensSetTogether(t *testing.T) {
	cfg := Defaults()
	cfg.Pairs = []PairConfig{{ID: "p1", KalshiMarket: "M1", PolyYesToken: "0xabc"}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set together")
}

func TestMarketPairs(t *testing.T) {
	cfg := Defaults()
	cfg.Pairs = []PairConfig{
		{ID: "nfl-kc", KalshiMarket: "NFL-KC", PolyYesToken: "0xyes", PolyNoToken: "0xno"},
		{ID: "solo", KalshiMarket: "SOLO"},
	}

	pairs := cfg.MarketPairs()
	require.Len(t, pairs, 2)

	cross := pairs[0]
	assert.True(t, cross.HasVenueB())
	assert.Equal(t, domain.VenueKalshi, cross.YesA.Venue)
	assert.Equal(t, domain.VenuePolymarket, cross.NoB.Venue)
	assert.Equal(t, int64(700), cross.FeeA.RateBps)
	assert.Equal(t, int64(0), cross.FeeB.RateBps)

	solo := pairs[1]
	assert.False(t, solo.HasVenueB())
	assert.Len(t, solo.Keys(), 2)
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
mode = "monitor"

[detector]
min_edge_cents = 3

[breaker]
cooldown = "90s"

[[pairs]]
id = "nfl-kc"
kalshi_market = "NFL-KC"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CROSSARB_DETECTOR_MIN_EDGE_CENTS", "5")
	t.Setenv("CROSSARB_EXECUTOR_DRY_RUN", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, int64(5), cfg.Detector.MinEdgeCents) // env wins over file
	assert.False(t, cfg.Executor.DryRun)
	assert.Equal(t, 90*time.Second, cfg.Breaker.Cooldown.Duration)
	require.Len(t, cfg.Pairs, 1)
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Kalshi.ApiKey = "secret"
	cfg.Postgres.Password = "hunter2"
	cfg.Notify.TelegramToken = "tok"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Kalshi.ApiKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	// Original untouched.
	assert.Equal(t, "secret", cfg.Kalshi.ApiKey)
}
