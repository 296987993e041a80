package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/montroy2000/Aegis-Growth/config"
	"github.com/montroy2000/Aegis-Growth/internal/adapters/notify"
	"github.com/montroy2000/Aegis-Growth/internal/domain"
	"github.com/montroy2000/Aegis-Growth/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paperConfig(path ...int64) *config.Config {
	cfg := &config.Config{}
	cfg.Vault.Params = domain.DefaultVaultConfig()
	cfg.Venue.LiquidationThresholdBps = 8500
	cfg.Paper = config.PaperConfig{Deposit: 1_000_000_000, Expo: -8, PricePath: path}
	return cfg
}

func TestRunPaper_FirstCycleLoops(t *testing.T) {
	var buf bytes.Buffer
	notifier := notify.NewConsoleWriter(&buf, true)

	err := runPaper(context.Background(), paperConfig(100_000_000), notifier, observability.NewMetrics())
	require.NoError(t, err)

	out := buf.String()
	assert.NotContains(t, out, "WAIT", "el primer ciclo no debe chocar con el cooldown")
	assert.Contains(t, out, "LOOP")
	assert.Contains(t, out, "Borrowed:       500.000000")
}

func TestRunPaper_AdvancesCooldownBetweenCycles(t *testing.T) {
	var buf bytes.Buffer
	notifier := notify.NewConsoleWriter(&buf, true)

	// 15 bps de depeg: entre warn y exit.
	err := runPaper(context.Background(), paperConfig(100_000_000, 99_850_000), notifier, observability.NewMetrics())
	require.NoError(t, err)

	out := buf.String()
	assert.NotContains(t, out, "WAIT")
	assert.NotContains(t, out, "ERR")
	assert.Contains(t, out, "LOOP")
	assert.Contains(t, out, "CONTRACT")
	assert.Contains(t, out, "Borrowed:       400.000000")
}

func TestWallClock_FreshVaultCanRebalance(t *testing.T) {
	params := domain.DefaultVaultConfig()
	c := wallClock(time.Now(), params)

	tick, err := c.Tick(context.Background())
	require.NoError(t, err)
	// last_rebalance_tick de un vault nuevo es 0.
	assert.GreaterOrEqual(t, tick, params.CooldownTicks)
}
