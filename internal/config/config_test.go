package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
app:
  log_level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, ":9980", cfg.App.HTTPAddr)
	assert.Equal(t, "paper", cfg.Exchange.Mode)
	assert.Equal(t, 30, cfg.Engine.CycleMinutes)
	assert.Equal(t, 0.80, cfg.Judge.ConfidenceFloor)
	assert.Equal(t, 15.0, cfg.Risk.BasePositionPct)
	assert.Equal(t, -4.0, cfg.Risk.ForceStopLossPct)
	assert.NotEmpty(t, cfg.Tiers)
	assert.NotEmpty(t, cfg.Engine.Pairs)
}

func TestLoadIncludeChain(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
engine:
  cycle_minutes: 15
  max_positions: 2
`)
	path := writeConfig(t, dir, "config.yaml", `
include:
  - base.yaml
engine:
  cycle_minutes: 45
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	// 主文件覆盖 include，未覆盖的字段保留
	assert.Equal(t, 45, cfg.Engine.CycleMinutes)
	assert.Equal(t, 2, cfg.Engine.MaxPositions)
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeConfig(t, dir, "b.yaml", "include: [a.yaml]\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestLoadNormalizesSymbols(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
engine:
  pairs: [" btcusdt ", "ethusdt"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Engine.Pairs)
}

func TestLoadValidation(t *testing.T) {
	dir := t.TempDir()

	t.Run("live mode without credentials", func(t *testing.T) {
		t.Setenv("QUORUM_EXCHANGE_KEY", "")
		t.Setenv("QUORUM_EXCHANGE_SECRET", "")
		path := writeConfig(t, dir, "live.yaml", `
exchange:
  mode: live
`)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "QUORUM_EXCHANGE_KEY")
	})

	t.Run("unknown exchange mode", func(t *testing.T) {
		path := writeConfig(t, dir, "mode.yaml", `
exchange:
  mode: sandbox
`)
		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("pair outside tier table", func(t *testing.T) {
		path := writeConfig(t, dir, "pairs.yaml", `
engine:
  pairs: [PEPEUSDT]
`)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PEPEUSDT")
	})

	t.Run("symbol in two tiers", func(t *testing.T) {
		path := writeConfig(t, dir, "tiers.yaml", `
tiers:
  - tier: 1
    symbols: [BTCUSDT]
    tp_pct: 5
    sl_pct: 2
    max_hold_hours: 72
    leverage: 8
  - tier: 2
    symbols: [BTCUSDT]
    tp_pct: 4
    sl_pct: 2
    max_hold_hours: 48
    leverage: 7
engine:
  pairs: [BTCUSDT]
`)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tier")
	})

	t.Run("confidence floor out of range", func(t *testing.T) {
		path := writeConfig(t, dir, "judge.yaml", `
judge:
  confidence_floor: 1.5
`)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "confidence_floor")
	})
}
