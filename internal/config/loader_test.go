package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeTOML(t, `
mode = "monitor"
log_level = "debug"

[scanner]
min_profit_ratio = 0.02
interval = "15s"

[fallback]
limit_timeout = "45s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.InDelta(t, 0.02, cfg.Scanner.MinProfitRatio, 1e-9)
	assert.Equal(t, 15*time.Second, cfg.Scanner.Interval.Duration)
	assert.Equal(t, 45*time.Second, cfg.Fallback.LimitTimeout.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, "https://clob.polymarket.com", cfg.Polymarket.ClobHost)
	assert.InDelta(t, 0.005, cfg.Scanner.FeeBuffer, 1e-9)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "scan", cfg.Mode)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadBadDuration(t *testing.T) {
	path := writeTOML(t, `
[scanner]
interval = "five seconds"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeTOML(t, `
mode = "scan"

[redis]
addr = "file-redis:6379"
`)

	t.Setenv("POLYCLAW_MODE", "full")
	t.Setenv("POLYCLAW_REDIS_ADDR", "env-redis:6379")
	t.Setenv("POLYCLAW_WALLET_PRIVATE_KEY", "deadbeef")
	t.Setenv("POLYCLAW_SCANNER_MIN_PROFIT_RATIO", "0.03")
	t.Setenv("POLYCLAW_LIQUIDITY_MAX_PLAN_AGE", "90s")
	t.Setenv("POLYCLAW_EXECUTION_AUTO_EXECUTE", "true")
	t.Setenv("POLYCLAW_CHAIN_GAS_LIMIT", "450000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)
	assert.InDelta(t, 0.03, cfg.Scanner.MinProfitRatio, 1e-9)
	assert.Equal(t, 90*time.Second, cfg.Liquidity.MaxPlanAge.Duration)
	assert.True(t, cfg.Execution.AutoExecute)
	assert.Equal(t, uint64(450_000), cfg.Chain.GasLimit)
}

func TestEnvOverrideIgnoresMalformedValues(t *testing.T) {
	t.Setenv("POLYCLAW_SCANNER_PARALLELISM", "lots")
	t.Setenv("POLYCLAW_CHAIN_RECEIPT_TIMEOUT", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Scanner.Parallelism)
	assert.Equal(t, 120*time.Second, cfg.Chain.ReceiptTimeout.Duration)
}
