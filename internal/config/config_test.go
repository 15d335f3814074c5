package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "scan", cfg.Mode)
	assert.InDelta(t, 0.01, cfg.Scanner.MinProfitRatio, 1e-9)
	assert.InDelta(t, 1.0, cfg.Liquidity.MinFillRatio, 1e-9)
}

func TestValidateExecuteModeRequiresWallet(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "execute"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private_key or encrypted_key_path")

	cfg.Wallet.PrivateKey = "deadbeef"
	assert.NoError(t, cfg.Validate())
}

func TestValidateEncryptedKeyNeedsPassword(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "full"
	cfg.Wallet.EncryptedKeyPath = "/etc/polyclaw/wallet.json"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_password")
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "verbose"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log_level")
}

func TestValidateAPICredsAllOrNothing(t *testing.T) {
	cfg := Defaults()
	cfg.Polymarket.ApiKey = "key-only"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must all be set together")

	cfg.Polymarket.ApiSecret = "secret"
	cfg.Polymarket.ApiPassphrase = "pass"
	assert.NoError(t, cfg.Validate())
}

func TestValidateArchiveNeedsS3(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true
	cfg.S3.Bucket = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestValidateFallbackPriceFloor(t *testing.T) {
	cfg := Defaults()
	cfg.Fallback.PriceFloor = 0.6
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price_floor")
}

func TestValidateDSNSkipsHostChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://user:pw@db:5432/engine"
	cfg.Postgres.Host = ""
	cfg.Postgres.Port = 0
	cfg.Postgres.Database = ""
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.LogLevel = "verbose"
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.GreaterOrEqual(t, strings.Count(err.Error(), "\n  - "), 3)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Polymarket.ApiSecret = "hunter2"
	cfg.Postgres.Password = "pgpass"
	cfg.Redis.Password = "redispass"
	cfg.S3.SecretKey = "s3secret"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Polymarket.ApiSecret)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)

	// Empty fields stay empty, and the original is untouched.
	assert.Empty(t, red.Polymarket.ApiKey)
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)
	assert.Equal(t, red.Polymarket.ClobHost, cfg.Polymarket.ClobHost)
}
