package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYCLAW_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYCLAW_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLYCLAW_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYCLAW_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYCLAW_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYCLAW_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYCLAW_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYCLAW_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.SignatureType, "POLYCLAW_POLYMARKET_SIGNATURE_TYPE")
	setStr(&cfg.Polymarket.ApiKey, "POLYCLAW_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "POLYCLAW_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "POLYCLAW_POLYMARKET_API_PASSPHRASE")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "POLYCLAW_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "POLYCLAW_CHAIN_ID")
	setStr(&cfg.Chain.ExchangeAddress, "POLYCLAW_CHAIN_EXCHANGE_ADDRESS")
	setStr(&cfg.Chain.CTFAddress, "POLYCLAW_CHAIN_CTF_ADDRESS")
	setStr(&cfg.Chain.NegRiskAdapter, "POLYCLAW_CHAIN_NEGRISK_ADAPTER")
	setStr(&cfg.Chain.CollateralAddress, "POLYCLAW_CHAIN_COLLATERAL_ADDRESS")
	setUint64(&cfg.Chain.GasLimit, "POLYCLAW_CHAIN_GAS_LIMIT")
	setDuration(&cfg.Chain.ReceiptTimeout, "POLYCLAW_CHAIN_RECEIPT_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYCLAW_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYCLAW_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYCLAW_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYCLAW_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYCLAW_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYCLAW_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYCLAW_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYCLAW_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYCLAW_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYCLAW_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYCLAW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYCLAW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYCLAW_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYCLAW_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYCLAW_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYCLAW_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYCLAW_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYCLAW_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYCLAW_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYCLAW_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYCLAW_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "POLYCLAW_S3_FORCE_PATH_STYLE")

	// ── Scanner ──
	setFloat64(&cfg.Scanner.MinProfitRatio, "POLYCLAW_SCANNER_MIN_PROFIT_RATIO")
	setFloat64(&cfg.Scanner.FeeBuffer, "POLYCLAW_SCANNER_FEE_BUFFER")
	setDuration(&cfg.Scanner.MaxSnapshotAge, "POLYCLAW_SCANNER_MAX_SNAPSHOT_AGE")
	setFloat64(&cfg.Scanner.DefaultCapital, "POLYCLAW_SCANNER_DEFAULT_CAPITAL")
	setInt(&cfg.Scanner.Parallelism, "POLYCLAW_SCANNER_PARALLELISM")
	setDuration(&cfg.Scanner.Interval, "POLYCLAW_SCANNER_INTERVAL")
	setDuration(&cfg.Scanner.GroupRefresh, "POLYCLAW_SCANNER_GROUP_REFRESH")

	// ── Liquidity ──
	setFloat64(&cfg.Liquidity.MinProfitRatio, "POLYCLAW_LIQUIDITY_MIN_PROFIT_RATIO")
	setFloat64(&cfg.Liquidity.MinFillRatio, "POLYCLAW_LIQUIDITY_MIN_FILL_RATIO")
	setDuration(&cfg.Liquidity.MaxPlanAge, "POLYCLAW_LIQUIDITY_MAX_PLAN_AGE")

	// ── Fallback ──
	setFloat64(&cfg.Fallback.IOCRelax, "POLYCLAW_FALLBACK_IOC_RELAX")
	setFloat64(&cfg.Fallback.LimitRelax, "POLYCLAW_FALLBACK_LIMIT_RELAX")
	setFloat64(&cfg.Fallback.PriceFloor, "POLYCLAW_FALLBACK_PRICE_FLOOR")
	setDuration(&cfg.Fallback.LimitTimeout, "POLYCLAW_FALLBACK_LIMIT_TIMEOUT")
	setDuration(&cfg.Fallback.LimitPoll, "POLYCLAW_FALLBACK_LIMIT_POLL")

	// ── Execution ──
	setBool(&cfg.Execution.AutoExecute, "POLYCLAW_EXECUTION_AUTO_EXECUTE")
	setDuration(&cfg.Execution.RevalidateAfter, "POLYCLAW_EXECUTION_REVALIDATE_AFTER")
	setFloat64(&cfg.Execution.MaxCapital, "POLYCLAW_EXECUTION_MAX_CAPITAL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "POLYCLAW_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "POLYCLAW_ARCHIVE_RETENTION_DAYS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYCLAW_MODE")
	setStr(&cfg.LogLevel, "POLYCLAW_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
