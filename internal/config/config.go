// Package config defines the top-level configuration for the arbitrage engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYCLAW_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Chain      ChainConfig      `toml:"chain"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Scanner    ScannerConfig    `toml:"scanner"`
	Liquidity  LiquidityConfig  `toml:"liquidity"`
	Fallback   FallbackConfig   `toml:"fallback"`
	Execution  ExecutionConfig  `toml:"execution"`
	Archive    ArchiveConfig    `toml:"archive"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds API endpoints and CLOB credentials.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	SignatureType int    `toml:"signature_type"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// ChainConfig holds RPC and contract parameters for on-chain transitions.
type ChainConfig struct {
	RPCURL            string   `toml:"rpc_url"`
	ChainID           int64    `toml:"chain_id"`
	ExchangeAddress   string   `toml:"exchange_address"`
	CTFAddress        string   `toml:"ctf_address"`
	NegRiskAdapter    string   `toml:"negrisk_adapter"`
	CollateralAddress string   `toml:"collateral_address"`
	GasLimit          uint64   `toml:"gas_limit"`
	ReceiptTimeout    duration `toml:"receipt_timeout"`
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters. A scheme-less
// endpoint is treated as https.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ScannerConfig holds opportunity-scanner parameters.
type ScannerConfig struct {
	MinProfitRatio float64  `toml:"min_profit_ratio"`
	FeeBuffer      float64  `toml:"fee_buffer"`
	MaxSnapshotAge duration `toml:"max_snapshot_age"`
	DefaultCapital float64  `toml:"default_capital"`
	Parallelism    int      `toml:"parallelism"`
	Interval       duration `toml:"interval"`
	GroupRefresh   duration `toml:"group_refresh"`
}

// LiquidityConfig holds pre-execution validation parameters.
type LiquidityConfig struct {
	MinProfitRatio float64  `toml:"min_profit_ratio"`
	MinFillRatio   float64  `toml:"min_fill_ratio"`
	MaxPlanAge     duration `toml:"max_plan_age"`
}

// FallbackConfig holds order-fallback ladder parameters.
type FallbackConfig struct {
	IOCRelax     float64  `toml:"ioc_relax"`
	LimitRelax   float64  `toml:"limit_relax"`
	PriceFloor   float64  `toml:"price_floor"`
	LimitTimeout duration `toml:"limit_timeout"`
	LimitPoll    duration `toml:"limit_poll"`
}

// ExecutionConfig holds orchestration parameters.
type ExecutionConfig struct {
	AutoExecute     bool     `toml:"auto_execute"`
	RevalidateAfter duration `toml:"revalidate_after"`
	MaxCapital      float64  `toml:"max_capital"`
}

// ArchiveConfig holds result-archival parameters.
type ArchiveConfig struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			SignatureType: 0,
		},
		Chain: ChainConfig{
			RPCURL:            "https://polygon-rpc.com",
			ChainID:           137,
			ExchangeAddress:   "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
			CTFAddress:        "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045",
			NegRiskAdapter:    "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296",
			CollateralAddress: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
			GasLimit:          300_000,
			ReceiptTimeout:    duration{120 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polyclaw-data",
			ForcePathStyle: true,
		},
		Scanner: ScannerConfig{
			MinProfitRatio: 0.01,
			FeeBuffer:      0.005,
			MaxSnapshotAge: duration{10 * time.Second},
			DefaultCapital: 100.0,
			Parallelism:    8,
			Interval:       duration{5 * time.Second},
			GroupRefresh:   duration{10 * time.Minute},
		},
		Liquidity: LiquidityConfig{
			MinProfitRatio: 0.01,
			MinFillRatio:   1.0,
			MaxPlanAge:     duration{60 * time.Second},
		},
		Fallback: FallbackConfig{
			IOCRelax:     0.02,
			LimitRelax:   0.05,
			PriceFloor:   0.01,
			LimitTimeout: duration{30 * time.Second},
			LimitPoll:    duration{2 * time.Second},
		},
		Execution: ExecutionConfig{
			AutoExecute:     false,
			RevalidateAfter: duration{3 * time.Second},
			MaxCapital:      100.0,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
		},
		Mode:     "scan",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scan":    true,
	"execute": true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, execute, monitor, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — a key source is required whenever the engine may trade.
	needsWallet := c.Mode == "execute" || c.Mode == "full"
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}

	// CLOB API creds — all three together, or all empty.
	ak := c.Polymarket.ApiKey != ""
	as := c.Polymarket.ApiSecret != ""
	ap := c.Polymarket.ApiPassphrase != ""
	if ak || as || ap {
		if !(ak && as && ap) {
			errs = append(errs, "polymarket: api_key, api_secret, and api_passphrase must all be set together")
		}
	}

	// Chain — required for trading modes.
	if needsWallet {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty for mode "+c.Mode)
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		if c.Chain.CTFAddress == "" {
			errs = append(errs, "chain: ctf_address must not be empty")
		}
		if c.Chain.NegRiskAdapter == "" {
			errs = append(errs, "chain: negrisk_adapter must not be empty")
		}
		if c.Chain.CollateralAddress == "" {
			errs = append(errs, "chain: collateral_address must not be empty")
		}
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only required when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
	}

	// Scanner
	if c.Scanner.MinProfitRatio <= 0 {
		errs = append(errs, "scanner: min_profit_ratio must be > 0")
	}
	if c.Scanner.FeeBuffer < 0 {
		errs = append(errs, "scanner: fee_buffer must be >= 0")
	}
	if c.Scanner.DefaultCapital <= 0 {
		errs = append(errs, "scanner: default_capital must be > 0")
	}
	if c.Scanner.Parallelism < 1 {
		errs = append(errs, "scanner: parallelism must be >= 1")
	}

	// Liquidity
	if c.Liquidity.MinFillRatio <= 0 || c.Liquidity.MinFillRatio > 1 {
		errs = append(errs, fmt.Sprintf("liquidity: min_fill_ratio must be in (0, 1], got %g", c.Liquidity.MinFillRatio))
	}

	// Fallback
	if c.Fallback.PriceFloor <= 0 || c.Fallback.PriceFloor >= 0.5 {
		errs = append(errs, fmt.Sprintf("fallback: price_floor must be in (0, 0.5), got %g", c.Fallback.PriceFloor))
	}
	if c.Fallback.LimitTimeout.Duration <= 0 {
		errs = append(errs, "fallback: limit_timeout must be > 0")
	}

	// Execution
	if c.Execution.MaxCapital <= 0 {
		errs = append(errs, "execution: max_capital must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
