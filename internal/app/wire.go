package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/polyclaw/engine/internal/blob/s3"
	"github.com/polyclaw/engine/internal/cache/redis"
	"github.com/polyclaw/engine/internal/chain"
	"github.com/polyclaw/engine/internal/config"
	"github.com/polyclaw/engine/internal/crypto"
	"github.com/polyclaw/engine/internal/domain"
	"github.com/polyclaw/engine/internal/platform/polymarket"
	"github.com/polyclaw/engine/internal/store/postgres"
)

// Dependencies bundles every dependency the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Groups  domain.MarketGroupStore
	Plans   domain.PlanStore
	Results domain.ExecutionResultStore
	Audit   domain.AuditStore

	// Caches and coordination
	Prices     domain.PriceCache
	Books      domain.OrderbookCache
	GroupCache domain.GroupCache
	Limiter    domain.RateLimiter
	Locks      domain.LockManager
	PlanBus    *redis.PlanBus

	// Platform clients
	Gamma *polymarket.GammaClient
	Clob  *polymarket.ClobClient

	// On-chain executor (trading modes only)
	ChainExec *chain.Executor

	// Archival (when enabled)
	Archiver domain.Archiver
}

// needsPostgres reports whether the mode persists plans and results.
func needsPostgres(mode string) bool {
	switch mode {
	case "scan", "execute", "full":
		return true
	default:
		return false
	}
}

// needsWallet reports whether the mode commits capital.
func needsWallet(mode string) bool {
	return mode == "execute" || mode == "full"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function to be
// called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
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
		deps.Groups = postgres.NewMarketGroupStore(pool)
		deps.Plans = postgres.NewPlanStore(pool)
		deps.Results = postgres.NewExecutionResultStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
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

	deps.Prices = redis.NewPriceCache(redisClient)
	deps.Books = redis.NewOrderbookCache(redisClient)
	deps.GroupCache = redis.NewGroupCache(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.PlanBus = redis.NewPlanBus(redisClient)
	deps.Limiter = redis.NewRateLimiter(redisClient, map[string]redis.Limit{
		"clob":  {Rate: 10, Burst: 20},
		"gamma": {Rate: 5, Burst: 10},
	}, redis.Limit{Rate: 10, Burst: 20})

	// --- Platform clients ---
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost)

	exchange, err := chain.ParseExchangeAddress(cfg.Chain.ExchangeAddress)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: exchange address: %w", err)
	}

	// --- Wallet, CLOB client, chain executor (trading modes) ---
	if needsWallet(cfg.Mode) {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: load wallet key: %w", err)
		}

		signer, err := crypto.NewSigner(key, cfg.Chain.ChainID, exchange)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}

		hmacAuth := &crypto.HMACAuth{
			Key:        cfg.Polymarket.ApiKey,
			Secret:     cfg.Polymarket.ApiSecret,
			Passphrase: cfg.Polymarket.ApiPassphrase,
		}
		deps.Clob = polymarket.NewClobClient(
			cfg.Polymarket.ClobHost, signer, hmacAuth, deps.Limiter,
			exchange, cfg.Polymarket.SignatureType,
		)
		if hmacAuth.Key == "" {
			if err := deps.Clob.DeriveAPIKey(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: derive api key: %w", err)
			}
		}

		ctf, err := chain.ParseCTFAddress(cfg.Chain.CTFAddress)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: ctf address: %w", err)
		}
		adapter, err := chain.ParseNegRiskAdapterAddress(cfg.Chain.NegRiskAdapter)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: negrisk adapter address: %w", err)
		}
		if !common.IsHexAddress(cfg.Chain.CollateralAddress) {
			cleanup()
			return nil, nil, fmt.Errorf("wire: invalid collateral address %q", cfg.Chain.CollateralAddress)
		}

		backend, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: dial rpc: %w", err)
		}
		closers = append(closers, backend.Close)

		deps.ChainExec, err = chain.NewExecutor(backend, key, chain.Config{
			ChainID:        cfg.Chain.ChainID,
			CTF:            ctf,
			NegRiskAdapter: adapter,
			Collateral:     common.HexToAddress(cfg.Chain.CollateralAddress),
			GasLimit:       cfg.Chain.GasLimit,
			ReceiptTimeout: cfg.Chain.ReceiptTimeout.Duration,
		}, deps.Locks, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain executor: %w", err)
		}
	}

	// --- S3 archival ---
	if cfg.Archive.Enabled && deps.Results != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		resultStore, ok := deps.Results.(s3blob.ResultArchiveStore)
		if !ok {
			cleanup()
			return nil, nil, fmt.Errorf("wire: result store does not support archival")
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			resultStore,
			deps.Audit,
		)
	}

	return deps, cleanup, nil
}
