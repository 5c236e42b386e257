package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/quantforge/tickstore/internal/blob/s3"
	cachemem "github.com/quantforge/tickstore/internal/cache/memory"
	"github.com/quantforge/tickstore/internal/cache/redis"
	"github.com/quantforge/tickstore/internal/config"
	"github.com/quantforge/tickstore/internal/domain"
	"github.com/quantforge/tickstore/internal/ledger"
	"github.com/quantforge/tickstore/internal/server"
	memstore "github.com/quantforge/tickstore/internal/store/memory"
	"github.com/quantforge/tickstore/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Trading-state stores
	Instruments domain.InstrumentStore
	Orders      domain.OrderStore
	Positions   domain.PositionStore
	Strategies  domain.StrategyStore
	Credentials domain.CredentialStore
	Audit       domain.AuditStore

	// Caching / coordination
	PriceCache domain.PriceCache
	Locks      domain.LockManager // nil when running single-instance

	// Cold storage
	Archiver domain.ChunkArchiver // nil when archiving is disabled

	// Time-series engine
	Ledger *ledger.Ledger

	// Connectivity checks for the health endpoint, keyed by component name.
	Pingers map[string]server.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Pingers: make(map[string]server.Pinger),
	}

	// --- Trading-state stores ---
	switch strings.ToLower(cfg.Storage.Backend) {
	case "postgres":
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
		deps.Instruments = postgres.NewInstrumentStore(pool)
		deps.Orders = postgres.NewOrderStore(pool)
		deps.Positions = postgres.NewPositionStore(pool)
		deps.Strategies = postgres.NewStrategyStore(pool)
		deps.Credentials = postgres.NewCredentialStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Pingers["postgres"] = pgClient.Ping
	default:
		deps.Instruments = memstore.NewInstrumentStore()
		deps.Orders = memstore.NewOrderStore()
		deps.Positions = memstore.NewPositionStore()
		deps.Strategies = memstore.NewStrategyStore()
		deps.Credentials = memstore.NewCredentialStore()
		deps.Audit = memstore.NewAuditStore()
	}

	// --- Price cache / lock manager ---
	switch strings.ToLower(cfg.Storage.Cache) {
	case "redis":
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

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Pingers["redis"] = redisClient.Ping
	default:
		// Single-instance fallback: in-process cache, no advisory locks.
		deps.PriceCache = cachemem.NewPriceCache()
	}

	// --- S3 archive tier ---
	if cfg.Storage.Archive {
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

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix)
		deps.Pingers["s3"] = s3Client.Health
	}

	// --- Time-series ledger ---
	lg, err := ledger.New(seriesPolicies(cfg), logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: ledger: %w", err)
	}
	deps.Ledger = lg

	return deps, cleanup, nil
}

// seriesPolicies merges the configured retention overrides on top of the
// stock policy table. A zero duration leaves the default field in place.
func seriesPolicies(cfg *config.Config) map[domain.SeriesKind]ledger.Policy {
	policies := ledger.DefaultPolicies()

	apply := func(kind domain.SeriesKind, o config.PolicyConfig) {
		p := policies[kind]
		if o.ChunkWidth.Duration > 0 {
			p.ChunkWidth = o.ChunkWidth.Duration
		}
		if o.CompressAfter.Duration > 0 {
			p.CompressAfter = o.CompressAfter.Duration
		}
		if o.RetainFor.Duration > 0 {
			p.RetainFor = o.RetainFor.Duration
		}
		policies[kind] = p
	}

	apply(domain.SeriesTicks, cfg.Retention.Ticks)
	apply(domain.SeriesCandles, cfg.Retention.Candles)
	apply(domain.SeriesBookSnapshots, cfg.Retention.BookSnapshots)
	apply(domain.SeriesOpenInterest, cfg.Retention.OpenInterest)
	apply(domain.SeriesDailyBars, cfg.Retention.DailyBars)

	return policies
}
