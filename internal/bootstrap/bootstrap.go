// Package bootstrap wires the configured clients and the registered action
// for the command mains.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/purplecabbage/asset-compute-sdk/internal/config"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/logger"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/shutdown"
	"github.com/purplecabbage/asset-compute-sdk/internal/telemetry"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/processor"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/retry"
	"github.com/purplecabbage/asset-compute-sdk/sdk"
)

// Options maps the configuration onto worker registration options.
func Options(cfg config.Config, metrics *telemetry.Metrics, log *logger.Logger) sdk.Options {
	return sdk.Options{
		Flags: processor.Flags{
			DisableSourceDownload: cfg.Worker.DisableSourceDownload,
			DisableRetries:        cfg.Worker.DisableRetries,
			UnitTestMode:          cfg.Worker.UnitTestMode,
		},
		TransformerCatalogRef: cfg.Worker.TransformerCatalogRef,
		Retry: retry.Options{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
		},
		Concurrency: cfg.Worker.Concurrency,
		InputRoot:   cfg.Worker.InputRoot,
		WorkRoot:    cfg.Worker.WorkRoot,
		SourceToken: cfg.Worker.SourceToken,
		HTTPClient:  &http.Client{Timeout: cfg.HTTP.TransferTimeout},
		Metrics:     metrics,
		Log:         log,
	}
}

// Redis connects and pings the configured Redis, registering its close.
func Redis(ctx context.Context, cfg config.RedisConfig, mgr *shutdown.Manager, log *logger.Logger) (*redis.Client, error) {
	log.Info("connecting to Redis", "addr", cfg.Addr)
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	mgr.RegisterCloser("redis", rdb.Close)

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info("Redis connected")
	return rdb, nil
}

// Postgres opens the ledger pool. It returns nil, nil when no database is
// configured; the hosts then run without a ledger.
func Postgres(ctx context.Context, cfg config.DatabaseConfig, mgr *shutdown.Manager, log *logger.Logger) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		log.Warn("no database configured, activation ledger disabled")
		return nil, nil
	}

	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	log.Info("connecting to PostgreSQL")
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	mgr.Register("postgres", func(context.Context) error {
		pool.Close()
		return nil
	})

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	log.Info("PostgreSQL connected")
	return pool, nil
}
