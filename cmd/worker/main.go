package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/purplecabbage/asset-compute-sdk/internal/bootstrap"
	"github.com/purplecabbage/asset-compute-sdk/internal/config"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/logger"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/shutdown"
	"github.com/purplecabbage/asset-compute-sdk/internal/repositories"
	"github.com/purplecabbage/asset-compute-sdk/internal/telemetry"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/queue"
	"github.com/purplecabbage/asset-compute-sdk/sdk"
)

func main() {
	configPath := flag.String("config", os.Getenv("ASSET_COMPUTE_CONFIG"), "path to a YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}

	cfg.Log.ServiceName = "asset-compute-worker"
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMgr := shutdown.NewManager(log, cfg.HTTP.ShutdownTimeout)
	defer func() {
		if err := shutdownMgr.Shutdown(); err != nil {
			log.LogError(context.Background(), "shutdown finished with errors", err)
		}
	}()

	rdb, err := bootstrap.Redis(ctx, cfg.Redis, shutdownMgr, log)
	if err != nil {
		log.LogFatal("failed to connect to Redis", err)
	}

	deps := worker.Deps{
		Queue:   queue.NewRedisQueue(rdb, cfg.Redis.Queue, cfg.Redis.PopTimeout),
		Metrics: telemetry.New(),
		Log:     log,
	}

	pool, err := bootstrap.Postgres(ctx, cfg.Database, shutdownMgr, log)
	if err != nil {
		log.LogFatal("failed to connect to PostgreSQL", err)
	}
	if pool != nil {
		ledger := repositories.NewActivationRepository(pool)
		if err := ledger.EnsureSchema(ctx); err != nil {
			log.LogFatal("failed to create activation ledger", err)
		}
		deps.Ledger = ledger
	}

	deps.Action, err = sdk.Worker(worker.Identity, bootstrap.Options(cfg, deps.Metrics, log))
	if err != nil {
		log.LogFatal("failed to register worker", err)
	}

	log.Info("asset compute worker started", "queue", cfg.Redis.Queue)
	if err := worker.Run(ctx, deps); err != nil && !errors.Is(err, context.Canceled) {
		log.LogError(ctx, "worker stopped", err)
	}
}
