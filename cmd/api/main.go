package main

import (
	"context"
	"flag"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/purplecabbage/asset-compute-sdk/internal/bootstrap"
	"github.com/purplecabbage/asset-compute-sdk/internal/config"
	"github.com/purplecabbage/asset-compute-sdk/internal/httpapi"
	"github.com/purplecabbage/asset-compute-sdk/internal/httpapi/handlers"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/logger"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/shutdown"
	"github.com/purplecabbage/asset-compute-sdk/internal/repositories"
	"github.com/purplecabbage/asset-compute-sdk/internal/telemetry"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/queue"
	"github.com/purplecabbage/asset-compute-sdk/sdk"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("ASSET_COMPUTE_CONFIG"), "path to a YAML config file")
	withQueue := flag.Bool("queue", true, "connect Redis and expose POST /activations")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}

	cfg.Log.ServiceName = "asset-compute-api"
	log := logger.New(cfg.Log)
	log.Info("starting asset compute action host", "version", version)

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, cfg.HTTP.ShutdownTimeout)
	metrics := telemetry.New()

	action, err := sdk.Worker(worker.Identity, bootstrap.Options(cfg, metrics, log))
	if err != nil {
		log.LogFatal("failed to register worker", err)
	}

	hd := handlers.Deps{
		Action:  action,
		Checks:  map[string]handlers.Check{},
		Version: version,
		Log:     log,
	}

	if *withQueue {
		rdb, err := bootstrap.Redis(ctx, cfg.Redis, shutdownMgr, log)
		if err != nil {
			log.LogFatal("failed to connect to Redis", err)
		}
		hd.Queue = queue.NewRedisQueue(rdb, cfg.Redis.Queue, cfg.Redis.PopTimeout)
		hd.Checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	pool, err := bootstrap.Postgres(ctx, cfg.Database, shutdownMgr, log)
	if err != nil {
		log.LogFatal("failed to connect to PostgreSQL", err)
	}
	if pool != nil {
		hd.Activations = repositories.NewActivationRepository(pool)
		hd.Checks["postgres"] = pool.Ping
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Handlers:          hd,
		InvocationTimeout: cfg.HTTP.InvocationTimeout,
		Metrics:           metrics,
		Log:               log,
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	if err := shutdownMgr.Wait(ctx); err != nil {
		log.LogError(ctx, "shutdown finished with errors", err)
		os.Exit(1)
	}
}
