// Command presign prints invocation params for objects in the configured S3
// bucket, or enqueues them for the worker host.
//
//	presign -source in/photo.jpg -rendition out/thumb.png -rendition out/big.tiff -parts 3
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"path"
	"strings"

	"github.com/joho/godotenv"

	"github.com/purplecabbage/asset-compute-sdk/internal/bootstrap"
	"github.com/purplecabbage/asset-compute-sdk/internal/config"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/logger"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/shutdown"
	"github.com/purplecabbage/asset-compute-sdk/internal/presign"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/queue"
)

func main() {
	configPath := flag.String("config", os.Getenv("ASSET_COMPUTE_CONFIG"), "path to a YAML config file")
	source := flag.String("source", "", "object key of the source")
	parts := flag.Int("parts", 1, "presign this many part URLs per rendition")
	pipeline := flag.Bool("pipeline", false, "mark every rendition for the pipeline")
	enqueue := flag.Bool("enqueue", false, "push the params to the activation queue instead of printing them")
	var renditions []string
	flag.Func("rendition", "object key of a rendition, repeatable", func(v string) error {
		renditions = append(renditions, v)
		return nil
	})
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}
	cfg.Log.ServiceName = "asset-compute-presign"
	cfg.Log.Output = os.Stderr
	log := logger.New(cfg.Log)

	p, err := presign.New(cfg.S3)
	if err != nil {
		log.LogFatal("failed to init presigner", err)
	}

	req := presign.Request{SourceKey: *source}
	for _, key := range renditions {
		req.Renditions = append(req.Renditions, presign.Rendition{
			Key:      key,
			Fmt:      strings.TrimPrefix(path.Ext(key), "."),
			Name:     path.Base(key),
			Parts:    *parts,
			Pipeline: *pipeline,
		})
	}

	ctx := context.Background()
	params, err := p.Params(ctx, req)
	if err != nil {
		log.LogFatal("failed to presign", err)
	}

	raw, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		log.LogFatal("failed to encode params", err)
	}

	if !*enqueue {
		_, _ = os.Stdout.Write(append(raw, '\n'))
		return
	}

	mgr := shutdown.NewManager(log, cfg.HTTP.ShutdownTimeout)
	defer func() { _ = mgr.Shutdown() }()

	rdb, err := bootstrap.Redis(ctx, cfg.Redis, mgr, log)
	if err != nil {
		log.LogFatal("failed to connect to Redis", err)
	}
	id, err := queue.NewRedisQueue(rdb, cfg.Redis.Queue, cfg.Redis.PopTimeout).Push(ctx, "", raw)
	if err != nil {
		log.LogFatal("failed to enqueue", err)
	}
	log.Info("activation queued", "activation_id", id, "renditions", len(params.Renditions))
}
