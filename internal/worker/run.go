package worker

import (
	"context"
	"time"

	v1 "github.com/purplecabbage/asset-compute-sdk/internal/contracts/activation/v1"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/errors"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/logger"
)

// Run consumes activations until ctx is canceled.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")

	backoff := d.PopBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("worker context canceled, stopping")
			return ctx.Err()
		default:
		}

		env, err := d.Queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker stopping due to context cancellation")
				return ctx.Err()
			}

			d.Metrics.Activation(err)
			log.Warn("queue pop error, retrying", "error", err.Error())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}

		if env == nil {
			continue
		}

		d.handle(ctx, env, log)
	}
}

// handle runs one activation. Ledger failures are logged and never stop
// the loop.
func (d Deps) handle(ctx context.Context, env *v1.Envelope, log *logger.Logger) {
	actCtx := logger.ContextWithActivationID(ctx, env.ActivationID)
	actLog := log.WithActivationID(env.ActivationID)

	actLog.Info("processing activation", "queued_ms", time.Since(env.EnqueuedAt).Milliseconds())
	startTime := time.Now()

	if d.Ledger != nil {
		if err := d.Ledger.Start(actCtx, env.ActivationID, env.Params); err != nil {
			actLog.LogError(actCtx, "failed to record activation start", err)
		}
	}

	res, err := d.Action.RunJSON(actCtx, env.Params)
	d.Metrics.Activation(err)
	if err != nil {
		actLog.Error("activation failed",
			"code", string(errors.GetCode(err)),
			"error", errors.GetMessage(err),
			"duration_ms", time.Since(startTime).Milliseconds(),
		)
		if d.Ledger != nil {
			if lerr := d.Ledger.Fail(actCtx, env.ActivationID, err); lerr != nil {
				actLog.LogError(actCtx, "failed to record activation failure", lerr)
			}
		}
		return
	}

	actLog.Info("activation completed",
		"mode", string(res.Mode),
		"renditions", len(res.Renditions),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
	if d.Ledger != nil {
		if lerr := d.Ledger.Finish(actCtx, env.ActivationID, string(res.Mode), len(res.Renditions)); lerr != nil {
			actLog.LogError(actCtx, "failed to record activation result", lerr)
		}
	}
}
