package handlers

import (
	"context"
	"encoding/json"

	"github.com/purplecabbage/asset-compute-sdk/internal/models"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/logger"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/processor"
)

// Runner executes one invocation synchronously.
type Runner interface {
	RunJSON(ctx context.Context, raw []byte) (*processor.Result, error)
}

// Enqueuer hands an invocation to the queue worker.
type Enqueuer interface {
	Push(ctx context.Context, activationID string, params json.RawMessage) (string, error)
}

// ActivationReader looks up ledger rows.
type ActivationReader interface {
	Get(ctx context.Context, id string) (*models.Activation, error)
}

// Check pings one dependency for the deep health check.
type Check func(ctx context.Context) error

type Deps struct {
	Action      Runner
	Queue       Enqueuer
	Activations ActivationReader
	Checks      map[string]Check
	Version     string
	Log         *logger.Logger
}

type Handler struct {
	action      Runner
	queue       Enqueuer
	activations ActivationReader
	checks      map[string]Check
	version     string
	log         *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	version := d.Version
	if version == "" {
		version = "dev"
	}
	return &Handler{
		action:      d.Action,
		queue:       d.Queue,
		activations: d.Activations,
		checks:      d.Checks,
		version:     version,
		log:         log.WithComponent("httpapi"),
	}
}

// Log is the logger handlers report failures with.
func (h *Handler) Log() *logger.Logger {
	return h.log
}
