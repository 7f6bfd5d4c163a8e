package worker

import (
	"context"
	"encoding/json"
	"time"

	v1 "github.com/purplecabbage/asset-compute-sdk/internal/contracts/activation/v1"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/logger"
	"github.com/purplecabbage/asset-compute-sdk/internal/telemetry"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/processor"
)

// Queue yields activation envelopes. Pop returns nil, nil when nothing
// arrived within its own timeout.
type Queue interface {
	Pop(ctx context.Context) (*v1.Envelope, error)
}

// Ledger records activation outcomes.
type Ledger interface {
	Start(ctx context.Context, id string, params json.RawMessage) error
	Finish(ctx context.Context, id, mode string, renditions int) error
	Fail(ctx context.Context, id string, cause error) error
}

// Runner executes one invocation from raw params.
type Runner interface {
	RunJSON(ctx context.Context, raw []byte) (*processor.Result, error)
}

type Deps struct {
	Queue  Queue
	Ledger Ledger
	Action Runner
	// PopBackoff is the pause after a failed pop; zero means one second.
	PopBackoff time.Duration
	Metrics    *telemetry.Metrics
	Log        *logger.Logger
}
