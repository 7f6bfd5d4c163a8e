package processor

import (
	"context"

	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/errors"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/logger"
)

// Pipeline runs an invocation through a multi-stage transformer chain with
// the registered callback as one stage. The worker only decides whether to
// call it.
type Pipeline interface {
	Run(ctx context.Context, params *Params, cb Callback) (*Result, error)
}

// ActionOptions are fixed at registration.
type ActionOptions struct {
	// Flags are merged into every invocation's flags.
	Flags Flags
	// TransformerCatalogRef is forwarded to the pipeline when params carry
	// none.
	TransformerCatalogRef string
	// Pipeline is nil for workers without pipeline support.
	Pipeline Pipeline
}

// Action is a registered worker: a callback of a fixed shape plus the
// processor that drives it.
type Action struct {
	cb   Callback
	proc *Processor
	opts ActionOptions
	log  *logger.Logger
}

// NewAction registers cb. A callback without a function fails here, before
// any invocation.
func NewAction(cb Callback, proc *Processor, opts ActionOptions) (*Action, error) {
	if !cb.valid() {
		return nil, errors.New(errors.CodeInvalidCallback, "callback must be a function")
	}
	if proc == nil {
		proc = New(Deps{})
	}
	return &Action{cb: cb, proc: proc, opts: opts, log: proc.log.WithComponent("action")}, nil
}

// SupportsPipeline reports whether a pipeline was registered.
func (a *Action) SupportsPipeline() bool {
	return a.opts.Pipeline != nil
}

// Run executes one invocation.
func (a *Action) Run(ctx context.Context, params *Params) (*Result, error) {
	p := Normalize(params, a.opts.Flags, a.opts.TransformerCatalogRef)

	mode, err := Select(p, a.cb, a.SupportsPipeline())
	if err != nil {
		a.proc.metrics.Invocation("rejected", err)
		return nil, errors.Wrap(err, "processor.dispatch", "").
			WithField(errors.FieldParams, p.Redacted())
	}

	switch mode {
	case ModePipeline:
		a.log.FromContext(ctx).Info("using pipeline", "catalog", p.TransformerCatalogRef)
		return a.runPipeline(ctx, p)
	case ModeDirectBatch:
		a.log.FromContext(ctx).Debug("using batch worker callback")
		return a.proc.ComputeAllAtOnce(ctx, p, a.cb.BatchFunc())
	default:
		a.log.FromContext(ctx).Debug("using worker callback")
		return a.proc.Compute(ctx, p, a.cb.RenditionFunc())
	}
}

// RunJSON parses raw params and runs them.
func (a *Action) RunJSON(ctx context.Context, raw []byte) (*Result, error) {
	p, err := ParseParams(raw)
	if err != nil {
		return nil, err
	}
	return a.Run(ctx, p)
}

func (a *Action) runPipeline(ctx context.Context, p *Params) (*Result, error) {
	res, err := a.opts.Pipeline.Run(ctx, p, a.cb)
	a.proc.metrics.Invocation(string(ModePipeline), err)
	if err != nil {
		return nil, errors.Wrap(err, "processor.pipeline", ownMessage(err)).
			WithField(errors.FieldParams, p.Redacted())
	}
	if res == nil {
		res = &Result{}
	}
	if res.Mode == "" {
		res.Mode = ModePipeline
	}
	return res, nil
}
