package processor

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/errors"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/logger"
	"github.com/purplecabbage/asset-compute-sdk/internal/telemetry"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/retry"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/transfer"
)

type Deps struct {
	Transfer *transfer.Client
	Retry    retry.Options
	// InputRoot is where unit-test mode resolves source files.
	InputRoot string
	// WorkRoot parents the temporary directories; empty means the OS default.
	WorkRoot string
	// Concurrency bounds how many renditions a per-rendition invocation
	// processes at once. Values below 2 keep the sequential order.
	Concurrency int
	Metrics     *telemetry.Metrics
	Log         *logger.Logger
}

// Processor runs the direct path of an invocation: fetch the source, call
// back, upload, clean up.
type Processor struct {
	transfer    *transfer.Client
	retry       retry.Options
	inputRoot   string
	workRoot    string
	concurrency int
	metrics     *telemetry.Metrics
	log         *logger.Logger
}

func New(d Deps) *Processor {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("processor")

	if d.Transfer == nil {
		d.Transfer = transfer.New(transfer.Deps{Metrics: d.Metrics, Log: log})
	}
	if d.Concurrency < 1 {
		d.Concurrency = 1
	}

	return &Processor{
		transfer:    d.Transfer,
		retry:       d.Retry,
		inputRoot:   d.InputRoot,
		workRoot:    d.WorkRoot,
		concurrency: d.Concurrency,
		metrics:     d.Metrics,
		log:         log,
	}
}

type state string

const (
	stateInit               state = "init"
	stateSourceFetched      state = "source_fetched"
	stateCallbackInvoked    state = "callback_invoked"
	stateRenditionsUploaded state = "renditions_uploaded"
	stateCleanedUp          state = "cleaned_up"
	stateErrorCleanup       state = "error_cleanup"
)

// invocation carries the per-call collaborators and the state machine.
type invocation struct {
	params  *Params
	mode    Mode
	dirs    *WorkDirs
	input   *InputHandler
	output  *OutputHandler
	log     *logger.Logger
	metrics *telemetry.Metrics
	started time.Time

	mu    sync.Mutex
	state state
}

func (p *Processor) begin(ctx context.Context, params *Params, mode Mode) *invocation {
	log := p.log.FromContext(ctx).WithFields(map[string]any{
		"mode":       string(mode),
		"renditions": len(params.Renditions),
	})

	policy := retry.New(p.retry)
	if params.Flags.DisableRetries || params.Flags.UnitTestMode {
		policy = retry.Disabled()
	}
	client := p.transfer.WithRetry(policy)

	inv := &invocation{
		params:  params,
		mode:    mode,
		dirs:    NewWorkDirs(p.workRoot, log),
		input:   NewInputHandler(client, p.inputRoot, log),
		output:  NewOutputHandler(client, log),
		log:     log,
		metrics: p.metrics,
		started: time.Now(),
		state:   stateInit,
	}
	log.Info("invocation started", "retry_attempts", policy.MaxAttempts())
	return inv
}

func (inv *invocation) transition(to state) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.log.Debug("state transition", "from", string(inv.state), "to", string(to))
	inv.state = to
}

func (inv *invocation) currentState() state {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.state
}

// finish releases the work area on every exit path and decorates the
// failure with the invocation params.
func (inv *invocation) finish(errp *error) {
	if r := recover(); r != nil {
		*errp = errors.Newf(errors.CodeCallbackFailed, "worker panicked: %v", r)
	}

	failedAt := inv.currentState()
	if *errp != nil {
		inv.transition(stateErrorCleanup)
	}
	inv.dirs.ReleaseAll()

	err := *errp
	inv.metrics.Invocation(string(inv.mode), err)
	if err == nil {
		inv.transition(stateCleanedUp)
		inv.log.Info("invocation completed", "duration_ms", time.Since(inv.started).Milliseconds())
		return
	}

	wrapped := errors.Wrap(err, "processor.compute", ownMessage(err)).
		WithField(errors.FieldParams, inv.params.Redacted())
	inv.log.Error("invocation failed",
		"code", string(wrapped.Code),
		"message", errors.GetMessage(wrapped),
		"failed_at", string(failedAt),
		"duration_ms", time.Since(inv.started).Milliseconds(),
	)
	*errp = wrapped
}

// Compute runs fn once per rendition, uploading each rendition right after
// its callback returns. Each rendition gets its own directory.
func (p *Processor) Compute(ctx context.Context, params *Params, fn RenditionFunc) (res *Result, err error) {
	inv := p.begin(ctx, params, ModeDirectSingle)
	defer inv.finish(&err)

	if fn == nil {
		return nil, errors.New(errors.CodeInvalidCallback, "renditionCallback must be a function")
	}

	src, err := inv.fetchSource(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]RenditionResult, len(params.Renditions))
	if p.concurrency < 2 || len(params.Renditions) < 2 {
		for i := range params.Renditions {
			rr, err := inv.runRendition(ctx, src, i, fn)
			if err != nil {
				return nil, err
			}
			results[i] = *rr
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.concurrency)
		for i := range params.Renditions {
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				rr, err := inv.runRendition(gctx, src, i, fn)
				if err != nil {
					return err
				}
				results[i] = *rr
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	inv.transition(stateRenditionsUploaded)
	return &Result{Mode: ModeDirectSingle, Renditions: results}, nil
}

func (inv *invocation) runRendition(ctx context.Context, src *Source, index int, fn RenditionFunc) (*RenditionResult, error) {
	dir, err := inv.dirs.Allocate(KindRendition)
	if err != nil {
		return nil, errors.Wrap(err, "processor.rendition", "failed to allocate rendition directory")
	}
	r := newRendition(inv.params.Renditions[index], index, dir)
	log := inv.log.WithRendition(r.Index, r.Name)

	log.Debug("invoking rendition callback")
	if err := invokeRendition(ctx, fn, src, r); err != nil {
		inv.metrics.Rendition(err)
		return nil, err
	}
	inv.transition(stateCallbackInvoked)

	rr, err := inv.output.Upload(ctx, r)
	inv.metrics.Rendition(err)
	if err != nil {
		return nil, err
	}
	return rr, nil
}

// ComputeAllAtOnce runs fn exactly once with every rendition sharing one
// output directory, then uploads each rendition in order.
func (p *Processor) ComputeAllAtOnce(ctx context.Context, params *Params, fn BatchFunc) (res *Result, err error) {
	inv := p.begin(ctx, params, ModeDirectBatch)
	defer inv.finish(&err)

	if fn == nil {
		return nil, errors.New(errors.CodeInvalidCallback, "renditionsCallback must be a function")
	}

	src, err := inv.fetchSource(ctx)
	if err != nil {
		return nil, err
	}

	outDir, err := inv.dirs.Allocate(KindRendition)
	if err != nil {
		return nil, errors.Wrap(err, "processor.batch", "failed to allocate output directory")
	}
	renditions := make([]*Rendition, len(params.Renditions))
	for i, d := range params.Renditions {
		renditions[i] = newRendition(d, i, outDir)
	}

	inv.log.Debug("invoking batch callback", "out_dir", outDir)
	if err := invokeBatch(ctx, fn, src, renditions, outDir); err != nil {
		return nil, err
	}
	inv.transition(stateCallbackInvoked)

	results := make([]RenditionResult, len(renditions))
	for i, r := range renditions {
		rr, err := inv.output.Upload(ctx, r)
		inv.metrics.Rendition(err)
		if err != nil {
			return nil, err
		}
		results[i] = *rr
	}

	inv.transition(stateRenditionsUploaded)
	return &Result{Mode: ModeDirectBatch, Renditions: results}, nil
}

func (inv *invocation) fetchSource(ctx context.Context) (*Source, error) {
	dir, err := inv.dirs.Allocate(KindSource)
	if err != nil {
		return nil, errors.Wrap(err, "processor.fetch", "failed to allocate source directory")
	}
	src, err := inv.input.Fetch(ctx, inv.params.Source, dir, inv.params.Flags)
	if err != nil {
		return nil, err
	}
	inv.transition(stateSourceFetched)
	return src, nil
}

func newRendition(d RenditionDescriptor, index int, dir string) *Rendition {
	name := renditionName(d, index)
	return &Rendition{
		Index:        index,
		Name:         name,
		Fmt:          d.Fmt,
		Directory:    dir,
		Path:         filepath.Join(dir, name),
		Target:       d.Target,
		Pipeline:     d.Pipeline,
		Instructions: d.Instructions,
	}
}

func invokeRendition(ctx context.Context, fn RenditionFunc, src *Source, r *Rendition) (err error) {
	defer recoverCallback(&err)
	if err := fn(ctx, src, r); err != nil {
		return callbackFailed(err)
	}
	return nil
}

func invokeBatch(ctx context.Context, fn BatchFunc, src *Source, renditions []*Rendition, outDir string) (err error) {
	defer recoverCallback(&err)
	if err := fn(ctx, src, renditions, outDir); err != nil {
		return callbackFailed(err)
	}
	return nil
}

func recoverCallback(errp *error) {
	if r := recover(); r != nil {
		*errp = errors.Newf(errors.CodeCallbackFailed, "callback panicked: %v", r)
	}
}

func callbackFailed(err error) error {
	return errors.WrapWithCode(err, errors.CodeCallbackFailed, "processor.callback", ownMessage(err))
}

// ownMessage is the message a wrapping layer needs so that GetMessage keeps
// returning the failure text: empty when err already carries a coded
// message, the plain error text otherwise.
func ownMessage(err error) string {
	if errors.GetMessage(err) != "" {
		return ""
	}
	return err.Error()
}
