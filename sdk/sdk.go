// Package sdk is the public entry point for writing asset compute workers.
//
// A worker registers its transformation logic once, either per rendition
// with Worker or for the whole batch with BatchWorker, and then runs one
// invocation per call to Action.Run. The SDK fetches the source, invokes the
// callback, uploads every rendition and removes its temporary files on
// every exit path.
package sdk

import (
	"context"
	"net/http"

	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/logger"
	"github.com/purplecabbage/asset-compute-sdk/internal/telemetry"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/processor"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/retry"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/transfer"
)

type (
	Source              = processor.Source
	Rendition           = processor.Rendition
	Params              = processor.Params
	Flags               = processor.Flags
	Target              = processor.Target
	SourceDescriptor    = processor.SourceDescriptor
	RenditionDescriptor = processor.RenditionDescriptor
	Result              = processor.Result
	RenditionResult     = processor.RenditionResult
	Mode                = processor.Mode
	Callback            = processor.Callback
	Pipeline            = processor.Pipeline
	Action              = processor.Action

	// RenditionFunc writes one rendition to r.Path.
	RenditionFunc = processor.RenditionFunc
	// BatchFunc writes every rendition into outDir in a single call.
	BatchFunc = processor.BatchFunc
)

const (
	ModePipeline     = processor.ModePipeline
	ModeDirectSingle = processor.ModeDirectSingle
	ModeDirectBatch  = processor.ModeDirectBatch
)

// Options configure a registered worker. The zero value is usable.
type Options struct {
	Flags                 Flags
	TransformerCatalogRef string
	// Pipeline enables routing of pipeline renditions.
	Pipeline Pipeline

	Retry       retry.Options
	Concurrency int
	InputRoot   string
	WorkRoot    string
	// SourceToken, if set, is sent as a bearer token on source downloads.
	SourceToken string

	HTTPClient *http.Client
	Metrics    *telemetry.Metrics
	Log        *logger.Logger
}

// Worker registers fn to be called once per rendition.
func Worker(fn RenditionFunc, opts Options) (*Action, error) {
	cb, err := processor.PerRendition(fn)
	if err != nil {
		return nil, err
	}
	return register(cb, opts)
}

// BatchWorker registers fn to be called once per invocation with every
// rendition.
func BatchWorker(fn BatchFunc, opts Options) (*Action, error) {
	cb, err := processor.WholeBatch(fn)
	if err != nil {
		return nil, err
	}
	return register(cb, opts)
}

func register(cb Callback, opts Options) (*Action, error) {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault()
	}

	client := transfer.New(transfer.Deps{
		HTTP:    opts.HTTPClient,
		Retry:   retry.New(opts.Retry),
		Metrics: opts.Metrics,
		Log:     log,
		Token:   transfer.StaticToken(opts.SourceToken),
	})
	proc := processor.New(processor.Deps{
		Transfer:    client,
		Retry:       opts.Retry,
		InputRoot:   opts.InputRoot,
		WorkRoot:    opts.WorkRoot,
		Concurrency: opts.Concurrency,
		Metrics:     opts.Metrics,
		Log:         log,
	})

	return processor.NewAction(cb, proc, processor.ActionOptions{
		Flags:                 opts.Flags,
		TransformerCatalogRef: opts.TransformerCatalogRef,
		Pipeline:              opts.Pipeline,
	})
}

// ParseParams decodes the JSON params of one invocation.
func ParseParams(raw []byte) (*Params, error) {
	return processor.ParseParams(raw)
}

// Run is a convenience for one-shot hosts: it registers fn and runs a
// single invocation.
func Run(ctx context.Context, fn RenditionFunc, params *Params, opts Options) (*Result, error) {
	a, err := Worker(fn, opts)
	if err != nil {
		return nil, err
	}
	return a.Run(ctx, params)
}
