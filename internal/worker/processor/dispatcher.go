package processor

import (
	"context"

	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/errors"
)

// Mode is the processing path chosen for one invocation.
type Mode string

const (
	ModePipeline     Mode = "pipeline"
	ModeDirectSingle Mode = "direct_single"
	ModeDirectBatch  Mode = "direct_batch"
)

// RenditionFunc converts the source into one rendition, writing r.Path.
type RenditionFunc func(ctx context.Context, src *Source, r *Rendition) error

// BatchFunc converts the source into every rendition at once. All
// renditions live in outDir.
type BatchFunc func(ctx context.Context, src *Source, renditions []*Rendition, outDir string) error

// Callback is the caller's transformation logic, tagged with its shape.
// Exactly one of the two functions is set.
type Callback struct {
	perRendition RenditionFunc
	wholeBatch   BatchFunc
}

// PerRendition declares a callback invoked once per rendition.
func PerRendition(fn RenditionFunc) (Callback, error) {
	if fn == nil {
		return Callback{}, errors.New(errors.CodeInvalidCallback, "renditionCallback must be a function")
	}
	return Callback{perRendition: fn}, nil
}

// WholeBatch declares a callback invoked once with every rendition.
func WholeBatch(fn BatchFunc) (Callback, error) {
	if fn == nil {
		return Callback{}, errors.New(errors.CodeInvalidCallback, "renditionsCallback must be a function")
	}
	return Callback{wholeBatch: fn}, nil
}

// Mode reports the direct mode this callback runs in.
func (c Callback) Mode() Mode {
	if c.wholeBatch != nil {
		return ModeDirectBatch
	}
	return ModeDirectSingle
}

// RenditionFunc returns the per-rendition function, nil for a batch callback.
func (c Callback) RenditionFunc() RenditionFunc { return c.perRendition }

// BatchFunc returns the batch function, nil for a per-rendition callback.
func (c Callback) BatchFunc() BatchFunc { return c.wholeBatch }

func (c Callback) valid() bool {
	return (c.perRendition != nil) != (c.wholeBatch != nil)
}

// NeedsPipeline reports whether any rendition asks for the pipeline. One is
// enough to route the whole invocation there.
func NeedsPipeline(renditions []RenditionDescriptor) bool {
	for _, r := range renditions {
		if r.Pipeline {
			return true
		}
	}
	return false
}

// Select chooses the processing path. It does no I/O.
func Select(p *Params, cb Callback, pipelineSupported bool) (Mode, error) {
	if !cb.valid() {
		return "", errors.New(errors.CodeInvalidCallback, "callback must be a function")
	}
	if NeedsPipeline(p.Renditions) {
		if !pipelineSupported {
			return "", errors.New(errors.CodeUnsupportedPipeline,
				"This worker does not support running as part of pipelines")
		}
		return ModePipeline, nil
	}
	return cb.Mode(), nil
}
