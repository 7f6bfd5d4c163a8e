package processor

import (
	"context"
	"os"

	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/errors"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/logger"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/transfer"
)

// OutputHandler persists rendition files to their targets.
type OutputHandler struct {
	client *transfer.Client
	log    *logger.Logger
}

func NewOutputHandler(client *transfer.Client, log *logger.Logger) *OutputHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &OutputHandler{client: client, log: log}
}

// Upload validates the rendition target and PUTs the rendition file. An
// invalid target fails before any request. A multipart target receives the
// file split into len(parts) contiguous chunks, in order, stopping at the
// first failing part. The local file is left in place.
func (h *OutputHandler) Upload(ctx context.Context, r *Rendition) (*RenditionResult, error) {
	const op = "processor.upload"
	log := h.log.FromContext(ctx).WithRendition(r.Index, r.Name)

	urls, err := ValidateTargetLocator(r.Target)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(r.Path)
	if err != nil {
		return nil, errors.Newf(errors.CodeUploadFailed, "PUT '%s' failed: rendition file missing", urls[0]).
			WithFields(map[string]any{
				errors.FieldURL:    RedactURL(urls[0]),
				errors.FieldMethod: "PUT",
			})
	}
	size := info.Size()

	if !r.Target.IsMultipart() {
		if err := h.client.Upload(ctx, urls[0], r.Path, 0, -1); err != nil {
			return nil, errors.Wrap(err, op, "")
		}
		log.WithURL(urls[0]).Debug("rendition uploaded", "bytes", size)
		return &RenditionResult{Name: r.Name, Size: size, Parts: 1, Targets: redactAll(urls)}, nil
	}

	for i, rng := range splitParts(size, len(urls)) {
		if err := h.client.Upload(ctx, urls[i], r.Path, rng.offset, rng.length); err != nil {
			log.WithURL(urls[i]).Warn("multipart upload stopped", "part", i+1, "of", len(urls))
			return nil, errors.Wrap(err, op, "").WithField("part", i+1)
		}
	}
	log.Debug("rendition uploaded", "parts", len(urls), "bytes", size)
	return &RenditionResult{Name: r.Name, Size: size, Parts: len(urls), Targets: redactAll(urls)}, nil
}

type byteRange struct {
	offset, length int64
}

// splitParts divides size bytes into n contiguous ranges of ceil(size/n)
// bytes; trailing ranges may be short or empty.
func splitParts(size int64, n int) []byteRange {
	parts := make([]byteRange, n)
	if n == 0 {
		return parts
	}
	chunk := (size + int64(n) - 1) / int64(n)
	for i := range parts {
		off := min(int64(i)*chunk, size)
		parts[i] = byteRange{offset: off, length: min(chunk, size-off)}
	}
	return parts
}
