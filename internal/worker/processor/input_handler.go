package processor

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/errors"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/logger"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/transfer"
)

// InputHandler materializes the source asset of an invocation.
type InputHandler struct {
	client    *transfer.Client
	inputRoot string
	log       *logger.Logger
}

func NewInputHandler(client *transfer.Client, inputRoot string, log *logger.Logger) *InputHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &InputHandler{client: client, inputRoot: inputRoot, log: log}
}

// Fetch validates desc and makes the source available in dir. With
// DisableSourceDownload the returned Source points at a file in dir that was
// never written, in unit-test mode too. In unit-test mode the locator is a file below the input root and
// the network is never used.
func (h *InputHandler) Fetch(ctx context.Context, desc SourceDescriptor, dir string, flags Flags) (*Source, error) {
	const op = "processor.fetch"
	log := h.log.FromContext(ctx)

	if flags.UnitTestMode {
		path, err := ValidateSourceLocator(desc.URL, true, h.inputRoot)
		if err != nil {
			return nil, err
		}
		if flags.DisableSourceDownload {
			log.Debug("local source disabled", "path", path)
			return &Source{
				URL:       desc.URL,
				Name:      desc.URL,
				Path:      filepath.Join(dir, filepath.Base(desc.URL)),
				Directory: dir,
				MimeType:  desc.MimeType,
			}, nil
		}
		log.Debug("using local source", "path", path)
		return &Source{
			URL:          desc.URL,
			Name:         desc.URL,
			Path:         path,
			Directory:    dir,
			Materialized: true,
			MimeType:     desc.MimeType,
		}, nil
	}

	rawURL, err := ValidateSourceLocator(desc.URL, false, "")
	if err != nil {
		return nil, err
	}

	name := "source" + ExtFromURL(rawURL)
	if strings.TrimSpace(desc.Name) != "" {
		name = SanitizeFilename(desc.Name)
	}
	src := &Source{
		URL:       rawURL,
		Name:      name,
		Path:      filepath.Join(dir, name),
		Directory: dir,
		MimeType:  desc.MimeType,
	}

	if flags.DisableSourceDownload {
		log.WithURL(rawURL).Debug("source download disabled")
		return src, nil
	}

	n, err := h.client.Download(ctx, rawURL, src.Path)
	if err != nil {
		return nil, errors.Wrap(err, op, "")
	}
	src.Size = n
	src.Materialized = true
	log.WithURL(rawURL).Debug("source fetched", "bytes", n)
	return src, nil
}
