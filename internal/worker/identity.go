package worker

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/purplecabbage/asset-compute-sdk/internal/worker/processor"
)

// Identity is the demo transform: every rendition is a byte copy of the
// source.
func Identity(ctx context.Context, src *processor.Source, r *processor.Rendition) error {
	if !src.Materialized {
		return fmt.Errorf("identity transform needs the source file, download is disabled")
	}

	in, err := os.Open(src.Path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(r.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
