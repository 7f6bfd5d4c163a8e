package processor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/errors"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/logger"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/retry"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/transfer"
)

func threeRenditions(f *fakeStorage) []RenditionDescriptor {
	return []RenditionDescriptor{
		{Fmt: "png", Target: Target{URL: f.url("/out/r0.png")}},
		{Fmt: "jpg", Target: Target{URL: f.url("/out/r1.jpg")}},
		{Fmt: "gif", Target: Target{URL: f.url("/out/r2.gif")}},
	}
}

func TestComputeUploadsEveryRendition(t *testing.T) {
	f := newFakeStorage(t)
	f.put("/photo/elephant.png", []byte("elephant"))
	p, work := newTestProcessor(t, f, 1)

	params := &Params{Source: SourceDescriptor{URL: f.url("/photo/elephant.png")}, Renditions: threeRenditions(f)}

	var (
		seenDirs = map[string]bool{}
		order    []int
	)
	res, err := p.Compute(context.Background(), params, func(ctx context.Context, src *Source, r *Rendition) error {
		if _, err := os.Stat(r.Path); !os.IsNotExist(err) {
			t.Errorf("expected %s not to exist before the callback", r.Path)
		}
		seenDirs[r.Directory] = true
		if r.Directory == src.Directory {
			t.Error("expected rendition and source directories to be disjoint")
		}
		order = append(order, r.Index)
		return copySource(src, r.Path)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Mode != ModeDirectSingle || len(res.Renditions) != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(seenDirs) != 3 {
		t.Errorf("expected one directory per rendition, got %d", len(seenDirs))
	}
	if fmt.Sprint(order) != "[0 1 2]" {
		t.Errorf("expected sequential order, got %v", order)
	}
	for _, path := range []string{"/out/r0.png", "/out/r1.jpg", "/out/r2.gif"} {
		if got, _ := f.object(path); string(got) != "elephant" {
			t.Errorf("expected %s to hold the source bytes, got %q", path, got)
		}
	}
	if res.Renditions[0].Name != "rendition0.png" {
		t.Errorf("expected default rendition name, got %s", res.Renditions[0].Name)
	}
	assertEmptyDir(t, work)
}

func TestComputeCleansUpOnCallbackError(t *testing.T) {
	f := newFakeStorage(t)
	f.put("/a.png", []byte("a"))
	p, work := newTestProcessor(t, f, 1)

	params := &Params{Source: SourceDescriptor{URL: f.url("/a.png?sig=secret")}, Renditions: threeRenditions(f)}

	calls := 0
	_, err := p.Compute(context.Background(), params, func(ctx context.Context, src *Source, r *Rendition) error {
		calls++
		if r.Index == 1 {
			return fmt.Errorf("unsupported colorspace")
		}
		return copySource(src, r.Path)
	})

	if !errors.IsCode(err, errors.CodeCallbackFailed) {
		t.Fatalf("expected CALLBACK_FAILED, got %v", err)
	}
	if errors.GetMessage(err) != "unsupported colorspace" {
		t.Errorf("expected callback message, got %q", errors.GetMessage(err))
	}
	if calls != 2 {
		t.Errorf("expected the remaining rendition to be skipped, got %d calls", calls)
	}

	attached, ok := errors.GetFields(err)[errors.FieldParams].(*Params)
	if !ok {
		t.Fatalf("expected params to be attached, got %v", errors.GetFields(err))
	}
	if attached.Source.URL != f.url("/a.png") {
		t.Errorf("expected attached params to be redacted, got %s", attached.Source.URL)
	}
	assertEmptyDir(t, work)
}

func TestComputeCleansUpOnUploadError(t *testing.T) {
	f := newFakeStorage(t)
	f.put("/a.png", []byte("a"))
	f.fail("/out/r0.png", 500)
	p, work := newTestProcessor(t, f, 1)

	params := &Params{Source: SourceDescriptor{URL: f.url("/a.png")}, Renditions: threeRenditions(f)}
	_, err := p.Compute(context.Background(), params, func(ctx context.Context, src *Source, r *Rendition) error {
		return copySource(src, r.Path)
	})

	if !errors.IsCode(err, errors.CodeUploadFailed) {
		t.Fatalf("expected UPLOAD_FAILED, got %v", err)
	}
	if _, puts := f.counts(); puts != 2 {
		t.Errorf("expected the 500 to be retried once, got %d PUTs", puts)
	}
	assertEmptyDir(t, work)
}

func TestComputeCleansUpOnFetchError(t *testing.T) {
	f := newFakeStorage(t)
	p, work := newTestProcessor(t, f, 1)

	rawURL := f.url("/photo/elephant.png")
	params := &Params{Source: SourceDescriptor{URL: rawURL}, Renditions: threeRenditions(f)}

	called := false
	_, err := p.Compute(context.Background(), params, func(ctx context.Context, src *Source, r *Rendition) error {
		called = true
		return nil
	})

	if want := "GET '" + rawURL + "' failed with status 404"; errors.GetMessage(err) != want {
		t.Errorf("expected message %q, got %q", want, errors.GetMessage(err))
	}
	if called {
		t.Error("expected callback not to run")
	}
	assertEmptyDir(t, work)
}

func TestComputeRecoversCallbackPanic(t *testing.T) {
	f := newFakeStorage(t)
	f.put("/a.png", []byte("a"))
	p, work := newTestProcessor(t, f, 1)

	params := &Params{Source: SourceDescriptor{URL: f.url("/a.png")}, Renditions: threeRenditions(f)[:1]}
	_, err := p.Compute(context.Background(), params, func(ctx context.Context, src *Source, r *Rendition) error {
		panic("decoder crashed")
	})

	if !errors.IsCode(err, errors.CodeCallbackFailed) {
		t.Fatalf("expected CALLBACK_FAILED, got %v", err)
	}
	assertEmptyDir(t, work)
}

func TestComputeDisableSourceDownload(t *testing.T) {
	f := newFakeStorage(t)
	f.put("/a.png", []byte("a"))
	p, work := newTestProcessor(t, f, 1)

	params := &Params{
		Source:     SourceDescriptor{URL: f.url("/a.png")},
		Renditions: threeRenditions(f)[:1],
		Flags:      Flags{DisableSourceDownload: true},
	}
	_, err := p.Compute(context.Background(), params, func(ctx context.Context, src *Source, r *Rendition) error {
		if _, err := os.Stat(src.Path); !os.IsNotExist(err) {
			t.Errorf("expected source file %s not to exist", src.Path)
		}
		if src.Materialized {
			t.Error("expected unmaterialized source")
		}
		return os.WriteFile(r.Path, []byte("generated"), 0o644)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gets, _ := f.counts(); gets != 0 {
		t.Errorf("expected no GET, got %d", gets)
	}
	assertEmptyDir(t, work)
}

func TestComputeRejectsHTTPSourceWithoutRequests(t *testing.T) {
	f := newFakeStorage(t)
	p, _ := newTestProcessor(t, f, 1)

	params := &Params{Source: SourceDescriptor{URL: "http://example.com/photo/elephant.png"}, Renditions: threeRenditions(f)}
	_, err := p.Compute(context.Background(), params, func(ctx context.Context, src *Source, r *Rendition) error {
		return nil
	})

	if !errors.IsCode(err, errors.CodeInvalidURL) {
		t.Fatalf("expected INVALID_URL, got %v", err)
	}
	if gets, puts := f.counts(); gets+puts != 0 {
		t.Errorf("expected no requests, got %d GET and %d PUT", gets, puts)
	}
}

func TestComputeRetriesDisabledByFlag(t *testing.T) {
	f := newFakeStorage(t)
	f.fail("/a.png", 503)
	p, _ := newTestProcessor(t, f, 1)

	params := &Params{
		Source:     SourceDescriptor{URL: f.url("/a.png")},
		Renditions: threeRenditions(f)[:1],
		Flags:      Flags{DisableRetries: true},
	}
	_, err := p.Compute(context.Background(), params, func(ctx context.Context, src *Source, r *Rendition) error { return nil })

	if !errors.IsCode(err, errors.CodeDownloadFailed) {
		t.Fatalf("expected DOWNLOAD_FAILED, got %v", err)
	}
	if gets, _ := f.counts(); gets != 1 {
		t.Errorf("expected exactly one GET, got %d", gets)
	}
}

func TestComputeConcurrent(t *testing.T) {
	f := newFakeStorage(t)
	f.put("/a.png", []byte("a"))
	p, work := newTestProcessor(t, f, 3)

	var (
		mu       sync.Mutex
		paths    = map[string]bool{}
		inFlight atomic.Int32
		peak     atomic.Int32
		gate     = make(chan struct{})
		entered  atomic.Int32
	)
	params := &Params{Source: SourceDescriptor{URL: f.url("/a.png")}, Renditions: threeRenditions(f)}

	res, err := p.Compute(context.Background(), params, func(ctx context.Context, src *Source, r *Rendition) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		if entered.Add(1) == 3 {
			close(gate)
		}
		<-gate

		mu.Lock()
		paths[r.Path] = true
		mu.Unlock()
		return copySource(src, r.Path)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if peak.Load() != 3 {
		t.Errorf("expected 3 renditions in flight, got %d", peak.Load())
	}
	if len(paths) != 3 {
		t.Errorf("expected distinct rendition paths, got %v", paths)
	}
	for i, want := range []string{"rendition0.png", "rendition1.jpg", "rendition2.gif"} {
		if res.Renditions[i].Name != want {
			t.Errorf("expected %s at %d, got %s", want, i, res.Renditions[i].Name)
		}
	}
	if gets, _ := f.counts(); gets != 1 {
		t.Errorf("expected the source to be fetched once, got %d", gets)
	}
	assertEmptyDir(t, work)
}

func TestComputeConcurrentFailFast(t *testing.T) {
	f := newFakeStorage(t)
	f.put("/a.png", []byte("a"))
	p, work := newTestProcessor(t, f, 2)

	params := &Params{Source: SourceDescriptor{URL: f.url("/a.png")}, Renditions: threeRenditions(f)}
	_, err := p.Compute(context.Background(), params, func(ctx context.Context, src *Source, r *Rendition) error {
		if r.Index == 0 {
			return fmt.Errorf("bad input")
		}
		<-ctx.Done()
		return ctx.Err()
	})

	if !errors.IsCode(err, errors.CodeCallbackFailed) {
		t.Fatalf("expected CALLBACK_FAILED, got %v", err)
	}
	assertEmptyDir(t, work)
}

func TestComputeAllAtOnceSharesDirectory(t *testing.T) {
	f := newFakeStorage(t)
	f.put("/a.png", []byte("a"))
	p, work := newTestProcessor(t, f, 1)

	params := &Params{Source: SourceDescriptor{URL: f.url("/a.png")}, Renditions: threeRenditions(f)}

	calls := 0
	res, err := p.ComputeAllAtOnce(context.Background(), params, func(ctx context.Context, src *Source, renditions []*Rendition, outDir string) error {
		calls++
		if len(renditions) != 3 {
			t.Fatalf("expected 3 renditions, got %d", len(renditions))
		}
		for i, r := range renditions {
			if r.Index != i {
				t.Errorf("expected ordered renditions, got index %d at %d", r.Index, i)
			}
			if r.Directory != outDir || filepath.Dir(r.Path) != outDir {
				t.Errorf("expected rendition %d in %s, got %s", i, outDir, r.Path)
			}
			if err := copySource(src, r.Path); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls != 1 {
		t.Errorf("expected batch callback once, got %d", calls)
	}
	if res.Mode != ModeDirectBatch || len(res.Renditions) != 3 {
		t.Errorf("unexpected result %+v", res)
	}
	if _, puts := f.counts(); puts != 3 {
		t.Errorf("expected 3 PUTs, got %d", puts)
	}
	assertEmptyDir(t, work)
}

func TestComputeAllAtOnceCleansUpOnMissingTarget(t *testing.T) {
	f := newFakeStorage(t)
	f.put("/a.png", []byte("a"))
	p, work := newTestProcessor(t, f, 1)

	renditions := threeRenditions(f)
	renditions[2].Target = Target{}
	params := &Params{Source: SourceDescriptor{URL: f.url("/a.png")}, Renditions: renditions}

	_, err := p.ComputeAllAtOnce(context.Background(), params, func(ctx context.Context, src *Source, renditions []*Rendition, outDir string) error {
		for _, r := range renditions {
			if err := copySource(src, r.Path); err != nil {
				return err
			}
		}
		return nil
	})

	if errors.GetMessage(err) != "Invalid or Missing Url " {
		t.Errorf("unexpected message %q", errors.GetMessage(err))
	}
	assertEmptyDir(t, work)
}

func TestComputeUnitTestMode(t *testing.T) {
	f := newFakeStorage(t)
	p, work := newTestProcessor(t, f, 1)
	if err := os.WriteFile(filepath.Join(p.inputRoot, "file.jpg"), []byte("local"), 0o644); err != nil {
		t.Fatal(err)
	}

	params := &Params{
		Source:     SourceDescriptor{URL: "file.jpg"},
		Renditions: threeRenditions(f)[:1],
		Flags:      Flags{UnitTestMode: true},
	}
	_, err := p.Compute(context.Background(), params, func(ctx context.Context, src *Source, r *Rendition) error {
		return copySource(src, r.Path)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, _ := f.object("/out/r0.png"); string(got) != "local" {
		t.Errorf("expected local source bytes uploaded, got %q", got)
	}
	if _, err := os.Stat(filepath.Join(p.inputRoot, "file.jpg")); err != nil {
		t.Error("expected the input file to be left alone")
	}
	assertEmptyDir(t, work)
}

func TestComputeUnitTestModeDisableSourceDownload(t *testing.T) {
	f := newFakeStorage(t)
	p, work := newTestProcessor(t, f, 1)
	if err := os.WriteFile(filepath.Join(p.inputRoot, "file.jpg"), []byte("local"), 0o644); err != nil {
		t.Fatal(err)
	}

	params := &Params{
		Source:     SourceDescriptor{URL: "file.jpg"},
		Renditions: threeRenditions(f)[:1],
		Flags:      Flags{UnitTestMode: true, DisableSourceDownload: true},
	}
	_, err := p.Compute(context.Background(), params, func(ctx context.Context, src *Source, r *Rendition) error {
		if src.Materialized {
			t.Error("expected the source to stay unmaterialized")
		}
		if want := filepath.Join(src.Directory, "file.jpg"); src.Path != want {
			t.Errorf("expected path %q, got %q", want, src.Path)
		}
		if _, err := os.Stat(src.Path); !os.IsNotExist(err) {
			t.Errorf("expected no file at %s, got %v", src.Path, err)
		}
		return os.WriteFile(r.Path, []byte("generated"), 0o644)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, _ := f.object("/out/r0.png"); string(got) != "generated" {
		t.Errorf("expected generated rendition uploaded, got %q", got)
	}
	assertEmptyDir(t, work)
}

func TestComputeFailureLogsOmitSignature(t *testing.T) {
	f := newFakeStorage(t)
	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: "debug", Output: &buf})
	p := New(Deps{
		Transfer:  transfer.New(transfer.Deps{HTTP: f.srv.Client(), Log: log}),
		Retry:     retry.Options{MaxAttempts: 2, InitialBackoff: 1, MaxBackoff: 1},
		InputRoot: t.TempDir(),
		WorkRoot:  t.TempDir(),
		Log:       log,
	})

	rawURL := f.url("/in/elephant.png?X-Amz-Signature=SECRET")
	params := &Params{
		Source:     SourceDescriptor{URL: rawURL},
		Renditions: []RenditionDescriptor{{Fmt: "png", Target: Target{URL: f.url("/out/r0.png?X-Amz-Signature=SECRET")}}},
	}
	_, err := p.Compute(context.Background(), params, func(ctx context.Context, src *Source, r *Rendition) error {
		return nil
	})

	if want := "GET '" + rawURL + "' failed with status 404"; errors.GetMessage(err) != want {
		t.Errorf("expected the exact locator in the returned message, got %q", errors.GetMessage(err))
	}
	out := buf.String()
	if !strings.Contains(out, "invocation failed") || !strings.Contains(out, "/in/elephant.png") {
		t.Fatalf("expected the failure to be logged, got: %s", out)
	}
	if strings.Contains(out, "SECRET") {
		t.Errorf("expected signature to be absent from logs, got: %s", out)
	}
}
