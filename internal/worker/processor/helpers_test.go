package processor

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/logger"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/retry"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/transfer"
)

// fakeStorage is an HTTPS endpoint serving sources on GET and recording
// rendition PUTs.
type fakeStorage struct {
	srv *httptest.Server

	mu       sync.Mutex
	objects  map[string][]byte
	status   map[string]int
	gets     int
	puts     int
	putOrder []string
}

func newFakeStorage(t *testing.T) *fakeStorage {
	t.Helper()
	f := &fakeStorage{objects: map[string][]byte{}, status: map[string]int{}}
	f.srv = httptest.NewTLSServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeStorage) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if code, ok := f.status[r.URL.Path]; ok {
		if r.Method == http.MethodGet {
			f.gets++
		} else {
			f.puts++
		}
		w.WriteHeader(code)
		return
	}

	switch r.Method {
	case http.MethodGet:
		f.gets++
		body, ok := f.objects[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(body)
	case http.MethodPut:
		f.puts++
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		f.putOrder = append(f.putOrder, r.URL.Path)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeStorage) url(path string) string {
	return f.srv.URL + path
}

func (f *fakeStorage) put(path string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = body
}

func (f *fakeStorage) object(path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[path]
	return b, ok
}

func (f *fakeStorage) fail(path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[path] = status
}

func (f *fakeStorage) counts() (gets, puts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets, f.puts
}

func (f *fakeStorage) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.putOrder...)
}

func (f *fakeStorage) client() *transfer.Client {
	return transfer.New(transfer.Deps{HTTP: f.srv.Client(), Log: logger.Discard()})
}

func newTestProcessor(t *testing.T, f *fakeStorage, concurrency int) (*Processor, string) {
	t.Helper()
	work := t.TempDir()
	return New(Deps{
		Transfer:    f.client(),
		Retry:       retry.Options{MaxAttempts: 2, InitialBackoff: 1, MaxBackoff: 1},
		InputRoot:   t.TempDir(),
		WorkRoot:    work,
		Concurrency: concurrency,
		Log:         logger.Discard(),
	}), work
}

// copySource is an identity transform.
func copySource(src *Source, dst string) error {
	b, err := os.ReadFile(src.Path)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, b, 0o644)
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read %s: %v", dir, err)
	}
	if len(entries) != 0 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = filepath.Join(dir, e.Name())
		}
		t.Errorf("expected work root to be empty after the invocation, found %v", names)
	}
}
