package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/purplecabbage/asset-compute-sdk/internal/httpapi/handlers"
	"github.com/purplecabbage/asset-compute-sdk/internal/httpkit"
	"github.com/purplecabbage/asset-compute-sdk/internal/models"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/errors"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/logger"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/middleware"
	"github.com/purplecabbage/asset-compute-sdk/internal/telemetry"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/processor"
)

type stubRunner struct {
	err error
}

func (s stubRunner) RunJSON(ctx context.Context, raw []byte) (*processor.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &processor.Result{
		Mode:       processor.ModeDirectSingle,
		Renditions: []processor.RenditionResult{{Name: "rendition0.png", Size: 3, Parts: 1}},
	}, nil
}

type memQueue struct {
	pushed map[string]string
}

func (q *memQueue) Push(ctx context.Context, id string, params json.RawMessage) (string, error) {
	q.pushed[id] = string(params)
	return id, nil
}

type memLedger map[string]*models.Activation

func (l memLedger) Get(ctx context.Context, id string) (*models.Activation, error) {
	a, ok := l[id]
	if !ok {
		return nil, errors.NotFound("activation", id)
	}
	return a, nil
}

func newTestRouter(runner handlers.Runner, q handlers.Enqueuer, checks map[string]handlers.Check) http.Handler {
	return NewRouter(Deps{
		Handlers: handlers.Deps{
			Action:      runner,
			Queue:       q,
			Activations: memLedger{"act-1": {ID: "act-1", Status: models.ActivationDone}},
			Checks:      checks,
		},
		Metrics: telemetry.New(),
		Log:     logger.Discard(),
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httpkit.ErrorBody {
	t.Helper()
	var env httpkit.ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return env.Error
}

func TestRunSuccess(t *testing.T) {
	router := newTestRouter(stubRunner{}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{}`))
	req.Header.Set(middleware.ActivationIDHeader, "act-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(middleware.ActivationIDHeader) != "act-42" {
		t.Errorf("expected activation id to be echoed, got %q", rec.Header().Get(middleware.ActivationIDHeader))
	}
	var res processor.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Mode != processor.ModeDirectSingle || len(res.Renditions) != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRunErrorEnvelope(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
		msg    string
	}{
		{
			name:   "download failure",
			err:    errors.New(errors.CodeDownloadFailed, "GET 'https://example.com/a.png' failed with status 404"),
			status: http.StatusBadGateway,
			code:   "DOWNLOAD_FAILED",
			msg:    "GET 'https://example.com/a.png' failed with status 404",
		},
		{
			name:   "unsupported pipeline",
			err:    errors.New(errors.CodeUnsupportedPipeline, "This worker does not support running as part of pipelines"),
			status: http.StatusNotImplemented,
			code:   "UNSUPPORTED_PIPELINE_MODE",
			msg:    "This worker does not support running as part of pipelines",
		},
		{
			name:   "invalid url",
			err:    errors.New(errors.CodeInvalidURL, "Invalid Https Url: http://example.com/a.png"),
			status: http.StatusBadRequest,
			code:   "INVALID_URL",
			msg:    "Invalid Https Url: http://example.com/a.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(stubRunner{err: tt.err}, nil, nil)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{}`)))

			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
			if rec.Header().Get(middleware.ActivationIDHeader) == "" {
				t.Error("expected a generated activation id")
			}
			body := decodeError(t, rec)
			if body.Code != tt.code || body.Message != tt.msg {
				t.Errorf("unexpected envelope %+v", body)
			}
		})
	}
}

func TestEnqueue(t *testing.T) {
	q := &memQueue{pushed: map[string]string{}}
	router := newTestRouter(stubRunner{}, q, nil)

	raw := `{"source":"https://example.com/a.png","renditions":[{"fmt":"png"}]}`
	req := httptest.NewRequest(http.MethodPost, "/activations", strings.NewReader(raw))
	req.Header.Set(middleware.ActivationIDHeader, "act-7")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if q.pushed["act-7"] != raw {
		t.Errorf("expected params to be queued untouched, got %v", q.pushed)
	}
}

func TestEnqueueRejectsBadParams(t *testing.T) {
	q := &memQueue{pushed: map[string]string{}}
	router := newTestRouter(stubRunner{}, q, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/activations", strings.NewReader(`{"renditions":[]}`)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if len(q.pushed) != 0 {
		t.Errorf("expected nothing queued, got %v", q.pushed)
	}
}

func TestEnqueueWithoutQueue(t *testing.T) {
	router := newTestRouter(stubRunner{}, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/activations", strings.NewReader(`{}`)))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestGetActivation(t *testing.T) {
	router := newTestRouter(stubRunner{}, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/activations/act-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/activations/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != "NOT_FOUND" {
		t.Errorf("unexpected envelope %+v", body)
	}
}

func TestHealth(t *testing.T) {
	router := newTestRouter(stubRunner{}, nil, map[string]handlers.Check{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return fmt.Errorf("connection refused") },
	})

	tests := []struct {
		path   string
		status string
	}{
		{"/health", "ok"},
		{"/health?deep=true", "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			var body map[string]any
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body["status"] != tt.status {
				t.Errorf("expected status %s, got %v", tt.status, body["status"])
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(stubRunner{}, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected runtime metrics in the exposition")
	}
}
