package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/purplecabbage/asset-compute-sdk/internal/httpapi/handlers"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/logger"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/middleware"
	"github.com/purplecabbage/asset-compute-sdk/internal/telemetry"
)

type Deps struct {
	Handlers handlers.Deps
	// InvocationTimeout bounds /run; zero disables the deadline.
	InvocationTimeout time.Duration
	Metrics           *telemetry.Metrics
	Log               *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	if d.Handlers.Log == nil {
		d.Handlers.Log = log
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))

	h := handlers.New(d.Handlers)
	wrap := func(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(h.Log(), fn)
	}

	// ---- HEALTH ----
	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	// ---- ACTIVATIONS ----
	r.Group(func(r chi.Router) {
		r.Use(middleware.ActivationID)
		r.With(middleware.Timeout(d.InvocationTimeout)).Post("/run", wrap(h.Run))
		r.Post("/activations", wrap(h.Enqueue))
	})
	r.Get("/activations/{activationId}", wrap(h.GetActivation))

	return r
}
