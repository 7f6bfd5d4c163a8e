package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/purplecabbage/asset-compute-sdk/internal/httpkit"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/errors"
	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/logger"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/processor"
)

// Run executes the posted params with the registered action.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) error {
	raw, err := httpkit.ReadRaw(r)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeBadRequest, "httpapi.run", "unreadable body")
	}

	res, err := h.action.RunJSON(r.Context(), raw)
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, res)
	return nil
}

// Enqueue queues the posted params for the worker host.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) error {
	if h.queue == nil {
		return errors.New(errors.CodeUnavailable, "activation queue not configured")
	}

	raw, err := httpkit.ReadRaw(r)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeBadRequest, "httpapi.enqueue", "unreadable body")
	}
	if _, err := processor.ParseParams(raw); err != nil {
		return err
	}

	id, err := h.queue.Push(r.Context(), logger.ActivationIDFromContext(r.Context()), json.RawMessage(raw))
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "httpapi.enqueue", "queue push failed")
	}

	h.log.FromContext(r.Context()).Info("activation queued")
	httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{
		"activation_id": id,
		"status":        "queued",
	})
	return nil
}

// GetActivation returns one ledger row.
func (h *Handler) GetActivation(w http.ResponseWriter, r *http.Request) error {
	if h.activations == nil {
		return errors.New(errors.CodeUnavailable, "activation ledger not configured")
	}

	a, err := h.activations.Get(r.Context(), chi.URLParam(r, "activationId"))
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, a)
	return nil
}
