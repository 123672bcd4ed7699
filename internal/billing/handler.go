// Package billing exposes the HTTP surface for on-demand billing passes.
package billing

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerline/ledgerline/internal/billing/recognition"
	"github.com/ledgerline/ledgerline/internal/billing/scheduler"
	"github.com/ledgerline/ledgerline/internal/observability"
	"github.com/ledgerline/ledgerline/internal/platform/httpx"
	"github.com/ledgerline/ledgerline/internal/shared"
)

// Handler triggers billing passes synchronously for the caller's tenant.
// Cross-tenant passes run through the background worker instead.
type Handler struct {
	logger      *slog.Logger
	scheduler   *scheduler.Service
	recognition *recognition.Service
	metrics     *observability.Metrics
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, sched *scheduler.Service, recog *recognition.Service, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, scheduler: sched, recognition: recog, metrics: metrics}
}

// MountRoutes registers billing pass routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/run", h.run)
	r.Post("/recognize", h.recognize)
}

type passRequest struct {
	AsOf string `json:"as_of"`
}

func (req passRequest) cutoff() (time.Time, error) {
	if req.AsOf == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", req.AsOf)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid as_of date", httpx.ErrValidation)
	}
	return t, nil
}

func decodePassRequest(r *http.Request) (passRequest, error) {
	var req passRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		return passRequest{}, fmt.Errorf("%w: %s", httpx.ErrValidation, err)
	}
	return req, nil
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	req, err := decodePassRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	asOf, err := req.cutoff()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.scheduler.RunSchedulingPass(r.Context(), actor, asOf)
	if err != nil {
		h.logger.Warn("scheduling pass", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.InvoicesGenerated(result.InvoicesCreated)
	h.metrics.PassFailures("schedule", len(result.Failures))
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) recognize(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	req, err := decodePassRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	asOf, err := req.cutoff()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.recognition.RunRecognitionPass(r.Context(), actor, asOf)
	if err != nil {
		h.logger.Warn("recognition pass", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.EntriesRecognized(result.Recognized)
	h.metrics.PassFailures("recognize", len(result.Failures))
	httpx.JSON(w, http.StatusOK, result)
}
