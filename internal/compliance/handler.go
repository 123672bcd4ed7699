package compliance

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ledgerline/ledgerline/internal/platform/httpx"
	"github.com/ledgerline/ledgerline/internal/shared"
)

// Handler wires HTTP endpoints for compliance.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers compliance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/summary", h.summary)
	r.Get("/findings", h.listFindings)
	r.Post("/findings", h.raiseFinding)
	r.Post("/findings/{id}/resolve", h.resolveFinding)
	r.Get("/certifications", h.listCertifications)
	r.Post("/certifications", h.addCertification)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	summary, err := h.service.GetSummary(r.Context(), actor)
	if err != nil {
		h.logger.Warn("compliance summary", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) listFindings(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	out, err := h.service.ListFindings(r.Context(), actor, FindingStatus(r.URL.Query().Get("status")))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

type raiseFindingRequest struct {
	Title    string `json:"title" validate:"required"`
	Severity string `json:"severity" validate:"required,oneof=LOW MEDIUM HIGH CRITICAL"`
}

func (h *Handler) raiseFinding(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	var req raiseFindingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err))
		return
	}
	finding, err := h.service.RaiseFinding(r.Context(), actor, req.Title, req.Severity)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, finding)
}

func (h *Handler) resolveFinding(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", httpx.ErrValidation))
		return
	}
	if err := h.service.ResolveFinding(r.Context(), actor, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listCertifications(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	out, err := h.service.ListCertifications(r.Context(), actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

type addCertificationRequest struct {
	Name       string `json:"name" validate:"required"`
	Issuer     string `json:"issuer"`
	ValidFrom  string `json:"valid_from" validate:"required"`
	ValidUntil string `json:"valid_until" validate:"required"`
}

func (h *Handler) addCertification(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	var req addCertificationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err))
		return
	}
	from, err := time.Parse("2006-01-02", req.ValidFrom)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid valid_from", httpx.ErrValidation))
		return
	}
	until, err := time.Parse("2006-01-02", req.ValidUntil)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid valid_until", httpx.ErrValidation))
		return
	}
	cert, err := h.service.AddCertification(r.Context(), actor, Certification{
		Name:       req.Name,
		Issuer:     req.Issuer,
		ValidFrom:  from,
		ValidUntil: until,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, cert)
}
