package templates

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/platform/httpx"
	"github.com/ledgerline/ledgerline/internal/shared"
)

// Handler wires HTTP endpoints for recurring templates.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers template routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.update)
	r.Delete("/{id}", h.deactivate)
}

type createTemplateRequest struct {
	Name                string `json:"name" validate:"required"`
	Cadence             string `json:"cadence" validate:"required,oneof=MONTHLY QUARTERLY ANNUALLY"`
	Amount              string `json:"amount" validate:"required"`
	TaxRate             string `json:"tax_rate"`
	Currency            string `json:"currency" validate:"required,len=3"`
	ReceivableAccountID int64  `json:"receivable_account_id" validate:"required,gt=0"`
	RevenueAccountID    int64  `json:"revenue_account_id" validate:"required,gt=0"`
	DeferredAccountID   *int64 `json:"deferred_account_id"`
	StartDate           string `json:"start_date" validate:"required"`
	EndDate             string `json:"end_date"`
	Recognition         string `json:"recognition" validate:"required,oneof=IMMEDIATE DEFERRED"`
	RecognitionPeriods  int    `json:"recognition_periods"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	var req createTemplateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err))
		return
	}
	input, err := req.toInput()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tpl, err := h.service.Create(r.Context(), actor, input)
	if err != nil {
		h.logger.Warn("create template", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tpl)
}

func (req createTemplateRequest) toInput() (CreateInput, error) {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return CreateInput{}, fmt.Errorf("%w: invalid amount", httpx.ErrValidation)
	}
	taxRate := decimal.Zero
	if req.TaxRate != "" {
		taxRate, err = decimal.NewFromString(req.TaxRate)
		if err != nil {
			return CreateInput{}, fmt.Errorf("%w: invalid tax rate", httpx.ErrValidation)
		}
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return CreateInput{}, fmt.Errorf("%w: invalid start date", httpx.ErrValidation)
	}
	var end *time.Time
	if req.EndDate != "" {
		parsed, err := time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			return CreateInput{}, fmt.Errorf("%w: invalid end date", httpx.ErrValidation)
		}
		end = &parsed
	}
	return CreateInput{
		Name:                req.Name,
		Cadence:             Cadence(req.Cadence),
		Amount:              amount,
		TaxRate:             taxRate,
		Currency:            req.Currency,
		ReceivableAccountID: req.ReceivableAccountID,
		RevenueAccountID:    req.RevenueAccountID,
		DeferredAccountID:   req.DeferredAccountID,
		StartDate:           start,
		EndDate:             end,
		Recognition:         Recognition(req.Recognition),
		RecognitionPeriods:  req.RecognitionPeriods,
	}, nil
}

type updateTemplateRequest struct {
	Name    string `json:"name"`
	Amount  string `json:"amount" validate:"required"`
	TaxRate string `json:"tax_rate"`
	EndDate string `json:"end_date"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	id, err := templateID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateTemplateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid amount", httpx.ErrValidation))
		return
	}
	taxRate := decimal.Zero
	if req.TaxRate != "" {
		taxRate, err = decimal.NewFromString(req.TaxRate)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: invalid tax rate", httpx.ErrValidation))
			return
		}
	}
	var end *time.Time
	if req.EndDate != "" {
		parsed, err := time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: invalid end date", httpx.ErrValidation))
			return
		}
		end = &parsed
	}
	tpl, err := h.service.Update(r.Context(), actor, UpdateInput{
		ID:      id,
		Name:    req.Name,
		Amount:  amount,
		TaxRate: taxRate,
		EndDate: end,
	})
	if err != nil {
		h.logger.Warn("update template", slog.Int64("template_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tpl)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	id, err := templateID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tpl, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tpl)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"
	out, err := h.service.List(r.Context(), actor, activeOnly)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	id, err := templateID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Deactivate(r.Context(), actor, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func templateID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id", httpx.ErrValidation)
	}
	return id, nil
}
