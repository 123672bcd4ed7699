package journals

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/observability"
	"github.com/ledgerline/ledgerline/internal/platform/httpx"
	"github.com/ledgerline/ledgerline/internal/shared"
)

// Handler wires HTTP endpoints for the journal engine.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	idem     *shared.IdempotencyStore
	metrics  *observability.Metrics
	validate *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// WithIdempotency enables Idempotency-Key support on the posting endpoint.
func (h *Handler) WithIdempotency(store *shared.IdempotencyStore) *Handler {
	h.idem = store
	return h
}

// WithMetrics enables the posting counter on the posting endpoints.
func (h *Handler) WithMetrics(metrics *observability.Metrics) *Handler {
	h.metrics = metrics
	return h
}

// MountRoutes registers journal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.post)
	r.Get("/{id}", h.get)
	r.Post("/{id}/reverse", h.reverse)
}

type postLineRequest struct {
	AccountID int64  `json:"account_id" validate:"required,gt=0"`
	Debit     string `json:"debit"`
	Credit    string `json:"credit"`
	Currency  string `json:"currency" validate:"required,len=3"`
}

type postEntryRequest struct {
	PeriodID     int64             `json:"period_id" validate:"required,gt=0"`
	Date         string            `json:"date" validate:"required"`
	SourceModule string            `json:"source_module" validate:"required"`
	SourceID     string            `json:"source_id" validate:"required,uuid"`
	Memo         string            `json:"memo"`
	Lines        []postLineRequest `json:"lines" validate:"required,min=2,dive"`
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	var req postEntryRequest
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
	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(r.Context(), idemKey, "journals"); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	entry, err := h.service.PostEntry(r.Context(), actor, input)
	if err != nil {
		if idemKey != "" && h.idem != nil {
			// Free the key so the client can retry the failed request.
			_ = h.idem.Delete(r.Context(), idemKey)
		}
		h.logger.Warn("post entry", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.JournalPosted(entry.SourceModule)
	httpx.JSON(w, http.StatusCreated, entry)
}

func (req postEntryRequest) toInput() (PostingInput, error) {
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return PostingInput{}, fmt.Errorf("%w: invalid date %q", httpx.ErrValidation, req.Date)
	}
	sourceID, err := uuid.Parse(req.SourceID)
	if err != nil {
		return PostingInput{}, fmt.Errorf("%w: invalid source id", httpx.ErrValidation)
	}
	lines := make([]PostingLineInput, 0, len(req.Lines))
	for idx, line := range req.Lines {
		debit, err := parseAmount(line.Debit)
		if err != nil {
			return PostingInput{}, fmt.Errorf("%w: line %d debit", httpx.ErrValidation, idx)
		}
		credit, err := parseAmount(line.Credit)
		if err != nil {
			return PostingInput{}, fmt.Errorf("%w: line %d credit", httpx.ErrValidation, idx)
		}
		lines = append(lines, PostingLineInput{
			AccountID: line.AccountID,
			Debit:     debit,
			Credit:    credit,
			Currency:  line.Currency,
		})
	}
	return PostingInput{
		PeriodID:     req.PeriodID,
		Date:         date,
		SourceModule: req.SourceModule,
		SourceID:     sourceID,
		Memo:         req.Memo,
		Lines:        lines,
	}, nil
}

func parseAmount(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(value)
}

type reverseEntryRequest struct {
	Memo string `json:"memo"`
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	id, err := entryID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reverseEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err))
		return
	}
	entry, err := h.service.ReverseEntry(r.Context(), actor, ReverseInput{EntryID: id, Memo: req.Memo})
	if err != nil {
		h.logger.Warn("reverse entry", slog.Int64("entry_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.JournalPosted(entry.SourceModule)
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	id, err := entryID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	q := r.URL.Query()
	periodID, _ := strconv.ParseInt(q.Get("period_id"), 10, 64)
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	entries, err := h.service.List(r.Context(), actor, ListInput{PeriodID: periodID, Page: page, PageSize: pageSize})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func entryID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id", httpx.ErrValidation)
	}
	return id, nil
}
