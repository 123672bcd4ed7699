// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	ledgershared "github.com/ledgerline/ledgerline/internal/ledger/shared"
	"github.com/ledgerline/ledgerline/internal/shared"
)

// ErrValidation marks request decoding/validation failures.
var ErrValidation = errors.New("validation failed")

// RespondError maps engine errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrBusy):
		Problem(w, http.StatusServiceUnavailable, "Busy", err.Error())
	case errors.Is(err, shared.ErrNotFound),
		errors.Is(err, ledgershared.ErrEntryNotFound),
		errors.Is(err, ledgershared.ErrPeriodNotFound),
		errors.Is(err, ledgershared.ErrTemplateNotFound),
		errors.Is(err, ledgershared.ErrInvoiceNotFound),
		errors.Is(err, ledgershared.ErrUnknownAccount):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ledgershared.ErrDuplicateWindow),
		errors.Is(err, ledgershared.ErrPeriodOverlap),
		errors.Is(err, ledgershared.ErrSourceConflict),
		errors.Is(err, ledgershared.ErrAccountInUse),
		errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ledgershared.ErrPeriodClosed),
		errors.Is(err, ledgershared.ErrPeriodLocked),
		errors.Is(err, ledgershared.ErrNoOpenPeriod),
		errors.Is(err, ledgershared.ErrInvalidTransition):
		Problem(w, http.StatusUnprocessableEntity, "Period Not Writable", err.Error())
	case errors.Is(err, ledgershared.ErrUnbalanced),
		errors.Is(err, ledgershared.ErrTooFewLines),
		errors.Is(err, ledgershared.ErrInvalidAmount),
		errors.Is(err, ledgershared.ErrCurrencyMismatch),
		errors.Is(err, ledgershared.ErrDateOutOfRange),
		errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
