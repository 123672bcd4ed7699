package shared

import "errors"

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("ledger: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("ledger: journal requires at least two lines")
	// ErrPeriodClosed indicates a write against a closed period.
	ErrPeriodClosed = errors.New("ledger: period closed")
	// ErrPeriodLocked indicates a write or edit against a locked period.
	ErrPeriodLocked = errors.New("ledger: period locked")
	// ErrPeriodNotFound indicates a missing period.
	ErrPeriodNotFound = errors.New("ledger: period not found")
	// ErrPeriodOverlap indicates a new period window overlaps an existing one.
	ErrPeriodOverlap = errors.New("ledger: period overlaps existing window")
	// ErrNoOpenPeriod indicates no open period covers the requested date.
	ErrNoOpenPeriod = errors.New("ledger: no open period for date")
	// ErrUnknownAccount indicates an account that does not resolve for the tenant.
	ErrUnknownAccount = errors.New("ledger: unknown account")
	// ErrAccountInUse indicates an account referenced by posted entries.
	ErrAccountInUse = errors.New("ledger: account referenced by posted entries")
	// ErrEntryNotFound indicates a missing journal entry.
	ErrEntryNotFound = errors.New("ledger: journal entry not found")
	// ErrDateOutOfRange indicates a journal date outside its period window.
	ErrDateOutOfRange = errors.New("ledger: date outside period")
	// ErrInvalidAmount indicates an amount invariant violation.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
	// ErrInvalidTransition indicates a state change not allowed.
	ErrInvalidTransition = errors.New("ledger: invalid status transition")
	// ErrCurrencyMismatch indicates a line currency differing from its account.
	ErrCurrencyMismatch = errors.New("ledger: currency mismatch")
	// ErrDuplicateWindow indicates a template already billed for the window.
	ErrDuplicateWindow = errors.New("billing: window already invoiced")
	// ErrTemplateNotFound indicates a missing recurring template.
	ErrTemplateNotFound = errors.New("billing: template not found")
	// ErrInvoiceNotFound indicates a missing subscription invoice.
	ErrInvoiceNotFound = errors.New("billing: invoice not found")
	// ErrSourceConflict indicates the source link already exists.
	ErrSourceConflict = errors.New("ledger: source link conflict")
)
