package shared

import "errors"

// Period statuses reused outside the ledger module.
const (
	PeriodStatusOpen   = "OPEN"
	PeriodStatusClosed = "CLOSED"
	PeriodStatusLocked = "LOCKED"
)

// ErrInvalidPeriodTransition indicates status change not allowed.
var ErrInvalidPeriodTransition = errors.New("period transition invalid")

// ValidatePeriodTransition checks transitions according to policy.
// OPEN periods may close, CLOSED periods may lock or reopen for the
// correction grace window, LOCKED is terminal.
func ValidatePeriodTransition(current, target string) error {
	if current == target {
		return nil
	}
	switch current {
	case PeriodStatusOpen:
		if target == PeriodStatusClosed {
			return nil
		}
	case PeriodStatusClosed:
		if target == PeriodStatusLocked || target == PeriodStatusOpen {
			return nil
		}
	case PeriodStatusLocked:
	}
	return ErrInvalidPeriodTransition
}
