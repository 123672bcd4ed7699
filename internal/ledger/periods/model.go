package periods

import "time"

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
	PeriodStatusLocked PeriodStatus = "LOCKED"
)

// Period represents a billing period window. EndDate is exclusive.
type Period struct {
	ID        int64
	TenantID  int64
	Code      string
	StartDate time.Time
	EndDate   time.Time
	Status    PeriodStatus
	ClosedBy  *int64
	ClosedAt  *time.Time
	LockedBy  *int64
	LockedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contains reports whether the date falls inside the window.
func (p Period) Contains(date time.Time) bool {
	return !date.Before(p.StartDate) && date.Before(p.EndDate)
}
