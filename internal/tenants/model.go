package tenants

import "time"

// Status enumerates tenant lifecycle values. Tenants are never hard-deleted.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusClosed    Status = "CLOSED"
)

// Tenant owns every other entity in the engine.
type Tenant struct {
	ID              int64
	Name            string
	DefaultCurrency string
	FiscalYearStart int // month 1..12
	Timezone        string
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Active reports whether the tenant may run engine operations.
func (t Tenant) Active() bool {
	return t.Status == StatusActive
}
