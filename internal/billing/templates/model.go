package templates

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cadence enumerates billing frequencies.
type Cadence string

const (
	CadenceMonthly   Cadence = "MONTHLY"
	CadenceQuarterly Cadence = "QUARTERLY"
	CadenceAnnually  Cadence = "ANNUALLY"
)

// Valid reports whether c is a known cadence.
func (c Cadence) Valid() bool {
	switch c {
	case CadenceMonthly, CadenceQuarterly, CadenceAnnually:
		return true
	}
	return false
}

// Advance returns the start of the next billing window after t.
func (c Cadence) Advance(t time.Time) time.Time {
	switch c {
	case CadenceQuarterly:
		return t.AddDate(0, 3, 0)
	case CadenceAnnually:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// Recognition enumerates revenue recognition methods.
type Recognition string

const (
	RecognitionImmediate Recognition = "IMMEDIATE"
	RecognitionDeferred  Recognition = "DEFERRED"
)

// RecurringTemplate expands into subscription invoices on its cadence.
type RecurringTemplate struct {
	ID                 int64
	TenantID           int64
	Name               string
	Cadence            Cadence
	Amount             decimal.Decimal
	TaxRate            decimal.Decimal
	Currency           string
	ReceivableAccountID int64
	RevenueAccountID   int64
	DeferredAccountID  *int64
	StartDate          time.Time
	EndDate            *time.Time
	NextBillingDate    time.Time
	Recognition        Recognition
	RecognitionPeriods int
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Subtotal returns the pre-tax amount for one billing window.
func (t RecurringTemplate) Subtotal() decimal.Decimal {
	return t.Amount.Round(2)
}

// Tax returns the tax amount for one billing window.
func (t RecurringTemplate) Tax() decimal.Decimal {
	return t.Amount.Mul(t.TaxRate).Round(2)
}

// Total returns subtotal plus tax.
func (t RecurringTemplate) Total() decimal.Decimal {
	return t.Subtotal().Add(t.Tax())
}
