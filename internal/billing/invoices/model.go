package invoices

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/billing/templates"
)

// Status enumerates invoice lifecycle values.
type Status string

const (
	StatusDraft  Status = "DRAFT"
	StatusIssued Status = "ISSUED"
	StatusPaid   Status = "PAID"
	StatusVoid   Status = "VOID"
)

// SubscriptionInvoice is one billing window expanded from a template.
// Recognition settings are copied from the template at creation time so a
// later template edit cannot rewrite in-flight revenue schedules.
type SubscriptionInvoice struct {
	ID                  int64
	TenantID            int64
	TemplateID          int64
	PublicID            uuid.UUID
	WindowStart         time.Time
	WindowEnd           time.Time
	Currency            string
	Subtotal            decimal.Decimal
	Tax                 decimal.Decimal
	Total               decimal.Decimal
	Status              Status
	Recognition         templates.Recognition
	RecognitionPeriods  int
	RecognizedAmount    decimal.Decimal
	ReceivableAccountID int64
	RevenueAccountID    int64
	DeferredAccountID   *int64
	IssuedAt            time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// FullyRecognized reports whether all revenue has been recognized.
func (i SubscriptionInvoice) FullyRecognized() bool {
	return i.RecognizedAmount.Equal(i.Total)
}

// ScheduleEntry spreads an invoice's total across consecutive windows.
type ScheduleEntry struct {
	ID             int64
	TenantID       int64
	InvoiceID      int64
	Sequence       int
	TargetDate     time.Time
	Amount         decimal.Decimal
	Recognized     bool
	RecognizedAt   *time.Time
	JournalEntryID *int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
