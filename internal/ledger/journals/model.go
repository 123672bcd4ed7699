package journals

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JournalStatus enumerates journal lifecycle values. Posted entries are
// immutable; corrections are new offsetting entries.
type JournalStatus string

const (
	JournalStatusPosted JournalStatus = "POSTED"
)

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID           int64
	TenantID     int64
	Number       int64
	PeriodID     int64
	Date         time.Time
	SourceModule string
	SourceID     uuid.UUID
	Memo         string
	PostedBy     int64
	PostedAt     time.Time
	Status       JournalStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Lines        []JournalLine
}

// JournalLine stores a debit or credit amount for an account.
type JournalLine struct {
	ID        int64
	JournalID int64
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccountRef is the slice of account state the posting path needs.
type AccountRef struct {
	ID       int64
	Currency string
	Active   bool
}
