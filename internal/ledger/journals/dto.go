package journals

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	ledgershared "github.com/ledgerline/ledgerline/internal/ledger/shared"
)

// PostingLineInput describes a journal line for a posting request.
type PostingLineInput struct {
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Currency  string
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	PeriodID     int64
	Date         time.Time
	SourceModule string
	SourceID     uuid.UUID
	Memo         string
	Lines        []PostingLineInput
}

// Validate ensures posting input meets the double-entry criteria: at least
// two lines, no negative or two-sided lines, and per-currency balance.
func (in PostingInput) Validate() error {
	if in.PeriodID == 0 {
		return errors.New("journals: period required")
	}
	if len(in.Lines) < 2 {
		return ledgershared.ErrTooFewLines
	}
	debits := map[string]decimal.Decimal{}
	credits := map[string]decimal.Decimal{}
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("journals: line %d missing account: %w", idx, ledgershared.ErrUnknownAccount)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("journals: line %d negative amount: %w", idx, ledgershared.ErrInvalidAmount)
		}
		if line.Debit.IsPositive() && line.Credit.IsPositive() {
			return fmt.Errorf("journals: line %d cannot be both debit and credit: %w", idx, ledgershared.ErrInvalidAmount)
		}
		if line.Currency == "" {
			return fmt.Errorf("journals: line %d missing currency: %w", idx, ledgershared.ErrCurrencyMismatch)
		}
		debits[line.Currency] = debits[line.Currency].Add(line.Debit)
		credits[line.Currency] = credits[line.Currency].Add(line.Credit)
	}
	for cur, debit := range debits {
		if !debit.Equal(credits[cur]) {
			return ledgershared.ErrUnbalanced
		}
	}
	for cur, credit := range credits {
		if _, ok := debits[cur]; !ok && credit.IsPositive() {
			return ledgershared.ErrUnbalanced
		}
	}
	if in.SourceModule == "" {
		return errors.New("journals: source module required")
	}
	if in.SourceID == uuid.Nil {
		return errors.New("journals: source id required")
	}
	return nil
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	EntryID int64
	Memo    string
}

// ListInput narrows entry listings.
type ListInput struct {
	PeriodID int64
	Page     int
	PageSize int
}
