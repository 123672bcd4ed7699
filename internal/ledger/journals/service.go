package journals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/ledgerline/internal/audit"
	"github.com/ledgerline/ledgerline/internal/ledger/periods"
	ledgershared "github.com/ledgerline/ledgerline/internal/ledger/shared"
	"github.com/ledgerline/ledgerline/internal/shared"
)

// AuditPort records journal mutations.
type AuditPort interface {
	Record(ctx context.Context, rec audit.Record) error
}

// Locker serialises postings against the same billing period.
type Locker interface {
	Acquire(ctx context.Context, tenantID, periodID int64) (*shared.Lease, error)
	Release(ctx context.Context, lease *shared.Lease) error
}

// Service is the journal engine: it validates and persists double-entry
// journal entries, the ground truth of all balances.
type Service struct {
	repo   Repository
	auditp AuditPort
	locker Locker
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, auditPort AuditPort, locker Locker) *Service {
	return &Service{repo: repo, auditp: auditPort, locker: locker, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// PostEntry validates and atomically persists a balanced journal entry into
// an open period. Posted entries are never mutated afterwards.
func (s *Service) PostEntry(ctx context.Context, actor shared.Actor, input PostingInput) (JournalEntry, error) {
	if !actor.Valid() {
		return JournalEntry{}, shared.ErrUnauthorized
	}
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	if s.locker != nil {
		lease, err := s.locker.Acquire(ctx, actor.TenantID, input.PeriodID)
		if err != nil {
			return JournalEntry{}, err
		}
		defer func() { _ = s.locker.Release(ctx, lease) }()
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriodForUpdate(ctx, actor.TenantID, input.PeriodID)
		if err != nil {
			return err
		}
		if err := ensurePeriodOpen(period); err != nil {
			return err
		}
		if input.Date.IsZero() {
			input.Date = period.StartDate
		}
		if !period.Contains(input.Date) {
			return fmt.Errorf("journals: date %s outside period %s: %w", input.Date.Format(time.DateOnly), period.Code, ledgershared.ErrDateOutOfRange)
		}
		if err := s.resolveAccounts(ctx, tx, actor.TenantID, input.Lines); err != nil {
			return err
		}
		inserted, err := tx.InsertEntry(ctx, actor.TenantID, actor.UserID, input)
		if err != nil {
			return err
		}
		inserted.Lines = toJournalLines(inserted.ID, input.Lines, s.now())
		entry = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, actor, entry, audit.ActionInsert, "")
	return entry, nil
}

// ReverseEntry posts an equal-and-opposite entry. History is never mutated:
// if the original period is no longer open the reversal lands in the next
// open period.
func (s *Service) ReverseEntry(ctx context.Context, actor shared.Actor, input ReverseInput) (JournalEntry, error) {
	if !actor.Valid() {
		return JournalEntry{}, shared.ErrUnauthorized
	}
	if input.EntryID == 0 {
		return JournalEntry{}, ledgershared.ErrEntryNotFound
	}
	var reversal JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, lines, err := tx.GetJournalWithLines(ctx, actor.TenantID, input.EntryID)
		if err != nil {
			return err
		}
		period, err := tx.GetPeriodForUpdate(ctx, actor.TenantID, original.PeriodID)
		if err != nil {
			return err
		}
		targetPeriod := period
		targetDate := original.Date
		if period.Status != periods.PeriodStatusOpen {
			next, err := tx.GetNextOpenPeriodOnOrAfter(ctx, actor.TenantID, period.EndDate)
			if err != nil {
				if errors.Is(err, ledgershared.ErrNoOpenPeriod) {
					return ledgershared.ErrPeriodClosed
				}
				return err
			}
			targetPeriod = next
			targetDate = next.StartDate
		}
		posting := PostingInput{
			PeriodID:     targetPeriod.ID,
			Date:         targetDate,
			SourceModule: original.SourceModule + ":REVERSAL",
			SourceID:     uuid.New(),
			Memo:         defaultReversalMemo(input.Memo, original.Number),
			Lines:        reverseLines(lines),
		}
		inserted, err := tx.InsertEntry(ctx, actor.TenantID, actor.UserID, posting)
		if err != nil {
			return err
		}
		inserted.Lines = toJournalLines(inserted.ID, posting.Lines, s.now())
		reversal = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.record(ctx, actor, reversal, audit.ActionInsert, fmt.Sprintf("reversal of entry %d", input.EntryID))
	return reversal, nil
}

// Get returns a single entry with its lines.
func (s *Service) Get(ctx context.Context, actor shared.Actor, entryID int64) (JournalEntry, error) {
	if !actor.Valid() {
		return JournalEntry{}, shared.ErrUnauthorized
	}
	return s.repo.Get(ctx, actor.TenantID, entryID)
}

// List returns entries for the tenant, newest first.
func (s *Service) List(ctx context.Context, actor shared.Actor, in ListInput) ([]JournalEntry, error) {
	if !actor.Valid() {
		return nil, shared.ErrUnauthorized
	}
	return s.repo.List(ctx, actor.TenantID, in)
}

func ensurePeriodOpen(p periods.Period) error {
	switch p.Status {
	case periods.PeriodStatusOpen:
		return nil
	case periods.PeriodStatusLocked:
		return ledgershared.ErrPeriodLocked
	default:
		return ledgershared.ErrPeriodClosed
	}
}

func (s *Service) resolveAccounts(ctx context.Context, tx TxRepository, tenantID int64, lines []PostingLineInput) error {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.AccountID)
	}
	refs, err := tx.LookupAccounts(ctx, tenantID, ids)
	if err != nil {
		return err
	}
	for _, line := range lines {
		ref, ok := refs[line.AccountID]
		if !ok || !ref.Active {
			return fmt.Errorf("journals: account %d: %w", line.AccountID, ledgershared.ErrUnknownAccount)
		}
		if ref.Currency != line.Currency {
			return fmt.Errorf("journals: account %d is %s, line is %s: %w", line.AccountID, ref.Currency, line.Currency, ledgershared.ErrCurrencyMismatch)
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor shared.Actor, entry JournalEntry, action audit.Action, note string) {
	if s.auditp == nil {
		return
	}
	_ = s.auditp.Record(ctx, audit.Record{
		TenantID:  actor.TenantID,
		TableName: "journal_entries",
		RecordID:  fmt.Sprintf("%d", entry.ID),
		Action:    action,
		NewValues: audit.Snapshot{
			"number":        entry.Number,
			"period_id":     entry.PeriodID,
			"source_module": entry.SourceModule,
			"source_id":     entry.SourceID.String(),
			"line_count":    len(entry.Lines),
		},
		Note:       note,
		ActorID:    actor.UserID,
		OccurredAt: s.now(),
	})
}

func reverseLines(lines []JournalLine) []PostingLineInput {
	out := make([]PostingLineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, PostingLineInput{
			AccountID: line.AccountID,
			Debit:     line.Credit,
			Credit:    line.Debit,
			Currency:  line.Currency,
		})
	}
	return out
}

func toJournalLines(entryID int64, lines []PostingLineInput, ts time.Time) []JournalLine {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, JournalLine{
			JournalID: entryID,
			AccountID: line.AccountID,
			Debit:     line.Debit,
			Credit:    line.Credit,
			Currency:  line.Currency,
			CreatedAt: ts,
			UpdatedAt: ts,
		})
	}
	return out
}

func defaultReversalMemo(memo string, number int64) string {
	if memo != "" {
		return memo
	}
	return fmt.Sprintf("Reversal of JE %d", number)
}
