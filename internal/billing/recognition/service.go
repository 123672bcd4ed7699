package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/ledgerline/internal/audit"
	"github.com/ledgerline/ledgerline/internal/billing/invoices"
	"github.com/ledgerline/ledgerline/internal/ledger/journals"
	"github.com/ledgerline/ledgerline/internal/ledger/periods"
	ledgershared "github.com/ledgerline/ledgerline/internal/ledger/shared"
	"github.com/ledgerline/ledgerline/internal/shared"
	"github.com/ledgerline/ledgerline/internal/tenants"
)

// SourceModule tags journal entries produced by revenue recognition.
const SourceModule = "BILLING:RECOGNITION"

// AuditPort records pass activity and failures.
type AuditPort interface {
	Record(ctx context.Context, rec audit.Record) error
	RecordFailure(ctx context.Context, tenantID, actorID int64, table, recordID string, opErr error) error
}

// TenantsPort lists tenants eligible for a global pass.
type TenantsPort interface {
	ListActive(ctx context.Context) ([]tenants.Tenant, error)
}

// Service moves deferred revenue into earned revenue as schedule entries
// come due.
type Service struct {
	repo     Repository
	auditp   AuditPort
	tenantsp TenantsPort
	log      *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, auditPort AuditPort, tenantsPort TenantsPort, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, auditp: auditPort, tenantsp: tenantsPort, log: log, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// EntryFailure reports one schedule entry that could not be recognized.
type EntryFailure struct {
	EntryID int64  `json:"entry_id"`
	Reason  string `json:"reason"`
}

// PassResult summarises a recognition pass for one tenant.
type PassResult struct {
	TenantID   int64          `json:"tenant_id"`
	Recognized int            `json:"recognized"`
	Skipped    int            `json:"skipped"`
	Failures   []EntryFailure `json:"failures,omitempty"`
}

// RunRecognitionPass recognizes every schedule entry due on or before asOf
// for the actor's tenant. Each entry commits in its own transaction; a
// failing entry is recorded and skipped.
func (s *Service) RunRecognitionPass(ctx context.Context, actor shared.Actor, asOf time.Time) (PassResult, error) {
	if !actor.Valid() {
		return PassResult{}, shared.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return PassResult{}, shared.ErrForbidden
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	result := PassResult{TenantID: actor.TenantID}
	due, err := s.repo.ListDue(ctx, actor.TenantID, asOf)
	if err != nil {
		return result, err
	}
	for _, entry := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		skipped, err := s.recognizeEntry(ctx, actor, entry.ID)
		switch {
		case err != nil:
			result.Failures = append(result.Failures, EntryFailure{EntryID: entry.ID, Reason: err.Error()})
			s.log.Warn("recognition pass: entry failed",
				"tenant_id", actor.TenantID, "entry_id", entry.ID, "error", err)
			if s.auditp != nil {
				_ = s.auditp.RecordFailure(ctx, actor.TenantID, actor.UserID,
					"revenue_schedule_entries", fmt.Sprintf("%d", entry.ID), err)
			}
		case skipped:
			result.Skipped++
		default:
			result.Recognized++
		}
	}
	return result, nil
}

// recognizeEntry posts one tranche in its own transaction. The entry row is
// re-read under lock so a concurrent pass cannot recognize it twice.
func (s *Service) recognizeEntry(ctx context.Context, actor shared.Actor, entryID int64) (skipped bool, err error) {
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, actor.TenantID, entryID)
		if err != nil {
			return err
		}
		if entry.Recognized {
			skipped = true
			return nil
		}
		inv, err := tx.GetInvoiceForUpdate(ctx, actor.TenantID, entry.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Status == invoices.StatusVoid {
			skipped = true
			return nil
		}
		if inv.DeferredAccountID == nil {
			return fmt.Errorf("invoice %d has no deferred revenue account", inv.ID)
		}

		period, fallback, err := resolvePostingPeriod(ctx, tx, actor.TenantID, entry.TargetDate)
		if err != nil {
			return err
		}
		date := entry.TargetDate
		if fallback && date.Before(period.StartDate) {
			date = period.StartDate
		}

		// Deterministic per-tranche source id; the source link's unique key
		// then backstops the row lock against double recognition.
		sourceID := uuid.NewSHA1(inv.PublicID, []byte(fmt.Sprintf("tranche:%d", entry.Sequence)))
		posted, err := tx.PostJournal(ctx, actor.TenantID, actor.UserID, journals.PostingInput{
			PeriodID:     period.ID,
			Date:         date,
			SourceModule: SourceModule,
			SourceID:     sourceID,
			Memo:         fmt.Sprintf("revenue recognition %d/%d for invoice %s", entry.Sequence, inv.RecognitionPeriods, inv.PublicID),
			Lines: []journals.PostingLineInput{
				{AccountID: *inv.DeferredAccountID, Debit: entry.Amount, Currency: inv.Currency},
				{AccountID: inv.RevenueAccountID, Credit: entry.Amount, Currency: inv.Currency},
			},
		})
		if err != nil {
			return err
		}
		now := s.now()
		if err := tx.MarkRecognized(ctx, actor.TenantID, entry.ID, posted.ID, now); err != nil {
			return err
		}
		if err := tx.AddRecognizedAmount(ctx, actor.TenantID, inv.ID, entry.Amount); err != nil {
			return err
		}

		if s.auditp != nil {
			note := ""
			if fallback {
				note = fmt.Sprintf("target period closed, posted to fallback period %d", period.ID)
			}
			_ = s.auditp.Record(ctx, audit.Record{
				TenantID:  actor.TenantID,
				TableName: "revenue_schedule_entries",
				RecordID:  fmt.Sprintf("%d", entry.ID),
				Action:    audit.ActionUpdate,
				OldValues: audit.Snapshot{"recognized": false},
				NewValues: audit.Snapshot{
					"recognized":       true,
					"amount":           entry.Amount.String(),
					"journal_entry_id": posted.ID,
				},
				Note:       note,
				ActorID:    actor.UserID,
				OccurredAt: now,
			})
		}
		return nil
	})
	return skipped, err
}

func resolvePostingPeriod(ctx context.Context, tx TxRepository, tenantID int64, date time.Time) (periods.Period, bool, error) {
	p, err := tx.FindOpenPeriodByDate(ctx, tenantID, date)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, ledgershared.ErrNoOpenPeriod) {
		return periods.Period{}, false, err
	}
	p, err = tx.NextOpenPeriodOnOrAfter(ctx, tenantID, date)
	if err != nil {
		if errors.Is(err, ledgershared.ErrNoOpenPeriod) {
			return periods.Period{}, false, fmt.Errorf("no open period on or after %s: %w",
				date.Format("2006-01-02"), ledgershared.ErrPeriodClosed)
		}
		return periods.Period{}, false, err
	}
	return p, true, nil
}

// RunForAllTenants executes the pass for every active tenant sequentially.
// Recognition volume is small per tenant; sequencing keeps pool pressure low
// when the scheduler pass runs in the same worker tick.
func (s *Service) RunForAllTenants(ctx context.Context, asOf time.Time) ([]PassResult, error) {
	if s.tenantsp == nil {
		return nil, errors.New("recognition: tenants port not configured")
	}
	all, err := s.tenantsp.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]PassResult, 0, len(all))
	for _, t := range all {
		actor := shared.Actor{TenantID: t.ID, Role: shared.RoleSystem}
		res, err := s.RunRecognitionPass(ctx, actor, asOf)
		if err != nil {
			if ctx.Err() != nil {
				return results, err
			}
			s.log.Error("recognition pass failed", "tenant_id", t.ID, "error", err)
			res = PassResult{TenantID: t.ID, Failures: []EntryFailure{{Reason: err.Error()}}}
		}
		results = append(results, res)
	}
	return results, nil
}
