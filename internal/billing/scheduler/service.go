package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerline/ledgerline/internal/audit"
	"github.com/ledgerline/ledgerline/internal/billing/invoices"
	"github.com/ledgerline/ledgerline/internal/billing/templates"
	"github.com/ledgerline/ledgerline/internal/ledger/journals"
	"github.com/ledgerline/ledgerline/internal/ledger/periods"
	ledgershared "github.com/ledgerline/ledgerline/internal/ledger/shared"
	"github.com/ledgerline/ledgerline/internal/shared"
	"github.com/ledgerline/ledgerline/internal/tenants"
)

// SourceModule tags journal entries produced by the billing scheduler.
const SourceModule = "BILLING"

// DefaultMaxWindowsPerPass bounds catch-up for a single template in one pass.
// A template that fell two years behind converges over a few passes instead
// of holding its row lock for the whole backlog.
const DefaultMaxWindowsPerPass = 24

// AuditPort records pass activity and failures.
type AuditPort interface {
	Record(ctx context.Context, rec audit.Record) error
	RecordFailure(ctx context.Context, tenantID, actorID int64, table, recordID string, opErr error) error
}

// TenantsPort lists tenants eligible for a global pass.
type TenantsPort interface {
	ListActive(ctx context.Context) ([]tenants.Tenant, error)
}

// Service expands due recurring templates into invoices and journal entries.
type Service struct {
	repo       Repository
	auditp     AuditPort
	tenantsp   TenantsPort
	log        *slog.Logger
	maxWindows int
	now        func() time.Time
}

// NewService constructs a Service. maxWindows <= 0 selects the default cap.
func NewService(repo Repository, auditPort AuditPort, tenantsPort TenantsPort, log *slog.Logger, maxWindows int) *Service {
	if maxWindows <= 0 {
		maxWindows = DefaultMaxWindowsPerPass
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, auditp: auditPort, tenantsp: tenantsPort, log: log, maxWindows: maxWindows, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// TemplateFailure reports one template that could not be billed this pass.
type TemplateFailure struct {
	TemplateID int64  `json:"template_id"`
	Reason     string `json:"reason"`
}

// PassResult summarises a scheduling pass for one tenant.
type PassResult struct {
	TenantID        int64             `json:"tenant_id"`
	InvoicesCreated int               `json:"invoices_created"`
	WindowsSkipped  int               `json:"windows_skipped"`
	Failures        []TemplateFailure `json:"failures,omitempty"`
}

// RunSchedulingPass bills every window starting strictly before asOf for the
// actor's tenant; a window opening exactly at asOf belongs to the next pass.
// Each window commits in its own transaction; a failing template is recorded
// and skipped so the rest of the tenant still bills.
func (s *Service) RunSchedulingPass(ctx context.Context, actor shared.Actor, asOf time.Time) (PassResult, error) {
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
	due, err := s.repo.ListDueTemplates(ctx, actor.TenantID, asOf)
	if err != nil {
		return result, err
	}
	for _, tpl := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		created, skipped, err := s.billTemplate(ctx, actor, tpl.ID, asOf)
		result.InvoicesCreated += created
		result.WindowsSkipped += skipped
		if err != nil {
			result.Failures = append(result.Failures, TemplateFailure{TemplateID: tpl.ID, Reason: err.Error()})
			s.log.Warn("scheduling pass: template failed",
				"tenant_id", actor.TenantID, "template_id", tpl.ID, "error", err)
			if s.auditp != nil {
				_ = s.auditp.RecordFailure(ctx, actor.TenantID, actor.UserID,
					"recurring_templates", fmt.Sprintf("%d", tpl.ID), err)
			}
		}
	}
	return result, nil
}

// billTemplate walks the template's due windows chronologically, committing
// one window per transaction, until it catches up with asOf or hits the cap.
func (s *Service) billTemplate(ctx context.Context, actor shared.Actor, templateID int64, asOf time.Time) (created, skipped int, err error) {
	for i := 0; i < s.maxWindows; i++ {
		var done bool
		var wasDuplicate bool
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			tpl, err := tx.GetTemplateForUpdate(ctx, actor.TenantID, templateID)
			if err != nil {
				return err
			}
			if !tpl.Active || !tpl.NextBillingDate.Before(asOf) {
				done = true
				return nil
			}
			if tpl.EndDate != nil && !tpl.NextBillingDate.Before(*tpl.EndDate) {
				done = true
				return tx.AdvanceTemplate(ctx, tpl.TenantID, tpl.ID, tpl.NextBillingDate, false)
			}
			dup, err := s.billWindow(ctx, tx, actor, tpl)
			wasDuplicate = dup
			return err
		})
		if err != nil {
			return created, skipped, err
		}
		if done {
			return created, skipped, nil
		}
		if wasDuplicate {
			skipped++
		} else {
			created++
		}
	}
	return created, skipped, nil
}

// billWindow creates the invoice, posts its journal entry and advances the
// template, all on the caller's transaction. A unique-violation on the
// (template, window) key means a previous pass already billed this window;
// the template is advanced past it and the window reported as a duplicate.
func (s *Service) billWindow(ctx context.Context, tx TxRepository, actor shared.Actor, tpl templates.RecurringTemplate) (duplicate bool, err error) {
	windowStart := tpl.NextBillingDate
	windowEnd := tpl.Cadence.Advance(windowStart)
	now := s.now()

	inv := invoices.SubscriptionInvoice{
		TenantID:            tpl.TenantID,
		TemplateID:          tpl.ID,
		PublicID:            uuid.New(),
		WindowStart:         windowStart,
		WindowEnd:           windowEnd,
		Currency:            tpl.Currency,
		Subtotal:            tpl.Subtotal(),
		Tax:                 tpl.Tax(),
		Total:               tpl.Total(),
		Status:              invoices.StatusIssued,
		Recognition:         tpl.Recognition,
		RecognitionPeriods:  tpl.RecognitionPeriods,
		RecognizedAmount:    decimal.Zero,
		ReceivableAccountID: tpl.ReceivableAccountID,
		RevenueAccountID:    tpl.RevenueAccountID,
		DeferredAccountID:   tpl.DeferredAccountID,
		IssuedAt:            now,
	}
	if tpl.Recognition == templates.RecognitionImmediate {
		inv.RecognizedAmount = inv.Total
	}

	inserted, err := tx.InsertInvoice(ctx, inv)
	if err != nil {
		if errors.Is(err, ledgershared.ErrDuplicateWindow) {
			// Already billed by an earlier pass; realign the pointer.
			return true, tx.AdvanceTemplate(ctx, tpl.TenantID, tpl.ID, windowEnd, tpl.Active)
		}
		return false, err
	}

	period, fallback, err := resolvePostingPeriod(ctx, tx, tpl.TenantID, windowStart)
	if err != nil {
		return false, err
	}

	creditAccount := tpl.RevenueAccountID
	if tpl.Recognition == templates.RecognitionDeferred {
		creditAccount = *tpl.DeferredAccountID
	}
	entry, err := tx.PostJournal(ctx, tpl.TenantID, actor.UserID, journals.PostingInput{
		PeriodID:     period.ID,
		Date:         postingDate(windowStart, fallback, period.StartDate),
		SourceModule: SourceModule,
		SourceID:     inserted.PublicID,
		Memo:         fmt.Sprintf("%s %s", tpl.Name, windowStart.Format("2006-01-02")),
		Lines: []journals.PostingLineInput{
			{AccountID: tpl.ReceivableAccountID, Debit: inserted.Total, Currency: tpl.Currency},
			{AccountID: creditAccount, Credit: inserted.Total, Currency: tpl.Currency},
		},
	})
	if err != nil {
		return false, err
	}

	if tpl.Recognition == templates.RecognitionDeferred {
		if err := tx.InsertScheduleEntries(ctx, buildSchedule(inserted, tpl.Cadence)); err != nil {
			return false, err
		}
	}

	if err := tx.AdvanceTemplate(ctx, tpl.TenantID, tpl.ID, windowEnd, tpl.Active); err != nil {
		return false, err
	}

	if s.auditp != nil {
		note := ""
		if fallback {
			note = fmt.Sprintf("window period closed, posted to fallback period %d", period.ID)
		}
		_ = s.auditp.Record(ctx, audit.Record{
			TenantID:  tpl.TenantID,
			TableName: "subscription_invoices",
			RecordID:  inserted.PublicID.String(),
			Action:    audit.ActionInsert,
			NewValues: audit.Snapshot{
				"template_id":      tpl.ID,
				"window_start":     windowStart.Format("2006-01-02"),
				"total":            inserted.Total.String(),
				"journal_entry_id": entry.ID,
			},
			Note:       note,
			ActorID:    actor.UserID,
			OccurredAt: now,
		})
	}
	return false, nil
}

// buildSchedule splits the invoice total into equal tranches, truncated to
// cents, with the last tranche absorbing the rounding remainder. Target dates
// step forward on the billing cadence starting at the window itself.
func buildSchedule(inv invoices.SubscriptionInvoice, cadence templates.Cadence) []invoices.ScheduleEntry {
	n := inv.RecognitionPeriods
	if n < 1 {
		n = 1
	}
	per := inv.Total.Div(decimal.NewFromInt(int64(n))).Truncate(2)
	entries := make([]invoices.ScheduleEntry, 0, n)
	target := inv.WindowStart
	for i := 1; i <= n; i++ {
		amount := per
		if i == n {
			amount = inv.Total.Sub(per.Mul(decimal.NewFromInt(int64(n - 1))))
		}
		entries = append(entries, invoices.ScheduleEntry{
			TenantID:   inv.TenantID,
			InvoiceID:  inv.ID,
			Sequence:   i,
			TargetDate: target,
			Amount:     amount,
		})
		target = cadence.Advance(target)
	}
	return entries
}

// resolvePostingPeriod finds the open period covering the window start. When
// that period is closed or missing, the entry lands in the next open period
// instead, flagged so the audit record names the substitution.
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

// postingDate keeps the journal date inside the chosen period.
func postingDate(windowStart time.Time, fallback bool, periodStart time.Time) time.Time {
	if fallback && windowStart.Before(periodStart) {
		return periodStart
	}
	return windowStart
}

// RunForAllTenants executes the pass for every active tenant concurrently.
// Tenant failures are logged and do not stop sibling tenants.
func (s *Service) RunForAllTenants(ctx context.Context, asOf time.Time) ([]PassResult, error) {
	if s.tenantsp == nil {
		return nil, errors.New("scheduler: tenants port not configured")
	}
	all, err := s.tenantsp.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]PassResult, len(all))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, t := range all {
		g.Go(func() error {
			actor := shared.Actor{TenantID: t.ID, Role: shared.RoleSystem}
			res, err := s.RunSchedulingPass(ctx, actor, asOf)
			if err != nil {
				s.log.Error("scheduling pass failed", "tenant_id", t.ID, "error", err)
				res = PassResult{TenantID: t.ID, Failures: []TemplateFailure{{Reason: err.Error()}}}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
