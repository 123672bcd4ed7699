package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/ledgerline/internal/audit"
	"github.com/ledgerline/ledgerline/internal/billing/invoices"
	"github.com/ledgerline/ledgerline/internal/billing/templates"
	"github.com/ledgerline/ledgerline/internal/ledger/journals"
	"github.com/ledgerline/ledgerline/internal/ledger/periods"
	ledgershared "github.com/ledgerline/ledgerline/internal/ledger/shared"
	"github.com/ledgerline/ledgerline/internal/shared"
	"github.com/ledgerline/ledgerline/internal/tenants"
)

type mockRepository struct {
	templates     map[int64]templates.RecurringTemplate
	invoices      []invoices.SubscriptionInvoice
	windows       map[string]bool
	schedules     []invoices.ScheduleEntry
	periods       []periods.Period
	journals      []journals.PostingInput
	nextInvoiceID int64
	nextEntryID   int64

	insertInvoiceErr map[int64]error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		templates:        make(map[int64]templates.RecurringTemplate),
		windows:          make(map[string]bool),
		nextInvoiceID:    1,
		nextEntryID:      1,
		insertInvoiceErr: make(map[int64]error),
	}
}

func windowKey(templateID int64, start time.Time) string {
	return fmt.Sprintf("%d|%s", templateID, start.Format("2006-01-02"))
}

func (m *mockRepository) ListDueTemplates(ctx context.Context, tenantID int64, asOf time.Time) ([]templates.RecurringTemplate, error) {
	var out []templates.RecurringTemplate
	for _, t := range m.templates {
		if t.TenantID == tenantID && t.Active && t.NextBillingDate.Before(asOf) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &mockTxRepo{mock: m})
}

type mockTxRepo struct {
	mock *mockRepository
}

func (t *mockTxRepo) GetTemplateForUpdate(ctx context.Context, tenantID, id int64) (templates.RecurringTemplate, error) {
	tpl, ok := t.mock.templates[id]
	if !ok || tpl.TenantID != tenantID {
		return templates.RecurringTemplate{}, ledgershared.ErrTemplateNotFound
	}
	return tpl, nil
}

func (t *mockTxRepo) InsertInvoice(ctx context.Context, inv invoices.SubscriptionInvoice) (invoices.SubscriptionInvoice, error) {
	if err := t.mock.insertInvoiceErr[inv.TemplateID]; err != nil {
		return invoices.SubscriptionInvoice{}, err
	}
	key := windowKey(inv.TemplateID, inv.WindowStart)
	if t.mock.windows[key] {
		return invoices.SubscriptionInvoice{}, ledgershared.ErrDuplicateWindow
	}
	t.mock.windows[key] = true
	inv.ID = t.mock.nextInvoiceID
	t.mock.nextInvoiceID++
	t.mock.invoices = append(t.mock.invoices, inv)
	return inv, nil
}

func (t *mockTxRepo) InsertScheduleEntries(ctx context.Context, entries []invoices.ScheduleEntry) error {
	t.mock.schedules = append(t.mock.schedules, entries...)
	return nil
}

func (t *mockTxRepo) AdvanceTemplate(ctx context.Context, tenantID, id int64, next time.Time, active bool) error {
	tpl, ok := t.mock.templates[id]
	if !ok || tpl.TenantID != tenantID {
		return ledgershared.ErrTemplateNotFound
	}
	tpl.NextBillingDate = next
	tpl.Active = active
	t.mock.templates[id] = tpl
	return nil
}

func (t *mockTxRepo) FindOpenPeriodByDate(ctx context.Context, tenantID int64, date time.Time) (periods.Period, error) {
	for _, p := range t.mock.periods {
		if p.TenantID == tenantID && p.Status == periods.PeriodStatusOpen && p.Contains(date) {
			return p, nil
		}
	}
	return periods.Period{}, ledgershared.ErrNoOpenPeriod
}

func (t *mockTxRepo) NextOpenPeriodOnOrAfter(ctx context.Context, tenantID int64, date time.Time) (periods.Period, error) {
	var best periods.Period
	found := false
	for _, p := range t.mock.periods {
		if p.TenantID != tenantID || p.Status != periods.PeriodStatusOpen || !p.EndDate.After(date) {
			continue
		}
		if !found || p.StartDate.Before(best.StartDate) {
			best = p
			found = true
		}
	}
	if !found {
		return periods.Period{}, ledgershared.ErrNoOpenPeriod
	}
	return best, nil
}

func (t *mockTxRepo) PostJournal(ctx context.Context, tenantID, postedBy int64, in journals.PostingInput) (journals.JournalEntry, error) {
	if err := in.Validate(); err != nil {
		return journals.JournalEntry{}, err
	}
	id := t.mock.nextEntryID
	t.mock.nextEntryID++
	t.mock.journals = append(t.mock.journals, in)
	return journals.JournalEntry{ID: id, TenantID: tenantID, Number: id, PeriodID: in.PeriodID, Date: in.Date}, nil
}

type recordingAudit struct {
	records  []audit.Record
	failures []string
}

func (a *recordingAudit) Record(ctx context.Context, rec audit.Record) error {
	a.records = append(a.records, rec)
	return nil
}

func (a *recordingAudit) RecordFailure(ctx context.Context, tenantID, actorID int64, table, recordID string, opErr error) error {
	a.failures = append(a.failures, fmt.Sprintf("%s/%s: %v", table, recordID, opErr))
	return nil
}

type stubTenants struct {
	tenants []tenants.Tenant
}

func (s *stubTenants) ListActive(ctx context.Context) ([]tenants.Tenant, error) {
	return s.tenants, nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func openPeriodsFor2025(tenantID int64) []periods.Period {
	out := make([]periods.Period, 0, 12)
	for m := time.January; m <= time.December; m++ {
		start := date(2025, m, 1)
		out = append(out, periods.Period{
			ID:        int64(m),
			TenantID:  tenantID,
			Code:      start.Format("2006-01"),
			StartDate: start,
			EndDate:   start.AddDate(0, 1, 0),
			Status:    periods.PeriodStatusOpen,
		})
	}
	return out
}

func monthlyTemplate(id int64) templates.RecurringTemplate {
	return templates.RecurringTemplate{
		ID:                  id,
		TenantID:            1,
		Name:                "Starter plan",
		Cadence:             templates.CadenceMonthly,
		Amount:              decimal.NewFromInt(100),
		TaxRate:             decimal.Zero,
		Currency:            "USD",
		ReceivableAccountID: 10,
		RevenueAccountID:    40,
		StartDate:           date(2025, 1, 1),
		NextBillingDate:     date(2025, 1, 1),
		Recognition:         templates.RecognitionImmediate,
		RecognitionPeriods:  1,
		Active:              true,
	}
}

var admin = shared.Actor{TenantID: 1, UserID: 9, Role: shared.RoleAdmin}

func newTestService(repo *mockRepository, maxWindows int) (*Service, *recordingAudit) {
	auditPort := &recordingAudit{}
	svc := NewService(repo, auditPort, nil, nil, maxWindows)
	svc.WithNow(func() time.Time { return date(2025, 3, 1) })
	return svc, auditPort
}

func TestSchedulingPassCatchesUp(t *testing.T) {
	repo := newMockRepository()
	repo.periods = openPeriodsFor2025(1)
	repo.templates[1] = monthlyTemplate(1)
	svc, auditPort := newTestService(repo, 0)

	res, err := svc.RunSchedulingPass(context.Background(), admin, date(2025, 3, 1))
	require.NoError(t, err)
	require.Equal(t, 2, res.InvoicesCreated)
	require.Zero(t, res.WindowsSkipped)
	require.Empty(t, res.Failures)

	// Only the windows fully opened before asOf bill; the Mar 1 window
	// belongs to the next pass.
	require.Len(t, repo.invoices, 2)
	require.Equal(t, date(2025, 1, 1), repo.invoices[0].WindowStart)
	require.Equal(t, date(2025, 2, 1), repo.invoices[1].WindowStart)
	require.Equal(t, date(2025, 3, 1), repo.templates[1].NextBillingDate)
	require.Len(t, repo.journals, 2)
	require.Len(t, auditPort.records, 2)
}

func TestSchedulingPassLeavesWindowStartingAtAsOf(t *testing.T) {
	repo := newMockRepository()
	repo.periods = openPeriodsFor2025(1)
	repo.templates[1] = monthlyTemplate(1)
	svc, _ := newTestService(repo, 0)

	res, err := svc.RunSchedulingPass(context.Background(), admin, date(2025, 1, 1))
	require.NoError(t, err)
	require.Zero(t, res.InvoicesCreated)
	require.Empty(t, repo.invoices)
	require.Equal(t, date(2025, 1, 1), repo.templates[1].NextBillingDate)
}

func TestSchedulingPassIsIdempotent(t *testing.T) {
	repo := newMockRepository()
	repo.periods = openPeriodsFor2025(1)
	repo.templates[1] = monthlyTemplate(1)
	svc, _ := newTestService(repo, 0)

	_, err := svc.RunSchedulingPass(context.Background(), admin, date(2025, 3, 1))
	require.NoError(t, err)

	res, err := svc.RunSchedulingPass(context.Background(), admin, date(2025, 3, 1))
	require.NoError(t, err)
	require.Zero(t, res.InvoicesCreated)
	require.Len(t, repo.invoices, 2)
}

func TestSchedulingPassSkipsAlreadyBilledWindow(t *testing.T) {
	repo := newMockRepository()
	repo.periods = openPeriodsFor2025(1)
	repo.templates[1] = monthlyTemplate(1)
	// January billed by a previous pass that crashed before advancing.
	repo.windows[windowKey(1, date(2025, 1, 1))] = true
	svc, _ := newTestService(repo, 0)

	res, err := svc.RunSchedulingPass(context.Background(), admin, date(2025, 3, 1))
	require.NoError(t, err)
	require.Equal(t, 1, res.InvoicesCreated)
	require.Equal(t, 1, res.WindowsSkipped)
	require.Equal(t, date(2025, 3, 1), repo.templates[1].NextBillingDate)
}

func TestSchedulingPassIsolatesTemplateFailures(t *testing.T) {
	repo := newMockRepository()
	repo.periods = openPeriodsFor2025(1)
	repo.templates[1] = monthlyTemplate(1)
	repo.templates[2] = monthlyTemplate(2)
	repo.insertInvoiceErr[1] = errors.New("deadlock detected")
	svc, auditPort := newTestService(repo, 0)

	res, err := svc.RunSchedulingPass(context.Background(), admin, date(2025, 3, 1))
	require.NoError(t, err)
	require.Equal(t, 2, res.InvoicesCreated)
	require.Len(t, res.Failures, 1)
	require.Equal(t, int64(1), res.Failures[0].TemplateID)
	require.Len(t, auditPort.failures, 1)
	// Template 1 never advanced, template 2 fully billed.
	require.Equal(t, date(2025, 1, 1), repo.templates[1].NextBillingDate)
	require.Equal(t, date(2025, 3, 1), repo.templates[2].NextBillingDate)
}

func TestSchedulingPassHonoursWindowCap(t *testing.T) {
	repo := newMockRepository()
	repo.periods = openPeriodsFor2025(1)
	repo.templates[1] = monthlyTemplate(1)
	svc, _ := newTestService(repo, 1)

	res, err := svc.RunSchedulingPass(context.Background(), admin, date(2025, 3, 1))
	require.NoError(t, err)
	require.Equal(t, 1, res.InvoicesCreated)
	require.Equal(t, date(2025, 2, 1), repo.templates[1].NextBillingDate)

	// The next pass picks up where this one stopped.
	res, err = svc.RunSchedulingPass(context.Background(), admin, date(2025, 3, 1))
	require.NoError(t, err)
	require.Equal(t, 1, res.InvoicesCreated)
	require.Equal(t, date(2025, 3, 1), repo.templates[1].NextBillingDate)
}

func TestSchedulingPassDeactivatesExpiredTemplate(t *testing.T) {
	repo := newMockRepository()
	repo.periods = openPeriodsFor2025(1)
	tpl := monthlyTemplate(1)
	end := date(2025, 2, 1)
	tpl.EndDate = &end
	repo.templates[1] = tpl
	svc, _ := newTestService(repo, 0)

	res, err := svc.RunSchedulingPass(context.Background(), admin, date(2025, 3, 1))
	require.NoError(t, err)
	require.Equal(t, 1, res.InvoicesCreated)
	require.False(t, repo.templates[1].Active)
}

func TestSchedulingPassBuildsDeferredSchedule(t *testing.T) {
	repo := newMockRepository()
	repo.periods = openPeriodsFor2025(1)
	tpl := monthlyTemplate(1)
	tpl.Amount = decimal.NewFromInt(100)
	tpl.Recognition = templates.RecognitionDeferred
	tpl.RecognitionPeriods = 3
	deferred := int64(25)
	tpl.DeferredAccountID = &deferred
	repo.templates[1] = tpl
	svc, _ := newTestService(repo, 1)

	_, err := svc.RunSchedulingPass(context.Background(), admin, date(2025, 2, 1))
	require.NoError(t, err)

	require.Len(t, repo.schedules, 3)
	require.True(t, repo.schedules[0].Amount.Equal(decimal.RequireFromString("33.33")))
	require.True(t, repo.schedules[1].Amount.Equal(decimal.RequireFromString("33.33")))
	require.True(t, repo.schedules[2].Amount.Equal(decimal.RequireFromString("33.34")))
	require.Equal(t, date(2025, 1, 1), repo.schedules[0].TargetDate)
	require.Equal(t, date(2025, 2, 1), repo.schedules[1].TargetDate)
	require.Equal(t, date(2025, 3, 1), repo.schedules[2].TargetDate)

	// Issue credits deferred revenue, not recognized revenue.
	require.Len(t, repo.journals, 1)
	require.Equal(t, deferred, repo.journals[0].Lines[1].AccountID)
	require.True(t, repo.invoices[0].RecognizedAmount.IsZero())
}

func TestSchedulingPassFallsBackToNextOpenPeriod(t *testing.T) {
	repo := newMockRepository()
	repo.periods = []periods.Period{
		{ID: 1, TenantID: 1, Code: "2025-01", StartDate: date(2025, 1, 1), EndDate: date(2025, 2, 1), Status: periods.PeriodStatusClosed},
		{ID: 2, TenantID: 1, Code: "2025-02", StartDate: date(2025, 2, 1), EndDate: date(2025, 3, 1), Status: periods.PeriodStatusOpen},
	}
	repo.templates[1] = monthlyTemplate(1)
	svc, auditPort := newTestService(repo, 1)

	res, err := svc.RunSchedulingPass(context.Background(), admin, date(2025, 2, 1))
	require.NoError(t, err)
	require.Equal(t, 1, res.InvoicesCreated)

	require.Len(t, repo.journals, 1)
	require.Equal(t, int64(2), repo.journals[0].PeriodID)
	require.Equal(t, date(2025, 2, 1), repo.journals[0].Date)
	require.Contains(t, auditPort.records[0].Note, "fallback period")
}

func TestSchedulingPassFailsWithoutAnyOpenPeriod(t *testing.T) {
	repo := newMockRepository()
	repo.templates[1] = monthlyTemplate(1)
	svc, auditPort := newTestService(repo, 0)

	res, err := svc.RunSchedulingPass(context.Background(), admin, date(2025, 2, 1))
	require.NoError(t, err)
	require.Zero(t, res.InvoicesCreated)
	require.Len(t, res.Failures, 1)
	require.Contains(t, res.Failures[0].Reason, "no open period")
	require.Len(t, auditPort.failures, 1)
}

func TestSchedulingPassRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(newMockRepository(), 0)

	member := shared.Actor{TenantID: 1, UserID: 3, Role: shared.RoleMember}
	_, err := svc.RunSchedulingPass(context.Background(), member, time.Time{})
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.RunSchedulingPass(context.Background(), shared.Actor{}, time.Time{})
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestRunForAllTenants(t *testing.T) {
	repo := newMockRepository()
	repo.periods = append(openPeriodsFor2025(1), periods.Period{
		ID: 20, TenantID: 2, Code: "2025-01", StartDate: date(2025, 1, 1), EndDate: date(2026, 1, 1), Status: periods.PeriodStatusOpen,
	})
	repo.templates[1] = monthlyTemplate(1)
	tpl2 := monthlyTemplate(2)
	tpl2.TenantID = 2
	repo.templates[2] = tpl2

	auditPort := &recordingAudit{}
	svc := NewService(repo, auditPort, &stubTenants{tenants: []tenants.Tenant{{ID: 1}, {ID: 2}}}, nil, 0)
	svc.WithNow(func() time.Time { return date(2025, 2, 1) })

	results, err := svc.RunForAllTenants(context.Background(), date(2025, 2, 1))
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		require.Equal(t, 1, res.InvoicesCreated)
	}
}
