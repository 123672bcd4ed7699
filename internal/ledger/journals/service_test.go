package journals

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/ledgerline/internal/audit"
	"github.com/ledgerline/ledgerline/internal/ledger/periods"
	ledgershared "github.com/ledgerline/ledgerline/internal/ledger/shared"
	"github.com/ledgerline/ledgerline/internal/shared"
)

type mockRepository struct {
	periods  map[int64]periods.Period
	accounts map[int64]AccountRef
	entries  map[int64]JournalEntry
	lines    map[int64][]JournalLine
	nextID   int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		periods:  make(map[int64]periods.Period),
		accounts: make(map[int64]AccountRef),
		entries:  make(map[int64]JournalEntry),
		lines:    make(map[int64][]JournalLine),
		nextID:   1,
	}
}

func (m *mockRepository) Get(ctx context.Context, tenantID, entryID int64) (JournalEntry, error) {
	e, ok := m.entries[entryID]
	if !ok || e.TenantID != tenantID {
		return JournalEntry{}, ledgershared.ErrEntryNotFound
	}
	e.Lines = m.lines[entryID]
	return e, nil
}

func (m *mockRepository) List(ctx context.Context, tenantID int64, in ListInput) ([]JournalEntry, error) {
	var out []JournalEntry
	for _, e := range m.entries {
		if e.TenantID == tenantID {
			out = append(out, e)
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

func (t *mockTxRepo) InsertEntry(ctx context.Context, tenantID, postedBy int64, in PostingInput) (JournalEntry, error) {
	id := t.mock.nextID
	t.mock.nextID++
	entry := JournalEntry{
		ID:           id,
		TenantID:     tenantID,
		Number:       id,
		PeriodID:     in.PeriodID,
		Date:         in.Date,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		Memo:         in.Memo,
		PostedBy:     postedBy,
		Status:       JournalStatusPosted,
	}
	t.mock.entries[id] = entry
	t.mock.lines[id] = toJournalLines(id, in.Lines, time.Now())
	return entry, nil
}

func (t *mockTxRepo) GetJournalWithLines(ctx context.Context, tenantID, entryID int64) (JournalEntry, []JournalLine, error) {
	e, ok := t.mock.entries[entryID]
	if !ok || e.TenantID != tenantID {
		return JournalEntry{}, nil, ledgershared.ErrEntryNotFound
	}
	return e, t.mock.lines[entryID], nil
}

func (t *mockTxRepo) LookupAccounts(ctx context.Context, tenantID int64, ids []int64) (map[int64]AccountRef, error) {
	out := make(map[int64]AccountRef)
	for _, id := range ids {
		if ref, ok := t.mock.accounts[id]; ok {
			out[id] = ref
		}
	}
	return out, nil
}

func (t *mockTxRepo) GetPeriodForUpdate(ctx context.Context, tenantID, periodID int64) (periods.Period, error) {
	p, ok := t.mock.periods[periodID]
	if !ok {
		return periods.Period{}, ledgershared.ErrPeriodNotFound
	}
	return p, nil
}

func (t *mockTxRepo) GetNextOpenPeriodOnOrAfter(ctx context.Context, tenantID int64, date time.Time) (periods.Period, error) {
	var best periods.Period
	found := false
	for _, p := range t.mock.periods {
		if p.Status != periods.PeriodStatusOpen || !p.EndDate.After(date) {
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

type recordingAudit struct {
	records []audit.Record
}

func (a *recordingAudit) Record(ctx context.Context, rec audit.Record) error {
	a.records = append(a.records, rec)
	return nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestService(t *testing.T) (*Service, *mockRepository, *recordingAudit) {
	t.Helper()
	repo := newMockRepository()
	repo.periods[1] = periods.Period{ID: 1, TenantID: 1, Code: "2025-01", StartDate: date(2025, 1, 1), EndDate: date(2025, 2, 1), Status: periods.PeriodStatusOpen}
	repo.accounts[10] = AccountRef{ID: 10, Currency: "USD", Active: true}
	repo.accounts[20] = AccountRef{ID: 20, Currency: "USD", Active: true}
	auditPort := &recordingAudit{}
	svc := NewService(repo, auditPort, nil)
	svc.WithNow(func() time.Time { return date(2025, 1, 15) })
	return svc, repo, auditPort
}

func balancedInput() PostingInput {
	return PostingInput{
		PeriodID:     1,
		Date:         date(2025, 1, 10),
		SourceModule: "MANUAL",
		SourceID:     uuid.New(),
		Memo:         "office rent",
		Lines: []PostingLineInput{
			{AccountID: 10, Debit: decimal.NewFromInt(100), Currency: "USD"},
			{AccountID: 20, Credit: decimal.NewFromInt(100), Currency: "USD"},
		},
	}
}

func TestPostEntryHappyPath(t *testing.T) {
	svc, _, auditPort := newTestService(t)
	actor := shared.Actor{TenantID: 1, UserID: 7, Role: shared.RoleMember}

	entry, err := svc.PostEntry(context.Background(), actor, balancedInput())
	require.NoError(t, err)
	require.Equal(t, int64(1), entry.PeriodID)
	require.Len(t, entry.Lines, 2)
	require.Equal(t, JournalStatusPosted, entry.Status)
	require.Len(t, auditPort.records, 1)
	require.Equal(t, "journal_entries", auditPort.records[0].TableName)
}

func TestPostEntryRejectsUnbalanced(t *testing.T) {
	svc, _, _ := newTestService(t)
	actor := shared.Actor{TenantID: 1, UserID: 7}

	input := balancedInput()
	input.Lines[1].Credit = decimal.NewFromInt(90)
	_, err := svc.PostEntry(context.Background(), actor, input)
	require.ErrorIs(t, err, ledgershared.ErrUnbalanced)
}

func TestPostEntryRejectsSingleLine(t *testing.T) {
	svc, _, _ := newTestService(t)
	actor := shared.Actor{TenantID: 1, UserID: 7}

	input := balancedInput()
	input.Lines = input.Lines[:1]
	_, err := svc.PostEntry(context.Background(), actor, input)
	require.ErrorIs(t, err, ledgershared.ErrTooFewLines)
}

func TestPostEntryRejectsNegativeAmount(t *testing.T) {
	svc, _, _ := newTestService(t)
	actor := shared.Actor{TenantID: 1, UserID: 7}

	input := balancedInput()
	input.Lines[0].Debit = decimal.NewFromInt(-100)
	_, err := svc.PostEntry(context.Background(), actor, input)
	require.ErrorIs(t, err, ledgershared.ErrInvalidAmount)
}

func TestPostEntryRejectsTwoSidedLine(t *testing.T) {
	svc, _, _ := newTestService(t)
	actor := shared.Actor{TenantID: 1, UserID: 7}

	input := balancedInput()
	input.Lines[0].Credit = decimal.NewFromInt(5)
	_, err := svc.PostEntry(context.Background(), actor, input)
	require.ErrorIs(t, err, ledgershared.ErrInvalidAmount)
}

func TestPostEntryRejectsClosedPeriod(t *testing.T) {
	svc, repo, _ := newTestService(t)
	actor := shared.Actor{TenantID: 1, UserID: 7}

	p := repo.periods[1]
	p.Status = periods.PeriodStatusClosed
	repo.periods[1] = p

	_, err := svc.PostEntry(context.Background(), actor, balancedInput())
	require.ErrorIs(t, err, ledgershared.ErrPeriodClosed)
}

func TestPostEntryRejectsLockedPeriod(t *testing.T) {
	svc, repo, _ := newTestService(t)
	actor := shared.Actor{TenantID: 1, UserID: 7}

	p := repo.periods[1]
	p.Status = periods.PeriodStatusLocked
	repo.periods[1] = p

	_, err := svc.PostEntry(context.Background(), actor, balancedInput())
	require.ErrorIs(t, err, ledgershared.ErrPeriodLocked)
}

func TestPostEntryRejectsUnknownAccount(t *testing.T) {
	svc, _, _ := newTestService(t)
	actor := shared.Actor{TenantID: 1, UserID: 7}

	input := balancedInput()
	input.Lines[0].AccountID = 99
	_, err := svc.PostEntry(context.Background(), actor, input)
	require.ErrorIs(t, err, ledgershared.ErrUnknownAccount)
}

func TestPostEntryRejectsInactiveAccount(t *testing.T) {
	svc, repo, _ := newTestService(t)
	actor := shared.Actor{TenantID: 1, UserID: 7}

	repo.accounts[10] = AccountRef{ID: 10, Currency: "USD", Active: false}
	_, err := svc.PostEntry(context.Background(), actor, balancedInput())
	require.ErrorIs(t, err, ledgershared.ErrUnknownAccount)
}

func TestPostEntryRejectsCurrencyMismatch(t *testing.T) {
	svc, repo, _ := newTestService(t)
	actor := shared.Actor{TenantID: 1, UserID: 7}

	repo.accounts[10] = AccountRef{ID: 10, Currency: "EUR", Active: true}
	input := balancedInput()
	_, err := svc.PostEntry(context.Background(), actor, input)
	require.ErrorIs(t, err, ledgershared.ErrCurrencyMismatch)
}

func TestPostEntryRejectsDateOutsidePeriod(t *testing.T) {
	svc, _, _ := newTestService(t)
	actor := shared.Actor{TenantID: 1, UserID: 7}

	input := balancedInput()
	input.Date = date(2025, 2, 1) // end date is exclusive
	_, err := svc.PostEntry(context.Background(), actor, input)
	require.ErrorIs(t, err, ledgershared.ErrDateOutOfRange)
}

func TestPostEntryRequiresActor(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.PostEntry(context.Background(), shared.Actor{}, balancedInput())
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestPostEntryBalancesPerCurrency(t *testing.T) {
	svc, repo, _ := newTestService(t)
	actor := shared.Actor{TenantID: 1, UserID: 7}

	repo.accounts[30] = AccountRef{ID: 30, Currency: "EUR", Active: true}
	repo.accounts[40] = AccountRef{ID: 40, Currency: "EUR", Active: true}

	input := balancedInput()
	input.Lines = append(input.Lines,
		PostingLineInput{AccountID: 30, Debit: decimal.NewFromInt(50), Currency: "EUR"},
		PostingLineInput{AccountID: 40, Credit: decimal.NewFromInt(50), Currency: "EUR"},
	)
	_, err := svc.PostEntry(context.Background(), actor, input)
	require.NoError(t, err)

	// Same totals but crossed currencies must fail.
	bad := balancedInput()
	bad.Lines = append(bad.Lines,
		PostingLineInput{AccountID: 30, Debit: decimal.NewFromInt(50), Currency: "EUR"},
	)
	bad.Lines[1].Credit = decimal.NewFromInt(150)
	_, err = svc.PostEntry(context.Background(), actor, bad)
	require.ErrorIs(t, err, ledgershared.ErrUnbalanced)
}

func TestReverseEntrySamePeriod(t *testing.T) {
	svc, repo, _ := newTestService(t)
	actor := shared.Actor{TenantID: 1, UserID: 7}

	original, err := svc.PostEntry(context.Background(), actor, balancedInput())
	require.NoError(t, err)

	reversal, err := svc.ReverseEntry(context.Background(), actor, ReverseInput{EntryID: original.ID})
	require.NoError(t, err)
	require.Equal(t, original.PeriodID, reversal.PeriodID)
	require.Equal(t, "MANUAL:REVERSAL", reversal.SourceModule)
	require.Len(t, reversal.Lines, 2)
	// Debits and credits swap.
	require.True(t, reversal.Lines[0].Credit.Equal(decimal.NewFromInt(100)))
	require.True(t, reversal.Lines[1].Debit.Equal(decimal.NewFromInt(100)))
	require.Len(t, repo.entries, 2)
}

func TestReverseEntryFallsToNextOpenPeriod(t *testing.T) {
	svc, repo, _ := newTestService(t)
	actor := shared.Actor{TenantID: 1, UserID: 7}

	original, err := svc.PostEntry(context.Background(), actor, balancedInput())
	require.NoError(t, err)

	closed := repo.periods[1]
	closed.Status = periods.PeriodStatusClosed
	repo.periods[1] = closed
	repo.periods[2] = periods.Period{ID: 2, TenantID: 1, Code: "2025-02", StartDate: date(2025, 2, 1), EndDate: date(2025, 3, 1), Status: periods.PeriodStatusOpen}

	reversal, err := svc.ReverseEntry(context.Background(), actor, ReverseInput{EntryID: original.ID})
	require.NoError(t, err)
	require.Equal(t, int64(2), reversal.PeriodID)
	require.Equal(t, date(2025, 2, 1), reversal.Date)
}

func TestReverseEntryFailsWithoutOpenPeriod(t *testing.T) {
	svc, repo, _ := newTestService(t)
	actor := shared.Actor{TenantID: 1, UserID: 7}

	original, err := svc.PostEntry(context.Background(), actor, balancedInput())
	require.NoError(t, err)

	closed := repo.periods[1]
	closed.Status = periods.PeriodStatusLocked
	repo.periods[1] = closed

	_, err = svc.ReverseEntry(context.Background(), actor, ReverseInput{EntryID: original.ID})
	require.ErrorIs(t, err, ledgershared.ErrPeriodClosed)
}

func TestReverseEntryUnknownEntry(t *testing.T) {
	svc, _, _ := newTestService(t)
	actor := shared.Actor{TenantID: 1, UserID: 7}

	_, err := svc.ReverseEntry(context.Background(), actor, ReverseInput{EntryID: 404})
	require.ErrorIs(t, err, ledgershared.ErrEntryNotFound)
}
