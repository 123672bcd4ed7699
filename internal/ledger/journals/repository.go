package journals

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline/ledgerline/internal/ledger/periods"
	ledgershared "github.com/ledgerline/ledgerline/internal/ledger/shared"
)

// Repository encapsulates DB operations for journals. Period reads happen
// inside the posting transaction so close cannot race a concurrent post.
type Repository interface {
	Get(ctx context.Context, tenantID, entryID int64) (JournalEntry, error)
	List(ctx context.Context, tenantID int64, in ListInput) ([]JournalEntry, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	InsertEntry(ctx context.Context, tenantID, postedBy int64, in PostingInput) (JournalEntry, error)
	GetJournalWithLines(ctx context.Context, tenantID, entryID int64) (JournalEntry, []JournalLine, error)
	LookupAccounts(ctx context.Context, tenantID int64, ids []int64) (map[int64]AccountRef, error)

	// Period operations needed within journal transactions.
	GetPeriodForUpdate(ctx context.Context, tenantID, periodID int64) (periods.Period, error)
	GetNextOpenPeriodOnOrAfter(ctx context.Context, tenantID int64, date time.Time) (periods.Period, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a Postgres-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const entryColumns = `id, tenant_id, number, period_id, date, source_module, source_id, memo, posted_by, posted_at, status, created_at, updated_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.TenantID, &e.Number, &e.PeriodID, &e.Date, &e.SourceModule, &e.SourceID, &e.Memo, &e.PostedBy, &e.PostedAt, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ledgershared.ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	return e, nil
}

func (r *repository) Get(ctx context.Context, tenantID, entryID int64) (JournalEntry, error) {
	entry, err := scanEntry(r.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE tenant_id=$1 AND id=$2`, tenantID, entryID))
	if err != nil {
		return JournalEntry{}, err
	}
	lines, err := queryLines(ctx, r.db, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

func (r *repository) List(ctx context.Context, tenantID int64, in ListInput) ([]JournalEntry, error) {
	pageSize := in.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	page := in.Page
	if page <= 0 {
		page = 1
	}
	rows, err := r.db.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries
WHERE tenant_id=$1 AND ($2=0 OR period_id=$2)
ORDER BY number DESC LIMIT $3 OFFSET $4`, tenantID, in.PeriodID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q querier, entryID int64) ([]JournalLine, error) {
	rows, err := q.Query(ctx, `SELECT id, je_id, account_id, debit, credit, currency, created_at, updated_at
FROM journal_lines WHERE je_id=$1 ORDER BY id ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.JournalID, &line.AccountID, &line.Debit, &line.Credit, &line.Currency, &line.CreatedAt, &line.UpdatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// InsertEntryTx persists an entry with its lines and source link inside an
// existing transaction. Billing passes reuse it so invoice creation, posting
// and template advancement commit or roll back together.
func InsertEntryTx(ctx context.Context, tx pgx.Tx, tenantID, postedBy int64, in PostingInput) (JournalEntry, error) {
	row := tx.QueryRow(ctx, `INSERT INTO journal_entries (tenant_id, period_id, date, source_module, source_id, memo, posted_by, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,'POSTED') RETURNING id, number, posted_at, created_at, updated_at`,
		tenantID, in.PeriodID, in.Date, in.SourceModule, in.SourceID, in.Memo, postedBy)
	var entry JournalEntry
	entry.TenantID = tenantID
	entry.PeriodID = in.PeriodID
	entry.Date = in.Date
	entry.SourceModule = in.SourceModule
	entry.SourceID = in.SourceID
	entry.Memo = in.Memo
	entry.PostedBy = postedBy
	entry.Status = JournalStatusPosted
	if err := row.Scan(&entry.ID, &entry.Number, &entry.PostedAt, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return JournalEntry{}, err
	}
	for _, line := range in.Lines {
		if _, err := tx.Exec(ctx, `INSERT INTO journal_lines (je_id, account_id, debit, credit, currency)
VALUES ($1,$2,$3,$4,$5)`, entry.ID, line.AccountID, line.Debit, line.Credit, line.Currency); err != nil {
			return JournalEntry{}, err
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO source_links (tenant_id, module, ref_id, je_id) VALUES ($1,$2,$3,$4)`,
		tenantID, in.SourceModule, in.SourceID, entry.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return JournalEntry{}, ledgershared.ErrSourceConflict
		}
		return JournalEntry{}, err
	}
	entry.Lines = make([]JournalLine, 0, len(in.Lines))
	for _, line := range in.Lines {
		entry.Lines = append(entry.Lines, JournalLine{
			JournalID: entry.ID,
			AccountID: line.AccountID,
			Debit:     line.Debit,
			Credit:    line.Credit,
			Currency:  line.Currency,
		})
	}
	return entry, nil
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertEntry(ctx context.Context, tenantID, postedBy int64, in PostingInput) (JournalEntry, error) {
	return InsertEntryTx(ctx, r.tx, tenantID, postedBy, in)
}

func (r *txRepository) GetJournalWithLines(ctx context.Context, tenantID, entryID int64) (JournalEntry, []JournalLine, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE tenant_id=$1 AND id=$2`, tenantID, entryID))
	if err != nil {
		return JournalEntry{}, nil, err
	}
	lines, err := queryLines(ctx, r.tx, entryID)
	if err != nil {
		return JournalEntry{}, nil, err
	}
	return entry, lines, nil
}

func (r *txRepository) LookupAccounts(ctx context.Context, tenantID int64, ids []int64) (map[int64]AccountRef, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, currency, is_active FROM accounts WHERE tenant_id=$1 AND id = ANY($2)`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]AccountRef, len(ids))
	for rows.Next() {
		var ref AccountRef
		if err := rows.Scan(&ref.ID, &ref.Currency, &ref.Active); err != nil {
			return nil, err
		}
		out[ref.ID] = ref
	}
	return out, rows.Err()
}

func (r *txRepository) GetPeriodForUpdate(ctx context.Context, tenantID, periodID int64) (periods.Period, error) {
	return periods.GetForUpdateTx(ctx, r.tx, tenantID, periodID)
}

func (r *txRepository) GetNextOpenPeriodOnOrAfter(ctx context.Context, tenantID int64, date time.Time) (periods.Period, error) {
	return periods.NextOpenOnOrAfterTx(ctx, r.tx, tenantID, date)
}
