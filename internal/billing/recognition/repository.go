package recognition

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/billing/invoices"
	"github.com/ledgerline/ledgerline/internal/ledger/journals"
	"github.com/ledgerline/ledgerline/internal/ledger/periods"
	ledgershared "github.com/ledgerline/ledgerline/internal/ledger/shared"
)

// Repository gives the recognition pass its per-entry transaction boundary.
type Repository interface {
	ListDue(ctx context.Context, tenantID int64, asOf time.Time) ([]invoices.ScheduleEntry, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a recognition transaction.
type TxRepository interface {
	GetEntryForUpdate(ctx context.Context, tenantID, id int64) (invoices.ScheduleEntry, error)
	GetInvoiceForUpdate(ctx context.Context, tenantID, id int64) (invoices.SubscriptionInvoice, error)
	MarkRecognized(ctx context.Context, tenantID, entryID, journalEntryID int64, at time.Time) error
	AddRecognizedAmount(ctx context.Context, tenantID, invoiceID int64, amount decimal.Decimal) error
	FindOpenPeriodByDate(ctx context.Context, tenantID int64, date time.Time) (periods.Period, error)
	NextOpenPeriodOnOrAfter(ctx context.Context, tenantID int64, date time.Time) (periods.Period, error)
	PostJournal(ctx context.Context, tenantID, postedBy int64, in journals.PostingInput) (journals.JournalEntry, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a Postgres-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) ListDue(ctx context.Context, tenantID int64, asOf time.Time) ([]invoices.ScheduleEntry, error) {
	rows, err := r.db.Query(ctx, `SELECT `+invoices.ScheduleColumns+` FROM revenue_schedule_entries
WHERE tenant_id=$1 AND NOT recognized AND target_date <= $2 ORDER BY target_date, id`, tenantID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []invoices.ScheduleEntry
	for rows.Next() {
		e, err := invoices.ScanScheduleEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
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

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, tenantID, id int64) (invoices.ScheduleEntry, error) {
	return invoices.ScanScheduleEntry(r.tx.QueryRow(ctx, `SELECT `+invoices.ScheduleColumns+` FROM revenue_schedule_entries
WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
}

func (r *txRepository) GetInvoiceForUpdate(ctx context.Context, tenantID, id int64) (invoices.SubscriptionInvoice, error) {
	return invoices.ScanInvoice(r.tx.QueryRow(ctx, `SELECT `+invoices.InvoiceColumns+` FROM subscription_invoices
WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
}

func (r *txRepository) MarkRecognized(ctx context.Context, tenantID, entryID, journalEntryID int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE revenue_schedule_entries
SET recognized=TRUE, recognized_at=$3, journal_entry_id=$4, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2 AND NOT recognized`, tenantID, entryID, at, journalEntryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ledgershared.ErrInvalidTransition
	}
	return nil
}

// AddRecognizedAmount increments the invoice counter, refusing any increment
// that would push it past the invoice total.
func (r *txRepository) AddRecognizedAmount(ctx context.Context, tenantID, invoiceID int64, amount decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE subscription_invoices
SET recognized_amount = recognized_amount + $3, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2 AND recognized_amount + $3 <= total`, tenantID, invoiceID, amount)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ledgershared.ErrInvalidAmount
	}
	return nil
}

func (r *txRepository) FindOpenPeriodByDate(ctx context.Context, tenantID int64, date time.Time) (periods.Period, error) {
	return periods.FindOpenByDateTx(ctx, r.tx, tenantID, date)
}

func (r *txRepository) NextOpenPeriodOnOrAfter(ctx context.Context, tenantID int64, date time.Time) (periods.Period, error) {
	return periods.NextOpenOnOrAfterTx(ctx, r.tx, tenantID, date)
}

func (r *txRepository) PostJournal(ctx context.Context, tenantID, postedBy int64, in journals.PostingInput) (journals.JournalEntry, error) {
	return journals.InsertEntryTx(ctx, r.tx, tenantID, postedBy, in)
}
