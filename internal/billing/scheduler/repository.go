package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline/ledgerline/internal/billing/invoices"
	"github.com/ledgerline/ledgerline/internal/billing/templates"
	"github.com/ledgerline/ledgerline/internal/ledger/journals"
	"github.com/ledgerline/ledgerline/internal/ledger/periods"
	ledgershared "github.com/ledgerline/ledgerline/internal/ledger/shared"
)

// Repository gives the scheduling pass its per-window transaction boundary.
// Invoice creation, journal posting and template advancement commit together
// so a crash can never leave a half-billed window.
type Repository interface {
	ListDueTemplates(ctx context.Context, tenantID int64, asOf time.Time) ([]templates.RecurringTemplate, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a window transaction.
type TxRepository interface {
	GetTemplateForUpdate(ctx context.Context, tenantID, id int64) (templates.RecurringTemplate, error)
	InsertInvoice(ctx context.Context, inv invoices.SubscriptionInvoice) (invoices.SubscriptionInvoice, error)
	InsertScheduleEntries(ctx context.Context, entries []invoices.ScheduleEntry) error
	AdvanceTemplate(ctx context.Context, tenantID, id int64, next time.Time, active bool) error
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

const templateColumns = `id, tenant_id, name, cadence, amount, tax_rate, currency, receivable_account_id, revenue_account_id, deferred_account_id, start_date, end_date, next_billing_date, recognition, recognition_periods, active, created_at, updated_at`

func scanTemplate(row pgx.Row) (templates.RecurringTemplate, error) {
	var t templates.RecurringTemplate
	err := row.Scan(&t.ID, &t.TenantID, &t.Name, &t.Cadence, &t.Amount, &t.TaxRate, &t.Currency,
		&t.ReceivableAccountID, &t.RevenueAccountID, &t.DeferredAccountID,
		&t.StartDate, &t.EndDate, &t.NextBillingDate, &t.Recognition, &t.RecognitionPeriods,
		&t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return templates.RecurringTemplate{}, ledgershared.ErrTemplateNotFound
		}
		return templates.RecurringTemplate{}, err
	}
	return t, nil
}

func (r *repository) ListDueTemplates(ctx context.Context, tenantID int64, asOf time.Time) ([]templates.RecurringTemplate, error) {
	rows, err := r.db.Query(ctx, `SELECT `+templateColumns+` FROM recurring_templates
WHERE tenant_id=$1 AND active AND next_billing_date < $2 ORDER BY next_billing_date, id`, tenantID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []templates.RecurringTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
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

func (r *txRepository) GetTemplateForUpdate(ctx context.Context, tenantID, id int64) (templates.RecurringTemplate, error) {
	return scanTemplate(r.tx.QueryRow(ctx, `SELECT `+templateColumns+` FROM recurring_templates
WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
}

func (r *txRepository) InsertInvoice(ctx context.Context, inv invoices.SubscriptionInvoice) (invoices.SubscriptionInvoice, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO subscription_invoices
(tenant_id, template_id, public_id, window_start, window_end, currency, subtotal, tax, total, status, recognition, recognition_periods, recognized_amount, receivable_account_id, revenue_account_id, deferred_account_id, issued_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
RETURNING `+invoices.InvoiceColumns,
		inv.TenantID, inv.TemplateID, inv.PublicID, inv.WindowStart, inv.WindowEnd, inv.Currency,
		inv.Subtotal, inv.Tax, inv.Total, inv.Status, inv.Recognition, inv.RecognitionPeriods,
		inv.RecognizedAmount, inv.ReceivableAccountID, inv.RevenueAccountID, inv.DeferredAccountID, inv.IssuedAt)
	inserted, err := invoices.ScanInvoice(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return invoices.SubscriptionInvoice{}, ledgershared.ErrDuplicateWindow
		}
		return invoices.SubscriptionInvoice{}, err
	}
	return inserted, nil
}

func (r *txRepository) InsertScheduleEntries(ctx context.Context, entries []invoices.ScheduleEntry) error {
	for _, e := range entries {
		if _, err := r.tx.Exec(ctx, `INSERT INTO revenue_schedule_entries
(tenant_id, invoice_id, sequence, target_date, amount, recognized)
VALUES ($1,$2,$3,$4,$5,FALSE)`, e.TenantID, e.InvoiceID, e.Sequence, e.TargetDate, e.Amount); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) AdvanceTemplate(ctx context.Context, tenantID, id int64, next time.Time, active bool) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE recurring_templates SET next_billing_date=$3, active=$4, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, tenantID, id, next, active)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ledgershared.ErrTemplateNotFound
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
