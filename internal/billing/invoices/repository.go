package invoices

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	ledgershared "github.com/ledgerline/ledgerline/internal/ledger/shared"
)

// Repository encapsulates DB reads and status moves for invoices. Creation
// happens inside the scheduler's transaction, not here.
type Repository interface {
	Get(ctx context.Context, tenantID, id int64) (SubscriptionInvoice, error)
	List(ctx context.Context, tenantID int64, in ListInput) ([]SubscriptionInvoice, error)
	ListSchedule(ctx context.Context, tenantID, invoiceID int64) ([]ScheduleEntry, error)
	UpdateStatus(ctx context.Context, tenantID, id int64, from, to Status) error
	CancelSchedule(ctx context.Context, tenantID, invoiceID int64) error
}

// ListInput narrows invoice listings.
type ListInput struct {
	TemplateID int64
	Status     Status
	From       time.Time
	Page       int
	PageSize   int
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a Postgres-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// InvoiceColumns is the canonical select list, shared with the scheduler's
// transactional inserts.
const InvoiceColumns = `id, tenant_id, template_id, public_id, window_start, window_end, currency, subtotal, tax, total, status, recognition, recognition_periods, recognized_amount, receivable_account_id, revenue_account_id, deferred_account_id, issued_at, created_at, updated_at`

// ScanInvoice scans one invoice row in InvoiceColumns order.
func ScanInvoice(row pgx.Row) (SubscriptionInvoice, error) {
	var inv SubscriptionInvoice
	err := row.Scan(&inv.ID, &inv.TenantID, &inv.TemplateID, &inv.PublicID, &inv.WindowStart, &inv.WindowEnd,
		&inv.Currency, &inv.Subtotal, &inv.Tax, &inv.Total, &inv.Status, &inv.Recognition, &inv.RecognitionPeriods,
		&inv.RecognizedAmount, &inv.ReceivableAccountID, &inv.RevenueAccountID, &inv.DeferredAccountID,
		&inv.IssuedAt, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SubscriptionInvoice{}, ledgershared.ErrInvoiceNotFound
		}
		return SubscriptionInvoice{}, err
	}
	return inv, nil
}

func (r *repository) Get(ctx context.Context, tenantID, id int64) (SubscriptionInvoice, error) {
	return ScanInvoice(r.db.QueryRow(ctx, `SELECT `+InvoiceColumns+` FROM subscription_invoices WHERE tenant_id=$1 AND id=$2`, tenantID, id))
}

func (r *repository) List(ctx context.Context, tenantID int64, in ListInput) ([]SubscriptionInvoice, error) {
	pageSize := in.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	page := in.Page
	if page <= 0 {
		page = 1
	}
	rows, err := r.db.Query(ctx, `SELECT `+InvoiceColumns+` FROM subscription_invoices
WHERE tenant_id=$1
  AND ($2=0 OR template_id=$2)
  AND ($3='' OR status=$3)
  AND ($4::timestamptz IS NULL OR window_start >= $4)
ORDER BY window_start DESC, id DESC LIMIT $5 OFFSET $6`,
		tenantID, in.TemplateID, string(in.Status), nullTime(in.From), pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SubscriptionInvoice
	for rows.Next() {
		inv, err := ScanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// ScheduleColumns is the canonical select list for schedule entries.
const ScheduleColumns = `id, tenant_id, invoice_id, sequence, target_date, amount, recognized, recognized_at, journal_entry_id, created_at, updated_at`

// ScanScheduleEntry scans one schedule row in ScheduleColumns order.
func ScanScheduleEntry(row pgx.Row) (ScheduleEntry, error) {
	var e ScheduleEntry
	err := row.Scan(&e.ID, &e.TenantID, &e.InvoiceID, &e.Sequence, &e.TargetDate, &e.Amount,
		&e.Recognized, &e.RecognizedAt, &e.JournalEntryID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ScheduleEntry{}, ledgershared.ErrInvoiceNotFound
		}
		return ScheduleEntry{}, err
	}
	return e, nil
}

func (r *repository) ListSchedule(ctx context.Context, tenantID, invoiceID int64) ([]ScheduleEntry, error) {
	rows, err := r.db.Query(ctx, `SELECT `+ScheduleColumns+` FROM revenue_schedule_entries
WHERE tenant_id=$1 AND invoice_id=$2 ORDER BY sequence`, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ScheduleEntry
	for rows.Next() {
		e, err := ScanScheduleEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repository) UpdateStatus(ctx context.Context, tenantID, id int64, from, to Status) error {
	cmd, err := r.db.Exec(ctx, `UPDATE subscription_invoices SET status=$4, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2 AND status=$3`, tenantID, id, from, to)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ledgershared.ErrInvalidTransition
	}
	return nil
}

func (r *repository) CancelSchedule(ctx context.Context, tenantID, invoiceID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM revenue_schedule_entries
WHERE tenant_id=$1 AND invoice_id=$2 AND NOT recognized`, tenantID, invoiceID)
	return err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
