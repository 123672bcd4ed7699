package templates

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	ledgershared "github.com/ledgerline/ledgerline/internal/ledger/shared"
)

// Repository encapsulates DB operations for recurring templates.
type Repository interface {
	Insert(ctx context.Context, t RecurringTemplate) (RecurringTemplate, error)
	Get(ctx context.Context, tenantID, id int64) (RecurringTemplate, error)
	List(ctx context.Context, tenantID int64, activeOnly bool) ([]RecurringTemplate, error)
	ListDue(ctx context.Context, tenantID int64, asOf time.Time) ([]RecurringTemplate, error)
	Update(ctx context.Context, t RecurringTemplate) error
	SetActive(ctx context.Context, tenantID, id int64, active bool) error
	AccountsExist(ctx context.Context, tenantID int64, ids []int64) (bool, error)
	HasInvoices(ctx context.Context, tenantID, id int64) (bool, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a Postgres-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const templateColumns = `id, tenant_id, name, cadence, amount, tax_rate, currency, receivable_account_id, revenue_account_id, deferred_account_id, start_date, end_date, next_billing_date, recognition, recognition_periods, active, created_at, updated_at`

func scanTemplate(row pgx.Row) (RecurringTemplate, error) {
	var t RecurringTemplate
	err := row.Scan(&t.ID, &t.TenantID, &t.Name, &t.Cadence, &t.Amount, &t.TaxRate, &t.Currency,
		&t.ReceivableAccountID, &t.RevenueAccountID, &t.DeferredAccountID,
		&t.StartDate, &t.EndDate, &t.NextBillingDate, &t.Recognition, &t.RecognitionPeriods,
		&t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RecurringTemplate{}, ledgershared.ErrTemplateNotFound
		}
		return RecurringTemplate{}, err
	}
	return t, nil
}

func (r *repository) Insert(ctx context.Context, t RecurringTemplate) (RecurringTemplate, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO recurring_templates
(tenant_id, name, cadence, amount, tax_rate, currency, receivable_account_id, revenue_account_id, deferred_account_id, start_date, end_date, next_billing_date, recognition, recognition_periods, active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,TRUE)
RETURNING `+templateColumns,
		t.TenantID, t.Name, t.Cadence, t.Amount, t.TaxRate, t.Currency,
		t.ReceivableAccountID, t.RevenueAccountID, t.DeferredAccountID,
		t.StartDate, t.EndDate, t.NextBillingDate, t.Recognition, t.RecognitionPeriods)
	return scanTemplate(row)
}

func (r *repository) Get(ctx context.Context, tenantID, id int64) (RecurringTemplate, error) {
	return scanTemplate(r.db.QueryRow(ctx, `SELECT `+templateColumns+` FROM recurring_templates WHERE tenant_id=$1 AND id=$2`, tenantID, id))
}

func (r *repository) List(ctx context.Context, tenantID int64, activeOnly bool) ([]RecurringTemplate, error) {
	rows, err := r.db.Query(ctx, `SELECT `+templateColumns+` FROM recurring_templates
WHERE tenant_id=$1 AND ($2=FALSE OR active) ORDER BY id`, tenantID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTemplates(rows)
}

// ListDue returns active templates with a billing window open before asOf.
func (r *repository) ListDue(ctx context.Context, tenantID int64, asOf time.Time) ([]RecurringTemplate, error) {
	rows, err := r.db.Query(ctx, `SELECT `+templateColumns+` FROM recurring_templates
WHERE tenant_id=$1 AND active AND next_billing_date < $2
ORDER BY next_billing_date, id`, tenantID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTemplates(rows)
}

func collectTemplates(rows pgx.Rows) ([]RecurringTemplate, error) {
	var out []RecurringTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repository) Update(ctx context.Context, t RecurringTemplate) error {
	cmd, err := r.db.Exec(ctx, `UPDATE recurring_templates SET
name=$3, cadence=$4, amount=$5, tax_rate=$6, end_date=$7, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, t.TenantID, t.ID, t.Name, t.Cadence, t.Amount, t.TaxRate, t.EndDate)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ledgershared.ErrTemplateNotFound
	}
	return nil
}

func (r *repository) SetActive(ctx context.Context, tenantID, id int64, active bool) error {
	cmd, err := r.db.Exec(ctx, `UPDATE recurring_templates SET active=$3, updated_at=NOW() WHERE tenant_id=$1 AND id=$2`, tenantID, id, active)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ledgershared.ErrTemplateNotFound
	}
	return nil
}

func (r *repository) AccountsExist(ctx context.Context, tenantID int64, ids []int64) (bool, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE tenant_id=$1 AND is_active AND id = ANY($2)`, tenantID, ids).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == len(ids), nil
}

func (r *repository) HasInvoices(ctx context.Context, tenantID, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subscription_invoices WHERE tenant_id=$1 AND template_id=$2)`, tenantID, id).Scan(&exists)
	return exists, err
}
