package tenants

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline/ledgerline/internal/shared"
)

// Repository encapsulates DB operations for tenants.
type Repository interface {
	Insert(ctx context.Context, in CreateInput) (Tenant, error)
	Get(ctx context.Context, id int64) (Tenant, error)
	ListActive(ctx context.Context) ([]Tenant, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a Postgres-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const tenantColumns = `id, name, default_currency, fiscal_year_start, timezone, status, created_at, updated_at`

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Name, &t.DefaultCurrency, &t.FiscalYearStart, &t.Timezone, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, shared.ErrNotFound
		}
		return Tenant{}, err
	}
	return t, nil
}

func (r *repository) Insert(ctx context.Context, in CreateInput) (Tenant, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO tenants (name, default_currency, fiscal_year_start, timezone, status)
VALUES ($1,$2,$3,$4,'ACTIVE') RETURNING `+tenantColumns, in.Name, in.DefaultCurrency, in.FiscalYearStart, in.Timezone)
	return scanTenant(row)
}

func (r *repository) Get(ctx context.Context, id int64) (Tenant, error) {
	row := r.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id=$1`, id)
	return scanTenant(row)
}

func (r *repository) ListActive(ctx context.Context) ([]Tenant, error) {
	rows, err := r.db.Query(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE status='ACTIVE' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	cmd, err := r.db.Exec(ctx, `UPDATE tenants SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
