package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	ledgershared "github.com/ledgerline/ledgerline/internal/ledger/shared"
)

// ErrDuplicateCode indicates the account code is taken within the tenant.
var ErrDuplicateCode = errors.New("accounts: code already exists")

// Repository encapsulates DB operations for accounts.
type Repository interface {
	Insert(ctx context.Context, a Account) (Account, error)
	Get(ctx context.Context, tenantID, id int64) (Account, error)
	List(ctx context.Context, tenantID int64) ([]Account, error)
	Rename(ctx context.Context, tenantID, id int64, name string) error
	SetActive(ctx context.Context, tenantID, id int64, active bool) error
	HasPostedLines(ctx context.Context, tenantID, id int64) (bool, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a Postgres-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const accountColumns = `id, tenant_id, code, name, type, currency, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.TenantID, &a.Code, &a.Name, &a.Type, &a.Currency, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ledgershared.ErrUnknownAccount
		}
		return Account{}, err
	}
	return a, nil
}

func (r *repository) Insert(ctx context.Context, a Account) (Account, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO accounts (tenant_id, code, name, type, currency, is_active)
VALUES ($1,$2,$3,$4,$5,TRUE) RETURNING `+accountColumns, a.TenantID, a.Code, a.Name, a.Type, a.Currency)
	inserted, err := scanAccount(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, ErrDuplicateCode
		}
		return Account{}, err
	}
	return inserted, nil
}

func (r *repository) Get(ctx context.Context, tenantID, id int64) (Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return scanAccount(row)
}

func (r *repository) List(ctx context.Context, tenantID int64) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 ORDER BY code`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repository) Rename(ctx context.Context, tenantID, id int64, name string) error {
	cmd, err := r.db.Exec(ctx, `UPDATE accounts SET name=$3, updated_at=NOW() WHERE tenant_id=$1 AND id=$2`, tenantID, id, name)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ledgershared.ErrUnknownAccount
	}
	return nil
}

func (r *repository) SetActive(ctx context.Context, tenantID, id int64, active bool) error {
	cmd, err := r.db.Exec(ctx, `UPDATE accounts SET is_active=$3, updated_at=NOW() WHERE tenant_id=$1 AND id=$2`, tenantID, id, active)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ledgershared.ErrUnknownAccount
	}
	return nil
}

func (r *repository) HasPostedLines(ctx context.Context, tenantID, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM journal_lines l JOIN journal_entries e ON e.id = l.je_id
WHERE e.tenant_id=$1 AND l.account_id=$2)`, tenantID, id).Scan(&exists)
	return exists, err
}
