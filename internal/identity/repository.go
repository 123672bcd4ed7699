package identity

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline/ledgerline/internal/shared"
)

// Repository encapsulates DB operations for API tokens.
type Repository interface {
	Get(ctx context.Context, id int64) (APIToken, error)
	Insert(ctx context.Context, token APIToken) (APIToken, error)
	TouchLastUsed(ctx context.Context, id int64, at time.Time) error
	Revoke(ctx context.Context, tenantID, id int64) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a Postgres-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const tokenColumns = `id, tenant_id, user_id, name, secret_hash, role, is_active, last_used_at, created_at, updated_at`

func scanToken(row pgx.Row) (APIToken, error) {
	var t APIToken
	err := row.Scan(&t.ID, &t.TenantID, &t.UserID, &t.Name, &t.SecretHash, &t.Role, &t.IsActive, &t.LastUsedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return APIToken{}, shared.ErrNotFound
		}
		return APIToken{}, err
	}
	return t, nil
}

func (r *repository) Get(ctx context.Context, id int64) (APIToken, error) {
	return scanToken(r.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM api_tokens WHERE id=$1`, id))
}

func (r *repository) Insert(ctx context.Context, token APIToken) (APIToken, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO api_tokens (tenant_id, user_id, name, secret_hash, role, is_active)
VALUES ($1,$2,$3,$4,$5,TRUE) RETURNING `+tokenColumns,
		token.TenantID, token.UserID, token.Name, token.SecretHash, token.Role)
	return scanToken(row)
}

func (r *repository) TouchLastUsed(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE api_tokens SET last_used_at=$2 WHERE id=$1`, id, at)
	return err
}

func (r *repository) Revoke(ctx context.Context, tenantID, id int64) error {
	cmd, err := r.db.Exec(ctx, `UPDATE api_tokens SET is_active=FALSE, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
