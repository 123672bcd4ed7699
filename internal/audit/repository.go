package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists and reads audit records. The table is append-only;
// there are deliberately no update or delete methods.
type Repository interface {
	Insert(ctx context.Context, rec Record) error
	Query(ctx context.Context, tenantID int64, f Filters, limit, offset int) ([]Record, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a Postgres-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) Insert(ctx context.Context, rec Record) error {
	oldJSON, err := json.Marshal(rec.OldValues)
	if err != nil {
		return err
	}
	newJSON, err := json.Marshal(rec.NewValues)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO audit_records (id, tenant_id, table_name, record_id, action, old_values, new_values, note, error_kind, actor_id, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		rec.ID, rec.TenantID, rec.TableName, rec.RecordID, rec.Action, oldJSON, newJSON, rec.Note, rec.ErrorKind, rec.ActorID, rec.OccurredAt)
	return err
}

func (r *repository) Query(ctx context.Context, tenantID int64, f Filters, limit, offset int) ([]Record, error) {
	rows, err := r.db.Query(ctx, `SELECT id, tenant_id, table_name, record_id, action, old_values, new_values, note, error_kind, actor_id, occurred_at
FROM audit_records
WHERE tenant_id=$1
  AND ($2='' OR table_name=$2)
  AND ($3='' OR action=$3)
  AND ($4::timestamptz IS NULL OR occurred_at >= $4)
  AND ($5::timestamptz IS NULL OR occurred_at < $5)
ORDER BY occurred_at DESC, id DESC
LIMIT $6 OFFSET $7`,
		tenantID, f.TableName, string(f.Action), nullTime(f.From), nullTime(f.To), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			rec      Record
			id       uuid.UUID
			oldJSON  []byte
			newJSON  []byte
		)
		if err := rows.Scan(&id, &rec.TenantID, &rec.TableName, &rec.RecordID, &rec.Action, &oldJSON, &newJSON, &rec.Note, &rec.ErrorKind, &rec.ActorID, &rec.OccurredAt); err != nil {
			return nil, err
		}
		rec.ID = id
		if len(oldJSON) > 0 {
			if err := json.Unmarshal(oldJSON, &rec.OldValues); err != nil {
				return nil, err
			}
		}
		if len(newJSON) > 0 {
			if err := json.Unmarshal(newJSON, &rec.NewValues); err != nil {
				return nil, err
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
