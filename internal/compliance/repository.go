package compliance

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline/ledgerline/internal/shared"
)

// Repository encapsulates DB operations for findings, certifications and the
// audit aggregates backing the summary.
type Repository interface {
	CountOpenFindings(ctx context.Context, tenantID int64) (int, error)
	CountActiveCertifications(ctx context.Context, tenantID int64, at time.Time) (int, error)
	CountAuditRecordsSince(ctx context.Context, tenantID int64, since time.Time) (int, error)
	LastAuditAt(ctx context.Context, tenantID int64) (*time.Time, error)

	InsertFinding(ctx context.Context, f Finding) (Finding, error)
	ResolveFinding(ctx context.Context, tenantID, id int64, at time.Time) error
	ListFindings(ctx context.Context, tenantID int64, status FindingStatus) ([]Finding, error)

	InsertCertification(ctx context.Context, c Certification) (Certification, error)
	ListCertifications(ctx context.Context, tenantID int64) ([]Certification, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a Postgres-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) CountOpenFindings(ctx context.Context, tenantID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM compliance_findings
WHERE tenant_id=$1 AND status='OPEN'`, tenantID).Scan(&n)
	return n, err
}

func (r *repository) CountActiveCertifications(ctx context.Context, tenantID int64, at time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM compliance_certifications
WHERE tenant_id=$1 AND valid_from <= $2 AND valid_until > $2`, tenantID, at).Scan(&n)
	return n, err
}

func (r *repository) CountAuditRecordsSince(ctx context.Context, tenantID int64, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM audit_records
WHERE tenant_id=$1 AND occurred_at >= $2`, tenantID, since).Scan(&n)
	return n, err
}

func (r *repository) LastAuditAt(ctx context.Context, tenantID int64) (*time.Time, error) {
	var at *time.Time
	err := r.db.QueryRow(ctx, `SELECT MAX(occurred_at) FROM audit_records WHERE tenant_id=$1`, tenantID).Scan(&at)
	return at, err
}

const findingColumns = `id, tenant_id, title, severity, status, raised_at, resolved_at, created_at, updated_at`

func scanFinding(row pgx.Row) (Finding, error) {
	var f Finding
	err := row.Scan(&f.ID, &f.TenantID, &f.Title, &f.Severity, &f.Status, &f.RaisedAt, &f.ResolvedAt, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Finding{}, shared.ErrNotFound
		}
		return Finding{}, err
	}
	return f, nil
}

func (r *repository) InsertFinding(ctx context.Context, f Finding) (Finding, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO compliance_findings (tenant_id, title, severity, status, raised_at)
VALUES ($1,$2,$3,'OPEN',$4) RETURNING `+findingColumns, f.TenantID, f.Title, f.Severity, f.RaisedAt)
	return scanFinding(row)
}

func (r *repository) ResolveFinding(ctx context.Context, tenantID, id int64, at time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE compliance_findings
SET status='RESOLVED', resolved_at=$3, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2 AND status='OPEN'`, tenantID, id, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) ListFindings(ctx context.Context, tenantID int64, status FindingStatus) ([]Finding, error) {
	rows, err := r.db.Query(ctx, `SELECT `+findingColumns+` FROM compliance_findings
WHERE tenant_id=$1 AND ($2='' OR status=$2) ORDER BY raised_at DESC`, tenantID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

const certColumns = `id, tenant_id, name, issuer, valid_from, valid_until, created_at, updated_at`

func scanCertification(row pgx.Row) (Certification, error) {
	var c Certification
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Issuer, &c.ValidFrom, &c.ValidUntil, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Certification{}, shared.ErrNotFound
		}
		return Certification{}, err
	}
	return c, nil
}

func (r *repository) InsertCertification(ctx context.Context, c Certification) (Certification, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO compliance_certifications (tenant_id, name, issuer, valid_from, valid_until)
VALUES ($1,$2,$3,$4,$5) RETURNING `+certColumns, c.TenantID, c.Name, c.Issuer, c.ValidFrom, c.ValidUntil)
	return scanCertification(row)
}

func (r *repository) ListCertifications(ctx context.Context, tenantID int64) ([]Certification, error) {
	rows, err := r.db.Query(ctx, `SELECT `+certColumns+` FROM compliance_certifications
WHERE tenant_id=$1 ORDER BY valid_until DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Certification
	for rows.Next() {
		c, err := scanCertification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
