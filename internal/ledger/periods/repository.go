package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	ledgershared "github.com/ledgerline/ledgerline/internal/ledger/shared"
)

// Repository encapsulates DB operations for billing periods.
type Repository interface {
	Get(ctx context.Context, tenantID, id int64) (Period, error)
	List(ctx context.Context, tenantID int64) ([]Period, error)
	FindOpenByDate(ctx context.Context, tenantID int64, date time.Time) (Period, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	Insert(ctx context.Context, p Period) (Period, error)
	GetForUpdate(ctx context.Context, tenantID, id int64) (Period, error)
	OverlapExists(ctx context.Context, tenantID int64, start, end time.Time) (bool, error)
	UpdateStatus(ctx context.Context, tenantID, id int64, status PeriodStatus, actorID int64, at time.Time) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a Postgres-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const periodColumns = `id, tenant_id, code, start_date, end_date, status, closed_by, closed_at, locked_by, locked_at, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.TenantID, &p.Code, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedBy, &p.ClosedAt, &p.LockedBy, &p.LockedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ledgershared.ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func (r *repository) Get(ctx context.Context, tenantID, id int64) (Period, error) {
	row := r.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM billing_periods WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return scanPeriod(row)
}

func (r *repository) List(ctx context.Context, tenantID int64) ([]Period, error) {
	rows, err := r.db.Query(ctx, `SELECT `+periodColumns+` FROM billing_periods WHERE tenant_id=$1 ORDER BY start_date`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindOpenByDate returns the open period covering the supplied date.
// The end date is exclusive.
func (r *repository) FindOpenByDate(ctx context.Context, tenantID int64, date time.Time) (Period, error) {
	row := r.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM billing_periods
WHERE tenant_id=$1 AND status='OPEN' AND start_date <= $2 AND end_date > $2
ORDER BY start_date LIMIT 1`, tenantID, date)
	p, err := scanPeriod(row)
	if err != nil {
		if errors.Is(err, ledgershared.ErrPeriodNotFound) {
			return Period{}, ledgershared.ErrNoOpenPeriod
		}
		return Period{}, err
	}
	return p, nil
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

// GetForUpdateTx locks and returns a period inside an existing transaction.
// Billing passes post journals and advance templates in the same transaction
// and need the same row lock the journal engine takes.
func GetForUpdateTx(ctx context.Context, tx pgx.Tx, tenantID, id int64) (Period, error) {
	return scanPeriod(tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM billing_periods
WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
}

// Period resolution for posting takes the same row lock as Close/Lock. A
// concurrent close either commits first (the lookup then misses the row, or
// the transaction fails to serialize and retries) or waits behind the pass;
// it can never land between the status read and the journal insert.
const findOpenByDateForUpdateSQL = `SELECT ` + periodColumns + ` FROM billing_periods
WHERE tenant_id=$1 AND status='OPEN' AND start_date <= $2 AND end_date > $2
ORDER BY start_date LIMIT 1 FOR UPDATE`

const nextOpenOnOrAfterForUpdateSQL = `SELECT ` + periodColumns + ` FROM billing_periods
WHERE tenant_id=$1 AND status='OPEN' AND end_date > $2 ORDER BY start_date ASC LIMIT 1 FOR UPDATE`

// FindOpenByDateTx returns, with its row locked, the open period covering the
// date inside an existing transaction.
func FindOpenByDateTx(ctx context.Context, tx pgx.Tx, tenantID int64, date time.Time) (Period, error) {
	p, err := scanPeriod(tx.QueryRow(ctx, findOpenByDateForUpdateSQL, tenantID, date))
	if err != nil {
		if errors.Is(err, ledgershared.ErrPeriodNotFound) {
			return Period{}, ledgershared.ErrNoOpenPeriod
		}
		return Period{}, err
	}
	return p, nil
}

// NextOpenOnOrAfterTx returns, with its row locked, the earliest open period
// whose window has not ended before the date.
func NextOpenOnOrAfterTx(ctx context.Context, tx pgx.Tx, tenantID int64, date time.Time) (Period, error) {
	p, err := scanPeriod(tx.QueryRow(ctx, nextOpenOnOrAfterForUpdateSQL, tenantID, date))
	if err != nil {
		if errors.Is(err, ledgershared.ErrPeriodNotFound) {
			return Period{}, ledgershared.ErrNoOpenPeriod
		}
		return Period{}, err
	}
	return p, nil
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Insert(ctx context.Context, p Period) (Period, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO billing_periods (tenant_id, code, start_date, end_date, status)
VALUES ($1,$2,$3,$4,'OPEN') RETURNING `+periodColumns, p.TenantID, p.Code, p.StartDate, p.EndDate)
	return scanPeriod(row)
}

func (r *txRepository) GetForUpdate(ctx context.Context, tenantID, id int64) (Period, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM billing_periods WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id)
	return scanPeriod(row)
}

func (r *txRepository) OverlapExists(ctx context.Context, tenantID int64, start, end time.Time) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM billing_periods WHERE tenant_id=$1 AND start_date < $3 AND end_date > $2)`, tenantID, start, end).Scan(&exists)
	return exists, err
}

func (r *txRepository) UpdateStatus(ctx context.Context, tenantID, id int64, status PeriodStatus, actorID int64, at time.Time) error {
	var (
		cmd pgconn.CommandTag
		err error
	)
	switch status {
	case PeriodStatusClosed:
		cmd, err = r.tx.Exec(ctx, `UPDATE billing_periods SET status=$3, closed_by=$4, closed_at=$5, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, tenantID, id, status, actorID, at)
	case PeriodStatusLocked:
		cmd, err = r.tx.Exec(ctx, `UPDATE billing_periods SET status=$3, locked_by=$4, locked_at=$5, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, tenantID, id, status, actorID, at)
	default:
		cmd, err = r.tx.Exec(ctx, `UPDATE billing_periods SET status=$3, closed_by=NULL, closed_at=NULL, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, tenantID, id, status)
	}
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ledgershared.ErrPeriodNotFound
	}
	return nil
}
