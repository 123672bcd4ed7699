package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/ledgerline/internal/shared"
)

// Service records redacted mutations and serves the audit trail.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Record redacts the snapshots and appends the record. Emitters call this
// synchronously inside the operation that mutated state.
func (s *Service) Record(ctx context.Context, rec Record) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: service not initialised")
	}
	if rec.TableName == "" || rec.RecordID == "" || rec.Action == "" {
		return errors.New("audit: table, record id and action required")
	}
	if rec.TenantID <= 0 {
		return shared.ErrUnauthorized
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = s.now()
	}
	rec.OldValues = Redact(rec.TableName, rec.OldValues)
	rec.NewValues = Redact(rec.TableName, rec.NewValues)
	return s.repo.Insert(ctx, rec)
}

// RecordFailure appends an operator-visible failure entry for batch passes.
func (s *Service) RecordFailure(ctx context.Context, tenantID, actorID int64, table, recordID string, opErr error) error {
	return s.Record(ctx, Record{
		TenantID:  tenantID,
		TableName: table,
		RecordID:  recordID,
		Action:    ActionUpdate,
		Note:      "operation failed",
		ErrorKind: opErr.Error(),
		ActorID:   actorID,
	})
}

// TrailResult wraps a page of audit records.
type TrailResult struct {
	Records []Record
	Paging  shared.Pagination
	HasNext bool
}

// Trail returns redacted audit records for the actor's tenant.
func (s *Service) Trail(ctx context.Context, actor shared.Actor, f Filters, page, pageSize int) (TrailResult, error) {
	if !actor.Valid() {
		return TrailResult{}, shared.ErrUnauthorized
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := s.repo.Query(ctx, actor.TenantID, f, pageSize+1, offset)
	if err != nil {
		return TrailResult{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	return TrailResult{
		Records: rows,
		Paging:  shared.Pagination{Page: page, PerPage: pageSize},
		HasNext: hasNext,
	}, nil
}
