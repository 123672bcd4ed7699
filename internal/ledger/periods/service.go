package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ledgerline/ledgerline/internal/audit"
	ledgershared "github.com/ledgerline/ledgerline/internal/ledger/shared"
	"github.com/ledgerline/ledgerline/internal/shared"
)

// AuditPort records period lifecycle mutations.
type AuditPort interface {
	Record(ctx context.Context, rec audit.Record) error
}

// Locker serialises mutations on a single period.
type Locker interface {
	Acquire(ctx context.Context, tenantID, periodID int64) (*shared.Lease, error)
	Release(ctx context.Context, lease *shared.Lease) error
}

// Service drives the open -> closed -> locked lifecycle.
type Service struct {
	repo   Repository
	auditp AuditPort
	locker Locker
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, auditPort AuditPort, locker Locker) *Service {
	return &Service{repo: repo, auditp: auditPort, locker: locker, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// OpenInput groups fields for opening a period.
type OpenInput struct {
	Code      string
	StartDate time.Time
	EndDate   time.Time
}

// Validate checks the window shape. End date is exclusive.
func (in OpenInput) Validate() error {
	if in.Code == "" {
		return errors.New("periods: code required")
	}
	if !in.StartDate.Before(in.EndDate) {
		return errors.New("periods: start date must precede end date")
	}
	return nil
}

// Open creates a new period in OPEN status, rejecting overlapping windows.
func (s *Service) Open(ctx context.Context, actor shared.Actor, in OpenInput) (Period, error) {
	if !actor.Valid() {
		return Period{}, shared.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return Period{}, shared.ErrForbidden
	}
	if err := in.Validate(); err != nil {
		return Period{}, err
	}
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		conflict, err := tx.OverlapExists(ctx, actor.TenantID, in.StartDate, in.EndDate)
		if err != nil {
			return err
		}
		if conflict {
			return ledgershared.ErrPeriodOverlap
		}
		period, err = tx.Insert(ctx, Period{
			TenantID:  actor.TenantID,
			Code:      in.Code,
			StartDate: in.StartDate,
			EndDate:   in.EndDate,
		})
		return err
	})
	if err != nil {
		return Period{}, err
	}
	s.record(ctx, actor, period.ID, audit.ActionInsert, nil, audit.Snapshot{
		"code": period.Code, "status": string(period.Status),
		"start_date": period.StartDate.Format(time.DateOnly),
		"end_date":   period.EndDate.Format(time.DateOnly),
	}, "")
	return period, nil
}

// Close transitions an OPEN period to CLOSED. Closing is an administrative
// cutoff; it does not require a zero balance.
func (s *Service) Close(ctx context.Context, actor shared.Actor, periodID int64) (Period, error) {
	return s.transition(ctx, actor, periodID, PeriodStatusClosed)
}

// Lock transitions a CLOSED period to LOCKED. Locking is irreversible.
func (s *Service) Lock(ctx context.Context, actor shared.Actor, periodID int64) (Period, error) {
	return s.transition(ctx, actor, periodID, PeriodStatusLocked)
}

// Reopen returns a CLOSED period to OPEN during the correction grace window.
func (s *Service) Reopen(ctx context.Context, actor shared.Actor, periodID int64) (Period, error) {
	return s.transition(ctx, actor, periodID, PeriodStatusOpen)
}

func (s *Service) transition(ctx context.Context, actor shared.Actor, periodID int64, target PeriodStatus) (Period, error) {
	if !actor.Valid() {
		return Period{}, shared.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return Period{}, shared.ErrForbidden
	}
	if s.locker != nil {
		lease, err := s.locker.Acquire(ctx, actor.TenantID, periodID)
		if err != nil {
			return Period{}, err
		}
		defer func() { _ = s.locker.Release(ctx, lease) }()
	}
	var before, after Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, actor.TenantID, periodID)
		if err != nil {
			return err
		}
		if current.Status == PeriodStatusLocked {
			return ledgershared.ErrPeriodLocked
		}
		if err := shared.ValidatePeriodTransition(string(current.Status), string(target)); err != nil {
			return ledgershared.ErrInvalidTransition
		}
		if current.Status == target {
			before, after = current, current
			return nil
		}
		at := s.now()
		if err := tx.UpdateStatus(ctx, actor.TenantID, periodID, target, actor.UserID, at); err != nil {
			return err
		}
		before = current
		after = current
		after.Status = target
		switch target {
		case PeriodStatusClosed:
			after.ClosedBy = &actor.UserID
			after.ClosedAt = &at
		case PeriodStatusLocked:
			after.LockedBy = &actor.UserID
			after.LockedAt = &at
		case PeriodStatusOpen:
			after.ClosedBy = nil
			after.ClosedAt = nil
		}
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	if before.Status != after.Status {
		s.record(ctx, actor, after.ID, audit.ActionUpdate,
			audit.Snapshot{"status": string(before.Status)},
			audit.Snapshot{"status": string(after.Status)}, "")
	}
	return after, nil
}

// Get returns a period within the actor's tenant.
func (s *Service) Get(ctx context.Context, actor shared.Actor, periodID int64) (Period, error) {
	if !actor.Valid() {
		return Period{}, shared.ErrUnauthorized
	}
	return s.repo.Get(ctx, actor.TenantID, periodID)
}

// List returns all periods for the tenant ordered by start date.
func (s *Service) List(ctx context.Context, actor shared.Actor) ([]Period, error) {
	if !actor.Valid() {
		return nil, shared.ErrUnauthorized
	}
	return s.repo.List(ctx, actor.TenantID)
}

// FindOpenByDate returns the open period covering the date.
func (s *Service) FindOpenByDate(ctx context.Context, actor shared.Actor, date time.Time) (Period, error) {
	if !actor.Valid() {
		return Period{}, shared.ErrUnauthorized
	}
	return s.repo.FindOpenByDate(ctx, actor.TenantID, date)
}

func (s *Service) record(ctx context.Context, actor shared.Actor, periodID int64, action audit.Action, oldVals, newVals audit.Snapshot, note string) {
	if s.auditp == nil {
		return
	}
	_ = s.auditp.Record(ctx, audit.Record{
		TenantID:   actor.TenantID,
		TableName:  "billing_periods",
		RecordID:   fmt.Sprintf("%d", periodID),
		Action:     action,
		OldValues:  oldVals,
		NewValues:  newVals,
		Note:       note,
		ActorID:    actor.UserID,
		OccurredAt: s.now(),
	})
}
