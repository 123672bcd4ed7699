package invoices

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerline/ledgerline/internal/audit"
	ledgershared "github.com/ledgerline/ledgerline/internal/ledger/shared"
	"github.com/ledgerline/ledgerline/internal/shared"
)

// AuditPort records invoice mutations.
type AuditPort interface {
	Record(ctx context.Context, rec audit.Record) error
}

// Service wraps invoice lifecycle rules.
type Service struct {
	repo   Repository
	auditp AuditPort
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, auditPort AuditPort) *Service {
	return &Service{repo: repo, auditp: auditPort, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get returns one invoice within the actor's tenant.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (SubscriptionInvoice, error) {
	if !actor.Valid() {
		return SubscriptionInvoice{}, shared.ErrUnauthorized
	}
	return s.repo.Get(ctx, actor.TenantID, id)
}

// List returns invoices matching the filter.
func (s *Service) List(ctx context.Context, actor shared.Actor, in ListInput) ([]SubscriptionInvoice, error) {
	if !actor.Valid() {
		return nil, shared.ErrUnauthorized
	}
	return s.repo.List(ctx, actor.TenantID, in)
}

// Schedule returns the recognition schedule for an invoice.
func (s *Service) Schedule(ctx context.Context, actor shared.Actor, invoiceID int64) ([]ScheduleEntry, error) {
	if !actor.Valid() {
		return nil, shared.ErrUnauthorized
	}
	if _, err := s.repo.Get(ctx, actor.TenantID, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.ListSchedule(ctx, actor.TenantID, invoiceID)
}

// MarkPaid moves an issued invoice to PAID.
func (s *Service) MarkPaid(ctx context.Context, actor shared.Actor, id int64) error {
	if !actor.Valid() {
		return shared.ErrUnauthorized
	}
	if err := s.repo.UpdateStatus(ctx, actor.TenantID, id, StatusIssued, StatusPaid); err != nil {
		return err
	}
	s.record(ctx, actor, id, StatusIssued, StatusPaid, "")
	return nil
}

// Void cancels an invoice. Only allowed while no revenue has been
// recognized; afterwards corrections go through reversing journal entries.
func (s *Service) Void(ctx context.Context, actor shared.Actor, id int64) error {
	if !actor.Valid() {
		return shared.ErrUnauthorized
	}
	inv, err := s.repo.Get(ctx, actor.TenantID, id)
	if err != nil {
		return err
	}
	if inv.Status != StatusIssued && inv.Status != StatusDraft {
		return ledgershared.ErrInvalidTransition
	}
	if inv.RecognizedAmount.IsPositive() {
		return fmt.Errorf("invoices: %s already recognized: %w", inv.RecognizedAmount, ledgershared.ErrInvalidAmount)
	}
	if err := s.repo.UpdateStatus(ctx, actor.TenantID, id, inv.Status, StatusVoid); err != nil {
		return err
	}
	if err := s.repo.CancelSchedule(ctx, actor.TenantID, id); err != nil {
		return err
	}
	s.record(ctx, actor, id, inv.Status, StatusVoid, "remaining schedule entries cancelled")
	return nil
}

func (s *Service) record(ctx context.Context, actor shared.Actor, id int64, from, to Status, note string) {
	if s.auditp == nil {
		return
	}
	_ = s.auditp.Record(ctx, audit.Record{
		TenantID:   actor.TenantID,
		TableName:  "subscription_invoices",
		RecordID:   fmt.Sprintf("%d", id),
		Action:     audit.ActionUpdate,
		OldValues:  audit.Snapshot{"status": string(from)},
		NewValues:  audit.Snapshot{"status": string(to)},
		Note:       note,
		ActorID:    actor.UserID,
		OccurredAt: s.now(),
	})
}
