package templates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/ledgerline/ledgerline/internal/audit"
	ledgershared "github.com/ledgerline/ledgerline/internal/ledger/shared"
	"github.com/ledgerline/ledgerline/internal/shared"
)

// AuditPort records template mutations.
type AuditPort interface {
	Record(ctx context.Context, rec audit.Record) error
}

// Service wraps recurring template rules.
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

// CreateInput groups fields for registering a template.
type CreateInput struct {
	Name                string
	Cadence             Cadence
	Amount              decimal.Decimal
	TaxRate             decimal.Decimal
	Currency            string
	ReceivableAccountID int64
	RevenueAccountID    int64
	DeferredAccountID   *int64
	StartDate           time.Time
	EndDate             *time.Time
	Recognition         Recognition
	RecognitionPeriods  int
}

// Validate checks template invariants.
func (in CreateInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return errors.New("templates: name required")
	}
	if !in.Cadence.Valid() {
		return fmt.Errorf("templates: unknown cadence %q", in.Cadence)
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("templates: amount must be positive: %w", ledgershared.ErrInvalidAmount)
	}
	if in.TaxRate.IsNegative() {
		return fmt.Errorf("templates: tax rate must be non-negative: %w", ledgershared.ErrInvalidAmount)
	}
	if _, err := currency.ParseISO(in.Currency); err != nil {
		return fmt.Errorf("templates: invalid currency %q: %w", in.Currency, err)
	}
	if in.ReceivableAccountID == 0 || in.RevenueAccountID == 0 {
		return errors.New("templates: receivable and revenue accounts required")
	}
	if in.StartDate.IsZero() {
		return errors.New("templates: start date required")
	}
	if in.EndDate != nil && !in.StartDate.Before(*in.EndDate) {
		return errors.New("templates: end date must follow start date")
	}
	switch in.Recognition {
	case RecognitionImmediate:
	case RecognitionDeferred:
		if in.RecognitionPeriods < 1 {
			return errors.New("templates: deferred recognition requires at least one period")
		}
		if in.DeferredAccountID == nil {
			return errors.New("templates: deferred recognition requires a deferred revenue account")
		}
	default:
		return fmt.Errorf("templates: unknown recognition method %q", in.Recognition)
	}
	return nil
}

func (in CreateInput) accountIDs() []int64 {
	ids := []int64{in.ReceivableAccountID, in.RevenueAccountID}
	if in.DeferredAccountID != nil {
		ids = append(ids, *in.DeferredAccountID)
	}
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Create registers a template; billing starts at StartDate.
func (s *Service) Create(ctx context.Context, actor shared.Actor, in CreateInput) (RecurringTemplate, error) {
	if !actor.Valid() {
		return RecurringTemplate{}, shared.ErrUnauthorized
	}
	if err := in.Validate(); err != nil {
		return RecurringTemplate{}, err
	}
	ok, err := s.repo.AccountsExist(ctx, actor.TenantID, in.accountIDs())
	if err != nil {
		return RecurringTemplate{}, err
	}
	if !ok {
		return RecurringTemplate{}, ledgershared.ErrUnknownAccount
	}
	periodsN := in.RecognitionPeriods
	if in.Recognition == RecognitionImmediate {
		periodsN = 1
	}
	tpl, err := s.repo.Insert(ctx, RecurringTemplate{
		TenantID:            actor.TenantID,
		Name:                strings.TrimSpace(in.Name),
		Cadence:             in.Cadence,
		Amount:              in.Amount.Round(2),
		TaxRate:             in.TaxRate,
		Currency:            strings.ToUpper(in.Currency),
		ReceivableAccountID: in.ReceivableAccountID,
		RevenueAccountID:    in.RevenueAccountID,
		DeferredAccountID:   in.DeferredAccountID,
		StartDate:           in.StartDate,
		EndDate:             in.EndDate,
		NextBillingDate:     in.StartDate,
		Recognition:         in.Recognition,
		RecognitionPeriods:  periodsN,
	})
	if err != nil {
		return RecurringTemplate{}, err
	}
	s.record(ctx, actor, tpl.ID, audit.ActionInsert, nil, audit.Snapshot{
		"name": tpl.Name, "cadence": string(tpl.Cadence), "amount": tpl.Amount.String(),
		"recognition": string(tpl.Recognition), "recognition_periods": tpl.RecognitionPeriods,
	})
	return tpl, nil
}

// UpdateInput carries admin-editable fields.
type UpdateInput struct {
	ID      int64
	Name    string
	Amount  decimal.Decimal
	TaxRate decimal.Decimal
	EndDate *time.Time
}

// Update applies admin edits. Cadence and accounts are fixed after creation;
// schedule changes are expressed by ending one template and starting another.
func (s *Service) Update(ctx context.Context, actor shared.Actor, in UpdateInput) (RecurringTemplate, error) {
	if !actor.Valid() {
		return RecurringTemplate{}, shared.ErrUnauthorized
	}
	current, err := s.repo.Get(ctx, actor.TenantID, in.ID)
	if err != nil {
		return RecurringTemplate{}, err
	}
	if !in.Amount.IsPositive() {
		return RecurringTemplate{}, fmt.Errorf("templates: amount must be positive: %w", ledgershared.ErrInvalidAmount)
	}
	updated := current
	if strings.TrimSpace(in.Name) != "" {
		updated.Name = strings.TrimSpace(in.Name)
	}
	updated.Amount = in.Amount.Round(2)
	updated.TaxRate = in.TaxRate
	updated.EndDate = in.EndDate
	if err := s.repo.Update(ctx, updated); err != nil {
		return RecurringTemplate{}, err
	}
	s.record(ctx, actor, updated.ID, audit.ActionUpdate,
		audit.Snapshot{"name": current.Name, "amount": current.Amount.String()},
		audit.Snapshot{"name": updated.Name, "amount": updated.Amount.String()})
	return updated, nil
}

// Deactivate stops future billing. Templates referenced by invoices are never
// deleted.
func (s *Service) Deactivate(ctx context.Context, actor shared.Actor, id int64) error {
	if !actor.Valid() {
		return shared.ErrUnauthorized
	}
	current, err := s.repo.Get(ctx, actor.TenantID, id)
	if err != nil {
		return err
	}
	if err := s.repo.SetActive(ctx, actor.TenantID, id, false); err != nil {
		return err
	}
	s.record(ctx, actor, id, audit.ActionUpdate,
		audit.Snapshot{"active": current.Active},
		audit.Snapshot{"active": false})
	return nil
}

// Get returns one template within the actor's tenant.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (RecurringTemplate, error) {
	if !actor.Valid() {
		return RecurringTemplate{}, shared.ErrUnauthorized
	}
	return s.repo.Get(ctx, actor.TenantID, id)
}

// List returns the tenant's templates.
func (s *Service) List(ctx context.Context, actor shared.Actor, activeOnly bool) ([]RecurringTemplate, error) {
	if !actor.Valid() {
		return nil, shared.ErrUnauthorized
	}
	return s.repo.List(ctx, actor.TenantID, activeOnly)
}

func (s *Service) record(ctx context.Context, actor shared.Actor, id int64, action audit.Action, oldVals, newVals audit.Snapshot) {
	if s.auditp == nil {
		return
	}
	_ = s.auditp.Record(ctx, audit.Record{
		TenantID:   actor.TenantID,
		TableName:  "recurring_templates",
		RecordID:   fmt.Sprintf("%d", id),
		Action:     action,
		OldValues:  oldVals,
		NewValues:  newVals,
		ActorID:    actor.UserID,
		OccurredAt: s.now(),
	})
}
