package tenants

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/text/currency"

	"github.com/ledgerline/ledgerline/internal/shared"
)

// CreateInput groups fields required to onboard a tenant.
type CreateInput struct {
	Name            string
	DefaultCurrency string
	FiscalYearStart int
	Timezone        string
}

// Validate ensures onboarding input meets minimum criteria.
func (in CreateInput) Validate() error {
	if in.Name == "" {
		return errors.New("tenants: name required")
	}
	if _, err := currency.ParseISO(in.DefaultCurrency); err != nil {
		return fmt.Errorf("tenants: invalid currency %q: %w", in.DefaultCurrency, err)
	}
	if in.FiscalYearStart < 1 || in.FiscalYearStart > 12 {
		return errors.New("tenants: fiscal year start must be a month 1-12")
	}
	return nil
}

// Service wraps tenant registry rules.
type Service struct {
	repo Repository
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Onboard registers a new tenant in ACTIVE status.
func (s *Service) Onboard(ctx context.Context, in CreateInput) (Tenant, error) {
	if err := in.Validate(); err != nil {
		return Tenant{}, err
	}
	if in.Timezone == "" {
		in.Timezone = "UTC"
	}
	return s.repo.Insert(ctx, in)
}

// Get returns the tenant for the acting context.
func (s *Service) Get(ctx context.Context, actor shared.Actor) (Tenant, error) {
	if !actor.Valid() {
		return Tenant{}, shared.ErrUnauthorized
	}
	return s.repo.Get(ctx, actor.TenantID)
}

// ListActive returns all active tenants, used by batch passes.
func (s *Service) ListActive(ctx context.Context) ([]Tenant, error) {
	return s.repo.ListActive(ctx)
}

// Suspend soft-disables a tenant; data is retained.
func (s *Service) Suspend(ctx context.Context, actor shared.Actor) error {
	if !actor.Valid() {
		return shared.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return shared.ErrForbidden
	}
	return s.repo.UpdateStatus(ctx, actor.TenantID, StatusSuspended)
}
