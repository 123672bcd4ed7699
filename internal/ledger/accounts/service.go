package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/currency"

	ledgershared "github.com/ledgerline/ledgerline/internal/ledger/shared"
	"github.com/ledgerline/ledgerline/internal/shared"
)

// CreateInput groups fields for opening an account.
type CreateInput struct {
	Code     string
	Name     string
	Type     AccountType
	Currency string
}

// Validate checks the input against CoA rules.
func (in CreateInput) Validate() error {
	if strings.TrimSpace(in.Code) == "" {
		return errors.New("accounts: code required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return errors.New("accounts: name required")
	}
	if !ValidType(in.Type) {
		return fmt.Errorf("accounts: unknown type %q", in.Type)
	}
	if _, err := currency.ParseISO(in.Currency); err != nil {
		return fmt.Errorf("accounts: invalid currency %q: %w", in.Currency, err)
	}
	return nil
}

// Service wraps chart-of-accounts rules.
type Service struct {
	repo Repository
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create registers a new account for the actor's tenant.
func (s *Service) Create(ctx context.Context, actor shared.Actor, in CreateInput) (Account, error) {
	if !actor.Valid() {
		return Account{}, shared.ErrUnauthorized
	}
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	return s.repo.Insert(ctx, Account{
		TenantID: actor.TenantID,
		Code:     strings.TrimSpace(in.Code),
		Name:     strings.TrimSpace(in.Name),
		Type:     in.Type,
		Currency: strings.ToUpper(in.Currency),
	})
}

// Get resolves an account within the actor's tenant.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (Account, error) {
	if !actor.Valid() {
		return Account{}, shared.ErrUnauthorized
	}
	return s.repo.Get(ctx, actor.TenantID, id)
}

// List returns the tenant's chart of accounts.
func (s *Service) List(ctx context.Context, actor shared.Actor) ([]Account, error) {
	if !actor.Valid() {
		return nil, shared.ErrUnauthorized
	}
	return s.repo.List(ctx, actor.TenantID)
}

// Rename updates the display name. Accounts referenced by posted entries are
// immutable apart from activation status.
func (s *Service) Rename(ctx context.Context, actor shared.Actor, id int64, name string) error {
	if !actor.Valid() {
		return shared.ErrUnauthorized
	}
	if strings.TrimSpace(name) == "" {
		return errors.New("accounts: name required")
	}
	used, err := s.repo.HasPostedLines(ctx, actor.TenantID, id)
	if err != nil {
		return err
	}
	if used {
		return ledgershared.ErrAccountInUse
	}
	return s.repo.Rename(ctx, actor.TenantID, id, strings.TrimSpace(name))
}

// Deactivate removes an account from new postings without deleting history.
func (s *Service) Deactivate(ctx context.Context, actor shared.Actor, id int64) error {
	if !actor.Valid() {
		return shared.ErrUnauthorized
	}
	return s.repo.SetActive(ctx, actor.TenantID, id, false)
}
