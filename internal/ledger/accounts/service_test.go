package accounts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	ledgershared "github.com/ledgerline/ledgerline/internal/ledger/shared"
	"github.com/ledgerline/ledgerline/internal/shared"
)

type mockRepository struct {
	accounts map[int64]Account
	posted   map[int64]bool
	nextID   int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{accounts: make(map[int64]Account), posted: make(map[int64]bool), nextID: 1}
}

func (m *mockRepository) Insert(ctx context.Context, a Account) (Account, error) {
	a.ID = m.nextID
	m.nextID++
	a.IsActive = true
	m.accounts[a.ID] = a
	return a, nil
}

func (m *mockRepository) Get(ctx context.Context, tenantID, id int64) (Account, error) {
	a, ok := m.accounts[id]
	if !ok || a.TenantID != tenantID {
		return Account{}, ledgershared.ErrUnknownAccount
	}
	return a, nil
}

func (m *mockRepository) List(ctx context.Context, tenantID int64) ([]Account, error) {
	var out []Account
	for _, a := range m.accounts {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockRepository) Rename(ctx context.Context, tenantID, id int64, name string) error {
	a, ok := m.accounts[id]
	if !ok || a.TenantID != tenantID {
		return ledgershared.ErrUnknownAccount
	}
	a.Name = name
	m.accounts[id] = a
	return nil
}

func (m *mockRepository) SetActive(ctx context.Context, tenantID, id int64, active bool) error {
	a, ok := m.accounts[id]
	if !ok || a.TenantID != tenantID {
		return ledgershared.ErrUnknownAccount
	}
	a.IsActive = active
	m.accounts[id] = a
	return nil
}

func (m *mockRepository) HasPostedLines(ctx context.Context, tenantID, id int64) (bool, error) {
	return m.posted[id], nil
}

var actor = shared.Actor{TenantID: 1, UserID: 7, Role: shared.RoleMember}

func TestCreateAccount(t *testing.T) {
	svc := NewService(newMockRepository())

	acc, err := svc.Create(context.Background(), actor, CreateInput{
		Code: " 1100 ", Name: "Accounts Receivable", Type: AccountTypeAsset, Currency: "usd",
	})
	require.NoError(t, err)
	require.Equal(t, "1100", acc.Code)
	require.Equal(t, "USD", acc.Currency)
	require.True(t, acc.IsActive)
}

func TestCreateInputValidate(t *testing.T) {
	valid := CreateInput{Code: "1100", Name: "AR", Type: AccountTypeAsset, Currency: "USD"}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"empty code", func(in *CreateInput) { in.Code = " " }},
		{"empty name", func(in *CreateInput) { in.Name = "" }},
		{"unknown type", func(in *CreateInput) { in.Type = "CONTRA" }},
		{"bad currency", func(in *CreateInput) { in.Currency = "US" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := valid
			tc.mutate(&in)
			require.Error(t, in.Validate())
		})
	}
}

func TestRenameRejectsAccountsWithPostings(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)

	acc, err := svc.Create(context.Background(), actor, CreateInput{
		Code: "1100", Name: "AR", Type: AccountTypeAsset, Currency: "USD",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Rename(context.Background(), actor, acc.ID, "Trade Receivables"))
	require.Equal(t, "Trade Receivables", repo.accounts[acc.ID].Name)

	repo.posted[acc.ID] = true
	require.ErrorIs(t, svc.Rename(context.Background(), actor, acc.ID, "Other"), ledgershared.ErrAccountInUse)
}

func TestDeactivateKeepsHistory(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)

	acc, err := svc.Create(context.Background(), actor, CreateInput{
		Code: "4000", Name: "Revenue", Type: AccountTypeRevenue, Currency: "USD",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(context.Background(), actor, acc.ID))
	require.False(t, repo.accounts[acc.ID].IsActive)
	// The row is still readable for historical reporting.
	got, err := svc.Get(context.Background(), actor, acc.ID)
	require.NoError(t, err)
	require.Equal(t, acc.ID, got.ID)
}

func TestTenantScoping(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)

	acc, err := svc.Create(context.Background(), actor, CreateInput{
		Code: "1100", Name: "AR", Type: AccountTypeAsset, Currency: "USD",
	})
	require.NoError(t, err)

	other := shared.Actor{TenantID: 2, UserID: 1}
	_, err = svc.Get(context.Background(), other, acc.ID)
	require.ErrorIs(t, err, ledgershared.ErrUnknownAccount)

	_, err = svc.Get(context.Background(), shared.Actor{}, acc.ID)
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}
