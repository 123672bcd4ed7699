package identity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerline/ledgerline/internal/shared"
)

type mockRepository struct {
	tokens map[int64]APIToken
	nextID int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{tokens: make(map[int64]APIToken), nextID: 1}
}

func (m *mockRepository) Get(ctx context.Context, id int64) (APIToken, error) {
	t, ok := m.tokens[id]
	if !ok {
		return APIToken{}, shared.ErrNotFound
	}
	return t, nil
}

func (m *mockRepository) Insert(ctx context.Context, token APIToken) (APIToken, error) {
	token.ID = m.nextID
	m.nextID++
	token.IsActive = true
	m.tokens[token.ID] = token
	return token, nil
}

func (m *mockRepository) TouchLastUsed(ctx context.Context, id int64, at time.Time) error {
	t, ok := m.tokens[id]
	if !ok {
		return shared.ErrNotFound
	}
	t.LastUsedAt = &at
	m.tokens[id] = t
	return nil
}

func (m *mockRepository) Revoke(ctx context.Context, tenantID, id int64) error {
	t, ok := m.tokens[id]
	if !ok || t.TenantID != tenantID {
		return shared.ErrNotFound
	}
	t.IsActive = false
	m.tokens[id] = t
	return nil
}

func TestIssueThenResolve(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	svc.WithNow(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) })

	token, credential, err := svc.Issue(context.Background(), IssueInput{
		TenantID: 1, UserID: 7, Name: "ci token", Role: shared.RoleAdmin,
	})
	require.NoError(t, err)
	require.NotContains(t, token.SecretHash, credential)

	actor, err := svc.ResolveActor(context.Background(), credential)
	require.NoError(t, err)
	require.Equal(t, int64(1), actor.TenantID)
	require.Equal(t, int64(7), actor.UserID)
	require.True(t, actor.IsAdmin())
	require.NotNil(t, repo.tokens[token.ID].LastUsedAt)
}

func TestIssueDefaultsToMemberRole(t *testing.T) {
	svc := NewService(newMockRepository())

	_, credential, err := svc.Issue(context.Background(), IssueInput{TenantID: 1, Name: "reader"})
	require.NoError(t, err)

	actor, err := svc.ResolveActor(context.Background(), credential)
	require.NoError(t, err)
	require.Equal(t, shared.RoleMember, actor.Role)
	require.False(t, actor.IsAdmin())
}

func TestIssueRequiresTenantAndName(t *testing.T) {
	svc := NewService(newMockRepository())

	_, _, err := svc.Issue(context.Background(), IssueInput{TenantID: 0, Name: "x"})
	require.Error(t, err)
	_, _, err = svc.Issue(context.Background(), IssueInput{TenantID: 1, Name: "  "})
	require.Error(t, err)
}

func TestResolveActorRejectsBadSecret(t *testing.T) {
	svc := NewService(newMockRepository())

	token, _, err := svc.Issue(context.Background(), IssueInput{TenantID: 1, Name: "ci token"})
	require.NoError(t, err)

	_, err = svc.ResolveActor(context.Background(), fmt.Sprintf("%d.wrong-secret", token.ID))
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestResolveActorRejectsMalformedCredential(t *testing.T) {
	svc := NewService(newMockRepository())

	for _, credential := range []string{"", "noseparator", "1.", ".secret", "abc.secret", "-1.secret"} {
		_, err := svc.ResolveActor(context.Background(), credential)
		require.ErrorIs(t, err, shared.ErrUnauthorized, "credential %q", credential)
	}
}

func TestResolveActorRejectsRevokedToken(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)

	token, credential, err := svc.Issue(context.Background(), IssueInput{TenantID: 1, Name: "ci token"})
	require.NoError(t, err)

	admin := shared.Actor{TenantID: 1, UserID: 9, Role: shared.RoleAdmin}
	require.NoError(t, svc.Revoke(context.Background(), admin, token.ID))

	_, err = svc.ResolveActor(context.Background(), credential)
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestRevokeRequiresAdmin(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)

	token, _, err := svc.Issue(context.Background(), IssueInput{TenantID: 1, Name: "ci token"})
	require.NoError(t, err)

	member := shared.Actor{TenantID: 1, UserID: 3, Role: shared.RoleMember}
	require.ErrorIs(t, svc.Revoke(context.Background(), member, token.ID), shared.ErrForbidden)
}

func TestRevokeIsTenantScoped(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)

	token, _, err := svc.Issue(context.Background(), IssueInput{TenantID: 1, Name: "ci token"})
	require.NoError(t, err)

	otherAdmin := shared.Actor{TenantID: 2, UserID: 9, Role: shared.RoleAdmin}
	require.ErrorIs(t, svc.Revoke(context.Background(), otherAdmin, token.ID), shared.ErrNotFound)
	require.True(t, repo.tokens[token.ID].IsActive)
}
