package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireRole(t *testing.T) {
	cases := []struct {
		name  string
		actor Actor
		role  string
		want  error
	}{
		{"exact role", Actor{TenantID: 1, Role: RoleMember}, RoleMember, nil},
		{"admin passes any check", Actor{TenantID: 1, Role: RoleAdmin}, RoleMember, nil},
		{"system passes any check", Actor{TenantID: 1, Role: RoleSystem}, RoleAdmin, nil},
		{"member denied admin", Actor{TenantID: 1, Role: RoleMember}, RoleAdmin, ErrForbidden},
		{"unknown role denied", Actor{TenantID: 1, Role: "viewer"}, RoleMember, ErrForbidden},
		{"zero tenant", Actor{Role: RoleAdmin}, RoleAdmin, ErrUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := RequireRole(tc.actor, tc.role)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestActorContextRoundTrip(t *testing.T) {
	actor := Actor{TenantID: 7, UserID: 3, Role: RoleMember}
	ctx := ContextWithActor(context.Background(), actor)

	got, ok := ActorFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, actor, got)

	_, ok = ActorFromContext(context.Background())
	assert.False(t, ok)
}
