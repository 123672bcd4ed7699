package shared

import "context"

// Roles recognised by the engine. Deny by default: anything else has no
// privileges beyond plain reads and postings for its own tenant.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleSystem = "system"
)

// Actor identifies the tenant and user on whose behalf an operation runs.
// Every engine call receives one explicitly; there is no ambient tenant.
type Actor struct {
	TenantID int64
	UserID   int64
	Role     string
}

// Valid reports whether the actor carries a resolved tenant.
func (a Actor) Valid() bool {
	return a.TenantID > 0
}

// IsAdmin reports whether the actor may run privileged period operations.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

// RequireRole checks that the actor holds the given role. Admin and system
// actors pass any check; everything else is denied.
func RequireRole(a Actor, role string) error {
	if !a.Valid() {
		return ErrUnauthorized
	}
	if a.Role == role || a.IsAdmin() {
		return nil
	}
	return ErrForbidden
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
