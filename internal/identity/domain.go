package identity

import "time"

// APIToken binds a bearer credential to a tenant and role. The secret is
// stored as a bcrypt hash; the issued credential is "<id>.<secret>".
type APIToken struct {
	ID         int64
	TenantID   int64
	UserID     int64
	Name       string
	SecretHash string
	Role       string
	IsActive   bool
	LastUsedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
