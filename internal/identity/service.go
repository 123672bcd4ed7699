package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ledgerline/ledgerline/internal/shared"
)

// Service resolves bearer credentials to actors and issues new tokens.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ResolveActor validates a "<id>.<secret>" credential and returns the actor
// it represents. Any parse or verification failure maps to ErrUnauthorized
// so callers cannot distinguish unknown ids from bad secrets.
func (s *Service) ResolveActor(ctx context.Context, credential string) (shared.Actor, error) {
	id, secret, ok := splitCredential(credential)
	if !ok {
		return shared.Actor{}, shared.ErrUnauthorized
	}
	token, err := s.repo.Get(ctx, id)
	if err != nil {
		return shared.Actor{}, shared.ErrUnauthorized
	}
	if !token.IsActive {
		return shared.Actor{}, shared.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(token.SecretHash), []byte(secret)); err != nil {
		return shared.Actor{}, shared.ErrUnauthorized
	}
	_ = s.repo.TouchLastUsed(ctx, token.ID, s.now())
	return shared.Actor{TenantID: token.TenantID, UserID: token.UserID, Role: token.Role}, nil
}

// IssueInput groups fields for minting a token.
type IssueInput struct {
	TenantID int64
	UserID   int64
	Name     string
	Role     string
}

// Issue mints a token and returns the record plus the one-time credential.
// The plaintext secret is never stored.
func (s *Service) Issue(ctx context.Context, in IssueInput) (APIToken, string, error) {
	if in.TenantID <= 0 || strings.TrimSpace(in.Name) == "" {
		return APIToken{}, "", fmt.Errorf("identity: tenant and name required")
	}
	role := in.Role
	if role == "" {
		role = shared.RoleMember
	}
	secret, err := randomSecret()
	if err != nil {
		return APIToken{}, "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return APIToken{}, "", err
	}
	token, err := s.repo.Insert(ctx, APIToken{
		TenantID:   in.TenantID,
		UserID:     in.UserID,
		Name:       strings.TrimSpace(in.Name),
		SecretHash: string(hash),
		Role:       role,
	})
	if err != nil {
		return APIToken{}, "", err
	}
	return token, fmt.Sprintf("%d.%s", token.ID, secret), nil
}

// Revoke deactivates a token within the actor's tenant.
func (s *Service) Revoke(ctx context.Context, actor shared.Actor, id int64) error {
	if err := shared.RequireRole(actor, shared.RoleAdmin); err != nil {
		return err
	}
	return s.repo.Revoke(ctx, actor.TenantID, id)
}

func splitCredential(credential string) (int64, string, bool) {
	idPart, secret, found := strings.Cut(strings.TrimSpace(credential), ".")
	if !found || secret == "" {
		return 0, "", false
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	return id, secret, true
}

func randomSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
