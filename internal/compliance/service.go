package compliance

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ledgerline/ledgerline/internal/shared"
)

// Service aggregates the tenant's compliance standing.
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

// GetSummary builds the compliance dashboard aggregate for the actor's
// tenant.
func (s *Service) GetSummary(ctx context.Context, actor shared.Actor) (Summary, error) {
	if !actor.Valid() {
		return Summary{}, shared.ErrUnauthorized
	}
	now := s.now()
	open, err := s.repo.CountOpenFindings(ctx, actor.TenantID)
	if err != nil {
		return Summary{}, err
	}
	certs, err := s.repo.CountActiveCertifications(ctx, actor.TenantID, now)
	if err != nil {
		return Summary{}, err
	}
	recent, err := s.repo.CountAuditRecordsSince(ctx, actor.TenantID, now.AddDate(0, 0, -30))
	if err != nil {
		return Summary{}, err
	}
	lastAt, err := s.repo.LastAuditAt(ctx, actor.TenantID)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		TenantID:             actor.TenantID,
		OpenFindings:         open,
		ActiveCertifications: certs,
		AuditRecords30d:      recent,
		LastAuditAt:          lastAt,
		GeneratedAt:          now,
	}, nil
}

// RaiseFinding registers an open finding.
func (s *Service) RaiseFinding(ctx context.Context, actor shared.Actor, title, severity string) (Finding, error) {
	if err := shared.RequireRole(actor, shared.RoleAdmin); err != nil {
		return Finding{}, err
	}
	if strings.TrimSpace(title) == "" {
		return Finding{}, errors.New("compliance: title required")
	}
	return s.repo.InsertFinding(ctx, Finding{
		TenantID: actor.TenantID,
		Title:    strings.TrimSpace(title),
		Severity: severity,
		Status:   FindingOpen,
		RaisedAt: s.now(),
	})
}

// ResolveFinding closes an open finding.
func (s *Service) ResolveFinding(ctx context.Context, actor shared.Actor, id int64) error {
	if err := shared.RequireRole(actor, shared.RoleAdmin); err != nil {
		return err
	}
	return s.repo.ResolveFinding(ctx, actor.TenantID, id, s.now())
}

// ListFindings returns findings, optionally filtered by status.
func (s *Service) ListFindings(ctx context.Context, actor shared.Actor, status FindingStatus) ([]Finding, error) {
	if !actor.Valid() {
		return nil, shared.ErrUnauthorized
	}
	return s.repo.ListFindings(ctx, actor.TenantID, status)
}

// AddCertification registers an attestation with its validity window.
func (s *Service) AddCertification(ctx context.Context, actor shared.Actor, c Certification) (Certification, error) {
	if err := shared.RequireRole(actor, shared.RoleAdmin); err != nil {
		return Certification{}, err
	}
	if strings.TrimSpace(c.Name) == "" {
		return Certification{}, errors.New("compliance: name required")
	}
	if !c.ValidFrom.Before(c.ValidUntil) {
		return Certification{}, errors.New("compliance: validity window is empty")
	}
	c.TenantID = actor.TenantID
	return s.repo.InsertCertification(ctx, c)
}

// ListCertifications returns the tenant's certifications.
func (s *Service) ListCertifications(ctx context.Context, actor shared.Actor) ([]Certification, error) {
	if !actor.Valid() {
		return nil, shared.ErrUnauthorized
	}
	return s.repo.ListCertifications(ctx, actor.TenantID)
}
