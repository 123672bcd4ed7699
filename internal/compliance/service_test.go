package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerline/ledgerline/internal/shared"
)

type mockRepository struct {
	findings       map[int64]Finding
	certifications []Certification
	auditTimes     []time.Time
	nextID         int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{findings: make(map[int64]Finding), nextID: 1}
}

func (m *mockRepository) CountOpenFindings(ctx context.Context, tenantID int64) (int, error) {
	n := 0
	for _, f := range m.findings {
		if f.TenantID == tenantID && f.Status == FindingOpen {
			n++
		}
	}
	return n, nil
}

func (m *mockRepository) CountActiveCertifications(ctx context.Context, tenantID int64, at time.Time) (int, error) {
	n := 0
	for _, c := range m.certifications {
		if c.TenantID == tenantID && c.Active(at) {
			n++
		}
	}
	return n, nil
}

func (m *mockRepository) CountAuditRecordsSince(ctx context.Context, tenantID int64, since time.Time) (int, error) {
	n := 0
	for _, at := range m.auditTimes {
		if !at.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *mockRepository) LastAuditAt(ctx context.Context, tenantID int64) (*time.Time, error) {
	if len(m.auditTimes) == 0 {
		return nil, nil
	}
	last := m.auditTimes[0]
	for _, at := range m.auditTimes[1:] {
		if at.After(last) {
			last = at
		}
	}
	return &last, nil
}

func (m *mockRepository) InsertFinding(ctx context.Context, f Finding) (Finding, error) {
	f.ID = m.nextID
	m.nextID++
	m.findings[f.ID] = f
	return f, nil
}

func (m *mockRepository) ResolveFinding(ctx context.Context, tenantID, id int64, at time.Time) error {
	f, ok := m.findings[id]
	if !ok || f.TenantID != tenantID {
		return shared.ErrNotFound
	}
	f.Status = FindingResolved
	f.ResolvedAt = &at
	m.findings[id] = f
	return nil
}

func (m *mockRepository) ListFindings(ctx context.Context, tenantID int64, status FindingStatus) ([]Finding, error) {
	var out []Finding
	for _, f := range m.findings {
		if f.TenantID == tenantID && (status == "" || f.Status == status) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *mockRepository) InsertCertification(ctx context.Context, c Certification) (Certification, error) {
	c.ID = int64(len(m.certifications) + 1)
	m.certifications = append(m.certifications, c)
	return c, nil
}

func (m *mockRepository) ListCertifications(ctx context.Context, tenantID int64) ([]Certification, error) {
	return m.certifications, nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var admin = shared.Actor{TenantID: 1, UserID: 9, Role: shared.RoleAdmin}

func newTestService(repo *mockRepository) *Service {
	svc := NewService(repo)
	svc.WithNow(func() time.Time { return date(2025, 6, 15) })
	return svc
}

func TestGetSummary(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)

	_, err := svc.RaiseFinding(context.Background(), admin, "segregation of duties gap", "HIGH")
	require.NoError(t, err)
	resolved, err := svc.RaiseFinding(context.Background(), admin, "stale access review", "LOW")
	require.NoError(t, err)
	require.NoError(t, svc.ResolveFinding(context.Background(), admin, resolved.ID))

	_, err = svc.AddCertification(context.Background(), admin, Certification{
		Name: "SOC 2 Type II", Issuer: "Auditor LLP",
		ValidFrom: date(2025, 1, 1), ValidUntil: date(2026, 1, 1),
	})
	require.NoError(t, err)
	_, err = svc.AddCertification(context.Background(), admin, Certification{
		Name: "ISO 27001", Issuer: "Auditor LLP",
		ValidFrom: date(2023, 1, 1), ValidUntil: date(2024, 1, 1), // expired
	})
	require.NoError(t, err)

	repo.auditTimes = []time.Time{
		date(2025, 6, 1),
		date(2025, 5, 20),
		date(2025, 1, 1), // outside the 30-day window
	}

	summary, err := svc.GetSummary(context.Background(), admin)
	require.NoError(t, err)
	require.Equal(t, 1, summary.OpenFindings)
	require.Equal(t, 1, summary.ActiveCertifications)
	require.Equal(t, 2, summary.AuditRecords30d)
	require.NotNil(t, summary.LastAuditAt)
	require.Equal(t, date(2025, 6, 1), *summary.LastAuditAt)
	require.Equal(t, date(2025, 6, 15), summary.GeneratedAt)
}

func TestGetSummaryEmptyTenant(t *testing.T) {
	svc := newTestService(newMockRepository())

	summary, err := svc.GetSummary(context.Background(), admin)
	require.NoError(t, err)
	require.Zero(t, summary.OpenFindings)
	require.Nil(t, summary.LastAuditAt)
}

func TestFindingMutationsRequireAdmin(t *testing.T) {
	svc := newTestService(newMockRepository())
	member := shared.Actor{TenantID: 1, UserID: 3, Role: shared.RoleMember}

	_, err := svc.RaiseFinding(context.Background(), member, "x", "LOW")
	require.ErrorIs(t, err, shared.ErrForbidden)
	require.ErrorIs(t, svc.ResolveFinding(context.Background(), member, 1), shared.ErrForbidden)
	_, err = svc.AddCertification(context.Background(), member, Certification{Name: "SOC 2"})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestAddCertificationValidatesWindow(t *testing.T) {
	svc := newTestService(newMockRepository())

	_, err := svc.AddCertification(context.Background(), admin, Certification{
		Name: "SOC 2", ValidFrom: date(2025, 1, 1), ValidUntil: date(2025, 1, 1),
	})
	require.Error(t, err)
}

func TestCertificationActive(t *testing.T) {
	c := Certification{ValidFrom: date(2025, 1, 1), ValidUntil: date(2026, 1, 1)}
	require.True(t, c.Active(date(2025, 1, 1)))
	require.True(t, c.Active(date(2025, 12, 31)))
	require.False(t, c.Active(date(2026, 1, 1)))
	require.False(t, c.Active(date(2024, 12, 31)))
}
