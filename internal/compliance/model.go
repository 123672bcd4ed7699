package compliance

import "time"

// FindingStatus enumerates finding lifecycle values.
type FindingStatus string

const (
	FindingOpen     FindingStatus = "OPEN"
	FindingResolved FindingStatus = "RESOLVED"
)

// Finding records an issue raised during an internal or external review.
type Finding struct {
	ID         int64
	TenantID   int64
	Title      string
	Severity   string
	Status     FindingStatus
	RaisedAt   time.Time
	ResolvedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Certification tracks an attestation and its validity window.
type Certification struct {
	ID         int64
	TenantID   int64
	Name       string
	Issuer     string
	ValidFrom  time.Time
	ValidUntil time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Active reports whether the certification covers the given instant.
func (c Certification) Active(at time.Time) bool {
	return !at.Before(c.ValidFrom) && at.Before(c.ValidUntil)
}

// Summary aggregates the tenant's standing for compliance dashboards.
type Summary struct {
	TenantID             int64      `json:"tenant_id"`
	OpenFindings         int        `json:"open_findings"`
	ActiveCertifications int        `json:"active_certifications"`
	AuditRecords30d      int        `json:"audit_records_30d"`
	LastAuditAt          *time.Time `json:"last_audit_at,omitempty"`
	GeneratedAt          time.Time  `json:"generated_at"`
}
