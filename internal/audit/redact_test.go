package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactMasksSensitiveFields(t *testing.T) {
	out := Redact("recurring_templates", Snapshot{
		"name":   "Acme Gold Plan",
		"amount": "99.00",
	})
	assert.Equal(t, "[REDACTED]", out["name"])
	assert.Equal(t, "99.00", out["amount"])
}

func TestRedactDropsSecrets(t *testing.T) {
	out := Redact("api_tokens", Snapshot{
		"secret_hash": "$2a$10$abcdef",
		"name":        "ci token",
	})
	_, present := out["secret_hash"]
	assert.False(t, present)
	assert.Equal(t, "ci token", out["name"])
}

func TestRedactKeepsLast4(t *testing.T) {
	out := Redact("subscription_invoices", Snapshot{
		"customer_reference": "CUST-123456",
	})
	assert.Equal(t, "[REDACTED]3456", out["customer_reference"])

	// Too short to expose anything useful: mask entirely.
	out = Redact("subscription_invoices", Snapshot{
		"customer_reference": "abc",
	})
	assert.Equal(t, "[REDACTED]", out["customer_reference"])
}

func TestRedactLeavesUnknownTablesAlone(t *testing.T) {
	in := Snapshot{"code": "2025-01", "status": "OPEN"}
	out := Redact("billing_periods", in)
	assert.Equal(t, in, out)
}

func TestRedactDoesNotMutateInput(t *testing.T) {
	in := Snapshot{"name": "Acme"}
	out := Redact("tenants", in)
	require.Equal(t, "[REDACTED]", out["name"])
	assert.Equal(t, "Acme", in["name"])
}

func TestRedactNilSnapshot(t *testing.T) {
	assert.Nil(t, Redact("tenants", nil))
}
