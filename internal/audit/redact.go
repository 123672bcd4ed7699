package audit

import "fmt"

// Strategy describes how a field value is transformed before persistence.
type Strategy int

const (
	// StrategyKeep stores the value unchanged.
	StrategyKeep Strategy = iota
	// StrategyMask replaces the value with a fixed mask.
	StrategyMask
	// StrategyLast4 keeps only the last four characters.
	StrategyLast4
	// StrategyDrop removes the field from the snapshot entirely.
	StrategyDrop
)

const maskValue = "[REDACTED]"

// Policy maps field names to redaction strategies for one table. Fields not
// listed are kept; secrets must therefore be declared here explicitly.
type Policy map[string]Strategy

// policies is the static redaction table. Declared in one place so the
// redaction surface is reviewable without chasing call sites.
var policies = map[string]Policy{
	"tenants": {
		"name": StrategyMask,
	},
	"api_tokens": {
		"secret_hash": StrategyDrop,
	},
	"recurring_templates": {
		"name": StrategyMask,
	},
	"subscription_invoices": {
		"customer_reference": StrategyLast4,
	},
}

// Redact applies the table's policy to the snapshot, returning a copy.
func Redact(table string, snap Snapshot) Snapshot {
	if snap == nil {
		return nil
	}
	policy := policies[table]
	out := snap.Clone()
	for field, strategy := range policy {
		val, ok := out[field]
		if !ok {
			continue
		}
		switch strategy {
		case StrategyKeep:
		case StrategyMask:
			out[field] = maskValue
		case StrategyLast4:
			out[field] = last4(val)
		case StrategyDrop:
			delete(out, field)
		}
	}
	return out
}

func last4(v any) string {
	s := fmt.Sprintf("%v", v)
	if len(s) <= 4 {
		return maskValue
	}
	return maskValue + s[len(s)-4:]
}
