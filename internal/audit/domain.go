package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action enumerates audited mutation kinds.
type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Snapshot is a structured before/after image of a record. Values are
// redacted before the snapshot is persisted; raw PII never reaches storage.
type Snapshot map[string]any

// Clone returns a shallow copy so redaction never mutates the caller's map.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Record is one append-only audit trail row.
type Record struct {
	ID         uuid.UUID
	TenantID   int64
	TableName  string
	RecordID   string
	Action     Action
	OldValues  Snapshot
	NewValues  Snapshot
	Note       string
	ErrorKind  string
	ActorID    int64
	OccurredAt time.Time
}

// Filters narrows Trail queries.
type Filters struct {
	TableName string
	Action    Action
	From      time.Time
	To        time.Time
}
