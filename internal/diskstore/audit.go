package diskstore

import (
	"context"
	"time"
)

// MutationKind identifies which DiskStore operation an AuditEntry records.
type MutationKind string

const (
	MutationSet       MutationKind = "set"
	MutationRemove    MutationKind = "remove"
	MutationRemoveAll MutationKind = "remove_all"
)

// AuditEntry is one row of the append-only mutation log, the disk-store
// analogue of the teacher's invalidation/audit.go AuditLog: same
// pattern/keys/triggered-by/timestamp/request-id/latency shape, repointed
// from invalidation events at an admin layer to DiskStore's own
// set/remove/removeAll calls, useful for debugging merge-policy decisions
// during a migration.
type AuditEntry struct {
	TypeTag   string
	Operation MutationKind
	Keys      []string
	RequestID string
	Latency   time.Duration
	Timestamp time.Time
}

// Auditor persists AuditEntry rows. Implementations must treat the log as
// append-only: DiskStore never updates or deletes a row once written.
type Auditor interface {
	EnsureAuditTable(ctx context.Context) error
	RecordMutation(ctx context.Context, entry AuditEntry) error
}

// WithAudit attaches an Auditor that Set/Remove/RemoveAll record every
// mutation into, once EnsureAuditTable has been called (typically from
// Store.Open). Recording is a no-op until this is called.
func (s *Store) WithAudit(auditor Auditor) *Store {
	s.auditor = auditor
	return s
}

func (s *Store) recordMutation(ctx context.Context, op MutationKind, keys []string, requestID string, start time.Time) {
	if s.auditor == nil {
		return
	}
	s.auditor.RecordMutation(context.WithoutCancel(ctx), AuditEntry{
		TypeTag:   s.typeTag,
		Operation: op,
		Keys:      keys,
		RequestID: requestID,
		Latency:   time.Since(start),
		Timestamp: start,
	})
}
