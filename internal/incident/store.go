package incident

import "context"

// Store is the persistence contract for incidents and their audit ledgers.
//
// CommitTransition is the only write path. It persists the incident record
// and appends the audit event as one committed unit: the event's Sequence
// must equal the current ledger length for that incident, otherwise the
// store returns SequenceConflictError and writes nothing. There is no
// update or delete operation for audit events.
type Store interface {
	GetIncident(ctx context.Context, id string) (*Incident, bool, error)
	ListIncidents(ctx context.Context, limit int) ([]*Incident, error)
	CommitTransition(ctx context.Context, inc *Incident, ev *AuditEvent) error

	// Events returns the full ledger for an incident ordered by sequence.
	// A gap in sequence numbers surfaces as LedgerIntegrityError.
	Events(ctx context.Context, incidentID string) ([]AuditEvent, error)
}
