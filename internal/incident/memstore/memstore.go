// Package memstore provides an in-memory implementation of incident.Store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/warden/internal/incident"
)

// Store holds incidents and their audit ledgers in memory. Suitable for
// dev/testing; the optimistic sequence check mirrors the durable store.
type Store struct {
	mu        sync.RWMutex
	incidents map[string]*incident.Incident
	ledgers   map[string][]incident.AuditEvent
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		incidents: make(map[string]*incident.Incident),
		ledgers:   make(map[string][]incident.AuditEvent),
	}
}

// GetIncident retrieves an incident by ID. Returns a copy.
func (s *Store) GetIncident(_ context.Context, id string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	return copyIncident(inc), true, nil
}

// ListIncidents returns up to limit incidents, most recently created first.
func (s *Store) ListIncidents(_ context.Context, limit int) ([]*incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*incident.Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		out = append(out, copyIncident(inc))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CommitTransition stores the incident and appends the audit event as one
// unit. The event sequence must equal the current ledger length, otherwise
// nothing is written and a SequenceConflictError is returned.
func (s *Store) CommitTransition(_ context.Context, inc *incident.Incident, ev *incident.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger := s.ledgers[inc.ID]
	if ev.Sequence != len(ledger) {
		return &incident.SequenceConflictError{IncidentID: inc.ID, Sequence: ev.Sequence}
	}

	s.ledgers[inc.ID] = append(ledger, *ev)
	s.incidents[inc.ID] = copyIncident(inc)
	return nil
}

// Events returns the ordered ledger for an incident. A sequence gap
// surfaces as LedgerIntegrityError.
func (s *Store) Events(_ context.Context, incidentID string) ([]incident.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ledger := s.ledgers[incidentID]
	out := make([]incident.AuditEvent, len(ledger))
	copy(out, ledger)
	for i, ev := range out {
		if ev.Sequence != i {
			return nil, &incident.LedgerIntegrityError{IncidentID: incidentID, WantSeq: i, GotSeq: ev.Sequence}
		}
	}
	return out, nil
}

// Corrupt drops the event at the given sequence, leaving a gap. Test-only
// hook for exercising the ledger integrity check.
func (s *Store) Corrupt(incidentID string, seq int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ledger := s.ledgers[incidentID]
	out := ledger[:0]
	for _, ev := range ledger {
		if ev.Sequence != seq {
			out = append(out, ev)
		}
	}
	s.ledgers[incidentID] = out
}

func copyIncident(inc *incident.Incident) *incident.Incident {
	cp := *inc
	if inc.Triage != nil {
		t := *inc.Triage
		if t.AlternativeRunbooks != nil {
			alts := make([]incident.RunbookRef, len(t.AlternativeRunbooks))
			copy(alts, t.AlternativeRunbooks)
			t.AlternativeRunbooks = alts
		}
		if t.PrimaryRunbook != nil {
			p := *t.PrimaryRunbook
			t.PrimaryRunbook = &p
		}
		cp.Triage = &t
	}
	if inc.Decision != nil {
		d := *inc.Decision
		cp.Decision = &d
	}
	return &cp
}
