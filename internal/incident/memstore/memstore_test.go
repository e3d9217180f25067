package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/linnemanlabs/warden/internal/incident"
)

func testIncident(id string, createdAt time.Time) *incident.Incident {
	return &incident.Incident{
		ID:          id,
		Title:       "replica lag",
		Environment: incident.EnvProd,
		Status:      incident.StatusNew,
		Seq:         1,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func testEvent(id string, seq int) *incident.AuditEvent {
	return &incident.AuditEvent{
		IncidentID:   id,
		Sequence:     seq,
		Type:         incident.EventCreated,
		Actor:        "bob",
		StatusBefore: incident.StatusNew,
		StatusAfter:  incident.StatusNew,
		Timestamp:    time.Now().UTC(),
	}
}

func TestCommitAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	inc := testIncident("a", now)
	if err := s.CommitTransition(ctx, inc, testEvent("a", 0)); err != nil {
		t.Fatalf("CommitTransition: %v", err)
	}

	got, ok, err := s.GetIncident(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("GetIncident: (%v, %v)", ok, err)
	}
	if got.ID != "a" || got.Status != incident.StatusNew {
		t.Errorf("got = %+v", got)
	}

	_, ok, err = s.GetIncident(ctx, "missing")
	if err != nil || ok {
		t.Errorf("missing incident: (%v, %v), want not found", ok, err)
	}
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	inc := testIncident("a", now)
	inc.Triage = &incident.Snapshot{
		Category:       incident.CategoryDatabase,
		Severity:       incident.SeverityP2,
		PrimaryRunbook: &incident.RunbookRef{Name: "Database Incident Response"},
		AlternativeRunbooks: []incident.RunbookRef{
			{Name: "Database Backup Restore"},
		},
	}
	if err := s.CommitTransition(ctx, inc, testEvent("a", 0)); err != nil {
		t.Fatalf("CommitTransition: %v", err)
	}

	first, _, _ := s.GetIncident(ctx, "a")
	first.Title = "mutated"
	first.Triage.Severity = incident.SeverityP4
	first.Triage.PrimaryRunbook.Name = "mutated"
	first.Triage.AlternativeRunbooks[0].Name = "mutated"

	second, _, _ := s.GetIncident(ctx, "a")
	if second.Title != "replica lag" {
		t.Error("caller mutation leaked into stored incident")
	}
	if second.Triage.Severity != incident.SeverityP2 {
		t.Error("caller mutation leaked into stored snapshot")
	}
	if second.Triage.PrimaryRunbook.Name != "Database Incident Response" {
		t.Error("caller mutation leaked into stored primary runbook")
	}
	if second.Triage.AlternativeRunbooks[0].Name != "Database Backup Restore" {
		t.Error("caller mutation leaked into stored alternatives")
	}
}

func TestCommitSequenceConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	inc := testIncident("a", now)
	if err := s.CommitTransition(ctx, inc, testEvent("a", 0)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Replaying sequence 0 loses; so does skipping ahead to 2.
	if err := s.CommitTransition(ctx, inc, testEvent("a", 0)); !incident.IsSequenceConflict(err) {
		t.Errorf("replayed sequence: err = %v, want conflict", err)
	}
	if err := s.CommitTransition(ctx, inc, testEvent("a", 2)); !incident.IsSequenceConflict(err) {
		t.Errorf("skipped sequence: err = %v, want conflict", err)
	}

	// A rejected commit writes nothing.
	events, err := s.Events(ctx, "a")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("ledger length = %d, want 1", len(events))
	}

	if err := s.CommitTransition(ctx, inc, testEvent("a", 1)); err != nil {
		t.Errorf("next sequence should commit: %v", err)
	}
}

func TestEventsIntegrityCheck(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	inc := testIncident("a", now)
	for seq := 0; seq < 3; seq++ {
		if err := s.CommitTransition(ctx, inc, testEvent("a", seq)); err != nil {
			t.Fatalf("commit %d: %v", seq, err)
		}
	}

	s.Corrupt("a", 1)

	_, err := s.Events(ctx, "a")
	if !incident.IsLedgerIntegrity(err) {
		t.Fatalf("Events err = %v, want ledger integrity error", err)
	}
}

func TestListOrderingAndLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	base := time.Now().UTC()

	for i, id := range []string{"a", "b", "c"} {
		inc := testIncident(id, base.Add(time.Duration(i)*time.Minute))
		if err := s.CommitTransition(ctx, inc, testEvent(id, 0)); err != nil {
			t.Fatalf("commit %s: %v", id, err)
		}
	}

	got, err := s.ListIncidents(ctx, 10)
	if err != nil {
		t.Fatalf("ListIncidents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"c", "b", "a"} {
		if got[i].ID != want {
			t.Errorf("position %d = %s, want %s", i, got[i].ID, want)
		}
	}

	got, err = s.ListIncidents(ctx, 2)
	if err != nil {
		t.Fatalf("ListIncidents limit: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" {
		t.Errorf("limited list = %v", got)
	}
}
