package pgstore_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/warden/internal/incident"
	"github.com/linnemanlabs/warden/internal/incident/pgstore"
	"github.com/linnemanlabs/warden/internal/postgres"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("WARDEN_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("WARDEN_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func seedIncident(now time.Time) *incident.Incident {
	return &incident.Incident{
		ID:          ulid.Make().String(),
		Title:       "orders replica lag",
		Description: "replication lag above 30s",
		Component:   "orders-db",
		Environment: incident.EnvProd,
		Reporter:    "bob",
		Status:      incident.StatusNew,
		Seq:         1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func createdEvent(inc *incident.Incident, now time.Time) *incident.AuditEvent {
	return &incident.AuditEvent{
		IncidentID:   inc.ID,
		Sequence:     0,
		Type:         incident.EventCreated,
		Actor:        inc.Reporter,
		StatusBefore: incident.StatusNew,
		StatusAfter:  incident.StatusNew,
		Timestamp:    now,
	}
}

func TestCommitAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	inc := seedIncident(now)

	if err := s.CommitTransition(ctx, inc, createdEvent(inc, now)); err != nil {
		t.Fatalf("CommitTransition: %v", err)
	}

	got, ok, err := s.GetIncident(ctx, inc.ID)
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if !ok {
		t.Fatal("GetIncident returned ok=false, want true")
	}

	assertEqual(t, "ID", inc.ID, got.ID)
	assertEqual(t, "Title", inc.Title, got.Title)
	assertEqual(t, "Description", inc.Description, got.Description)
	assertEqual(t, "Component", inc.Component, got.Component)
	assertEqual(t, "Environment", string(inc.Environment), string(got.Environment))
	assertEqual(t, "Reporter", inc.Reporter, got.Reporter)
	assertEqual(t, "Status", string(inc.Status), string(got.Status))
	assertEqual(t, "Seq", inc.Seq, got.Seq)
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt: got %v, want %v", got.CreatedAt, now)
	}
	if got.Triage != nil || got.Decision != nil {
		t.Errorf("fresh incident should have nil triage and decision, got %+v / %+v", got.Triage, got.Decision)
	}
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, ok, err := s.GetIncident(ctx, "nonexistent-id")
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if ok {
		t.Error("GetIncident returned ok=true for nonexistent ID")
	}
}

func TestUpsertWithSnapshotAndDecision(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	inc := seedIncident(now)
	if err := s.CommitTransition(ctx, inc, createdEvent(inc, now)); err != nil {
		t.Fatalf("initial commit: %v", err)
	}

	snap := &incident.Snapshot{
		Category:         incident.CategoryDatabase,
		Severity:         incident.SeverityP2,
		Confidence:       0.85,
		RiskScore:        0.6475,
		OwnerTeam:        "data-platform",
		NeedsHumanReview: true,
		ShortSummary:     "Replica lag on the orders cluster.",
		PrimaryRunbook:   &incident.RunbookRef{Name: "Database Incident Response", URL: "https://runbooks.internal/db", FitScore: 0.82},
	}
	snapRaw, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	inc.Status = incident.StatusTriaged
	inc.Triage = snap
	inc.Seq = 2
	inc.UpdatedAt = now.Add(time.Minute)

	ev := &incident.AuditEvent{
		IncidentID: inc.ID, Sequence: 1, Type: incident.EventTriaged,
		Actor: incident.ActorSystem, StatusBefore: incident.StatusNew, StatusAfter: incident.StatusTriaged,
		Timestamp: now.Add(time.Minute), Payload: snapRaw,
	}
	if err := s.CommitTransition(ctx, inc, ev); err != nil {
		t.Fatalf("triage commit: %v", err)
	}

	got, ok, err := s.GetIncident(ctx, inc.ID)
	if err != nil || !ok {
		t.Fatalf("GetIncident: (%v, %v)", ok, err)
	}
	assertEqual(t, "Status", string(incident.StatusTriaged), string(got.Status))
	assertEqual(t, "Seq", 2, got.Seq)
	if got.Triage == nil {
		t.Fatal("Triage is nil after round-trip")
	}
	assertEqual(t, "Triage.Category", string(incident.CategoryDatabase), string(got.Triage.Category))
	assertEqual(t, "Triage.Confidence", 0.85, got.Triage.Confidence)
	assertEqual(t, "Triage.RiskScore", 0.6475, got.Triage.RiskScore)
	if got.Triage.PrimaryRunbook == nil || got.Triage.PrimaryRunbook.Name != "Database Incident Response" {
		t.Errorf("PrimaryRunbook = %+v", got.Triage.PrimaryRunbook)
	}
}

func TestEventsOrderedLedger(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	inc := seedIncident(now)
	if err := s.CommitTransition(ctx, inc, createdEvent(inc, now)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	inc.Status = incident.StatusTriaged
	inc.Seq = 2
	ev := &incident.AuditEvent{
		IncidentID: inc.ID, Sequence: 1, Type: incident.EventTriaged,
		Actor: incident.ActorSystem, StatusBefore: incident.StatusNew, StatusAfter: incident.StatusTriaged,
		Timestamp: now.Add(time.Minute),
	}
	if err := s.CommitTransition(ctx, inc, ev); err != nil {
		t.Fatalf("triage commit: %v", err)
	}

	events, err := s.Events(ctx, inc.ID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("ledger length = %d, want 2", len(events))
	}
	for i, ev := range events {
		if ev.Sequence != i {
			t.Errorf("event %d sequence = %d", i, ev.Sequence)
		}
	}
	assertEqual(t, "events[0].Type", string(incident.EventCreated), string(events[0].Type))
	assertEqual(t, "events[1].Type", string(incident.EventTriaged), string(events[1].Type))
	assertEqual(t, "events[1].Actor", incident.ActorSystem, events[1].Actor)
}

func TestCommitSequenceConflict(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	inc := seedIncident(now)
	if err := s.CommitTransition(ctx, inc, createdEvent(inc, now)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// A second writer replaying sequence 0 must lose and leave no trace.
	dup := createdEvent(inc, now.Add(time.Second))
	err := s.CommitTransition(ctx, inc, dup)
	if !incident.IsSequenceConflict(err) {
		t.Fatalf("duplicate sequence err = %v, want SequenceConflictError", err)
	}

	events, err := s.Events(ctx, inc.ID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("ledger length after rejected commit = %d, want 1", len(events))
	}
	if !events[0].Timestamp.Equal(now) {
		t.Errorf("surviving event timestamp = %v, want original %v", events[0].Timestamp, now)
	}
}

func TestListIncidents(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond).UTC()
	older := seedIncident(now.Add(-time.Hour))
	newer := seedIncident(now)
	if err := s.CommitTransition(ctx, older, createdEvent(older, older.CreatedAt)); err != nil {
		t.Fatalf("commit older: %v", err)
	}
	if err := s.CommitTransition(ctx, newer, createdEvent(newer, newer.CreatedAt)); err != nil {
		t.Fatalf("commit newer: %v", err)
	}

	got, err := s.ListIncidents(ctx, 100)
	if err != nil {
		t.Fatalf("ListIncidents: %v", err)
	}

	var posOlder, posNewer = -1, -1
	for i, inc := range got {
		switch inc.ID {
		case older.ID:
			posOlder = i
		case newer.ID:
			posNewer = i
		}
	}
	if posOlder < 0 || posNewer < 0 {
		t.Fatalf("listed incidents missing test rows: older=%d newer=%d", posOlder, posNewer)
	}
	if posNewer > posOlder {
		t.Errorf("newer incident listed after older: newer=%d older=%d", posNewer, posOlder)
	}
}

func assertEqual[T comparable](t *testing.T, field string, want, got T) {
	t.Helper()
	if want != got {
		t.Errorf("%s: got %v, want %v", field, got, want)
	}
}
