// Package pgstore provides a PostgreSQL implementation of incident.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/warden/internal/incident"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/incident/pgstore")

//go:embed schema.sql
var schema string

// pgUniqueViolation is the Postgres error code raised when a concurrent
// transition already claimed the audit sequence.
const pgUniqueViolation = "23505"

// Store persists incidents and audit ledgers in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const incidentColumns = `id, title, description, component, environment, reporter,
	status, seq, created_at, updated_at, triage, decision`

// GetIncident retrieves an incident by ID.
func (s *Store) GetIncident(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetIncident", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	inc, err := scanIncidentRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if inc == nil {
		return nil, false, nil
	}
	return inc, true, nil
}

// ListIncidents returns up to limit incidents, most recently created first.
func (s *Store) ListIncidents(ctx context.Context, limit int) ([]*incident.Incident, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListIncidents", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents ORDER BY created_at DESC, id DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []*incident.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return out, nil
}

// CommitTransition upserts the incident and appends the audit event in one
// transaction. The audit_events primary key enforces the per-incident
// sequence: a duplicate insert means a concurrent transition won the race
// and the whole transaction rolls back.
func (s *Store) CommitTransition(ctx context.Context, inc *incident.Incident, ev *incident.AuditEvent) error {
	ctx, span := tracer.Start(ctx, "pgstore.CommitTransition", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := appendEvent(ctx, tx, ev); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := upsertIncident(ctx, tx, inc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Events returns the ordered ledger for an incident, verifying the
// sequence is gap-free.
func (s *Store) Events(ctx context.Context, incidentID string) ([]incident.AuditEvent, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Events", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT incident_id, seq, event_type, actor, status_before, status_after, ts, payload
		 FROM audit_events WHERE incident_id = $1 ORDER BY seq`,
		incidentID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []incident.AuditEvent
	for rows.Next() {
		var ev incident.AuditEvent
		var eventType, statusBefore, statusAfter string
		if err := rows.Scan(&ev.IncidentID, &ev.Sequence, &eventType, &ev.Actor,
			&statusBefore, &statusAfter, &ev.Timestamp, &ev.Payload); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Type = incident.EventType(eventType)
		ev.StatusBefore = incident.Status(statusBefore)
		ev.StatusAfter = incident.Status(statusAfter)

		if ev.Sequence != len(out) {
			err := &incident.LedgerIntegrityError{IncidentID: incidentID, WantSeq: len(out), GotSeq: ev.Sequence}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return out, nil
}

func appendEvent(ctx context.Context, tx pgx.Tx, ev *incident.AuditEvent) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO audit_events (incident_id, seq, event_type, actor, status_before, status_after, ts, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.IncidentID, ev.Sequence, string(ev.Type), ev.Actor,
		string(ev.StatusBefore), string(ev.StatusAfter), ev.Timestamp, ev.Payload,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return &incident.SequenceConflictError{IncidentID: ev.IncidentID, Sequence: ev.Sequence}
		}
		return fmt.Errorf("append audit event seq %d: %w", ev.Sequence, err)
	}
	return nil
}

func upsertIncident(ctx context.Context, tx pgx.Tx, inc *incident.Incident) error {
	triageJSON, err := marshalNullable(inc.Triage)
	if err != nil {
		return fmt.Errorf("marshal triage: %w", err)
	}
	decisionJSON, err := marshalNullable(inc.Decision)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}

	query := `INSERT INTO incidents (
		id, title, description, component, environment, reporter,
		status, seq, created_at, updated_at, triage, decision
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT (id) DO UPDATE SET
		status     = EXCLUDED.status,
		seq        = EXCLUDED.seq,
		updated_at = EXCLUDED.updated_at,
		triage     = EXCLUDED.triage,
		decision   = EXCLUDED.decision`

	_, err = tx.Exec(ctx, query,
		inc.ID, inc.Title, inc.Description, inc.Component, string(inc.Environment), inc.Reporter,
		string(inc.Status), inc.Seq, inc.CreatedAt, inc.UpdatedAt, triageJSON, decisionJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert incident: %w", err)
	}
	return nil
}

func marshalNullable(v any) ([]byte, error) {
	switch t := v.(type) {
	case *incident.Snapshot:
		if t == nil {
			return nil, nil
		}
	case *incident.Decision:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// scanIncidentRow scans a single row into an Incident.
// Returns (nil, nil) when no row is found.
func scanIncidentRow(row pgx.Row) (*incident.Incident, error) {
	inc, err := scanIncident(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return inc, nil
}

func scanIncident(row pgx.Row) (*incident.Incident, error) {
	var (
		inc          incident.Incident
		environment  string
		status       string
		triageJSON   []byte
		decisionJSON []byte
	)
	err := row.Scan(
		&inc.ID, &inc.Title, &inc.Description, &inc.Component, &environment, &inc.Reporter,
		&status, &inc.Seq, &inc.CreatedAt, &inc.UpdatedAt, &triageJSON, &decisionJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}

	inc.Environment = incident.Environment(environment)
	inc.Status = incident.Status(status)

	if len(triageJSON) > 0 {
		var snap incident.Snapshot
		if err := json.Unmarshal(triageJSON, &snap); err != nil {
			return nil, fmt.Errorf("unmarshal triage: %w", err)
		}
		inc.Triage = &snap
	}
	if len(decisionJSON) > 0 {
		var d incident.Decision
		if err := json.Unmarshal(decisionJSON, &d); err != nil {
			return nil, fmt.Errorf("unmarshal decision: %w", err)
		}
		inc.Decision = &d
	}
	return &inc, nil
}
