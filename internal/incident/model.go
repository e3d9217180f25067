package incident

import (
	"encoding/json"
	"time"
)

// Status tracks where an incident is in its governed lifecycle.
type Status string

const (
	// StatusNew means created, not yet triaged.
	StatusNew Status = "new"

	// StatusTriaged means a triage snapshot exists and awaits a decision.
	StatusTriaged Status = "triaged"

	// StatusApproved means a human accepted the triage as-is.
	StatusApproved Status = "approved"

	// StatusOverridden means a human corrected the triage.
	StatusOverridden Status = "overridden"

	// StatusResolved is terminal.
	StatusResolved Status = "resolved"
)

// Severity is the P1..P4 priority scale, P1 most critical.
type Severity string

const (
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
	SeverityP3 Severity = "P3"
	SeverityP4 Severity = "P4"
)

// Category classifies what kind of incident this is.
type Category string

const (
	CategoryDeployment     Category = "deployment"
	CategoryDatabase       Category = "database"
	CategoryNetwork        Category = "network"
	CategoryApplication    Category = "application"
	CategorySecurity       Category = "security"
	CategoryInfrastructure Category = "infrastructure"
	CategoryUnknown        Category = "unknown"
)

// Environment is where the incident occurred.
type Environment string

const (
	EnvProd    Environment = "prod"
	EnvStaging Environment = "staging"
	EnvDev     Environment = "dev"
	EnvOther   Environment = "other"
)

// ParseSeverity validates a raw severity string. Unrecognized values are
// rejected, never coerced.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityP1, SeverityP2, SeverityP3, SeverityP4:
		return Severity(s), nil
	}
	return "", &ValidationError{Field: "severity", Value: s, Reason: "must be one of P1, P2, P3, P4"}
}

// ParseCategory validates a raw category string.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategoryDeployment, CategoryDatabase, CategoryNetwork, CategoryApplication,
		CategorySecurity, CategoryInfrastructure, CategoryUnknown:
		return Category(s), nil
	}
	return "", &ValidationError{Field: "category", Value: s, Reason: "unrecognized incident category"}
}

// ParseEnvironment validates a raw environment string.
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case EnvProd, EnvStaging, EnvDev, EnvOther:
		return Environment(s), nil
	}
	return "", &ValidationError{Field: "environment", Value: s, Reason: "must be one of prod, staging, dev, other"}
}

// Incident is the canonical incident record. Status moves only through the
// state machine; Seq counts committed audit events and doubles as the
// optimistic-concurrency token for the next transition.
type Incident struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Component   string      `json:"component"`
	Environment Environment `json:"environment"`
	Reporter    string      `json:"reporter"`
	Status      Status      `json:"status"`
	Seq         int         `json:"seq"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Triage      *Snapshot   `json:"triage,omitempty"`
	Decision    *Decision   `json:"decision,omitempty"`
}

// RunbookRef is a scored remediation candidate attached to a snapshot.
type RunbookRef struct {
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	Steps    []string `json:"steps,omitempty"`
	FitScore float64  `json:"fit_score"`
}

// Snapshot is the result of one triage run. Snapshots are never mutated;
// a re-triage or override produces a new one and the old survives in the
// audit ledger.
type Snapshot struct {
	Category             Category     `json:"category"`
	Severity             Severity     `json:"severity"`
	Confidence           float64      `json:"confidence"`
	RiskScore            float64      `json:"risk_score"`
	OwnerTeam            string       `json:"owner_team,omitempty"`
	NeedsHumanReview     bool         `json:"needs_human_review"`
	PrimaryRunbook       *RunbookRef  `json:"primary_runbook,omitempty"`
	AlternativeRunbooks  []RunbookRef `json:"alternative_runbooks,omitempty"`
	ShortSummary         string       `json:"short_summary,omitempty"`
	PolicyOverrideReason string       `json:"policy_override_reason,omitempty"`
}

// DecisionKind is the human action taken on a triaged incident.
type DecisionKind string

const (
	DecisionApprove  DecisionKind = "approve"
	DecisionOverride DecisionKind = "override"
	DecisionResolve  DecisionKind = "resolve"
)

// Decision records a human action. Immutable once written.
type Decision struct {
	Kind        DecisionKind `json:"kind"`
	DecidedBy   string       `json:"decided_by"`
	Note        string       `json:"note,omitempty"`
	DecidedAt   time.Time    `json:"decided_at"`
	NewSeverity Severity     `json:"new_severity,omitempty"`
	NewCategory Category     `json:"new_category,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}

// EventType identifies what a ledger entry records.
type EventType string

const (
	EventCreated      EventType = "created"
	EventTriaged      EventType = "triaged"
	EventApproved     EventType = "approved"
	EventOverridden   EventType = "overridden"
	EventResolved     EventType = "resolved"
	EventPIRGenerated EventType = "pir_generated"
)

// ActorSystem marks ledger entries written by the engine itself.
const ActorSystem = "system"

// AuditEvent is one append-only ledger entry. Sequence numbers per incident
// start at 0 and are never reused or reordered.
type AuditEvent struct {
	IncidentID   string          `json:"incident_id"`
	Sequence     int             `json:"sequence"`
	Type         EventType       `json:"event_type"`
	Actor        string          `json:"actor"`
	StatusBefore Status          `json:"status_before"`
	StatusAfter  Status          `json:"status_after"`
	Timestamp    time.Time       `json:"timestamp"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// SnapshotPayload decodes the event payload as a triage snapshot.
// Returns ok=false when the payload is absent or not a snapshot event.
func (e *AuditEvent) SnapshotPayload() (*Snapshot, bool) {
	if e.Type != EventTriaged || len(e.Payload) == 0 {
		return nil, false
	}
	var snap Snapshot
	if err := json.Unmarshal(e.Payload, &snap); err != nil {
		return nil, false
	}
	return &snap, true
}

// DecisionPayload decodes the event payload as a human decision.
func (e *AuditEvent) DecisionPayload() (*Decision, bool) {
	switch e.Type {
	case EventApproved, EventOverridden, EventResolved:
	default:
		return nil, false
	}
	if len(e.Payload) == 0 {
		return nil, false
	}
	var d Decision
	if err := json.Unmarshal(e.Payload, &d); err != nil {
		return nil, false
	}
	return &d, true
}
