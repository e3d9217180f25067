package incident

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/warden/internal/runbook"
)

// RunbookSource supplies triage with remediation candidates per category.
type RunbookSource interface {
	Candidates(category string) []runbook.Runbook
}

// Notifier pushes review-worthy triage results to an external channel.
// Best-effort: failures are logged, never surfaced to the caller.
type Notifier interface {
	Send(ctx context.Context, inc *Incident) error
}

// Service is the incident state machine. It owns status legality, invokes
// the classifier/scorer/policy during triage, and commits every transition
// through the store's atomic upsert-plus-ledger-append.
type Service struct {
	store      Store
	classifier Classifier
	runbooks   RunbookSource
	policy     GatePolicy
	timeout    time.Duration
	logger     log.Logger
	metrics    *Metrics
	notifier   Notifier

	pirMu    sync.Mutex
	pirCache map[string]pirEntry
}

type pirEntry struct {
	seq      int
	markdown string
}

// NewService creates the governance engine. classifier, store and runbooks
// are required; logger, metrics and notifier may be nil.
func NewService(store Store, classifier Classifier, runbooks RunbookSource, policy GatePolicy, timeout time.Duration, logger log.Logger, metrics *Metrics, notifier Notifier) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if metrics == nil {
		metrics = nopMetrics()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		store:      store,
		classifier: classifier,
		runbooks:   runbooks,
		policy:     policy,
		timeout:    timeout,
		logger:     logger,
		metrics:    metrics,
		notifier:   notifier,
		pirCache:   make(map[string]pirEntry),
	}
}

// CreateRequest carries the fields a caller supplies for a new incident.
type CreateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Component   string `json:"component"`
	Environment string `json:"environment"`
	Reporter    string `json:"reporter"`
}

// Create validates the request, mints a new incident in status "new", and
// commits the created event as ledger sequence 0.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Incident, error) {
	if strings.TrimSpace(req.Title) == "" {
		s.metrics.RejectedActions.WithLabelValues("validation").Inc()
		return nil, &ValidationError{Field: "title", Reason: "required"}
	}
	env, err := ParseEnvironment(req.Environment)
	if err != nil {
		s.metrics.RejectedActions.WithLabelValues("validation").Inc()
		return nil, err
	}
	reporter := req.Reporter
	if reporter == "" {
		reporter = "unknown"
	}

	now := time.Now().UTC()
	inc := &Incident{
		ID:          ulid.Make().String(),
		Title:       req.Title,
		Description: req.Description,
		Component:   req.Component,
		Environment: env,
		Reporter:    reporter,
		Status:      StatusNew,
		Seq:         1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	payload, _ := json.Marshal(map[string]string{
		"title":       inc.Title,
		"component":   inc.Component,
		"environment": string(inc.Environment),
		"reporter":    inc.Reporter,
	})
	ev := &AuditEvent{
		IncidentID:   inc.ID,
		Sequence:     0,
		Type:         EventCreated,
		Actor:        reporter,
		StatusBefore: StatusNew,
		StatusAfter:  StatusNew,
		Timestamp:    now,
		Payload:      payload,
	}

	if err := s.commit(ctx, inc, ev); err != nil {
		return nil, err
	}
	s.metrics.IncidentsCreated.Inc()

	s.logger.Info(ctx, "incident created",
		"incident_id", inc.ID,
		"component", inc.Component,
		"environment", inc.Environment,
	)
	return inc, nil
}

// Get retrieves an incident by ID.
func (s *Service) Get(ctx context.Context, id string) (*Incident, bool, error) {
	return s.store.GetIncident(ctx, id)
}

// List returns recent incidents, most recent first, capped at limit.
func (s *Service) List(ctx context.Context, limit int) ([]*Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListIncidents(ctx, limit)
}

// Triage runs the classifier, normalizes its suggestion through the scorer
// and gate policy, and commits the triaged transition. Legal from "new" and
// from "triaged" (re-triage replaces the snapshot; prior snapshots survive
// in the ledger). The classifier call is bounded by the configured timeout;
// on failure the incident keeps its prior status.
func (s *Service) Triage(ctx context.Context, id, actor string) (*Incident, error) {
	start := time.Now()

	inc, ok, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if inc.Status != StatusNew && inc.Status != StatusTriaged {
		s.metrics.RejectedActions.WithLabelValues("illegal_transition").Inc()
		return nil, &IllegalTransitionError{IncidentID: inc.ID, Status: inc.Status, Action: "triage"}
	}

	sug, err := s.classify(ctx, inc)
	if err != nil {
		s.metrics.TriageRuns.WithLabelValues("classifier_error").Inc()
		return nil, err
	}

	snap, err := s.buildSnapshot(inc, sug)
	if err != nil {
		s.metrics.TriageRuns.WithLabelValues("invalid_suggestion").Inc()
		return nil, err
	}

	prev := inc.Status
	now := time.Now().UTC()
	inc.Status = StatusTriaged
	inc.Triage = snap
	inc.UpdatedAt = now

	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	ev := &AuditEvent{
		IncidentID:   inc.ID,
		Sequence:     inc.Seq,
		Type:         EventTriaged,
		Actor:        actorOrSystem(actor),
		StatusBefore: prev,
		StatusAfter:  StatusTriaged,
		Timestamp:    now,
		Payload:      payload,
	}
	inc.Seq++

	if err := s.commit(ctx, inc, ev); err != nil {
		s.metrics.TriageRuns.WithLabelValues("commit_error").Inc()
		return nil, err
	}

	s.metrics.TriageRuns.WithLabelValues("ok").Inc()
	s.metrics.TriageDuration.Observe(time.Since(start).Seconds())
	if snap.NeedsHumanReview {
		s.metrics.ReviewFlagged.Inc()
	}

	s.logger.Info(ctx, "incident triaged",
		"incident_id", inc.ID,
		"category", snap.Category,
		"severity", snap.Severity,
		"confidence", snap.Confidence,
		"risk_score", snap.RiskScore,
		"needs_human_review", snap.NeedsHumanReview,
	)

	if s.notifier != nil && snap.NeedsHumanReview {
		// Fire and forget: notification must never fail or delay a commit.
		go func(inc Incident) {
			nctx := context.WithoutCancel(ctx)
			if err := s.notifier.Send(nctx, &inc); err != nil {
				s.logger.Error(nctx, err, "review notification failed", "incident_id", inc.ID)
			}
		}(*inc)
	}

	return inc, nil
}

// DecisionRequest carries a human action on a triaged incident.
type DecisionRequest struct {
	Action      string `json:"action"`
	DecidedBy   string `json:"decided_by"`
	Note        string `json:"note"`
	Reason      string `json:"reason"`
	NewSeverity string `json:"new_severity"`
	NewCategory string `json:"new_category"`
}

// Decide validates and commits a human decision: approve or override from
// "triaged", resolve from "approved" or "overridden". Returns (nil, nil)
// when the incident does not exist.
func (s *Service) Decide(ctx context.Context, id string, req DecisionRequest) (*Incident, error) {
	if strings.TrimSpace(req.DecidedBy) == "" {
		s.metrics.RejectedActions.WithLabelValues("validation").Inc()
		return nil, &ValidationError{Field: "decided_by", Reason: "required"}
	}

	inc, ok, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	now := time.Now().UTC()
	var (
		decision  *Decision
		eventType EventType
		newStatus Status
	)

	switch DecisionKind(req.Action) {
	case DecisionApprove:
		if inc.Status != StatusTriaged {
			return nil, s.rejectTransition(inc, req.Action)
		}
		if s.policy.Strict && inc.Triage != nil && inc.Triage.NeedsHumanReview && strings.TrimSpace(req.Note) == "" {
			s.metrics.RejectedActions.WithLabelValues("validation").Inc()
			return nil, &ValidationError{Field: "note", Reason: "required when approving a review-flagged incident"}
		}
		decision = &Decision{Kind: DecisionApprove, DecidedBy: req.DecidedBy, Note: req.Note, DecidedAt: now}
		eventType, newStatus = EventApproved, StatusApproved

	case DecisionOverride:
		if inc.Status != StatusTriaged {
			return nil, s.rejectTransition(inc, req.Action)
		}
		if strings.TrimSpace(req.Reason) == "" {
			s.metrics.RejectedActions.WithLabelValues("validation").Inc()
			return nil, &ValidationError{Field: "reason", Reason: "required for override"}
		}
		decision = &Decision{Kind: DecisionOverride, DecidedBy: req.DecidedBy, Note: req.Note, DecidedAt: now, Reason: req.Reason}
		if req.NewSeverity != "" {
			sev, err := ParseSeverity(req.NewSeverity)
			if err != nil {
				s.metrics.RejectedActions.WithLabelValues("validation").Inc()
				return nil, err
			}
			decision.NewSeverity = sev
		}
		if req.NewCategory != "" {
			cat, err := ParseCategory(req.NewCategory)
			if err != nil {
				s.metrics.RejectedActions.WithLabelValues("validation").Inc()
				return nil, err
			}
			decision.NewCategory = cat
		}
		inc.Triage = s.overrideSnapshot(inc, decision)
		eventType, newStatus = EventOverridden, StatusOverridden

	case DecisionResolve:
		if inc.Status != StatusApproved && inc.Status != StatusOverridden {
			return nil, s.rejectTransition(inc, req.Action)
		}
		if strings.TrimSpace(req.Note) == "" {
			s.metrics.RejectedActions.WithLabelValues("validation").Inc()
			return nil, &ValidationError{Field: "note", Reason: "required for resolve"}
		}
		decision = &Decision{Kind: DecisionResolve, DecidedBy: req.DecidedBy, Note: req.Note, DecidedAt: now}
		eventType, newStatus = EventResolved, StatusResolved

	default:
		s.metrics.RejectedActions.WithLabelValues("validation").Inc()
		return nil, &ValidationError{Field: "action", Value: req.Action, Reason: "must be one of approve, override, resolve"}
	}

	prev := inc.Status
	inc.Status = newStatus
	inc.Decision = decision
	inc.UpdatedAt = now

	payload, err := json.Marshal(decision)
	if err != nil {
		return nil, fmt.Errorf("marshal decision: %w", err)
	}
	ev := &AuditEvent{
		IncidentID:   inc.ID,
		Sequence:     inc.Seq,
		Type:         eventType,
		Actor:        req.DecidedBy,
		StatusBefore: prev,
		StatusAfter:  newStatus,
		Timestamp:    now,
		Payload:      payload,
	}
	inc.Seq++

	if err := s.commit(ctx, inc, ev); err != nil {
		return nil, err
	}
	s.metrics.Decisions.WithLabelValues(string(decision.Kind)).Inc()

	s.logger.Info(ctx, "decision recorded",
		"incident_id", inc.ID,
		"kind", decision.Kind,
		"decided_by", decision.DecidedBy,
		"status", inc.Status,
	)
	return inc, nil
}

// Events returns the incident's full ordered audit ledger.
func (s *Service) Events(ctx context.Context, id string) ([]AuditEvent, error) {
	return s.store.Events(ctx, id)
}

// GeneratePIR renders the Post-Incident Review for an incident. The first
// render against a given ledger tail appends a pir_generated event and is
// cached keyed by (incident, sequence); repeat fetches return the identical
// document without touching the ledger.
func (s *Service) GeneratePIR(ctx context.Context, id, actor string) (string, bool, error) {
	inc, ok, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}

	events, err := s.store.Events(ctx, id)
	if err != nil {
		return "", false, err
	}

	s.pirMu.Lock()
	cached, hit := s.pirCache[id]
	s.pirMu.Unlock()
	if hit && cached.seq == len(events) {
		s.metrics.PIRGenerated.WithLabelValues("hit").Inc()
		return cached.markdown, true, nil
	}

	doc := RenderPIR(inc, events)

	payload, _ := json.Marshal(map[string]int{"rendered_through": len(events) - 1})
	ev := &AuditEvent{
		IncidentID:   inc.ID,
		Sequence:     len(events),
		Type:         EventPIRGenerated,
		Actor:        actorOrSystem(actor),
		StatusBefore: inc.Status,
		StatusAfter:  inc.Status,
		Timestamp:    time.Now().UTC(),
		Payload:      payload,
	}
	inc.Seq = len(events) + 1

	if err := s.commit(ctx, inc, ev); err != nil {
		return "", false, err
	}

	s.pirMu.Lock()
	s.pirCache[id] = pirEntry{seq: len(events) + 1, markdown: doc}
	s.pirMu.Unlock()
	s.metrics.PIRGenerated.WithLabelValues("miss").Inc()
	return doc, true, nil
}

// classify calls the external classifier with the configured timeout and
// maps failures onto the engine's error taxonomy.
func (s *Service) classify(ctx context.Context, inc *Incident) (*Suggestion, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	sug, err := s.classifier.Classify(cctx, ClassifyRequest{
		Title:       inc.Title,
		Description: inc.Description,
		Component:   inc.Component,
		Environment: inc.Environment,
	})
	s.metrics.ClassifierDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrClassifierTimeout) {
			s.metrics.ClassifierCalls.WithLabelValues("timeout").Inc()
			return nil, fmt.Errorf("classify incident %s: %w", inc.ID, ErrClassifierTimeout)
		}
		s.metrics.ClassifierCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("classify incident %s: %w: %v", inc.ID, ErrClassifierUnavailable, err)
	}
	s.metrics.ClassifierCalls.WithLabelValues("ok").Inc()
	return sug, nil
}

// buildSnapshot validates the raw suggestion and derives the normalized
// snapshot: risk score, runbook fit ranking, and the review gate.
func (s *Service) buildSnapshot(inc *Incident, sug *Suggestion) (*Snapshot, error) {
	cat, err := ParseCategory(sug.Category)
	if err != nil {
		return nil, err
	}
	sev, err := ParseSeverity(sug.Severity)
	if err != nil {
		return nil, err
	}
	if sug.Confidence < 0 || sug.Confidence > 1 {
		return nil, &ValidationError{Field: "confidence", Value: fmt.Sprintf("%v", sug.Confidence), Reason: "must be within [0, 1]"}
	}

	risk := RiskScore(sev, inc.Environment, sug.Confidence)
	primary, alternatives := FitRunbooks(cat, inc.Title, inc.Description, inc.Component, s.runbooks.Candidates(string(cat)))

	return &Snapshot{
		Category:            cat,
		Severity:            sev,
		Confidence:          sug.Confidence,
		RiskScore:           risk,
		OwnerTeam:           sug.OwnerTeam,
		NeedsHumanReview:    s.policy.NeedsReview(sev, cat, inc.Environment, sug.Confidence, risk),
		PrimaryRunbook:      primary,
		AlternativeRunbooks: alternatives,
		ShortSummary:        sug.Summary,
	}, nil
}

// overrideSnapshot derives a fresh snapshot from a human override. Risk,
// runbook fit and the gate flag are recomputed from the overridden values;
// the pre-override snapshot survives untouched in the ledger.
func (s *Service) overrideSnapshot(inc *Incident, d *Decision) *Snapshot {
	if inc.Triage == nil {
		return nil
	}
	snap := *inc.Triage
	if d.NewSeverity != "" {
		snap.Severity = d.NewSeverity
	}
	if d.NewCategory != "" {
		snap.Category = d.NewCategory
	}
	snap.RiskScore = RiskScore(snap.Severity, inc.Environment, snap.Confidence)
	snap.PrimaryRunbook, snap.AlternativeRunbooks = FitRunbooks(
		snap.Category, inc.Title, inc.Description, inc.Component,
		s.runbooks.Candidates(string(snap.Category)),
	)
	snap.NeedsHumanReview = s.policy.NeedsReview(snap.Severity, snap.Category, inc.Environment, snap.Confidence, snap.RiskScore)
	snap.PolicyOverrideReason = d.Reason
	return &snap
}

func (s *Service) commit(ctx context.Context, inc *Incident, ev *AuditEvent) error {
	err := s.store.CommitTransition(ctx, inc, ev)
	if err != nil && IsSequenceConflict(err) {
		s.metrics.SequenceConflicts.Inc()
	}
	return err
}

func (s *Service) rejectTransition(inc *Incident, action string) error {
	s.metrics.RejectedActions.WithLabelValues("illegal_transition").Inc()
	return &IllegalTransitionError{IncidentID: inc.ID, Status: inc.Status, Action: action}
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return ActorSystem
	}
	return actor
}
