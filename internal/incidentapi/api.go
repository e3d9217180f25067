// Package incidentapi exposes the incident lifecycle over HTTP.
package incidentapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/warden/internal/incident"
	"github.com/linnemanlabs/warden/internal/runbook"
)

// IncidentService defines the business operations incidentapi needs.
type IncidentService interface {
	Create(ctx context.Context, req incident.CreateRequest) (*incident.Incident, error)
	Get(ctx context.Context, id string) (*incident.Incident, bool, error)
	List(ctx context.Context, limit int) ([]*incident.Incident, error)
	Triage(ctx context.Context, id, actor string) (*incident.Incident, error)
	Decide(ctx context.Context, id string, req incident.DecisionRequest) (*incident.Incident, error)
	Events(ctx context.Context, id string) ([]incident.AuditEvent, error)
	GeneratePIR(ctx context.Context, id, actor string) (string, bool, error)
}

// RunbookCatalog lists the known runbooks.
type RunbookCatalog interface {
	All() []runbook.Runbook
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      IncidentService
	runbooks RunbookCatalog
}

// New creates a new API handler.
func New(logger log.Logger, svc IncidentService, runbooks RunbookCatalog) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("incident service is required"))
	}
	if runbooks == nil {
		panic(xerrors.New("runbook catalog is required"))
	}
	return &API{
		logger:   logger,
		svc:      svc,
		runbooks: runbooks,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/incidents", func(r chi.Router) {
			r.Post("/", a.handleCreateIncident)
			r.Get("/", a.handleListIncidents)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetIncident)
				r.Post("/triage", a.handleTriage)
				r.Post("/decision", a.handleDecision)
				r.Get("/audit", a.handleAudit)
				r.Get("/pir", a.handlePIR)
			})
		})
		r.Get("/runbooks", a.handleListRunbooks)
	})
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.incident.id", id))

	inc, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to get incident")
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}

	span.SetAttributes(attribute.String("warden.incident.status", string(inc.Status)))
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleListRunbooks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"runbooks": a.runbooks.All(),
	})
}

// writeError maps engine errors onto HTTP statuses. Validation failures are
// the caller's fault, transition and sequence races are conflicts, and
// classifier trouble surfaces as a gateway problem.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case incident.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case incident.IsIllegalTransition(err):
		writeJSONError(w, http.StatusConflict, err.Error())
	case incident.IsSequenceConflict(err):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, incident.ErrClassifierTimeout):
		writeJSONError(w, http.StatusGatewayTimeout, "classifier timed out")
	case errors.Is(err, incident.ErrClassifierUnavailable):
		writeJSONError(w, http.StatusBadGateway, "classifier unavailable")
	default:
		a.logger.Error(r.Context(), err, msg, "path", r.URL.Path)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
