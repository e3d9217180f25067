package incidentapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/warden/internal/incident"
)

const maxListLimit = 200

func (a *API) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	var req incident.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	inc, err := a.svc.Create(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err, "failed to create incident")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.incident.id", inc.ID))

	a.logger.Info(r.Context(), "incident accepted",
		"incident_id", inc.ID,
		"environment", inc.Environment,
	)
	writeJSON(w, http.StatusCreated, inc)
}

func (a *API) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	incidents, err := a.svc.List(r.Context(), limit)
	if err != nil {
		a.writeError(w, r, err, "failed to list incidents")
		return
	}
	if incidents == nil {
		incidents = []*incident.Incident{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": incidents})
}

type triageRequest struct {
	Actor string `json:"actor"`
}

func (a *API) handleTriage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req triageRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid payload")
			return
		}
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.incident.id", id))

	inc, err := a.svc.Triage(r.Context(), id, req.Actor)
	if err != nil {
		a.writeError(w, r, err, "triage failed")
		return
	}
	if inc == nil {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}

	span.SetAttributes(attribute.String("warden.incident.status", string(inc.Status)))
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleDecision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req incident.DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("warden.incident.id", id),
		attribute.String("warden.decision.action", req.Action),
	)

	inc, err := a.svc.Decide(r.Context(), id, req)
	if err != nil {
		a.writeError(w, r, err, "decision failed")
		return
	}
	if inc == nil {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}

	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Existence check first so a missing incident is a 404, not an empty ledger.
	if _, ok, err := a.svc.Get(r.Context(), id); err != nil {
		a.writeError(w, r, err, "failed to get incident")
		return
	} else if !ok {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}

	events, err := a.svc.Events(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to load audit ledger")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incident_id": id,
		"events":      events,
	})
}

func (a *API) handlePIR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.incident.id", id))

	doc, ok, err := a.svc.GeneratePIR(r.Context(), id, r.URL.Query().Get("actor"))
	if err != nil {
		a.writeError(w, r, err, "pir generation failed")
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}
