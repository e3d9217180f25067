// Package incident implements the incident triage and governance engine:
// the status state machine, deterministic risk and runbook-fit scoring,
// the human-review decision gate, the append-only audit ledger contract,
// and the Post-Incident Review renderer.
package incident
