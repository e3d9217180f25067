package incident

import (
	"errors"
	"fmt"
)

// Classifier failure modes. The triage run aborts and the incident keeps its
// prior status; both are safe to retry.
var (
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	ErrClassifierTimeout     = errors.New("classifier timeout")
)

// ValidationError rejects malformed input before any state change.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IllegalTransitionError rejects an action not legal from the incident's
// current status. Nothing is written for a rejected attempt.
type IllegalTransitionError struct {
	IncidentID string
	Status     Status
	Action     string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("incident %s: action %q not allowed from status %q", e.IncidentID, e.Action, e.Status)
}

// IsIllegalTransition reports whether err is an IllegalTransitionError.
func IsIllegalTransition(err error) bool {
	var te *IllegalTransitionError
	return errors.As(err, &te)
}

// SequenceConflictError is an optimistic-concurrency loss on ledger append:
// another transition committed first. Callers must re-read current state
// before retrying.
type SequenceConflictError struct {
	IncidentID string
	Sequence   int
}

func (e *SequenceConflictError) Error() string {
	return fmt.Sprintf("incident %s: audit sequence %d already committed by a concurrent transition", e.IncidentID, e.Sequence)
}

// IsSequenceConflict reports whether err is a SequenceConflictError.
func IsSequenceConflict(err error) bool {
	var ce *SequenceConflictError
	return errors.As(err, &ce)
}

// LedgerIntegrityError means a gap was observed in an incident's audit
// sequence on read. Fatal for that incident's read path; surfaced, never
// auto-repaired.
type LedgerIntegrityError struct {
	IncidentID string
	WantSeq    int
	GotSeq     int
}

func (e *LedgerIntegrityError) Error() string {
	return fmt.Sprintf("incident %s: audit ledger gap, want sequence %d, got %d", e.IncidentID, e.WantSeq, e.GotSeq)
}

// IsLedgerIntegrity reports whether err is a LedgerIntegrityError.
func IsLedgerIntegrity(err error) bool {
	var le *LedgerIntegrityError
	return errors.As(err, &le)
}
