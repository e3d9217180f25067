package incident

import "context"

// ClassifyRequest carries the incident fields the classifier may see.
type ClassifyRequest struct {
	Title       string
	Description string
	Component   string
	Environment Environment
}

// Suggestion is the classifier's raw output. Category and severity stay as
// plain strings here: the classifier is an untrusted oracle and the engine
// validates its output before anything downstream touches it.
type Suggestion struct {
	Category   string  `json:"category"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
	OwnerTeam  string  `json:"owner_team,omitempty"`
	Summary    string  `json:"short_summary,omitempty"`
	Rationale  string  `json:"rationale,omitempty"`
}

// Classifier is the seam to the external classification backend. The engine
// bounds each call with a timeout and treats any error as retryable.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (*Suggestion, error)
}
