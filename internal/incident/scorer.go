package incident

import (
	"sort"
	"strings"

	"github.com/linnemanlabs/warden/internal/runbook"
)

// Scoring is deterministic on purpose: identical inputs must yield
// bit-identical scores so re-triage and override recomputation never drift.
// No clocks, no randomness, no I/O in this file.

// severityWeights order P1 highest. Severities missing here score zero,
// which only happens on inputs that failed validation upstream.
var severityWeights = map[Severity]float64{
	SeverityP1: 1.0,
	SeverityP2: 0.7,
	SeverityP3: 0.4,
	SeverityP4: 0.15,
}

var environmentWeights = map[Environment]float64{
	EnvProd:    1.0,
	EnvStaging: 0.5,
	EnvDev:     0.2,
	EnvOther:   0.3,
}

// minAlternativeFit is the floor below which a candidate is not worth
// surfacing as an alternative runbook.
const minAlternativeFit = 0.2

// RiskScore combines severity, environment, and classifier confidence into
// a single normalized score. Confidence dampens rather than drives: a
// low-confidence P1 still scores at least half its full weight.
func RiskScore(severity Severity, env Environment, confidence float64) float64 {
	risk := severityWeights[severity] * environmentWeights[env] * (0.5 + 0.5*confidence)
	return clamp01(risk)
}

// FitRunbooks scores every candidate against the incident's text and
// category, ranked descending by fit with ties broken by runbook name
// ascending. The first return is the primary runbook (nil when the category
// has no candidates); the second holds alternatives at or above the minimum
// fit threshold.
func FitRunbooks(category Category, title, description, component string, candidates []runbook.Runbook) (*RunbookRef, []RunbookRef) {
	if len(candidates) == 0 {
		return nil, nil
	}

	text := strings.ToLower(title + " " + description + " " + component)

	refs := make([]RunbookRef, 0, len(candidates))
	for _, rb := range candidates {
		typeScore := 0.0
		if rb.Category == string(category) {
			typeScore = 1.0
		}
		score := 0.6*typeScore + 0.4*keywordOverlap(text, rb.Keywords)
		refs = append(refs, RunbookRef{
			Name:     rb.Name,
			URL:      rb.URL,
			Steps:    rb.Steps,
			FitScore: score,
		})
	}

	sort.Slice(refs, func(i, j int) bool {
		if refs[i].FitScore != refs[j].FitScore {
			return refs[i].FitScore > refs[j].FitScore
		}
		return refs[i].Name < refs[j].Name
	})

	primary := refs[0]
	var alternatives []RunbookRef
	for _, ref := range refs[1:] {
		if ref.FitScore >= minAlternativeFit {
			alternatives = append(alternatives, ref)
		}
	}
	return &primary, alternatives
}

// keywordOverlap scores how much of the keyword set appears in the text.
// Multiple matches earn a small boost so that a runbook hitting several
// keywords outranks one grazing a single common word.
func keywordOverlap(text string, keywords []string) float64 {
	if text == "" || len(keywords) == 0 {
		return 0
	}
	matches := 0
	for _, kw := range keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			matches++
		}
	}
	if matches == 0 {
		return 0
	}
	base := float64(matches) / float64(len(keywords))
	boost := 1.0 + float64(matches)*0.1
	if boost > 2.0 {
		boost = 2.0
	}
	return clamp01(base * boost)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
