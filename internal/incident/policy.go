package incident

// GatePolicy decides whether a triage result needs a human in the loop
// before anything automatic happens with the incident. The flag never
// blocks an explicit human decision; it gates automation and drives UI
// emphasis. Operators tune thresholds without touching the state machine.
type GatePolicy struct {
	// MandatorySeverities always flag for review regardless of confidence.
	MandatorySeverities []Severity

	// MinConfidence flags suggestions the classifier itself is unsure of.
	MinConfidence float64

	// MaxRisk flags incidents whose computed risk reaches this value.
	MaxRisk float64

	// ProdSecurityReview flags every security incident in prod.
	ProdSecurityReview bool

	// Strict requires an explanatory note when a human approves a flagged
	// incident. The default (false) keeps the gate purely advisory for
	// humans; automation is gated either way.
	Strict bool
}

// DefaultGatePolicy returns the stock policy: review P1/P2, low-confidence
// or high-risk triage, and anything security-flavored in prod.
func DefaultGatePolicy() GatePolicy {
	return GatePolicy{
		MandatorySeverities: []Severity{SeverityP1, SeverityP2},
		MinConfidence:       0.6,
		MaxRisk:             0.6,
		ProdSecurityReview:  true,
	}
}

// NeedsReview evaluates the gate for one triage result. Pure: same inputs,
// same answer.
func (p GatePolicy) NeedsReview(severity Severity, category Category, env Environment, confidence, risk float64) bool {
	for _, s := range p.MandatorySeverities {
		if severity == s {
			return true
		}
	}
	if confidence < p.MinConfidence {
		return true
	}
	if risk >= p.MaxRisk {
		return true
	}
	if p.ProdSecurityReview && env == EnvProd && category == CategorySecurity {
		return true
	}
	return false
}
