// Package rules implements a deterministic keyword-based classifier used
// when no Claude API key is configured, and as a predictable stand-in for
// tests and local development.
package rules

import (
	"context"
	"strings"

	"github.com/linnemanlabs/warden/internal/incident"
)

// categoryRules are evaluated in order; the first match wins. The
// application bucket is the fallback.
var categoryRules = []struct {
	category  incident.Category
	ownerTeam string
	keywords  []string
}{
	{incident.CategoryDeployment, "platform", []string{"deploy", "release", "rollout", "ci/cd", "rollback", "canary"}},
	{incident.CategoryDatabase, "data-platform", []string{"database", "db", "sql", "query", "postgres", "mysql", "replication"}},
	{incident.CategoryNetwork, "infrastructure", []string{"network", "dns", "load balancer", "connectivity", "timeout", "certificate"}},
	{incident.CategorySecurity, "security", []string{"security", "breach", "unauthorized", "vulnerability", "credential", "exploit"}},
	{incident.CategoryInfrastructure, "infrastructure", []string{"infrastructure", "server", "vm", "cloud", "aws", "gcp", "disk"}},
}

// severityRules are evaluated in order from most to least severe.
var severityRules = []struct {
	severity incident.Severity
	keywords []string
}{
	{incident.SeverityP1, []string{"security", "breach", "critical", "data loss", "outage"}},
	{incident.SeverityP2, []string{"down", "500", "cannot", "failing", "unavailable"}},
	{incident.SeverityP3, []string{"degraded", "slow", "intermittent", "elevated"}},
}

// ruleConfidence is fixed: keyword matching is deterministic but shallow.
const ruleConfidence = 0.85

// Classifier classifies incidents by keyword matching. It implements
// incident.Classifier.
type Classifier struct{}

// New creates a rules Classifier.
func New() *Classifier { return &Classifier{} }

// Classify inspects the incident text and returns a suggestion. It never
// fails and ignores the context.
func (c *Classifier) Classify(_ context.Context, req incident.ClassifyRequest) (*incident.Suggestion, error) {
	combined := strings.ToLower(req.Title + " " + req.Description + " " + req.Component)

	category := incident.CategoryApplication
	ownerTeam := "engineering"
	for _, rule := range categoryRules {
		if matchesAny(combined, rule.keywords) {
			category = rule.category
			ownerTeam = rule.ownerTeam
			break
		}
	}

	severity := incident.SeverityP4
	for _, rule := range severityRules {
		if matchesAny(combined, rule.keywords) {
			severity = rule.severity
			break
		}
	}

	return &incident.Suggestion{
		Category:   string(category),
		Severity:   string(severity),
		Confidence: ruleConfidence,
		OwnerTeam:  ownerTeam,
		Summary:    summarize(req.Title),
		Rationale:  "keyword match",
	}, nil
}

func matchesAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func summarize(title string) string {
	const maxLen = 100
	title = strings.TrimSpace(title)
	if len(title) > maxLen {
		return title[:maxLen]
	}
	return title
}
