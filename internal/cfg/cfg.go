// Package cfg defines warden's runtime configuration.
package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds warden-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds             int
	ShutdownBudgetSeconds    int
	APIPort                  int
	APIToken                 string
	ClaudeAPIKey             string
	ClaudeModel              string
	ClassifierTimeoutSeconds int
	DatabaseURL              string
	SlackWebhookURL          string
	RunbooksPath             string
	GateMinConfidence        float64
	GateMaxRisk              float64
	GateStrict               bool
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API requests (empty = no auth)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude classifier (empty = deterministic rules classifier)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.IntVar(&c.ClassifierTimeoutSeconds, "classifier-timeout-seconds", 30, "classifier call timeout in seconds (1..300)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for review notifications")
	fs.StringVar(&c.RunbooksPath, "runbooks-path", "", "path to a runbook catalog YAML file (empty = embedded seed catalog)")
	fs.Float64Var(&c.GateMinConfidence, "gate-min-confidence", 0.6, "confidence below which triage is flagged for review (0..1)")
	fs.Float64Var(&c.GateMaxRisk, "gate-max-risk", 0.6, "risk score at or above which triage is flagged for review (0..1)")
	fs.BoolVar(&c.GateStrict, "gate-strict", false, "require a note when approving a review-flagged incident")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.ClassifierTimeoutSeconds <= 0 || c.ClassifierTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid CLASSIFIER_TIMEOUT_SECONDS %d (must be 1..300)", c.ClassifierTimeoutSeconds))
	}

	// Claude model only matters when the Claude classifier is enabled
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	// The negated form also rejects NaN.
	if !(c.GateMinConfidence >= 0 && c.GateMinConfidence <= 1) {
		errs = append(errs, fmt.Errorf("invalid GATE_MIN_CONFIDENCE %v (must be 0..1)", c.GateMinConfidence))
	}
	if !(c.GateMaxRisk >= 0 && c.GateMaxRisk <= 1) {
		errs = append(errs, fmt.Errorf("invalid GATE_MAX_RISK %v (must be 0..1)", c.GateMaxRisk))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
