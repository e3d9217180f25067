// Package claude implements incident classification backed by the Claude
// Messages API.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/warden/internal/incident"
)

const systemPrompt = `You are an incident triage assistant for a production
engineering organization. Given an incident report, classify it and respond
with a single JSON object, no prose and no code fences, with exactly these
fields:

{
  "category": one of "deployment", "database", "network", "application",
              "security", "infrastructure",
  "severity": one of "P1", "P2", "P3", "P4",
  "confidence": a number between 0.0 and 1.0,
  "owner_team": the team best placed to own the incident,
  "summary": a one-sentence summary of the incident,
  "rationale": a one-sentence justification for the classification
}

Severity guide: P1 = user-facing outage or data loss, P2 = degraded service
or imminent risk, P3 = contained fault with a workaround, P4 = cosmetic or
informational.`

const maxTokens = 1024

// Classifier calls Claude to produce a triage suggestion. It implements
// incident.Classifier.
type Classifier struct {
	client anthropic.Client
	model  string
}

// New creates a Classifier with the given API key and model name.
func New(apiKey, model string) *Classifier {
	return &Classifier{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Classify sends the incident to Claude and parses the suggestion from the
// response. The returned suggestion is unvalidated; the engine checks the
// category, severity and confidence before trusting it.
func (c *Classifier) Classify(ctx context.Context, req incident.ClassifyRequest) (*incident.Suggestion, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(req))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude messages: %w", err)
	}
	return parseSuggestion(msg)
}

// buildPrompt renders the incident report sent as the user message.
func buildPrompt(req incident.ClassifyRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", req.Title)
	fmt.Fprintf(&b, "Environment: %s\n", req.Environment)
	if req.Component != "" {
		fmt.Fprintf(&b, "Component: %s\n", req.Component)
	}
	if req.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", req.Description)
	}
	return b.String()
}

// parseSuggestion extracts the JSON suggestion from the response text.
func parseSuggestion(msg *anthropic.Message) (*incident.Suggestion, error) {
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	raw := extractJSON(text.String())
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in response (stop_reason=%s)", msg.StopReason)
	}

	var payload struct {
		Category   string  `json:"category"`
		Severity   string  `json:"severity"`
		Confidence float64 `json:"confidence"`
		OwnerTeam  string  `json:"owner_team"`
		Summary    string  `json:"summary"`
		Rationale  string  `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal suggestion: %w", err)
	}

	return &incident.Suggestion{
		Category:   payload.Category,
		Severity:   payload.Severity,
		Confidence: payload.Confidence,
		OwnerTeam:  payload.OwnerTeam,
		Summary:    payload.Summary,
		Rationale:  payload.Rationale,
	}, nil
}

// extractJSON returns the first balanced top-level JSON object in s. Models
// occasionally wrap the object in code fences or prose despite instructions.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
