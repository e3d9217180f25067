package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/warden/internal/incident"
)

func reviewIncident() *incident.Incident {
	return &incident.Incident{
		ID:          "01JN123",
		Title:       "checkout errors spiking",
		Environment: incident.EnvProd,
		Status:      incident.StatusTriaged,
		UpdatedAt:   time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
		Triage: &incident.Snapshot{
			Category:         incident.CategoryApplication,
			Severity:         incident.SeverityP1,
			Confidence:       0.9,
			RiskScore:        0.95,
			OwnerTeam:        "engineering",
			NeedsHumanReview: true,
			ShortSummary:     "Checkout error rate above 20% in prod.",
			PrimaryRunbook: &incident.RunbookRef{
				Name: "Application Error Spike",
				URL:  "https://runbooks.internal/application-errors",
			},
		},
	}
}

func TestSend_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	if err := n.Send(context.Background(), reviewIncident()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}

	// header, divider, fields, divider, summary, divider, context = 7 blocks
	if len(blocks) != 7 {
		t.Errorf("blocks count = %d, want 7", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "checkout errors spiking") {
		t.Errorf("header text = %q, want to contain incident title", headerText)
	}
	if !strings.Contains(headerText, "\U0001f534") {
		t.Errorf("header should contain red circle for P1 severity")
	}
}

func TestSend_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("")
	if err := n.Send(context.Background(), reviewIncident()); err != nil {
		t.Fatalf("Send with empty URL should be no-op, got: %v", err)
	}
}

func TestSend_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := New(srv.URL)
	if err := n.Send(context.Background(), reviewIncident()); err == nil {
		t.Fatal("expected error on non-OK status")
	} else if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}

func TestBuildMessage_NoTriage(t *testing.T) {
	t.Parallel()

	inc := &incident.Incident{
		ID:          "01JN456",
		Title:       "untriaged incident",
		Environment: incident.EnvStaging,
		Status:      incident.StatusNew,
	}

	msg := buildMessage(inc)

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), "No triage summary available") {
		t.Error("expected placeholder summary for untriaged incident")
	}
	if !strings.Contains(string(data), "\U0001f7e2") {
		t.Error("expected green circle for missing severity")
	}
}

func TestSeverityEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		severity incident.Severity
		want     string
	}{
		{"P1", incident.SeverityP1, "\U0001f534"},
		{"P2", incident.SeverityP2, "\U0001f534"},
		{"P3", incident.SeverityP3, "\U0001f7e1"},
		{"P4", incident.SeverityP4, "\U0001f7e2"},
		{"empty", incident.Severity(""), "\U0001f7e2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := severityEmoji(tt.severity); got != tt.want {
				t.Errorf("severityEmoji(%q) = %q, want %q", tt.severity, got, tt.want)
			}
		})
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("HighCPU", "Checkout error rate above 20%.", "engineering")
	f.Add("", "", "")
	f.Add("<@U123> mention", "*bold* _italic_ ~strike~", "team")
	f.Add("title\x00\x01\x02", "summary\ttab", "own\ner")
	f.Add(strings.Repeat("A", 5000), strings.Repeat("x", 10000), "platform")

	f.Fuzz(func(t *testing.T, title, summary, owner string) {
		inc := &incident.Incident{
			ID:          "fuzz-id",
			Title:       title,
			Environment: incident.EnvProd,
			Status:      incident.StatusTriaged,
			UpdatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			Triage: &incident.Snapshot{
				Category:     incident.CategoryApplication,
				Severity:     incident.SeverityP2,
				ShortSummary: summary,
				OwnerTeam:    owner,
			},
		}

		// Must not panic
		msg := buildMessage(inc)

		// Must produce valid JSON
		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}

		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}

		blocks, ok := decoded["blocks"].([]any)
		if !ok {
			t.Fatal("expected blocks array")
		}
		if len(blocks) != 7 {
			t.Fatalf("blocks count = %d, want 7", len(blocks))
		}
	})
}
