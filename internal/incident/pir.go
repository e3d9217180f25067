package incident

import (
	"fmt"
	"strings"
	"time"
)

// RenderPIR turns an incident and its ordered ledger into a Post-Incident
// Review document. Pure function of its arguments: rendering the same
// ledger state twice yields byte-identical Markdown. It never requires a
// resolved incident; unresolved sections render placeholders instead.
func RenderPIR(inc *Incident, events []AuditEvent) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Post-Incident Review: %s\n\n", inc.Title)

	writePIRSummary(&b, inc, events)
	writePIRTimeline(&b, events)
	writePIRTriageHistory(&b, events)
	writePIRDecisions(&b, events)
	writePIROutcome(&b, inc, events)

	return b.String()
}

func pirTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func writePIRSummary(b *strings.Builder, inc *Incident, events []AuditEvent) {
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(b, "- **Incident:** %s (%s)\n", inc.Title, inc.ID)
	fmt.Fprintf(b, "- **Component:** %s\n", orDash(inc.Component))
	fmt.Fprintf(b, "- **Environment:** %s\n", inc.Environment)
	fmt.Fprintf(b, "- **Final status:** %s\n", inc.Status)

	if inc.Triage != nil {
		fmt.Fprintf(b, "- **Severity:** %s\n", inc.Triage.Severity)
	} else {
		b.WriteString("- **Severity:** Triage not completed\n")
	}

	if resolved, ok := eventTime(events, EventResolved); ok {
		if created, ok := eventTime(events, EventCreated); ok {
			fmt.Fprintf(b, "- **Duration:** %s\n", resolved.Sub(created).Round(time.Second))
		}
	} else {
		b.WriteString("- **Duration:** ongoing\n")
	}
	b.WriteString("\n")
}

func writePIRTimeline(b *strings.Builder, events []AuditEvent) {
	b.WriteString("## Timeline\n\n")
	if len(events) == 0 {
		b.WriteString("_No recorded events._\n\n")
		return
	}
	for _, ev := range events {
		fmt.Fprintf(b, "- `%s` **%s** by %s", pirTime(ev.Timestamp), ev.Type, ev.Actor)
		if ev.StatusBefore != ev.StatusAfter {
			fmt.Fprintf(b, " (%s → %s)", ev.StatusBefore, ev.StatusAfter)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writePIRTriageHistory(b *strings.Builder, events []AuditEvent) {
	b.WriteString("## Triage History\n\n")
	n := 0
	for _, ev := range events {
		snap, ok := ev.SnapshotPayload()
		if !ok {
			continue
		}
		n++
		fmt.Fprintf(b, "### Run %d (%s)\n\n", n, pirTime(ev.Timestamp))
		fmt.Fprintf(b, "- Category: %s\n", snap.Category)
		fmt.Fprintf(b, "- Severity: %s\n", snap.Severity)
		fmt.Fprintf(b, "- Confidence: %.2f\n", snap.Confidence)
		fmt.Fprintf(b, "- Risk score: %.4f\n", snap.RiskScore)
		fmt.Fprintf(b, "- Needs human review: %t\n", snap.NeedsHumanReview)
		if snap.OwnerTeam != "" {
			fmt.Fprintf(b, "- Owner team: %s\n", snap.OwnerTeam)
		}
		if snap.PrimaryRunbook != nil {
			fmt.Fprintf(b, "- Primary runbook: %s (fit %.2f)\n", snap.PrimaryRunbook.Name, snap.PrimaryRunbook.FitScore)
		}
		if snap.PolicyOverrideReason != "" {
			fmt.Fprintf(b, "- Policy note: %s\n", snap.PolicyOverrideReason)
		}
		b.WriteString("\n")
	}
	if n == 0 {
		b.WriteString("Triage not completed.\n\n")
	}
}

func writePIRDecisions(b *strings.Builder, events []AuditEvent) {
	b.WriteString("## Human Decisions\n\n")
	n := 0
	for _, ev := range events {
		d, ok := ev.DecisionPayload()
		if !ok {
			continue
		}
		n++
		fmt.Fprintf(b, "- `%s` **%s** by %s", pirTime(ev.Timestamp), d.Kind, d.DecidedBy)
		if d.NewSeverity != "" {
			fmt.Fprintf(b, ", severity → %s", d.NewSeverity)
		}
		if d.NewCategory != "" {
			fmt.Fprintf(b, ", category → %s", d.NewCategory)
		}
		if d.Reason != "" {
			fmt.Fprintf(b, " — reason: %s", d.Reason)
		}
		if d.Note != "" {
			fmt.Fprintf(b, " — note: %s", d.Note)
		}
		b.WriteString("\n")
	}
	if n == 0 {
		b.WriteString("_No human decisions recorded._\n")
	}
	b.WriteString("\n")
}

func writePIROutcome(b *strings.Builder, inc *Incident, events []AuditEvent) {
	b.WriteString("## Outcome\n\n")
	if inc.Status != StatusResolved {
		b.WriteString("Not yet resolved.\n")
		return
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type != EventResolved {
			continue
		}
		if d, ok := events[i].DecisionPayload(); ok && d.Note != "" {
			fmt.Fprintf(b, "%s\n", d.Note)
			return
		}
	}
	b.WriteString("Resolved without a recorded note.\n")
}

func eventTime(events []AuditEvent, t EventType) (time.Time, bool) {
	for _, ev := range events {
		if ev.Type == t {
			return ev.Timestamp, true
		}
	}
	return time.Time{}, false
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
