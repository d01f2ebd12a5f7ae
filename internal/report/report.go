// Package report renders a session's evaluation state into a plain-text
// debrief suitable for export.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fitsignal/fitsignal-core/internal/orchestrator"
	"github.com/fitsignal/fitsignal-core/internal/plan"
)

const maxQuotesPerGroup = 2

// Report is the export view of one session.
type Report struct {
	SessionID   string       `json:"sessionId"`
	GeneratedAt time.Time    `json:"generatedAt"`
	UpdatedAt   time.Time    `json:"updatedAt,omitzero"`
	Revision    int64        `json:"revision"`
	OverallFit  int          `json:"overallFit"`
	Groups      []GroupEntry `json:"groups"`
}

// GroupEntry is one requirement group in the report, in plan order.
type GroupEntry struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Verdict          string   `json:"verdict"`
	Confidence       int      `json:"confidence"`
	MustHave         bool     `json:"mustHave"`
	Rationale        string   `json:"rationale,omitempty"`
	FollowUpQuestion string   `json:"followUpQuestion,omitempty"`
	NotableQuotes    []string `json:"notableQuotes,omitempty"`
	OpenConflict     string   `json:"openConflict,omitempty"`
}

// Build projects session state into a report. Groups follow plan order;
// groups unknown to the plan come last, sorted by id.
func Build(state *orchestrator.SessionState, p *plan.Plan, now time.Time) Report {
	report := Report{
		SessionID:   state.SessionID,
		GeneratedAt: now,
		UpdatedAt:   state.UpdatedAt,
		Revision:    state.Revision,
		OverallFit:  state.OverallFit,
	}

	meta := plan.BuildMeta(p)
	ordered := make([]string, 0, len(state.Groups))
	seen := make(map[string]struct{}, len(state.Groups))
	if p != nil {
		for _, g := range p.Groups {
			if _, ok := state.Groups[g.ID]; ok {
				ordered = append(ordered, g.ID)
				seen[g.ID] = struct{}{}
			}
		}
	}
	var extras []string
	for id := range state.Groups {
		if _, ok := seen[id]; !ok {
			extras = append(extras, id)
		}
	}
	sort.Strings(extras)
	ordered = append(ordered, extras...)

	for _, id := range ordered {
		g := state.Groups[id]
		entry := GroupEntry{
			ID:               g.ID,
			Title:            g.Title,
			Verdict:          g.Verdict,
			Confidence:       g.Confidence,
			Rationale:        g.Rationale,
			FollowUpQuestion: g.FollowUpQuestion,
		}
		if m, ok := meta[id]; ok {
			entry.MustHave = m.Importance == plan.MustHave
		}
		if len(g.NotableQuotes) > maxQuotesPerGroup {
			entry.NotableQuotes = append([]string(nil), g.NotableQuotes[:maxQuotesPerGroup]...)
		} else {
			entry.NotableQuotes = append([]string(nil), g.NotableQuotes...)
		}
		if len(g.Conflicts) > 0 {
			entry.OpenConflict = g.Conflicts[0].Summary
		}
		report.Groups = append(report.Groups, entry)
	}
	return report
}

// Render formats a report as deterministic plain text.
func Render(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", r.SessionID)
	fmt.Fprintf(&b, "Overall Fit: %d%%\n", r.OverallFit)
	if !r.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "Updated: %s\n", r.UpdatedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Revision: %d\n", r.Revision)

	for _, g := range r.Groups {
		b.WriteString("\n")
		marker := ""
		if g.MustHave {
			marker = " (must-have)"
		}
		fmt.Fprintf(&b, "- [%s] %s%s: %d%%\n", strings.ToUpper(g.Verdict), g.Title, marker, g.Confidence)
		if g.Rationale != "" {
			fmt.Fprintf(&b, "  Rationale: %s\n", g.Rationale)
		}
		if g.FollowUpQuestion != "" {
			fmt.Fprintf(&b, "  Ask next: %s\n", g.FollowUpQuestion)
		}
		if g.OpenConflict != "" {
			fmt.Fprintf(&b, "  Open conflict: %s\n", g.OpenConflict)
		}
		for _, quote := range g.NotableQuotes {
			fmt.Fprintf(&b, "  > %s\n", quote)
		}
	}
	return b.String()
}
