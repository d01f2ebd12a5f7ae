// Package plan models job-description requirements and the grouped
// evaluation plan the batch-reasoning path scores against.
package plan

import "time"

// Priority of a requirement as extracted from the JD.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Importance of an evaluation group.
type Importance string

const (
	MustHave   Importance = "must-have"
	NiceToHave Importance = "nice-to-have"
)

// Requirement is an atomic hiring criterion. Immutable for the life of a JD;
// a new JD supersedes the whole set.
type Requirement struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	Priority         Priority `json:"priority"`
	Competencies     []string `json:"competencies,omitempty"`
	MustHave         bool     `json:"must_have"`
	NiceToHave       bool     `json:"nice_to_have"`
	ProbingQuestions []string `json:"probing_questions,omitempty"`
}

// Group is the coarser unit the batch-reasoning layer reasons about.
type Group struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Importance       Importance `json:"importance"`
	Criteria         []string   `json:"criteria,omitempty"`
	SuccessSignals   []string   `json:"success_signals,omitempty"`
	RiskSignals      []string   `json:"risk_signals,omitempty"`
	ConflictSignals  []string   `json:"conflict_signals,omitempty"`
	ProbingQuestions []string   `json:"probing_questions,omitempty"`
	SuccessSummary   string     `json:"success_summary,omitempty"`
}

// Plan is one JD's ordered list of evaluation groups.
type Plan struct {
	GeneratedAt time.Time `json:"generated_at"`
	Groups      []Group   `json:"groups"`
}

// GroupMeta is the per-group material the heuristic fallback evaluator needs:
// a stop-word-free keyword vocabulary plus fallback texts.
type GroupMeta struct {
	ID                string
	Title             string
	Importance        Importance
	Keywords          []string
	ProbingQuestions  []string
	FallbackRationale string
}

// Weight returns the overall-fit weight for the group's importance.
func (m GroupMeta) Weight() float64 {
	if m.Importance == NiceToHave {
		return 1.0
	}
	return 1.5
}
