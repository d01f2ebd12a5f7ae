// Package evidence maintains per-session, per-requirement rolling confidence
// derived from lexical transcript matches. No external I/O on this path.
package evidence

import (
	"math"
	"sync"
	"time"

	"github.com/fitsignal/fitsignal-core/internal/match"
	"github.com/fitsignal/fitsignal-core/internal/plan"
	"github.com/fitsignal/fitsignal-core/internal/protocol"
)

// Status buckets derived from confidence.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusPossible  Status = "possible"
	StatusLikely    Status = "likely"
	StatusConfirmed Status = "confirmed"
)

const (
	maxSnippets      = 6
	freshWeight      = 0.6
	carryWeight      = 0.4
	confirmedFloor   = 70
	likelyFloor      = 30
	defaultTopN      = 5
	maxSnippetLength = 240
)

// Snippet is one retained match excerpt.
type Snippet struct {
	Text   string    `json:"text"`
	Source string    `json:"source,omitempty"`
	Score  float64   `json:"score"`
	At     time.Time `json:"at"`
}

// RequirementState is the rolling evidence for one requirement in one session.
type RequirementState struct {
	ID           string    `json:"id"`
	Confidence   int       `json:"confidence"`
	Status       Status    `json:"status"`
	Evidence     []Snippet `json:"evidence,omitempty"`
	Observations int       `json:"observations"`
	TopScore     float64   `json:"top_score"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Tracker folds fragments into per-requirement state via the match index.
type Tracker struct {
	mu       sync.Mutex
	index    *match.Index
	sessions map[string]map[string]*RequirementState
	topN     int
	clock    func() time.Time
}

func NewTracker(topN int) *Tracker {
	if topN <= 0 {
		topN = defaultTopN
	}
	return &Tracker{
		index:    match.NewIndex(),
		sessions: make(map[string]map[string]*RequirementState),
		topN:     topN,
		clock:    time.Now,
	}
}

// SetRequirements replaces the indexed requirement set. Prior evidence is
// discarded: a new JD invalidates all earlier framing.
func (t *Tracker) SetRequirements(requirements []plan.Requirement) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.index.Reindex(requirements)
	t.sessions = make(map[string]map[string]*RequirementState)
}

// RecordFragment matches the fragment and updates the touched requirements'
// state, returning their ids. Fragments without a session or text, and
// fragments matching nothing, are no-ops: absence of evidence does not decay
// confidence.
func (t *Tracker) RecordFragment(frag protocol.TranscriptFragment) []string {
	if frag.SessionID == "" || frag.Text == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	matches := t.index.Match(frag.Text)
	if len(matches) == 0 {
		return nil
	}
	if len(matches) > t.topN {
		matches = matches[:t.topN]
	}

	session := t.sessions[frag.SessionID]
	if session == nil {
		session = make(map[string]*RequirementState)
		t.sessions[frag.SessionID] = session
	}

	now := t.clock()
	touched := make([]string, 0, len(matches))
	for _, m := range matches {
		state := session[m.ID]
		if state == nil {
			state = &RequirementState{ID: m.ID, Status: StatusUnknown}
			session[m.ID] = state
		}

		snippet := frag.Text
		if len(snippet) > maxSnippetLength {
			snippet = snippet[:maxSnippetLength]
		}
		state.Evidence = append(state.Evidence, Snippet{
			Text:   snippet,
			Source: frag.Source,
			Score:  m.Score,
			At:     now,
		})
		if len(state.Evidence) > maxSnippets {
			state.Evidence = state.Evidence[len(state.Evidence)-maxSnippets:]
		}

		state.Observations++
		if m.Score > state.TopScore {
			state.TopScore = m.Score
		}
		state.Confidence = blendConfidence(state.Confidence, m.Score)
		state.Status = statusFor(state.Confidence)
		state.LastUpdated = now

		touched = append(touched, m.ID)
	}
	return touched
}

// Snapshot returns a copy of the session's requirement states.
func (t *Tracker) Snapshot(sessionID string) map[string]RequirementState {
	t.mu.Lock()
	defer t.mu.Unlock()

	session := t.sessions[sessionID]
	snapshot := make(map[string]RequirementState, len(session))
	for id, state := range session {
		copied := *state
		copied.Evidence = append([]Snippet(nil), state.Evidence...)
		snapshot[id] = copied
	}
	return snapshot
}

// blendConfidence favours fresh evidence 60/40 over the carried value while
// damping single-fragment spikes. Result is clamped to [0,100].
func blendConfidence(previous int, score float64) int {
	blended := freshWeight*(score*100) + carryWeight*float64(previous)
	rounded := int(math.Round(math.Min(100, blended)))
	if rounded < 0 {
		return 0
	}
	return rounded
}

func statusFor(confidence int) Status {
	switch {
	case confidence >= confirmedFloor:
		return StatusConfirmed
	case confidence >= likelyFloor:
		return StatusLikely
	case confidence > 0:
		return StatusPossible
	default:
		return StatusUnknown
	}
}
