// Package evaluator defines the batch evaluation boundary: a model-backed
// judge that turns queued transcript chunks plus current session state into
// per-group verdicts. Responses cross a trust boundary and are normalized
// before anything downstream sees them.
package evaluator

import (
	"context"
	"time"

	"github.com/fitsignal/fitsignal-core/internal/plan"
	"github.com/fitsignal/fitsignal-core/internal/protocol"
)

// Chunk is one queued transcript fragment handed to an evaluation batch.
type Chunk struct {
	ChunkID   string    `json:"chunkId"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// GroupSnapshot is the evaluator-visible view of one group's current state.
type GroupSnapshot struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Verdict    string `json:"verdict"`
	Confidence int    `json:"confidence"`
	Rationale  string `json:"rationale,omitempty"`
}

// Request carries everything an evaluator needs for one batch.
type Request struct {
	SessionID     string
	Plan          *plan.Plan
	CurrentState  []GroupSnapshot
	NewChunks     []Chunk
	RecentContext []Chunk
}

// Conflict is a contradiction the evaluator noticed between statements.
type Conflict struct {
	Summary           string
	Evidence          []protocol.Quote
	RecommendedAction string
}

// GroupResult is one group's judgment. Confidence is 0-100 after
// normalization.
type GroupResult struct {
	GroupID           string
	Verdict           string
	Confidence        int
	Rationale         string
	FollowUpQuestions []string
	NotableQuotes     []string
	Conflicts         []Conflict
}

// Result is a full batch outcome. An empty Groups slice means the evaluator
// had nothing to say and the caller should fall back to its local heuristic.
type Result struct {
	OverallFit int
	Groups     []GroupResult
}

// Evaluator judges one batch of transcript chunks against the active plan.
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (*Result, error)
}
