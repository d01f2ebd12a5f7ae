package protocol

import "time"

// TranscriptFragment is one timestamped unit of transcribed speech delivered
// by the capture layer. Fragments are consumed once by the sync evidence path
// and once by the batch evaluation queue.
type TranscriptFragment struct {
	ChunkID   string    `json:"chunk_id"`
	SessionID string    `json:"session_id"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	LatencyMS int64     `json:"latency_ms,omitempty"`
}

// Audio sources for TranscriptFragment.
const (
	SourceMicrophone = "microphone"
	SourceSpeaker    = "speaker"
)

// JDUpdate carries raw job-description text into the pipeline.
type JDUpdate struct {
	SessionID string    `json:"session_id,omitempty"`
	Text      string    `json:"text"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// JDUpdated is broadcast after a JD has been extracted and planned.
type JDUpdated struct {
	SessionID    string    `json:"session_id,omitempty"`
	Requirements int       `json:"requirements"`
	Groups       int       `json:"groups"`
	PlanReady    bool      `json:"plan_ready"`
	Timestamp    time.Time `json:"timestamp"`
}

// EvidenceUpdate is published on the sync path after a fragment has been
// folded into per-requirement evidence state.
type EvidenceUpdate struct {
	SessionID    string               `json:"session_id"`
	ChunkID      string               `json:"chunk_id"`
	OverallFit   int                  `json:"overall_fit"`
	Requirements []RequirementVerdict `json:"requirements"`
	Timestamp    time.Time            `json:"timestamp"`
}

// RequirementVerdict summarises one requirement inside an EvidenceUpdate.
type RequirementVerdict struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Verdict          string `json:"verdict"`
	Confidence       int    `json:"confidence"`
	FollowUpQuestion string `json:"follow_up_question,omitempty"`
	MustHave         bool   `json:"must_have"`
}

// GroupUpdate is published after a batch evaluation has been merged into the
// session's group verdict state.
type GroupUpdate struct {
	SessionID  string       `json:"session_id"`
	OverallFit int          `json:"overall_fit"`
	Revision   int64        `json:"revision"`
	Groups     []GroupEntry `json:"groups"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// GroupEntry mirrors one group's live verdict state on the wire.
type GroupEntry struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Verdict          string    `json:"verdict"`
	Confidence       int       `json:"confidence"`
	Rationale        string    `json:"rationale,omitempty"`
	FollowUpQuestion string    `json:"follow_up_question,omitempty"`
	NotableQuotes    []string  `json:"notable_quotes,omitempty"`
	Source           string    `json:"source,omitempty"`
	LastUpdated      time.Time `json:"last_updated"`
}

// GuidancePrompt asks the interviewer to probe a requirement or group.
// Append-only: never mutated after creation, broadcast exactly once.
type GuidancePrompt struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	RequirementID    string    `json:"requirement_id"`
	RequirementTitle string    `json:"requirement_title"`
	Question         string    `json:"question"`
	Priority         string    `json:"priority"`
	MustHave         bool      `json:"must_have"`
	CreatedAt        time.Time `json:"created_at"`
}

// ConflictRecord captures contradictory evidence for a group. Append-only.
type ConflictRecord struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"session_id"`
	GroupID           string    `json:"group_id"`
	Summary           string    `json:"summary"`
	Evidence          []Quote   `json:"evidence,omitempty"`
	RecommendedAction string    `json:"recommended_action,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Quote is a verbatim transcript excerpt attached to a conflict.
type Quote struct {
	Quote  string `json:"quote"`
	Source string `json:"source,omitempty"`
}

const (
	SubjectTranscriptFragment = "transcript.fragment"
	SubjectJDSet              = "jd.set"
	SubjectJDUpdated          = "eval.jd.updated"
	SubjectStateChanged       = "eval.state.changed"
	SubjectUpdate             = "eval.update"
	SubjectGuidance           = "eval.guidance"
	SubjectConflict           = "eval.conflict"
)
