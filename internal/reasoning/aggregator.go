// Package reasoning derives requirement-level verdicts, overall fit, and
// operator guidance from evidence snapshots. This is the fast local path; it
// makes no external calls.
package reasoning

import (
	"math"
	"sync"
	"time"

	"github.com/fitsignal/fitsignal-core/internal/evidence"
	"github.com/fitsignal/fitsignal-core/internal/plan"
	"github.com/fitsignal/fitsignal-core/internal/protocol"
	"github.com/google/uuid"
)

// Verdict is the categorical fit judgment for a requirement.
type Verdict string

const (
	VerdictUnknown   Verdict = "unknown"
	VerdictNeedsMore Verdict = "needs_more"
	VerdictLikely    Verdict = "likely"
	VerdictSatisfied Verdict = "satisfied"
	VerdictRisk      Verdict = "risk"
)

const (
	satisfiedConfidenceFloor = 75
	likelyConfidenceFloor    = 55
	riskObservationFloor     = 3
	riskConfidenceCeiling    = 25
	riskTopScoreCeiling      = 0.2
	maxHistory               = 10
	defaultCooldown          = 3 * time.Minute
)

// Transition records one verdict change, newest first.
type Transition struct {
	At   time.Time `json:"at"`
	From Verdict   `json:"from"`
	To   Verdict   `json:"to"`
}

// Summary is the per-requirement outcome of one evidence update.
type Summary struct {
	ID               string
	Title            string
	Verdict          Verdict
	Confidence       int
	FollowUpQuestion string
	MustHave         bool
}

// Update is the result of folding one evidence snapshot.
type Update struct {
	SessionID  string
	OverallFit int
	Summaries  []Summary
	Guidance   []protocol.GuidancePrompt
}

type requirementTrack struct {
	verdict Verdict
	history []Transition
}

// Aggregator tracks verdict state and guidance cooldowns per session.
type Aggregator struct {
	mu           sync.Mutex
	requirements []plan.Requirement
	byID         map[string]plan.Requirement
	tracks       map[string]map[string]*requirementTrack
	cooldowns    map[string]time.Time
	cooldown     time.Duration
	clock        func() time.Time
}

func NewAggregator(cooldown time.Duration) *Aggregator {
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Aggregator{
		byID:      make(map[string]plan.Requirement),
		tracks:    make(map[string]map[string]*requirementTrack),
		cooldowns: make(map[string]time.Time),
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// SetRequirements replaces the tracked requirement set and clears all verdict
// state and guidance cooldowns for every session.
func (a *Aggregator) SetRequirements(requirements []plan.Requirement) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requirements = append([]plan.Requirement(nil), requirements...)
	a.byID = make(map[string]plan.Requirement, len(requirements))
	for _, req := range requirements {
		a.byID[req.ID] = req
	}
	a.tracks = make(map[string]map[string]*requirementTrack)
	a.cooldowns = make(map[string]time.Time)
}

// HandleEvidenceUpdate folds one evidence snapshot into verdicts, overall fit
// and guidance. Requirements absent from the snapshot are not scored.
func (a *Aggregator) HandleEvidenceUpdate(sessionID string, snapshot map[string]evidence.RequirementState) Update {
	a.mu.Lock()
	defer a.mu.Unlock()

	update := Update{SessionID: sessionID}
	now := a.clock()

	var totalConfidence, totalWeight float64
	for _, req := range a.requirements {
		state, tracked := snapshot[req.ID]
		if !tracked {
			continue
		}

		verdict := deriveVerdict(state)
		a.recordTransition(sessionID, req.ID, verdict, now)

		summary := Summary{
			ID:         req.ID,
			Title:      req.Title,
			Verdict:    verdict,
			Confidence: state.Confidence,
			MustHave:   req.MustHave,
		}
		if verdict == VerdictNeedsMore && len(req.ProbingQuestions) > 0 {
			summary.FollowUpQuestion = req.ProbingQuestions[0]
			if prompt, ok := a.maybeGuidance(sessionID, req, summary.FollowUpQuestion, now); ok {
				update.Guidance = append(update.Guidance, prompt)
			}
		}
		update.Summaries = append(update.Summaries, summary)

		weight := 1.0
		if req.MustHave {
			weight = 1.5
		}
		totalConfidence += float64(state.Confidence) * weight
		totalWeight += weight
	}

	if totalWeight > 0 {
		update.OverallFit = int(math.Round(totalConfidence / totalWeight))
	}
	return update
}

// History returns the bounded transition log for one requirement, newest
// first. Audit use only; verdicts are never re-derived from it.
func (a *Aggregator) History(sessionID, requirementID string) []Transition {
	a.mu.Lock()
	defer a.mu.Unlock()
	session := a.tracks[sessionID]
	if session == nil || session[requirementID] == nil {
		return nil
	}
	return append([]Transition(nil), session[requirementID].history...)
}

func (a *Aggregator) recordTransition(sessionID, requirementID string, verdict Verdict, now time.Time) {
	session := a.tracks[sessionID]
	if session == nil {
		session = make(map[string]*requirementTrack)
		a.tracks[sessionID] = session
	}
	track := session[requirementID]
	if track == nil {
		track = &requirementTrack{verdict: VerdictUnknown}
		session[requirementID] = track
	}
	if track.verdict == verdict {
		return
	}
	track.history = append([]Transition{{At: now, From: track.verdict, To: verdict}}, track.history...)
	if len(track.history) > maxHistory {
		track.history = track.history[:maxHistory]
	}
	track.verdict = verdict
}

func (a *Aggregator) maybeGuidance(sessionID string, req plan.Requirement, question string, now time.Time) (protocol.GuidancePrompt, bool) {
	key := sessionID + "/" + req.ID
	if last, ok := a.cooldowns[key]; ok && now.Sub(last) < a.cooldown {
		return protocol.GuidancePrompt{}, false
	}
	a.cooldowns[key] = now

	priority := "medium"
	if req.MustHave {
		priority = "high"
	}
	return protocol.GuidancePrompt{
		ID:               uuid.NewString(),
		SessionID:        sessionID,
		RequirementID:    req.ID,
		RequirementTitle: req.Title,
		Question:         question,
		Priority:         priority,
		MustHave:         req.MustHave,
		CreatedAt:        now,
	}, true
}

// deriveVerdict maps one evidence snapshot entry to a verdict. Repeated weak
// evidence is a negative signal in its own right, distinct from no evidence.
func deriveVerdict(state evidence.RequirementState) Verdict {
	if state.Observations >= riskObservationFloor &&
		state.Confidence < riskConfidenceCeiling &&
		state.TopScore < riskTopScoreCeiling {
		return VerdictRisk
	}
	switch {
	case state.Status == evidence.StatusConfirmed || state.Confidence >= satisfiedConfidenceFloor:
		return VerdictSatisfied
	case state.Status == evidence.StatusLikely || state.Confidence >= likelyConfidenceFloor:
		return VerdictLikely
	case state.Confidence > 0:
		return VerdictNeedsMore
	default:
		return VerdictUnknown
	}
}
