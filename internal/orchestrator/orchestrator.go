// Package orchestrator batches transcript chunks per session, runs them
// through the evaluator, merges verdicts into durable session state, and
// publishes state, guidance, and conflict events.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fitsignal/fitsignal-core/internal/config"
	"github.com/fitsignal/fitsignal-core/internal/evaluator"
	"github.com/fitsignal/fitsignal-core/internal/plan"
	"github.com/fitsignal/fitsignal-core/internal/protocol"
	"github.com/fitsignal/fitsignal-core/internal/statestore"
	"github.com/google/uuid"
)

const evaluateTimeout = 15 * time.Second

// Publisher is the outbound event surface. bus.Client satisfies it.
type Publisher interface {
	PublishJSON(subject string, payload any) error
}

// GroupState is the live merged judgment for one plan group. Source is empty
// until the first signal, then "heuristic" or "claude".
type GroupState struct {
	ID               string               `json:"id"`
	Title            string               `json:"title"`
	Verdict          string               `json:"verdict"`
	Confidence       int                  `json:"confidence"`
	Rationale        string               `json:"rationale,omitempty"`
	FollowUpQuestion string               `json:"followUpQuestion,omitempty"`
	NotableQuotes    []string             `json:"notableQuotes,omitempty"`
	Conflicts        []evaluator.Conflict `json:"conflicts,omitempty"`
	LastUpdated      time.Time            `json:"lastUpdated,omitzero"`
	Source           string               `json:"source,omitempty"`
}

// SessionState is the persisted evaluation state for one session. Revision
// increases by one per applied batch and never goes backward.
type SessionState struct {
	SessionID   string                 `json:"sessionId"`
	Revision    int64                  `json:"revision"`
	UpdatedAt   time.Time              `json:"updatedAt,omitzero"`
	OverallFit  int                    `json:"overallFit"`
	PlanVersion string                 `json:"planVersion,omitempty"`
	Groups      map[string]*GroupState `json:"groups"`
}

type session struct {
	id           string
	queue        []evaluator.Chunk
	context      []evaluator.Chunk
	timer        *time.Timer
	saveTimer    *time.Timer
	lastGuidance map[string]string
	state        *SessionState
}

// Orchestrator owns per-session batch queues and evaluation state.
type Orchestrator struct {
	mu         sync.Mutex
	cfg        config.PipelineConfig
	eval       evaluator.Evaluator
	store      *statestore.Store
	pub        Publisher
	logger     *slog.Logger
	clock      func() time.Time
	sessions   map[string]*session
	activePlan *plan.Plan
	planMeta   map[string]plan.GroupMeta
	metrics    *pipelineMetrics
	closed     bool
}

func New(cfg config.PipelineConfig, eval evaluator.Evaluator, store *statestore.Store, pub Publisher, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		eval:     eval,
		store:    store,
		pub:      pub,
		logger:   logger.With("component", "orchestrator"),
		clock:    time.Now,
		sessions: make(map[string]*session),
		planMeta: make(map[string]plan.GroupMeta),
	}
	o.metrics = newPipelineMetrics(o, o.logger)
	return o
}

// SetActivePlan installs a new assessment plan. Every known session is reset
// to the plan's initial group state and its guidance history cleared.
func (o *Orchestrator) SetActivePlan(ctx context.Context, p *plan.Plan) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.activePlan = p
	o.planMeta = plan.BuildMeta(p)

	version := ""
	if p != nil && !p.GeneratedAt.IsZero() {
		version = p.GeneratedAt.UTC().Format(time.RFC3339)
	}
	for _, sess := range o.sessions {
		sess.state.PlanVersion = version
		sess.state.Groups = o.initialGroupState()
		sess.state.OverallFit = 0
		sess.lastGuidance = make(map[string]string)
		o.persistStateLocked(ctx, sess)
	}
}

// EnqueueChunk queues one transcript fragment for the next batch. The first
// chunk after an idle period arms the batch timer.
func (o *Orchestrator) EnqueueChunk(frag protocol.TranscriptFragment) error {
	sessionID, err := sanitizeSessionID(frag.SessionID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(frag.Text) == "" {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errors.New("orchestrator closed")
	}

	sess := o.ensureSessionLocked(sessionID)
	chunk := evaluator.Chunk{
		ChunkID:   frag.ChunkID,
		Source:    frag.Source,
		Text:      frag.Text,
		Timestamp: frag.Timestamp,
	}
	sess.queue = append(sess.queue, chunk)
	sess.context = append(sess.context, chunk)
	o.metrics.recordChunk(context.Background(), frag.Source)
	if len(sess.context) > o.contextWindow() {
		sess.context = sess.context[len(sess.context)-o.contextWindow():]
	}

	if sess.timer == nil {
		id := sess.id
		sess.timer = time.AfterFunc(o.batchWindow(), func() {
			o.mu.Lock()
			if s, ok := o.sessions[id]; ok {
				s.timer = nil
			}
			o.mu.Unlock()
			o.flush(context.Background(), id, false)
		})
	}
	return nil
}

// ForceFlush evaluates any queued chunks for a session immediately, bypassing
// the batch timer, and forces pending state to disk. With an empty queue it
// still runs the heuristic pass when prior state exists.
func (o *Orchestrator) ForceFlush(ctx context.Context, sessionID string) error {
	id, err := sanitizeSessionID(sessionID)
	if err != nil {
		return err
	}
	o.mu.Lock()
	sess, ok := o.sessions[id]
	if ok && sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
	o.mu.Unlock()
	if !ok {
		return nil
	}

	o.flush(ctx, id, true)

	o.mu.Lock()
	if sess.saveTimer != nil {
		sess.saveTimer.Stop()
		sess.saveTimer = nil
	}
	o.persistStateLocked(ctx, sess)
	o.mu.Unlock()
	return nil
}

// FlushAll force-flushes every known session. Used during shutdown.
func (o *Orchestrator) FlushAll(ctx context.Context) {
	o.mu.Lock()
	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		if err := o.ForceFlush(ctx, id); err != nil {
			o.logger.Warn("flush on shutdown failed", "session_id", id, "error", err)
		}
	}
}

// State returns a deep copy of a session's current state, or nil when the
// session is unknown.
func (o *Orchestrator) State(sessionID string) *SessionState {
	id, err := sanitizeSessionID(sessionID)
	if err != nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.sessions[id]
	if !ok {
		return nil
	}
	return copyState(sess.state)
}

// Close stops all timers. Pending queues are not evaluated; call FlushAll
// first for a clean shutdown.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	for _, sess := range o.sessions {
		if sess.timer != nil {
			sess.timer.Stop()
			sess.timer = nil
		}
		if sess.saveTimer != nil {
			sess.saveTimer.Stop()
			sess.saveTimer = nil
		}
	}
	o.mu.Unlock()
}

func (o *Orchestrator) ensureSessionLocked(id string) *session {
	if sess, ok := o.sessions[id]; ok {
		return sess
	}
	sess := &session{
		id:           id,
		lastGuidance: make(map[string]string),
		state: &SessionState{
			SessionID: id,
			Groups:    make(map[string]*GroupState),
		},
	}

	if payload, revision, err := o.store.LoadState(context.Background(), id, statestore.KindSessionState); err != nil {
		o.logger.Warn("loading persisted state failed", "session_id", id, "error", err)
	} else if len(payload) > 0 {
		var restored SessionState
		if err := json.Unmarshal(payload, &restored); err != nil {
			o.logger.Warn("decoding persisted state failed", "session_id", id, "error", err)
		} else {
			restored.SessionID = id
			if restored.Revision < revision {
				restored.Revision = revision
			}
			if restored.Groups == nil {
				restored.Groups = make(map[string]*GroupState)
			}
			sess.state = &restored
		}
	}

	if o.activePlan != nil {
		if !o.activePlan.GeneratedAt.IsZero() {
			sess.state.PlanVersion = o.activePlan.GeneratedAt.UTC().Format(time.RFC3339)
		}
		if len(sess.state.Groups) == 0 {
			sess.state.Groups = o.initialGroupState()
		}
	}

	o.sessions[id] = sess
	return sess
}

func (o *Orchestrator) initialGroupState() map[string]*GroupState {
	groups := make(map[string]*GroupState, len(o.planMeta))
	for id, meta := range o.planMeta {
		groups[id] = &GroupState{
			ID:        id,
			Title:     meta.Title,
			Verdict:   "unknown",
			Rationale: meta.FallbackRationale,
		}
	}
	return groups
}

// flush evaluates one batch. The evaluator call runs without the lock held;
// queue splice and result application are both under it.
func (o *Orchestrator) flush(ctx context.Context, sessionID string, force bool) {
	o.mu.Lock()
	sess, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return
	}
	if o.activePlan == nil {
		sess.queue = nil
		o.mu.Unlock()
		return
	}
	if len(sess.queue) == 0 && !force {
		o.mu.Unlock()
		return
	}
	batch := sess.queue
	sess.queue = nil
	req := evaluator.Request{
		SessionID:     sessionID,
		Plan:          o.activePlan,
		CurrentState:  snapshotGroups(sess.state),
		NewChunks:     batch,
		RecentContext: append([]evaluator.Chunk(nil), sess.context...),
	}
	o.mu.Unlock()

	evalCtx, cancel := context.WithTimeout(ctx, evaluateTimeout)
	result, err := o.eval.Evaluate(evalCtx, req)
	cancel()

	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case err != nil:
		o.logger.Warn("evaluation failed, applying heuristic", "session_id", sessionID, "error", err)
		o.applyHeuristicLocked(ctx, sess, batch)
	case result == nil || len(result.Groups) == 0:
		o.logger.Debug("empty evaluation, applying heuristic", "session_id", sessionID)
		o.applyHeuristicLocked(ctx, sess, batch)
	default:
		o.applyResultLocked(ctx, sess, result.Groups, "claude")
	}
}

// applyHeuristicLocked scores the batch against plan keywords and applies the
// outcome. Groups that already carry an authoritative signal are skipped so a
// keyword guess never degrades a model verdict.
func (o *Orchestrator) applyHeuristicLocked(ctx context.Context, sess *session, batch []evaluator.Chunk) {
	if len(o.planMeta) == 0 || o.activePlan == nil {
		return
	}

	var groups []evaluator.GroupResult
	for _, planGroup := range o.activePlan.Groups {
		id := planGroup.ID
		meta, ok := o.planMeta[id]
		if !ok {
			continue
		}
		existing := sess.state.Groups[id]
		if existing != nil && existing.Source != "" && existing.Source != "heuristic" {
			continue
		}

		score, bestChunk := scoreChunks(meta.Keywords, batch)
		confidence := int(math.Round(clamp01(score) * 100))
		rationale := meta.FallbackRationale
		if bestChunk != nil {
			rationale = `Candidate mentioned: "` + bestChunk.Text + `"`
		}
		var followUps, quotes []string
		if confidence < 60 && len(meta.ProbingQuestions) > 0 {
			followUps = meta.ProbingQuestions[:1]
		}
		if bestChunk != nil {
			quotes = []string{bestChunk.Text}
		}
		groups = append(groups, evaluator.GroupResult{
			GroupID:           id,
			Verdict:           scoreToVerdict(score),
			Confidence:        confidence,
			Rationale:         rationale,
			FollowUpQuestions: followUps,
			NotableQuotes:     quotes,
		})
	}
	o.applyResultLocked(ctx, sess, groups, "heuristic")
}

func (o *Orchestrator) applyResultLocked(ctx context.Context, sess *session, groups []evaluator.GroupResult, source string) {
	if len(groups) == 0 {
		return
	}
	now := o.clock().UTC()

	var totalConfidence, totalWeight float64
	var guidance []protocol.GuidancePrompt
	var conflicts []protocol.ConflictRecord

	for _, update := range groups {
		existing := sess.state.Groups[update.GroupID]
		if existing == nil {
			existing = &GroupState{ID: update.GroupID, Title: update.GroupID, Verdict: "unknown"}
		}

		merged := mergeGroup(existing, update, source)
		if merged == nil {
			continue
		}
		merged.LastUpdated = now
		if merged.Source == "" {
			merged.Source = source
		}
		sess.state.Groups[update.GroupID] = merged

		weight := 1.5
		if meta, ok := o.planMeta[update.GroupID]; ok {
			weight = meta.Weight()
		}
		totalConfidence += float64(merged.Confidence) * weight
		totalWeight += weight

		for _, c := range merged.Conflicts {
			conflicts = append(conflicts, protocol.ConflictRecord{
				ID:                uuid.NewString(),
				SessionID:         sess.id,
				GroupID:           update.GroupID,
				Summary:           c.Summary,
				Evidence:          c.Evidence,
				RecommendedAction: c.RecommendedAction,
				CreatedAt:         now,
			})
		}

		if merged.FollowUpQuestion != "" {
			if sess.lastGuidance[update.GroupID] != merged.FollowUpQuestion {
				sess.lastGuidance[update.GroupID] = merged.FollowUpQuestion
				priority, mustHave := "medium", false
				if meta, ok := o.planMeta[update.GroupID]; ok && meta.Importance == plan.MustHave {
					priority, mustHave = "high", true
				}
				guidance = append(guidance, protocol.GuidancePrompt{
					ID:               uuid.NewString(),
					SessionID:        sess.id,
					RequirementID:    update.GroupID,
					RequirementTitle: merged.Title,
					Question:         merged.FollowUpQuestion,
					Priority:         priority,
					MustHave:         mustHave,
					CreatedAt:        now,
				})
			}
		} else {
			delete(sess.lastGuidance, update.GroupID)
		}
	}

	if totalWeight > 0 {
		sess.state.OverallFit = int(math.Round(totalConfidence / totalWeight))
	}
	sess.state.UpdatedAt = now
	sess.state.Revision++
	o.metrics.recordBatch(ctx, source, len(groups))
	o.metrics.recordConflicts(ctx, len(conflicts))

	stateUpdate := protocol.GroupUpdate{
		SessionID:  sess.id,
		OverallFit: sess.state.OverallFit,
		Revision:   sess.state.Revision,
		Groups:     o.orderedGroups(sess.state),
		UpdatedAt:  now,
	}
	o.publish(protocol.SubjectUpdate, stateUpdate)
	o.appendEvent(ctx, sess.id, statestore.EventStateChanged, stateUpdate)

	for _, record := range conflicts {
		o.publish(protocol.SubjectConflict, record)
		o.appendEvent(ctx, sess.id, statestore.EventConflict, record)
	}
	for _, prompt := range guidance {
		o.publish(protocol.SubjectGuidance, prompt)
		o.appendEvent(ctx, sess.id, statestore.EventGuidance, prompt)
	}

	o.scheduleSaveLocked(sess)
}

// mergeGroup folds one group update into the existing state. Returns nil when
// the update must be discarded (heuristic against an authoritative verdict).
func mergeGroup(existing *GroupState, update evaluator.GroupResult, source string) *GroupState {
	merged := *existing
	merged.NotableQuotes = append([]string(nil), existing.NotableQuotes...)

	if source == "heuristic" && existing.Source != "" && existing.Source != "heuristic" {
		return nil
	}

	incomingVerdict := strings.ToLower(update.Verdict)
	if incomingVerdict == "" {
		incomingVerdict = merged.Verdict
	}
	if incomingVerdict == "" {
		incomingVerdict = "unknown"
	}
	incomingConfidence := clampConfidence(update.Confidence)

	if source == "heuristic" {
		if merged.Source == "" {
			merged.Verdict = incomingVerdict
			merged.Confidence = incomingConfidence
			merged.Source = "heuristic"
		} else {
			prevStrength := verdictStrength(merged.Verdict)
			incomingStrength := verdictStrength(incomingVerdict)
			trend := "neutral"
			switch {
			case incomingStrength > prevStrength:
				trend = "increase"
			case incomingStrength < prevStrength:
				trend = "decrease"
			case incomingConfidence > merged.Confidence:
				trend = "increase"
			case incomingConfidence < merged.Confidence:
				trend = "decrease"
			}
			if trend == "increase" {
				if incomingStrength >= prevStrength {
					merged.Verdict = incomingVerdict
				}
			} else if trend == "decrease" {
				merged.Verdict = incomingVerdict
			}
			if trend != "neutral" {
				merged.Confidence = blendConfidence(merged.Confidence, incomingConfidence, trend)
			}
		}
		if merged.Rationale == "" && update.Rationale != "" {
			merged.Rationale = update.Rationale
		}
	} else {
		merged.Verdict = incomingVerdict
		merged.Confidence = incomingConfidence
		if update.Rationale != "" {
			merged.Rationale = update.Rationale
		}
		merged.Source = "claude"
	}

	if len(update.FollowUpQuestions) > 0 {
		merged.FollowUpQuestion = update.FollowUpQuestions[0]
	}

	if len(update.NotableQuotes) > 0 {
		seen := make(map[string]struct{}, len(merged.NotableQuotes)+len(update.NotableQuotes))
		var quotes []string
		for _, q := range merged.NotableQuotes {
			if _, dup := seen[q]; dup {
				continue
			}
			seen[q] = struct{}{}
			quotes = append(quotes, q)
		}
		for _, q := range update.NotableQuotes {
			if _, dup := seen[q]; dup {
				continue
			}
			seen[q] = struct{}{}
			quotes = append(quotes, q)
		}
		if len(quotes) > 5 {
			quotes = quotes[:5]
		}
		merged.NotableQuotes = quotes
	}

	// Conflicts reflect the latest authoritative batch only; history lives in
	// the event log.
	if source != "heuristic" {
		merged.Conflicts = update.Conflicts
	} else if update.Conflicts != nil {
		merged.Conflicts = update.Conflicts
	}

	return &merged
}

// blendConfidence moves the previous confidence toward the incoming one.
// Upgrades are damped harder than downgrades so confidence builds slowly and
// erodes quickly. Movement against the trend falls back to a 0.2 nudge.
func blendConfidence(previous, incoming int, trend string) int {
	prev := float64(previous)
	in := float64(incoming)
	var result float64
	if trend == "increase" {
		result = prev + (in-prev)*0.6
		if result < prev {
			result = prev + math.Abs(in-prev)*0.2
		}
		result = math.Max(result, prev)
	} else {
		result = prev - (prev-in)*0.7
		if result > prev {
			result = prev - math.Abs(in-prev)*0.2
		}
		result = math.Min(result, prev)
	}
	return clampConfidence(int(math.Round(result)))
}

func verdictStrength(verdict string) int {
	switch strings.ToLower(verdict) {
	case "strongly-aligned", "strong_yes", "strong-yes":
		return 4
	case "strong", "satisfied", "yes":
		return 3
	case "likely", "promising":
		return 2
	case "possible":
		return 1
	case "unclear", "needs_more":
		return -1
	case "concern":
		return -2
	case "no":
		return -3
	case "strong_no", "strongly-negative":
		return -4
	default:
		return 0
	}
}

func scoreToVerdict(score float64) string {
	switch {
	case score >= 0.45:
		return "satisfied"
	case score >= 0.25:
		return "likely"
	case score > 0:
		return "needs_more"
	default:
		return "unknown"
	}
}

// scoreChunks returns the best keyword-overlap score across the batch and the
// chunk that produced it. Score is unique keyword hits over keyword count.
func scoreChunks(keywords []string, batch []evaluator.Chunk) (float64, *evaluator.Chunk) {
	if len(keywords) == 0 {
		return 0, nil
	}
	keywordSet := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		keywordSet[k] = struct{}{}
	}

	var bestScore float64
	var bestChunk *evaluator.Chunk
	for i := range batch {
		tokens := tokenizeLoose(batch[i].Text)
		if len(tokens) == 0 {
			continue
		}
		hits := make(map[string]struct{})
		for _, token := range tokens {
			if _, ok := keywordSet[token]; ok {
				hits[token] = struct{}{}
			}
		}
		score := float64(len(hits)) / float64(len(keywords))
		if score > bestScore {
			bestScore = score
			bestChunk = &batch[i]
		}
	}
	return bestScore, bestChunk
}

func tokenizeLoose(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '+', r == '#', r == '.':
			return false
		}
		return true
	})
}

func (o *Orchestrator) orderedGroups(state *SessionState) []protocol.GroupEntry {
	ids := make([]string, 0, len(state.Groups))
	seen := make(map[string]struct{}, len(state.Groups))
	if o.activePlan != nil {
		for _, g := range o.activePlan.Groups {
			if _, ok := state.Groups[g.ID]; ok {
				ids = append(ids, g.ID)
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
	ids = append(ids, extras...)

	entries := make([]protocol.GroupEntry, 0, len(ids))
	for _, id := range ids {
		g := state.Groups[id]
		entries = append(entries, protocol.GroupEntry{
			ID:               g.ID,
			Title:            g.Title,
			Verdict:          g.Verdict,
			Confidence:       g.Confidence,
			Rationale:        g.Rationale,
			FollowUpQuestion: g.FollowUpQuestion,
			NotableQuotes:    g.NotableQuotes,
			Source:           g.Source,
			LastUpdated:      g.LastUpdated,
		})
	}
	return entries
}

func (o *Orchestrator) scheduleSaveLocked(sess *session) {
	if sess.saveTimer != nil {
		return
	}
	id := sess.id
	sess.saveTimer = time.AfterFunc(o.saveDebounce(), func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		s, ok := o.sessions[id]
		if !ok {
			return
		}
		s.saveTimer = nil
		o.persistStateLocked(context.Background(), s)
	})
}

func (o *Orchestrator) persistStateLocked(ctx context.Context, sess *session) {
	payload, err := json.Marshal(sess.state)
	if err != nil {
		o.logger.Error("encoding session state failed", "session_id", sess.id, "error", err)
		return
	}
	if err := o.store.SaveState(ctx, sess.id, statestore.KindSessionState, sess.state.Revision, payload); err != nil {
		o.logger.Warn("persisting session state failed", "session_id", sess.id, "error", err)
	}
}

func (o *Orchestrator) appendEvent(ctx context.Context, sessionID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.Error("encoding event failed", "session_id", sessionID, "event_type", eventType, "error", err)
		return
	}
	if err := o.store.AppendEvent(ctx, statestore.Event{SessionID: sessionID, Type: eventType, Payload: data}); err != nil {
		o.logger.Warn("appending event failed", "session_id", sessionID, "event_type", eventType, "error", err)
	}
}

func (o *Orchestrator) publish(subject string, payload any) {
	if o.pub == nil {
		return
	}
	if err := o.pub.PublishJSON(subject, payload); err != nil {
		o.logger.Warn("publish failed", "subject", subject, "error", err)
	}
}

func (o *Orchestrator) batchWindow() time.Duration {
	if o.cfg.BatchWindowMS > 0 {
		return time.Duration(o.cfg.BatchWindowMS) * time.Millisecond
	}
	return 5 * time.Second
}

func (o *Orchestrator) contextWindow() int {
	if o.cfg.ContextWindow > 0 {
		return o.cfg.ContextWindow
	}
	return 20
}

func (o *Orchestrator) saveDebounce() time.Duration {
	if o.cfg.SaveDebounceMS > 0 {
		return time.Duration(o.cfg.SaveDebounceMS) * time.Millisecond
	}
	return 2 * time.Second
}

func snapshotGroups(state *SessionState) []evaluator.GroupSnapshot {
	ids := make([]string, 0, len(state.Groups))
	for id := range state.Groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	snapshots := make([]evaluator.GroupSnapshot, 0, len(ids))
	for _, id := range ids {
		g := state.Groups[id]
		snapshots = append(snapshots, evaluator.GroupSnapshot{
			ID:         g.ID,
			Title:      g.Title,
			Verdict:    g.Verdict,
			Confidence: g.Confidence,
			Rationale:  g.Rationale,
		})
	}
	return snapshots
}

func copyState(state *SessionState) *SessionState {
	out := *state
	out.Groups = make(map[string]*GroupState, len(state.Groups))
	for id, g := range state.Groups {
		copied := *g
		copied.NotableQuotes = append([]string(nil), g.NotableQuotes...)
		copied.Conflicts = append([]evaluator.Conflict(nil), g.Conflicts...)
		out.Groups[id] = &copied
	}
	return &out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampConfidence(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// sanitizeSessionID maps an arbitrary session identifier onto a safe one.
// Letters, digits, dot, underscore and hyphen pass through; anything else
// becomes a hyphen.
func sanitizeSessionID(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("empty session id")
	}
	var b strings.Builder
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String(), nil
}
