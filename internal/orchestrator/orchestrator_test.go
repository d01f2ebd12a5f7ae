package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fitsignal/fitsignal-core/internal/config"
	"github.com/fitsignal/fitsignal-core/internal/evaluator"
	"github.com/fitsignal/fitsignal-core/internal/plan"
	"github.com/fitsignal/fitsignal-core/internal/protocol"
	"github.com/fitsignal/fitsignal-core/internal/statestore"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
}

type publishedMessage struct {
	subject string
	payload any
}

func (p *fakePublisher) PublishJSON(subject string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, publishedMessage{subject: subject, payload: payload})
	return nil
}

func (p *fakePublisher) bySubject(subject string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for _, m := range p.messages {
		if m.subject == subject {
			out = append(out, m.payload)
		}
	}
	return out
}

type scriptedEvaluator struct {
	mu      sync.Mutex
	results []*evaluator.Result
	errs    []error
	calls   int
}

func (e *scriptedEvaluator) Evaluate(ctx context.Context, req evaluator.Request) (*evaluator.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.calls
	e.calls++
	var err error
	if i < len(e.errs) {
		err = e.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(e.results) {
		return e.results[i], nil
	}
	return &evaluator.Result{}, nil
}

func testPlan() *plan.Plan {
	return &plan.Plan{
		GeneratedAt: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		Groups: []plan.Group{
			{
				ID:               "group-infra",
				Title:            "Infrastructure depth",
				Importance:       plan.MustHave,
				Criteria:         []string{"Kubernetes production operations"},
				SuccessSignals:   []string{"terraform modules, helm charts, production kubernetes clusters"},
				ProbingQuestions: []string{"Which clusters have you run in production?"},
				SuccessSummary:   "Has operated kubernetes at scale",
			},
			{
				ID:               "group-lang",
				Title:            "Systems languages",
				Importance:       plan.NiceToHave,
				Criteria:         []string{"Go or Rust services"},
				SuccessSignals:   []string{"golang rust concurrency profiling"},
				ProbingQuestions: []string{"What have you shipped in Go?"},
			},
		},
	}
}

func newTestOrchestrator(t *testing.T, eval evaluator.Evaluator) (*Orchestrator, *fakePublisher) {
	t.Helper()
	store, err := statestore.Open(context.Background(), config.StateStoreConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	pub := &fakePublisher{}
	// Long batch window so only ForceFlush drives evaluation.
	cfg := config.PipelineConfig{BatchWindowMS: 60_000, ContextWindow: 20, SaveDebounceMS: 60_000}
	orch := New(cfg, eval, store, pub, newLogger())
	t.Cleanup(orch.Close)
	orch.SetActivePlan(context.Background(), testPlan())
	return orch, pub
}

func enqueue(t *testing.T, orch *Orchestrator, sessionID, text string) {
	t.Helper()
	err := orch.EnqueueChunk(protocol.TranscriptFragment{
		ChunkID:   "chunk-1",
		SessionID: sessionID,
		Source:    protocol.SourceMicrophone,
		Text:      text,
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func TestAuthoritativeResultApplied(t *testing.T) {
	eval := &scriptedEvaluator{results: []*evaluator.Result{{
		OverallFit: 70,
		Groups: []evaluator.GroupResult{{
			GroupID:       "group-infra",
			Verdict:       "satisfied",
			Confidence:    82,
			Rationale:     "Ran three production clusters",
			NotableQuotes: []string{"we ran three clusters"},
		}},
	}}}
	orch, pub := newTestOrchestrator(t, eval)

	enqueue(t, orch, "s1", "we ran three clusters on kubernetes")
	if err := orch.ForceFlush(context.Background(), "s1"); err != nil {
		t.Fatalf("force flush: %v", err)
	}

	state := orch.State("s1")
	if state == nil {
		t.Fatal("no state after flush")
	}
	group := state.Groups["group-infra"]
	if group.Verdict != "satisfied" || group.Confidence != 82 || group.Source != "claude" {
		t.Fatalf("unexpected group state: %+v", group)
	}
	if state.Revision != 1 {
		t.Fatalf("revision = %d, want 1", state.Revision)
	}
	// Overall fit is recomputed from merged groups, not taken from the model.
	// group-infra only: 82*1.5/1.5 = 82.
	if state.OverallFit != 82 {
		t.Fatalf("overallFit = %d, want 82", state.OverallFit)
	}
	if len(pub.bySubject(protocol.SubjectUpdate)) != 1 {
		t.Fatal("expected one state update publish")
	}
}

func TestHeuristicFallbackOnError(t *testing.T) {
	eval := &scriptedEvaluator{errs: []error{errors.New("upstream down")}}
	orch, pub := newTestOrchestrator(t, eval)

	enqueue(t, orch, "s1", "I wrote terraform modules and helm charts for our production kubernetes clusters")
	if err := orch.ForceFlush(context.Background(), "s1"); err != nil {
		t.Fatalf("force flush: %v", err)
	}

	state := orch.State("s1")
	group := state.Groups["group-infra"]
	if group.Source != "heuristic" {
		t.Fatalf("source = %q, want heuristic", group.Source)
	}
	if group.Verdict == "unknown" || group.Confidence == 0 {
		t.Fatalf("heuristic should have scored the chunk: %+v", group)
	}
	if !strings.HasPrefix(group.Rationale, `Candidate mentioned: "`) {
		t.Fatalf("rationale = %q", group.Rationale)
	}
	if group.Confidence < 60 && group.FollowUpQuestion == "" {
		t.Fatal("low-confidence heuristic should carry a probing question")
	}
	if len(pub.bySubject(protocol.SubjectGuidance)) == 0 {
		t.Fatal("expected guidance to be published")
	}
}

func TestHeuristicNeverOverridesAuthoritative(t *testing.T) {
	eval := &scriptedEvaluator{
		results: []*evaluator.Result{{
			Groups: []evaluator.GroupResult{{GroupID: "group-infra", Verdict: "satisfied", Confidence: 85}},
		}},
		errs: []error{nil, errors.New("upstream down")},
	}
	orch, _ := newTestOrchestrator(t, eval)

	enqueue(t, orch, "s1", "kubernetes production clusters everywhere")
	if err := orch.ForceFlush(context.Background(), "s1"); err != nil {
		t.Fatalf("first flush: %v", err)
	}
	enqueue(t, orch, "s1", "kubernetes again")
	if err := orch.ForceFlush(context.Background(), "s1"); err != nil {
		t.Fatalf("second flush: %v", err)
	}

	group := orch.State("s1").Groups["group-infra"]
	if group.Verdict != "satisfied" || group.Confidence != 85 || group.Source != "claude" {
		t.Fatalf("heuristic overwrote authoritative state: %+v", group)
	}
}

func TestRevisionMonotonic(t *testing.T) {
	eval := &scriptedEvaluator{results: []*evaluator.Result{
		{Groups: []evaluator.GroupResult{{GroupID: "group-infra", Verdict: "likely", Confidence: 50}}},
		{Groups: []evaluator.GroupResult{{GroupID: "group-infra", Verdict: "satisfied", Confidence: 80}}},
	}}
	orch, pub := newTestOrchestrator(t, eval)

	for i := 0; i < 2; i++ {
		enqueue(t, orch, "s1", "kubernetes work")
		if err := orch.ForceFlush(context.Background(), "s1"); err != nil {
			t.Fatalf("flush %d: %v", i, err)
		}
	}

	updates := pub.bySubject(protocol.SubjectUpdate)
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}
	first := updates[0].(protocol.GroupUpdate)
	second := updates[1].(protocol.GroupUpdate)
	if first.Revision != 1 || second.Revision != 2 {
		t.Fatalf("revisions = %d, %d; want 1, 2", first.Revision, second.Revision)
	}
}

func TestConflictRecordsPublishedAndFieldReplaced(t *testing.T) {
	conflict := evaluator.Conflict{
		Summary:           "Tenure contradiction",
		Evidence:          []protocol.Quote{{Quote: "five years", Source: "microphone"}},
		RecommendedAction: "Ask for dates",
	}
	eval := &scriptedEvaluator{results: []*evaluator.Result{
		{Groups: []evaluator.GroupResult{{GroupID: "group-infra", Verdict: "concern", Confidence: 30, Conflicts: []evaluator.Conflict{conflict}}}},
		{Groups: []evaluator.GroupResult{{GroupID: "group-infra", Verdict: "likely", Confidence: 55}}},
	}}
	orch, pub := newTestOrchestrator(t, eval)

	enqueue(t, orch, "s1", "contradictory statement")
	if err := orch.ForceFlush(context.Background(), "s1"); err != nil {
		t.Fatalf("first flush: %v", err)
	}
	records := pub.bySubject(protocol.SubjectConflict)
	if len(records) != 1 {
		t.Fatalf("got %d conflict records, want 1", len(records))
	}
	record := records[0].(protocol.ConflictRecord)
	if record.ID == "" || record.GroupID != "group-infra" || record.Summary != conflict.Summary {
		t.Fatalf("unexpected conflict record: %+v", record)
	}

	// The live field holds the latest batch only; the next authoritative
	// result without conflicts clears it.
	enqueue(t, orch, "s1", "clarified statement")
	if err := orch.ForceFlush(context.Background(), "s1"); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if got := orch.State("s1").Groups["group-infra"].Conflicts; len(got) != 0 {
		t.Fatalf("conflicts field should be cleared, got %+v", got)
	}
}

func TestGuidanceDedupedByQuestion(t *testing.T) {
	result := &evaluator.Result{Groups: []evaluator.GroupResult{{
		GroupID:           "group-infra",
		Verdict:           "needs_more",
		Confidence:        30,
		FollowUpQuestions: []string{"Which clusters have you run in production?"},
	}}}
	eval := &scriptedEvaluator{results: []*evaluator.Result{result, result}}
	orch, pub := newTestOrchestrator(t, eval)

	for i := 0; i < 2; i++ {
		enqueue(t, orch, "s1", "some kubernetes talk")
		if err := orch.ForceFlush(context.Background(), "s1"); err != nil {
			t.Fatalf("flush %d: %v", i, err)
		}
	}
	if got := pub.bySubject(protocol.SubjectGuidance); len(got) != 1 {
		t.Fatalf("got %d guidance prompts, want 1 (same question deduped)", len(got))
	}
}

func TestSetActivePlanResetsSessions(t *testing.T) {
	eval := &scriptedEvaluator{results: []*evaluator.Result{{
		Groups: []evaluator.GroupResult{{GroupID: "group-infra", Verdict: "satisfied", Confidence: 80}},
	}}}
	orch, _ := newTestOrchestrator(t, eval)

	enqueue(t, orch, "s1", "kubernetes work")
	if err := orch.ForceFlush(context.Background(), "s1"); err != nil {
		t.Fatalf("flush: %v", err)
	}

	orch.SetActivePlan(context.Background(), testPlan())
	state := orch.State("s1")
	group := state.Groups["group-infra"]
	if group.Verdict != "unknown" || group.Confidence != 0 || group.Source != "" {
		t.Fatalf("plan change should reset groups: %+v", group)
	}
	if state.OverallFit != 0 {
		t.Fatalf("overallFit = %d, want 0", state.OverallFit)
	}
}

func TestForceFlushPersistsAndRestores(t *testing.T) {
	tmp := t.TempDir()
	store, err := statestore.Open(context.Background(),
		config.StateStoreConfig{Path: filepath.Join(tmp, "state.db"), RetentionMode: "session"}, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.PipelineConfig{BatchWindowMS: 60_000, ContextWindow: 20, SaveDebounceMS: 60_000}
	eval := &scriptedEvaluator{results: []*evaluator.Result{{
		Groups: []evaluator.GroupResult{{GroupID: "group-infra", Verdict: "satisfied", Confidence: 80}},
	}}}
	orch := New(cfg, eval, store, &fakePublisher{}, newLogger())
	orch.SetActivePlan(context.Background(), testPlan())
	enqueue(t, orch, "s1", "kubernetes work")
	if err := orch.ForceFlush(context.Background(), "s1"); err != nil {
		t.Fatalf("flush: %v", err)
	}
	orch.Close()

	restored := New(cfg, &scriptedEvaluator{}, store, &fakePublisher{}, newLogger())
	t.Cleanup(restored.Close)
	restored.SetActivePlan(context.Background(), testPlan())
	enqueue(t, restored, "s1", "more talk")

	state := restored.State("s1")
	if state == nil {
		t.Fatal("expected restored state")
	}
	if state.Revision != 1 {
		t.Fatalf("restored revision = %d, want 1", state.Revision)
	}
	group := state.Groups["group-infra"]
	if group == nil || group.Verdict != "satisfied" || group.Confidence != 80 {
		t.Fatalf("restored group state wrong: %+v", group)
	}
}

func TestMergeHysteresis(t *testing.T) {
	base := &GroupState{ID: "g", Title: "g", Verdict: "likely", Confidence: 50, Source: "heuristic"}

	up := mergeGroup(base, evaluator.GroupResult{GroupID: "g", Verdict: "satisfied", Confidence: 90}, "heuristic")
	// increase: 50 + (90-50)*0.6 = 74
	if up.Confidence != 74 || up.Verdict != "satisfied" {
		t.Fatalf("upgrade merge: %+v", up)
	}

	down := mergeGroup(base, evaluator.GroupResult{GroupID: "g", Verdict: "needs_more", Confidence: 10}, "heuristic")
	// decrease: 50 - (50-10)*0.7 = 22
	if down.Confidence != 22 || down.Verdict != "needs_more" {
		t.Fatalf("downgrade merge: %+v", down)
	}

	neutral := mergeGroup(base, evaluator.GroupResult{GroupID: "g", Verdict: "likely", Confidence: 50}, "heuristic")
	if neutral.Confidence != 50 || neutral.Verdict != "likely" {
		t.Fatalf("neutral merge: %+v", neutral)
	}
}

func TestMergeQuotesDedupedAndCapped(t *testing.T) {
	base := &GroupState{ID: "g", Verdict: "likely", Confidence: 50, Source: "claude",
		NotableQuotes: []string{"one", "two", "three"}}
	merged := mergeGroup(base, evaluator.GroupResult{
		GroupID:       "g",
		Verdict:       "likely",
		Confidence:    50,
		NotableQuotes: []string{"two", "four", "five", "six"},
	}, "claude")
	want := []string{"one", "two", "three", "four", "five"}
	if len(merged.NotableQuotes) != len(want) {
		t.Fatalf("quotes = %v, want %v", merged.NotableQuotes, want)
	}
	for i, q := range want {
		if merged.NotableQuotes[i] != q {
			t.Fatalf("quotes = %v, want %v", merged.NotableQuotes, want)
		}
	}
}

func TestScoreToVerdictBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{0.5, "satisfied"},
		{0.45, "satisfied"},
		{0.44, "likely"},
		{0.25, "likely"},
		{0.1, "needs_more"},
		{0, "unknown"},
	}
	for _, tc := range cases {
		if got := scoreToVerdict(tc.score); got != tc.want {
			t.Fatalf("scoreToVerdict(%v) = %q, want %q", tc.score, got, tc.want)
		}
	}
}

func TestSanitizeSessionID(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"session-1", "session-1", false},
		{"  interview_2.a  ", "interview_2.a", false},
		{"a/b\\c:d", "a-b-c-d", false},
		{"", "", true},
		{"   ", "", true},
	}
	for _, tc := range cases {
		got, err := sanitizeSessionID(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("sanitizeSessionID(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("sanitizeSessionID(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestEnqueueIgnoresEmptyText(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &scriptedEvaluator{})
	if err := orch.EnqueueChunk(protocol.TranscriptFragment{SessionID: "s1", Text: "   "}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if orch.State("s1") != nil {
		t.Fatal("blank chunk should not create a session")
	}
}
