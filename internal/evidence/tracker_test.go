package evidence

import (
	"fmt"
	"testing"
	"time"

	"github.com/fitsignal/fitsignal-core/internal/plan"
	"github.com/fitsignal/fitsignal-core/internal/protocol"
)

func newTracker() *Tracker {
	t := NewTracker(5)
	t.SetRequirements([]plan.Requirement{
		{ID: "sql", Title: "SQL", Description: "joins indexes tuning"},
		{ID: "go", Title: "Go", Description: "golang backend services"},
	})
	return t
}

func frag(session, text string) protocol.TranscriptFragment {
	return protocol.TranscriptFragment{
		ChunkID:   "chunk-1",
		SessionID: session,
		Source:    protocol.SourceMicrophone,
		Text:      text,
		Timestamp: time.Now(),
	}
}

func TestRecordFragmentNoMatchIsNoOp(t *testing.T) {
	tr := newTracker()

	if touched := tr.RecordFragment(frag("s1", "the weather was miserable")); len(touched) != 0 {
		t.Fatalf("expected no touched requirements, got %v", touched)
	}
	if snap := tr.Snapshot("s1"); len(snap) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestRecordFragmentMissingFieldsDropped(t *testing.T) {
	tr := newTracker()
	if touched := tr.RecordFragment(protocol.TranscriptFragment{SessionID: "s1"}); touched != nil {
		t.Fatalf("fragment without text must be a no-op, got %v", touched)
	}
	if touched := tr.RecordFragment(protocol.TranscriptFragment{Text: "sql"}); touched != nil {
		t.Fatalf("fragment without session must be a no-op, got %v", touched)
	}
}

func TestRecordFragmentUpdatesState(t *testing.T) {
	tr := newTracker()

	touched := tr.RecordFragment(frag("s1", "we used sql joins and indexes daily"))
	if len(touched) == 0 || touched[0] != "sql" {
		t.Fatalf("expected sql requirement touched, got %v", touched)
	}

	state := tr.Snapshot("s1")["sql"]
	if state.Observations != 1 {
		t.Fatalf("expected 1 observation, got %d", state.Observations)
	}
	if state.TopScore <= 0 {
		t.Fatalf("expected positive top score, got %v", state.TopScore)
	}
	if state.Confidence <= 0 || state.Confidence > 100 {
		t.Fatalf("confidence out of range: %d", state.Confidence)
	}
	if len(state.Evidence) != 1 {
		t.Fatalf("expected one snippet, got %d", len(state.Evidence))
	}
}

func TestConfidenceBlendIsSixtyForty(t *testing.T) {
	tr := NewTracker(5)
	tr.SetRequirements([]plan.Requirement{{ID: "sql", Title: "sql"}})

	// Full-vocabulary hit: 0.6*100 + 0.4*0 = 60.
	tr.RecordFragment(frag("s1", "sql"))
	if got := tr.Snapshot("s1")["sql"].Confidence; got != 60 {
		t.Fatalf("expected confidence 60 after first hit, got %d", got)
	}
	// Second identical hit: 0.6*100 + 0.4*60 = 84.
	tr.RecordFragment(frag("s1", "sql"))
	if got := tr.Snapshot("s1")["sql"].Confidence; got != 84 {
		t.Fatalf("expected confidence 84 after second hit, got %d", got)
	}
	if got := tr.Snapshot("s1")["sql"].Status; got != StatusConfirmed {
		t.Fatalf("expected confirmed status, got %s", got)
	}
}

func TestConfidenceStaysInRange(t *testing.T) {
	tr := NewTracker(5)
	tr.SetRequirements([]plan.Requirement{{ID: "sql", Title: "sql"}})

	for i := 0; i < 50; i++ {
		tr.RecordFragment(frag("s1", "sql sql sql"))
	}
	got := tr.Snapshot("s1")["sql"].Confidence
	if got < 0 || got > 100 {
		t.Fatalf("confidence escaped [0,100]: %d", got)
	}
}

func TestEvidenceRingBounded(t *testing.T) {
	tr := NewTracker(5)
	tr.SetRequirements([]plan.Requirement{{ID: "sql", Title: "sql"}})

	for i := 0; i < 10; i++ {
		tr.RecordFragment(frag("s1", fmt.Sprintf("sql mention %d", i)))
	}
	state := tr.Snapshot("s1")["sql"]
	if len(state.Evidence) != 6 {
		t.Fatalf("expected 6 retained snippets, got %d", len(state.Evidence))
	}
	// Oldest entries evicted first.
	if state.Evidence[0].Text != "sql mention 4" {
		t.Fatalf("expected FIFO eviction, first retained = %q", state.Evidence[0].Text)
	}
	if state.Observations != 10 {
		t.Fatalf("observation counter must keep counting, got %d", state.Observations)
	}
}

func TestSetRequirementsResetsSessions(t *testing.T) {
	tr := newTracker()
	tr.RecordFragment(frag("s1", "sql joins"))
	tr.SetRequirements([]plan.Requirement{{ID: "rust", Title: "Rust"}})
	if snap := tr.Snapshot("s1"); len(snap) != 0 {
		t.Fatalf("expected sessions cleared after reindex, got %+v", snap)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	tr := newTracker()
	tr.RecordFragment(frag("s1", "sql joins"))
	if snap := tr.Snapshot("s2"); len(snap) != 0 {
		t.Fatalf("expected s2 untouched, got %+v", snap)
	}
}
