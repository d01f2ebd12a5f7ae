package match

import (
	"testing"

	"github.com/fitsignal/fitsignal-core/internal/plan"
)

func testRequirements() []plan.Requirement {
	return []plan.Requirement{
		{ID: "sql", Title: "SQL expertise", Description: "joins indexes query tuning"},
		{ID: "go", Title: "Go services", Description: "concurrent backend services in go"},
		{ID: "k8s", Title: "Kubernetes", Description: "kubernetes cluster operations"},
	}
}

func TestMatchNoOverlapReturnsEmpty(t *testing.T) {
	ix := NewIndex()
	ix.Reindex(testRequirements())

	if got := ix.Match("the weather is lovely today"); len(got) != 0 {
		t.Fatalf("expected no matches, got %+v", got)
	}
}

func TestMatchEmptyInput(t *testing.T) {
	ix := NewIndex()
	ix.Reindex(testRequirements())
	if got := ix.Match(""); got != nil {
		t.Fatalf("expected nil for empty text, got %+v", got)
	}
	empty := NewIndex()
	if got := empty.Match("sql joins"); got != nil {
		t.Fatalf("expected nil for empty index, got %+v", got)
	}
}

func TestMatchScoresRecallAgainstRequirementVocabulary(t *testing.T) {
	ix := NewIndex()
	ix.Reindex([]plan.Requirement{
		{ID: "short", Title: "SQL"},
		{ID: "long", Title: "SQL", Description: "joins indexes tuning partitioning replication"},
	})

	matches := ix.Match("we used sql heavily")
	if len(matches) != 2 {
		t.Fatalf("expected both requirements to match, got %+v", matches)
	}
	// The terse requirement's full vocabulary was hit, so it ranks first.
	if matches[0].ID != "short" || matches[0].Score != 1.0 {
		t.Fatalf("expected short requirement first with score 1.0, got %+v", matches[0])
	}
	if matches[1].Score >= matches[0].Score {
		t.Fatalf("expected long requirement to score lower, got %+v", matches[1])
	}
}

func TestMatchTieBreakPreservesRequirementOrder(t *testing.T) {
	ix := NewIndex()
	ix.Reindex([]plan.Requirement{
		{ID: "first", Title: "terraform"},
		{ID: "second", Title: "terraform"},
	})

	matches := ix.Match("terraform modules everywhere")
	if len(matches) != 2 {
		t.Fatalf("expected two matches, got %+v", matches)
	}
	if matches[0].ID != "first" || matches[1].ID != "second" {
		t.Fatalf("tie should preserve requirement order, got %+v", matches)
	}
}

func TestMatchedTokensCapped(t *testing.T) {
	ix := NewIndex()
	ix.Reindex([]plan.Requirement{{
		ID:          "wide",
		Title:       "alpha beta gamma delta epsilon zeta eta",
		Description: "",
	}})

	matches := ix.Match("alpha beta gamma delta epsilon zeta eta")
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %+v", matches)
	}
	if len(matches[0].MatchedTokens) != 5 {
		t.Fatalf("expected matched tokens capped at 5, got %v", matches[0].MatchedTokens)
	}
	if matches[0].Score != 1.0 {
		t.Fatalf("cap must not affect score, got %v", matches[0].Score)
	}
}

func TestTokenize(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Hello, World!", []string{"hello", "world"}},
		{"C++ and c# and node.js", []string{"c++", "and", "c#", "and", "node.js"}},
		{"a I x", nil},
		{"mostly joins and indexes.", []string{"mostly", "joins", "and", "indexes"}},
	}
	for _, tc := range cases {
		got := Tokenize(tc.in)
		if len(got) != len(tc.want) {
			t.Fatalf("Tokenize(%q) = %v, want %v", tc.in, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("Tokenize(%q) = %v, want %v", tc.in, got, tc.want)
			}
		}
	}
}
