// Package match indexes JD requirements for fast lexical matching of
// transcript fragments.
package match

import (
	"sort"
	"strings"

	"github.com/fitsignal/fitsignal-core/internal/plan"
)

const maxMatchedTokens = 5

// Match is one requirement hit for a fragment, scored 0..1.
type Match struct {
	ID            string
	Score         float64
	MatchedTokens []string
}

type entry struct {
	id     string
	tokens map[string]struct{}
	// ordered token list, for deterministic MatchedTokens output
	ordered []string
}

// Index holds tokenized requirements. Zero value is an empty index.
type Index struct {
	entries []entry
}

func NewIndex() *Index {
	return &Index{}
}

// Reindex replaces the indexed requirement set. Requirement order is
// preserved and used to break score ties.
func (ix *Index) Reindex(requirements []plan.Requirement) {
	entries := make([]entry, 0, len(requirements))
	for _, req := range requirements {
		parts := []string{req.Title, req.Description}
		parts = append(parts, req.Competencies...)
		tokens := Tokenize(strings.Join(parts, " "))
		if len(tokens) == 0 {
			continue
		}
		e := entry{id: req.ID, tokens: make(map[string]struct{}, len(tokens))}
		for _, token := range tokens {
			if _, dup := e.tokens[token]; dup {
				continue
			}
			e.tokens[token] = struct{}{}
			e.ordered = append(e.ordered, token)
		}
		entries = append(entries, e)
	}
	ix.entries = entries
}

// Len reports how many requirements are indexed.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// Match scores text against every indexed requirement. Score is the share of
// the requirement's own vocabulary present in the fragment, so terse
// requirements score high per hit. Zero-score requirements are omitted;
// results are sorted by descending score with requirement order breaking ties.
func (ix *Index) Match(text string) []Match {
	fragTokens := Tokenize(text)
	if len(fragTokens) == 0 || len(ix.entries) == 0 {
		return nil
	}
	fragSet := make(map[string]struct{}, len(fragTokens))
	for _, token := range fragTokens {
		fragSet[token] = struct{}{}
	}

	var matches []Match
	for _, e := range ix.entries {
		var matched []string
		for _, token := range e.ordered {
			if _, ok := fragSet[token]; ok {
				matched = append(matched, token)
			}
		}
		if len(matched) == 0 {
			continue
		}
		score := float64(len(matched)) / float64(len(e.tokens))
		if len(matched) > maxMatchedTokens {
			matched = matched[:maxMatchedTokens]
		}
		matches = append(matches, Match{ID: e.id, Score: score, MatchedTokens: matched})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// Tokenize lower-cases text and splits it into tokens of [a-z0-9+#.-] with a
// minimum length of 2.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		case r == '+' || r == '#' || r == '.' || r == '-':
			return false
		}
		return true
	})
	var tokens []string
	for _, field := range fields {
		field = strings.Trim(field, ".-")
		if len(field) < 2 {
			continue
		}
		tokens = append(tokens, field)
	}
	return tokens
}
