package evaluator

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/fitsignal/fitsignal-core/internal/plan"
	"github.com/fitsignal/fitsignal-core/internal/protocol"
)

// resultWire tolerates the shapes models actually emit: groups as an array or
// as an object keyed by group id, confidences on a 0-1, 0-5 or 0-100 scale.
type resultWire struct {
	OverallFit float64         `json:"overallFit"`
	Groups     json.RawMessage `json:"groups"`
}

type groupWire struct {
	GroupID           string         `json:"groupId"`
	ID                string         `json:"id"`
	Verdict           string         `json:"verdict"`
	Confidence        float64        `json:"confidence"`
	Rationale         string         `json:"rationale"`
	FollowUpQuestions []string       `json:"followUpQuestions"`
	FollowUpQuestion  string         `json:"followUpQuestion"`
	NotableQuotes     []string       `json:"notableQuotes"`
	Conflicts         []conflictWire `json:"conflicts"`
}

type conflictWire struct {
	Summary           string      `json:"summary"`
	Evidence          []quoteWire `json:"evidence"`
	RecommendedAction string      `json:"recommendedAction"`
}

type quoteWire struct {
	Quote  string `json:"quote"`
	Source string `json:"source"`
}

// ParseResult decodes and normalizes a raw evaluation payload. The payload
// may be wrapped in prose or a fenced code block; only the outermost JSON
// object is considered.
func ParseResult(raw string) (*Result, error) {
	block := plan.ExtractJSONBlock(raw)

	var wire resultWire
	if err := json.Unmarshal(block, &wire); err != nil {
		return nil, fmt.Errorf("decoding evaluation payload: %w", err)
	}

	groups, err := decodeGroups(wire.Groups)
	if err != nil {
		return nil, err
	}

	scale := detectConfidenceScale(groups)
	result := &Result{
		OverallFit: clampConfidence(wire.OverallFit * scale),
		Groups:     make([]GroupResult, 0, len(groups)),
	}
	for _, g := range groups {
		id := g.GroupID
		if id == "" {
			id = g.ID
		}
		if id == "" {
			continue
		}
		followUps := g.FollowUpQuestions
		if len(followUps) == 0 && strings.TrimSpace(g.FollowUpQuestion) != "" {
			followUps = []string{strings.TrimSpace(g.FollowUpQuestion)}
		}
		result.Groups = append(result.Groups, GroupResult{
			GroupID:           id,
			Verdict:           normalizeVerdict(g.Verdict),
			Confidence:        clampConfidence(g.Confidence * scale),
			Rationale:         strings.TrimSpace(g.Rationale),
			FollowUpQuestions: followUps,
			NotableQuotes:     g.NotableQuotes,
			Conflicts:         toConflicts(g.Conflicts),
		})
	}
	return result, nil
}

// decodeGroups accepts either a JSON array of groups or an object keyed by
// group id. Map results are ordered by key so output is deterministic.
func decodeGroups(raw json.RawMessage) ([]groupWire, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var groups []groupWire
		if err := json.Unmarshal(raw, &groups); err != nil {
			return nil, fmt.Errorf("decoding group array: %w", err)
		}
		return groups, nil
	}

	var byID map[string]groupWire
	if err := json.Unmarshal(raw, &byID); err != nil {
		return nil, fmt.Errorf("decoding group map: %w", err)
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	groups := make([]groupWire, 0, len(ids))
	for _, id := range ids {
		g := byID[id]
		if g.GroupID == "" && g.ID == "" {
			g.GroupID = id
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// detectConfidenceScale infers what scale the model used. All confidences at
// or below 1 reads as 0-1, at or below 5 as a 0-5 rubric, otherwise 0-100.
func detectConfidenceScale(groups []groupWire) float64 {
	if len(groups) == 0 {
		return 1
	}
	maxSeen := 0.0
	for _, g := range groups {
		if g.Confidence > maxSeen {
			maxSeen = g.Confidence
		}
	}
	switch {
	case maxSeen <= 1:
		return 100
	case maxSeen <= 5:
		return 20
	default:
		return 1
	}
}

func clampConfidence(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(math.Round(v))
}

func normalizeVerdict(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.ReplaceAll(v, " ", "_")
	if v == "" {
		return "unknown"
	}
	return v
}

func toConflicts(wire []conflictWire) []Conflict {
	if len(wire) == 0 {
		return nil
	}
	conflicts := make([]Conflict, 0, len(wire))
	for _, c := range wire {
		if strings.TrimSpace(c.Summary) == "" {
			continue
		}
		evidence := make([]protocol.Quote, 0, len(c.Evidence))
		for _, q := range c.Evidence {
			if strings.TrimSpace(q.Quote) == "" {
				continue
			}
			evidence = append(evidence, protocol.Quote{Quote: q.Quote, Source: q.Source})
		}
		conflicts = append(conflicts, Conflict{
			Summary:           c.Summary,
			Evidence:          evidence,
			RecommendedAction: c.RecommendedAction,
		})
	}
	return conflicts
}
