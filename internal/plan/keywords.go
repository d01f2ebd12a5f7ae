package plan

import "strings"

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields("the and a an or of in on for to with we our their that this these those by from at as be is are was were will can may might should could have has had into about across within without over under after before while when where who whom which what why how i me my you your they them it its us") {
		stopWords[w] = struct{}{}
	}
}

// BuildMeta derives the heuristic keyword vocabulary for each group in the
// plan. Keywords come from the title, criteria, and success/risk signals,
// lower-cased, stop words removed.
func BuildMeta(p *Plan) map[string]GroupMeta {
	meta := make(map[string]GroupMeta)
	if p == nil {
		return meta
	}
	for _, group := range p.Groups {
		parts := []string{group.Title}
		parts = append(parts, group.Criteria...)
		parts = append(parts, group.SuccessSignals...)
		parts = append(parts, group.RiskSignals...)
		corpus := strings.Join(parts, " ")

		importance := MustHave
		if group.Importance == NiceToHave {
			importance = NiceToHave
		}

		fallback := group.SuccessSummary
		if fallback == "" && len(group.Criteria) > 0 {
			fallback = group.Criteria[0]
		}
		if fallback == "" {
			fallback = group.Title
		}

		meta[group.ID] = GroupMeta{
			ID:                group.ID,
			Title:             group.Title,
			Importance:        importance,
			Keywords:          ExtractKeywords(corpus),
			ProbingQuestions:  append([]string(nil), group.ProbingQuestions...),
			FallbackRationale: fallback,
		}
	}
	return meta
}

// ExtractKeywords lower-cases text, splits on anything outside [a-z0-9+#.],
// and drops short tokens and stop words.
func ExtractKeywords(text string) []string {
	if text == "" {
		return nil
	}
	var keywords []string
	for _, token := range splitTokens(strings.ToLower(text)) {
		token = strings.Trim(token, ".")
		if len(token) <= 2 {
			continue
		}
		if _, stop := stopWords[token]; stop {
			continue
		}
		keywords = append(keywords, token)
	}
	return keywords
}

func splitTokens(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		case r == '+' || r == '#' || r == '.':
			return false
		}
		return true
	})
}
