package plan

import (
	"fmt"
	"strings"
)

const maxHeuristicRequirements = 20

var mustHaveMarkers = []string{"must", "required", "require", "essential", "proven", "expert"}
var niceToHaveMarkers = []string{"nice to have", "nice-to-have", "preferred", "bonus", "a plus", "plus:", "desirable"}

// ExtractRequirementsHeuristic produces a best-effort requirement list from
// raw JD text when the extraction service is unavailable. It scans bullet and
// sentence-like lines, classifies must-have vs nice-to-have from marker
// phrases, and seeds one probing question per requirement.
func ExtractRequirementsHeuristic(jdText string) []Requirement {
	var requirements []Requirement
	seen := make(map[string]struct{})

	for _, line := range strings.Split(jdText, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*•·∙‣ \t")
		line = trimOrdinalPrefix(line)
		if len(line) < 8 {
			continue
		}
		if strings.HasSuffix(line, ":") {
			// Section heading, not a criterion.
			continue
		}
		keywords := ExtractKeywords(line)
		if len(keywords) < 2 {
			continue
		}
		title := line
		if len(title) > 80 {
			title = strings.TrimSpace(title[:80])
		}
		if _, dup := seen[strings.ToLower(title)]; dup {
			continue
		}
		seen[strings.ToLower(title)] = struct{}{}

		lower := strings.ToLower(line)
		nice := containsAny(lower, niceToHaveMarkers)
		must := !nice && containsAny(lower, mustHaveMarkers)

		priority := PriorityMedium
		if must {
			priority = PriorityHigh
		} else if nice {
			priority = PriorityLow
		}

		competencies := keywords
		if len(competencies) > 5 {
			competencies = competencies[:5]
		}

		requirements = append(requirements, Requirement{
			ID:           fmt.Sprintf("req-%d", len(requirements)+1),
			Title:        title,
			Description:  line,
			Priority:     priority,
			Competencies: competencies,
			MustHave:     must,
			NiceToHave:   nice,
			ProbingQuestions: []string{
				fmt.Sprintf("Can you walk me through your experience with %s?", competencies[0]),
			},
		})
		if len(requirements) >= maxHeuristicRequirements {
			break
		}
	}
	return requirements
}

func trimOrdinalPrefix(line string) string {
	trimmed := strings.TrimLeft(line, "0123456789")
	if trimmed != line {
		trimmed = strings.TrimLeft(trimmed, ".) ")
		return trimmed
	}
	return line
}

func containsAny(text string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
