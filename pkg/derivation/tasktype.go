package derivation

import (
	"strings"

	"github.com/tarsy-labs/agentharness/pkg/harness"
)

// classifyByCategory maps a feature category to a task type, per
// spec.md §4.9: "categories starting with 'B.' or containing 'Testing'
// -> testing; 'C.' or 'Documentation' -> documentation; 'Audit'/
// 'Security'/'Review' -> audit; default -> coding". Checked in order;
// the first match wins.
func classifyByCategory(category string) (taskType string, matched bool) {
	if category == "" {
		return "", false
	}
	switch {
	case strings.HasPrefix(category, "B.") || strings.Contains(category, "Testing"):
		return "testing", true
	case strings.HasPrefix(category, "C.") || strings.Contains(category, "Documentation"):
		return "documentation", true
	case containsAny(category, "Audit", "Security", "Review"):
		return "audit", true
	default:
		return "coding", true
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// keywordSets drives task-type detection from description text when no
// category is supplied, per spec.md §4.9.
var keywordSets = map[string][]string{
	"coding":        {"implement", "create", "build", "add feature"},
	"testing":       {"test", "verify", "check", "validate"},
	"refactoring":   {"refactor", "clean up", "optimize", "simplify"},
	"documentation": {"document", "readme", "comments"},
	"audit":         {"review", "security", "vulnerability"},
}

// priorityOrder breaks keyword-score ties in a fixed, declared order.
var priorityOrder = []string{"coding", "testing", "refactoring", "documentation", "audit"}

// scoreTaskType counts keyword hits per task type within description.
func scoreTaskType(description string) map[string]int {
	lower := strings.ToLower(description)
	scores := make(map[string]int, len(keywordSets))
	for taskType, keywords := range keywordSets {
		count := 0
		for _, kw := range keywords {
			count += strings.Count(lower, kw)
		}
		scores[taskType] = count
	}
	return scores
}

// detectTaskType implements spec.md §4.9's full task-type derivation:
// category prefix first, then keyword scoring, defaulting to "custom"
// when every score is zero.
func detectTaskType(category, description string) harness.TaskType {
	if tt, ok := classifyByCategory(category); ok {
		return harness.TaskType(tt)
	}

	scores := scoreTaskType(description)
	best := ""
	bestScore := 0
	for _, taskType := range priorityOrder {
		if scores[taskType] > bestScore {
			best = taskType
			bestScore = scores[taskType]
		}
	}
	if bestScore == 0 {
		return harness.TaskCustom
	}
	return harness.TaskType(best)
}
