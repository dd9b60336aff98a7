package derivation

import (
	"strings"

	"github.com/tarsy-labs/agentharness/pkg/harness"
)

// pathHintPattern matches a step that names a file or path — a slash, a
// dotted extension, or a bare filename token — loosely enough to catch
// "update config.yaml" and "edit src/main.go" without a full grammar.
var pathHintPattern = []string{"/", ".go", ".py", ".yaml", ".yml", ".json", ".md", ".txt"}

// inferValidators walks each step description and infers zero or more
// per-step acceptance validators, per spec.md §4.9: a step that reads as
// an execution ("run"/"execute") implies a test_pass validator; a step
// naming a file or path implies a file_exists validator; a step phrased
// as a negative constraint ("should not"/"must not") implies a
// forbidden_patterns validator. A step can trigger more than one rule;
// the terminal feature_passing validator is added separately by Derive.
func inferValidators(steps []string) []harness.ValidatorRecord {
	var out []harness.ValidatorRecord
	for i, step := range steps {
		lower := strings.ToLower(step)

		if strings.Contains(lower, "run") || strings.Contains(lower, "execute") {
			out = append(out, harness.ValidatorRecord{
				Type:     "test_pass",
				Config:   map[string]any{"step_index": i},
				Required: true,
			})
		}

		if path, ok := extractPathHint(step); ok {
			out = append(out, harness.ValidatorRecord{
				Type:     "file_exists",
				Config:   map[string]any{"step_index": i, "path": path},
				Required: true,
			})
		}

		if strings.Contains(lower, "should not") || strings.Contains(lower, "must not") {
			out = append(out, harness.ValidatorRecord{
				Type:     "forbidden_patterns",
				Config:   map[string]any{"step_index": i, "description": step},
				Required: true,
			})
		}
	}
	return out
}

// extractPathHint returns the first whitespace-delimited token in step
// that looks like a file or path reference.
func extractPathHint(step string) (string, bool) {
	for _, token := range strings.Fields(step) {
		trimmed := strings.Trim(token, `"'.,:;()`)
		for _, hint := range pathHintPattern {
			if strings.Contains(trimmed, hint) {
				return trimmed, true
			}
		}
	}
	return "", false
}
