package derivation

import (
	"github.com/tarsy-labs/agentharness/pkg/harness"
)

// toolSets defines the allowed-tools list for each task type, loaded
// from tables.yaml, per spec.md §4.9 and
// _examples/original_source/tests/verify_feature_57.py: coding gets file
// edit + restricted shell + full feature tools; testing gets read +
// shell + a limited feature-tool subset (no skip/in-progress);
// documentation gets write + read-only, no Edit/Bash; audit is
// read-only everywhere including its feature tools; refactoring and
// custom mirror coding.
var toolSets = loadToolSets()

// standardForbiddenPatterns apply to every task type regardless of
// task-specific restrictions, per spec.md §4.9's "standard forbidden-
// pattern list".
var standardForbiddenPatterns = tables.StandardForbiddenPatterns

// taskSpecificForbiddenPatterns adds per-task-type restrictions on top
// of the standard set — e.g. testing tasks must not modify files.
var taskSpecificForbiddenPatterns = loadTaskSpecificForbiddenPatterns()

// taskToolHints gives the executor short advice strings per tool, keyed
// by task type, surfaced to the agent as ToolPolicy.ToolHints.
var taskToolHints = loadTaskToolHints()

// deriveToolPolicy builds the complete ToolPolicy for taskType: its
// tool set, the standard + task-specific forbidden patterns combined,
// and its tool hints.
func deriveToolPolicy(taskType harness.TaskType) harness.ToolPolicy {
	tools := toolSets[taskType]
	if tools == nil {
		tools = toolSets[harness.TaskCustom]
	}

	patterns := make([]string, 0, len(standardForbiddenPatterns)+2)
	patterns = append(patterns, standardForbiddenPatterns...)
	patterns = append(patterns, taskSpecificForbiddenPatterns[taskType]...)

	hints := map[string]string{}
	for k, v := range taskToolHints[taskType] {
		hints[k] = v
	}

	return harness.ToolPolicy{
		Version:            "v1",
		AllowedTools:       append([]string(nil), tools...),
		ForbiddenPatterns:  patterns,
		AllowedDirectories: nil,
		ToolHints:          hints,
	}
}
