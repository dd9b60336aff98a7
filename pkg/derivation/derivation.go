// Package derivation implements Spec Derivation (spec.md §4.9): a pure
// transform from a human-authored Feature record into a fully populated
// harness.AgentSpec — task type, tool policy, budgets, and acceptance
// validators, all table-driven rather than scattered conditionals,
// following the teacher's config.ChainConfig/config.StageAgentConfig
// registries (pkg/config/chain.go, pkg/config/agent.go).
package derivation

import (
	"time"

	"github.com/tarsy-labs/agentharness/pkg/harness"
)

// Feature is the input record a planner or CLI hands to Derive. It
// mirrors the fields spec.md §4.9 names explicitly.
type Feature struct {
	ID          string
	Name        string
	Description string
	Category    string
	Steps       []string
	Priority    int
}

// Derive maps f into a complete AgentSpec. Pure function: same input
// always produces the same spec shape (the only non-deterministic field
// is CreatedAt/ID, which a caller persisting the spec may overwrite).
func Derive(f Feature) harness.AgentSpec {
	taskType := detectTaskType(f.Category, f.Description)
	toolPolicy := deriveToolPolicy(taskType)
	maxTurns, timeoutSeconds := deriveBudget(taskType, len(f.Description), len(f.Steps))

	validators := inferValidators(f.Steps)
	validators = append(validators, harness.ValidatorRecord{
		Type:     "feature_passing",
		Config:   map[string]any{"feature_id": f.ID},
		Required: true,
	})

	return harness.AgentSpec{
		ID:          harness.NewSpecID(),
		Name:        specName(f.ID, f.Name),
		DisplayName: deriveDisplayName(f.Description),
		Objective:   f.Description,
		TaskType:    taskType,
		ToolPolicy:  toolPolicy,
		MaxTurns:    maxTurns,
		TimeoutSeconds: timeoutSeconds,
		AcceptanceSpec: harness.AcceptanceSpec{
			Validators: validators,
			GateMode:   harness.GateAllPass,
		},
		Context:         map[string]any{"source_type": "feature"},
		Priority:        f.Priority,
		SourceFeatureID: f.ID,
		CreatedAt:       time.Now().UTC(),
	}
}

// specName builds "feature-<id>-<slug(name)>" per spec.md §4.9.
func specName(id, name string) string {
	return "feature-" + id + "-" + slugify(name)
}
