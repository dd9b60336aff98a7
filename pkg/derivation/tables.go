package derivation

import (
	_ "embed"

	"gopkg.in/yaml.v3"

	"github.com/tarsy-labs/agentharness/pkg/harness"
)

//go:embed tables.yaml
var tablesYAML []byte

type budgetYAML struct {
	MaxTurns       int `yaml:"max_turns"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type tierYAML struct {
	Length     int     `yaml:"length"`
	Count      int     `yaml:"count"`
	Multiplier float64 `yaml:"multiplier"`
}

type toolSetYAML struct {
	Tools        []string `yaml:"tools"`
	FeatureTools []string `yaml:"feature_tools"`
}

type tablesFile struct {
	BaseBudgets map[string]budgetYAML `yaml:"base_budgets"`
	BudgetBounds struct {
		Min budgetYAML `yaml:"min"`
		Max budgetYAML `yaml:"max"`
	} `yaml:"budget_bounds"`
	DescriptionLengthTiers []tierYAML                  `yaml:"description_length_tiers"`
	StepsCountTiers         []tierYAML                  `yaml:"steps_count_tiers"`
	ToolSets                map[string]toolSetYAML      `yaml:"tool_sets"`
	StandardForbiddenPatterns []string                  `yaml:"standard_forbidden_patterns"`
	TaskSpecificForbiddenPatterns map[string][]string    `yaml:"task_specific_forbidden_patterns"`
	TaskToolHints           map[string]map[string]string `yaml:"task_tool_hints"`
}

// tables holds the parsed derivation policy/budget tables, loaded once
// from the embedded tables.yaml via gopkg.in/yaml.v3 so the task-type
// policy and budget data lives as data, not Go literals (spec.md §4.9;
// see SPEC_FULL.md §4A's domain-stack entry for yaml.v3). Declared as a
// var initializer rather than populated from an init() func so that the
// package-level vars derived from it (baseBudgets, toolSets, ...) are
// ordered after it by Go's initialization dependency analysis.
var tables = mustParseTables()

func mustParseTables() tablesFile {
	var t tablesFile
	if err := yaml.Unmarshal(tablesYAML, &t); err != nil {
		panic("pkg/derivation: invalid tables.yaml: " + err.Error())
	}
	return t
}

func toBudget(b budgetYAML) budget {
	return budget{MaxTurns: b.MaxTurns, TimeoutSeconds: b.TimeoutSeconds}
}

func loadBaseBudgets() map[harness.TaskType]budget {
	out := make(map[harness.TaskType]budget, len(tables.BaseBudgets))
	for taskType, b := range tables.BaseBudgets {
		out[harness.TaskType(taskType)] = toBudget(b)
	}
	return out
}

func loadDescriptionLengthThresholds() []struct {
	Length     int
	Multiplier float64
} {
	out := make([]struct {
		Length     int
		Multiplier float64
	}, len(tables.DescriptionLengthTiers))
	for i, tier := range tables.DescriptionLengthTiers {
		out[i] = struct {
			Length     int
			Multiplier float64
		}{Length: tier.Length, Multiplier: tier.Multiplier}
	}
	return out
}

func loadStepsCountThresholds() []struct {
	Count      int
	Multiplier float64
} {
	out := make([]struct {
		Count      int
		Multiplier float64
	}, len(tables.StepsCountTiers))
	for i, tier := range tables.StepsCountTiers {
		out[i] = struct {
			Count      int
			Multiplier float64
		}{Count: tier.Count, Multiplier: tier.Multiplier}
	}
	return out
}

func loadToolSets() map[harness.TaskType][]string {
	out := make(map[harness.TaskType][]string, len(tables.ToolSets))
	for taskType, ts := range tables.ToolSets {
		combined := make([]string, 0, len(ts.Tools)+len(ts.FeatureTools))
		combined = append(combined, ts.Tools...)
		combined = append(combined, ts.FeatureTools...)
		out[harness.TaskType(taskType)] = combined
	}
	return out
}

func loadTaskSpecificForbiddenPatterns() map[harness.TaskType][]string {
	out := make(map[harness.TaskType][]string, len(tables.TaskSpecificForbiddenPatterns))
	for taskType, patterns := range tables.TaskSpecificForbiddenPatterns {
		out[harness.TaskType(taskType)] = patterns
	}
	return out
}

func loadTaskToolHints() map[harness.TaskType]map[string]string {
	out := make(map[harness.TaskType]map[string]string, len(tables.TaskToolHints))
	for taskType, hints := range tables.TaskToolHints {
		out[harness.TaskType(taskType)] = hints
	}
	return out
}
