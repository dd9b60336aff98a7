package derivation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/agentharness/pkg/harness"
)

func TestDerive_CodingFeature(t *testing.T) {
	f := Feature{
		ID:          "57",
		Name:        "Add retry backoff to the LLM client",
		Description: "Implement exponential backoff for LLM client retries.",
		Category:    "A. Core",
		Steps: []string{
			"Run the existing client tests to confirm the current baseline",
			"Edit llm/client.go to add a backoff policy",
		},
		Priority: 2,
	}

	spec := Derive(f)

	assert.Equal(t, harness.TaskCoding, spec.TaskType)
	assert.Equal(t, "feature-57-add-retry-backoff-to-the-llm-client", spec.Name)
	assert.Equal(t, "Implement exponential backoff for LLM client retries", spec.DisplayName)
	assert.Equal(t, f.Description, spec.Objective)
	assert.Equal(t, 2, spec.Priority)
	assert.Equal(t, "57", spec.SourceFeatureID)
	assert.NotEmpty(t, spec.ID)
	assert.Equal(t, harness.GateAllPass, spec.AcceptanceSpec.GateMode)

	assert.Contains(t, spec.ToolPolicy.AllowedTools, "Edit")
	assert.Contains(t, spec.ToolPolicy.AllowedTools, "Bash")
	assert.Equal(t, "v1", spec.ToolPolicy.Version)

	// One step mentions "run" -> test_pass, plus the terminal feature_passing.
	var sawTestPass, sawFeaturePassing bool
	for _, v := range spec.AcceptanceSpec.Validators {
		switch v.Type {
		case "test_pass":
			sawTestPass = true
		case "feature_passing":
			sawFeaturePassing = true
			assert.Equal(t, "57", v.Config["feature_id"])
		}
	}
	assert.True(t, sawTestPass)
	assert.True(t, sawFeaturePassing)
}

func TestDerive_TestingCategoryForcesTaskType(t *testing.T) {
	f := Feature{
		ID:          "12",
		Name:        "Cover the budget derivation edge cases",
		Description: "Add coverage that exercises the budget bounds.",
		Category:    "B. Testing",
	}
	spec := Derive(f)
	assert.Equal(t, harness.TaskTesting, spec.TaskType)
	assert.NotContains(t, spec.ToolPolicy.AllowedTools, "Write")
	assert.NotContains(t, spec.ToolPolicy.AllowedTools, "Edit")
}

func TestDerive_DocumentationCategory(t *testing.T) {
	f := Feature{ID: "13", Name: "Write the README", Category: "C. Documentation"}
	spec := Derive(f)
	assert.Equal(t, harness.TaskDocumentation, spec.TaskType)
	assert.NotContains(t, spec.ToolPolicy.AllowedTools, "Bash")
}

func TestDerive_KeywordFallbackNoCategory(t *testing.T) {
	f := Feature{ID: "14", Name: "Review auth", Description: "Review the security posture of the auth module for vulnerabilities."}
	spec := Derive(f)
	assert.Equal(t, harness.TaskAudit, spec.TaskType)
}

func TestDerive_CustomFallbackWhenNoSignal(t *testing.T) {
	f := Feature{ID: "15", Name: "Mystery task", Description: "xyzzy plugh"}
	spec := Derive(f)
	assert.Equal(t, harness.TaskCustom, spec.TaskType)
}

func TestDeriveBudget_BaseValues(t *testing.T) {
	maxTurns, timeoutSeconds := deriveBudget(harness.TaskCoding, 50, 2)
	assert.Equal(t, 50, maxTurns)
	assert.Equal(t, 1800, timeoutSeconds)

	maxTurns, timeoutSeconds = deriveBudget(harness.TaskTesting, 50, 2)
	assert.Equal(t, 30, maxTurns)
	assert.Equal(t, 600, timeoutSeconds)
}

func TestDeriveBudget_LongDescriptionScales(t *testing.T) {
	maxTurns, timeoutSeconds := deriveBudget(harness.TaskCoding, 3000, 1)
	assert.Equal(t, 100, maxTurns) // 50 * 2.0
	assert.Equal(t, 3600, timeoutSeconds)
}

func TestDeriveBudget_ManyStepsScales(t *testing.T) {
	maxTurns, _ := deriveBudget(harness.TaskCoding, 10, 25)
	assert.Equal(t, 100, maxTurns) // 50 * 2.0
}

func TestDeriveBudget_ClampedToMax(t *testing.T) {
	maxTurns, timeoutSeconds := deriveBudget(harness.TaskCoding, 5000, 50)
	assert.LessOrEqual(t, maxTurns, 150)
	assert.LessOrEqual(t, timeoutSeconds, 7200)
}

func TestDeriveBudget_ClampedToMin(t *testing.T) {
	maxTurns, timeoutSeconds := deriveBudget(harness.TaskDocumentation, 0, 0)
	assert.GreaterOrEqual(t, maxTurns, 5)
	assert.GreaterOrEqual(t, timeoutSeconds, 120)
}

func TestDeriveBudget_UnknownTaskTypeFallsBackToCustom(t *testing.T) {
	maxTurns, timeoutSeconds := deriveBudget(harness.TaskType("bogus"), 10, 2)
	wantTurns, wantTimeout := deriveBudget(harness.TaskCustom, 10, 2)
	assert.Equal(t, wantTurns, maxTurns)
	assert.Equal(t, wantTimeout, timeoutSeconds)
}

func TestInferValidators(t *testing.T) {
	steps := []string{
		"Run the linter across pkg/derivation",
		"Update config.yaml with the new threshold",
		"The agent should not delete existing fixtures",
		"Think about naming",
	}
	validators := inferValidators(steps)

	var types []string
	for _, v := range validators {
		types = append(types, v.Type)
	}

	assert.Contains(t, types, "test_pass")
	assert.Contains(t, types, "file_exists")
	assert.Contains(t, types, "forbidden_patterns")

	// "pkg/derivation" (a slash) and "config.yaml" (an extension) both
	// read as path hints.
	var paths []any
	for _, v := range validators {
		if v.Type == "file_exists" {
			paths = append(paths, v.Config["path"])
		}
	}
	assert.Equal(t, []any{"pkg/derivation", "config.yaml"}, paths)
}

func TestInferValidators_NoSignalsProducesNoValidators(t *testing.T) {
	validators := inferValidators([]string{"Think carefully about naming"})
	assert.Empty(t, validators)
}

func TestSlugify(t *testing.T) {
	require.Equal(t, "add-retry-backoff", slugify("Add Retry!! Backoff"))
	require.Equal(t, "already-slug", slugify("already-slug"))
}

func TestDeriveDisplayName_TruncatesLongFirstSentence(t *testing.T) {
	long := strings.Repeat("a", 150) + ". Second sentence."
	name := deriveDisplayName(long)
	runes := []rune(name)
	assert.LessOrEqual(t, len(runes), 100)
	assert.True(t, strings.HasSuffix(name, "…"))
}

func TestDeriveDisplayName_ShortDescriptionUnchanged(t *testing.T) {
	assert.Equal(t, "Fix the bug", deriveDisplayName("Fix the bug. It was subtle."))
}
