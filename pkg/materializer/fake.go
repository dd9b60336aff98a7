package materializer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tarsy-labs/agentharness/pkg/harness"
)

// knownModelHints, together with TextMaterializer.KnownTools, bounds what
// TextMaterializer accepts — a deliberately small, hand-maintained
// vocabulary standing in for the out-of-core renderer's real tool/model
// registry.
var (
	knownModelHints = map[string]bool{
		"claude": true, "gpt-4": true, "gpt-5": true, "local": true,
	}
)

// TextMaterializer is a deterministic, in-memory conformance fake for
// Materializer. It exists only to exercise the contract in tests — no
// production renderer ships in this repository (spec.md §4.13 scopes
// the actual human-readable-file renderer outside the core), following
// the teacher's agent.StubToolExecutor pattern of a canned
// test-collaborator standing in for a real out-of-process dependency.
type TextMaterializer struct {
	// KnownTools is the set of tool names TextMaterializer accepts in a
	// spec's tool policy; nil means "accept whatever the caller
	// configured" (tests set this explicitly).
	KnownTools map[string]bool
}

// NewTextMaterializer builds a fake backed by knownTools.
func NewTextMaterializer(knownTools map[string]bool) *TextMaterializer {
	return &TextMaterializer{KnownTools: knownTools}
}

func (m *TextMaterializer) ValidateOnly(_ context.Context, spec harness.AgentSpec) ValidationResult {
	var errs []ValidationError

	if strings.TrimSpace(spec.Name) == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "required"})
	}
	if strings.TrimSpace(spec.Objective) == "" {
		errs = append(errs, ValidationError{Field: "objective", Message: "required"})
	}
	if len(spec.ToolPolicy.AllowedTools) == 0 {
		errs = append(errs, ValidationError{Field: "tool_policy.allowed_tools", Message: "required"})
	}
	for _, tool := range spec.ToolPolicy.AllowedTools {
		if m.KnownTools != nil && !m.KnownTools[tool] {
			errs = append(errs, ValidationError{Field: "tool_policy.allowed_tools", Message: fmt.Sprintf("unknown tool %q", tool)})
		}
	}

	if hint, ok := spec.ToolPolicy.ToolHints["model"]; ok {
		if !knownModelHints[hint] {
			errs = append(errs, ValidationError{Field: "tool_policy.tool_hints.model", Message: fmt.Sprintf("unknown model %q", hint)})
		}
	}

	return ValidationResult{Errors: errs}
}

// Render produces deterministic plain text from spec: a fixed section
// order, sorted map keys, and no timestamps or generated ids — the same
// spec value always yields byte-identical output.
func (m *TextMaterializer) Render(ctx context.Context, spec harness.AgentSpec) ([]byte, error) {
	result := m.ValidateOnly(ctx, spec)
	if !result.Valid() {
		return nil, &InvalidSpecError{Result: result}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", spec.Name)
	if spec.DisplayName != "" {
		fmt.Fprintf(&b, "Display Name: %s\n", spec.DisplayName)
	}
	fmt.Fprintf(&b, "Task Type: %s\n\n", spec.TaskType)
	fmt.Fprintf(&b, "## Objective\n%s\n\n", spec.Objective)

	fmt.Fprintf(&b, "## Budget\nMax Turns: %d\nTimeout Seconds: %d\n\n", spec.MaxTurns, spec.TimeoutSeconds)

	b.WriteString("## Allowed Tools\n")
	tools := append([]string(nil), spec.ToolPolicy.AllowedTools...)
	sort.Strings(tools)
	for _, tool := range tools {
		fmt.Fprintf(&b, "- %s\n", tool)
	}
	b.WriteString("\n")

	if len(spec.Tags) > 0 {
		tags := append([]string(nil), spec.Tags...)
		sort.Strings(tags)
		fmt.Fprintf(&b, "## Tags\n%s\n", strings.Join(tags, ", "))
	}

	return []byte(b.String()), nil
}
