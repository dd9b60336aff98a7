// Package materializer defines the Materializer Contract (spec.md
// §4.13): rendering an AgentSpec to a human-readable text file for a
// downstream CLI host is outside the core, but the core depends on the
// contract such a renderer must honor. No concrete renderer ships here
// — only the interface, the result/validation types, and a conformance
// fake (TextMaterializer in fake.go) that materializer_test.go uses to
// exercise the contract.
package materializer

import (
	"context"
	"fmt"

	"github.com/tarsy-labs/agentharness/pkg/harness"
)

// ValidationError is one structural problem found before rendering —
// e.g. a tool name or model hint the spec references that the
// materializer's host environment does not recognize.
type ValidationError struct {
	Field   string
	Message string
}

// ValidationResult is the outcome of validating a spec before a write.
type ValidationResult struct {
	Errors []ValidationError
}

// Valid reports whether validation found no problems.
func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// InvalidSpecError is returned by Render when ValidateOnly would have
// failed — it carries the same errors so a caller that skipped the
// explicit ValidateOnly call still sees exactly what was wrong.
type InvalidSpecError struct {
	Result ValidationResult
}

func (e *InvalidSpecError) Error() string {
	if len(e.Result.Errors) == 0 {
		return "materializer: invalid spec"
	}
	first := e.Result.Errors[0]
	if len(e.Result.Errors) == 1 {
		return fmt.Sprintf("materializer: invalid spec: %s: %s", first.Field, first.Message)
	}
	return fmt.Sprintf("materializer: invalid spec: %s: %s (and %d more)", first.Field, first.Message, len(e.Result.Errors)-1)
}

// Materializer renders an AgentSpec to a human-readable artifact.
// Implementations must be:
//   - Deterministic: the same spec always produces byte-identical
//     output — no timestamps, no process-specific data.
//   - Idempotent: a write overwrites its target in place; it never
//     creates backup files or numbered variants.
//   - Validate-before-write: a failing ValidateOnly means Render must
//     also fail without touching the filesystem — callers are expected
//     to call ValidateOnly first, but Render must not skip the check
//     itself.
type Materializer interface {
	// ValidateOnly checks spec without writing anything: required
	// sections present, tool names known, model name known.
	ValidateOnly(ctx context.Context, spec harness.AgentSpec) ValidationResult

	// Render validates spec (as ValidateOnly would) and, only if valid,
	// produces the deterministic rendered bytes. A failing validation
	// returns a zero-value byte slice alongside the error — Render never
	// partially writes.
	Render(ctx context.Context, spec harness.AgentSpec) ([]byte, error)
}
