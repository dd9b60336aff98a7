// Package specvalidate implements the Spec Validator (spec.md §4.10):
// structural and bounds checking of an AgentSpec before the Harness
// Kernel ever sees it. Follows pkg/config/validator.go's sectioned
// validate* shape, but aggregates every finding into one result instead
// of failing fast on the first error, matching
// pkg/services/errors.go's ValidationError shape.
package specvalidate

import (
	"fmt"
	"regexp"

	"github.com/tarsy-labs/agentharness/pkg/acceptance"
	"github.com/tarsy-labs/agentharness/pkg/harness"
)

// ValidationError is one field-scoped validation finding.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Result is the full outcome of validating one AgentSpec.
type Result struct {
	Errors []ValidationError `json:"errors"`
}

// IsValid reports whether the spec had no validation errors.
func (r Result) IsValid() bool {
	return len(r.Errors) == 0
}

// SpecValidationError is returned by ValidateOrRaise when a spec fails
// validation; it carries every finding rather than just the first.
type SpecValidationError struct {
	Errors []ValidationError
}

func (e *SpecValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "spec validation failed"
	}
	return fmt.Sprintf("spec validation failed: %s (and %d more)", e.Errors[0].Error(), len(e.Errors)-1)
}

// Bounds for max_turns/timeout_seconds, matching the clamp bounds Spec
// Derivation (pkg/derivation) enforces on its own output, since both
// components reference the same "[MIN, MAX]" from spec.md §4.9/§4.10.
const (
	MinMaxTurns       = 5
	MaxMaxTurns       = 150
	MinTimeoutSeconds = 120
	MaxTimeoutSeconds = 7200
)

// namePattern enforces spec.md §3's "lowercase, hyphenated" name shape.
var namePattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Validator validates AgentSpecs against structural and bounds rules.
// A Validator is bound to an acceptance.Registry so it can check that
// every acceptance-spec validator references a known type.
type Validator struct {
	registry *acceptance.Registry
}

// New builds a Validator. A nil registry falls back to
// acceptance.NewRegistry()'s built-in set.
func New(registry *acceptance.Registry) *Validator {
	if registry == nil {
		registry = acceptance.NewRegistry()
	}
	return &Validator{registry: registry}
}

// Validate runs every check against spec and returns the aggregated
// result — it never stops at the first error.
func (v *Validator) Validate(spec harness.AgentSpec) Result {
	var errs []ValidationError

	errs = append(errs, v.validateRequiredFields(spec)...)
	errs = append(errs, v.validateName(spec)...)
	errs = append(errs, v.validateTaskType(spec)...)
	errs = append(errs, v.validateToolPolicy(spec)...)
	errs = append(errs, v.validateBudgets(spec)...)
	errs = append(errs, v.validateAcceptanceSpec(spec)...)

	return Result{Errors: errs}
}

// ValidateOrRaise runs Validate and returns a *SpecValidationError when
// the result is invalid, nil otherwise — for callers that want to treat
// an invalid spec as a Go error rather than inspect the Result.
func (v *Validator) ValidateOrRaise(spec harness.AgentSpec) error {
	result := v.Validate(spec)
	if result.IsValid() {
		return nil
	}
	return &SpecValidationError{Errors: result.Errors}
}

func (v *Validator) validateRequiredFields(spec harness.AgentSpec) []ValidationError {
	var errs []ValidationError
	if spec.Name == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "is required"})
	}
	if spec.Objective == "" {
		errs = append(errs, ValidationError{Field: "objective", Message: "is required"})
	}
	if spec.TaskType == "" {
		errs = append(errs, ValidationError{Field: "task_type", Message: "is required"})
	}
	return errs
}

func (v *Validator) validateName(spec harness.AgentSpec) []ValidationError {
	if spec.Name == "" {
		return nil // already reported by validateRequiredFields
	}
	if !namePattern.MatchString(spec.Name) {
		return []ValidationError{{
			Field:   "name",
			Message: fmt.Sprintf("must be lowercase and hyphenated (matching %s), got %q", namePattern.String(), spec.Name),
		}}
	}
	return nil
}

func (v *Validator) validateTaskType(spec harness.AgentSpec) []ValidationError {
	if spec.TaskType == "" {
		return nil
	}
	if !harness.ValidTaskTypes[spec.TaskType] {
		return []ValidationError{{
			Field:   "task_type",
			Message: fmt.Sprintf("%q is not a recognized task type", spec.TaskType),
		}}
	}
	return nil
}

func (v *Validator) validateToolPolicy(spec harness.AgentSpec) []ValidationError {
	var errs []ValidationError
	tp := spec.ToolPolicy
	if tp.Version == "" {
		errs = append(errs, ValidationError{Field: "tool_policy.policy_version", Message: "is required"})
	}
	if len(tp.AllowedTools) == 0 {
		errs = append(errs, ValidationError{Field: "tool_policy.allowed_tools", Message: "must list at least one tool"})
	}
	for _, pattern := range tp.ForbiddenPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, ValidationError{
				Field:   "tool_policy.forbidden_patterns",
				Message: fmt.Sprintf("invalid regex %q: %v", pattern, err),
			})
		}
	}
	return errs
}

func (v *Validator) validateBudgets(spec harness.AgentSpec) []ValidationError {
	var errs []ValidationError
	if spec.MaxTurns < MinMaxTurns || spec.MaxTurns > MaxMaxTurns {
		errs = append(errs, ValidationError{
			Field:   "max_turns",
			Message: fmt.Sprintf("must be between %d and %d, got %d", MinMaxTurns, MaxMaxTurns, spec.MaxTurns),
		})
	}
	if spec.TimeoutSeconds < MinTimeoutSeconds || spec.TimeoutSeconds > MaxTimeoutSeconds {
		errs = append(errs, ValidationError{
			Field:   "timeout_seconds",
			Message: fmt.Sprintf("must be between %d and %d, got %d", MinTimeoutSeconds, MaxTimeoutSeconds, spec.TimeoutSeconds),
		})
	}
	return errs
}

func (v *Validator) validateAcceptanceSpec(spec harness.AgentSpec) []ValidationError {
	var errs []ValidationError

	if len(spec.AcceptanceSpec.Validators) == 0 {
		errs = append(errs, ValidationError{
			Field:   "acceptance_spec.validators",
			Message: "must declare at least one validator",
		})
	}

	knownTypes := v.registry.Names()
	for i, vr := range spec.AcceptanceSpec.Validators {
		if vr.Type == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("acceptance_spec.validators[%d].type", i),
				Message: "is required",
			})
			continue
		}
		if !knownTypes[vr.Type] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("acceptance_spec.validators[%d].type", i),
				Message: fmt.Sprintf("%q is not a registered validator type", vr.Type),
			})
		}
	}

	switch spec.AcceptanceSpec.GateMode {
	case harness.GateAllPass, harness.GateAnyPass, harness.GateWeighted:
	case "":
		errs = append(errs, ValidationError{Field: "acceptance_spec.gate_mode", Message: "is required"})
	default:
		errs = append(errs, ValidationError{
			Field:   "acceptance_spec.gate_mode",
			Message: fmt.Sprintf("%q is not a recognized gate mode", spec.AcceptanceSpec.GateMode),
		})
	}

	return errs
}
