// Package acceptance implements the Acceptance Gate: a pluggable set of
// validators evaluated against final (or partial, on timeout/failure)
// run state, combined into one verdict per the spec's gate_mode.
package acceptance

import (
	"context"
	"fmt"

	"github.com/tarsy-labs/agentharness/pkg/harness"
)

// Status is one validator's outcome.
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
	StatusError  Status = "error"
)

// Result is one validator's recorded outcome.
type Result struct {
	Name     string
	Status   Status
	Detail   string
	Required bool
	Weight   float64
}

// Env is the context a validator runs in: the project directory the run
// operated on. Relative paths in validator config resolve against it.
type Env struct {
	ProjectDir string
}

// Validator is implemented by one acceptance check type. Registered by
// name in a Registry and driven from a spec's AcceptanceSpec.
type Validator interface {
	// Validate runs the check and returns its outcome. An error return
	// means the check itself could not run (command not found, bad
	// config) — distinct from the check running and finding a failure.
	Validate(ctx context.Context, env Env, config map[string]any) (passed bool, detail string, err error)
}

// Registry resolves validator type names to implementations.
type Registry struct {
	validators map[string]Validator
}

// NewRegistry builds a registry pre-populated with the built-in validator
// set (spec.md §4.6's minimum set).
func NewRegistry() *Registry {
	r := &Registry{validators: map[string]Validator{}}
	r.Register("file_exists", fileExistsValidator{})
	r.Register("test_pass", commandValidator{})
	r.Register("lint_clean", commandValidator{})
	r.Register("forbidden_patterns", forbiddenPatternsValidator{})
	r.Register("feature_passing", featurePassingValidator{})
	r.Register("feature_count", featureCountValidator{})
	return r
}

// Register adds or replaces the validator implementation for typeName.
func (r *Registry) Register(typeName string, v Validator) {
	r.validators[typeName] = v
}

// Names returns every registered validator type name, for the Spec
// Validator's "acceptance-spec validators reference known types" check.
func (r *Registry) Names() map[string]bool {
	out := make(map[string]bool, len(r.validators))
	for name := range r.validators {
		out[name] = true
	}
	return out
}

// Gate evaluates an AcceptanceSpec against Env using a Registry, combining
// individual validator outcomes per gate_mode.
type Gate struct {
	registry *Registry
}

// New builds a Gate backed by registry.
func New(registry *Registry) *Gate {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Gate{registry: registry}
}

// Outcome is the gate's composite result: the final verdict plus every
// validator's individual record, suitable for storing into
// AgentRun.AcceptanceResults.
type Outcome struct {
	Verdict string // "passed" | "failed" | "partial"
	Results []Result
}

// Evaluate runs every configured validator (independently — one
// validator's error does not stop the others from running) and combines
// them per spec.GateMode. partial indicates the gate ran against
// incomplete state (budget exhaustion or an internal fault) rather than
// a normally completed run; the verdict is then capped at "partial"
// even when every required validator passed, per spec.md §4.6.
func (g *Gate) Evaluate(ctx context.Context, spec harness.AcceptanceSpec, env Env, partial bool) Outcome {
	results := make([]Result, 0, len(spec.Validators))
	for _, vr := range spec.Validators {
		results = append(results, g.runOne(ctx, vr, env))
	}

	verdict := combine(spec.GateMode, results)
	if partial && verdict == "passed" {
		verdict = "partial"
	}
	return Outcome{Verdict: verdict, Results: results}
}

func (g *Gate) runOne(ctx context.Context, vr harness.ValidatorRecord, env Env) Result {
	res := Result{Name: validatorName(vr), Required: vr.Required, Weight: vr.Weight}

	impl, ok := g.registry.validators[vr.Type]
	if !ok {
		res.Status = StatusError
		res.Detail = fmt.Sprintf("unknown validator type %q", vr.Type)
		return res
	}

	passed, detail, err := impl.Validate(ctx, env, vr.Config)
	res.Detail = detail
	switch {
	case err != nil:
		res.Status = StatusError
		if res.Detail == "" {
			res.Detail = err.Error()
		}
	case passed:
		res.Status = StatusPassed
	default:
		res.Status = StatusFailed
	}
	return res
}

func validatorName(vr harness.ValidatorRecord) string {
	if name, ok := vr.Config["name"].(string); ok && name != "" {
		return name
	}
	return vr.Type
}

func combine(mode harness.GateMode, results []Result) string {
	if len(results) == 0 {
		return "passed"
	}

	switch mode {
	case harness.GateAnyPass:
		for _, r := range results {
			if r.Status == StatusPassed {
				return "passed"
			}
		}
		return "failed"

	case harness.GateWeighted:
		var total, passedWeight float64
		for _, r := range results {
			total += r.Weight
			if r.Status == StatusPassed {
				passedWeight += r.Weight
			}
		}
		if total == 0 || passedWeight*2 >= total {
			return "passed"
		}
		return "failed"

	case harness.GateAllPass:
		fallthrough
	default:
		for _, r := range results {
			if !r.Required {
				continue
			}
			if r.Status == StatusError || r.Status == StatusFailed {
				return "failed"
			}
		}
		return "passed"
	}
}
