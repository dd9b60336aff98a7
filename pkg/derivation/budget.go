package derivation

import "github.com/tarsy-labs/agentharness/pkg/harness"

// budget is a plain max_turns/timeout_seconds pair.
type budget struct {
	MaxTurns       int
	TimeoutSeconds int
}

// baseBudgets gives every task type its starting point before the
// description-length and step-count adjustments apply. Loaded from
// tables.yaml; coding and testing match the exact values
// _examples/original_source/tests/verify_feature_58.py asserts.
var baseBudgets = loadBaseBudgets()

var (
	minBudget = toBudget(tables.BudgetBounds.Min)
	maxBudget = toBudget(tables.BudgetBounds.Max)
)

// descriptionLengthThresholds and stepsCountThresholds are ascending
// (threshold, multiplier) tiers, loaded from tables.yaml; the highest
// threshold the value meets or exceeds wins. Below the first threshold,
// the multiplier is 1.0 (no adjustment) — matching the "short
// description does not increase budget" / "few steps does not increase
// budget" cases in verify_feature_58.py.
var descriptionLengthThresholds = loadDescriptionLengthThresholds()

var stepsCountThresholds = loadStepsCountThresholds()

func descriptionMultiplier(length int) float64 {
	mult := 1.0
	for _, tier := range descriptionLengthThresholds {
		if length >= tier.Length {
			mult = tier.Multiplier
		}
	}
	return mult
}

func stepsMultiplier(count int) float64 {
	mult := 1.0
	for _, tier := range stepsCountThresholds {
		if count >= tier.Count {
			mult = tier.Multiplier
		}
	}
	return mult
}

func applyBounds(b budget) budget {
	if b.MaxTurns < minBudget.MaxTurns {
		b.MaxTurns = minBudget.MaxTurns
	}
	if b.MaxTurns > maxBudget.MaxTurns {
		b.MaxTurns = maxBudget.MaxTurns
	}
	if b.TimeoutSeconds < minBudget.TimeoutSeconds {
		b.TimeoutSeconds = minBudget.TimeoutSeconds
	}
	if b.TimeoutSeconds > maxBudget.TimeoutSeconds {
		b.TimeoutSeconds = maxBudget.TimeoutSeconds
	}
	return b
}

// deriveBudget computes max_turns/timeout_seconds for taskType, scaled
// by description length and step count and clamped to [minBudget,
// maxBudget], per spec.md §4.9.
func deriveBudget(taskType harness.TaskType, descriptionLength, stepsCount int) (maxTurns, timeoutSeconds int) {
	base, ok := baseBudgets[taskType]
	if !ok {
		base = baseBudgets[harness.TaskCustom]
	}

	// The description-length and step-count multipliers are independent
	// tiers, not compounded: we apply the larger of the two rather than
	// their product, avoiding runaway budgets from a merely-long
	// description paired with a handful of extra steps.
	single := descriptionMultiplier(descriptionLength)
	if s := stepsMultiplier(stepsCount); s > single {
		single = s
	}

	adjusted := budget{
		MaxTurns:       int(float64(base.MaxTurns) * single),
		TimeoutSeconds: int(float64(base.TimeoutSeconds) * single),
	}
	bounded := applyBounds(adjusted)
	return bounded.MaxTurns, bounded.TimeoutSeconds
}
