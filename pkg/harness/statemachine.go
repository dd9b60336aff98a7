package harness

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// validTransitions is the AgentRun state adjacency map. A status with no
// entry (completed, failed, timeout) is terminal.
var validTransitions = map[RunStatus][]RunStatus{
	StatusPending: {StatusRunning},
	StatusRunning: {StatusPaused, StatusCompleted, StatusFailed, StatusTimeout},
	StatusPaused:  {StatusRunning, StatusFailed},
}

// TerminalStatuses is the set of states an AgentRun can never leave.
var TerminalStatuses = map[RunStatus]bool{
	StatusCompleted: true,
	StatusFailed:    true,
	StatusTimeout:   true,
}

// InvalidStateTransition is returned when a caller asks the state machine
// to move a run between two statuses that the adjacency map forbids.
type InvalidStateTransition struct {
	RunID     string
	Current   RunStatus
	Target    RunStatus
}

func (e *InvalidStateTransition) Error() string {
	if TerminalStatuses[e.Current] {
		return fmt.Sprintf("run %s: cannot transition from terminal state %q to %q", e.RunID, e.Current, e.Target)
	}
	allowed := validTransitions[e.Current]
	names := make([]string, len(allowed))
	for i, s := range allowed {
		names[i] = string(s)
	}
	sort.Strings(names)
	return fmt.Sprintf("run %s: invalid transition from %q to %q (valid: %v)", e.RunID, e.Current, e.Target, names)
}

// CanTransition reports whether moving from current to target is legal.
func CanTransition(current, target RunStatus) bool {
	for _, s := range validTransitions[current] {
		if s == target {
			return true
		}
	}
	return false
}

// RunHandle wraps an AgentRun with the mutable, concurrency-safe operations
// the Harness Kernel performs on it during execution. One handle exists per
// in-flight run; pkg/harnessstore persists each mutation transactionally.
type RunHandle struct {
	mu  sync.RWMutex
	run AgentRun
}

// NewRunHandle wraps an AgentRun already materialized from storage (or a
// freshly constructed pending run).
func NewRunHandle(run AgentRun) *RunHandle {
	return &RunHandle{run: run}
}

// Snapshot returns a point-in-time copy safe for the caller to read or
// serialize without holding the handle's lock.
func (h *RunHandle) Snapshot() AgentRun {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return cloneRun(h.run)
}

func cloneRun(r AgentRun) AgentRun {
	out := r
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	if r.AcceptanceResults.Validators != nil {
		out.AcceptanceResults.Validators = make(map[string]ValidatorOutcome, len(r.AcceptanceResults.Validators))
		for k, v := range r.AcceptanceResults.Validators {
			out.AcceptanceResults.Validators[k] = v
		}
	}
	if r.AcceptanceResults.ViolationAggregation != nil {
		agg := *r.AcceptanceResults.ViolationAggregation
		agg.ByType = copyIntMap(r.AcceptanceResults.ViolationAggregation.ByType)
		agg.ByTool = copyIntMap(r.AcceptanceResults.ViolationAggregation.ByTool)
		out.AcceptanceResults.ViolationAggregation = &agg
	}
	return out
}

func copyIntMap(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Transition moves the run to target, enforcing the adjacency map. On
// success it stamps StartedAt (entering running for the first time) or
// CompletedAt (entering a terminal state).
func (h *RunHandle) Transition(target RunStatus, now time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	current := h.run.Status
	if !CanTransition(current, target) {
		return &InvalidStateTransition{RunID: h.run.ID, Current: current, Target: target}
	}
	h.run.Status = target
	if target == StatusRunning && h.run.StartedAt == nil {
		t := now
		h.run.StartedAt = &t
	}
	if TerminalStatuses[target] {
		t := now
		h.run.CompletedAt = &t
	}
	return nil
}

// SetError records a terminal failure message. Callers transition to
// StatusFailed (or StatusTimeout) separately; this only sets the message.
func (h *RunHandle) SetError(message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.run.Error = message
}

// SetFinalVerdict records the acceptance gate's closing verdict string.
func (h *RunHandle) SetFinalVerdict(verdict string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.run.FinalVerdict = verdict
}

// IncrementTurns advances TurnsUsed by one and returns the new count.
func (h *RunHandle) IncrementTurns() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.run.TurnsUsed++
	return h.run.TurnsUsed
}

// AddTokens accumulates usage reported by a turn executor.
func (h *RunHandle) AddTokens(in, out int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.run.TokensIn += in
	h.run.TokensOut += out
}

// IncrementRetryCount records one more error-recovery retry.
func (h *RunHandle) IncrementRetryCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.run.RetryCount++
	return h.run.RetryCount
}

// RecordValidatorOutcome stores or replaces one validator's result.
func (h *RunHandle) RecordValidatorOutcome(outcome ValidatorOutcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.run.AcceptanceResults.Validators == nil {
		h.run.AcceptanceResults.Validators = map[string]ValidatorOutcome{}
	}
	h.run.AcceptanceResults.Validators[outcome.Name] = outcome
}

// RecordViolation folds one policy_violation event into the run's
// violation aggregation (spec.md §4.4).
func (h *RunHandle) RecordViolation(violationType, toolName string, turn int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	agg := h.run.AcceptanceResults.ViolationAggregation
	if agg == nil {
		agg = &ViolationAggregation{ByType: map[string]int{}, ByTool: map[string]int{}}
		h.run.AcceptanceResults.ViolationAggregation = agg
	}
	agg.TotalCount++
	agg.ByType[violationType]++
	if toolName != "" {
		agg.ByTool[toolName]++
	}
	agg.LastTurn = turn
}
