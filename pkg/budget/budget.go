// Package budget implements the Budget Tracker: the per-run turn, wall
// clock, and token accounting the Harness Kernel consults before
// dispatching each turn.
package budget

import (
	"fmt"
	"time"
)

// MaxTurnsExceeded is raised by CheckTurns when a run has used its full
// turn allowance.
type MaxTurnsExceeded struct {
	TurnsUsed int
	MaxTurns  int
}

func (e *MaxTurnsExceeded) Error() string {
	return fmt.Sprintf("turn budget exhausted: used %d of %d turns", e.TurnsUsed, e.MaxTurns)
}

// TimeoutSecondsExceeded is raised by CheckTimeout when a run has been
// active longer than its allotted wall-clock budget.
type TimeoutSecondsExceeded struct {
	Elapsed        time.Duration
	TimeoutSeconds int
}

func (e *TimeoutSecondsExceeded) Error() string {
	return fmt.Sprintf("run exceeded timeout: elapsed %s, budget %ds", e.Elapsed, e.TimeoutSeconds)
}

// Tracker accounts for one run's turn count, elapsed wall time, and token
// usage against the limits declared in its AgentSpec.
type Tracker struct {
	MaxTurns       int
	TimeoutSeconds int
	StartedAt      time.Time

	TurnsUsed int
	TokensIn  int
	TokensOut int
}

// New creates a Tracker anchored at startedAt, the instant the run
// entered StatusRunning.
func New(maxTurns, timeoutSeconds int, startedAt time.Time) *Tracker {
	return &Tracker{MaxTurns: maxTurns, TimeoutSeconds: timeoutSeconds, StartedAt: startedAt}
}

// CheckTurns must be called before dispatching the next turn. It returns
// a *MaxTurnsExceeded if the run has already used its full allowance.
func (t *Tracker) CheckTurns() error {
	if t.TurnsUsed >= t.MaxTurns {
		return &MaxTurnsExceeded{TurnsUsed: t.TurnsUsed, MaxTurns: t.MaxTurns}
	}
	return nil
}

// CheckTimeout must be called before dispatching the next turn. It
// returns a *TimeoutSecondsExceeded if the run has been active at least
// as long as its timeout budget, measured against now.
func (t *Tracker) CheckTimeout(now time.Time) error {
	elapsed := now.Sub(t.StartedAt)
	if elapsed >= time.Duration(t.TimeoutSeconds)*time.Second {
		return &TimeoutSecondsExceeded{Elapsed: elapsed, TimeoutSeconds: t.TimeoutSeconds}
	}
	return nil
}

// RecordTurn folds one completed turn's usage into the tracker. Callers
// persist TurnsUsed/TokensIn/TokensOut immediately after this call,
// including on failure and timeout paths, so usage up to the point of
// exhaustion remains visible (spec.md §4.5).
func (t *Tracker) RecordTurn(inputTokens, outputTokens int) {
	t.TurnsUsed++
	t.TokensIn += inputTokens
	t.TokensOut += outputTokens
}
