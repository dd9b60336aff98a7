package executor

import (
	"context"

	"github.com/tarsy-labs/agentharness/pkg/harness"
)

// Stub is a scripted TurnExecutor driven by a fixed list of turns,
// useful for kernel tests and local dry runs without a live model
// backend wired in.
type Stub struct {
	turns []TurnResult
	calls int
}

// NewStub returns a Stub that replays turns in order, one per call to
// ExecuteTurn. Calling past the end of turns repeats the final entry
// with Done set, so a misconfigured test still terminates.
func NewStub(turns ...TurnResult) *Stub {
	return &Stub{turns: turns}
}

// Calls reports how many times ExecuteTurn has been invoked.
func (s *Stub) Calls() int {
	return s.calls
}

// ExecuteTurn returns the next scripted turn.
func (s *Stub) ExecuteTurn(_ context.Context, _ harness.AgentRun, _ harness.AgentSpec) (TurnResult, error) {
	i := s.calls
	s.calls++
	if i >= len(s.turns) {
		if len(s.turns) == 0 {
			return TurnResult{Done: true}, nil
		}
		last := s.turns[len(s.turns)-1]
		last.Done = true
		return last, nil
	}
	return s.turns[i], nil
}
