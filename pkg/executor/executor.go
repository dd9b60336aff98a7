// Package executor defines the TurnExecutor contract the Harness Kernel
// drives one turn at a time, along with a deterministic stub used by
// tests and local development.
package executor

import (
	"context"

	"github.com/tarsy-labs/agentharness/pkg/harness"
)

// ToolCall is a single tool invocation the executor intends to make
// this turn, before it has been routed through the policy enforcer.
type ToolCall struct {
	ToolName  string
	Arguments map[string]any
}

// ToolResult is the outcome of one tool invocation, whether it
// executed successfully, failed, or was blocked by policy.
type ToolResult struct {
	ToolName string
	Success  bool
	Result   string
	Error    string
}

// Usage reports token consumption for a single turn.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// TurnResult is what a TurnExecutor reports back after driving one
// turn of the underlying model/agent loop.
type TurnResult struct {
	Done        bool
	Message     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
	Usage       Usage
}

// TurnExecutor drives a single turn of whatever model or agent backend
// is doing the work. Implementations may return a classified error
// (see pkg/retry) for provider/transport failures; any other error is
// treated by the kernel as an internal fault.
type TurnExecutor interface {
	ExecuteTurn(ctx context.Context, run harness.AgentRun, spec harness.AgentSpec) (TurnResult, error)
}

// TurnExecutorFunc adapts a plain function to the TurnExecutor interface.
type TurnExecutorFunc func(ctx context.Context, run harness.AgentRun, spec harness.AgentSpec) (TurnResult, error)

// ExecuteTurn calls f.
func (f TurnExecutorFunc) ExecuteTurn(ctx context.Context, run harness.AgentRun, spec harness.AgentSpec) (TurnResult, error) {
	return f(ctx, run, spec)
}
