// Package kernel implements the Harness Kernel: the per-run turn loop
// that drives a TurnExecutor to completion, enforcing tool policy and
// budget limits, recording the immutable event trail, and finalizing
// the run through the Acceptance Gate.
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tarsy-labs/agentharness/pkg/acceptance"
	"github.com/tarsy-labs/agentharness/pkg/budget"
	"github.com/tarsy-labs/agentharness/pkg/executor"
	"github.com/tarsy-labs/agentharness/pkg/harness"
	"github.com/tarsy-labs/agentharness/pkg/policy"
	"github.com/tarsy-labs/agentharness/pkg/retry"
)

// pathArgKeys lists the argument names the policy enforcer treats as
// carrying a filesystem path, per spec.md §4.4.
var pathArgKeys = []string{"path", "file_path", "target", "destination"}

// RunStore is the persistence port the kernel uses to save run state.
// pkg/harnessstore.RunRepository implements it.
type RunStore interface {
	Save(ctx context.Context, run harness.AgentRun) error
}

// Clock is overridable in tests; defaults to time.Now.
type Clock func() time.Time

// Kernel drives exactly one AgentRun to a terminal state. One instance
// exists per in-flight run; multiple runs execute as independent Kernel
// instances, each owning its own run row (spec.md §4.8's concurrency
// discipline).
type Kernel struct {
	runs         RunStore
	events       *harness.EventRecorder
	gate         *acceptance.Gate
	now          Clock
	log          *slog.Logger
	strictPolicy bool
}

// New builds a Kernel. gate may be nil to use a default Registry-backed
// Gate. strictPolicy controls whether a spec with an invalid
// forbidden-pattern regex fails to load or merely skips that pattern.
func New(runs RunStore, events *harness.EventRecorder, gate *acceptance.Gate, strictPolicy bool, log *slog.Logger) *Kernel {
	if gate == nil {
		gate = acceptance.New(nil)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Kernel{runs: runs, events: events, gate: gate, now: time.Now, strictPolicy: strictPolicy, log: log}
}

// Execute drives run through spec's lifecycle from pending to a
// terminal state, invoking te one turn at a time. projectDir roots the
// policy sandbox and acceptance validators. Once the run has started it
// always returns a finalized AgentRun. Two faults that stop the run from
// starting are returned as an error instead of being folded into a
// failed run: a ToolPolicy that fails to compile, and a run that cannot
// transition to running.
func (k *Kernel) Execute(ctx context.Context, run harness.AgentRun, spec harness.AgentSpec, te executor.TurnExecutor, projectDir string) (harness.AgentRun, error) {
	enforcer, err := policy.New(spec.ToolPolicy, k.strictPolicy, k.log)
	if err != nil {
		return run, fmt.Errorf("kernel: compile tool policy: %w", err)
	}

	handle := harness.NewRunHandle(run)
	if err := handle.Transition(harness.StatusRunning, k.now()); err != nil {
		return handle.Snapshot(), fmt.Errorf("kernel: initialize: %w", err)
	}
	if _, err := k.events.RecordStarted(run.ID, spec.Objective, spec.ID); err != nil {
		k.log.Warn("failed to record started event", "run_id", run.ID, "error", err)
	}
	k.persist(ctx, handle)

	tracker := budget.New(spec.MaxTurns, spec.TimeoutSeconds, *handle.Snapshot().StartedAt)
	retryPolicy := toRetryPolicy(spec.RetryPolicy)

	k.loop(ctx, handle, spec, te, tracker, enforcer, retryPolicy, projectDir)

	return handle.Snapshot(), nil
}

// loop runs the per-turn cycle until the executor signals done, the
// budget is exhausted, the context is cancelled, or an internal fault
// occurs. It always leaves the run in a terminal state before returning.
func (k *Kernel) loop(
	ctx context.Context,
	handle *harness.RunHandle,
	spec harness.AgentSpec,
	te executor.TurnExecutor,
	tracker *budget.Tracker,
	enforcer *policy.Enforcer,
	retryPolicy retry.Policy,
	projectDir string,
) {
	for {
		if ctx.Err() != nil {
			k.finalize(ctx, handle, spec, tracker, harness.StatusFailed, "cancelled", projectDir)
			return
		}

		if err := tracker.CheckTurns(); err != nil {
			k.finalize(ctx, handle, spec, tracker, harness.StatusTimeout, "max_turns_exceeded", projectDir)
			return
		}
		if err := tracker.CheckTimeout(k.now()); err != nil {
			k.finalize(ctx, handle, spec, tracker, harness.StatusTimeout, "timeout_exceeded", projectDir)
			return
		}

		result, err := k.runTurnWithRetry(ctx, handle, spec, te, enforcer, retryPolicy)
		if err != nil {
			k.finalize(ctx, handle, spec, tracker, harness.StatusFailed, err.Error(), projectDir)
			return
		}

		run := handle.Snapshot()
		k.recordToolActivity(run.ID, result)

		tracker.RecordTurn(result.Usage.InputTokens, result.Usage.OutputTokens)
		turn := handle.IncrementTurns()
		handle.AddTokens(result.Usage.InputTokens, result.Usage.OutputTokens)
		if _, err := k.events.RecordTurnComplete(run.ID, turn, result.Message); err != nil {
			k.log.Warn("failed to record turn_complete event", "error", err)
		}
		k.persist(ctx, handle)

		if result.Done {
			k.finalize(ctx, handle, spec, tracker, harness.StatusCompleted, "", projectDir)
			return
		}
	}
}

// runTurnWithRetry invokes te.ExecuteTurn, retrying classified retryable
// errors per retryPolicy, and routes every tool call the executor
// reports through enforcer before returning. A non-retryable or
// exhausted error is returned to the caller, which ends the run.
func (k *Kernel) runTurnWithRetry(
	ctx context.Context,
	handle *harness.RunHandle,
	spec harness.AgentSpec,
	te executor.TurnExecutor,
	enforcer *policy.Enforcer,
	retryPolicy retry.Policy,
) (executor.TurnResult, error) {
	bo := retryPolicy.NewBackOff()
	attempt := 0

	for {
		result, err := te.ExecuteTurn(ctx, handle.Snapshot(), spec)
		if err == nil {
			return k.applyPolicy(handle, enforcer, result), nil
		}

		kind, retryAfter := retry.Classify(err)
		if kind == retry.NonRetryable {
			return executor.TurnResult{}, err
		}

		attempt++
		next, ok := retry.NextDelay(bo, attempt, retryAfter)
		if !ok {
			return executor.TurnResult{}, fmt.Errorf("retries exhausted: %w", err)
		}
		handle.IncrementRetryCount()
		k.log.Info("retrying turn after classified error",
			"run_id", handle.Snapshot().ID, "attempt", next.Number, "delay", next.Delay, "error", err)

		select {
		case <-ctx.Done():
			return executor.TurnResult{}, ctx.Err()
		case <-time.After(next.Delay):
		}
	}
}

// applyPolicy routes every tool call the executor reports through
// enforcer, synthesizing a blocked tool result and recording a
// policy_violation event for any call the policy rejects, per spec.md
// §4.4. The turn proceeds regardless — a blocked call is a tool error,
// not a run-ending fault.
func (k *Kernel) applyPolicy(handle *harness.RunHandle, enforcer *policy.Enforcer, result executor.TurnResult) executor.TurnResult {
	if len(result.ToolCalls) == 0 {
		return result
	}

	run := handle.Snapshot()
	turn := run.TurnsUsed + 1
	resultByTool := make(map[string]executor.ToolResult, len(result.ToolResults))
	for _, tr := range result.ToolResults {
		resultByTool[tr.ToolName] = tr
	}

	filtered := make([]executor.ToolResult, 0, len(result.ToolCalls))
	for _, call := range result.ToolCalls {
		if v := enforcer.CheckCall(call.ToolName, call.Arguments, pathArgKeys); v != nil {
			handle.RecordViolation(v.Type, call.ToolName, turn)
			_, err := k.events.RecordPolicyViolation(run.ID, call.ToolName, v.Type, harness.PolicyViolationDetail{
				Turn:           turn,
				Detail:         v.Detail,
				PatternMatched: v.PatternMatched,
				AttemptedPath:  v.AttemptedPath,
				NormalizedPath: v.NormalizedPath,
				Arguments:      call.Arguments,
			})
			if err != nil {
				k.log.Warn("failed to record policy_violation event", "error", err)
			}
			filtered = append(filtered, executor.ToolResult{ToolName: call.ToolName, Success: false, Error: v.Error()})
			continue
		}
		if tr, ok := resultByTool[call.ToolName]; ok {
			filtered = append(filtered, tr)
		}
	}

	result.ToolResults = filtered
	return result
}

// recordToolActivity emits tool_call/tool_result events for every call
// and result the executor reported this turn. Large payloads overflow
// to artifacts automatically inside EventRecorder.Record.
func (k *Kernel) recordToolActivity(runID string, result executor.TurnResult) {
	for _, call := range result.ToolCalls {
		if _, err := k.events.RecordToolCall(runID, call.ToolName, call.Arguments); err != nil {
			k.log.Warn("failed to record tool_call event", "error", err)
		}
	}
	for _, tr := range result.ToolResults {
		if _, err := k.events.RecordToolResult(runID, tr.ToolName, tr.Result, tr.Success, tr.Error); err != nil {
			k.log.Warn("failed to record tool_result event", "error", err)
		}
	}
}

// finalize runs the Acceptance Gate, transitions to target, records the
// matching terminal event, and persists — the single exit path for
// every way a run can end (spec.md §4.8's Finalize / budget-exhaustion /
// internal-fault handling share this).
func (k *Kernel) finalize(ctx context.Context, handle *harness.RunHandle, spec harness.AgentSpec, tracker *budget.Tracker, target harness.RunStatus, reason string, projectDir string) {
	partial := target != harness.StatusCompleted
	outcome := k.runAcceptance(ctx, handle, spec, projectDir, partial)
	handle.SetFinalVerdict(outcome.Verdict)
	if reason != "" {
		handle.SetError(reason)
	}
	if err := handle.Transition(target, k.now()); err != nil {
		k.log.Error("failed to transition run to terminal state", "target", target, "error", err)
	}

	run := handle.Snapshot()
	var recErr error
	switch target {
	case harness.StatusCompleted:
		_, recErr = k.events.RecordCompleted(run.ID, outcome.Verdict)
	case harness.StatusTimeout:
		_, recErr = k.events.RecordTimeout(run.ID, harness.TimeoutDetail{
			Reason:         reason,
			TurnsUsed:      run.TurnsUsed,
			MaxTurns:       tracker.MaxTurns,
			ElapsedSeconds: k.now().Sub(tracker.StartedAt).Seconds(),
			TimeoutSeconds: tracker.TimeoutSeconds,
		})
	default:
		_, recErr = k.events.RecordFailed(run.ID, reason)
	}
	if recErr != nil {
		k.log.Warn("failed to record terminal event", "target", target, "error", recErr)
	}
	k.persist(ctx, handle)
}

func (k *Kernel) runAcceptance(ctx context.Context, handle *harness.RunHandle, spec harness.AgentSpec, projectDir string, partial bool) acceptance.Outcome {
	run := handle.Snapshot()
	outcome := k.gate.Evaluate(ctx, spec.AcceptanceSpec, acceptance.Env{ProjectDir: projectDir}, partial)
	for _, res := range outcome.Results {
		ov := harness.ValidatorOutcome{Name: res.Name, Status: string(res.Status), Detail: res.Detail}
		handle.RecordValidatorOutcome(ov)
		if _, err := k.events.RecordAcceptanceCheck(run.ID, ov); err != nil {
			k.log.Warn("failed to record acceptance_check event", "error", err)
		}
	}
	return outcome
}

func (k *Kernel) persist(ctx context.Context, handle *harness.RunHandle) {
	if err := k.runs.Save(ctx, handle.Snapshot()); err != nil {
		k.log.Error("failed to persist run", "error", err)
	}
}

func toRetryPolicy(rp harness.RetryPolicy) retry.Policy {
	def := retry.DefaultPolicy()
	if rp.MaxRetries == 0 {
		return def
	}
	p := retry.Policy{
		MaxRetries:          rp.MaxRetries,
		InitialInterval:     time.Duration(rp.InitialIntervalMS) * time.Millisecond,
		Multiplier:          rp.Multiplier,
		RandomizationFactor: rp.RandomizationFactor,
		MaxInterval:         time.Duration(rp.MaxIntervalMS) * time.Millisecond,
	}
	if p.InitialInterval == 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.Multiplier == 0 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxInterval == 0 {
		p.MaxInterval = def.MaxInterval
	}
	return p
}
