// Package orphan implements Orphan Recovery (spec.md §4.12): a one-shot
// startup scan that finds runs stuck in {running, pending} from a
// previous process and marks the stale ones failed. Grounded directly on
// _examples/original_source/api/orphaned_run_cleanup.py (staleness
// algorithm, CleanupResult/OrphanedRunInfo shape, per-run error
// isolation) and pkg/queue/orphan.go for the Go-idiom transaction
// pattern (markSessionTimedOut: update the row and its dependent state
// atomically, log, continue past individual failures).
package orphan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tarsy-labs/agentharness/pkg/harness"
)

// ErrOrphanedRun is the error message stored on runs marked stale, per
// _examples/original_source/api/orphaned_run_cleanup.py's
// ORPHANED_ERROR_MESSAGE.
const ErrOrphanedRun = "orphaned_on_restart"

// DefaultTimeoutSeconds is the staleness timeout used when a run's spec
// could not be found (e.g. the spec row was deleted).
const DefaultTimeoutSeconds = 3600

// RunLister returns every run currently in a non-terminal status — the
// candidate set this package scans. Satisfied by
// *pkg/harnessstore.RunRepository.
type RunLister interface {
	ListActive(ctx context.Context) ([]harness.AgentRun, error)
}

// SpecGetter loads a run's associated spec, used to read its
// timeout_seconds. Satisfied by *pkg/harnessstore.SpecRepository.
type SpecGetter interface {
	Get(ctx context.Context, id string) (harness.AgentSpec, error)
}

// TxRunSaver saves a run's mutable fields inside its own transaction, so
// the status transition commits atomically with nothing else observing
// a half-updated row. Satisfied by *pkg/harnessstore.RunRepository's
// SaveWithTx, which owns the begin/commit/rollback bookkeeping so this
// package never has to hold a raw database/sql transaction handle.
type TxRunSaver interface {
	SaveWithTx(ctx context.Context, run harness.AgentRun) error
}

// FailureRecorder records the terminal failed event for a cleaned-up
// run. Satisfied by *pkg/harness.EventRecorder. Recording is best-effort:
// a failure here is logged, not propagated, matching
// cleanup_single_run's try/except around record_failed in the Python
// original.
type FailureRecorder interface {
	RecordFailed(runID, reason string) (int64, error)
}

// OrphanedRunInfo describes one run that was found stale and cleaned up.
type OrphanedRunInfo struct {
	RunID          string
	SpecID         string
	SpecName       string
	OriginalStatus harness.RunStatus
	StartedAt      *time.Time
	AgeSeconds      *float64
	TimeoutSeconds int
}

// CleanupResult summarizes one Recover pass, per spec.md §4.12.
type CleanupResult struct {
	TotalFound       int
	CleanedCount     int
	SkippedCount     int
	CleanedRuns      []OrphanedRunInfo
	Errors           []string
	CleanupTimestamp time.Time
}

// Recoverer performs the one-shot startup orphan scan.
type Recoverer struct {
	runs   RunLister
	specs  SpecGetter
	txRuns TxRunSaver
	events FailureRecorder
	clock  func() time.Time
	log    *slog.Logger
}

// New builds a Recoverer. events may be nil, in which case cleaned runs
// are updated without a corresponding failed event (matching the Python
// original's optional event_recorder parameter).
func New(runs RunLister, specs SpecGetter, txRuns TxRunSaver, events FailureRecorder, log *slog.Logger) *Recoverer {
	if log == nil {
		log = slog.Default()
	}
	return &Recoverer{runs: runs, specs: specs, txRuns: txRuns, events: events, clock: func() time.Time { return time.Now().UTC() }, log: log}
}

// IsStale implements spec.md §4.12's staleness rule: a run with no
// started_at is stale when pending (and, defensively, when running
// without one — an inconsistent state that should not persist); a run
// with started_at is stale when its age exceeds the timeout the
// associated spec declares, or DefaultTimeoutSeconds when spec is nil.
func IsStale(run harness.AgentRun, spec *harness.AgentSpec, now time.Time) (stale bool, ageSeconds *float64, timeoutSeconds int) {
	timeoutSeconds = DefaultTimeoutSeconds
	if spec != nil {
		timeoutSeconds = spec.TimeoutSeconds
	}

	if run.StartedAt == nil {
		return true, nil, timeoutSeconds
	}

	age := now.Sub(*run.StartedAt).Seconds()
	return age > float64(timeoutSeconds), &age, timeoutSeconds
}

// Recover runs the scan exactly once: every run in {running, pending} is
// checked for staleness; stale runs transition to failed with
// ErrOrphanedRun and get a failed event appended. A per-run error is
// recorded in the result and never stops the scan from continuing.
func (r *Recoverer) Recover(ctx context.Context) (CleanupResult, error) {
	now := r.clock()
	result := CleanupResult{CleanupTimestamp: now}

	active, err := r.runs.ListActive(ctx)
	if err != nil {
		return result, fmt.Errorf("orphan: list active runs: %w", err)
	}
	result.TotalFound = len(active)
	if result.TotalFound == 0 {
		return result, nil
	}

	r.log.Info("orphan recovery: scanning active runs", "count", result.TotalFound)

	for _, run := range active {
		spec, specErr := r.specs.Get(ctx, run.AgentSpecID)
		var specPtr *harness.AgentSpec
		if specErr == nil {
			specPtr = &spec
		}

		stale, ageSeconds, timeoutSeconds := IsStale(run, specPtr, now)
		if !stale {
			result.SkippedCount++
			continue
		}

		info, err := r.cleanupSingleRun(ctx, run, specPtr, ageSeconds, timeoutSeconds, now)
		if err != nil {
			msg := fmt.Sprintf("run %s: %v", run.ID, err)
			result.Errors = append(result.Errors, msg)
			r.log.Error("orphan recovery: failed to clean up run", "run_id", run.ID, "error", err)
			continue
		}
		result.CleanedRuns = append(result.CleanedRuns, info)
		result.CleanedCount++
	}

	r.log.Info("orphan recovery complete",
		"found", result.TotalFound, "cleaned", result.CleanedCount,
		"skipped", result.SkippedCount, "errors", len(result.Errors))

	return result, nil
}

func (r *Recoverer) cleanupSingleRun(ctx context.Context, run harness.AgentRun, spec *harness.AgentSpec, ageSeconds *float64, timeoutSeconds int, now time.Time) (OrphanedRunInfo, error) {
	originalStatus := run.Status
	startedAt := run.StartedAt

	run.Status = harness.StatusFailed
	run.Error = ErrOrphanedRun
	run.CompletedAt = &now

	if err := r.txRuns.SaveWithTx(ctx, run); err != nil {
		return OrphanedRunInfo{}, fmt.Errorf("save run: %w", err)
	}

	r.log.Info("orphan recovery: marking run failed",
		"run_id", run.ID, "was_status", originalStatus, "spec_id", run.AgentSpecID)

	if r.events != nil {
		if _, err := r.events.RecordFailed(run.ID, ErrOrphanedRun); err != nil {
			r.log.Warn("orphan recovery: failed to record failed event", "run_id", run.ID, "error", err)
		}
	}

	info := OrphanedRunInfo{
		RunID:          run.ID,
		SpecID:         run.AgentSpecID,
		OriginalStatus: originalStatus,
		StartedAt:      startedAt,
		AgeSeconds:     ageSeconds,
		TimeoutSeconds: timeoutSeconds,
	}
	if spec != nil {
		info.SpecID = spec.ID
		info.SpecName = spec.Name
	}
	return info, nil
}
