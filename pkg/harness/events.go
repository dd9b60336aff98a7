package harness

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EventStore is the persistence port the Event Recorder writes through.
// pkg/harnessstore implements it against Postgres; tests can fake it.
type EventStore interface {
	// NextSequence returns the current max sequence number recorded for
	// run, or 0 if none exist.
	NextSequence(runID string) (int, error)
	// InsertEvent persists ev and returns the assigned ID.
	InsertEvent(ev AgentEvent) (int64, error)
	// InsertArtifact persists art and returns the assigned ID (usually art.ID).
	InsertArtifact(art Artifact) (string, error)
}

// ArtifactWriter stores artifact bytes out-of-line and hands back a
// reference the caller stitches onto the artifact record. Implementations
// live in pkg/harnessstore (filesystem today; content-addressed in all
// cases).
type ArtifactWriter interface {
	// Write stores content under contentHash for runID, returning a
	// storage-relative reference (content_ref). Idempotent: writing the
	// same hash twice is a no-op.
	Write(runID, contentHash string, content []byte) (ref string, err error)
}

// EventRecorder is the single write path for a run's immutable audit
// trail: every recorded event gets a contiguous per-run sequence number,
// oversized payloads are truncated in place with the full payload spilled
// to a content-addressed artifact, and every write commits durably before
// returning.
type EventRecorder struct {
	store    EventStore
	artifacts ArtifactWriter
	log      *slog.Logger

	mu    sync.Mutex
	cache map[string]int // run id -> last assigned sequence number
}

// NewEventRecorder builds a recorder. artifacts may be nil, in which case
// oversized payloads are truncated without artifact storage (matching the
// no-project-dir fallback).
func NewEventRecorder(store EventStore, artifacts ArtifactWriter, log *slog.Logger) *EventRecorder {
	if log == nil {
		log = slog.Default()
	}
	return &EventRecorder{store: store, artifacts: artifacts, log: log, cache: map[string]int{}}
}

// ClearSequenceCache drops the cached sequence counter for runID, forcing
// the next record() call to recompute it from storage. Tests and run
// teardown use this to bound cache memory.
func (r *EventRecorder) ClearSequenceCache(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, runID)
}

func (r *EventRecorder) nextSequence(runID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if seq, ok := r.cache[runID]; ok {
		seq++
		r.cache[runID] = seq
		return seq, nil
	}
	last, err := r.store.NextSequence(runID)
	if err != nil {
		return 0, fmt.Errorf("harness: look up sequence for run %s: %w", runID, err)
	}
	next := last + 1
	r.cache[runID] = next
	return next, nil
}

// Record is the main entry point: validate the event type, assign a
// sequence number, truncate-and-overflow an oversized payload, and commit.
// It returns the assigned event ID.
func (r *EventRecorder) Record(runID string, eventType EventType, toolName string, payload map[string]any) (int64, error) {
	if !ValidEventTypes[eventType] {
		return 0, fmt.Errorf("harness: invalid event_type %q", eventType)
	}

	seq, err := r.nextSequence(runID)
	if err != nil {
		return 0, err
	}

	ev := AgentEvent{
		RunID:     runID,
		Sequence:  seq,
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		ToolName:  toolName,
	}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("harness: marshal event payload: %w", err)
		}
		if len(raw) <= EventPayloadMaxSize {
			ev.Payload = payload
		} else {
			r.log.Info("event payload exceeds inline limit, truncating",
				"run_id", runID, "sequence", seq, "size", len(raw), "limit", EventPayloadMaxSize)
			size := len(raw)
			ev.PayloadTruncated = &size
			ev.Payload = truncatePayload(payload, size)
			if ref, artErr := r.overflow(runID, eventType, seq, raw); artErr != nil {
				r.log.Warn("large event payload not stored as artifact", "run_id", runID, "sequence", seq, "error", artErr)
			} else if ref != "" {
				ev.ArtifactRef = ref
			}
		}
	}

	id, err := r.store.InsertEvent(ev)
	if err != nil {
		// Don't leak the sequence number this call reserved — the next
		// Record for this run re-primes from storage instead of skipping
		// past the failed write (spec.md §4.2).
		r.ClearSequenceCache(runID)
		return 0, fmt.Errorf("harness: insert event: %w", err)
	}
	return id, nil
}

// truncatePayload mirrors the Python recorder's summary shape: every
// top-level key survives, but any value whose JSON encoding exceeds 200
// bytes is replaced by a placeholder noting its size.
func truncatePayload(payload map[string]any, originalSize int) map[string]any {
	summary := map[string]any{
		"_truncated":     true,
		"_original_size": originalSize,
	}
	for key, value := range payload {
		encoded, err := json.Marshal(value)
		if err == nil && len(encoded) > 200 {
			summary[key] = fmt.Sprintf("<truncated: %d chars>", len(encoded))
			continue
		}
		summary[key] = value
	}
	return summary
}

func (r *EventRecorder) overflow(runID string, eventType EventType, seq int, raw []byte) (string, error) {
	if r.artifacts == nil {
		return "", fmt.Errorf("no artifact writer configured")
	}
	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])

	ref, err := r.artifacts.Write(runID, hash, raw)
	if err != nil {
		return "", err
	}

	art := Artifact{
		ID:           newArtifactID(),
		RunID:        runID,
		ArtifactType: ArtifactLog,
		ContentHash:  hash,
		SizeBytes:    len(raw),
		ContentRef:   ref,
		ArtifactMetadata: map[string]any{
			"event_sequence": seq,
			"event_type":     string(eventType),
			"content_type":   "application/json",
		},
		CreatedAt: time.Now().UTC(),
	}
	return r.store.InsertArtifact(art)
}

// --- convenience wrappers, one per event type the kernel emits ---

func (r *EventRecorder) RecordStarted(runID, objective, specID string) (int64, error) {
	payload := map[string]any{}
	if objective != "" {
		payload["objective"] = objective
	}
	if specID != "" {
		payload["spec_id"] = specID
	}
	if len(payload) == 0 {
		payload = nil
	}
	return r.Record(runID, EventStarted, "", payload)
}

func (r *EventRecorder) RecordToolCall(runID, toolName string, arguments map[string]any) (int64, error) {
	payload := map[string]any{"tool": toolName}
	if arguments != nil {
		payload["arguments"] = arguments
	}
	return r.Record(runID, EventToolCall, toolName, payload)
}

func (r *EventRecorder) RecordToolResult(runID, toolName string, result any, success bool, errMsg string) (int64, error) {
	payload := map[string]any{"tool": toolName, "success": success}
	if result != nil {
		payload["result"] = result
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	return r.Record(runID, EventToolResult, toolName, payload)
}

func (r *EventRecorder) RecordTurnComplete(runID string, turn int, summary string) (int64, error) {
	payload := map[string]any{"turn": turn}
	if summary != "" {
		payload["summary"] = summary
	}
	return r.Record(runID, EventTurnComplete, "", payload)
}

func (r *EventRecorder) RecordAcceptanceCheck(runID string, outcome ValidatorOutcome) (int64, error) {
	return r.Record(runID, EventAcceptanceCheck, "", map[string]any{
		"validator": outcome.Name,
		"status":    outcome.Status,
		"detail":    outcome.Detail,
	})
}

func (r *EventRecorder) RecordCompleted(runID, verdict string) (int64, error) {
	return r.Record(runID, EventCompleted, "", map[string]any{"verdict": verdict})
}

func (r *EventRecorder) RecordFailed(runID, reason string) (int64, error) {
	return r.Record(runID, EventFailed, "", map[string]any{"error": reason})
}

// TimeoutDetail carries the budget-exhaustion shape the kernel records
// alongside a timeout event: which limit tripped and the counters at
// the moment it did.
type TimeoutDetail struct {
	Reason         string
	TurnsUsed      int
	MaxTurns       int
	ElapsedSeconds float64
	TimeoutSeconds int
}

func (r *EventRecorder) RecordTimeout(runID string, d TimeoutDetail) (int64, error) {
	return r.Record(runID, EventTimeout, "", map[string]any{
		"reason":          d.Reason,
		"turns_used":      d.TurnsUsed,
		"max_turns":       d.MaxTurns,
		"elapsed_seconds": d.ElapsedSeconds,
		"timeout_seconds": d.TimeoutSeconds,
	})
}

func (r *EventRecorder) RecordPaused(runID, reason string) (int64, error) {
	return r.Record(runID, EventPaused, "", map[string]any{"reason": reason})
}

func (r *EventRecorder) RecordResumed(runID string) (int64, error) {
	return r.Record(runID, EventResumed, "", nil)
}

// PolicyViolationDetail carries the structured fields spec.md §4.4 requires
// a policy_violation event payload to include alongside violation_type:
// which turn it happened on, the matched pattern or attempted/normalized
// path depending on which gate fired, and the call's raw arguments.
type PolicyViolationDetail struct {
	Turn           int
	Detail         string
	PatternMatched string
	AttemptedPath  string
	NormalizedPath string
	Arguments      map[string]any
}

func (r *EventRecorder) RecordPolicyViolation(runID, toolName, violationType string, d PolicyViolationDetail) (int64, error) {
	payload := map[string]any{
		"violation_type": violationType,
		"turn":           d.Turn,
	}
	if d.Detail != "" {
		payload["detail"] = d.Detail
	}
	if d.PatternMatched != "" {
		payload["pattern_matched"] = d.PatternMatched
	}
	if d.AttemptedPath != "" {
		payload["attempted_path"] = d.AttemptedPath
	}
	if d.NormalizedPath != "" {
		payload["normalized_path"] = d.NormalizedPath
	}
	if d.Arguments != nil {
		payload["arguments"] = d.Arguments
	}
	return r.Record(runID, EventPolicyViolation, toolName, payload)
}

func (r *EventRecorder) RecordAgentPlanned(runID, specID string) (int64, error) {
	return r.Record(runID, EventAgentPlanned, "", map[string]any{"spec_id": specID})
}

func (r *EventRecorder) RecordAgentMaterialized(runID, artifactRef string) (int64, error) {
	return r.Record(runID, EventAgentMaterialized, "", map[string]any{"artifact_ref": artifactRef})
}

func (r *EventRecorder) RecordOctoFailure(runID, reason string) (int64, error) {
	return r.Record(runID, EventOctoFailure, "", map[string]any{"reason": reason})
}
