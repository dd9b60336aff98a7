// Package replay implements Event Replay (spec.md §4.11): reconstructing
// a run's full event sequence, resolving truncated payloads through
// their artifact references, verifying sequence integrity, and building
// a DebugContext for failed runs. Grounded on
// _examples/original_source/api/event_replay.py's stated
// EventReplayContext/get_replay_context contract and the teacher's
// pkg/services/timeline_service.go (ordered-by-sequence read-back of a
// run's event stream via ent, generalized here to the harness's own
// EventStore-backed repositories).
package replay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tarsy-labs/agentharness/pkg/harness"
)

// EventLister is the narrow read port replay needs from persistence —
// satisfied by *pkg/harnessstore.EventRepository.
type EventLister interface {
	ListByRun(ctx context.Context, runID string) ([]harness.AgentEvent, error)
	GetArtifact(ctx context.Context, id string) (harness.Artifact, error)
}

// ArtifactReader reads back artifact bytes by the content_ref an event's
// ArtifactRef points at — satisfied by *pkg/harnessstore.FileArtifactWriter.
// Declared locally, not on harness.ArtifactWriter, since only the write
// side needs to be part of that core port.
type ArtifactReader interface {
	Read(ref string) ([]byte, error)
}

// RunGetter is the narrow read port replay needs for DebugContext's
// run-level fields — satisfied by *pkg/harnessstore.RunRepository.
type RunGetter interface {
	Get(ctx context.Context, id string) (harness.AgentRun, error)
}

// Event is one reconstructed event in a replayed sequence: the stored
// record plus, when the original payload overflowed inline storage, the
// full payload resolved from its artifact.
type Event struct {
	harness.AgentEvent
	FullPayload map[string]any `json:"full_payload,omitempty"`
}

// Sequence is a run's full reconstructed event trail plus its sequence-
// integrity verdict.
type Sequence struct {
	RunID   string  `json:"run_id"`
	Events  []Event `json:"events"`
	IsValid bool    `json:"is_valid"`
}

// DebugContext summarizes a failed run for a human or tool investigating
// it, per spec.md §4.11.
type DebugContext struct {
	RunID          string         `json:"run_id"`
	RunStatus      harness.RunStatus `json:"run_status"`
	FailureReason  string         `json:"failure_reason,omitempty"`
	LastToolCall   *Event         `json:"last_tool_call,omitempty"`
	LastToolResult *Event         `json:"last_tool_result,omitempty"`
	TurnsUsed      int            `json:"turns_used"`
	TokensUsed     int            `json:"tokens_used"`
}

// Replayer reconstructs event sequences and debug contexts for runs.
type Replayer struct {
	events    EventLister
	artifacts ArtifactReader
	runs      RunGetter
}

// New builds a Replayer. artifacts may be nil — artifacts stored inline
// still resolve, while truncated payloads whose artifact lives at a
// content_ref stay truncated, matching the no-project-dir fallback
// pkg/harness.EventRecorder also tolerates.
func New(events EventLister, artifacts ArtifactReader, runs RunGetter) *Replayer {
	return &Replayer{events: events, artifacts: artifacts, runs: runs}
}

// GetEvents reconstructs runID's full event sequence in ascending
// sequence order, resolving every truncated payload it can.
func (p *Replayer) GetEvents(ctx context.Context, runID string) (Sequence, error) {
	raw, err := p.events.ListByRun(ctx, runID)
	if err != nil {
		return Sequence{}, fmt.Errorf("replay: list events for run %s: %w", runID, err)
	}

	events := make([]Event, 0, len(raw))
	for _, ev := range raw {
		events = append(events, p.resolve(ctx, ev))
	}

	return Sequence{
		RunID:   runID,
		Events:  events,
		IsValid: isContiguous(raw),
	}, nil
}

func (p *Replayer) resolve(ctx context.Context, ev harness.AgentEvent) Event {
	out := Event{AgentEvent: ev}
	if ev.ArtifactRef == "" || ev.PayloadTruncated == nil {
		return out
	}

	full, err := p.readArtifactPayload(ctx, ev.ArtifactRef)
	if err != nil {
		return out
	}
	out.FullPayload = full
	return out
}

// readArtifactPayload resolves ev.ArtifactRef — the Artifact row's id —
// to the full original event payload: look up the artifact, then read
// its bytes from wherever it lives (inline, or out-of-line via the
// ArtifactReader when the artifact overflowed to a content_ref path).
func (p *Replayer) readArtifactPayload(ctx context.Context, artifactID string) (map[string]any, error) {
	art, err := p.events.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, fmt.Errorf("replay: get artifact %s: %w", artifactID, err)
	}

	raw := art.ContentInline
	if len(raw) == 0 && art.ContentRef != "" {
		if p.artifacts == nil {
			return nil, fmt.Errorf("replay: no artifact reader configured for content_ref %s", art.ContentRef)
		}
		raw, err = p.artifacts.Read(art.ContentRef)
		if err != nil {
			return nil, fmt.Errorf("replay: read artifact content %s: %w", art.ContentRef, err)
		}
	}

	var full map[string]any
	if err := json.Unmarshal(raw, &full); err != nil {
		return nil, fmt.Errorf("replay: unmarshal artifact %s payload: %w", artifactID, err)
	}
	return full, nil
}

// isContiguous implements spec.md §4.11's integrity invariant: is_valid
// iff the recorded sequences are exactly {1, ..., N} with no gaps or
// duplicates.
func isContiguous(events []harness.AgentEvent) bool {
	if len(events) == 0 {
		return true
	}
	seen := make(map[int]bool, len(events))
	maxSeq := 0
	for _, ev := range events {
		if seen[ev.Sequence] {
			return false
		}
		seen[ev.Sequence] = true
		if ev.Sequence > maxSeq {
			maxSeq = ev.Sequence
		}
	}
	if maxSeq != len(events) {
		return false
	}
	for i := 1; i <= maxSeq; i++ {
		if !seen[i] {
			return false
		}
	}
	return true
}

// GetDebugContext builds a DebugContext for runID, intended for failed
// or timed-out runs but safe to call against any run.
func (p *Replayer) GetDebugContext(ctx context.Context, runID string) (DebugContext, error) {
	run, err := p.runs.Get(ctx, runID)
	if err != nil {
		return DebugContext{}, fmt.Errorf("replay: get run %s: %w", runID, err)
	}

	seq, err := p.GetEvents(ctx, runID)
	if err != nil {
		return DebugContext{}, err
	}

	dc := DebugContext{
		RunID:      runID,
		RunStatus:  run.Status,
		FailureReason: run.Error,
		TurnsUsed:  run.TurnsUsed,
		TokensUsed: run.TokensIn + run.TokensOut,
	}

	for i := len(seq.Events) - 1; i >= 0; i-- {
		ev := seq.Events[i]
		if dc.LastToolCall == nil && ev.EventType == harness.EventToolCall {
			e := ev
			dc.LastToolCall = &e
		}
		if dc.LastToolResult == nil && ev.EventType == harness.EventToolResult {
			e := ev
			dc.LastToolResult = &e
		}
		if dc.LastToolCall != nil && dc.LastToolResult != nil {
			break
		}
	}

	if dc.FailureReason == "" {
		for i := len(seq.Events) - 1; i >= 0; i-- {
			if seq.Events[i].EventType == harness.EventFailed {
				if reason, ok := seq.Events[i].Payload["error"].(string); ok {
					dc.FailureReason = reason
				}
				break
			}
		}
	}

	return dc, nil
}
