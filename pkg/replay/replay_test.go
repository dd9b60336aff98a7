package replay

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/agentharness/pkg/harness"
)

type fakeEventLister struct {
	events    []harness.AgentEvent
	artifacts map[string]harness.Artifact
}

func (f *fakeEventLister) ListByRun(_ context.Context, runID string) ([]harness.AgentEvent, error) {
	var out []harness.AgentEvent
	for _, ev := range f.events {
		if ev.RunID == runID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeEventLister) GetArtifact(_ context.Context, id string) (harness.Artifact, error) {
	art, ok := f.artifacts[id]
	if !ok {
		return harness.Artifact{}, assertNotFound{}
	}
	return art, nil
}

type assertNotFound struct{}

func (assertNotFound) Error() string { return "not found" }

type fakeArtifactReader struct {
	blobs map[string][]byte
}

func (f *fakeArtifactReader) Read(ref string) ([]byte, error) {
	return f.blobs[ref], nil
}

type fakeRunGetter struct {
	run harness.AgentRun
}

func (f *fakeRunGetter) Get(_ context.Context, id string) (harness.AgentRun, error) {
	return f.run, nil
}

func TestGetEvents_ValidContiguousSequence(t *testing.T) {
	lister := &fakeEventLister{events: []harness.AgentEvent{
		{RunID: "r1", Sequence: 1, EventType: harness.EventStarted},
		{RunID: "r1", Sequence: 2, EventType: harness.EventToolCall, ToolName: "Read"},
		{RunID: "r1", Sequence: 3, EventType: harness.EventCompleted},
	}}
	p := New(lister, nil, nil)

	seq, err := p.GetEvents(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, seq.IsValid)
	assert.Len(t, seq.Events, 3)
}

func TestGetEvents_GapMakesSequenceInvalid(t *testing.T) {
	lister := &fakeEventLister{events: []harness.AgentEvent{
		{RunID: "r1", Sequence: 1, EventType: harness.EventStarted},
		{RunID: "r1", Sequence: 3, EventType: harness.EventCompleted},
	}}
	p := New(lister, nil, nil)

	seq, err := p.GetEvents(context.Background(), "r1")
	require.NoError(t, err)
	assert.False(t, seq.IsValid)
}

func TestGetEvents_EmptySequenceIsValid(t *testing.T) {
	lister := &fakeEventLister{}
	p := New(lister, nil, nil)

	seq, err := p.GetEvents(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, seq.IsValid)
	assert.Empty(t, seq.Events)
}

func TestGetEvents_ResolvesTruncatedPayloadInline(t *testing.T) {
	truncated := 500
	full := map[string]any{"tool": "Bash", "result": "a very long string"}
	fullBytes, err := json.Marshal(full)
	require.NoError(t, err)

	lister := &fakeEventLister{
		events: []harness.AgentEvent{
			{RunID: "r1", Sequence: 1, EventType: harness.EventToolResult, PayloadTruncated: &truncated, ArtifactRef: "artifact-1"},
		},
		artifacts: map[string]harness.Artifact{
			"artifact-1": {ID: "artifact-1", ContentInline: fullBytes},
		},
	}
	p := New(lister, nil, nil)

	seq, err := p.GetEvents(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, seq.Events, 1)
	assert.Equal(t, "Bash", seq.Events[0].FullPayload["tool"])
}

func TestGetEvents_ResolvesTruncatedPayloadViaContentRef(t *testing.T) {
	truncated := 9000
	full := map[string]any{"tool": "Bash"}
	fullBytes, _ := json.Marshal(full)

	lister := &fakeEventLister{
		events: []harness.AgentEvent{
			{RunID: "r1", Sequence: 1, EventType: harness.EventToolResult, PayloadTruncated: &truncated, ArtifactRef: "artifact-2"},
		},
		artifacts: map[string]harness.Artifact{
			"artifact-2": {ID: "artifact-2", ContentRef: ".agentharness/artifacts/r1/hash.blob"},
		},
	}
	reader := &fakeArtifactReader{blobs: map[string][]byte{
		".agentharness/artifacts/r1/hash.blob": fullBytes,
	}}
	p := New(lister, reader, nil)

	seq, err := p.GetEvents(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, seq.Events, 1)
	assert.Equal(t, "Bash", seq.Events[0].FullPayload["tool"])
}

func TestGetEvents_MissingArtifactReaderLeavesPayloadUnresolved(t *testing.T) {
	truncated := 9000
	lister := &fakeEventLister{
		events: []harness.AgentEvent{
			{RunID: "r1", Sequence: 1, EventType: harness.EventToolResult, PayloadTruncated: &truncated, ArtifactRef: "artifact-3"},
		},
		artifacts: map[string]harness.Artifact{
			"artifact-3": {ID: "artifact-3", ContentRef: "somewhere.blob"},
		},
	}
	p := New(lister, nil, nil)

	seq, err := p.GetEvents(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, seq.Events, 1)
	assert.Nil(t, seq.Events[0].FullPayload)
}

func TestGetDebugContext(t *testing.T) {
	startedAt := harness.AgentEvent{RunID: "r1", Sequence: 1, EventType: harness.EventStarted}
	toolCall := harness.AgentEvent{RunID: "r1", Sequence: 2, EventType: harness.EventToolCall, ToolName: "Bash"}
	toolResult := harness.AgentEvent{RunID: "r1", Sequence: 3, EventType: harness.EventToolResult, ToolName: "Bash"}
	failed := harness.AgentEvent{RunID: "r1", Sequence: 4, EventType: harness.EventFailed, Payload: map[string]any{"error": "boom"}}

	lister := &fakeEventLister{events: []harness.AgentEvent{startedAt, toolCall, toolResult, failed}}
	runs := &fakeRunGetter{run: harness.AgentRun{
		ID:        "r1",
		Status:    harness.StatusFailed,
		TurnsUsed: 3,
		TokensIn:  100,
		TokensOut: 50,
		Error:     "boom",
	}}
	p := New(lister, nil, runs)

	dc, err := p.GetDebugContext(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, harness.StatusFailed, dc.RunStatus)
	assert.Equal(t, "boom", dc.FailureReason)
	assert.Equal(t, 3, dc.TurnsUsed)
	assert.Equal(t, 150, dc.TokensUsed)
	require.NotNil(t, dc.LastToolCall)
	assert.Equal(t, "Bash", dc.LastToolCall.ToolName)
	require.NotNil(t, dc.LastToolResult)
	assert.Equal(t, "Bash", dc.LastToolResult.ToolName)
}
