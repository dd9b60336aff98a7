package harness

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEventStore struct {
	mu             sync.Mutex
	events         []AgentEvent
	artifacts      []Artifact
	nextID         int64
	failNextInsert bool
}

func (f *fakeEventStore) NextSequence(runID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	max := 0
	for _, e := range f.events {
		if e.RunID == runID && e.Sequence > max {
			max = e.Sequence
		}
	}
	return max, nil
}

func (f *fakeEventStore) InsertEvent(ev AgentEvent) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextInsert {
		f.failNextInsert = false
		return 0, fmt.Errorf("fakeEventStore: simulated insert failure")
	}
	f.nextID++
	ev.ID = f.nextID
	f.events = append(f.events, ev)
	return ev.ID, nil
}

func (f *fakeEventStore) InsertArtifact(art Artifact) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts = append(f.artifacts, art)
	return art.ID, nil
}

type fakeArtifactWriter struct {
	mu      sync.Mutex
	written map[string][]byte
}

func newFakeArtifactWriter() *fakeArtifactWriter {
	return &fakeArtifactWriter{written: map[string][]byte{}}
}

func (f *fakeArtifactWriter) Write(runID, contentHash string, content []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := fmt.Sprintf("%s/%s.blob", runID, contentHash)
	f.written[ref] = content
	return ref, nil
}

func TestEventRecorderSequencing(t *testing.T) {
	store := &fakeEventStore{}
	rec := NewEventRecorder(store, nil, nil)

	t.Run("sequence numbers start at 1 and increment per run", func(t *testing.T) {
		id1, err := rec.RecordStarted("run-a", "do the thing", "spec-1")
		require.NoError(t, err)
		id2, err := rec.RecordTurnComplete("run-a", 1, "")
		require.NoError(t, err)
		assert.NotEqual(t, id1, id2)

		require.Len(t, store.events, 2)
		assert.Equal(t, 1, store.events[0].Sequence)
		assert.Equal(t, 2, store.events[1].Sequence)
	})

	t.Run("separate runs get independent sequences", func(t *testing.T) {
		_, err := rec.RecordStarted("run-b", "", "")
		require.NoError(t, err)
		last := store.events[len(store.events)-1]
		assert.Equal(t, "run-b", last.RunID)
		assert.Equal(t, 1, last.Sequence)
	})

	t.Run("clearing the cache recomputes sequence from storage", func(t *testing.T) {
		rec.ClearSequenceCache("run-a")
		_, err := rec.RecordTurnComplete("run-a", 2, "")
		require.NoError(t, err)
		last := store.events[len(store.events)-1]
		assert.Equal(t, 3, last.Sequence)
	})

	t.Run("a failed insert does not leak the sequence it reserved", func(t *testing.T) {
		store.failNextInsert = true
		_, err := rec.RecordTurnComplete("run-a", 3, "")
		require.Error(t, err)

		_, err = rec.RecordTurnComplete("run-a", 4, "")
		require.NoError(t, err)
		last := store.events[len(store.events)-1]
		assert.Equal(t, 4, last.Sequence, "next successful record should reuse the sequence the failed insert would have taken, not skip past it")
	})
}

func TestEventRecorderRejectsUnknownType(t *testing.T) {
	store := &fakeEventStore{}
	rec := NewEventRecorder(store, nil, nil)

	_, err := rec.Record("run-x", EventType("not_a_real_type"), "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid event_type")
}

func TestEventRecorderPayloadOverflow(t *testing.T) {
	store := &fakeEventStore{}
	writer := newFakeArtifactWriter()
	rec := NewEventRecorder(store, writer, nil)

	bigArg := strings.Repeat("x", EventPayloadMaxSize+500)

	t.Run("oversized payload is truncated and spilled to an artifact", func(t *testing.T) {
		_, err := rec.RecordToolCall("run-y", "bash", map[string]any{"command": bigArg})
		require.NoError(t, err)

		ev := store.events[len(store.events)-1]
		require.NotNil(t, ev.PayloadTruncated)
		assert.Greater(t, *ev.PayloadTruncated, EventPayloadMaxSize)
		assert.Equal(t, true, ev.Payload["_truncated"])
		assert.NotEmpty(t, ev.ArtifactRef)

		require.Len(t, store.artifacts, 1)
		assert.Equal(t, ArtifactLog, store.artifacts[0].ArtifactType)
		assert.Equal(t, ev.ArtifactRef, store.artifacts[0].ID)
	})

	t.Run("small values in an oversized payload survive untruncated", func(t *testing.T) {
		_, err := rec.RecordToolCall("run-z", "bash", map[string]any{
			"tool":    "bash",
			"command": bigArg,
		})
		require.NoError(t, err)
		ev := store.events[len(store.events)-1]
		assert.Equal(t, "bash", ev.Payload["tool"])
		assert.Contains(t, ev.Payload["arguments"], "truncated")
	})

	t.Run("without an artifact writer the payload is still truncated, just not overflowed", func(t *testing.T) {
		rec := NewEventRecorder(store, nil, nil)
		_, err := rec.RecordToolCall("run-w", "bash", map[string]any{"command": bigArg})
		require.NoError(t, err)
		ev := store.events[len(store.events)-1]
		require.NotNil(t, ev.PayloadTruncated)
		assert.Empty(t, ev.ArtifactRef)
	})
}

func TestEventRecorderConvenienceWrappers(t *testing.T) {
	store := &fakeEventStore{}
	rec := NewEventRecorder(store, nil, nil)

	t.Run("record completed carries verdict", func(t *testing.T) {
		_, err := rec.RecordCompleted("run-v", "accepted")
		require.NoError(t, err)
		ev := store.events[len(store.events)-1]
		assert.Equal(t, EventCompleted, ev.EventType)
		assert.Equal(t, "accepted", ev.Payload["verdict"])
	})

	t.Run("record policy violation carries tool name denormalized and structured detail", func(t *testing.T) {
		_, err := rec.RecordPolicyViolation("run-v", "write_file", "directory_sandbox", PolicyViolationDetail{
			Turn:           3,
			Detail:         "escaped sandbox",
			AttemptedPath:  "/allowed/%2e%2e/etc/passwd",
			NormalizedPath: "/etc/passwd",
		})
		require.NoError(t, err)
		ev := store.events[len(store.events)-1]
		assert.Equal(t, "write_file", ev.ToolName)
		assert.Equal(t, "directory_sandbox", ev.Payload["violation_type"])
		assert.Equal(t, 3, ev.Payload["turn"])
		assert.Equal(t, "/allowed/%2e%2e/etc/passwd", ev.Payload["attempted_path"])
		assert.Equal(t, "/etc/passwd", ev.Payload["normalized_path"])
	})

	t.Run("record resumed has no payload", func(t *testing.T) {
		_, err := rec.RecordResumed("run-v")
		require.NoError(t, err)
		ev := store.events[len(store.events)-1]
		assert.Nil(t, ev.Payload)
	})
}
