package harnessstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/agentharness/pkg/harness"
)

func newTestSpec() harness.AgentSpec {
	return harness.AgentSpec{
		ID:             uuid.NewString(),
		Name:           "fix-flaky-test",
		DisplayName:    "Fix flaky test",
		Objective:      "Stabilize TestFoo",
		TaskType:       harness.TaskTesting,
		ToolPolicy:     harness.ToolPolicy{AllowedTools: []string{"bash"}},
		MaxTurns:       10,
		TimeoutSeconds: 600,
		AcceptanceSpec: harness.AcceptanceSpec{GateMode: harness.GateAllPass},
		Tags:           []string{"flaky", "ci"},
		CreatedAt:      time.Now().UTC(),
	}
}

func TestSpecRepositoryRoundTrip(t *testing.T) {
	client := newTestClient(t)
	repo := NewSpecRepository(client)
	ctx := context.Background()

	spec := newTestSpec()
	require.NoError(t, repo.Create(ctx, spec))

	loaded, err := repo.Get(ctx, spec.ID)
	require.NoError(t, err)
	assert.Equal(t, spec.Name, loaded.Name)
	assert.Equal(t, spec.ToolPolicy.AllowedTools, loaded.ToolPolicy.AllowedTools)
	assert.Equal(t, spec.Tags, loaded.Tags)
	assert.Equal(t, harness.GateAllPass, loaded.AcceptanceSpec.GateMode)
}

func TestSpecRepositoryGetMissing(t *testing.T) {
	client := newTestClient(t)
	repo := NewSpecRepository(client)

	_, err := repo.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunRepositoryLifecycle(t *testing.T) {
	client := newTestClient(t)
	specRepo := NewSpecRepository(client)
	runRepo := NewRunRepository(client)
	ctx := context.Background()

	spec := newTestSpec()
	require.NoError(t, specRepo.Create(ctx, spec))

	run := harness.AgentRun{ID: uuid.NewString(), AgentSpecID: spec.ID, Status: harness.StatusPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, runRepo.Create(ctx, run))

	t.Run("save persists turn and token accumulation", func(t *testing.T) {
		handle := harness.NewRunHandle(run)
		now := time.Now().UTC()
		require.NoError(t, handle.Transition(harness.StatusRunning, now))
		handle.IncrementTurns()
		handle.AddTokens(100, 50)

		require.NoError(t, runRepo.Save(ctx, handle.Snapshot()))

		loaded, err := runRepo.Get(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, harness.StatusRunning, loaded.Status)
		assert.Equal(t, 1, loaded.TurnsUsed)
		assert.Equal(t, 100, loaded.TokensIn)
		assert.Equal(t, 50, loaded.TokensOut)
		require.NotNil(t, loaded.StartedAt)
	})

	t.Run("list active includes pending and running runs only", func(t *testing.T) {
		other := harness.AgentRun{ID: uuid.NewString(), AgentSpecID: spec.ID, Status: harness.StatusCompleted, CreatedAt: time.Now().UTC()}
		require.NoError(t, runRepo.Create(ctx, other))

		active, err := runRepo.ListActive(ctx)
		require.NoError(t, err)

		var ids []string
		for _, r := range active {
			ids = append(ids, r.ID)
		}
		assert.Contains(t, ids, run.ID)
		assert.NotContains(t, ids, other.ID)
	})
}

func TestEventRepositorySequencingAndArtifacts(t *testing.T) {
	client := newTestClient(t)
	specRepo := NewSpecRepository(client)
	runRepo := NewRunRepository(client)
	eventRepo := NewEventRepository(client)
	ctx := context.Background()

	spec := newTestSpec()
	require.NoError(t, specRepo.Create(ctx, spec))
	run := harness.AgentRun{ID: uuid.NewString(), AgentSpecID: spec.ID, Status: harness.StatusPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, runRepo.Create(ctx, run))

	recorder := harness.NewEventRecorder(eventRepo, NewFileArtifactWriter(t.TempDir()), nil)

	t.Run("sequence numbers are contiguous starting at 1", func(t *testing.T) {
		_, err := recorder.RecordStarted(run.ID, "stabilize the test", spec.ID)
		require.NoError(t, err)
		_, err = recorder.RecordTurnComplete(run.ID, 1, "")
		require.NoError(t, err)

		events, err := eventRepo.ListByRun(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, 1, events[0].Sequence)
		assert.Equal(t, 2, events[1].Sequence)
	})

	t.Run("oversized payload overflows to an artifact retrievable by ref", func(t *testing.T) {
		big := make(map[string]any, 1)
		payload := ""
		for len(payload) < harness.EventPayloadMaxSize+200 {
			payload += "x"
		}
		big["command"] = payload

		_, err := recorder.RecordToolCall(run.ID, "bash", big)
		require.NoError(t, err)

		events, err := eventRepo.ListByRun(ctx, run.ID)
		require.NoError(t, err)
		last := events[len(events)-1]
		require.NotEmpty(t, last.ArtifactRef)

		artifact, err := eventRepo.GetArtifact(ctx, last.ArtifactRef)
		require.NoError(t, err)
		assert.Equal(t, run.ID, artifact.RunID)
		assert.NotEmpty(t, artifact.ContentHash)
	})
}
