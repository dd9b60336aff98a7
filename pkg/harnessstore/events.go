package harnessstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/tarsy-labs/agentharness/pkg/harness"
)

// EventRepository implements harness.EventStore against Postgres and
// additionally supports the sequential reads Event Replay needs.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository builds a repository over c's connection pool.
func NewEventRepository(c *Client) *EventRepository {
	return &EventRepository{db: c.db}
}

var _ harness.EventStore = (*EventRepository)(nil)

// NextSequence returns the current max sequence number recorded for
// run, or 0 if none exist yet.
func (r *EventRepository) NextSequence(runID string) (int, error) {
	var max sql.NullInt64
	err := r.db.QueryRowContext(context.Background(), `
		SELECT MAX(sequence) FROM agent_events WHERE run_id = $1
	`, runID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("query max sequence: %w", err)
	}
	return int(max.Int64), nil
}

// InsertEvent persists ev and returns the assigned bigserial ID.
func (r *EventRepository) InsertEvent(ev harness.AgentEvent) (int64, error) {
	var payload []byte
	if ev.Payload != nil {
		var err error
		payload, err = json.Marshal(ev.Payload)
		if err != nil {
			return 0, fmt.Errorf("marshal event payload: %w", err)
		}
	}

	var id int64
	err := r.db.QueryRowContext(context.Background(), `
		INSERT INTO agent_events
			(run_id, sequence, "timestamp", event_type, tool_name, payload, payload_truncated, artifact_ref)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`, ev.RunID, ev.Sequence, ev.Timestamp, string(ev.EventType), ev.ToolName,
		nullJSON(payload), ev.PayloadTruncated, ev.ArtifactRef).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert agent_event: %w", err)
	}
	return id, nil
}

// InsertArtifact persists art, assigning an ID if unset. When the run
// already holds an artifact with the same content_hash, nothing new is
// stored and the existing artifact's ID is returned.
func (r *EventRepository) InsertArtifact(art harness.Artifact) (string, error) {
	if art.ID == "" {
		art.ID = uuid.NewString()
	}
	metadata, err := json.Marshal(art.ArtifactMetadata)
	if err != nil {
		return "", fmt.Errorf("marshal artifact_metadata: %w", err)
	}
	var id string
	err = r.db.QueryRowContext(context.Background(), `
		INSERT INTO artifacts
			(id, run_id, artifact_type, content_hash, size_bytes, content_inline, content_ref, artifact_metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now())
		ON CONFLICT (run_id, content_hash) DO UPDATE SET content_hash = EXCLUDED.content_hash
		RETURNING id
	`, art.ID, art.RunID, string(art.ArtifactType), art.ContentHash, art.SizeBytes,
		nullBytes(art.ContentInline), art.ContentRef, nullJSON(metadata)).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert artifact: %w", err)
	}
	return id, nil
}

// ListByRun returns every event for runID in sequence order, the
// contiguous 1..N trail Event Replay reconstructs from.
func (r *EventRepository) ListByRun(ctx context.Context, runID string) ([]harness.AgentEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, sequence, "timestamp", event_type, tool_name, payload, payload_truncated, artifact_ref
		FROM agent_events WHERE run_id = $1 ORDER BY sequence ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query agent_events: %w", err)
	}
	defer rows.Close()

	var out []harness.AgentEvent
	for rows.Next() {
		var (
			ev        harness.AgentEvent
			eventType string
			payload   sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Sequence, &ev.Timestamp, &eventType,
			&ev.ToolName, &payload, &ev.PayloadTruncated, &ev.ArtifactRef); err != nil {
			return nil, fmt.Errorf("scan agent_event: %w", err)
		}
		ev.EventType = harness.EventType(eventType)
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &ev.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal event payload: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// GetArtifact loads one artifact by id, for Event Replay's artifact
// resolution.
func (r *EventRepository) GetArtifact(ctx context.Context, id string) (harness.Artifact, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, run_id, artifact_type, content_hash, size_bytes, content_inline, content_ref, artifact_metadata, created_at
		FROM artifacts WHERE id = $1
	`, id)

	var (
		art          harness.Artifact
		artifactType string
		metadata     sql.NullString
	)
	if err := row.Scan(&art.ID, &art.RunID, &artifactType, &art.ContentHash, &art.SizeBytes,
		&art.ContentInline, &art.ContentRef, &metadata, &art.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return harness.Artifact{}, ErrNotFound
		}
		return harness.Artifact{}, fmt.Errorf("query artifact: %w", err)
	}
	art.ArtifactType = harness.ArtifactType(artifactType)
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &art.ArtifactMetadata); err != nil {
			return harness.Artifact{}, fmt.Errorf("unmarshal artifact_metadata: %w", err)
		}
	}
	return art, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
