package harnessstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tarsy-labs/agentharness/pkg/harness"
)

// ErrNotFound is returned when a lookup by ID finds no row.
var ErrNotFound = errors.New("harnessstore: not found")

// SpecRepository persists AgentSpec rows.
type SpecRepository struct {
	db *sql.DB
}

// NewSpecRepository builds a repository over c's connection pool.
func NewSpecRepository(c *Client) *SpecRepository {
	return &SpecRepository{db: c.db}
}

// Create inserts spec; created_at is always set to the database's now(),
// whatever spec.CreatedAt holds.
func (r *SpecRepository) Create(ctx context.Context, spec harness.AgentSpec) error {
	toolPolicy, err := json.Marshal(spec.ToolPolicy)
	if err != nil {
		return fmt.Errorf("marshal tool_policy: %w", err)
	}
	acceptance, err := json.Marshal(spec.AcceptanceSpec)
	if err != nil {
		return fmt.Errorf("marshal acceptance_spec: %w", err)
	}
	var contextJSON []byte
	if spec.Context != nil {
		contextJSON, err = json.Marshal(spec.Context)
		if err != nil {
			return fmt.Errorf("marshal context: %w", err)
		}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO agent_specs
			(id, name, display_name, objective, task_type, tool_policy, max_turns,
			 timeout_seconds, acceptance_spec, context, tags, priority, source_feature_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13, now())
	`, spec.ID, spec.Name, spec.DisplayName, spec.Objective, string(spec.TaskType),
		toolPolicy, spec.MaxTurns, spec.TimeoutSeconds, acceptance, nullJSON(contextJSON),
		pqStringArray(spec.Tags), spec.Priority, nullString(spec.SourceFeatureID))
	if err != nil {
		return fmt.Errorf("insert agent_spec: %w", err)
	}
	return nil
}

// Get loads one AgentSpec by id.
func (r *SpecRepository) Get(ctx context.Context, id string) (harness.AgentSpec, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, objective, task_type, tool_policy, max_turns,
		       timeout_seconds, acceptance_spec, context, tags, priority, source_feature_id, created_at
		FROM agent_specs WHERE id = $1
	`, id)

	var (
		spec               harness.AgentSpec
		taskType           string
		toolPolicy, accept []byte
		contextJSON        sql.NullString
		sourceFeatureID    sql.NullString
	)
	if err := row.Scan(&spec.ID, &spec.Name, &spec.DisplayName, &spec.Objective, &taskType,
		&toolPolicy, &spec.MaxTurns, &spec.TimeoutSeconds, &accept, &contextJSON,
		pqStringArrayScanner(&spec.Tags), &spec.Priority, &sourceFeatureID, &spec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return harness.AgentSpec{}, ErrNotFound
		}
		return harness.AgentSpec{}, fmt.Errorf("query agent_spec: %w", err)
	}

	spec.TaskType = harness.TaskType(taskType)
	spec.SourceFeatureID = sourceFeatureID.String
	if err := json.Unmarshal(toolPolicy, &spec.ToolPolicy); err != nil {
		return harness.AgentSpec{}, fmt.Errorf("unmarshal tool_policy: %w", err)
	}
	if err := json.Unmarshal(accept, &spec.AcceptanceSpec); err != nil {
		return harness.AgentSpec{}, fmt.Errorf("unmarshal acceptance_spec: %w", err)
	}
	if contextJSON.Valid {
		if err := json.Unmarshal([]byte(contextJSON.String), &spec.Context); err != nil {
			return harness.AgentSpec{}, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	return spec, nil
}
