package harnessstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tarsy-labs/agentharness/pkg/harness"
)

// RunRepository persists AgentRun rows.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository builds a repository over c's connection pool.
func NewRunRepository(c *Client) *RunRepository {
	return &RunRepository{db: c.db}
}

// Create inserts run with the status it carries; created_at is set to
// the database's now().
func (r *RunRepository) Create(ctx context.Context, run harness.AgentRun) error {
	results, err := json.Marshal(run.AcceptanceResults)
	if err != nil {
		return fmt.Errorf("marshal acceptance_results: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO agent_runs
			(id, agent_spec_id, status, started_at, completed_at, turns_used, tokens_in,
			 tokens_out, retry_count, error, final_verdict, acceptance_results, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12, now())
	`, run.ID, run.AgentSpecID, string(run.Status), run.StartedAt, run.CompletedAt,
		run.TurnsUsed, run.TokensIn, run.TokensOut, run.RetryCount, run.Error, run.FinalVerdict, results)
	if err != nil {
		return fmt.Errorf("insert agent_run: %w", err)
	}
	return nil
}

// Get loads one AgentRun by id.
func (r *RunRepository) Get(ctx context.Context, id string) (harness.AgentRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, agent_spec_id, status, started_at, completed_at, turns_used, tokens_in,
		       tokens_out, retry_count, error, final_verdict, acceptance_results, created_at
		FROM agent_runs WHERE id = $1
	`, id)
	return scanRun(row)
}

func scanRun(row *sql.Row) (harness.AgentRun, error) {
	var (
		run     harness.AgentRun
		status  string
		results []byte
	)
	if err := row.Scan(&run.ID, &run.AgentSpecID, &status, &run.StartedAt, &run.CompletedAt,
		&run.TurnsUsed, &run.TokensIn, &run.TokensOut, &run.RetryCount, &run.Error,
		&run.FinalVerdict, &results, &run.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return harness.AgentRun{}, ErrNotFound
		}
		return harness.AgentRun{}, fmt.Errorf("query agent_run: %w", err)
	}
	run.Status = harness.RunStatus(status)
	if len(results) > 0 {
		if err := json.Unmarshal(results, &run.AcceptanceResults); err != nil {
			return harness.AgentRun{}, fmt.Errorf("unmarshal acceptance_results: %w", err)
		}
	}
	return run, nil
}

// Save persists every mutable field of run — the Harness Kernel calls
// this after each turn and on every terminal transition so that tokens
// used before exhaustion remain visible even on failure/timeout paths
// (spec.md §4.5).
func (r *RunRepository) Save(ctx context.Context, run harness.AgentRun) error {
	results, err := json.Marshal(run.AcceptanceResults)
	if err != nil {
		return fmt.Errorf("marshal acceptance_results: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE agent_runs SET
			status = $2, started_at = $3, completed_at = $4, turns_used = $5,
			tokens_in = $6, tokens_out = $7, retry_count = $8, error = $9,
			final_verdict = $10, acceptance_results = $11
		WHERE id = $1
	`, run.ID, string(run.Status), run.StartedAt, run.CompletedAt, run.TurnsUsed,
		run.TokensIn, run.TokensOut, run.RetryCount, run.Error, run.FinalVerdict, results)
	if err != nil {
		return fmt.Errorf("update agent_run: %w", err)
	}
	return nil
}

// SaveTx is Save run inside an already-open transaction, used by the
// orphan recovery path (grounded on pkg/queue/orphan.go's
// markSessionTimedOut). Only the run row is written in the transaction;
// the terminal failed event is recorded separately afterwards.
func (r *RunRepository) SaveTx(ctx context.Context, tx *sql.Tx, run harness.AgentRun) error {
	results, err := json.Marshal(run.AcceptanceResults)
	if err != nil {
		return fmt.Errorf("marshal acceptance_results: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE agent_runs SET
			status = $2, started_at = $3, completed_at = $4, turns_used = $5,
			tokens_in = $6, tokens_out = $7, retry_count = $8, error = $9,
			final_verdict = $10, acceptance_results = $11
		WHERE id = $1
	`, run.ID, string(run.Status), run.StartedAt, run.CompletedAt, run.TurnsUsed,
		run.TokensIn, run.TokensOut, run.RetryCount, run.Error, run.FinalVerdict, results)
	if err != nil {
		return fmt.Errorf("update agent_run (tx): %w", err)
	}
	return nil
}

// BeginTx starts a transaction for multi-statement orphan recovery.
func (r *RunRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}

// SaveWithTx saves run inside its own transaction, committing on success
// and rolling back on any error — the single-method surface
// pkg/orphan.TxRunSaver depends on, so that package never has to hold or
// fake a raw *sql.Tx.
func (r *RunRepository) SaveWithTx(ctx context.Context, run harness.AgentRun) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := r.SaveTx(ctx, tx, run); err != nil {
		return err
	}
	return tx.Commit()
}

// ListActive returns every run currently in pending or running state —
// the candidate set orphan recovery scans for staleness.
func (r *RunRepository) ListActive(ctx context.Context) ([]harness.AgentRun, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, agent_spec_id, status, started_at, completed_at, turns_used, tokens_in,
		       tokens_out, retry_count, error, final_verdict, acceptance_results, created_at
		FROM agent_runs WHERE status IN ('pending', 'running')
	`)
	if err != nil {
		return nil, fmt.Errorf("query active agent_runs: %w", err)
	}
	defer rows.Close()

	var out []harness.AgentRun
	for rows.Next() {
		var (
			run     harness.AgentRun
			status  string
			results []byte
		)
		if err := rows.Scan(&run.ID, &run.AgentSpecID, &status, &run.StartedAt, &run.CompletedAt,
			&run.TurnsUsed, &run.TokensIn, &run.TokensOut, &run.RetryCount, &run.Error,
			&run.FinalVerdict, &results, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent_run: %w", err)
		}
		run.Status = harness.RunStatus(status)
		if len(results) > 0 {
			if err := json.Unmarshal(results, &run.AcceptanceResults); err != nil {
				return nil, fmt.Errorf("unmarshal acceptance_results: %w", err)
			}
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Now is overridable in tests; production code should prefer passing an
// explicit time.Time where practical.
var Now = func() time.Time { return time.Now().UTC() }
