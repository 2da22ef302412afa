package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/store"
)

const runColumns = `id, project_id, client_name, status, current_step, created_at,
	started_at, completed_at, plays_count, error, input, results`

// CreateRun inserts a new run record.
func (db *DB) CreateRun(ctx context.Context, run *store.Run) error {
	input, err := marshalJSON(run.Input)
	if err != nil {
		return err
	}
	results, err := marshalJSON(run.Results)
	if err != nil {
		return err
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO prospect_runs (id, project_id, client_name, status, current_step, created_at, input, results)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, nullIfEmpty(run.ProjectID), run.ClientName, string(run.Status), run.CurrentStep,
		run.CreatedAt, input, results,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (db *DB) GetRun(ctx context.Context, id string) (*store.Run, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM prospect_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves all runs, newest first
func (db *DB) ListRuns(ctx context.Context) ([]*store.Run, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM prospect_runs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// MarkRunning moves a run to running
func (db *DB) MarkRunning(ctx context.Context, id string, at time.Time) error {
	return db.transition(ctx, id,
		`UPDATE prospect_runs SET status = 'running', started_at = $2
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		at)
}

// UpdateStep records the current step of a run
func (db *DB) UpdateStep(ctx context.Context, id, step string) error {
	return db.transition(ctx, id,
		`UPDATE prospect_runs SET current_step = $2
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		step)
}

// CompleteRun stores results and marks the run completed
func (db *DB) CompleteRun(ctx context.Context, id, step string, results store.RunResults, at time.Time) error {
	payload, err := marshalJSON(results)
	if err != nil {
		return err
	}
	return db.transition(ctx, id,
		`UPDATE prospect_runs
		 SET status = 'completed', current_step = $2, results = $3, plays_count = $4, completed_at = $5
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		step, payload, len(results.RefinedPlays), at)
}

// FailRun marks the run failed, leaving results at defaults
func (db *DB) FailRun(ctx context.Context, id, step, errText string, at time.Time) error {
	return db.transition(ctx, id,
		`UPDATE prospect_runs
		 SET status = 'failed', current_step = COALESCE(NULLIF($2, ''), current_step), error = $3, completed_at = $4
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		step, errText, at)
}

// transition runs a guarded update and distinguishes a missing run from a
// finished one when no row matched.
func (db *DB) transition(ctx context.Context, id, query string, args ...any) error {
	tag, err := db.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM prospect_runs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check run %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	return fmt.Errorf("run %s: %w", id, store.ErrRunTerminal)
}

func scanRun(row pgx.Row) (*store.Run, error) {
	var (
		run         store.Run
		projectID   *string
		status      string
		errText     *string
		inputJSON   []byte
		resultsJSON []byte
	)
	err := row.Scan(&run.ID, &projectID, &run.ClientName, &status, &run.CurrentStep, &run.CreatedAt,
		&run.StartedAt, &run.CompletedAt, &run.PlaysCount, &errText, &inputJSON, &resultsJSON)
	if err != nil {
		return nil, err
	}
	run.ProjectID = derefString(projectID)
	run.Status = store.RunStatus(status)
	run.Error = derefString(errText)
	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &run.Input); err != nil {
			return nil, fmt.Errorf("failed to decode run input: %w", err)
		}
	}
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &run.Results); err != nil {
			return nil, fmt.Errorf("failed to decode run results: %w", err)
		}
	}
	return &run, nil
}
