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

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CreateProject inserts a new project
func (db *DB) CreateProject(ctx context.Context, p *store.Project) error {
	tags, err := marshalJSON(nonNilTags(p.Tags))
	if err != nil {
		return err
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO projects (id, client_name, notes, tags, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.ClientName, p.Notes, tags, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetProject retrieves a project with its iterations and saved plays
func (db *DB) GetProject(ctx context.Context, id string) (*store.Project, error) {
	return getProject(ctx, db.pool, id)
}

// ListProjects retrieves all projects, most recently updated first
func (db *DB) ListProjects(ctx context.Context) ([]*store.Project, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id FROM projects ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	projects := make([]*store.Project, 0, len(ids))
	for _, id := range ids {
		p, err := getProject(ctx, db.pool, id)
		if errors.Is(err, store.ErrNotFound) {
			continue // deleted concurrently
		}
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}

// UpdateProject applies patch and bumps updated_at
func (db *DB) UpdateProject(ctx context.Context, id string, patch store.ProjectPatch, at time.Time) (*store.Project, error) {
	var tags []byte
	if patch.Tags != nil {
		var err error
		if tags, err = marshalJSON(nonNilTags(*patch.Tags)); err != nil {
			return nil, err
		}
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE projects
		 SET client_name = COALESCE($2, client_name),
		     notes = COALESCE($3, notes),
		     tags = COALESCE($4::jsonb, tags),
		     updated_at = $5
		 WHERE id = $1`,
		id, patch.ClientName, patch.Notes, tags, at,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("project %s: %w", id, store.ErrNotFound)
	}
	return db.GetProject(ctx, id)
}

// DeleteProject removes a project; its runs are unlinked by the foreign key
func (db *DB) DeleteProject(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// AddIteration links runID to the project; linking twice is a no-op
func (db *DB) AddIteration(ctx context.Context, projectID, runID string, at time.Time) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockProject(ctx, tx, projectID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO project_iterations (project_id, run_id, linked_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (project_id, run_id) DO NOTHING`,
		projectID, runID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to link iteration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `UPDATE projects SET updated_at = $2 WHERE id = $1`, projectID, at); err != nil {
		return fmt.Errorf("failed to touch project: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE prospect_runs SET project_id = $2 WHERE id = $1`, runID, projectID); err != nil {
		return fmt.Errorf("failed to link run: %w", err)
	}
	return tx.Commit(ctx)
}

// AddSavedPlay stores a saved play snapshot
func (db *DB) AddSavedPlay(ctx context.Context, projectID string, play store.SavedPlay, at time.Time) error {
	data, err := marshalJSON(play.Play)
	if err != nil {
		return err
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockProject(ctx, tx, projectID); err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO saved_plays (id, project_id, iteration_id, play_data, notes, saved_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		play.ID, projectID, play.IterationID, data, play.Notes, play.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save play: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE projects SET updated_at = $2 WHERE id = $1`, projectID, at); err != nil {
		return fmt.Errorf("failed to touch project: %w", err)
	}
	return tx.Commit(ctx)
}

// RemoveSavedPlay deletes a saved play, reporting whether it existed
func (db *DB) RemoveSavedPlay(ctx context.Context, projectID, playID string, at time.Time) (bool, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockProject(ctx, tx, projectID); err != nil {
		return false, err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM saved_plays WHERE id = $1 AND project_id = $2`, playID, projectID)
	if err != nil {
		return false, fmt.Errorf("failed to remove saved play: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `UPDATE projects SET updated_at = $2 WHERE id = $1`, projectID, at); err != nil {
		return false, fmt.Errorf("failed to touch project: %w", err)
	}
	return true, tx.Commit(ctx)
}

func lockProject(ctx context.Context, tx pgx.Tx, id string) error {
	var found string
	err := tx.QueryRow(ctx, `SELECT id FROM projects WHERE id = $1 FOR UPDATE`, id).Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("project %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock project: %w", err)
	}
	return nil
}

func getProject(ctx context.Context, q querier, id string) (*store.Project, error) {
	var (
		p        store.Project
		tagsJSON []byte
	)
	err := q.QueryRow(ctx,
		`SELECT id, client_name, notes, tags, created_at, updated_at FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.ClientName, &p.Notes, &tagsJSON, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("project %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	if err := json.Unmarshal(tagsJSON, &p.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}

	iterations, err := q.Query(ctx,
		`SELECT run_id FROM project_iterations WHERE project_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list iterations: %w", err)
	}
	for iterations.Next() {
		var runID string
		if err := iterations.Scan(&runID); err != nil {
			iterations.Close()
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		p.IterationIDs = append(p.IterationIDs, runID)
	}
	iterations.Close()
	if err := iterations.Err(); err != nil {
		return nil, fmt.Errorf("failed to list iterations: %w", err)
	}

	plays, err := q.Query(ctx,
		`SELECT id, iteration_id, play_data, notes, saved_at
		 FROM saved_plays WHERE project_id = $1 ORDER BY saved_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved plays: %w", err)
	}
	defer plays.Close()
	for plays.Next() {
		var (
			sp   store.SavedPlay
			data []byte
		)
		if err := plays.Scan(&sp.ID, &sp.IterationID, &data, &sp.Notes, &sp.SavedAt); err != nil {
			return nil, fmt.Errorf("failed to scan saved play: %w", err)
		}
		if err := json.Unmarshal(data, &sp.Play); err != nil {
			return nil, fmt.Errorf("failed to decode saved play: %w", err)
		}
		p.SavedPlays = append(p.SavedPlays, sp)
	}
	if err := plays.Err(); err != nil {
		return nil, fmt.Errorf("failed to list saved plays: %w", err)
	}
	return &p, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
