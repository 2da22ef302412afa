// Package inmem provides mutex-guarded in-memory repositories for runs
// and projects.
package inmem

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/store"
)

// Store implements store.RunRepository and store.ProjectRepository.
// Records are deep-copied on the way in and out.
type Store struct {
	mu       sync.Mutex
	runs     map[string]*store.Run
	projects map[string]*store.Project
}

var (
	_ store.RunRepository     = (*Store)(nil)
	_ store.ProjectRepository = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		runs:     make(map[string]*store.Run),
		projects: make(map[string]*store.Project),
	}
}

// CreateRun stores a new run.
func (s *Store) CreateRun(_ context.Context, run *store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

// GetRun returns a copy of the run.
func (s *Store) GetRun(_ context.Context, id string) (*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	return run.Clone(), nil
}

// ListRuns returns copies of all runs, newest first.
func (s *Store) ListRuns(_ context.Context) ([]*store.Run, error) {
	s.mu.Lock()
	out := make([]*store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.Clone())
	}
	s.mu.Unlock()

	slices.SortStableFunc(out, func(a, b *store.Run) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// MarkRunning moves a pending run to running.
func (s *Store) MarkRunning(_ context.Context, id string, at time.Time) error {
	return s.mutateRun(id, func(run *store.Run) {
		run.Status = store.StatusRunning
		run.StartedAt = &at
	})
}

// UpdateStep records the run's current step.
func (s *Store) UpdateStep(_ context.Context, id, step string) error {
	return s.mutateRun(id, func(run *store.Run) {
		run.CurrentStep = step
	})
}

// CompleteRun stores results and marks the run completed.
func (s *Store) CompleteRun(_ context.Context, id, step string, results store.RunResults, at time.Time) error {
	results = results.Clone()
	return s.mutateRun(id, func(run *store.Run) {
		run.Status = store.StatusCompleted
		run.CurrentStep = step
		run.Results = results
		run.PlaysCount = len(results.RefinedPlays)
		run.CompletedAt = &at
	})
}

// FailRun marks the run failed with errText, leaving results at defaults.
func (s *Store) FailRun(_ context.Context, id, step, errText string, at time.Time) error {
	return s.mutateRun(id, func(run *store.Run) {
		run.Status = store.StatusFailed
		if step != "" {
			run.CurrentStep = step
		}
		run.Error = errText
		run.CompletedAt = &at
	})
}

func (s *Store) mutateRun(id string, fn func(*store.Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s: %w", id, store.ErrRunTerminal)
	}
	fn(run)
	return nil
}

// CreateProject stores a new project.
func (s *Store) CreateProject(_ context.Context, p *store.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[p.ID]; exists {
		return fmt.Errorf("project %s already exists", p.ID)
	}
	s.projects[p.ID] = p.Clone()
	return nil
}

// GetProject returns a copy of the project.
func (s *Store) GetProject(_ context.Context, id string) (*store.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, store.ErrNotFound)
	}
	return p.Clone(), nil
}

// ListProjects returns copies of all projects, most recently updated first.
func (s *Store) ListProjects(_ context.Context) ([]*store.Project, error) {
	s.mu.Lock()
	out := make([]*store.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p.Clone())
	}
	s.mu.Unlock()

	slices.SortStableFunc(out, func(a, b *store.Project) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// UpdateProject applies patch and bumps updated_at.
func (s *Store) UpdateProject(_ context.Context, id string, patch store.ProjectPatch, at time.Time) (*store.Project, error) {
	var out *store.Project
	err := s.mutateProject(id, at, func(p *store.Project) {
		if patch.ClientName != nil {
			p.ClientName = *patch.ClientName
		}
		if patch.Notes != nil {
			p.Notes = *patch.Notes
		}
		if patch.Tags != nil {
			p.Tags = append([]string(nil), (*patch.Tags)...)
		}
		p.UpdatedAt = at
		out = p.Clone()
	})
	return out, err
}

// DeleteProject removes the project and unlinks its runs.
func (s *Store) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return fmt.Errorf("project %s: %w", id, store.ErrNotFound)
	}
	delete(s.projects, id)
	for _, run := range s.runs {
		if run.ProjectID == id {
			run.ProjectID = ""
		}
	}
	return nil
}

// AddIteration links runID to the project. Linking twice is a no-op.
func (s *Store) AddIteration(_ context.Context, projectID, runID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return fmt.Errorf("project %s: %w", projectID, store.ErrNotFound)
	}
	if p.HasIteration(runID) {
		return nil
	}
	p.IterationIDs = append(p.IterationIDs, runID)
	p.UpdatedAt = at
	if run, ok := s.runs[runID]; ok {
		run.ProjectID = projectID
	}
	return nil
}

// AddSavedPlay appends a saved play snapshot.
func (s *Store) AddSavedPlay(_ context.Context, projectID string, play store.SavedPlay, at time.Time) error {
	play.Play = play.Play.Clone()
	return s.mutateProject(projectID, at, func(p *store.Project) {
		p.SavedPlays = append(p.SavedPlays, play)
	})
}

// RemoveSavedPlay deletes a saved play, reporting whether it existed.
func (s *Store) RemoveSavedPlay(_ context.Context, projectID, playID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return false, fmt.Errorf("project %s: %w", projectID, store.ErrNotFound)
	}
	idx := slices.IndexFunc(p.SavedPlays, func(sp store.SavedPlay) bool { return sp.ID == playID })
	if idx < 0 {
		return false, nil
	}
	p.SavedPlays = slices.Delete(p.SavedPlays, idx, idx+1)
	p.UpdatedAt = at
	return true, nil
}

func (s *Store) mutateProject(id string, at time.Time, fn func(*store.Project)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return fmt.Errorf("project %s: %w", id, store.ErrNotFound)
	}
	fn(p)
	p.UpdatedAt = at
	return nil
}
