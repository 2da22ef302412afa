// Package projects groups prospecting runs into projects, tracks their
// iteration history, and keeps curated snapshots of generated plays.
package projects

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/store"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

// Sentinel errors for project operations.
var (
	ErrParentNotCompleted  = errors.New("parent iteration is not completed")
	ErrRunNotCompleted     = errors.New("run is not completed")
	ErrPlayIndexOutOfRange = errors.New("play index out of range")
	ErrNoParentIteration   = errors.New("project has no iteration to build on")
)

// RunStarter launches pipeline runs.
type RunStarter interface {
	Start(ctx context.Context, input store.RunInput, projectID string) (*store.Run, error)
}

// Summary is the list projection of a project.
type Summary struct {
	ID              string          `json:"project_id"`
	ClientName      string          `json:"client_name"`
	Tags            []string        `json:"tags"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	IterationCount  int             `json:"iteration_count"`
	LatestStatus    store.RunStatus `json:"latest_status,omitempty"`
	SavedPlaysCount int             `json:"saved_plays_count"`
}

// Detail is a project with its iterations resolved to run summaries.
type Detail struct {
	Summary
	Notes      string             `json:"notes"`
	Iterations []store.RunSummary `json:"iterations"`
	SavedPlays []store.SavedPlay  `json:"saved_plays"`
}

// Config holds service collaborators.
type Config struct {
	Projects store.ProjectRepository
	Runs     store.RunRepository
	Starter  RunStarter
	Logger   *zap.Logger
	Now      func() time.Time
	NewID    func() string
}

// Service implements project and iteration operations.
type Service struct {
	projects store.ProjectRepository
	runs     store.RunRepository
	starter  RunStarter
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// NewService creates a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Projects == nil || cfg.Runs == nil {
		return nil, errors.New("projects: repositories are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Service{
		projects: cfg.Projects,
		runs:     cfg.Runs,
		starter:  cfg.Starter,
		logger:   cfg.Logger,
		now:      cfg.Now,
		newID:    cfg.NewID,
	}, nil
}

// Create stores a new project.
func (s *Service) Create(ctx context.Context, req types.CreateProjectRequest) (*store.Project, error) {
	now := s.now()
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}
	p := &store.Project{
		ID:         s.newID(),
		ClientName: req.ClientName,
		Notes:      req.Notes,
		Tags:       tags,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.projects.CreateProject(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	s.logger.Info("project created", zap.String("project_id", p.ID), zap.String("client", p.ClientName))
	return p, nil
}

// Get returns a project with its iterations resolved.
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	p, err := s.projects.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, p), nil
}

// List returns project summaries, most recently updated first.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	all, err := s.projects.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, len(all))
	for i, p := range all {
		out[i] = s.summarize(ctx, p)
	}
	return out, nil
}

// Update edits project metadata.
func (s *Service) Update(ctx context.Context, id string, req types.UpdateProjectRequest) (*Detail, error) {
	patch := store.ProjectPatch{ClientName: req.ClientName, Notes: req.Notes}
	if req.Tags != nil {
		tags := req.Tags
		patch.Tags = &tags
	}
	p, err := s.projects.UpdateProject(ctx, id, patch, s.now())
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, p), nil
}

// Delete removes a project. Its runs remain but are unlinked.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.projects.DeleteProject(ctx, id)
}

// AddIteration links an existing run to a project. Linking twice is a no-op.
func (s *Service) AddIteration(ctx context.Context, projectID, runID string) error {
	if _, err := s.runs.GetRun(ctx, runID); err != nil {
		return err
	}
	return s.projects.AddIteration(ctx, projectID, runID, s.now())
}

// StartRun starts a standalone run, optionally inside an existing project or
// a project created for it.
func (s *Service) StartRun(ctx context.Context, req types.ProspectRequest) (*store.Run, error) {
	input := store.RunInput{
		ClientName:         req.ClientName,
		PastSalesHistory:   req.PastSalesHistory,
		BaseResearchPrompt: req.BaseResearchPrompt,
	}

	projectID := req.ProjectID
	switch {
	case projectID != "":
		if _, err := s.projects.GetProject(ctx, projectID); err != nil {
			return nil, err
		}
	case req.CreateProject:
		p, err := s.Create(ctx, types.CreateProjectRequest{ClientName: req.ClientName})
		if err != nil {
			return nil, err
		}
		projectID = p.ID
	}
	return s.launch(ctx, input, projectID)
}

// StartIteration starts a new run inside a project. With BuildOnPrevious the
// parent's research and competitor evidence are prepended to the sales
// history; the parent defaults to the latest iteration.
func (s *Service) StartIteration(ctx context.Context, projectID string, req types.StartIterationRequest) (*store.Run, error) {
	p, err := s.projects.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	input := store.RunInput{
		ClientName:         req.ClientName,
		PastSalesHistory:   req.PastSalesHistory,
		BaseResearchPrompt: req.BaseResearchPrompt,
	}
	if input.ClientName == "" {
		input.ClientName = p.ClientName
	}

	if req.BuildOnPrevious {
		parentID := req.ParentIterationID
		if parentID == "" {
			parentID = p.LatestIteration()
		}
		if parentID == "" {
			return nil, ErrNoParentIteration
		}
		if !p.HasIteration(parentID) {
			return nil, fmt.Errorf("iteration %s in project %s: %w", parentID, projectID, store.ErrNotFound)
		}
		parent, err := s.runs.GetRun(ctx, parentID)
		if err != nil {
			return nil, err
		}
		if parent.Status != store.StatusCompleted {
			return nil, fmt.Errorf("iteration %s is %s: %w", parentID, parent.Status, ErrParentNotCompleted)
		}
		input.PastSalesHistory = BuildOnPrevious(parent, input.PastSalesHistory)
	}

	return s.launch(ctx, input, projectID)
}

func (s *Service) launch(ctx context.Context, input store.RunInput, projectID string) (*store.Run, error) {
	if s.starter == nil {
		return nil, errors.New("projects: no run starter configured")
	}
	run, err := s.starter.Start(ctx, input, projectID)
	if err != nil {
		return nil, err
	}
	if projectID == "" {
		return run, nil
	}
	if err := s.projects.AddIteration(ctx, projectID, run.ID, s.now()); err != nil {
		return nil, fmt.Errorf("failed to link run %s: %w", run.ID, err)
	}
	run.ProjectID = projectID
	return run, nil
}

// SavePlay copies one refined play of a completed iteration into the project.
func (s *Service) SavePlay(ctx context.Context, projectID string, req types.SavePlayRequest) (*store.SavedPlay, error) {
	p, err := s.projects.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !p.HasIteration(req.IterationID) {
		return nil, fmt.Errorf("iteration %s in project %s: %w", req.IterationID, projectID, store.ErrNotFound)
	}
	run, err := s.runs.GetRun(ctx, req.IterationID)
	if err != nil {
		return nil, err
	}
	if run.Status != store.StatusCompleted {
		return nil, fmt.Errorf("iteration %s is %s: %w", run.ID, run.Status, ErrRunNotCompleted)
	}
	if req.PlayIndex < 0 || req.PlayIndex >= len(run.Results.RefinedPlays) {
		return nil, fmt.Errorf("index %d of %d plays: %w", req.PlayIndex, len(run.Results.RefinedPlays), ErrPlayIndexOutOfRange)
	}

	now := s.now()
	saved := store.SavedPlay{
		ID:          s.newID(),
		IterationID: run.ID,
		Play:        run.Results.RefinedPlays[req.PlayIndex].Clone(),
		Notes:       req.Notes,
		SavedAt:     now,
	}
	if err := s.projects.AddSavedPlay(ctx, projectID, saved, now); err != nil {
		return nil, fmt.Errorf("failed to save play: %w", err)
	}
	return &saved, nil
}

// RemoveSavedPlay deletes a saved play, reporting whether it existed.
func (s *Service) RemoveSavedPlay(ctx context.Context, projectID, playID string) (bool, error) {
	return s.projects.RemoveSavedPlay(ctx, projectID, playID, s.now())
}

func (s *Service) summarize(ctx context.Context, p *store.Project) Summary {
	sum := Summary{
		ID:              p.ID,
		ClientName:      p.ClientName,
		Tags:            p.Tags,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
		IterationCount:  len(p.IterationIDs),
		SavedPlaysCount: len(p.SavedPlays),
	}
	if sum.Tags == nil {
		sum.Tags = []string{}
	}
	if latest := p.LatestIteration(); latest != "" {
		if run, err := s.runs.GetRun(ctx, latest); err == nil {
			sum.LatestStatus = run.Status
		} else {
			s.logger.Warn("latest iteration missing", zap.String("project_id", p.ID), zap.String("run_id", latest), zap.Error(err))
		}
	}
	return sum
}

func (s *Service) detail(ctx context.Context, p *store.Project) *Detail {
	d := &Detail{
		Summary:    s.summarize(ctx, p),
		Notes:      p.Notes,
		Iterations: make([]store.RunSummary, 0, len(p.IterationIDs)),
		SavedPlays: p.SavedPlays,
	}
	if d.SavedPlays == nil {
		d.SavedPlays = []store.SavedPlay{}
	}
	for _, id := range p.IterationIDs {
		run, err := s.runs.GetRun(ctx, id)
		if err != nil {
			s.logger.Warn("iteration missing", zap.String("project_id", p.ID), zap.String("run_id", id), zap.Error(err))
			continue
		}
		d.Iterations = append(d.Iterations, run.Summary())
	}
	return d
}

// BuildOnPrevious prepends the parent's research report and competitor
// evidence to history.
func BuildOnPrevious(parent *store.Run, history string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "--- Previous iteration %s ---\n", parent.ID)
	sb.WriteString("Research report:\n")
	sb.WriteString(parent.Results.DeepResearchReport)
	sb.WriteString("\n")
	if len(parent.Results.CompetitorProofs) > 0 {
		sb.WriteString("\nCompetitor proofs:\n")
		for _, p := range parent.Results.CompetitorProofs {
			fmt.Fprintf(&sb, "- %s: %s → %s\n", p.CompetitorName, p.UseCase, p.Outcome)
		}
	}
	sb.WriteString("--- End previous iteration ---")
	if h := strings.TrimSpace(history); h != "" {
		sb.WriteString("\n\n")
		sb.WriteString(h)
	}
	return sb.String()
}
