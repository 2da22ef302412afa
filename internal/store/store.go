// Package store defines the durable records for runs and projects and the
// repository interfaces that persist them.
package store

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

// Sentinel errors returned by repositories.
var (
	ErrNotFound    = errors.New("not found")
	ErrRunTerminal = errors.New("run already finished")
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run statuses
const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RunInput holds the caller-supplied inputs of a run.
type RunInput struct {
	ClientName         string `json:"client_name"`
	PastSalesHistory   string `json:"past_sales_history"`
	BaseResearchPrompt string `json:"base_research_prompt"`
}

// RunResults holds every pipeline output copied into a completed run.
type RunResults struct {
	DeepResearchReport     string                  `json:"deep_research_report"`
	ResearchCitations      []types.Citation        `json:"research_citations"`
	ClientVertical         string                  `json:"client_vertical"`
	ClientDomain           string                  `json:"client_domain"`
	MaturityLevel          int                     `json:"maturity_level"`
	DigitalMaturitySummary string                  `json:"digital_maturity_summary"`
	SimilarVerticals       []types.HistoricalPlay  `json:"similar_verticals"`
	SimilarPlays           []types.HistoricalPlay  `json:"similar_plays"`
	CompetitorProofs       []types.CompetitorProof `json:"competitor_proofs"`
	HistoryGaps            []string                `json:"history_gaps"`
	HistorySynthesis       string                  `json:"history_synthesis"`
	RawIdeas               []types.SalesPlay       `json:"raw_ideas"`
	RefinedPlays           []types.SalesPlay       `json:"refined_plays"`
	OnePagers              map[string]string       `json:"one_pagers"`
	StrategicPlan          string                  `json:"strategic_plan"`
	Errors                 []string                `json:"errors"`
}

// Clone returns a deep copy.
func (r RunResults) Clone() RunResults {
	out := r
	out.ResearchCitations = cloneSlice(r.ResearchCitations)
	out.SimilarVerticals = cloneSlice(r.SimilarVerticals)
	out.SimilarPlays = cloneSlice(r.SimilarPlays)
	out.CompetitorProofs = cloneSlice(r.CompetitorProofs)
	out.HistoryGaps = cloneSlice(r.HistoryGaps)
	out.RawIdeas = types.ClonePlays(r.RawIdeas)
	out.RefinedPlays = types.ClonePlays(r.RefinedPlays)
	if r.OnePagers != nil {
		out.OnePagers = maps.Clone(r.OnePagers)
	}
	out.Errors = cloneSlice(r.Errors)
	return out
}

// Run is the persistent record of one pipeline execution.
type Run struct {
	ID          string     `json:"run_id"`
	ProjectID   string     `json:"project_id,omitempty"`
	ClientName  string     `json:"client_name"`
	Status      RunStatus  `json:"status"`
	CurrentStep string     `json:"current_step"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	PlaysCount  int        `json:"plays_count"`
	Error       string     `json:"error,omitempty"`
	Input       RunInput   `json:"input"`
	Results     RunResults `json:"results"`
}

// Clone returns a deep copy.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	out := *r
	out.StartedAt = cloneTime(r.StartedAt)
	out.CompletedAt = cloneTime(r.CompletedAt)
	out.Results = r.Results.Clone()
	return &out
}

// RunSummary is the list projection of a run.
type RunSummary struct {
	ID          string     `json:"run_id"`
	ProjectID   string     `json:"project_id,omitempty"`
	ClientName  string     `json:"client_name"`
	Status      RunStatus  `json:"status"`
	CurrentStep string     `json:"current_step"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	PlaysCount  int        `json:"plays_count"`
	Error       string     `json:"error,omitempty"`
}

// Summary projects r for listings.
func (r *Run) Summary() RunSummary {
	return RunSummary{
		ID:          r.ID,
		ProjectID:   r.ProjectID,
		ClientName:  r.ClientName,
		Status:      r.Status,
		CurrentStep: r.CurrentStep,
		CreatedAt:   r.CreatedAt,
		CompletedAt: cloneTime(r.CompletedAt),
		PlaysCount:  r.PlaysCount,
		Error:       r.Error,
	}
}

// SavedPlay is a project-scoped snapshot of a generated play.
type SavedPlay struct {
	ID          string          `json:"play_id"`
	IterationID string          `json:"iteration_id"`
	Play        types.SalesPlay `json:"play_data"`
	Notes       string          `json:"notes"`
	SavedAt     time.Time       `json:"saved_at"`
}

// Project groups the iterations run for one client relationship.
type Project struct {
	ID           string      `json:"project_id"`
	ClientName   string      `json:"client_name"`
	Notes        string      `json:"notes"`
	Tags         []string    `json:"tags"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	IterationIDs []string    `json:"iteration_ids"`
	SavedPlays   []SavedPlay `json:"saved_plays"`
}

// Clone returns a deep copy.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	out := *p
	out.Tags = cloneSlice(p.Tags)
	out.IterationIDs = cloneSlice(p.IterationIDs)
	if p.SavedPlays != nil {
		out.SavedPlays = make([]SavedPlay, len(p.SavedPlays))
		for i, sp := range p.SavedPlays {
			sp.Play = sp.Play.Clone()
			out.SavedPlays[i] = sp
		}
	}
	return &out
}

// HasIteration reports whether runID is linked to p.
func (p *Project) HasIteration(runID string) bool {
	for _, id := range p.IterationIDs {
		if id == runID {
			return true
		}
	}
	return false
}

// LatestIteration returns the most recently linked run ID, or "".
func (p *Project) LatestIteration() string {
	if len(p.IterationIDs) == 0 {
		return ""
	}
	return p.IterationIDs[len(p.IterationIDs)-1]
}

// ProjectPatch edits project metadata. Nil fields are left unchanged.
type ProjectPatch struct {
	ClientName *string
	Notes      *string
	Tags       *[]string
}

// RunRepository persists runs.
type RunRepository interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context) ([]*Run, error)
	MarkRunning(ctx context.Context, id string, at time.Time) error
	UpdateStep(ctx context.Context, id, step string) error
	CompleteRun(ctx context.Context, id, step string, results RunResults, at time.Time) error
	FailRun(ctx context.Context, id, step, errText string, at time.Time) error
}

// ProjectRepository persists projects and their saved plays.
type ProjectRepository interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	// ListProjects returns projects most recently updated first.
	ListProjects(ctx context.Context) ([]*Project, error)
	UpdateProject(ctx context.Context, id string, patch ProjectPatch, at time.Time) (*Project, error)
	DeleteProject(ctx context.Context, id string) error
	// AddIteration links runID to the project; linking twice is a no-op.
	AddIteration(ctx context.Context, projectID, runID string, at time.Time) error
	AddSavedPlay(ctx context.Context, projectID string, play SavedPlay, at time.Time) error
	RemoveSavedPlay(ctx context.Context, projectID, playID string, at time.Time) (bool, error)
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append([]T(nil), s...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
