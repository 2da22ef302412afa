package projects

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/store"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/store/inmem"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

// fakeStarter records started runs as pending without executing them.
type fakeStarter struct {
	repo   *inmem.Store
	inputs []store.RunInput
	seq    int
}

func (f *fakeStarter) Start(ctx context.Context, input store.RunInput, projectID string) (*store.Run, error) {
	f.seq++
	f.inputs = append(f.inputs, input)
	run := &store.Run{
		ID:         fmt.Sprintf("run-%d", f.seq),
		ProjectID:  projectID,
		ClientName: input.ClientName,
		Status:     store.StatusPending,
		CreatedAt:  time.Now(),
		Input:      input,
	}
	if err := f.repo.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	return run.Clone(), nil
}

type fixture struct {
	svc     *Service
	repo    *inmem.Store
	starter *fakeStarter
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{repo: inmem.New(), clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	f.starter = &fakeStarter{repo: f.repo}
	var ids int
	svc, err := NewService(Config{
		Projects: f.repo,
		Runs:     f.repo,
		Starter:  f.starter,
		Now: func() time.Time {
			f.clock = f.clock.Add(time.Second)
			return f.clock
		},
		NewID: func() string {
			ids++
			return fmt.Sprintf("id-%d", ids)
		},
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) complete(t *testing.T, runID string, plays ...types.SalesPlay) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.repo.MarkRunning(ctx, runID, f.clock))
	require.NoError(t, f.repo.CompleteRun(ctx, runID, "complete", store.RunResults{
		DeepResearchReport: "Acme is modernizing its warehouse network.",
		CompetitorProofs: []types.CompetitorProof{
			{CompetitorName: "Globex", UseCase: "demand forecasting", Outcome: "12% less stockout"},
		},
		RefinedPlays: plays,
	}, f.clock))
}

func TestService_CreateAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Create(ctx, types.CreateProjectRequest{ClientName: "Acme", Notes: "Q3"})
	require.NoError(t, err)
	assert.Equal(t, []string{}, p.Tags)

	d, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", d.ClientName)
	assert.Equal(t, "Q3", d.Notes)
	assert.Empty(t, d.Iterations)
	assert.Empty(t, d.LatestStatus)

	_, err = f.svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_StartRunVariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plain, err := f.svc.StartRun(ctx, types.ProspectRequest{ClientName: "Acme"})
	require.NoError(t, err)
	assert.Empty(t, plain.ProjectID)

	created, err := f.svc.StartRun(ctx, types.ProspectRequest{ClientName: "Acme", CreateProject: true})
	require.NoError(t, err)
	require.NotEmpty(t, created.ProjectID)

	d, err := f.svc.Get(ctx, created.ProjectID)
	require.NoError(t, err)
	require.Len(t, d.Iterations, 1)
	assert.Equal(t, created.ID, d.Iterations[0].ID)
	assert.Equal(t, store.StatusPending, d.LatestStatus)

	_, err = f.svc.StartRun(ctx, types.ProspectRequest{ClientName: "Acme", ProjectID: "missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_StartIterationBuildsOnPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Create(ctx, types.CreateProjectRequest{ClientName: "Acme"})
	require.NoError(t, err)

	first, err := f.svc.StartIteration(ctx, p.ID, types.StartIterationRequest{})
	require.NoError(t, err)
	assert.Equal(t, "Acme", first.ClientName, "client defaults to the project's")

	_, err = f.svc.StartIteration(ctx, p.ID, types.StartIterationRequest{BuildOnPrevious: true})
	assert.ErrorIs(t, err, ErrParentNotCompleted)

	f.complete(t, first.ID, types.SalesPlay{Title: "A"})
	second, err := f.svc.StartIteration(ctx, p.ID, types.StartIterationRequest{
		PastSalesHistory: "Closed a data platform deal in 2024.",
		BuildOnPrevious:  true,
	})
	require.NoError(t, err)

	history := f.starter.inputs[len(f.starter.inputs)-1].PastSalesHistory
	assert.Contains(t, history, "Previous iteration "+first.ID)
	assert.Contains(t, history, "warehouse network")
	assert.Contains(t, history, "- Globex: demand forecasting → 12% less stockout")
	assert.Contains(t, history, "Closed a data platform deal in 2024.")
	assert.Less(t, strings.Index(history, "warehouse"), strings.Index(history, "data platform"))

	d, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, d.Iterations, 2)
	assert.Equal(t, second.ID, d.Iterations[1].ID)
}

func TestService_StartIterationErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Create(ctx, types.CreateProjectRequest{ClientName: "Acme"})
	require.NoError(t, err)

	_, err = f.svc.StartIteration(ctx, p.ID, types.StartIterationRequest{BuildOnPrevious: true})
	assert.ErrorIs(t, err, ErrNoParentIteration)

	_, err = f.svc.StartIteration(ctx, p.ID, types.StartIterationRequest{BuildOnPrevious: true, ParentIterationID: "stranger"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.StartIteration(ctx, "missing", types.StartIterationRequest{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_SavePlay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Create(ctx, types.CreateProjectRequest{ClientName: "Acme"})
	require.NoError(t, err)
	run, err := f.svc.StartIteration(ctx, p.ID, types.StartIterationRequest{})
	require.NoError(t, err)

	_, err = f.svc.SavePlay(ctx, p.ID, types.SavePlayRequest{IterationID: run.ID})
	assert.ErrorIs(t, err, ErrRunNotCompleted)

	f.complete(t, run.ID, types.SalesPlay{Title: "A", TechnicalStack: []string{"Go"}}, types.SalesPlay{Title: "B"})

	tests := []struct {
		name  string
		index int
	}{
		{"negative", -1},
		{"past end", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SavePlay(ctx, p.ID, types.SavePlayRequest{IterationID: run.ID, PlayIndex: tt.index})
			assert.ErrorIs(t, err, ErrPlayIndexOutOfRange)
		})
	}

	saved, err := f.svc.SavePlay(ctx, p.ID, types.SavePlayRequest{IterationID: run.ID, PlayIndex: 1, Notes: "lead with this"})
	require.NoError(t, err)
	assert.Equal(t, "B", saved.Play.Title)
	assert.Equal(t, run.ID, saved.IterationID)
	assert.NotEmpty(t, saved.ID)

	_, err = f.svc.SavePlay(ctx, p.ID, types.SavePlayRequest{IterationID: "other"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	d, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, d.SavedPlays, 1)
	assert.Equal(t, 1, d.SavedPlaysCount)
	assert.Equal(t, store.StatusCompleted, d.LatestStatus)
}

func TestService_SavedPlayIsSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _ := f.svc.Create(ctx, types.CreateProjectRequest{ClientName: "Acme"})
	run, _ := f.svc.StartIteration(ctx, p.ID, types.StartIterationRequest{})
	f.complete(t, run.ID, types.SalesPlay{Title: "A", TechnicalStack: []string{"Go"}})

	saved, err := f.svc.SavePlay(ctx, p.ID, types.SavePlayRequest{IterationID: run.ID})
	require.NoError(t, err)
	saved.Play.TechnicalStack[0] = "mutated"

	d, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Go", d.SavedPlays[0].Play.TechnicalStack[0])
}

func TestService_RemoveSavedPlay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _ := f.svc.Create(ctx, types.CreateProjectRequest{ClientName: "Acme"})
	run, _ := f.svc.StartIteration(ctx, p.ID, types.StartIterationRequest{})
	f.complete(t, run.ID, types.SalesPlay{Title: "A"})
	saved, err := f.svc.SavePlay(ctx, p.ID, types.SavePlayRequest{IterationID: run.ID})
	require.NoError(t, err)

	before, _ := f.svc.Get(ctx, p.ID)
	removed, err := f.svc.RemoveSavedPlay(ctx, p.ID, saved.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	after, _ := f.svc.Get(ctx, p.ID)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))

	removed, err = f.svc.RemoveSavedPlay(ctx, p.ID, saved.ID)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestService_UpdateListDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _ := f.svc.Create(ctx, types.CreateProjectRequest{ClientName: "A"})
	b, _ := f.svc.Create(ctx, types.CreateProjectRequest{ClientName: "B"})

	notes := "renewal"
	d, err := f.svc.Update(ctx, a.ID, types.UpdateProjectRequest{Notes: &notes, Tags: []string{"hot"}})
	require.NoError(t, err)
	assert.Equal(t, "renewal", d.Notes)
	assert.Equal(t, []string{"hot"}, d.Tags)

	list, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID, "updated project sorts first")
	assert.Equal(t, b.ID, list[1].ID)

	require.NoError(t, f.svc.Delete(ctx, a.ID))
	assert.ErrorIs(t, f.svc.Delete(ctx, a.ID), store.ErrNotFound)
}

func TestService_AddIterationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _ := f.svc.Create(ctx, types.CreateProjectRequest{ClientName: "Acme"})
	run, err := f.svc.StartRun(ctx, types.ProspectRequest{ClientName: "Acme"})
	require.NoError(t, err)

	require.NoError(t, f.svc.AddIteration(ctx, p.ID, run.ID))
	require.NoError(t, f.svc.AddIteration(ctx, p.ID, run.ID))

	d, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, d.Iterations, 1)
	assert.Equal(t, 1, d.IterationCount)

	assert.ErrorIs(t, f.svc.AddIteration(ctx, p.ID, "missing"), store.ErrNotFound)
}

func TestBuildOnPrevious_ReportIsVerbatim(t *testing.T) {
	tests := []struct {
		name   string
		report string
		want   string
	}{
		{
			name:   "surrounding whitespace kept",
			report: "  report  ",
			want:   "--- Previous iteration r1 ---\nResearch report:\n  report  \n--- End previous iteration ---",
		},
		{
			name:   "trailing newlines kept",
			report: "\nline one\n\nline two\n\n",
			want:   "--- Previous iteration r1 ---\nResearch report:\n\nline one\n\nline two\n\n\n--- End previous iteration ---",
		},
		{
			name:   "empty report",
			report: "",
			want:   "--- Previous iteration r1 ---\nResearch report:\n\n--- End previous iteration ---",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent := &store.Run{ID: "r1", Results: store.RunResults{DeepResearchReport: tt.report}}
			got := BuildOnPrevious(parent, "")
			assert.Equal(t, tt.want, got)
			assert.Contains(t, got, tt.report)
		})
	}
}
