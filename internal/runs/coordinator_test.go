package runs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/dispatch"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/pipeline"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/pipeline/steps"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/store"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/store/inmem"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

type countingRecorder struct {
	mu     sync.Mutex
	runs   map[store.RunStatus]int
	stages map[string]int
}

func (r *countingRecorder) RecordRun(_ context.Context, status store.RunStatus, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[status]++
}

func (r *countingRecorder) RecordStage(_ context.Context, node, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[node+"/"+status]++
}

// manualDispatcher holds tasks until the test releases them so subscribers
// can attach before execution starts.
type manualDispatcher struct {
	mu     sync.Mutex
	tasks  []dispatch.Task
	closed bool
}

func (d *manualDispatcher) Submit(task dispatch.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return dispatch.ErrPoolClosed
	}
	d.tasks = append(d.tasks, task)
	return nil
}

func (d *manualDispatcher) runAll() {
	d.mu.Lock()
	tasks := d.tasks
	d.tasks = nil
	d.mu.Unlock()
	for _, task := range tasks {
		task(context.Background())
	}
}

type harness struct {
	coord      *Coordinator
	repo       *inmem.Store
	dispatcher *manualDispatcher
	recorder   *countingRecorder
}

func twoNodeEngine(t *testing.T, research pipeline.StageFunc) *pipeline.Engine {
	t.Helper()
	g, err := pipeline.NewGraph(
		pipeline.Node{Name: steps.InputProcessor, Stage: pipeline.StageFunc(func(context.Context, pipeline.RunState) (pipeline.Patch, pipeline.Outcome) {
			return pipeline.Patch{CurrentStep: pipeline.StepInputProcessed}, pipeline.Continue
		})},
		pipeline.Node{Name: steps.DeepResearch, Stage: research},
	)
	require.NoError(t, err)
	return pipeline.NewEngine(g, nil)
}

func succeedingResearch(_ context.Context, st pipeline.RunState) (pipeline.Patch, pipeline.Outcome) {
	report := "report for " + st.ClientName
	plays := []types.SalesPlay{{Title: "A"}, {Title: "B"}}
	return pipeline.Patch{
		DeepResearchReport: &report,
		RefinedPlays:       &plays,
		CurrentStep:        pipeline.StepComplete,
	}, pipeline.Continue
}

func newHarness(t *testing.T, research pipeline.StageFunc) *harness {
	t.Helper()
	h := &harness{
		repo:       inmem.New(),
		dispatcher: &manualDispatcher{},
		recorder:   &countingRecorder{runs: map[store.RunStatus]int{}, stages: map[string]int{}},
	}
	var seq int
	var mu sync.Mutex
	coord, err := NewCoordinator(Config{
		Runs:       h.repo,
		Engine:     twoNodeEngine(t, research),
		Dispatcher: h.dispatcher,
		Recorder:   h.recorder,
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("run-%d", seq)
		},
	})
	require.NoError(t, err)
	h.coord = coord
	return h
}

func drain(t *testing.T, sub *Subscription) []ProgressEvent {
	t.Helper()
	defer sub.Unsubscribe()
	var events []ProgressEvent
	for {
		msg := next(t, sub)
		if msg.Kind == MessageClosed {
			return events
		}
		events = append(events, msg.Event)
	}
}

func summarize(events []ProgressEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Node + "/" + string(ev.Status)
	}
	return out
}

func TestCoordinator_StartCompletesRun(t *testing.T) {
	h := newHarness(t, succeedingResearch)
	ctx := context.Background()

	run, err := h.coord.Start(ctx, store.RunInput{ClientName: "Acme"}, "")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, run.Status)

	sub, err := h.coord.Subscribe(ctx, run.ID)
	require.NoError(t, err)
	h.dispatcher.runAll()
	events := drain(t, sub)

	assert.Equal(t, []string{
		"input_processor/pending",
		"deep_research/pending",
		"pipeline/started",
		"input_processor/started",
		"input_processor/completed",
		"deep_research/started",
		"deep_research/completed",
		"pipeline/completed",
	}, summarize(events))

	got, err := h.coord.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, got.Status)
	assert.Equal(t, pipeline.StepComplete, got.CurrentStep)
	assert.Equal(t, "report for Acme", got.Results.DeepResearchReport)
	assert.Equal(t, 2, got.PlaysCount)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.Error)
	assert.Equal(t, 1, h.recorder.runs[store.StatusCompleted])
	assert.Equal(t, 1, h.recorder.stages["deep_research/completed"])
}

func TestCoordinator_StageFailureFailsRun(t *testing.T) {
	h := newHarness(t, func(context.Context, pipeline.RunState) (pipeline.Patch, pipeline.Outcome) {
		return pipeline.Failed(pipeline.StepResearchFailed, "Deep research failed: quota"), pipeline.TerminateFailure
	})
	ctx := context.Background()

	run, err := h.coord.Start(ctx, store.RunInput{ClientName: "Acme"}, "")
	require.NoError(t, err)
	sub, err := h.coord.Subscribe(ctx, run.ID)
	require.NoError(t, err)
	h.dispatcher.runAll()
	events := drain(t, sub)

	last := events[len(events)-1]
	assert.Equal(t, PipelineNode, last.Node)
	assert.Equal(t, EventFailed, last.Status)
	assert.Equal(t, "Deep research failed: quota", last.Detail)

	failedNode := events[len(events)-2]
	assert.Equal(t, steps.DeepResearch, failedNode.Node)
	assert.Equal(t, EventFailed, failedNode.Status)

	got, err := h.coord.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, got.Status)
	assert.Equal(t, "Deep research failed: quota", got.Error)
	assert.Equal(t, pipeline.StepResearchFailed, got.CurrentStep)
	assert.Empty(t, got.Results.DeepResearchReport)
	assert.Zero(t, got.PlaysCount)
	assert.Equal(t, 1, h.recorder.runs[store.StatusFailed])
}

func TestCoordinator_PanicBecomesFailedRun(t *testing.T) {
	h := newHarness(t, func(context.Context, pipeline.RunState) (pipeline.Patch, pipeline.Outcome) {
		panic("nil map")
	})
	ctx := context.Background()

	run, err := h.coord.Start(ctx, store.RunInput{ClientName: "Acme"}, "")
	require.NoError(t, err)
	sub, err := h.coord.Subscribe(ctx, run.ID)
	require.NoError(t, err)
	h.dispatcher.runAll()
	drain(t, sub)

	got, err := h.coord.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "unexpected pipeline error: nil map")
}

func TestCoordinator_SubscribeToFinishedRun(t *testing.T) {
	h := newHarness(t, succeedingResearch)
	ctx := context.Background()

	run, err := h.coord.Start(ctx, store.RunInput{ClientName: "Acme"}, "")
	require.NoError(t, err)
	sub, _ := h.coord.Subscribe(ctx, run.ID)
	h.dispatcher.runAll()
	drain(t, sub)

	late, err := h.coord.Subscribe(ctx, run.ID)
	require.NoError(t, err)
	events := drain(t, late)
	require.Len(t, events, 1)
	assert.True(t, events[0].Final())
	assert.Equal(t, EventCompleted, events[0].Status)
}

func TestCoordinator_SubscribeUnknownRun(t *testing.T) {
	h := newHarness(t, succeedingResearch)
	_, err := h.coord.Subscribe(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCoordinator_SubscribeOrphanedRun(t *testing.T) {
	h := newHarness(t, succeedingResearch)
	ctx := context.Background()
	require.NoError(t, h.repo.CreateRun(ctx, &store.Run{ID: "old", Status: store.StatusRunning, CreatedAt: time.Now()}))

	sub, err := h.coord.Subscribe(ctx, "old")
	require.NoError(t, err)
	events := drain(t, sub)
	require.Len(t, events, 1)
	assert.Equal(t, EventStarted, events[0].Status)
	assert.False(t, events[0].Final())
}

func TestCoordinator_StartAfterPoolShutdown(t *testing.T) {
	h := newHarness(t, succeedingResearch)
	ctx := context.Background()
	h.dispatcher.closed = true

	_, err := h.coord.Start(ctx, store.RunInput{ClientName: "Acme"}, "")
	require.ErrorIs(t, err, dispatch.ErrPoolClosed)

	runs, err := h.coord.List(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "could not be scheduled")
	assert.False(t, h.coord.broker.Active(runs[0].ID))
	assert.Equal(t, 1, h.recorder.runs[store.StatusFailed])

	sub, err := h.coord.Subscribe(ctx, runs[0].ID)
	require.NoError(t, err)
	events := drain(t, sub)
	require.Len(t, events, 1)
	assert.Equal(t, EventFailed, events[0].Status)
}

// stuckRepo refuses to move runs out of pending.
type stuckRepo struct {
	*inmem.Store
}

func (stuckRepo) MarkRunning(context.Context, string, time.Time) error {
	return errors.New("database is locked")
}

func TestCoordinator_MarkRunningFailureFailsRun(t *testing.T) {
	repo := stuckRepo{Store: inmem.New()}
	dispatcher := &manualDispatcher{}
	recorder := &countingRecorder{runs: map[store.RunStatus]int{}, stages: map[string]int{}}
	coord, err := NewCoordinator(Config{
		Runs:       repo,
		Engine:     twoNodeEngine(t, succeedingResearch),
		Dispatcher: dispatcher,
		Recorder:   recorder,
	})
	require.NoError(t, err)
	ctx := context.Background()

	run, err := coord.Start(ctx, store.RunInput{ClientName: "Acme"}, "")
	require.NoError(t, err)
	sub, err := coord.Subscribe(ctx, run.ID)
	require.NoError(t, err)
	dispatcher.runAll()
	events := drain(t, sub)

	assert.Equal(t, []string{
		"input_processor/pending",
		"deep_research/pending",
		"pipeline/failed",
	}, summarize(events))
	assert.Contains(t, events[len(events)-1].Detail, "database is locked")
	assert.False(t, coord.broker.Active(run.ID))

	got, err := coord.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "database is locked")
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 1, recorder.runs[store.StatusFailed])
	assert.Zero(t, recorder.stages["input_processor/started"])
}

func TestCoordinator_RunIDsAreUnique(t *testing.T) {
	const n = 10000
	repo := inmem.New()
	coord, err := NewCoordinator(Config{
		Runs:       repo,
		Engine:     twoNodeEngine(t, succeedingResearch),
		Dispatcher: &manualDispatcher{},
	})
	require.NoError(t, err)
	ctx := context.Background()

	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		run, err := coord.Start(ctx, store.RunInput{ClientName: fmt.Sprintf("Client %d", i)}, "")
		require.NoError(t, err)
		_, dup := seen[run.ID]
		require.False(t, dup, "duplicate run id %s after %d runs", run.ID, i)
		seen[run.ID] = struct{}{}
	}

	all, err := coord.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, n)
}

func TestCoordinator_RunSync(t *testing.T) {
	h := newHarness(t, succeedingResearch)

	var events []ProgressEvent
	run, err := h.coord.RunSync(context.Background(), store.RunInput{ClientName: "Acme"}, func(ev ProgressEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, run.Status)
	require.NotEmpty(t, events)
	assert.True(t, events[len(events)-1].Final())
}

func TestCoordinator_CanceledRunIsFailed(t *testing.T) {
	h := newHarness(t, succeedingResearch)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := h.coord.RunSync(ctx, store.RunInput{ClientName: "Acme"}, nil)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, run.Status)
	assert.Contains(t, run.Error, "Run aborted")
}

func TestCoordinator_ListNewestFirst(t *testing.T) {
	h := newHarness(t, succeedingResearch)
	ctx := context.Background()

	for _, client := range []string{"A", "B"} {
		_, err := h.coord.RunSync(ctx, store.RunInput{ClientName: client}, nil)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	runs, err := h.coord.List(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "B", runs[0].ClientName)
	assert.Equal(t, "A", runs[1].ClientName)
}

func TestCoordinator_ProjectIDIsRecorded(t *testing.T) {
	h := newHarness(t, succeedingResearch)
	ctx := context.Background()

	run, err := h.coord.Start(ctx, store.RunInput{ClientName: "Acme"}, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "proj-1", run.ProjectID)
	sub, _ := h.coord.Subscribe(ctx, run.ID)
	h.dispatcher.runAll()
	drain(t, sub)
}

func TestNewCoordinator_RequiresCollaborators(t *testing.T) {
	_, err := NewCoordinator(Config{})
	assert.Error(t, err)
	_, err = NewCoordinator(Config{Runs: inmem.New()})
	assert.Error(t, err)
}

func TestResultsFromState_CopiesOutputs(t *testing.T) {
	st := pipeline.NewRunState("r", "Acme", "", "")
	st.RefinedPlays = []types.SalesPlay{{Title: "A", TechnicalStack: []string{"Go"}}}
	st.OnePagers = map[string]string{"A": "doc"}
	st.MaturityLevel = 3

	res := ResultsFromState(st)
	st.RefinedPlays[0].TechnicalStack[0] = "Rust"
	st.OnePagers["A"] = "changed"

	assert.Equal(t, "Go", res.RefinedPlays[0].TechnicalStack[0])
	assert.Equal(t, "doc", res.OnePagers["A"])
	assert.Equal(t, 3, res.MaturityLevel)
}

func TestCoordinator_WithWorkerPool(t *testing.T) {
	repo := inmem.New()
	pool := dispatch.NewPool(2, nil)
	coord, err := NewCoordinator(Config{
		Runs:       repo,
		Engine:     twoNodeEngine(t, succeedingResearch),
		Dispatcher: pool,
	})
	require.NoError(t, err)
	ctx := context.Background()

	var ids []string
	for i := range 4 {
		run, err := coord.Start(ctx, store.RunInput{ClientName: fmt.Sprintf("client-%d", i)}, "")
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}
	require.NoError(t, pool.Shutdown(ctx))

	for _, id := range ids {
		got, err := coord.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.StatusCompleted, got.Status)
	}
}
