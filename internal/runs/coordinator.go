// Package runs owns the lifecycle of prospecting runs: it persists each run,
// executes the pipeline in the background, and streams progress to
// subscribers.
package runs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/dispatch"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/pipeline"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/store"
)

// Dispatcher runs tasks in the background.
type Dispatcher interface {
	Submit(task dispatch.Task) error
}

// Recorder receives run and stage measurements.
type Recorder interface {
	RecordRun(ctx context.Context, status store.RunStatus, elapsed time.Duration)
	RecordStage(ctx context.Context, node string, status string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordRun(context.Context, store.RunStatus, time.Duration)  {}
func (nopRecorder) RecordStage(context.Context, string, string, time.Duration) {}

// Config holds coordinator collaborators.
type Config struct {
	Runs       store.RunRepository
	Engine     *pipeline.Engine
	Dispatcher Dispatcher
	Broker     *Broker
	Recorder   Recorder
	Logger     *zap.Logger
	Now        func() time.Time
	NewID      func() string
}

// Coordinator creates runs, executes them, and fans out their progress.
type Coordinator struct {
	runs       store.RunRepository
	engine     *pipeline.Engine
	dispatcher Dispatcher
	broker     *Broker
	recorder   Recorder
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
}

// NewCoordinator validates cfg and fills defaults.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Runs == nil {
		return nil, errors.New("runs: repository is required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("runs: engine is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Broker == nil {
		cfg.Broker = NewBroker(cfg.Logger)
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Coordinator{
		runs:       cfg.Runs,
		engine:     cfg.Engine,
		dispatcher: cfg.Dispatcher,
		broker:     cfg.Broker,
		recorder:   cfg.Recorder,
		logger:     cfg.Logger,
		now:        cfg.Now,
		newID:      cfg.NewID,
	}, nil
}

// Start creates a pending run and hands it to the dispatcher. The returned
// run is a snapshot taken before execution begins.
func (c *Coordinator) Start(ctx context.Context, input store.RunInput, projectID string) (*store.Run, error) {
	if c.dispatcher == nil {
		return nil, errors.New("runs: no dispatcher configured")
	}
	run, err := c.create(ctx, input, projectID)
	if err != nil {
		return nil, err
	}

	if err := c.dispatcher.Submit(func(taskCtx context.Context) {
		c.execute(taskCtx, run)
	}); err != nil {
		reason := fmt.Sprintf("Run could not be scheduled: %v", err)
		c.finishFailed(context.WithoutCancel(ctx), run, "", reason, c.now())
		c.broker.Close(run.ID)
		return nil, fmt.Errorf("failed to dispatch run %s: %w", run.ID, err)
	}

	c.logger.Info("run accepted", zap.String("run_id", run.ID), zap.String("client", run.ClientName))
	return run.Clone(), nil
}

// RunSync executes a run on the calling goroutine, passing each progress
// event to onEvent, and returns the terminal record.
func (c *Coordinator) RunSync(ctx context.Context, input store.RunInput, onEvent func(ProgressEvent)) (*store.Run, error) {
	run, err := c.create(ctx, input, "")
	if err != nil {
		return nil, err
	}
	sub, _ := c.broker.Subscribe(run.ID)
	defer sub.Unsubscribe()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			msg, err := sub.Next(ctx, 0)
			if err != nil || msg.Kind == MessageClosed {
				return
			}
			if onEvent != nil {
				onEvent(msg.Event)
			}
		}
	}()

	c.execute(ctx, run)
	<-drained
	return c.runs.GetRun(context.WithoutCancel(ctx), run.ID)
}

// Get returns the full record of a run.
func (c *Coordinator) Get(ctx context.Context, runID string) (*store.Run, error) {
	return c.runs.GetRun(ctx, runID)
}

// List returns run summaries, newest first.
func (c *Coordinator) List(ctx context.Context) ([]store.RunSummary, error) {
	all, err := c.runs.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]store.RunSummary, len(all))
	for i, r := range all {
		out[i] = r.Summary()
	}
	return out, nil
}

// Subscribe follows a run's progress. A run that is no longer executing
// yields a single synthetic event reflecting its stored status.
// Callers must Unsubscribe when done.
func (c *Coordinator) Subscribe(ctx context.Context, runID string) (*Subscription, error) {
	if sub, ok := c.broker.Subscribe(runID); ok {
		return sub, nil
	}
	run, err := c.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return finished(runID, c.snapshotEvent(run)), nil
}

func (c *Coordinator) snapshotEvent(run *store.Run) ProgressEvent {
	ev := ProgressEvent{RunID: run.ID, Node: PipelineNode, Timestamp: c.now()}
	switch run.Status {
	case store.StatusCompleted:
		ev.Status = EventCompleted
	case store.StatusFailed:
		ev.Status = EventFailed
		ev.Detail = run.Error
	case store.StatusRunning:
		ev.Status = EventStarted
		ev.Detail = "run is not executing on this server"
	default:
		ev.Status = EventPending
		ev.Detail = "run is not executing on this server"
	}
	return ev
}

func (c *Coordinator) create(ctx context.Context, input store.RunInput, projectID string) (*store.Run, error) {
	run := &store.Run{
		ID:          c.newID(),
		ProjectID:   projectID,
		ClientName:  input.ClientName,
		Status:      store.StatusPending,
		CurrentStep: "",
		CreatedAt:   c.now(),
		Input:       input,
	}

	c.broker.Open(run.ID)
	if err := c.runs.CreateRun(ctx, run); err != nil {
		c.broker.Close(run.ID)
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	for _, node := range c.engine.Nodes() {
		c.publish(run.ID, node, EventPending, "")
	}
	return run, nil
}

func (c *Coordinator) execute(ctx context.Context, run *store.Run) {
	defer c.broker.Close(run.ID)

	log := c.logger.With(zap.String("run_id", run.ID), zap.String("client", run.ClientName))
	persistCtx := context.WithoutCancel(ctx)
	start := c.now()

	if err := c.runs.MarkRunning(persistCtx, run.ID, start); err != nil {
		log.Error("failed to mark run running", zap.Error(err))
		c.finishFailed(persistCtx, run, "", fmt.Sprintf("Run could not be started: %v", err), c.now())
		return
	}
	c.publish(run.ID, PipelineNode, EventStarted, "")

	state := pipeline.NewRunState(run.ID, run.Input.ClientName, run.Input.PastSalesHistory, run.Input.BaseResearchPrompt)
	obs := &runObserver{c: c, ctx: persistCtx, runID: run.ID, log: log, started: map[string]time.Time{}}

	result, err := c.runEngine(ctx, state, obs)
	end := c.now()

	switch {
	case err != nil:
		log.Error("pipeline crashed", zap.Error(err))
		c.finishFailed(persistCtx, run, state.CurrentStep, err.Error(), end)
	case !result.Succeeded():
		reason := state.LastError()
		if reason == "" {
			reason = fmt.Sprintf("Pipeline stopped at %s.", result.LastNode)
		}
		c.finishFailed(persistCtx, run, state.CurrentStep, reason, end)
	default:
		if err := c.runs.CompleteRun(persistCtx, run.ID, state.CurrentStep, ResultsFromState(state), end); err != nil {
			log.Error("failed to persist completed run", zap.Error(err))
			c.finishFailed(persistCtx, run, state.CurrentStep, fmt.Sprintf("Failed to store results: %v", err), end)
			return
		}
		c.recorder.RecordRun(persistCtx, store.StatusCompleted, end.Sub(start))
		c.publish(run.ID, PipelineNode, EventCompleted, "")
		log.Info("run completed",
			zap.Int("plays", len(state.RefinedPlays)),
			zap.Duration("elapsed", end.Sub(start)))
	}
}

// runEngine converts a panic inside the engine into an error.
func (c *Coordinator) runEngine(ctx context.Context, state *pipeline.RunState, obs pipeline.Observer) (result pipeline.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected pipeline error: %v", r)
		}
	}()
	return c.engine.Execute(ctx, state, obs), nil
}

func (c *Coordinator) finishFailed(ctx context.Context, run *store.Run, step, reason string, at time.Time) {
	if err := c.runs.FailRun(ctx, run.ID, step, reason, at); err != nil {
		c.logger.Error("failed to persist failed run", zap.String("run_id", run.ID), zap.Error(err))
	}
	c.recorder.RecordRun(ctx, store.StatusFailed, at.Sub(run.CreatedAt))
	c.publish(run.ID, PipelineNode, EventFailed, reason)
	c.logger.Warn("run failed", zap.String("run_id", run.ID), zap.String("error", reason))
}

func (c *Coordinator) publish(runID, node string, status EventStatus, detail string) {
	c.broker.Publish(ProgressEvent{
		RunID:     runID,
		Node:      node,
		Status:    status,
		Timestamp: c.now(),
		Detail:    detail,
	})
}

// runObserver relays engine callbacks to the broker, the repository and the
// recorder.
type runObserver struct {
	c       *Coordinator
	ctx     context.Context
	runID   string
	log     *zap.Logger
	started map[string]time.Time
}

func (o *runObserver) NodeStarted(node string) {
	o.started[node] = o.c.now()
	o.c.publish(o.runID, node, EventStarted, "")
}

func (o *runObserver) NodeCompleted(node string, elapsed time.Duration) {
	o.c.recorder.RecordStage(o.ctx, node, string(EventCompleted), elapsed)
	o.c.publish(o.runID, node, EventCompleted, "")
}

func (o *runObserver) NodeFailed(node, detail string) {
	var elapsed time.Duration
	if t, ok := o.started[node]; ok {
		elapsed = o.c.now().Sub(t)
	}
	o.c.recorder.RecordStage(o.ctx, node, string(EventFailed), elapsed)
	o.c.publish(o.runID, node, EventFailed, detail)
}

func (o *runObserver) StepReached(node, step string) {
	if step == "" {
		return
	}
	if err := o.c.runs.UpdateStep(o.ctx, o.runID, step); err != nil {
		o.log.Warn("failed to record step", zap.String("stage", node), zap.String("step", step), zap.Error(err))
	}
}
