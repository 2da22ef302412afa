package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/pipeline/steps"
)

// StepAborted marks a run stopped by its context before finishing.
const StepAborted = "run_failed"

// Stage runs one unit of work against a snapshot of the run state.
// Stages report expected failures through the returned patch and outcome.
type Stage interface {
	Run(ctx context.Context, st RunState) (Patch, Outcome)
}

// StageFunc adapts a function to the Stage interface.
type StageFunc func(ctx context.Context, st RunState) (Patch, Outcome)

// Run calls f.
func (f StageFunc) Run(ctx context.Context, st RunState) (Patch, Outcome) {
	return f(ctx, st)
}

// Gate inspects merged state after a node continues and may end the run.
type Gate func(st *RunState) (Outcome, Patch)

// Node is one vertex of the graph.
type Node struct {
	Name  string
	Stage Stage
	Gate  Gate
}

// Graph is an ordered chain of nodes with optional exit gates.
type Graph struct {
	nodes []Node
}

// NewGraph validates node names and ordering against the step registry.
func NewGraph(nodes ...Node) (*Graph, error) {
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.Stage == nil {
			return nil, fmt.Errorf("node %s has no stage", n.Name)
		}
		names = append(names, n.Name)
	}
	if err := steps.ValidateOrder(names); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	return &Graph{nodes: append([]Node(nil), nodes...)}, nil
}

// Nodes returns node names in execution order.
func (g *Graph) Nodes() []string {
	names := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		names[i] = n.Name
	}
	return names
}

// Observer receives node-level transitions during execution.
type Observer interface {
	NodeStarted(node string)
	NodeCompleted(node string, elapsed time.Duration)
	NodeFailed(node string, detail string)
}

// StepObserver is optionally implemented by an Observer that tracks the
// step marker left by each node.
type StepObserver interface {
	StepReached(node, step string)
}

type nopObserver struct{}

func (nopObserver) NodeStarted(string)                  {}
func (nopObserver) NodeCompleted(string, time.Duration) {}
func (nopObserver) NodeFailed(string, string)           {}

// Result is the outcome of one execution.
type Result struct {
	State    *RunState
	Outcome  Outcome
	LastNode string
}

// Succeeded reports whether the run finished without a terminal failure.
func (r Result) Succeeded() bool {
	return r.Outcome != TerminateFailure
}

// Engine executes a graph against a run state.
type Engine struct {
	graph  *Graph
	logger *zap.Logger
}

// NewEngine creates an engine for graph.
func NewEngine(graph *Graph, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{graph: graph, logger: logger}
}

// Nodes returns the engine's node names in execution order.
func (e *Engine) Nodes() []string {
	return e.graph.Nodes()
}

// Execute runs nodes in order, merging each patch into state, until a node
// or gate ends the run or the chain is exhausted.
func (e *Engine) Execute(ctx context.Context, state *RunState, obs Observer) Result {
	if obs == nil {
		obs = nopObserver{}
	}
	log := e.logger.With(zap.String("run_id", state.RunID), zap.String("client", state.ClientName))

	last := ""
	for _, node := range e.graph.nodes {
		if err := ctx.Err(); err != nil {
			state.Apply(Failed(StepAborted, fmt.Sprintf("Run aborted: %v", err)))
			obs.NodeFailed(node.Name, state.LastError())
			log.Warn("run aborted", zap.String("stage", node.Name), zap.Error(err))
			return Result{State: state, Outcome: TerminateFailure, LastNode: node.Name}
		}

		last = node.Name
		obs.NodeStarted(node.Name)
		start := time.Now()

		patch, outcome := node.Stage.Run(ctx, *state)
		state.Apply(patch)

		if outcome == Continue && node.Gate != nil {
			var gp Patch
			outcome, gp = node.Gate(state)
			state.Apply(gp)
		}

		elapsed := time.Since(start)
		if so, ok := obs.(StepObserver); ok {
			so.StepReached(node.Name, state.CurrentStep)
		}
		switch {
		case outcome == TerminateFailure:
			obs.NodeFailed(node.Name, state.LastError())
			log.Error("stage ended run",
				zap.String("stage", node.Name),
				zap.String("step", state.CurrentStep),
				zap.String("error", state.LastError()))
			return Result{State: state, Outcome: outcome, LastNode: last}
		case len(patch.Errors) > 0:
			obs.NodeFailed(node.Name, patch.Errors[len(patch.Errors)-1])
			log.Warn("stage degraded",
				zap.String("stage", node.Name),
				zap.String("step", state.CurrentStep),
				zap.Strings("errors", patch.Errors))
		default:
			obs.NodeCompleted(node.Name, elapsed)
			log.Debug("stage completed", zap.String("stage", node.Name), zap.Duration("elapsed", elapsed))
		}

		if outcome == TerminateSuccess {
			return Result{State: state, Outcome: outcome, LastNode: last}
		}
	}

	return Result{State: state, Outcome: TerminateSuccess, LastNode: last}
}
