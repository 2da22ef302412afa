package pipeline

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/llm"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/memory"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/pipeline/steps"
)

// Settings tunes stage behavior.
type Settings struct {
	MinIdeas  int
	TopPlays  int
	Grounding bool
}

// DefaultSettings returns the stock idea counts.
func DefaultSettings() Settings {
	return Settings{MinIdeas: 10, TopPlays: 3}
}

// Deps are the collaborators shared by all stages.
type Deps struct {
	LLM      llm.Client
	Memory   memory.Store
	Assets   AssetWriter
	Settings Settings
	Logger   *zap.Logger
	Now      func() time.Time
}

type stages struct {
	llm      llm.Client
	memory   memory.Store
	assets   AssetWriter
	settings Settings
	logger   *zap.Logger
	now      func() time.Time
}

// NewDefaultEngine builds the eight-node prospecting graph.
func NewDefaultEngine(deps Deps) (*Engine, error) {
	if deps.LLM == nil {
		return nil, errors.New("pipeline: LLM client is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	defaults := DefaultSettings()
	if deps.Settings.MinIdeas <= 0 {
		deps.Settings.MinIdeas = defaults.MinIdeas
	}
	if deps.Settings.TopPlays <= 0 {
		deps.Settings.TopPlays = defaults.TopPlays
	}

	s := &stages{
		llm:      deps.LLM,
		memory:   deps.Memory,
		assets:   deps.Assets,
		settings: deps.Settings,
		logger:   deps.Logger,
		now:      deps.Now,
	}

	graph, err := NewGraph(
		Node{Name: steps.InputProcessor, Stage: StageFunc(s.inputProcessor)},
		Node{Name: steps.DeepResearch, Stage: StageFunc(s.deepResearch)},
		Node{Name: steps.ContextMerger, Stage: StageFunc(s.contextMerger)},
		Node{Name: steps.CompetitorScout, Stage: StageFunc(s.competitorScout)},
		Node{Name: steps.DivergentIdeation, Stage: StageFunc(s.divergentIdeation), Gate: requireRawIdeas},
		Node{Name: steps.ConvergentRefinement, Stage: StageFunc(s.convergentRefinement), Gate: requireRefinedPlays},
		Node{Name: steps.AssetGenerator, Stage: StageFunc(s.assetGenerator)},
		Node{Name: steps.KnowledgeCapture, Stage: StageFunc(s.knowledgeCapture)},
	)
	if err != nil {
		return nil, err
	}
	return NewEngine(graph, deps.Logger), nil
}

func requireRawIdeas(st *RunState) (Outcome, Patch) {
	if len(st.RawIdeas) == 0 {
		return TerminateFailure, Failed(StepIdeationFailed, "No raw ideas generated.")
	}
	return Continue, Patch{}
}

func requireRefinedPlays(st *RunState) (Outcome, Patch) {
	if len(st.RefinedPlays) == 0 {
		return TerminateFailure, Failed(StepRefinementFailed, "No refined plays produced.")
	}
	return Continue, Patch{}
}

func (s *stages) log(st RunState, stage string) *zap.Logger {
	return s.logger.With(
		zap.String("run_id", st.RunID),
		zap.String("client", st.ClientName),
		zap.String("stage", stage),
	)
}
