// Package pipeline provides the staged prospecting workflow: run state,
// stage implementations, and the engine that routes between them.
package pipeline

import (
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

// Step markers recorded in RunState.CurrentStep.
const (
	StepInputProcessed        = "input_processed"
	StepResearchComplete      = "research_complete"
	StepResearchFailed        = "research_failed"
	StepContextMerged         = "context_merged"
	StepCompetitorsScouted    = "competitors_scouted"
	StepCompetitorsFailed     = "competitors_failed"
	StepIdeasGenerated        = "ideas_generated"
	StepIdeationFailed        = "ideation_failed"
	StepPlaysRefined          = "plays_refined"
	StepRefinementFailed      = "refinement_failed"
	StepAssetsGenerated       = "assets_generated"
	StepAssetGenerationFailed = "asset_generation_failed"
	StepComplete              = "complete"
)

// RunState accumulates inputs and stage outputs for a single run.
type RunState struct {
	RunID string `json:"run_id"`

	ClientName         string `json:"client_name"`
	PastSalesHistory   string `json:"past_sales_history"`
	BaseResearchPrompt string `json:"base_research_prompt"`

	DeepResearchReport     string           `json:"deep_research_report"`
	ResearchCitations      []types.Citation `json:"research_citations"`
	ClientVertical         string           `json:"client_vertical"`
	ClientDomain           string           `json:"client_domain"`
	MaturityLevel          int              `json:"maturity_level"`
	DigitalMaturitySummary string           `json:"digital_maturity_summary"`

	SimilarVerticals []types.HistoricalPlay `json:"similar_verticals"`
	SimilarPlays     []types.HistoricalPlay `json:"similar_plays"`

	CompetitorProofs []types.CompetitorProof `json:"competitor_proofs"`

	HistoryGaps      []string `json:"history_gaps"`
	HistorySynthesis string   `json:"history_synthesis"`

	RawIdeas     []types.SalesPlay `json:"raw_ideas"`
	RefinedPlays []types.SalesPlay `json:"refined_plays"`

	OnePagers     map[string]string `json:"one_pagers"`
	StrategicPlan string            `json:"strategic_plan"`

	Errors      []string `json:"errors"`
	CurrentStep string   `json:"current_step"`
}

// NewRunState builds the initial state for a run.
func NewRunState(runID, clientName, history, prompt string) *RunState {
	return &RunState{
		RunID:              runID,
		ClientName:         clientName,
		PastSalesHistory:   history,
		BaseResearchPrompt: prompt,
	}
}

// LastError returns the most recent recorded error, or "".
func (s *RunState) LastError() string {
	if len(s.Errors) == 0 {
		return ""
	}
	return s.Errors[len(s.Errors)-1]
}

// Patch is a partial update produced by a stage. Nil fields are left
// untouched; non-nil fields overwrite the state. Errors are appended.
type Patch struct {
	BaseResearchPrompt *string

	DeepResearchReport     *string
	ResearchCitations      *[]types.Citation
	ClientVertical         *string
	ClientDomain           *string
	MaturityLevel          *int
	DigitalMaturitySummary *string

	SimilarVerticals *[]types.HistoricalPlay
	SimilarPlays     *[]types.HistoricalPlay

	CompetitorProofs *[]types.CompetitorProof

	HistoryGaps      *[]string
	HistorySynthesis *string

	RawIdeas     *[]types.SalesPlay
	RefinedPlays *[]types.SalesPlay

	OnePagers     *map[string]string
	StrategicPlan *string

	Errors      []string
	CurrentStep string
}

// Failed builds a patch that records reason and flips the step marker.
func Failed(step, reason string) Patch {
	return Patch{Errors: []string{reason}, CurrentStep: step}
}

// Apply merges p into s.
func (s *RunState) Apply(p Patch) {
	setIf(&s.BaseResearchPrompt, p.BaseResearchPrompt)
	setIf(&s.DeepResearchReport, p.DeepResearchReport)
	setIf(&s.ResearchCitations, p.ResearchCitations)
	setIf(&s.ClientVertical, p.ClientVertical)
	setIf(&s.ClientDomain, p.ClientDomain)
	setIf(&s.MaturityLevel, p.MaturityLevel)
	setIf(&s.DigitalMaturitySummary, p.DigitalMaturitySummary)
	setIf(&s.SimilarVerticals, p.SimilarVerticals)
	setIf(&s.SimilarPlays, p.SimilarPlays)
	setIf(&s.CompetitorProofs, p.CompetitorProofs)
	setIf(&s.HistoryGaps, p.HistoryGaps)
	setIf(&s.HistorySynthesis, p.HistorySynthesis)
	setIf(&s.RawIdeas, p.RawIdeas)
	setIf(&s.RefinedPlays, p.RefinedPlays)
	setIf(&s.OnePagers, p.OnePagers)
	setIf(&s.StrategicPlan, p.StrategicPlan)

	if len(p.Errors) > 0 {
		s.Errors = append(s.Errors, p.Errors...)
	}
	if p.CurrentStep != "" {
		s.CurrentStep = p.CurrentStep
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func ptr[T any](v T) *T {
	return &v
}
