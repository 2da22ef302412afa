package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/llm"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/pipeline/steps"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/prompts"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/schemas"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

const (
	ideationReportExcerpt  = 3000
	ideationHistoryExcerpt = 1000
	historicalSummaryLimit = 200
	defaultConfidence      = 0.5
)

func (s *stages) divergentIdeation(ctx context.Context, st RunState) (Patch, Outcome) {
	log := s.log(st, steps.DivergentIdeation)
	log.Info("starting divergent ideation")

	prompt := prompts.Render(prompts.DivergentIdeation, prompts.Vars{
		"ClientName":       st.ClientName,
		"Vertical":         st.ClientVertical,
		"Domain":           st.ClientDomain,
		"ResearchSummary":  types.Truncate(st.DeepResearchReport, ideationReportExcerpt),
		"HistoryGaps":      formatHistoryGaps(st.HistoryGaps, st.HistorySynthesis),
		"CompetitorProofs": formatIdeationProofs(st.CompetitorProofs),
		"HistoricalPlays":  formatHistoricalPlays(st.SimilarPlays),
		"MinIdeas":         strconv.Itoa(s.settings.MinIdeas),
	})

	resp, err := s.llm.GenerateContent(ctx, llm.Request{Prompt: prompt, Tier: llm.TierStandard, JSON: true})
	if err != nil {
		log.Error("divergent ideation failed", zap.Error(err))
		return Failed(StepIdeationFailed, fmt.Sprintf("Ideation failed: %v", err)), TerminateFailure
	}

	ideas := ParsePlays(resp.Text, log)
	log.Info("raw ideas generated", zap.Int("count", len(ideas)))

	return Patch{
		RawIdeas:    ptr(ideas),
		CurrentStep: StepIdeasGenerated,
	}, Continue
}

func (s *stages) convergentRefinement(ctx context.Context, st RunState) (Patch, Outcome) {
	log := s.log(st, steps.ConvergentRefinement)
	log.Info("starting convergent refinement", zap.Int("raw_ideas", len(st.RawIdeas)))

	if len(st.RawIdeas) == 0 {
		log.Warn("no raw ideas to refine")
		p := Failed(StepRefinementFailed, "No raw ideas generated for refinement.")
		p.RefinedPlays = ptr([]types.SalesPlay{})
		return p, TerminateFailure
	}

	raw, err := json.MarshalIndent(st.RawIdeas, "", "  ")
	if err != nil {
		return Failed(StepRefinementFailed, fmt.Sprintf("Refinement failed: %v", err)), TerminateFailure
	}

	top := s.settings.TopPlays
	prompt := prompts.Render(prompts.ConvergentRefinement, prompts.Vars{
		"RawIdeas": string(raw),
		"TopPlays": strconv.Itoa(top),
	})

	resp, err := s.llm.GenerateContent(ctx, llm.Request{Prompt: prompt, Tier: llm.TierStandard, JSON: true})
	if err != nil {
		log.Error("convergent refinement failed", zap.Error(err))
		return Failed(StepRefinementFailed, fmt.Sprintf("Refinement failed: %v", err)), TerminateFailure
	}

	refined := ParsePlays(resp.Text, log)
	if len(refined) > top {
		refined = refined[:top]
	}
	log.Info("plays refined", zap.Int("count", len(refined)))

	return Patch{
		RefinedPlays: ptr(refined),
		CurrentStep:  StepPlaysRefined,
	}, Continue
}

type playPayload struct {
	Title            *string         `json:"title"`
	Challenge        string          `json:"challenge"`
	MarketStandard   string          `json:"market_standard"`
	ProposedSolution string          `json:"proposed_solution"`
	BusinessOutcome  string          `json:"business_outcome"`
	TechnicalStack   []string        `json:"technical_stack"`
	ConfidenceScore  flexFloat       `json:"confidence_score"`
	Citations        json.RawMessage `json:"citations"`
}

// ParsePlays decodes a play array, defaulting missing fields. Malformed
// responses yield an empty slice and a warning.
func ParsePlays(text string, log *zap.Logger) []types.SalesPlay {
	if log == nil {
		log = zap.NewNop()
	}
	plays := []types.SalesPlay{}

	cleaned := llm.CleanJSONBlock(text)
	var items []playPayload
	if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
		log.Warn("failed to parse plays", zap.Error(err))
		return plays
	}
	if err := schemas.Validate(schemas.Plays, cleaned); err != nil {
		log.Warn("plays drifted from schema", zap.Error(err))
	}

	for _, item := range items {
		title := "Untitled"
		if item.Title != nil {
			title = *item.Title
		}
		stack := item.TechnicalStack
		if stack == nil {
			stack = []string{}
		}
		plays = append(plays, types.SalesPlay{
			Title:            title,
			Challenge:        item.Challenge,
			MarketStandard:   item.MarketStandard,
			ProposedSolution: item.ProposedSolution,
			BusinessOutcome:  item.BusinessOutcome,
			TechnicalStack:   stack,
			ConfidenceScore:  clamp01(item.ConfidenceScore.value(defaultConfidence)),
			Citations:        parsePlayCitations(item.Citations),
		})
	}
	return plays
}

// parsePlayCitations accepts citation objects or bare strings.
func parsePlayCitations(raw json.RawMessage) []types.Citation {
	citations := []types.Citation{}
	if len(raw) == 0 {
		return citations
	}
	var objs []types.Citation
	if err := json.Unmarshal(raw, &objs); err == nil {
		return append(citations, objs...)
	}
	var strs []string
	if err := json.Unmarshal(raw, &strs); err == nil {
		for _, s := range strs {
			if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
				citations = append(citations, types.Citation{URL: s})
			} else {
				citations = append(citations, types.Citation{Title: s})
			}
		}
	}
	return citations
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func formatHistoryGaps(gaps []string, synthesis string) string {
	if len(gaps) == 0 {
		return types.Truncate(synthesis, ideationHistoryExcerpt)
	}
	lines := make([]string, len(gaps))
	for i, g := range gaps {
		lines[i] = "- " + g
	}
	return strings.Join(lines, "\n")
}

func formatIdeationProofs(proofs []types.CompetitorProof) string {
	if len(proofs) == 0 {
		return "No competitor data available."
	}
	lines := make([]string, len(proofs))
	for i, p := range proofs {
		lines[i] = fmt.Sprintf("- **%s**: %s → %s", p.CompetitorName, p.UseCase, p.Outcome)
	}
	return strings.Join(lines, "\n")
}

func formatHistoricalPlays(plays []types.HistoricalPlay) string {
	if len(plays) == 0 {
		return "No historical data yet (cold start)."
	}
	lines := make([]string, len(plays))
	for i, p := range plays {
		lines[i] = fmt.Sprintf("- **%s** (%s): %s [similarity: %.2f]",
			p.ClientName, p.Vertical, types.Truncate(p.PlaySummary, historicalSummaryLimit), p.SimilarityScore)
	}
	return strings.Join(lines, "\n")
}
