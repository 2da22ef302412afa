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
	classificationExcerpt = 8000
	noHistorySynthesis    = "No sales history provided."
)

func (s *stages) deepResearch(ctx context.Context, st RunState) (Patch, Outcome) {
	log := s.log(st, steps.DeepResearch)
	log.Info("starting deep research")

	resp, err := s.llm.GenerateContent(ctx, llm.Request{
		Prompt:         st.BaseResearchPrompt,
		Tier:           llm.TierResearch,
		Grounded:       s.settings.Grounding,
		GroundingQuery: st.ClientName,
	})
	if err != nil {
		return researchFailed(log, err)
	}

	report := resp.Text
	citations := llm.MergeCitations(llm.ExtractCitations(report), resp.Citations)
	log.Info("research report generated", zap.Int("chars", len(report)), zap.Int("citations", len(citations)))

	class, err := s.classify(ctx, log, report)
	if err != nil {
		return researchFailed(log, err)
	}

	gaps, synthesis, err := s.synthesizeHistory(ctx, st.ClientName, class.Vertical, st.PastSalesHistory)
	if err != nil {
		return researchFailed(log, err)
	}

	return Patch{
		DeepResearchReport:     ptr(report),
		ResearchCitations:      ptr(citations),
		ClientVertical:         ptr(class.Vertical),
		ClientDomain:           ptr(class.Domain),
		MaturityLevel:          ptr(class.MaturityLevel),
		DigitalMaturitySummary: ptr(class.MaturitySummary),
		HistoryGaps:            ptr(gaps),
		HistorySynthesis:       ptr(synthesis),
		CurrentStep:            StepResearchComplete,
	}, Continue
}

func researchFailed(log *zap.Logger, err error) (Patch, Outcome) {
	log.Error("deep research failed", zap.Error(err))
	return Failed(StepResearchFailed, fmt.Sprintf("Deep research failed: %v", err)), TerminateFailure
}

// classify asks for a structured vertical reading of report. Backend errors
// are returned; unparsable responses fall back to UnknownClassification.
func (s *stages) classify(ctx context.Context, log *zap.Logger, report string) (types.Classification, error) {
	prompt := prompts.Render(prompts.ClassifyVertical, prompts.Vars{
		"Report": types.Truncate(report, classificationExcerpt),
	})
	resp, err := s.llm.GenerateContent(ctx, llm.Request{Prompt: prompt, Tier: llm.TierStandard, JSON: true})
	if err != nil {
		return types.Classification{}, fmt.Errorf("classification: %w", err)
	}

	class, err := ParseClassification(resp.Text)
	if err != nil {
		log.Warn("could not parse classification, using defaults", zap.Error(err))
		return types.UnknownClassification(), nil
	}
	if verr := schemas.Validate(schemas.Classification, llm.CleanJSONBlock(resp.Text)); verr != nil {
		log.Warn("classification drifted from schema", zap.Error(verr))
	}
	return class, nil
}

type classificationPayload struct {
	Vertical        *string   `json:"vertical"`
	Domain          *string   `json:"domain"`
	MaturityLevel   flexFloat `json:"maturity_level"`
	MaturitySummary string    `json:"maturity_summary"`
}

// ParseClassification decodes a classification response, tolerating code
// fences and missing fields.
func ParseClassification(text string) (types.Classification, error) {
	var payload classificationPayload
	if err := json.Unmarshal([]byte(llm.CleanJSONBlock(text)), &payload); err != nil {
		return types.Classification{}, err
	}
	class := types.Classification{
		Vertical:        "Unknown",
		Domain:          "Unknown",
		MaturityLevel:   int(payload.MaturityLevel.value(0)),
		MaturitySummary: payload.MaturitySummary,
	}
	if payload.Vertical != nil {
		class.Vertical = *payload.Vertical
	}
	if payload.Domain != nil {
		class.Domain = *payload.Domain
	}
	return class, nil
}

func (s *stages) synthesizeHistory(ctx context.Context, client, vertical, history string) ([]string, string, error) {
	if strings.TrimSpace(history) == "" {
		return []string{}, noHistorySynthesis, nil
	}

	prompt := prompts.Render(prompts.SynthesizeHistory, prompts.Vars{
		"ClientName":   client,
		"Vertical":     vertical,
		"SalesHistory": history,
	})
	resp, err := s.llm.GenerateContent(ctx, llm.Request{Prompt: prompt, Tier: llm.TierStandard})
	if err != nil {
		return nil, "", fmt.Errorf("history synthesis: %w", err)
	}
	return []string{}, resp.Text, nil
}

// flexFloat accepts a JSON number or a numeric string. Anything else is
// treated as absent.
type flexFloat struct {
	v   float64
	set bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		f.v, f.set = v, true
	}
	return nil
}

func (f flexFloat) value(fallback float64) float64 {
	if !f.set {
		return fallback
	}
	return f.v
}
