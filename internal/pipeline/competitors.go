package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/llm"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/pipeline/steps"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/prompts"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/schemas"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

const competitorExcerpt = 4000

// competitorScout gathers competitor proof points. Failures are recorded
// but never end the run.
func (s *stages) competitorScout(ctx context.Context, st RunState) (Patch, Outcome) {
	log := s.log(st, steps.CompetitorScout)
	log.Info("scouting competitors", zap.String("vertical", st.ClientVertical))

	prompt := prompts.Render(prompts.ScoutCompetitors, prompts.Vars{
		"ClientName":      st.ClientName,
		"Vertical":        st.ClientVertical,
		"ResearchExcerpt": types.Truncate(st.DeepResearchReport, competitorExcerpt),
	})

	resp, err := s.llm.GenerateContent(ctx, llm.Request{Prompt: prompt, Tier: llm.TierStandard, JSON: true})
	if err != nil {
		log.Error("competitor scouting failed", zap.Error(err))
		p := Failed(StepCompetitorsFailed, fmt.Sprintf("Competitor scouting failed: %v", err))
		p.CompetitorProofs = ptr([]types.CompetitorProof{})
		return p, Continue
	}

	proofs := ParseCompetitors(resp.Text, log)
	log.Info("competitor proof points found", zap.Int("count", len(proofs)))

	return Patch{
		CompetitorProofs: ptr(proofs),
		CurrentStep:      StepCompetitorsScouted,
	}, Continue
}

type competitorPayload struct {
	CompetitorName string `json:"competitor_name"`
	Vertical       string `json:"vertical"`
	UseCase        string `json:"use_case"`
	Outcome        string `json:"outcome"`
	SourceTitle    string `json:"source_title"`
	SourceURL      string `json:"source_url"`
}

// ParseCompetitors decodes a competitor array. Malformed responses yield an
// empty slice and a warning.
func ParseCompetitors(text string, log *zap.Logger) []types.CompetitorProof {
	if log == nil {
		log = zap.NewNop()
	}
	proofs := []types.CompetitorProof{}

	cleaned := llm.CleanJSONBlock(text)
	var items []competitorPayload
	if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
		log.Warn("failed to parse competitor response", zap.Error(err))
		return proofs
	}
	if err := schemas.Validate(schemas.Competitors, cleaned); err != nil {
		log.Warn("competitor response drifted from schema", zap.Error(err))
	}

	for _, item := range items {
		name := item.CompetitorName
		if name == "" {
			name = "Unknown"
		}
		proofs = append(proofs, types.CompetitorProof{
			CompetitorName: name,
			Vertical:       item.Vertical,
			UseCase:        item.UseCase,
			Outcome:        item.Outcome,
			Source: types.Citation{
				Title: item.SourceTitle,
				URL:   item.SourceURL,
			},
		})
	}
	return proofs
}
