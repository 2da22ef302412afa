package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/memory"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/pipeline/steps"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

const contextReportExcerpt = 1000

// contextMerger pulls similar clients and plays from memory. It never
// records errors; an empty or failing store yields empty lists.
func (s *stages) contextMerger(ctx context.Context, st RunState) (Patch, Outcome) {
	log := s.log(st, steps.ContextMerger)

	verticals := memory.SimilarVerticals(ctx, s.memory, st.ClientVertical, st.ClientDomain, log)
	plays := memory.SimilarPlays(ctx, s.memory, st.ClientVertical,
		types.Truncate(st.DeepResearchReport, contextReportExcerpt), log)

	log.Info("context merged",
		zap.Int("similar_verticals", len(verticals)),
		zap.Int("similar_plays", len(plays)))

	return Patch{
		SimilarVerticals: ptr(verticals),
		SimilarPlays:     ptr(plays),
		CurrentStep:      StepContextMerged,
	}, Continue
}
