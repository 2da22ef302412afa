package runs

import (
	"maps"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/pipeline"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/store"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

// ResultsFromState copies every output field of st into a RunResults.
func ResultsFromState(st *pipeline.RunState) store.RunResults {
	res := store.RunResults{
		DeepResearchReport:     st.DeepResearchReport,
		ResearchCitations:      append([]types.Citation(nil), st.ResearchCitations...),
		ClientVertical:         st.ClientVertical,
		ClientDomain:           st.ClientDomain,
		MaturityLevel:          st.MaturityLevel,
		DigitalMaturitySummary: st.DigitalMaturitySummary,
		SimilarVerticals:       append([]types.HistoricalPlay(nil), st.SimilarVerticals...),
		SimilarPlays:           append([]types.HistoricalPlay(nil), st.SimilarPlays...),
		CompetitorProofs:       append([]types.CompetitorProof(nil), st.CompetitorProofs...),
		HistoryGaps:            append([]string(nil), st.HistoryGaps...),
		HistorySynthesis:       st.HistorySynthesis,
		RawIdeas:               types.ClonePlays(st.RawIdeas),
		RefinedPlays:           types.ClonePlays(st.RefinedPlays),
		StrategicPlan:          st.StrategicPlan,
		Errors:                 append([]string(nil), st.Errors...),
	}
	if st.OnePagers != nil {
		res.OnePagers = maps.Clone(st.OnePagers)
	}
	return res
}
