package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

func TestParsePlays_DefaultsMissingFields(t *testing.T) {
	plays := ParsePlays("```json\n[{\"challenge\": \"c\"}, {\"title\": \"T\", \"confidence_score\": \"0.9\", \"citations\": [\"https://a.example\", \"Gartner\"]}]\n```", nil)

	require.Len(t, plays, 2)
	assert.Equal(t, "Untitled", plays[0].Title)
	assert.Equal(t, 0.5, plays[0].ConfidenceScore)
	assert.Equal(t, []string{}, plays[0].TechnicalStack)
	assert.Equal(t, []types.Citation{}, plays[0].Citations)

	assert.Equal(t, 0.9, plays[1].ConfidenceScore)
	assert.Equal(t, []types.Citation{{URL: "https://a.example"}, {Title: "Gartner"}}, plays[1].Citations)
}

func TestParsePlays_ClampsConfidence(t *testing.T) {
	plays := ParsePlays(`[{"title": "A", "confidence_score": 7}, {"title": "B", "confidence_score": -1}]`, nil)
	require.Len(t, plays, 2)
	assert.Equal(t, 1.0, plays[0].ConfidenceScore)
	assert.Equal(t, 0.0, plays[1].ConfidenceScore)
}

func TestParsePlays_Malformed(t *testing.T) {
	tests := []string{"", "nope", `{"title": "object not array"}`, "[{"}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			plays := ParsePlays(in, nil)
			assert.NotNil(t, plays)
			assert.Empty(t, plays)
		})
	}
}

func TestParseCompetitors(t *testing.T) {
	text := "Here you go:\n```\n[{\"use_case\": \"Chatbot\", \"outcome\": \"NPS +10\", \"source_url\": \"https://x.example\", \"source_title\": \"X\"}]\n```"
	proofs := ParseCompetitors(text, nil)

	require.Len(t, proofs, 1)
	assert.Equal(t, "Unknown", proofs[0].CompetitorName)
	assert.Equal(t, "Chatbot", proofs[0].UseCase)
	assert.Equal(t, types.Citation{Title: "X", URL: "https://x.example"}, proofs[0].Source)

	assert.Empty(t, ParseCompetitors("garbage", nil))
}

func TestParseClassification(t *testing.T) {
	class, err := ParseClassification(`{"vertical": "Retail", "maturity_level": "4", "maturity_summary": "Advanced"}`)
	require.NoError(t, err)
	assert.Equal(t, "Retail", class.Vertical)
	assert.Equal(t, "Unknown", class.Domain)
	assert.Equal(t, 4, class.MaturityLevel)
	assert.Equal(t, "Advanced", class.MaturitySummary)

	_, err = ParseClassification("no json here")
	assert.Error(t, err)
}

func TestFormatters(t *testing.T) {
	proofs := []types.CompetitorProof{
		{CompetitorName: "Globex", UseCase: "Fraud", Outcome: "Less loss", Source: types.Citation{URL: "https://g.example"}},
		{CompetitorName: "Hooli", UseCase: "Search", Outcome: "More ads"},
	}
	assert.Equal(t,
		"- Globex: Fraud → Less loss (Source: https://g.example)\n- Hooli: Search → More ads",
		formatAssetProofs(proofs))
	assert.Equal(t,
		"- **Globex**: Fraud → Less loss\n- **Hooli**: Search → More ads",
		formatIdeationProofs(proofs))
	assert.Equal(t, "No competitor data available.", formatAssetProofs(nil))

	assert.Equal(t, "- gap one\n- gap two", formatHistoryGaps([]string{"gap one", "gap two"}, "ignored"))
	assert.Equal(t, "synth", formatHistoryGaps(nil, "synth"))

	hist := []types.HistoricalPlay{{ClientName: "Acme", Vertical: "Retail", PlaySummary: "Summary", SimilarityScore: 0.456}}
	assert.Equal(t, "- **Acme** (Retail): Summary [similarity: 0.46]", formatHistoricalPlays(hist))

	plays := []types.SalesPlay{
		{Title: "A", Challenge: "c1", ProposedSolution: "s1", BusinessOutcome: "o1"},
		{Title: "B", Challenge: "c2", ProposedSolution: "s2", BusinessOutcome: "o2"},
	}
	assert.Equal(t, "### 1. A\nc1 → s1 → o1\n\n### 2. B\nc2 → s2 → o2", formatPlaysSummary(plays))
}

func TestFileAssetWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w := NewFileAssetWriter(dir, nil)

	paths := w.WriteAssets(context.Background(), "Acme Corp", map[string]string{"Fraud/Shield": "doc"}, "plan")

	assert.Len(t, paths, 2)
	body, err := os.ReadFile(filepath.Join(dir, "acme_corp_fraudshield_one_pager.md"))
	require.NoError(t, err)
	assert.Equal(t, "doc", string(body))
	body, err = os.ReadFile(filepath.Join(dir, StrategicPlanFilename("Acme Corp")))
	require.NoError(t, err)
	assert.Equal(t, "plan", string(body))
}

func TestAssetFilenames_Capped(t *testing.T) {
	long := "A Very Long Client Name That Exceeds Thirty Characters"
	name := OnePagerFilename(long, "t")
	assert.Equal(t, "a_very_long_client_name_that_e_t_one_pager.md", name)
}
