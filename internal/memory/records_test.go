package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

type failingStore struct{}

func (failingStore) Query(context.Context, string, string, int) ([]Match, error) {
	return nil, errors.New("index unavailable")
}
func (failingStore) Add(context.Context, string, []Document) (int, error) {
	return 0, errors.New("disk full")
}
func (failingStore) Count(context.Context, string) (int, error) { return 1, nil }
func (failingStore) Close() error                              { return nil }

var acme = ClientProfile{
	ClientName:      "Acme Corp",
	Vertical:        "Retail",
	Domain:          "Grocery",
	MaturitySummary: "Early cloud adopter.",
}

func acmePlays() []types.SalesPlay {
	return []types.SalesPlay{
		{
			Title:            "Demand Sensing",
			Challenge:        "Stockouts in fresh produce",
			ProposedSolution: "Forecasting on store-level signals",
			BusinessOutcome:  "Cut waste by 15%",
			ConfidenceScore:  0.8,
		},
		{
			Title:            "Shelf Vision",
			Challenge:        "Planogram drift",
			ProposedSolution: "Computer vision audits",
			BusinessOutcome:  "Recover 2% of sales",
			ConfidenceScore:  0.6,
		},
	}
}

func TestColdStart_ReturnsEmpty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.Empty(t, SimilarVerticals(ctx, store, "Retail", "Grocery", nil))
	assert.Empty(t, SimilarPlays(ctx, store, "Retail", "Acme is a grocer.", nil))
}

func TestStoreThenQuery_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	n, err := StorePlays(ctx, store, acme, acmePlays(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, StoreClientProfile(ctx, store, acme, acmePlays(), now))

	verticals := SimilarVerticals(ctx, store, "Retail", "Grocery", nil)
	require.NotEmpty(t, verticals)
	assert.Equal(t, "Acme Corp", verticals[0].ClientName)
	assert.Equal(t, "2 plays generated", verticals[0].Outcome)
	assert.Contains(t, verticals[0].PlaySummary, "Plays: Demand Sensing, Shelf Vision")

	plays := SimilarPlays(ctx, store, "Retail", "grocery chain with produce stockouts and forecasting gaps", nil)
	require.NotEmpty(t, plays)
	assert.Equal(t, "Acme Corp", plays[0].ClientName)
	assert.Equal(t, "Demand Sensing: Stockouts in fresh produce → Forecasting on store-level signals → Cut waste by 15%", plays[0].PlaySummary)
}

func TestSimilarHelpers_SwallowErrors(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, SimilarVerticals(ctx, failingStore{}, "Retail", "Grocery", nil))
	assert.Empty(t, SimilarPlays(ctx, failingStore{}, "Retail", "report", nil))
	assert.Empty(t, SimilarPlays(ctx, nil, "Retail", "report", nil))
}

func TestStorePlays_PropagatesWriteError(t *testing.T) {
	_, err := StorePlays(context.Background(), failingStore{}, acme, acmePlays(), time.Now())
	assert.Error(t, err)
}

func TestPlayDocuments_Metadata(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	long := acmePlays()[:1]
	long[0].BusinessOutcome = strings.Repeat("x", 250)

	docs := PlayDocuments(acme, long, now)
	require.Len(t, docs, 1)
	md := docs[0].Metadata
	assert.Equal(t, "Acme Corp", md["client_name"])
	assert.Equal(t, "Grocery", md["domain"])
	assert.Equal(t, "Demand Sensing", md["title"])
	assert.Len(t, md["outcome"], 200)
	assert.Equal(t, "0.8", md["confidence_score"])
	assert.Equal(t, "2026-03-01T12:00:00Z", md["created_at"])
}

func TestProfileDocument(t *testing.T) {
	doc := ProfileDocument(acme, acmePlays(), time.Now())
	assert.Equal(t, "Acme Corp - Retail / Grocery. Early cloud adopter. Plays: Demand Sensing, Shelf Vision", doc.Text)
	assert.Equal(t, "2 plays generated", doc.Metadata["outcome"])
}
