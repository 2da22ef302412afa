package research

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/fetch"
)

type fakeSearcher struct {
	mu      sync.Mutex
	results map[string][]SearchResult
	err     error
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) ([]SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.results[query], nil
}

type fakePages struct {
	texts map[string]string
}

func (f *fakePages) Fetch(_ context.Context, url string) (*fetch.Result, error) {
	text, ok := f.texts[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return &fetch.Result{URL: url, Text: text}, nil
}

func TestWebGrounder_RanksDedupsAndFetches(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]SearchResult{
		"Acme Corp": {
			{Title: "Acme home", URL: "https://acme.example.com", Snippet: "Home page"},
			{Title: "Acme IR", URL: "https://acme.example.com/investor/2024", Snippet: "Investor relations"},
		},
		"Acme Corp AI machine learning initiatives": {
			{Title: "Acme IR", URL: "https://acme.example.com/investor/2024", Snippet: "dup"},
		},
	}}
	pages := &fakePages{texts: map[string]string{
		"https://acme.example.com/investor/2024": "Revenue grew 12% on cloud migration.",
	}}

	g := NewWebGrounder(searcher, pages, GrounderConfig{}, nil)
	grounding, err := g.Ground(context.Background(), "Acme Corp")
	require.NoError(t, err)
	require.NotNil(t, grounding)

	require.Len(t, grounding.Citations, 2)
	assert.Equal(t, "https://acme.example.com/investor/2024", grounding.Citations[0].URL)
	assert.True(t, strings.HasPrefix(grounding.Context, "[1] Acme IR"))
	assert.Contains(t, grounding.Context, "Revenue grew 12%")
	// Fetch failure falls back to the snippet
	assert.Contains(t, grounding.Context, "Home page")
	assert.Len(t, searcher.queries, 3)
}

func TestWebGrounder_NoResults(t *testing.T) {
	g := NewWebGrounder(&fakeSearcher{}, nil, DefaultGrounderConfig(), nil)
	grounding, err := g.Ground(context.Background(), "Nobody Inc")
	require.NoError(t, err)
	assert.Nil(t, grounding)
}

func TestWebGrounder_AllSearchesFail(t *testing.T) {
	g := NewWebGrounder(&fakeSearcher{err: errors.New("quota exceeded")}, nil, DefaultGrounderConfig(), nil)
	_, err := g.Ground(context.Background(), "Acme Corp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestWebGrounder_CapsSources(t *testing.T) {
	var results []SearchResult
	for _, u := range []string{"a", "b", "c", "d"} {
		results = append(results, SearchResult{Title: u, URL: "https://" + u + ".example.com"})
	}
	searcher := &fakeSearcher{results: map[string][]SearchResult{"Acme": results}}

	g := NewWebGrounder(searcher, nil, GrounderConfig{MaxSources: 2}, nil)
	grounding, err := g.Ground(context.Background(), "Acme")
	require.NoError(t, err)
	assert.Len(t, grounding.Citations, 2)
}

func TestPriority(t *testing.T) {
	tests := []struct {
		url  string
		want float64
	}{
		{"https://acme.example.com/investor/annual-report", 1.0},
		{"https://acme.example.com/newsroom/launch", 0.9},
		{"https://acme.example.com/", 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.InDelta(t, tt.want, Priority(tt.url), 0.0001)
		})
	}
}

func TestSearchQueries(t *testing.T) {
	queries := SearchQueries("  Acme Corp ")
	require.Len(t, queries, 3)
	assert.Equal(t, "Acme Corp", queries[0])
}
