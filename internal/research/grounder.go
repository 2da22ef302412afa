package research

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/fetch"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/llm"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

// PageSource fetches the text of a web page.
type PageSource interface {
	Fetch(ctx context.Context, url string) (*fetch.Result, error)
}

// GrounderConfig bounds how much live context is gathered per call.
type GrounderConfig struct {
	ResultsPerQuery   int
	MaxSources        int
	MaxCharsPerSource int
	FetchConcurrency  int
}

// DefaultGrounderConfig returns the default grounding limits.
func DefaultGrounderConfig() GrounderConfig {
	return GrounderConfig{
		ResultsPerQuery:   3,
		MaxSources:        5,
		MaxCharsPerSource: 1500,
		FetchConcurrency:  3,
	}
}

// WebGrounder implements llm.Grounder with web search plus page fetches.
type WebGrounder struct {
	searcher Searcher
	pages    PageSource
	cfg      GrounderConfig
	logger   *zap.Logger
}

var _ llm.Grounder = (*WebGrounder)(nil)

// NewWebGrounder creates a grounder. pages may be nil, in which case only
// search snippets are used.
func NewWebGrounder(searcher Searcher, pages PageSource, cfg GrounderConfig, logger *zap.Logger) *WebGrounder {
	defaults := DefaultGrounderConfig()
	if cfg.ResultsPerQuery <= 0 {
		cfg.ResultsPerQuery = defaults.ResultsPerQuery
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = defaults.MaxSources
	}
	if cfg.MaxCharsPerSource <= 0 {
		cfg.MaxCharsPerSource = defaults.MaxCharsPerSource
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = defaults.FetchConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebGrounder{searcher: searcher, pages: pages, cfg: cfg, logger: logger}
}

// Ground searches for query and returns a context block of the best sources.
// It returns nil when nothing was found and an error only when every search failed.
func (g *WebGrounder) Ground(ctx context.Context, query string) (*llm.Grounding, error) {
	ranked, err := g.search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}
	if len(ranked) > g.cfg.MaxSources {
		ranked = ranked[:g.cfg.MaxSources]
	}

	excerpts := make([]string, len(ranked))
	if g.pages != nil {
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(g.cfg.FetchConcurrency)
		for i, r := range ranked {
			eg.Go(func() error {
				page, err := g.pages.Fetch(egCtx, r.URL)
				if err != nil {
					g.logger.Debug("source fetch failed, using snippet", zap.String("url", r.URL), zap.Error(err))
					return nil
				}
				excerpts[i] = types.Truncate(page.Text, g.cfg.MaxCharsPerSource)
				return nil
			})
		}
		_ = eg.Wait()
	}

	var sb strings.Builder
	citations := make([]types.Citation, 0, len(ranked))
	for i, r := range ranked {
		text := excerpts[i]
		if text == "" {
			text = r.Snippet
		}
		fmt.Fprintf(&sb, "[%d] %s (%s)\n%s\n\n", i+1, r.Title, r.URL, text)
		citations = append(citations, types.Citation{Title: r.Title, URL: r.URL, Snippet: r.Snippet})
	}

	return &llm.Grounding{
		Context:   strings.TrimSpace(sb.String()),
		Citations: citations,
	}, nil
}

func (g *WebGrounder) search(ctx context.Context, query string) ([]RankedResult, error) {
	var ranked []RankedResult
	var errs []error
	seen := make(map[string]bool)

	queries := SearchQueries(query)
	for _, q := range queries {
		results, err := g.searcher.Search(ctx, q, g.cfg.ResultsPerQuery)
		if err != nil {
			g.logger.Warn("grounding search failed", zap.String("query", q), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		for _, r := range results {
			if r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			ranked = append(ranked, RankedResult{SearchResult: r, Priority: Priority(r.URL)})
		}
	}

	if len(errs) == len(queries) {
		return nil, fmt.Errorf("all grounding searches failed: %w", errors.Join(errs...))
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Priority > ranked[j].Priority
	})
	return ranked, nil
}
