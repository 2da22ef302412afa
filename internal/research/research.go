package research

import (
	"context"
	"fmt"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string, num int) ([]SearchResult, error)
}

// Researcher handles web search through Google Custom Search
type Researcher struct {
	svc *customsearch.Service
	cx  string
}

// NewResearcher creates a new Researcher instance
func NewResearcher(ctx context.Context, apiKey string, cx string) (*Researcher, error) {
	if apiKey == "" || cx == "" {
		return nil, fmt.Errorf("search API key and engine ID are required")
	}
	svc, err := customsearch.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create customsearch service: %w", err)
	}
	return &Researcher{
		svc: svc,
		cx:  cx,
	}, nil
}

// Search returns up to num results for query
func (r *Researcher) Search(ctx context.Context, query string, num int) ([]SearchResult, error) {
	if num <= 0 || num > 10 {
		num = 10
	}
	resp, err := r.svc.Cse.List().Context(ctx).Cx(r.cx).Q(query).Num(int64(num)).Do()
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]SearchResult, 0, len(resp.Items))
	for _, item := range resp.Items {
		results = append(results, SearchResult{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
		})
	}
	return results, nil
}
