// Package research provides live web grounding for generation calls.
package research

import "strings"

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// RankedResult is a search hit with a priority for fetch ordering.
type RankedResult struct {
	SearchResult
	Priority float64 `json:"priority"` // 0.0-1.0, higher = more relevant
}

// HighValuePatterns returns URL substrings that indicate high-value sources
// for technology and AI research on a company.
func HighValuePatterns() map[string]float64 {
	return map[string]float64{
		"investor":      1.0,
		"annual-report": 1.0,
		"10-k":          1.0,
		"press-release": 0.9,
		"newsroom":      0.9,
		"news":          0.8,
		"engineering":   0.8,
		"blog":          0.7,
		"case-study":    0.8,
		"careers":       0.5,
	}
}

// SearchQueries returns the search queries used to ground research on subject.
func SearchQueries(subject string) []string {
	subject = strings.TrimSpace(subject)
	return []string{
		subject,
		subject + " AI machine learning initiatives",
		subject + " digital transformation cloud strategy",
	}
}

// Priority scores a URL by the best matching high-value pattern.
// Unmatched URLs score 0.3.
func Priority(url string) float64 {
	lower := strings.ToLower(url)
	best := 0.3
	for pattern, score := range HighValuePatterns() {
		if strings.Contains(lower, pattern) && score > best {
			best = score
		}
	}
	return best
}
