package llm

import (
	"regexp"
	"strings"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

var (
	markdownLinkPattern = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\)]+)\)`)
	bareURLPattern      = regexp.MustCompile(`https?://[^\s,\)\]]+`)
)

// ExtractCitations pulls markdown links and bare URLs out of text.
// Results are deduplicated by URL and keep first-seen order; markdown links come first.
func ExtractCitations(text string) []types.Citation {
	var citations []types.Citation
	seen := make(map[string]bool)

	for _, m := range markdownLinkPattern.FindAllStringSubmatch(text, -1) {
		title, url := m[1], m[2]
		if seen[url] {
			continue
		}
		seen[url] = true
		citations = append(citations, types.Citation{Title: title, URL: url})
	}

	for _, loc := range bareURLPattern.FindAllStringIndex(text, -1) {
		if loc[0] > 0 {
			prev := text[loc[0]-1]
			if prev == '(' || prev == '[' {
				continue
			}
		}
		url := strings.TrimRight(text[loc[0]:loc[1]], ".;:")
		if seen[url] {
			continue
		}
		seen[url] = true
		citations = append(citations, types.Citation{URL: url})
	}

	return citations
}

// MergeCitations appends extra to base, skipping URLs already present.
func MergeCitations(base, extra []types.Citation) []types.Citation {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[string]bool, len(base))
	for _, c := range base {
		seen[c.URL] = true
	}
	out := append([]types.Citation(nil), base...)
	for _, c := range extra {
		if c.URL == "" || seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		out = append(out, c)
	}
	return out
}
