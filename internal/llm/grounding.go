package llm

import (
	"context"
	"strings"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

// Grounder looks up live sources for a search subject before a prompt is sent to the model.
type Grounder interface {
	Ground(ctx context.Context, query string) (*Grounding, error)
}

// Grounding is the search context gathered for one prompt.
type Grounding struct {
	// Context is a rendered block of source excerpts.
	Context   string
	Citations []types.Citation
}

// Prepend places the grounding context ahead of prompt.
func (g *Grounding) Prepend(prompt string) string {
	if g == nil || strings.TrimSpace(g.Context) == "" {
		return prompt
	}
	var sb strings.Builder
	sb.WriteString("Use the following live web sources where relevant and cite their URLs.\n\n")
	sb.WriteString(g.Context)
	sb.WriteString("\n\n---\n\n")
	sb.WriteString(prompt)
	return sb.String()
}
