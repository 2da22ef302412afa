// Package types provides the value types shared by the prospecting pipeline, memory, and API layers.
package types

import "strings"

// Citation is a source reference extracted from generated research.
type Citation struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// CompetitorProof is a competitor's published AI/ML initiative used as evidence.
type CompetitorProof struct {
	CompetitorName string   `json:"competitor_name"`
	Vertical       string   `json:"vertical"`
	UseCase        string   `json:"use_case"`
	Outcome        string   `json:"outcome"`
	Source         Citation `json:"source"`
}

// SalesPlay is one proposed initiative for the client.
type SalesPlay struct {
	Title            string     `json:"title"`
	Challenge        string     `json:"challenge"`
	MarketStandard   string     `json:"market_standard"`
	ProposedSolution string     `json:"proposed_solution"`
	BusinessOutcome  string     `json:"business_outcome"`
	TechnicalStack   []string   `json:"technical_stack"`
	ConfidenceScore  float64    `json:"confidence_score"`
	Citations        []Citation `json:"citations"`
}

// Clone returns a deep copy so snapshots do not share slices with the source.
func (p SalesPlay) Clone() SalesPlay {
	out := p
	if p.TechnicalStack != nil {
		out.TechnicalStack = append([]string(nil), p.TechnicalStack...)
	}
	if p.Citations != nil {
		out.Citations = append([]Citation(nil), p.Citations...)
	}
	return out
}

// Chain renders the play as "challenge → solution → outcome" prefixed by its title.
func (p SalesPlay) Chain() string {
	return p.Title + ": " + p.Challenge + " → " + p.ProposedSolution + " → " + p.BusinessOutcome
}

// HistoricalPlay is a read-only projection of a semantic memory match.
type HistoricalPlay struct {
	ClientName      string  `json:"client_name"`
	Vertical        string  `json:"vertical"`
	PlaySummary     string  `json:"play_summary"`
	Outcome         string  `json:"outcome"`
	SimilarityScore float64 `json:"similarity_score"`
}

// Classification is the structured vertical/domain reading of a research report.
type Classification struct {
	Vertical        string `json:"vertical"`
	Domain          string `json:"domain"`
	MaturityLevel   int    `json:"maturity_level"`
	MaturitySummary string `json:"maturity_summary"`
}

// UnknownClassification is used when the backend response cannot be parsed.
func UnknownClassification() Classification {
	return Classification{
		Vertical:        "Unknown",
		Domain:          "Unknown",
		MaturityLevel:   0,
		MaturitySummary: "Could not classify",
	}
}

// ClonePlays deep-copies a slice of plays.
func ClonePlays(plays []SalesPlay) []SalesPlay {
	if plays == nil {
		return nil
	}
	out := make([]SalesPlay, len(plays))
	for i, p := range plays {
		out[i] = p.Clone()
	}
	return out
}

// PlayTitles returns the titles of plays in order.
func PlayTitles(plays []SalesPlay) []string {
	titles := make([]string, 0, len(plays))
	for _, p := range plays {
		titles = append(titles, p.Title)
	}
	return titles
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// SafeFileComponent lowercases s, replaces spaces with underscores, drops path
// separators, and caps the result at n runes.
func SafeFileComponent(s string, n int) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.NewReplacer("/", "", "\\", "", "..", "").Replace(s)
	return Truncate(s, n)
}
