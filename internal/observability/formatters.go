// Package observability provides logging, metrics, and formatted CLI output.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/runs"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/store"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer renders run progress and results for the terminal.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)
	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}
	fmt.Fprintf(p.out, "└%s┘\n", border)
}

var statusIcons = map[runs.EventStatus]string{
	runs.EventPending:   "·",
	runs.EventStarted:   "▶",
	runs.EventCompleted: "✓",
	runs.EventFailed:    "✗",
}

// PrintProgress writes one line per progress event. Pending events are
// skipped since every node starts out pending.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintProgress(ev runs.ProgressEvent) {
	if ev.Status == runs.EventPending {
		return
	}
	line := fmt.Sprintf("%s %-22s %s", statusIcons[ev.Status], ev.Node, ev.Status)
	if ev.Detail != "" {
		line += "  " + truncate(ev.Detail, 60)
	}
	fmt.Fprintf(p.out, "[%s] %s\n", ev.Timestamp.Format("15:04:05"), line)
}

// PrintClassification outputs the research summary of a finished run.
func (p *Printer) PrintClassification(run *store.Run) {
	if run == nil {
		return
	}
	r := run.Results

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Client:    %s\n", run.ClientName))
	sb.WriteString(fmt.Sprintf("Vertical:  %s\n", r.ClientVertical))
	sb.WriteString(fmt.Sprintf("Domain:    %s\n", r.ClientDomain))
	sb.WriteString(fmt.Sprintf("Maturity:  %d/5\n", r.MaturityLevel))
	if r.DigitalMaturitySummary != "" {
		sb.WriteString(fmt.Sprintf("  %s\n", r.DigitalMaturitySummary))
	}
	sb.WriteString(fmt.Sprintf("\nCitations: %d  Competitor proofs: %d", len(r.ResearchCitations), len(r.CompetitorProofs)))

	p.printBox("RESEARCH SUMMARY", sb.String())
}

// PrintPlays outputs the refined plays with their confidence scores.
func (p *Printer) PrintPlays(plays []types.SalesPlay) {
	if len(plays) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Top %d plays:\n\n", len(plays)))

	count := min(len(plays), maxItemsToShow)
	for i := 0; i < count; i++ {
		play := plays[i]
		sb.WriteString(fmt.Sprintf("#%d  %s\n", i+1, play.Title))
		sb.WriteString(fmt.Sprintf("    Confidence: %.2f\n", play.ConfidenceScore))
		if play.BusinessOutcome != "" {
			sb.WriteString(fmt.Sprintf("    Outcome: %s\n", truncate(play.BusinessOutcome, 44)))
		}
		if len(play.TechnicalStack) > 0 {
			sb.WriteString(fmt.Sprintf("    Stack: %s\n", truncate(strings.Join(play.TechnicalStack, ", "), 40)))
		}
		if i < count-1 {
			sb.WriteString("\n")
		}
	}
	if len(plays) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n... and %d more plays", len(plays)-maxItemsToShow))
	}

	p.printBox("SALES PLAYS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintRunResult outputs the final status line and any recorded errors.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintRunResult(run *store.Run) {
	if run == nil {
		return
	}
	if run.Status == store.StatusFailed {
		p.printBox("RUN FAILED", fmt.Sprintf("Run:   %s\nStep:  %s\nError: %s", run.ID, run.CurrentStep, run.Error))
		return
	}

	p.PrintClassification(run)
	p.PrintPlays(run.Results.RefinedPlays)
	if len(run.Results.Errors) > 0 {
		var sb strings.Builder
		for _, e := range run.Results.Errors {
			sb.WriteString(fmt.Sprintf("⚠ %s\n", e))
		}
		p.printBox("WARNINGS", strings.TrimSuffix(sb.String(), "\n"))
	}
	fmt.Fprintf(p.out, "Run %s %s with %d plays\n", run.ID, run.Status, run.PlaysCount)
}
