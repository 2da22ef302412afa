package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/llm"
)

type callKind string

const (
	kindResearch    callKind = "research"
	kindClassify    callKind = "classify"
	kindHistory     callKind = "history"
	kindCompetitors callKind = "competitors"
	kindDivergent   callKind = "divergent"
	kindConvergent  callKind = "convergent"
	kindOnePager    callKind = "one_pager"
	kindPlan        callKind = "plan"
	kindUnknown     callKind = "unknown"
)

func classifyRequest(req llm.Request) callKind {
	switch {
	case req.Tier == llm.TierResearch:
		return kindResearch
	case strings.Contains(req.Prompt, "classify the client"):
		return kindClassify
	case strings.Contains(req.Prompt, "Past Sales History"):
		return kindHistory
	case strings.Contains(req.Prompt, "competitive intelligence analyst"):
		return kindCompetitors
	case strings.Contains(req.Prompt, "generating sales play ideas"):
		return kindDivergent
	case strings.Contains(req.Prompt, "refine the following sales plays"):
		return kindConvergent
	case strings.Contains(req.Prompt, "one-pager"):
		return kindOnePager
	case strings.Contains(req.Prompt, "Strategic Account Plan"):
		return kindPlan
	default:
		return kindUnknown
	}
}

// scriptedLLM answers each prompt kind with a canned response or error and
// counts calls per kind.
type scriptedLLM struct {
	mu        sync.Mutex
	responses map[callKind]string
	errs      map[callKind]error
	calls     map[callKind]int
	requests  []llm.Request
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{
		responses: map[callKind]string{
			kindResearch: "Acme Corp is a regional bank. See [Annual Report](https://acme.example/ar) and https://news.example/acme.",
			kindClassify: "```json\n{\"vertical\": \"Financial Services\", \"domain\": \"Commercial Banking\", \"maturity_level\": 3, \"maturity_summary\": \"Developing cloud footprint.\"}\n```",
			kindHistory:  "They bought storage but no compute.",
			kindCompetitors: `[{"competitor_name": "Globex", "vertical": "Financial Services", "use_case": "Fraud detection",
				"outcome": "30% fewer losses", "source_title": "Globex PR", "source_url": "https://globex.example/pr"}]`,
			kindDivergent: `[
				{"title": "Fraud Shield", "challenge": "Card fraud", "proposed_solution": "Streaming ML", "business_outcome": "Lower losses", "technical_stack": ["Kafka"], "confidence_score": 0.8},
				{"title": "Loan Copilot", "challenge": "Slow underwriting", "proposed_solution": "Doc AI", "business_outcome": "Faster approvals", "confidence_score": 0.7},
				{"title": "Churn Radar", "challenge": "Attrition", "proposed_solution": "Propensity models", "business_outcome": "Retention"}
			]`,
			kindConvergent: `[
				{"title": "Fraud Shield", "challenge": "Card fraud", "proposed_solution": "Streaming ML", "business_outcome": "Lower losses", "technical_stack": ["Kafka", "Flink"], "confidence_score": 0.9},
				{"title": "Loan Copilot", "challenge": "Slow underwriting", "proposed_solution": "Doc AI", "business_outcome": "Faster approvals", "confidence_score": 0.8}
			]`,
			kindOnePager: "# One pager",
			kindPlan:     "# Strategic plan",
		},
		errs:  map[callKind]error{},
		calls: map[callKind]int{},
	}
}

func (s *scriptedLLM) GenerateContent(_ context.Context, req llm.Request) (*llm.Response, error) {
	kind := classifyRequest(req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[kind]++
	s.requests = append(s.requests, req)

	if err := s.errs[kind]; err != nil {
		return nil, err
	}
	text := s.responses[kind]
	if req.JSON {
		text = llm.CleanJSONBlock(text)
	}
	return &llm.Response{Text: text}, nil
}

func (s *scriptedLLM) GetModel(llm.ModelTier) string { return "scripted" }
func (s *scriptedLLM) Close() error                  { return nil }

func (s *scriptedLLM) count(kind callKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[kind]
}

func (s *scriptedLLM) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *scriptedLLM) requestsOf(kind callKind) []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []llm.Request
	for _, r := range s.requests {
		if classifyRequest(r) == kind {
			out = append(out, r)
		}
	}
	return out
}
