package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

// Request is a single generation call.
type Request struct {
	Prompt            string
	SystemInstruction string
	Tier              ModelTier
	// JSON asks the backend for an application/json response and strips code fences.
	JSON bool
	// Grounded asks for live web grounding when a Grounder is configured.
	Grounded bool
	// GroundingQuery is the search subject; defaults to the start of Prompt.
	GroundingQuery string
}

// Response is generated text plus any source citations found in it.
type Response struct {
	Text      string
	Citations []types.Citation
}

// Client is an abstraction over LLM providers
type Client interface {
	// GenerateContent runs one generation call
	GenerateContent(ctx context.Context, req Request) (*Response, error)
	// GetModel returns the provider model name for a tier
	GetModel(tier ModelTier) string
	// Close releases any resources held by the client
	Close() error
}

// NewClient creates a new LLM client based on configuration
func NewClient(ctx context.Context, config *Config, apiKey string, grounder Grounder) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Provider {
	case ProviderGemini:
		return NewGeminiClient(ctx, config, apiKey, grounder)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", config.Provider)
	}
}

// GeminiClient implements Client for Google Gemini
type GeminiClient struct {
	client   *genai.Client
	config   *Config
	grounder Grounder
}

// NewGeminiClient creates a new Gemini client. grounder may be nil.
func NewGeminiClient(ctx context.Context, config *Config, apiKey string, grounder Grounder) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:   client,
		config:   config,
		grounder: grounder,
	}, nil
}

// GenerateContent generates content for the request's model tier
func (c *GeminiClient) GenerateContent(ctx context.Context, req Request) (*Response, error) {
	modelName := c.config.GetModel(req.Tier)
	if modelName == "" {
		return nil, Permanent(fmt.Errorf("no model configured for tier %s", req.Tier))
	}

	model := c.client.GenerativeModel(modelName)
	model.SetTemperature(c.config.Temperature)
	if req.SystemInstruction != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.SystemInstruction)}}
	}
	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}

	prompt := req.Prompt
	var sources []types.Citation
	if req.Grounded && c.grounder != nil {
		query := req.GroundingQuery
		if query == "" {
			query = types.Truncate(req.Prompt, 200)
		}
		grounding, err := c.grounder.Ground(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to ground prompt: %w", err)
		}
		if grounding != nil {
			prompt = grounding.Prepend(prompt)
			sources = grounding.Citations
		}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	text, err := extractTextFromResponse(resp)
	if err != nil {
		return nil, err
	}

	if req.JSON {
		return &Response{Text: CleanJSONBlock(text)}, nil
	}
	return &Response{
		Text:      text,
		Citations: MergeCitations(ExtractCitations(text), sources),
	}, nil
}

// GetModel returns the model name for a tier
func (c *GeminiClient) GetModel(tier ModelTier) string {
	return c.config.GetModel(tier)
}

// Close releases resources held by the client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// extractTextFromResponse extracts text from Gemini API response
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}

	return strings.Join(parts, ""), nil
}
