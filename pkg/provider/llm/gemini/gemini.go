// Package gemini provides the default reasoning provider, backed by the
// Google Gen AI SDK (google.golang.org/genai) against the Gemini API.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/llm"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-1.5-flash"

// Provider implements llm.Provider using the Gemini generateContent API.
type Provider struct {
	client *genai.Client
	model  string
}

type config struct {
	model      string
	baseURL    string
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(c *config) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL overrides the Gemini API endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// New creates a Gemini provider. apiKey is required.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	cfg := config{model: DefaultModel}
	for _, o := range opts {
		o(&cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.httpClient,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Provider{client: client, model: cfg.model}, nil
}

// Model returns the model name requests are sent to.
func (p *Provider) Model() string { return p.model }

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	contents, system := convertMessages(req.Messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("gemini: request has no messages")
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, buildConfig(req, system))
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}

	out := &llm.Response{Content: collectText(resp)}
	if resp != nil && resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

// buildConfig returns nil when the request carries no tuning, so the SDK
// sends its defaults.
func buildConfig(req llm.Request, system []string) *genai.GenerateContentConfig {
	if req.SystemPrompt != "" {
		system = append([]string{req.SystemPrompt}, system...)
	}
	if len(system) == 0 && req.Temperature == 0 && req.MaxTokens == 0 && !req.JSONResponse {
		return nil
	}

	cfg := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		parts := make([]*genai.Part, 0, len(system))
		for _, s := range system {
			parts = append(parts, genai.NewPartFromText(s))
		}
		cfg.SystemInstruction = &genai.Content{Parts: parts}
	}
	if req.Temperature != 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSONResponse {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

// convertMessages splits system turns out (Gemini takes them as a system
// instruction) and maps the rest onto user/model contents.
func convertMessages(msgs []llm.Message) (contents []*genai.Content, system []string) {
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, system
}

func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil && !part.Thought {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

var _ llm.Provider = (*Provider)(nil)
