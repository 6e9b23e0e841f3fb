// Package openai serves the reasoning role through the OpenAI chat
// completions API. Any OpenAI-compatible server (vLLM, LM Studio, a proxy)
// works through [WithBaseURL].
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/llm"
)

// ErrRefused is returned when the model declines to answer. The refusal text
// is included in the error.
var ErrRefused = errors.New("openai: model refused")

// Option adds a request option to every call the provider makes.
type Option func(*[]option.RequestOption)

// WithBaseURL points the client at another OpenAI-compatible endpoint.
// Empty is ignored.
func WithBaseURL(url string) Option {
	return func(o *[]option.RequestOption) {
		if url != "" {
			*o = append(*o, option.WithBaseURL(url))
		}
	}
}

// WithOrganization sends the OpenAI-Organization header. Empty is ignored.
func WithOrganization(org string) Option {
	return func(o *[]option.RequestOption) {
		if org != "" {
			*o = append(*o, option.WithOrganization(org))
		}
	}
}

// WithTimeout bounds each request attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *[]option.RequestOption) {
		if d > 0 {
			*o = append(*o, option.WithRequestTimeout(d))
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *[]option.RequestOption) {
		if hc != nil {
			*o = append(*o, option.WithHTTPClient(hc))
		}
	}
}

// Provider implements [llm.Provider] on the OpenAI chat completions API.
type Provider struct {
	client oai.Client
	model  string
}

var _ llm.Provider = (*Provider)(nil)

// New returns a provider that authenticates with apiKey and sends every
// request to model.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("openai: api key must not be empty")
	case model == "":
		return nil, errors.New("openai: model must not be empty")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, opt := range opts {
		opt(&reqOpts)
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Complete implements [llm.Provider]. JSONResponse switches the API into
// JSON-object mode.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("openai: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}

	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return nil, fmt.Errorf("%w: %s", ErrRefused, msg.Refusal)
	}
	return &llm.Response{
		Content: msg.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (p *Provider) params(req llm.Request) oai.ChatCompletionNewParams {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msgs = append(msgs, message(m))
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: msgs,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.JSONResponse {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

// message maps one turn onto the SDK union. Unknown roles become user turns.
func message(m llm.Message) oai.ChatCompletionMessageParamUnion {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content)
	case llm.RoleAssistant:
		return oai.AssistantMessage(m.Content)
	default:
		return oai.UserMessage(m.Content)
	}
}
