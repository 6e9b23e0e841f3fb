// Package anyllm serves the reasoning role through
// github.com/mozilla-ai/any-llm-go, which puts Anthropic, Ollama, DeepSeek,
// Mistral, Groq, llama.cpp, llamafile, OpenAI and Gemini behind one
// completion API.
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/llm"
)

// ErrUnknownBackend is returned by [New] for a backend name that any-llm-go
// does not serve here.
var ErrUnknownBackend = errors.New("anyllm: unknown backend")

type factory func(...anyllmlib.Option) (anyllmlib.Provider, error)

// backends maps a lower-case backend name to its any-llm-go constructor.
// Backends without an explicit key read their usual environment variable
// (ANTHROPIC_API_KEY, GROQ_API_KEY, ...); local servers need none.
var backends = map[string]factory{
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
}

// Backends returns the supported backend names, sorted.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Option configures a [Provider].
type Option func(*settings)

type settings struct {
	apiKey  string
	baseURL string
}

// WithAPIKey sets the backend credential. Empty keeps the environment lookup.
func WithAPIKey(key string) Option { return func(s *settings) { s.apiKey = key } }

// WithBaseURL points the backend at another endpoint, typically a local
// inference server. Empty keeps the backend default.
func WithBaseURL(url string) Option { return func(s *settings) { s.baseURL = url } }

// Provider implements [llm.Provider] on one any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

var _ llm.Provider = (*Provider)(nil)

// New builds a provider for backend (one of [Backends], case-insensitive)
// that sends every request to model.
func New(backend, model string, opts ...Option) (*Provider, error) {
	name := strings.ToLower(strings.TrimSpace(backend))
	mk, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (have %s)", ErrUnknownBackend, backend, strings.Join(Backends(), ", "))
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: %s: model must not be empty", name)
	}

	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	var libOpts []anyllmlib.Option
	if s.apiKey != "" {
		libOpts = append(libOpts, anyllmlib.WithAPIKey(s.apiKey))
	}
	if s.baseURL != "" {
		libOpts = append(libOpts, anyllmlib.WithBaseURL(s.baseURL))
	}

	b, err := mk(libOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", name, err)
	}
	return &Provider{backend: b, name: name, model: model}, nil
}

// Backend returns the backend name the provider was built for.
func (p *Provider) Backend() string { return p.name }

// Model returns the model requests are sent to.
func (p *Provider) Model() string { return p.model }

// Complete implements [llm.Provider]. JSONResponse is not enforced; the
// classifier prompt asks for JSON and its parser repairs what comes back.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	resp, err := p.backend.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s: response has no choices", p.name)
	}

	out := &llm.Response{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// params maps req onto any-llm-go's chat-completion shape. The system prompt
// leads as a system message; zero tuning values stay unset.
func (p *Provider) params(req llm.Request) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: role(m.Role), Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	return params
}

// role passes the three known roles through and sends anything else as a
// user turn.
func role(r string) string {
	switch r {
	case llm.RoleSystem, llm.RoleAssistant:
		return r
	default:
		return llm.RoleUser
	}
}
