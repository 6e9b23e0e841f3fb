// Package llm defines the Provider interface for the reasoning collaborator.
//
// The same contract serves two roles in Aura: generating the spoken reply to a
// user query, and classifying short transcripts for wake/stop intent. Both are
// single-shot completions; streaming and tool calling are not part of the
// contract.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned by [Generate] when the model answered with
// nothing but whitespace.
var ErrEmptyResponse = errors.New("llm: empty response")

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the plain-text body of the turn.
	Content string
}

// Usage holds token accounting information returned by the backend.
// Providers that do not report usage leave it zero.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Request carries everything the model needs to produce one response.
// At minimum Messages must be non-empty.
type Request struct {
	// SystemPrompt is an optional instruction placed before Messages. Providers
	// without a dedicated system slot prepend it as a system-role message.
	SystemPrompt string

	// Messages is the ordered conversation; the last entry is normally the user
	// turn that drives the response.
	Messages []Message

	// Temperature controls randomness. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero leaves the provider default.
	MaxTokens int

	// JSONResponse asks the model for a JSON document. Providers that cannot
	// enforce a response MIME type ignore it.
	JSONResponse bool
}

// Response is the result of a completion.
type Response struct {
	// Content is the generated text, untrimmed.
	Content string

	// Usage reports token consumption when the backend provides it.
	Usage Usage
}

// Provider is the abstraction over any reasoning backend.
type Provider interface {
	// Complete sends req and blocks until the full response is available.
	// An error means a provider or transport failure; an empty Content is not
	// an error at this level.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// UserPrompt builds a request containing a single user message.
func UserPrompt(prompt string) Request {
	return Request{Messages: []Message{{Role: RoleUser, Content: prompt}}}
}

// Generate sends prompt as a single user turn and returns the trimmed text.
// A whitespace-only answer yields [ErrEmptyResponse].
func Generate(ctx context.Context, p Provider, prompt string) (string, error) {
	return GenerateRequest(ctx, p, UserPrompt(prompt))
}

// GenerateRequest is like [Generate] but sends a caller-built request.
func GenerateRequest(ctx context.Context, p Provider, req Request) (string, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("llm: generate: %w", err)
	}
	if resp == nil {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
