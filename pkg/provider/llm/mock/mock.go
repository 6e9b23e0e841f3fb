// Package mock provides a test double for the llm.Provider interface.
//
// Responses can be scripted per call through Results, or fixed through
// Response/Err. Every request is recorded for later inspection.
//
// Example:
//
//	p := &mock.Provider{Response: &llm.Response{Content: `{"wake":true,"stop":false}`}}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/llm"
)

// Result is one scripted outcome of Complete.
type Result struct {
	Response *llm.Response
	Err      error
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Results are consumed in order, one per call. When exhausted, Response
	// and Err are used.
	Results []Result

	// Response is returned by Complete once Results is exhausted. May be nil.
	Response *llm.Response

	// Err, if non-nil, is returned by Complete once Results is exhausted.
	Err error

	// Hook, if set, runs at the start of every call (before the result is
	// chosen). Tests use it to block or to observe the context.
	Hook func(ctx context.Context, req llm.Request)

	calls []llm.Request
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	hook := p.Hook
	p.mu.Unlock()
	if hook != nil {
		hook(ctx, req)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if len(p.Results) > 0 {
		r := p.Results[0]
		p.Results = p.Results[1:]
		return r.Response, r.Err
	}
	return p.Response, p.Err
}

// Calls returns a copy of every request received so far.
func (p *Provider) Calls() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.Request, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns the number of Complete invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Reset clears recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

var _ llm.Provider = (*Provider)(nil)
