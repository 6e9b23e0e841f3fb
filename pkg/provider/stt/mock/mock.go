// Package mock provides a test double for the stt.Provider interface.
//
// Results are consumed in order; once exhausted, Text/Err are returned.
//
//	p := &mock.Provider{Results: []mock.Result{{Text: "hey aura"}, {Text: "what time is it"}}}
//	text, _ := p.Transcribe(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/stt"
)

// Result is one scripted Transcribe outcome.
type Result struct {
	Text string
	Err  error
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results are returned in order, one per call.
	Results []Result

	// Text and Err are returned once Results is exhausted.
	Text string
	Err  error

	// Calls records every request (samples are copied).
	Calls []stt.Request
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns the next scripted result.
func (p *Provider) Transcribe(_ context.Context, req stt.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := make([]int16, len(req.Samples))
	copy(s, req.Samples)
	req.Samples = s
	p.Calls = append(p.Calls, req)

	if len(p.Results) > 0 {
		r := p.Results[0]
		p.Results = p.Results[1:]
		return r.Text, r.Err
	}
	return p.Text, p.Err
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
