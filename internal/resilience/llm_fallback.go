package resilience

import (
	"context"

	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across reasoning
// backends. Each backend has its own circuit breaker; when the primary fails
// or its breaker is open, the next one is tried.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends the request to the first healthy provider and returns its
// response.
func (f *LLMFallback) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.Response, error) {
		return p.Complete(ctx, req)
	})
}
