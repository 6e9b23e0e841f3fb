package resilience

import (
	"context"

	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across transcription
// backends, each behind its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the provider names in try order.
func (f *STTFallback) Names() []string { return f.group.Names() }

// Transcribe returns the transcript of the first provider that succeeds. An
// empty transcript is a success ("no speech") and does not fail over.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, req)
	})
}
