package resilience

import (
	"context"

	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across synthesis
// backends. The two methods fail over independently.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize returns container audio from the first provider that succeeds.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, req)
	})
}

// SynthesizePCM returns raw PCM from the first provider that succeeds.
func (f *TTSFallback) SynthesizePCM(ctx context.Context, req tts.Request, format tts.PCMFormat) (tts.PCM, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (tts.PCM, error) {
		return p.SynthesizePCM(ctx, req, format)
	})
}
