// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    Audio: []byte("mp3"),
//	    PCM:   tts.PCM{Samples: make([]int16, 320), Format: tts.PCMFormat{SampleRate: 16000, Channels: 1}},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/tts"
)

// SynthesizePCMCall records a single invocation of SynthesizePCM.
type SynthesizePCMCall struct {
	Request tts.Request
	Format  tts.PCMFormat
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by Synthesize.
	Audio []byte

	// SynthesizeErr, if non-nil, is returned by Synthesize.
	SynthesizeErr error

	// PCM is returned by SynthesizePCM. When PCM.Format is zero the requested
	// format is echoed back.
	PCM tts.PCM

	// SynthesizePCMErr, if non-nil, is returned by SynthesizePCM.
	SynthesizePCMErr error

	// SynthesizeCalls records every Synthesize request.
	SynthesizeCalls []tts.Request

	// SynthesizePCMCalls records every SynthesizePCM request.
	SynthesizePCMCalls []SynthesizePCMCall
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and returns Audio, SynthesizeErr.
func (p *Provider) Synthesize(_ context.Context, req tts.Request) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, req)
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	return p.Audio, nil
}

// SynthesizePCM records the call and returns PCM, SynthesizePCMErr.
func (p *Provider) SynthesizePCM(_ context.Context, req tts.Request, format tts.PCMFormat) (tts.PCM, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizePCMCalls = append(p.SynthesizePCMCalls, SynthesizePCMCall{Request: req, Format: format})
	if p.SynthesizePCMErr != nil {
		return tts.PCM{}, p.SynthesizePCMErr
	}
	out := p.PCM
	if out.Format == (tts.PCMFormat{}) {
		out.Format = format
	}
	return out, nil
}

// Texts returns the text of every Synthesize request in order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	for i, r := range p.SynthesizeCalls {
		out[i] = r.Text
	}
	return out
}

// Calls returns the number of Synthesize and SynthesizePCM calls. Thread-safe.
func (p *Provider) Calls() (synth, pcm int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls), len(p.SynthesizePCMCalls)
}
