// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns one reply into audio in two shapes: a compressed or
// containerised clip (MP3, WAV) suitable for relaying to clients as-is, and
// raw signed 16-bit PCM at a caller-chosen format for playback on a room
// audio track.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyText is returned when a request has no text to speak.
var ErrEmptyText = errors.New("tts: request text is empty")

// Request is one synthesis call.
type Request struct {
	// Text to speak.
	Text string

	// VoiceID is the provider-specific voice identifier. Empty selects the
	// provider's configured default.
	VoiceID string

	// Model overrides the provider's configured model.
	Model string
}

// PCMFormat is the raw output format requested from SynthesizePCM.
type PCMFormat struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "16000Hz/1ch".
func (f PCMFormat) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// PCM is synthesised raw audio. Format describes what the provider actually
// produced, which may differ from what was requested.
type PCM struct {
	Samples []int16
	Format  PCMFormat
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize returns encoded audio (e.g., MP3 or WAV bytes) for req.
	Synthesize(ctx context.Context, req Request) ([]byte, error)

	// SynthesizePCM returns raw PCM for req. Providers that cannot produce the
	// requested format return their native format in PCM.Format.
	SynthesizePCM(ctx context.Context, req Request, format PCMFormat) (PCM, error)
}
