// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider transcribes one fixed-length segment of mono PCM audio at a
// time. The gateway cuts live audio into segments and submits each one
// independently, so providers are plain request/response clients of batch
// transcription services (ElevenLabs Scribe, Deepgram pre-recorded, a local
// whisper.cpp server).
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrNoAudio is returned when a request carries no samples or no sample rate.
var ErrNoAudio = errors.New("stt: request has no audio")

// Request is one transcription call.
type Request struct {
	// Samples holds mono signed 16-bit PCM.
	Samples []int16

	// SampleRate of Samples in Hz. Providers never resample.
	SampleRate int

	// Language is a BCP-47 or ISO-639 hint (e.g., "en"). Empty lets the
	// provider auto-detect when it supports that.
	Language string

	// Model overrides the provider's configured model for this call.
	Model string
}

// Validate reports whether the request carries audio.
func (r Request) Validate() error {
	if len(r.Samples) == 0 || r.SampleRate <= 0 {
		return ErrNoAudio
	}
	return nil
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the recognised text for req. An empty string means
	// no speech was detected; an error means the provider or transport failed.
	Transcribe(ctx context.Context, req Request) (string, error)
}
