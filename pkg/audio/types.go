package audio

import "time"

// AudioFrame is one chunk of linear PCM flowing through the gateway. Frames are
// owned by the transport that produced them; consumers that keep samples
// beyond the call must copy them.
type AudioFrame struct {
	// Samples holds signed 16-bit PCM. Multi-channel audio is interleaved
	// (L0 R0 L1 R1 ...).
	Samples []int16

	// SampleRate in Hz (e.g., 48000 for WebRTC capture, 16000 for TTS egress).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// SamplesPerChannel returns the number of samples each channel carries.
func (f AudioFrame) SamplesPerChannel() int {
	if f.Channels <= 0 {
		return len(f.Samples)
	}
	return len(f.Samples) / f.Channels
}

// Duration returns the playback duration of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.SamplesPerChannel()) * time.Second / time.Duration(f.SampleRate)
}
