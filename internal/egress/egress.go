// Package egress publishes synthesized speech into the room as an outgoing
// audio track.
//
// The track is created lazily on the first [Egress.Play] and pinned to the
// sample rate it was created with (always mono). Later calls with a different
// format fail with a [*FormatMismatchError] before any frame is captured.
package egress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yalda00/nexhacks-aura2.0/pkg/audio"
)

// Defaults for the outgoing track.
const (
	DefaultTrackName     = "aura-tts"
	DefaultFrameDuration = 20 * time.Millisecond
)

// ErrFormatMismatch is matched (via errors.Is) by every [*FormatMismatchError].
var ErrFormatMismatch = errors.New("egress: format mismatch")

// FormatMismatchError reports audio whose format differs from the format the
// track was pinned to.
type FormatMismatchError struct {
	Expected audio.Format
	Got      audio.Format
}

func (e *FormatMismatchError) Error() string {
	return fmt.Sprintf("egress: format mismatch: expected %s, got %s", e.Expected, e.Got)
}

// Is makes errors.Is(err, ErrFormatMismatch) true.
func (e *FormatMismatchError) Is(target error) bool { return target == ErrFormatMismatch }

// TrackPublisher is the subset of [audio.Connection] the egress needs.
type TrackPublisher interface {
	PublishTrack(ctx context.Context, opts audio.TrackOptions) (audio.LocalTrack, error)
	UnpublishTrack(ctx context.Context, name string) error
}

// Egress owns the outgoing speech track. Play and Stop may be called from
// different goroutines; concurrent Play calls are serialized.
type Egress struct {
	pub       TrackPublisher
	trackName string
	frameDur  time.Duration
	log       *slog.Logger

	playMu sync.Mutex // serializes Play

	mu     sync.Mutex // guards track and format
	track  audio.LocalTrack
	format audio.Format
}

// Option configures an [Egress].
type Option func(*Egress)

// WithTrackName sets the published track name. Default "aura-tts".
func WithTrackName(name string) Option {
	return func(e *Egress) {
		if name != "" {
			e.trackName = name
		}
	}
}

// WithFrameDuration sets the duration of each captured frame. Default 20 ms.
func WithFrameDuration(d time.Duration) Option {
	return func(e *Egress) {
		if d > 0 {
			e.frameDur = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Egress) { e.log = l }
}

// New creates an Egress publishing through pub.
func New(pub TrackPublisher, opts ...Option) *Egress {
	e := &Egress{
		pub:       pub,
		trackName: DefaultTrackName,
		frameDur:  DefaultFrameDuration,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With("component", "egress", "track", e.trackName)
	return e
}

// Format returns the pinned track format and whether a track exists.
func (e *Egress) Format() (audio.Format, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.format, e.track != nil
}

// Play downmixes samples to mono, frames them and captures every frame on
// the track in order, then blocks until playout completes.
func (e *Egress) Play(ctx context.Context, samples []int16, sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("egress: invalid format %dHz/%dch", sampleRate, channels)
	}
	mono := audio.Downmix(samples, channels)
	if len(mono) == 0 {
		return nil
	}

	e.playMu.Lock()
	defer e.playMu.Unlock()

	track, err := e.ensureTrack(ctx, audio.Format{SampleRate: sampleRate, Channels: 1})
	if err != nil {
		return err
	}

	frameMs := int(e.frameDur / time.Millisecond)
	var ts time.Duration
	for _, f := range Frames(mono, sampleRate, frameMs) {
		frame := audio.AudioFrame{Samples: f, SampleRate: sampleRate, Channels: 1, Timestamp: ts}
		if err := track.CaptureFrame(ctx, frame); err != nil {
			return fmt.Errorf("egress: capture frame: %w", err)
		}
		ts += frame.Duration()
	}
	if err := track.WaitForPlayout(ctx); err != nil {
		return fmt.Errorf("egress: wait for playout: %w", err)
	}
	return nil
}

// ensureTrack returns the pinned track, publishing it on first use.
func (e *Egress) ensureTrack(ctx context.Context, want audio.Format) (audio.LocalTrack, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.track != nil {
		if e.format != want {
			return nil, &FormatMismatchError{Expected: e.format, Got: want}
		}
		return e.track, nil
	}

	track, err := e.pub.PublishTrack(ctx, audio.TrackOptions{
		Name:       e.trackName,
		SampleRate: want.SampleRate,
		Channels:   want.Channels,
	})
	if err != nil {
		return nil, fmt.Errorf("egress: publish track: %w", err)
	}
	e.track, e.format = track, want
	e.log.Info("published speech track", "format", want.String())
	return track, nil
}

// Stop unpublishes and closes the track. It is idempotent; failures are
// logged and swallowed.
func (e *Egress) Stop(ctx context.Context) {
	e.mu.Lock()
	track := e.track
	e.track, e.format = nil, audio.Format{}
	e.mu.Unlock()

	if track == nil {
		return
	}
	if err := e.pub.UnpublishTrack(ctx, track.Name()); err != nil {
		e.log.Warn("unpublish track failed", "err", err)
	}
	if err := track.Close(); err != nil {
		e.log.Debug("close track failed", "err", err)
	}
}

// Frames splits mono samples into frames of max(1, floor(rate*frameMs/1000))
// samples. Only the last frame is zero-padded to full length. The input is
// not retained.
func Frames(samples []int16, sampleRate, frameMs int) [][]int16 {
	if len(samples) == 0 {
		return nil
	}
	size := sampleRate * frameMs / 1000
	if size < 1 {
		size = 1
	}
	frames := make([][]int16, 0, (len(samples)+size-1)/size)
	for off := 0; off < len(samples); off += size {
		f := make([]int16, size)
		copy(f, samples[off:min(off+size, len(samples))])
		frames = append(frames, f)
	}
	return frames
}
