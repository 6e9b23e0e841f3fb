package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yalda00/nexhacks-aura2.0/pkg/audio"
)

var _ audio.LocalTrack = (*localTrack)(nil)

const trackQueueSize = 50 // one second of 20 ms frames

// localTrack is a paced outgoing audio track. A pump goroutine hands frames to
// send at real-time rate; pending counts frames captured but not yet played.
type localTrack struct {
	name       string
	sampleRate int
	channels   int
	send       func(audio.AudioFrame)

	queue     chan audio.AudioFrame
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	pending int
	waiters []chan struct{}
}

func newLocalTrack(opts audio.TrackOptions, send func(audio.AudioFrame)) *localTrack {
	t := &localTrack{
		name:       opts.Name,
		sampleRate: opts.SampleRate,
		channels:   opts.Channels,
		send:       send,
		queue:      make(chan audio.AudioFrame, trackQueueSize),
		done:       make(chan struct{}),
	}
	go t.pump()
	return t
}

func (t *localTrack) Name() string    { return t.name }
func (t *localTrack) SampleRate() int { return t.sampleRate }
func (t *localTrack) Channels() int   { return t.channels }

// CaptureFrame implements [audio.LocalTrack]. Frames must match the track format.
func (t *localTrack) CaptureFrame(ctx context.Context, frame audio.AudioFrame) error {
	if frame.SampleRate != t.sampleRate || frame.Channels != t.channels {
		return fmt.Errorf("webrtc: track %q: frame format %dHz/%dch does not match %dHz/%dch",
			t.name, frame.SampleRate, frame.Channels, t.sampleRate, t.channels)
	}
	select {
	case <-t.done:
		return audio.ErrDisconnected
	default:
	}

	t.mu.Lock()
	t.pending++
	t.mu.Unlock()

	select {
	case t.queue <- frame:
		return nil
	case <-ctx.Done():
		t.played()
		return ctx.Err()
	case <-t.done:
		t.played()
		return audio.ErrDisconnected
	}
}

// WaitForPlayout implements [audio.LocalTrack]. A closed track has nothing
// left to play and returns nil.
func (t *localTrack) WaitForPlayout(ctx context.Context) error {
	t.mu.Lock()
	if t.pending == 0 {
		t.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	t.waiters = append(t.waiters, ch)
	t.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements [audio.LocalTrack]. It is safe to call more than once.
func (t *localTrack) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

// played marks one frame as finished and releases waiters when none remain.
func (t *localTrack) played() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending--
	if t.pending > 0 {
		return
	}
	t.pending = 0
	for _, w := range t.waiters {
		close(w)
	}
	t.waiters = nil
}

func (t *localTrack) pump() {
	timer := time.NewTimer(0)
	<-timer.C
	defer timer.Stop()

	var next time.Time
	for {
		select {
		case <-t.done:
			return
		case frame := <-t.queue:
			now := time.Now()
			if next.Before(now) {
				next = now
			}
			t.send(frame)
			next = next.Add(frame.Duration())

			timer.Reset(time.Until(next))
			select {
			case <-timer.C:
			case <-t.done:
				return
			}
			t.played()
		}
	}
}
