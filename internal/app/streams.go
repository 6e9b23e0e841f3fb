package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/yalda00/nexhacks-aura2.0/pkg/audio"
)

// streamBuffer is the depth of the pipeline's frame channel.
const streamBuffer = 64

// streamSelector forwards one participant stream at a time to the pipeline.
// Every attached stream is read continuously; frames from all but the active
// stream are discarded. When the active stream ends, the next stream to
// deliver a frame takes over.
type streamSelector struct {
	out chan audio.AudioFrame
	log *slog.Logger

	mu       sync.Mutex
	active   string
	attached map[string]bool
}

func newStreamSelector(log *slog.Logger) *streamSelector {
	return &streamSelector{
		out:      make(chan audio.AudioFrame, streamBuffer),
		log:      log,
		attached: make(map[string]bool),
	}
}

func (s *streamSelector) frames() <-chan audio.AudioFrame { return s.out }

// Active returns the identity of the stream currently feeding the pipeline.
func (s *streamSelector) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// attach starts reading ch. A stream already attached under id is ignored.
func (s *streamSelector) attach(ctx context.Context, id string, ch <-chan audio.AudioFrame) {
	s.mu.Lock()
	if s.attached[id] {
		s.mu.Unlock()
		return
	}
	s.attached[id] = true
	if s.active == "" {
		s.active = id
		s.log.Info("participant stream attached", "user", id)
	} else {
		s.log.Info("participant stream queued", "user", id, "active", s.active)
	}
	s.mu.Unlock()

	go s.pump(ctx, id, ch)
}

func (s *streamSelector) pump(ctx context.Context, id string, ch <-chan audio.AudioFrame) {
	defer s.release(id)
	for f := range ch {
		if !s.claim(id) {
			continue
		}
		select {
		case s.out <- f:
		case <-ctx.Done():
			audio.Drain(ch)
			return
		}
	}
}

// claim reports whether id may feed the pipeline, taking over when no stream
// is active.
func (s *streamSelector) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == "" {
		s.active = id
		s.log.Info("participant stream attached", "user", id)
	}
	return s.active == id
}

func (s *streamSelector) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attached, id)
	if s.active == id {
		s.active = ""
		s.log.Info("participant stream ended", "user", id)
	}
}
