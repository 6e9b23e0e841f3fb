// Package mock provides in-memory implementations of [audio.Platform],
// [audio.Connection], and [audio.LocalTrack] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	in := make(chan audio.AudioFrame, 16)
//	conn := &mock.Connection{
//	    InputStreamsResult: map[string]<-chan audio.AudioFrame{"iphone": in},
//	}
//	platform := &mock.Platform{ConnectResult: conn}
//	got, err := platform.Connect(ctx, "demo")
package mock

import (
	"context"
	"sync"

	"github.com/yalda00/nexhacks-aura2.0/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// PublishTrackCall records the arguments of one [Connection.PublishTrack] invocation.
type PublishTrackCall struct {
	Options audio.TrackOptions
}

// PublishDataCall records the arguments of one [Connection.PublishData] invocation.
type PublishDataCall struct {
	Payload []byte
	Options audio.DataOptions
}

// Connection is a mock implementation of [audio.Connection].
// Set the exported Result/Error fields before use; inspect the Call* fields after.
type Connection struct {
	mu sync.Mutex

	// InputStreamsResult is returned by [Connection.InputStreams].
	// Defaults to an empty (non-nil) map if left nil.
	InputStreamsResult map[string]<-chan audio.AudioFrame

	// PublishTrackError, when non-nil, is returned by PublishTrack.
	PublishTrackError error

	// UnpublishTrackError is returned by UnpublishTrack.
	UnpublishTrackError error

	// PublishDataError is returned by PublishData.
	PublishDataError error

	// DisconnectError is returned by [Connection.Disconnect].
	DisconnectError error

	// PublishTrackCalls records every PublishTrack invocation.
	PublishTrackCalls []PublishTrackCall

	// UnpublishTrackCalls records the names passed to UnpublishTrack.
	UnpublishTrackCalls []string

	// PublishDataCalls records every PublishData invocation.
	PublishDataCalls []PublishDataCall

	// Tracks holds the tracks created by PublishTrack, in creation order.
	Tracks []*LocalTrack

	// CallCountInputStreams records how many times InputStreams was called.
	CallCountInputStreams int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	// CallCountOnParticipantChange records how many times OnParticipantChange was called.
	CallCountOnParticipantChange int

	// RecordedCallbacks holds the callbacks registered via OnParticipantChange,
	// in order of registration.
	RecordedCallbacks []func(audio.Event)
}

var _ audio.Connection = (*Connection)(nil)

// InputStreams implements [audio.Connection]. Returns InputStreamsResult.
// If InputStreamsResult is nil, an empty non-nil map is returned.
func (c *Connection) InputStreams() map[string]<-chan audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountInputStreams++
	if c.InputStreamsResult == nil {
		return map[string]<-chan audio.AudioFrame{}
	}
	return c.InputStreamsResult
}

// OnParticipantChange implements [audio.Connection].
// The callback is appended to RecordedCallbacks. To simulate events in tests,
// call [Connection.EmitEvent].
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountOnParticipantChange++
	c.RecordedCallbacks = append(c.RecordedCallbacks, cb)
}

// PublishTrack implements [audio.Connection]. It records the call and, unless
// PublishTrackError is set, returns a new [LocalTrack] that is also appended
// to Tracks.
func (c *Connection) PublishTrack(_ context.Context, opts audio.TrackOptions) (audio.LocalTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PublishTrackCalls = append(c.PublishTrackCalls, PublishTrackCall{Options: opts})
	if c.PublishTrackError != nil {
		return nil, c.PublishTrackError
	}
	tr := &LocalTrack{NameValue: opts.Name, SampleRateValue: opts.SampleRate, ChannelsValue: opts.Channels}
	c.Tracks = append(c.Tracks, tr)
	return tr, nil
}

// UnpublishTrack implements [audio.Connection]. Returns UnpublishTrackError.
func (c *Connection) UnpublishTrack(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UnpublishTrackCalls = append(c.UnpublishTrackCalls, name)
	return c.UnpublishTrackError
}

// PublishData implements [audio.Connection]. The payload is copied.
func (c *Connection) PublishData(_ context.Context, payload []byte, opts audio.DataOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := make([]byte, len(payload))
	copy(p, payload)
	c.PublishDataCalls = append(c.PublishDataCalls, PublishDataCall{Payload: p, Options: opts})
	return c.PublishDataError
}

// Disconnect implements [audio.Connection]. Returns DisconnectError.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	return c.DisconnectError
}

// DataCalls returns a copy of PublishDataCalls. Thread-safe.
func (c *Connection) DataCalls() []PublishDataCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PublishDataCall, len(c.PublishDataCalls))
	copy(out, c.PublishDataCalls)
	return out
}

// PublishedTracks returns a copy of Tracks. Thread-safe.
func (c *Connection) PublishedTracks() []*LocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*LocalTrack, len(c.Tracks))
	copy(out, c.Tracks)
	return out
}

// Disconnects returns how many times Disconnect was called. Thread-safe.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountDisconnect
}

// Callbacks returns how many participant callbacks are registered. Thread-safe.
func (c *Connection) Callbacks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.RecordedCallbacks)
}

// EmitEvent calls all registered participant-change callbacks with the given event.
// Use this in tests to simulate participants joining or leaving.
func (c *Connection) EmitEvent(ev audio.Event) {
	c.mu.Lock()
	cbs := make([]func(audio.Event), len(c.RecordedCallbacks))
	copy(cbs, c.RecordedCallbacks)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

// ─── LocalTrack ───────────────────────────────────────────────────────────────

// LocalTrack is a mock implementation of [audio.LocalTrack] that records
// captured frames without pacing.
type LocalTrack struct {
	mu sync.Mutex

	NameValue       string
	SampleRateValue int
	ChannelsValue   int

	// CaptureError, when non-nil, is returned by CaptureFrame.
	CaptureError error

	// WaitError is returned by WaitForPlayout.
	WaitError error

	// Frames records every captured frame (samples are copied).
	Frames []audio.AudioFrame

	// CallCountWaitForPlayout records how many times WaitForPlayout was called.
	CallCountWaitForPlayout int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ audio.LocalTrack = (*LocalTrack)(nil)

func (t *LocalTrack) Name() string    { return t.NameValue }
func (t *LocalTrack) SampleRate() int { return t.SampleRateValue }
func (t *LocalTrack) Channels() int   { return t.ChannelsValue }

// CaptureFrame implements [audio.LocalTrack].
func (t *LocalTrack) CaptureFrame(_ context.Context, frame audio.AudioFrame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.CaptureError != nil {
		return t.CaptureError
	}
	s := make([]int16, len(frame.Samples))
	copy(s, frame.Samples)
	frame.Samples = s
	t.Frames = append(t.Frames, frame)
	return nil
}

// WaitForPlayout implements [audio.LocalTrack]. Returns WaitError.
func (t *LocalTrack) WaitForPlayout(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountWaitForPlayout++
	return t.WaitError
}

// Close implements [audio.LocalTrack].
func (t *LocalTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountClose++
	return nil
}

// CapturedFrames returns a copy of the recorded frames.
func (t *LocalTrack) CapturedFrames() []audio.AudioFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]audio.AudioFrame, len(t.Frames))
	copy(out, t.Frames)
	return out
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	// Room is the room argument passed to Connect.
	Room string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is the [audio.Connection] returned by Connect.
	ConnectResult audio.Connection

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall
}

var _ audio.Platform = (*Platform)(nil)

// Connect implements [audio.Platform]. Records the call and returns ConnectResult / ConnectError.
func (p *Platform) Connect(_ context.Context, room string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Room: room})
	return p.ConnectResult, p.ConnectError
}
