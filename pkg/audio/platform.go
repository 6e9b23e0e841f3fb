// Package audio defines the audio primitives and room-transport interfaces
// used by the Aura gateway.
//
// The two primary transport abstractions are:
//
//   - [Platform] — joins a media room and returns a [Connection].
//   - [Connection] — an active session in that room, giving callers
//     per-participant input streams, outgoing audio tracks, a reliable/lossy
//     data channel, and participant lifecycle events.
//
// Implementations live in sub-packages (e.g., audio/webrtc). The interfaces
// are kept narrow so the dialogue pipeline stays decoupled from the transport.
package audio

import (
	"context"
	"errors"
)

// ErrTrackExists is returned by [Connection.PublishTrack] when a track with the
// same name is already published on the connection.
var ErrTrackExists = errors.New("audio: track already published")

// ErrTrackNotFound is returned by [Connection.UnpublishTrack] for unknown names.
var ErrTrackNotFound = errors.New("audio: track not found")

// ErrDisconnected is returned by operations on a connection that has been torn down.
var ErrDisconnected = errors.New("audio: connection closed")

// EventType classifies participant lifecycle events emitted by a [Connection].
type EventType int

const (
	// EventJoin is emitted when a participant enters the room.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the room.
	EventLeave
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant lifecycle change in a room.
// Callbacks registered via [Connection.OnParticipantChange] receive values of this type.
type Event struct {
	// Type indicates whether the participant joined or left.
	Type EventType

	// UserID is the participant identity (the token subject for token-gated rooms).
	UserID string

	// Username is the human-readable display name of the participant.
	Username string
}

// TrackOptions configures an outgoing audio track.
type TrackOptions struct {
	// Name identifies the track within the room (e.g., "aura-tts").
	Name string

	// SampleRate and Channels pin the format of every frame captured on the track.
	SampleRate int
	Channels   int
}

// DataOptions configures a data packet published to the room.
type DataOptions struct {
	// Topic lets receivers route the packet (e.g., "tts_audio").
	Topic string

	// Reliable requests ordered, retransmitted delivery.
	Reliable bool
}

// LocalTrack is an outgoing audio publication. Frames captured on it are
// paced in real time; [LocalTrack.WaitForPlayout] blocks until every queued
// frame has been sent.
type LocalTrack interface {
	Name() string
	SampleRate() int
	Channels() int

	// CaptureFrame queues one frame for playout. It blocks when the internal
	// queue is full and returns ctx.Err() if ctx is cancelled first.
	CaptureFrame(ctx context.Context, frame AudioFrame) error

	// WaitForPlayout blocks until every captured frame has been played out.
	WaitForPlayout(ctx context.Context) error

	// Close releases the track. Queued frames are discarded.
	Close() error
}

// Connection represents an active session in a media room.
//
// A Connection is obtained by calling [Platform.Connect] and remains valid
// until [Connection.Disconnect] is called. All input channels are closed
// automatically when the connection terminates.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// InputStreams returns a snapshot of the current per-participant audio channels.
	// The map key is the participant identity; the value delivers [AudioFrame]
	// values as they arrive from that participant. The channel is closed when
	// the participant leaves.
	//
	// Callers should call InputStreams again after receiving an [EventJoin] event to
	// pick up newly added channels.
	InputStreams() map[string]<-chan AudioFrame

	// OnParticipantChange registers cb as the callback to invoke whenever a
	// participant joins or leaves. Only one callback may be registered at a
	// time; subsequent calls replace the previous registration.
	// The callback runs on an internal goroutine and must not block.
	OnParticipantChange(cb func(Event))

	// PublishTrack creates and publishes an outgoing audio track.
	PublishTrack(ctx context.Context, opts TrackOptions) (LocalTrack, error)

	// UnpublishTrack removes the named track from the room and closes it.
	UnpublishTrack(ctx context.Context, name string) error

	// PublishData sends payload to every participant.
	PublishData(ctx context.Context, payload []byte, opts DataOptions) error

	// Disconnect tears down the connection and closes all channels. It is safe
	// to call more than once; subsequent calls return nil.
	Disconnect() error
}

// Platform is the entry point for a room transport.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the room identified by room and returns an active
	// [Connection]. ctx governs the connection attempt only.
	Connect(ctx context.Context, room string) (Connection, error)
}
