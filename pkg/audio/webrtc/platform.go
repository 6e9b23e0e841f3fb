// Package webrtc provides an [audio.Platform] implementation backed by
// WebRTC via pion/webrtc.
//
// Participants join a room through the [SignalingServer]: the browser or
// phone client posts an SDP offer and receives an answer. Linear PCM frames
// and topic-tagged data packets travel over the peer's data channels using the
// binary framing in framing.go; no audio codec is involved.
//
// Each joined peer maps to a participant with a dedicated input audio stream.
// Outgoing tracks created with [Connection.PublishTrack] are paced in real time
// and sent to every peer in the room.
package webrtc

import (
	"context"
	"log/slog"
	"sync"

	"github.com/yalda00/nexhacks-aura2.0/pkg/audio"
)

// Compile-time interface assertions.
var _ audio.Platform = (*Platform)(nil)
var _ audio.Connection = (*Connection)(nil)

// Option configures a [Platform].
type Option func(*Platform)

// WithSTUNServers sets the STUN server URLs used during ICE negotiation.
// Defaults to ["stun:stun.l.google.com:19302"].
func WithSTUNServers(servers ...string) Option {
	return func(p *Platform) {
		p.stunServers = servers
	}
}

// WithTransportFactory replaces the pion transport, e.g. with an in-memory
// transport in tests.
func WithTransportFactory(f TransportFactory) Option {
	return func(p *Platform) {
		p.newTransport = f
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *Platform) {
		p.log = l
	}
}

// Platform implements [audio.Platform] using WebRTC as the transport layer.
// It owns one [Connection] per room: [Platform.Connect] and the signaling
// server share the same connection for a given room name until it is
// disconnected.
//
// Platform is safe for concurrent use.
type Platform struct {
	stunServers  []string
	newTransport TransportFactory
	log          *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Connection
}

// New creates a new WebRTC Platform with the given options applied.
func New(opts ...Option) *Platform {
	p := &Platform{
		stunServers: []string{"stun:stun.l.google.com:19302"},
		log:         slog.Default(),
		rooms:       make(map[string]*Connection),
	}
	for _, o := range opts {
		o(p)
	}
	if p.newTransport == nil {
		p.newTransport = func(userID string) (PeerTransport, error) {
			return newPionTransport(userID, p.stunServers, p.log)
		}
	}
	return p
}

// Connect returns the [Connection] for room, creating it on first use.
func (p *Platform) Connect(_ context.Context, room string) (audio.Connection, error) {
	return p.room(room), nil
}

// Room returns the live connection for room, if any.
func (p *Platform) Room(room string) (*Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.rooms[room]
	return c, ok
}

func (p *Platform) room(room string) *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.rooms[room]; ok {
		return c
	}
	c := newConnection(room, p.newTransport, p.log)
	c.onClose = p.forget
	p.rooms[room] = c
	return c
}

func (p *Platform) forget(c *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.rooms[c.room]; ok && cur == c {
		delete(p.rooms, c.room)
	}
}
