package webrtc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/yalda00/nexhacks-aura2.0/pkg/audio"
)

// peer holds the runtime state for a single connected WebRTC peer.
type peer struct {
	userID    string
	username  string
	transport PeerTransport
	inputCh   chan audio.AudioFrame
	done      chan struct{} // closed by RemovePeer/Disconnect to signal goroutines
	doneOnce  sync.Once
}

func (p *peer) stop() {
	p.doneOnce.Do(func() { close(p.done) })
}

// Connection manages the WebRTC peers of a single room.
// It implements [audio.Connection].
//
// Connection is safe for concurrent use.
type Connection struct {
	room         string
	log          *slog.Logger
	newTransport TransportFactory
	onClose      func(*Connection)

	mu           sync.RWMutex
	peers        map[string]*peer
	inputStreams map[string]chan audio.AudioFrame
	tracks       map[string]*localTrack
	onChange     func(audio.Event)
	disconnected bool

	ctx    context.Context
	cancel context.CancelFunc
}

func newConnection(room string, factory TransportFactory, log *slog.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		room:         room,
		log:          log.With("room", room),
		newTransport: factory,
		peers:        make(map[string]*peer),
		inputStreams: make(map[string]chan audio.AudioFrame),
		tracks:       make(map[string]*localTrack),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Room returns the room name this connection serves.
func (c *Connection) Room() string { return c.room }

// InputStreams returns a consistent snapshot of the per-participant audio channels.
func (c *Connection) InputStreams() map[string]<-chan audio.AudioFrame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := make(map[string]<-chan audio.AudioFrame, len(c.inputStreams))
	for id, ch := range c.inputStreams {
		snap[id] = ch
	}
	return snap
}

// OnParticipantChange registers cb as the participant lifecycle callback.
// Subsequent calls replace the previous registration.
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = cb
}

// PublishTrack creates a paced outgoing track whose frames are sent to every
// connected peer.
func (c *Connection) PublishTrack(_ context.Context, opts audio.TrackOptions) (audio.LocalTrack, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("webrtc: publish track: name is required")
	}
	if opts.SampleRate <= 0 || opts.Channels <= 0 {
		return nil, fmt.Errorf("webrtc: publish track %q: invalid format %dHz/%dch", opts.Name, opts.SampleRate, opts.Channels)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected {
		return nil, audio.ErrDisconnected
	}
	if _, ok := c.tracks[opts.Name]; ok {
		return nil, fmt.Errorf("webrtc: publish track %q: %w", opts.Name, audio.ErrTrackExists)
	}
	t := newLocalTrack(opts, c.broadcastAudio)
	c.tracks[opts.Name] = t
	c.log.Info("webrtc: track published", "track", opts.Name, "sample_rate", opts.SampleRate, "channels", opts.Channels)
	return t, nil
}

// UnpublishTrack closes and removes the named track.
func (c *Connection) UnpublishTrack(_ context.Context, name string) error {
	c.mu.Lock()
	t, ok := c.tracks[name]
	delete(c.tracks, name)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("webrtc: unpublish track %q: %w", name, audio.ErrTrackNotFound)
	}
	return t.Close()
}

// PublishData sends payload to every connected peer. Peers whose data
// channel is not open yet are skipped; the first send error is returned.
func (c *Connection) PublishData(_ context.Context, payload []byte, opts audio.DataOptions) error {
	c.mu.RLock()
	if c.disconnected {
		c.mu.RUnlock()
		return audio.ErrDisconnected
	}
	peers := c.snapshotPeersLocked()
	c.mu.RUnlock()

	var firstErr error
	for _, p := range peers {
		err := p.transport.SendData(opts.Topic, payload, opts.Reliable)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("webrtc: publish data to %q: %w", p.userID, err)
		}
	}
	return firstErr
}

// Disconnect tears down every peer and track and stops internal goroutines.
// It is safe to call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return nil
	}
	c.disconnected = true
	c.cancel()

	for userID, p := range c.peers {
		p.stop()
		_ = p.transport.Close()
		delete(c.peers, userID)
		delete(c.inputStreams, userID)
	}
	for name, t := range c.tracks {
		_ = t.Close()
		delete(c.tracks, name)
	}
	onClose := c.onClose
	c.mu.Unlock()

	if onClose != nil {
		onClose(c)
	}
	return nil
}

// AddPeer negotiates a new peer from its SDP offer and registers it in the
// room. It returns the SDP answer.
func (c *Connection) AddPeer(ctx context.Context, userID, username, sdpOffer string) (string, error) {
	if err := c.checkJoin(userID); err != nil {
		return "", err
	}

	transport, err := c.newTransport(userID)
	if err != nil {
		return "", fmt.Errorf("webrtc: transport for %q: %w", userID, err)
	}
	answer, err := transport.Answer(ctx, sdpOffer)
	if err != nil {
		_ = transport.Close()
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkJoinLocked(userID); err != nil {
		_ = transport.Close()
		return "", err
	}

	p := &peer{
		userID:    userID,
		username:  username,
		transport: transport,
		inputCh:   make(chan audio.AudioFrame, peerInputBuffer),
		done:      make(chan struct{}),
	}
	c.peers[userID] = p
	c.inputStreams[userID] = p.inputCh

	go c.readPeerInput(p)

	c.log.Info("webrtc: peer joined", "peer", userID)
	if cb := c.onChange; cb != nil {
		go cb(audio.Event{Type: audio.EventJoin, UserID: userID, Username: username})
	}
	return answer, nil
}

func (c *Connection) checkJoin(userID string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.checkJoinLocked(userID)
}

func (c *Connection) checkJoinLocked(userID string) error {
	if c.disconnected {
		return fmt.Errorf("webrtc: room %q: %w", c.room, audio.ErrDisconnected)
	}
	if _, exists := c.peers[userID]; exists {
		return fmt.Errorf("webrtc: peer %q is already connected in room %q", userID, c.room)
	}
	return nil
}

// AddICECandidate forwards a trickled candidate to the peer's transport.
func (c *Connection) AddICECandidate(userID, candidate string) error {
	c.mu.RLock()
	p, ok := c.peers[userID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("webrtc: peer %q not found in room %q", userID, c.room)
	}
	return p.transport.AddICECandidate(candidate)
}

// RemovePeer disconnects and removes the peer identified by userID.
func (c *Connection) RemovePeer(userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disconnected {
		return fmt.Errorf("webrtc: room %q: %w", c.room, audio.ErrDisconnected)
	}
	p, exists := c.peers[userID]
	if !exists {
		return fmt.Errorf("webrtc: peer %q not found in room %q", userID, c.room)
	}
	c.removeLocked(p)
	return nil
}

// removeLocked drops p from the room and emits a leave event. c.mu must be held.
func (c *Connection) removeLocked(p *peer) {
	p.stop()
	_ = p.transport.Close()
	delete(c.peers, p.userID)
	delete(c.inputStreams, p.userID)

	c.log.Info("webrtc: peer left", "peer", p.userID)
	if cb := c.onChange; cb != nil {
		go cb(audio.Event{Type: audio.EventLeave, UserID: p.userID, Username: p.username})
	}
}

// readPeerInput forwards audio frames from the peer's transport to its input
// channel until the peer is removed, the transport closes, or the room
// disconnects. It closes inputCh on exit.
func (c *Connection) readPeerInput(p *peer) {
	defer close(p.inputCh)
	audioIn := p.transport.AudioInput()
	for {
		select {
		case <-p.done:
			return
		case <-c.ctx.Done():
			return
		case frame, ok := <-audioIn:
			if !ok {
				c.mu.Lock()
				if cur, exists := c.peers[p.userID]; exists && cur == p && !c.disconnected {
					c.removeLocked(p)
				}
				c.mu.Unlock()
				return
			}
			select {
			case p.inputCh <- frame:
			case <-p.done:
				return
			case <-c.ctx.Done():
				return
			}
		}
	}
}

// broadcastAudio sends frame to every connected peer.
func (c *Connection) broadcastAudio(frame audio.AudioFrame) {
	c.mu.RLock()
	peers := c.snapshotPeersLocked()
	c.mu.RUnlock()

	for _, p := range peers {
		if err := p.transport.SendAudio(frame); err != nil {
			c.log.Debug("webrtc: send audio failed", "peer", p.userID, "err", err)
		}
	}
}

func (c *Connection) snapshotPeersLocked() []*peer {
	peers := make([]*peer, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	return peers
}
