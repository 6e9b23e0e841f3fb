package webrtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pion "github.com/pion/webrtc/v4"

	"github.com/yalda00/nexhacks-aura2.0/pkg/audio"
)

var _ PeerTransport = (*pionTransport)(nil)

const peerInputBuffer = 64

// pionTransport is the production [PeerTransport]. Audio and data travel as
// framed binary messages over data channels opened by the remote peer: an
// ordered, fully reliable channel carries everything by default, and an
// unordered or retransmit-limited channel, when the peer opens one, carries
// audio and lossy data.
type pionTransport struct {
	userID string
	pc     *pion.PeerConnection
	log    *slog.Logger

	mu       sync.RWMutex
	reliable *pion.DataChannel
	lossy    *pion.DataChannel
	audioIn  chan audio.AudioFrame
	closed   bool
}

// newPionTransport builds a peer connection using the given ICE servers.
func newPionTransport(userID string, iceServers []string, log *slog.Logger) (*pionTransport, error) {
	cfg := pion.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []pion.ICEServer{{URLs: iceServers}}
	}
	pc, err := pion.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("webrtc: new peer connection: %w", err)
	}
	t := &pionTransport{
		userID:  userID,
		pc:      pc,
		log:     log.With("peer", userID),
		audioIn: make(chan audio.AudioFrame, peerInputBuffer),
	}
	pc.OnDataChannel(t.attach)
	pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		t.log.Debug("webrtc: peer connection state", "state", s.String())
		switch s {
		case pion.PeerConnectionStateFailed, pion.PeerConnectionStateClosed:
			_ = t.Close()
		}
	})
	return t, nil
}

func isLossy(dc *pion.DataChannel) bool {
	return !dc.Ordered() || dc.MaxRetransmits() != nil || dc.MaxPacketLifeTime() != nil
}

// attach wires a remotely opened data channel.
func (t *pionTransport) attach(dc *pion.DataChannel) {
	t.mu.Lock()
	if isLossy(dc) {
		if t.lossy == nil {
			t.lossy = dc
		}
	} else if t.reliable == nil {
		t.reliable = dc
	}
	t.mu.Unlock()

	t.log.Debug("webrtc: data channel attached", "label", dc.Label(), "lossy", isLossy(dc))
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		if msg.IsString {
			return
		}
		pkt, err := DecodePacket(msg.Data)
		if err != nil {
			t.log.Debug("webrtc: dropping packet", "err", err)
			return
		}
		if pkt.Kind != KindAudio {
			return
		}
		t.mu.RLock()
		defer t.mu.RUnlock()
		if t.closed {
			return
		}
		select {
		case t.audioIn <- pkt.Frame:
		default:
			t.log.Debug("webrtc: input buffer full, dropping frame")
		}
	})
}

// Answer implements [PeerTransport].
func (t *pionTransport) Answer(ctx context.Context, sdpOffer string) (string, error) {
	err := t.pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: sdpOffer})
	if err != nil {
		return "", fmt.Errorf("webrtc: set remote description: %w", err)
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("webrtc: create answer: %w", err)
	}
	gatherComplete := pion.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("webrtc: set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	local := t.pc.LocalDescription()
	if local == nil {
		return "", errors.New("webrtc: no local description after gathering")
	}
	return local.SDP, nil
}

// AddICECandidate implements [PeerTransport].
func (t *pionTransport) AddICECandidate(candidate string) error {
	if err := t.pc.AddICECandidate(pion.ICECandidateInit{Candidate: candidate}); err != nil {
		return fmt.Errorf("webrtc: add ice candidate: %w", err)
	}
	return nil
}

// AudioInput implements [PeerTransport].
func (t *pionTransport) AudioInput() <-chan audio.AudioFrame { return t.audioIn }

// channel picks the data channel for a message, preferring the lossy channel
// when reliability is not required.
func (t *pionTransport) channel(reliable bool) (*pion.DataChannel, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, audio.ErrDisconnected
	}
	dc := t.reliable
	if !reliable && t.lossy != nil && t.lossy.ReadyState() == pion.DataChannelStateOpen {
		dc = t.lossy
	}
	if dc == nil || dc.ReadyState() != pion.DataChannelStateOpen {
		return nil, ErrChannelNotReady
	}
	return dc, nil
}

// SendAudio implements [PeerTransport].
func (t *pionTransport) SendAudio(frame audio.AudioFrame) error {
	dc, err := t.channel(false)
	if err != nil {
		return err
	}
	return dc.Send(EncodeAudio(frame))
}

// SendData implements [PeerTransport].
func (t *pionTransport) SendData(topic string, payload []byte, reliable bool) error {
	dc, err := t.channel(reliable)
	if err != nil {
		return err
	}
	return dc.Send(EncodeData(topic, payload))
}

// Close implements [PeerTransport]. It is safe to call more than once.
func (t *pionTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.audioIn)
	t.mu.Unlock()
	return t.pc.Close()
}
