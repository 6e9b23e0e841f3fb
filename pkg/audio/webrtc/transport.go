package webrtc

import (
	"context"
	"errors"

	"github.com/yalda00/nexhacks-aura2.0/pkg/audio"
)

// ErrChannelNotReady is returned when a peer has not opened its data channel yet.
var ErrChannelNotReady = errors.New("webrtc: data channel not ready")

// PeerTransport abstracts one WebRTC peer connection.
// This decouples room bookkeeping from the pion/webrtc dependency and allows
// testing without a real ICE/DTLS handshake.
type PeerTransport interface {
	// Answer applies the remote SDP offer and returns the local SDP answer
	// with gathered ICE candidates.
	Answer(ctx context.Context, sdpOffer string) (sdpAnswer string, err error)

	// AddICECandidate adds a trickled remote ICE candidate.
	AddICECandidate(candidate string) error

	// AudioInput returns the channel delivering audio frames received from
	// this peer. It is closed when the transport closes.
	AudioInput() <-chan audio.AudioFrame

	// SendAudio sends an audio frame to this peer.
	SendAudio(frame audio.AudioFrame) error

	// SendData sends a topic-tagged payload to this peer.
	SendData(topic string, payload []byte, reliable bool) error

	// Close tears down the peer connection and releases resources.
	Close() error
}

// TransportFactory builds the transport for a joining participant.
type TransportFactory func(userID string) (PeerTransport, error)
