package webrtc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/yalda00/nexhacks-aura2.0/pkg/audio"
)

// Packet kinds carried over the peer data channel. Every message starts with
// one kind byte.
//
//	audio: 0x01 | rate uint32 LE | channels uint16 LE | int16 LE samples...
//	data:  0x02 | topic length uint16 LE | topic | payload...
const (
	KindAudio byte = 0x01
	KindData  byte = 0x02
)

const audioHeaderLen = 1 + 4 + 2

// ErrMalformedPacket is returned by [DecodePacket] for truncated or unknown packets.
var ErrMalformedPacket = errors.New("webrtc: malformed packet")

// Packet is a decoded data-channel message.
type Packet struct {
	Kind byte

	// Frame is set for KindAudio packets.
	Frame audio.AudioFrame

	// Topic and Payload are set for KindData packets.
	Topic   string
	Payload []byte
}

// EncodeAudio serialises frame into an audio packet.
func EncodeAudio(frame audio.AudioFrame) []byte {
	out := make([]byte, audioHeaderLen+len(frame.Samples)*2)
	out[0] = KindAudio
	binary.LittleEndian.PutUint32(out[1:], uint32(frame.SampleRate))
	binary.LittleEndian.PutUint16(out[5:], uint16(frame.Channels))
	for i, s := range frame.Samples {
		binary.LittleEndian.PutUint16(out[audioHeaderLen+i*2:], uint16(s))
	}
	return out
}

// EncodeData serialises a topic/payload pair into a data packet.
func EncodeData(topic string, payload []byte) []byte {
	out := make([]byte, 0, 3+len(topic)+len(payload))
	out = append(out, KindData)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(topic)))
	out = append(out, topic...)
	return append(out, payload...)
}

// DecodePacket parses a data-channel message. A packet's payload and samples
// do not alias b.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) == 0 {
		return Packet{}, fmt.Errorf("%w: empty", ErrMalformedPacket)
	}
	switch b[0] {
	case KindAudio:
		if len(b) < audioHeaderLen {
			return Packet{}, fmt.Errorf("%w: short audio header", ErrMalformedPacket)
		}
		rate := int(binary.LittleEndian.Uint32(b[1:]))
		channels := int(binary.LittleEndian.Uint16(b[5:]))
		if rate <= 0 || channels <= 0 {
			return Packet{}, fmt.Errorf("%w: invalid format %dHz/%dch", ErrMalformedPacket, rate, channels)
		}
		return Packet{
			Kind: KindAudio,
			Frame: audio.AudioFrame{
				Samples:    audio.DecodePCM16(b[audioHeaderLen:]),
				SampleRate: rate,
				Channels:   channels,
			},
		}, nil
	case KindData:
		if len(b) < 3 {
			return Packet{}, fmt.Errorf("%w: short data header", ErrMalformedPacket)
		}
		n := int(binary.LittleEndian.Uint16(b[1:]))
		if len(b) < 3+n {
			return Packet{}, fmt.Errorf("%w: topic overruns packet", ErrMalformedPacket)
		}
		payload := make([]byte, len(b)-3-n)
		copy(payload, b[3+n:])
		return Packet{Kind: KindData, Topic: string(b[3 : 3+n]), Payload: payload}, nil
	default:
		return Packet{}, fmt.Errorf("%w: unknown kind 0x%02x", ErrMalformedPacket, b[0])
	}
}
