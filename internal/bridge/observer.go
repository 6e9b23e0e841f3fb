package bridge

import "github.com/yalda00/nexhacks-aura2.0/internal/turn"

// Observer forwards pipeline events to bridge clients. Final transcripts are
// always sent for display; queries and reply audio only when enabled.
type Observer struct {
	turn.NopObserver

	hub            *Hub
	forwardQueries bool
	forwardAudio   bool
}

var _ turn.Observer = (*Observer)(nil)

// NewObserver returns an Observer broadcasting through h.
func NewObserver(h *Hub, forwardQueries, forwardAudio bool) *Observer {
	return &Observer{hub: h, forwardQueries: forwardQueries, forwardAudio: forwardAudio}
}

func (o *Observer) OnTranscript(text string, final bool) {
	if final {
		o.hub.SendTranscript(text)
	}
}

func (o *Observer) OnQuery(prompt string) {
	if o.forwardQueries {
		o.hub.SendQuery(prompt)
	}
}

func (o *Observer) OnAudioReady(audio []byte) {
	if o.forwardAudio && len(audio) > 0 {
		o.hub.SendAudio(audio)
	}
}
