package turn

import (
	"log/slog"
)

// Observer receives pipeline events. Callbacks are invoked synchronously
// from the orchestrator's run loop and must not block for long.
type Observer interface {
	OnStateChange(state State)
	OnTranscript(text string, final bool)
	OnQuery(prompt string)
	OnResponse(text string)
	OnAudioReady(audio []byte)
	OnError(err error)
}

// NopObserver ignores every event. Embed it to implement only a subset of
// [Observer].
type NopObserver struct{}

func (NopObserver) OnStateChange(State) {}
func (NopObserver) OnTranscript(string, bool) {}
func (NopObserver) OnQuery(string) {}
func (NopObserver) OnResponse(string) {}
func (NopObserver) OnAudioReady([]byte) {}
func (NopObserver) OnError(error) {}

var _ Observer = NopObserver{}

// Observers fans every event out to each element in order.
type Observers []Observer

var _ Observer = Observers(nil)

func (os Observers) OnStateChange(s State) {
	for _, o := range os {
		o.OnStateChange(s)
	}
}

func (os Observers) OnTranscript(text string, final bool) {
	for _, o := range os {
		o.OnTranscript(text, final)
	}
}

func (os Observers) OnQuery(prompt string) {
	for _, o := range os {
		o.OnQuery(prompt)
	}
}

func (os Observers) OnResponse(text string) {
	for _, o := range os {
		o.OnResponse(text)
	}
}

func (os Observers) OnAudioReady(audio []byte) {
	for _, o := range os {
		o.OnAudioReady(audio)
	}
}

func (os Observers) OnError(err error) {
	for _, o := range os {
		o.OnError(err)
	}
}

// LogObserver writes every event to a structured logger.
type LogObserver struct {
	Log *slog.Logger
}

var _ Observer = (*LogObserver)(nil)

// NewLogObserver returns a LogObserver. A nil logger selects slog.Default().
func NewLogObserver(l *slog.Logger) *LogObserver {
	if l == nil {
		l = slog.Default()
	}
	return &LogObserver{Log: l.With("component", "pipeline")}
}

func (o *LogObserver) OnStateChange(s State) {
	o.Log.Info("state changed", "state", s.String())
}

func (o *LogObserver) OnTranscript(text string, final bool) {
	o.Log.Info("transcript", "text", text, "final", final)
}

func (o *LogObserver) OnQuery(prompt string) {
	o.Log.Info("query", "prompt", prompt)
}

func (o *LogObserver) OnResponse(text string) {
	o.Log.Info("response", "text", text)
}

func (o *LogObserver) OnAudioReady(audio []byte) {
	o.Log.Debug("reply audio ready", "bytes", len(audio))
}

func (o *LogObserver) OnError(err error) {
	o.Log.Error("pipeline error", "err", err)
}
