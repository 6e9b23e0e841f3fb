package turn

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/yalda00/nexhacks-aura2.0/internal/egress"
	"github.com/yalda00/nexhacks-aura2.0/internal/gate"
	"github.com/yalda00/nexhacks-aura2.0/internal/observe"
	"github.com/yalda00/nexhacks-aura2.0/pkg/audio"
	audiomock "github.com/yalda00/nexhacks-aura2.0/pkg/audio/mock"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/llm"
	llmmock "github.com/yalda00/nexhacks-aura2.0/pkg/provider/llm/mock"
	sttmock "github.com/yalda00/nexhacks-aura2.0/pkg/provider/stt/mock"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/tts"
	ttsmock "github.com/yalda00/nexhacks-aura2.0/pkg/provider/tts/mock"
)

// ─── test doubles ────────────────────────────────────────────────────────────

// events is a copy of everything a recorder has seen.
type events struct {
	states      []State
	transcripts []string
	queries     []string
	responses   []string
	clips       [][]byte
	errs        []error
}

type recorder struct {
	mu sync.Mutex
	ev events
}

var _ Observer = (*recorder)(nil)

func (r *recorder) OnStateChange(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ev.states = append(r.ev.states, s)
}

func (r *recorder) OnTranscript(text string, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ev.transcripts = append(r.ev.transcripts, text)
}

func (r *recorder) OnQuery(prompt string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ev.queries = append(r.ev.queries, prompt)
}

func (r *recorder) OnResponse(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ev.responses = append(r.ev.responses, text)
}

func (r *recorder) OnAudioReady(b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ev.clips = append(r.ev.clips, b)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ev.errs = append(r.ev.errs, err)
}

func (r *recorder) snapshot() events {
	r.mu.Lock()
	defer r.mu.Unlock()
	return events{
		states:      slices.Clone(r.ev.states),
		transcripts: slices.Clone(r.ev.transcripts),
		queries:     slices.Clone(r.ev.queries),
		responses:   slices.Clone(r.ev.responses),
		clips:       slices.Clone(r.ev.clips),
		errs:        slices.Clone(r.ev.errs),
	}
}

type play struct {
	samples  int
	rate     int
	channels int
}

type fakeEgress struct {
	mu    sync.Mutex
	plays []play
	err   error
	stops int
}

func (e *fakeEgress) Play(_ context.Context, samples []int16, rate, channels int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.plays = append(e.plays, play{samples: len(samples), rate: rate, channels: channels})
	return e.err
}

func (e *fakeEgress) Stop(context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
}

func (e *fakeEgress) counts() (plays, stops int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.plays), e.stops
}

type harness struct {
	o      *Orchestrator
	stt    *sttmock.Provider
	llm    *llmmock.Provider
	tts    *ttsmock.Provider
	egress *fakeEgress
	conn   *audiomock.Connection
	obs    *recorder

	mu     sync.Mutex
	sleeps []time.Duration
}

func (h *harness) sleepCalls() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.sleeps)
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newHarness(t *testing.T, deps Deps, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		stt: &sttmock.Provider{},
		llm: &llmmock.Provider{Response: &llm.Response{Content: "It is sunny."}},
		tts: &ttsmock.Provider{
			Audio: []byte("mp3-bytes"),
			PCM:   tts.PCM{Samples: make([]int16, 640)},
		},
		egress: &fakeEgress{},
		conn:   &audiomock.Connection{},
		obs:    &recorder{},
	}
	if deps.STT == nil {
		deps.STT = h.stt
	}
	if deps.Reasoner == nil {
		deps.Reasoner = h.llm
	}
	if deps.Synth == nil {
		deps.Synth = h.tts
	}
	if deps.Egress == nil {
		deps.Egress = h.egress
	}
	if deps.Data == nil {
		deps.Data = h.conn
	}

	base := []Option{
		WithObserver(h.obs),
		WithMetrics(testMetrics(t)),
		WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
		WithSleep(func(_ context.Context, d time.Duration) error {
			h.mu.Lock()
			h.sleeps = append(h.sleeps, d)
			h.mu.Unlock()
			return nil
		}),
	}
	h.o = New(deps, append(base, opts...)...)
	return h
}

func final(text string) TranscriptEvent {
	return TranscriptEvent{Text: text, IsFinal: true}
}

func frameOf(n, rate int) audio.AudioFrame {
	s := make([]int16, n)
	for i := range s {
		s[i] = 1000
	}
	return audio.AudioFrame{Samples: s, SampleRate: rate, Channels: 1}
}

// listening drives h.o into listening with the given remainder after the wake.
func (h *harness) listening(t *testing.T, rest string) {
	t.Helper()
	h.o.Start()
	h.o.HandleTranscript(context.Background(), final(strings.TrimSpace("hey aura "+rest)))
	if got := h.o.State(); got != StateListening {
		t.Fatalf("state = %v, want listening", got)
	}
}

// ─── lifecycle ───────────────────────────────────────────────────────────────

func TestStartStop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{})
	if got := h.o.State(); got != StateIdle {
		t.Fatalf("initial state = %v, want idle", got)
	}

	h.o.Start()
	h.o.Start() // no-op
	if got := h.o.State(); got != StateArmed {
		t.Fatalf("state after Start = %v, want armed", got)
	}

	h.o.Stop(context.Background())
	h.o.Stop(context.Background())
	if got := h.o.State(); got != StateIdle {
		t.Fatalf("state after Stop = %v, want idle", got)
	}

	snap := h.obs.snapshot()
	if want := []State{StateArmed, StateIdle}; !slices.Equal(snap.states, want) {
		t.Errorf("states = %v, want %v", snap.states, want)
	}
	if _, stops := h.egress.counts(); stops != 2 {
		t.Errorf("egress stops = %d, want 2", stops)
	}
}

func TestStop_ClearsAccumulator(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{})
	h.listening(t, "what's the weather")
	h.o.Stop(context.Background())

	if got := h.o.Utterances(); len(got) != 0 {
		t.Errorf("utterances after Stop = %q, want empty", got)
	}

	h.o.Start()
	if got := h.o.State(); got != StateArmed {
		t.Errorf("state after restart = %v, want armed", got)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	tests := map[State]string{
		StateIdle:       "idle",
		StateArmed:      "armed",
		StateListening:  "listening",
		StateProcessing: "processing",
		State(9):        "State(9)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int32(s), got, want)
		}
	}
}

// ─── transcripts and gating ──────────────────────────────────────────────────

func TestHandleTranscript_WakeSeedsAccumulator(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{})
	h.o.Start()
	h.o.HandleTranscript(context.Background(), final("hey aura what's the weather"))

	if got := h.o.State(); got != StateListening {
		t.Fatalf("state = %v, want listening", got)
	}
	if got := h.o.Utterances(); !slices.Equal(got, []string{"what's the weather"}) {
		t.Errorf("utterances = %q, want [what's the weather]", got)
	}
}

func TestHandleTranscript_WakeTrimsLeadingPunctuation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{})
	h.o.Start()
	h.o.HandleTranscript(context.Background(), final("Hey, Aura! , turn on the lights"))

	if got := h.o.Utterances(); !slices.Equal(got, []string{"turn on the lights"}) {
		t.Errorf("utterances = %q, want [turn on the lights]", got)
	}
}

func TestHandleTranscript_BareWakeLeavesAccumulatorEmpty(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{})
	h.o.Start()
	h.o.HandleTranscript(context.Background(), final("hey aura"))

	if got := h.o.State(); got != StateListening {
		t.Fatalf("state = %v, want listening", got)
	}
	if got := h.o.Utterances(); len(got) != 0 {
		t.Errorf("utterances = %q, want empty", got)
	}
}

func TestHandleTranscript_ArmedIgnoresOtherSpeech(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{name: "no wake", text: "what's the weather like"},
		{name: "stop while armed", text: "bye aura"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, Deps{})
			h.o.Start()
			h.o.HandleTranscript(context.Background(), final(tt.text))

			if got := h.o.State(); got != StateArmed {
				t.Errorf("state = %v, want armed", got)
			}
			if h.llm.CallCount() != 0 {
				t.Errorf("reasoner called %d times, want 0", h.llm.CallCount())
			}
		})
	}
}

func TestHandleTranscript_ListeningAppendsVerbatim(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{})
	h.listening(t, "")
	h.o.HandleTranscript(context.Background(), final("  What's the Weather?  "))
	h.o.HandleTranscript(context.Background(), final("in Paris"))

	want := []string{"What's the Weather?", "in Paris"}
	if got := h.o.Utterances(); !slices.Equal(got, want) {
		t.Errorf("utterances = %q, want %q", got, want)
	}
}

func TestHandleTranscript_WhitespaceIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{})
	h.listening(t, "what's the weather")
	before := h.obs.snapshot()

	h.o.HandleTranscript(context.Background(), final(" \t\n "))

	if got := h.o.State(); got != StateListening {
		t.Errorf("state = %v, want listening", got)
	}
	if got := h.o.Utterances(); !slices.Equal(got, []string{"what's the weather"}) {
		t.Errorf("utterances = %q, want unchanged", got)
	}
	after := h.obs.snapshot()
	if len(after.transcripts) != len(before.transcripts) {
		t.Errorf("OnTranscript fired for blank text")
	}
}

func TestHandleTranscript_ReportsEveryTranscript(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{})
	// Idle: reported but not gated.
	h.o.HandleTranscript(context.Background(), final("hey aura"))
	if got := h.o.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}

	h.o.Start()
	h.o.HandleTranscript(context.Background(), TranscriptEvent{Text: "hey aura", IsFinal: false})
	if got := h.o.State(); got != StateArmed {
		t.Errorf("interim transcript changed state to %v", got)
	}

	snap := h.obs.snapshot()
	if want := []string{"hey aura", "hey aura"}; !slices.Equal(snap.transcripts, want) {
		t.Errorf("transcripts = %q, want %q", snap.transcripts, want)
	}
}

// ─── turn processing ─────────────────────────────────────────────────────────

func TestFinish_StopPhraseProcessesQuery(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{}, WithSystemPrompt("be brief"))
	h.listening(t, "what's the weather")

	h.o.HandleTranscript(context.Background(), final("bye aura"))

	if got := h.o.State(); got != StateArmed {
		t.Fatalf("state = %v, want armed", got)
	}

	snap := h.obs.snapshot()
	if !slices.Equal(snap.queries, []string{"what's the weather"}) {
		t.Errorf("queries = %q, want [what's the weather]", snap.queries)
	}
	if !slices.Equal(snap.responses, []string{"It is sunny."}) {
		t.Errorf("responses = %q", snap.responses)
	}
	if len(snap.clips) != 1 || string(snap.clips[0]) != "mp3-bytes" {
		t.Errorf("clips = %q", snap.clips)
	}
	if len(snap.errs) != 0 {
		t.Errorf("errors = %v, want none", snap.errs)
	}
	wantStates := []State{StateArmed, StateListening, StateProcessing, StateArmed}
	if !slices.Equal(snap.states, wantStates) {
		t.Errorf("states = %v, want %v", snap.states, wantStates)
	}

	calls := h.llm.Calls()
	if len(calls) != 1 {
		t.Fatalf("reasoner calls = %d, want 1", len(calls))
	}
	if calls[0].SystemPrompt != "be brief" {
		t.Errorf("system prompt = %q", calls[0].SystemPrompt)
	}
	if len(calls[0].Messages) != 1 || calls[0].Messages[0].Content != "what's the weather" {
		t.Errorf("messages = %+v", calls[0].Messages)
	}

	if got := h.sleepCalls(); !slices.Equal(got, []time.Duration{DefaultFlushDelay}) {
		t.Errorf("sleeps = %v, want [300ms]", got)
	}
	if plays, _ := h.egress.counts(); plays != 1 {
		t.Errorf("egress plays = %d, want 1", plays)
	}
	if h.o.Turns() != 1 {
		t.Errorf("Turns() = %d, want 1", h.o.Turns())
	}
}

func TestFinish_KeepsTextBeforeStop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{})
	h.listening(t, "what's the weather")
	h.o.HandleTranscript(context.Background(), final("in Paris tomorrow, bye aura"))

	snap := h.obs.snapshot()
	want := "what's the weather in Paris tomorrow,"
	if !slices.Equal(snap.queries, []string{want}) {
		t.Errorf("queries = %q, want [%s]", snap.queries, want)
	}
}

func TestFinish_QueryMayContainStopWords(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{})
	h.listening(t, "")
	h.o.HandleTranscript(context.Background(), final("cancel my 3pm and book 4pm bye aura"))

	snap := h.obs.snapshot()
	want := "cancel my 3pm and book 4pm"
	if !slices.Equal(snap.queries, []string{want}) {
		t.Errorf("queries = %q, want [%s]", snap.queries, want)
	}
}

func TestFinish_EmptyPromptReturnsToArmed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{})
	h.listening(t, "")
	h.o.HandleTranscript(context.Background(), final("bye aura"))

	if got := h.o.State(); got != StateArmed {
		t.Errorf("state = %v, want armed", got)
	}
	if h.llm.CallCount() != 0 {
		t.Errorf("reasoner called for empty prompt")
	}
	snap := h.obs.snapshot()
	if len(snap.queries) != 0 || len(snap.errs) != 0 {
		t.Errorf("queries = %q errs = %v, want none", snap.queries, snap.errs)
	}
}

func TestFinish_ProviderFailures(t *testing.T) {
	t.Parallel()

	synthErr := errors.New("tts down")
	reasonErr := errors.New("llm down")

	tests := []struct {
		name    string
		setup   func(h *harness)
		wantErr error
	}{
		{
			name:    "synthesis error",
			setup:   func(h *harness) { h.tts.SynthesizeErr = synthErr },
			wantErr: synthErr,
		},
		{
			name:    "pcm synthesis error",
			setup:   func(h *harness) { h.tts.SynthesizePCMErr = synthErr },
			wantErr: synthErr,
		},
		{
			name:    "reasoning error",
			setup:   func(h *harness) { h.llm.Err = reasonErr; h.llm.Response = nil },
			wantErr: reasonErr,
		},
		{
			name:    "empty reply",
			setup:   func(h *harness) { h.llm.Response = &llm.Response{Content: "   "} },
			wantErr: llm.ErrEmptyResponse,
		},
		{
			name:    "playback error",
			setup:   func(h *harness) { h.egress.err = synthErr },
			wantErr: synthErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, Deps{})
			tt.setup(h)
			h.listening(t, "what's the weather")

			h.o.HandleTranscript(context.Background(), final("bye aura"))

			if got := h.o.State(); got != StateArmed {
				t.Errorf("state = %v, want armed", got)
			}
			if got := h.o.Utterances(); len(got) != 0 {
				t.Errorf("utterances = %q, want cleared", got)
			}
			snap := h.obs.snapshot()
			if len(snap.errs) != 1 {
				t.Fatalf("OnError calls = %d, want 1", len(snap.errs))
			}
			if !errors.Is(snap.errs[0], tt.wantErr) {
				t.Errorf("error = %v, want %v", snap.errs[0], tt.wantErr)
			}
		})
	}
}

func TestFinish_ExternalReasoning(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{}, WithExternalReasoning(true))
	h.listening(t, "book a table")
	h.o.HandleTranscript(context.Background(), final("bye aura"))

	if got := h.o.State(); got != StateArmed {
		t.Errorf("state = %v, want armed", got)
	}
	if h.llm.CallCount() != 0 {
		t.Errorf("reasoner called in external mode")
	}
	if synth, _ := h.tts.Calls(); synth != 0 {
		t.Errorf("synthesis called in external mode")
	}
	if snap := h.obs.snapshot(); !slices.Equal(snap.queries, []string{"book a table"}) {
		t.Errorf("queries = %q", snap.queries)
	}
}

func TestFinish_ClassifierStopAppendsNothing(t *testing.T) {
	t.Parallel()

	classifierLLM := &llmmock.Provider{Response: &llm.Response{Content: `{"wake": false, "stop": true}`}}
	g := gate.New(
		gate.WithClassifierFallback(true),
		gate.WithClassifier(gate.NewClassifier(classifierLLM,
			gate.WithRateLimiter(gate.NewRateLimiter(time.Hour, nil)))),
	)
	h := newHarness(t, Deps{Gate: g})
	h.listening(t, "what's the weather")

	h.o.HandleTranscript(context.Background(), final("okay that is everything"))

	if classifierLLM.CallCount() != 1 {
		t.Fatalf("classifier calls = %d, want 1", classifierLLM.CallCount())
	}
	if snap := h.obs.snapshot(); !slices.Equal(snap.queries, []string{"what's the weather"}) {
		t.Errorf("queries = %q, want [what's the weather]", snap.queries)
	}
}

func TestFinish_StopDuringProcessingStaysIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{})
	h.llm.Hook = func(context.Context, llm.Request) {
		h.o.Stop(context.Background())
	}
	h.listening(t, "what's the weather")
	h.o.HandleTranscript(context.Background(), final("bye aura"))

	if got := h.o.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

// ─── speaking ────────────────────────────────────────────────────────────────

func TestSpeak_PublishesDataAndTrack(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{},
		WithPublishData("", true),
		WithPCMFormat(24000, 1),
		WithVoice("voice-1", "eleven_turbo"),
	)

	if err := h.o.Speak(context.Background(), "hello there"); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	if len(h.conn.PublishDataCalls) != 1 {
		t.Fatalf("PublishData calls = %d, want 1", len(h.conn.PublishDataCalls))
	}
	call := h.conn.PublishDataCalls[0]
	if string(call.Payload) != "mp3-bytes" || call.Options.Topic != "tts_audio" || !call.Options.Reliable {
		t.Errorf("PublishData = %+v", call)
	}

	if len(h.tts.SynthesizePCMCalls) != 1 {
		t.Fatalf("SynthesizePCM calls = %d, want 1", len(h.tts.SynthesizePCMCalls))
	}
	pcmCall := h.tts.SynthesizePCMCalls[0]
	if pcmCall.Format != (tts.PCMFormat{SampleRate: 24000, Channels: 1}) {
		t.Errorf("PCM format = %v", pcmCall.Format)
	}
	if pcmCall.Request.VoiceID != "voice-1" || pcmCall.Request.Model != "eleven_turbo" {
		t.Errorf("PCM request = %+v", pcmCall.Request)
	}
	if len(h.egress.plays) != 1 || h.egress.plays[0] != (play{samples: 640, rate: 24000, channels: 1}) {
		t.Errorf("plays = %+v", h.egress.plays)
	}
}

func TestSpeak_TrackDisabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{}, WithPublishTrack(false))
	if err := h.o.Speak(context.Background(), "hello"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if _, pcm := h.tts.Calls(); pcm != 0 {
		t.Errorf("SynthesizePCM called with track disabled")
	}
	if len(h.conn.PublishDataCalls) != 0 {
		t.Errorf("PublishData called without WithPublishData")
	}
}

func TestSpeak_EmptyText(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{})
	if err := h.o.Speak(context.Background(), "  "); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("Speak(blank) = %v, want ErrEmptyText", err)
	}
}

func TestSpeak_FormatMismatchReported(t *testing.T) {
	t.Parallel()

	conn := &audiomock.Connection{}
	eg := egress.New(conn)
	if err := eg.Play(context.Background(), make([]int16, 320), 16000, 1); err != nil {
		t.Fatalf("first Play: %v", err)
	}

	h := newHarness(t, Deps{Egress: eg}, WithPCMFormat(24000, 1))
	h.listening(t, "what's the weather")
	h.o.HandleTranscript(context.Background(), final("bye aura"))

	snap := h.obs.snapshot()
	if len(snap.errs) != 1 || !errors.Is(snap.errs[0], egress.ErrFormatMismatch) {
		t.Fatalf("errors = %v, want one ErrFormatMismatch", snap.errs)
	}
	if got := h.o.State(); got != StateArmed {
		t.Errorf("state = %v, want armed", got)
	}
}

// ─── audio frames ────────────────────────────────────────────────────────────

func TestHandleFrame_TranscribesSegments(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{}, WithLanguage("en"), WithSTTModel("scribe_v1"))
	h.stt.Results = []sttmock.Result{{Text: "  hey aura what time is it "}}
	h.o.Start()

	// 0.5 s at 16 kHz is 8000 samples; 12000 yields one segment.
	h.o.HandleFrame(context.Background(), frameOf(12000, 16000))

	if h.stt.CallCount() != 1 {
		t.Fatalf("STT calls = %d, want 1", h.stt.CallCount())
	}
	req := h.stt.Calls[0]
	if len(req.Samples) != 8000 || req.SampleRate != 16000 || req.Language != "en" || req.Model != "scribe_v1" {
		t.Errorf("STT request = {%d samples, %d Hz, %q, %q}", len(req.Samples), req.SampleRate, req.Language, req.Model)
	}
	if got := h.o.Utterances(); !slices.Equal(got, []string{"what time is it"}) {
		t.Errorf("utterances = %q", got)
	}
}

func TestHandleFrame_DroppedWhileIdleOrProcessing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{})
	h.o.HandleFrame(context.Background(), frameOf(8000, 16000))
	if h.stt.CallCount() != 0 {
		t.Fatalf("STT called while idle")
	}

	h.listening(t, "what's the weather")
	h.llm.Hook = func(ctx context.Context, _ llm.Request) {
		h.o.HandleFrame(ctx, frameOf(16000, 16000))
	}
	h.o.HandleTranscript(context.Background(), final("bye aura"))

	if h.stt.CallCount() != 0 {
		t.Errorf("STT calls = %d, want 0 while processing", h.stt.CallCount())
	}
}

func TestHandleFrame_SilenceSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{}, WithSilenceThreshold(500))
	h.o.Start()

	quiet := audio.AudioFrame{Samples: make([]int16, 8000), SampleRate: 16000, Channels: 1}
	h.o.HandleFrame(context.Background(), quiet)
	if h.stt.CallCount() != 0 {
		t.Errorf("silent segment transcribed")
	}

	h.o.HandleFrame(context.Background(), frameOf(8000, 16000))
	if h.stt.CallCount() != 1 {
		t.Errorf("STT calls = %d, want 1 for loud segment", h.stt.CallCount())
	}
}

func TestHandleFrame_SilenceThresholdInSampleUnits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		threshold float64
		amplitude int16
		want      int
	}{
		{"speech above typical threshold", 300, 1000, 1},
		{"hum below typical threshold", 300, 200, 0},
		{"disabled", 0, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, Deps{}, WithSilenceThreshold(tt.threshold))
			h.o.Start()

			s := make([]int16, 8000)
			for i := range s {
				s[i] = tt.amplitude
			}
			h.o.HandleFrame(context.Background(), audio.AudioFrame{Samples: s, SampleRate: 16000, Channels: 1})
			if got := h.stt.CallCount(); got != tt.want {
				t.Errorf("STT calls = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestHandleFrame_STTErrorAbandonsTurn(t *testing.T) {
	t.Parallel()

	sttErr := errors.New("stt down")
	h := newHarness(t, Deps{})
	h.listening(t, "what's the weather")
	h.stt.Err = sttErr

	h.o.HandleFrame(context.Background(), frameOf(8000, 16000))

	if got := h.o.State(); got != StateArmed {
		t.Errorf("state = %v, want armed", got)
	}
	if got := h.o.Utterances(); len(got) != 0 {
		t.Errorf("utterances = %q, want cleared", got)
	}
	snap := h.obs.snapshot()
	if len(snap.errs) != 1 || !errors.Is(snap.errs[0], sttErr) {
		t.Errorf("errors = %v, want [%v]", snap.errs, sttErr)
	}
}

// ─── run loop ────────────────────────────────────────────────────────────────

func TestRun_NotStarted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{})
	if err := h.o.Run(context.Background(), make(chan audio.AudioFrame)); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Run = %v, want ErrNotRunning", err)
	}
}

func TestRun_ReturnsWhenFramesClose(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{})
	h.stt.Results = []sttmock.Result{{Text: "hey aura what time is it"}, {Text: "bye aura"}}
	h.o.Start()

	frames := make(chan audio.AudioFrame, 4)
	frames <- frameOf(8000, 16000)
	frames <- frameOf(8000, 16000)
	// Queued behind the turn; discarded once it finishes.
	frames <- frameOf(8000, 16000)
	frames <- frameOf(8000, 16000)
	close(frames)

	if err := h.o.Run(context.Background(), frames); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := h.stt.CallCount(); got != 2 {
		t.Errorf("STT calls = %d, want 2", got)
	}
	if snap := h.obs.snapshot(); !slices.Equal(snap.queries, []string{"what time is it"}) {
		t.Errorf("queries = %q", snap.queries)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{})
	h.o.Start()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.o.Run(ctx, make(chan audio.AudioFrame)); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestRun_StopEndsLoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{})
	h.o.Start()

	errc := make(chan error, 1)
	go func() { errc <- h.o.Run(context.Background(), make(chan audio.AudioFrame)) }()

	h.o.Stop(context.Background())
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestRun_AfterStopReturnsNil(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{})
	h.o.Start()
	h.o.Stop(context.Background())

	if err := h.o.Run(context.Background(), make(chan audio.AudioFrame)); err != nil {
		t.Errorf("Run after Stop = %v, want nil", err)
	}
}

func TestDeliver_SpeaksBetweenFrames(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{})
	h.o.Start()
	if !h.o.Deliver("  the table is booked ") {
		t.Fatal("Deliver returned false")
	}

	errc := make(chan error, 1)
	go func() { errc <- h.o.Run(context.Background(), make(chan audio.AudioFrame)) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if synth, _ := h.tts.Calls(); synth == 1 && h.o.State() == StateArmed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("delivered reply was not spoken")
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.o.Stop(context.Background())
	<-errc

	snap := h.obs.snapshot()
	if !slices.Equal(snap.responses, []string{"the table is booked"}) {
		t.Errorf("responses = %q", snap.responses)
	}
	if !slices.Contains(snap.states, StateProcessing) {
		t.Errorf("states = %v, want a processing phase during playback", snap.states)
	}
}

func TestDeliver_Rejects(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Deps{})
	if h.o.Deliver("hello") {
		t.Error("Deliver accepted while not running")
	}

	h.o.Start()
	if h.o.Deliver("   ") {
		t.Error("Deliver accepted blank text")
	}
	for i := range replyBuffer {
		if !h.o.Deliver("reply") {
			t.Fatalf("Deliver %d rejected before queue was full", i)
		}
	}
	if h.o.Deliver("one too many") {
		t.Error("Deliver accepted with full queue")
	}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func TestAfterWakeBeforeStop(t *testing.T) {
	t.Parallel()

	if got := afterWake("hey aura, what's up", 8); got != "what's up" {
		t.Errorf("afterWake = %q", got)
	}
	if got := afterWake("hey aura", -1); got != "" {
		t.Errorf("afterWake(-1) = %q", got)
	}
	if got := beforeStop("thanks bye aura", 7); got != "thanks" {
		t.Errorf("beforeStop = %q", got)
	}
	if got := beforeStop("bye aura", -1); got != "" {
		t.Errorf("beforeStop(-1) = %q", got)
	}
}
