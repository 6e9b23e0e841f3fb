// Package turn implements the Aura dialogue orchestrator: the
// idle → armed → listening → processing → armed state machine that turns a
// participant's live audio into queries and spoken replies.
//
// Audio frames are cut into fixed-length segments, each segment is
// transcribed, and every transcript is run through the wake/stop [gate.Gate].
// A wake in armed starts a turn; text is accumulated while listening; a stop
// closes the turn, and the joined query is sent to the reasoning provider (or
// handed to an external agent through [Observer.OnQuery]). The reply is
// synthesized and played through the egress track.
//
// All turn work happens on the goroutine that calls [Orchestrator.Run]. The
// collaborators are awaited inline, so frames that arrive while a turn is
// being processed are discarded rather than queued; this keeps the agent from
// transcribing its own reply.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yalda00/nexhacks-aura2.0/internal/gate"
	"github.com/yalda00/nexhacks-aura2.0/internal/observe"
	"github.com/yalda00/nexhacks-aura2.0/pkg/audio"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/llm"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/stt"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/tts"
)

// Defaults for the orchestrator options.
const (
	DefaultFlushDelay    = 300 * time.Millisecond
	DefaultDataTopic     = "tts_audio"
	DefaultPCMSampleRate = 16000
	DefaultPCMChannels   = 1

	// replyBuffer bounds the number of delivered replies awaiting playback.
	replyBuffer = 8
)

// ErrNotRunning is returned by [Orchestrator.Run] when [Orchestrator.Start]
// has never been called.
var ErrNotRunning = errors.New("turn: orchestrator not running")

// State is the pipeline state.
type State int32

const (
	StateIdle State = iota
	StateArmed
	StateListening
	StateProcessing
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

func (s State) phase() gate.Phase {
	if s == StateListening {
		return gate.PhaseListening
	}
	return gate.PhaseArmed
}

// TranscriptEvent is one transcribed utterance.
type TranscriptEvent struct {
	Text    string
	IsFinal bool
}

// Egress plays synthesized PCM on the outgoing track. *egress.Egress
// satisfies it.
type Egress interface {
	Play(ctx context.Context, samples []int16, sampleRate, channels int) error
	Stop(ctx context.Context)
}

// DataPublisher sends reply audio to the room as a data packet.
// audio.Connection satisfies it.
type DataPublisher interface {
	PublishData(ctx context.Context, payload []byte, opts audio.DataOptions) error
}

// Deps are the collaborators of an [Orchestrator]. STT and Synth are
// required; Reasoner is required unless external reasoning is enabled. A nil
// Gate selects gate.New(). Egress and Data may be nil when track or data
// publishing is disabled.
type Deps struct {
	STT      stt.Provider
	Reasoner llm.Provider
	Synth    tts.Provider
	Gate     *gate.Gate
	Egress   Egress
	Data     DataPublisher

	// Provider labels used on metrics. Defaults "stt", "llm" and "tts".
	STTName      string
	ReasonerName string
	SynthName    string
}

// Orchestrator drives one participant's conversation with the agent.
type Orchestrator struct {
	stt      stt.Provider
	reasoner llm.Provider
	synth    tts.Provider
	gate     *gate.Gate
	egress   Egress
	data     DataPublisher

	sttName      string
	reasonerName string
	synthName    string

	observer Observer
	metrics  *observe.Metrics
	log      *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	flushDelay     time.Duration
	segmentSeconds float64
	language       string
	sttModel       string
	voice          string
	ttsModel       string
	systemPrompt   string
	pcmFormat      tts.PCMFormat
	publishData    bool
	dataTopic      string
	dataReliable   bool
	publishTrack   bool
	external       bool
	silenceRMS     float64

	state   atomic.Int32
	running atomic.Bool
	turns   atomic.Uint64
	replies chan string

	// mu guards the fields below. It is never held across a collaborator call.
	mu         sync.Mutex
	segmenter  *audio.Segmenter
	utterances []string
	done       chan struct{}
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithObserver sets the event observer. Use [Observers] to attach several.
func WithObserver(o Observer) Option {
	return func(or *Orchestrator) {
		if o != nil {
			or.observer = o
		}
	}
}

// WithFlushDelay sets the pause between the stop phrase and joining the
// query. Default 300ms.
func WithFlushDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.flushDelay = d
		}
	}
}

// WithSegmentSeconds sets the transcription segment length. Default 0.5s.
func WithSegmentSeconds(s float64) Option {
	return func(o *Orchestrator) { o.segmentSeconds = s }
}

// WithLanguage sets the transcription language hint.
func WithLanguage(lang string) Option {
	return func(o *Orchestrator) { o.language = lang }
}

// WithSTTModel overrides the transcription model per request.
func WithSTTModel(model string) Option {
	return func(o *Orchestrator) { o.sttModel = model }
}

// WithVoice sets the synthesis voice and model. Empty values select the
// provider defaults.
func WithVoice(voiceID, model string) Option {
	return func(o *Orchestrator) { o.voice, o.ttsModel = voiceID, model }
}

// WithSystemPrompt sets the system prompt sent with every query.
func WithSystemPrompt(p string) Option {
	return func(o *Orchestrator) { o.systemPrompt = p }
}

// WithPCMFormat sets the PCM format requested for track playback.
// Default 16000 Hz mono.
func WithPCMFormat(sampleRate, channels int) Option {
	return func(o *Orchestrator) {
		if sampleRate > 0 && channels > 0 {
			o.pcmFormat = tts.PCMFormat{SampleRate: sampleRate, Channels: channels}
		}
	}
}

// WithPublishData publishes every compressed reply clip to the room on
// topic. An empty topic selects "tts_audio".
func WithPublishData(topic string, reliable bool) Option {
	return func(o *Orchestrator) {
		if topic == "" {
			topic = DefaultDataTopic
		}
		o.publishData, o.dataTopic, o.dataReliable = true, topic, reliable
	}
}

// WithPublishTrack toggles PCM playback through the egress track. Default on.
func WithPublishTrack(enabled bool) Option {
	return func(o *Orchestrator) { o.publishTrack = enabled }
}

// WithExternalReasoning makes the orchestrator stop after OnQuery: an
// external agent answers and its reply comes back through
// [Orchestrator.Deliver].
func WithExternalReasoning(enabled bool) Option {
	return func(o *Orchestrator) { o.external = enabled }
}

// WithSilenceThreshold skips segments whose RMS is below threshold, given
// in int16 sample units (0 to 32768; speech is typically a few hundred and
// up). Zero transcribes every segment.
func WithSilenceThreshold(threshold float64) Option {
	return func(o *Orchestrator) { o.silenceRMS = threshold }
}

// WithSleep replaces the flush-delay timer.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// WithMetrics sets the metrics sink. Default observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// New creates an idle Orchestrator.
func New(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		stt:            deps.STT,
		reasoner:       deps.Reasoner,
		synth:          deps.Synth,
		gate:           deps.Gate,
		egress:         deps.Egress,
		data:           deps.Data,
		sttName:        labelOr(deps.STTName, "stt"),
		reasonerName:   labelOr(deps.ReasonerName, "llm"),
		synthName:      labelOr(deps.SynthName, "tts"),
		observer:       NopObserver{},
		log:            slog.Default(),
		sleep:          sleepCtx,
		flushDelay:     DefaultFlushDelay,
		segmentSeconds: audio.DefaultSegmentSeconds,
		pcmFormat:      tts.PCMFormat{SampleRate: DefaultPCMSampleRate, Channels: DefaultPCMChannels},
		dataTopic:      DefaultDataTopic,
		dataReliable:   true,
		publishTrack:   true,
		replies:        make(chan string, replyBuffer),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.gate == nil {
		o.gate = gate.New(gate.WithLogger(o.log))
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	o.log = o.log.With("component", "turn")
	o.segmenter = audio.NewSegmenter(o.segmentSeconds)
	return o
}

func labelOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// State returns the current state. Safe for concurrent use.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Turns returns how many turns have entered processing.
func (o *Orchestrator) Turns() uint64 {
	return o.turns.Load()
}

// Start moves idle → armed with fresh buffers. It is a no-op in any other
// state.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	if o.State() != StateIdle {
		o.mu.Unlock()
		return
	}
	o.segmenter = audio.NewSegmenter(o.segmentSeconds)
	o.utterances = nil
	o.done = make(chan struct{})
	o.drainReplies()
	o.running.Store(true)
	o.mu.Unlock()

	o.gate.Reset()
	o.transition(StateIdle, StateArmed)
}

// Stop moves any state to idle, clears every buffer and tears down the
// egress track. In-flight collaborator calls are not cancelled; a turn that
// is being processed finishes and stays idle. Run returns after its current
// step.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	if o.running.Swap(false) {
		close(o.done)
	}
	o.segmenter.Reset()
	o.utterances = nil
	o.mu.Unlock()

	o.gate.Reset()
	if prev := State(o.state.Swap(int32(StateIdle))); prev != StateIdle {
		o.changed(ctx, StateIdle)
	}
	if o.egress != nil {
		o.egress.Stop(ctx)
	}
}

// Run reads frames until frames is closed, ctx is done or Stop is called.
// Replies queued by [Orchestrator.Deliver] are spoken between frames. A Run
// that starts after Stop returns nil at once.
func (o *Orchestrator) Run(ctx context.Context, frames <-chan audio.AudioFrame) error {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done == nil {
		return ErrNotRunning
	}

	for o.running.Load() {
		turns := o.turns.Load()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return nil
		case text := <-o.replies:
			o.speakReply(ctx, text)
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			o.HandleFrame(ctx, f)
		}
		if o.turns.Load() != turns && !discardBuffered(frames) {
			return nil
		}
	}
	return nil
}

// discardBuffered drops the frames that queued up while a turn was being
// processed. It reports false when frames is closed.
func discardBuffered(frames <-chan audio.AudioFrame) bool {
	for n := len(frames); n > 0; n-- {
		select {
		case _, ok := <-frames:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
	return true
}

func (o *Orchestrator) drainReplies() {
	for {
		select {
		case <-o.replies:
		default:
			return
		}
	}
}

// HandleFrame segments one inbound frame and transcribes every completed
// segment. Frames are dropped while idle or processing.
func (o *Orchestrator) HandleFrame(ctx context.Context, frame audio.AudioFrame) {
	if !o.accepting() {
		return
	}

	o.mu.Lock()
	o.segmenter.Append(frame)
	segments := o.segmenter.Drain()
	o.mu.Unlock()

	for _, seg := range segments {
		if !o.accepting() {
			return
		}
		if o.silenceRMS > 0 && audio.RMS(seg.Samples)*audio.FullScale < o.silenceRMS {
			continue
		}
		text, err := o.transcribe(ctx, seg)
		if err != nil {
			o.transcriptionFailed(ctx, err)
			continue
		}
		if text = strings.TrimSpace(text); text == "" {
			continue
		}
		o.HandleTranscript(ctx, TranscriptEvent{Text: text, IsFinal: true})
	}
}

func (o *Orchestrator) accepting() bool {
	s := o.State()
	return s == StateArmed || s == StateListening
}

func (o *Orchestrator) transcribe(ctx context.Context, seg audio.Segment) (string, error) {
	ctx, span := observe.StartSpan(ctx, observe.SpanTranscribe)
	defer span.End()

	start := time.Now()
	text, err := o.stt.Transcribe(ctx, stt.Request{
		Samples:    seg.Samples,
		SampleRate: seg.SampleRate,
		Language:   o.language,
		Model:      o.sttModel,
	})
	o.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	o.recordProvider(ctx, o.sttName, "stt", err)
	if err != nil {
		observe.FailSpan(span, err)
		return "", fmt.Errorf("turn: transcribe: %w", err)
	}
	return text, nil
}

// transcriptionFailed reports err and abandons a turn in progress.
func (o *Orchestrator) transcriptionFailed(ctx context.Context, err error) {
	o.observer.OnError(err)
	if o.State() != StateListening {
		return
	}
	o.mu.Lock()
	o.utterances = nil
	o.mu.Unlock()
	if o.transition(StateListening, StateArmed) {
		o.metrics.RecordTurn(ctx, observe.OutcomeError)
	}
}

// HandleTranscript applies one transcript to the state machine. Blank text
// is ignored. Every other event is reported through OnTranscript; only
// final events reach the gate, and none do while processing.
func (o *Orchestrator) HandleTranscript(ctx context.Context, ev TranscriptEvent) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}
	o.observer.OnTranscript(text, ev.IsFinal)
	if !ev.IsFinal {
		return
	}

	st := o.State()
	if st != StateArmed && st != StateListening {
		return
	}

	d := o.gate.Evaluate(ctx, text, st.phase())
	o.metrics.RecordGateDecision(ctx, d.Tier.String(), verdictLabel(d.Verdict))
	if o.State() != st {
		// Stopped while the classifier was consulted.
		return
	}

	switch st {
	case StateArmed:
		if d.Stop {
			o.log.Debug("stop phrase while armed", "text", text)
			return
		}
		if !d.Wake {
			return
		}
		rest := afterWake(text, d.WakeEnd)
		o.mu.Lock()
		o.utterances = o.utterances[:0]
		if rest != "" {
			o.utterances = append(o.utterances, rest)
		}
		o.mu.Unlock()
		o.transition(StateArmed, StateListening)

	case StateListening:
		if d.Stop {
			if before := beforeStop(text, d.StopStart); before != "" {
				o.appendUtterance(before)
			}
			o.finish(ctx)
			return
		}
		o.appendUtterance(text)
	}
}

func (o *Orchestrator) appendUtterance(text string) {
	o.mu.Lock()
	o.utterances = append(o.utterances, text)
	o.mu.Unlock()
}

// Utterances returns a copy of the accumulated query text.
func (o *Orchestrator) Utterances() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.utterances...)
}

// afterWake returns the text following the wake match with leading
// punctuation and spaces removed.
func afterWake(text string, end int) string {
	if end < 0 || end > len(text) {
		return ""
	}
	return strings.TrimSpace(strings.TrimLeft(text[end:], " \t\r\n.,!?;:"))
}

// beforeStop returns the text preceding the stop match.
func beforeStop(text string, start int) string {
	if start < 0 || start > len(text) {
		return ""
	}
	return strings.TrimSpace(text[:start])
}

func verdictLabel(v gate.Verdict) string {
	switch {
	case v.Stop:
		return "stop"
	case v.Wake:
		return "wake"
	default:
		return "none"
	}
}

// finish processes the accumulated query: listening → processing, reason,
// speak, and back to armed whatever the outcome.
func (o *Orchestrator) finish(ctx context.Context) {
	if !o.transition(StateListening, StateProcessing) {
		return
	}
	o.turns.Add(1)

	ctx, span := observe.StartSpan(ctx, observe.SpanTurn)
	defer span.End()
	defer o.transition(StateProcessing, StateArmed)

	sleepErr := o.sleep(ctx, o.flushDelay)

	o.mu.Lock()
	prompt := strings.TrimSpace(strings.Join(o.utterances, " "))
	o.utterances = nil
	o.mu.Unlock()

	if sleepErr != nil {
		return
	}
	if prompt == "" {
		o.metrics.RecordTurn(ctx, observe.OutcomeEmpty)
		return
	}
	span.SetAttributes(attribute.Int("turn.prompt_length", len(prompt)))

	o.observer.OnQuery(prompt)
	if o.external {
		o.metrics.RecordTurn(ctx, observe.OutcomeExternal)
		return
	}

	reply, err := o.reason(ctx, prompt)
	if err == nil {
		o.observer.OnResponse(reply)
		err = o.Speak(ctx, reply)
	}
	if err != nil {
		observe.FailSpan(span, err)
		o.metrics.RecordTurn(ctx, observe.OutcomeError)
		o.observer.OnError(err)
		return
	}
	o.metrics.RecordTurn(ctx, observe.OutcomeSpoken)
}

func (o *Orchestrator) reason(ctx context.Context, prompt string) (string, error) {
	if o.reasoner == nil {
		return "", errors.New("turn: reason: no reasoning provider")
	}
	ctx, span := observe.StartSpan(ctx, observe.SpanGenerate)
	defer span.End()

	start := time.Now()
	req := llm.UserPrompt(prompt)
	req.SystemPrompt = o.systemPrompt
	reply, err := llm.GenerateRequest(ctx, o.reasoner, req)
	o.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	o.recordProvider(ctx, o.reasonerName, "llm", err)
	if err != nil {
		observe.FailSpan(span, err)
		return "", fmt.Errorf("turn: reason: %w", err)
	}
	return reply, nil
}

// Speak synthesizes text, reports the compressed clip through OnAudioReady,
// optionally publishes it as room data, and, when track publishing is on,
// plays PCM through the egress track. It returns after playout.
func (o *Orchestrator) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("turn: speak: %w", tts.ErrEmptyText)
	}
	ctx, span := observe.StartSpan(ctx, observe.SpanSynthesize)
	defer span.End()

	req := tts.Request{Text: text, VoiceID: o.voice, Model: o.ttsModel}

	start := time.Now()
	clip, err := o.synth.Synthesize(ctx, req)
	o.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	o.recordProvider(ctx, o.synthName, "tts", err)
	if err != nil {
		observe.FailSpan(span, err)
		return fmt.Errorf("turn: synthesize: %w", err)
	}
	o.observer.OnAudioReady(clip)

	if o.publishData && o.data != nil {
		opts := audio.DataOptions{Topic: o.dataTopic, Reliable: o.dataReliable}
		if err := o.data.PublishData(ctx, clip, opts); err != nil {
			return fmt.Errorf("turn: publish data: %w", err)
		}
	}

	if !o.publishTrack || o.egress == nil {
		return nil
	}

	pcm, err := o.synth.SynthesizePCM(ctx, req, o.pcmFormat)
	o.recordProvider(ctx, o.synthName, "tts", err)
	if err != nil {
		observe.FailSpan(span, err)
		return fmt.Errorf("turn: synthesize pcm: %w", err)
	}

	start = time.Now()
	if err := o.egress.Play(ctx, pcm.Samples, pcm.Format.SampleRate, pcm.Format.Channels); err != nil {
		return fmt.Errorf("turn: play: %w", err)
	}
	o.metrics.PlayoutDuration.Record(ctx, time.Since(start).Seconds())
	return nil
}

// Deliver queues an externally produced reply to be spoken by the run loop.
// It returns false when the orchestrator is not running, text is blank or
// the queue is full.
func (o *Orchestrator) Deliver(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || !o.running.Load() {
		return false
	}
	select {
	case o.replies <- text:
		return true
	default:
		o.log.Warn("reply queue full, dropping reply")
		return false
	}
}

// speakReply plays a delivered reply. The state is processing during
// playback so inbound audio is ignored, and armed afterwards.
func (o *Orchestrator) speakReply(ctx context.Context, text string) {
	from := o.State()
	if from != StateArmed && from != StateListening {
		return
	}
	if !o.transition(from, StateProcessing) {
		return
	}
	o.turns.Add(1)
	defer o.transition(StateProcessing, StateArmed)

	o.mu.Lock()
	o.utterances = nil
	o.mu.Unlock()

	o.observer.OnResponse(text)
	if err := o.Speak(ctx, text); err != nil {
		o.metrics.RecordTurn(ctx, observe.OutcomeError)
		o.observer.OnError(err)
		return
	}
	o.metrics.RecordTurn(ctx, observe.OutcomeSpoken)
}

// transition moves from → to atomically and reports whether it happened.
func (o *Orchestrator) transition(from, to State) bool {
	if !o.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	o.changed(context.Background(), to)
	return true
}

func (o *Orchestrator) changed(ctx context.Context, to State) {
	o.metrics.RecordStateTransition(ctx, to.String())
	o.log.Debug("state transition", "state", to.String())
	o.observer.OnStateChange(to)
}

func (o *Orchestrator) recordProvider(ctx context.Context, name, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		o.metrics.RecordProviderError(ctx, name, kind)
	}
	o.metrics.RecordProviderRequest(ctx, name, kind, status)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
