// Package app wires the Aura gateway together: the room connection feeds the
// dialogue orchestrator, replies leave through the egress track and the
// bridge relay, and the admin HTTP server exposes health, metrics, tokens and
// room signaling.
//
// New builds every subsystem from the config and the providers created by
// main.go. Run serves until the context is cancelled. Shutdown tears the
// pipeline and the room connection down.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yalda00/nexhacks-aura2.0/internal/bridge"
	"github.com/yalda00/nexhacks-aura2.0/internal/config"
	"github.com/yalda00/nexhacks-aura2.0/internal/egress"
	"github.com/yalda00/nexhacks-aura2.0/internal/gate"
	"github.com/yalda00/nexhacks-aura2.0/internal/health"
	"github.com/yalda00/nexhacks-aura2.0/internal/observe"
	"github.com/yalda00/nexhacks-aura2.0/internal/token"
	"github.com/yalda00/nexhacks-aura2.0/internal/turn"
	"github.com/yalda00/nexhacks-aura2.0/pkg/audio"
	"github.com/yalda00/nexhacks-aura2.0/pkg/audio/webrtc"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/llm"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/stt"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/tts"
)

// ShutdownTimeout bounds how long servers get to drain on shutdown.
const ShutdownTimeout = 15 * time.Second

// Providers holds the collaborators built from the config registry. LLM may
// be nil when reasoning is delegated to the bridge; Classifier may be nil,
// which disables the classifier tier.
type Providers struct {
	STT        stt.Provider
	LLM        llm.Provider
	Classifier llm.Provider
	TTS        tts.Provider
	Room       audio.Platform

	// Labels used on metrics and logs.
	STTName string
	LLMName string
	TTSName string
}

// App owns the gateway's subsystems.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	level     *slog.LevelVar
	log       *slog.Logger

	configPath    string
	envLookup     func(string) (string, bool)
	watchInterval time.Duration

	conn      audio.Connection
	connected atomic.Bool
	egress    *egress.Egress
	gate      *gate.Gate
	orch      *turn.Orchestrator
	hub       *bridge.Hub
	issuer    *token.Issuer
	health    *health.Handler
	streams   *streamSelector

	admin http.Handler

	// ready is closed once Run has started the pipeline.
	ready     chan struct{}
	readyOnce sync.Once
	stopOnce  sync.Once
}

// Option is a functional option for [New].
type Option func(*App)

// WithMetrics sets the metrics sink. Default observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets hot reload change the log level through v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithConfigWatch makes Run poll path for changes and apply the
// hot-reloadable ones. lookup is the environment overlay applied to every
// reload; nil skips the overlay.
func WithConfigWatch(path string, lookup func(string) (string, bool)) Option {
	return func(a *App) {
		a.configPath = path
		a.envLookup = lookup
	}
}

// WithWatchInterval sets the config polling interval. Default 5s.
func WithWatchInterval(d time.Duration) Option {
	return func(a *App) { a.watchInterval = d }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New connects to the room and assembles the pipeline.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
		ready:     make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.log = a.log.With("component", "app")

	if err := a.checkProviders(); err != nil {
		return nil, err
	}

	// ── 1. Room ──────────────────────────────────────────────────────────
	conn, err := providers.Room.Connect(ctx, cfg.Room.Name)
	if err != nil {
		return nil, fmt.Errorf("app: connect room %q: %w", cfg.Room.Name, err)
	}
	a.conn = conn
	a.connected.Store(true)

	// ── 2. Tokens ────────────────────────────────────────────────────────
	if cfg.Token.APIKey != "" && cfg.Token.APISecret != "" {
		a.issuer = &token.Issuer{APIKey: cfg.Token.APIKey, APISecret: cfg.Token.APISecret, TTL: cfg.Token.TTL}
	}

	// ── 3. Gate ──────────────────────────────────────────────────────────
	a.gate = a.buildGate()

	// ── 4. Bridge ────────────────────────────────────────────────────────
	observers := turn.Observers{turn.NewLogObserver(a.log)}
	if cfg.Bridge.ListenAddr != "" {
		a.hub = bridge.NewHub(
			bridge.WithPingInterval(cfg.Bridge.PingInterval),
			bridge.WithReadLimit(cfg.Bridge.ReadLimit),
			bridge.WithAllowedOrigins(cfg.Bridge.AllowedOrigins...),
			bridge.WithMetrics(a.metrics),
			bridge.WithLogger(a.log),
		)
		observers = append(observers, bridge.NewObserver(a.hub, cfg.Bridge.ForwardQueries, cfg.Bridge.ForwardAudio))
	}

	// ── 5. Egress + orchestrator ─────────────────────────────────────────
	var eg turn.Egress
	if cfg.Egress.PublishTrack {
		a.egress = egress.New(conn,
			egress.WithTrackName(cfg.Egress.TrackName),
			egress.WithFrameDuration(time.Duration(cfg.Egress.FrameMs)*time.Millisecond),
			egress.WithLogger(a.log),
		)
		eg = a.egress
	}
	turnOpts := []turn.Option{
		turn.WithObserver(observers),
		turn.WithFlushDelay(cfg.Pipeline.FlushDelay),
		turn.WithSegmentSeconds(cfg.Pipeline.SegmentSeconds),
		turn.WithLanguage(cfg.Pipeline.Language),
		turn.WithSystemPrompt(cfg.Pipeline.SystemPrompt),
		turn.WithSilenceThreshold(cfg.Pipeline.SilenceRMSThreshold),
		turn.WithVoice(cfg.Providers.TTS.Option("voice_id"), cfg.Providers.TTS.Model),
		turn.WithPCMFormat(cfg.Egress.SampleRate, cfg.Egress.Channels),
		turn.WithPublishTrack(cfg.Egress.PublishTrack),
		turn.WithExternalReasoning(cfg.Pipeline.Reasoning == config.ReasoningBridge),
		turn.WithMetrics(a.metrics),
		turn.WithLogger(a.log),
	}
	if cfg.Egress.PublishData {
		turnOpts = append(turnOpts, turn.WithPublishData(cfg.Egress.DataTopic, cfg.Egress.DataReliable))
	}
	a.orch = turn.New(turn.Deps{
		STT:          providers.STT,
		Reasoner:     providers.LLM,
		Synth:        providers.TTS,
		Gate:         a.gate,
		Egress:       eg,
		Data:         conn,
		STTName:      providers.STTName,
		ReasonerName: providers.LLMName,
		SynthName:    providers.TTSName,
	}, turnOpts...)
	if a.hub != nil {
		a.hub.SetOnResponse(a.deliver)
	}

	// ── 6. Admin surface ─────────────────────────────────────────────────
	a.streams = newStreamSelector(a.log)
	a.health = health.New(
		health.Condition("room", a.connected.Load, "room connection closed"),
		health.Condition("pipeline", func() bool { return a.orch.State() != turn.StateIdle }, "pipeline is idle"),
	)
	a.admin = a.buildAdmin()

	a.log.Info("app assembled",
		"room", cfg.Room.Name,
		"reasoning", cfg.Pipeline.Reasoning,
		"bridge", cfg.Bridge.ListenAddr != "",
		"tokens", a.issuer != nil,
	)
	return a, nil
}

func (a *App) checkProviders() error {
	p := a.providers
	var errs []error
	if p.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if p.TTS == nil {
		errs = append(errs, errors.New("tts provider is required"))
	}
	if p.Room == nil {
		errs = append(errs, errors.New("room platform is required"))
	}
	if p.LLM == nil && a.cfg.Pipeline.Reasoning != config.ReasoningBridge {
		errs = append(errs, errors.New("llm provider is required unless reasoning is bridge"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

func (a *App) buildGate() *gate.Gate {
	gc := a.cfg.Gate
	opts := []gate.Option{
		gate.WithAgentName(gc.AgentName),
		gate.WithPhrases(gc.WakePhrase, gc.SleepPhrase),
		gate.WithPhoneticWake(gc.PhoneticWake),
		gate.WithMinWindowChars(gc.MinWindowChars),
		gate.WithLogger(a.log),
	}

	classifier := a.providers.Classifier
	if classifier == nil {
		classifier = a.providers.LLM
	}
	if classifier != nil {
		opts = append(opts,
			gate.WithClassifier(gate.NewClassifier(classifier,
				gate.WithClassifierAgentName(gc.AgentName),
				gate.WithRateLimiter(gate.NewRateLimiter(gc.ClassifierCooldown, nil)),
				gate.WithClassifierLogger(a.log),
			)),
			gate.WithClassifierFallback(gc.ClassifierFallback),
		)
	}
	return gate.New(opts...)
}

// deliver hands a bridge reply to the orchestrator.
func (a *App) deliver(text string) {
	if !a.orch.Deliver(text) {
		a.log.Warn("bridge reply dropped", "state", a.orch.State())
	}
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

type statusResponse struct {
	State         string `json:"state"`
	Turns         uint64 `json:"turns"`
	Room          string `json:"room"`
	BridgeClients int    `json:"bridgeClients"`
}

func (a *App) buildAdmin() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	mux.HandleFunc("GET /status", a.handleStatus)
	if a.issuer != nil {
		mux.Handle("GET /token", a.issuer.Handler())
	}
	if wp, ok := a.providers.Room.(*webrtc.Platform); ok {
		var opts []webrtc.SignalingOption
		if a.issuer != nil {
			opts = append(opts, webrtc.WithAuthenticator(a.issuer))
		} else {
			a.log.Warn("room signaling is unauthenticated; set token.api_key and token.api_secret")
		}
		mux.Handle("/rooms/", webrtc.NewSignalingServer(wp, opts...).Handler())
	}
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	res := statusResponse{
		State: a.orch.State().String(),
		Turns: a.orch.Turns(),
		Room:  a.cfg.Room.Name,
	}
	if a.hub != nil {
		res.BridgeClients = a.hub.Clients()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

// AdminHandler serves /healthz, /readyz, /metrics, /status, /token and the
// room signaling routes.
func (a *App) AdminHandler() http.Handler { return a.admin }

// BridgeHandler serves the bridge WebSocket and its HTTP endpoints. It is
// nil when the bridge is disabled.
func (a *App) BridgeHandler() http.Handler {
	if a.hub == nil {
		return nil
	}
	return a.hub
}

// Orchestrator exposes the dialogue orchestrator.
func (a *App) Orchestrator() *turn.Orchestrator { return a.orch }

// Ready is closed once Run has started the pipeline.
func (a *App) Ready() <-chan struct{} { return a.ready }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the admin and bridge listeners, runs the pipeline and, when
// configured, the config watcher. It blocks until ctx is cancelled or a
// component fails, and returns nil on a clean cancel.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: a.admin, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error { return a.serve(gctx, "admin", srv, nil) })
	}
	if a.hub != nil {
		srv := &http.Server{Addr: a.cfg.Bridge.ListenAddr, Handler: observe.Middleware(a.metrics)(a.hub)}
		g.Go(func() error { return a.serve(gctx, "bridge", srv, a.hub.Close) })
	}
	if a.configPath != "" {
		g.Go(func() error { return a.watch(gctx) })
	}
	g.Go(func() error { return a.runPipeline(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serve runs srv until ctx is done. before, when non-nil, runs ahead of the
// graceful shutdown; hijacked connections are not closed by Shutdown.
func (a *App) serve(ctx context.Context, name string, srv *http.Server, before func() error) error {
	errc := make(chan error, 1)
	go func() {
		a.log.Info("listening", "server", name, "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("app: %s server: %w", name, err)
	case <-ctx.Done():
	}

	if before != nil {
		if err := before(); err != nil {
			a.log.Warn("pre-shutdown hook failed", "server", name, "err", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: %s shutdown: %w", name, err)
	}
	return nil
}

// runPipeline feeds one participant stream at a time into the orchestrator.
func (a *App) runPipeline(ctx context.Context) error {
	a.conn.OnParticipantChange(func(ev audio.Event) {
		switch ev.Type {
		case audio.EventJoin:
			if ch, ok := a.conn.InputStreams()[ev.UserID]; ok {
				a.streams.attach(ctx, ev.UserID, ch)
			}
		case audio.EventLeave:
			a.log.Info("participant left", "user", ev.UserID)
		}
	})
	for id, ch := range a.conn.InputStreams() {
		a.streams.attach(ctx, id, ch)
	}

	a.orch.Start()
	defer a.orch.Stop(context.WithoutCancel(ctx))
	a.readyOnce.Do(func() { close(a.ready) })

	err := a.orch.Run(ctx, a.streams.frames())
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: pipeline: %w", err)
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the pipeline and disconnects from the room. It is safe to
// call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down")
		a.orch.Stop(ctx)
		if a.hub != nil {
			_ = a.hub.Close()
		}
		a.connected.Store(false)
		if dErr := a.conn.Disconnect(); dErr != nil {
			err = fmt.Errorf("app: disconnect room: %w", dErr)
		}
		if ctx.Err() != nil {
			a.log.Warn("shutdown deadline exceeded")
			err = errors.Join(err, ctx.Err())
		}
		a.log.Info("shutdown complete")
	})
	return err
}
