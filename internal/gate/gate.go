// Package gate implements Aura's wake/stop gate: given a freshly transcribed
// utterance and the current conversation phase it decides whether the
// speaker just addressed the agent (wake) or ended the turn (stop).
//
// Decisions come from two tiers. The pattern tier normalizes the text and
// tests an ordered set of stop patterns, then wake patterns; stop always wins.
// By default this tier resolves every utterance. With classifier fallback
// enabled, an utterance that matches nothing is handed to the classifier
// tier: a rate-limited call to an [llm.Provider] whose reply is parsed with
// [ExtractVerdict]. Classifier failures and cooldown misses yield the
// conservative default {wake:false, stop:false}.
//
// A Gate is driven from a single goroutine (the turn orchestrator's run loop).
// Only [Gate.SetPhrases], [Gate.SetClassifierCooldown] and [Gate.Reset] may be
// called concurrently with [Gate.Evaluate].
package gate

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Defaults for the configurable gate knobs.
const (
	DefaultAgentName      = "aura"
	DefaultWakePhrase     = "hey aura"
	DefaultSleepPhrase    = "bye aura"
	DefaultMinWindowChars = 12
	DefaultWindowSize     = 5
)

// Phase is the conversation phase an utterance is evaluated in. The gate is
// never consulted while a turn is being processed.
type Phase int

const (
	// PhaseArmed waits for a wake.
	PhaseArmed Phase = iota
	// PhaseListening accumulates a query until a stop.
	PhaseListening
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseArmed:
		return "armed"
	case PhaseListening:
		return "listening"
	default:
		return "unknown"
	}
}

// Tier identifies which tier produced a [Decision].
type Tier int

const (
	// TierPattern is the deterministic pattern tier.
	TierPattern Tier = iota
	// TierClassifier is a successful classifier call.
	TierClassifier
	// TierDefault is the conservative default: the classifier was skipped
	// (window too short, cooldown, not configured) or failed.
	TierDefault
)

// String returns the tier name used in logs and metric attributes.
func (t Tier) String() string {
	switch t {
	case TierPattern:
		return "pattern"
	case TierClassifier:
		return "classifier"
	case TierDefault:
		return "default"
	default:
		return "unknown"
	}
}

// Verdict is the wake/stop classification of an utterance.
type Verdict struct {
	Wake bool `json:"wake"`
	Stop bool `json:"stop"`
}

// Decision is the outcome of [Gate.Evaluate].
type Decision struct {
	Verdict

	// Resolved is true when a tier produced a definite answer.
	Resolved bool

	// Tier is the tier the decision came from.
	Tier Tier

	// WakeEnd is the byte offset just past the earliest wake match in the
	// original text, or -1.
	WakeEnd int

	// StopStart is the byte offset in the original text where the stop
	// begins, or -1. It is the configured sleep phrase's match when that
	// phrase occurs, else the earliest built-in stop match.
	StopStart int
}

func defaultDecision() Decision {
	return Decision{Tier: TierDefault, WakeEnd: -1, StopStart: -1}
}

// Gate is the two-tier wake/stop gate.
type Gate struct {
	agentName          string
	phrases            atomic.Pointer[phrasePatterns]
	classifier         *Classifier
	classifierFallback bool
	phoneticWake       bool
	minWindowChars     int
	window             *Window
	log                *slog.Logger
}

// Option is a functional option for [New].
type Option func(*Gate)

// WithAgentName sets the name used for phonetic wake matching. Default "aura".
func WithAgentName(name string) Option {
	return func(g *Gate) {
		if name = strings.TrimSpace(name); name != "" {
			g.agentName = strings.ToLower(name)
		}
	}
}

// WithPhrases sets the configured wake and sleep phrases, added to the
// pattern tier as literal patterns. Empty strings disable the literal.
func WithPhrases(wake, sleep string) Option {
	return func(g *Gate) { g.phrases.Store(compilePhrases(wake, sleep)) }
}

// WithClassifier attaches the classifier tier.
func WithClassifier(c *Classifier) Option {
	return func(g *Gate) { g.classifier = c }
}

// WithClassifierFallback makes "no pattern matched" unresolved so that the
// classifier tier is consulted. Default false: the pattern tier always
// resolves.
func WithClassifierFallback(enabled bool) Option {
	return func(g *Gate) { g.classifierFallback = enabled }
}

// WithPhoneticWake enables wake matching of a salutation followed by a word
// that sounds like the agent name.
func WithPhoneticWake(enabled bool) Option {
	return func(g *Gate) { g.phoneticWake = enabled }
}

// WithMinWindowChars sets the joined window length required before the armed
// window is submitted for wake classification. Default 12.
func WithMinWindowChars(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.minWindowChars = n
		}
	}
}

// WithWindowSize sets how many armed utterances the window keeps. Default 5.
func WithWindowSize(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.window = NewWindow(n)
		}
	}
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.log = l }
}

// New creates a Gate with the default phrases "hey aura" / "bye aura".
func New(opts ...Option) *Gate {
	g := &Gate{
		agentName:      DefaultAgentName,
		minWindowChars: DefaultMinWindowChars,
		window:         NewWindow(DefaultWindowSize),
		log:            slog.Default(),
	}
	g.phrases.Store(compilePhrases(DefaultWakePhrase, DefaultSleepPhrase))
	for _, o := range opts {
		o(g)
	}
	g.log = g.log.With("component", "gate")
	return g
}

// SetPhrases atomically swaps the literal wake/sleep phrase patterns.
func (g *Gate) SetPhrases(wake, sleep string) {
	g.phrases.Store(compilePhrases(wake, sleep))
	g.log.Info("gate phrases updated", "wake", wake, "sleep", sleep)
}

// Phrases returns the configured wake and sleep phrases.
func (g *Gate) Phrases() (wake, sleep string) {
	p := g.phrases.Load()
	return p.wake, p.sleep
}

// SetClassifierCooldown changes the classifier rate-limit window. No-op
// without a classifier.
func (g *Gate) SetClassifierCooldown(d time.Duration) {
	if g.classifier != nil {
		g.classifier.limiter.SetCooldown(d)
	}
}

// Window exposes the armed-state window for inspection.
func (g *Gate) Window() *Window { return g.window }

// Reset clears the armed-state window.
func (g *Gate) Reset() { g.window.Clear() }

// Evaluate classifies text in the given phase. It never returns an error:
// every failure collapses to the conservative default.
func (g *Gate) Evaluate(ctx context.Context, text string, phase Phase) Decision {
	d, matched := g.matchPatterns(text)
	if matched || !g.classifierFallback {
		return d
	}
	return g.classify(ctx, text, phase)
}

// classify runs the classifier tier for an utterance the patterns left
// unresolved.
func (g *Gate) classify(ctx context.Context, text string, phase Phase) Decision {
	d := defaultDecision()
	if g.classifier == nil {
		return d
	}

	if phase == PhaseArmed {
		g.window.Add(text)
		if joined := g.window.Joined(); len(joined) >= g.minWindowChars {
			v, tier := g.classifier.Classify(ctx, joined)
			g.window.MarkClassified(g.classifier.limiter.clock.Now())
			return classified(v, tier)
		}
		// Window still short: only the stop check runs, on this utterance.
		v, tier := g.classifier.Classify(ctx, text)
		return classified(Verdict{Stop: v.Stop}, tier)
	}

	v, tier := g.classifier.Classify(ctx, text)
	return classified(Verdict{Stop: v.Stop}, tier)
}

func classified(v Verdict, tier Tier) Decision {
	d := defaultDecision()
	d.Tier = tier
	if tier != TierClassifier {
		return d
	}
	d.Resolved = true
	if v.Stop {
		d.Stop = true
		return d
	}
	d.Wake = v.Wake
	return d
}
