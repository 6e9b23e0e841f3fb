package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/llm"
)

// DefaultCooldown is the minimum spacing between classifier calls.
const DefaultCooldown = 2 * time.Second

// Clock supplies the current time to the rate limiter.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// RateLimiter admits at most one call per cooldown window. The zero value is
// not usable; call [NewRateLimiter].
type RateLimiter struct {
	clock Clock

	mu       sync.Mutex
	cooldown time.Duration
	last     time.Time
	used     bool
}

// NewRateLimiter creates a limiter. A non-positive cooldown selects
// DefaultCooldown; a nil clock selects SystemClock.
func NewRateLimiter(cooldown time.Duration, clock Clock) *RateLimiter {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &RateLimiter{clock: clock, cooldown: cooldown}
}

// Allow reports whether a call may proceed now and, if so, reserves the slot.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	if r.used && now.Sub(r.last) < r.cooldown {
		return false
	}
	r.last, r.used = now, true
	return true
}

// SetCooldown changes the window; a non-positive value selects DefaultCooldown.
func (r *RateLimiter) SetCooldown(d time.Duration) {
	if d <= 0 {
		d = DefaultCooldown
	}
	r.mu.Lock()
	r.cooldown = d
	r.mu.Unlock()
}

// Cooldown returns the current window.
func (r *RateLimiter) Cooldown() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cooldown
}

// Classifier asks an LLM whether an utterance wakes or stops the agent.
type Classifier struct {
	provider  llm.Provider
	agentName string
	limiter   *RateLimiter
	timeout   time.Duration
	log       *slog.Logger
}

// ClassifierOption configures a [Classifier].
type ClassifierOption func(*Classifier)

// WithClassifierAgentName sets the agent name used in the prompt. Default "Aura".
func WithClassifierAgentName(name string) ClassifierOption {
	return func(c *Classifier) {
		if name != "" {
			c.agentName = name
		}
	}
}

// WithRateLimiter replaces the default 2 s limiter on the system clock.
func WithRateLimiter(r *RateLimiter) ClassifierOption {
	return func(c *Classifier) { c.limiter = r }
}

// WithClassifierTimeout bounds each classifier call. Default 5 s.
func WithClassifierTimeout(d time.Duration) ClassifierOption {
	return func(c *Classifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClassifierLogger sets the logger.
func WithClassifierLogger(l *slog.Logger) ClassifierOption {
	return func(c *Classifier) { c.log = l }
}

// NewClassifier wraps p as a wake/stop classifier.
func NewClassifier(p llm.Provider, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		provider:  p,
		agentName: "Aura",
		timeout:   5 * time.Second,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.limiter == nil {
		c.limiter = NewRateLimiter(DefaultCooldown, nil)
	}
	return c
}

// Limiter returns the classifier's rate limiter.
func (c *Classifier) Limiter() *RateLimiter { return c.limiter }

// Classify returns the verdict for text and the tier that produced it:
// TierClassifier when the model answered, TierDefault (with a zero verdict)
// on cooldown or failure.
func (c *Classifier) Classify(ctx context.Context, text string) (Verdict, Tier) {
	if !c.limiter.Allow() {
		c.log.Debug("classifier rate limited, using default")
		return Verdict{}, TierDefault
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.provider.Complete(ctx, llm.Request{
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: c.prompt(text)}},
		JSONResponse: true,
	})
	if err != nil {
		c.log.Warn("classifier call failed, using default", "err", err)
		return Verdict{}, TierDefault
	}
	if resp == nil || resp.Content == "" {
		return Verdict{}, TierDefault
	}
	return ExtractVerdict(resp.Content), TierClassifier
}

func (c *Classifier) prompt(text string) string {
	return fmt.Sprintf(`You are a strict JSON classifier for a voice assistant named %[1]q.

Return ONLY valid JSON with this schema:
{"wake": boolean, "stop": boolean}

Rules:
- wake=true if the user is clearly addressing %[1]s (examples: "hey %[1]s", "hi %[1]s", "%[1]s", "yo %[1]s", "ok %[1]s", and likely mis-hearings of the name).
- stop=true if the user is clearly ending the interaction (examples: "stop %[1]s", "bye %[1]s", "that's all %[1]s", "cancel", "nevermind", "shut up %[1]s").
- If both appear, set both true.
- If neither appears, set both false.

Text:
"""%[2]s"""`, c.agentName, text)
}

// objectSpan matches from the first '{' to the last '}'.
var objectSpan = regexp.MustCompile(`\{[\s\S]*\}`)

// ExtractVerdict parses a model reply best-effort. It takes the span from the
// first '{' to the last '}', decodes it (repairing malformed JSON when plain
// decoding hits a syntax error) and reads the boolean "wake" and "stop"
// fields. Missing or non-boolean fields are false; anything unparseable
// yields the zero Verdict.
func ExtractVerdict(raw string) Verdict {
	obj := objectSpan.FindString(raw)
	if obj == "" {
		return Verdict{}
	}

	var fields map[string]any
	err := json.Unmarshal([]byte(obj), &fields)
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		repaired, rerr := jsonrepair.JSONRepair(obj)
		if rerr != nil {
			return Verdict{}
		}
		fields = nil
		err = json.Unmarshal([]byte(repaired), &fields)
	}
	if err != nil {
		return Verdict{}
	}

	wake, _ := fields["wake"].(bool)
	stop, _ := fields["stop"].(bool)
	return Verdict{Wake: wake, Stop: stop}
}
