// Package observe holds Aura's observability plumbing: OpenTelemetry
// instruments for the voice pipeline, span helpers, trace-aware logging and
// the HTTP middleware that ties them together.
//
// Instruments are created against whatever [metric.MeterProvider] the caller
// passes to [NewMetrics]. [InitProvider] installs the Prometheus bridge that
// serves them on /metrics; tests build their own provider so they never share
// instruments.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/yalda00/nexhacks-aura2.0"

// Turn outcomes recorded on [Metrics.Turns].
const (
	OutcomeSpoken   = "spoken"
	OutcomeEmpty    = "empty"
	OutcomeExternal = "external"
	OutcomeError    = "error"
)

// Metrics holds the gateway's instruments. Durations are in seconds.
type Metrics struct {
	// Per-stage latency.
	STTDuration     metric.Float64Histogram
	LLMDuration     metric.Float64Histogram
	TTSDuration     metric.Float64Histogram
	PlayoutDuration metric.Float64Histogram

	// ProviderRequests is labelled provider, kind and status;
	// ProviderErrors only provider and kind.
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by provider
	// and target state.
	BreakerTransitions metric.Int64Counter

	Turns            metric.Int64Counter // by outcome
	GateDecisions    metric.Int64Counter // by tier and verdict
	StateTransitions metric.Int64Counter // by target state

	// BridgeClients is the number of connected bridge WebSocket clients.
	BridgeClients metric.Int64UpDownCounter

	// HTTPRequestDuration is labelled method, route and status.
	HTTPRequestDuration metric.Float64Histogram
}

// stageBuckets cover a voice turn's stages, from a fast local classifier
// call to a long reply playing out.
var stageBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// NewMetrics creates every instrument on mp's meter.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}

	var errs []error
	seconds := func(dst *metric.Float64Histogram, name, desc string, buckets ...float64) {
		opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
		if len(buckets) > 0 {
			opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
		}
		var err error
		*dst, err = meter.Float64Histogram(name, opts...)
		errs = append(errs, err)
	}
	count := func(dst *metric.Int64Counter, name, desc string) {
		var err error
		*dst, err = meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
	}

	seconds(&m.STTDuration, "aura.stt.duration", "Speech-to-text latency per utterance.", stageBuckets...)
	seconds(&m.LLMDuration, "aura.llm.duration", "Reasoning latency per reply.", stageBuckets...)
	seconds(&m.TTSDuration, "aura.tts.duration", "Text-to-speech synthesis latency.", stageBuckets...)
	seconds(&m.PlayoutDuration, "aura.egress.playout.duration", "Time a reply spent playing on the egress track.", stageBuckets...)
	seconds(&m.HTTPRequestDuration, "aura.http.request.duration", "HTTP request latency by method, route and status.")

	count(&m.ProviderRequests, "aura.provider.requests", "Provider calls by provider, kind and status.")
	count(&m.ProviderErrors, "aura.provider.errors", "Failed provider calls by provider and kind.")
	count(&m.BreakerTransitions, "aura.breaker.transitions", "Circuit breaker state changes by provider and state.")
	count(&m.Turns, "aura.turns", "Finished dialogue turns by outcome.")
	count(&m.GateDecisions, "aura.gate.decisions", "Wake/stop gate decisions by tier and verdict.")
	count(&m.StateTransitions, "aura.state.transitions", "Pipeline state changes by target state.")

	var err error
	m.BridgeClients, err = meter.Int64UpDownCounter("aura.bridge.clients",
		metric.WithDescription("Connected bridge clients."))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] on the global meter
// provider, created on first use. Call it after [InitProvider] so the
// instruments reach the Prometheus exporter.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordBreakerTransition counts provider's breaker moving into state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("state", state),
	))
}

// RecordTurn counts a finished turn; outcome is one of the Outcome constants.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordGateDecision counts a gate decision. verdict is "wake", "stop" or
// "none".
func (m *Metrics) RecordGateDecision(ctx context.Context, tier, verdict string) {
	m.GateDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("verdict", verdict),
	))
}

func (m *Metrics) RecordStateTransition(ctx context.Context, state string) {
	m.StateTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}
