package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	SessionsStarted    prometheus.Counter
	SessionEvents      *prometheus.CounterVec
	Turns              *prometheus.CounterVec
	GenerationAttempts *prometheus.CounterVec
	Fallbacks          *prometheus.CounterVec
	SafetyViolations   *prometheus.CounterVec
	RateLimitDecisions *prometheus.CounterVec
	GenerationLatency  prometheus.Histogram
}

// NewMetrics registers the instruments with reg, or the default registry when reg is nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Story sessions started.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Persisted story turns by phase.",
		}, []string{"phase"}),
		GenerationAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_attempts_total",
			Help:      "Generation attempts by backend and outcome.",
		}, []string{"backend", "outcome"}),
		Fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Fallback scenes served by reason.",
		}, []string{"reason"}),
		SafetyViolations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "safety_violations_total",
			Help:      "Safety violations by kind, severity and direction.",
		}, []string{"kind", "severity", "direction"}),
		RateLimitDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limit decisions by endpoint and result.",
		}, []string{"endpoint", "result"}),
		GenerationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_ms",
			Help:      "Latency of a single generation attempt in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
	}
}

func (m *Metrics) ObserveSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.SessionEvents.WithLabelValues("started").Inc()
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveTurn(phase string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(phase).Inc()
}

func (m *Metrics) ObserveGeneration(backend, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationAttempts.WithLabelValues(backend, outcome).Inc()
	m.GenerationLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveFallback(reason string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveViolation(kind, severity, direction string) {
	if m == nil {
		return
	}
	m.SafetyViolations.WithLabelValues(kind, severity, direction).Inc()
}

func (m *Metrics) ObserveRateLimit(endpoint string, allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.RateLimitDecisions.WithLabelValues(endpoint, result).Inc()
}

// MetricsHandler serves gatherer, or the default gatherer when nil.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
