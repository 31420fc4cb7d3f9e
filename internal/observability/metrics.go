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
	Turns          *prometheus.CounterVec
	StageLatency   *prometheus.HistogramVec
	BrainErrors    *prometheus.CounterVec
	StoreErrors    *prometheus.CounterVec
	Resonance      prometheus.Histogram
	Feedback       *prometheus.CounterVec
	Adaptations    *prometheus.CounterVec
	PendingSignals prometheus.Gauge
	ActiveSessions prometheus.Gauge
	SessionEvents  *prometheus.CounterVec
	WSMessages     *prometheus.CounterVec

	window *stageWindow
}

// NewMetrics registers instruments with the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers instruments with reg, so tests can use a private registry.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Orchestrated turns by outcome.",
		}, []string{"outcome"}),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_latency_ms",
			Help:      "Latency of each orchestration stage in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"stage"}),
		BrainErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "brain_errors_total",
			Help:      "Generative service errors by provider and code.",
		}, []string{"provider", "code"}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Document store errors by operation.",
		}, []string{"op"}),
		Resonance: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resonance_score",
			Help:      "Computed resonance scores.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		Feedback: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_total",
			Help:      "Explicit feedback by label.",
		}, []string{"label"}),
		Adaptations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adaptations_total",
			Help:      "Reinforce and flag side-effects.",
		}, []string{"kind"}),
		PendingSignals: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_signals",
			Help:      "Signals buffered in memory while the store is degraded.",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chat_sessions_active",
			Help:      "Open chat sessions.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_session_events_total",
			Help:      "Chat session lifecycle events.",
		}, []string{"event"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Websocket messages by direction and type.",
		}, []string{"direction", "type"}),
		window: newStageWindow(256),
	}
}

func (m *Metrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
	m.window.indicate(outcome)
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.StageLatency.WithLabelValues(stage).Observe(ms)
	m.window.observe(stage, ms)
}

// SnapshotStages returns recent per-stage latency percentiles and outcome counts.
func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}
	return m.window.snapshot()
}

func (m *Metrics) ObserveBrainError(provider, code string) {
	if m == nil {
		return
	}
	m.BrainErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) ObserveStoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveResonance(v float64) {
	if m == nil {
		return
	}
	m.Resonance.Observe(v)
}

func (m *Metrics) ObserveFeedback(label string) {
	if m == nil {
		return
	}
	m.Feedback.WithLabelValues(label).Inc()
}

func (m *Metrics) ObserveAdaptation(kind string) {
	if m == nil {
		return
	}
	m.Adaptations.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingSignals.Set(float64(n))
}

func (m *Metrics) ObserveSession(event string, active int) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
	m.ActiveSessions.Set(float64(active))
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
