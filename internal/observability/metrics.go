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
	ActiveSessions      prometheus.Gauge
	SessionEvents       *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	HistorySources      *prometheus.CounterVec
	HistoryTruncations  *prometheus.CounterVec
	HistoryTokens       prometheus.Histogram
	ModelErrors         *prometheus.CounterVec
	PromptBuildDuration prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer registers the instruments on reg, which lets tests
// use a private registry.
func NewMetricsWithRegisterer(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active assistant chat sessions.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		HistorySources: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_source_results_total",
			Help:      "History retrieval outcomes by source (recency, relevance) and outcome.",
		}, []string{"source", "outcome"}),
		HistoryTruncations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_truncations_total",
			Help:      "History truncations by level (entry, boundary, text).",
		}, []string{"level"}),
		HistoryTokens: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_tokens",
			Help:      "Estimated tokens of formatted history injected into prompts.",
			Buckets:   []float64{0, 100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}),
		ModelErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_errors_total",
			Help:      "Model call errors by provider and code.",
		}, []string{"provider", "code"}),
		PromptBuildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_build_latency_ms",
			Help:      "Latency to assemble a prompt including history retrieval, in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// ObserveSource counts one retrieval outcome for a history source.
func (m *Metrics) ObserveSource(source, outcome string) {
	if m == nil {
		return
	}
	m.HistorySources.WithLabelValues(source, outcome).Inc()
	m.stages.ObserveIndicator(source + "_" + outcome)
}

func (m *Metrics) ObserveTruncation(level string) {
	if m == nil {
		return
	}
	m.HistoryTruncations.WithLabelValues(level).Inc()
}

func (m *Metrics) ObserveHistoryTokens(tokens int) {
	if m == nil {
		return
	}
	m.HistoryTokens.Observe(float64(tokens))
}

func (m *Metrics) ObserveModelError(provider, code string) {
	if m == nil {
		return
	}
	m.ModelErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) ObservePromptBuild(d time.Duration) {
	if m == nil {
		return
	}
	m.PromptBuildDuration.Observe(float64(d.Milliseconds()))
	m.stages.Observe("prompt_build", durationMS(d))
}

// ObserveStage records the latency of one pipeline stage in the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, durationMS(d))
}

// StageSnapshot summarizes recent per-stage latencies.
func (m *Metrics) StageSnapshot() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.stages.Snapshot()
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
