package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	UpstreamEvents    *prometheus.CounterVec
	ToolInvocations   *prometheus.CounterVec
	VoiceFallbacks    prometheus.Counter
	ReadbackFallbacks prometheus.Counter
	OutboundDropped   prometheus.Counter
	FirstAudioLatency prometheus.Histogram

	latency *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of relay sessions registered under an upstream session id.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Relay lifecycle events by type.",
		}, []string{"event"}),
		UpstreamEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_events_total",
			Help:      "Inbound upstream events by type.",
		}, []string{"type"}),
		ToolInvocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Tool registry invocations by tool and result.",
		}, []string{"tool", "result"}),
		VoiceFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_fallbacks_total",
			Help:      "Voice profile switches after a synthesis failure.",
		}),
		ReadbackFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readback_fallbacks_total",
			Help:      "Email readbacks retried as plain spelling after markup was rejected.",
		}),
		OutboundDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_audio_dropped_total",
			Help:      "Audio appends dropped because the outbound queue was full.",
		}),
		FirstAudioLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from response request to first assistant audio chunk in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000},
		}),
		latency: newLatencyWindow(256),
	}
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) IncSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) IncUpstreamEvent(eventType string) {
	if m == nil {
		return
	}
	m.UpstreamEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncToolInvocation(tool, result string) {
	if m == nil {
		return
	}
	m.ToolInvocations.WithLabelValues(tool, result).Inc()
}

func (m *Metrics) IncVoiceFallback() {
	if m == nil {
		return
	}
	m.VoiceFallbacks.Inc()
	m.latency.ObserveIndicator("voice_fallback")
}

func (m *Metrics) IncReadbackFallback() {
	if m == nil {
		return
	}
	m.ReadbackFallbacks.Inc()
	m.latency.ObserveIndicator("readback_fallback")
}

func (m *Metrics) IncOutboundDropped() {
	if m == nil {
		return
	}
	m.OutboundDropped.Inc()
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
	m.latency.Observe(StageResponseToFirstAudio, float64(d.Microseconds())/1000)
}

// ObserveStage records one sample for a relay latency stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) SnapshotLatency() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}
	return m.latency.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
