package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ent0n29/vaani/internal/reliability"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec
	ProviderErrors  *prometheus.CounterVec
	BridgeRequests  *prometheus.CounterVec
	BridgeLatency   prometheus.Histogram
	Generations     *prometheus.CounterVec
	StageLatency    *prometheus.HistogramVec
	FirstAudioDelay prometheus.Histogram

	voice *VoiceTracker
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active voice client sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		BridgeRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_requests_total",
			Help:      "Worker bridge requests by outcome.",
		}, []string{"outcome"}),
		BridgeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bridge_request_duration_seconds",
			Help:      "Worker bridge request latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		Generations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Generations by kind and the path that served them.",
		}, []string{"kind", "path"}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "voice_stage_duration_seconds",
			Help:      "Voice session stage latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		}, []string{"stage"}),
		FirstAudioDelay: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from end of speech to first assistant audio in milliseconds.",
			Buckets:   []float64{300, 500, 1000, 2000, 3000, 5000, 8000, 12000},
		}),
		voice: NewVoiceTracker(256),
	}
}

func (m *Metrics) ObserveBridgeRequest(outcome string, elapsed time.Duration) {
	m.BridgeRequests.WithLabelValues(outcome).Inc()
	m.BridgeLatency.Observe(elapsed.Seconds())
	m.voice.ObserveBridge(outcome, elapsed)
}

func (m *Metrics) ObserveGeneration(kind, path string) {
	m.Generations.WithLabelValues(kind, path).Inc()
	m.voice.ObserveGeneration(kind, path)
}

// ObserveStage records a voice stage in both the histogram and the rolling
// window served by /v1/voice/stats.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
	m.voice.ObserveStage(VoiceStage(stage), d)
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	m.FirstAudioDelay.Observe(float64(d.Milliseconds()))
	m.voice.ObserveStage(StageFirstAudio, d)
}

// ObserveProviderError counts err under its classified code. Nil and
// cancellation are not errors.
func (m *Metrics) ObserveProviderError(provider string, err error) {
	code := reliability.Classify(err)
	if code == "ok" || code == "canceled" {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
	m.voice.ObserveProviderError(provider, code)
}

func (m *Metrics) VoiceStats() VoiceStats {
	return m.voice.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
