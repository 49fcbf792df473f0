package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics for the relay
type Metrics struct {
	Registry *prometheus.Registry

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	ConnectFailures prometheus.Counter

	// Audio metrics
	AudioBytesIn   prometheus.Counter
	AudioChunksIn  prometheus.Counter
	AudioSendFails prometheus.Counter

	// Upstream metrics
	UpstreamEvents *prometheus.CounterVec
	Commits        *prometheus.CounterVec

	// Downstream metrics
	DownstreamTurns   *prometheus.CounterVec
	DownstreamLatency prometheus.Histogram
	TTSBytesOut       prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates the metrics on a dedicated registry that also carries
// the Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Current number of active client sessions",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_started_total",
			Help: "Total number of client sessions accepted",
		}),
		ConnectFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_realtime_connect_failures_total",
			Help: "Total number of failed upstream handshakes",
		}),

		AudioBytesIn: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_audio_bytes_in_total",
			Help: "Total PCM bytes received from clients",
		}),
		AudioChunksIn: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_audio_chunks_in_total",
			Help: "Total audio chunks received from clients",
		}),
		AudioSendFails: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_audio_send_failures_total",
			Help: "Total audio chunks that could not be forwarded upstream",
		}),

		UpstreamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_upstream_events_total",
			Help: "Total upstream events received, by event type",
		}, []string{"type"}),
		Commits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_commits_total",
			Help: "Total buffer commits issued, by result",
		}, []string{"result"}),

		DownstreamTurns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_downstream_turns_total",
			Help: "Total response/speech turns, by result",
		}, []string{"result"}),
		DownstreamLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_downstream_turn_seconds",
			Help:    "Time from final transcript to last synthesized audio chunk",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		TTSBytesOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_tts_bytes_out_total",
			Help: "Total synthesized audio bytes sent to clients",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests, by method, route and status code",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration, by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration float64) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(duration)
}
