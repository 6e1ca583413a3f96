// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "transcription_stream"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
	SessionsFailed  *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	DrainTimeouts   prometheus.Counter
	FallbacksTotal  *prometheus.CounterVec

	// Transcript metrics
	TranscriptsPartial *prometheus.CounterVec
	TranscriptsFinal   *prometheus.CounterVec

	// Audio metrics
	AudioBytesSent  prometheus.Counter
	AudioChunksSent prometheus.Counter

	// Relay metrics
	RelayDepth        prometheus.Histogram
	RelayBlockedTotal prometheus.Counter

	// Batch metrics
	BatchRequests *prometheus.CounterVec
	BatchLatency  *prometheus.HistogramVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// STT metrics
	STTErrors *prometheus.CounterVec

	// Transport metrics
	GRPCRequests *prometheus.CounterVec
	HTTPRequests *prometheus.CounterVec

	// Backpressure metrics
	StreamLimitExceeded *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of provider sessions started",
		}, []string{"provider", "mode"}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently open provider sessions",
		}),
		SessionsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of sessions that ended in the failed state",
		}, []string{"reason"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of provider sessions in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 900},
		}),
		DrainTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drain_timeouts_total",
			Help:      "Sessions force-closed after the drain timeout elapsed",
		}),
		FallbacksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mock_fallbacks_total",
			Help:      "Sessions served by the mock engine, by reason",
		}, []string{"reason"}),

		TranscriptsPartial: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of interim transcripts received",
		}, []string{"provider"}),
		TranscriptsFinal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcripts received",
		}, []string{"provider"}),

		AudioBytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Total audio bytes sent to providers",
		}),
		AudioChunksSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_sent_total",
			Help:      "Total audio chunks sent to providers",
		}),

		RelayDepth: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_queue_depth",
			Help:      "Relay queue depth observed after each publish",
			Buckets:   []float64{0, 1, 4, 16, 64, 128, 256, 1024},
		}),
		RelayBlockedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_blocked_publishes_total",
			Help:      "Publishes that waited on a full relay queue",
		}),

		BatchRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_requests_total",
			Help:      "Total batch transcription requests",
		}, []string{"provider", "outcome"}),
		BatchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_latency_seconds",
			Help:      "Batch transcription latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider"}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		STTErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),

		GRPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total gRPC calls handled",
		}, []string{"method", "code"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests handled",
		}, []string{"route", "code"}),

		StreamLimitExceeded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_limit_exceeded_total",
			Help:      "Total number of times stream limits were exceeded",
		}, []string{"limit_type"}),
	}
}

// RecordSessionStart records a provider session opening.
func (m *Metrics) RecordSessionStart(provider, mode string) {
	m.SessionsTotal.WithLabelValues(provider, mode).Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session reaching Closed or Failed.
func (m *Metrics) RecordSessionEnd(failReason string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
	if failReason != "" {
		m.SessionsFailed.WithLabelValues(failReason).Inc()
	}
}

func (m *Metrics) RecordDrainTimeout() {
	m.DrainTimeouts.Inc()
}

func (m *Metrics) RecordFallback(reason string) {
	m.FallbacksTotal.WithLabelValues(reason).Inc()
}

// RecordTranscript records an interim or final transcript received.
func (m *Metrics) RecordTranscript(provider string, final bool) {
	if final {
		m.TranscriptsFinal.WithLabelValues(provider).Inc()
		return
	}
	m.TranscriptsPartial.WithLabelValues(provider).Inc()
}

// RecordAudioSent records one chunk forwarded to a provider.
func (m *Metrics) RecordAudioSent(bytes int) {
	m.AudioBytesSent.Add(float64(bytes))
	m.AudioChunksSent.Inc()
}

// RecordRelayPublish records queue depth after a publish.
func (m *Metrics) RecordRelayPublish(depth int, blocked bool) {
	m.RelayDepth.Observe(float64(depth))
	if blocked {
		m.RelayBlockedTotal.Inc()
	}
}

// RecordBatch records a batch transcription attempt.
func (m *Metrics) RecordBatch(provider string, err error, latencySeconds float64) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.BatchRequests.WithLabelValues(provider, outcome).Inc()
	m.BatchLatency.WithLabelValues(provider).Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

func (m *Metrics) RecordGRPCRequest(method, code string) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
}

func (m *Metrics) RecordHTTPRequest(route, code string) {
	m.HTTPRequests.WithLabelValues(route, code).Inc()
}

// RecordLimitExceeded records when a stream limit is exceeded.
func (m *Metrics) RecordLimitExceeded(limitType string) {
	m.StreamLimitExceeded.WithLabelValues(limitType).Inc()
}
