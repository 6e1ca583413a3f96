package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSessionLifecycleMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordSessionStart("deepgram", "real")
	m.RecordSessionStart("mock", "mock")
	if got := testutil.ToFloat64(m.SessionsActive); got != 2 {
		t.Fatalf("SessionsActive = %v, want 2", got)
	}

	m.RecordSessionEnd("", 1.5)
	m.RecordSessionEnd("transport", 0.2)

	if got := testutil.ToFloat64(m.SessionsActive); got != 0 {
		t.Errorf("SessionsActive = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.SessionsFailed.WithLabelValues("transport")); got != 1 {
		t.Errorf("SessionsFailed{transport} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionsTotal.WithLabelValues("deepgram", "real")); got != 1 {
		t.Errorf("SessionsTotal{deepgram,real} = %v, want 1", got)
	}
}

func TestRecordTranscript(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordTranscript("deepgram", false)
	m.RecordTranscript("deepgram", false)
	m.RecordTranscript("deepgram", true)

	if got := testutil.ToFloat64(m.TranscriptsPartial.WithLabelValues("deepgram")); got != 2 {
		t.Errorf("partial = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TranscriptsFinal.WithLabelValues("deepgram")); got != 1 {
		t.Errorf("final = %v, want 1", got)
	}
}

func TestRecordBatch(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordBatch("mock", nil, 0.01)
	m.RecordBatch("mock", errors.New("x"), 0.01)

	if got := testutil.ToFloat64(m.BatchRequests.WithLabelValues("mock", "success")); got != 1 {
		t.Errorf("success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BatchRequests.WithLabelValues("mock", "error")); got != 1 {
		t.Errorf("error = %v, want 1", got)
	}
}

func TestRecordAudioSent(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordAudioSent(1024)
	m.RecordAudioSent(512)

	if got := testutil.ToFloat64(m.AudioBytesSent); got != 1536 {
		t.Errorf("AudioBytesSent = %v, want 1536", got)
	}
	if got := testutil.ToFloat64(m.AudioChunksSent); got != 2 {
		t.Errorf("AudioChunksSent = %v, want 2", got)
	}
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	// Two instances on separate registries must not collide.
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())
	a.RecordFallback("placeholder_credential")
	if got := testutil.ToFloat64(b.FallbacksTotal.WithLabelValues("placeholder_credential")); got != 0 {
		t.Errorf("registries leaked: %v", got)
	}
}
