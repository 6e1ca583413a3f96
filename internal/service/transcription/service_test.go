package transcription

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"transcription-stream-service/internal/models"
	"transcription-stream-service/internal/observability/metrics"
	"transcription-stream-service/internal/service/audio"
	"transcription-stream-service/internal/service/format"
	"transcription-stream-service/internal/service/relay"
	"transcription-stream-service/internal/service/stt"
	"transcription-stream-service/internal/service/stt/deepgram"
	"transcription-stream-service/internal/service/stt/mock"
)

const oneSecondLinear16 = 32000

func deepgramAt(serverURL string) *deepgram.Provider {
	cfg := deepgram.DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.BatchURL = serverURL
	cfg.StreamURL = "ws" + strings.TrimPrefix(serverURL, "http")
	cfg.KeepAlive = 0
	return deepgram.NewProvider(cfg)
}

// unreachable fails the test if any request reaches it.
func unreachable(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected backend request: %s %s", r.Method, r.URL)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestService(opts Options) (*Service, *metrics.Metrics) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	opts.Metrics = m
	if opts.DrainTimeout == 0 {
		opts.DrainTimeout = time.Second
	}
	return NewService(opts), m
}

func collect(t *testing.T, st *Stream) []relay.Event {
	t.Helper()
	var out []relay.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-st.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("stream did not end; events so far: %v", out)
		}
	}
}

func writeWAV(t *testing.T, seconds int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.wav")
	data := audio.EncodeWAV(make([]byte, seconds*oneSecondLinear16), 16000, 1)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func TestIsPlaceholder(t *testing.T) {
	tests := []struct {
		credential string
		want       bool
	}{
		{"", true},
		{"   ", true},
		{"your_deepgram_api_key_here", true},
		{"YOUR_API_KEY_HERE", true},
		{" changeme ", true},
		{"dg_live_8f2c", false},
		{"changeme-later", false},
	}
	for _, tt := range tests {
		if got := IsPlaceholder(tt.credential); got != tt.want {
			t.Errorf("IsPlaceholder(%q) = %v, want %v", tt.credential, got, tt.want)
		}
	}
}

func TestNewService_EngineSelection(t *testing.T) {
	server := unreachable(t)
	tests := []struct {
		name     string
		opts     Options
		mode     string
		provider string
	}{
		{"real", Options{Provider: deepgramAt(server.URL), Credential: "dg_live_8f2c"}, ModeReal, deepgram.Name},
		{"placeholder", Options{Provider: deepgramAt(server.URL), Credential: "changeme"}, ModeMock, mock.Name},
		{"forced", Options{Provider: deepgramAt(server.URL), Credential: "dg_live_8f2c", ForceMock: true}, ModeMock, mock.Name},
		{"no provider", Options{Credential: "dg_live_8f2c"}, ModeMock, mock.Name},
		{"mock provider", Options{Provider: mock.NewProvider(), Credential: "dg_live_8f2c"}, ModeMock, mock.Name},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestService(tt.opts)
			if s.Mode() != tt.mode || s.ProviderName() != tt.provider {
				t.Errorf("engine = %s/%s, want %s/%s", s.Mode(), s.ProviderName(), tt.mode, tt.provider)
			}
		})
	}
}

func TestTranscribeStream_PlaceholderCredential(t *testing.T) {
	server := unreachable(t)
	s, m := newTestService(Options{Provider: deepgramAt(server.URL), Credential: "your_deepgram_api_key_here"})

	st, err := s.TranscribeStream(context.Background(), models.AudioFormat{}, "")
	if err != nil {
		t.Fatalf("TranscribeStream() error = %v", err)
	}
	if st.Mode() != ModeMock || st.Provider() != mock.Name || st.ID() == "" {
		t.Errorf("stream = %s/%s/%q", st.Mode(), st.Provider(), st.ID())
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := st.Send(ctx, make([]byte, oneSecondLinear16)); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	if err := st.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	events := collect(t, st)
	if len(events) < 4 {
		t.Fatalf("got %d events, want at least 4: %v", len(events), events)
	}
	if events[0].Kind != relay.KindConnected || events[1].Kind != relay.KindStarted {
		t.Errorf("stream opened with %v, %v", events[0], events[1])
	}
	for _, ev := range events[2 : len(events)-1] {
		if ev.Kind != relay.KindTranscript {
			t.Errorf("unexpected mid-stream event %v", ev)
		}
		if ev.Segment.Confidence != mock.SyntheticConfidence {
			t.Errorf("confidence = %v", ev.Segment.Confidence)
		}
	}
	if last := events[len(events)-1]; last.Kind != relay.KindClosed {
		t.Errorf("last event = %v, want closed", last)
	}
	if got := testutil.ToFloat64(m.FallbacksTotal.WithLabelValues("credential")); got != 1 {
		t.Errorf("credential fallbacks = %v, want 1", got)
	}
}

func TestTranscribeStream_FallbackOnConnectFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	t.Run("enabled", func(t *testing.T) {
		s, m := newTestService(Options{Provider: deepgramAt(server.URL), Credential: "revoked-key", FallbackOnConnectFailure: true})
		if s.Mode() != ModeReal {
			t.Fatalf("service mode = %s, want real", s.Mode())
		}
		st, err := s.TranscribeStream(context.Background(), models.AudioFormat{}, "")
		if err != nil {
			t.Fatalf("TranscribeStream() error = %v", err)
		}
		if st.Mode() != ModeMock || st.Provider() != mock.Name {
			t.Errorf("stream = %s/%s, want mock", st.Mode(), st.Provider())
		}
		_ = st.Stop(context.Background())
		events := collect(t, st)
		if events[0].Kind != relay.KindConnected || events[len(events)-1].Kind != relay.KindClosed {
			t.Errorf("events = %v", events)
		}
		if got := testutil.ToFloat64(m.FallbacksTotal.WithLabelValues("authentication")); got != 1 {
			t.Errorf("authentication fallbacks = %v, want 1", got)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		s, _ := newTestService(Options{Provider: deepgramAt(server.URL), Credential: "revoked-key"})
		_, err := s.TranscribeStream(context.Background(), models.AudioFormat{}, "")
		if !errors.Is(err, stt.ErrAuthenticationFailed) {
			t.Errorf("TranscribeStream() error = %v, want authentication failure", err)
		}
	})
}

func TestTranscribeStream_UnsupportedFormat(t *testing.T) {
	s, _ := newTestService(Options{ForceMock: true})
	_, err := s.TranscribeStream(context.Background(), models.AudioFormat{ContainerMimetype: "video/x-msvideo"}, "")
	if !errors.Is(err, format.ErrUnsupportedFormat) {
		t.Errorf("TranscribeStream() error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestTranscribeStream_NegotiatedDefaults(t *testing.T) {
	s, _ := newTestService(Options{ForceMock: true})
	st, err := s.TranscribeStream(context.Background(), models.AudioFormat{}, "")
	if err != nil {
		t.Fatalf("TranscribeStream() error = %v", err)
	}
	defer collect(t, st)
	defer st.Stop(context.Background())

	want := models.AudioFormat{Encoding: models.EncodingLinear16, SampleRateHz: 16000, Channels: 1, ContainerMimetype: "audio/raw"}
	if st.Format() != want {
		t.Errorf("Format() = %+v, want %+v", st.Format(), want)
	}
}

func TestStream_DoubleStopOneClosed(t *testing.T) {
	s, _ := newTestService(Options{ForceMock: true})
	st, err := s.TranscribeStream(context.Background(), models.AudioFormat{}, "")
	if err != nil {
		t.Fatalf("TranscribeStream() error = %v", err)
	}
	_ = st.Stop(context.Background())
	_ = st.Stop(context.Background())

	closed := 0
	for _, ev := range collect(t, st) {
		if ev.Kind == relay.KindClosed {
			closed++
		}
		if ev.Kind == relay.KindError {
			t.Errorf("unexpected error event %v", ev)
		}
	}
	if closed != 1 {
		t.Errorf("got %d Closed events, want 1", closed)
	}
}

func TestStream_LimitExceeded(t *testing.T) {
	s, m := newTestService(Options{ForceMock: true, Limits: Limits{MaxAudioBytes: 1000}})
	st, err := s.TranscribeStream(context.Background(), models.AudioFormat{}, "")
	if err != nil {
		t.Fatalf("TranscribeStream() error = %v", err)
	}

	ctx := context.Background()
	if err := st.Send(ctx, make([]byte, 600)); err != nil {
		t.Fatalf("first Send() error = %v", err)
	}
	if err := st.Send(ctx, make([]byte, 600)); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("second Send() error = %v, want ErrLimitExceeded", err)
	}
	if err := st.Send(ctx, make([]byte, 1)); !errors.Is(err, ErrLimitExceeded) {
		t.Errorf("Send() after limit = %v, want ErrLimitExceeded", err)
	}

	events := collect(t, st)
	if last := events[len(events)-1]; last.Kind != relay.KindClosed {
		t.Errorf("last event = %v, want closed", last)
	}
	if got := testutil.ToFloat64(m.StreamLimitExceeded.WithLabelValues("audio_bytes")); got != 1 {
		t.Errorf("limit metric = %v, want 1", got)
	}
}

func TestStream_ContextCancelEndsStream(t *testing.T) {
	s, _ := newTestService(Options{ForceMock: true})
	ctx, cancel := context.WithCancel(context.Background())
	st, err := s.TranscribeStream(ctx, models.AudioFormat{}, "")
	if err != nil {
		t.Fatalf("TranscribeStream() error = %v", err)
	}
	_ = st.Send(context.Background(), make([]byte, 3*oneSecondLinear16))
	cancel()

	select {
	case <-st.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled stream did not finish")
	}
	for ev := range st.Events() {
		if ev.Kind == relay.KindError {
			t.Errorf("cancelled stream produced %v", ev)
		}
	}
}

func TestTranscribeFile_MockMakesNoRequests(t *testing.T) {
	server := unreachable(t)
	s, _ := newTestService(Options{Provider: deepgramAt(server.URL), Credential: ""})

	segs, err := s.TranscribeFile(context.Background(), writeWAV(t, 6), models.AudioFormat{})
	if err != nil {
		t.Fatalf("TranscribeFile() error = %v", err)
	}
	if len(segs) != len(mock.BatchUtterances) {
		t.Fatalf("got %d segments, want %d", len(segs), len(mock.BatchUtterances))
	}
	prev := 0.0
	for i, seg := range segs {
		if !seg.IsFinal || seg.StartTimeS < prev {
			t.Errorf("segment %d = %+v", i, seg)
		}
		prev = seg.StartTimeS
	}
	if segs[len(segs)-1].EndTimeS != 6 {
		t.Errorf("segments span %v s, want 6", segs[len(segs)-1].EndTimeS)
	}
}

func TestTranscribeFile_DeepgramBatch(t *testing.T) {
	var contentType string
	var bodyLen int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		bodyLen = len(body)
		_, _ = io.WriteString(w, `{"results":{"utterances":[
			{"transcript":"It's so tiny.","confidence":0.94,"start":4.1,"end":5.0},
			{"transcript":"Is there any way of getting more?","confidence":0.97,"start":0.3,"end":3.8}
		]}}`)
	}))
	defer server.Close()

	s, m := newTestService(Options{Provider: deepgramAt(server.URL), Credential: "dg_live_8f2c"})
	path := writeWAV(t, 1)
	segs, err := s.TranscribeFile(context.Background(), path, models.AudioFormat{})
	if err != nil {
		t.Fatalf("TranscribeFile() error = %v", err)
	}
	if contentType != "audio/wav" {
		t.Errorf("Content-Type = %q, want audio/wav", contentType)
	}
	if bodyLen != audio.MinWAVSize+oneSecondLinear16 {
		t.Errorf("uploaded %d bytes", bodyLen)
	}
	if len(segs) != 2 || segs[0].StartTimeS != 0.3 || segs[1].Text != "It's so tiny." {
		t.Errorf("segments = %+v", segs)
	}
	if got := testutil.ToFloat64(m.BatchRequests.WithLabelValues(deepgram.Name, "success")); got != 1 {
		t.Errorf("batch success metric = %v, want 1", got)
	}
}

func TestTranscribeFile_BatchFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	s, _ := newTestService(Options{Provider: deepgramAt(server.URL), Credential: "dg_live_8f2c", FallbackOnConnectFailure: true})
	segs, err := s.TranscribeFile(context.Background(), writeWAV(t, 3), models.AudioFormat{})
	if err != nil {
		t.Fatalf("TranscribeFile() error = %v", err)
	}
	if len(segs) != len(mock.BatchUtterances) {
		t.Errorf("got %d segments, want canned mock output", len(segs))
	}
}

func TestTranscribeFile_Errors(t *testing.T) {
	s, _ := newTestService(Options{ForceMock: true})

	if _, err := s.TranscribeFile(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), models.AudioFormat{}); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.wav")
	_ = os.WriteFile(bad, append([]byte("RIFF\x00\x00\x00\x00WAVE"), make([]byte, 40)...), 0o600)
	if _, err := s.TranscribeFile(context.Background(), bad, models.AudioFormat{}); !errors.Is(err, format.ErrUnsupportedFormat) {
		t.Errorf("invalid WAV error = %v, want ErrUnsupportedFormat", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.TranscribeFile(ctx, writeWAV(t, 1), models.AudioFormat{}); !errors.Is(err, ErrCancelled) {
		t.Errorf("cancelled error = %v, want ErrCancelled", err)
	}
}

func TestTranscribeBytes_UsesNameHint(t *testing.T) {
	s, _ := newTestService(Options{ForceMock: true})

	segs, err := s.TranscribeBytes(context.Background(), make([]byte, 2*oneSecondLinear16), models.AudioFormat{}, "audio/l16")
	if err != nil {
		t.Fatalf("TranscribeBytes() error = %v", err)
	}
	if got := segs[len(segs)-1].EndTimeS; got < 1.99 || got > 2.01 {
		t.Errorf("raw duration = %v, want 2", got)
	}

	_, err = s.TranscribeBytes(context.Background(), []byte("not audio"), models.AudioFormat{ContainerMimetype: "video/x-msvideo"}, "clip.avi")
	if !errors.Is(err, format.ErrUnsupportedFormat) {
		t.Errorf("unknown container error = %v, want ErrUnsupportedFormat", err)
	}
}

// stalledDeepgram accepts the stream handshake and never reads audio.
func stalledDeepgram(t *testing.T) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })
	return server
}

// pump sends 64KiB chunks until Send fails or the deadline passes.
func pump(st *Stream, d time.Duration) <-chan error {
	out := make(chan error, 1)
	go func() {
		chunk := make([]byte, 64*1024)
		deadline := time.Now().Add(d)
		for time.Now().Before(deadline) {
			if err := st.Send(context.Background(), chunk); err != nil {
				out <- err
				return
			}
		}
		out <- nil
	}()
	return out
}

func TestStream_StopBoundedWhenBackendStopsReading(t *testing.T) {
	server := stalledDeepgram(t)
	s, m := newTestService(Options{
		Provider:      deepgramAt(server.URL),
		Credential:    "test-key",
		DrainTimeout:  200 * time.Millisecond,
		RelayCapacity: 16,
	})
	st, err := s.TranscribeStream(context.Background(), models.AudioFormat{}, "")
	if err != nil {
		t.Fatalf("TranscribeStream() error = %v", err)
	}
	if st.Mode() != ModeReal {
		t.Fatalf("stream mode = %s, want real", st.Mode())
	}

	sent := pump(st, 1500*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	go func() { _ = st.Stop(context.Background()) }()

	done := make(chan []relay.Event, 1)
	go func() {
		var out []relay.Event
		for ev := range st.Events() {
			out = append(out, ev)
		}
		done <- out
	}()

	select {
	case events := <-done:
		if last := events[len(events)-1]; last.Kind != relay.KindClosed {
			t.Errorf("last event = %v, want closed", last)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no terminal event after Stop against a backend that never reads")
	}
	select {
	case <-sent:
	case <-time.After(3 * time.Second):
		t.Fatal("Send still blocked after the stream closed")
	}
	if got := testutil.ToFloat64(m.DrainTimeouts); got != 1 {
		t.Errorf("drain timeouts = %v, want 1", got)
	}
}

func TestStream_CancelBoundedWhenBackendStopsReading(t *testing.T) {
	server := stalledDeepgram(t)
	s, _ := newTestService(Options{
		Provider:     deepgramAt(server.URL),
		Credential:   "test-key",
		DrainTimeout: time.Minute,
	})
	ctx, cancel := context.WithCancel(context.Background())
	st, err := s.TranscribeStream(ctx, models.AudioFormat{}, "")
	if err != nil {
		t.Fatalf("TranscribeStream() error = %v", err)
	}

	sent := pump(st, 1500*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case <-st.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("cancelled stream did not finish while Send was blocked")
	}
	select {
	case <-sent:
	case <-time.After(3 * time.Second):
		t.Fatal("Send still blocked after cancel")
	}
}
