package http

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"transcription-stream-service/internal/app"
	"transcription-stream-service/internal/config"
	"transcription-stream-service/internal/events"
	"transcription-stream-service/internal/observability/metrics"
	"transcription-stream-service/internal/service/audio"
	"transcription-stream-service/internal/service/transcription"
)

const oneSecondLinear16 = 32000

type testEnv struct {
	router  http.Handler
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, uploadMax int64) testEnv {
	t.Helper()
	cfg := &config.Config{}
	cfg.STT.Provider = config.ProviderMock
	cfg.Observability.LogLevel = "error"
	cfg.Observability.LogFormat = "json"
	cfg.Audio.UploadMaxBytes = uploadMax
	application := app.New(cfg)
	_ = application.Start()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	svc := transcription.NewService(transcription.Options{
		ForceMock:    true,
		DrainTimeout: time.Second,
		Metrics:      m,
	})
	pub := events.New(&events.Config{TopicPartial: "t.partial", TopicFinal: "t.final"}, m)
	return testEnv{router: NewRouter(NewHandler(application, svc, pub, m)), metrics: m}
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeTranscripts(t *testing.T, rec *httptest.ResponseRecorder) []transcriptMessage {
	t.Helper()
	var out []transcriptMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func multipartUpload(t *testing.T, field, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestRouter_InfoAndHealth(t *testing.T) {
	env := newTestEnv(t, 0)

	tests := []struct {
		path string
		want string
	}{
		{"/v1/liveness", "ok"},
		{"/v1/readiness", "ready"},
	}
	for _, tt := range tests {
		rec := do(env.router, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != tt.want {
			t.Errorf("GET %s = %d %q", tt.path, rec.Code, rec.Body.String())
		}
	}

	rec := do(env.router, httptest.NewRequest(http.MethodGet, "/", nil))
	var info map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info["mode"] != transcription.ModeMock || info["provider"] != "mock" {
		t.Errorf("info = %v", info)
	}

	if got := testutil.ToFloat64(env.metrics.HTTPRequests.WithLabelValues("/v1/liveness", "200")); got != 1 {
		t.Errorf("liveness request metric = %v", got)
	}
}

func TestTranscribe_Multipart(t *testing.T) {
	env := newTestEnv(t, 0)
	wav := audio.EncodeWAV(make([]byte, 6*oneSecondLinear16), 16000, 1)

	rec := do(env.router, multipartUpload(t, "file", "sample.wav", "audio/wav", wav))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	got := decodeTranscripts(t, rec)
	if len(got) != 3 {
		t.Fatalf("segments = %d, want 3", len(got))
	}
	for _, m := range got {
		if m.Type != "transcript" || !m.IsFinal || m.Transcript == "" || len(m.Words) == 0 {
			t.Errorf("message = %+v", m)
		}
	}
	if end := got[2].Metadata.EndTime; end != 6 {
		t.Errorf("last end_time = %v, want 6", end)
	}
	if n := testutil.ToFloat64(env.metrics.KafkaPublishTotal.WithLabelValues("t.final", "final")); n != 3 {
		t.Errorf("published = %v, want 3", n)
	}
}

func TestTranscribe_RawBody(t *testing.T) {
	env := newTestEnv(t, 0)
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe?encoding=linear16&sample_rate=16000&channels=1",
		bytes.NewReader(make([]byte, 2*oneSecondLinear16)))
	req.Header.Set("Content-Type", "audio/l16")

	rec := do(env.router, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if got := decodeTranscripts(t, rec); len(got) != 3 {
		t.Errorf("segments = %d, want 3", len(got))
	}
}

func TestTranscribe_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		status int
		want   string
	}{
		{
			name: "unsupported type",
			req: func(t *testing.T) *http.Request {
				return multipartUpload(t, "file", "clip.avi", "video/x-msvideo", []byte("RIFF....AVI "))
			},
			status: http.StatusUnsupportedMediaType,
			want:   "Unsupported file type: video/x-msvideo",
		},
		{
			name: "octet stream without name",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/transcribe", strings.NewReader("abc"))
				req.Header.Set("Content-Type", "application/octet-stream")
				return req
			},
			status: http.StatusUnsupportedMediaType,
		},
		{
			name: "missing file field",
			req: func(t *testing.T) *http.Request {
				return multipartUpload(t, "audio", "a.wav", "audio/wav", []byte("x"))
			},
			status: http.StatusBadRequest,
			want:   `missing form field "file"`,
		},
		{
			name: "bad sample rate",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/transcribe?sample_rate=fast", strings.NewReader("abcd"))
				req.Header.Set("Content-Type", "audio/l16")
				return req
			},
			status: http.StatusBadRequest,
			want:   "invalid sample_rate",
		},
		{
			name: "empty body",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/transcribe", http.NoBody)
				req.Header.Set("Content-Type", "audio/wav")
				return req
			},
			status: http.StatusBadRequest,
			want:   "No audio provided",
		},
		{
			name: "broken wav",
			req: func(t *testing.T) *http.Request {
				return multipartUpload(t, "file", "bad.wav", "audio/wav", []byte("RIFF\x00\x00\x00\x00WAVEjunk"))
			},
			status: http.StatusUnsupportedMediaType,
		},
	}

	env := newTestEnv(t, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(env.router, tt.req(t))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.want != "" && !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body = %s, want mention of %q", rec.Body.String(), tt.want)
			}
		})
	}
}

func TestTranscribe_TooLarge(t *testing.T) {
	env := newTestEnv(t, 100)
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", bytes.NewReader(make([]byte, 1000)))
	req.Header.Set("Content-Type", "audio/l16")

	if rec := do(env.router, req); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}
