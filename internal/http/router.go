package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"transcription-stream-service/internal/app"
	"transcription-stream-service/internal/events"
	"transcription-stream-service/internal/observability/logging"
	"transcription-stream-service/internal/observability/metrics"
	"transcription-stream-service/internal/service/transcription"
)

// DefaultUploadMaxBytes bounds POST /api/transcribe bodies when unset.
const DefaultUploadMaxBytes = 50 << 20

// Handler serves the transcription API.
type Handler struct {
	app            *app.Application
	svc            *transcription.Service
	publisher      *events.Publisher
	metrics        *metrics.Metrics
	uploadMaxBytes int64
	upgrader       websocket.Upgrader
	log            zerolog.Logger
}

// NewHandler wires the API handlers. A nil publisher disables hand-off.
func NewHandler(application *app.Application, svc *transcription.Service, pub *events.Publisher, m *metrics.Metrics) *Handler {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	if pub == nil {
		pub = events.New(nil, m)
	}
	maxBytes := int64(DefaultUploadMaxBytes)
	if application != nil && application.Cfg != nil && application.Cfg.Audio.UploadMaxBytes > 0 {
		maxBytes = application.Cfg.Audio.UploadMaxBytes
	}
	return &Handler{
		app:            application,
		svc:            svc,
		publisher:      pub,
		metrics:        m,
		uploadMaxBytes: maxBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: logging.WithComponent("http"),
	}
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)

	r.Get("/", h.info)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/transcribe", h.transcribe)
		r.Get("/stream", h.stream)
	})

	return r
}

func (h *Handler) info(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"service":  "transcription-stream-service",
		"status":   "running",
		"mode":     h.svc.Mode(),
		"provider": h.svc.ProviderName(),
	}
	if h.app != nil {
		body["uptime_seconds"] = int64(h.app.Uptime().Seconds())
	}
	writeJSON(w, http.StatusOK, body)
}

// instrument records one request metric per route pattern and logs at debug.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		code := ww.Status()
		switch {
		case websocket.IsWebSocketUpgrade(r) && code == 0:
			code = http.StatusSwitchingProtocols
		case code == 0:
			code = http.StatusOK
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		h.metrics.RecordHTTPRequest(route, strconv.Itoa(code))

		h.log.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", code).
			Str("requestId", middleware.GetReqID(r.Context())).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
