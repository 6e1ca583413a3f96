// Package deepgram implements the Deepgram streaming (WebSocket) and
// pre-recorded (HTTP) speech-to-text transports.
package deepgram

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"transcription-stream-service/internal/models"
	"transcription-stream-service/internal/service/stt"
)

// Name identifies Deepgram in logs, metrics and events.
const Name = "deepgram"

const (
	DefaultStreamURL = "wss://api.deepgram.com/v1/listen"
	DefaultBatchURL  = "https://api.deepgram.com/v1/listen"
)

// Config holds Deepgram connection and recognition options.
type Config struct {
	APIKey         string
	Model          string
	Language       string
	SmartFormat    bool
	Punctuate      bool
	Diarize        bool
	InterimResults bool
	StreamURL      string
	BatchURL       string
	// KeepAlive is the idle interval after which a KeepAlive message is sent; 0 disables.
	KeepAlive      time.Duration
	// WriteTimeout bounds each websocket write when the caller's context has
	// no earlier deadline.
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
}

// DefaultConfig returns the service defaults without an API key.
func DefaultConfig() Config {
	return Config{
		Model:          "nova-3",
		Language:       "en-US",
		SmartFormat:    true,
		Punctuate:      true,
		InterimResults: true,
		StreamURL:      DefaultStreamURL,
		BatchURL:       DefaultBatchURL,
		KeepAlive:      5 * time.Second,
		WriteTimeout:   10 * time.Second,
		RequestTimeout: 60 * time.Second,
	}
}

// Provider implements stt.Provider for Deepgram.
type Provider struct {
	cfg    Config
	client *http.Client
	dialer *websocket.Dialer
	log    zerolog.Logger
}

// NewProvider creates a Deepgram provider. Empty URLs fall back to the public API.
func NewProvider(cfg Config) *Provider {
	if cfg.StreamURL == "" {
		cfg.StreamURL = DefaultStreamURL
	}
	if cfg.BatchURL == "" {
		cfg.BatchURL = DefaultBatchURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		log: log.With().Str("component", "deepgram").Logger(),
	}
}

func (p *Provider) Name() string { return Name }

// NewAdapter returns an unstarted streaming adapter.
func (p *Provider) NewAdapter(ctx context.Context) (stt.Adapter, error) {
	return newAdapter(p.cfg, p.dialer, p.log), nil
}

// recognitionQuery holds the options shared by streaming and batch requests.
func recognitionQuery(cfg Config) url.Values {
	q := url.Values{}
	q.Set("model", cfg.Model)
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	q.Set("smart_format", strconv.FormatBool(cfg.SmartFormat))
	q.Set("punctuate", strconv.FormatBool(cfg.Punctuate))
	q.Set("diarize", strconv.FormatBool(cfg.Diarize))
	return q
}

// addRawParams declares encoding, sample rate and channels for headerless
// audio. Containerized audio is self-describing and carries none of them.
func addRawParams(q url.Values, format models.AudioFormat) {
	if !format.IsRaw() {
		return
	}
	q.Set("encoding", string(format.Encoding))
	if format.SampleRateHz > 0 {
		q.Set("sample_rate", strconv.Itoa(format.SampleRateHz))
	}
	if format.Channels > 0 {
		q.Set("channels", strconv.Itoa(format.Channels))
	}
}

// StreamURL builds the WebSocket URL for a streaming session.
func StreamURL(cfg Config, format models.AudioFormat) (string, error) {
	u, err := url.Parse(cfg.StreamURL)
	if err != nil {
		return "", err
	}
	q := recognitionQuery(cfg)
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	addRawParams(q, format)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// BatchURL builds the pre-recorded request URL.
func BatchURL(cfg Config, format models.AudioFormat) (string, error) {
	u, err := url.Parse(cfg.BatchURL)
	if err != nil {
		return "", err
	}
	q := recognitionQuery(cfg)
	q.Set("utterances", "true")
	addRawParams(q, format)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// classifyStatus maps an HTTP status from Deepgram to an error kind.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return stt.ErrAuthenticationFailed
	case code == http.StatusBadRequest:
		return stt.ErrProtocolViolation
	case code == http.StatusTooManyRequests || code >= 500:
		return stt.ErrBackendUnavailable
	default:
		return stt.ErrBackendFailure
	}
}
