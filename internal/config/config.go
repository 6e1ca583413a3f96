// Package config loads service configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Provider names accepted by STT_PROVIDER.
const (
	ProviderDeepgram = "deepgram"
	ProviderGoogle   = "google"
	ProviderMock     = "mock"
)

type Config struct {
	Service       ServiceConfig
	STT           STTConfig
	Deepgram      DeepgramConfig
	Google        GoogleConfig
	Stream        StreamConfig
	Audio         AudioConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Principal   string `env:"SERVICE_PRINCIPAL" envDefault:"svc-transcription-stream"`
	Host        string `env:"HOST" envDefault:"0.0.0.0"`
	Port        string `env:"PORT" envDefault:"8000"`
	GRPCPort    string `env:"GRPC_PORT" envDefault:"50051"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	Env         string `env:"ENV" envDefault:"development"`
	Debug       bool   `env:"DEBUG" envDefault:"false"`
}

type STTConfig struct {
	Provider                 string `env:"STT_PROVIDER" envDefault:"deepgram"`
	MockTranscription        bool   `env:"MOCK_TRANSCRIPTION" envDefault:"false"`
	FallbackOnConnectFailure bool   `env:"STT_FALLBACK_ON_CONNECT_FAILURE" envDefault:"true"`
}

type DeepgramConfig struct {
	APIKey            string        `env:"DEEPGRAM_API_KEY"`
	Model             string        `env:"DEEPGRAM_MODEL" envDefault:"nova-3"`
	Language          string        `env:"DEEPGRAM_LANGUAGE" envDefault:"en-US"`
	SmartFormat       bool          `env:"DEEPGRAM_SMART_FORMAT" envDefault:"true"`
	Punctuate         bool          `env:"DEEPGRAM_PUNCTUATE" envDefault:"true"`
	Diarize           bool          `env:"DEEPGRAM_DIARIZE" envDefault:"false"`
	InterimResults    bool          `env:"DEEPGRAM_INTERIM_RESULTS" envDefault:"true"`
	StreamURL         string        `env:"DEEPGRAM_STREAM_URL" envDefault:"wss://api.deepgram.com/v1/listen"`
	BatchURL          string        `env:"DEEPGRAM_BATCH_URL" envDefault:"https://api.deepgram.com/v1/listen"`
	KeepAliveInterval time.Duration `env:"DEEPGRAM_KEEPALIVE_INTERVAL" envDefault:"5s"`
	WriteTimeout      time.Duration `env:"DEEPGRAM_WRITE_TIMEOUT" envDefault:"10s"`
	RequestTimeout    time.Duration `env:"DEEPGRAM_REQUEST_TIMEOUT" envDefault:"60s"`
}

type GoogleConfig struct {
	// Credentials is a service account JSON document or a path to one.
	Credentials string `env:"GOOGLE_SPEECH_CREDENTIALS"`
	Language    string `env:"GOOGLE_SPEECH_LANGUAGE" envDefault:"en-US"`
	Model       string `env:"GOOGLE_SPEECH_MODEL"`
	Endpoint    string `env:"GOOGLE_SPEECH_ENDPOINT"`
}

type StreamConfig struct {
	RelayCapacity int           `env:"STREAM_RELAY_CAPACITY" envDefault:"256"`
	DrainTimeout  time.Duration `env:"STREAM_DRAIN_TIMEOUT" envDefault:"5s"`
	MaxAudioBytes int64         `env:"STREAM_MAX_AUDIO_BYTES" envDefault:"67108864"`
	MaxDuration   time.Duration `env:"STREAM_MAX_DURATION" envDefault:"30m"`
}

type AudioConfig struct {
	ChunkSize      int    `env:"AUDIO_CHUNK_SIZE" envDefault:"1024"`
	CaptureCommand string `env:"AUDIO_CAPTURE_COMMAND" envDefault:"pw-record"`
	CaptureDevice  string `env:"AUDIO_CAPTURE_DEVICE"`
	UploadMaxBytes int64  `env:"UPLOAD_MAX_BYTES" envDefault:"52428800"`
}

type KafkaConfig struct {
	Enabled       bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	Brokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	TopicPartial  string   `env:"KAFKA_TOPIC_PARTIAL" envDefault:"transcription.transcript.partial"`
	TopicFinal    string   `env:"KAFKA_TOPIC_FINAL" envDefault:"transcription.transcript.final"`
	ConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"transcription-tail"`
}

type ObservabilityConfig struct {
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string `env:"LOG_FORMAT" envDefault:"json"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse builds a Config from the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("environment variables are invalid: %w", err)
	}
	cfg.STT.Provider = strings.ToLower(strings.TrimSpace(cfg.STT.Provider))
	if cfg.Service.Debug {
		cfg.Observability.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	switch c.STT.Provider {
	case ProviderDeepgram, ProviderGoogle, ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("STT_PROVIDER %q must be one of deepgram, google, mock", c.STT.Provider))
	}
	if c.Service.Port == "" || c.Service.GRPCPort == "" {
		errs = append(errs, errors.New("PORT and GRPC_PORT are required"))
	}
	if c.Stream.RelayCapacity <= 0 {
		errs = append(errs, fmt.Errorf("STREAM_RELAY_CAPACITY must be positive, got %d", c.Stream.RelayCapacity))
	}
	if c.Stream.DrainTimeout <= 0 {
		errs = append(errs, fmt.Errorf("STREAM_DRAIN_TIMEOUT must be positive, got %v", c.Stream.DrainTimeout))
	}
	if c.Stream.MaxAudioBytes < 0 || c.Stream.MaxDuration < 0 {
		errs = append(errs, errors.New("stream limits must not be negative"))
	}
	if c.Audio.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("AUDIO_CHUNK_SIZE must be positive, got %d", c.Audio.ChunkSize))
	}
	switch c.Observability.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be json or console", c.Observability.LogFormat))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED=true"))
	}
	return errors.Join(errs...)
}

// Credential returns the secret of the selected provider.
func (c *Config) Credential() string {
	switch c.STT.Provider {
	case ProviderGoogle:
		return c.Google.Credentials
	case ProviderDeepgram:
		return c.Deepgram.APIKey
	}
	return ""
}

// UseMock reports whether the mock engine is forced by configuration.
func (c *Config) UseMock() bool {
	return c.STT.MockTranscription || c.STT.Provider == ProviderMock
}
