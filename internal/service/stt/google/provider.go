// Package google provides a Google Cloud Speech-to-Text v1 provider.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"transcription-stream-service/internal/models"
	"transcription-stream-service/internal/service/stt"
)

// Name identifies Google in logs, metrics and events.
const Name = "google"

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Config holds the Google client and recognition options.
type Config struct {
	// Credentials is a service account JSON document or a path to one.
	// Empty uses Application Default Credentials.
	Credentials    string
	LanguageCode   string
	Model          string
	Endpoint       string
	InterimResults bool
	Punctuate      bool
}

// DefaultConfig returns the recognition defaults.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		InterimResults: true,
		Punctuate:      true,
	}
}

// Provider implements stt.Provider over one shared gRPC client.
type Provider struct {
	cfg    Config
	client *speech.Client
	log    zerolog.Logger
}

// NewProvider dials the Speech API. Extra client options are appended after
// the ones derived from cfg.
func NewProvider(ctx context.Context, cfg Config, extra ...option.ClientOption) (*Provider, error) {
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = DefaultConfig().LanguageCode
	}

	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, stt.NewError(Name, stt.ErrAuthenticationFailed, err)
	}
	opts = append(opts, extra...)

	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, stt.NewError(Name, stt.ErrBackendUnavailable, fmt.Errorf("create speech client: %w", err))
	}
	return &Provider{
		cfg:    cfg,
		client: c,
		log:    log.With().Str("component", "google").Logger(),
	}, nil
}

func clientOptions(cfg Config) ([]option.ClientOption, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Credentials == "" {
		return opts, nil
	}

	detect := &credentials.DetectOptions{Scopes: []string{cloudPlatformScope}}
	if strings.HasPrefix(strings.TrimSpace(cfg.Credentials), "{") {
		detect.CredentialsJSON = []byte(cfg.Credentials)
	} else {
		detect.CredentialsFile = cfg.Credentials
	}
	creds, err := credentials.DetectDefault(detect)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return append(opts, option.WithAuthCredentials(creds)), nil
}

func (p *Provider) Name() string { return Name }

// NewAdapter returns an unstarted streaming adapter on the shared client.
func (p *Provider) NewAdapter(ctx context.Context) (stt.Adapter, error) {
	return newAdapter(p.cfg, p.client, p.log), nil
}

// Close releases the gRPC connection.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Shutdown lets a dependency container release the client.
func (p *Provider) Shutdown() error { return p.Close() }

// Transcribe runs a synchronous Recognize request over the whole payload.
func (p *Provider) Transcribe(ctx context.Context, data []byte, format models.AudioFormat) ([]models.TranscriptSegment, error) {
	rc, err := recognitionConfig(p.cfg, format)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: rc,
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: data}},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(err)
	}

	segs := batchSegments(resp.GetResults())
	p.log.Info().
		Int("bytes", len(data)).
		Str("encoding", rc.GetEncoding().String()).
		Int("segments", len(segs)).
		Dur("latency", time.Since(start)).
		Msg("Google batch transcription complete")
	return segs, nil
}

// encodingNames maps service encodings to RecognitionConfig_AudioEncoding names.
var encodingNames = map[models.Encoding]string{
	models.EncodingLinear16: "LINEAR16",
	models.EncodingMulaw:    "MULAW",
	models.EncodingAlaw:     "ALAW",
	models.EncodingFLAC:     "FLAC",
	models.EncodingAMRNB:    "AMR",
	models.EncodingAMRWB:    "AMR_WB",
	models.EncodingSpeex:    "SPEEX_WITH_HEADER_BYTE",
	models.EncodingMP3:      "MP3",
}

// encodingFor resolves the Google encoding for a negotiated format.
func encodingFor(format models.AudioFormat) (speechpb.RecognitionConfig_AudioEncoding, error) {
	name, ok := encodingNames[format.Encoding]
	if format.Encoding == models.EncodingOpus {
		ok = true
		name = "OGG_OPUS"
		if format.ContainerMimetype == "audio/webm" {
			name = "WEBM_OPUS"
		}
	}
	if ok {
		if v, known := speechpb.RecognitionConfig_AudioEncoding_value[name]; known {
			return speechpb.RecognitionConfig_AudioEncoding(v), nil
		}
	}
	return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED,
		stt.NewError(Name, stt.ErrProtocolViolation, fmt.Errorf("encoding %q is not supported", format.Encoding))
}

func recognitionConfig(cfg Config, format models.AudioFormat) (*speechpb.RecognitionConfig, error) {
	enc, err := encodingFor(format)
	if err != nil {
		return nil, err
	}
	return &speechpb.RecognitionConfig{
		Encoding:                   enc,
		SampleRateHertz:            int32(format.SampleRateHz),
		AudioChannelCount:          int32(format.Channels),
		LanguageCode:               cfg.LanguageCode,
		Model:                      cfg.Model,
		EnableAutomaticPunctuation: cfg.Punctuate,
		EnableWordTimeOffsets:      true,
		EnableWordConfidence:       true,
	}, nil
}

// classify maps a gRPC status to an error kind.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var kind error
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		kind = stt.ErrAuthenticationFailed
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		kind = stt.ErrBackendUnavailable
	case codes.InvalidArgument, codes.OutOfRange:
		kind = stt.ErrProtocolViolation
	default:
		kind = stt.ErrBackendFailure
	}
	return stt.NewError(Name, kind, err)
}

var errNotStarted = errors.New("google: adapter not started")
