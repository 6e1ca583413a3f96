// Package transcription composes format negotiation, provider sessions and
// the mock engine into batch and streaming transcription.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"transcription-stream-service/internal/models"
	"transcription-stream-service/internal/observability/logging"
	"transcription-stream-service/internal/observability/metrics"
	"transcription-stream-service/internal/schema"
	"transcription-stream-service/internal/service/audio"
	"transcription-stream-service/internal/service/format"
	"transcription-stream-service/internal/service/relay"
	"transcription-stream-service/internal/service/session"
	"transcription-stream-service/internal/service/stt"
	"transcription-stream-service/internal/service/stt/mock"
)

// Modes reported by Service.Mode and Stream.Mode.
const (
	ModeReal = "real"
	ModeMock = "mock"
)

var (
	// ErrCancelled is returned when the caller cancels a batch transcription.
	ErrCancelled = errors.New("transcription cancelled")
	// ErrLimitExceeded is returned by Stream.Send once a stream limit is hit.
	ErrLimitExceeded = errors.New("stream limit exceeded")
)

type engineKind int

const (
	engineReal engineKind = iota
	engineMock
)

// engine is the backend strategy, decided once per Service.
type engine struct {
	kind     engineKind
	provider stt.Provider
	reason   string
}

func (e engine) mode() string {
	if e.kind == engineMock {
		return ModeMock
	}
	return ModeReal
}

// Options configures a Service.
type Options struct {
	// Provider is the real backend. Nil selects the mock engine.
	Provider stt.Provider
	// Credential is the provider's secret; empty or a placeholder selects the mock engine.
	Credential string
	// ForceMock selects the mock engine regardless of credentials.
	ForceMock bool
	// FallbackOnConnectFailure substitutes the mock engine when the first
	// connection fails with an authentication or availability error.
	FallbackOnConnectFailure bool

	RelayCapacity int
	DrainTimeout  time.Duration
	Limits        Limits
	Metrics       *metrics.Metrics
}

// Service runs transcriptions. It is safe for concurrent use; every call is
// independent.
type Service struct {
	opts      Options
	engine    engine
	mock      *mock.Provider
	validator *schema.Validator
	log       zerolog.Logger
}

// NewService decides the engine and returns a ready Service.
func NewService(opts Options) *Service {
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	if opts.RelayCapacity <= 0 {
		opts.RelayCapacity = relay.DefaultCapacity
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = session.DefaultDrainTimeout
	}

	s := &Service{
		opts:      opts,
		mock:      mock.NewProvider(),
		validator: schema.New(),
		log:       logging.WithComponent("transcription"),
	}
	s.engine = s.selectEngine()

	ev := s.log.Info().Str("mode", s.engine.mode()).Str("sttProvider", s.engine.provider.Name())
	if s.engine.reason != "" {
		ev = ev.Str("reason", s.engine.reason)
	}
	ev.Msg("Transcription engine selected")
	return s
}

func (s *Service) selectEngine() engine {
	switch {
	case s.opts.ForceMock:
		return engine{kind: engineMock, provider: s.mock, reason: "forced"}
	case s.opts.Provider != nil && s.opts.Provider.Name() == mock.Name:
		return engine{kind: engineMock, provider: s.opts.Provider}
	case IsPlaceholder(s.opts.Credential):
		s.opts.Metrics.RecordFallback("credential")
		return engine{kind: engineMock, provider: s.mock, reason: "missing_credential"}
	case s.opts.Provider == nil:
		return engine{kind: engineMock, provider: s.mock, reason: "no_provider"}
	}
	return engine{kind: engineReal, provider: s.opts.Provider}
}

// Mode reports the engine chosen at construction.
func (s *Service) Mode() string { return s.engine.mode() }

// ProviderName reports the name of the chosen engine's provider.
func (s *Service) ProviderName() string { return s.engine.provider.Name() }

// TranscribeFile reads path, detects its format and transcribes it in one request.
// Fields set in declared take precedence over what is detected from the file.
func (s *Service) TranscribeFile(ctx context.Context, path string, declared models.AudioFormat) ([]models.TranscriptSegment, error) {
	data, detected, err := audio.ReadFile(path)
	if err != nil {
		if errors.Is(err, audio.ErrInvalidWAV) {
			return nil, &format.UnsupportedFormatError{Mimetype: "audio/wav", Reason: err.Error()}
		}
		return nil, err
	}
	return s.transcribe(ctx, data, declared, detected)
}

// TranscribeBytes transcribes an uploaded payload. name is a filename or
// mimetype used when the content itself is not recognised.
func (s *Service) TranscribeBytes(ctx context.Context, data []byte, declared models.AudioFormat, name string) ([]models.TranscriptSegment, error) {
	detected, err := audio.Inspect(data, name)
	if err != nil {
		if errors.Is(err, audio.ErrInvalidWAV) {
			return nil, &format.UnsupportedFormatError{Mimetype: "audio/wav", Reason: err.Error()}
		}
		return nil, err
	}
	if detected.ContainerMimetype == "" && format.IsSupportedMimetype(name) {
		detected.ContainerMimetype = name
	}
	return s.transcribe(ctx, data, declared, detected)
}

func (s *Service) transcribe(ctx context.Context, data []byte, declared, detected models.AudioFormat) ([]models.TranscriptSegment, error) {
	resolved, err := format.Negotiate(merge(declared, detected), detected.ContainerMimetype)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	provider := s.engine.provider
	segs, err := s.batch(ctx, provider, data, resolved)
	if err != nil && s.engine.kind == engineReal && s.opts.FallbackOnConnectFailure && stt.Fallbackable(err) {
		reason := stt.Reason(err)
		s.log.Warn().Err(err).Str("reason", reason).Msg("Batch request failed, using mock transcription (degraded mode)")
		s.opts.Metrics.RecordFallback(reason)
		provider = s.mock
		segs, err = s.batch(ctx, provider, data, resolved)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		return nil, err
	}

	if err := s.validator.ValidateSequence(segs); err != nil {
		return nil, stt.NewError(provider.Name(), stt.ErrProtocolViolation, err)
	}
	s.log.Info().
		Str("sttProvider", provider.Name()).
		Str("format", resolved.String()).
		Int("bytes", len(data)).
		Int("segments", len(segs)).
		Msg("Batch transcription complete")
	return segs, nil
}

func (s *Service) batch(ctx context.Context, p stt.Provider, data []byte, f models.AudioFormat) ([]models.TranscriptSegment, error) {
	start := time.Now()
	segs, err := p.Transcribe(ctx, data, f)
	s.opts.Metrics.RecordBatch(p.Name(), err, time.Since(start).Seconds())
	return segs, err
}

// merge fills the unset fields of declared from detected.
func merge(declared, detected models.AudioFormat) models.AudioFormat {
	out := declared
	if out.ContainerMimetype == "" {
		out.ContainerMimetype = detected.ContainerMimetype
	}
	if out.Encoding == "" {
		out.Encoding = detected.Encoding
	}
	if out.SampleRateHz == 0 {
		out.SampleRateHz = detected.SampleRateHz
	}
	if out.Channels == 0 {
		out.Channels = detected.Channels
	}
	return out
}

// TranscribeStream negotiates the format and opens a streaming session.
// Cancelling ctx abandons the stream and stops its session.
func (s *Service) TranscribeStream(ctx context.Context, declared models.AudioFormat, hint string) (*Stream, error) {
	resolved, err := format.Negotiate(declared, hint)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()

	sess, r, eng, err := s.open(ctx, id, s.engine, resolved)
	if err != nil && eng.kind == engineReal && s.opts.FallbackOnConnectFailure && stt.Fallbackable(err) {
		reason := stt.Reason(err)
		s.log.Warn().Err(err).Str("sessionId", id).Str("reason", reason).
			Msg("Provider connection failed, using mock transcription (degraded mode)")
		s.opts.Metrics.RecordFallback(reason)
		sess, r, eng, err = s.open(ctx, id, engine{kind: engineMock, provider: s.mock, reason: reason}, resolved)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		return nil, err
	}

	st := newStream(id, eng, resolved, sess, r, s.opts.Limits, s.opts.Metrics)
	go st.watch(ctx)
	return st, nil
}

func (s *Service) open(ctx context.Context, id string, eng engine, f models.AudioFormat) (*session.Session, *relay.Relay, engine, error) {
	adapter, err := eng.provider.NewAdapter(ctx)
	if err != nil {
		return nil, nil, eng, err
	}
	r := relay.New(s.opts.RelayCapacity, s.opts.Metrics)
	sess := session.New(adapter, r, session.Options{
		ID:           id,
		Provider:     eng.provider.Name(),
		Mode:         eng.mode(),
		DrainTimeout: s.opts.DrainTimeout,
		Metrics:      s.opts.Metrics,
		Validator:    s.validator,
	})
	if err := sess.Start(ctx, f); err != nil {
		return nil, nil, eng, err
	}
	return sess, r, eng, nil
}
