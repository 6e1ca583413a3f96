package transcription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"transcription-stream-service/internal/models"
	"transcription-stream-service/internal/observability/logging"
	"transcription-stream-service/internal/observability/metrics"
	"transcription-stream-service/internal/service/relay"
	"transcription-stream-service/internal/service/session"
)

// Limits bounds a single stream. Zero values disable a limit.
type Limits struct {
	MaxAudioBytes int64
	MaxDuration   time.Duration
}

// DefaultLimits returns the service defaults (about 35 minutes of 16 kHz mono linear16).
func DefaultLimits() Limits {
	return Limits{
		MaxAudioBytes: 64 * 1024 * 1024,
		MaxDuration:   30 * time.Minute,
	}
}

// Stream is one live transcription. Send feeds audio; Events yields
// Connected, Started, Transcript... and exactly one terminal Error or Closed.
type Stream struct {
	id       string
	provider string
	mode     string
	format   models.AudioFormat

	session *session.Session
	relay   *relay.Relay
	limits  Limits
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu        sync.Mutex
	seq       uint64
	bytes     int64
	startedAt time.Time
	exceeded  error

	cancelOnce sync.Once
}

func newStream(id string, eng engine, f models.AudioFormat, sess *session.Session, r *relay.Relay, limits Limits, m *metrics.Metrics) *Stream {
	return &Stream{
		id:        id,
		provider:  eng.provider.Name(),
		mode:      eng.mode(),
		format:    f,
		session:   sess,
		relay:     r,
		limits:    limits,
		metrics:   m,
		log:       logging.WithStream(id, eng.provider.Name(), eng.mode()),
		startedAt: time.Now(),
	}
}

func (s *Stream) ID() string { return s.id }

// Provider names the backend serving the stream.
func (s *Stream) Provider() string { return s.provider }

// Mode is ModeReal or ModeMock.
func (s *Stream) Mode() string { return s.mode }

// Format returns the negotiated format the backend was opened with.
func (s *Stream) Format() models.AudioFormat { return s.format }

// Events returns the event sequence. It is closed after the terminal event.
func (s *Stream) Events() <-chan relay.Event { return s.relay.Events() }

// Send forwards one chunk of audio. Exceeding a limit stops the stream and
// returns ErrLimitExceeded, as does every later call.
func (s *Stream) Send(ctx context.Context, data []byte) error {
	s.mu.Lock()
	if s.exceeded != nil {
		err := s.exceeded
		s.mu.Unlock()
		return err
	}
	s.bytes += int64(len(data))
	seq := s.seq
	s.seq++

	var limitType string
	var reason error
	switch {
	case s.limits.MaxAudioBytes > 0 && s.bytes > s.limits.MaxAudioBytes:
		limitType = "audio_bytes"
		reason = fmt.Errorf("%w: max audio bytes exceeded: %d > %d", ErrLimitExceeded, s.bytes, s.limits.MaxAudioBytes)
	case s.limits.MaxDuration > 0 && time.Since(s.startedAt) > s.limits.MaxDuration:
		limitType = "duration"
		reason = fmt.Errorf("%w: max duration exceeded: %v > %v", ErrLimitExceeded, time.Since(s.startedAt).Round(time.Millisecond), s.limits.MaxDuration)
	}
	s.exceeded = reason
	s.mu.Unlock()

	if reason != nil {
		s.log.Warn().Str("limit", limitType).Err(reason).Msg("Stream limit exceeded, stopping")
		s.metrics.RecordLimitExceeded(limitType)
		_ = s.session.Stop(context.Background())
		return reason
	}
	return s.session.SendAudio(ctx, models.AudioChunk{Data: data, Seq: seq})
}

// Stop ends audio input. The stream drains and Events ends with Closed.
func (s *Stream) Stop(ctx context.Context) error {
	return s.session.Stop(ctx)
}

// Cancel abandons the stream: undelivered events are discarded and the
// provider transport is torn down without draining. It does not wait for a
// Send blocked on the backend.
func (s *Stream) Cancel() {
	s.cancelOnce.Do(func() {
		s.log.Info().Msg("Stream cancelled by caller")
		s.relay.Abandon()
		s.session.Abort()
	})
}

// Done is closed once the session has reached a terminal state.
func (s *Stream) Done() <-chan struct{} { return s.session.Done() }

func (s *Stream) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		s.Cancel()
	case <-s.session.Done():
	}
}
