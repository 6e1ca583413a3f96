// Package session drives one provider Adapter through the session state
// machine and publishes everything it observes into a relay.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"transcription-stream-service/internal/models"
	"transcription-stream-service/internal/observability/logging"
	"transcription-stream-service/internal/observability/metrics"
	"transcription-stream-service/internal/schema"
	"transcription-stream-service/internal/service/relay"
	"transcription-stream-service/internal/service/stt"
)

const DefaultDrainTimeout = 5 * time.Second

// ErrNotAccepting is returned by SendAudio outside CONNECTING and STREAMING.
var ErrNotAccepting = errors.New("session is not accepting audio")

// Options configures a Session.
type Options struct {
	ID           string
	Provider     string
	Mode         string
	DrainTimeout time.Duration
	Metrics      *metrics.Metrics
	Validator    *schema.Validator
}

// Session owns one provider connection. It implements stt.Callback; the
// adapter's receive loop is the only producer into the relay once the
// session is connected.
type Session struct {
	id       string
	provider string
	mode     string

	adapter   stt.Adapter
	relay     *relay.Relay
	lifecycle *Lifecycle

	drainTimeout time.Duration
	metrics      *metrics.Metrics
	validator    *schema.Validator
	log          zerolog.Logger

	sendMu   sync.Mutex
	stopOnce sync.Once
	doneOnce sync.Once
	done     chan struct{}

	// forced is set once the drain watchdog or Abort closed the transport.
	forced atomic.Bool

	causeMu sync.Mutex
	cause   error

	startedAt time.Time
}

// New creates an IDLE session over adapter, publishing into r.
func New(adapter stt.Adapter, r *relay.Relay, opts Options) *Session {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	return &Session{
		id:           opts.ID,
		provider:     opts.Provider,
		mode:         opts.Mode,
		adapter:      adapter,
		relay:        r,
		lifecycle:    NewLifecycle(),
		drainTimeout: opts.DrainTimeout,
		metrics:      opts.Metrics,
		validator:    opts.Validator,
		log:          logging.WithStream(opts.ID, opts.Provider, opts.Mode),
		done:         make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// Done is closed once the session has reached a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start opens the transport. On failure the session is FAILED, nothing is
// published and the classified error is returned so the caller can decide on
// a fallback. On success Connected is published and the receive loop starts.
func (s *Session) Start(ctx context.Context, format models.AudioFormat) error {
	if err := s.lifecycle.Connect(); err != nil {
		return err
	}
	s.startedAt = time.Now()

	s.log.Info().Str("format", format.String()).Msg("Opening provider session")
	if err := s.adapter.Start(ctx, format); err != nil {
		s.lifecycle.Fail(err)
		_ = s.adapter.Close()
		s.metrics.RecordSTTError(s.provider, stt.Reason(err))
		s.markDone()
		s.log.Warn().Err(err).Msg("Provider session failed to connect")
		return err
	}

	s.metrics.RecordSessionStart(s.provider, s.mode)
	_ = s.relay.Publish(context.Background(), relay.Connected())
	go s.run()
	return nil
}

func (s *Session) run() {
	err := s.adapter.Listen(s)
	s.finish(err)
}

func (s *Session) finish(listenErr error) {
	defer s.markDone()
	_ = s.adapter.Close()

	failure := s.failureCause(listenErr)
	duration := time.Since(s.startedAt).Seconds()

	if failure != nil && s.lifecycle.Fail(failure) {
		reason := stt.Reason(failure)
		s.log.Error().Err(failure).Str("reason", reason).Msg("Provider session failed")
		s.metrics.RecordSTTError(s.provider, reason)
		s.metrics.RecordSessionEnd(reason, duration)
		_ = s.relay.Publish(context.Background(), relay.Failure(fmt.Errorf("%w: %w", stt.ErrMidStream, failure)))
		return
	}
	if s.lifecycle.Close() {
		s.log.Info().Bool("forced", s.forced.Load()).Float64("durationSeconds", duration).Msg("Provider session closed")
		s.metrics.RecordSessionEnd("", duration)
		_ = s.relay.Publish(context.Background(), relay.Closed())
	}
}

// failureCause decides whether the end of the receive loop is a failure.
func (s *Session) failureCause(listenErr error) error {
	s.causeMu.Lock()
	cause := s.cause
	s.causeMu.Unlock()
	if cause != nil {
		return cause
	}
	if listenErr == nil || s.forced.Load() || errors.Is(listenErr, relay.ErrAbandoned) {
		return nil
	}
	return listenErr
}

func (s *Session) setCause(err error) {
	s.causeMu.Lock()
	defer s.causeMu.Unlock()
	if s.cause == nil {
		s.cause = err
	}
}

func (s *Session) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// OnStarted implements stt.Callback.
func (s *Session) OnStarted() {
	if !s.lifecycle.MarkStarted() {
		return
	}
	s.log.Debug().Msg("Provider accepted stream parameters")
	_ = s.relay.Publish(context.Background(), relay.Started())
}

// OnTranscript implements stt.Callback. It blocks while the relay is full.
func (s *Session) OnTranscript(seg models.TranscriptSegment) error {
	if s.validator != nil {
		if err := s.validator.Validate(seg); err != nil {
			return stt.NewError(s.provider, stt.ErrProtocolViolation, err)
		}
	}
	if seg.ReceivedAt.IsZero() {
		seg.ReceivedAt = time.Now()
	}
	s.metrics.RecordTranscript(s.provider, seg.IsFinal)
	return s.relay.Publish(context.Background(), relay.Transcript(seg))
}

// SendAudio forwards one chunk. A transport error fails the session.
func (s *Session) SendAudio(ctx context.Context, chunk models.AudioChunk) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if !s.lifecycle.AcceptsAudio() {
		return ErrNotAccepting
	}
	if err := s.adapter.SendAudio(ctx, chunk.Data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.forced.Load() {
			return err
		}
		s.log.Error().Err(err).Uint64("seq", chunk.Seq).Msg("Failed to send audio")
		s.setCause(err)
		_ = s.adapter.Close()
		return err
	}
	s.metrics.RecordAudioSent(len(chunk.Data))
	return nil
}

// Stop ends audio input and starts draining. It returns without waiting for
// the drain; Closed arrives on the relay once the backend confirms or the
// drain timeout elapses. The timeout is armed before Stop waits for an
// in-flight SendAudio, so a backend that stopped reading cannot hold the
// session open. Calling Stop more than once has no further effect.
func (s *Session) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		go s.watchDrain()

		s.sendMu.Lock()
		defer s.sendMu.Unlock()

		state := s.lifecycle.State()
		if state == StateIdle {
			if s.lifecycle.Close() {
				_ = s.relay.Publish(context.Background(), relay.Closed())
				s.markDone()
			}
			return
		}
		if !s.lifecycle.Drain() {
			return
		}

		s.log.Info().Str("from", state.String()).Msg("Draining provider session")
		if ferr := s.adapter.Finish(ctx); ferr != nil {
			if s.forced.Load() {
				return
			}
			s.log.Error().Err(ferr).Msg("Failed to send stop-control message")
			s.setCause(ferr)
			_ = s.adapter.Close()
			err = ferr
		}
	})
	return err
}

// Abort tears the transport down at once without waiting for an in-flight
// SendAudio. The session ends with Closed.
func (s *Session) Abort() {
	if s.lifecycle.State() == StateIdle {
		_ = s.Stop(context.Background())
		return
	}
	if s.forced.CompareAndSwap(false, true) {
		s.log.Info().Msg("Aborting provider session")
		_ = s.adapter.Close()
	}
}

func (s *Session) watchDrain() {
	timer := time.NewTimer(s.drainTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
	case <-timer.C:
		if !s.forced.CompareAndSwap(false, true) {
			return
		}
		s.log.Warn().Dur("drainTimeout", s.drainTimeout).Msg("Drain timeout elapsed, forcing close")
		s.metrics.RecordDrainTimeout()
		_ = s.adapter.Close()
	}
}
