package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"transcription-stream-service/internal/models"
	"transcription-stream-service/internal/service/format"
)

// CaptureConfig configures a CaptureSource.
type CaptureConfig struct {
	// Command is the recorder binary: pw-record or arecord.
	Command       string
	SampleRate    int
	Channels      int
	ChunkSize     int
	Device        string
	ChannelBuffer int
}

// DefaultCaptureConfig records 16 kHz mono linear16 with pw-record.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		Command:       "pw-record",
		SampleRate:    format.DefaultSampleRateHz,
		Channels:      format.DefaultChannels,
		ChunkSize:     DefaultChunkSize,
		ChannelBuffer: 20,
	}
}

// CaptureSource reads raw PCM from a recorder subprocess.
type CaptureSource struct {
	config    CaptureConfig
	recording atomic.Bool
	dropped   atomic.Int64

	mu     sync.Mutex // guards cmd and cancel
	cmd    *exec.Cmd
	cancel context.CancelFunc

	wg  sync.WaitGroup
	log zerolog.Logger
}

// NewCaptureSource validates config and returns an idle capture source.
func NewCaptureSource(config CaptureConfig) (*CaptureSource, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &CaptureSource{
		config: config,
		log:    log.With().Str("component", "capture").Str("command", config.Command).Logger(),
	}, nil
}

// Validate checks the capture parameters.
func (c CaptureConfig) Validate() error {
	switch filepath.Base(c.Command) {
	case "pw-record", "arecord":
	default:
		return fmt.Errorf("unsupported capture command %q (use pw-record or arecord)", c.Command)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("invalid channels: %d", c.Channels)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk size: %d", c.ChunkSize)
	}
	if c.ChannelBuffer <= 0 {
		return fmt.Errorf("invalid channel buffer: %d", c.ChannelBuffer)
	}
	return nil
}

// Format is always raw linear16 at the configured rate.
func (s *CaptureSource) Format() models.AudioFormat {
	return models.AudioFormat{
		Encoding:          models.EncodingLinear16,
		SampleRateHz:      s.config.SampleRate,
		Channels:          s.config.Channels,
		ContainerMimetype: format.DefaultRawMimetype,
	}
}

// Dropped returns how many chunks were discarded because the consumer lagged.
func (s *CaptureSource) Dropped() int64 { return s.dropped.Load() }

// Start launches the recorder.
func (s *CaptureSource) Start(ctx context.Context) (<-chan []byte, <-chan error, error) {
	if s.recording.Load() {
		return nil, nil, errors.New("already recording")
	}
	if _, err := exec.LookPath(s.config.Command); err != nil {
		return nil, nil, fmt.Errorf("%s not found: %w", s.config.Command, err)
	}

	captureCtx, cancel := context.WithCancel(ctx)
	chunks := make(chan []byte, s.config.ChannelBuffer)
	errCh := make(chan error, 1)

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.recording.Store(true)
	s.wg.Add(1)
	go s.captureLoop(captureCtx, chunks, errCh)
	return chunks, errCh, nil
}

// Stop terminates the recorder. The chunk channel closes once it has exited.
func (s *CaptureSource) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Wait blocks until the capture loop has exited.
func (s *CaptureSource) Wait() { s.wg.Wait() }

func (s *CaptureSource) captureLoop(ctx context.Context, chunks chan<- []byte, errCh chan<- error) {
	defer func() {
		close(chunks)
		close(errCh)
		s.recording.Store(false)

		s.mu.Lock()
		if s.cmd != nil {
			_ = s.cmd.Wait()
			s.cmd = nil
		}
		s.cancel = nil
		s.mu.Unlock()

		s.wg.Done()
	}()

	cmd := exec.CommandContext(ctx, s.config.Command, s.Args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.emitErr(errCh, fmt.Errorf("create stdout pipe: %w", err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.emitErr(errCh, fmt.Errorf("create stderr pipe: %w", err))
		return
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	if err := cmd.Start(); err != nil {
		s.emitErr(errCh, fmt.Errorf("start %s: %w", s.config.Command, err))
		return
	}
	s.log.Info().Int("sampleRate", s.config.SampleRate).Int("channels", s.config.Channels).Msg("Capture started")

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			s.log.Debug().Str("stderr", scanner.Text()).Msg("Recorder output")
		}
	}()

	buf := make([]byte, s.config.ChunkSize)
	lastDropLog := time.Now()
	for {
		n, readErr := io.ReadFull(stdout, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			default:
				// Live audio cannot wait for a slow consumer.
				dropped := s.dropped.Add(1)
				if time.Since(lastDropLog) > time.Second {
					s.log.Warn().Int64("dropped", dropped).Msg("Dropping capture chunks due to backpressure")
					lastDropLog = time.Now()
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) || ctx.Err() != nil {
				return
			}
			s.emitErr(errCh, fmt.Errorf("read audio: %w", readErr))
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *CaptureSource) emitErr(errCh chan<- error, err error) {
	select {
	case errCh <- err:
	default:
	}
	s.log.Error().Err(err).Msg("Capture error")
}

// Args returns the recorder command line for raw little-endian 16-bit output
// on stdout.
func (s *CaptureSource) Args() []string {
	rate := strconv.Itoa(s.config.SampleRate)
	channels := strconv.Itoa(s.config.Channels)
	if filepath.Base(s.config.Command) == "arecord" {
		args := []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", channels}
		if s.config.Device != "" {
			args = append(args, "-D", s.config.Device)
		}
		return append(args, "-")
	}
	args := []string{"--format", "s16", "--rate", rate, "--channels", channels}
	if s.config.Device != "" {
		args = append(args, "--target", s.config.Device)
	}
	return append(args, "-")
}
