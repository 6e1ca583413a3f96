package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"transcription-stream-service/internal/models"
	"transcription-stream-service/internal/service/format"
)

// DefaultChunkSize is the number of bytes per chunk read from files and devices.
const DefaultChunkSize = 1024

// pacingBytesPerSecond paces containerized audio whose byte rate is unknown
// (16 kHz mono linear16).
const pacingBytesPerSecond = 32000

// ErrEmptyFile is returned when an audio file has no content.
var ErrEmptyFile = errors.New("audio file is empty")

// Sniff guesses the container mimetype of data from its magic bytes, falling
// back to the extension of name. It returns "" when neither is recognised.
func Sniff(data []byte, name string) string {
	switch {
	case IsWAV(data):
		return "audio/wav"
	case bytes.HasPrefix(data, []byte("ID3")),
		len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "audio/mpeg"
	case bytes.HasPrefix(data, []byte("OggS")):
		return "audio/ogg"
	case bytes.HasPrefix(data, []byte("fLaC")):
		return "audio/flac"
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return "audio/webm"
	case len(data) >= 8 && bytes.Equal(data[4:8], []byte("ftyp")):
		return "audio/mp4"
	}
	return format.MimetypeForPath(name)
}

// Inspect returns what can be learned about a payload's format from its
// content and name. WAV payloads are validated and report their header fields.
func Inspect(data []byte, name string) (models.AudioFormat, error) {
	if len(data) == 0 {
		return models.AudioFormat{}, ErrEmptyFile
	}
	mt := Sniff(data, name)
	if mt == "audio/wav" || IsWAV(data) {
		h, err := ParseWAV(data)
		if err != nil {
			return models.AudioFormat{}, err
		}
		return h.Format, nil
	}
	return models.AudioFormat{ContainerMimetype: mt}, nil
}

// ReadFile loads path and returns its content with the format detected from it.
func ReadFile(path string) ([]byte, models.AudioFormat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.AudioFormat{}, fmt.Errorf("read audio file: %w", err)
	}
	detected, err := Inspect(data, path)
	if err != nil {
		return nil, models.AudioFormat{}, fmt.Errorf("%s: %w", path, err)
	}
	return data, detected, nil
}

// FileOptions configures a FileSource.
type FileOptions struct {
	ChunkSize int
	// Speed is the playback multiplier; 0 disables pacing.
	Speed float64
}

// FileSource streams an audio file in fixed-size chunks, optionally paced at
// real time.
type FileSource struct {
	path     string
	data     []byte
	format   models.AudioFormat
	opts     FileOptions
	stop     chan struct{}
	stopOnce sync.Once
}

// NewFileSource reads path and prepares it for streaming.
func NewFileSource(path string, opts FileOptions) (*FileSource, error) {
	data, detected, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewBytesSource(path, data, detected, opts), nil
}

// NewBytesSource streams an in-memory payload.
func NewBytesSource(name string, data []byte, detected models.AudioFormat, opts FileOptions) *FileSource {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &FileSource{
		path:   name,
		data:   data,
		format: detected,
		opts:   opts,
		stop:   make(chan struct{}),
	}
}

func (s *FileSource) Format() models.AudioFormat { return s.format }

// Delay returns the pause after a chunk of n bytes at the configured speed.
func (s *FileSource) Delay(n int) time.Duration {
	if s.opts.Speed <= 0 {
		return 0
	}
	bps := s.format.BytesPerSecond()
	if bps == 0 {
		bps = pacingBytesPerSecond
	}
	secs := float64(n) / float64(bps) / s.opts.Speed
	return time.Duration(secs * float64(time.Second))
}

// Start begins emitting chunks. The chunk channel closes when the file is
// exhausted, Stop is called, or ctx is cancelled.
func (s *FileSource) Start(ctx context.Context) (<-chan []byte, <-chan error, error) {
	select {
	case <-s.stop:
		return nil, nil, ErrSourceStopped
	default:
	}
	chunks := make(chan []byte)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errCh)

		logger := log.With().Str("component", "file-source").Str("path", s.path).Logger()
		logger.Debug().Int("bytes", len(s.data)).Int("chunkSize", s.opts.ChunkSize).Float64("speed", s.opts.Speed).Msg("Streaming file")

		for off := 0; off < len(s.data); off += s.opts.ChunkSize {
			end := off + s.opts.ChunkSize
			if end > len(s.data) {
				end = len(s.data)
			}
			select {
			case chunks <- s.data[off:end]:
			case <-s.stop:
				return
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
			if d := s.Delay(end - off); d > 0 {
				timer := time.NewTimer(d)
				select {
				case <-timer.C:
				case <-s.stop:
					timer.Stop()
					return
				case <-ctx.Done():
					timer.Stop()
					errCh <- ctx.Err()
					return
				}
			}
		}
	}()
	return chunks, errCh, nil
}

// Stop ends streaming early. Idempotent.
func (s *FileSource) Stop() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
