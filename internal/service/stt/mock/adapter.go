// Package mock provides a deterministic STT engine used when no real backend
// is configured or reachable. It makes no network calls and never sleeps:
// segments are derived from the amount of audio received.
package mock

import (
	"context"
	"errors"
	"strings"
	"sync"

	"transcription-stream-service/internal/models"
	"transcription-stream-service/internal/service/stt"
)

// SyntheticConfidence is the confidence reported on every mock segment.
const SyntheticConfidence = 0.5

const (
	// utteranceSeconds is the audio span covered by one canned final.
	utteranceSeconds = 2.5
	// chunkSeconds is assumed per chunk when the byte rate is unknown.
	chunkSeconds = 0.5
	outBuffer    = 64
)

// StreamUtterances are cycled through by streaming sessions.
var StreamUtterances = []string{
	"When you look at the map, a map of the Middle East, Israel is a tiny little spot compared to these giant land masses.",
	"It's really a tiny spot. I actually said, is there any way of getting more?",
	"It's so tiny.",
	"This is a mock transcript to test the WebSocket streaming capabilities.",
	"If you see this message, the WebSocket streaming is working.",
}

// ErrClosed is returned when audio arrives after Finish or Close.
var ErrClosed = errors.New("mock: stream closed")

// Adapter implements stt.Adapter with canned finals.
type Adapter struct {
	mu           sync.Mutex
	format       models.AudioFormat
	received     float64 // seconds of audio seen
	emittedUntil float64
	emitted      int
	finished     bool

	out       chan models.TranscriptSegment
	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a new mock streaming adapter.
func New() *Adapter {
	return &Adapter{
		out:    make(chan models.TranscriptSegment, outBuffer),
		closed: make(chan struct{}),
	}
}

// Start records the format. There is no transport to open.
func (a *Adapter) Start(ctx context.Context, format models.AudioFormat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	a.format = format
	a.mu.Unlock()
	return nil
}

// Listen reports the stream as started and delivers segments until Finish
// has flushed the tail or the adapter is closed.
func (a *Adapter) Listen(cb stt.Callback) error {
	cb.OnStarted()
	for {
		select {
		case seg, ok := <-a.out:
			if !ok {
				return nil
			}
			if err := cb.OnTranscript(seg); err != nil {
				return err
			}
		case <-a.closed:
			return nil
		}
	}
}

// SendAudio accounts for the chunk's duration and emits one final for every
// full utterance span received.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	if a.finished {
		a.mu.Unlock()
		return ErrClosed
	}
	if bps := a.format.BytesPerSecond(); bps > 0 {
		a.received += float64(len(audio)) / float64(bps)
	} else {
		a.received += chunkSeconds
	}
	var segs []models.TranscriptSegment
	for a.received-a.emittedUntil >= utteranceSeconds {
		segs = append(segs, a.nextSegment(a.emittedUntil+utteranceSeconds))
	}
	a.mu.Unlock()

	return a.deliver(ctx, segs)
}

// Finish flushes the remaining span. At least one segment is produced per
// stream, even when no audio arrived.
func (a *Adapter) Finish(ctx context.Context) error {
	a.mu.Lock()
	if a.finished {
		a.mu.Unlock()
		return nil
	}
	a.finished = true
	var segs []models.TranscriptSegment
	if a.received > a.emittedUntil || a.emitted == 0 {
		end := a.received
		if end < a.emittedUntil {
			end = a.emittedUntil
		}
		segs = append(segs, a.nextSegment(end))
	}
	a.mu.Unlock()

	if err := a.deliver(ctx, segs); err != nil {
		return err
	}
	close(a.out)
	return nil
}

// Close unblocks Listen. Idempotent.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() { close(a.closed) })
	return nil
}

// nextSegment must be called with a.mu held.
func (a *Adapter) nextSegment(end float64) models.TranscriptSegment {
	text := StreamUtterances[a.emitted%len(StreamUtterances)]
	seg := Segment(text, a.emittedUntil, end)
	a.emittedUntil = end
	a.emitted++
	return seg
}

func (a *Adapter) deliver(ctx context.Context, segs []models.TranscriptSegment) error {
	for _, seg := range segs {
		select {
		case a.out <- seg:
		case <-a.closed:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Segment builds a final mock segment over [start, end] with word timings
// spread evenly across the span.
func Segment(text string, start, end float64) models.TranscriptSegment {
	fields := strings.Fields(text)
	words := make([]models.WordTiming, 0, len(fields))
	step := 0.0
	if len(fields) > 0 {
		step = (end - start) / float64(len(fields))
	}
	for i, f := range fields {
		ws := start + float64(i)*step
		we := ws + step
		if i == len(fields)-1 {
			we = end
		}
		words = append(words, models.WordTiming{
			Word:           normalizeWord(f),
			PunctuatedWord: f,
			StartTimeS:     ws,
			EndTimeS:       we,
			Confidence:     SyntheticConfidence,
		})
	}
	return models.TranscriptSegment{
		Text:       text,
		Confidence: SyntheticConfidence,
		IsFinal:    true,
		StartTimeS: start,
		EndTimeS:   end,
		Words:      words,
	}
}

func normalizeWord(w string) string {
	return strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
		return strings.ContainsRune(".,?!;:\"", r)
	}))
}
