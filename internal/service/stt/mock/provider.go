package mock

import (
	"context"

	"transcription-stream-service/internal/models"
	"transcription-stream-service/internal/service/audio"
	"transcription-stream-service/internal/service/stt"
)

// Name identifies the mock engine in logs, metrics and events.
const Name = "mock"

// batchSpanSeconds is the span of each canned batch sentence when the audio
// duration is unknown.
const batchSpanSeconds = 5.0

// BatchUtterances are returned, in order, by Transcribe.
var BatchUtterances = []string{
	"When you look at the map, a map of the Middle East, Israel is a tiny little spot compared to these giant land masses.",
	"It's really a tiny spot. I actually said, is there any way of getting more?",
	"It's so tiny.",
}

// Provider implements stt.Provider without any backend.
type Provider struct{}

func NewProvider() *Provider { return &Provider{} }

func (p *Provider) Name() string { return Name }

func (p *Provider) NewAdapter(ctx context.Context) (stt.Adapter, error) {
	return New(), nil
}

// Transcribe returns BatchUtterances as final segments. When the duration of
// audio can be derived they are spread across it, otherwise each spans 5s.
func (p *Provider) Transcribe(ctx context.Context, data []byte, format models.AudioFormat) ([]models.TranscriptSegment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	span := batchSpanSeconds
	if d := Duration(data, format); d > 0 {
		span = d / float64(len(BatchUtterances))
	}

	segs := make([]models.TranscriptSegment, len(BatchUtterances))
	for i, text := range BatchUtterances {
		start := float64(i) * span
		segs[i] = Segment(text, start, start+span)
	}
	return segs, nil
}

// Duration derives the playback length of data in seconds, or 0 when it
// cannot be known without decoding.
func Duration(data []byte, format models.AudioFormat) float64 {
	if audio.IsWAV(data) {
		if h, err := audio.ParseWAV(data); err == nil {
			return h.Duration()
		}
		return 0
	}
	if format.IsRaw() {
		return format.Duration(len(data))
	}
	return 0
}
