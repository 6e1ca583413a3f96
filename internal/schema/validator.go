// Package schema checks transcript payloads against the invariants downstream stages rely on.
package schema

import (
	"errors"
	"fmt"
	"math"

	"transcription-stream-service/internal/models"
)

// ErrInvalidSegment is wrapped by every validation failure.
var ErrInvalidSegment = errors.New("invalid transcript segment")

// Validator checks TranscriptSegment invariants.
type Validator struct {
	// Slack tolerated between a word's bounds and its segment's bounds, in seconds.
	WordSlackS float64
}

func New() *Validator {
	return &Validator{WordSlackS: 0.05}
}

// Validate returns nil when seg satisfies the segment invariants.
func (v *Validator) Validate(seg models.TranscriptSegment) error {
	if bad(seg.Confidence) || seg.Confidence < 0 || seg.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidSegment, seg.Confidence)
	}
	if bad(seg.StartTimeS) || bad(seg.EndTimeS) || seg.StartTimeS < 0 {
		return fmt.Errorf("%w: start time %v", ErrInvalidSegment, seg.StartTimeS)
	}
	if seg.EndTimeS < seg.StartTimeS {
		return fmt.Errorf("%w: end %v before start %v", ErrInvalidSegment, seg.EndTimeS, seg.StartTimeS)
	}

	prevStart := 0.0
	for i, w := range seg.Words {
		if bad(w.StartTimeS) || bad(w.EndTimeS) || w.StartTimeS < 0 || w.EndTimeS < w.StartTimeS {
			return fmt.Errorf("%w: word %d (%q) has span [%v,%v]", ErrInvalidSegment, i, w.Word, w.StartTimeS, w.EndTimeS)
		}
		if w.StartTimeS < prevStart {
			return fmt.Errorf("%w: word %d (%q) out of order", ErrInvalidSegment, i, w.Word)
		}
		if bad(w.Confidence) || w.Confidence < 0 || w.Confidence > 1 {
			return fmt.Errorf("%w: word %d confidence %v", ErrInvalidSegment, i, w.Confidence)
		}
		if w.StartTimeS < seg.StartTimeS-v.WordSlackS || w.EndTimeS > seg.EndTimeS+v.WordSlackS {
			return fmt.Errorf("%w: word %d (%q) outside segment span", ErrInvalidSegment, i, w.Word)
		}
		prevStart = w.StartTimeS
	}
	return nil
}

// ValidateSequence checks each segment and that start times never decrease.
func (v *Validator) ValidateSequence(segs []models.TranscriptSegment) error {
	prev := 0.0
	for i, seg := range segs {
		if err := v.Validate(seg); err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
		if seg.StartTimeS < prev {
			return fmt.Errorf("%w: segment %d starts at %v before %v", ErrInvalidSegment, i, seg.StartTimeS, prev)
		}
		prev = seg.StartTimeS
	}
	return nil
}

func bad(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}
