package relay

import (
	"fmt"

	"transcription-stream-service/internal/models"
)

// Kind tags a relay Event.
type Kind int

const (
	KindConnected Kind = iota
	KindStarted
	KindTranscript
	KindError
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindConnected:
		return "connected"
	case KindStarted:
		return "started"
	case KindTranscript:
		return "transcript"
	case KindError:
		return "error"
	case KindClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Terminal reports whether no event may follow one of this kind.
func (k Kind) Terminal() bool {
	return k == KindError || k == KindClosed
}

// Event is the only value that crosses from a session to its consumer.
// Build one with the constructors below; its fields are not mutated afterwards.
type Event struct {
	Kind    Kind
	Segment models.TranscriptSegment
	Message string
	Err     error
}

func Connected() Event { return Event{Kind: KindConnected} }

func Started() Event { return Event{Kind: KindStarted} }

func Closed() Event { return Event{Kind: KindClosed} }

// Transcript wraps a copy of seg.
func Transcript(seg models.TranscriptSegment) Event {
	return Event{Kind: KindTranscript, Segment: seg.Clone()}
}

// Failure wraps a terminal error.
func Failure(err error) Event {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Event{Kind: KindError, Message: msg, Err: err}
}

func (e Event) String() string {
	switch e.Kind {
	case KindTranscript:
		return fmt.Sprintf("transcript(final=%v %q)", e.Segment.IsFinal, e.Segment.Text)
	case KindError:
		return "error(" + e.Message + ")"
	default:
		return e.Kind.String()
	}
}
