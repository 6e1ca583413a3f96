// Package models defines the data structures shared across the transcription pipeline.
package models

import "time"

// Event types published downstream.
const (
	EventTypePartial = "transcription.transcript.partial"
	EventTypeFinal   = "transcription.transcript.final"
)

// WordTiming is one recognised word inside a segment.
type WordTiming struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word,omitempty"`
	StartTimeS     float64 `json:"start"`
	EndTimeS       float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
}

// TranscriptSegment is a time-bounded unit of recognised speech.
// Interim segments (IsFinal=false) may be superseded by a later final one.
type TranscriptSegment struct {
	Text       string       `json:"text"`
	Confidence float64      `json:"confidence"`
	IsFinal    bool         `json:"is_final"`
	StartTimeS float64      `json:"start_time"`
	EndTimeS   float64      `json:"end_time"`
	Words      []WordTiming `json:"words,omitempty"`
	ReceivedAt time.Time    `json:"received_at"`
}

// Duration returns the span covered by the segment.
func (s TranscriptSegment) Duration() float64 {
	return s.EndTimeS - s.StartTimeS
}

// Clone returns a copy that shares no memory with s.
func (s TranscriptSegment) Clone() TranscriptSegment {
	if s.Words != nil {
		words := make([]WordTiming, len(s.Words))
		copy(words, s.Words)
		s.Words = words
	}
	return s
}

// TranscriptEvent is the record handed off to downstream claim-detection stages.
type TranscriptEvent struct {
	EventType  string       `json:"eventType"`
	SessionID  string       `json:"sessionId"`
	Principal  string       `json:"principal"`
	Provider   string       `json:"provider"`
	Mode       string       `json:"mode"`
	Text       string       `json:"text"`
	Confidence float64      `json:"confidence"`
	IsFinal    bool         `json:"isFinal"`
	StartTimeS float64      `json:"startTime"`
	EndTimeS   float64      `json:"endTime"`
	Words      []WordTiming `json:"words,omitempty"`
	Timestamp  int64        `json:"timestamp"`
}

// NewTranscriptEvent builds the hand-off record for a segment.
func NewTranscriptEvent(sessionID, principal, provider, mode string, seg TranscriptSegment) TranscriptEvent {
	eventType := EventTypePartial
	if seg.IsFinal {
		eventType = EventTypeFinal
	}
	ts := seg.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return TranscriptEvent{
		EventType:  eventType,
		SessionID:  sessionID,
		Principal:  principal,
		Provider:   provider,
		Mode:       mode,
		Text:       seg.Text,
		Confidence: seg.Confidence,
		IsFinal:    seg.IsFinal,
		StartTimeS: seg.StartTimeS,
		EndTimeS:   seg.EndTimeS,
		Words:      seg.Words,
		Timestamp:  ts.UnixMilli(),
	}
}
