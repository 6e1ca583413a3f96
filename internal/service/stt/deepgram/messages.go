package deepgram

import (
	"fmt"
	"sort"

	"transcription-stream-service/internal/models"
)

// Control messages sent as text frames.
type controlMessage struct {
	Type string `json:"type"`
}

var (
	msgKeepAlive   = controlMessage{Type: "KeepAlive"}
	msgCloseStream = controlMessage{Type: "CloseStream"}
)

// wsResponse is any message received on the streaming socket.
type wsResponse struct {
	Type        string      `json:"type"`
	Channel     *channel    `json:"channel,omitempty"`
	Metadata    *metadata   `json:"metadata,omitempty"`
	Start       float64     `json:"start"`
	Duration    float64     `json:"duration"`
	IsFinal     bool        `json:"is_final"`
	SpeechFinal bool        `json:"speech_final"`
	RequestID   string      `json:"request_id,omitempty"`
	Message     string      `json:"message,omitempty"`
	Description string      `json:"description,omitempty"`
	Error       *errPayload `json:"error,omitempty"`
}

type channel struct {
	Alternatives []alternative `json:"alternatives"`
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []word  `json:"words"`
}

type word struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
}

type metadata struct {
	RequestID string `json:"request_id"`
	ModelInfo struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"model_info"`
}

type errPayload struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}

// errorText extracts the backend's message from an Error response in either
// the flat or the nested shape.
func (r *wsResponse) errorText() string {
	msg, desc := r.Message, r.Description
	if r.Error != nil {
		msg, desc = r.Error.Message, r.Error.Description
	}
	switch {
	case msg != "" && desc != "":
		return fmt.Sprintf("%s: %s", msg, desc)
	case msg != "":
		return msg
	case desc != "":
		return desc
	}
	return "unspecified error"
}

// segment converts a Results message. ok is false for empty transcripts.
func (r *wsResponse) segment() (models.TranscriptSegment, bool) {
	if r.Channel == nil || len(r.Channel.Alternatives) == 0 {
		return models.TranscriptSegment{}, false
	}
	alt := r.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return models.TranscriptSegment{}, false
	}
	return models.TranscriptSegment{
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
		IsFinal:    r.IsFinal,
		StartTimeS: r.Start,
		EndTimeS:   r.Start + r.Duration,
		Words:      convertWords(alt.Words),
	}, true
}

func convertWords(in []word) []models.WordTiming {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.WordTiming, len(in))
	for i, w := range in {
		out[i] = models.WordTiming{
			Word:           w.Word,
			PunctuatedWord: w.PunctuatedWord,
			StartTimeS:     w.Start,
			EndTimeS:       w.End,
			Confidence:     w.Confidence,
		}
	}
	return out
}

// batchResponse is the pre-recorded API response.
type batchResponse struct {
	Results *batchResults `json:"results"`
	Error   *errPayload   `json:"error,omitempty"`
}

type batchResults struct {
	Utterances []utterance `json:"utterances"`
	Channels   []channel   `json:"channels"`
}

type utterance struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Words      []word  `json:"words"`
}

// segments prefers utterances and falls back to the first alternative of the
// first channel, timed by its words. The result is sorted by start time.
func (r *batchResponse) segments() []models.TranscriptSegment {
	if r.Results == nil {
		return nil
	}
	var out []models.TranscriptSegment
	if len(r.Results.Utterances) > 0 {
		for _, u := range r.Results.Utterances {
			if u.Transcript == "" {
				continue
			}
			out = append(out, models.TranscriptSegment{
				Text:       u.Transcript,
				Confidence: u.Confidence,
				IsFinal:    true,
				StartTimeS: u.Start,
				EndTimeS:   u.End,
				Words:      convertWords(u.Words),
			})
		}
	} else if len(r.Results.Channels) > 0 && len(r.Results.Channels[0].Alternatives) > 0 {
		alt := r.Results.Channels[0].Alternatives[0]
		if alt.Transcript != "" {
			seg := models.TranscriptSegment{
				Text:       alt.Transcript,
				Confidence: alt.Confidence,
				IsFinal:    true,
				Words:      convertWords(alt.Words),
			}
			if n := len(alt.Words); n > 0 {
				seg.StartTimeS = alt.Words[0].Start
				seg.EndTimeS = alt.Words[n-1].End
			}
			out = append(out, seg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTimeS < out[j].StartTimeS })
	return out
}
