package http

import "transcription-stream-service/internal/models"

// transcriptMessage is the wire shape of one segment on both the upload and
// the stream surfaces.
type transcriptMessage struct {
	Type       string              `json:"type"`
	Transcript string              `json:"transcript"`
	Confidence float64             `json:"confidence"`
	IsFinal    bool                `json:"is_final"`
	Metadata   transcriptMetadata  `json:"metadata"`
	Words      []models.WordTiming `json:"words"`
}

type transcriptMetadata struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

func newTranscriptMessage(seg models.TranscriptSegment) transcriptMessage {
	words := seg.Words
	if words == nil {
		words = []models.WordTiming{}
	}
	return transcriptMessage{
		Type:       "transcript",
		Transcript: seg.Text,
		Confidence: seg.Confidence,
		IsFinal:    seg.IsFinal,
		Metadata:   transcriptMetadata{StartTime: seg.StartTimeS, EndTime: seg.EndTimeS},
		Words:      words,
	}
}

// statusMessage covers the status replies of the stream protocol.
type statusMessage struct {
	Type             string              `json:"type,omitempty"`
	Status           string              `json:"status"`
	Message          string              `json:"message,omitempty"`
	Note             string              `json:"note,omitempty"`
	SupportedFormats []string            `json:"supported_formats,omitempty"`
	AudioFormat      *models.AudioFormat `json:"audio_format,omitempty"`
}

type errorMessage struct {
	Type  string `json:"type,omitempty"`
	Error string `json:"error"`
}

// clientCommand is a text frame sent by a stream client.
type clientCommand struct {
	Command     string             `json:"command"`
	AudioFormat models.AudioFormat `json:"audio_format"`
}
