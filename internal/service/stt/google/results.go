package google

import (
	"sort"
	"strings"

	"cloud.google.com/go/speech/apiv1/speechpb"

	"transcription-stream-service/internal/models"
)

// streamingSegment converts one streaming result. Results carry only their end
// offset, so the start is the first word's offset or else prevEnd.
func streamingSegment(r *speechpb.StreamingRecognitionResult, prevEnd float64) (models.TranscriptSegment, bool) {
	alts := r.GetAlternatives()
	if len(alts) == 0 || strings.TrimSpace(alts[0].GetTranscript()) == "" {
		return models.TranscriptSegment{}, false
	}
	alt := alts[0]
	seg := models.TranscriptSegment{
		Text:       strings.TrimSpace(alt.GetTranscript()),
		Confidence: float64(alt.GetConfidence()),
		IsFinal:    r.GetIsFinal(),
		Words:      convertWords(alt.GetWords()),
	}
	if !seg.IsFinal {
		// Interim confidence is unset; stability is the nearest measure.
		seg.Confidence = float64(r.GetStability())
	}
	seg.StartTimeS, seg.EndTimeS = span(seg.Words, prevEnd, r.GetResultEndTime().AsDuration().Seconds())
	return seg, true
}

// batchSegments converts a Recognize response into final segments sorted by start.
func batchSegments(results []*speechpb.SpeechRecognitionResult) []models.TranscriptSegment {
	var out []models.TranscriptSegment
	var prevEnd float64
	for _, r := range results {
		alts := r.GetAlternatives()
		if len(alts) == 0 || strings.TrimSpace(alts[0].GetTranscript()) == "" {
			continue
		}
		alt := alts[0]
		seg := models.TranscriptSegment{
			Text:       strings.TrimSpace(alt.GetTranscript()),
			Confidence: float64(alt.GetConfidence()),
			IsFinal:    true,
			Words:      convertWords(alt.GetWords()),
		}
		seg.StartTimeS, seg.EndTimeS = span(seg.Words, prevEnd, r.GetResultEndTime().AsDuration().Seconds())
		prevEnd = seg.EndTimeS
		out = append(out, seg)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTimeS < out[j].StartTimeS })
	return out
}

func span(words []models.WordTiming, prevEnd, resultEnd float64) (float64, float64) {
	start, end := prevEnd, resultEnd
	if n := len(words); n > 0 {
		start = words[0].StartTimeS
		if words[n-1].EndTimeS > end {
			end = words[n-1].EndTimeS
		}
	}
	if end < start {
		end = start
	}
	return start, end
}

func convertWords(in []*speechpb.WordInfo) []models.WordTiming {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.WordTiming, len(in))
	for i, w := range in {
		out[i] = models.WordTiming{
			Word:           strings.ToLower(strings.Trim(w.GetWord(), ".,?!;:")),
			PunctuatedWord: w.GetWord(),
			StartTimeS:     w.GetStartTime().AsDuration().Seconds(),
			EndTimeS:       w.GetEndTime().AsDuration().Seconds(),
			Confidence:     float64(w.GetConfidence()),
		}
	}
	return out
}
