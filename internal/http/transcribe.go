package http

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"transcription-stream-service/internal/models"
	"transcription-stream-service/internal/service/format"
	"transcription-stream-service/internal/service/stt"
	"transcription-stream-service/internal/service/transcription"
)

// transcribe handles POST /api/transcribe. The audio is either the multipart
// field "file" or the raw request body.
func (h *Handler) transcribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.uploadMaxBytes)

	data, mimetype, name, err := readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "No audio provided")
		return
	}

	if mimetype == "" || mimetype == "application/octet-stream" {
		mimetype = format.MimetypeForPath(name)
	}
	if !format.IsSupportedMimetype(mimetype) {
		writeError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("Unsupported file type: %s. Supported types: %s",
			mimetype, strings.Join(format.SupportedMimetypes(), ", ")))
		return
	}

	declared, err := declaredFormat(r, mimetype)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log := h.log.With().Str("file", name).Str("mimetype", mimetype).Int("bytes", len(data)).Logger()
	segs, err := h.svc.TranscribeBytes(r.Context(), data, declared, name)
	if err != nil {
		log.Error().Err(err).Msg("Transcription failed")
		writeError(w, statusFor(err), err.Error())
		return
	}

	sessionID := uuid.NewString()
	out := make([]transcriptMessage, 0, len(segs))
	for _, seg := range segs {
		if perr := h.publisher.PublishSegment(r.Context(), sessionID, h.svc.ProviderName(), h.svc.Mode(), seg); perr != nil {
			log.Warn().Err(perr).Msg("Failed to publish transcript")
		}
		out = append(out, newTranscriptMessage(seg))
	}
	log.Info().Int("segments", len(out)).Str("sessionId", sessionID).Msg("File transcribed")
	writeJSON(w, http.StatusOK, out)
}

func readUpload(r *http.Request) (data []byte, mimetype, name string, err error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, "", "", err
			}
			return nil, "", "", fmt.Errorf("missing form field %q", "file")
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", "", err
		}
		partType, _, _ := mime.ParseMediaType(header.Header.Get("Content-Type"))
		return data, partType, header.Filename, nil
	}

	data, err = io.ReadAll(r.Body)
	if err != nil {
		return nil, "", "", err
	}
	return data, ct, r.URL.Query().Get("filename"), nil
}

// declaredFormat reads the optional encoding, sample_rate and channels query
// parameters on top of the upload's mimetype.
func declaredFormat(r *http.Request, mimetype string) (models.AudioFormat, error) {
	q := r.URL.Query()
	f := models.AudioFormat{
		ContainerMimetype: mimetype,
		Encoding:          models.Encoding(strings.ToLower(q.Get("encoding"))),
	}
	for key, dst := range map[string]*int{"sample_rate": &f.SampleRateHz, "channels": &f.Channels} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("invalid %s: %q", key, v)
		}
		*dst = n
	}
	return f, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, format.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, transcription.ErrCancelled):
		return http.StatusRequestTimeout
	case errors.Is(err, stt.ErrAuthenticationFailed), errors.Is(err, stt.ErrProtocolViolation), errors.Is(err, stt.ErrBackendFailure):
		return http.StatusBadGateway
	case errors.Is(err, stt.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
