package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"transcription-stream-service/internal/models"
	"transcription-stream-service/internal/service/stt"
)

// maxErrorBody bounds how much of an error response is kept for the message.
const maxErrorBody = 4096

// Transcribe posts the whole payload to the pre-recorded endpoint.
func (p *Provider) Transcribe(ctx context.Context, data []byte, format models.AudioFormat) ([]models.TranscriptSegment, error) {
	apiURL, err := BatchURL(p.cfg, format)
	if err != nil {
		return nil, stt.NewError(Name, stt.ErrProtocolViolation, fmt.Errorf("build batch url: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	contentType := format.ContainerMimetype
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Authorization", "Token "+p.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, stt.NewError(Name, stt.ErrBackendUnavailable, fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		p.log.Warn().Int("status", resp.StatusCode).Str("body", string(body)).Msg("Deepgram batch request failed")
		return nil, stt.NewError(Name, classifyStatus(resp.StatusCode),
			fmt.Errorf("deepgram api error (status %d): %s", resp.StatusCode, bytes.TrimSpace(body)))
	}

	var result batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, stt.NewError(Name, stt.ErrProtocolViolation, fmt.Errorf("parse response: %w", err))
	}
	if result.Error != nil {
		return nil, stt.NewError(Name, stt.ErrBackendFailure, errors.New(result.Error.Message))
	}

	segs := result.segments()
	p.log.Info().
		Int("bytes", len(data)).
		Str("contentType", contentType).
		Int("segments", len(segs)).
		Dur("latency", time.Since(start)).
		Msg("Deepgram batch transcription complete")
	return segs, nil
}
