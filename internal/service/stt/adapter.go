// Package stt defines the contracts every speech-to-text provider implements.
package stt

import (
	"context"

	"transcription-stream-service/internal/models"
)

// Callback receives recognition events from an Adapter's receive loop.
type Callback interface {
	// OnStarted is called once the backend has accepted the stream parameters.
	OnStarted()

	// OnTranscript is called for each interim or final segment, in backend
	// order. A non-nil return aborts the receive loop with that error.
	OnTranscript(seg models.TranscriptSegment) error
}

// Adapter is one duplex streaming connection to a provider.
//
// Start and Close may be called from any goroutine. Listen runs on a single
// dedicated goroutine. SendAudio and Finish are never called concurrently with
// each other.
type Adapter interface {
	// Start opens the transport and sends the stream parameters.
	// Failures are *ProviderError values.
	Start(ctx context.Context, format models.AudioFormat) error

	// Listen receives backend messages until the stream ends. It returns nil
	// when the backend closes the stream normally after Finish.
	Listen(cb Callback) error

	// SendAudio forwards one audio payload.
	SendAudio(ctx context.Context, audio []byte) error

	// Finish sends the stop-control message; buffered results still arrive.
	Finish(ctx context.Context) error

	// Close releases the transport and unblocks Listen. Idempotent.
	Close() error
}

// Provider creates streaming adapters and serves one-shot batch requests.
type Provider interface {
	Name() string

	// NewAdapter returns an unstarted streaming adapter.
	NewAdapter(ctx context.Context) (Adapter, error)

	// Transcribe uploads a complete payload and returns final segments
	// ordered by start time.
	Transcribe(ctx context.Context, audio []byte, format models.AudioFormat) ([]models.TranscriptSegment, error)
}
