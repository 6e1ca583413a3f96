// Package audio reads audio from files and capture devices and hands it out
// as chunks.
package audio

import (
	"context"
	"errors"

	"transcription-stream-service/internal/models"
)

// ErrSourceStopped is returned when a stopped source is started again.
var ErrSourceStopped = errors.New("audio source stopped")

// Source produces audio chunks.
type Source interface {
	// Format describes the audio the source produces, as far as it is known.
	Format() models.AudioFormat

	// Start begins producing. The chunk channel is closed when the source is
	// exhausted or stopped; at most one error is delivered.
	Start(ctx context.Context) (<-chan []byte, <-chan error, error)

	// Stop ends production early.
	Stop() error
}

// Pump starts src and forwards every chunk to send until the source is
// exhausted. It returns the first error from either side.
func Pump(ctx context.Context, src Source, send func(context.Context, []byte) error) error {
	chunks, errCh, err := src.Start(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = src.Stop() }()

	for chunk := range chunks {
		if err := send(ctx, chunk); err != nil {
			return err
		}
	}
	if err, ok := <-errCh; ok && err != nil {
		return err
	}
	return nil
}
