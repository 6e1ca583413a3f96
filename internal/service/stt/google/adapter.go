package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"

	"transcription-stream-service/internal/models"
	"transcription-stream-service/internal/service/stt"
)

// Adapter is one StreamingRecognize call.
type Adapter struct {
	cfg    Config
	client *speech.Client
	log    zerolog.Logger

	mu     sync.Mutex // guards stream and cancel
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc

	finished  atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once
}

func newAdapter(cfg Config, client *speech.Client, logger zerolog.Logger) *Adapter {
	return &Adapter{
		cfg:    cfg,
		client: client,
		log:    logger,
		closed: make(chan struct{}),
	}
}

// Start opens the call and sends the streaming config as the first message.
// The call outlives ctx; Close ends it.
func (a *Adapter) Start(ctx context.Context, format models.AudioFormat) error {
	rc, err := recognitionConfig(a.cfg, format)
	if err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := a.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classify(err)
	}

	a.mu.Lock()
	a.stream = stream
	a.cancel = cancel
	a.mu.Unlock()

	select {
	case <-a.closed:
		cancel()
		return stt.NewError(Name, stt.ErrBackendUnavailable, errors.New("closed during connect"))
	default:
	}

	a.log.Debug().Str("language", a.cfg.LanguageCode).Str("format", format.String()).Msg("Opening Google stream")
	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         rc,
				InterimResults: a.cfg.InterimResults,
			},
		},
	})
	if err != nil {
		cancel()
		return classify(a.sendError(stream, err))
	}
	return nil
}

// sendError recovers the call status when Send reports io.EOF.
func (a *Adapter) sendError(stream speechpb.Speech_StreamingRecognizeClient, err error) error {
	if !errors.Is(err, io.EOF) {
		return err
	}
	if _, rerr := stream.Recv(); rerr != nil && !errors.Is(rerr, io.EOF) {
		return rerr
	}
	return err
}

func (a *Adapter) current() speechpb.Speech_StreamingRecognizeClient {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream
}

// Listen receives responses until the server half-closes.
func (a *Adapter) Listen(cb stt.Callback) error {
	stream := a.current()
	if stream == nil {
		return errNotStarted
	}
	cb.OnStarted()

	var lastEnd float64
	for {
		resp, err := stream.Recv()
		if err != nil {
			return a.recvError(err)
		}
		if e := resp.GetError(); e != nil && e.GetCode() != 0 {
			a.log.Error().Int32("code", e.GetCode()).Str("error", e.GetMessage()).Msg("Google reported an error")
			return stt.NewError(Name, stt.ErrBackendFailure, errors.New(e.GetMessage()))
		}

		for _, r := range resp.GetResults() {
			seg, ok := streamingSegment(r, lastEnd)
			if !ok {
				continue
			}
			if seg.IsFinal {
				lastEnd = seg.EndTimeS
			}
			if err := cb.OnTranscript(seg); err != nil {
				return err
			}
		}
	}
}

func (a *Adapter) recvError(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	select {
	case <-a.closed:
		return nil
	default:
	}
	return classify(err)
}

// SendAudio sends one AudioContent message.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	stream := a.current()
	if stream == nil {
		return errNotStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: audio},
	})
	if err != nil {
		// The real status surfaces on Recv in Listen.
		return stt.NewError(Name, stt.ErrBackendUnavailable, fmt.Errorf("send audio: %w", err))
	}
	return nil
}

// Finish half-closes the call. The server flushes its results and ends it.
func (a *Adapter) Finish(ctx context.Context) error {
	stream := a.current()
	if stream == nil {
		return errNotStarted
	}
	if a.finished.Swap(true) {
		return nil
	}
	if err := stream.CloseSend(); err != nil {
		return stt.NewError(Name, stt.ErrBackendUnavailable, fmt.Errorf("close send: %w", err))
	}
	a.log.Debug().Msg("Half-closed Google stream")
	return nil
}

// Close cancels the call, which unblocks Listen.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.closed)
		a.mu.Lock()
		cancel := a.cancel
		a.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
	return nil
}
