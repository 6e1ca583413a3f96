package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"transcription-stream-service/internal/models"
	"transcription-stream-service/internal/service/stt"
)

var errNotStarted = errors.New("deepgram: adapter not started")

// Adapter is one Deepgram streaming connection.
type Adapter struct {
	cfg    Config
	dialer *websocket.Dialer
	log    zerolog.Logger

	mu   sync.Mutex // guards conn
	conn *websocket.Conn

	// writeMu serializes data frames from SendAudio, Finish and the keep-alive loop.
	writeMu   sync.Mutex
	lastWrite atomic.Int64
	finished  atomic.Bool

	closed    chan struct{}
	closeOnce sync.Once
}

func newAdapter(cfg Config, dialer *websocket.Dialer, logger zerolog.Logger) *Adapter {
	return &Adapter{
		cfg:    cfg,
		dialer: dialer,
		log:    logger,
		closed: make(chan struct{}),
	}
}

// Start dials the streaming endpoint with the stream parameters in the query.
func (a *Adapter) Start(ctx context.Context, format models.AudioFormat) error {
	wsURL, err := StreamURL(a.cfg, format)
	if err != nil {
		return stt.NewError(Name, stt.ErrProtocolViolation, fmt.Errorf("build stream url: %w", err))
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+a.cfg.APIKey)

	a.log.Debug().Str("model", a.cfg.Model).Str("format", format.String()).Msg("Connecting to Deepgram")
	conn, resp, err := a.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if resp != nil {
			a.log.Warn().Int("status", resp.StatusCode).Msg("Deepgram rejected the stream")
			return stt.NewError(Name, classifyStatus(resp.StatusCode), fmt.Errorf("websocket upgrade: status %d: %w", resp.StatusCode, err))
		}
		return stt.NewError(Name, stt.ErrBackendUnavailable, fmt.Errorf("websocket dial: %w", err))
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	a.lastWrite.Store(time.Now().UnixNano())

	select {
	case <-a.closed:
		_ = conn.Close()
		return stt.NewError(Name, stt.ErrBackendUnavailable, errors.New("closed during connect"))
	default:
	}

	if a.cfg.KeepAlive > 0 {
		go a.keepAlive(a.cfg.KeepAlive)
	}
	return nil
}

func (a *Adapter) connection() *websocket.Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

// Listen reads messages until the backend closes the stream.
func (a *Adapter) Listen(cb stt.Callback) error {
	conn := a.connection()
	if conn == nil {
		return errNotStarted
	}
	// Deepgram has no explicit acknowledgement: an accepted upgrade means the
	// stream parameters were accepted.
	cb.OnStarted()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return a.readError(err)
		}
		if msgType != websocket.TextMessage {
			return stt.NewError(Name, stt.ErrProtocolViolation, fmt.Errorf("unexpected message type %d", msgType))
		}

		var resp wsResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return stt.NewError(Name, stt.ErrProtocolViolation, fmt.Errorf("parse message: %w", err))
		}

		switch resp.Type {
		case "Results":
			seg, ok := resp.segment()
			if !ok {
				continue
			}
			if err := cb.OnTranscript(seg); err != nil {
				return err
			}
		case "Metadata":
			ev := a.log.Debug()
			if resp.Metadata != nil {
				ev = ev.Str("requestId", resp.Metadata.RequestID).Str("model", resp.Metadata.ModelInfo.Name)
			} else {
				ev = ev.Str("requestId", resp.RequestID)
			}
			ev.Msg("Deepgram metadata")
		case "SpeechStarted":
			a.log.Debug().Float64("timestamp", resp.Start).Msg("Speech started")
		case "UtteranceEnd":
			a.log.Debug().Msg("Utterance end")
		case "Error":
			msg := resp.errorText()
			a.log.Error().Str("error", msg).Msg("Deepgram reported an error")
			return stt.NewError(Name, stt.ErrBackendFailure, errors.New(msg))
		default:
			a.log.Debug().Str("type", resp.Type).Msg("Ignoring unknown message type")
		}
	}
}

func (a *Adapter) readError(err error) error {
	select {
	case <-a.closed:
		// Closed locally; the session knows why.
		return nil
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return nil
	}
	if a.finished.Load() && websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
		return nil
	}
	return stt.NewError(Name, stt.ErrBackendUnavailable, fmt.Errorf("websocket read: %w", err))
}

// SendAudio writes one binary frame. Empty payloads are skipped because
// Deepgram treats an empty frame as end of stream.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	conn := a.connection()
	if conn == nil {
		return errNotStarted
	}
	if err := a.write(ctx, conn, websocket.BinaryMessage, audio); err != nil {
		return stt.NewError(Name, stt.ErrBackendUnavailable, fmt.Errorf("websocket write: %w", err))
	}
	return nil
}

// Finish sends CloseStream. Deepgram flushes its results and then closes.
func (a *Adapter) Finish(ctx context.Context) error {
	conn := a.connection()
	if conn == nil {
		return errNotStarted
	}
	if a.finished.Swap(true) {
		return nil
	}
	data, _ := json.Marshal(msgCloseStream)
	if err := a.write(ctx, conn, websocket.TextMessage, data); err != nil {
		return stt.NewError(Name, stt.ErrBackendUnavailable, fmt.Errorf("send CloseStream: %w", err))
	}
	a.log.Debug().Msg("Sent CloseStream")
	return nil
}

func (a *Adapter) write(ctx context.Context, conn *websocket.Conn, msgType int, data []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	deadline := time.Time{}
	if a.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(a.cfg.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(msgType, data); err != nil {
		return err
	}
	a.lastWrite.Store(time.Now().UnixNano())
	return nil
}

// keepAlive sends KeepAlive whenever nothing was written for a full interval.
func (a *Adapter) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	data, _ := json.Marshal(msgKeepAlive)
	for {
		select {
		case <-a.closed:
			return
		case <-ticker.C:
			if a.finished.Load() {
				return
			}
			idle := time.Since(time.Unix(0, a.lastWrite.Load()))
			if idle < interval {
				continue
			}
			conn := a.connection()
			if conn == nil {
				continue
			}
			if err := a.write(context.Background(), conn, websocket.TextMessage, data); err != nil {
				a.log.Debug().Err(err).Msg("KeepAlive failed")
				return
			}
		}
	}
}

// Close sends a close frame and tears down the socket. It does not wait for
// Listen; the pending read fails and Listen returns.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.closed)
		conn := a.connection()
		if conn == nil {
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	return nil
}
