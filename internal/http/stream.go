package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"transcription-stream-service/internal/models"
	"transcription-stream-service/internal/service/format"
	"transcription-stream-service/internal/service/relay"
	"transcription-stream-service/internal/service/transcription"
)

const (
	writeWait      = 5 * time.Second
	closeGrace     = time.Second
	mockModeNote   = "Using mock transcription"
	readyMessage   = "Ready to receive audio"
	maxMessageSize = 1 << 20
)

// streamConn is one WebSocket client of /api/stream. At most one
// transcription stream runs per connection.
type streamConn struct {
	h   *Handler
	ws  *websocket.Conn
	log zerolog.Logger

	writeMu sync.Mutex
	stream  *transcription.Stream
}

// stream handles GET /api/stream.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxMessageSize)

	c := &streamConn{
		h:   h,
		ws:  ws,
		log: h.log.With().Str("remote", r.RemoteAddr).Logger(),
	}
	c.log.Info().Msg("Stream client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := c.write(statusMessage{
		Type:             "status",
		Status:           "connected",
		Message:          readyMessage,
		SupportedFormats: format.SupportedMimetypes(),
	}); err != nil {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx, g) })
	if err := g.Wait(); err != nil {
		c.log.Warn().Err(err).Msg("Stream connection ended with error")
		return
	}
	c.log.Info().Msg("Stream client disconnected")
}

// readLoop dispatches client frames until the socket closes. The event
// forwarder is started on g once a stream exists.
func (c *streamConn) readLoop(ctx context.Context, g *errgroup.Group) error {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.stream != nil {
				c.stream.Cancel()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				c.log.Debug().Err(err).Msg("WebSocket read ended")
			}
			return nil
		}

		switch kind {
		case websocket.BinaryMessage:
			if c.stream == nil {
				if !c.start(ctx, g, models.AudioFormat{}) {
					continue
				}
			}
			if err := c.stream.Send(ctx, data); err != nil {
				c.log.Warn().Err(err).Str("sessionId", c.stream.ID()).Msg("Failed to forward audio")
				_ = c.write(errorMessage{Type: "error", Error: err.Error()})
			}
		case websocket.TextMessage:
			c.command(ctx, g, data)
		}
	}
}

func (c *streamConn) command(ctx context.Context, g *errgroup.Group, data []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		_ = c.write(errorMessage{Type: "error", Error: "Invalid JSON"})
		return
	}

	switch cmd.Command {
	case "start":
		if c.stream != nil {
			_ = c.write(statusMessage{Status: "already_started"})
			return
		}
		c.start(ctx, g, cmd.AudioFormat)
	case "stop":
		if c.stream == nil {
			_ = c.write(errorMessage{Type: "error", Error: "No active stream"})
			return
		}
		if err := c.stream.Stop(ctx); err != nil {
			_ = c.write(errorMessage{Type: "error", Error: err.Error()})
		}
	default:
		_ = c.write(errorMessage{Error: "Unknown command: " + cmd.Command})
	}
}

// start opens the transcription stream and replies "started". It reports
// whether a stream is now running.
func (c *streamConn) start(ctx context.Context, g *errgroup.Group, declared models.AudioFormat) bool {
	st, err := c.h.svc.TranscribeStream(ctx, declared, "")
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to start stream")
		_ = c.write(errorMessage{Type: "error", Error: err.Error()})
		return false
	}
	c.stream = st
	c.log = c.log.With().Str("sessionId", st.ID()).Str("sttProvider", st.Provider()).Logger()

	resolved := st.Format()
	reply := statusMessage{Status: "started", AudioFormat: &resolved}
	if st.Mode() == transcription.ModeMock {
		reply.Note = mockModeNote
	}
	_ = c.write(reply)
	c.log.Info().Str("format", resolved.String()).Str("mode", st.Mode()).Msg("Stream started")

	g.Go(func() error { return c.forward(ctx, st) })
	return true
}

// forward maps relay events onto the socket and closes it after the
// terminal event.
func (c *streamConn) forward(ctx context.Context, st *transcription.Stream) error {
	for ev := range st.Events() {
		var err error
		switch ev.Kind {
		case relay.KindConnected:
			err = c.write(statusMessage{Status: "session_connected"})
		case relay.KindStarted:
			c.log.Debug().Msg("Provider stream started")
		case relay.KindTranscript:
			if perr := c.h.publisher.PublishSegment(ctx, st.ID(), st.Provider(), st.Mode(), ev.Segment); perr != nil {
				c.log.Warn().Err(perr).Msg("Failed to publish transcript")
			}
			err = c.write(newTranscriptMessage(ev.Segment))
		case relay.KindError:
			_ = c.write(errorMessage{Type: "error", Error: ev.Message})
			c.close(websocket.CloseInternalServerErr, "transcription failed")
			return nil
		case relay.KindClosed:
			_ = c.write(statusMessage{Status: "closed"})
			c.close(websocket.CloseNormalClosure, "")
			return nil
		}
		if err != nil {
			c.log.Debug().Err(err).Msg("Client went away, cancelling stream")
			st.Cancel()
		}
	}
	return nil
}

func (c *streamConn) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// close sends a close frame and shuts the socket, which ends readLoop.
func (c *streamConn) close(code int, reason string) {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(closeGrace))
	c.writeMu.Unlock()
	_ = c.ws.Close()
}
