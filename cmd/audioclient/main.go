// Command audioclient streams a WAV file to the /api/stream WebSocket in real
// time and prints what the service sends back.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"transcription-stream-service/internal/models"
	"transcription-stream-service/internal/service/audio"
)

type options struct {
	server  string
	chunkMs int
	speed   float64
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	opts := options{}
	cmd := &cobra.Command{
		Use:          "audioclient <file.wav>",
		Short:        "Stream a WAV file to the transcription WebSocket",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "ws://localhost:8000/api/stream", "stream endpoint")
	cmd.Flags().IntVar(&opts.chunkMs, "chunk-ms", 100, "audio per frame in milliseconds")
	cmd.Flags().Float64Var(&opts.speed, "speed", 1.0, "playback speed multiplier")

	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("audioclient failed")
		os.Exit(1)
	}
}

func run(opts options, path string) error {
	if opts.speed <= 0 || opts.chunkMs <= 0 {
		return fmt.Errorf("speed and chunk-ms must be positive")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	hdr, err := audio.ParseWAV(data)
	if err != nil {
		return err
	}
	if !hdr.Format.Encoding.IsRaw() {
		return fmt.Errorf("%s: encoding %s cannot be streamed as raw audio", path, hdr.Format.Encoding)
	}
	pcm := data[hdr.DataOffset : hdr.DataOffset+hdr.DataSize]
	log.Info().Str("file", path).Str("format", hdr.Format.String()).Float64("seconds", hdr.Duration()).Msg("WAV loaded")

	ws, _, err := websocket.DefaultDialer.Dial(opts.server, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.server, err)
	}
	defer ws.Close()
	log.Info().Str("server", opts.server).Msg("Connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		readReplies(ws)
	}()

	raw := hdr.Format
	raw.ContainerMimetype = "audio/raw"
	if err := ws.WriteJSON(map[string]any{"command": "start", "audio_format": raw}); err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	chunk := raw.BytesPerSecond() * opts.chunkMs / 1000
	if chunk <= 0 {
		chunk = audio.DefaultChunkSize
	}
	interval := time.Duration(float64(opts.chunkMs) * float64(time.Millisecond) / opts.speed)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sent := 0
send:
	for sent < len(pcm) {
		end := min(sent+chunk, len(pcm))
		if err := ws.WriteMessage(websocket.BinaryMessage, pcm[sent:end]); err != nil {
			return err
		}
		sent = end
		select {
		case <-ticker.C:
		case <-interrupt:
			log.Info().Msg("Interrupted, stopping stream")
			break send
		case <-done:
			return nil
		}
	}
	log.Info().Int("bytes", sent).Msg("Audio sent, stopping")

	if err := ws.WriteJSON(map[string]string{"command": "stop"}); err != nil {
		return err
	}
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Timed out waiting for the stream to close")
	}
	return nil
}

func readReplies(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Connection closed")
			}
			return
		}

		var msg struct {
			Type       string              `json:"type"`
			Status     string              `json:"status"`
			Error      string              `json:"error"`
			Note       string              `json:"note"`
			Transcript string              `json:"transcript"`
			IsFinal    bool                `json:"is_final"`
			Format     *models.AudioFormat `json:"audio_format"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Msg("Undecodable reply")
			continue
		}
		switch {
		case msg.Type == "transcript" && msg.IsFinal:
			fmt.Printf("\nFinal: %s\n", msg.Transcript)
		case msg.Type == "transcript":
			fmt.Printf("\rInterim: %s", msg.Transcript)
		case msg.Error != "":
			log.Error().Str("error", msg.Error).Msg("Server error")
		default:
			ev := log.Info().Str("status", msg.Status)
			if msg.Format != nil {
				ev = ev.Str("format", msg.Format.String())
			}
			if msg.Note != "" {
				ev = ev.Str("note", msg.Note)
			}
			ev.Msg("Server status")
		}
	}
}
