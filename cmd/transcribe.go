package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"transcription-stream-service/internal/app"
	"transcription-stream-service/internal/events"
	"transcription-stream-service/internal/models"
	"transcription-stream-service/internal/service/audio"
	"transcription-stream-service/internal/service/relay"
	"transcription-stream-service/internal/service/transcription"
)

type formatFlags struct {
	mimetype   string
	encoding   string
	sampleRate int
	channels   int
}

func (f *formatFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.mimetype, "mimetype", "", "container mimetype, e.g. audio/wav (detected when empty)")
	cmd.Flags().StringVar(&f.encoding, "encoding", "", "sample encoding, e.g. linear16")
	cmd.Flags().IntVar(&f.sampleRate, "sample-rate", 0, "sample rate in Hz")
	cmd.Flags().IntVar(&f.channels, "channels", 0, "channel count")
}

func (f *formatFlags) format() models.AudioFormat {
	return models.AudioFormat{
		ContainerMimetype: f.mimetype,
		Encoding:          models.Encoding(f.encoding),
		SampleRateHz:      f.sampleRate,
		Channels:          f.channels,
	}
}

func newTranscribeCmd(current func() *app.Application) *cobra.Command {
	var ff formatFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Transcribe an audio file in one request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			injector := newInjector(current())
			defer injector.Shutdown()
			svc, err := do.Invoke[*transcription.Service](injector)
			if err != nil {
				return err
			}

			segs, err := svc.TranscribeFile(ctx, args[0], ff.format())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(segs)
			}
			for _, seg := range segs {
				fmt.Fprintf(out, "[%7.2fs - %7.2fs] %s\n", seg.StartTimeS, seg.EndTimeS, seg.Text)
			}
			return nil
		},
	}
	ff.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print segments as JSON")
	return cmd
}

func newListenCmd(current func() *app.Application) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Transcribe live microphone audio until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application := current()
			capCfg := audio.DefaultCaptureConfig()
			capCfg.Command = application.Cfg.Audio.CaptureCommand
			capCfg.Device = application.Cfg.Audio.CaptureDevice
			capCfg.ChunkSize = application.Cfg.Audio.ChunkSize

			src, err := audio.NewCaptureSource(capCfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "Listening... press Ctrl+C to stop.")
			return streamSource(cmd.Context(), application, src, cmd.OutOrStdout())
		},
	}
}

func newPlayCmd(current func() *app.Application) *cobra.Command {
	var ff formatFlags
	var speed float64

	cmd := &cobra.Command{
		Use:   "play <file>",
		Short: "Stream an audio file through the streaming engine at real-time pace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application := current()
			src, err := audio.NewFileSource(args[0], audio.FileOptions{
				ChunkSize: application.Cfg.Audio.ChunkSize,
				Speed:     speed,
			})
			if err != nil {
				return err
			}
			return streamSource(cmd.Context(), application, withDeclared(src, ff.format()), cmd.OutOrStdout())
		},
	}
	ff.register(cmd)
	cmd.Flags().Float64Var(&speed, "speed", 1.0, "playback speed multiplier; 0 sends as fast as possible")
	return cmd
}

// declaredSource overrides the detected format of a source with the fields
// set on the command line.
type declaredSource struct {
	audio.Source
	declared models.AudioFormat
}

func withDeclared(src audio.Source, declared models.AudioFormat) audio.Source {
	return declaredSource{Source: src, declared: declared}
}

func (s declaredSource) Format() models.AudioFormat {
	f := s.Source.Format()
	if s.declared.ContainerMimetype != "" {
		f.ContainerMimetype = s.declared.ContainerMimetype
	}
	if s.declared.Encoding != "" {
		f.Encoding = s.declared.Encoding
	}
	if s.declared.SampleRateHz > 0 {
		f.SampleRateHz = s.declared.SampleRateHz
	}
	if s.declared.Channels > 0 {
		f.Channels = s.declared.Channels
	}
	return f
}

// streamSource pumps src into a streaming session and prints its
// transcripts until the source ends or the process is interrupted.
func streamSource(parent context.Context, application *app.Application, src audio.Source, out io.Writer) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	injector := newInjector(application)
	defer injector.Shutdown()
	svc, err := do.Invoke[*transcription.Service](injector)
	if err != nil {
		return err
	}
	pub := do.MustInvoke[*events.Publisher](injector)

	// The stream outlives ctx so that an interrupt still drains it.
	st, err := svc.TranscribeStream(context.WithoutCancel(ctx), src.Format(), "")
	if err != nil {
		return err
	}
	log.Info().Str("sessionId", st.ID()).Str("mode", st.Mode()).Str("format", st.Format().String()).Msg("Streaming started")

	printed := make(chan error, 1)
	go func() { printed <- printEvents(context.WithoutCancel(ctx), st, pub, out) }()

	pumpErr := audio.Pump(ctx, src, st.Send)
	if errors.Is(pumpErr, context.Canceled) {
		pumpErr = nil
	}
	if err := st.Stop(context.Background()); err != nil && pumpErr == nil {
		pumpErr = err
	}

	if err := <-printed; err != nil {
		return err
	}
	return pumpErr
}

func printEvents(ctx context.Context, st *transcription.Stream, pub *events.Publisher, out io.Writer) error {
	var failure error
	for ev := range st.Events() {
		switch ev.Kind {
		case relay.KindTranscript:
			seg := ev.Segment
			if err := pub.PublishSegment(ctx, st.ID(), st.Provider(), st.Mode(), seg); err != nil {
				log.Warn().Err(err).Msg("Failed to publish transcript")
			}
			if seg.IsFinal {
				fmt.Fprintf(out, "\nFinal: %s\n", seg.Text)
			} else {
				fmt.Fprintf(out, "\rInterim: %s", seg.Text)
			}
		case relay.KindError:
			failure = ev.Err
		case relay.KindClosed:
			fmt.Fprintln(out)
		}
	}
	return failure
}
