package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"transcription-stream-service/internal/app"
	"transcription-stream-service/internal/events"
	"transcription-stream-service/internal/models"
)

func newTailCmd(current func() *app.Application) *cobra.Command {
	var finalsOnly bool

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print transcript events published to Kafka",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			consumer, err := events.NewConsumer(kafkaConfig(current().Cfg))
			if err != nil {
				return err
			}
			defer consumer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return tail(ctx, consumer, finalsOnly, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&finalsOnly, "finals-only", false, "skip interim transcripts")
	return cmd
}

func tail(ctx context.Context, consumer *events.Consumer, finalsOnly bool, out io.Writer) error {
	return consumer.Run(ctx, func(ev models.TranscriptEvent) error {
		if finalsOnly && !ev.IsFinal {
			return nil
		}
		kind := "interim"
		if ev.IsFinal {
			kind = "final"
		}
		ts := time.UnixMilli(ev.Timestamp).Format(time.TimeOnly)
		_, err := fmt.Fprintf(out, "%s [%s] %s/%s %s: %s\n", ts, kind, ev.Provider, ev.Mode, ev.SessionID, ev.Text)
		return err
	})
}
