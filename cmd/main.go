package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"transcription-stream-service/internal/app"
	"transcription-stream-service/internal/config"
)

// rootOptions are flags shared by every command.
type rootOptions struct {
	provider string
	mock     bool
	debug    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	var application *app.Application

	root := &cobra.Command{
		Use:           "transcription-stream-service",
		Short:         "Streaming and batch speech-to-text service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := opts.apply(cmd, cfg); err != nil {
				return err
			}
			application = app.New(cfg)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.provider, "provider", "", "speech backend: deepgram, google or mock (overrides STT_PROVIDER)")
	root.PersistentFlags().BoolVar(&opts.mock, "mock", false, "force mock transcription (overrides MOCK_TRANSCRIPTION)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	current := func() *app.Application { return application }
	root.AddCommand(
		newServeCmd(current),
		newTranscribeCmd(current),
		newListenCmd(current),
		newPlayCmd(current),
		newTailCmd(current),
	)
	return root
}

func (o *rootOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("provider") {
		cfg.STT.Provider = strings.ToLower(strings.TrimSpace(o.provider))
	}
	if cmd.Flags().Changed("mock") {
		cfg.STT.MockTranscription = o.mock
	}
	if o.debug {
		cfg.Service.Debug = true
		cfg.Observability.LogLevel = "debug"
	}
	return cfg.Validate()
}
