package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	grpcapi "transcription-stream-service/internal/api/grpc"
	"transcription-stream-service/internal/app"
	apihttp "transcription-stream-service/internal/http"
	"transcription-stream-service/internal/observability"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(current func() *app.Application) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, WebSocket and gRPC servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), current())
		},
	}
}

func serve(parent context.Context, application *app.Application) error {
	if parent == nil {
		parent = context.Background()
	}
	if err := application.Start(); err != nil {
		return err
	}
	defer application.Shutdown()

	injector := newInjector(application)
	httpSrv, err := do.Invoke[*apihttp.Server](injector)
	if err != nil {
		return err
	}
	grpcSrv, err := do.Invoke[*grpcapi.Server](injector)
	if err != nil {
		return err
	}

	var obs *observability.Server
	if application.Cfg.Observability.MetricsEnabled {
		obs = do.MustInvoke[*observability.Server](injector)
		obs.Start()
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpSrv.ListenAndServe)
	g.Go(grpcSrv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if report := injector.ShutdownWithContext(shutdownCtx); report != nil && !report.Succeed {
			log.Error().Str("report", report.Error()).Msg("Some components failed to shut down")
		}
		return nil
	})

	if obs != nil {
		obs.SetReady(true)
	}
	log.Info().
		Str("http", httpSrv.Addr()).
		Str("grpcPort", application.Cfg.Service.GRPCPort).
		Str("metricsPort", application.Cfg.Service.MetricsPort).
		Msg("Transcription stream service ready")

	return g.Wait()
}
