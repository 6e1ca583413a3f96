package main

import (
	"context"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"

	grpcapi "transcription-stream-service/internal/api/grpc"
	"transcription-stream-service/internal/app"
	"transcription-stream-service/internal/config"
	"transcription-stream-service/internal/events"
	apihttp "transcription-stream-service/internal/http"
	"transcription-stream-service/internal/observability"
	"transcription-stream-service/internal/observability/metrics"
	"transcription-stream-service/internal/service/stt"
	"transcription-stream-service/internal/service/stt/deepgram"
	"transcription-stream-service/internal/service/stt/google"
	"transcription-stream-service/internal/service/stt/mock"
	"transcription-stream-service/internal/service/transcription"
)

// newInjector registers every component the commands may need. Nothing is
// built until it is invoked.
func newInjector(application *app.Application) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, application)
	do.ProvideValue(injector, application.Cfg)
	do.ProvideValue(injector, metrics.DefaultMetrics)

	do.Provide(injector, func(i do.Injector) (*events.Publisher, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return events.New(kafkaConfig(cfg), do.MustInvoke[*metrics.Metrics](i)), nil
	})
	do.Provide(injector, newProvider)
	do.Provide(injector, newTranscriptionService)

	do.Provide(injector, func(i do.Injector) (*apihttp.Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		h := apihttp.NewHandler(
			do.MustInvoke[*app.Application](i),
			do.MustInvoke[*transcription.Service](i),
			do.MustInvoke[*events.Publisher](i),
			do.MustInvoke[*metrics.Metrics](i),
		)
		return apihttp.NewServer(net.JoinHostPort(cfg.Service.Host, cfg.Service.Port), apihttp.NewRouter(h)), nil
	})
	do.Provide(injector, func(i do.Injector) (*grpcapi.Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return grpcapi.New(net.JoinHostPort(cfg.Service.Host, cfg.Service.GRPCPort), do.MustInvoke[*metrics.Metrics](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*observability.Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return observability.NewServer(net.JoinHostPort(cfg.Service.Host, cfg.Service.MetricsPort), prometheus.DefaultGatherer), nil
	})
	return injector
}

func kafkaConfig(cfg *config.Config) *events.Config {
	return &events.Config{
		Enabled:       cfg.Kafka.Enabled,
		Brokers:       cfg.Kafka.Brokers,
		TopicPartial:  cfg.Kafka.TopicPartial,
		TopicFinal:    cfg.Kafka.TopicFinal,
		Principal:     cfg.Service.Principal,
		ConsumerGroup: cfg.Kafka.ConsumerGroup,
	}
}

// newProvider builds the configured real backend.
func newProvider(i do.Injector) (stt.Provider, error) {
	cfg := do.MustInvoke[*config.Config](i)
	switch cfg.STT.Provider {
	case config.ProviderGoogle:
		gcfg := google.DefaultConfig()
		gcfg.Credentials = cfg.Google.Credentials
		gcfg.LanguageCode = cfg.Google.Language
		gcfg.Model = cfg.Google.Model
		gcfg.Endpoint = cfg.Google.Endpoint
		return google.NewProvider(context.Background(), gcfg)
	case config.ProviderDeepgram:
		return deepgram.NewProvider(deepgram.Config{
			APIKey:         cfg.Deepgram.APIKey,
			Model:          cfg.Deepgram.Model,
			Language:       cfg.Deepgram.Language,
			SmartFormat:    cfg.Deepgram.SmartFormat,
			Punctuate:      cfg.Deepgram.Punctuate,
			Diarize:        cfg.Deepgram.Diarize,
			InterimResults: cfg.Deepgram.InterimResults,
			StreamURL:      cfg.Deepgram.StreamURL,
			BatchURL:       cfg.Deepgram.BatchURL,
			KeepAlive:      cfg.Deepgram.KeepAliveInterval,
			WriteTimeout:   cfg.Deepgram.WriteTimeout,
			RequestTimeout: cfg.Deepgram.RequestTimeout,
		}), nil
	}
	return mock.NewProvider(), nil
}

// newTranscriptionService skips building the real backend when the mock
// engine is certain to be selected.
func newTranscriptionService(i do.Injector) (*transcription.Service, error) {
	cfg := do.MustInvoke[*config.Config](i)
	opts := transcription.Options{
		Credential:               cfg.Credential(),
		ForceMock:                cfg.UseMock(),
		FallbackOnConnectFailure: cfg.STT.FallbackOnConnectFailure,
		RelayCapacity:            cfg.Stream.RelayCapacity,
		DrainTimeout:             cfg.Stream.DrainTimeout,
		Limits: transcription.Limits{
			MaxAudioBytes: cfg.Stream.MaxAudioBytes,
			MaxDuration:   cfg.Stream.MaxDuration,
		},
		Metrics: do.MustInvoke[*metrics.Metrics](i),
	}

	if !opts.ForceMock && !transcription.IsPlaceholder(opts.Credential) {
		provider, err := do.Invoke[stt.Provider](i)
		switch {
		case err == nil:
			opts.Provider = provider
		case cfg.STT.FallbackOnConnectFailure && stt.Fallbackable(err):
			log.Warn().Err(err).Str("sttProvider", cfg.STT.Provider).
				Msg("Provider unavailable at startup, using mock transcription (degraded mode)")
			opts.Metrics.RecordFallback(stt.Reason(err))
		default:
			return nil, err
		}
	}
	return transcription.NewService(opts), nil
}
