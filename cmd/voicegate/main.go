package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/voicegate/voicegate/internal/config"
	"github.com/voicegate/voicegate/internal/events"
	"github.com/voicegate/voicegate/internal/gateway"
	"github.com/voicegate/voicegate/internal/httpapi"
	"github.com/voicegate/voicegate/internal/logging"
	"github.com/voicegate/voicegate/internal/observability"
	"github.com/voicegate/voicegate/internal/store"
	"github.com/voicegate/voicegate/internal/synthesis"
	"github.com/voicegate/voicegate/internal/transcribe"
	"github.com/voicegate/voicegate/internal/transcribe/google"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()

	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("transcript store init failed")
	}
	defer st.Close()

	publisher := events.New(events.Config{
		Brokers:      cfg.KafkaBrokers,
		TopicPartial: cfg.KafkaTopicPartial,
		TopicFinal:   cfg.KafkaTopicFinal,
	}, logging.Component(log, "events"))
	defer publisher.Close()

	asr := selectASRBackend(ctx, cfg, log)
	synthBackend := selectSynthBackend(cfg, log)

	adapter := synthesis.NewAdapter(synthBackend, synthesis.Config{
		MaxTextLen:     cfg.MaxSynthesisTextLen,
		DefaultVoiceID: cfg.DefaultVoiceID,
		BitrateKbps:    cfg.SynthesisBitrateKbps,
	}, metrics, logging.Component(log, "synthesis"))

	gw := gateway.NewService(gateway.Config{
		ConnectionTimeout:    cfg.ConnectionTimeout,
		InactivityTimeout:    cfg.InactivityTimeout,
		FinalizationTimeout:  cfg.FinalizationTimeout,
		MaxPendingAudioBytes: cfg.MaxPendingAudioBytes,
		Stream: transcribe.StreamConfig{
			SampleRateHertz: cfg.SampleRateHertz,
			LanguageCode:    cfg.LanguageCode,
		},
	}, asr, st, publisher, metrics, logging.Component(log, "gateway"))

	api := httpapi.New(cfg, gw, adapter, nil, metrics, logging.Component(log, "httpapi"))
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Info().Str("addr", cfg.BindAddr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	log.Info().Msg("shutdown complete")
}

func selectASRBackend(ctx context.Context, cfg config.Config, log zerolog.Logger) transcribe.Backend {
	mode := strings.ToLower(strings.TrimSpace(cfg.ASRProvider))
	if mode == "" {
		mode = "auto"
	}

	tryGoogle := func(fatal bool) transcribe.Backend {
		b, err := google.New(ctx, cfg.Region)
		if err != nil {
			if fatal {
				log.Fatal().Err(err).Msg("google speech backend init failed")
			}
			log.Warn().Err(err).Msg("google speech backend unavailable")
			return nil
		}
		log.Info().Str("region", cfg.Region).Msg("asr provider: google")
		return b
	}

	switch mode {
	case "google":
		return tryGoogle(true)
	case "mock":
		log.Info().Msg("asr provider: mock")
		return transcribe.NewMockBackend()
	case "auto":
		if b := tryGoogle(false); b != nil {
			return b
		}
		log.Info().Msg("asr provider: mock (google credentials unavailable)")
		return transcribe.NewMockBackend()
	default:
		log.Fatal().Str("provider", cfg.ASRProvider).Msg("invalid VOICEGATE_ASR_PROVIDER (expected auto|google|mock)")
		return nil
	}
}

func selectSynthBackend(cfg config.Config, log zerolog.Logger) synthesis.Backend {
	mode := strings.ToLower(strings.TrimSpace(cfg.SynthProvider))
	if mode == "" {
		mode = "auto"
	}

	tryElevenLabs := func() synthesis.Backend {
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" {
			return nil
		}
		log.Info().Msg("synthesis provider: elevenlabs")
		return synthesis.NewElevenLabsBackend(synthesis.ElevenLabsConfig{
			APIKey:  cfg.ElevenLabsAPIKey,
			ModelID: cfg.ElevenLabsModelID,
		})
	}

	switch mode {
	case "elevenlabs":
		b := tryElevenLabs()
		if b == nil {
			log.Fatal().Msg("VOICEGATE_SYNTH_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is not set")
		}
		return b
	case "mock":
		log.Info().Msg("synthesis provider: mock")
		return synthesis.NewMockBackend()
	case "auto":
		if b := tryElevenLabs(); b != nil {
			return b
		}
		log.Info().Msg("synthesis provider: mock (no elevenlabs key)")
		return synthesis.NewMockBackend()
	default:
		log.Fatal().Str("provider", cfg.SynthProvider).Msg("invalid VOICEGATE_SYNTH_PROVIDER (expected auto|elevenlabs|mock)")
		return nil
	}
}
