// Package app wires configuration, providers, the worker bridge, and the
// HTTP surface into one runnable service.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ent0n29/vaani/internal/bridge"
	"github.com/ent0n29/vaani/internal/config"
	"github.com/ent0n29/vaani/internal/conversation"
	"github.com/ent0n29/vaani/internal/httpapi"
	"github.com/ent0n29/vaani/internal/logging"
	"github.com/ent0n29/vaani/internal/observability"
	"github.com/ent0n29/vaani/internal/session"
	"github.com/ent0n29/vaani/internal/tutor"
	"github.com/ent0n29/vaani/internal/voice"
	"github.com/ent0n29/vaani/internal/worker"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Sessions  *session.Manager
	Tutor     *tutor.Orchestrator
	Bridge    *bridge.Client
	Worker    *worker.Host
	Store     conversation.Store
	Metrics   *observability.Metrics
	Providers Providers
	Voice     voice.Config
	Logger    zerolog.Logger

	// Cleanup should be called on shutdown to release the bridge, the
	// in-process worker, and the store.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := conversation.NewStore(ctx, conversation.Backend(cfg.StoreBackend),
		conversation.WithSQLitePath(cfg.SQLitePath),
		conversation.WithDatabaseURL(cfg.DatabaseURL),
		conversation.WithRedis(cfg.RedisURL, cfg.RedisTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("conversation store init failed: %w", err)
	}

	providers, err := resolveProviders(ctx, cfg, logging.Component(logger, "inference"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.Info().Str("providers", providers.Detail).Str("store", cfg.StoreBackend).Msg("providers resolved")

	host := worker.NewHost(providers.Generator, providers.Models, worker.Config{
		Models: providers.WorkerModels,
	}, logging.Component(logger, "worker"))

	hostCtx, cancelHost := context.WithCancel(context.Background())
	var (
		client       *bridge.Client
		workerClient tutor.WorkerClient
	)
	switch cfg.WorkerMode {
	case "inprocess", "remote":
		dial := bridge.DialWebSocket(cfg.WorkerURL, cfg.WorkerInitTimeout)
		if cfg.WorkerMode == "inprocess" {
			dial = bridge.PipeDialer(func(tr bridge.Transport) {
				defer tr.Close()
				if err := host.Serve(hostCtx, tr); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn().Err(err).Msg("in-process worker stopped")
				}
			})
		}
		client = bridge.New(dial,
			bridge.WithLogger(logging.Component(logger, "bridge")),
			bridge.WithInitTimeout(cfg.WorkerInitTimeout),
			bridge.WithRequestTimeout(cfg.WorkerRequestTimeout),
			bridge.WithRecorder(metrics),
		)
		go client.Initialize(ctx)
		workerClient = client
	case "disabled":
		logger.Info().Msg("worker disabled, generating directly")
	}

	orchestrator := tutor.New(tutor.Config{
		GenerationTimeout: cfg.GenerationTimeout,
		QuizTimeout:       cfg.QuizTimeout,
		QuizWorkerTimeout: cfg.QuizWorkerTimeout,
	}, workerClient, providers.Generator,
		tutor.WithLogger(logging.Component(logger, "tutor")),
		tutor.WithRecorder(metrics),
	)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	voiceCfg := VoiceConfig(cfg)
	api := httpapi.New(cfg, httpapi.Deps{
		Sessions:    sessions,
		Store:       store,
		Tutor:       orchestrator,
		Transcriber: providers.Transcriber,
		Synthesizer: providers.Synthesizer,
		Metrics:     metrics,
		Voice:       voiceCfg,
		Worker:      host.Handler(),
		Logger:      logger,
	})

	cleanup := func() error {
		var errs []error
		if client != nil {
			errs = append(errs, client.Close())
		}
		cancelHost()
		errs = append(errs, store.Close())
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Sessions:  sessions,
		Tutor:     orchestrator,
		Bridge:    client,
		Worker:    host,
		Store:     store,
		Metrics:   metrics,
		Providers: providers,
		Voice:     voiceCfg,
		Logger:    logger,
		Cleanup:   cleanup,
	}, nil
}

// VoiceConfig maps runtime settings onto the voice pipeline.
func VoiceConfig(cfg config.Config) voice.Config {
	return voice.Config{
		SilenceTimeout: cfg.VoiceSilenceTimeout,
		MaxRecording:   cfg.VoiceMaxRecording,
		SessionTimeout: cfg.VoiceSessionTimeout,
		StageTimeout:   cfg.VoiceStageTimeout,
		Retry: voice.RetryPolicy{
			FirstWindow:  2,
			FirstTimeout: cfg.VoiceFirstAttemptTimeout,
			RetryWindow:  1,
		},
		EnglishVoice: cfg.TTSEnModel,
		HindiVoice:   cfg.TTSHiModel,
	}
}
