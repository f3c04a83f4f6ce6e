package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ent0n29/vaani/internal/app"
	"github.com/ent0n29/vaani/internal/config"
	"github.com/ent0n29/vaani/internal/logging"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	logLevel string
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "vaani",
		Short:        "Bilingual English/Hindi voice tutor",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(
		c.serveCmd(),
		c.workerCmd(),
		c.askCmd(),
		c.quizCmd(),
		c.talkCmd(),
		c.modelsCmd(),
	)
	return root
}

// load reads the environment and builds the root logger.
func (c *cli) load() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Logger{}, fmt.Errorf("config error: %w", err)
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	return cfg, logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := c.load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			res, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := res.Cleanup(); err != nil {
					logger.Warn().Err(err).Msg("cleanup failed")
				}
			}()

			res.Sessions.StartJanitor(ctx, 5*time.Second)
			return serveHTTP(ctx, cfg.BindAddr, res.API.Router(), cfg.ShutdownTimeout, logger)
		},
	}
}

func (c *cli) workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the inference worker host for WORKER_MODE=remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := c.load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			// The host is built standalone; it never dials a worker itself.
			cfg.WorkerMode = "disabled"
			res, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = res.Cleanup() }()

			mux := http.NewServeMux()
			mux.Handle("/ws", res.Worker.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			return serveHTTP(ctx, cfg.WorkerBindAddr, mux, cfg.ShutdownTimeout, logger)
		},
	}
}

func serveHTTP(ctx context.Context, addr string, h http.Handler, shutdownTimeout time.Duration, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen error: %w", err)
	case <-ctx.Done():
	}
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
		_ = srv.Close()
	}
	logger.Info().Msg("shutdown complete")
	return nil
}
