package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/event-companion/backend/internal/config"
	"github.com/onnwee/event-companion/backend/internal/errorreporting"
	"github.com/onnwee/event-companion/backend/internal/logger"
	"github.com/onnwee/event-companion/backend/internal/secrets"
	"github.com/onnwee/event-companion/backend/internal/server"
	"github.com/onnwee/event-companion/backend/internal/tracing"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	envErr := godotenv.Load()

	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	if envErr != nil {
		logger.Debug("No .env file found, using process environment")
	}
	logger.Info("Initializing event companion", "version", cfg.SentryRelease, "log_level", cfg.LogLevel, "store", cfg.StoreDriver)
	if cfg.AdminAPIToken == "" {
		logger.Warn("ADMIN_API_TOKEN not set, mutating diagnostics routes are disabled")
	} else {
		logger.Info("Admin token configured", "token", secrets.Mask(cfg.AdminAPIToken))
	}

	if err := errorreporting.Init(cfg); err != nil {
		logger.Warn("Failed to initialize error reporting", "error", err)
	} else if errorreporting.Enabled() {
		logger.Info("Error reporting initialized", "environment", cfg.SentryEnvironment)
		defer func() {
			logger.Info("Flushing error reports...")
			errorreporting.Flush(2 * time.Second)
		}()
	}

	shutdownTracing, err := tracing.Init("event-companion", cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracing", "error", err)
	} else {
		if cfg.OTELEnabled {
			logger.Info("Tracing initialized", "endpoint", cfg.OTELEndpoint, "sample_rate", cfg.OTELSampleRate)
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("Failed to shutdown tracer", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agent, err := server.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to start agent", "error", err)
		return err
	}
	if err := agent.Run(ctx); err != nil {
		logger.Error("Agent exited with error", "error", err)
		errorreporting.CaptureError(err)
		return err
	}
	return nil
}
