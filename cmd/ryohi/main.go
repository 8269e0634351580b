package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"ryohi/internal/backend"
	"ryohi/internal/cli"
	apphttp "ryohi/internal/http"
	"ryohi/internal/log"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	cfg, err := cli.LoadAndValidateConfig(logger, nil)
	if err != nil {
		os.Exit(1)
	}

	ctx, cancel := cli.SignalContext(context.Background(), logger)
	defer cancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend)).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	srv, err := apphttp.NewServer(apphttp.Options{
		Addr:               ":" + cfg.Port,
		Service:            result.Service,
		Logger:             logger.WithComponent(log.ComponentHTTP),
		SecureCookies:      cfg.SecureCookies,
		TrustedProxies:     cfg.TrustedProxies,
		FlashTTL:           cfg.FlashTTL,
		ListCacheTTL:       cfg.ListCacheTTL,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})
	if err != nil {
		logger.Error("Failed to create HTTP server", "error", err)
		_ = result.Cleanup()
		os.Exit(1)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ryohi server", "port", cfg.Port, "backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("Server error", "error", err, "port", cfg.Port)
			exitCode = 1
		}
	}

	if err := cli.GracefulShutdown(logger, shutdownTimeout,
		srv.Shutdown,
		func(context.Context) error { return result.Cleanup() },
	); err != nil {
		exitCode = 1
	}
	logger.Info("Server stopped")
	cancel()
	os.Exit(exitCode)
}
