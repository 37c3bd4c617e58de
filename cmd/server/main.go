// Command server runs PixelDrop in synchronous mode: sessions, uploads and
// converted images live in process memory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dharsanguruparan/PixelDrop/internal/codec"
	"github.com/dharsanguruparan/PixelDrop/internal/config"
	"github.com/dharsanguruparan/PixelDrop/internal/intake"
	"github.com/dharsanguruparan/PixelDrop/internal/logging"
	"github.com/dharsanguruparan/PixelDrop/internal/orchestrator"
	"github.com/dharsanguruparan/PixelDrop/internal/server"
	"github.com/dharsanguruparan/PixelDrop/internal/signing"
	"github.com/dharsanguruparan/PixelDrop/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, cleanup := logging.Setup(cfg.LogFile, logging.ParseLevel(cfg.LogLevel))
	defer cleanup()

	orch, err := orchestrator.New(orchestrator.Config{
		ConcurrencyLimit: cfg.Concurrency,
		JobTimeout:       cfg.JobTimeout,
	}, codec.NewStd(cfg.JPEGQuality), logger)
	if err != nil {
		logger.Error("init orchestrator", "error", err)
		os.Exit(1)
	}
	validator := intake.New(intake.Options{
		AcceptedPrefixes: cfg.AcceptedPrefixes,
		MaxFileBytes:     cfg.MaxFileBytes,
	}, logger)
	srv := server.New(cfg, storage.NewMemoryStore(), validator, orch, signing.NewSigner(cfg.SigningSecret), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := srv.Serve(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
