package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/PixelDrop/internal/api"
	"github.com/dharsanguruparan/PixelDrop/internal/config"
	"github.com/dharsanguruparan/PixelDrop/internal/database"
	"github.com/dharsanguruparan/PixelDrop/internal/intake"
	"github.com/dharsanguruparan/PixelDrop/internal/logging"
	"github.com/dharsanguruparan/PixelDrop/internal/repository"
	"github.com/dharsanguruparan/PixelDrop/internal/s3storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, cleanup := logging.Setup(cfg.LogFile, logging.ParseLevel(cfg.LogLevel))
	defer cleanup()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	store, err := s3storage.New(cfg)
	if err != nil {
		logger.Error("init storage", "error", err)
		os.Exit(1)
	}
	if err := store.EnsureBuckets(ctx); err != nil {
		logger.Error("ensure buckets", "error", err)
		os.Exit(1)
	}

	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer client.Close()

	validator := intake.New(intake.Options{
		AcceptedPrefixes: cfg.AcceptedPrefixes,
		MaxFileBytes:     cfg.MaxFileBytes,
	}, logger)
	srv := api.New(cfg, repository.NewBatchRepository(pool), store, api.AsynqEnqueuer(client), validator, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}
