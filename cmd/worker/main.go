package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/PixelDrop/internal/codec"
	"github.com/dharsanguruparan/PixelDrop/internal/config"
	"github.com/dharsanguruparan/PixelDrop/internal/database"
	"github.com/dharsanguruparan/PixelDrop/internal/logging"
	"github.com/dharsanguruparan/PixelDrop/internal/orchestrator"
	"github.com/dharsanguruparan/PixelDrop/internal/repository"
	"github.com/dharsanguruparan/PixelDrop/internal/s3storage"
	"github.com/dharsanguruparan/PixelDrop/internal/worker"
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
	repo := repository.NewBatchRepository(pool)

	store, err := s3storage.New(cfg)
	if err != nil {
		logger.Error("init storage", "error", err)
		os.Exit(1)
	}
	if err := store.EnsureBuckets(ctx); err != nil {
		logger.Error("ensure buckets", "error", err)
		os.Exit(1)
	}

	// Each task converts a whole batch with its own bounded pool, so the
	// number of images in flight is WorkerConcurrency * Concurrency.
	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Logger:      asynqLogger{logger.With("component", "asynq")},
	})
	processor := worker.NewProcessor(repo, store, codec.NewStd(cfg.JPEGQuality), orchestrator.Config{
		ConcurrencyLimit: cfg.Concurrency,
		JobTimeout:       cfg.JobTimeout,
	}, logger)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(processor.Handler()); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
