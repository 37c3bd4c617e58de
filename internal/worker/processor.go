package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/PixelDrop/internal/batch"
	"github.com/dharsanguruparan/PixelDrop/internal/codec"
	"github.com/dharsanguruparan/PixelDrop/internal/model"
	"github.com/dharsanguruparan/PixelDrop/internal/orchestrator"
	"github.com/dharsanguruparan/PixelDrop/internal/queue"
	"github.com/dharsanguruparan/PixelDrop/internal/repository"
	"github.com/dharsanguruparan/PixelDrop/internal/result"
	"github.com/dharsanguruparan/PixelDrop/internal/s3storage"
)

// BatchStore is the part of the repository the worker writes to.
type BatchStore interface {
	Get(ctx context.Context, id string) (*repository.Batch, error)
	MarkProcessing(ctx context.Context, id string) error
	Finish(ctx context.Context, id string, status repository.BatchStatus, succeeded, failed int, errorMsg *string) error
	MarkJobRunning(ctx context.Context, jobID string) error
	MarkJobSucceeded(ctx context.Context, jobID, outputName, processedKey string) error
	MarkJobFailed(ctx context.Context, jobID string, failure model.Failure) error
}

// ObjectStore reads source images and writes converted ones.
type ObjectStore interface {
	DownloadRaw(ctx context.Context, objectKey string) ([]byte, error)
	UploadProcessed(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	batches BatchStore
	objects ObjectStore
	codec   codec.Codec
	cfg     orchestrator.Config
	logger  *slog.Logger
}

// NewProcessor constructs a worker processor. cfg carries the concurrency
// limit and job timeout applied inside each batch.
func NewProcessor(batches BatchStore, objects ObjectStore, c codec.Codec, cfg orchestrator.Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		batches: batches,
		objects: objects,
		codec:   c,
		cfg:     cfg,
		logger:  logger.With("component", "worker"),
	}
}

// Handler registers the convert task handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ConvertBatchTask, p.handleConvert)
	return mux
}

func (p *Processor) handleConvert(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseConvertPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return p.ConvertBatch(ctx, payload.BatchID)
}

// ConvertBatch runs one stored batch end to end. Codec failures are recorded
// on their jobs and do not make the task fail; storage and database errors
// are returned so asynq retries the task.
func (p *Processor) ConvertBatch(ctx context.Context, batchID string) error {
	log := p.logger.With("batch_id", batchID)

	b, err := p.batches.Get(ctx, batchID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	if b.Status == repository.StatusCompleted {
		log.Info("batch already completed")
		return nil
	}
	target, err := model.ParseFormat(string(b.TargetFormat))
	if err != nil {
		msg := err.Error()
		_ = p.batches.Finish(ctx, b.ID, repository.StatusFailed, 0, 0, &msg)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := p.batches.MarkProcessing(ctx, b.ID); err != nil {
		return err
	}

	sess := batch.NewSession(b.ID)
	for _, j := range b.Jobs {
		data, err := p.objects.DownloadRaw(ctx, j.ObjectKey)
		if err != nil {
			return p.infraFailure(ctx, log, b.ID, fmt.Errorf("load %s: %w", j.FileName, err))
		}
		sess.Add(model.FileEntry{
			ID:           j.ID,
			OriginalName: j.FileName,
			MimeType:     j.MimeType,
			Size:         j.Size,
			AddedAt:      j.CreatedAt,
			Payload:      data,
		})
	}
	jobs, err := sess.BuildJobs(target)
	if errors.Is(err, batch.ErrEmptyBatch) {
		return p.batches.Finish(ctx, b.ID, repository.StatusCompleted, 0, 0, nil)
	}
	if err != nil {
		return fmt.Errorf("build jobs: %w", err)
	}
	defer sess.FinishRun()

	// Persistence outlives cancellation: admitted jobs still finish and
	// their outcome must land in the database.
	persistCtx := context.WithoutCancel(ctx)
	var (
		mu         sync.Mutex
		persistErr error
	)
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if persistErr == nil {
			persistErr = err
		}
	}

	cfg := p.cfg
	cfg.OnJobStart = func(j *model.Job) {
		record(p.batches.MarkJobRunning(persistCtx, j.SourceID))
	}
	cfg.OnJobDone = func(j *model.Job) {
		record(p.persistJob(persistCtx, b.ID, j))
	}
	orch, err := orchestrator.New(cfg, p.codec, log)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	res := orch.Run(ctx, jobs)
	summary := res.Summary()
	if persistErr != nil {
		return p.infraFailure(persistCtx, log, b.ID, persistErr)
	}

	status := repository.StatusCompleted
	if res.Aborted {
		status = repository.StatusAborted
	}
	if err := p.batches.Finish(persistCtx, b.ID, status, summary.Succeeded, summary.Failed, nil); err != nil {
		return err
	}
	log.Info("batch processed", "status", status, "succeeded", summary.Succeeded, "failed", summary.Failed)
	if res.Aborted {
		// Returning the cause hands the batch back to asynq for a later run.
		return fmt.Errorf("batch %s aborted: %w", b.ID, context.Cause(ctx))
	}
	return nil
}

func (p *Processor) persistJob(ctx context.Context, batchID string, j *model.Job) error {
	switch j.Status {
	case model.StatusSucceeded:
		name := result.OutputName(j.OriginalName, j.TargetFormat)
		key := s3storage.ProcessedKey(batchID, j.SourceID, name)
		if err := p.objects.UploadProcessed(ctx, key, j.Output, j.TargetFormat.ContentType()); err != nil {
			return err
		}
		return p.batches.MarkJobSucceeded(ctx, j.SourceID, name, key)
	case model.StatusFailed:
		failure := model.AbortedFailure(nil)
		if j.Failure != nil {
			failure = *j.Failure
		}
		return p.batches.MarkJobFailed(ctx, j.SourceID, failure)
	default:
		return nil
	}
}

// infraFailure marks the batch failed once asynq has no retries left.
func (p *Processor) infraFailure(ctx context.Context, log *slog.Logger, batchID string, err error) error {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	log.Error("batch attempt failed", "error", err, "retry", retried)
	if !ok || retried >= maxRetry {
		msg := err.Error()
		if ferr := p.batches.Finish(ctx, batchID, repository.StatusFailed, 0, 0, &msg); ferr != nil {
			log.Error("mark batch failed", "error", ferr)
		}
	}
	return err
}
