// Package orchestrator drives conversion jobs through the codec with a
// bounded number of jobs in flight. Every job is independent: a failed
// decode or encode is recorded on that job and the batch carries on.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dharsanguruparan/PixelDrop/internal/codec"
	"github.com/dharsanguruparan/PixelDrop/internal/model"
	"github.com/dharsanguruparan/PixelDrop/internal/result"
)

// DefaultConcurrency bounds peak memory: decoded rasters are many times the
// size of their encoded form.
const DefaultConcurrency = 3

// ErrInvalidConcurrency is the only error that prevents a run from starting.
var ErrInvalidConcurrency = errors.New("concurrency limit must be greater than zero")

// Config controls a run. JobTimeout of zero means no per-job timeout. A job
// that times out fails at once but keeps its slot until the codec call
// returns.
type Config struct {
	ConcurrencyLimit int
	JobTimeout       time.Duration
	// OnJobStart, when set, is called from the job's goroutine right after
	// admission, before decoding starts.
	OnJobStart func(*model.Job)
	// OnJobDone, when set, is called each time a job reaches a terminal
	// state, including jobs aborted before admission. Calls may be
	// concurrent.
	OnJobDone func(*model.Job)
}

// Orchestrator runs batches of jobs against a codec.
type Orchestrator struct {
	cfg    Config
	codec  codec.Codec
	logger *slog.Logger
	now    func() time.Time
}

// New validates cfg and builds an Orchestrator.
func New(cfg Config, c codec.Codec, logger *slog.Logger) (*Orchestrator, error) {
	if cfg.ConcurrencyLimit <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidConcurrency, cfg.ConcurrencyLimit)
	}
	if c == nil {
		return nil, errors.New("orchestrator: codec is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:    cfg,
		codec:  c,
		logger: logger.With("component", "orchestrator"),
		now:    time.Now,
	}, nil
}

// Execution is a batch run in progress.
type Execution struct {
	target    model.Format
	jobs      []*model.Job
	done      chan struct{}
	completed atomic.Int64
	result    *result.BatchResult
}

// Done is closed once every job is terminal and the result is assembled.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the run finishes and returns its result.
func (e *Execution) Wait() *result.BatchResult {
	<-e.done
	return e.result
}

// Completed returns how many jobs have reached a terminal state so far.
func (e *Execution) Completed() int {
	return int(e.completed.Load())
}

// Total returns the number of jobs in the run.
func (e *Execution) Total() int {
	return len(e.jobs)
}

// Run starts jobs and waits for the result.
func (o *Orchestrator) Run(ctx context.Context, jobs []*model.Job) *result.BatchResult {
	return o.Start(ctx, jobs).Wait()
}

// Start launches the run and returns immediately. Cancelling ctx stops
// admission of further jobs; admitted jobs finish and are kept in the result.
// The jobs slice must be in submission order and is owned by the run until
// Done is closed.
func (o *Orchestrator) Start(ctx context.Context, jobs []*model.Job) *Execution {
	target := model.FormatPNG
	if len(jobs) > 0 {
		target = jobs[0].TargetFormat
	}
	exec := &Execution{
		target: target,
		jobs:   jobs,
		done:   make(chan struct{}),
	}
	go o.drive(ctx, exec)
	return exec
}

func (o *Orchestrator) drive(ctx context.Context, exec *Execution) {
	defer close(exec.done)

	start := o.now()
	sem := semaphore.NewWeighted(int64(o.cfg.ConcurrencyLimit))
	// Admitted jobs must not be interrupted by batch cancellation.
	workCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup

	o.logger.Info("batch started", "jobs", len(exec.jobs), "format", exec.target, "concurrency", o.cfg.ConcurrencyLimit)

	next := 0
	for ; next < len(exec.jobs); next++ {
		job := exec.jobs[next]
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		if ctx.Err() != nil {
			sem.Release(1)
			break
		}
		if err := job.Start(o.now()); err != nil {
			sem.Release(1)
			o.logger.Warn("job skipped", "entry_id", job.SourceID, "error", err)
			continue
		}
		wg.Add(1)
		go func(job *model.Job) {
			if o.cfg.OnJobStart != nil {
				o.cfg.OnJobStart(job)
			}
			settled := o.convert(workCtx, job)
			o.finish(exec, job)
			wg.Done()
			// A timed-out codec call holds its slot until it returns.
			<-settled
			sem.Release(1)
		}(job)
	}

	if next < len(exec.jobs) {
		cause := context.Cause(ctx)
		for _, job := range exec.jobs[next:] {
			if err := job.Fail(model.AbortedFailure(cause), o.now()); err == nil {
				o.finish(exec, job)
			}
		}
		o.logger.Warn("batch cancelled", "admitted", next, "aborted", len(exec.jobs)-next)
	}

	wg.Wait()
	exec.result = result.Assemble(exec.target, exec.jobs)
	summary := exec.result.Summary()
	o.logger.Info("batch finished",
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"aborted", summary.Aborted,
		"duration_ms", o.now().Sub(start).Milliseconds(),
	)
}

func (o *Orchestrator) finish(exec *Execution, job *model.Job) {
	exec.completed.Add(1)
	if o.cfg.OnJobDone != nil {
		o.cfg.OnJobDone(job)
	}
}

// convert performs one decode+encode cycle and records the outcome on job.
// The returned channel closes once no codec call for job is still running.
func (o *Orchestrator) convert(ctx context.Context, job *model.Job) <-chan struct{} {
	log := o.logger.With("entry_id", job.SourceID, "name", job.OriginalName)

	img, settled, err := callWithTimeout(ctx, o.cfg.JobTimeout, func(ctx context.Context) (image.Image, error) {
		return o.codec.Decode(ctx, job.Source())
	})
	if err != nil {
		o.fail(log, job, model.FailureDecode, err)
		return settled
	}

	out, settled, err := callWithTimeout(ctx, o.cfg.JobTimeout, func(ctx context.Context) ([]byte, error) {
		return o.codec.Encode(ctx, img, job.TargetFormat)
	})
	if err != nil {
		o.fail(log, job, model.FailureEncode, err)
		return settled
	}

	if err := job.Succeed(out, o.now()); err != nil {
		log.Error("record success", "error", err)
		return settled
	}
	log.Debug("job succeeded", "bytes", len(out))
	return settled
}

func (o *Orchestrator) fail(log *slog.Logger, job *model.Job, kind model.FailureKind, err error) {
	reason := model.NewFailure(kind, err)
	if errors.Is(err, errTimeout) {
		reason.SubReason = model.SubReasonTimeout
	}
	if ferr := job.Fail(reason, o.now()); ferr != nil {
		log.Error("record failure", "error", ferr)
		return
	}
	log.Info("job failed", "reason", reason.String())
}
