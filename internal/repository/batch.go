package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/PixelDrop/internal/model"
)

// ErrNotFound is returned when a batch or job row does not exist.
var ErrNotFound = errors.New("not found")

// BatchStatus enumerates the lifecycle of a batch in the async pipeline.
type BatchStatus string

const (
	StatusQueued     BatchStatus = "queued"
	StatusProcessing BatchStatus = "processing"
	StatusCompleted  BatchStatus = "completed"
	StatusAborted    BatchStatus = "aborted"
	StatusFailed     BatchStatus = "failed"
)

// Batch represents a row in the batches table plus its jobs in submission
// order.
type Batch struct {
	ID           string       `json:"id"`
	TargetFormat model.Format `json:"targetFormat"`
	Status       BatchStatus  `json:"status"`
	Total        int          `json:"total"`
	Succeeded    int          `json:"succeeded"`
	Failed       int          `json:"failed"`
	ErrorMessage *string      `json:"errorMessage,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	Jobs         []Job        `json:"jobs"`
}

// Job represents a row in the jobs table.
type Job struct {
	ID           string          `json:"id"`
	BatchID      string          `json:"batchId"`
	Position     int             `json:"position"`
	FileName     string          `json:"fileName"`
	MimeType     string          `json:"mimeType"`
	Size         int64           `json:"size"`
	ObjectKey    string          `json:"-"`
	OutputName   *string         `json:"outputName,omitempty"`
	ProcessedKey *string         `json:"-"`
	Status       model.JobStatus `json:"status"`
	Failure      *model.Failure  `json:"failure,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// BatchRepository wraps all SQL used by the API and the worker.
type BatchRepository struct {
	pool *pgxpool.Pool
}

// NewBatchRepository constructs a repository.
func NewBatchRepository(pool *pgxpool.Pool) *BatchRepository {
	return &BatchRepository{pool: pool}
}

// Create inserts a queued batch and its pending jobs in one transaction.
func (r *BatchRepository) Create(ctx context.Context, b *Batch) error {
	now := time.Now().UTC()
	b.Status = StatusQueued
	b.Total = len(b.Jobs)
	b.CreatedAt = now
	b.UpdatedAt = now

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO batches (id, target_format, status, total, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, b.ID, b.TargetFormat, b.Status, b.Total, now, now); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	rows := make([][]any, len(b.Jobs))
	for i := range b.Jobs {
		j := &b.Jobs[i]
		j.BatchID = b.ID
		j.Position = i
		j.Status = model.StatusPending
		j.CreatedAt = now
		j.UpdatedAt = now
		rows[i] = []any{j.ID, j.BatchID, j.Position, j.FileName, j.MimeType, j.Size, j.ObjectKey, string(j.Status), now, now}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"jobs"},
		[]string{"id", "batch_id", "position", "file_name", "mime_type", "size", "object_key", "status", "created_at", "updated_at"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("insert jobs: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get returns a batch by id with its jobs ordered by position.
func (r *BatchRepository) Get(ctx context.Context, id string) (*Batch, error) {
	var (
		b        Batch
		errorMsg sql.NullString
	)
	row := r.pool.QueryRow(ctx, `
		SELECT id, target_format, status, total, succeeded, failed, error_message, created_at, updated_at
		FROM batches WHERE id=$1
	`, id)
	if err := row.Scan(&b.ID, &b.TargetFormat, &b.Status, &b.Total, &b.Succeeded, &b.Failed, &errorMsg, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("select batch: %w", err)
	}
	if errorMsg.Valid {
		msg := errorMsg.String
		b.ErrorMessage = &msg
	}

	rows, err := r.pool.Query(ctx, selectJobs+` WHERE batch_id=$1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	jobs, err := pgx.CollectRows(rows, scanJob)
	if err != nil {
		return nil, fmt.Errorf("scan jobs: %w", err)
	}
	b.Jobs = jobs
	return &b, nil
}

// GetJob returns one job of a batch.
func (r *BatchRepository) GetJob(ctx context.Context, batchID, jobID string) (*Job, error) {
	rows, err := r.pool.Query(ctx, selectJobs+` WHERE batch_id=$1 AND id=$2`, batchID, jobID)
	if err != nil {
		return nil, fmt.Errorf("select job: %w", err)
	}
	job, err := pgx.CollectExactlyOneRow(rows, scanJob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &job, nil
}

// MarkProcessing moves the batch to processing and resets its jobs to
// pending so a retried task starts from a clean slate.
func (r *BatchRepository) MarkProcessing(ctx context.Context, id string) error {
	now := time.Now().UTC()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `
		UPDATE batches SET status=$1, succeeded=0, failed=0, error_message=NULL, updated_at=$2 WHERE id=$3
	`, StatusProcessing, now, id); err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE jobs
		SET status=$1, output_name=NULL, processed_key=NULL,
			failure_kind=NULL, failure_sub_reason=NULL, failure_message=NULL, updated_at=$2
		WHERE batch_id=$3
	`, model.StatusPending, now, id); err != nil {
		return fmt.Errorf("reset jobs: %w", err)
	}
	return tx.Commit(ctx)
}

// Finish records the terminal status and counts of a batch.
func (r *BatchRepository) Finish(ctx context.Context, id string, status BatchStatus, succeeded, failed int, errorMsg *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE batches SET status=$1, succeeded=$2, failed=$3, error_message=$4, updated_at=$5 WHERE id=$6
	`, status, succeeded, failed, errorMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	return nil
}

// MarkJobRunning sets the job status to running.
func (r *BatchRepository) MarkJobRunning(ctx context.Context, jobID string) error {
	return r.updateJob(ctx, jobID, model.StatusRunning, nil, nil, nil)
}

// MarkJobSucceeded stores the converted object reference.
func (r *BatchRepository) MarkJobSucceeded(ctx context.Context, jobID, outputName, processedKey string) error {
	return r.updateJob(ctx, jobID, model.StatusSucceeded, &outputName, &processedKey, nil)
}

// MarkJobFailed stores the failure of a job.
func (r *BatchRepository) MarkJobFailed(ctx context.Context, jobID string, failure model.Failure) error {
	return r.updateJob(ctx, jobID, model.StatusFailed, nil, nil, &failure)
}

func (r *BatchRepository) updateJob(ctx context.Context, id string, status model.JobStatus, outputName, processedKey *string, failure *model.Failure) error {
	var kind, subReason, message *string
	if failure != nil {
		k := string(failure.Kind)
		kind = &k
		subReason = nullable(failure.SubReason)
		message = nullable(failure.Message)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status=$1,
			output_name = COALESCE($2, output_name),
			processed_key = COALESCE($3, processed_key),
			failure_kind=$4,
			failure_sub_reason=$5,
			failure_message=$6,
			updated_at=$7
		WHERE id=$8
	`, status, outputName, processedKey, kind, subReason, message, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

const selectJobs = `
	SELECT id, batch_id, position, file_name, mime_type, size, object_key, output_name, processed_key,
		status, failure_kind, failure_sub_reason, failure_message, created_at, updated_at
	FROM jobs`

func scanJob(row pgx.CollectableRow) (Job, error) {
	var (
		j                        Job
		outputName, processedKey sql.NullString
		kind, subReason, message sql.NullString
	)
	err := row.Scan(&j.ID, &j.BatchID, &j.Position, &j.FileName, &j.MimeType, &j.Size, &j.ObjectKey,
		&outputName, &processedKey, &j.Status, &kind, &subReason, &message, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return j, err
	}
	if outputName.Valid {
		v := outputName.String
		j.OutputName = &v
	}
	if processedKey.Valid {
		v := processedKey.String
		j.ProcessedKey = &v
	}
	if kind.Valid {
		j.Failure = &model.Failure{
			Kind:      model.FailureKind(kind.String),
			SubReason: subReason.String,
			Message:   message.String,
		}
	}
	return j, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
