package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// ConvertBatchTask is scheduled once per uploaded batch.
	ConvertBatchTask = "batch:convert"

	// MaxRetry covers storage and database hiccups. Codec failures are
	// recorded on the job and never retried.
	MaxRetry = 3
)

// ConvertPayload is serialized into the task payload. The worker reads the
// batch rows to find the entries, so only the id travels through Redis.
type ConvertPayload struct {
	BatchID string `json:"batch_id"`
}

// NewConvertTask builds the task for a batch. Tasks are keyed by batch id so
// a batch cannot be queued twice while a previous task is still pending.
func NewConvertTask(payload ConvertPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(ConvertBatchTask, data,
		asynq.MaxRetry(MaxRetry),
		asynq.TaskID(payload.BatchID),
		asynq.Timeout(30*time.Minute),
	), nil
}

// EnqueueConvert enqueues a batch conversion.
func EnqueueConvert(ctx context.Context, client *asynq.Client, payload ConvertPayload) error {
	task, err := NewConvertTask(payload)
	if err != nil {
		return err
	}
	if _, err := client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue convert task: %w", err)
	}
	return nil
}

// ParseConvertPayload decodes the payload of a batch:convert task.
func ParseConvertPayload(t *asynq.Task) (ConvertPayload, error) {
	var p ConvertPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	if p.BatchID == "" {
		return p, fmt.Errorf("decode payload: missing batch id")
	}
	return p, nil
}
