package model

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus describes the conversion lifecycle of a single job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ErrInvalidTransition is returned when a job is moved along an edge its
// lifecycle does not have (e.g. succeeding twice, or running a failed job).
var ErrInvalidTransition = errors.New("invalid job transition")

// Job pairs one entry with one target format. The source bytes are a view
// of the entry payload; a job never copies or writes them.
type Job struct {
	Index        int       `json:"index"`
	SourceID     string    `json:"sourceId"`
	OriginalName string    `json:"originalName"`
	TargetFormat Format    `json:"targetFormat"`
	Status       JobStatus `json:"status"`
	Output       []byte    `json:"-"`
	Failure      *Failure  `json:"failure,omitempty"`
	StartedAt    time.Time `json:"startedAt,omitempty"`
	FinishedAt   time.Time `json:"finishedAt,omitempty"`

	source []byte
}

// NewJob builds a pending job for entry at position index of its batch.
func NewJob(index int, entry FileEntry, target Format) *Job {
	return &Job{
		Index:        index,
		SourceID:     entry.ID,
		OriginalName: entry.OriginalName,
		TargetFormat: target,
		Status:       StatusPending,
		source:       entry.Payload,
	}
}

// Source returns the read-only source bytes.
func (j *Job) Source() []byte {
	return j.source
}

// Start moves a pending job to running.
func (j *Job) Start(now time.Time) error {
	if j.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusRunning)
	}
	j.Status = StatusRunning
	j.StartedAt = now
	return nil
}

// Succeed records the converted output of a running job.
func (j *Job) Succeed(output []byte, now time.Time) error {
	if j.Status != StatusRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusSucceeded)
	}
	j.Status = StatusSucceeded
	j.Output = output
	j.FinishedAt = now
	j.source = nil
	return nil
}

// Fail records why the job did not produce output. Pending jobs may fail
// directly; that is how never-admitted jobs of a cancelled batch end.
func (j *Job) Fail(reason Failure, now time.Time) error {
	if j.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusFailed)
	}
	j.Status = StatusFailed
	j.Failure = &reason
	j.FinishedAt = now
	j.source = nil
	return nil
}
