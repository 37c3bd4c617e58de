package model

import "fmt"

// FailureKind classifies why a job ended in the failed state.
type FailureKind string

const (
	FailureDecode  FailureKind = "decode_error"
	FailureEncode  FailureKind = "encode_error"
	FailureAborted FailureKind = "batch_aborted"
)

// SubReasonTimeout marks a decode/encode failure caused by the per-job timeout.
const SubReasonTimeout = "timeout"

// Failure is attached to a failed job. It is data, not an error: per-job
// failures never propagate out of the batch.
type Failure struct {
	Kind      FailureKind `json:"kind"`
	SubReason string      `json:"subReason,omitempty"`
	Message   string      `json:"message,omitempty"`
}

func (f Failure) String() string {
	s := string(f.Kind)
	if f.SubReason != "" {
		s += "/" + f.SubReason
	}
	if f.Message != "" {
		s += ": " + f.Message
	}
	return s
}

// Timeout reports whether the failure came from the per-job timeout.
func (f Failure) Timeout() bool {
	return f.SubReason == SubReasonTimeout
}

// NewFailure builds a Failure from err, keeping its message.
func NewFailure(kind FailureKind, err error) Failure {
	f := Failure{Kind: kind}
	if err != nil {
		f.Message = err.Error()
	}
	return f
}

// AbortedFailure is recorded for jobs that were never admitted before the
// batch was cancelled.
func AbortedFailure(cause error) Failure {
	msg := "batch cancelled before job started"
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return Failure{Kind: FailureAborted, Message: msg}
}
