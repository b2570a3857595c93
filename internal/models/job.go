package models

import (
	"time"

	"github.com/google/uuid"
)

// JobState is the state of a processing job.
type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Job tracks the processing of exactly one File. Jobs are created when a
// File is uploaded, mutated only by the orchestrator, and never deleted by
// normal flow.
type Job struct {
	ID             uuid.UUID  `json:"id"`
	FileID         uuid.UUID  `json:"file_id"`
	State          JobState   `json:"state"`
	Error          string     `json:"error,omitempty"`
	RunDatetime    time.Time  `json:"run_datetime"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
}
