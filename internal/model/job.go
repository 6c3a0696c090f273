package model

import "time"

// Job is one processing request and its isolated workspace on disk.
type Job struct {
	ID        string `json:"id"`
	Root      string `json:"-"`
	InputDir  string `json:"-"`
	OutputDir string `json:"-"`
}

// JobStatus is the lifecycle state stored in a JobRecord
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Pipeline stages reported while a job runs
const (
	StageWorkspace = "workspace"
	StageAcquire   = "acquire"
	StageAnalyze   = "analyze"
	StageProject   = "project"
	StageArchive   = "archive"
	StageMirror    = "mirror"
	StageDone      = "done"
)

// JobRecord is the status document kept for each job
type JobRecord struct {
	ID          string           `json:"id"`
	Status      JobStatus        `json:"status"`
	Stage       string           `json:"stage,omitempty"`
	Progress    int              `json:"progress"`
	SourceType  SourceType       `json:"sourceType"`
	Error       *string          `json:"error,omitempty"`
	Result      *ProcessResponse `json:"result,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	StartedAt   *time.Time       `json:"startedAt,omitempty"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

// JobAcceptedResponse is returned by the asynchronous submission endpoint
type JobAcceptedResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}
