package jobs

import (
	"context"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeTidyRun runs the tidy-up pipeline for one configuration file.
	JobTypeTidyRun JobType = "tidy_run"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// Terminal reports whether no further processing will happen.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// TidyRunJob is one pipeline run against the store named by a configuration.
type TidyRunJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// ConfigPath is a local path or gs:// URI of the YAML configuration.
	ConfigPath string `json:"config_path"`

	// DryRun overrides the configuration's dry_run when set.
	DryRun bool `json:"dry_run,omitempty"`

	// RunID is the pipeline run ID once the run has started.
	RunID string `json:"run_id,omitempty"`

	// Updated is the number of rows written by the last attempt.
	Updated int `json:"updated"`

	// ReportURI is where the run report was uploaded, if anywhere.
	ReportURI string `json:"report_uri,omitempty"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

// GetID returns the job ID.
func (j *TidyRunJob) GetID() string {
	return j.JobID
}

// GetType returns JobTypeTidyRun.
func (j *TidyRunJob) GetType() JobType {
	return JobTypeTidyRun
}

// GetStatus returns the current status.
func (j *TidyRunJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishTidyRun enqueues a run.
	PublishTidyRun(ctx context.Context, job *TidyRunJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job *TidyRunJob) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	SaveJob(ctx context.Context, job *TidyRunJob) error
	GetJob(ctx context.Context, jobID string) (*TidyRunJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*TidyRunJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// ConfigPath filters jobs by configuration.
	ConfigPath string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
