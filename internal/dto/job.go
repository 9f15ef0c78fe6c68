package dto

import (
	"encoding/json"
	"time"
)

type JobCreateDTO struct {
	JobType        string          `json:"job_type" validate:"required"`
	Queue          string          `json:"queue" validate:"required"`
	Title          string          `json:"title,omitempty"`
	Payload        json.RawMessage `json:"payload" validate:"required"`
	MaxRetries     *int            `json:"max_retries,omitempty" validate:"omitempty,gte=0,lte=20"`
	TimeoutSeconds int             `json:"timeout_seconds,omitempty" validate:"gte=0,lte=86400"`
}

// JobSummaryDTO is the list-view projection of a job.
type JobSummaryDTO struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	JobType         string    `json:"job_type"`
	Queue           string    `json:"queue"`
	Status          string    `json:"status"`
	ProgressPercent int       `json:"progress_percent"`
	CreatedAt       time.Time `json:"created_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// JobDetailDTO is the full projection returned by GET /jobs/:id.
type JobDetailDTO struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	JobType         string          `json:"job_type"`
	Queue           string          `json:"queue"`
	Status          string          `json:"status"`
	Parameters      json.RawMessage `json:"parameters,omitempty"`
	ProgressPercent int             `json:"progress_percent"`
	ItemsProcessed  *int            `json:"items_processed,omitempty"`
	ItemsTotal      *int            `json:"items_total,omitempty"`
	CurrentItem     string          `json:"current_item,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	ErrorTraceback  string          `json:"error_traceback,omitempty"`
	ErrorDetails    json.RawMessage `json:"error_details,omitempty"`
	CancelNote      string          `json:"cancel_note,omitempty"`
	RetryCount      int             `json:"retry_count"`
	MaxRetries      int             `json:"max_retries"`
	TimeoutSeconds  int             `json:"timeout_seconds,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	DurationSeconds float64         `json:"duration_seconds"`
}

// ListParams narrows and paginates job list requests.
type ListParams struct {
	Status   string
	JobType  string
	Queue    string
	Page     int
	PageSize int
}

type JobListDTO struct {
	Jobs     []JobSummaryDTO `json:"jobs"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Total    int64           `json:"total"`
}

type LogEntryDTO struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

type ProgressDTO struct {
	ProgressPercent int    `json:"progress_percent"`
	CurrentItem     string `json:"current_item,omitempty"`
	ItemsProcessed  *int   `json:"items_processed,omitempty"`
	ItemsTotal      *int   `json:"items_total,omitempty"`
}

type StatsDTO struct {
	PendingJobs        int64   `json:"pending_jobs"`
	RunningJobs        int64   `json:"running_jobs"`
	CompletedJobs      int64   `json:"completed_jobs"`
	FailedJobs         int64   `json:"failed_jobs"`
	CancelledJobs      int64   `json:"cancelled_jobs"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
}

type QueueStatsDTO struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Active int64  `json:"active"`
}

// AlertDTO is one dashboard warning, e.g. a job running far longer than
// expected or a pending job nothing has picked up.
type AlertDTO struct {
	JobID   string    `json:"job_id"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	Since   time.Time `json:"since"`
}

type DashboardDTO struct {
	Alerts []AlertDTO `json:"alerts"`
	Stats  StatsDTO   `json:"stats"`
}
