package models

import (
	"time"

	"gorm.io/datatypes"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is one of the five known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is the durable record for one unit of asynchronous work.
type Job struct {
	ID              string         `gorm:"type:varchar(36);primaryKey"`
	JobType         string         `gorm:"type:varchar(255);not null;index"`
	Title           string         `gorm:"type:varchar(255)"`
	Queue           string         `gorm:"type:varchar(255);not null;index"`
	Status          Status         `gorm:"type:varchar(50);not null;default:'pending';index"`
	Parameters      datatypes.JSON `gorm:"type:jsonb"`
	ProgressPercent int            `gorm:"not null;default:0"`
	ItemsProcessed  *int
	ItemsTotal      *int
	CurrentItem     string         `gorm:"type:varchar(512)"`
	Result          datatypes.JSON `gorm:"type:jsonb"`
	ErrorMessage    string         `gorm:"type:text"`
	ErrorTraceback  string         `gorm:"type:text"`
	ErrorDetails    datatypes.JSON `gorm:"type:jsonb"`
	CancelNote      string         `gorm:"type:text"`
	CancelRequested bool           `gorm:"not null;default:false"`
	RetryCount      int            `gorm:"not null;default:0"`
	MaxRetries      int            `gorm:"not null;default:3"`
	TimeoutSeconds  int            `gorm:"not null;default:0"`
	CreatedAt       time.Time      `gorm:"autoCreateTime;index"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime"`
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// DurationSeconds is CompletedAt - StartedAt, or zero while either is unset.
func (j *Job) DurationSeconds() float64 {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt).Seconds()
}

// JobLog is an append-only log entry owned by a single job.
// The autoincrement ID doubles as the append-order sort key.
type JobLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	JobID     string    `gorm:"type:varchar(36);not null;index"`
	Timestamp time.Time `gorm:"not null"`
	Level     string    `gorm:"type:varchar(10);not null"`
	Message   string    `gorm:"type:text;not null"`
}
