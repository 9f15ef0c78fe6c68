package runner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/michaelayoade/dotmac-jobs/common"
	"github.com/michaelayoade/dotmac-jobs/internal/models"
	"github.com/michaelayoade/dotmac-jobs/internal/storage/postgres"
)

// Store is the slice of the record store the runner needs. Satisfied by
// *postgres.JobRepository.
type Store interface {
	Transition(ctx context.Context, id string, to models.Status, payload *postgres.TransitionPayload) (*models.Job, error)
	UpdateProgress(ctx context.Context, id string, upd postgres.ProgressUpdate) error
	AppendLog(ctx context.Context, id, level, message string) error
}

// JobContext is passed to every handler invocation. The embedded Context
// carries the cancellation signal and timeout; handlers are expected to
// check it at safe points. Progress and log writes go through the record
// store on a detached context so they still land while the job context is
// being cancelled.
type JobContext struct {
	context.Context

	job    *models.Job
	store  Store
	logger *zap.SugaredLogger
}

// JobID returns the ID of the job being executed.
func (c *JobContext) JobID() string { return c.job.ID }

// JobType returns the job's type discriminator.
func (c *JobContext) JobType() string { return c.job.JobType }

// RetryCount returns which attempt this run is (0 for the first run).
func (c *JobContext) RetryCount() int { return c.job.RetryCount }

// Parameters returns the raw parameters payload.
func (c *JobContext) Parameters() []byte { return c.job.Parameters }

// SetProgress records a progress percentage. Progress is monotonic: a lower
// value than previously recorded is ignored by the store.
func (c *JobContext) SetProgress(percent int) {
	c.progress(postgres.ProgressUpdate{Percent: percent})
}

// SetProgressItems records batch progress. The percentage is derived from
// processed/total when total is positive.
func (c *JobContext) SetProgressItems(processed, total int, currentItem string) {
	percent := 0
	if total > 0 {
		percent = processed * 100 / total
	}
	c.progress(postgres.ProgressUpdate{
		Percent:        percent,
		ItemsProcessed: &processed,
		ItemsTotal:     &total,
		CurrentItem:    &currentItem,
	})
}

func (c *JobContext) progress(upd postgres.ProgressUpdate) {
	err := c.store.UpdateProgress(context.Background(), c.job.ID, upd)
	if err == nil {
		return
	}
	// The job may have been force-cancelled while the handler kept going;
	// its progress no longer matters.
	if errors.Is(err, common.ErrInvalidState) || errors.Is(err, common.ErrNotFound) {
		c.logger.Debugw("progress update ignored", "job_id", c.job.ID, "reason", err)
		return
	}
	c.logger.Warnw("progress update failed", "job_id", c.job.ID, "error", err)
}

// Infof appends an info-level entry to the job's log.
func (c *JobContext) Infof(format string, args ...any) { c.appendLog("info", format, args...) }

// Warnf appends a warn-level entry to the job's log.
func (c *JobContext) Warnf(format string, args ...any) { c.appendLog("warn", format, args...) }

// Errorf appends an error-level entry to the job's log.
func (c *JobContext) Errorf(format string, args ...any) { c.appendLog("error", format, args...) }

func (c *JobContext) appendLog(level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if err := c.store.AppendLog(context.Background(), c.job.ID, level, msg); err != nil {
		c.logger.Warnw("job log append failed", "job_id", c.job.ID, "error", err)
	}
}
