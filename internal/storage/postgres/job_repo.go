package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/michaelayoade/dotmac-jobs/common"
	"github.com/michaelayoade/dotmac-jobs/internal/models"
)

// ListFilter narrows and paginates List queries. Zero values mean "no filter".
type ListFilter struct {
	Status   models.Status
	Queue    string
	JobType  string
	Page     int
	PageSize int
}

// ProgressUpdate carries one progress emission. Nil pointer fields are left
// untouched on the record.
type ProgressUpdate struct {
	Percent        int
	ItemsProcessed *int
	ItemsTotal     *int
	CurrentItem    *string
}

// TransitionPayload carries the fields written alongside a status change.
type TransitionPayload struct {
	Result         datatypes.JSON
	ErrorMessage   string
	ErrorTraceback string
	ErrorDetails   datatypes.JSON
	CancelNote     string
}

// JobStats aggregates job counts and the average duration of completed jobs.
type JobStats struct {
	Pending            int64
	Running            int64
	Completed          int64
	Failed             int64
	Cancelled          int64
	AvgDurationSeconds float64
}

// QueueStat is the per-queue size/active projection for the dashboard.
type QueueStat struct {
	Name   string
	Size   int64
	Active int64
}

// allowedFrom is the job state machine: for each target status, the set of
// statuses a guarded UPDATE may move from. Everything else is rejected with
// common.ErrInvalidTransition and the record is left untouched.
var allowedFrom = map[models.Status][]models.Status{
	models.StatusRunning:   {models.StatusPending},
	models.StatusCompleted: {models.StatusRunning},
	models.StatusFailed:    {models.StatusRunning},
	models.StatusCancelled: {models.StatusPending, models.StatusRunning},
	// failed -> pending is a retry: same ID, incremented retry_count,
	// log history preserved.
	models.StatusPending: {models.StatusFailed},
}

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job record in pending state.
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Get retrieves a single job record by its ID.
func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// List retrieves jobs matching the filter, newest first (ties broken by ID
// so pagination is stable). Returns the page plus the total match count.
func (r *JobRepository) List(ctx context.Context, filter ListFilter) ([]models.Job, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Job{})

	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Queue != "" {
		q = q.Where("queue = ?", filter.Queue)
	}
	if filter.JobType != "" {
		q = q.Where("job_type = ?", filter.JobType)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}

	var jobs []models.Job
	if err := q.Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, nil
}

// ListByStatus retrieves all jobs in the given status, oldest first. Used by
// the engine on startup to re-seed queues and release stranded running jobs.
func (r *JobRepository) ListByStatus(ctx context.Context, status models.Status) ([]models.Job, error) {
	var jobs []models.Job
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC, id ASC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	return jobs, nil
}

// AppendLog adds one log entry to the job's log. Entries are returned by
// Logs in append order; the autoincrement primary key is the sort key so
// ordering survives same-millisecond appends.
func (r *JobRepository) AppendLog(ctx context.Context, id, level, message string) error {
	if err := r.db.WithContext(ctx).Select("id").First(&models.Job{}, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return common.ErrNotFound
		}
		return fmt.Errorf("append log: %w", err)
	}

	entry := models.JobLog{
		JobID:     id,
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
	}
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// Logs returns the job's log entries in append order.
func (r *JobRepository) Logs(ctx context.Context, id string) ([]models.JobLog, error) {
	if err := r.db.WithContext(ctx).Select("id").First(&models.Job{}, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("get logs: %w", err)
	}

	var logs []models.JobLog
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", id).
		Order("id ASC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("get logs: %w", err)
	}
	return logs, nil
}

// UpdateProgress records a progress emission for a running job. Percent is
// clamped to 0-100 and never decreases; the guard runs in SQL so concurrent
// emissions cannot move the bar backwards.
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, upd ProgressUpdate) error {
	percent := upd.Percent
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	updates := map[string]any{
		"progress_percent": gorm.Expr(
			"CASE WHEN progress_percent > ? THEN progress_percent ELSE ? END",
			percent, percent,
		),
	}
	if upd.ItemsProcessed != nil {
		updates["items_processed"] = *upd.ItemsProcessed
	}
	if upd.ItemsTotal != nil {
		updates["items_total"] = *upd.ItemsTotal
	}
	if upd.CurrentItem != nil {
		updates["current_item"] = *upd.CurrentItem
	}

	tx := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.StatusRunning).
		Updates(updates)
	if tx.Error != nil {
		return fmt.Errorf("update progress: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return common.ErrInvalidState
	}
	return nil
}

// Transition moves a job to the target status, enforcing the state machine
// with a single guarded UPDATE (WHERE status IN allowed-from). A rejected
// move leaves the record untouched and returns common.ErrInvalidTransition.
// On success the refreshed record is returned.
func (r *JobRepository) Transition(ctx context.Context, id string, to models.Status, payload *TransitionPayload) (*models.Job, error) {
	from, ok := allowedFrom[to]
	if !ok {
		return nil, fmt.Errorf("transition to %q: %w", to, common.ErrInvalidTransition)
	}
	if payload == nil {
		payload = &TransitionPayload{}
	}

	now := time.Now().UTC()
	updates := map[string]any{"status": to}

	switch to {
	case models.StatusRunning:
		updates["started_at"] = now
		updates["completed_at"] = nil
		updates["current_item"] = ""
	case models.StatusCompleted:
		updates["completed_at"] = now
		updates["progress_percent"] = 100
		updates["current_item"] = ""
		updates["result"] = payload.Result
	case models.StatusFailed:
		updates["completed_at"] = now
		updates["error_message"] = payload.ErrorMessage
		updates["error_traceback"] = payload.ErrorTraceback
		updates["error_details"] = payload.ErrorDetails
	case models.StatusCancelled:
		updates["completed_at"] = now
		updates["cancel_note"] = payload.CancelNote
	case models.StatusPending:
		// Retry: a fresh run state under the same ID. Prior log entries
		// stay as an audit trail.
		updates["retry_count"] = gorm.Expr("retry_count + 1")
		updates["progress_percent"] = 0
		updates["items_processed"] = nil
		updates["current_item"] = ""
		updates["result"] = nil
		updates["error_message"] = ""
		updates["error_traceback"] = ""
		updates["error_details"] = nil
		updates["cancel_note"] = ""
		updates["cancel_requested"] = false
		updates["started_at"] = nil
		updates["completed_at"] = nil
	}

	tx := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if tx.Error != nil {
		return nil, fmt.Errorf("transition to %q: %w", to, tx.Error)
	}
	if tx.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("transition to %q: %w", to, common.ErrInvalidTransition)
	}

	return r.Get(ctx, id)
}

// RequestCancel flags a running job for cooperative cancellation. The flag
// is how a cancel issued in one process reaches the worker process actually
// executing the job. Terminal jobs are rejected with ErrInvalidState.
func (r *JobRepository) RequestCancel(ctx context.Context, id string) error {
	tx := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status IN ?", id, []models.Status{models.StatusPending, models.StatusRunning}).
		Update("cancel_requested", true)
	if tx.Error != nil {
		return fmt.Errorf("request cancel: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return common.ErrInvalidState
	}
	return nil
}

// CancelRequested returns running jobs flagged for cancellation.
func (r *JobRepository) CancelRequested(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	if err := r.db.WithContext(ctx).
		Where("status = ? AND cancel_requested = ?", models.StatusRunning, true).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("cancel requested: %w", err)
	}
	return jobs, nil
}

// Stats aggregates job counts by status and the average duration of
// completed jobs.
func (r *JobRepository) Stats(ctx context.Context) (*JobStats, error) {
	var rows []struct {
		Status models.Status
		N      int64
	}
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}

	stats := &JobStats{}
	for _, row := range rows {
		switch row.Status {
		case models.StatusPending:
			stats.Pending = row.N
		case models.StatusRunning:
			stats.Running = row.N
		case models.StatusCompleted:
			stats.Completed = row.N
		case models.StatusFailed:
			stats.Failed = row.N
		case models.StatusCancelled:
			stats.Cancelled = row.N
		}
	}

	// Durations are averaged in Go to stay portable between the postgres
	// deployment and the sqlite test harness.
	var spans []struct {
		StartedAt   *time.Time
		CompletedAt *time.Time
	}
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Select("started_at, completed_at").
		Where("status = ? AND started_at IS NOT NULL AND completed_at IS NOT NULL", models.StatusCompleted).
		Scan(&spans).Error; err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	if len(spans) > 0 {
		var sum float64
		for _, s := range spans {
			sum += s.CompletedAt.Sub(*s.StartedAt).Seconds()
		}
		stats.AvgDurationSeconds = sum / float64(len(spans))
	}

	return stats, nil
}

// QueueStats returns per-queue {size, active} where size counts pending plus
// running jobs. Derived from the store so it survives worker restarts.
func (r *JobRepository) QueueStats(ctx context.Context) ([]QueueStat, error) {
	var stats []QueueStat
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Select("queue AS name, COUNT(*) AS size, SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS active", models.StatusRunning).
		Where("status IN ?", []models.Status{models.StatusPending, models.StatusRunning}).
		Group("queue").
		Order("queue ASC").
		Scan(&stats).Error; err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return stats, nil
}

// StuckJobs returns jobs that look wedged: running longer than runningAfter,
// or pending longer than pendingAfter. Feeds the dashboard alerts.
func (r *JobRepository) StuckJobs(ctx context.Context, runningAfter, pendingAfter time.Duration) ([]models.Job, error) {
	now := time.Now().UTC()
	var jobs []models.Job
	if err := r.db.WithContext(ctx).
		Where("(status = ? AND started_at IS NOT NULL AND started_at < ?) OR (status = ? AND created_at < ?)",
			models.StatusRunning, now.Add(-runningAfter),
			models.StatusPending, now.Add(-pendingAfter)).
		Order("created_at ASC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("stuck jobs: %w", err)
	}
	return jobs, nil
}
