package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"gorm.io/datatypes"

	"github.com/michaelayoade/dotmac-jobs/common"
	"github.com/michaelayoade/dotmac-jobs/internal/config"
	"github.com/michaelayoade/dotmac-jobs/internal/dto"
	"github.com/michaelayoade/dotmac-jobs/internal/engine"
	"github.com/michaelayoade/dotmac-jobs/internal/models"
	"github.com/michaelayoade/dotmac-jobs/internal/storage/postgres"
)

type JobService struct {
	repo JobRepoInterface
	eng  EngineInterface
	cfg  *config.Engine
}

func NewJobService(repo JobRepoInterface, eng EngineInterface, cfg *config.Engine) *JobService {
	return &JobService{repo: repo, eng: eng, cfg: cfg}
}

var _ JobServiceInterface = (*JobService)(nil)

// CreateJob validates job submission input, applies business rules, and
// enqueues the job through the engine. It returns a typed API error for
// validation failures and an internal error for persistence failures.
func (s *JobService) CreateJob(ctx context.Context, in *dto.JobCreateDTO) (*dto.JobDetailDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request canceled or timed out")
	}

	if !json.Valid(in.Payload) {
		return nil, common.Errf(http.StatusBadRequest, "payload must be valid JSON")
	}

	if !slices.Contains(config.AllowedQueues, in.Queue) {
		return nil, common.NewAPIError(
			http.StatusBadRequest,
			"invalid queue",
			map[string]any{
				"provided": in.Queue,
				"allowed":  config.AllowedQueues,
			},
		)
	}

	if !slices.Contains(config.AllowedJobTypes, in.JobType) {
		return nil, common.NewAPIError(
			http.StatusBadRequest,
			"invalid job type",
			map[string]any{
				"provided": in.JobType,
				"allowed":  config.AllowedJobTypes,
			},
		)
	}

	switch in.JobType {
	case "send_email":
		if err := validatePayload[dto.SendEmailPayload](in.Payload); err != nil {
			return nil, err
		}
	case "process_payment":
		if err := validatePayload[dto.ProcessPaymentPayload](in.Payload); err != nil {
			return nil, err
		}
	case "send_webhook":
		if err := validatePayload[dto.SendWebhookPayload](in.Payload); err != nil {
			return nil, err
		}
	}

	job, err := s.eng.Enqueue(ctx, engine.EnqueueInput{
		JobType:        in.JobType,
		Queue:          in.Queue,
		Title:          in.Title,
		Parameters:     datatypes.JSON(in.Payload),
		MaxRetries:     in.MaxRetries,
		TimeoutSeconds: in.TimeoutSeconds,
	})
	if err != nil {
		return nil, s.mapErr(err, "failed to enqueue job")
	}

	return toDetailDTO(job), nil
}

// GetJob retrieves the full job detail by ID.
func (s *JobService) GetJob(ctx context.Context, id string) (*dto.JobDetailDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, s.mapErr(err, "failed to get job")
	}
	return toDetailDTO(job), nil
}

// ListJobs returns paginated job summaries, newest first.
func (s *JobService) ListJobs(ctx context.Context, params dto.ListParams) (*dto.JobListDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	if params.Status != "" && !models.Status(params.Status).Valid() {
		return nil, common.NewAPIError(http.StatusBadRequest, "invalid status filter", map[string]any{
			"provided": params.Status,
		})
	}

	page := params.Page
	if page < 1 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	jobs, total, err := s.repo.List(ctx, postgres.ListFilter{
		Status:   models.Status(params.Status),
		Queue:    params.Queue,
		JobType:  params.JobType,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return nil, s.mapErr(err, "failed to list jobs")
	}

	summaries := make([]dto.JobSummaryDTO, len(jobs))
	for i := range jobs {
		summaries[i] = toSummaryDTO(&jobs[i])
	}
	return &dto.JobListDTO{Jobs: summaries, Page: page, PageSize: pageSize, Total: total}, nil
}

// GetLogs returns the job's log entries in append order.
func (s *JobService) GetLogs(ctx context.Context, id string) ([]dto.LogEntryDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	logs, err := s.repo.Logs(ctx, id)
	if err != nil {
		return nil, s.mapErr(err, "failed to get job logs")
	}

	entries := make([]dto.LogEntryDTO, len(logs))
	for i, l := range logs {
		entries[i] = dto.LogEntryDTO{Timestamp: l.Timestamp, Level: l.Level, Message: l.Message}
	}
	return entries, nil
}

// GetProgress returns the job's current progress snapshot.
func (s *JobService) GetProgress(ctx context.Context, id string) (*dto.ProgressDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, s.mapErr(err, "failed to get job progress")
	}
	return &dto.ProgressDTO{
		ProgressPercent: job.ProgressPercent,
		CurrentItem:     job.CurrentItem,
		ItemsProcessed:  job.ItemsProcessed,
		ItemsTotal:      job.ItemsTotal,
	}, nil
}

// RetryJob re-queues a failed job. Repeated calls on an already-pending job
// are no-ops, not errors.
func (s *JobService) RetryJob(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	if err := s.eng.Retry(ctx, id); err != nil {
		return s.mapErr(err, "failed to retry job")
	}
	return nil
}

// CancelJob requests cancellation; for running jobs the state change is
// asynchronous.
func (s *JobService) CancelJob(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	if err := s.eng.Cancel(ctx, id); err != nil {
		return s.mapErr(err, "failed to cancel job")
	}
	return nil
}

// Dashboard aggregates stuck-job alerts and summary stats.
func (s *JobService) Dashboard(ctx context.Context) (*dto.DashboardDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}

	stuck, err := s.repo.StuckJobs(ctx, s.cfg.StuckRunningAfter, s.cfg.StalePendingAfter)
	if err != nil {
		return nil, s.mapErr(err, "failed to scan for stuck jobs")
	}

	alerts := make([]dto.AlertDTO, 0, len(stuck))
	for i := range stuck {
		j := &stuck[i]
		switch j.Status {
		case models.StatusRunning:
			alerts = append(alerts, dto.AlertDTO{
				JobID:   j.ID,
				Kind:    "stuck_running",
				Message: fmt.Sprintf("job %q has been running since %s", j.Title, j.StartedAt.Format("2006-01-02 15:04:05")),
				Since:   *j.StartedAt,
			})
		case models.StatusPending:
			alerts = append(alerts, dto.AlertDTO{
				JobID:   j.ID,
				Kind:    "stale_pending",
				Message: fmt.Sprintf("job %q has been waiting since %s", j.Title, j.CreatedAt.Format("2006-01-02 15:04:05")),
				Since:   j.CreatedAt,
			})
		}
	}

	return &dto.DashboardDTO{Alerts: alerts, Stats: *stats}, nil
}

// Stats returns job counts by status plus average completed duration.
func (s *JobService) Stats(ctx context.Context) (*dto.StatsDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, s.mapErr(err, "failed to compute job stats")
	}
	return &dto.StatsDTO{
		PendingJobs:        stats.Pending,
		RunningJobs:        stats.Running,
		CompletedJobs:      stats.Completed,
		FailedJobs:         stats.Failed,
		CancelledJobs:      stats.Cancelled,
		AvgDurationSeconds: stats.AvgDurationSeconds,
	}, nil
}

// QueueStats returns per-queue size and active counts.
func (s *JobService) QueueStats(ctx context.Context) ([]dto.QueueStatsDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	stats, err := s.repo.QueueStats(ctx)
	if err != nil {
		return nil, s.mapErr(err, "failed to compute queue stats")
	}

	out := make([]dto.QueueStatsDTO, len(stats))
	for i, q := range stats {
		out[i] = dto.QueueStatsDTO{Name: q.Name, Size: q.Size, Active: q.Active}
	}
	return out, nil
}

// mapErr translates engine/store errors into API errors.
func (s *JobService) mapErr(err error, fallback string) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return common.Errf(http.StatusRequestTimeout, "request timed out")
	case errors.Is(err, common.ErrNotFound):
		return common.Errf(http.StatusNotFound, "job not found")
	case errors.Is(err, common.ErrInvalidState):
		return common.Errf(http.StatusConflict, "%v", err)
	case errors.Is(err, common.ErrInvalidTransition):
		return common.Errf(http.StatusConflict, "%v", err)
	default:
		return common.Errf(http.StatusInternalServerError, "%s", fallback)
	}
}

func toSummaryDTO(j *models.Job) dto.JobSummaryDTO {
	return dto.JobSummaryDTO{
		ID:              j.ID,
		Title:           j.Title,
		JobType:         j.JobType,
		Queue:           j.Queue,
		Status:          string(j.Status),
		ProgressPercent: j.ProgressPercent,
		CreatedAt:       j.CreatedAt,
		DurationSeconds: j.DurationSeconds(),
	}
}

func toDetailDTO(j *models.Job) *dto.JobDetailDTO {
	return &dto.JobDetailDTO{
		ID:              j.ID,
		Title:           j.Title,
		JobType:         j.JobType,
		Queue:           j.Queue,
		Status:          string(j.Status),
		Parameters:      json.RawMessage(j.Parameters),
		ProgressPercent: j.ProgressPercent,
		ItemsProcessed:  j.ItemsProcessed,
		ItemsTotal:      j.ItemsTotal,
		CurrentItem:     j.CurrentItem,
		Result:          json.RawMessage(j.Result),
		ErrorMessage:    j.ErrorMessage,
		ErrorTraceback:  j.ErrorTraceback,
		ErrorDetails:    json.RawMessage(j.ErrorDetails),
		CancelNote:      j.CancelNote,
		RetryCount:      j.RetryCount,
		MaxRetries:      j.MaxRetries,
		TimeoutSeconds:  j.TimeoutSeconds,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		DurationSeconds: j.DurationSeconds(),
	}
}
