package job

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/michaelayoade/dotmac-jobs/internal/dto"
	"github.com/michaelayoade/dotmac-jobs/internal/engine"
	"github.com/michaelayoade/dotmac-jobs/internal/models"
	"github.com/michaelayoade/dotmac-jobs/internal/storage/postgres"
)

// JobRepoInterface is the read-side contract the API layer needs from the
// job record store.
type JobRepoInterface interface {
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, filter postgres.ListFilter) ([]models.Job, int64, error)
	Logs(ctx context.Context, id string) ([]models.JobLog, error)
	Stats(ctx context.Context) (*postgres.JobStats, error)
	QueueStats(ctx context.Context) ([]postgres.QueueStat, error)
	StuckJobs(ctx context.Context, runningAfter, pendingAfter time.Duration) ([]models.Job, error)
}

// EngineInterface is the write-side contract: submission and the
// retry/cancellation controller operations.
type EngineInterface interface {
	Enqueue(ctx context.Context, in engine.EnqueueInput) (*models.Job, error)
	Cancel(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) error
}

// JobServiceInterface defines the contract for job business logic operations.
type JobServiceInterface interface {
	CreateJob(ctx context.Context, dto *dto.JobCreateDTO) (*dto.JobDetailDTO, error)
	GetJob(ctx context.Context, id string) (*dto.JobDetailDTO, error)
	ListJobs(ctx context.Context, params dto.ListParams) (*dto.JobListDTO, error)
	GetLogs(ctx context.Context, id string) ([]dto.LogEntryDTO, error)
	GetProgress(ctx context.Context, id string) (*dto.ProgressDTO, error)
	RetryJob(ctx context.Context, id string) error
	CancelJob(ctx context.Context, id string) error
	Dashboard(ctx context.Context) (*dto.DashboardDTO, error)
	Stats(ctx context.Context) (*dto.StatsDTO, error)
	QueueStats(ctx context.Context) ([]dto.QueueStatsDTO, error)
}

// JobHandlerInterface defines the contract for HTTP request handlers.
type JobHandlerInterface interface {
	Create(c *gin.Context)
	Get(c *gin.Context)
	List(c *gin.Context)
	Logs(c *gin.Context)
	Progress(c *gin.Context)
	Retry(c *gin.Context)
	Cancel(c *gin.Context)
	Dashboard(c *gin.Context)
	Stats(c *gin.Context)
	Queues(c *gin.Context)
}
