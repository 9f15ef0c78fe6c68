package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/michaelayoade/dotmac-jobs/internal/models"
	"github.com/michaelayoade/dotmac-jobs/internal/queue"
	"github.com/michaelayoade/dotmac-jobs/internal/storage/postgres"
)

func setupExecutor(t *testing.T) (*Executor, *postgres.JobRepository, *Registry) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Job{}, &models.JobLog{}))

	repo := postgres.NewJobRepository(db)
	registry := NewRegistry(3)
	exec := NewExecutor(repo, registry, zap.NewNop().Sugar())
	return exec, repo, registry
}

func seedPending(t *testing.T, repo *postgres.JobRepository, jobType string, mutate func(*models.Job)) *models.Job {
	t.Helper()

	job := &models.Job{
		ID:         uuid.NewString(),
		JobType:    jobType,
		Title:      jobType,
		Queue:      "default",
		Status:     models.StatusPending,
		Parameters: datatypes.JSON(`{}`),
		MaxRetries: 3,
	}
	if mutate != nil {
		mutate(job)
	}
	require.NoError(t, repo.Create(context.Background(), job))
	return job
}

func refFor(j *models.Job) queue.Ref {
	return queue.Ref{ID: j.ID, Queue: j.Queue, CreatedAt: j.CreatedAt}
}

func TestExecutor_Success(t *testing.T) {
	exec, repo, registry := setupExecutor(t)

	Register(registry, "noop", func(ctx *JobContext, p map[string]any) (any, error) {
		ctx.SetProgress(50)
		return map[string]string{"outcome": "done"}, nil
	})
	job := seedPending(t, repo, "noop", nil)

	exec.Execute(context.Background(), refFor(job))

	got, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.ProgressPercent)
	assert.JSONEq(t, `{"outcome":"done"}`, string(got.Result))
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
}

func TestExecutor_HandlerError(t *testing.T) {
	exec, repo, registry := setupExecutor(t)

	Register(registry, "broken", func(ctx *JobContext, p map[string]any) (any, error) {
		return nil, errors.New("downstream unavailable")
	})
	job := seedPending(t, repo, "broken", nil)

	var failedJob *models.Job
	var failedErr error
	exec.SetFailureHandler(func(j *models.Job, err error) {
		failedJob = j
		failedErr = err
	})

	exec.Execute(context.Background(), refFor(job))

	got, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "downstream unavailable", got.ErrorMessage)

	require.NotNil(t, failedJob)
	assert.Equal(t, job.ID, failedJob.ID)
	assert.EqualError(t, failedErr, "downstream unavailable")
}

func TestExecutor_HandlerPanic(t *testing.T) {
	exec, repo, registry := setupExecutor(t)

	Register(registry, "panicky", func(ctx *JobContext, p map[string]any) (any, error) {
		panic("index out of range")
	})
	job := seedPending(t, repo, "panicky", nil)

	exec.Execute(context.Background(), refFor(job))

	got, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "handler panic")
	assert.Contains(t, got.ErrorMessage, "index out of range")
	assert.NotEmpty(t, got.ErrorTraceback)
}

func TestExecutor_CooperativeCancellation(t *testing.T) {
	exec, repo, registry := setupExecutor(t)

	started := make(chan struct{})
	Register(registry, "slow", func(ctx *JobContext, p map[string]any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	job := seedPending(t, repo, "slow", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		exec.Execute(ctx, refFor(job))
		close(done)
	}()

	<-started
	cancel()
	<-done

	got, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
}

func TestExecutor_TimeoutBecomesCancellation(t *testing.T) {
	exec, repo, registry := setupExecutor(t)

	Register(registry, "slow", func(ctx *JobContext, p map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	job := seedPending(t, repo, "slow", func(j *models.Job) { j.TimeoutSeconds = 1 })

	start := time.Now()
	exec.Execute(context.Background(), refFor(job))
	assert.Less(t, time.Since(start), 5*time.Second)

	got, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Contains(t, got.CancelNote, "timed out after 1s")
}

func TestExecutor_NoHandlerFailsWithoutRetry(t *testing.T) {
	exec, repo, _ := setupExecutor(t)

	job := seedPending(t, repo, "unregistered", nil)

	retried := false
	exec.SetFailureHandler(func(j *models.Job, err error) { retried = true })

	exec.Execute(context.Background(), refFor(job))

	got, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "no handler registered")
	assert.False(t, retried, "configuration failures must not enter the retry path")
}

func TestExecutor_SkipsJobCancelledBeforeStart(t *testing.T) {
	exec, repo, registry := setupExecutor(t)

	ran := false
	Register(registry, "noop", func(ctx *JobContext, p map[string]any) (any, error) {
		ran = true
		return nil, nil
	})
	job := seedPending(t, repo, "noop", nil)

	_, err := repo.Transition(context.Background(), job.ID, models.StatusCancelled, nil)
	require.NoError(t, err)

	exec.Execute(context.Background(), refFor(job))

	assert.False(t, ran)
	got, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
}

func TestJobContext_SetProgressItems(t *testing.T) {
	exec, repo, registry := setupExecutor(t)

	Register(registry, "batch", func(ctx *JobContext, p map[string]any) (any, error) {
		ctx.SetProgressItems(5, 20, "row 5")
		return nil, nil
	})
	job := seedPending(t, repo, "batch", nil)

	exec.Execute(context.Background(), refFor(job))

	logs, err := repo.Logs(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)

	got, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	// Completion overwrites the percentage but item counters survive.
	require.NotNil(t, got.ItemsProcessed)
	assert.Equal(t, 5, *got.ItemsProcessed)
	require.NotNil(t, got.ItemsTotal)
	assert.Equal(t, 20, *got.ItemsTotal)
}

func TestJobContext_LogEmission(t *testing.T) {
	exec, repo, registry := setupExecutor(t)

	Register(registry, "chatty", func(ctx *JobContext, p map[string]any) (any, error) {
		ctx.Infof("starting %s", "work")
		ctx.Warnf("retrying subtask")
		ctx.Errorf("subtask gave up")
		return nil, nil
	})
	job := seedPending(t, repo, "chatty", nil)

	exec.Execute(context.Background(), refFor(job))

	logs, err := repo.Logs(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "starting work", logs[0].Message)
	assert.Equal(t, "info", logs[0].Level)
	assert.Equal(t, "warn", logs[1].Level)
	assert.Equal(t, "error", logs[2].Level)
}
