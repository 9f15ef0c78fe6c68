package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/michaelayoade/dotmac-jobs/internal/models"
	"github.com/michaelayoade/dotmac-jobs/internal/storage/postgres"
)

type JobRepoMock struct {
	mock.Mock
}

func (m *JobRepoMock) Get(ctx context.Context, id string) (*models.Job, error) {
	args := m.Called(ctx, id)

	job, _ := args.Get(0).(*models.Job)
	return job, args.Error(1)
}

func (m *JobRepoMock) List(ctx context.Context, filter postgres.ListFilter) ([]models.Job, int64, error) {
	args := m.Called(ctx, filter)

	jobs, _ := args.Get(0).([]models.Job)
	total, _ := args.Get(1).(int64)
	return jobs, total, args.Error(2)
}

func (m *JobRepoMock) Logs(ctx context.Context, id string) ([]models.JobLog, error) {
	args := m.Called(ctx, id)

	logs, _ := args.Get(0).([]models.JobLog)
	return logs, args.Error(1)
}

func (m *JobRepoMock) Stats(ctx context.Context) (*postgres.JobStats, error) {
	args := m.Called(ctx)

	stats, _ := args.Get(0).(*postgres.JobStats)
	return stats, args.Error(1)
}

func (m *JobRepoMock) QueueStats(ctx context.Context) ([]postgres.QueueStat, error) {
	args := m.Called(ctx)

	stats, _ := args.Get(0).([]postgres.QueueStat)
	return stats, args.Error(1)
}

func (m *JobRepoMock) StuckJobs(ctx context.Context, runningAfter, pendingAfter time.Duration) ([]models.Job, error) {
	args := m.Called(ctx, runningAfter, pendingAfter)

	jobs, _ := args.Get(0).([]models.Job)
	return jobs, args.Error(1)
}
