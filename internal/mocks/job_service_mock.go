package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/michaelayoade/dotmac-jobs/internal/dto"
)

type JobServiceMock struct {
	mock.Mock
}

func (m *JobServiceMock) CreateJob(ctx context.Context, in *dto.JobCreateDTO) (*dto.JobDetailDTO, error) {
	args := m.Called(ctx, in)

	detail, _ := args.Get(0).(*dto.JobDetailDTO)
	return detail, args.Error(1)
}

func (m *JobServiceMock) GetJob(ctx context.Context, id string) (*dto.JobDetailDTO, error) {
	args := m.Called(ctx, id)

	detail, _ := args.Get(0).(*dto.JobDetailDTO)
	return detail, args.Error(1)
}

func (m *JobServiceMock) ListJobs(ctx context.Context, params dto.ListParams) (*dto.JobListDTO, error) {
	args := m.Called(ctx, params)

	list, _ := args.Get(0).(*dto.JobListDTO)
	return list, args.Error(1)
}

func (m *JobServiceMock) GetLogs(ctx context.Context, id string) ([]dto.LogEntryDTO, error) {
	args := m.Called(ctx, id)

	logs, _ := args.Get(0).([]dto.LogEntryDTO)
	return logs, args.Error(1)
}

func (m *JobServiceMock) GetProgress(ctx context.Context, id string) (*dto.ProgressDTO, error) {
	args := m.Called(ctx, id)

	progress, _ := args.Get(0).(*dto.ProgressDTO)
	return progress, args.Error(1)
}

func (m *JobServiceMock) RetryJob(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *JobServiceMock) CancelJob(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *JobServiceMock) Dashboard(ctx context.Context) (*dto.DashboardDTO, error) {
	args := m.Called(ctx)

	dash, _ := args.Get(0).(*dto.DashboardDTO)
	return dash, args.Error(1)
}

func (m *JobServiceMock) Stats(ctx context.Context) (*dto.StatsDTO, error) {
	args := m.Called(ctx)

	stats, _ := args.Get(0).(*dto.StatsDTO)
	return stats, args.Error(1)
}

func (m *JobServiceMock) QueueStats(ctx context.Context) ([]dto.QueueStatsDTO, error) {
	args := m.Called(ctx)

	stats, _ := args.Get(0).([]dto.QueueStatsDTO)
	return stats, args.Error(1)
}
