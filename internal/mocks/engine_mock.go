package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/michaelayoade/dotmac-jobs/internal/engine"
	"github.com/michaelayoade/dotmac-jobs/internal/models"
)

type EngineMock struct {
	mock.Mock
}

func (m *EngineMock) Enqueue(ctx context.Context, in engine.EnqueueInput) (*models.Job, error) {
	args := m.Called(ctx, in)

	job, _ := args.Get(0).(*models.Job)
	return job, args.Error(1)
}

func (m *EngineMock) Cancel(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *EngineMock) Retry(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
