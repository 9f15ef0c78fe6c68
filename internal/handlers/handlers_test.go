package handlers

import (
	"context"
	"encoding/json"
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
	"github.com/michaelayoade/dotmac-jobs/internal/runner"
	"github.com/michaelayoade/dotmac-jobs/internal/storage/postgres"
)

func setup(t *testing.T) (*runner.Executor, *postgres.JobRepository, *runner.Registry) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Job{}, &models.JobLog{}))

	repo := postgres.NewJobRepository(db)
	registry := runner.NewRegistry(3)
	RegisterAll(registry)
	return runner.NewExecutor(repo, registry, zap.NewNop().Sugar()), repo, registry
}

func runJob(t *testing.T, exec *runner.Executor, repo *postgres.JobRepository, jobType, params string) *models.Job {
	t.Helper()

	job := &models.Job{
		ID:         uuid.NewString(),
		JobType:    jobType,
		Queue:      "default",
		Status:     models.StatusPending,
		Parameters: datatypes.JSON(params),
	}
	require.NoError(t, repo.Create(context.Background(), job))

	exec.Execute(context.Background(), queue.Ref{ID: job.ID, Queue: job.Queue, CreatedAt: job.CreatedAt})

	got, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	return got
}

func TestRegisterAll_Options(t *testing.T) {
	registry := runner.NewRegistry(3)
	RegisterAll(registry)

	assert.Equal(t, []string{"process_payment", "send_email", "send_webhook"}, registry.Types())

	opts, ok := registry.Options("process_payment")
	require.True(t, ok)
	assert.Equal(t, 5, opts.MaxRetries)

	opts, ok = registry.Options("send_webhook")
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, opts.Timeout)

	opts, ok = registry.Options("send_email")
	require.True(t, ok)
	assert.Equal(t, 3, opts.MaxRetries)
}

func TestSendEmail(t *testing.T) {
	exec, repo, _ := setup(t)

	got := runJob(t, exec, repo, "send_email",
		`{"to":"user@example.com","subject":"Welcome","body":"Hello there"}`)

	require.Equal(t, models.StatusCompleted, got.Status)

	var result map[string]any
	require.NoError(t, json.Unmarshal(got.Result, &result))
	assert.Equal(t, "user@example.com", result["to"])
	assert.Equal(t, "Welcome", result["subject"])
	assert.NotEmpty(t, result["message_id"])
}

func TestSendEmail_RejectsInvalidPayload(t *testing.T) {
	exec, repo, _ := setup(t)

	got := runJob(t, exec, repo, "send_email", `{"to":"not-an-email"}`)

	require.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "invalid parameters")
}

func TestProcessPayment(t *testing.T) {
	exec, repo, _ := setup(t)

	got := runJob(t, exec, repo, "process_payment",
		`{"payment_id":"pay_1","user_id":"u_1","amount":49.99,"currency":"USD","method":"card"}`)

	require.Equal(t, models.StatusCompleted, got.Status)

	var result map[string]any
	require.NoError(t, json.Unmarshal(got.Result, &result))
	assert.Equal(t, "pay_1", result["payment_id"])
	assert.Equal(t, "completed", result["status"])
	assert.InDelta(t, 49.99, result["amount"], 0.001)
}

func TestSendWebhook(t *testing.T) {
	exec, repo, _ := setup(t)

	got := runJob(t, exec, repo, "send_webhook",
		`{"url":"https://example.com/hook","method":"POST","body":{"event":"ping"},"timeout":1}`)

	require.Equal(t, models.StatusCompleted, got.Status)

	var result map[string]any
	require.NoError(t, json.Unmarshal(got.Result, &result))
	assert.Equal(t, "https://example.com/hook", result["url"])
	assert.EqualValues(t, 200, result["status_code"])
}
