package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/michaelayoade/dotmac-jobs/common"
	"github.com/michaelayoade/dotmac-jobs/internal/metrics"
	"github.com/michaelayoade/dotmac-jobs/internal/models"
	"github.com/michaelayoade/dotmac-jobs/internal/queue"
	"github.com/michaelayoade/dotmac-jobs/internal/storage/postgres"
)

// FailureFunc is invoked after a job has been marked failed, with the
// refreshed record. The retry controller hooks in here.
type FailureFunc func(job *models.Job, handlerErr error)

// Executor drives one job run: claims the pending->running transition,
// invokes the handler with a cancellable JobContext, and records the
// terminal state. Handler failures are captured into job state, never
// propagated to the enqueuer.
type Executor struct {
	store     Store
	registry  *Registry
	onFailure FailureFunc
	logger    *zap.SugaredLogger
}

func NewExecutor(store Store, registry *Registry, logger *zap.SugaredLogger) *Executor {
	return &Executor{store: store, registry: registry, logger: logger}
}

// SetFailureHandler wires the retry controller. Must be called before the
// scheduler starts.
func (e *Executor) SetFailureHandler(fn FailureFunc) { e.onFailure = fn }

// Execute runs the referenced job to a terminal state. ctx is the per-job
// cancellation context owned by the scheduler; cancelling it is the
// cooperative cancellation signal. Store writes use a detached context so a
// cancelled job can still be recorded.
func (e *Executor) Execute(ctx context.Context, ref queue.Ref) {
	j, err := e.store.Transition(context.Background(), ref.ID, models.StatusRunning, nil)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrInvalidTransition):
			// Cancelled between claim and dispatch; nothing to run.
			e.logger.Debugw("claimed job no longer pending, skipping", "job_id", ref.ID)
		case errors.Is(err, common.ErrNotFound):
			e.logger.Warnw("claimed job disappeared", "job_id", ref.ID)
		default:
			e.logger.Errorw("failed to mark job running", "job_id", ref.ID, "error", err)
		}
		return
	}

	handler, ok := e.registry.Get(j.JobType)
	if !ok {
		e.failTerminal(j, fmt.Sprintf("no handler registered for job type %q", j.JobType))
		return
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if j.TimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(j.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	jc := &JobContext{Context: runCtx, job: j, store: e.store, logger: e.logger}

	result, traceback, err := e.invoke(jc, handler)

	switch {
	case err == nil:
		e.complete(j, result)
	case runCtx.Err() != nil:
		e.cancelled(j, runCtx.Err())
	default:
		e.failed(j, err, traceback)
	}
}

// invoke calls the handler, converting panics into errors with a captured
// stack trace.
func (e *Executor) invoke(jc *JobContext, handler HandlerFunc) (result any, traceback string, err error) {
	defer func() {
		if r := recover(); r != nil {
			traceback = string(debug.Stack())
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	result, err = handler(jc)
	return result, traceback, err
}

func (e *Executor) complete(j *models.Job, result any) {
	var raw datatypes.JSON
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			e.failed(j, fmt.Errorf("marshal result: %w", err), "")
			return
		}
		raw = datatypes.JSON(b)
	}

	_, err := e.store.Transition(context.Background(), j.ID, models.StatusCompleted,
		&postgres.TransitionPayload{Result: raw})
	if err != nil {
		if errors.Is(err, common.ErrInvalidTransition) {
			// Force-cancelled while the handler was finishing up.
			e.logger.Warnw("completion discarded, job already terminal", "job_id", j.ID)
			return
		}
		e.logger.Errorw("failed to mark job completed", "job_id", j.ID, "error", err)
		return
	}

	metrics.JobsCompleted.WithLabelValues(j.JobType).Inc()
	e.logger.Infow("job completed", "job_id", j.ID, "job_type", j.JobType)
}

func (e *Executor) cancelled(j *models.Job, cause error) {
	note := ""
	if errors.Is(cause, context.DeadlineExceeded) {
		note = fmt.Sprintf("timed out after %ds; timeout is treated as a cancellation request", j.TimeoutSeconds)
	}

	_, err := e.store.Transition(context.Background(), j.ID, models.StatusCancelled,
		&postgres.TransitionPayload{CancelNote: note})
	if err != nil {
		if errors.Is(err, common.ErrInvalidTransition) {
			// Already force-marked cancelled by the grace-period timer.
			e.logger.Debugw("cancellation already recorded", "job_id", j.ID)
			return
		}
		e.logger.Errorw("failed to mark job cancelled", "job_id", j.ID, "error", err)
		return
	}

	metrics.JobsCancelled.WithLabelValues(j.JobType).Inc()
	e.logger.Infow("job cancelled", "job_id", j.ID, "job_type", j.JobType, "cause", cause)
}

func (e *Executor) failed(j *models.Job, handlerErr error, traceback string) {
	updated, err := e.store.Transition(context.Background(), j.ID, models.StatusFailed,
		&postgres.TransitionPayload{
			ErrorMessage:   handlerErr.Error(),
			ErrorTraceback: traceback,
		})
	if err != nil {
		if errors.Is(err, common.ErrInvalidTransition) {
			e.logger.Warnw("failure discarded, job already terminal", "job_id", j.ID)
			return
		}
		e.logger.Errorw("failed to mark job failed", "job_id", j.ID, "error", err)
		return
	}

	metrics.JobsFailed.WithLabelValues(j.JobType).Inc()
	e.logger.Warnw("job failed",
		"job_id", j.ID, "job_type", j.JobType,
		"retry_count", updated.RetryCount, "max_retries", updated.MaxRetries,
		"error", handlerErr)

	if e.onFailure != nil {
		e.onFailure(updated, handlerErr)
	}
}

// failTerminal marks a job failed without involving the retry controller.
// Used for configuration errors where retrying cannot help.
func (e *Executor) failTerminal(j *models.Job, msg string) {
	_, err := e.store.Transition(context.Background(), j.ID, models.StatusFailed,
		&postgres.TransitionPayload{ErrorMessage: msg})
	if err != nil && !errors.Is(err, common.ErrInvalidTransition) {
		e.logger.Errorw("failed to mark job failed", "job_id", j.ID, "error", err)
		return
	}
	metrics.JobsFailed.WithLabelValues(j.JobType).Inc()
	e.logger.Errorw("job failed permanently", "job_id", j.ID, "reason", msg)
}
