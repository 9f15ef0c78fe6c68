// Package engine wires the job subsystems together: record store, queue
// manager, scheduler, runner, and the retry/cancellation controller. The
// API layer talks to an Engine; it never touches queues or workers
// directly.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/michaelayoade/dotmac-jobs/common"
	"github.com/michaelayoade/dotmac-jobs/internal/backoff"
	"github.com/michaelayoade/dotmac-jobs/internal/config"
	"github.com/michaelayoade/dotmac-jobs/internal/metrics"
	"github.com/michaelayoade/dotmac-jobs/internal/models"
	"github.com/michaelayoade/dotmac-jobs/internal/queue"
	"github.com/michaelayoade/dotmac-jobs/internal/runner"
	"github.com/michaelayoade/dotmac-jobs/internal/scheduler"
	"github.com/michaelayoade/dotmac-jobs/internal/storage/postgres"
)

const forcedCancelNote = "handler did not acknowledge cancellation within grace period; underlying work may still be running"

// EnqueueInput describes a new job submission.
type EnqueueInput struct {
	JobType        string
	Queue          string
	Title          string
	Parameters     datatypes.JSON
	MaxRetries     *int
	TimeoutSeconds int
}

// Engine is the job engine facade.
type Engine struct {
	repo     *postgres.JobRepository
	queues   *queue.Manager
	sched    *scheduler.Scheduler
	registry *runner.Registry
	bo       backoff.Strategy
	cfg      *config.Engine
	logger   *zap.SugaredLogger

	timerMu sync.Mutex
	timers  map[string]*time.Timer

	stopCh  chan struct{}
	watchWG sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

// New builds an Engine around the given record store. Handlers must be
// registered on Registry() before Start.
func New(repo *postgres.JobRepository, cfg *config.Engine, logger *zap.SugaredLogger) *Engine {
	queues := queue.NewManager()
	registry := runner.NewRegistry(cfg.DefaultMaxRetries)
	exec := runner.NewExecutor(repo, registry, logger)
	sched := scheduler.NewScheduler(queues, exec, scheduler.Config{
		MaxConcurrentGlobal:   cfg.MaxConcurrentGlobal,
		MaxConcurrentPerQueue: cfg.MaxConcurrentPerQueue,
	}, logger)

	e := &Engine{
		repo:     repo,
		queues:   queues,
		sched:    sched,
		registry: registry,
		bo:       backoff.NewExponentialWithJitter(cfg.BackoffBase, cfg.BackoffMax),
		cfg:      cfg,
		logger:   logger,
		timers:   make(map[string]*time.Timer),
		stopCh:   make(chan struct{}),
	}
	exec.SetFailureHandler(e.handleFailure)
	return e
}

// Registry exposes the handler registry for job type registration.
func (e *Engine) Registry() *runner.Registry { return e.registry }

// Queues exposes the queue manager, e.g. for per-queue rate configuration.
func (e *Engine) Queues() *queue.Manager { return e.queues }

// Start recovers persisted state and launches the scheduler and the
// cross-process cancellation watcher.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	if err := e.recover(ctx); err != nil {
		return fmt.Errorf("engine recovery: %w", err)
	}

	e.sched.Start()

	e.watchWG.Add(1)
	go e.cancelWatcher()

	return nil
}

// Stop drains the scheduler and stops all controller timers.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	close(e.stopCh)
	e.watchWG.Wait()
	e.sched.Stop(ctx)

	e.timerMu.Lock()
	for key, t := range e.timers {
		t.Stop()
		delete(e.timers, key)
	}
	e.timerMu.Unlock()
}

// Enqueue creates a job record in pending state and hands a reference to
// the queue manager. Per-type defaults from the registry fill in retry and
// timeout settings the caller left unset.
func (e *Engine) Enqueue(ctx context.Context, in EnqueueInput) (*models.Job, error) {
	maxRetries := e.cfg.DefaultMaxRetries
	timeoutSeconds := in.TimeoutSeconds
	if opts, ok := e.registry.Options(in.JobType); ok {
		maxRetries = opts.MaxRetries
		if timeoutSeconds == 0 && opts.Timeout > 0 {
			timeoutSeconds = int(opts.Timeout / time.Second)
		}
	}
	if in.MaxRetries != nil {
		maxRetries = *in.MaxRetries
	}

	title := in.Title
	if title == "" {
		title = in.JobType
	}

	job := &models.Job{
		ID:             uuid.NewString(),
		JobType:        in.JobType,
		Title:          title,
		Queue:          in.Queue,
		Status:         models.StatusPending,
		Parameters:     in.Parameters,
		MaxRetries:     maxRetries,
		TimeoutSeconds: timeoutSeconds,
	}
	if err := e.repo.Create(ctx, job); err != nil {
		return nil, err
	}

	e.queues.Enqueue(queue.Ref{ID: job.ID, Queue: job.Queue, CreatedAt: job.CreatedAt})
	return job, nil
}

// Cancel requests cancellation. Pending jobs are removed from their queue
// and marked cancelled immediately; running jobs get their context
// cancelled and are force-marked after the grace period if the handler
// never observes the signal. Returns common.ErrInvalidState for terminal
// jobs. For running jobs the call returns before the state changes.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	j, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return fmt.Errorf("cancel %s job: %w", j.Status, common.ErrInvalidState)
	}

	if j.Status == models.StatusPending {
		// Removal and dequeue share a lock, so a true return means no
		// worker can ever claim this job.
		if e.queues.Remove(j.Queue, id) {
			return e.markCancelled(ctx, j, "")
		}
		// Claimed but not yet running: the guarded transition wins the
		// race, and the executor skips jobs it cannot move to running.
		if _, err := e.repo.Transition(ctx, id, models.StatusCancelled, nil); err == nil {
			metrics.JobsCancelled.WithLabelValues(j.JobType).Inc()
			return nil
		}
		// It started running in the meantime; fall through.
	}

	if err := e.repo.RequestCancel(ctx, id); err != nil {
		return err
	}
	if appendErr := e.repo.AppendLog(ctx, id, "info", "cancellation requested"); appendErr != nil {
		e.logger.Warnw("failed to record cancellation request", "job_id", id, "error", appendErr)
	}

	e.sched.CancelRunning(id)
	e.startGraceTimer(j.ID, j.JobType)
	return nil
}

// Retry re-queues a failed job. The job keeps its ID and log history, and
// its retry counter increments. Already-pending jobs are a no-op so the
// operation is idempotent-safe; any other status is common.ErrInvalidState.
func (e *Engine) Retry(ctx context.Context, id string) error {
	j, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status == models.StatusPending {
		return nil
	}
	if j.Status != models.StatusFailed {
		return fmt.Errorf("retry %s job: %w", j.Status, common.ErrInvalidState)
	}

	// Supersede any backoff timer the controller scheduled for this job.
	e.stopTimer("retry:" + id)

	updated, err := e.repo.Transition(ctx, id, models.StatusPending, nil)
	if err != nil {
		if errors.Is(err, common.ErrInvalidTransition) {
			// Lost a race with another retry; treat like already-pending.
			if cur, getErr := e.repo.Get(ctx, id); getErr == nil && cur.Status == models.StatusPending {
				return nil
			}
			return fmt.Errorf("retry: %w", common.ErrInvalidState)
		}
		return err
	}

	metrics.JobsRetried.WithLabelValues(updated.JobType).Inc()
	e.queues.Enqueue(queue.Ref{ID: updated.ID, Queue: updated.Queue, CreatedAt: updated.CreatedAt})
	return nil
}

// handleFailure is the retry controller: called by the executor after a job
// has been marked failed. Retries are scheduled with exponential backoff
// and jitter; an exhausted budget leaves the job failed permanently.
func (e *Engine) handleFailure(j *models.Job, handlerErr error) {
	if j.RetryCount >= j.MaxRetries {
		e.logger.Warnw("job failed permanently, retry budget exhausted",
			"job_id", j.ID, "job_type", j.JobType,
			"retry_count", j.RetryCount, "max_retries", j.MaxRetries)
		return
	}

	attempt := j.RetryCount + 1
	delay := e.bo.Delay(attempt)

	if err := e.repo.AppendLog(context.Background(), j.ID, "info",
		fmt.Sprintf("retry %d/%d scheduled in %s", attempt, j.MaxRetries, delay.Round(time.Millisecond))); err != nil {
		e.logger.Warnw("failed to record retry schedule", "job_id", j.ID, "error", err)
	}

	jobID, jobType := j.ID, j.JobType
	e.setTimer("retry:"+jobID, time.AfterFunc(delay, func() {
		e.clearTimer("retry:" + jobID)

		updated, err := e.repo.Transition(context.Background(), jobID, models.StatusPending, nil)
		if err != nil {
			// Manual retry or a competing controller got there first.
			if !errors.Is(err, common.ErrInvalidTransition) {
				e.logger.Errorw("retry transition failed", "job_id", jobID, "error", err)
			}
			return
		}

		metrics.JobsRetried.WithLabelValues(jobType).Inc()
		e.queues.Enqueue(queue.Ref{ID: updated.ID, Queue: updated.Queue, CreatedAt: updated.CreatedAt})
	}))
}

// recover re-seeds the pending set from the store and releases jobs a
// previous process left in running state.
func (e *Engine) recover(ctx context.Context) error {
	stranded, err := e.repo.ListByStatus(ctx, models.StatusRunning)
	if err != nil {
		return err
	}
	for i := range stranded {
		j := &stranded[i]
		restartErr := errors.New("interrupted by worker restart")
		updated, err := e.repo.Transition(ctx, j.ID, models.StatusFailed,
			&postgres.TransitionPayload{ErrorMessage: restartErr.Error()})
		if err != nil {
			e.logger.Errorw("failed to release stranded job", "job_id", j.ID, "error", err)
			continue
		}
		if appendErr := e.repo.AppendLog(ctx, j.ID, "warn", "run interrupted by worker restart"); appendErr != nil {
			e.logger.Warnw("failed to record restart note", "job_id", j.ID, "error", appendErr)
		}
		e.handleFailure(updated, restartErr)
	}

	pending, err := e.repo.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		return err
	}
	for i := range pending {
		j := &pending[i]
		e.queues.Enqueue(queue.Ref{ID: j.ID, Queue: j.Queue, CreatedAt: j.CreatedAt})
	}

	e.logger.Infow("engine recovery complete",
		"requeued_pending", len(pending), "released_running", len(stranded))
	return nil
}

// cancelWatcher propagates cancellation requests recorded in the store to
// locally running jobs, and picks up pending jobs written by other
// processes. This is what lets the API process submit or cancel work that
// a separate worker process carries out.
func (e *Engine) cancelWatcher() {
	defer e.watchWG.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	resync := time.NewTicker(3 * time.Second)
	defer resync.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-resync.C:
			e.resyncPending()
			continue
		case <-ticker.C:
		}

		jobs, err := e.repo.CancelRequested(context.Background())
		if err != nil {
			e.logger.Errorw("cancel watcher query failed", "error", err)
			continue
		}
		for i := range jobs {
			j := &jobs[i]
			e.sched.CancelRunning(j.ID)
			e.startGraceTimer(j.ID, j.JobType)
		}
	}
}

// resyncPending enqueues pending records this process does not hold a
// reference for. A ref raced into the queue twice is harmless: the guarded
// pending->running transition lets only one dispatch proceed.
func (e *Engine) resyncPending() {
	pending, err := e.repo.ListByStatus(context.Background(), models.StatusPending)
	if err != nil {
		e.logger.Errorw("pending resync query failed", "error", err)
		return
	}
	for i := range pending {
		j := &pending[i]
		if e.queues.Contains(j.Queue, j.ID) {
			continue
		}
		e.queues.Enqueue(queue.Ref{ID: j.ID, Queue: j.Queue, CreatedAt: j.CreatedAt})
	}
}

func (e *Engine) markCancelled(ctx context.Context, j *models.Job, note string) error {
	if _, err := e.repo.Transition(ctx, j.ID, models.StatusCancelled,
		&postgres.TransitionPayload{CancelNote: note}); err != nil {
		return err
	}
	metrics.JobsCancelled.WithLabelValues(j.JobType).Inc()
	e.logger.Infow("job cancelled", "job_id", j.ID, "job_type", j.JobType)
	return nil
}

// startGraceTimer force-marks the job cancelled if it is still running once
// the grace period elapses. Idempotent per job: only the first caller arms
// the timer.
func (e *Engine) startGraceTimer(id, jobType string) {
	key := "grace:" + id

	e.timerMu.Lock()
	if _, exists := e.timers[key]; exists {
		e.timerMu.Unlock()
		return
	}
	e.timers[key] = time.AfterFunc(e.cfg.CancelGracePeriod, func() {
		e.clearTimer(key)

		_, err := e.repo.Transition(context.Background(), id, models.StatusCancelled,
			&postgres.TransitionPayload{CancelNote: forcedCancelNote})
		if err != nil {
			// The handler observed the signal in time.
			if !errors.Is(err, common.ErrInvalidTransition) && !errors.Is(err, common.ErrNotFound) {
				e.logger.Errorw("force-cancel failed", "job_id", id, "error", err)
			}
			return
		}

		if appendErr := e.repo.AppendLog(context.Background(), id, "warn", forcedCancelNote); appendErr != nil {
			e.logger.Warnw("failed to record force-cancel note", "job_id", id, "error", appendErr)
		}
		metrics.JobsCancelled.WithLabelValues(jobType).Inc()
		e.logger.Warnw("job force-marked cancelled after grace period", "job_id", id)
	})
	e.timerMu.Unlock()
}

func (e *Engine) setTimer(key string, t *time.Timer) {
	e.timerMu.Lock()
	if old, ok := e.timers[key]; ok {
		old.Stop()
	}
	e.timers[key] = t
	e.timerMu.Unlock()
}

func (e *Engine) stopTimer(key string) {
	e.timerMu.Lock()
	if t, ok := e.timers[key]; ok {
		t.Stop()
		delete(e.timers, key)
	}
	e.timerMu.Unlock()
}

func (e *Engine) clearTimer(key string) {
	e.timerMu.Lock()
	delete(e.timers, key)
	e.timerMu.Unlock()
}
