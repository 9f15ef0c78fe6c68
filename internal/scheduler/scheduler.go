// Package scheduler bounds job concurrency and assigns pending jobs to
// worker slots. A single dispatch goroutine owns all dequeue decisions;
// combined with the queue manager's atomic claim this makes double dispatch
// impossible even while many slots free up at once.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/michaelayoade/dotmac-jobs/internal/metrics"
	"github.com/michaelayoade/dotmac-jobs/internal/queue"
	"github.com/michaelayoade/dotmac-jobs/internal/runner"
)

// Config bounds concurrency globally and per queue.
type Config struct {
	MaxConcurrentGlobal   int
	MaxConcurrentPerQueue int
}

// DefaultConfig returns permissive but non-zero limits.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentGlobal:   10,
		MaxConcurrentPerQueue: 5,
	}
}

// Scheduler pulls pending jobs onto free worker slots. It suspends when no
// eligible work exists and wakes on enqueue, completion, or cancellation.
type Scheduler struct {
	queues *queue.Manager
	exec   *runner.Executor
	cfg    Config
	logger *zap.SugaredLogger

	slots  chan struct{}
	stopCh chan struct{}
	loopWG sync.WaitGroup
	jobWG  sync.WaitGroup

	mu      sync.Mutex
	running bool
	rr      int

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
}

func NewScheduler(queues *queue.Manager, exec *runner.Executor, cfg Config, logger *zap.SugaredLogger) *Scheduler {
	if cfg.MaxConcurrentGlobal < 1 {
		cfg.MaxConcurrentGlobal = 1
	}
	if cfg.MaxConcurrentPerQueue < 1 {
		cfg.MaxConcurrentPerQueue = 1
	}

	s := &Scheduler{
		queues: queues,
		exec:   exec,
		cfg:    cfg,
		logger: logger,
		slots:  make(chan struct{}, cfg.MaxConcurrentGlobal),
		stopCh: make(chan struct{}),
		active: make(map[string]context.CancelFunc),
	}
	for i := 0; i < cfg.MaxConcurrentGlobal; i++ {
		s.slots <- struct{}{}
	}
	return s
}

// Start launches the dispatch loop. It returns immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true

	s.logger.Infow("scheduler starting",
		"max_concurrent_global", s.cfg.MaxConcurrentGlobal,
		"max_concurrent_per_queue", s.cfg.MaxConcurrentPerQueue)

	s.loopWG.Add(1)
	go s.loop()
}

// Stop halts dispatching and waits for in-flight jobs. When the context
// expires first, active job contexts are cancelled and the remaining
// handlers are given until they observe the signal.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		s.jobWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("scheduler shutdown timed out, cancelling active jobs")
		s.cancelAll()
		s.jobWG.Wait()
	}
}

// CancelRunning signals the job's context. Returns false when the job is
// not executing in this scheduler.
func (s *Scheduler) CancelRunning(id string) bool {
	s.activeMu.Lock()
	cancel, ok := s.active[id]
	s.activeMu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// ActiveJobs returns the IDs of jobs currently executing.
func (s *Scheduler) ActiveJobs() []string {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

// loop is the single dispatcher. The ticker is a safety net for a wakeup
// coalesced away while a dispatch pass was already in flight.
func (s *Scheduler) loop() {
	defer s.loopWG.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		s.dispatchReady()

		select {
		case <-s.stopCh:
			return
		case <-s.queues.Wake():
		case <-ticker.C:
		}
	}
}

// dispatchReady assigns pending jobs to free slots until either runs out.
// A slot is acquired before the claim so a dequeued ref is never stranded.
func (s *Scheduler) dispatchReady() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		select {
		case <-s.slots:
		default:
			if s.pendingExists() {
				metrics.DispatchExhausted.Inc()
			}
			return
		}

		ref, ok := s.nextEligible()
		if !ok {
			s.slots <- struct{}{}
			return
		}

		s.queues.MarkActive(ref.Queue)
		metrics.JobsDispatched.WithLabelValues(ref.Queue).Inc()
		metrics.ActiveWorkers.Inc()

		s.jobWG.Add(1)
		go s.run(ref)
	}
}

// nextEligible round-robins across queues with pending work that are under
// their per-queue limit and within their dispatch rate.
func (s *Scheduler) nextEligible() (queue.Ref, bool) {
	names := s.queues.Queues()
	if len(names) == 0 {
		return queue.Ref{}, false
	}

	for i := 0; i < len(names); i++ {
		name := names[(s.rr+i)%len(names)]
		if s.queues.PendingCount(name) == 0 {
			continue
		}
		if s.queues.ActiveCount(name) >= s.cfg.MaxConcurrentPerQueue {
			continue
		}
		if !s.queues.Allow(name) {
			continue
		}
		if ref, ok := s.queues.DequeueNext(name); ok {
			s.rr = (s.rr + i + 1) % len(names)
			return ref, true
		}
	}
	return queue.Ref{}, false
}

func (s *Scheduler) pendingExists() bool {
	for _, name := range s.queues.Queues() {
		if s.queues.PendingCount(name) > 0 {
			return true
		}
	}
	return false
}

func (s *Scheduler) run(ref queue.Ref) {
	defer s.jobWG.Done()

	ctx, cancel := context.WithCancel(context.Background())
	s.track(ref.ID, cancel)

	s.exec.Execute(ctx, ref)

	s.untrack(ref.ID)
	cancel()

	metrics.ActiveWorkers.Dec()
	s.slots <- struct{}{}
	// MarkDone wakes the loop: a slot just freed up.
	s.queues.MarkDone(ref.Queue)
}

func (s *Scheduler) track(id string, cancel context.CancelFunc) {
	s.activeMu.Lock()
	s.active[id] = cancel
	s.activeMu.Unlock()
}

func (s *Scheduler) untrack(id string) {
	s.activeMu.Lock()
	delete(s.active, id)
	s.activeMu.Unlock()
}

func (s *Scheduler) cancelAll() {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	for id, cancel := range s.active {
		s.logger.Warnw("cancelling active job", "job_id", id)
		cancel()
	}
}
