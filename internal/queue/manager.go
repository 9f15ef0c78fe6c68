// Package queue holds the in-memory pending sets the scheduler dispatches
// from. The Manager keeps only weak references (job ID, queue name, creation
// time); the record store owns the job objects themselves.
package queue

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Ref is a weak reference to a pending job.
type Ref struct {
	ID        string
	Queue     string
	CreatedAt time.Time
}

// Config defines optional per-queue dispatch throttling.
type Config struct {
	// Name is the queue identifier.
	Name string

	// RateLimit is the maximum sustained dispatches per second from this
	// queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// queueState tracks runtime state for a single queue.
type queueState struct {
	pending []Ref
	active  int
	limiter *rate.Limiter
}

// Manager is safe for concurrent use. Queues are created implicitly on
// first enqueue and never deleted.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState
	wake   chan struct{}
}

// NewManager creates a Manager. Queues not listed in configs have no
// dispatch rate limit.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues: make(map[string]*queueState),
		wake:   make(chan struct{}, 1),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newQueueState(cfg)
	}
	return m
}

func newQueueState(cfg Config) *queueState {
	qs := &queueState{}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return qs
}

func (m *Manager) state(queue string) *queueState {
	qs := m.queues[queue]
	if qs == nil {
		qs = &queueState{}
		m.queues[queue] = qs
	}
	return qs
}

// refLess orders refs FIFO: CreatedAt ascending, ties broken by ID lexical
// order so dispatch order is deterministic.
func refLess(a, b Ref) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Enqueue adds a job reference to its queue's pending set and wakes the
// scheduler. Refs re-enqueued on retry keep their original CreatedAt, so a
// retried job goes back to its original place in line.
func (m *Manager) Enqueue(ref Ref) {
	m.mu.Lock()
	qs := m.state(ref.Queue)
	i := sort.Search(len(qs.pending), func(i int) bool {
		return refLess(ref, qs.pending[i])
	})
	qs.pending = append(qs.pending, Ref{})
	copy(qs.pending[i+1:], qs.pending[i:])
	qs.pending[i] = ref
	m.mu.Unlock()

	m.notify()
}

// DequeueNext returns the oldest pending reference for the queue and
// atomically removes it, so no two callers can claim the same job. This is
// the engine's mandatory concurrency-correctness guarantee.
func (m *Manager) DequeueNext(queue string) (Ref, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs == nil || len(qs.pending) == 0 {
		return Ref{}, false
	}
	ref := qs.pending[0]
	qs.pending = qs.pending[1:]
	return ref, true
}

// Remove deletes a pending reference, returning true if it was present.
// A true return guarantees no scheduler will ever dequeue that reference:
// removal and claim run under the same lock.
func (m *Manager) Remove(queue, id string) bool {
	m.mu.Lock()
	qs := m.queues[queue]
	removed := false
	if qs != nil {
		for i, ref := range qs.pending {
			if ref.ID == id {
				qs.pending = append(qs.pending[:i], qs.pending[i+1:]...)
				removed = true
				break
			}
		}
	}
	m.mu.Unlock()

	if removed {
		m.notify()
	}
	return removed
}

// Contains reports whether a pending reference with the given ID is
// currently queued.
func (m *Manager) Contains(queue, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs == nil {
		return false
	}
	for _, ref := range qs.pending {
		if ref.ID == id {
			return true
		}
	}
	return false
}

// Allow consults the queue's dispatch rate limiter, if one is configured.
func (m *Manager) Allow(queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs == nil || qs.limiter == nil {
		return true
	}
	return qs.limiter.Allow()
}

// SetQueueConfig dynamically updates (or creates) a queue configuration.
// Pending refs and active counts are preserved.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.state(cfg.Name)
	replacement := newQueueState(cfg)
	replacement.pending = qs.pending
	replacement.active = qs.active
	m.queues[cfg.Name] = replacement
}

// MarkActive increments the queue's active counter at dispatch.
func (m *Manager) MarkActive(queue string) {
	m.mu.Lock()
	m.state(queue).active++
	m.mu.Unlock()
}

// MarkDone decrements the active counter on a terminal transition and wakes
// the scheduler, since a worker slot just freed up.
func (m *Manager) MarkDone(queue string) {
	m.mu.Lock()
	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
	m.mu.Unlock()

	m.notify()
}

// Stats returns the queue's size (pending + active) and active count.
func (m *Manager) Stats(queue string) (size, active int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs == nil {
		return 0, 0
	}
	return len(qs.pending) + qs.active, qs.active
}

// PendingCount returns the number of unclaimed refs for the queue.
func (m *Manager) PendingCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs == nil {
		return 0
	}
	return len(qs.pending)
}

// ActiveCount returns the number of running jobs for the queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs == nil {
		return 0
	}
	return qs.active
}

// Queues returns the names of all known queues in sorted order.
func (m *Manager) Queues() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Wake is the scheduler's suspension point: the channel receives a
// (coalesced) signal on enqueue, removal, and slot release.
func (m *Manager) Wake() <-chan struct{} {
	return m.wake
}

// Notify wakes the scheduler without mutating queue state. Used by the
// retry controller after a failed->pending transition.
func (m *Manager) Notify() {
	m.notify()
}

func (m *Manager) notify() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
