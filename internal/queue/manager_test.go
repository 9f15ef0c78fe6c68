package queue

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_FIFOOrder(t *testing.T) {
	m := NewManager()
	base := time.Now()

	m.Enqueue(Ref{ID: "b", Queue: "email", CreatedAt: base.Add(time.Second)})
	m.Enqueue(Ref{ID: "a", Queue: "email", CreatedAt: base})
	m.Enqueue(Ref{ID: "c", Queue: "email", CreatedAt: base.Add(2 * time.Second)})

	var order []string
	for {
		ref, ok := m.DequeueNext("email")
		if !ok {
			break
		}
		order = append(order, ref.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestManager_FIFOTieBreakByID(t *testing.T) {
	m := NewManager()
	ts := time.Now()

	m.Enqueue(Ref{ID: "zzz", Queue: "email", CreatedAt: ts})
	m.Enqueue(Ref{ID: "aaa", Queue: "email", CreatedAt: ts})
	m.Enqueue(Ref{ID: "mmm", Queue: "email", CreatedAt: ts})

	ref, ok := m.DequeueNext("email")
	require.True(t, ok)
	assert.Equal(t, "aaa", ref.ID)

	ref, ok = m.DequeueNext("email")
	require.True(t, ok)
	assert.Equal(t, "mmm", ref.ID)
}

func TestManager_DequeueNextEmpty(t *testing.T) {
	m := NewManager()

	_, ok := m.DequeueNext("email")
	assert.False(t, ok)
}

// Each ref must be claimed exactly once no matter how many schedulers race
// on the queue.
func TestManager_DequeueNextClaimsExactlyOnce(t *testing.T) {
	m := NewManager()
	const n = 500

	base := time.Now()
	for i := 0; i < n; i++ {
		m.Enqueue(Ref{ID: "job-" + strconv.Itoa(i), Queue: "email", CreatedAt: base})
	}

	var mu sync.Mutex
	claimed := make(map[string]int)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ref, ok := m.DequeueNext("email")
				if !ok {
					return
				}
				mu.Lock()
				claimed[ref.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, claimed, n)
	for id, count := range claimed {
		assert.Equal(t, 1, count, "ref %s claimed %d times", id, count)
	}
}

func TestManager_Remove(t *testing.T) {
	m := NewManager()
	m.Enqueue(Ref{ID: "x", Queue: "email", CreatedAt: time.Now()})

	assert.True(t, m.Remove("email", "x"))
	assert.False(t, m.Remove("email", "x"))
	assert.False(t, m.Remove("email", "missing"))
	assert.False(t, m.Remove("payment", "x"))

	_, ok := m.DequeueNext("email")
	assert.False(t, ok)
}

func TestManager_Contains(t *testing.T) {
	m := NewManager()
	m.Enqueue(Ref{ID: "x", Queue: "email", CreatedAt: time.Now()})

	assert.True(t, m.Contains("email", "x"))
	assert.False(t, m.Contains("email", "y"))
	assert.False(t, m.Contains("payment", "x"))

	_, _ = m.DequeueNext("email")
	assert.False(t, m.Contains("email", "x"))
}

func TestManager_ActiveTracking(t *testing.T) {
	m := NewManager()
	m.Enqueue(Ref{ID: "x", Queue: "email", CreatedAt: time.Now()})

	size, active := m.Stats("email")
	assert.Equal(t, 1, size)
	assert.Equal(t, 0, active)

	ref, ok := m.DequeueNext("email")
	require.True(t, ok)
	m.MarkActive(ref.Queue)

	size, active = m.Stats("email")
	assert.Equal(t, 1, size)
	assert.Equal(t, 1, active)
	assert.Equal(t, 0, m.PendingCount("email"))
	assert.Equal(t, 1, m.ActiveCount("email"))

	m.MarkDone(ref.Queue)
	size, active = m.Stats("email")
	assert.Equal(t, 0, size)
	assert.Equal(t, 0, active)
}

func TestManager_RateLimit(t *testing.T) {
	m := NewManager(Config{Name: "email", RateLimit: 1, RateBurst: 1})

	// Queues without a limiter always allow.
	assert.True(t, m.Allow("payment"))

	// The burst token is consumed by the first dispatch.
	assert.True(t, m.Allow("email"))
	assert.False(t, m.Allow("email"))
}

func TestManager_SetQueueConfigPreservesState(t *testing.T) {
	m := NewManager()
	m.Enqueue(Ref{ID: "x", Queue: "email", CreatedAt: time.Now()})
	m.MarkActive("email")

	m.SetQueueConfig(Config{Name: "email", RateLimit: 100, RateBurst: 5})

	assert.Equal(t, 1, m.PendingCount("email"))
	assert.Equal(t, 1, m.ActiveCount("email"))
}

func TestManager_WakeCoalesces(t *testing.T) {
	m := NewManager()
	for i := 0; i < 10; i++ {
		m.Notify()
	}

	select {
	case <-m.Wake():
	default:
		t.Fatal("expected a pending wake signal")
	}

	select {
	case <-m.Wake():
		t.Fatal("expected signals to coalesce into one")
	default:
	}
}

func TestManager_Queues(t *testing.T) {
	m := NewManager()
	m.Enqueue(Ref{ID: "1", Queue: "webhooks", CreatedAt: time.Now()})
	m.Enqueue(Ref{ID: "2", Queue: "email", CreatedAt: time.Now()})

	assert.Equal(t, []string{"email", "webhooks"}, m.Queues())
}
