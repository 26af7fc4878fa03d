package coordination

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock advances only when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func TestTaskLockRegistry_MutualExclusion(t *testing.T) {
	registry := NewTaskLockRegistry(time.Minute, newFakeClock())

	assert.True(t, registry.Acquire("deploy", "wf-1", "worker-a"))
	assert.False(t, registry.Acquire("deploy", "wf-1", "worker-b"))
	assert.Equal(t, "worker-a", registry.Holder("deploy", "wf-1"))

	// A different task in the same scope is independent.
	assert.True(t, registry.Acquire("deploy", "wf-2", "worker-b"))
}

func TestTaskLockRegistry_Reentrant(t *testing.T) {
	clock := newFakeClock()
	registry := NewTaskLockRegistry(time.Minute, clock)

	assert.True(t, registry.Acquire("deploy", "wf-1", "worker-a"))

	clock.Advance(30 * time.Second)
	assert.True(t, registry.Acquire("deploy", "wf-1", "worker-a"))

	// The re-acquire extended the expiry past the original minute.
	clock.Advance(45 * time.Second)
	assert.Equal(t, "worker-a", registry.Holder("deploy", "wf-1"))
	assert.False(t, registry.Acquire("deploy", "wf-1", "worker-b"))
}

func TestTaskLockRegistry_ExpiredLockReclaimed(t *testing.T) {
	clock := newFakeClock()
	registry := NewTaskLockRegistry(time.Minute, clock)

	assert.True(t, registry.Acquire("deploy", "wf-1", "worker-a"))

	clock.Advance(61 * time.Second)

	assert.Empty(t, registry.Holder("deploy", "wf-1"))
	assert.True(t, registry.Acquire("deploy", "wf-1", "worker-b"))
	assert.Equal(t, "worker-b", registry.Holder("deploy", "wf-1"))
}

func TestTaskLockRegistry_ReleaseByNonHolderIsNoOp(t *testing.T) {
	registry := NewTaskLockRegistry(time.Minute, newFakeClock())

	assert.True(t, registry.Acquire("deploy", "wf-1", "worker-a"))

	registry.Release("deploy", "wf-1", "worker-b")
	assert.Equal(t, "worker-a", registry.Holder("deploy", "wf-1"))

	registry.Release("deploy", "wf-1", "worker-a")
	assert.Empty(t, registry.Holder("deploy", "wf-1"))
	assert.True(t, registry.Acquire("deploy", "wf-1", "worker-b"))
}

func TestTaskLockRegistry_ConcurrentAcquire(t *testing.T) {
	registry := NewTaskLockRegistry(time.Minute, newFakeClock())

	const holders = 16

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted []string
	)

	for i := range holders {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			holder := string(rune('a' + id))
			if registry.Acquire("deploy", "wf-1", holder) {
				mu.Lock()
				granted = append(granted, holder)
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()

	assert.Len(t, granted, 1, "exactly one concurrent caller may win the lock")
}
