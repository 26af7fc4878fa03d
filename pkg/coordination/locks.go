package coordination

import (
	"sync"
	"time"
)

// TaskLock is the mutual-exclusion marker for one logical unit of work.
type TaskLock struct {
	TaskID     string    `json:"task_id"`
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// LockRegistry is the cooperative task-lock contract. Acquire never blocks:
// callers that lose the race must poll or abandon.
type LockRegistry interface {
	// Acquire grants the lock if unheld or expired. A holder re-acquiring its
	// own lock extends the expiry and succeeds (re-entrant).
	Acquire(scopeID, taskID, holderID string) bool
	// Release is a no-op unless the caller is the current holder.
	Release(scopeID, taskID, holderID string)
	// Holder returns the current unexpired holder id, or "".
	Holder(scopeID, taskID string) string
}

// TaskLockRegistry is the in-process lock registry. A single mutex is enough:
// task counts are bounded by in-flight deployments, not request volume.
type TaskLockRegistry struct {
	mu    sync.Mutex
	locks map[string]*TaskLock
	ttl   time.Duration
	clock Clock
}

// NewTaskLockRegistry creates a registry whose locks expire after ttl,
// bounding memory growth from abandoned or crashed holders.
func NewTaskLockRegistry(ttl time.Duration, clock Clock) *TaskLockRegistry {
	if clock == nil {
		clock = SystemClock()
	}

	return &TaskLockRegistry{
		locks: make(map[string]*TaskLock),
		ttl:   ttl,
		clock: clock,
	}
}

func lockKey(scopeID, taskID string) string {
	return scopeID + ":" + taskID
}

func (r *TaskLockRegistry) Acquire(scopeID, taskID, holderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	key := lockKey(scopeID, taskID)

	existing, held := r.locks[key]
	if held && existing.ExpiresAt.After(now) && existing.HolderID != holderID {
		return false
	}

	if held && existing.HolderID == holderID && existing.ExpiresAt.After(now) {
		existing.ExpiresAt = now.Add(r.ttl)

		return true
	}

	r.locks[key] = &TaskLock{
		TaskID:     taskID,
		HolderID:   holderID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(r.ttl),
	}

	return true
}

func (r *TaskLockRegistry) Release(scopeID, taskID, holderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := lockKey(scopeID, taskID)

	existing, held := r.locks[key]
	if !held || existing.HolderID != holderID {
		return
	}

	delete(r.locks, key)
}

func (r *TaskLockRegistry) Holder(scopeID, taskID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, held := r.locks[lockKey(scopeID, taskID)]
	if !held || !existing.ExpiresAt.After(r.clock.Now()) {
		return ""
	}

	return existing.HolderID
}
