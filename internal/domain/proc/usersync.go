package proc

import (
	"errors"

	"github.com/GriffinCanCode/TeachOS/internal/machine/sched"
)

var (
	// ErrBadHandle means the handle names no initialized lock or
	// semaphore, or the operation is invalid for its current state.
	ErrBadHandle = errors.New("proc: bad synchronization handle")
	// ErrNoFreeHandle means the per-process table is full.
	ErrNoFreeHandle = errors.New("proc: synchronization table full")
)

// userLock is one slot in the per-process lock table. A zero userLock is
// uninitialized; initialization state lives in the occupancy table.
type userLock struct {
	m *sched.Mutex
}

// userSemaphore is one slot in the per-process semaphore table.
type userSemaphore struct {
	s *sched.Semaphore
}

// LockInit claims a free lock table slot for the caller's process and
// returns its handle. The new lock starts unowned.
func (m *Manager) LockInit(cur *Thread) (int, error) {
	p := cur.pcb.Load()
	p.mu.Acquire(cur.kt)
	defer p.mu.Release(cur.kt)

	h, ok := p.lockSlots.acquire()
	if !ok {
		return -1, ErrNoFreeHandle
	}
	p.locks[h] = userLock{m: sched.NewMutex()}
	return h, nil
}

// LockAcquire blocks until the caller holds the lock named by handle.
// Validation happens under the process mutex; the blocking wait does not,
// so one thread's contended acquire never stalls the rest of the table.
func (m *Manager) LockAcquire(cur *Thread, handle int) error {
	p := cur.pcb.Load()
	p.mu.Acquire(cur.kt)
	if !p.lockSlots.inUse(handle) {
		p.mu.Release(cur.kt)
		return ErrBadHandle
	}
	l := p.locks[handle].m
	if l.HeldBy(cur.kt) {
		p.mu.Release(cur.kt)
		return ErrBadHandle
	}
	p.mu.Release(cur.kt)

	l.Acquire(cur.kt)
	return nil
}

// LockRelease releases a lock the caller holds.
func (m *Manager) LockRelease(cur *Thread, handle int) error {
	p := cur.pcb.Load()
	p.mu.Acquire(cur.kt)
	defer p.mu.Release(cur.kt)

	if !p.lockSlots.inUse(handle) {
		return ErrBadHandle
	}
	l := p.locks[handle].m
	if !l.HeldBy(cur.kt) {
		return ErrBadHandle
	}
	l.Release(cur.kt)
	return nil
}

// SemaInit claims a free semaphore table slot with the given initial
// count and returns its handle.
func (m *Manager) SemaInit(cur *Thread, value int) (int, error) {
	if value < 0 {
		return -1, ErrBadHandle
	}
	p := cur.pcb.Load()
	p.mu.Acquire(cur.kt)
	defer p.mu.Release(cur.kt)

	h, ok := p.semaSlots.acquire()
	if !ok {
		return -1, ErrNoFreeHandle
	}
	p.semaphores[h] = userSemaphore{s: sched.NewSemaphore(value)}
	return h, nil
}

// SemaDown decrements the semaphore named by handle, blocking outside the
// process mutex while the count is zero.
func (m *Manager) SemaDown(cur *Thread, handle int) error {
	p := cur.pcb.Load()
	p.mu.Acquire(cur.kt)
	if !p.semaSlots.inUse(handle) {
		p.mu.Release(cur.kt)
		return ErrBadHandle
	}
	s := p.semaphores[handle].s
	p.mu.Release(cur.kt)

	s.Down()
	return nil
}

// SemaUp increments the semaphore named by handle.
func (m *Manager) SemaUp(cur *Thread, handle int) error {
	p := cur.pcb.Load()
	p.mu.Acquire(cur.kt)
	defer p.mu.Release(cur.kt)

	if !p.semaSlots.inUse(handle) {
		return ErrBadHandle
	}
	p.semaphores[handle].s.Up()
	return nil
}
