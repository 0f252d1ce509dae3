package sched

import (
	"sync"
	"sync/atomic"
)

// Semaphore is a counting semaphore. Down blocks while the count is zero;
// Up never blocks.
type Semaphore struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int
}

// NewSemaphore creates a semaphore with the given initial count.
func NewSemaphore(n int) *Semaphore {
	s := &Semaphore{count: n}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Down decrements the count, blocking until it is positive.
func (s *Semaphore) Down() {
	s.mu.Lock()
	for s.count == 0 {
		s.cond.Wait()
	}
	s.count--
	s.mu.Unlock()
}

// Up increments the count and wakes one waiter.
func (s *Semaphore) Up() {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	s.cond.Signal()
}

// Mutex is a blocking lock that records its owning thread, so callers can
// check for recursive acquisition. It is built on a binary semaphore the
// way the kernel lock primitive is.
type Mutex struct {
	sem   *Semaphore
	owner atomic.Int32 // tid of the holder, 0 when free
}

// NewMutex creates an unheld mutex.
func NewMutex() *Mutex {
	return &Mutex{sem: NewSemaphore(1)}
}

// Acquire blocks until the mutex is available and records t as the owner.
// Acquiring a mutex already held by t deadlocks, as it does on hardware;
// callers that need the check use HeldBy first.
func (m *Mutex) Acquire(t *Thread) {
	m.sem.Down()
	m.owner.Store(int32(t.ID()))
}

// Release clears ownership and unblocks one waiter. Only the owner may
// release.
func (m *Mutex) Release(t *Thread) {
	m.owner.Store(0)
	m.sem.Up()
}

// HeldBy reports whether t currently owns the mutex.
func (m *Mutex) HeldBy(t *Thread) bool {
	return m.owner.Load() == int32(t.ID())
}
