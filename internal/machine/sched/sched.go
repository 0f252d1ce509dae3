// Package sched provides the kernel-thread layer the user-program subsystem
// runs on: thread creation and exit, blocking mutexes and counting
// semaphores, and the periodic tick that re-activates per-thread state the
// way a context switch would.
package sched

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/TeachOS/internal/shared/types"
)

// PriDefault is the priority assigned to user-program threads.
const PriDefault = 31

// ErrTooManyThreads is returned by Spawn when the configured thread
// ceiling has been reached.
var ErrTooManyThreads = errors.New("sched: thread ceiling reached")

// Config defines scheduler limits and timing.
type Config struct {
	MaxThreads   int           // 0 means unlimited
	TickInterval time.Duration // 0 disables the timer
}

// Scheduler tracks live kernel threads and drives the activation tick.
type Scheduler struct {
	mu      sync.Mutex
	threads map[types.Tid]*Thread // Protected by mu
	nextTid types.Tid             // Protected by mu
	cfg     Config

	stop chan struct{}
	once sync.Once
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		threads: make(map[types.Tid]*Thread),
		nextTid: 1,
		cfg:     cfg,
		stop:    make(chan struct{}),
	}
}

// Thread is one schedulable kernel thread, backed by a goroutine.
type Thread struct {
	id   types.Tid
	name string
	prio int
	s    *Scheduler

	// activate is invoked from the timer path, concurrently with the
	// thread itself. It must tolerate running at any instant.
	activate atomic.Value // of func()
}

// ID returns the thread identifier.
func (t *Thread) ID() types.Tid { return t.id }

// Name returns the thread name.
func (t *Thread) Name() string { return t.name }

// SetActivateHook installs the function the timer calls on behalf of this
// thread, simulating the per-context-switch activation path.
func (t *Thread) SetActivateHook(fn func()) {
	t.activate.Store(fn)
}

// Exit terminates the calling thread. It does not return.
func (t *Thread) Exit() {
	runtime.Goexit()
}

// Spawn creates a thread named name running fn and returns it, or an error
// if the thread ceiling has been reached.
func (s *Scheduler) Spawn(name string, prio int, fn func(*Thread)) (*Thread, error) {
	s.mu.Lock()
	if s.cfg.MaxThreads > 0 && len(s.threads) >= s.cfg.MaxThreads {
		s.mu.Unlock()
		return nil, ErrTooManyThreads
	}
	t := &Thread{id: s.nextTid, name: name, prio: prio, s: s}
	s.nextTid++
	s.threads[t.id] = t
	s.mu.Unlock()

	go func() {
		defer s.reap(t)
		fn(t)
	}()
	return t, nil
}

func (s *Scheduler) reap(t *Thread) {
	s.mu.Lock()
	delete(s.threads, t.id)
	s.mu.Unlock()
}

// Live returns a snapshot of the live threads.
func (s *Scheduler) Live() []*Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Thread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, t)
	}
	return out
}

// Count returns the number of live threads.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.threads)
}

// Tick runs every live thread's activation hook once. The timer calls this
// periodically; tests call it directly to provoke activation races.
func (s *Scheduler) Tick() {
	for _, t := range s.Live() {
		if fn, ok := t.activate.Load().(func()); ok && fn != nil {
			fn()
		}
	}
}

// Run starts the timer goroutine. It is a no-op when no tick interval is
// configured.
func (s *Scheduler) Run() {
	if s.cfg.TickInterval <= 0 {
		return
	}
	go func() {
		tick := time.NewTicker(s.cfg.TickInterval)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				s.Tick()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the timer.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
}
