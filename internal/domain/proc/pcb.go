// Package proc implements the process and user-thread lifecycle: the
// process control block, creation from executable images, the one-shot
// wait and join protocols, the thread registry, and the per-process
// synchronization handle tables.
package proc

import (
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/TeachOS/internal/machine/filestore"
	"github.com/GriffinCanCode/TeachOS/internal/machine/mem"
	"github.com/GriffinCanCode/TeachOS/internal/machine/sched"
	"github.com/GriffinCanCode/TeachOS/internal/machine/vm"
	"github.com/GriffinCanCode/TeachOS/internal/shared/types"
)

// PCB is the process control block: all kernel-side state of one process.
// It is owned by the process's main thread while the process is alive and
// released exactly once at exit.
type PCB struct {
	pid  types.Pid
	name string

	waitStatus *WaitStatus   // this process's completion record, shared with the parent
	children   []*WaitStatus // completion records of children; touched only by this process's threads

	// space is non-nil while and only while the process is runnable. It
	// is swapped to nil before teardown so an activation arriving
	// mid-teardown observes "no address space" rather than a destroyed
	// one. activateMu serializes the load-and-install in Activate
	// against that swap.
	space      atomic.Pointer[vm.Space]
	activateMu sync.Mutex

	binFile    *filestore.File
	mainThread *sched.Thread

	// fds is the open file table, used by the syscall layer.
	fdMu       sync.Mutex
	fds        []*FileDescriptor // Protected by fdMu
	nextHandle int               // Protected by fdMu

	// mu guards the stack-slot table, the lock table, the semaphore
	// table, the thread registry, the join-record set, the thread
	// counter, and the exiting flag, and nothing else.
	mu *sched.Mutex

	threads       []*ThreadEntry // Protected by mu
	joinStatuses  []*JoinStatus  // Protected by mu
	threadCounter int            // Protected by mu
	exiting       bool           // Protected by mu
	liveThreads   atomic.Int32   // registry size, readable without mu

	slots      slotTable                  // stack-slot bitmap; protected by mu
	lockSlots  slotTable                  // lock table occupancy; protected by mu
	semaSlots  slotTable                  // semaphore table occupancy; protected by mu
	locks      [handleCount]userLock      // slots claimed via lockSlots
	semaphores [handleCount]userSemaphore // slots claimed via semaSlots
}

// Pid returns the process id: the tid of its main thread.
func (p *PCB) Pid() types.Pid { return p.pid }

// Name returns the process name.
func (p *PCB) Name() string { return p.name }

// IsMain reports whether kt is the process's main thread.
func (p *PCB) IsMain(kt *sched.Thread) bool { return p.mainThread == kt }

// Space returns the process address space, or nil once teardown has begun.
func (p *PCB) Space() *vm.Space { return p.space.Load() }

// Thread is the user-program view of a kernel thread: the thread plus the
// per-process state hanging off it.
type Thread struct {
	kt  *sched.Thread
	pcb atomic.Pointer[PCB] // nulled before the PCB is dropped

	join  *JoinStatus
	kpage *mem.Page   // this thread's stack page
	upage types.VAddr // its user address
	slot  int         // its stack slot
}

// ID returns the thread id.
func (t *Thread) ID() types.Tid { return t.kt.ID() }

// PCB returns the owning process, or nil once the thread's process has
// been torn down.
func (t *Thread) PCB() *PCB { return t.pcb.Load() }

// IsMain reports whether this is its process's main thread.
func (t *Thread) IsMain() bool {
	p := t.pcb.Load()
	return p != nil && p.mainThread == t.kt
}

// ThreadEntry is one row of the per-process thread registry, added by the
// thread itself once its stack is in place.
type ThreadEntry struct {
	tid       types.Tid
	kt        *sched.Thread
	waitedOn  bool
	completed bool
	kpage     *mem.Page
	upage     types.VAddr
}

// findEntry returns the registry entry for tid, or nil. Caller holds mu.
func (p *PCB) findEntry(tid types.Tid) *ThreadEntry {
	for _, e := range p.threads {
		if e.tid == tid {
			return e
		}
	}
	return nil
}

// addEntry registers tid's thread in the registry. Caller holds mu.
func (p *PCB) addEntry(tid types.Tid, kt *sched.Thread, kpage *mem.Page, upage types.VAddr) {
	e := &ThreadEntry{tid: tid, kt: kt, kpage: kpage, upage: upage}
	p.threads = append(p.threads, e)
	p.liveThreads.Store(int32(len(p.threads)))
}

// removeEntry drops tid's registry entry. Caller holds mu.
func (p *PCB) removeEntry(tid types.Tid) {
	for i, e := range p.threads {
		if e.tid == tid {
			p.threads = append(p.threads[:i], p.threads[i+1:]...)
			p.liveThreads.Store(int32(len(p.threads)))
			return
		}
	}
}

// WaitStatus tracks the completion of a child process. The reference is
// held by both the parent, in its children set, and by the child, in its
// own waitStatus pointer; the count starts at 2 and the record is freed
// by whichever side releases last.
type WaitStatus struct {
	mu   sync.Mutex
	refs int  // Protected by mu
	gone bool // Protected by mu; set when refs reaches zero

	Pid      types.Pid
	ExitCode int // meaningful only after dead has been raised
	dead     *sched.Semaphore
}

func newWaitStatus(pid types.Pid) *WaitStatus {
	return &WaitStatus{
		refs:     2,
		Pid:      pid,
		ExitCode: -1,
		dead:     sched.NewSemaphore(0),
	}
}

// release drops one reference, freeing the record when none remain.
func (ws *WaitStatus) release() {
	ws.mu.Lock()
	ws.refs--
	if ws.refs == 0 {
		ws.gone = true
	}
	ws.mu.Unlock()
}

// JoinStatus tracks the completion of one thread within a process, under
// the same refcount discipline as WaitStatus.
type JoinStatus struct {
	mu   sync.Mutex
	refs int
	gone bool

	Tid      types.Tid
	waitedOn bool // one-shot join; protected by the process mutex
	done     *sched.Semaphore
}

func newJoinStatus(tid types.Tid) *JoinStatus {
	return &JoinStatus{refs: 2, Tid: tid, done: sched.NewSemaphore(0)}
}

func (js *JoinStatus) release() {
	js.mu.Lock()
	js.refs--
	if js.refs == 0 {
		js.gone = true
	}
	js.mu.Unlock()
}
