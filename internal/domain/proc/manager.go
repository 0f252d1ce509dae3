package proc

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/GriffinCanCode/TeachOS/internal/domain/loader"
	"github.com/GriffinCanCode/TeachOS/internal/infrastructure/logging"
	"github.com/GriffinCanCode/TeachOS/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/TeachOS/internal/machine/mem"
	"github.com/GriffinCanCode/TeachOS/internal/machine/sched"
	"github.com/GriffinCanCode/TeachOS/internal/machine/vm"
	"github.com/GriffinCanCode/TeachOS/internal/shared/types"
)

var (
	// ErrLoadFailed means a child process's image could not be loaded.
	ErrLoadFailed = errors.New("proc: load failed")
	// ErrThreadSetup means a new thread's stack could not be built.
	ErrThreadSetup = errors.New("proc: thread setup failed")
	// ErrExiting means the process refused new threads during teardown.
	ErrExiting = errors.New("proc: process is exiting")
	// ErrNoSuchThread means a join target does not exist or was already
	// joined.
	ErrNoSuchThread = errors.New("proc: no joinable thread")
)

// UserMode is the mode switch into user code. Enter does not return; the
// entered code leaves through the syscall surface.
type UserMode interface {
	Enter(cur *Thread, f types.Frame)
}

// Manager orchestrates the process lifecycle against the machine
// collaborators.
type Manager struct {
	sched    *sched.Scheduler
	alloc    *mem.Allocator
	mmu      *vm.MMU
	loader   *loader.Loader
	usermode UserMode
	console  io.Writer
	log      *logging.Logger
	metrics  *monitoring.Metrics

	procMu sync.Mutex
	procs  map[types.Pid]*PCB // live processes; Protected by procMu
}

// Options wires a Manager.
type Options struct {
	Sched    *sched.Scheduler
	Alloc    *mem.Allocator
	MMU      *vm.MMU
	Loader   *loader.Loader
	UserMode UserMode
	Console  io.Writer // process exit messages; defaults to stdout
	Log      *logging.Logger
	Metrics  *monitoring.Metrics
}

// NewManager creates a process manager.
func NewManager(opts Options) *Manager {
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	if opts.Log == nil {
		opts.Log = logging.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewNop()
	}
	return &Manager{
		sched:    opts.Sched,
		alloc:    opts.Alloc,
		mmu:      opts.MMU,
		loader:   opts.Loader,
		usermode: opts.UserMode,
		console:  opts.Console,
		log:      opts.Log,
		metrics:  opts.Metrics,
	}
}

// Bootstrap gives the boot thread a minimal PCB, just a children set,
// so it can execute and wait for the first user process.
func (m *Manager) Bootstrap(kt *sched.Thread) *Thread {
	t := &Thread{kt: kt}
	t.pcb.Store(&PCB{pid: types.Pid(kt.ID()), name: kt.Name(), mainThread: kt})
	return t
}

// Activate installs t's address space if the process has one, otherwise
// the kernel-only space, and refreshes the interrupt stack pointer. It is
// called on every context switch, including asynchronously from the
// timer, so it must tolerate running at any instant during teardown.
func (m *Manager) Activate(t *Thread) {
	p := t.pcb.Load()
	if p == nil {
		m.mmu.Activate(nil)
		m.mmu.UpdateKernelStack(t.kt.ID())
		return
	}
	// Serialized against the swap-to-nil in exitProcess, so a space
	// about to be destroyed is never installed.
	p.activateMu.Lock()
	m.mmu.Activate(p.space.Load())
	p.activateMu.Unlock()
	m.mmu.UpdateKernelStack(t.kt.ID())
}

// track records a live process for the monitor.
func (m *Manager) track(p *PCB) {
	m.procMu.Lock()
	if m.procs == nil {
		m.procs = make(map[types.Pid]*PCB)
	}
	m.procs[p.pid] = p
	m.procMu.Unlock()
}

func (m *Manager) untrack(pid types.Pid) {
	m.procMu.Lock()
	delete(m.procs, pid)
	m.procMu.Unlock()
}

// ProcessInfo is a point-in-time view of one live process.
type ProcessInfo struct {
	Pid     types.Pid `json:"pid"`
	Name    string    `json:"name"`
	Threads int       `json:"threads"`
}

// Snapshot lists the live processes, for the monitor endpoint.
func (m *Manager) Snapshot() []ProcessInfo {
	m.procMu.Lock()
	defer m.procMu.Unlock()
	out := make([]ProcessInfo, 0, len(m.procs))
	for _, p := range m.procs {
		out = append(out, ProcessInfo{Pid: p.pid, Name: p.name, Threads: int(p.liveThreads.Load())})
	}
	return out
}
