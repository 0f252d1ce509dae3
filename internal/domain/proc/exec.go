package proc

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/TeachOS/internal/domain/loader"
	"github.com/GriffinCanCode/TeachOS/internal/machine/sched"
	"github.com/GriffinCanCode/TeachOS/internal/machine/vm"
	"github.com/GriffinCanCode/TeachOS/internal/shared/types"
)

// execInfo is shared between Execute in the invoking thread and
// startProcess in the newly spawned one.
type execInfo struct {
	cmdline    string
	loadDone   *sched.Semaphore // raised when loading is complete
	waitStatus *WaitStatus      // the child's completion record
	success    bool
}

// Execute starts a new process running the executable named by cmdline's
// first token and blocks until its load completes. On success the child's
// completion record is published onto the caller's children set and the
// new pid is returned; on failure the child cleans itself up and an error
// comes back instead.
func (m *Manager) Execute(parent *Thread, cmdline string) (types.Pid, error) {
	exec := &execInfo{cmdline: cmdline, loadDone: sched.NewSemaphore(0)}

	kt, err := m.sched.Spawn(loader.ProgramName(cmdline), sched.PriDefault, func(kt *sched.Thread) {
		m.startProcess(kt, exec)
	})
	if err != nil {
		return types.PidError, err
	}

	exec.loadDone.Down()
	if !exec.success {
		return types.PidError, ErrLoadFailed
	}
	pp := parent.pcb.Load()
	pp.children = append(pp.children, exec.waitStatus)
	return types.Pid(kt.ID()), nil
}

// startProcess runs in the new thread: it stands up the PCB, loads the
// executable, reports the outcome to the creator, and on success enters
// user code.
func (m *Manager) startProcess(kt *sched.Thread, exec *execInfo) {
	t := &Thread{kt: kt}

	// The space pointer starts nil so a timer tick between here and load
	// completion activates the kernel-only space, never garbage.
	p := &PCB{
		pid:        types.Pid(kt.ID()),
		name:       kt.Name(),
		mainThread: kt,
		nextHandle: 2,
		mu:         sched.NewMutex(),
	}
	t.pcb.Store(p)
	kt.SetActivateHook(func() { m.Activate(t) })

	// Main thread join record, held by the thread and by any joiner.
	t.join = newJoinStatus(kt.ID())
	p.joinStatuses = append(p.joinStatuses, t.join)

	// Registry entry for the main thread, already running.
	p.threads = append(p.threads, &ThreadEntry{tid: kt.ID(), kt: kt})
	p.liveThreads.Store(1)
	p.threadCounter = 1

	p.slots.reserve(0)
	p.slots.reserve(1)

	// This process's completion record: one reference for the process,
	// one for the parent.
	ws := newWaitStatus(p.pid)
	p.waitStatus = ws
	exec.waitStatus = ws

	success := true
	var frame types.Frame

	space := vm.Create(m.alloc)
	if space == nil {
		success = false
	} else {
		p.space.Store(space)
		m.Activate(t)

		res, err := m.loader.Load(space, exec.cmdline)
		if err != nil {
			m.log.Warn("exec failed",
				zap.String("cmdline", exec.cmdline),
				zap.Error(err))
			success = false
		} else {
			p.binFile = res.File
			frame = types.Frame{Entry: res.Entry, SP: res.SP}
			t.kpage = res.StackPage
			t.upage = res.StackAddr
			t.slot = 1
			e := p.findEntry(kt.ID())
			e.kpage = res.StackPage
			e.upage = res.StackAddr
		}
	}

	if !success {
		// Unwind in teardown order: swap the space to nil before
		// destroying it, and null the PCB pointer before dropping the
		// PCB, so a concurrent activation sees nil rather than freed
		// state.
		p.activateMu.Lock()
		sp := p.space.Swap(nil)
		m.mmu.Activate(nil)
		p.activateMu.Unlock()
		if sp != nil {
			sp.Destroy()
		}
		t.pcb.Store(nil)
		m.metrics.LoadFailures.Inc()
	}

	exec.success = success
	exec.loadDone.Up()
	if !success {
		kt.Exit()
	}

	m.track(p)
	m.metrics.ProcessesStarted.Inc()
	m.metrics.ThreadsLive.Inc()
	m.log.Info("process started",
		zap.Int32("pid", int32(p.pid)),
		zap.String("name", p.name))

	m.usermode.Enter(t, frame)
	panic("proc: user mode returned")
}

// Wait blocks until the child process pid dies and returns its exit code.
// Returns -1 immediately if pid is not an unwaited child of the caller:
// "not my child", "never existed", and "already waited" are deliberately
// indistinguishable.
func (m *Manager) Wait(cur *Thread, pid types.Pid) int {
	p := cur.pcb.Load()
	for i, ws := range p.children {
		if ws.Pid != pid {
			continue
		}
		// Remove first so a second wait cannot find the record.
		p.children = append(p.children[:i], p.children[i+1:]...)
		ws.dead.Down()
		code := ws.ExitCode
		ws.release()
		return code
	}
	return -1
}

// Exit records the exit code and tears the whole process down, regardless
// of which thread calls it. It does not return.
func (m *Manager) Exit(cur *Thread, code int) {
	if p := cur.pcb.Load(); p != nil && p.waitStatus != nil {
		p.waitStatus.ExitCode = code
	}
	m.exitProcess(cur)
}

// exitProcess tears the whole process down and terminates the calling
// thread. Every step is unconditionally safe: teardown must always run to
// completion. It does not return.
func (m *Manager) exitProcess(cur *Thread) {
	p := cur.pcb.Load()
	if p == nil {
		cur.kt.Exit()
	}

	// 1. Close the executable, re-allowing writes.
	p.binFile.Close()

	// 2. Release every child completion record this process still holds.
	for _, ws := range p.children {
		ws.release()
	}
	p.children = nil

	// 3. Free the join records.
	p.joinStatuses = nil

	// 4. Free the thread registry.
	p.threads = nil
	p.liveThreads.Store(0)

	// 5. Close every open file descriptor.
	p.closeAllFDs()

	// 6. Null the space handle, deactivate, then destroy, strictly in
	// that order, so an asynchronous activation observes nil rather
	// than a destroyed space.
	p.activateMu.Lock()
	sp := p.space.Swap(nil)
	m.mmu.Activate(nil)
	p.activateMu.Unlock()
	if sp != nil {
		sp.Destroy()
	}

	// 7. Publish the exit code and raise the death signal, then drop
	// this process's reference to its own record.
	if ws := p.waitStatus; ws != nil {
		fmt.Fprintf(m.console, "%s: exit(%d)\n", p.name, ws.ExitCode)
		m.log.Info("process exit",
			zap.Int32("pid", int32(p.pid)),
			zap.String("name", p.name),
			zap.Int("code", ws.ExitCode))
		ws.dead.Up()
		ws.release()
	}

	m.untrack(p.pid)
	m.metrics.ProcessesExited.Inc()
	m.metrics.ThreadsLive.Dec()

	// 8. Null the live pointer before the PCB goes away, then die.
	cur.pcb.Store(nil)
	cur.kt.Exit()
}
