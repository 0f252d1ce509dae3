package proc

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/TeachOS/internal/domain/loader"
	"github.com/GriffinCanCode/TeachOS/internal/machine/sched"
	"github.com/GriffinCanCode/TeachOS/internal/shared/types"
)

// threadArgs is shared between SpawnThread in the creating thread and
// startThread in the new one.
type threadArgs struct {
	pcb  *PCB
	slot int

	sfun types.VAddr // stub entry point
	tfun types.VAddr // thread function, consumed by the stub
	arg  types.VAddr

	ready   *sched.Semaphore // raised once setup has succeeded or failed
	success bool
}

// stackSlotAddr maps a stack slot to the user address of its page. Slot 1
// is the page directly below the kernel/user boundary, where the first
// thread's stack lives; higher slots stack downward from there.
func stackSlotAddr(slot int) types.VAddr {
	return types.PhysBase - types.VAddr(uint32(slot)*types.PageSize)
}

// SpawnThread creates a new user thread in the caller's process. The thread
// starts at stub entry sfun with tfun and arg laid out on a fresh stack
// page. Blocks until the new thread's setup has finished; on setup failure
// the thread never runs user code and an error is returned instead.
func (m *Manager) SpawnThread(cur *Thread, sfun, tfun, arg types.VAddr) (types.Tid, error) {
	p := cur.pcb.Load()

	p.mu.Acquire(cur.kt)
	if p.exiting {
		p.mu.Release(cur.kt)
		return types.TidError, ErrExiting
	}
	slot, ok := p.slots.acquire()
	if !ok {
		p.mu.Release(cur.kt)
		panic("proc: out of stack slots")
	}
	p.threadCounter++
	seq := p.threadCounter
	p.mu.Release(cur.kt)

	args := &threadArgs{
		pcb:   p,
		slot:  slot,
		sfun:  sfun,
		tfun:  tfun,
		arg:   arg,
		ready: sched.NewSemaphore(0),
	}
	kt, err := m.sched.Spawn(fmt.Sprintf("%s-%d", p.name, seq), sched.PriDefault, func(kt *sched.Thread) {
		m.startThread(kt, args)
	})
	if err == nil {
		args.ready.Down()
		if !args.success {
			err = ErrThreadSetup
		}
	}
	if err != nil {
		p.mu.Acquire(cur.kt)
		p.slots.release(slot)
		p.mu.Release(cur.kt)
		return types.TidError, err
	}
	return kt.ID(), nil
}

// startThread runs in the new thread: it builds the stack, registers the
// thread with its process, reports back to the creator, and enters the
// stub.
func (m *Manager) startThread(kt *sched.Thread, args *threadArgs) {
	p := args.pcb
	fail := func() {
		args.success = false
		args.ready.Up()
		kt.Exit()
	}

	kpage := m.alloc.Alloc(true)
	if kpage == nil {
		fail()
	}
	upage := stackSlotAddr(args.slot)

	sp := p.space.Load()
	if sp == nil {
		m.alloc.Free(kpage)
		fail()
	}
	if !sp.Install(upage, kpage, true) {
		m.alloc.Free(kpage)
		fail()
	}
	esp, ok := loader.SetupThreadStack(kpage, upage, uint32(args.tfun), uint32(args.arg))
	if !ok {
		sp.Clear(upage)
		m.alloc.Free(kpage)
		fail()
	}

	t := &Thread{
		kt:    kt,
		join:  newJoinStatus(kt.ID()),
		kpage: kpage,
		upage: upage,
		slot:  args.slot,
	}
	t.pcb.Store(p)

	p.mu.Acquire(kt)
	if p.exiting {
		p.mu.Release(kt)
		sp.Clear(upage)
		m.alloc.Free(kpage)
		fail()
	}
	p.addEntry(kt.ID(), kt, kpage, upage)
	p.joinStatuses = append(p.joinStatuses, t.join)
	p.mu.Release(kt)

	kt.SetActivateHook(func() { m.Activate(t) })
	m.Activate(t)

	args.success = true
	args.ready.Up()

	m.metrics.ThreadsSpawned.Inc()
	m.metrics.ThreadsLive.Inc()
	m.log.Debug("thread started",
		zap.Int32("pid", int32(p.pid)),
		zap.Int32("tid", int32(kt.ID())))

	m.usermode.Enter(t, types.Frame{Entry: args.sfun, SP: esp})
	panic("proc: user mode returned")
}

// Join blocks until the thread tid in the caller's process has exited.
// Each thread may be joined at most once; joining an unknown,
// already-joined, or self tid fails immediately.
func (m *Manager) Join(cur *Thread, tid types.Tid) error {
	if tid == cur.ID() {
		return ErrNoSuchThread
	}
	p := cur.pcb.Load()

	p.mu.Acquire(cur.kt)
	var js *JoinStatus
	for _, s := range p.joinStatuses {
		if s.Tid == tid && !s.waitedOn {
			js = s
			break
		}
	}
	if js == nil {
		p.mu.Release(cur.kt)
		return ErrNoSuchThread
	}
	js.waitedOn = true
	if e := p.findEntry(tid); e != nil {
		e.waitedOn = true
	}
	p.mu.Release(cur.kt)

	js.done.Down()
	js.release()
	return nil
}

// ExitThread terminates the calling user thread, releasing its stack and
// waking any joiner. A main thread leaving through here takes the whole
// process with it. Does not return.
func (m *Manager) ExitThread(cur *Thread) {
	p := cur.pcb.Load()
	if p.IsMain(cur.kt) {
		m.ExitMain(cur)
	}

	p.mu.Acquire(cur.kt)
	if e := p.findEntry(cur.ID()); e != nil {
		e.completed = true
	}
	p.removeEntry(cur.ID())
	p.mu.Release(cur.kt)

	if sp := p.space.Load(); sp != nil {
		sp.Clear(cur.upage)
	}
	m.alloc.Free(cur.kpage)

	p.mu.Acquire(cur.kt)
	p.slots.release(cur.slot)
	p.mu.Release(cur.kt)

	m.metrics.ThreadsLive.Dec()

	cur.join.done.Up()
	cur.join.release()

	cur.pcb.Store(nil)
	cur.kt.Exit()
}

// ExitMain terminates the main thread: it wakes anyone joined on main,
// joins every remaining thread, bars new ones, drops the user
// synchronization tables, and finally exits the process. Does not return.
func (m *Manager) ExitMain(cur *Thread) {
	p := cur.pcb.Load()

	// Wake joiners on main first. Threads joined on main must get to run
	// before this thread starts joining them.
	cur.join.done.Up()

	for {
		p.mu.Acquire(cur.kt)
		var js *JoinStatus
		for _, s := range p.joinStatuses {
			if s.Tid != cur.ID() && !s.waitedOn {
				js = s
				break
			}
		}
		if js == nil {
			// No thread may start once the last one has been joined.
			p.exiting = true
			p.lockSlots.reset()
			p.semaSlots.reset()
			p.locks = [handleCount]userLock{}
			p.semaphores = [handleCount]userSemaphore{}
			p.mu.Release(cur.kt)
			break
		}
		js.waitedOn = true
		p.mu.Release(cur.kt)
		js.done.Down()
		js.release()
	}

	cur.join.release()

	if sp := p.space.Load(); sp != nil {
		sp.Clear(cur.upage)
	}
	m.alloc.Free(cur.kpage)

	m.exitProcess(cur)
}
