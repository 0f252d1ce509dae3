package proc_test

import (
	"bytes"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GriffinCanCode/TeachOS/internal/domain/loader"
	"github.com/GriffinCanCode/TeachOS/internal/domain/proc"
	"github.com/GriffinCanCode/TeachOS/internal/domain/syscall"
	"github.com/GriffinCanCode/TeachOS/internal/domain/usermode"
	"github.com/GriffinCanCode/TeachOS/internal/infrastructure/logging"
	"github.com/GriffinCanCode/TeachOS/internal/machine/filestore"
	"github.com/GriffinCanCode/TeachOS/internal/machine/mem"
	"github.com/GriffinCanCode/TeachOS/internal/machine/sched"
	"github.com/GriffinCanCode/TeachOS/internal/machine/vm"
	"github.com/GriffinCanCode/TeachOS/internal/shared/types"
)

const timeout = 5 * time.Second

// syncBuf is a goroutine-safe console sink.
type syncBuf struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuf) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuf) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// kern is a fully assembled machine for one test.
type kern struct {
	sched *sched.Scheduler
	alloc *mem.Allocator
	store *filestore.Store
	procs *proc.Manager
	sw    *usermode.Switcher
	sys   *syscall.Dispatcher
	out   *syncBuf
}

func newKern(t *testing.T) *kern {
	t.Helper()
	k := &kern{
		sched: sched.New(sched.Config{}),
		alloc: mem.NewAllocator(256),
		store: filestore.NewStore(),
		sw:    usermode.New(),
		out:   &syncBuf{},
	}
	k.procs = proc.NewManager(proc.Options{
		Sched:    k.sched,
		Alloc:    k.alloc,
		MMU:      vm.NewMMU(),
		Loader:   loader.New(k.store, k.alloc, logging.NewNop()),
		UserMode: k.sw,
		Console:  k.out,
		Log:      logging.NewNop(),
	})
	k.sys = syscall.New(syscall.Options{
		Procs:   k.procs,
		Store:   k.store,
		Console: k.out,
		Log:     logging.NewNop(),
	})
	k.sw.Bind(k.sys)
	return k
}

// program installs a user program body and a matching executable image.
func (k *kern) program(name string, entry types.VAddr, body usermode.Program) {
	k.store.Put(name, loader.Build(loader.Image{
		Entry:    entry,
		Segments: []loader.Segment{{Vaddr: entry, Data: []byte(name + "\x00")}},
	}))
	k.sw.Register(entry, body)
}

// boot runs fn on a fresh kernel thread with a bootstrap process context
// and returns its result.
func (k *kern) boot(t *testing.T, fn func(b *proc.Thread) int) int {
	t.Helper()
	res := make(chan int, 1)
	_, err := k.sched.Spawn("boot", sched.PriDefault, func(kt *sched.Thread) {
		res <- fn(k.procs.Bootstrap(kt))
	})
	if err != nil {
		t.Fatalf("Spawn boot: %v", err)
	}
	select {
	case code := <-res:
		return code
	case <-time.After(timeout):
		t.Fatal("boot thread timed out")
		return 0
	}
}

// run executes cmdline as a process and waits for its exit code.
func (k *kern) run(t *testing.T, cmdline string) int {
	t.Helper()
	return k.boot(t, func(b *proc.Thread) int {
		pid := k.sys.Exec(b, cmdline)
		if pid == types.PidError {
			t.Errorf("Exec(%q) failed", cmdline)
			return -2
		}
		return k.sys.Wait(b, pid)
	})
}

// drain waits until every kernel thread but the caller's is gone.
func (k *kern) drain(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for k.sched.Count() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("threads never drained, %d live", k.sched.Count())
		}
		time.Sleep(time.Millisecond)
	}
}

const (
	entryA = types.VAddr(0x08048000)
	entryB = types.VAddr(0x08049000)
	entryC = types.VAddr(0x0804a000)
)

func TestExecWaitExitCode(t *testing.T) {
	k := newKern(t)
	k.program("seven", entryA, func(env *usermode.Env) int { return 7 })

	if code := k.run(t, "seven"); code != 7 {
		t.Errorf("exit code = %d, want 7", code)
	}
	if out := k.out.String(); !strings.Contains(out, "seven: exit(7)\n") {
		t.Errorf("console = %q, missing exit line", out)
	}
}

func TestExecMissingProgram(t *testing.T) {
	k := newKern(t)
	k.boot(t, func(b *proc.Thread) int {
		if _, err := k.procs.Execute(b, "ghost"); err != proc.ErrLoadFailed {
			t.Errorf("Execute err = %v, want ErrLoadFailed", err)
		}
		return 0
	})
}

func TestWaitIsOneShot(t *testing.T) {
	k := newKern(t)
	k.program("quick", entryA, func(env *usermode.Env) int { return 3 })

	k.boot(t, func(b *proc.Thread) int {
		pid := k.sys.Exec(b, "quick")
		if code := k.sys.Wait(b, pid); code != 3 {
			t.Errorf("first Wait = %d, want 3", code)
		}
		if code := k.sys.Wait(b, pid); code != -1 {
			t.Errorf("second Wait = %d, want -1", code)
		}
		return 0
	})
}

func TestWaitForeignPid(t *testing.T) {
	k := newKern(t)
	k.boot(t, func(b *proc.Thread) int {
		if code := k.sys.Wait(b, 999); code != -1 {
			t.Errorf("Wait(999) = %d, want -1", code)
		}
		return 0
	})
}

func TestWaitAfterChildDied(t *testing.T) {
	k := newKern(t)
	exited := make(chan struct{})
	k.program("early", entryA, func(env *usermode.Env) int {
		defer close(exited)
		return 5
	})

	k.boot(t, func(b *proc.Thread) int {
		pid := k.sys.Exec(b, "early")
		<-exited
		// Give the child time to finish its full teardown.
		time.Sleep(10 * time.Millisecond)
		if code := k.sys.Wait(b, pid); code != 5 {
			t.Errorf("Wait after death = %d, want 5", code)
		}
		return 0
	})
}

func TestArgumentsReachUserCode(t *testing.T) {
	k := newKern(t)
	var got []string
	k.program("args", entryA, func(env *usermode.Env) int {
		got = env.Args()
		return 0
	})

	k.run(t, "args one two")
	want := []string{"args", "one", "two"}
	if len(got) != len(want) {
		t.Fatalf("args = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExitSyscallShortCircuits(t *testing.T) {
	k := newKern(t)
	after := make(chan struct{}, 1)
	k.program("bail", entryA, func(env *usermode.Env) int {
		env.Sys.Exit(env.Cur, 42)
		after <- struct{}{} // must never run
		return 0
	})

	if code := k.run(t, "bail"); code != 42 {
		t.Errorf("exit code = %d, want 42", code)
	}
	select {
	case <-after:
		t.Error("code after Exit ran")
	default:
	}
}

func TestProcessPagesReclaimed(t *testing.T) {
	k := newKern(t)
	k.program("leafy", entryA, func(env *usermode.Env) int { return 0 })

	k.run(t, "leafy")
	k.drain(t)
	if used := k.alloc.InUse(); used != 0 {
		t.Errorf("pages in use after exit = %d, want 0", used)
	}
}

func TestSpawnJoinThreads(t *testing.T) {
	k := newKern(t)
	var counter atomic.Int32
	k.program("spawner", entryA, func(env *usermode.Env) int {
		var tids []types.Tid
		for i := 0; i < 4; i++ {
			tid := env.Sys.PtCreate(env.Cur, entryB, 1, 0)
			if tid == types.TidError {
				return 1
			}
			tids = append(tids, tid)
		}
		for _, tid := range tids {
			if env.Sys.PtJoin(env.Cur, tid) != tid {
				return 2
			}
		}
		return int(counter.Load())
	})
	k.sw.Register(entryB, func(env *usermode.Env) int {
		counter.Add(1)
		env.Sys.PtExit(env.Cur)
		return 0
	})

	if code := k.run(t, "spawner"); code != 4 {
		t.Errorf("exit code = %d, want 4 completed threads", code)
	}
}

func TestJoinIsOneShot(t *testing.T) {
	k := newKern(t)
	k.program("joiner", entryA, func(env *usermode.Env) int {
		tid := env.Sys.PtCreate(env.Cur, entryB, 1, 0)
		if env.Sys.PtJoin(env.Cur, tid) != tid {
			return 1
		}
		if env.Sys.PtJoin(env.Cur, tid) != types.TidError {
			return 2
		}
		if env.Sys.PtJoin(env.Cur, env.Sys.GetTid(env.Cur)) != types.TidError {
			return 3
		}
		return 0
	})
	k.sw.Register(entryB, func(env *usermode.Env) int {
		env.Sys.PtExit(env.Cur)
		return 0
	})

	if code := k.run(t, "joiner"); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestMainExitJoinsRemainingThreads(t *testing.T) {
	k := newKern(t)
	var finished atomic.Bool
	release := make(chan struct{})
	k.program("leaver", entryA, func(env *usermode.Env) int {
		env.Sys.PtCreate(env.Cur, entryB, 1, 0)
		env.Sys.PtExit(env.Cur) // must wait for the thread
		return 0
	})
	k.sw.Register(entryB, func(env *usermode.Env) int {
		<-release
		finished.Store(true)
		env.Sys.PtExit(env.Cur)
		return 0
	})

	done := make(chan int, 1)
	go func() { done <- k.run(t, "leaver") }()

	select {
	case <-done:
		t.Fatal("process exited before its thread finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)

	select {
	case code := <-done:
		if code != 0 {
			t.Errorf("exit code = %d, want 0", code)
		}
	case <-time.After(timeout):
		t.Fatal("process never exited")
	}
	if !finished.Load() {
		t.Error("main exited without joining its thread")
	}
}

func TestStackSlotsReused(t *testing.T) {
	k := newKern(t)
	k.program("churn", entryA, func(env *usermode.Env) int {
		// Far more threads than there are stack slots, a few at a time.
		for round := 0; round < 40; round++ {
			var tids []types.Tid
			for i := 0; i < 8; i++ {
				tid := env.Sys.PtCreate(env.Cur, entryB, 1, 0)
				if tid == types.TidError {
					return 1
				}
				tids = append(tids, tid)
			}
			for _, tid := range tids {
				if env.Sys.PtJoin(env.Cur, tid) != tid {
					return 2
				}
			}
		}
		return 0
	})
	k.sw.Register(entryB, func(env *usermode.Env) int {
		env.Sys.PtExit(env.Cur)
		return 0
	})

	if code := k.run(t, "churn"); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	k.drain(t)
	if used := k.alloc.InUse(); used != 0 {
		t.Errorf("pages in use after churn = %d, want 0", used)
	}
}

func TestUserLocksExclude(t *testing.T) {
	k := newKern(t)
	var counter int // protected only by the user lock
	k.program("locked", entryA, func(env *usermode.Env) int {
		lock := env.Sys.LockInit(env.Cur)
		done := env.Sys.SemaInit(env.Cur, 0)
		arg := types.VAddr(uint32(lock)<<8 | uint32(done))
		for i := 0; i < 4; i++ {
			if env.Sys.PtCreate(env.Cur, entryB, 1, arg) == types.TidError {
				return 1
			}
		}
		for i := 0; i < 4; i++ {
			env.Sys.SemaDown(env.Cur, done)
		}
		env.Sys.LockAcquire(env.Cur, lock)
		final := counter
		env.Sys.LockRelease(env.Cur, lock)
		return final
	})
	k.sw.Register(entryB, func(env *usermode.Env) int {
		_, arg, _ := env.ThreadStart()
		lock := int(uint32(arg) >> 8)
		done := int(uint32(arg) & 0xff)
		for i := 0; i < 100; i++ {
			env.Sys.LockAcquire(env.Cur, lock)
			counter++
			env.Sys.LockRelease(env.Cur, lock)
		}
		env.Sys.SemaUp(env.Cur, done)
		env.Sys.PtExit(env.Cur)
		return 0
	})

	if code := k.run(t, "locked"); code != 400 {
		t.Errorf("counter = %d, want 400", code)
	}
}

func TestLockHandleValidation(t *testing.T) {
	k := newKern(t)
	k.program("badlock", entryA, func(env *usermode.Env) int {
		h1 := env.Sys.LockInit(env.Cur)
		h2 := env.Sys.LockInit(env.Cur)
		if h1 == h2 || h1 < 0 || h2 < 0 {
			return 1
		}
		if env.Sys.LockAcquire(env.Cur, 200) {
			return 2 // uninitialized handle
		}
		if env.Sys.LockRelease(env.Cur, h1) {
			return 3 // not held
		}
		if !env.Sys.LockAcquire(env.Cur, h1) {
			return 4
		}
		if env.Sys.LockAcquire(env.Cur, h1) {
			return 5 // recursive acquire
		}
		if !env.Sys.LockRelease(env.Cur, h1) {
			return 6
		}
		return 0
	})

	if code := k.run(t, "badlock"); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestSemaphoreHandles(t *testing.T) {
	k := newKern(t)
	k.program("sema", entryA, func(env *usermode.Env) int {
		if env.Sys.SemaInit(env.Cur, -1) != -1 {
			return 1
		}
		h := env.Sys.SemaInit(env.Cur, 2)
		if h < 0 {
			return 2
		}
		if !env.Sys.SemaDown(env.Cur, h) || !env.Sys.SemaDown(env.Cur, h) {
			return 3
		}
		if env.Sys.SemaUp(env.Cur, 77) {
			return 4 // uninitialized handle
		}
		return 0
	})

	if code := k.run(t, "sema"); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestBadFileHandleKillsProcess(t *testing.T) {
	k := newKern(t)
	k.program("badfd", entryA, func(env *usermode.Env) int {
		env.Sys.Filesize(env.Cur, 9) // kills the process
		return 0
	})

	if code := k.run(t, "badfd"); code != -1 {
		t.Errorf("exit code = %d, want -1", code)
	}
	if out := k.out.String(); !strings.Contains(out, "badfd: exit(-1)\n") {
		t.Errorf("console = %q, missing kill line", out)
	}
}

func TestActivationDuringTeardown(t *testing.T) {
	k := newKern(t)
	k.program("flash", entryA, func(env *usermode.Env) int { return 0 })

	// Hammer the activation path from the timer while processes are being
	// created and torn down. A stale space install panics inside Tick.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				k.sched.Tick()
			}
		}
	}()

	for i := 0; i < 25; i++ {
		if code := k.run(t, "flash"); code != 0 {
			t.Fatalf("run %d: exit code = %d", i, code)
		}
	}
	close(stop)
	wg.Wait()
}

func TestSnapshotTracksLiveProcesses(t *testing.T) {
	k := newKern(t)
	inside := make(chan struct{})
	release := make(chan struct{})
	k.program("held", entryA, func(env *usermode.Env) int {
		close(inside)
		<-release
		return 0
	})

	done := make(chan int, 1)
	go func() { done <- k.run(t, "held") }()
	<-inside

	snap := k.procs.Snapshot()
	found := false
	for _, p := range snap {
		if p.Name == "held" && p.Threads == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("Snapshot() = %+v, missing running process", snap)
	}

	close(release)
	<-done
	k.drain(t)
	if n := len(k.procs.Snapshot()); n != 0 {
		t.Errorf("Snapshot() after exit has %d entries", n)
	}
}
