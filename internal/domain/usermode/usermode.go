// Package usermode is the simulated mode switch. Instead of real machine
// code, user programs are Go functions registered against the virtual
// entry address an executable image names. Entering user mode looks the
// program up by the frame's entry point and runs it on the calling
// thread; everything the program can touch goes through its address
// space and the syscall surface, the same contract real user code has.
package usermode

import (
	"github.com/GriffinCanCode/TeachOS/internal/domain/proc"
	"github.com/GriffinCanCode/TeachOS/internal/domain/syscall"
	"github.com/GriffinCanCode/TeachOS/internal/machine/vm"
	"github.com/GriffinCanCode/TeachOS/internal/shared/types"
)

// Program is one user program body. Its return value becomes the exit
// code when it returns instead of calling exit itself.
type Program func(env *Env) int

// Env is what a running user program sees: its thread, its startup
// frame, and the syscall surface.
type Env struct {
	Cur   *proc.Thread
	Frame types.Frame
	Sys   *syscall.Dispatcher
}

// space returns the running process's address space, or nil during
// teardown.
func (e *Env) space() *vm.Space {
	p := e.Cur.PCB()
	if p == nil {
		return nil
	}
	return p.Space()
}

// ReadWord reads a 32-bit little-endian word from user memory.
func (e *Env) ReadWord(va types.VAddr) (uint32, bool) {
	sp := e.space()
	if sp == nil {
		return 0, false
	}
	return sp.ReadWord(va)
}

// ReadString reads a NUL-terminated string from user memory.
func (e *Env) ReadString(va types.VAddr) (string, bool) {
	sp := e.space()
	if sp == nil {
		return "", false
	}
	return sp.ReadString(va)
}

// Args recovers the command-line arguments the loader laid out on the
// initial stack: argc one word above the frame pointer, argv another
// word up, each element a user pointer to a NUL-terminated string.
func (e *Env) Args() []string {
	argc, ok := e.ReadWord(e.Frame.SP + 4)
	if !ok {
		return nil
	}
	argv, ok := e.ReadWord(e.Frame.SP + 8)
	if !ok {
		return nil
	}
	out := make([]string, 0, argc)
	for i := uint32(0); i < argc; i++ {
		p, ok := e.ReadWord(types.VAddr(argv) + types.VAddr(4*i))
		if !ok {
			return nil
		}
		s, ok := e.ReadString(types.VAddr(p))
		if !ok {
			return nil
		}
		out = append(out, s)
	}
	return out
}

// ThreadStart recovers a spawned thread's function and argument from its
// stub frame: the thread function one word above the stack pointer, the
// argument another word up.
func (e *Env) ThreadStart() (tfun, arg types.VAddr, ok bool) {
	tf, ok := e.ReadWord(e.Frame.SP + 4)
	if !ok {
		return 0, 0, false
	}
	a, ok := e.ReadWord(e.Frame.SP + 8)
	if !ok {
		return 0, 0, false
	}
	return types.VAddr(tf), types.VAddr(a), true
}

// Switcher runs registered programs as user code.
type Switcher struct {
	progs map[types.VAddr]Program
	sys   *syscall.Dispatcher
}

// New creates an empty switcher. Bind must be called before any process
// enters user mode.
func New() *Switcher {
	return &Switcher{progs: make(map[types.VAddr]Program)}
}

// Bind attaches the syscall surface. Done after construction because the
// dispatcher itself is built around the process manager the switcher is
// plugged into.
func (s *Switcher) Bind(sys *syscall.Dispatcher) { s.sys = sys }

// Register installs prog as the user program at the given entry address.
func (s *Switcher) Register(entry types.VAddr, prog Program) {
	s.progs[entry] = prog
}

// Enter runs the user program whose entry address the frame names. A
// frame with no registered program kills the process, the way a jump to
// garbage would. Does not return.
func (s *Switcher) Enter(cur *proc.Thread, f types.Frame) {
	prog, ok := s.progs[f.Entry]
	if !ok {
		s.sys.Exit(cur, -1)
	}
	code := prog(&Env{Cur: cur, Frame: f, Sys: s.sys})

	// A main body returning is an exit with its return value; a thread
	// body returning ends only that thread.
	if cur.IsMain() {
		s.sys.Exit(cur, code)
	}
	s.sys.PtExit(cur)
	panic("usermode: thread exit returned")
}
