// Package syscall is the surface user programs call into. Every entry
// runs on the calling user thread, validates its arguments, and either
// completes the request or kills the offending process.
package syscall

import (
	"io"
	"os"

	"github.com/GriffinCanCode/TeachOS/internal/domain/proc"
	"github.com/GriffinCanCode/TeachOS/internal/infrastructure/logging"
	"github.com/GriffinCanCode/TeachOS/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/TeachOS/internal/machine/filestore"
	"github.com/GriffinCanCode/TeachOS/internal/shared/types"
)

// Console handles for read and write.
const (
	StdinHandle  = 0
	StdoutHandle = 1
)

// Dispatcher mediates between user programs and the kernel services.
type Dispatcher struct {
	procs   *proc.Manager
	store   *filestore.Store
	console io.Writer
	input   io.Reader
	halt    func()
	log     *logging.Logger
	metrics *monitoring.Metrics
}

// Options configures a Dispatcher. Zero fields get working defaults.
type Options struct {
	Procs   *proc.Manager
	Store   *filestore.Store
	Console io.Writer // user writes to handle 1; defaults to stdout
	Input   io.Reader // user reads from handle 0; defaults to an empty reader
	Halt    func()    // invoked by the halt call; defaults to a no-op
	Log     *logging.Logger
	Metrics *monitoring.Metrics
}

// New creates a dispatcher over the given kernel services.
func New(opts Options) *Dispatcher {
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	if opts.Input == nil {
		opts.Input = emptyReader{}
	}
	if opts.Halt == nil {
		opts.Halt = func() {}
	}
	if opts.Log == nil {
		opts.Log = logging.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewNop()
	}
	return &Dispatcher{
		procs:   opts.Procs,
		store:   opts.Store,
		console: opts.Console,
		input:   opts.Input,
		halt:    opts.Halt,
		log:     opts.Log,
		metrics: opts.Metrics,
	}
}

type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, io.EOF }

func (d *Dispatcher) count(name string) {
	d.metrics.Syscalls.WithLabelValues(name).Inc()
}

// kill terminates the calling process with exit code -1. Does not return.
func (d *Dispatcher) kill(cur *proc.Thread) {
	d.procs.Exit(cur, -1)
}

// Halt shuts the machine down.
func (d *Dispatcher) Halt(cur *proc.Thread) {
	d.count("halt")
	d.halt()
}

// Exit terminates the calling process with the given code. Does not
// return.
func (d *Dispatcher) Exit(cur *proc.Thread, code int) {
	d.count("exit")
	d.procs.Exit(cur, code)
}

// Exec starts a child process from cmdline and returns its pid, or the
// error pid when it cannot be created or its executable cannot be loaded.
func (d *Dispatcher) Exec(cur *proc.Thread, cmdline string) types.Pid {
	d.count("exec")
	pid, err := d.procs.Execute(cur, cmdline)
	if err != nil {
		return types.PidError
	}
	return pid
}

// Wait blocks on a child's death and returns its exit code, or -1 when
// pid names no unwaited child of the caller.
func (d *Dispatcher) Wait(cur *proc.Thread, pid types.Pid) int {
	d.count("wait")
	return d.procs.Wait(cur, pid)
}

// Practice returns its argument plus one.
func (d *Dispatcher) Practice(cur *proc.Thread, n int) int {
	d.count("practice")
	return n + 1
}

// ComputeE sums the first n terms of e's Taylor series and returns the
// result scaled by 1e8. Negative n returns -1.
func (d *Dispatcher) ComputeE(cur *proc.Thread, n int) int {
	d.count("compute_e")
	if n < 0 {
		return -1
	}
	e := 0.0
	fact := 1.0
	for i := 1; i <= n; i++ {
		e += 1.0 / fact
		fact *= float64(i)
	}
	return int(e * 1e8)
}

// GetTid returns the calling thread's identifier.
func (d *Dispatcher) GetTid(cur *proc.Thread) types.Tid {
	d.count("get_tid")
	return cur.ID()
}
