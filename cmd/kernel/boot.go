package main

import (
	"strconv"
	"strings"

	"github.com/GriffinCanCode/TeachOS/internal/domain/loader"
	"github.com/GriffinCanCode/TeachOS/internal/domain/syscall"
	"github.com/GriffinCanCode/TeachOS/internal/domain/usermode"
	"github.com/GriffinCanCode/TeachOS/internal/machine/filestore"
	"github.com/GriffinCanCode/TeachOS/internal/shared/types"
)

// Entry addresses of the built-in user programs. Each address names both
// an executable image in the store and the program body registered for it.
const (
	entryInit    types.VAddr = 0x08048000
	entryEcho    types.VAddr = 0x08049000
	entryThreads types.VAddr = 0x0804a000
	entryStub    types.VAddr = 0x0804b000
)

// Thread functions the stub dispatches on.
const (
	tfunGreet types.VAddr = 1
)

// registerBuiltins installs the built-in user programs and their
// executable images: an init that execs and waits, an echo, and a thread
// demo exercising spawn, join, locks, and semaphores.
func registerBuiltins(sw *usermode.Switcher, store *filestore.Store) {
	images := map[string]types.VAddr{
		"init":    entryInit,
		"echo":    entryEcho,
		"threads": entryThreads,
	}
	for name, entry := range images {
		store.Put(name, loader.Build(loader.Image{
			Entry: entry,
			Segments: []loader.Segment{
				{Vaddr: entry, Data: []byte(name + "\x00")},
			},
		}))
	}

	sw.Register(entryInit, initProgram)
	sw.Register(entryEcho, echoProgram)
	sw.Register(entryThreads, threadsProgram)
	sw.Register(entryStub, stubProgram)
}

// argTail returns the arguments after the program name. An empty or nil
// slice, as after a failed startup-stack read, yields nil.
func argTail(args []string) []string {
	if len(args) < 2 {
		return nil
	}
	return args[1:]
}

// initProgram runs each of its arguments as a child command line and
// waits for it, falling back to a small demo sequence.
func initProgram(env *usermode.Env) int {
	cmds := argTail(env.Args())
	if len(cmds) == 0 {
		cmds = []string{"echo hello from user space", "threads 4"}
	}
	for _, cmd := range cmds {
		pid := env.Sys.Exec(env.Cur, cmd)
		if pid == types.PidError {
			return 1
		}
		if code := env.Sys.Wait(env.Cur, pid); code != 0 {
			return code
		}
	}
	return 0
}

// echoProgram writes its arguments to the console.
func echoProgram(env *usermode.Env) int {
	line := strings.Join(argTail(env.Args()), " ") + "\n"
	env.Sys.Write(env.Cur, syscall.StdoutHandle, []byte(line))
	return 0
}

// threadsProgram spawns N greeting threads and joins them through a
// counting semaphore, serializing their console writes with a lock.
func threadsProgram(env *usermode.Env) int {
	n := 2
	if args := env.Args(); len(args) > 1 {
		if v, err := strconv.Atoi(args[1]); err == nil && v > 0 {
			n = v
		}
	}

	lock := env.Sys.LockInit(env.Cur)
	done := env.Sys.SemaInit(env.Cur, 0)
	if lock < 0 || done < 0 {
		return 1
	}

	// Pack both handles into the stub argument word.
	arg := types.VAddr(uint32(lock)<<8 | uint32(done))
	for i := 0; i < n; i++ {
		if env.Sys.PtCreate(env.Cur, entryStub, tfunGreet, arg) == types.TidError {
			return 1
		}
	}
	for i := 0; i < n; i++ {
		env.Sys.SemaDown(env.Cur, done)
	}
	return 0
}

// stubProgram is the entry every spawned thread starts at. It recovers
// the thread function and argument from its stack frame and dispatches.
func stubProgram(env *usermode.Env) int {
	tfun, arg, ok := env.ThreadStart()
	if !ok {
		env.Sys.PtExit(env.Cur)
	}
	switch tfun {
	case tfunGreet:
		lock := int(uint32(arg) >> 8)
		done := int(uint32(arg) & 0xff)
		env.Sys.LockAcquire(env.Cur, lock)
		env.Sys.Write(env.Cur, syscall.StdoutHandle, []byte("hello from thread\n"))
		env.Sys.LockRelease(env.Cur, lock)
		env.Sys.SemaUp(env.Cur, done)
	}
	env.Sys.PtExit(env.Cur)
	return 0
}
