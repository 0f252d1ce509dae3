package syscall

import (
	"github.com/GriffinCanCode/TeachOS/internal/domain/proc"
	"github.com/GriffinCanCode/TeachOS/internal/shared/types"
)

// PtCreate starts a new user thread at the stub sfun, which receives tfun
// and arg through its stack. Returns the new tid, or the error tid when
// the process is exiting or the stack cannot be built.
func (d *Dispatcher) PtCreate(cur *proc.Thread, sfun, tfun, arg types.VAddr) types.Tid {
	d.count("pt_create")
	tid, err := d.procs.SpawnThread(cur, sfun, tfun, arg)
	if err != nil {
		return types.TidError
	}
	return tid
}

// PtExit terminates the calling user thread. From the main thread it
// waits for the others and then exits the process. Does not return.
func (d *Dispatcher) PtExit(cur *proc.Thread) {
	d.count("pt_exit")
	d.procs.ExitThread(cur)
}

// PtJoin blocks until thread tid exits and returns tid, or the error tid
// when tid is unknown, already joined, or the caller itself.
func (d *Dispatcher) PtJoin(cur *proc.Thread, tid types.Tid) types.Tid {
	d.count("pt_join")
	if err := d.procs.Join(cur, tid); err != nil {
		return types.TidError
	}
	return tid
}

// LockInit allocates a process lock and returns its handle, or -1 when
// the lock table is full.
func (d *Dispatcher) LockInit(cur *proc.Thread) int {
	d.count("lock_init")
	h, err := d.procs.LockInit(cur)
	if err != nil {
		return -1
	}
	return h
}

// LockAcquire blocks until the caller holds the lock.
func (d *Dispatcher) LockAcquire(cur *proc.Thread, handle int) bool {
	d.count("lock_acquire")
	return d.procs.LockAcquire(cur, handle) == nil
}

// LockRelease releases a lock the caller holds.
func (d *Dispatcher) LockRelease(cur *proc.Thread, handle int) bool {
	d.count("lock_release")
	return d.procs.LockRelease(cur, handle) == nil
}

// SemaInit allocates a process semaphore with the given initial count and
// returns its handle, or -1 when the count is negative or the table is
// full.
func (d *Dispatcher) SemaInit(cur *proc.Thread, value int) int {
	d.count("sema_init")
	h, err := d.procs.SemaInit(cur, value)
	if err != nil {
		return -1
	}
	return h
}

// SemaDown decrements the semaphore, blocking while its count is zero.
func (d *Dispatcher) SemaDown(cur *proc.Thread, handle int) bool {
	d.count("sema_down")
	return d.procs.SemaDown(cur, handle) == nil
}

// SemaUp increments the semaphore.
func (d *Dispatcher) SemaUp(cur *proc.Thread, handle int) bool {
	d.count("sema_up")
	return d.procs.SemaUp(cur, handle) == nil
}
