package types

// Pid identifies a process. A process's pid is the tid of its main thread.
type Pid int32

// Tid identifies a kernel thread.
type Tid int32

// PidError and TidError are the failure sentinels returned across the
// syscall surface; user code compares against -1.
const (
	PidError Pid = -1
	TidError Tid = -1
)

// VAddr is a user virtual address.
type VAddr uint32

// Page geometry of the simulated machine.
const (
	PageShift        = 12
	PageSize  uint32 = 1 << PageShift
	PageMask  uint32 = PageSize - 1

	// PhysBase is the top of user virtual memory. Addresses at or above
	// it belong to the kernel.
	PhysBase VAddr = 0xC0000000
)

// Round returns va rounded down to a page boundary.
func (va VAddr) Round() VAddr { return va &^ VAddr(PageMask) }

// Offset returns the page-internal offset of va.
func (va VAddr) Offset() uint32 { return uint32(va) & PageMask }

// IsUser reports whether va is a user-space address.
func (va VAddr) IsUser() bool { return va < PhysBase }

// RoundUp rounds n up to a multiple of the page size.
func RoundUp(n uint32) uint32 { return (n + PageMask) &^ PageMask }

// Frame is the register state handed to the mode switch: the entry point
// the thread starts executing at and its initial stack pointer.
type Frame struct {
	Entry VAddr
	SP    VAddr
}
