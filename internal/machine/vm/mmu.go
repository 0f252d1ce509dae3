package vm

import (
	"fmt"
	"sync/atomic"

	"github.com/GriffinCanCode/TeachOS/internal/shared/types"
)

// MMU models the CPU side of address translation: which space is active
// and where interrupts push their stack frames.
type MMU struct {
	active atomic.Pointer[Space]
	kstack atomic.Int32 // tid whose kernel stack handles interrupts
}

// NewMMU creates an MMU with the kernel-only space active.
func NewMMU() *MMU { return &MMU{} }

// Activate installs s as the active address space; nil installs the
// kernel-only space. Installing a destroyed space is the use-after-free
// the teardown ordering exists to prevent, so it panics loudly instead of
// corrupting state silently.
func (m *MMU) Activate(s *Space) {
	if s != nil && s.Destroyed() {
		panic("vm: activated a destroyed address space")
	}
	m.active.Store(s)
}

// Active returns the active space, or nil when the kernel-only space is
// installed.
func (m *MMU) Active() *Space { return m.active.Load() }

// UpdateKernelStack refreshes the privilege-level stack pointer used while
// handling interrupts, the TSS update of the real machine.
func (m *MMU) UpdateKernelStack(tid types.Tid) {
	m.kstack.Store(int32(tid))
}

// String describes the MMU state, for the monitor endpoint.
func (m *MMU) String() string {
	if m.active.Load() == nil {
		return "kernel"
	}
	return fmt.Sprintf("user(kstack=%d)", m.kstack.Load())
}
