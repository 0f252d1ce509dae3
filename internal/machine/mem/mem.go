// Package mem implements the bounded physical page allocator backing user
// address spaces.
package mem

import (
	"sync"

	"github.com/GriffinCanCode/TeachOS/internal/shared/types"
)

// Page is one physical page of memory.
type Page struct {
	Data []byte
}

// Allocator hands out pages from a fixed-size user pool. Exhaustion is
// reported as a nil page, never an error: callers fail the enclosing
// operation and roll back.
type Allocator struct {
	mu    sync.Mutex
	total int
	used  int // Protected by mu

	// OnChange, when set, observes the number of pages in use after
	// every allocation and free. Used for metrics.
	OnChange func(used int)
}

// NewAllocator creates an allocator with capacity for total user pages.
func NewAllocator(total int) *Allocator {
	return &Allocator{total: total}
}

// Alloc returns a fresh page, zeroed when zero is true, or nil when the
// pool is exhausted. Pages are always handed out zeroed in this
// implementation; the flag mirrors the allocator contract.
func (a *Allocator) Alloc(zero bool) *Page {
	a.mu.Lock()
	if a.used >= a.total {
		a.mu.Unlock()
		return nil
	}
	a.used++
	used := a.used
	a.mu.Unlock()

	if a.OnChange != nil {
		a.OnChange(used)
	}
	return &Page{Data: make([]byte, types.PageSize)}
}

// Free returns a page to the pool. Freeing nil is a no-op so teardown
// paths never have to check.
func (a *Allocator) Free(p *Page) {
	if p == nil {
		return
	}
	a.mu.Lock()
	a.used--
	used := a.used
	a.mu.Unlock()

	p.Data = nil
	if a.OnChange != nil {
		a.OnChange(used)
	}
}

// InUse returns the number of allocated pages.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}
