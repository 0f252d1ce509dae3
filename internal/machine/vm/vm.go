// Package vm implements user address spaces and the MMU activation path.
package vm

import (
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/TeachOS/internal/machine/mem"
	"github.com/GriffinCanCode/TeachOS/internal/shared/types"
)

type mapping struct {
	page     *mem.Page
	writable bool
}

// Space maps user page addresses onto physical pages. One per process.
type Space struct {
	mu        sync.Mutex
	pages     map[types.VAddr]mapping // Protected by mu
	alloc     *mem.Allocator
	destroyed atomic.Bool
}

// Create builds an empty address space drawing pages from alloc. Returns
// nil if the backing table cannot be built, mirroring the page-directory
// allocation failure of the real machine.
func Create(alloc *mem.Allocator) *Space {
	if alloc == nil {
		return nil
	}
	return &Space{pages: make(map[types.VAddr]mapping), alloc: alloc}
}

// Install maps the page at user address ua, which must be page-aligned and
// not already mapped. Returns false on any violation.
func (s *Space) Install(ua types.VAddr, pg *mem.Page, writable bool) bool {
	if ua.Offset() != 0 || !ua.IsUser() || pg == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed.Load() {
		return false
	}
	if _, dup := s.pages[ua]; dup {
		return false
	}
	s.pages[ua] = mapping{page: pg, writable: writable}
	return true
}

// Lookup returns the page mapped at the page containing ua, or nil.
func (s *Space) Lookup(ua types.VAddr) *mem.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.pages[ua.Round()]
	if !ok {
		return nil
	}
	return m.page
}

// Writable reports whether the page containing ua is mapped writable.
func (s *Space) Writable(ua types.VAddr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages[ua.Round()].writable
}

// Clear removes the mapping at ua without freeing the page; the caller
// owns the page and frees it separately.
func (s *Space) Clear(ua types.VAddr) {
	s.mu.Lock()
	delete(s.pages, ua.Round())
	s.mu.Unlock()
}

// Destroy frees every mapped page and poisons the space. Activating a
// destroyed space panics, which is how the tests catch teardown-ordering
// bugs.
func (s *Space) Destroy() {
	s.mu.Lock()
	pages := s.pages
	s.pages = nil
	s.mu.Unlock()
	s.destroyed.Store(true)

	for _, m := range pages {
		s.alloc.Free(m.page)
	}
}

// Destroyed reports whether Destroy has run.
func (s *Space) Destroyed() bool { return s.destroyed.Load() }

// ReadAt copies len(buf) bytes of user memory starting at va through the
// space's mappings. Returns false if any byte is unmapped.
func (s *Space) ReadAt(va types.VAddr, buf []byte) bool {
	for n := 0; n < len(buf); {
		pg := s.Lookup(va)
		if pg == nil {
			return false
		}
		off := va.Offset()
		c := copy(buf[n:], pg.Data[off:])
		n += c
		va += types.VAddr(c)
	}
	return true
}

// ReadWord reads a 32-bit little-endian word of user memory at va.
func (s *Space) ReadWord(va types.VAddr) (uint32, bool) {
	var b [4]byte
	if !s.ReadAt(va, b[:]) {
		return 0, false
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, true
}

// ReadString reads a NUL-terminated string of user memory at va, up to one
// page in length.
func (s *Space) ReadString(va types.VAddr) (string, bool) {
	out := make([]byte, 0, 64)
	for i := uint32(0); i < types.PageSize; i++ {
		var b [1]byte
		if !s.ReadAt(va+types.VAddr(i), b[:]) {
			return "", false
		}
		if b[0] == 0 {
			return string(out), true
		}
		out = append(out, b[0])
	}
	return string(out), true
}
