package vm

import (
	"testing"

	"github.com/GriffinCanCode/TeachOS/internal/machine/mem"
	"github.com/GriffinCanCode/TeachOS/internal/shared/types"
)

const (
	base     = types.VAddr(0x08048000)
	pageSize = types.VAddr(types.PageSize)
)

func TestInstallAndLookup(t *testing.T) {
	alloc := mem.NewAllocator(8)
	s := Create(alloc)

	pg := alloc.Alloc(true)
	if !s.Install(base, pg, true) {
		t.Fatal("Install failed")
	}
	if s.Lookup(base) != pg {
		t.Error("Lookup missed the installed page")
	}
	if s.Lookup(base+100) != pg {
		t.Error("Lookup within the page missed it")
	}
	if !s.Writable(base + 100) {
		t.Error("Writable false for a writable mapping")
	}
	if s.Lookup(base+pageSize) != nil {
		t.Error("Lookup found a page one page up")
	}
}

func TestInstallRejections(t *testing.T) {
	alloc := mem.NewAllocator(8)
	s := Create(alloc)
	pg := alloc.Alloc(true)

	if s.Install(base+1, pg, true) {
		t.Error("installed at an unaligned address")
	}
	if s.Install(types.PhysBase, pg, true) {
		t.Error("installed above the user range")
	}
	if s.Install(base, nil, true) {
		t.Error("installed a nil page")
	}
	if !s.Install(base, pg, true) {
		t.Fatal("valid Install failed")
	}
	if s.Install(base, alloc.Alloc(true), true) {
		t.Error("installed over an existing mapping")
	}
}

func TestClearKeepsPage(t *testing.T) {
	alloc := mem.NewAllocator(8)
	s := Create(alloc)
	pg := alloc.Alloc(true)
	s.Install(base, pg, true)

	before := alloc.InUse()
	s.Clear(base + 4) // any address within the page
	if s.Lookup(base) != nil {
		t.Error("mapping survived Clear")
	}
	if alloc.InUse() != before {
		t.Error("Clear freed the page")
	}
}

func TestDestroyFreesAndPoisons(t *testing.T) {
	alloc := mem.NewAllocator(8)
	s := Create(alloc)
	s.Install(base, alloc.Alloc(true), true)
	s.Install(base+pageSize, alloc.Alloc(true), false)

	s.Destroy()
	if alloc.InUse() != 0 {
		t.Errorf("InUse() = %d after Destroy, want 0", alloc.InUse())
	}
	if !s.Destroyed() {
		t.Error("Destroyed() false")
	}
	if s.Install(base, &mem.Page{Data: make([]byte, types.PageSize)}, true) {
		t.Error("Install succeeded on a destroyed space")
	}
}

func TestReadAcrossPages(t *testing.T) {
	alloc := mem.NewAllocator(8)
	s := Create(alloc)
	p1 := alloc.Alloc(true)
	p2 := alloc.Alloc(true)
	s.Install(base, p1, true)
	s.Install(base+pageSize, p2, true)

	copy(p1.Data[types.PageSize-2:], []byte("he"))
	copy(p2.Data, []byte("llo\x00"))

	got, ok := s.ReadString(base + pageSize - 2)
	if !ok || got != "hello" {
		t.Errorf("ReadString = %q, %v; want hello", got, ok)
	}

	p1.Data[8] = 0x78
	p1.Data[9] = 0x56
	p1.Data[10] = 0x34
	p1.Data[11] = 0x12
	w, ok := s.ReadWord(base + 8)
	if !ok || w != 0x12345678 {
		t.Errorf("ReadWord = %#x, %v; want 0x12345678", w, ok)
	}

	if _, ok := s.ReadWord(base + 2*pageSize); ok {
		t.Error("ReadWord succeeded on unmapped memory")
	}
}

func TestActivateDestroyedPanics(t *testing.T) {
	alloc := mem.NewAllocator(2)
	s := Create(alloc)
	s.Destroy()

	m := NewMMU()
	defer func() {
		if recover() == nil {
			t.Error("Activate of a destroyed space did not panic")
		}
	}()
	m.Activate(s)
}

func TestActivateNilIsKernelSpace(t *testing.T) {
	m := NewMMU()
	m.Activate(nil)
	if m.Active() != nil {
		t.Error("Active() not nil after Activate(nil)")
	}
}
