package loader

import (
	"bytes"
	"encoding/binary"

	"github.com/GriffinCanCode/TeachOS/internal/machine/filestore"
	"github.com/GriffinCanCode/TeachOS/internal/shared/types"
)

// Executable images are 32-bit little-endian ELF binaries. Only statically
// linked executables are accepted.

const (
	fileHeaderSize = 52
	progHeaderSize = 32
	maxProgHeaders = 1024

	typeExec       = 2 // ET_EXEC
	machine386     = 3 // EM_386
	versionCurrent = 1

	ptNull    = 0
	ptLoad    = 1
	ptDynamic = 2
	ptInterp  = 3
	ptNote    = 4
	ptShlib   = 5
	ptPhdr    = 6
	ptStack   = 0x6474e551

	pfX = 1
	pfW = 2
	pfR = 4
)

// elfIdent is the identification prefix every accepted image must carry:
// magic, 32-bit class, little-endian data, current ident version.
var elfIdent = []byte{0x7f, 'E', 'L', 'F', 1, 1, 1}

// fileHeader is the fixed-size header at the start of every image.
type fileHeader struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// progHeader describes one segment of the image.
type progHeader struct {
	Type   uint32
	Off    uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

// readFileHeader reads and verifies the image's file header.
func readFileHeader(f *filestore.File) (fileHeader, bool) {
	var raw [fileHeaderSize]byte
	if f.Read(raw[:]) != len(raw) {
		return fileHeader{}, false
	}
	var eh fileHeader
	if err := binary.Read(bytes.NewReader(raw[:]), binary.LittleEndian, &eh); err != nil {
		return fileHeader{}, false
	}
	if !bytes.Equal(eh.Ident[:len(elfIdent)], elfIdent) ||
		eh.Type != typeExec ||
		eh.Machine != machine386 ||
		eh.Version != versionCurrent ||
		eh.Phentsize != progHeaderSize ||
		eh.Phnum > maxProgHeaders {
		return fileHeader{}, false
	}
	return eh, true
}

// readProgHeader reads the program header at file offset off.
func readProgHeader(f *filestore.File, off int) (progHeader, bool) {
	if off < 0 || off > f.Length() {
		return progHeader{}, false
	}
	var raw [progHeaderSize]byte
	if f.ReadAt(raw[:], off) != len(raw) {
		return progHeader{}, false
	}
	var ph progHeader
	if err := binary.Read(bytes.NewReader(raw[:]), binary.LittleEndian, &ph); err != nil {
		return progHeader{}, false
	}
	return ph, true
}

// validSegment reports whether ph describes a loadable segment this
// loader is willing to map.
func validSegment(ph progHeader, f *filestore.File) bool {
	// File offset and virtual address must agree page-internally.
	if ph.Off&types.PageMask != ph.Vaddr&types.PageMask {
		return false
	}

	// The file offset must lie within the image.
	if int(ph.Off) > f.Length() {
		return false
	}

	// The in-memory size must cover the on-disk size and be non-zero.
	if ph.Memsz < ph.Filesz || ph.Memsz == 0 {
		return false
	}

	// The virtual range must start and end in user space, without
	// wrapping around the top of the address space.
	if !types.VAddr(ph.Vaddr).IsUser() || !types.VAddr(ph.Vaddr+ph.Memsz).IsUser() {
		return false
	}
	if ph.Vaddr+ph.Memsz < ph.Vaddr {
		return false
	}

	// Page zero stays unmapped so null-pointer dereferences keep
	// faulting predictably.
	if ph.Vaddr < types.PageSize {
		return false
	}

	return true
}
