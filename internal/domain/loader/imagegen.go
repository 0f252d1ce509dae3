package loader

import (
	"bytes"
	"encoding/binary"

	"github.com/GriffinCanCode/TeachOS/internal/shared/types"
)

// Image describes an executable to synthesize. The boot binary and the
// test suites use this to build valid (and deliberately invalid) images
// without shipping binary fixtures.
type Image struct {
	Entry    types.VAddr
	Segments []Segment

	// Overrides for building malformed images. Zero values mean "valid".
	BadIdent   bool
	BadType    bool
	BadMachine bool
}

// Segment is one loadable region of an Image.
type Segment struct {
	Vaddr    types.VAddr
	Data     []byte
	MemSize  uint32 // 0 means len(Data)
	Writable bool

	// Overrides for malformed program headers.
	Type       uint32 // 0 means PT_LOAD
	OffSkew    uint32 // added to the file offset to break congruence
	VaddrForce types.VAddr
}

// Build serializes the image into executable bytes.
func Build(img Image) []byte {
	n := len(img.Segments)
	var buf bytes.Buffer

	eh := fileHeader{
		Type:      typeExec,
		Machine:   machine386,
		Version:   versionCurrent,
		Entry:     uint32(img.Entry),
		Phoff:     fileHeaderSize,
		Ehsize:    fileHeaderSize,
		Phentsize: progHeaderSize,
		Phnum:     uint16(n),
	}
	copy(eh.Ident[:], elfIdent)
	if img.BadIdent {
		eh.Ident[0] = 0
	}
	if img.BadType {
		eh.Type = 1 // ET_REL
	}
	if img.BadMachine {
		eh.Machine = 62 // EM_X86_64
	}

	// Place each segment's data so its file offset and virtual address
	// agree in their page-internal offset.
	cur := uint32(fileHeaderSize + n*progHeaderSize)
	offs := make([]uint32, n)
	ends := make([]uint32, n)
	for i, seg := range img.Segments {
		want := uint32(seg.Vaddr) & types.PageMask
		delta := (want + types.PageSize - cur%types.PageSize) % types.PageSize
		offs[i] = cur + delta
		ends[i] = offs[i] + uint32(len(seg.Data))
		cur = ends[i]
	}

	phs := make([]progHeader, n)
	for i, seg := range img.Segments {
		memsz := seg.MemSize
		if memsz == 0 {
			memsz = uint32(len(seg.Data))
		}
		vaddr := seg.Vaddr
		if seg.VaddrForce != 0 {
			vaddr = seg.VaddrForce
		}
		segType := seg.Type
		if segType == 0 {
			segType = ptLoad
		}
		flags := uint32(pfR | pfX)
		if seg.Writable {
			flags |= pfW
		}
		phs[i] = progHeader{
			Type:   segType,
			Off:    offs[i] + seg.OffSkew,
			Vaddr:  uint32(vaddr),
			Paddr:  uint32(vaddr),
			Filesz: uint32(len(seg.Data)),
			Memsz:  memsz,
			Flags:  flags,
			Align:  types.PageSize,
		}
	}

	binary.Write(&buf, binary.LittleEndian, eh)
	binary.Write(&buf, binary.LittleEndian, phs)
	for i, seg := range img.Segments {
		buf.Write(make([]byte, int(offs[i])-buf.Len()))
		buf.Write(seg.Data)
	}
	// Pad the tail so page-granular segment reads stay in bounds.
	buf.Write(make([]byte, int(types.RoundUp(cur))-buf.Len()))
	return buf.Bytes()
}
