// Package loader validates executable images and maps them into a fresh
// address space, including the initial argument stack.
package loader

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/TeachOS/internal/infrastructure/logging"
	"github.com/GriffinCanCode/TeachOS/internal/machine/filestore"
	"github.com/GriffinCanCode/TeachOS/internal/machine/mem"
	"github.com/GriffinCanCode/TeachOS/internal/machine/vm"
	"github.com/GriffinCanCode/TeachOS/internal/shared/types"
)

var (
	// ErrOpen means the executable does not exist in the file store.
	ErrOpen = errors.New("loader: open failed")
	// ErrBadImage means the file header failed validation.
	ErrBadImage = errors.New("loader: invalid executable header")
	// ErrBadSegment means a program header failed validation or named a
	// dynamic-linking segment type.
	ErrBadSegment = errors.New("loader: invalid segment")
	// ErrNoMemory means a page or stack allocation failed mid-load.
	ErrNoMemory = errors.New("loader: out of memory")
	// ErrStack means the argument stack could not be built.
	ErrStack = errors.New("loader: stack setup failed")
)

// nameMax bounds the process name extracted from a command line, matching
// the thread-name field width.
const nameMax = 15

// Loader maps executables from a file store into address spaces.
type Loader struct {
	store *filestore.Store
	alloc *mem.Allocator
	log   *logging.Logger
}

// New creates a loader.
func New(store *filestore.Store, alloc *mem.Allocator, log *logging.Logger) *Loader {
	return &Loader{store: store, alloc: alloc, log: log}
}

// Result describes a successfully loaded image.
type Result struct {
	File      *filestore.File // executable, write-denied until closed
	Entry     types.VAddr     // program entry point
	SP        types.VAddr     // initial stack pointer
	StackPage *mem.Page       // the main thread's stack page
	StackAddr types.VAddr     // its user address
}

// ProgramName extracts the executable name from a command line: the first
// whitespace-separated token, truncated to the name field width.
func ProgramName(cmdline string) string {
	name := strings.TrimLeft(cmdline, " ")
	if i := strings.IndexByte(name, ' '); i >= 0 {
		name = name[:i]
	}
	if len(name) > nameMax {
		name = name[:nameMax]
	}
	return name
}

// Load opens the executable named by cmdline's first token, validates it,
// maps its loadable segments into space, and builds the argument stack.
// On error nothing is returned and the caller destroys space, which
// releases any partially mapped segments.
func (l *Loader) Load(space *vm.Space, cmdline string) (*Result, error) {
	name := ProgramName(cmdline)

	file := l.store.Open(name)
	if file == nil {
		l.log.Warn("load: open failed", zap.String("file", name))
		return nil, ErrOpen
	}
	// Keep the image immutable while it is mapped. The caller closes the
	// file at process exit, which re-allows writes.
	file.DenyWrite()

	eh, ok := readFileHeader(file)
	if !ok {
		file.Close()
		l.log.Warn("load: error loading executable", zap.String("file", name))
		return nil, ErrBadImage
	}

	off := int(eh.Phoff)
	for i := 0; i < int(eh.Phnum); i++ {
		ph, ok := readProgHeader(file, off)
		if !ok {
			file.Close()
			return nil, fmt.Errorf("%w: header %d unreadable", ErrBadSegment, i)
		}
		off += progHeaderSize

		switch ph.Type {
		case ptDynamic, ptInterp, ptShlib:
			// Statically linked executables only.
			file.Close()
			return nil, fmt.Errorf("%w: dynamic segment type %#x", ErrBadSegment, ph.Type)
		case ptLoad:
			if !validSegment(ph, file) {
				file.Close()
				return nil, fmt.Errorf("%w: header %d", ErrBadSegment, i)
			}
			if err := l.loadSegment(space, file, ph); err != nil {
				file.Close()
				return nil, err
			}
		default:
			// Informational, stack, and no-op segment types.
		}
	}

	stack, stackAddr, sp, err := l.setupStack(space, cmdline)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &Result{
		File:      file,
		Entry:     types.VAddr(eh.Entry),
		SP:        sp,
		StackPage: stack,
		StackAddr: stackAddr,
	}, nil
}

// loadSegment maps one validated loadable segment page by page, reading
// the on-disk bytes and zero-filling up to the rounded-up memory size.
func (l *Loader) loadSegment(space *vm.Space, file *filestore.File, ph progHeader) error {
	writable := ph.Flags&pfW != 0
	filePage := ph.Off &^ types.PageMask
	memPage := types.VAddr(ph.Vaddr).Round()
	pageOff := ph.Vaddr & types.PageMask

	var readBytes, zeroBytes uint32
	if ph.Filesz > 0 {
		readBytes = pageOff + ph.Filesz
		zeroBytes = types.RoundUp(pageOff+ph.Memsz) - readBytes
	} else {
		readBytes = 0
		zeroBytes = types.RoundUp(pageOff + ph.Memsz)
	}

	ofs := int(filePage)
	upage := memPage
	for readBytes > 0 || zeroBytes > 0 {
		pageRead := readBytes
		if pageRead > types.PageSize {
			pageRead = types.PageSize
		}
		pageZero := types.PageSize - pageRead

		kpage := l.alloc.Alloc(false)
		if kpage == nil {
			return ErrNoMemory
		}
		if uint32(file.ReadAt(kpage.Data[:pageRead], ofs)) != pageRead {
			l.alloc.Free(kpage)
			return fmt.Errorf("%w: short read at offset %d", ErrBadSegment, ofs)
		}
		// kpage.Data[pageRead:] is already zero.

		if !space.Install(upage, kpage, writable) {
			l.alloc.Free(kpage)
			return fmt.Errorf("%w: page %#x already mapped", ErrBadSegment, upage)
		}

		readBytes -= pageRead
		zeroBytes -= pageZero
		ofs += int(pageRead)
		upage += types.VAddr(types.PageSize)
	}
	return nil
}

// setupStack allocates the main thread's stack at the top page of user
// space and populates it with the command-line arguments.
func (l *Loader) setupStack(space *vm.Space, cmdline string) (*mem.Page, types.VAddr, types.VAddr, error) {
	kpage := l.alloc.Alloc(true)
	if kpage == nil {
		return nil, 0, 0, ErrNoMemory
	}
	upage := types.PhysBase - types.VAddr(types.PageSize)
	if !space.Install(upage, kpage, true) {
		l.alloc.Free(kpage)
		return nil, 0, 0, ErrStack
	}
	sp, ok := buildCmdLine(kpage.Data, upage, cmdline)
	if !ok {
		// The page stays mapped; destroying the space reclaims it.
		return nil, 0, 0, ErrStack
	}
	return kpage, upage, sp, nil
}
