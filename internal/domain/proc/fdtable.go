package proc

import (
	"github.com/GriffinCanCode/TeachOS/internal/machine/filestore"
)

// FileDescriptor binds a per-process handle to an open file. Handles 0 and
// 1 belong to the console and never appear in the table.
type FileDescriptor struct {
	Handle int
	File   *filestore.File
}

// AddFD registers an open file and returns its new handle.
func (p *PCB) AddFD(f *filestore.File) int {
	p.fdMu.Lock()
	defer p.fdMu.Unlock()
	h := p.nextHandle
	p.nextHandle++
	p.fds = append(p.fds, &FileDescriptor{Handle: h, File: f})
	return h
}

// LookupFD returns the open file behind handle, or nil.
func (p *PCB) LookupFD(handle int) *filestore.File {
	p.fdMu.Lock()
	defer p.fdMu.Unlock()
	for _, fd := range p.fds {
		if fd.Handle == handle {
			return fd.File
		}
	}
	return nil
}

// RemoveFD drops the handle from the table and returns its file, or nil
// if the handle is unknown. The caller closes the file.
func (p *PCB) RemoveFD(handle int) *filestore.File {
	p.fdMu.Lock()
	defer p.fdMu.Unlock()
	for i, fd := range p.fds {
		if fd.Handle == handle {
			p.fds = append(p.fds[:i], p.fds[i+1:]...)
			return fd.File
		}
	}
	return nil
}

// closeAllFDs closes every open file and empties the table.
func (p *PCB) closeAllFDs() {
	p.fdMu.Lock()
	fds := p.fds
	p.fds = nil
	p.fdMu.Unlock()
	for _, fd := range fds {
		fd.File.Close()
	}
}
