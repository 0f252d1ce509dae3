// Package filestore is the in-memory file store the user-program subsystem
// loads executables and file-descriptor traffic through. It implements the
// open/read/write/seek/length/close contract plus deny-write, which keeps
// an executable immutable while it is mapped.
package filestore

import "sync"

type inode struct {
	mu        sync.Mutex
	data      []byte
	denyWrite int // Protected by mu
}

// Store holds the files of the machine.
type Store struct {
	mu    sync.Mutex
	files map[string]*inode // Protected by mu
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{files: make(map[string]*inode)}
}

// Create adds an empty file of initialSize zero bytes. Returns false if a
// file with that name already exists.
func (s *Store) Create(name string, initialSize int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.files[name]; dup {
		return false
	}
	s.files[name] = &inode{data: make([]byte, initialSize)}
	return true
}

// Put adds or replaces a file with the given contents. Used to preload
// images at boot.
func (s *Store) Put(name string, data []byte) {
	s.mu.Lock()
	s.files[name] = &inode{data: append([]byte(nil), data...)}
	s.mu.Unlock()
}

// Remove unlinks a file. Open handles keep working, as on a Unix unlink.
func (s *Store) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[name]; !ok {
		return false
	}
	delete(s.files, name)
	return true
}

// Open returns a handle on the named file, or nil if it does not exist.
func (s *Store) Open(name string) *File {
	s.mu.Lock()
	ino, ok := s.files[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return &File{ino: ino}
}

// File is an open handle with its own position.
type File struct {
	mu     sync.Mutex
	ino    *inode
	pos    int  // Protected by mu
	denied bool // Protected by mu
}

// Read copies up to len(buf) bytes from the current position, advancing
// it, and returns the number of bytes read.
func (f *File) Read(buf []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.readAt(buf, f.pos)
	f.pos += n
	return n
}

// ReadAt copies up to len(buf) bytes starting at off without touching the
// position.
func (f *File) ReadAt(buf []byte, off int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readAt(buf, off)
}

func (f *File) readAt(buf []byte, off int) int {
	f.ino.mu.Lock()
	defer f.ino.mu.Unlock()
	if off < 0 || off >= len(f.ino.data) {
		return 0
	}
	return copy(buf, f.ino.data[off:])
}

// Write copies buf at the current position, growing the file as needed.
// Returns -1 while writes are denied.
func (f *File) Write(buf []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ino.mu.Lock()
	defer f.ino.mu.Unlock()
	if f.ino.denyWrite > 0 {
		return -1
	}
	end := f.pos + len(buf)
	if end > len(f.ino.data) {
		grown := make([]byte, end)
		copy(grown, f.ino.data)
		f.ino.data = grown
	}
	n := copy(f.ino.data[f.pos:end], buf)
	f.pos += n
	return n
}

// Seek sets the position. Negative positions are ignored.
func (f *File) Seek(pos int) {
	f.mu.Lock()
	if pos >= 0 {
		f.pos = pos
	}
	f.mu.Unlock()
}

// Tell returns the current position.
func (f *File) Tell() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}

// Length returns the file size.
func (f *File) Length() int {
	f.ino.mu.Lock()
	defer f.ino.mu.Unlock()
	return len(f.ino.data)
}

// DenyWrite blocks writes through any handle until this handle is closed.
func (f *File) DenyWrite() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied {
		return
	}
	f.denied = true
	f.ino.mu.Lock()
	f.ino.denyWrite++
	f.ino.mu.Unlock()
}

// Close releases the handle, re-allowing writes if this handle denied
// them. Closing nil is safe so teardown never has to check.
func (f *File) Close() {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied {
		f.denied = false
		f.ino.mu.Lock()
		f.ino.denyWrite--
		f.ino.mu.Unlock()
	}
}
