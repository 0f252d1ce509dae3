package syscall

import (
	"github.com/GriffinCanCode/TeachOS/internal/domain/proc"
	"github.com/GriffinCanCode/TeachOS/internal/machine/filestore"
)

// Create makes a new file of the given initial size. Fails if the name is
// empty, too long, or already taken.
func (d *Dispatcher) Create(cur *proc.Thread, name string, initialSize int) bool {
	d.count("create")
	return d.store.Create(name, initialSize)
}

// Remove unlinks a file by name. Open handles keep working until closed.
func (d *Dispatcher) Remove(cur *proc.Thread, name string) bool {
	d.count("remove")
	return d.store.Remove(name)
}

// Open returns a new handle on the named file, or -1 if it does not exist.
func (d *Dispatcher) Open(cur *proc.Thread, name string) int {
	d.count("open")
	f := d.store.Open(name)
	if f == nil {
		return -1
	}
	return cur.PCB().AddFD(f)
}

// lookup resolves a handle or kills the process. Handles 0 and 1 never
// resolve here; callers treat the console cases first.
func (d *Dispatcher) lookup(cur *proc.Thread, handle int) *filestore.File {
	f := cur.PCB().LookupFD(handle)
	if f == nil {
		d.kill(cur)
	}
	return f
}

// Filesize returns the length of the open file.
func (d *Dispatcher) Filesize(cur *proc.Thread, handle int) int {
	d.count("filesize")
	return d.lookup(cur, handle).Length()
}

// Read fills buf from the open file, or from the console when handle is 0,
// and returns the number of bytes read.
func (d *Dispatcher) Read(cur *proc.Thread, handle int, buf []byte) int {
	d.count("read")
	if handle == StdinHandle {
		n, _ := d.input.Read(buf)
		return n
	}
	if handle == StdoutHandle {
		d.kill(cur)
	}
	return d.lookup(cur, handle).Read(buf)
}

// Write copies buf to the open file, or to the console when handle is 1,
// and returns the number of bytes written. Writing a file whose writes
// are denied returns -1.
func (d *Dispatcher) Write(cur *proc.Thread, handle int, buf []byte) int {
	d.count("write")
	if handle == StdoutHandle {
		n, _ := d.console.Write(buf)
		return n
	}
	if handle == StdinHandle {
		d.kill(cur)
	}
	return d.lookup(cur, handle).Write(buf)
}

// Seek moves the open file's position.
func (d *Dispatcher) Seek(cur *proc.Thread, handle int, pos int) {
	d.count("seek")
	d.lookup(cur, handle).Seek(pos)
}

// Tell returns the open file's position.
func (d *Dispatcher) Tell(cur *proc.Thread, handle int) int {
	d.count("tell")
	return d.lookup(cur, handle).Tell()
}

// Close releases the handle and closes its file.
func (d *Dispatcher) Close(cur *proc.Thread, handle int) {
	d.count("close")
	f := cur.PCB().RemoveFD(handle)
	if f == nil {
		d.kill(cur)
	}
	f.Close()
}
