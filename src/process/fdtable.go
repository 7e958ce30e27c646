// Package process implements the user-process lifecycle
// (fork/exec/wait/exit) and the per-process file descriptor table.
package process

import (
	"sync"

	"github.com/rye-os/rye/src/common"
	"github.com/rye-os/rye/src/devices"
)

// Reserved descriptors. User descriptors start above these.
const (
	FdStdin  = 0
	FdStdout = 1
	FdStderr = 2

	firstUserFd = 3
	fdLimit     = 128
)

// File is the file-table's view of an open file: the vm package's narrow
// ReadAt/WriteAt plus the bits process-level syscalls need.
type File interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Length() int64
	Close() error
	DenyWrite()
	AllowWrite()
}

// dupGroup is the refcounted handle every alias of the same open file
// shares. The count and the file offset live here, not on any one fd's
// entry, so aliases can be closed in any order and a read or write
// through one alias advances the offset every alias sees.
type dupGroup struct {
	file File
	refs int
	pos  int64
}

type fdEntry struct {
	group *dupGroup
}

// Fdtable_t is the per-process file descriptor table.
type Fdtable_t struct {
	mu      sync.Mutex
	entries map[int]*fdEntry
	console *devices.Console
}

// NewFdtable builds a table with 0/1/2 already routed to con.
func NewFdtable(con *devices.Console) *Fdtable_t {
	t := &Fdtable_t{entries: make(map[int]*fdEntry), console: con}
	t.entries[FdStdin] = &fdEntry{group: &dupGroup{file: &consoleFile{c: con, readSide: true}, refs: 1}}
	t.entries[FdStdout] = &fdEntry{group: &dupGroup{file: &consoleFile{c: con}, refs: 1}}
	t.entries[FdStderr] = &fdEntry{group: &dupGroup{file: &consoleFile{c: con}, refs: 1}}
	return t
}

// consoleFile adapts devices.Console to the File interface for FDs 0/1/2.
type consoleFile struct {
	c        *devices.Console
	readSide bool
}

func (f *consoleFile) ReadAt(p []byte, off int64) (int, error)  { return f.c.Read(p) }
func (f *consoleFile) WriteAt(p []byte, off int64) (int, error) { return f.c.Write(p) }
func (f *consoleFile) Length() int64                            { return 0 }
func (f *consoleFile) Close() error                             { return nil }
func (f *consoleFile) DenyWrite()                               {}
func (f *consoleFile) AllowWrite()                              {}

// Add installs f at the lowest free descriptor at or above
// firstUserFd.
func (t *Fdtable_t) Add(f File) (int, common.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for fd := firstUserFd; fd < fdLimit; fd++ {
		if _, used := t.entries[fd]; !used {
			t.entries[fd] = &fdEntry{group: &dupGroup{file: f, refs: 1}}
			return fd, common.ErrNone
		}
	}
	return -1, common.ErrOutOfResources
}

func (t *Fdtable_t) Get(fd int) (File, common.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fd]
	if !ok {
		return nil, common.ErrInvalidHandle
	}
	return e.group.file, common.ErrNone
}

// Pos/SetPos track the file offset a plain read/write advances, since
// File itself is a stateless ReadAt/WriteAt collaborator.
func (t *Fdtable_t) Pos(fd int) (int64, common.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fd]
	if !ok {
		return 0, common.ErrInvalidHandle
	}
	return e.group.pos, common.ErrNone
}

func (t *Fdtable_t) SetPos(fd int, pos int64) common.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fd]
	if !ok {
		return common.ErrInvalidHandle
	}
	e.group.pos = pos
	return common.ErrNone
}

// Close releases fd; the underlying file closes only once every dup
// alias of it has been closed, regardless of order.
func (t *Fdtable_t) Close(fd int) common.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fd]
	if !ok {
		return common.ErrInvalidHandle
	}
	delete(t.entries, fd)
	closeGroup(e.group)
	return common.ErrNone
}

func closeGroup(g *dupGroup) {
	g.refs--
	if g.refs == 0 {
		g.file.Close()
	}
}

// Dup2 aliases new onto old's file: old==new is a no-op returning new;
// otherwise new is closed first if open.
func (t *Fdtable_t) Dup2(old, new int) (int, common.Err_t) {
	t.mu.Lock()
	src, ok := t.entries[old]
	if !ok {
		t.mu.Unlock()
		return -1, common.ErrInvalidHandle
	}
	if old == new {
		t.mu.Unlock()
		return new, common.ErrNone
	}
	if existing, used := t.entries[new]; used {
		closeGroup(existing.group)
	}
	src.group.refs++
	t.entries[new] = &fdEntry{group: src.group}
	t.mu.Unlock()
	return new, common.ErrNone
}

// CloneFrom duplicates every entry of src into t (fork's FDT copy):
// each shared File's dup count is bumped rather than reopening it, so
// parent and child share the open file and its offset. The console FDs
// are simply re-wired to the same console.
func (t *Fdtable_t) CloneFrom(src *Fdtable_t) {
	src.mu.Lock()
	defer src.mu.Unlock()
	for fd, e := range src.entries {
		if fd == FdStdin || fd == FdStdout || fd == FdStderr {
			continue
		}
		e.group.refs++
		t.entries[fd] = &fdEntry{group: e.group}
	}
}

// CloseAll closes every open user descriptor; 0/1/2 stay routed to the
// console.
func (t *Fdtable_t) CloseAll() {
	t.mu.Lock()
	fds := make([]int, 0, len(t.entries))
	for fd := range t.entries {
		if fd == FdStdin || fd == FdStdout || fd == FdStderr {
			continue
		}
		fds = append(fds, fd)
	}
	t.mu.Unlock()
	for _, fd := range fds {
		t.Close(fd)
	}
}
