// Package syscall dispatches a trapped system call number plus its
// argument registers to the process/FD-table/VM operations that serve
// it.
package syscall

import (
	"github.com/rye-os/rye/src/common"
	"github.com/rye-os/rye/src/process"
	"github.com/rye-os/rye/src/thread"
)

// Number is a syscall number, carried in rax at trap entry.
type Number int

const (
	SysHalt Number = iota
	SysExit
	SysFork
	SysExec
	SysWait
	SysCreate
	SysRemove
	SysOpen
	SysFilesize
	SysRead
	SysWrite
	SysSeek
	SysTell
	SysClose
	SysDup2
)

// Args is the syscall ABI's argument registers (rdi, rsi, rdx, r10,
// r8, r9 in order). Since this engine
// has no emulated user address space to copy strings/buffers out of,
// slots that would be a user pointer carry a UserPtr (the register's
// address plus the already-fetched value), or a bare string/[]byte for
// a value trusted kernel code fetched itself; slots that would be a
// scalar carry it as int64. Unused trailing slots are ignored by
// handlers that take fewer arguments.
type Args [6]interface{}

// UserPtr is a pointer-bearing syscall argument: the user virtual
// address the caller put in the register, plus the value behind it (a
// string for a path or command line, a []byte for an I/O buffer).
// Dispatch validates Addr against the caller's address space before
// the value is acted on.
type UserPtr struct {
	Addr uintptr
	Str  string
	Buf  []byte
}

// pointerSlots names the Args slots that carry a user pointer for a
// given call, the slots Dispatch must validate.
func pointerSlots(num Number) []int {
	switch num {
	case SysExec, SysCreate, SysRemove, SysOpen:
		return []int{0}
	case SysRead, SysWrite:
		return []int{1}
	default:
		return nil
	}
}

// Dispatcher holds the kernel and process table every syscall is
// served against, and the single kernel-wide lock held across every
// create, remove, open, read and write; filesize, seek, tell and close
// do not take it.
type Dispatcher struct {
	K      *thread.Kernel
	Tab    *process.Table
	fsLock *thread.Lock_t
}

func NewDispatcher(k *thread.Kernel, tab *process.Table) *Dispatcher {
	return &Dispatcher{K: k, Tab: tab, fsLock: thread.NewLock()}
}

// HaltFunc is invoked for SysHalt; the kernel wiring supplies a
// shutdown implementation (powering off is hardware, out of scope
// here).
var HaltFunc func()

// Dispatch serves one trapped syscall for proc, returning (rax, Err_t).
// On return, CheckPendingYield runs -- the "yield on return to user
// mode" preemption checkpoint.
func (d *Dispatcher) Dispatch(proc *process.Process_t, num Number, a Args) (int64, common.Err_t) {
	if num == SysExit {
		// No checkpoint on this path: Exit terminates the thread via
		// Goexit, which would still run a deferred CheckPendingYield on
		// the dying goroutine after the scheduler has moved on.
		proc.Exit(int(intArg(a[0])))
		return 0, common.ErrNone // unreachable: Exit never returns
	}

	// Every pointer argument is validated before any handler touches
	// it; a null, kernel, or unmapped pointer terminates the caller
	// rather than producing an error return. This runs before the
	// checkpoint defer is installed for the same Goexit reason as exit.
	for _, i := range pointerSlots(num) {
		if !pointerArgOK(proc, a[i]) {
			proc.Exit(-1)
		}
	}
	defer d.K.CheckPendingYield()

	switch num {
	case SysHalt:
		if HaltFunc != nil {
			HaltFunc()
		}
		return 0, common.ErrNone

	case SysFork:
		name := proc.Tcb.Name
		pid, errt := d.Tab.Fork(proc, name+"-fork", nil)
		if !errt.Ok() {
			return -1, errt
		}
		return int64(pid), common.ErrNone

	case SysExec:
		cmdLine := stringArg(a[0])
		argv := process.Tokenize(cmdLine)
		if len(argv) == 0 {
			return -1, common.ErrInvalidAddress
		}
		errt := proc.Exec(argv[0], argv)
		if !errt.Ok() {
			return -1, errt
		}
		return 0, common.ErrNone

	case SysWait:
		pid := process.Pid_t(intArg(a[0]))
		status, errt := proc.Wait(pid)
		if !errt.Ok() {
			return -1, errt
		}
		return int64(status), common.ErrNone

	case SysCreate:
		path := stringArg(a[0])
		size := intArg(a[1])
		d.fsLock.Acquire(d.K)
		errt := d.fs().Create(path, size)
		d.fsLock.Release(d.K)
		return boolRet(errt), errt

	case SysRemove:
		path := stringArg(a[0])
		d.fsLock.Acquire(d.K)
		errt := d.fs().Remove(path)
		d.fsLock.Release(d.K)
		return boolRet(errt), errt

	case SysOpen:
		path := stringArg(a[0])
		d.fsLock.Acquire(d.K)
		f, errt := d.fs().Open(path)
		d.fsLock.Release(d.K)
		if !errt.Ok() {
			return -1, errt
		}
		fd, errt := proc.Fdt.Add(f)
		if !errt.Ok() {
			return -1, errt
		}
		return int64(fd), common.ErrNone

	case SysFilesize:
		fd := int(intArg(a[0]))
		f, errt := proc.Fdt.Get(fd)
		if !errt.Ok() {
			return -1, errt
		}
		return f.Length(), common.ErrNone

	case SysRead:
		fd := int(intArg(a[0]))
		buf := bufArg(a[1])
		if fd == process.FdStdout || fd == process.FdStderr {
			return -1, common.ErrInvalidHandle
		}
		return d.readFd(proc, fd, buf)

	case SysWrite:
		fd := int(intArg(a[0]))
		buf := bufArg(a[1])
		if fd == process.FdStdin {
			return -1, common.ErrInvalidHandle
		}
		return d.writeFd(proc, fd, buf)

	case SysSeek:
		fd := int(intArg(a[0]))
		pos := intArg(a[1])
		errt := proc.Fdt.SetPos(fd, pos)
		return 0, errt

	case SysTell:
		fd := int(intArg(a[0]))
		pos, errt := proc.Fdt.Pos(fd)
		return pos, errt

	case SysClose:
		fd := int(intArg(a[0]))
		errt := proc.Fdt.Close(fd)
		return 0, errt

	case SysDup2:
		old, new := int(intArg(a[0])), int(intArg(a[1]))
		fd, errt := proc.Fdt.Dup2(old, new)
		if !errt.Ok() {
			return -1, errt
		}
		return int64(fd), common.ErrNone

	default:
		return -1, common.ErrInvalidHandle
	}
}

func (d *Dispatcher) fs() process.FileSystem { return d.Tab.FS() }

func (d *Dispatcher) readFd(proc *process.Process_t, fd int, buf []byte) (int64, common.Err_t) {
	f, errt := proc.Fdt.Get(fd)
	if !errt.Ok() {
		return -1, errt
	}
	d.fsLock.Acquire(d.K)
	defer d.fsLock.Release(d.K)
	pos, _ := proc.Fdt.Pos(fd)
	n, err := f.ReadAt(buf, pos)
	if err != nil {
		return -1, common.ErrInvalidAddress
	}
	proc.Fdt.SetPos(fd, pos+int64(n))
	return int64(n), common.ErrNone
}

func (d *Dispatcher) writeFd(proc *process.Process_t, fd int, buf []byte) (int64, common.Err_t) {
	f, errt := proc.Fdt.Get(fd)
	if !errt.Ok() {
		return -1, errt
	}
	d.fsLock.Acquire(d.K)
	defer d.fsLock.Release(d.K)
	pos, _ := proc.Fdt.Pos(fd)
	n, err := f.WriteAt(buf, pos)
	if err != nil {
		return -1, common.ErrInvalidAddress
	}
	proc.Fdt.SetPos(fd, pos+int64(n))
	return int64(n), common.ErrNone
}

func boolRet(errt common.Err_t) int64 {
	if errt.Ok() {
		return 1
	}
	return 0
}

// pointerArgOK classifies one pointer-bearing slot: nil is a null
// pointer, a UserPtr is checked against the caller's address space,
// and a bare string/[]byte was fetched by trusted kernel code and
// needs no further classification.
func pointerArgOK(proc *process.Process_t, arg interface{}) bool {
	switch v := arg.(type) {
	case nil:
		return false
	case UserPtr:
		n := len(v.Buf)
		if v.Str != "" {
			n = len(v.Str) + 1 // the terminator the caller's copy includes
		}
		return proc.ValidUserRange(v.Addr, n)
	default:
		return true
	}
}

// intArg/stringArg/bufArg type-assert a raw Args slot, returning the zero
// value for a nil or mistyped slot rather than panicking -- a caller
// passing the wrong slot type is a malformed syscall, not a crash.
func intArg(a interface{}) int64 {
	switch v := a.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func stringArg(a interface{}) string {
	switch v := a.(type) {
	case string:
		return v
	case UserPtr:
		return v.Str
	default:
		return ""
	}
}

func bufArg(a interface{}) []byte {
	switch v := a.(type) {
	case []byte:
		return v
	case UserPtr:
		return v.Buf
	default:
		return nil
	}
}
