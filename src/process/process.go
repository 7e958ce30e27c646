package process

import (
	"fmt"
	"sync"

	"github.com/rye-os/rye/src/common"
	"github.com/rye-os/rye/src/devices"
	"github.com/rye-os/rye/src/thread"
	"github.com/rye-os/rye/src/vm"
)

type Pid_t = thread.Tid_t

// Process_t is a thread plus the resources a user program needs -- an
// address space and a file descriptor table -- along with the
// fork/wait/exit handshake semaphores.
//
// This library models a "user program" as a Go closure rather than
// resumable raw register state, so Fork does not resume the parent's
// literal continuation the way a POSIX fork() does; it runs a
// caller-supplied child body after duplicating the address space and FD
// table. Everything about the lifecycle handshake (fork success/failure
// reporting, wait's child_list bookkeeping, the exit/wait rendezvous) is
// carried over exactly.
type Process_t struct {
	mu sync.Mutex

	Tcb    *thread.Tcb_t
	Parent *Process_t
	children []*Process_t

	Fdt *Fdtable_t
	AS  *vm.AddressSpace

	execFile File
	Stack    *StackInit

	exitStatus int

	waitSema    *thread.Sema_t
	exitAckSema *thread.Sema_t

	tab *Table
}

// Table is the process table: it owns the
// collaborators every process shares (the kernel, the file system, the
// frame-table engine, an MMU factory, and the console) and hands out new
// Process_t values against them.
type Table struct {
	mu         sync.Mutex
	k          *thread.Kernel
	fs         FileSystem
	engine     *vm.Engine
	mmuFactory func() vm.MMU
	console    *devices.Console
	byPid      map[Pid_t]*Process_t
}

func NewTable(k *thread.Kernel, fs FileSystem, engine *vm.Engine, mmuFactory func() vm.MMU, console *devices.Console) *Table {
	return &Table{
		k:          k,
		fs:         fs,
		engine:     engine,
		mmuFactory: mmuFactory,
		console:    console,
		byPid:      make(map[Pid_t]*Process_t),
	}
}

func (tab *Table) newProcess(self *thread.Tcb_t, parent *Process_t) *Process_t {
	p := &Process_t{
		Tcb:         self,
		Parent:      parent,
		Fdt:         NewFdtable(tab.console),
		AS:          vm.New(tab.mmuFactory(), tab.engine),
		waitSema:    thread.NewSema(0),
		exitAckSema: thread.NewSema(0),
		tab:         tab,
	}
	self.SetAddrSpace(p.AS)
	tab.mu.Lock()
	tab.byPid[self.ID] = p
	if parent != nil {
		parent.children = append(parent.children, p)
	}
	tab.mu.Unlock()
	return p
}

func (tab *Table) unregister(p *Process_t) {
	tab.mu.Lock()
	delete(tab.byPid, p.Tcb.ID)
	tab.mu.Unlock()
}

// FS exposes the table's file system collaborator to the syscall
// dispatcher, for sys_create/sys_remove which act on the table directly
// rather than through any one process' resources.
func (tab *Table) FS() FileSystem { return tab.fs }

func (tab *Table) ByPid(pid Pid_t) *Process_t {
	tab.mu.Lock()
	defer tab.mu.Unlock()
	return tab.byPid[pid]
}

// Create spawns a thread, loads path's ELF image into a fresh address
// space, marshals argv onto the user stack, and (once loaded) runs
// body as the process' code. It blocks the caller until the new
// process reports load success or failure.
func (tab *Table) Create(name string, priority int, path string, argv []string, body func(*Process_t)) (*Process_t, common.Err_t) {
	return tab.create(name, priority, path, argv, nil, body)
}

func (tab *Table) create(name string, priority int, path string, argv []string, parent *Process_t, body func(*Process_t)) (*Process_t, common.Err_t) {
	loadDone := thread.NewSema(0)
	var loadErr common.Err_t
	var procRef *Process_t

	tab.k.Spawn(name, priority, func(self *thread.Tcb_t) {
		proc := tab.newProcess(self, parent)
		procRef = proc
		loadErr = proc.loadExec(tab, path, argv)
		loadDone.Up(tab.k)
		if !loadErr.Ok() {
			proc.doExit(-1)
			return
		}
		if body != nil {
			body(proc)
		}
		proc.doExit(proc.exitStatus)
	})

	loadDone.Down(tab.k)
	if !loadErr.Ok() {
		return nil, loadErr
	}
	return procRef, common.ErrNone
}

func (p *Process_t) loadExec(tab *Table, path string, argv []string) common.Err_t {
	f, errt := tab.fs.Open(path)
	if !errt.Ok() {
		return errt
	}
	f.DenyWrite()

	img, errt := ParseELF(f)
	if !errt.Ok() {
		f.AllowWrite()
		f.Close()
		return errt
	}

	for _, seg := range img.Segments {
		if errt := loadSegment(p.AS, f, seg); !errt.Ok() {
			f.AllowWrite()
			f.Close()
			return errt
		}
	}

	errt, stack := setupStack(p.AS, argv)
	if !errt.Ok() {
		f.AllowWrite()
		f.Close()
		return errt
	}
	p.Stack = stack

	p.execFile = f
	return common.ErrNone
}

func loadSegment(as *vm.AddressSpace, f File, ph Phdr) common.Err_t {
	vaddr := ph.Vaddr
	ofs := ph.Offset
	remaining := ph.Filesz
	segEnd := ph.Vaddr + ph.Memsz

	for vaddr < segEnd {
		pageBytes := uint64(vm.PageSize)
		if remaining < pageBytes {
			pageBytes = remaining
		}
		if errt := as.AllocFileBacked(uintptr(vaddr), ph.Writable, f, int64(ofs), int(pageBytes)); !errt.Ok() {
			return errt
		}
		vaddr += vm.PageSize
		ofs += pageBytes
		if remaining > pageBytes {
			remaining -= pageBytes
		} else {
			remaining = 0
		}
	}
	return common.ErrNone
}

// Exec replaces the calling process' address space and stack with a
// fresh image, keeping the same pid/thread. The old image is torn down
// before loading, so on failure the process must not continue running;
// the caller is expected to exit(-1) immediately.
func (p *Process_t) Exec(path string, argv []string) common.Err_t {
	p.AS.Destroy()
	p.AS = vm.New(p.tab.mmuFactory(), p.tab.engine)
	p.Tcb.SetAddrSpace(p.AS)

	if p.execFile != nil {
		p.execFile.AllowWrite()
		p.execFile.Close()
		p.execFile = nil
	}

	errt := p.loadExec(p.tab, path, argv)
	if !errt.Ok() {
		return errt
	}
	return common.ErrNone
}

// ValidUserRange reports whether [addr, addr+n) is a usable user-space
// range: non-null, entirely below the kernel boundary, and with a
// supplemental page table entry covering every page it touches. The
// syscall dispatcher runs every pointer argument through this before
// acting on it.
func (p *Process_t) ValidUserRange(addr uintptr, n int) bool {
	if addr == 0 || n < 0 {
		return false
	}
	if n == 0 {
		n = 1
	}
	end := addr + uintptr(n)
	if end < addr || addr >= vm.KernBase || end > vm.KernBase {
		return false
	}
	spt := p.AS.SPT()
	for va := vm.PageRoundDown(addr); uintptr(va) < end; va += vm.PageSize {
		if spt.Find(uintptr(va)) == nil {
			return false
		}
	}
	return true
}

// Exit terminates the calling process with the given status. It wakes
// a waiting parent, waits for that parent to read the status, and then
// permanently yields the CPU via Kernel.Exit; it never returns.
func (p *Process_t) Exit(status int) {
	p.doExit(status)
}

func (p *Process_t) doExit(status int) {
	p.mu.Lock()
	p.exitStatus = status
	p.mu.Unlock()

	// The termination message prints once per process exit regardless of
	// whether it was reached via sys_exit or a killed fault.
	fmt.Fprintf(p.tab.console, "%s: exit(%d)\n", p.Tcb.Name, status)

	// Release any children this process never waited for, so their own
	// exits don't block forever on a parent that is gone.
	p.mu.Lock()
	orphans := p.children
	p.children = nil
	p.mu.Unlock()
	for _, c := range orphans {
		c.exitAckSema.Up(p.tab.k)
	}

	p.Fdt.CloseAll()
	if p.execFile != nil {
		p.execFile.AllowWrite()
		p.execFile.Close()
	}
	p.AS.Destroy()

	if p.Parent != nil {
		p.waitSema.Up(p.tab.k)
		p.exitAckSema.Down(p.tab.k)
	}
	p.tab.unregister(p)
	p.tab.k.Exit(status)
}

// Wait blocks until the named child exits, reads its status, and
// removes it from the child list so a second wait on the same pid
// fails.
func (p *Process_t) Wait(childPid Pid_t) (int, common.Err_t) {
	p.mu.Lock()
	var child *Process_t
	for _, c := range p.children {
		if c.Tcb.ID == childPid {
			child = c
			break
		}
	}
	p.mu.Unlock()
	if child == nil {
		return -1, common.ErrNoChild
	}

	child.waitSema.Down(p.tab.k)
	status := child.exitStatus

	p.mu.Lock()
	for i, c := range p.children {
		if c == child {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	child.exitAckSema.Up(p.tab.k)
	return status, common.ErrNone
}

// Fork duplicates the address space and FD table into a new process
// and runs childBody as its code. It blocks until the child reports
// whether duplication succeeded, returning the child's pid on success.
func (tab *Table) Fork(parent *Process_t, name string, childBody func(*Process_t)) (Pid_t, common.Err_t) {
	forkDone := thread.NewSema(0)
	var forkErr common.Err_t
	var childPid Pid_t

	tab.k.Spawn(name, parent.Tcb.BasePriority(), func(self *thread.Tcb_t) {
		child := tab.newProcess(self, parent)
		childPid = self.ID

		errt := child.AS.Fork(parent.AS)
		if errt.Ok() {
			child.Fdt.CloneFrom(parent.Fdt)
		}
		forkErr = errt
		forkDone.Up(tab.k)
		if !errt.Ok() {
			child.doExit(-1)
			return
		}
		if childBody != nil {
			childBody(child)
		}
		child.doExit(child.exitStatus)
	})

	forkDone.Down(tab.k)
	if !forkErr.Ok() {
		return 0, forkErr
	}
	return childPid, common.ErrNone
}
