package vm

import "github.com/rye-os/rye/src/common"

// MMU is the out-of-scope hardware page table collaborator:
// set-mapping, unmapping, writability check, and address-space
// activation, reduced to what this engine needs to drive. It has no
// get-mapping query; the engine finds a page's frame through the
// supplemental page table instead.
type MMU interface {
	Map(va uintptr, frame []byte, writable bool) common.Err_t
	Unmap(va uintptr)
	IsWritable(va uintptr) bool
	Activate()
}

// AddressSpace is the per-process virtual address space, pairing a
// supplemental page table with the engine-wide frame table and a
// hardware MMU collaborator. It implements thread.AddrSpace so the
// scheduler can activate it across a context switch.
type AddressSpace struct {
	spt    *Spt_t
	mmu    MMU
	engine *Engine

	StackBottom uintptr
}

// New builds an address space over the given MMU, sharing engine (the
// process-wide frame table) with every other address space.
func New(mmu MMU, engine *Engine) *AddressSpace {
	return &AddressSpace{spt: NewSpt(), mmu: mmu, engine: engine}
}

// Activate implements thread.AddrSpace.
func (as *AddressSpace) Activate() { as.mmu.Activate() }

func (as *AddressSpace) SPT() *Spt_t { return as.spt }

// AllocLazy registers a page that will be populated on first fault.
func (as *AddressSpace) AllocLazy(va uintptr, writable bool, target PageType, init func(*Page_t, *Frame_t) common.Err_t) common.Err_t {
	return as.spt.AllocUninit(va, writable, target, init)
}

// AllocAnonNow allocates and immediately claims an ANON page -- the
// stack-setup path, which marshals argv into the page right away and
// so cannot be lazy.
func (as *AddressSpace) AllocAnonNow(va uintptr, writable bool) common.Err_t {
	rounded := PageRoundDown(va)
	p := &Page_t{VA: rounded, Writable: writable, Type: PageAnon}
	if !as.spt.Insert(p) {
		return common.ErrInvalidAddress
	}
	return as.ClaimPage(p)
}

// AllocFileBacked registers a FILE page backed by f at
// [offset, offset+readBytes), zero-filled for the remainder of the
// page on first fault. The segment loader registers one of these per
// page of a loadable segment.
func (as *AddressSpace) AllocFileBacked(va uintptr, writable bool, f File, offset int64, readBytes int) common.Err_t {
	rounded := PageRoundDown(va)
	fb := &FileBacking{File: f, Offset: offset, ReadBytes: readBytes}
	return as.spt.AllocUninit(uintptr(rounded), writable, PageFile, func(p *Page_t, frame *Frame_t) common.Err_t {
		p.file = fb
		return loadFileBacked(p, frame)
	})
}

// FrameAt returns the frame currently backing va, or nil if unmapped.
func (as *AddressSpace) FrameAt(va uintptr) *Frame_t {
	p := as.spt.Find(va)
	if p == nil {
		return nil
	}
	return p.Frame
}

// Fork duplicates src's supplemental page table into as for a child
// process.
func (as *AddressSpace) Fork(src *AddressSpace) common.Err_t {
	return as.spt.Copy(src.spt)
}

// Destroy tears down every page. Callers must activate another address
// space first, so a stray tick-driven reactivation can never walk a
// freed table.
func (as *AddressSpace) Destroy() {
	as.spt.Kill()
}
