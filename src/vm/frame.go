package vm

import (
	"sync"

	"github.com/rye-os/rye/src/common"
)

// PhysAllocator is the out-of-scope physical page allocator
// collaborator: allocate a zeroed page, free a page.
type PhysAllocator interface {
	AllocPage() ([]byte, common.Err_t)
	FreePage([]byte)
}

// frameEntry additionally tracks which address space owns the mapping, so
// eviction can clear the MMU entry and the owner's SPT pointer.
type frameEntry struct {
	frame *Frame_t
	owner *AddressSpace
}

// Engine is the global frame table: one instance is shared by every
// address space, since frames are a machine-wide resource.
type Engine struct {
	mu       sync.Mutex
	phys     PhysAllocator
	capacity int
	entries  []*frameEntry
}

func NewEngine(phys PhysAllocator, capacity int) *Engine {
	return &Engine{phys: phys, capacity: capacity}
}

// getFrame allocates a physical page, or evicts the oldest mapped
// frame (FIFO) when the pool is exhausted.
func (e *Engine) getFrame() (*Frame_t, common.Err_t) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.entries) < e.capacity {
		buf, errt := e.phys.AllocPage()
		if !errt.Ok() {
			return nil, errt
		}
		f := newFrame(buf)
		e.entries = append(e.entries, &frameEntry{frame: f})
		return f, common.ErrNone
	}
	return e.evictLocked()
}

func (e *Engine) evictLocked() (*Frame_t, common.Err_t) {
	if len(e.entries) == 0 {
		return nil, common.ErrOutOfResources
	}
	victim := e.entries[0]
	e.entries = append(e.entries[1:], victim)

	if victim.frame.Page != nil {
		p := victim.frame.Page
		if errt := p.swapOut(victim.frame); !errt.Ok() {
			return nil, errt
		}
		if victim.owner != nil {
			victim.owner.mmu.Unmap(uintptr(p.VA))
		}
		p.Frame = nil
	}
	victim.frame.Page = nil
	victim.owner = nil
	return victim.frame, common.ErrNone
}

func (e *Engine) setOwner(frame *Frame_t, owner *AddressSpace) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ent := range e.entries {
		if ent.frame == frame {
			ent.owner = owner
			return
		}
	}
}

// ClaimPage obtains a frame, links it to p, installs the MMU mapping,
// then swaps in p's contents.
func (as *AddressSpace) ClaimPage(p *Page_t) common.Err_t {
	frame, errt := as.engine.getFrame()
	if !errt.Ok() {
		return errt
	}
	frame.Page = p
	p.Frame = frame
	as.engine.setOwner(frame, as)

	if errt := as.mmu.Map(uintptr(p.VA), frame.KVA, p.Writable); !errt.Ok() {
		return errt
	}
	return p.swapIn(frame)
}

// ClaimVA looks the page up by VA, then claims it.
func (as *AddressSpace) ClaimVA(va uintptr) common.Err_t {
	p := as.spt.Find(va)
	if p == nil {
		return common.ErrInvalidAddress
	}
	if p.Frame != nil {
		return common.ErrNone
	}
	return as.ClaimPage(p)
}
