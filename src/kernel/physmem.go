package main

import (
	"sync"

	"github.com/rye-os/rye/src/common"
	"github.com/rye-os/rye/src/vm"
)

// physPool is the vm.PhysAllocator collaborator: a fixed-size freelist
// of zeroed pages. Real hardware page allocation is out of scope; this
// just hands out []byte-backed pages from a pool sized at boot.
type physPool struct {
	mu   sync.Mutex
	free [][]byte
}

func newPhysPool(npages int) *physPool {
	p := &physPool{free: make([][]byte, 0, npages)}
	for i := 0; i < npages; i++ {
		p.free = append(p.free, make([]byte, vm.PageSize))
	}
	return p
}

func (p *physPool) AllocPage() ([]byte, common.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil, common.ErrOutOfResources
	}
	pg := p.free[n-1]
	p.free = p.free[:n-1]
	for i := range pg {
		pg[i] = 0
	}
	return pg, common.ErrNone
}

func (p *physPool) FreePage(pg []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, pg)
}

// simMMU is the vm.MMU collaborator: a per-address-space map from
// page-aligned virtual address to the frame backing it, standing in
// for the hardware page table this engine has no hardware to drive.
type simMMU struct {
	mu      sync.Mutex
	entries map[uintptr]simEntry
	active  bool
}

type simEntry struct {
	frame    []byte
	writable bool
}

func newSimMMU() *simMMU {
	return &simMMU{entries: make(map[uintptr]simEntry)}
}

func (m *simMMU) Map(va uintptr, frame []byte, writable bool) common.Err_t {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[va] = simEntry{frame: frame, writable: writable}
	return common.ErrNone
}

func (m *simMMU) Unmap(va uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, va)
}

func (m *simMMU) IsWritable(va uintptr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[va].writable
}

// Activate records that this address space is the one currently loaded
// into cr3; there is no second CPU in this kernel to race it against.
func (m *simMMU) Activate() {
	m.mu.Lock()
	m.active = true
	m.mu.Unlock()
}
