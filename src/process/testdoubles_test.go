package process

import (
	"sync"

	"github.com/rye-os/rye/src/common"
	"github.com/rye-os/rye/src/vm"
)

// testPhys and testMMU are minimal collaborators standing in for the
// simulated hardware the kernel command wires up at boot, just enough for
// these tests to drive a real vm.Engine/vm.AddressSpace without pulling
// in package kernel (which would be an import cycle back into process).

type testPhys struct {
	mu   sync.Mutex
	left int
}

func newTestPhys(pages int) *testPhys { return &testPhys{left: pages} }

func (p *testPhys) AllocPage() ([]byte, common.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.left == 0 {
		return nil, common.ErrOutOfResources
	}
	p.left--
	return make([]byte, vm.PageSize), common.ErrNone
}

func (p *testPhys) FreePage(buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.left++
}

type testMMU struct {
	mu      sync.Mutex
	mapped  map[uintptr][]byte
	writers map[uintptr]bool
}

func newTestMMU() *testMMU {
	return &testMMU{mapped: map[uintptr][]byte{}, writers: map[uintptr]bool{}}
}

func (m *testMMU) Map(va uintptr, frame []byte, writable bool) common.Err_t {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mapped[va] = frame
	m.writers[va] = writable
	return common.ErrNone
}

func (m *testMMU) Unmap(va uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mapped, va)
	delete(m.writers, va)
}

func (m *testMMU) IsWritable(va uintptr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writers[va]
}

func (m *testMMU) Activate() {}
