package vm

import "github.com/rye-os/rye/src/common"

// UserStackTop is where the user stack starts growing down from.
const UserStackTop = 0x47480000

// KernBase is the lowest kernel virtual address. User pointers must
// lie strictly below it.
const KernBase = 0x8004000000

// MaxStackSize bounds how far the heuristic below will grow the stack.
const MaxStackSize = 1 << 20 // 1 MiB

// stackGrowthSlack is how far below the current stack pointer a fault
// is still considered a plausible push: an 8-byte push decrements rsp
// before it writes, so its write lands at most 8 bytes under the saved
// rsp.
const stackGrowthSlack = 8

// TryHandleFault resolves addr's page, growing the stack if the
// heuristic allows it, then claims a frame for it. Returns
// ErrInvalidAddress for anything that isn't a legitimate stack-growth
// or not-yet-loaded access.
func (as *AddressSpace) TryHandleFault(addr, rsp uintptr, user, write, notPresent bool) common.Err_t {
	if !notPresent {
		// Write to a present read-only mapping. No copy-on-write
		// sharing exists to break, so there is nothing to resolve.
		return common.ErrInvalidAddress
	}

	if p := as.spt.Find(addr); p != nil {
		if write && !p.Writable {
			return common.ErrInvalidAddress
		}
		return as.ClaimVA(uintptr(p.VA))
	}

	if as.isStackGrowthCandidate(addr, rsp) {
		return as.growStack(addr)
	}

	return common.ErrInvalidAddress
}

func (as *AddressSpace) isStackGrowthCandidate(addr, rsp uintptr) bool {
	if addr >= UserStackTop {
		return false
	}
	if UserStackTop-addr > MaxStackSize {
		return false
	}
	if addr+stackGrowthSlack < rsp {
		return false
	}
	return true
}

// growStack allocates exactly the faulting page, the way a real page
// fault only ever asks for one more page of stack at a time.
func (as *AddressSpace) growStack(addr uintptr) common.Err_t {
	rounded := PageRoundDown(addr)
	if errt := as.AllocAnonNow(uintptr(rounded), true); !errt.Ok() {
		return errt
	}
	if as.StackBottom == 0 || uintptr(rounded) < as.StackBottom {
		as.StackBottom = uintptr(rounded)
	}
	return common.ErrNone
}
