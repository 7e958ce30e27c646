package process

import (
	"encoding/binary"
	"strings"

	"github.com/rye-os/rye/src/common"
	"github.com/rye-os/rye/src/vm"
)

// Tokenize splits a raw command line into whitespace-separated argv
// tokens; argv[0] is the program name used both as the file to open
// and the thread name.
func Tokenize(cmdLine string) []string {
	return strings.Fields(cmdLine)
}

// UserStackTop is where the user stack starts growing down from.
const UserStackTop = vm.UserStackTop

// StackInit is what setupStack hands back: the initial stack pointer
// and the (argc, argv) pair a real entry trampoline would load into
// rdi/rsi.
type StackInit struct {
	Rsp     uintptr
	Argc    int
	ArgvPtr uintptr
}

// setupStack eagerly claims the top stack page (marshaling needs it
// now, so it cannot be lazy), then builds the initial user stack:
// strings pushed in reverse order with null terminators, 8-byte
// alignment computed from what was actually pushed, a null argv[]
// terminator, the argv pointer array in reverse order, and a fake
// return address.
//
// This engine allocates a single page for the stack, so argv that does
// not fit in one page fails with ErrOutOfResources rather than growing
// downward across pages at setup time (stack growth past that point is
// still handled on fault by AddressSpace.TryHandleFault).
func setupStack(as *vm.AddressSpace, argv []string) (common.Err_t, *StackInit) {
	pageBase := uintptr(UserStackTop - vm.PageSize)
	if errt := as.AllocAnonNow(pageBase, true); !errt.Ok() {
		return errt, nil
	}
	as.StackBottom = pageBase

	frame := as.FrameAt(pageBase)
	if frame == nil {
		return common.ErrOutOfResources, nil
	}
	buf := frame.KVA
	sp := len(buf)

	offsets := make([]int, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		s := argv[i] + "\x00"
		sp -= len(s)
		if sp < 0 {
			return common.ErrOutOfResources, nil
		}
		copy(buf[sp:], s)
		offsets[i] = sp
	}

	sp -= sp % 8 // 8-byte align, computed from what was actually pushed

	sp -= 8 // null terminator for the argv[] pointer array
	if sp < 0 {
		return common.ErrOutOfResources, nil
	}

	for i := len(argv) - 1; i >= 0; i-- {
		sp -= 8
		if sp < 0 {
			return common.ErrOutOfResources, nil
		}
		va := uint64(pageBase) + uint64(offsets[i])
		binary.LittleEndian.PutUint64(buf[sp:sp+8], va)
	}
	argvPtr := uint64(pageBase) + uint64(sp)

	sp -= 8 // fake return address
	if sp < 0 {
		return common.ErrOutOfResources, nil
	}
	binary.LittleEndian.PutUint64(buf[sp:sp+8], 0)

	return common.ErrNone, &StackInit{
		Rsp:     pageBase + uintptr(sp),
		Argc:    len(argv),
		ArgvPtr: uintptr(argvPtr),
	}
}
