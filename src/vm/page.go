// Package vm implements per-process address spaces and the demand-paged
// VM engine: a supplemental page table keyed by page-aligned virtual
// address, a frame table with eviction, and per-type swap_in/swap_out/
// destroy dispatch over UNINIT/ANON/FILE page variants.
package vm

import "github.com/rye-os/rye/src/common"

// PageSize is the user page granularity.
const PageSize = 4096

// PageType tags a supplemental page table entry's variant.
type PageType int

const (
	PageUninit PageType = iota
	PageAnon
	PageFile
)

func (t PageType) String() string {
	switch t {
	case PageUninit:
		return "uninit"
	case PageAnon:
		return "anon"
	case PageFile:
		return "file"
	default:
		return "unknown"
	}
}

// VA is a page-aligned virtual address, the supplemental page table's key.
type VA uintptr

func PageRoundDown(addr uintptr) VA { return VA(addr &^ (PageSize - 1)) }

// Lazy describes an UNINIT page's pending initializer: what it will
// become and the loader its first fault should run.
type Lazy struct {
	Target PageType
	Init   func(p *Page_t, frame *Frame_t) common.Err_t
}

// FileBacking describes a FILE page's backing region: the first
// ReadBytes of the page come from File at Offset, the rest is zero.
type FileBacking struct {
	File      File
	Offset    int64
	ReadBytes int
}

// Page_t is a supplemental page table entry.
type Page_t struct {
	VA       VA
	Writable bool
	Type     PageType
	Frame    *Frame_t

	lazy    *Lazy
	file    *FileBacking
	swapBuf []byte // in-memory swap slot for ANON pages once evicted

	owner *AddressSpace
}

// Frame_t is a physical frame: a kernel-virtual buffer standing in for
// a physical page, plus the page currently mapped to it.
type Frame_t struct {
	KVA  []byte
	Page *Page_t
}

func newFrame(buf []byte) *Frame_t {
	return &Frame_t{KVA: buf}
}

// swapIn installs frame's contents for p, dispatching on p's type. An
// UNINIT page transitions to its target type here, running its lazy
// initializer exactly once.
func (p *Page_t) swapIn(frame *Frame_t) common.Err_t {
	switch p.Type {
	case PageUninit:
		lazy := p.lazy
		if lazy == nil {
			return common.ErrBadImage
		}
		p.Type = lazy.Target
		p.lazy = nil
		if lazy.Init != nil {
			return lazy.Init(p, frame)
		}
		return common.ErrNone
	case PageAnon:
		if p.swapBuf != nil {
			copy(frame.KVA, p.swapBuf)
			p.swapBuf = nil
		}
		return common.ErrNone
	case PageFile:
		return loadFileBacked(p, frame)
	default:
		return common.ErrBadImage
	}
}

func loadFileBacked(p *Page_t, frame *Frame_t) common.Err_t {
	fb := p.file
	if fb == nil {
		return common.ErrBadImage
	}
	n, err := fb.File.ReadAt(frame.KVA[:fb.ReadBytes], fb.Offset)
	if err != nil || n != fb.ReadBytes {
		return common.ErrLoadFailed
	}
	for i := fb.ReadBytes; i < len(frame.KVA); i++ {
		frame.KVA[i] = 0
	}
	return common.ErrNone
}

// swapOut persists frame's contents (if needed) before the frame is
// reused for something else.
func (p *Page_t) swapOut(frame *Frame_t) common.Err_t {
	switch p.Type {
	case PageAnon:
		p.swapBuf = append([]byte(nil), frame.KVA...)
		return common.ErrNone
	case PageFile:
		if p.Writable && p.file != nil {
			fb := p.file
			if _, err := fb.File.WriteAt(frame.KVA[:fb.ReadBytes], fb.Offset); err != nil {
				return common.ErrLoadFailed
			}
		}
		return common.ErrNone
	default:
		return common.ErrNone
	}
}

func (p *Page_t) destroy() {
	p.Frame = nil
	p.swapBuf = nil
}
