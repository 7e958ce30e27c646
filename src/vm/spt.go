package vm

import "github.com/rye-os/rye/src/common"

// Spt_t is the supplemental page table: a map from page-aligned VA to
// the page metadata the fault handler resolves against.
type Spt_t struct {
	pages map[VA]*Page_t
}

func NewSpt() *Spt_t {
	return &Spt_t{pages: make(map[VA]*Page_t)}
}

// Find looks up the page containing addr.
func (s *Spt_t) Find(addr uintptr) *Page_t {
	return s.pages[PageRoundDown(addr)]
}

// Insert fails if a page already maps that VA.
func (s *Spt_t) Insert(p *Page_t) bool {
	if _, exists := s.pages[p.VA]; exists {
		return false
	}
	s.pages[p.VA] = p
	return true
}

// Remove destroys and forgets the page.
func (s *Spt_t) Remove(p *Page_t) {
	p.destroy()
	delete(s.pages, p.VA)
}

// AllocUninit registers a pending page that will become `target` on
// first fault, without allocating a frame yet.
func (s *Spt_t) AllocUninit(va uintptr, writable bool, target PageType, init func(*Page_t, *Frame_t) common.Err_t) common.Err_t {
	rounded := PageRoundDown(va)
	if _, exists := s.pages[rounded]; exists {
		return common.ErrInvalidAddress
	}
	p := &Page_t{
		VA:       rounded,
		Writable: writable,
		Type:     PageUninit,
		lazy:     &Lazy{Target: target, Init: init},
	}
	s.pages[rounded] = p
	return common.ErrNone
}

// Copy duplicates src's entries into s, used by fork. Frames are not
// shared: a still-UNINIT entry keeps its lazy initializer so demand
// loading survives the fork, and a materialized anon entry gets its
// own byte copy of the parent's contents.
func (s *Spt_t) Copy(src *Spt_t) common.Err_t {
	for va, p := range src.pages {
		clone := &Page_t{VA: va, Writable: p.Writable, Type: p.Type}
		switch p.Type {
		case PageUninit:
			l := *p.lazy
			clone.lazy = &l
		case PageFile:
			if p.file != nil {
				fb := *p.file
				clone.file = &fb
			}
		case PageAnon:
			if p.Frame != nil {
				clone.swapBuf = append([]byte(nil), p.Frame.KVA...)
			} else if p.swapBuf != nil {
				clone.swapBuf = append([]byte(nil), p.swapBuf...)
			}
		}
		s.pages[va] = clone
	}
	return common.ErrNone
}

// Kill tears down every page, writing back anything dirty along the
// way.
func (s *Spt_t) Kill() {
	for _, p := range s.pages {
		if p.Frame != nil {
			p.swapOut(p.Frame)
		}
		p.destroy()
	}
	s.pages = make(map[VA]*Page_t)
}
