package process

import (
	"encoding/binary"
	"sync"

	"github.com/rye-os/rye/src/common"
)

// FileSystem is the out-of-scope block file system collaborator:
// open/create/remove by path, everything else through File.
type FileSystem interface {
	Open(path string) (File, common.Err_t)
	Create(path string, initialSize int64) common.Err_t
	Remove(path string) common.Err_t
}

// MemFS is a minimal in-memory FileSystem, the reference implementation
// tests use in place of the real (out of scope) disk file system.
type MemFS struct {
	mu    sync.Mutex
	files map[string][]byte
}

func NewMemFS() *MemFS { return &MemFS{files: make(map[string][]byte)} }

func (m *MemFS) Put(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = append([]byte(nil), data...)
}

func (m *MemFS) Create(path string, initialSize int64) common.Err_t {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.files[path]; exists {
		return common.ErrInvalidHandle
	}
	m.files[path] = make([]byte, initialSize)
	return common.ErrNone
}

func (m *MemFS) Remove(path string) common.Err_t {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.files[path]; !exists {
		return common.ErrInvalidHandle
	}
	delete(m.files, path)
	return common.ErrNone
}

func (m *MemFS) Open(path string) (File, common.Err_t) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, common.ErrInvalidHandle
	}
	return &memFile{fs: m, path: path, data: data}, common.ErrNone
}

type memFile struct {
	fs       *MemFS
	path     string
	data     []byte
	denied   bool
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, nil
	}
	n := copy(p, f.data[off:])
	return n, nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[off:], p)
	f.fs.files[f.path] = f.data
	return len(p), nil
}

func (f *memFile) Length() int64 { return int64(len(f.data)) }
func (f *memFile) Close() error  { return nil }
func (f *memFile) DenyWrite()    { f.denied = true }
func (f *memFile) AllowWrite()   { f.denied = false }

// --- ELF64 header parsing and validation. ---

const (
	elfMagic0 = 0x7f

	ptNull    = 0
	ptLoad    = 1
	ptDynamic = 2
	ptInterp  = 3
	ptNote    = 4
	ptShlib   = 5
	ptPhdr    = 6
	ptStack   = 0x6474e551

	elfType2   = 2      // ET_EXEC
	elfMachine = 0x3E    // EM_X86_64
	elfVersion = 1
)

// Phdr is one parsed program header (the fields the segment loader
// needs).
type Phdr struct {
	Type     uint32
	Offset   uint64
	Vaddr    uint64
	Filesz   uint64
	Memsz    uint64
	Flags    uint32
	Writable bool
}

// ELFImage is the parsed subset of an ELF64 executable this kernel
// accepts: entry point plus PT_LOAD segments.
type ELFImage struct {
	Entry    uint64
	Segments []Phdr
}

// ParseELF validates the header and enumerates loadable segments,
// reading through the File interface.
func ParseELF(f File) (*ELFImage, common.Err_t) {
	hdr := make([]byte, 64)
	n, err := f.ReadAt(hdr, 0)
	if err != nil || n != 64 {
		return nil, common.ErrBadImage
	}
	if hdr[0] != elfMagic0 || hdr[1] != 'E' || hdr[2] != 'L' || hdr[3] != 'F' {
		return nil, common.ErrBadImage
	}
	if hdr[4] != 2 /* ELFCLASS64 */ || hdr[5] != 1 /* little endian */ {
		return nil, common.ErrBadImage
	}
	etype := binary.LittleEndian.Uint16(hdr[16:18])
	machine := binary.LittleEndian.Uint16(hdr[18:20])
	version := binary.LittleEndian.Uint32(hdr[20:24])
	entry := binary.LittleEndian.Uint64(hdr[24:32])
	phoff := binary.LittleEndian.Uint64(hdr[32:40])
	phentsize := binary.LittleEndian.Uint16(hdr[54:56])
	phnum := binary.LittleEndian.Uint16(hdr[56:58])

	if etype != elfType2 || machine != elfMachine || version != elfVersion {
		return nil, common.ErrBadImage
	}
	if phentsize != 56 || phnum > 1024 {
		return nil, common.ErrBadImage
	}

	img := &ELFImage{Entry: entry}
	for i := 0; i < int(phnum); i++ {
		buf := make([]byte, phentsize)
		off := int64(phoff) + int64(i)*int64(phentsize)
		if n, err := f.ReadAt(buf, off); err != nil || n != int(phentsize) {
			return nil, common.ErrBadImage
		}
		ptype := binary.LittleEndian.Uint32(buf[0:4])
		switch ptype {
		case ptDynamic, ptInterp, ptShlib:
			// Dynamic linking is unsupported: reject the whole image
			// rather than skip the header.
			return nil, common.ErrBadImage
		case ptLoad:
			// fall through to validation below
		case ptNull, ptNote, ptPhdr, ptStack:
			continue
		default:
			continue
		}
		flags := binary.LittleEndian.Uint32(buf[4:8])
		ph := Phdr{
			Type:     ptype,
			Offset:   binary.LittleEndian.Uint64(buf[8:16]),
			Vaddr:    binary.LittleEndian.Uint64(buf[16:24]),
			Filesz:   binary.LittleEndian.Uint64(buf[32:40]),
			Memsz:    binary.LittleEndian.Uint64(buf[40:48]),
			Flags:    flags,
			Writable: flags&0x2 != 0,
		}
		if !validateSegment(ph, f.Length()) {
			return nil, common.ErrBadImage
		}
		img.Segments = append(img.Segments, ph)
	}
	return img, common.ErrNone
}

// validateSegment rejects a hostile or malformed program header,
// including any p_vaddr low enough to map page zero.
func validateSegment(ph Phdr, fileLen int64) bool {
	if ph.Filesz > ph.Memsz {
		return false
	}
	if ph.Offset > uint64(fileLen) {
		return false
	}
	if ph.Offset+ph.Filesz > uint64(fileLen) {
		return false
	}
	if ph.Memsz == 0 {
		return false
	}
	if ph.Vaddr+ph.Memsz < ph.Vaddr {
		return false // overflow
	}
	if ph.Vaddr < 0x1000 {
		return false // never map page zero
	}
	return true
}
