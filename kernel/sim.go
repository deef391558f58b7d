package kernel

import (
	"bytes"
	"fmt"
	"slices"
	"sync"
)

type simRegion struct {
	addr, size uint64
	prot       MemProt
	shared     bool
	file       *SimFile
	offset     uint64
}

type SimFile struct {
	Name string
	FileInfo
}

// Sim is an in-memory Kernel. It keeps a sorted list of mapped regions and
// a descriptor table, and renders its state in /proc/self/maps format.
type Sim struct {
	mu       sync.Mutex
	arch     Arch
	pageSize uint64
	base     uint64
	top      uint64
	regions  []simRegion
	fd       int
	files    map[int]*SimFile
	misplace []uint64
}

func NewSim(arch Arch, pageSize uint64) *Sim {
	s := &Sim{
		arch:     arch,
		pageSize: pageSize,
		base:     0x10000000,
		top:      0x800000000000,
		fd:       3,
	}
	s.files = map[int]*SimFile{
		0: {Name: "/dev/pts/0", FileInfo: FileInfo{Dev: Mkdev(0, 24), Ino: 3, Mode: 0o20620}},
		1: {Name: "/dev/pts/0", FileInfo: FileInfo{Dev: Mkdev(0, 24), Ino: 3, Mode: 0o20620}},
		2: {Name: "/dev/pts/0", FileInfo: FileInfo{Dev: Mkdev(0, 24), Ino: 3, Mode: 0o20620}},
	}
	return s
}

// SetMmapRange bounds where non-fixed mappings are placed.
func (s *Sim) SetMmapRange(base, top uint64) {
	s.mu.Lock()
	s.base, s.top = base, top
	s.mu.Unlock()
}

func (s *Sim) CreateFile(name string, info FileInfo) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	fd := s.fd
	s.fd++
	s.files[fd] = &SimFile{Name: name, FileInfo: info}
	return fd
}

func (s *Sim) CloseFile(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[fd]; !ok {
		return ErrBadFd
	}
	delete(s.files, fd)
	return nil
}

// Misplace makes the next Mmap land at addr whatever it was asked for.
func (s *Sim) Misplace(addr uint64) {
	s.mu.Lock()
	s.misplace = append(s.misplace, addr)
	s.mu.Unlock()
}

func (s *Sim) Arch() Arch {
	return s.arch
}

func (s *Sim) PageSize() uint64 {
	return s.pageSize
}

func (s *Sim) Mmap(addr, length uint64, prot MemProt, flags MapFlag, fd int, offset uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if length == 0 || !s.aligned(addr) || !s.aligned(offset) {
		return 0, ErrInvalid
	}
	length = s.align(length)
	var file *SimFile
	if flags&MAP_ANONYMOUS == 0 {
		var ok bool
		if file, ok = s.files[fd]; !ok {
			return 0, ErrBadFd
		}
	} else {
		offset = 0
	}
	var at uint64
	switch {
	case len(s.misplace) > 0:
		at = s.misplace[0]
		s.misplace = s.misplace[1:]
	case flags&MAP_FIXED != 0:
		at = addr
	default:
		var ok bool
		if at, ok = s.place(addr, length); !ok {
			return 0, ErrNoMem
		}
	}
	if at+length < at {
		return 0, ErrNoMem
	}
	s.carve(at, at+length)
	s.insert(simRegion{addr: at, size: length, prot: prot, shared: flags&MAP_SHARED != 0, file: file, offset: offset})
	return at, nil
}

func (s *Sim) Munmap(addr, length uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if length == 0 || !s.aligned(addr) {
		return ErrInvalid
	}
	s.carve(addr, addr+s.align(length))
	return nil
}

func (s *Sim) Mprotect(addr, length uint64, prot MemProt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.aligned(addr) {
		return ErrInvalid
	}
	end := addr + s.align(length)
	if !s.mapped(addr, end) {
		return ErrNoMem
	}
	pieces := s.clipAll(addr, end)
	s.carve(addr, end)
	for _, r := range pieces {
		r.prot = prot
		s.insert(r)
	}
	return nil
}

func (s *Sim) Mremap(oldAddr, oldLen, newAddr, newLen uint64, flags RemapFlag) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.aligned(oldAddr) || oldLen == 0 || newLen == 0 {
		return 0, ErrInvalid
	}
	oldLen, newLen = s.align(oldLen), s.align(newLen)
	if !s.mapped(oldAddr, oldAddr+oldLen) {
		return 0, ErrNoMem
	}
	tmpl := s.clipAll(oldAddr, oldAddr+oldLen)[0]
	dest := oldAddr
	switch {
	case flags&REMAP_FIXED != 0:
		if flags&REMAP_MAYMOVE == 0 || !s.aligned(newAddr) {
			return 0, ErrInvalid
		}
		dest = newAddr
	case newLen <= oldLen:
		s.carve(oldAddr+newLen, oldAddr+oldLen)
		return oldAddr, nil
	case s.free(oldAddr+oldLen, oldAddr+newLen):
	case flags&REMAP_MAYMOVE != 0:
		var ok bool
		if dest, ok = s.place(0, newLen); !ok {
			return 0, ErrNoMem
		}
	default:
		return 0, ErrNoMem
	}
	s.carve(oldAddr, oldAddr+oldLen)
	s.carve(dest, dest+newLen)
	tmpl.addr, tmpl.size = dest, newLen
	s.insert(tmpl)
	return dest, nil
}

func (s *Sim) Fstat(fd int) (FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if file, ok := s.files[fd]; ok {
		return file.FileInfo, nil
	}
	return FileInfo{}, ErrBadFd
}

func (s *Sim) FdName(fd int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if file, ok := s.files[fd]; ok {
		return file.Name, nil
	}
	return "", ErrBadFd
}

func (s *Sim) Regions() []MemRegion {
	s.mu.Lock()
	defer s.mu.Unlock()
	arr := make([]MemRegion, 0, len(s.regions))
	for _, r := range s.regions {
		arr = append(arr, MemRegion{Addr: r.addr, Size: r.size, Prot: r.prot})
	}
	return arr
}

// Maps renders the mappings the way /proc/self/maps does, merging
// neighbours the kernel would have merged into one vma.
func (s *Sim) Maps() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var buf bytes.Buffer
	for _, r := range s.merged() {
		share := 'p'
		if r.shared {
			share = 's'
		}
		var dev, ino uint64
		var name string
		if r.file != nil {
			dev, ino, name = r.file.Dev, r.file.Ino, r.file.Name
		}
		line := fmt.Sprintf("%08x-%08x %s%c %08x %02x:%02x %d ",
			r.addr, r.addr+r.size, r.prot, share, r.offset, Major(dev), Minor(dev), ino)
		if name != "" {
			line = fmt.Sprintf("%-73s%s", line, name)
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func (s *Sim) merged() []simRegion {
	var arr []simRegion
	for _, r := range s.regions {
		if n := len(arr); n > 0 {
			last := &arr[n-1]
			if last.addr+last.size == r.addr && last.prot == r.prot && last.shared == r.shared &&
				last.file == r.file && (r.file == nil || last.offset+last.size == r.offset) {
				last.size += r.size
				continue
			}
		}
		arr = append(arr, r)
	}
	return arr
}

func (s *Sim) place(hint, length uint64) (uint64, bool) {
	if hint != 0 && hint+length > hint && s.free(hint, hint+length) {
		return hint, true
	}
	cur := s.base
	for _, r := range s.regions {
		end := r.addr + r.size
		if end <= cur {
			continue
		} else if r.addr >= cur+length {
			break
		}
		cur = end
	}
	if cur+length > s.top || cur+length < cur {
		return 0, false
	}
	return cur, true
}

func (s *Sim) free(lo, hi uint64) bool {
	for _, r := range s.regions {
		if r.addr < hi && lo < r.addr+r.size {
			return false
		}
	}
	return true
}

func (s *Sim) mapped(lo, hi uint64) bool {
	for _, r := range s.regions {
		if r.addr+r.size <= lo {
			continue
		} else if r.addr > lo {
			return false
		}
		lo = r.addr + r.size
		if lo >= hi {
			return true
		}
	}
	return lo >= hi
}

func (s *Sim) clipAll(lo, hi uint64) []simRegion {
	var arr []simRegion
	for _, r := range s.regions {
		end := r.addr + r.size
		if end <= lo || r.addr >= hi {
			continue
		}
		start := max(r.addr, lo)
		if r.file != nil {
			r.offset += start - r.addr
		}
		r.addr, r.size = start, min(end, hi)-start
		arr = append(arr, r)
	}
	return arr
}

func (s *Sim) carve(lo, hi uint64) {
	arr := s.regions[:0:0]
	for _, r := range s.regions {
		end := r.addr + r.size
		if end <= lo || r.addr >= hi {
			arr = append(arr, r)
			continue
		}
		if r.addr < lo {
			left := r
			left.size = lo - r.addr
			arr = append(arr, left)
		}
		if end > hi {
			right := r
			right.addr, right.size = hi, end-hi
			if r.file != nil {
				right.offset += hi - r.addr
			}
			arr = append(arr, right)
		}
	}
	s.regions = arr
}

func (s *Sim) insert(r simRegion) {
	s.regions = append(s.regions, r)
	slices.SortFunc(s.regions, func(a, b simRegion) int {
		switch {
		case a.addr < b.addr:
			return -1
		case a.addr > b.addr:
			return 1
		}
		return 0
	})
}

func (s *Sim) aligned(v uint64) bool {
	return v&(s.pageSize-1) == 0
}

func (s *Sim) align(v uint64) uint64 {
	return (v + s.pageSize - 1) &^ (s.pageSize - 1)
}
