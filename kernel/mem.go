package kernel

import "strings"

type MemProt int

const (
	MEM_PROT_NONE MemProt = 0
	MEM_PROT_READ MemProt = 1 << (iota - 1)
	MEM_PROT_WRITE
	MEM_PROT_EXEC

	MEM_PROT_ALL = MEM_PROT_READ | MEM_PROT_WRITE | MEM_PROT_EXEC
)

// MapFlag values use the Linux encoding. They are passed through to the
// kernel untouched; only MAP_ANONYMOUS and MAP_FIXED are interpreted.
type MapFlag int

const (
	MAP_SHARED    MapFlag = 0x01
	MAP_PRIVATE   MapFlag = 0x02
	MAP_FIXED     MapFlag = 0x10
	MAP_ANONYMOUS MapFlag = 0x20
	MAP_NORESERVE MapFlag = 0x4000
)

type RemapFlag int

const (
	REMAP_MAYMOVE RemapFlag = 1 << iota
	REMAP_FIXED
)

type MemRegion struct {
	Addr, Size uint64
	Prot       MemProt
}

// FileInfo is the identity of the file behind a descriptor.
type FileInfo struct {
	Dev  uint64
	Ino  uint64
	Mode uint32
}

func (p MemProt) Has(bits MemProt) bool {
	return p&bits == bits
}

func (p MemProt) String() string {
	var sb strings.Builder
	for _, c := range [...]struct {
		bit MemProt
		ch  byte
	}{{MEM_PROT_READ, 'r'}, {MEM_PROT_WRITE, 'w'}, {MEM_PROT_EXEC, 'x'}} {
		if p&c.bit != 0 {
			sb.WriteByte(c.ch)
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// Mkdev combines a major and minor number the way glibc's makedev does.
func Mkdev(major, minor uint32) uint64 {
	dev := (uint64(major) & 0x00000fff) << 8
	dev |= (uint64(major) & 0xfffff000) << 32
	dev |= (uint64(minor) & 0x000000ff) << 0
	dev |= (uint64(minor) & 0xffffff00) << 12
	return dev
}

func Major(dev uint64) uint32 {
	major := uint32((dev & 0x00000000000fff00) >> 8)
	major |= uint32((dev & 0xfffff00000000000) >> 32)
	return major
}

func Minor(dev uint64) uint32 {
	minor := uint32((dev & 0x00000000000000ff) >> 0)
	minor |= uint32((dev & 0x00000ffffff00000) >> 12)
	return minor
}
