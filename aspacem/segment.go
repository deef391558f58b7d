package aspacem

import (
	"fmt"

	"github.com/wnxd/aspacem/kernel"
)

type SegKind uint32

const (
	SK_FREE SegKind = 1 << iota
	SK_ANON_C
	SK_ANON_V
	SK_FILE_C
	SK_FILE_V
	SK_SHM_C
	SK_RESVN

	SK_CLIENT   = SK_ANON_C | SK_FILE_C | SK_SHM_C
	SK_VALGRIND = SK_ANON_V | SK_FILE_V
	SK_MAPPED   = SK_CLIENT | SK_VALGRIND
	SK_ALL      = SK_FREE | SK_MAPPED | SK_RESVN
)

var segKindNames = map[SegKind]string{
	SK_FREE:   "FREE",
	SK_ANON_C: "ANON",
	SK_ANON_V: "anon",
	SK_FILE_C: "FILE",
	SK_FILE_V: "file",
	SK_SHM_C:  "SHMC",
	SK_RESVN:  "RSVN",
}

func (k SegKind) String() string {
	if name, ok := segKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("SegKind(%#x)", uint32(k))
}

// ShrinkMode says which end of a reservation may be eaten into by an
// adjacent client mapping.
type ShrinkMode int

const (
	SM_FIXED ShrinkMode = iota
	SM_LOWER
	SM_UPPER
)

func (m ShrinkMode) String() string {
	switch m {
	case SM_LOWER:
		return "SmLower"
	case SM_UPPER:
		return "SmUpper"
	}
	return "SmFixed"
}

// Segment is a maximal run of address space with uniform state. End is the
// last valid byte, not one past it.
type Segment struct {
	Kind   SegKind
	Start  uint64
	End    uint64
	Smode  ShrinkMode
	Dev    uint64
	Ino    uint64
	Mode   uint32
	Offset uint64
	FnIdx  int
	HasR   bool
	HasW   bool
	HasX   bool
	HasT   bool
	IsCH   bool
}

// NewSegment returns a Free segment with no name.
func NewSegment(start, end uint64) Segment {
	return Segment{Kind: SK_FREE, Start: start, End: end, FnIdx: -1}
}

// Size wraps to 0 for a segment covering the whole 64-bit space.
func (s *Segment) Size() uint64 {
	return s.End - s.Start + 1
}

func (s *Segment) Contains(addr uint64) bool {
	return s.Start <= addr && addr <= s.End
}

func (s *Segment) Prot() kernel.MemProt {
	var prot kernel.MemProt
	if s.HasR {
		prot |= kernel.MEM_PROT_READ
	}
	if s.HasW {
		prot |= kernel.MEM_PROT_WRITE
	}
	if s.HasX {
		prot |= kernel.MEM_PROT_EXEC
	}
	return prot
}

func (s *Segment) SetProt(prot kernel.MemProt) {
	s.HasR = prot&kernel.MEM_PROT_READ != 0
	s.HasW = prot&kernel.MEM_PROT_WRITE != 0
	s.HasX = prot&kernel.MEM_PROT_EXEC != 0
}

func (s *Segment) IsClient() bool {
	return s.Kind&SK_CLIENT != 0
}

func (s *Segment) IsValgrind() bool {
	return s.Kind&SK_VALGRIND != 0
}

func (s *Segment) IsFile() bool {
	return s.Kind == SK_FILE_C || s.Kind == SK_FILE_V
}

func (s Segment) String() string {
	flags := []byte("--")
	if s.HasT {
		flags[0] = 'T'
	}
	if s.IsCH {
		flags[1] = 'H'
	}
	switch s.Kind {
	case SK_FREE:
		return fmt.Sprintf("%s %016x-%016x", s.Kind, s.Start, s.End)
	case SK_RESVN:
		return fmt.Sprintf("%s %016x-%016x %s", s.Kind, s.Start, s.End, s.Smode)
	case SK_FILE_C, SK_FILE_V:
		return fmt.Sprintf("%s %016x-%016x %s%s d=%#x i=%d o=%#x (%d)",
			s.Kind, s.Start, s.End, s.Prot(), flags, s.Dev, s.Ino, s.Offset, s.FnIdx)
	}
	return fmt.Sprintf("%s %016x-%016x %s%s", s.Kind, s.Start, s.End, s.Prot(), flags)
}
