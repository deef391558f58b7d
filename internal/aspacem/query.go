package aspacem

import (
	"slices"

	"github.com/wnxd/aspacem/aspacem"
	"github.com/wnxd/aspacem/kernel"
)

func (sp *Space) Layout() aspacem.Layout {
	return sp.layout
}

// FindSegment returns a copy of the segment holding addr, or nil when addr
// is unmapped.
func (sp *Space) FindSegment(addr uint64) *aspacem.Segment {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	seg := sp.segs[sp.findIndex(addr)]
	if seg.Kind == aspacem.SK_FREE {
		return nil
	}
	return &seg
}

func (sp *Space) FindFreeSegment(addr uint64) *aspacem.Segment {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	seg := sp.segs[sp.findIndex(addr)]
	if seg.Kind != aspacem.SK_FREE {
		return nil
	}
	return &seg
}

// FindNextSegment walks away from the segment holding addr and returns the
// first one that is not free.
func (sp *Space) FindNextSegment(addr uint64, forwards bool) *aspacem.Segment {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	step := 1
	if !forwards {
		step = -1
	}
	for i := sp.findIndex(addr) + step; i >= 0 && i < len(sp.segs); i += step {
		if sp.segs[i].Kind != aspacem.SK_FREE {
			seg := sp.segs[i]
			return &seg
		}
	}
	return nil
}

func (sp *Space) indexRange(start, length uint64) (int, int, bool) {
	end, ok := rangeOf(start, length)
	if !ok {
		return 0, 0, false
	}
	return sp.findIndex(start), sp.findIndex(end), true
}

func (sp *Space) allOfKind(start, length uint64, kinds aspacem.SegKind) bool {
	iLo, iHi, ok := sp.indexRange(start, length)
	if !ok {
		return false
	}
	for i := iLo; i <= iHi; i++ {
		if sp.segs[i].Kind&kinds == 0 {
			return false
		}
	}
	return true
}

func (sp *Space) isFree(start, length uint64) bool {
	iLo, iHi, ok := sp.indexRange(start, length)
	return ok && iLo == iHi && sp.segs[iLo].Kind == aspacem.SK_FREE
}

func (sp *Space) IsFree(start, length uint64) bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.isFree(start, length)
}

func (sp *Space) IsFreeOrResvn(start, length uint64) bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.allOfKind(start, length, aspacem.SK_FREE|aspacem.SK_RESVN)
}

func (sp *Space) isValidFor(start, length uint64, prot kernel.MemProt, kinds aspacem.SegKind) bool {
	if length == 0 {
		return true
	}
	iLo, iHi, ok := sp.indexRange(start, length)
	if !ok {
		return false
	}
	for i := iLo; i <= iHi; i++ {
		seg := &sp.segs[i]
		if seg.Kind&kinds == 0 {
			return false
		}
		if seg.Kind&(aspacem.SK_FREE|aspacem.SK_RESVN) == 0 && !seg.Prot().Has(prot) {
			return false
		}
	}
	return true
}

func (sp *Space) IsValidForClient(start, length uint64, prot kernel.MemProt) bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.isValidFor(start, length, prot, aspacem.SK_CLIENT)
}

func (sp *Space) IsValidForClientOrFreeOrResvn(start, length uint64, prot kernel.MemProt) bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.isValidFor(start, length, prot, aspacem.SK_CLIENT|aspacem.SK_FREE|aspacem.SK_RESVN)
}

func (sp *Space) IsValidForValgrind(start, length uint64, prot kernel.MemProt) bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.isValidFor(start, length, prot, aspacem.SK_VALGRIND)
}

func (sp *Space) GetSegmentStarts(kinds aspacem.SegKind) []uint64 {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	var starts []uint64
	for i := range sp.segs {
		if sp.segs[i].Kind&kinds != 0 {
			starts = append(starts, sp.segs[i].Start)
		}
	}
	return starts
}

func (sp *Space) SegmentName(seg *aspacem.Segment) (string, bool) {
	if seg == nil {
		return "", false
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.names.name(seg.FnIdx)
}

// Segments returns a snapshot of the whole table.
func (sp *Space) Segments() []aspacem.Segment {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return slices.Clone(sp.segs)
}
