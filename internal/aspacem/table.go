package aspacem

import (
	"slices"

	"github.com/wnxd/aspacem/aspacem"
)

const findCacheSize = 131

// findCache is a direct-mapped cache from page number to table index. It is
// never invalidated: a hit counts only once the cached index is checked
// against the current table.
type findCache struct {
	page [findCacheSize]uint64
	idx  [findCacheSize]int
}

func (fc *findCache) reset() {
	for i := range fc.idx {
		fc.idx[i] = -1
	}
}

func (sp *Space) cacheHitValid(i int, addr uint64) bool {
	return i >= 0 && i < len(sp.segs) && sp.segs[i].Contains(addr)
}

func (sp *Space) findIndex(addr uint64) int {
	page := addr >> sp.pageShift
	slot := page % findCacheSize
	if sp.cache.page[slot] == page {
		if i := sp.cache.idx[slot]; sp.cacheHitValid(i, addr) {
			return i
		}
	}
	i := sp.searchIndex(addr)
	sp.cache.page[slot], sp.cache.idx[slot] = page, i
	return i
}

func (sp *Space) searchIndex(addr uint64) int {
	i, ok := slices.BinarySearchFunc(sp.segs, addr, func(seg aspacem.Segment, a uint64) int {
		switch {
		case seg.End < a:
			return -1
		case seg.Start > a:
			return 1
		}
		return 0
	})
	sp.assert(ok, "segment table covers addr")
	return i
}

func (sp *Space) checkCapacity(extra int) {
	if len(sp.segs)+extra > sp.cfg.MaxSegments {
		sp.barfTooLow("MaxSegments")
	}
}

// splitAt makes addr the start of a segment and returns that segment's
// index. The upper half of a file segment gets its offset advanced and an
// extra reference on the name.
func (sp *Space) splitAt(addr uint64) int {
	sp.assert(addr > aspacem.AddrMin && aspacem.IsAligned(addr, sp.layout.PageSize), "split address is page aligned")
	i := sp.findIndex(addr)
	seg := &sp.segs[i]
	if seg.Start == addr {
		return i
	}
	sp.assert(seg.Start < addr && addr <= seg.End, "split address inside segment")
	sp.checkCapacity(1)
	upper := *seg
	upper.Start = addr
	if upper.IsFile() {
		upper.Offset += addr - seg.Start
	}
	sp.names.ref(upper.FnIdx)
	seg.End = addr - 1
	sp.segs = slices.Insert(sp.segs, i+1, upper)
	return i + 1
}

func (sp *Space) splitRange(lo, hi uint64) (iLo, iHi int) {
	sp.assert(lo <= hi, "range lo <= hi")
	if lo > aspacem.AddrMin {
		sp.splitAt(lo)
	}
	if hi < aspacem.AddrMax {
		sp.splitAt(hi + 1)
	}
	iLo, iHi = sp.findIndex(lo), sp.findIndex(hi)
	sp.assert(sp.segs[iLo].Start == lo && sp.segs[iHi].End == hi, "range boundaries after split")
	return iLo, iHi
}

// addSegment overwrites [seg.Start, seg.End] with seg. The table takes over
// the name reference seg carries.
func (sp *Space) addSegment(seg aspacem.Segment) {
	if err := checkSegment(&seg, sp.layout.PageSize, &sp.names); err != nil {
		sp.barf("adding insane segment %s: %v", seg, err)
	}
	iLo, iHi := sp.splitRange(seg.Start, seg.End)
	for i := iLo; i <= iHi; i++ {
		sp.names.unref(sp.segs[i].FnIdx)
	}
	sp.segs[iLo] = seg
	sp.segs = slices.Delete(sp.segs, iLo+1, iHi+1)
	sp.preen()
}

// preen merges every mergeable neighbour pair in one left-to-right pass
// and reports whether anything merged.
func (sp *Space) preen() bool {
	if len(sp.segs) < 2 {
		return false
	}
	w := 0
	for r := 1; r < len(sp.segs); r++ {
		if !sp.maybeMerge(&sp.segs[w], &sp.segs[r]) {
			w++
			if w != r {
				sp.segs[w] = sp.segs[r]
			}
		}
	}
	w++
	merged := w != len(sp.segs)
	sp.segs = sp.segs[:w]
	return merged
}

func (sp *Space) maybeMerge(s1, s2 *aspacem.Segment) bool {
	if !mergeable(s1, s2) {
		return false
	}
	s1.End = s2.End
	s1.HasT = s1.HasT || s2.HasT
	if s1.IsFile() {
		sp.names.unref(s2.FnIdx)
	}
	return true
}

func mergeable(s1, s2 *aspacem.Segment) bool {
	if s1.Kind != s2.Kind || s1.End+1 != s2.Start {
		return false
	}
	switch s1.Kind {
	case aspacem.SK_FREE:
		return true
	case aspacem.SK_ANON_C, aspacem.SK_ANON_V:
		return s1.HasR == s2.HasR && s1.HasW == s2.HasW && s1.HasX == s2.HasX && s1.IsCH == s2.IsCH
	case aspacem.SK_FILE_C, aspacem.SK_FILE_V:
		return s1.HasR == s2.HasR && s1.HasW == s2.HasW && s1.HasX == s2.HasX &&
			s1.Dev == s2.Dev && s1.Ino == s2.Ino && s2.Offset == s1.Offset+(s2.Start-s1.Start)
	case aspacem.SK_RESVN:
		return s1.Smode == aspacem.SM_FIXED && s2.Smode == aspacem.SM_FIXED
	}
	return false
}

func (sp *Space) anyTInRange(start, length uint64) bool {
	end := start + length - 1
	for i := sp.findIndex(start); i < len(sp.segs) && sp.segs[i].Start <= end; i++ {
		if sp.segs[i].HasT {
			return true
		}
	}
	return false
}

func rangeOf(start, length uint64) (uint64, bool) {
	if length == 0 {
		return 0, false
	}
	end := start + length - 1
	return end, end >= start
}
