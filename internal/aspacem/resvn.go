package aspacem

import (
	"github.com/cockroachdb/errors"

	"github.com/wnxd/aspacem/aspacem"
	"github.com/wnxd/aspacem/kernel"
)

func (sp *Space) ChangeOwnershipVToC(start, length uint64) bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if length == 0 {
		return true
	}
	end, ok := rangeOf(start, length)
	if !ok || !aspacem.IsAligned(start, sp.layout.PageSize) || !aspacem.IsAligned(length, sp.layout.PageSize) {
		return false
	}
	seg := &sp.segs[sp.findIndex(start)]
	if seg.Kind != aspacem.SK_ANON_V && seg.Kind != aspacem.SK_FILE_V || end > seg.End {
		return false
	}
	iLo, _ := sp.splitRange(start, end)
	switch seg := &sp.segs[iLo]; seg.Kind {
	case aspacem.SK_ANON_V:
		seg.Kind = aspacem.SK_ANON_C
	case aspacem.SK_FILE_V:
		seg.Kind = aspacem.SK_FILE_C
	}
	sp.preen()
	sp.paranoia("change ownership")
	return true
}

// CreateReservation reserves [start, start+length). A negative extra
// additionally requires that much free space below the range, a positive
// one above it; the extra space itself is not reserved.
func (sp *Space) CreateReservation(start, length uint64, smode aspacem.ShrinkMode, extra int64) bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	ps := sp.layout.PageSize
	end1, ok := rangeOf(start, length)
	if !ok || !aspacem.IsAligned(start, ps) || !aspacem.IsAligned(length, ps) {
		return false
	}
	start2, end2 := start, end1
	switch {
	case extra < 0:
		if start2 < uint64(-extra) {
			return false
		}
		start2 -= uint64(-extra)
	case extra > 0:
		if end2+uint64(extra) < end2 {
			return false
		}
		end2 += uint64(extra)
	}
	if !aspacem.IsAligned(start2, ps) || !aspacem.IsAligned(end2+1, ps) {
		return false
	}
	iLo, iHi := sp.findIndex(start2), sp.findIndex(end2)
	if iLo != iHi || sp.segs[iLo].Kind != aspacem.SK_FREE {
		return false
	}
	seg := reservation(start, end1)
	seg.Smode = smode
	sp.addSegment(seg)
	sp.paranoia("create reservation")
	return true
}

// ExtendIntoAdjacentReservationClient grows the anonymous client segment
// at addr by delta bytes into the reservation next to it: upwards into an
// SM_LOWER reservation for a positive delta, downwards into an SM_UPPER
// one for a negative delta. The reservation always keeps at least a page;
// asking for more reports overflow.
func (sp *Space) ExtendIntoAdjacentReservationClient(addr uint64, delta int64) (bool, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	ps := sp.layout.PageSize
	mag := uint64(delta)
	if delta < 0 {
		mag = uint64(-delta)
	}
	if delta == 0 || !aspacem.IsAligned(mag, ps) {
		return false, errors.Wrapf(aspacem.ErrArgumentInvalid, "delta %d", delta)
	}
	iA := sp.findIndex(addr)
	if sp.segs[iA].Kind != aspacem.SK_ANON_C {
		return false, errors.Wrapf(aspacem.ErrKindMismatch, "%#x is %s", addr, sp.segs[iA].Kind)
	}
	prot := sp.segs[iA].Prot()
	flags := kernel.MAP_FIXED | kernel.MAP_PRIVATE | kernel.MAP_ANONYMOUS
	if delta > 0 {
		iR := iA + 1
		if iR >= len(sp.segs) || sp.segs[iR].Kind != aspacem.SK_RESVN || sp.segs[iR].Smode != aspacem.SM_LOWER {
			return false, errors.Wrapf(aspacem.ErrKindMismatch, "no shrinkable reservation above %#x", addr)
		}
		if size := sp.segs[iR].Size(); size == 0 || mag+ps > size {
			return true, errors.Wrapf(aspacem.ErrNoSpace, "reservation above %#x too small", addr)
		}
		if err := sp.mmapAt(sp.segs[iR].Start, mag, prot, flags, -1, 0); err != nil {
			return false, err
		}
		sp.segs[iR].Start += mag
		sp.segs[iA].End += mag
	} else {
		iR := iA - 1
		if iR < 0 || sp.segs[iR].Kind != aspacem.SK_RESVN || sp.segs[iR].Smode != aspacem.SM_UPPER {
			return false, errors.Wrapf(aspacem.ErrKindMismatch, "no shrinkable reservation below %#x", addr)
		}
		if size := sp.segs[iR].Size(); size == 0 || mag+ps > size {
			return true, errors.Wrapf(aspacem.ErrNoSpace, "reservation below %#x too small", addr)
		}
		if err := sp.mmapAt(sp.segs[iA].Start-mag, mag, prot, flags, -1, 0); err != nil {
			return false, err
		}
		sp.segs[iR].End -= mag
		sp.segs[iA].Start -= mag
	}
	sp.paranoia("extend into reservation")
	return false, nil
}

func (sp *Space) ExtendMapClient(addr, delta uint64) (bool, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	ps := sp.layout.PageSize
	if delta == 0 || !aspacem.IsAligned(delta, ps) {
		return false, errors.Wrapf(aspacem.ErrArgumentInvalid, "delta %#x", delta)
	}
	seg := sp.segs[sp.findIndex(addr)]
	if seg.Kind&aspacem.SK_CLIENT == 0 {
		return false, errors.Wrapf(aspacem.ErrKindMismatch, "%#x is %s", addr, seg.Kind)
	}
	xStart := seg.End + 1
	if xStart == 0 || !sp.isFree(xStart, delta) {
		return false, errors.Wrapf(aspacem.ErrNoSpace, "no room above %#x", seg.End)
	}
	oldLen := seg.Size()
	got, err := sp.kern.Mremap(seg.Start, oldLen, 0, oldLen+delta, 0)
	if err != nil {
		return false, errors.Wrapf(err, "mremap %#x", seg.Start)
	}
	if got != seg.Start {
		sp.barf("in-place mremap of %#x moved it to %#x", seg.Start, got)
	}
	needDiscard := sp.anyTInRange(xStart, delta)
	seg.End += delta
	sp.names.ref(seg.FnIdx)
	sp.addSegment(seg)
	sp.paranoia("extend map")
	return needDiscard, nil
}

func (sp *Space) RelocateNoOverlapClient(oldAddr, oldLen, newAddr, newLen uint64) (bool, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	ps := sp.layout.PageSize
	oldEnd, ok1 := rangeOf(oldAddr, oldLen)
	newEnd, ok2 := rangeOf(newAddr, newLen)
	if !ok1 || !ok2 {
		return false, errors.Wrap(aspacem.ErrArgumentInvalid, "empty or wrapping range")
	}
	for _, v := range [...]uint64{oldAddr, oldLen, newAddr, newLen} {
		if !aspacem.IsAligned(v, ps) {
			return false, errors.Wrapf(aspacem.ErrArgumentInvalid, "%#x not page aligned", v)
		}
	}
	if oldEnd >= newAddr && newEnd >= oldAddr {
		return false, errors.Wrap(aspacem.ErrArgumentInvalid, "ranges overlap")
	}
	iLo, iHi := sp.findIndex(oldAddr), sp.findIndex(oldEnd)
	if iLo != iHi || sp.segs[iLo].Kind&aspacem.SK_CLIENT == 0 {
		return false, errors.Wrapf(aspacem.ErrKindMismatch, "%#x+%#x is not one client segment", oldAddr, oldLen)
	}
	if !sp.allOfKind(newAddr, newLen, clientFixedOK) {
		return false, errors.Wrapf(aspacem.ErrAddressInvalid, "%#x+%#x", newAddr, newLen)
	}
	got, err := sp.kern.Mremap(oldAddr, oldLen, newAddr, newLen, kernel.REMAP_MAYMOVE|kernel.REMAP_FIXED)
	if err != nil {
		return false, errors.Wrapf(err, "mremap %#x to %#x", oldAddr, newAddr)
	}
	sp.assert(got == newAddr, "relocated mapping lands where asked")
	needDiscard := sp.anyTInRange(oldAddr, oldLen) || sp.anyTInRange(newAddr, newLen)

	seg := sp.segs[iLo]
	if seg.IsFile() {
		seg.Offset += oldAddr - seg.Start
	}
	seg.Start, seg.End = newAddr, newEnd
	sp.names.ref(seg.FnIdx)
	sp.addSegment(seg)
	if _, err := sp.notifyMunmap(oldAddr, oldLen); err != nil {
		return needDiscard, err
	}
	sp.paranoia("relocate")
	return needDiscard, nil
}
