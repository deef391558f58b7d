package aspacem

import (
	"github.com/cockroachdb/errors"

	"github.com/wnxd/aspacem/aspacem"
	"github.com/wnxd/aspacem/kernel"
)

func (sp *Space) pageRange(start, length uint64) (uint64, error) {
	ps := sp.layout.PageSize
	if !aspacem.IsAligned(start, ps) {
		return 0, errors.Wrapf(aspacem.ErrArgumentInvalid, "address %#x not page aligned", start)
	}
	if length == 0 {
		return 0, nil
	}
	rounded := aspacem.Align(length, ps)
	if _, ok := rangeOf(start, rounded); !ok {
		return 0, errors.Wrapf(aspacem.ErrArgumentInvalid, "range %#x+%#x", start, length)
	}
	return rounded, nil
}

func (sp *Space) fileSegment(seg *aspacem.Segment, fd int, offset uint64, name string) {
	seg.Offset = offset
	if info, err := sp.kern.Fstat(fd); err == nil {
		seg.Dev, seg.Ino, seg.Mode = info.Dev, info.Ino, info.Mode
	} else {
		sp.log.Debug("aspacem: fstat failed", "fd", fd, "err", err)
	}
	if name == "" {
		var err error
		if name, err = sp.kern.FdName(fd); err != nil {
			sp.log.Debug("aspacem: no name for fd", "fd", fd, "err", err)
			return
		}
	}
	idx, err := sp.names.intern(name)
	if err != nil {
		sp.log.Warn("aspacem: segment left unnamed", "name", name, "err", err)
		return
	}
	seg.FnIdx = idx
}

func (sp *Space) notifyMmap(anon, file aspacem.SegKind, addr, length uint64, prot kernel.MemProt, flags kernel.MapFlag, fd int, offset uint64, name string) (bool, error) {
	length, err := sp.pageRange(addr, length)
	if err != nil {
		return false, err
	}
	if length == 0 {
		return false, errors.Wrap(aspacem.ErrArgumentInvalid, "zero length mapping")
	}
	needDiscard := sp.anyTInRange(addr, length)
	seg := aspacem.NewSegment(addr, addr+length-1)
	seg.SetProt(prot)
	if flags&kernel.MAP_ANONYMOUS != 0 {
		seg.Kind = anon
	} else {
		seg.Kind = file
		sp.fileSegment(&seg, fd, offset, name)
	}
	sp.addSegment(seg)
	sp.paranoia("mmap")
	return needDiscard, nil
}

// NotifyClientMmap records a client mmap the kernel has performed and
// reports whether translations of the replaced range must be discarded.
func (sp *Space) NotifyClientMmap(addr, length uint64, prot kernel.MemProt, flags kernel.MapFlag, fd int, offset uint64) (bool, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.notifyMmap(aspacem.SK_ANON_C, aspacem.SK_FILE_C, addr, length, prot, flags, fd, offset, "")
}

func (sp *Space) NotifyValgrindMmap(addr, length uint64, prot kernel.MemProt, flags kernel.MapFlag, fd int, offset uint64) (bool, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.notifyMmap(aspacem.SK_ANON_V, aspacem.SK_FILE_V, addr, length, prot, flags, fd, offset, "")
}

func (sp *Space) NotifyClientShmat(addr, length uint64, prot kernel.MemProt) (bool, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	length, err := sp.pageRange(addr, length)
	if err != nil {
		return false, err
	}
	if length == 0 {
		return false, errors.Wrap(aspacem.ErrArgumentInvalid, "zero length shmat")
	}
	needDiscard := sp.anyTInRange(addr, length)
	seg := aspacem.NewSegment(addr, addr+length-1)
	seg.Kind = aspacem.SK_SHM_C
	seg.SetProt(prot)
	sp.addSegment(seg)
	sp.paranoia("shmat")
	return needDiscard, nil
}

// NotifyMprotect changes the protection of every mapped segment in the
// range; free and reserved space is left alone.
func (sp *Space) NotifyMprotect(start, length uint64, prot kernel.MemProt) (bool, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	length, err := sp.pageRange(start, length)
	if err != nil || length == 0 {
		return false, err
	}
	needDiscard := sp.anyTInRange(start, length)
	iLo, iHi := sp.splitRange(start, start+length-1)
	for i := iLo; i <= iHi; i++ {
		if seg := &sp.segs[i]; seg.Kind&aspacem.SK_MAPPED != 0 {
			seg.SetProt(prot)
		}
	}
	sp.preen()
	sp.paranoia("mprotect")
	return needDiscard, nil
}

// NotifyMunmap frees the range. Parts lying outside the governed bounds
// become fixed reservations.
func (sp *Space) NotifyMunmap(start, length uint64) (bool, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.notifyMunmap(start, length)
}

func (sp *Space) notifyMunmap(start, length uint64) (bool, error) {
	length, err := sp.pageRange(start, length)
	if err != nil || length == 0 {
		return false, err
	}
	needDiscard := sp.anyTInRange(start, length)
	end := start + length - 1
	minAddr, maxAddr := sp.layout.MinAddr, sp.layout.MaxAddr
	if start < minAddr {
		sp.addSegment(reservation(start, min(end, minAddr-1)))
	}
	if lo, hi := max(start, minAddr), min(end, maxAddr); lo <= hi {
		sp.addSegment(aspacem.NewSegment(lo, hi))
	}
	if end > maxAddr {
		sp.addSegment(reservation(max(start, maxAddr+1), end))
	}
	sp.paranoia("munmap")
	return needDiscard, nil
}

func (sp *Space) SetSegmentHasT(addr uint64) bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	seg := &sp.segs[sp.findIndex(addr)]
	switch seg.Kind {
	case aspacem.SK_ANON_C, aspacem.SK_FILE_C, aspacem.SK_SHM_C:
		seg.HasT = true
		return true
	}
	return false
}

func (sp *Space) SetSegmentIsCH(addr uint64) bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	seg := &sp.segs[sp.findIndex(addr)]
	if seg.Kind != aspacem.SK_ANON_C {
		return false
	}
	seg.IsCH = true
	sp.preen()
	return true
}
