package aspacem

import (
	"github.com/cockroachdb/errors"

	"github.com/wnxd/aspacem/aspacem"
	"github.com/wnxd/aspacem/kernel"
)

func (sp *Space) mmapAt(advised, length uint64, prot kernel.MemProt, flags kernel.MapFlag, fd int, offset uint64) error {
	got, err := sp.kern.Mmap(advised, length, prot, flags|kernel.MAP_FIXED, fd, offset)
	if err != nil {
		return errors.Wrapf(err, "mmap %#x+%#x", advised, length)
	}
	if got != advised {
		if err := sp.kern.Munmap(got, length); err != nil {
			sp.log.Error("aspacem: cannot undo misplaced mapping", "addr", hexAttr(got), "len", hexAttr(length), "err", err)
		}
		return errors.Wrapf(aspacem.ErrModelDiverged, "asked for %#x, kernel gave %#x", advised, got)
	}
	return nil
}

func (sp *Space) checkMmapArgs(length, offset uint64) (uint64, error) {
	ps := sp.layout.PageSize
	if length == 0 || !aspacem.IsAligned(offset, ps) {
		return 0, errors.Wrapf(aspacem.ErrArgumentInvalid, "length %#x offset %#x", length, offset)
	}
	if length = aspacem.Align(length, ps); length == 0 {
		return 0, errors.Wrap(aspacem.ErrArgumentInvalid, "length overflows")
	}
	return length, nil
}

func (sp *Space) advise(req aspacem.MapRequest, forClient bool) (uint64, error) {
	advised, ok := sp.getAdvisory(req, forClient)
	switch {
	case !ok && req.Kind == aspacem.REQ_FIXED:
		return 0, errors.Wrapf(aspacem.ErrAddressInvalid, "%#x+%#x", req.Start, req.Len)
	case !ok:
		return 0, errors.Wrapf(aspacem.ErrNoSpace, "%#x bytes", req.Len)
	case req.Kind == aspacem.REQ_FIXED && advised != req.Start:
		return 0, errors.Wrapf(aspacem.ErrAddressInvalid, "%#x+%#x", req.Start, req.Len)
	}
	return advised, nil
}

func (sp *Space) mmapFileFixedClient(start, length uint64, prot kernel.MemProt, flags kernel.MapFlag, fd int, offset uint64, name string) (uint64, error) {
	length, err := sp.checkMmapArgs(length, offset)
	if err != nil {
		return 0, err
	}
	if !aspacem.IsAligned(start, sp.layout.PageSize) {
		return 0, errors.Wrapf(aspacem.ErrArgumentInvalid, "address %#x", start)
	}
	if _, err := sp.advise(aspacem.MapRequest{Kind: aspacem.REQ_FIXED, Start: start, Len: length}, true); err != nil {
		return 0, err
	}
	flags = flags&^kernel.MAP_ANONYMOUS | kernel.MAP_FIXED
	if err := sp.mmapAt(start, length, prot, flags, fd, offset); err != nil {
		return 0, err
	}
	if _, err := sp.notifyMmap(aspacem.SK_ANON_C, aspacem.SK_FILE_C, start, length, prot, flags, fd, offset, name); err != nil {
		return 0, err
	}
	return start, nil
}

func (sp *Space) MmapFileFixedClient(start, length uint64, prot kernel.MemProt, fd int, offset uint64) (uint64, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.mmapFileFixedClient(start, length, prot, kernel.MAP_PRIVATE, fd, offset, "")
}

func (sp *Space) MmapFileFixedClientFlags(start, length uint64, prot kernel.MemProt, flags kernel.MapFlag, fd int, offset uint64) (uint64, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.mmapFileFixedClient(start, length, prot, flags, fd, offset, "")
}

// MmapNamedFileFixedClient records name for the segment instead of asking
// the kernel what fd refers to.
func (sp *Space) MmapNamedFileFixedClient(start, length uint64, prot kernel.MemProt, fd int, offset uint64, name string) (uint64, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.mmapFileFixedClient(start, length, prot, kernel.MAP_PRIVATE, fd, offset, name)
}

func (sp *Space) MmapAnonFixedClient(start, length uint64, prot kernel.MemProt) (uint64, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	length, err := sp.checkMmapArgs(length, 0)
	if err != nil {
		return 0, err
	}
	if !aspacem.IsAligned(start, sp.layout.PageSize) {
		return 0, errors.Wrapf(aspacem.ErrArgumentInvalid, "address %#x", start)
	}
	if _, err := sp.advise(aspacem.MapRequest{Kind: aspacem.REQ_FIXED, Start: start, Len: length}, true); err != nil {
		return 0, err
	}
	flags := kernel.MAP_FIXED | kernel.MAP_PRIVATE | kernel.MAP_ANONYMOUS
	if err := sp.mmapAt(start, length, prot, flags, -1, 0); err != nil {
		return 0, err
	}
	if _, err := sp.notifyMmap(aspacem.SK_ANON_C, aspacem.SK_FILE_C, start, length, prot, flags, -1, 0, ""); err != nil {
		return 0, err
	}
	return start, nil
}

func (sp *Space) mmapAnonFloat(kind aspacem.SegKind, length uint64, prot kernel.MemProt, isCH bool) (uint64, error) {
	length, err := sp.checkMmapArgs(length, 0)
	if err != nil {
		return 0, err
	}
	advised, err := sp.advise(aspacem.MapRequest{Kind: aspacem.REQ_ANY, Len: length}, kind == aspacem.SK_ANON_C)
	if err != nil {
		return 0, err
	}
	flags := kernel.MAP_FIXED | kernel.MAP_PRIVATE | kernel.MAP_ANONYMOUS
	if err := sp.mmapAt(advised, length, prot, flags, -1, 0); err != nil {
		return 0, err
	}
	seg := aspacem.NewSegment(advised, advised+length-1)
	seg.Kind = kind
	seg.SetProt(prot)
	seg.IsCH = isCH
	sp.addSegment(seg)
	sp.paranoia("mmap anon")
	return advised, nil
}

func (sp *Space) MmapAnonFloatClient(length uint64, prot kernel.MemProt) (uint64, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.mmapAnonFloat(aspacem.SK_ANON_C, length, prot, false)
}

// MmapClientHeapSegment maps anonymous client memory marked as heap.
func (sp *Space) MmapClientHeapSegment(length uint64, prot kernel.MemProt) (uint64, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.mmapAnonFloat(aspacem.SK_ANON_C, length, prot, true)
}

// MmapAnonFloatValgrind maps memory for the tool itself, always rwx.
func (sp *Space) MmapAnonFloatValgrind(length uint64) (uint64, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.mmapAnonFloat(aspacem.SK_ANON_V, length, kernel.MEM_PROT_ALL, false)
}

func (sp *Space) mmapFileFloatValgrind(length uint64, prot kernel.MemProt, flags kernel.MapFlag, fd int, offset uint64) (uint64, error) {
	length, err := sp.checkMmapArgs(length, offset)
	if err != nil {
		return 0, err
	}
	advised, err := sp.advise(aspacem.MapRequest{Kind: aspacem.REQ_ANY, Len: length}, false)
	if err != nil {
		return 0, err
	}
	flags |= kernel.MAP_FIXED
	if err := sp.mmapAt(advised, length, prot, flags, fd, offset); err != nil {
		return 0, err
	}
	if _, err := sp.notifyMmap(aspacem.SK_ANON_V, aspacem.SK_FILE_V, advised, length, prot, flags, fd, offset, ""); err != nil {
		return 0, err
	}
	return advised, nil
}

func (sp *Space) MmapFileFloatValgrind(length uint64, prot kernel.MemProt, fd int, offset uint64) (uint64, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.mmapFileFloatValgrind(length, prot, kernel.MAP_PRIVATE, fd, offset)
}

func (sp *Space) MmapSharedFileFloatValgrind(length uint64, prot kernel.MemProt, fd int, offset uint64) (uint64, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.mmapFileFloatValgrind(length, prot, kernel.MAP_SHARED, fd, offset)
}

func (sp *Space) munmap(start, length uint64, forClient bool) (bool, error) {
	if length == 0 {
		return false, errors.Wrap(aspacem.ErrArgumentInvalid, "zero length munmap")
	}
	length, err := sp.pageRange(start, length)
	if err != nil {
		return false, err
	}
	var ok bool
	if forClient {
		ok = sp.isValidFor(start, length, kernel.MEM_PROT_NONE, aspacem.SK_CLIENT|aspacem.SK_FREE|aspacem.SK_RESVN)
	} else {
		ok = sp.isValidFor(start, length, kernel.MEM_PROT_NONE, aspacem.SK_VALGRIND)
	}
	if !ok {
		return false, errors.Wrapf(aspacem.ErrKindMismatch, "munmap %#x+%#x", start, length)
	}
	if err := sp.kern.Munmap(start, length); err != nil {
		return false, errors.Wrapf(err, "munmap %#x+%#x", start, length)
	}
	return sp.notifyMunmap(start, length)
}

// MunmapClient unmaps client memory and reports whether translations from
// the range must be discarded.
func (sp *Space) MunmapClient(start, length uint64) (bool, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.munmap(start, length, true)
}

func (sp *Space) MunmapValgrind(start, length uint64) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	_, err := sp.munmap(start, length, false)
	return err
}
