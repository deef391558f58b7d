package aspacem

import (
	"github.com/cockroachdb/errors"

	"github.com/wnxd/aspacem/aspacem"
)

func checkSegment(s *aspacem.Segment, pageSize uint64, names *segNames) error {
	if s.Start > s.End {
		return errors.Newf("start %#x above end %#x", s.Start, s.End)
	}
	if !aspacem.IsAligned(s.Start, pageSize) || !aspacem.IsAligned(s.End+1, pageSize) {
		return errors.Newf("bounds %#x-%#x not page aligned", s.Start, s.End)
	}
	noFile := s.Dev == 0 && s.Ino == 0 && s.Mode == 0 && s.Offset == 0
	switch s.Kind {
	case aspacem.SK_FREE, aspacem.SK_RESVN:
		if !noFile || s.FnIdx != -1 {
			return errors.Newf("%s segment carries file identity", s.Kind)
		}
		if s.HasR || s.HasW || s.HasX || s.HasT || s.IsCH {
			return errors.Newf("%s segment carries protection or markers", s.Kind)
		}
		if s.Kind == aspacem.SK_FREE && s.Smode != aspacem.SM_FIXED {
			return errors.New("free segment has a shrink mode")
		}
	case aspacem.SK_ANON_C, aspacem.SK_ANON_V, aspacem.SK_SHM_C:
		if !noFile || s.FnIdx != -1 {
			return errors.Newf("%s segment carries file identity", s.Kind)
		}
		if s.Smode != aspacem.SM_FIXED {
			return errors.Newf("%s segment has a shrink mode", s.Kind)
		}
		if s.IsCH && s.Kind != aspacem.SK_ANON_C {
			return errors.Newf("%s segment marked as client heap", s.Kind)
		}
	case aspacem.SK_FILE_C, aspacem.SK_FILE_V:
		if s.Smode != aspacem.SM_FIXED {
			return errors.Newf("%s segment has a shrink mode", s.Kind)
		}
		if s.IsCH {
			return errors.Newf("%s segment marked as client heap", s.Kind)
		}
		if s.FnIdx != -1 && !names.valid(s.FnIdx) {
			return errors.Newf("dangling name handle %d", s.FnIdx)
		}
	default:
		return errors.Newf("unknown kind %s", s.Kind)
	}
	return nil
}

func (sp *Space) sanityCheck() error {
	if len(sp.segs) == 0 {
		return errors.New("segment table is empty")
	}
	if sp.segs[0].Start != aspacem.AddrMin {
		return errors.Newf("table starts at %#x", sp.segs[0].Start)
	}
	if last := sp.segs[len(sp.segs)-1]; last.End != aspacem.AddrMax {
		return errors.Newf("table ends at %#x", last.End)
	}
	refs := make(map[int]int)
	for i := range sp.segs {
		seg := &sp.segs[i]
		if err := checkSegment(seg, sp.layout.PageSize, &sp.names); err != nil {
			return errors.Wrapf(err, "segment %d", i)
		}
		if i > 0 {
			prev := &sp.segs[i-1]
			if prev.End+1 != seg.Start {
				return errors.Newf("segments %d and %d are not contiguous", i-1, i)
			}
			if mergeable(prev, seg) {
				return errors.Newf("segments %d and %d are left unmerged", i-1, i)
			}
		}
		if seg.FnIdx >= 0 {
			refs[seg.FnIdx]++
		}
	}
	for idx, slot := range sp.names.slots {
		if !slot.inUse || slot.refs == maxRefCount {
			continue
		}
		if slot.refs != refs[idx] {
			return errors.Newf("name %d (%q) has %d references, table holds %d", idx, slot.name, slot.refs, refs[idx])
		}
	}
	return nil
}

func (sp *Space) paranoia(who string) {
	if !sp.cfg.Paranoid {
		return
	}
	if err := sp.sanityCheck(); err != nil {
		sp.barf("sanity check failed after %s: %v", who, err)
	}
}

func (sp *Space) SanityCheck() error {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.sanityCheck()
}
