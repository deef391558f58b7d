package aspacem

import (
	"github.com/wnxd/aspacem/aspacem"
)

// Client mappings may be placed over these kinds with a fixed request.
const clientFixedOK = aspacem.SK_FREE | aspacem.SK_FILE_C | aspacem.SK_ANON_C | aspacem.SK_SHM_C | aspacem.SK_RESVN

func (sp *Space) getAdvisory(req aspacem.MapRequest, forClient bool) (uint64, bool) {
	ps := sp.layout.PageSize
	if req.Len == 0 || !aspacem.IsAligned(req.Len, ps) {
		return 0, false
	}
	kind := req.Kind
	reqStart := req.Start
	if kind == aspacem.REQ_ANY {
		reqStart = 0
	} else if !aspacem.IsAligned(reqStart, ps) {
		return 0, false
	}
	reqEnd, ok := rangeOf(reqStart, req.Len)
	if !ok {
		if kind != aspacem.REQ_HINT {
			return 0, false
		}
		kind = aspacem.REQ_ANY
	}

	if forClient && kind == aspacem.REQ_FIXED {
		if sp.allOfKind(reqStart, req.Len, clientFixedOK) {
			return reqStart, true
		}
		return 0, false
	}
	if forClient && kind == aspacem.REQ_HINT {
		if sp.allOfKind(reqStart, req.Len, aspacem.SK_FREE|aspacem.SK_RESVN) {
			return reqStart, true
		}
		kind = aspacem.REQ_ANY
	}

	startPoint := sp.layout.VStart
	if forClient {
		startPoint = sp.layout.CStart
	}
	origin := sp.findIndex(startPoint)
	fixedIdx, floatIdx := -1, -1
	var floatStart uint64
	// The origin segment is visited twice: first from the start point up,
	// then whole once the scan has wrapped around to it.
	for j, i := 0, origin; j <= len(sp.segs); j++ {
		seg := &sp.segs[i]
		if seg.Kind == aspacem.SK_FREE {
			holeStart := max(seg.Start, sp.layout.MinAddr)
			holeEnd := min(seg.End, sp.layout.MaxAddr)
			if j == 0 {
				holeStart = max(holeStart, startPoint)
			}
			if holeStart <= holeEnd {
				if kind != aspacem.REQ_ANY && holeStart <= reqStart && reqEnd <= holeEnd {
					fixedIdx = i
				}
				if floatIdx < 0 && holeEnd-holeStart+1 >= req.Len {
					floatIdx, floatStart = i, holeStart
				}
			}
		}
		if floatIdx >= 0 && (kind == aspacem.REQ_ANY || fixedIdx >= 0) {
			break
		}
		if i++; i == len(sp.segs) {
			i = 0
		}
	}

	switch kind {
	case aspacem.REQ_FIXED:
		if fixedIdx >= 0 {
			return reqStart, true
		}
		return 0, false
	case aspacem.REQ_HINT:
		if fixedIdx >= 0 {
			return reqStart, true
		}
	}
	if floatIdx >= 0 {
		return floatStart, true
	}
	return 0, false
}

func (sp *Space) GetAdvisory(req aspacem.MapRequest, forClient bool) (uint64, bool) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.getAdvisory(req, forClient)
}

func (sp *Space) GetAdvisoryClientSimple(start, length uint64) (uint64, bool) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.getAdvisory(aspacem.MapRequest{Kind: aspacem.REQ_HINT, Start: start, Len: length}, true)
}
