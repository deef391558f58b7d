package aspacem

import (
	"fmt"

	"github.com/wnxd/aspacem/aspacem"
	"github.com/wnxd/aspacem/kernel"
	"github.com/wnxd/aspacem/mapsource"
)

// syncCheck compares the table against the kernel's view. It only reads
// the table; every disagreement is logged and the scan goes on.
type syncCheck struct {
	sp *Space
	ok bool
}

func (sc *syncCheck) mismatch(seg *aspacem.Segment, kernelView string) {
	sc.ok = false
	name, _ := sc.sp.names.name(seg.FnIdx)
	sc.sp.log.Warn("aspacem: segment mismatch", "ours", seg.String(), "name", name, "kernel", kernelView)
}

func (sc *syncCheck) mapping(m mapsource.Mapping) {
	if m.Len == 0 {
		return
	}
	sp := sc.sp
	rules := sp.cfg.SyncRules
	iLo, iHi := sp.findIndex(m.Addr), sp.findIndex(m.Addr+m.Len-1)
	for i := iLo; i <= iHi; i++ {
		seg := &sp.segs[i]
		same := seg.Kind&aspacem.SK_MAPPED != 0
		segProt := seg.Prot()
		if rules.SloppyExec {
			segProt |= m.Prot & kernel.MEM_PROT_EXEC
		}
		if rules.SloppyRead {
			segProt |= m.Prot & kernel.MEM_PROT_READ
		}
		cmpDevIno := (seg.Dev != 0 || seg.Ino != 0) && rules.CompareDevIno(m.Name)
		cmpOffset := seg.IsFile()
		same = same && segProt == m.Prot
		if cmpDevIno {
			same = same && seg.Dev == m.Dev && seg.Ino == m.Ino
		}
		if cmpOffset {
			same = same && seg.Start-seg.Offset == m.Addr-m.Offset
		}
		if !same {
			sc.mismatch(seg, fmt.Sprintf("%016x-%016x %s d=%#x i=%d o=%#x %s",
				m.Addr, m.Addr+m.Len-1, m.Prot, m.Dev, m.Ino, m.Offset, m.Name))
			return
		}
	}
}

func (sc *syncCheck) gap(addr, length uint64) {
	if length == 0 && addr != 0 {
		return
	}
	sp := sc.sp
	end := addr + length - 1
	iLo, iHi := sp.findIndex(addr), sp.findIndex(end)
	for i := iLo; i <= iHi; i++ {
		if seg := &sp.segs[i]; seg.Kind&(aspacem.SK_FREE|aspacem.SK_RESVN) == 0 {
			sc.mismatch(seg, fmt.Sprintf("%016x-%016x unmapped", addr, end))
			return
		}
	}
}

func (sp *Space) doSyncCheck(who string) bool {
	sc := syncCheck{sp: sp, ok: true}
	sp.parseMaps(sc.mapping, sc.gap)
	if !sc.ok {
		sp.log.Warn("aspacem: sync check failed", "who", who)
	}
	return sc.ok
}

// DoSyncCheck reports whether the kernel agrees with the table.
func (sp *Space) DoSyncCheck(who string) bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.doSyncCheck(who)
}
