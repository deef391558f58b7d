package aspacem

import (
	"slices"

	"github.com/wnxd/aspacem/aspacem"
)

// Reference counts saturate here; a saturated name is never released.
const maxRefCount = 1<<15 - 1

type nameSlot struct {
	name  string
	size  int
	refs  int
	inUse bool
}

// segNames interns the file names segments refer to. A handle stays valid
// while its count is positive; released slots go onto a free list and are
// reused for names that fit in them.
type segNames struct {
	slots []nameSlot
	index map[string]int
	free  []int
	used  int
	limit int
}

func (sn *segNames) ctor(limit int) {
	sn.slots = nil
	sn.index = make(map[string]int)
	sn.free = nil
	sn.used = 0
	sn.limit = limit
}

// intern returns the handle for name with one more reference on it.
func (sn *segNames) intern(name string) (int, error) {
	if idx, ok := sn.index[name]; ok {
		sn.ref(idx)
		return idx, nil
	}
	size := len(name) + 1
	for i := len(sn.free) - 1; i >= 0; i-- {
		idx := sn.free[i]
		if sn.slots[idx].size < size {
			continue
		}
		sn.free = slices.Delete(sn.free, i, i+1)
		slot := &sn.slots[idx]
		slot.name, slot.refs, slot.inUse = name, 1, true
		sn.index[name] = idx
		return idx, nil
	}
	if sn.used+size > sn.limit {
		return -1, aspacem.ErrNamePoolFull
	}
	sn.used += size
	sn.slots = append(sn.slots, nameSlot{name: name, size: size, refs: 1, inUse: true})
	idx := len(sn.slots) - 1
	sn.index[name] = idx
	return idx, nil
}

func (sn *segNames) ref(idx int) {
	if !sn.valid(idx) {
		return
	}
	if slot := &sn.slots[idx]; slot.refs < maxRefCount {
		slot.refs++
	}
}

func (sn *segNames) unref(idx int) {
	if !sn.valid(idx) {
		return
	}
	slot := &sn.slots[idx]
	if slot.refs == maxRefCount {
		return
	}
	slot.refs--
	if slot.refs > 0 {
		return
	}
	delete(sn.index, slot.name)
	slot.name, slot.refs, slot.inUse = "", 0, false
	sn.free = append(sn.free, idx)
}

func (sn *segNames) valid(idx int) bool {
	return idx >= 0 && idx < len(sn.slots) && sn.slots[idx].inUse
}

func (sn *segNames) name(idx int) (string, bool) {
	if !sn.valid(idx) {
		return "", false
	}
	return sn.slots[idx].name, true
}

func (sn *segNames) refCount(idx int) int {
	if !sn.valid(idx) {
		return 0
	}
	return sn.slots[idx].refs
}

func (sn *segNames) isFree(idx int) bool {
	return slices.Contains(sn.free, idx)
}
