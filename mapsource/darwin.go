package mapsource

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/wnxd/aspacem/encoding"
	"github.com/wnxd/aspacem/kernel"
)

const (
	VM_PROT_READ    = 0x1
	VM_PROT_WRITE   = 0x2
	VM_PROT_EXECUTE = 0x4
)

// SubmapInfo64 mirrors vm_region_submap_info_64, which the Mach headers
// declare under #pragma pack(4).
type SubmapInfo64 struct {
	Protection            int32
	MaxProtection         int32
	Inheritance           uint32
	Offset                uint64
	UserTag               uint32
	PagesResident         uint32
	PagesSharedNowPrivate uint32
	PagesSwappedOut       uint32
	PagesDirtied          uint32
	RefCount              uint32
	ShadowDepth           uint16
	ExternalPager         uint8
	ShareMode             uint8
	IsSubmap              int32
	Behavior              int32
	ObjectID              uint32
	UserWiredCount        uint16
	PagesReusable         uint32
	ObjectIDFull          uint64
}

const submapInfoPack = 4

// Recurser wraps mach_vm_region_recurse on the current task: it returns the
// first region at or above addr, descending at most depth submaps, along
// with the depth the region was found at and its raw submap info record.
// ErrNoMoreRegions ends the walk.
type Recurser interface {
	RegionRecurse(addr uint64, depth uint32) (start, size uint64, found uint32, info []byte, err error)
}

type Darwin struct {
	Recurser Recurser
}

func (d *Darwin) Parse(mapping RecordMapping, gap RecordGap) error {
	w := walker{mapping: mapping, gap: gap}
	var addr uint64
	var depth uint32
	for !w.done {
		start, size, found, raw, err := d.Recurser.RegionRecurse(addr, depth)
		if errors.Is(err, ErrNoMoreRegions) {
			break
		} else if err != nil {
			return err
		}
		depth = found
		var info SubmapInfo64
		if _, err := encoding.Decode(raw, binary.LittleEndian, submapInfoPack, &info); err != nil {
			return err
		}
		if info.IsSubmap != 0 {
			depth++
			addr = start
			continue
		}
		w.add(Mapping{
			Addr:   start,
			Len:    size,
			Prot:   machProt(info.Protection),
			Offset: info.Offset,
		})
		addr = start + size
		if addr < start || size == 0 {
			break
		}
	}
	w.finish()
	return nil
}

func machProt(prot int32) kernel.MemProt {
	var p kernel.MemProt
	if prot&VM_PROT_READ != 0 {
		p |= kernel.MEM_PROT_READ
	}
	if prot&VM_PROT_WRITE != 0 {
		p |= kernel.MEM_PROT_WRITE
	}
	if prot&VM_PROT_EXECUTE != 0 {
		p |= kernel.MEM_PROT_EXEC
	}
	return p
}

// SubmapInfoSize is the length of a raw vm_region_submap_info_64 record.
func SubmapInfoSize() int {
	return encoding.DecodeSize(submapInfoPack, (*SubmapInfo64)(nil))
}
