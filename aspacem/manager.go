// Package aspacem models a process's whole virtual address space as an
// ordered, gapless table of segments and mediates every mapping change
// made by the supervised program (the client) or by the tool itself.
//
// Every Notify call must come after the kernel call it describes has
// succeeded, and must carry the parameters the kernel was actually given.
package aspacem

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/wnxd/aspacem/kernel"
)

type Layout struct {
	MinAddr, MaxAddr uint64
	CStart, VStart   uint64
	PageSize         uint64
}

type Querier interface {
	Layout() Layout
	FindSegment(addr uint64) *Segment
	FindFreeSegment(addr uint64) *Segment
	FindNextSegment(addr uint64, forwards bool) *Segment
	IsFree(start, length uint64) bool
	IsFreeOrResvn(start, length uint64) bool
	IsValidForClient(start, length uint64, prot kernel.MemProt) bool
	IsValidForClientOrFreeOrResvn(start, length uint64, prot kernel.MemProt) bool
	IsValidForValgrind(start, length uint64, prot kernel.MemProt) bool
	GetSegmentStarts(kinds SegKind) []uint64
	SegmentName(seg *Segment) (string, bool)
	Segments() []Segment
	GetAdvisory(req MapRequest, forClient bool) (uint64, bool)
	GetAdvisoryClientSimple(start, length uint64) (uint64, bool)
}

type Notifier interface {
	NotifyClientMmap(addr, length uint64, prot kernel.MemProt, flags kernel.MapFlag, fd int, offset uint64) (bool, error)
	NotifyClientShmat(addr, length uint64, prot kernel.MemProt) (bool, error)
	NotifyValgrindMmap(addr, length uint64, prot kernel.MemProt, flags kernel.MapFlag, fd int, offset uint64) (bool, error)
	NotifyMprotect(start, length uint64, prot kernel.MemProt) (bool, error)
	NotifyMunmap(start, length uint64) (bool, error)
	SetSegmentHasT(addr uint64) bool
	SetSegmentIsCH(addr uint64) bool
}

type Mapper interface {
	MmapFileFixedClient(start, length uint64, prot kernel.MemProt, fd int, offset uint64) (uint64, error)
	MmapFileFixedClientFlags(start, length uint64, prot kernel.MemProt, flags kernel.MapFlag, fd int, offset uint64) (uint64, error)
	MmapNamedFileFixedClient(start, length uint64, prot kernel.MemProt, fd int, offset uint64, name string) (uint64, error)
	MmapAnonFixedClient(start, length uint64, prot kernel.MemProt) (uint64, error)
	MmapAnonFloatClient(length uint64, prot kernel.MemProt) (uint64, error)
	MmapClientHeapSegment(length uint64, prot kernel.MemProt) (uint64, error)
	MmapAnonFloatValgrind(length uint64) (uint64, error)
	MmapFileFloatValgrind(length uint64, prot kernel.MemProt, fd int, offset uint64) (uint64, error)
	MmapSharedFileFloatValgrind(length uint64, prot kernel.MemProt, fd int, offset uint64) (uint64, error)
	MunmapClient(start, length uint64) (bool, error)
	MunmapValgrind(start, length uint64) error
	ChangeOwnershipVToC(start, length uint64) bool
	CreateReservation(start, length uint64, smode ShrinkMode, extra int64) bool
	ExtendIntoAdjacentReservationClient(addr uint64, delta int64) (overflow bool, err error)
	ExtendMapClient(addr, delta uint64) (bool, error)
	RelocateNoOverlapClient(oldAddr, oldLen, newAddr, newLen uint64) (bool, error)
}

type Checker interface {
	DoSyncCheck(who string) bool
	SanityCheck() error
	Show(who string)
	PrintDetailedMap(json jwriter.ObjectState)
	DumpJSON() ([]byte, error)
}

type Manager interface {
	Querier
	Notifier
	Mapper
	Checker
}
