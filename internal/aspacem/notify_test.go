package aspacem

import (
	"errors"
	"slices"
	"testing"

	"github.com/wnxd/aspacem/aspacem"
	"github.com/wnxd/aspacem/kernel"
)

const anonFlags = kernel.MAP_FIXED | kernel.MAP_PRIVATE | kernel.MAP_ANONYMOUS

func TestFixedMmapRoundTrip(t *testing.T) {
	f := newFixture(t, nil, nil)
	fd := f.file("/srv/data.bin", 41)
	tests := []struct {
		name  string
		start uint64
		len   uint64
		prot  kernel.MemProt
		kind  aspacem.SegKind
		mmap  func(start, length uint64, prot kernel.MemProt) (uint64, error)
	}{
		{"anon rw", 0x10000000, 3 * ps, rw, aspacem.SK_ANON_C, f.sp.MmapAnonFixedClient},
		{"anon none", 0x10100000, ps, kernel.MEM_PROT_NONE, aspacem.SK_ANON_C, f.sp.MmapAnonFixedClient},
		{"file rx", 0x10200000, 5 * ps, rx, aspacem.SK_FILE_C, func(start, length uint64, prot kernel.MemProt) (uint64, error) {
			return f.sp.MmapFileFixedClient(start, length, prot, fd, 0)
		}},
		{"file rounded", 0x10300000, ps + 1, r, aspacem.SK_FILE_C, func(start, length uint64, prot kernel.MemProt) (uint64, error) {
			return f.sp.MmapFileFixedClient(start, length, prot, fd, 2*ps)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := tt.mmap(tt.start, tt.len, tt.prot)
			if err != nil {
				t.Fatal(err)
			}
			seg := f.sp.FindSegment(addr)
			if seg == nil || seg.Kind != tt.kind || seg.Start != tt.start || seg.Prot() != tt.prot {
				t.Fatalf("got %v", seg)
			}
			if want := aspacem.Align(tt.len, ps); seg.Size() != want {
				t.Fatalf("size %#x, want %#x", seg.Size(), want)
			}
		})
	}
	f.check()
}

func TestMunmapClearsOccupancy(t *testing.T) {
	f := newFixture(t, nil, nil)
	const p = 0x10000000
	if _, err := f.sp.MmapAnonFixedClient(p, 4*ps, rw); err != nil {
		t.Fatal(err)
	}
	if _, err := f.sp.MunmapClient(p+ps, 2*ps); err != nil {
		t.Fatal(err)
	}
	for addr := uint64(p + ps); addr < p+3*ps; addr += ps {
		if seg := f.sp.FindSegment(addr); seg != nil {
			t.Fatalf("%#x still mapped: %v", addr, seg)
		}
		if f.sp.FindFreeSegment(addr) == nil {
			t.Fatalf("%#x not free", addr)
		}
	}
	for _, addr := range []uint64{p, p + 3*ps} {
		if seg := f.sp.FindSegment(addr); seg == nil || seg.Kind != aspacem.SK_ANON_C {
			t.Fatalf("%#x lost: %v", addr, seg)
		}
	}
	f.check()
}

func TestMunmapOutsideBounds(t *testing.T) {
	f := newFixture(t, nil, nil)
	start := uint64(top - ps)
	if _, err := f.sp.NotifyClientMmap(start, 2*ps, rw, anonFlags, -1, 0); err != nil {
		t.Fatal(err)
	}
	if seg := f.segAt(top); seg.Kind != aspacem.SK_ANON_C {
		t.Fatalf("mapping above MaxAddr not recorded: %v", seg)
	}
	if _, err := f.sp.NotifyMunmap(start, 2*ps); err != nil {
		t.Fatal(err)
	}
	if f.sp.FindFreeSegment(start) == nil {
		t.Fatal("governed part not freed")
	}
	above := f.segAt(top)
	if above.Kind != aspacem.SK_RESVN || above.Smode != aspacem.SM_FIXED || above.Start != top || above.End != aspacem.AddrMax {
		t.Fatalf("above MaxAddr: %v", above)
	}

	if _, err := f.sp.NotifyMunmap(0, 2*ps); err != nil {
		t.Fatal(err)
	}
	if below := f.segAt(0); below.Kind != aspacem.SK_RESVN || below.End != f.sp.layout.MinAddr-1 {
		t.Fatalf("below MinAddr: %v", below)
	}
	if f.sp.FindFreeSegment(f.sp.layout.MinAddr) == nil {
		t.Fatal("MinAddr not free")
	}
	if err := f.sp.SanityCheck(); err != nil {
		t.Fatal(err)
	}
}

func TestNotifyDiscard(t *testing.T) {
	f := newFixture(t, nil, nil)
	const p = 0x10000000
	if _, err := f.sp.MmapAnonFixedClient(p, 2*ps, rx); err != nil {
		t.Fatal(err)
	}
	if f.sp.SetSegmentHasT(0x20000000) {
		t.Fatal("HasT set on free space")
	}
	if !f.sp.SetSegmentHasT(p) {
		t.Fatal("HasT refused")
	}
	discard, err := f.sp.NotifyMprotect(p, ps, r)
	if err != nil || !discard {
		t.Fatalf("mprotect: %v %v", discard, err)
	}
	discard, err = f.sp.NotifyMunmap(0x30000000, ps)
	if err != nil || discard {
		t.Fatalf("munmap of untranslated space: %v %v", discard, err)
	}
	discard, err = f.sp.NotifyClientMmap(p, 2*ps, rw, anonFlags, -1, 0)
	if err != nil || !discard {
		t.Fatalf("mmap over translated space: %v %v", discard, err)
	}
	if f.segAt(p).HasT {
		t.Fatal("new mapping inherited HasT")
	}
}

func TestNotifyMprotect(t *testing.T) {
	f := newFixture(t, nil, nil)
	const p = 0x10000000
	if _, err := f.sp.MmapAnonFixedClient(p, 3*ps, rw); err != nil {
		t.Fatal(err)
	}
	if _, err := f.sp.NotifyMprotect(p+ps, ps, r); err != nil {
		t.Fatal(err)
	}
	if seg := f.segAt(p); seg.End != p+ps-1 {
		t.Fatalf("low part: %v", seg)
	}
	if seg := f.segAt(p + ps); seg.Prot() != r || seg.Size() != ps {
		t.Fatalf("middle: %v", seg)
	}
	if _, err := f.sp.NotifyMprotect(p, 4*ps, rw); err != nil {
		t.Fatal(err)
	}
	if seg := f.segAt(p); seg.End != p+3*ps-1 || seg.Prot() != rw {
		t.Fatalf("after restore: %v", seg)
	}
	if seg := f.segAt(p + 3*ps); seg.Kind != aspacem.SK_FREE || seg.Prot() != kernel.MEM_PROT_NONE {
		t.Fatalf("free space picked up protection: %v", seg)
	}
}

func TestNotifyMisuse(t *testing.T) {
	f := newFixture(t, nil, nil)
	before := slices.Clone(f.sp.segs)
	calls := []struct {
		name string
		call func() error
	}{
		{"mmap misaligned", func() error {
			_, err := f.sp.NotifyClientMmap(0x10000001, ps, rw, anonFlags, -1, 0)
			return err
		}},
		{"mmap empty", func() error {
			_, err := f.sp.NotifyClientMmap(0x10000000, 0, rw, anonFlags, -1, 0)
			return err
		}},
		{"mmap wraps", func() error {
			_, err := f.sp.NotifyValgrindMmap(aspacem.AddrMax-ps+1, 2*ps, rw, anonFlags, -1, 0)
			return err
		}},
		{"shmat misaligned", func() error {
			_, err := f.sp.NotifyClientShmat(0x10000010, ps, rw)
			return err
		}},
		{"mprotect misaligned", func() error {
			_, err := f.sp.NotifyMprotect(0x10000010, ps, rw)
			return err
		}},
		{"munmap misaligned", func() error {
			_, err := f.sp.NotifyMunmap(0x10000010, ps)
			return err
		}},
	}
	for _, c := range calls {
		t.Run(c.name, func(t *testing.T) {
			if err := c.call(); !errors.Is(err, aspacem.ErrArgumentInvalid) {
				t.Fatalf("got %v, want ErrArgumentInvalid", err)
			}
			if !slices.Equal(before, f.sp.segs) {
				t.Fatal("table changed")
			}
		})
	}
}

func TestNotifyFileIdentity(t *testing.T) {
	f := newFixture(t, nil, nil)
	fd := f.file("/var/cache/blob", 51)
	if _, err := f.sp.NotifyClientMmap(0x10000000, ps, r, kernel.MAP_FIXED|kernel.MAP_PRIVATE, fd, 0x4000); err != nil {
		t.Fatal(err)
	}
	seg := f.segAt(0x10000000)
	if seg.Kind != aspacem.SK_FILE_C || seg.Ino != 51 || seg.Mode != 0o100644 || seg.Offset != 0x4000 {
		t.Fatalf("got %v", seg)
	}
	if name, ok := f.sp.SegmentName(&seg); !ok || name != "/var/cache/blob" {
		t.Fatalf("name %q %v", name, ok)
	}

	if _, err := f.sp.NotifyClientMmap(0x20000000, ps, r, kernel.MAP_FIXED|kernel.MAP_PRIVATE, 99, 0); err != nil {
		t.Fatal(err)
	}
	seg = f.segAt(0x20000000)
	if seg.Kind != aspacem.SK_FILE_C || seg.Dev != 0 || seg.Ino != 0 || seg.FnIdx != -1 {
		t.Fatalf("unknown fd: %v", seg)
	}
}

func TestNotifyNamePoolFull(t *testing.T) {
	f := newFixture(t, func(cfg *aspacem.Config) { cfg.NameBytes = 4 }, nil)
	fd := f.file("/a/long/file/name", 61)
	if _, err := f.sp.NotifyClientMmap(0x10000000, ps, r, kernel.MAP_FIXED|kernel.MAP_PRIVATE, fd, 0); err != nil {
		t.Fatal(err)
	}
	if seg := f.segAt(0x10000000); seg.FnIdx != -1 || seg.Ino != 61 {
		t.Fatalf("got %v", seg)
	}
}

func TestNotifyShmat(t *testing.T) {
	f := newFixture(t, nil, nil)
	const p = 0x10000000
	for _, addr := range []uint64{p, p + ps} {
		if _, err := f.sp.NotifyClientShmat(addr, ps, rw); err != nil {
			t.Fatal(err)
		}
	}
	if s1, s2 := f.segAt(p), f.segAt(p+ps); s1.Kind != aspacem.SK_SHM_C || s2.Kind != aspacem.SK_SHM_C || s1.End != p+ps-1 {
		t.Fatalf("shm segments merged: %v %v", s1, s2)
	}
}

func TestSetSegmentIsCH(t *testing.T) {
	f := newFixture(t, nil, nil)
	const p = 0x10000000
	if _, err := f.sp.MmapAnonFixedClient(p, ps, rw); err != nil {
		t.Fatal(err)
	}
	if f.sp.SetSegmentIsCH(0x20000000) {
		t.Fatal("heap marker on free space")
	}
	if !f.sp.SetSegmentIsCH(p) || !f.segAt(p).IsCH {
		t.Fatal("heap marker refused")
	}
}

func TestQueries(t *testing.T) {
	f := newFixture(t, nil, nil)
	populate(t, f)
	vstart := f.sp.layout.VStart
	tests := []struct {
		name string
		got  bool
		want bool
	}{
		{"free hole", f.sp.IsFree(0x20000000, 0x10000), true},
		{"free over mapping", f.sp.IsFree(0x0fff0000, 0x20000), false},
		{"free or resvn low", f.sp.IsFreeOrResvn(0, 0x2000), true},
		{"client rw", f.sp.IsValidForClient(0x10000000, 4*ps, rw), true},
		{"client needs w", f.sp.IsValidForClient(0x10004000, ps, rw), false},
		{"client spans prot", f.sp.IsValidForClient(0x10003000, 2*ps, r), true},
		{"client over free", f.sp.IsValidForClient(0x10005000, 2*ps, r), false},
		{"client or free", f.sp.IsValidForClientOrFreeOrResvn(0x10005000, 2*ps, r), true},
		{"client over tool", f.sp.IsValidForClient(vstart, ps, kernel.MEM_PROT_NONE), false},
		{"tool", f.sp.IsValidForValgrind(vstart, 3*ps, kernel.MEM_PROT_ALL), true},
		{"tool over client", f.sp.IsValidForValgrind(0x10000000, ps, kernel.MEM_PROT_NONE), false},
		{"empty range", f.sp.IsValidForClient(0x20000000, 0, rw), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Fatalf("got %v", tt.got)
			}
		})
	}

	if seg := f.sp.FindNextSegment(0x10000000, true); seg == nil || seg.Start != 0x10004000 {
		t.Fatalf("next: %v", seg)
	}
	if seg := f.sp.FindNextSegment(0x10010000, false); seg == nil || seg.Start != 0x10004000 {
		t.Fatalf("previous across free: %v", seg)
	}
	if seg := f.sp.FindNextSegment(0, false); seg != nil {
		t.Fatalf("before first: %v", seg)
	}
	starts := f.sp.GetSegmentStarts(aspacem.SK_CLIENT)
	if want := []uint64{0x10000000, 0x10004000, 0x10010000}; !slices.Equal(starts, want) {
		t.Fatalf("client starts %#x", starts)
	}
}
