package aspacem

import (
	"errors"
	"slices"
	"testing"

	"github.com/wnxd/aspacem/aspacem"
	"github.com/wnxd/aspacem/kernel"
)

func TestMmapModelDiverged(t *testing.T) {
	f := newFixture(t, nil, nil)
	before := slices.Clone(f.sp.segs)
	f.sim.Misplace(0x50000000)
	_, err := f.sp.MmapAnonFixedClient(0x10000000, ps, rw)
	if !errors.Is(err, aspacem.ErrModelDiverged) {
		t.Fatalf("got %v, want ErrModelDiverged", err)
	}
	if len(f.sim.Regions()) != 0 {
		t.Fatalf("misplaced mapping left behind: %v", f.sim.Regions())
	}
	if !slices.Equal(before, f.sp.segs) {
		t.Fatal("table changed")
	}
	f.check()
}

func TestMmapFixedRefused(t *testing.T) {
	f := newFixture(t, nil, nil)
	addr, err := f.sp.MmapAnonFloatValgrind(2 * ps)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.sp.MmapAnonFixedClient(addr, ps, rw); !errors.Is(err, aspacem.ErrAddressInvalid) {
		t.Fatalf("got %v, want ErrAddressInvalid", err)
	}
	if _, err := f.sp.MmapAnonFixedClient(0x10000100, ps, rw); !errors.Is(err, aspacem.ErrArgumentInvalid) {
		t.Fatalf("got %v, want ErrArgumentInvalid", err)
	}
	fd := f.file("/etc/passwd", 71)
	if _, err := f.sp.MmapFileFixedClient(0x10000000, ps, r, fd, 0x10); !errors.Is(err, aspacem.ErrArgumentInvalid) {
		t.Fatalf("misaligned offset: %v", err)
	}
	if _, err := f.sp.MmapFileFixedClient(0x10000000, ps, r, 99, 0); !errors.Is(err, kernel.ErrBadFd) {
		t.Fatalf("bad fd: %v", err)
	}
	if f.sp.FindSegment(0x10000000) != nil {
		t.Fatal("failed mapping recorded")
	}
	f.check()
}

func TestMmapFloat(t *testing.T) {
	f := newFixture(t, nil, nil)
	lay := f.sp.Layout()
	fd := f.file("/opt/tool/vgpreload.so", 81)

	heap, err := f.sp.MmapClientHeapSegment(4*ps, rw)
	if err != nil {
		t.Fatal(err)
	}
	anon, err := f.sp.MmapAnonFloatClient(ps, rw)
	if err != nil {
		t.Fatal(err)
	}
	if heap != lay.CStart || anon != heap+4*ps {
		t.Fatalf("client placements %#x %#x", heap, anon)
	}
	if seg := f.segAt(heap); !seg.IsCH || seg.Size() != 4*ps {
		t.Fatalf("heap merged with plain anon: %v", seg)
	}

	tests := []struct {
		name string
		mmap func() (uint64, error)
		kind aspacem.SegKind
		prot kernel.MemProt
	}{
		{"anon", func() (uint64, error) { return f.sp.MmapAnonFloatValgrind(ps) }, aspacem.SK_ANON_V, kernel.MEM_PROT_ALL},
		{"file", func() (uint64, error) { return f.sp.MmapFileFloatValgrind(2*ps, rx, fd, 0) }, aspacem.SK_FILE_V, rx},
		{"shared file", func() (uint64, error) { return f.sp.MmapSharedFileFloatValgrind(ps, r, fd, ps) }, aspacem.SK_FILE_V, r},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := tt.mmap()
			if err != nil {
				t.Fatal(err)
			}
			if addr < lay.VStart {
				t.Fatalf("tool mapping at %#x below %#x", addr, lay.VStart)
			}
			seg := f.segAt(addr)
			if seg.Kind != tt.kind || seg.Prot() != tt.prot || seg.Start != addr {
				t.Fatalf("got %v", seg)
			}
			if seg.IsFile() {
				if name, _ := f.sp.SegmentName(&seg); name != "/opt/tool/vgpreload.so" {
					t.Fatalf("name %q", name)
				}
			}
		})
	}
	f.check()
}

func TestMmapNamedFile(t *testing.T) {
	f := newFixture(t, nil, nil)
	fd := f.file("/proc/self/fd/7", 91)
	if _, err := f.sp.MmapNamedFileFixedClient(0x10000000, ps, r, fd, 0, "/usr/bin/true"); err != nil {
		t.Fatal(err)
	}
	seg := f.segAt(0x10000000)
	if name, _ := f.sp.SegmentName(&seg); name != "/usr/bin/true" {
		t.Fatalf("name %q", name)
	}
	if _, err := f.sp.MmapFileFixedClientFlags(0x10001000, ps, rw, kernel.MAP_SHARED, fd, ps); err != nil {
		t.Fatal(err)
	}
	if seg := f.segAt(0x10001000); seg.Kind != aspacem.SK_FILE_C || seg.Start != 0x10001000 {
		t.Fatalf("got %v", seg)
	}
	f.check()
}

func TestMunmapOwnership(t *testing.T) {
	f := newFixture(t, nil, nil)
	tool, err := f.sp.MmapAnonFloatValgrind(ps)
	if err != nil {
		t.Fatal(err)
	}
	client, err := f.sp.MmapAnonFloatClient(ps, rw)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.sp.MunmapClient(tool, ps); !errors.Is(err, aspacem.ErrKindMismatch) {
		t.Fatalf("client unmapping tool memory: %v", err)
	}
	if err := f.sp.MunmapValgrind(client, ps); !errors.Is(err, aspacem.ErrKindMismatch) {
		t.Fatalf("tool unmapping client memory: %v", err)
	}
	if _, err := f.sp.MunmapClient(client, 0); !errors.Is(err, aspacem.ErrArgumentInvalid) {
		t.Fatalf("empty munmap: %v", err)
	}
	if err := f.sp.MunmapValgrind(tool, ps); err != nil {
		t.Fatal(err)
	}
	if _, err := f.sp.MunmapClient(client, ps); err != nil {
		t.Fatal(err)
	}
	if len(f.sim.Regions()) != 0 {
		t.Fatalf("kernel still maps %v", f.sim.Regions())
	}
	f.check()
}
