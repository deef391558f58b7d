package aspacem

import (
	"errors"
	"testing"

	"github.com/wnxd/aspacem/aspacem"
)

func TestChangeOwnershipVToC(t *testing.T) {
	f := newFixture(t, nil, nil)
	v, err := f.sp.MmapAnonFloatValgrind(3 * ps)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name  string
		start uint64
		len   uint64
		ok    bool
	}{
		{"free space", 0x10000000, ps, false},
		{"past the segment", v + 2*ps, 2 * ps, false},
		{"misaligned", v + 0x10, ps, false},
		{"empty", v, 0, true},
		{"middle page", v + ps, ps, true},
		{"already client", v + ps, ps, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.sp.ChangeOwnershipVToC(tt.start, tt.len); got != tt.ok {
				t.Fatalf("got %v", got)
			}
		})
	}
	for i, want := range []aspacem.SegKind{aspacem.SK_ANON_V, aspacem.SK_ANON_C, aspacem.SK_ANON_V} {
		if seg := f.segAt(v + uint64(i)*ps); seg.Kind != want || seg.Size() != ps {
			t.Fatalf("page %d: %v", i, seg)
		}
	}
	f.check()
}

func TestCreateReservation(t *testing.T) {
	f := newFixture(t, nil, nil)
	const p = 0x10000000
	if _, err := f.sp.MmapAnonFixedClient(p, ps, rw); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name  string
		start uint64
		len   uint64
		extra int64
		ok    bool
	}{
		{"over mapping", p - ps, 2 * ps, 0, false},
		{"extra below hits mapping", p + ps, ps, -ps, false},
		{"extra above hits mapping", p - ps, ps, ps, false},
		{"misaligned", p + 0x1800, ps, 0, false},
		{"below with margin", p - 4*ps, 2 * ps, ps, true},
		{"above with margin", p + 2*ps, 2 * ps, -ps, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.sp.CreateReservation(tt.start, tt.len, aspacem.SM_LOWER, tt.extra); got != tt.ok {
				t.Fatalf("got %v", got)
			}
		})
	}
	seg := f.segAt(p + 2*ps)
	if seg.Kind != aspacem.SK_RESVN || seg.Smode != aspacem.SM_LOWER || seg.Size() != 2*ps {
		t.Fatalf("got %v", seg)
	}
	if f.segAt(p+ps).Kind != aspacem.SK_FREE {
		t.Fatal("extra space was reserved")
	}
	f.check()
}

func TestExtendIntoAdjacentReservation(t *testing.T) {
	f := newFixture(t, nil, nil)
	const up, down = 0x10000000, 0x20000000
	for _, addr := range []uint64{up, down} {
		if _, err := f.sp.MmapAnonFixedClient(addr, ps, rw); err != nil {
			t.Fatal(err)
		}
	}
	if !f.sp.CreateReservation(up+ps, 4*ps, aspacem.SM_LOWER, 0) {
		t.Fatal("upper reservation refused")
	}
	if !f.sp.CreateReservation(down-4*ps, 4*ps, aspacem.SM_UPPER, 0) {
		t.Fatal("lower reservation refused")
	}

	if overflow, err := f.sp.ExtendIntoAdjacentReservationClient(up, 2*ps); err != nil || overflow {
		t.Fatalf("grow up: %v %v", overflow, err)
	}
	if seg := f.segAt(up); seg.Kind != aspacem.SK_ANON_C || seg.Size() != 3*ps {
		t.Fatalf("grown segment: %v", seg)
	}
	if seg := f.segAt(up + 3*ps); seg.Kind != aspacem.SK_RESVN || seg.Size() != 2*ps {
		t.Fatalf("shrunk reservation: %v", seg)
	}
	overflow, err := f.sp.ExtendIntoAdjacentReservationClient(up, 2*ps)
	if !overflow || !errors.Is(err, aspacem.ErrNoSpace) {
		t.Fatalf("overflow: %v %v", overflow, err)
	}

	if overflow, err := f.sp.ExtendIntoAdjacentReservationClient(down, -ps); err != nil || overflow {
		t.Fatalf("grow down: %v %v", overflow, err)
	}
	if seg := f.segAt(down); seg.Start != down-ps || seg.End != down+ps-1 {
		t.Fatalf("grown segment: %v", seg)
	}
	if seg := f.segAt(down - 2*ps); seg.Kind != aspacem.SK_RESVN || seg.End != down-ps-1 {
		t.Fatalf("shrunk reservation: %v", seg)
	}

	if _, err := f.sp.ExtendIntoAdjacentReservationClient(down, ps); !errors.Is(err, aspacem.ErrKindMismatch) {
		t.Fatalf("no reservation above: %v", err)
	}
	if _, err := f.sp.ExtendIntoAdjacentReservationClient(up, 0x10); !errors.Is(err, aspacem.ErrArgumentInvalid) {
		t.Fatalf("misaligned delta: %v", err)
	}
	f.check()
}

func TestExtendMapClient(t *testing.T) {
	f := newFixture(t, nil, nil)
	const p = 0x10000000
	if _, err := f.sp.MmapAnonFixedClient(p, ps, rw); err != nil {
		t.Fatal(err)
	}
	if _, err := f.sp.ExtendMapClient(p, 2*ps); err != nil {
		t.Fatal(err)
	}
	if seg := f.segAt(p); seg.Size() != 3*ps {
		t.Fatalf("got %v", seg)
	}
	if _, err := f.sp.MmapAnonFixedClient(p+4*ps, ps, r); err != nil {
		t.Fatal(err)
	}
	if _, err := f.sp.ExtendMapClient(p, 2*ps); !errors.Is(err, aspacem.ErrNoSpace) {
		t.Fatalf("blocked extend: %v", err)
	}
	if _, err := f.sp.ExtendMapClient(0x30000000, ps); !errors.Is(err, aspacem.ErrKindMismatch) {
		t.Fatalf("extend of free space: %v", err)
	}
	f.check()
}

func TestRelocateNoOverlapClient(t *testing.T) {
	f := newFixture(t, nil, nil)
	fd := f.file("/usr/share/mime.cache", 101)
	const from, to = 0x10000000, 0x20000000
	if _, err := f.sp.MmapFileFixedClient(from, 2*ps, r, fd, 0); err != nil {
		t.Fatal(err)
	}
	idx := f.segAt(from).FnIdx
	if _, err := f.sp.RelocateNoOverlapClient(from, 2*ps, to, 3*ps); err != nil {
		t.Fatal(err)
	}
	seg := f.segAt(to)
	if seg.Kind != aspacem.SK_FILE_C || seg.Start != to || seg.Size() != 3*ps || seg.Offset != 0 || seg.FnIdx != idx {
		t.Fatalf("moved segment: %v", seg)
	}
	if f.sp.FindFreeSegment(from) == nil {
		t.Fatal("old range still occupied")
	}
	if n := f.sp.names.refCount(idx); n != 1 {
		t.Fatalf("name refs %d", n)
	}
	if _, err := f.sp.RelocateNoOverlapClient(to, 3*ps, to+ps, 3*ps); !errors.Is(err, aspacem.ErrArgumentInvalid) {
		t.Fatalf("overlapping move: %v", err)
	}
	if _, err := f.sp.RelocateNoOverlapClient(from, ps, to+0x100000, ps); !errors.Is(err, aspacem.ErrKindMismatch) {
		t.Fatalf("move of free space: %v", err)
	}
	f.check()
}
