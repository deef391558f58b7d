package manager

import (
	"errors"
	"testing"

	"github.com/wnxd/aspacem/aspacem"
	"github.com/wnxd/aspacem/kernel"
	"github.com/wnxd/aspacem/mapsource"
)

func TestRegister(t *testing.T) {
	text := func() []byte { return nil }
	ctor := func(cfg aspacem.Config) mapsource.Source {
		return mapsource.Text(text, cfg.MaxMapsBytes)
	}
	if !Register("test-os", ctor) {
		t.Fatal("first registration refused")
	}
	if Register("test-os", ctor) {
		t.Fatal("duplicate registration accepted")
	}
	cfg := aspacem.DefaultConfig(kernel.ARCH_X86_64)
	if _, err := Source("test-os", cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := Source("plan10", cfg); !errors.Is(err, ErrNoSource) {
		t.Fatalf("got %v, want ErrNoSource", err)
	}
}

func TestNewSim(t *testing.T) {
	sim := kernel.NewSim(kernel.ARCH_X86_64, 0x1000)
	cfg := aspacem.DefaultConfig(kernel.ARCH_X86_64)
	mgr, err := New(sim, mapsource.Text(sim.Maps, cfg.MaxMapsBytes), cfg)
	if err != nil {
		t.Fatal(err)
	}
	addr, err := mgr.MmapAnonFloatClient(0x3000, kernel.MEM_PROT_READ|kernel.MEM_PROT_WRITE)
	if err != nil {
		t.Fatal(err)
	}
	if seg := mgr.FindSegment(addr); seg == nil || seg.Kind != aspacem.SK_ANON_C || seg.Size() != 0x3000 {
		t.Fatalf("segment at %#x: %v", addr, seg)
	}
	if !mgr.DoSyncCheck("test") {
		t.Fatal("sync check failed")
	}
}

func TestNewRejectsConfig(t *testing.T) {
	sim := kernel.NewSim(kernel.ARCH_X86_64, 0x1000)
	cfg := aspacem.DefaultConfig(kernel.ARCH_X86_64)
	cfg.MinAddr = 0x1234
	if _, err := New(sim, mapsource.Text(sim.Maps, cfg.MaxMapsBytes), cfg); err == nil {
		t.Fatal("misaligned MinAddr accepted")
	}
}
