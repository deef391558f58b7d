package aspacem

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/wnxd/aspacem/kernel"
)

const (
	AddrMin uint64 = 0
	AddrMax uint64 = ^uint64(0)
)

// SyncRules widen the protection comparison of the sync check for
// kernels that report bits differently from what was requested.
type SyncRules struct {
	SloppyExec bool
	SloppyRead bool
	// NoDevIno lists name fragments whose dev/ino are never compared.
	NoDevIno []string
}

func (r SyncRules) CompareDevIno(name string) bool {
	for _, frag := range r.NoDevIno {
		if strings.Contains(name, frag) {
			return false
		}
	}
	return true
}

func DefaultSyncRules(arch kernel.Arch) SyncRules {
	rules := SyncRules{NoDevIno: []string{"/dev/zero (deleted)", "/.lib-ro/"}}
	switch arch {
	case kernel.ARCH_X86, kernel.ARCH_S390X:
		rules.SloppyExec = true
	case kernel.ARCH_MIPS32, kernel.ARCH_MIPS64:
		rules.SloppyExec = true
		rules.SloppyRead = true
	}
	return rules
}

type Config struct {
	// MinAddr and MaxAddr bound the governed address space; everything
	// outside is held as fixed reservations.
	MinAddr uint64
	MaxAddr uint64
	// CStart and VStart are where Any searches begin for the client and
	// for the tool itself.
	CStart uint64
	VStart uint64

	MaxSegments  int
	NameBytes    int
	MaxMapsBytes int

	SyncRules SyncRules
	// Paranoid runs the full sanity check after every mutation.
	Paranoid bool

	Logger *slog.Logger
	Exit   func(code int)
}

func DefaultConfig(arch kernel.Arch) Config {
	cfg := Config{
		MinAddr:      0x1000,
		MaxAddr:      0x7fffffffffff,
		CStart:       0x4000000,
		MaxSegments:  5000,
		NameBytes:    1 << 20,
		MaxMapsBytes: 100000,
		SyncRules:    DefaultSyncRules(arch),
		Logger:       slog.New(slog.NewTextHandler(os.Stderr, nil)),
		Exit:         os.Exit,
	}
	switch arch {
	case kernel.ARCH_ARM, kernel.ARCH_X86, kernel.ARCH_MIPS32:
		cfg.MaxAddr = 0xbfffffff
	}
	cfg.VStart = AlignDown(cfg.MinAddr+(cfg.MaxAddr-cfg.MinAddr)/2, 0x10000)
	return cfg
}

func (cfg *Config) Validate(pageSize uint64) error {
	if pageSize == 0 || pageSize&(pageSize-1) != 0 {
		return errors.Newf("page size %#x is not a power of two", pageSize)
	}
	if !IsAligned(cfg.MinAddr, pageSize) || !IsAligned(cfg.MaxAddr+1, pageSize) {
		return errors.Newf("governed bounds %#x-%#x are not page aligned", cfg.MinAddr, cfg.MaxAddr)
	}
	if cfg.MinAddr >= cfg.MaxAddr {
		return errors.Newf("governed bounds %#x-%#x are inverted", cfg.MinAddr, cfg.MaxAddr)
	}
	for _, start := range [...]uint64{cfg.CStart, cfg.VStart} {
		if start < cfg.MinAddr || start > cfg.MaxAddr || !IsAligned(start, pageSize) {
			return errors.Newf("search origin %#x outside %#x-%#x", start, cfg.MinAddr, cfg.MaxAddr)
		}
	}
	if cfg.MaxSegments < 3 {
		return errors.Newf("MaxSegments %d is too small", cfg.MaxSegments)
	}
	if cfg.MaxMapsBytes <= 0 || cfg.NameBytes <= 0 {
		return errors.New("buffer sizes must be positive")
	}
	return nil
}
