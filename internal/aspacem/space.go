package aspacem

import (
	"math/bits"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/wnxd/aspacem/aspacem"
	"github.com/wnxd/aspacem/kernel"
	"github.com/wnxd/aspacem/mapsource"
)

var _ aspacem.Manager = (*Space)(nil)

// Space is the segment table of one process together with the name pool
// its file segments refer to. Exported methods take the lock; everything
// lowercase assumes it is held.
type Space struct {
	mu        sync.Mutex
	cfg       aspacem.Config
	kern      kernel.Kernel
	source    mapsource.Source
	log       *slog.Logger
	layout    aspacem.Layout
	pageShift uint
	names     segNames
	segs      []aspacem.Segment
	cache     findCache
}

func New(k kernel.Kernel, src mapsource.Source, cfg aspacem.Config) (*Space, error) {
	sp := new(Space)
	if err := sp.ctor(k, src, cfg); err != nil {
		return nil, err
	}
	return sp, nil
}

func (sp *Space) ctor(k kernel.Kernel, src mapsource.Source, cfg aspacem.Config) error {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if cfg.Exit == nil {
		cfg.Exit = os.Exit
	}
	pageSize := k.PageSize()
	if err := cfg.Validate(pageSize); err != nil {
		return errors.Wrap(err, "aspacem config")
	}
	sp.cfg = cfg
	sp.kern = k
	sp.source = src
	sp.log = cfg.Logger
	sp.layout = aspacem.Layout{
		MinAddr:  cfg.MinAddr,
		MaxAddr:  cfg.MaxAddr,
		CStart:   cfg.CStart,
		VStart:   cfg.VStart,
		PageSize: pageSize,
	}
	sp.pageShift = uint(bits.TrailingZeros64(pageSize))
	sp.names.ctor(cfg.NameBytes)
	sp.cache.reset()
	sp.segs = make([]aspacem.Segment, 1, cfg.MaxSegments)
	sp.segs[0] = aspacem.NewSegment(aspacem.AddrMin, aspacem.AddrMax)

	if cfg.MinAddr > aspacem.AddrMin {
		sp.addSegment(reservation(aspacem.AddrMin, cfg.MinAddr-1))
	}
	if cfg.MaxAddr < aspacem.AddrMax {
		sp.addSegment(reservation(cfg.MaxAddr+1, aspacem.AddrMax))
	}
	sp.log.Debug("aspacem: governed range",
		"min", hexAttr(cfg.MinAddr), "max", hexAttr(cfg.MaxAddr),
		"cstart", hexAttr(cfg.CStart), "vstart", hexAttr(cfg.VStart))

	sp.parseMaps(sp.readMapsCallback, nil)
	sp.show("initial layout")
	if err := sp.sanityCheck(); err != nil {
		sp.barf("initial table is insane: %v", err)
	}
	sp.doSyncCheck("startup")
	return nil
}

func reservation(start, end uint64) aspacem.Segment {
	seg := aspacem.NewSegment(start, end)
	seg.Kind = aspacem.SK_RESVN
	seg.Smode = aspacem.SM_FIXED
	return seg
}

func (sp *Space) parseMaps(mapping mapsource.RecordMapping, gap mapsource.RecordGap) {
	err := sp.source.Parse(mapping, gap)
	switch {
	case err == nil:
	case errors.Is(err, mapsource.ErrBufferTooSmall):
		sp.barfTooLow("MaxMapsBytes")
	default:
		sp.barf("reading kernel mappings: %v", err)
	}
}

func (sp *Space) readMapsCallback(m mapsource.Mapping) {
	if m.Len == 0 {
		return
	}
	seg := aspacem.NewSegment(m.Addr, m.Addr+m.Len-1)
	seg.Kind = aspacem.SK_ANON_V
	seg.SetProt(m.Prot)
	if m.Dev != 0 || m.Ino != 0 {
		seg.Kind = aspacem.SK_FILE_V
		seg.Dev, seg.Ino = m.Dev, m.Ino
		seg.Offset = m.Offset
		if m.Name != "" {
			if idx, err := sp.names.intern(m.Name); err == nil {
				seg.FnIdx = idx
			}
		}
	}
	sp.addSegment(seg)
}
