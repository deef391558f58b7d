package aspacem

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"

	"github.com/wnxd/aspacem/aspacem"
)

func (sp *Space) show(who string) {
	if !sp.log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	sp.log.Debug("aspacem: segment table", "who", who, "segments", len(sp.segs), "names", len(sp.names.index))
	for i := range sp.segs {
		seg := &sp.segs[i]
		attrs := []any{
			"idx", i,
			"kind", seg.Kind.String(),
			"start", hexAttr(seg.Start),
			"end", hexAttr(seg.End),
		}
		switch {
		case seg.Kind == aspacem.SK_RESVN:
			attrs = append(attrs, "smode", seg.Smode.String())
		case seg.Kind != aspacem.SK_FREE:
			attrs = append(attrs, "prot", seg.Prot().String(), "t", seg.HasT, "ch", seg.IsCH)
		}
		if seg.IsFile() {
			name, _ := sp.names.name(seg.FnIdx)
			attrs = append(attrs, "dev", hexAttr(seg.Dev), "ino", seg.Ino, "off", hexAttr(seg.Offset), "name", name)
		}
		sp.log.Debug("aspacem: segment", attrs...)
	}
}

// Show logs the whole table at debug level.
func (sp *Space) Show(who string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.show(who)
}

func hex(v uint64) string {
	return fmt.Sprintf("%#x", v)
}

type hexAttr uint64

func (h hexAttr) LogValue() slog.Value {
	return slog.StringValue(hex(uint64(h)))
}

func (sp *Space) printDetailedMap(json jwriter.ObjectState) {
	json.Name("PageSize").String(hex(sp.layout.PageSize))
	json.Name("MinAddr").String(hex(sp.layout.MinAddr))
	json.Name("MaxAddr").String(hex(sp.layout.MaxAddr))
	json.Name("SegmentCount").Int(len(sp.segs))

	arr := json.Name("Segments").Array()
	for i := range sp.segs {
		seg := &sp.segs[i]
		obj := arr.Object()
		obj.Name("Kind").String(seg.Kind.String())
		obj.Name("Start").String(hex(seg.Start))
		obj.Name("End").String(hex(seg.End))
		switch {
		case seg.Kind == aspacem.SK_RESVN:
			obj.Name("ShrinkMode").String(seg.Smode.String())
		case seg.Kind != aspacem.SK_FREE:
			obj.Name("Prot").String(seg.Prot().String())
			obj.Name("Translated").Bool(seg.HasT)
			obj.Name("ClientHeap").Bool(seg.IsCH)
		}
		if seg.IsFile() {
			obj.Name("Dev").String(hex(seg.Dev))
			obj.Name("Ino").String(hex(seg.Ino))
			obj.Name("Offset").String(hex(seg.Offset))
			if name, ok := sp.names.name(seg.FnIdx); ok {
				obj.Name("Name").String(name)
			}
		}
		obj.End()
	}
	arr.End()
}

// PrintDetailedMap writes the table into an enclosing JSON object.
func (sp *Space) PrintDetailedMap(json jwriter.ObjectState) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.printDetailedMap(json)
}

func (sp *Space) DumpJSON() ([]byte, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	w := jwriter.NewWriter()
	obj := w.Object()
	sp.printDetailedMap(obj)
	obj.End()
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "segment table json")
	}
	return w.Bytes(), nil
}
