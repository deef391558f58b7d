package manager

import (
	"github.com/cockroachdb/errors"

	"github.com/wnxd/aspacem/aspacem"
	"github.com/wnxd/aspacem/mapsource"
)

type SourceCtor func(cfg aspacem.Config) mapsource.Source

var sourceMap = make(map[string]SourceCtor)

// Register installs the maps source used for an operating system, named
// as in runtime.GOOS.
func Register(goos string, ctor SourceCtor) bool {
	if _, ok := sourceMap[goos]; ok {
		return false
	}
	sourceMap[goos] = ctor
	return true
}

func Source(goos string, cfg aspacem.Config) (mapsource.Source, error) {
	ctor, ok := sourceMap[goos]
	if !ok {
		return nil, errors.Wrapf(ErrNoSource, "%s", goos)
	}
	return ctor(cfg), nil
}

var ErrNoSource = errors.New("no maps source registered")
