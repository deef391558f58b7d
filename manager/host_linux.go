//go:build linux && (amd64 || arm64 || riscv64 || ppc64le)

package manager

import (
	"runtime"

	"github.com/wnxd/aspacem/aspacem"
	"github.com/wnxd/aspacem/kernel"
	"github.com/wnxd/aspacem/mapsource"
)

var _ = Register("linux", func(cfg aspacem.Config) mapsource.Source {
	return mapsource.ProcSelfMaps(cfg.MaxMapsBytes)
})

// NewHost manages the running process's own address space.
func NewHost(cfg aspacem.Config) (aspacem.Manager, error) {
	src, err := Source(runtime.GOOS, cfg)
	if err != nil {
		return nil, err
	}
	return New(kernel.Host(), src, cfg)
}
