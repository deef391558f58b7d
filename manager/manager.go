// Package manager builds address-space managers.
package manager

import (
	"github.com/wnxd/aspacem/aspacem"
	internal "github.com/wnxd/aspacem/internal/aspacem"
	"github.com/wnxd/aspacem/kernel"
	"github.com/wnxd/aspacem/mapsource"
)

// New builds the segment table for the address space behind k, importing
// every mapping src reports as belonging to the tool.
func New(k kernel.Kernel, src mapsource.Source, cfg aspacem.Config) (aspacem.Manager, error) {
	sp, err := internal.New(k, src, cfg)
	if err != nil {
		return nil, err
	}
	return sp, nil
}
