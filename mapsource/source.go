// Package mapsource reads the kernel's own list of mappings.
//
// A Source reports every mapping in ascending address order through
// RecordMapping, and every hole between them through RecordGap, so that the
// two callbacks together cover the whole address space exactly once.
package mapsource

import (
	"github.com/cockroachdb/errors"

	"github.com/wnxd/aspacem/kernel"
)

var (
	ErrBufferTooSmall = errors.New("maps buffer too small")
	ErrSyntax         = errors.New("maps syntax error")
	ErrNoMoreRegions  = errors.New("no more regions")
)

type Mapping struct {
	Addr   uint64
	Len    uint64
	Prot   kernel.MemProt
	Shared bool
	Dev    uint64
	Ino    uint64
	Offset uint64
	Name   string
}

type RecordMapping func(m Mapping)

type RecordGap func(addr, length uint64)

type Source interface {
	Parse(mapping RecordMapping, gap RecordGap) error
}

type walker struct {
	mapping  RecordMapping
	gap      RecordGap
	gapStart uint64
	done     bool
}

func (w *walker) add(m Mapping) {
	if m.Len == 0 || w.done {
		return
	}
	if w.gap != nil && w.gapStart < m.Addr {
		w.gap(w.gapStart, m.Addr-w.gapStart)
	}
	if w.mapping != nil {
		w.mapping(m)
	}
	w.gapStart = m.Addr + m.Len
	if w.gapStart == 0 {
		w.done = true
	}
}

func (w *walker) finish() {
	if w.done || w.gap == nil {
		return
	}
	w.gap(w.gapStart, ^uint64(0)-w.gapStart+1)
}
