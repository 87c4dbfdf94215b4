// Copyright 2022-2024 The Parca Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package addrspace tracks the process, thread and memory-mapping state
// observed in a capture, and resolves instruction pointers to the owning
// module and symbol. Resolution never fails: addresses that cannot be
// attributed resolve to the unknown sentinels.
package addrspace

import (
	"sort"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/ianlancetaylor/demangle"

	"github.com/parca-dev/perf-report/pkg/capture"
)

// Sentinels rendered for addresses without an owning mapping or symbol.
const (
	UnknownPath   = "unknown"
	UnknownSymbol = "unknown"
)

// Symbol is one named routine within a module. Start is module-relative for
// user modules and absolute for kernel symbols. A zero Size means the extent
// is unknown and the symbol owns everything up to its successor.
type Symbol struct {
	Start uint64
	Size  uint64
	Name  string
}

// DemangledName returns the human-readable name of the symbol, demangling
// compiler-mangled forms. Safe to call on a nil receiver, which represents
// an unresolved symbol.
func (s *Symbol) DemangledName() string {
	if s == nil || s.Name == "" {
		return UnknownSymbol
	}
	return demangle.Filter(s.Name)
}

// Mapping is one binary image mapped into an address space.
type Mapping struct {
	Start  uint64
	Len    uint64
	PgOff  uint64
	Path   string
	Kernel bool

	syms       []Symbol
	symsLoaded bool
}

func (m *Mapping) contains(addr uint64) bool {
	return addr >= m.Start && addr < m.Start+m.Len
}

// Thread is one thread of a traced process.
type Thread struct {
	PID  uint32
	TID  uint32
	Comm string

	maps []*Mapping
}

// SymbolSource loads the symbol table backing a mapping.
type SymbolSource interface {
	Load(m *Mapping) ([]Symbol, error)
}

// Table is the address-space model consumed by the report pipeline. It must
// observe every capture record through Update before addresses of that
// record are resolved. Not safe for concurrent use; the pipeline is
// single-threaded.
type Table struct {
	logger     log.Logger
	threads    map[uint64]*Thread
	kernelMaps []*Mapping
	source     SymbolSource
	unknown    *Mapping
}

type Option func(*Table)

// WithSymbolSource sets the source that backs lazy symbol loading. Without
// one every symbol resolves to the unknown sentinel.
func WithSymbolSource(s SymbolSource) Option {
	return func(t *Table) { t.source = s }
}

func NewTable(logger log.Logger, opts ...Option) *Table {
	t := &Table{
		logger:  logger,
		threads: map[uint64]*Thread{},
		unknown: &Mapping{Path: UnknownPath},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Update folds one capture record into the model. Sample records carry no
// address-space state and are ignored here.
func (t *Table) Update(rec capture.Record) {
	switch r := rec.(type) {
	case *capture.MmapRecord:
		m := &Mapping{
			Start:  r.Start,
			Len:    r.Len,
			PgOff:  r.PgOff,
			Path:   r.Path,
			Kernel: r.InKernel(),
		}
		if m.Kernel {
			t.kernelMaps = insertMapping(t.kernelMaps, m)
		} else {
			th := t.FindThreadOrNew(r.PID, r.TID)
			th.maps = insertMapping(th.maps, m)
		}
	case *capture.CommRecord:
		t.FindThreadOrNew(r.PID, r.TID).Comm = r.Comm
	case *capture.ForkRecord:
		parent := t.FindThreadOrNew(r.PPID, r.PTID)
		child := t.FindThreadOrNew(r.PID, r.TID)
		child.Comm = parent.Comm
		child.maps = append([]*Mapping(nil), parent.maps...)
	}
}

// insertMapping keeps the slice sorted by start address so lookups can
// binary search. Mappings the new one overlaps are dropped: the region was
// remapped and addresses in it belong to the latest image.
func insertMapping(maps []*Mapping, m *Mapping) []*Mapping {
	end := m.Start + m.Len
	lo := sort.Search(len(maps), func(i int) bool { return maps[i].Start+maps[i].Len > m.Start })
	hi := lo
	for hi < len(maps) && maps[hi].Start < end {
		hi++
	}
	out := make([]*Mapping, 0, len(maps)-(hi-lo)+1)
	out = append(out, maps[:lo]...)
	out = append(out, m)
	return append(out, maps[hi:]...)
}

// FindThreadOrNew returns the tracked thread for pid/tid, creating it if the
// capture never announced it.
func (t *Table) FindThreadOrNew(pid, tid uint32) *Thread {
	key := uint64(pid)<<32 | uint64(tid)
	th, ok := t.threads[key]
	if !ok {
		th = &Thread{PID: pid, TID: tid}
		t.threads[key] = th
	}
	return th
}

// FindMap returns the mapping owning addr in the thread's address space, or
// the kernel address space when inKernel is set. Misses return a shared
// unknown mapping, never nil.
func (t *Table) FindMap(th *Thread, addr uint64, inKernel bool) *Mapping {
	maps := th.maps
	if inKernel {
		maps = t.kernelMaps
	}
	i := sort.Search(len(maps), func(i int) bool { return maps[i].Start > addr })
	if i > 0 && maps[i-1].contains(addr) {
		return maps[i-1]
	}
	return t.unknown
}

// FindSymbol resolves addr within m, loading the mapping's symbol table on
// first use. A nil result means unresolved.
func (t *Table) FindSymbol(m *Mapping, addr uint64) *Symbol {
	if m == t.unknown {
		return nil
	}
	if !m.symsLoaded {
		m.symsLoaded = true
		if t.source != nil {
			syms, err := t.source.Load(m)
			if err != nil {
				level.Debug(t.logger).Log("msg", "loading symbols failed", "module", m.Path, "err", err)
			}
			sort.Slice(syms, func(i, j int) bool { return syms[i].Start < syms[j].Start })
			m.syms = syms
		}
	}

	target := addr
	if !m.Kernel {
		target = addr - m.Start + m.PgOff
	}
	i := sort.Search(len(m.syms), func(i int) bool { return m.syms[i].Start > target })
	if i == 0 {
		return nil
	}
	s := &m.syms[i-1]
	if s.Size > 0 && target >= s.Start+s.Size {
		return nil
	}
	return s
}
