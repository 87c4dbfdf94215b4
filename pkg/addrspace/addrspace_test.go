package addrspace

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/parca-dev/perf-report/pkg/capture"
)

type staticSource struct {
	syms map[string][]Symbol
}

func (s *staticSource) Load(m *Mapping) ([]Symbol, error) {
	syms, ok := s.syms[m.Path]
	if !ok {
		return nil, errors.New("no symbols")
	}
	return syms, nil
}

func TestTableResolution(t *testing.T) {
	src := &staticSource{syms: map[string][]Symbol{
		"libfoo.so": {
			{Start: 0x0, Size: 0x10, Name: "foo"},
			{Start: 0x10, Size: 0x10, Name: "bar"},
		},
		"[kernel.kallsyms]": {
			{Start: 0xffff0000, Name: "kfunc_a"},
			{Start: 0xffff0100, Name: "kfunc_b"},
		},
	}}
	table := NewTable(log.NewNopLogger(), WithSymbolSource(src))

	table.Update(&capture.CommRecord{PID: 100, TID: 100, Comm: "worker"})
	table.Update(&capture.MmapRecord{PID: 100, TID: 100, Start: 0x1000, Len: 0x100, Path: "libfoo.so"})
	table.Update(&capture.MmapRecord{
		Header: capture.Header{Misc: capture.MiscKernel},
		Start:  0xffff0000, Len: 0x10000, Path: "[kernel.kallsyms]",
	})

	th := table.FindThreadOrNew(100, 100)
	require.Equal(t, "worker", th.Comm)

	m := table.FindMap(th, 0x1015, false)
	require.Equal(t, "libfoo.so", m.Path)
	require.Equal(t, "bar", table.FindSymbol(m, 0x1015).DemangledName())
	require.Equal(t, "foo", table.FindSymbol(m, 0x1000).DemangledName())

	km := table.FindMap(th, 0xffff0150, true)
	require.Equal(t, "[kernel.kallsyms]", km.Path)
	require.Equal(t, "kfunc_b", table.FindSymbol(km, 0xffff0150).DemangledName())

	// A kernel address is not visible in the user address space.
	require.Equal(t, UnknownPath, table.FindMap(th, 0xffff0150, false).Path)
}

func TestTableUnknownSentinels(t *testing.T) {
	table := NewTable(log.NewNopLogger())
	th := table.FindThreadOrNew(200, 200)

	m := table.FindMap(th, 0x2000, false)
	require.Equal(t, UnknownPath, m.Path)
	require.Equal(t, UnknownSymbol, table.FindSymbol(m, 0x2000).DemangledName())
}

func TestRemapReplacesMapping(t *testing.T) {
	table := NewTable(log.NewNopLogger())
	table.Update(&capture.MmapRecord{PID: 1, TID: 1, Start: 0x1000, Len: 0x1000, Path: "old.so"})
	table.Update(&capture.MmapRecord{PID: 1, TID: 1, Start: 0x1000, Len: 0x1000, Path: "new.so"})

	th := table.FindThreadOrNew(1, 1)
	require.Equal(t, "new.so", table.FindMap(th, 0x1500, false).Path)
	require.Len(t, th.maps, 1)
}

func TestMmapDropsOverlappedMappings(t *testing.T) {
	table := NewTable(log.NewNopLogger())
	table.Update(&capture.MmapRecord{PID: 1, TID: 1, Start: 0x1000, Len: 0x1000, Path: "a.so"})
	table.Update(&capture.MmapRecord{PID: 1, TID: 1, Start: 0x3000, Len: 0x1000, Path: "b.so"})
	// Straddles the tail of a.so and the head of b.so.
	table.Update(&capture.MmapRecord{PID: 1, TID: 1, Start: 0x1800, Len: 0x2000, Path: "c.so"})

	th := table.FindThreadOrNew(1, 1)
	require.Equal(t, "c.so", table.FindMap(th, 0x2000, false).Path)
	require.Equal(t, "c.so", table.FindMap(th, 0x3700, false).Path)
	// The overlapped mappings are gone, including the parts c.so does not cover.
	require.Equal(t, UnknownPath, table.FindMap(th, 0x1400, false).Path)
	require.Equal(t, UnknownPath, table.FindMap(th, 0x3900, false).Path)
	require.Len(t, th.maps, 1)
}

func TestTableSymbolPastEnd(t *testing.T) {
	src := &staticSource{syms: map[string][]Symbol{
		"libfoo.so": {{Start: 0x0, Size: 0x10, Name: "foo"}},
	}}
	table := NewTable(log.NewNopLogger(), WithSymbolSource(src))
	table.Update(&capture.MmapRecord{PID: 1, TID: 1, Start: 0x1000, Len: 0x100, Path: "libfoo.so"})

	th := table.FindThreadOrNew(1, 1)
	m := table.FindMap(th, 0x1080, false)
	require.Equal(t, "libfoo.so", m.Path)
	// Beyond the only symbol's extent.
	require.Nil(t, table.FindSymbol(m, 0x1080))
}

func TestForkInheritsMappings(t *testing.T) {
	src := &staticSource{syms: map[string][]Symbol{
		"libfoo.so": {{Start: 0x0, Size: 0x10, Name: "foo"}},
	}}
	table := NewTable(log.NewNopLogger(), WithSymbolSource(src))
	table.Update(&capture.CommRecord{PID: 1, TID: 1, Comm: "parent"})
	table.Update(&capture.MmapRecord{PID: 1, TID: 1, Start: 0x1000, Len: 0x100, Path: "libfoo.so"})
	table.Update(&capture.ForkRecord{PID: 2, PPID: 1, TID: 2, PTID: 1})

	child := table.FindThreadOrNew(2, 2)
	require.Equal(t, "parent", child.Comm)
	m := table.FindMap(child, 0x1005, false)
	require.Equal(t, "libfoo.so", m.Path)
	require.Equal(t, "foo", table.FindSymbol(m, 0x1005).DemangledName())
}

func TestParseKallsyms(t *testing.T) {
	input := `ffffffff81000000 T _text
ffffffff81001000 T do_one_initcall
not a parsable line
ffffffff81002000 t helper [mod]
`
	syms, err := ParseKallsyms(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, []Symbol{
		{Start: 0xffffffff81000000, Name: "_text"},
		{Start: 0xffffffff81001000, Name: "do_one_initcall"},
		{Start: 0xffffffff81002000, Name: "helper"},
	}, syms)
}

func TestDemangledName(t *testing.T) {
	require.Equal(t, "unknown", (*Symbol)(nil).DemangledName())
	require.Equal(t, "main", (&Symbol{Name: "main"}).DemangledName())
	// An Itanium-mangled C++ name.
	require.Equal(t, "foo::bar()", (&Symbol{Name: "_ZN3foo3barEv"}).DemangledName())
}
