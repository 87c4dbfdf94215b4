package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/parca-dev/perf-report/pkg/addrspace"
	"github.com/parca-dev/perf-report/pkg/capture"
	"github.com/parca-dev/perf-report/pkg/reporter"
)

type staticSource struct {
	syms map[string][]addrspace.Symbol
}

func (s *staticSource) Load(m *addrspace.Mapping) ([]addrspace.Symbol, error) {
	syms, ok := s.syms[m.Path]
	if !ok {
		return nil, errors.New("no symbols")
	}
	return syms, nil
}

// A capture with two samples: one resolvable through a mapped module, one
// pointing nowhere. The text report must show both, the second with the
// unknown sentinels, and the sample count must be 2.
func TestProcessTextReport(t *testing.T) {
	buf := &bytes.Buffer{}
	cw, err := capture.NewWriter(buf)
	require.NoError(t, err)
	for _, rec := range []capture.Record{
		&capture.MmapRecord{PID: 100, TID: 100, Start: 0x1000, Len: 0x1000, Path: "libfoo.so"},
		&capture.SampleRecord{PID: 100, TID: 100, Time: 1000, IP: 0x1000},
		&capture.SampleRecord{PID: 200, TID: 200, Time: 2000, IP: 0x2000},
	} {
		require.NoError(t, cw.WriteRecord(rec))
	}
	require.NoError(t, cw.Flush())

	rd, err := capture.NewReader(buf)
	require.NoError(t, err)

	table := addrspace.NewTable(log.NewNopLogger(), addrspace.WithSymbolSource(&staticSource{
		syms: map[string][]addrspace.Symbol{
			"libfoo.so": {{Start: 0, Size: 0x1000, Name: "foo"}},
		},
	}))
	res := reporter.NewResolver(log.NewNopLogger(), table)

	out := &bytes.Buffer{}
	w := reporter.NewTextWriter(out, false)
	m := newMetrics(prometheus.NewRegistry())

	require.NoError(t, process(context.Background(), rd, table, res, w, false, m))
	require.NoError(t, w.Finish())

	require.Equal(t, `sample:
  time: 1000
  ip: 1000
  dso: libfoo.so
  symbol: foo
sample:
  time: 2000
  ip: 2000
  dso: unknown
  symbol: unknown
`, out.String())
	require.Equal(t, uint64(2), w.SampleCount())
	require.Equal(t, float64(2), testutil.ToFloat64(m.samplesReported))
	require.Equal(t, float64(3), testutil.ToFloat64(m.recordsRead))
}

// Samples written in binary mode and dumped back must come out in order
// with identical resolved frames.
func TestProcessProtobufRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	cw, err := capture.NewWriter(buf)
	require.NoError(t, err)
	for _, rec := range []capture.Record{
		&capture.MmapRecord{PID: 100, TID: 100, Start: 0x1000, Len: 0x1000, Path: "libfoo.so"},
		&capture.SampleRecord{
			PID: 100, TID: 100, Time: 1000, IP: 0x1000,
			Callchain: []uint64{0x1000, 0x1008},
		},
	} {
		require.NoError(t, cw.WriteRecord(rec))
	}
	require.NoError(t, cw.Flush())

	rd, err := capture.NewReader(buf)
	require.NoError(t, err)

	table := addrspace.NewTable(log.NewNopLogger(), addrspace.WithSymbolSource(&staticSource{
		syms: map[string][]addrspace.Symbol{
			"libfoo.so": {
				{Start: 0, Size: 0x8, Name: "foo"},
				{Start: 0x8, Size: 0x8, Name: "bar"},
			},
		},
	}))
	res := reporter.NewResolver(log.NewNopLogger(), table)

	stream := &bytes.Buffer{}
	w := reporter.NewProtoWriter(stream)
	m := newMetrics(prometheus.NewRegistry())

	require.NoError(t, process(context.Background(), rd, table, res, w, true, m))
	require.NoError(t, w.Finish())

	out := &bytes.Buffer{}
	require.NoError(t, reporter.Dump(stream, out))

	// The duplicate leaf entry at the head of the callchain is collapsed.
	require.Equal(t, `sample 1:
  time: 1000
  callchain:
    ip: 1000
    dso: libfoo.so
    symbol: foo
    ip: 1008
    dso: libfoo.so
    symbol: bar
`, out.String())
}
