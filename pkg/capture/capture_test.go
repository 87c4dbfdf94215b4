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

package capture

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReaderRoundTrip(t *testing.T) {
	records := []Record{
		&CommRecord{PID: 100, TID: 100, Comm: "t1"},
		&MmapRecord{PID: 100, TID: 100, Start: 0x1000, Len: 0x1000, Path: "libfoo.so"},
		&MmapRecord{Header: Header{Misc: MiscKernel}, Start: 0xffff0000, Len: 0x10000, Path: "[kernel.kallsyms]"},
		&ForkRecord{PID: 101, PPID: 100, TID: 101, PTID: 100},
		&SampleRecord{
			Header:    Header{Misc: MiscKernel},
			PID:       100,
			TID:       100,
			Time:      1234,
			IP:        0xffff0010,
			Callchain: []uint64{ContextUser, 0x1010},
		},
	}

	buf := &bytes.Buffer{}
	w, err := NewWriter(buf)
	require.NoError(t, err)
	for _, rec := range records {
		require.NoError(t, w.WriteRecord(rec))
	}
	require.NoError(t, w.Flush())

	r, err := NewReader(buf)
	require.NoError(t, err)

	got := []Record{}
	for {
		rec, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, rec)
	}
	require.Len(t, got, len(records))

	s, ok := got[4].(*SampleRecord)
	require.True(t, ok)
	require.True(t, s.InKernel())
	require.Equal(t, uint64(1234), s.Time)
	require.Equal(t, uint64(0xffff0010), s.IP)
	require.Equal(t, []uint64{ContextUser, 0x1010}, s.Callchain)

	m, ok := got[1].(*MmapRecord)
	require.True(t, ok)
	require.False(t, m.InKernel())
	require.Equal(t, "libfoo.so", m.Path)

	k, ok := got[2].(*MmapRecord)
	require.True(t, ok)
	require.True(t, k.InKernel())
}

func TestReaderBadMagic(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte("NOTACAP1andmore")))
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestReaderTruncatedRecord(t *testing.T) {
	buf := &bytes.Buffer{}
	w, err := NewWriter(buf)
	require.NoError(t, err)
	require.NoError(t, w.WriteRecord(&CommRecord{PID: 1, TID: 1, Comm: "x"}))
	require.NoError(t, w.Flush())

	// Chop the last byte of the payload off.
	data := buf.Bytes()[:buf.Len()-1]
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	_, err = r.ReadRecord()
	require.Error(t, err)
	require.NotErrorIs(t, err, io.EOF)
}

func TestIsContextMarker(t *testing.T) {
	require.True(t, IsContextMarker(ContextKernel))
	require.True(t, IsContextMarker(ContextUser))
	require.True(t, IsContextMarker(ContextHV))
	require.True(t, IsContextMarker(ContextMax))
	require.False(t, IsContextMarker(0x1000))
	require.False(t, IsContextMarker(ContextMax-1))
}
