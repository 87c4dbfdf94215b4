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
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Writer produces capture files. Existing captures are never rewritten; the
// writer only creates new streams, which is how test fixtures and synthetic
// captures are built.
type Writer struct {
	w   *bufio.Writer
	buf []byte
}

func NewWriter(w io.Writer) (*Writer, error) {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(magic[:]); err != nil {
		return nil, fmt.Errorf("write capture magic: %w", err)
	}
	return &Writer{w: bw}, nil
}

func (w *Writer) WriteRecord(rec Record) error {
	w.buf = w.buf[:0]
	var typ RecordType
	switch r := rec.(type) {
	case *SampleRecord:
		typ = RecordTypeSample
		w.u32(r.PID)
		w.u32(r.TID)
		w.u64(r.Time)
		w.u64(r.IP)
		w.u32(uint32(len(r.Callchain)))
		for _, ip := range r.Callchain {
			w.u64(ip)
		}
	case *MmapRecord:
		typ = RecordTypeMmap
		w.u32(r.PID)
		w.u32(r.TID)
		w.u64(r.Start)
		w.u64(r.Len)
		w.u64(r.PgOff)
		w.str(r.Path)
	case *CommRecord:
		typ = RecordTypeComm
		w.u32(r.PID)
		w.u32(r.TID)
		w.str(r.Comm)
	case *ForkRecord:
		typ = RecordTypeFork
		w.u32(r.PID)
		w.u32(r.PPID)
		w.u32(r.TID)
		w.u32(r.PTID)
	default:
		return fmt.Errorf("unknown record type %T", rec)
	}

	h := rec.RecordHeader()
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(typ))
	binary.LittleEndian.PutUint16(hdr[2:4], h.Misc)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(w.buf)))
	if _, err := w.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write record header: %w", err)
	}
	if _, err := w.w.Write(w.buf); err != nil {
		return fmt.Errorf("write record payload: %w", err)
	}
	return nil
}

func (w *Writer) Flush() error {
	return w.w.Flush()
}

func (w *Writer) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) str(s string) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(len(s)))
	w.buf = append(w.buf, s...)
}
