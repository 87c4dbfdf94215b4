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
	"errors"
	"fmt"
	"io"
)

// magic identifies a capture file. All multi-byte fields are little-endian.
var magic = [8]byte{'P', 'E', 'R', 'F', 'C', 'A', 'P', '1'}

// headerSize is the on-disk record header: type u16, misc u16, size u32.
const headerSize = 8

// maxRecordSize bounds a single record payload so that a corrupt size field
// fails fast instead of exhausting memory.
const maxRecordSize = 1 << 24

var (
	ErrBadMagic   = errors.New("not a capture file")
	ErrRecordSize = errors.New("record size out of range")
)

// Reader decodes capture records sequentially from a stream.
type Reader struct {
	r   *bufio.Reader
	buf []byte
}

// NewReader validates the capture file magic and returns a reader positioned
// at the first record.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	var m [8]byte
	if _, err := io.ReadFull(br, m[:]); err != nil {
		return nil, fmt.Errorf("read capture magic: %w", err)
	}
	if m != magic {
		return nil, ErrBadMagic
	}
	return &Reader{r: br}, nil
}

// ReadRecord decodes the next record. It returns io.EOF at a clean end of
// the stream; a stream ending in the middle of a record is an error.
func (r *Reader) ReadRecord() (Record, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read record header: %w", err)
	}
	h := Header{
		Type: RecordType(binary.LittleEndian.Uint16(hdr[0:2])),
		Misc: binary.LittleEndian.Uint16(hdr[2:4]),
	}
	size := binary.LittleEndian.Uint32(hdr[4:8])
	if size > maxRecordSize {
		return nil, fmt.Errorf("%w: %d", ErrRecordSize, size)
	}
	if cap(r.buf) < int(size) {
		r.buf = make([]byte, size)
	}
	r.buf = r.buf[:size]
	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		return nil, fmt.Errorf("read %s record payload: %w", h.Type, err)
	}
	return decodeRecord(h, r.buf)
}

func decodeRecord(h Header, payload []byte) (Record, error) {
	d := decoder{buf: payload}
	var rec Record
	switch h.Type {
	case RecordTypeSample:
		s := &SampleRecord{Header: h}
		s.PID = d.u32()
		s.TID = d.u32()
		s.Time = d.u64()
		s.IP = d.u64()
		n := d.u32()
		if n > 0 {
			if uint64(n)*8 > uint64(len(payload)) {
				return nil, fmt.Errorf("sample callchain length %d exceeds payload", n)
			}
			s.Callchain = make([]uint64, n)
			for i := range s.Callchain {
				s.Callchain[i] = d.u64()
			}
		}
		rec = s
	case RecordTypeMmap:
		m := &MmapRecord{Header: h}
		m.PID = d.u32()
		m.TID = d.u32()
		m.Start = d.u64()
		m.Len = d.u64()
		m.PgOff = d.u64()
		m.Path = d.str()
		rec = m
	case RecordTypeComm:
		c := &CommRecord{Header: h}
		c.PID = d.u32()
		c.TID = d.u32()
		c.Comm = d.str()
		rec = c
	case RecordTypeFork:
		f := &ForkRecord{Header: h}
		f.PID = d.u32()
		f.PPID = d.u32()
		f.TID = d.u32()
		f.PTID = d.u32()
		rec = f
	default:
		return nil, fmt.Errorf("unknown record type %d", uint16(h.Type))
	}
	if d.err != nil {
		return nil, fmt.Errorf("decode %s record: %w", h.Type, d.err)
	}
	return rec, nil
}

// decoder reads little-endian fields off a payload, remembering the first
// failure instead of forcing a check per field.
type decoder struct {
	buf []byte
	err error
}

var errShortPayload = errors.New("truncated record payload")

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf) < n {
		d.err = errShortPayload
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) u16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) str() string {
	n := d.u16()
	b := d.take(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}
