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

// Package capture decodes profiling capture files: the on-disk record
// container written at capture time, holding samples interleaved with the
// address-space bookkeeping records (mmap, comm, fork) needed to interpret
// them.
package capture

// RecordType identifies one kind of capture record.
type RecordType uint16

const (
	RecordTypeSample RecordType = iota + 1
	RecordTypeMmap
	RecordTypeComm
	RecordTypeFork
)

func (t RecordType) String() string {
	switch t {
	case RecordTypeSample:
		return "sample"
	case RecordTypeMmap:
		return "mmap"
	case RecordTypeComm:
		return "comm"
	case RecordTypeFork:
		return "fork"
	}
	return "unknown"
}

// MiscKernel marks a record that originated in kernel space.
const MiscKernel uint16 = 1 << 0

// Callchain context markers. These are not addresses: any value at or above
// ContextMax embedded in a raw callchain announces that subsequent entries
// were captured at a different privilege level. The values mirror the
// perf_event ABI's PERF_CONTEXT_* constants (negative numbers reinterpreted
// as uint64).
const (
	ContextHV     uint64 = 0xffffffffffffffe0 // -32
	ContextKernel uint64 = 0xffffffffffffff80 // -128
	ContextUser   uint64 = 0xfffffffffffffe00 // -512
	ContextMax    uint64 = 0xfffffffffffff001 // -4095
)

// IsContextMarker reports whether a raw callchain value is a context marker
// rather than an instruction pointer.
func IsContextMarker(v uint64) bool {
	return v >= ContextMax
}

// Header is the part common to all capture records.
type Header struct {
	Type RecordType
	Misc uint16
}

// InKernel reports whether the record originated in kernel space.
func (h Header) InKernel() bool {
	return h.Misc&MiscKernel != 0
}

// Record is one decoded unit of a capture file.
type Record interface {
	RecordHeader() Header
}

// SampleRecord is one sampled event: the leaf instruction pointer at the
// moment of sampling plus the raw callchain, if callchains were captured.
// Callchain holds addresses in capture order (caller after callee) mixed
// with context markers.
type SampleRecord struct {
	Header
	PID       uint32
	TID       uint32
	Time      uint64
	IP        uint64
	Callchain []uint64
}

// MmapRecord describes one memory mapping of a binary image into a thread's
// address space. A record with the kernel misc bit set describes a kernel
// mapping shared by all threads.
type MmapRecord struct {
	Header
	PID   uint32
	TID   uint32
	Start uint64
	Len   uint64
	PgOff uint64
	Path  string
}

// CommRecord names a thread.
type CommRecord struct {
	Header
	PID  uint32
	TID  uint32
	Comm string
}

// ForkRecord records a process or thread creation; the child inherits the
// parent's mappings.
type ForkRecord struct {
	Header
	PID  uint32
	PPID uint32
	TID  uint32
	PTID uint32
}

func (r *SampleRecord) RecordHeader() Header { return r.Header }
func (r *MmapRecord) RecordHeader() Header   { return r.Header }
func (r *CommRecord) RecordHeader() Header   { return r.Header }
func (r *ForkRecord) RecordHeader() Header   { return r.Header }
