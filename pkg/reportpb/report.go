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

// Package reportpb implements the wire encoding of report records, hand
// written with protowire against the schema in report_sample.proto. Unknown
// fields are skipped on decode so future record revisions stay readable.
package reportpb

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// RecordType tags the payload variant of a Record. Only samples exist
// today; the tag is on the wire so new kinds do not break the format.
type RecordType int32

const RecordTypeSample RecordType = 0

// CallChainEntry is one resolved frame: the instruction pointer, the
// demangled symbol name and the owning module path.
type CallChainEntry struct {
	IP     uint64
	Symbol string
	File   string
}

// Sample is one reported sample. The first callchain entry is always the
// leaf frame.
type Sample struct {
	Time      uint64
	Callchain []CallChainEntry
}

// Record is the tagged wire unit of a report stream.
type Record struct {
	Type   RecordType
	Sample *Sample
}

// Record field numbers.
const (
	recordTypeField   = 1
	recordSampleField = 2
)

// Sample field numbers.
const (
	sampleTimeField      = 1
	sampleCallchainField = 2
)

// CallChainEntry field numbers.
const (
	entryIPField     = 1
	entrySymbolField = 2
	entryFileField   = 3
)

func (r *Record) MarshalAppend(b []byte) []byte {
	b = protowire.AppendTag(b, recordTypeField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Type))
	if r.Sample != nil {
		b = protowire.AppendTag(b, recordSampleField, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Sample.marshal())
	}
	return b
}

func (r *Record) Marshal() []byte {
	return r.MarshalAppend(nil)
}

func (s *Sample) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, sampleTimeField, protowire.VarintType)
	b = protowire.AppendVarint(b, s.Time)
	for _, e := range s.Callchain {
		b = protowire.AppendTag(b, sampleCallchainField, protowire.BytesType)
		b = protowire.AppendBytes(b, e.marshal())
	}
	return b
}

func (e *CallChainEntry) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, entryIPField, protowire.VarintType)
	b = protowire.AppendVarint(b, e.IP)
	b = protowire.AppendTag(b, entrySymbolField, protowire.BytesType)
	b = protowire.AppendString(b, e.Symbol)
	b = protowire.AppendTag(b, entryFileField, protowire.BytesType)
	b = protowire.AppendString(b, e.File)
	return b
}

func (r *Record) Unmarshal(b []byte) error {
	*r = Record{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == recordTypeField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Type = RecordType(v)
			b = b[n:]
		case num == recordSampleField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			s := &Sample{}
			if err := s.unmarshal(v); err != nil {
				return err
			}
			r.Sample = s
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (s *Sample) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == sampleTimeField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			s.Time = v
			b = b[n:]
		case num == sampleCallchainField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			var e CallChainEntry
			if err := e.unmarshal(v); err != nil {
				return err
			}
			s.Callchain = append(s.Callchain, e)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (e *CallChainEntry) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == entryIPField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.IP = v
			b = b[n:]
		case num == entrySymbolField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.Symbol = string(v)
			b = b[n:]
		case num == entryFileField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.File = string(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}
