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

package reporter

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/parca-dev/perf-report/pkg/reportpb"
)

// ProtoWriter appends samples to a binary report stream: each record is a
// little-endian uint32 length prefix followed by the serialized
// reportpb.Record, and Finish terminates the stream with a zero length.
type ProtoWriter struct {
	w     *bufio.Writer
	buf   []byte
	count uint64
}

func NewProtoWriter(w io.Writer) *ProtoWriter {
	return &ProtoWriter{w: bufio.NewWriter(w)}
}

func (p *ProtoWriter) WriteSample(timestamp uint64, frames []Frame) error {
	p.count++
	sample := &reportpb.Sample{
		Time:      timestamp,
		Callchain: make([]reportpb.CallChainEntry, 0, len(frames)),
	}
	for _, f := range frames {
		sample.Callchain = append(sample.Callchain, reportpb.CallChainEntry{
			IP:     f.IP,
			Symbol: f.Symbol,
			File:   f.DSO,
		})
	}
	rec := &reportpb.Record{Type: reportpb.RecordTypeSample, Sample: sample}

	p.buf = rec.MarshalAppend(p.buf[:0])
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(p.buf)))
	if _, err := p.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write record length: %w", err)
	}
	if _, err := p.w.Write(p.buf); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Finish writes the stream terminator. Without it the stream is corrupt, so
// any error here fails the whole run.
func (p *ProtoWriter) Finish() error {
	var zero [4]byte
	if _, err := p.w.Write(zero[:]); err != nil {
		return fmt.Errorf("write stream terminator: %w", err)
	}
	if err := p.w.Flush(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	return nil
}

func (p *ProtoWriter) SampleCount() uint64 {
	return p.count
}
