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

// Dump reads a binary report stream record by record and renders each
// sample as indented text. The stream must end with its zero-length
// terminator; running out of bytes anywhere else means the report is
// truncated or corrupt, and decoding aborts without resynchronizing.
func Dump(r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	var prefix [4]byte
	for n := uint64(1); ; n++ {
		if _, err := io.ReadFull(br, prefix[:]); err != nil {
			return fmt.Errorf("read record length: %w", err)
		}
		size := binary.LittleEndian.Uint32(prefix[:])
		if size == 0 {
			return nil
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(br, payload); err != nil {
			return fmt.Errorf("read record payload: %w", err)
		}

		var rec reportpb.Record
		if err := rec.Unmarshal(payload); err != nil {
			return fmt.Errorf("parse record: %w", err)
		}
		if rec.Type != reportpb.RecordTypeSample {
			return fmt.Errorf("unexpected record type %d", rec.Type)
		}
		// An absent submessage reads as an empty sample, per proto2
		// getter semantics.
		sample := rec.Sample
		if sample == nil {
			sample = &reportpb.Sample{}
		}

		iw := indentWriter{w: w}
		iw.printf(0, "sample %d:\n", n)
		iw.printf(1, "time: %d\n", sample.Time)
		iw.printf(1, "callchain:\n")
		for _, e := range sample.Callchain {
			iw.printf(2, "ip: %x\n", e.IP)
			iw.printf(2, "dso: %s\n", e.File)
			iw.printf(2, "symbol: %s\n", e.Symbol)
		}
		if iw.err != nil {
			return iw.err
		}
	}
}
