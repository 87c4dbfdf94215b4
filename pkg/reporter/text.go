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
	"fmt"
	"io"
	"strings"
)

// Writer renders resolved samples to an output stream. Exactly one
// implementation is chosen before the first sample and used for the whole
// stream; text and binary output never mix.
type Writer interface {
	// WriteSample renders one sample. frames is never empty; the first
	// entry is the leaf frame.
	WriteSample(timestamp uint64, frames []Frame) error
	// Finish terminates the stream. Must be called exactly once, after the
	// last sample; a failure here makes the whole report unusable.
	Finish() error
	// SampleCount is the number of samples written so far.
	SampleCount() uint64
}

// TextWriter renders indented human-readable sample blocks. The output is
// not meant to be parsed back.
type TextWriter struct {
	w             *bufio.Writer
	showCallchain bool
	count         uint64
}

func NewTextWriter(w io.Writer, showCallchain bool) *TextWriter {
	return &TextWriter{w: bufio.NewWriter(w), showCallchain: showCallchain}
}

func (t *TextWriter) WriteSample(timestamp uint64, frames []Frame) error {
	t.count++
	iw := indentWriter{w: t.w}
	leaf := frames[0]
	iw.printf(0, "sample:\n")
	iw.printf(1, "time: %d\n", timestamp)
	iw.printf(1, "ip: %x\n", leaf.IP)
	iw.printf(1, "dso: %s\n", leaf.DSO)
	iw.printf(1, "symbol: %s\n", leaf.Symbol)
	if t.showCallchain {
		iw.printf(1, "callchain:\n")
		for _, f := range frames[1:] {
			iw.printf(2, "ip: %x\n", f.IP)
			iw.printf(2, "dso: %s\n", f.DSO)
			iw.printf(2, "symbol: %s\n", f.Symbol)
		}
	}
	return iw.err
}

func (t *TextWriter) Finish() error {
	if err := t.w.Flush(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	return nil
}

func (t *TextWriter) SampleCount() uint64 {
	return t.count
}

// indentWriter prints lines indented two spaces per level, remembering the
// first error.
type indentWriter struct {
	w   io.Writer
	err error
}

func (iw *indentWriter) printf(indent int, format string, args ...interface{}) {
	if iw.err != nil {
		return
	}
	if _, err := io.WriteString(iw.w, strings.Repeat("  ", indent)); err != nil {
		iw.err = err
		return
	}
	if _, err := fmt.Fprintf(iw.w, format, args...); err != nil {
		iw.err = err
	}
}
