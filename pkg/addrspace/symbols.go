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

package addrspace

import (
	"bufio"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultKallsyms = "/proc/kallsyms"

var errNoSymbols = errors.New("no symbols available")

// FileSource loads symbols from the filesystem: kernel symbols from a
// kallsyms-format file, user symbols from the module's ELF symbol tables.
// SymFS, when set, is prefixed to module paths so reports can be produced on
// a different machine than the capture.
type FileSource struct {
	SymFS    string
	Kallsyms string
}

func (s *FileSource) Load(m *Mapping) ([]Symbol, error) {
	if m.Kernel {
		path := s.Kallsyms
		if path == "" {
			path = defaultKallsyms
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ParseKallsyms(f)
	}
	if m.Path == "" || strings.HasPrefix(m.Path, "[") {
		return nil, errNoSymbols
	}
	path := m.Path
	if s.SymFS != "" {
		path = filepath.Join(s.SymFS, m.Path)
	}
	return loadELFSymbols(path)
}

// ParseKallsyms reads symbols in /proc/kallsyms format: "addr type name",
// one per line. Lines that do not parse are skipped.
func ParseKallsyms(r io.Reader) ([]Symbol, error) {
	var syms []Symbol
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			continue
		}
		syms = append(syms, Symbol{Start: addr, Name: fields[2]})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return syms, nil
}

// loadELFSymbols reads .symtab and .dynsym, rebasing symbol values so that
// Start is relative to the image's lowest PT_LOAD vaddr. That matches the
// module-relative addresses FindSymbol computes from mapping start and page
// offset.
func loadELFSymbols(path string) ([]Symbol, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var bias uint64
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD && (bias == 0 || p.Vaddr < bias) {
			bias = p.Vaddr
		}
	}

	var raw []elf.Symbol
	if st, err := f.Symbols(); err == nil {
		raw = append(raw, st...)
	}
	if st, err := f.DynamicSymbols(); err == nil {
		raw = append(raw, st...)
	}
	if len(raw) == 0 {
		return nil, errNoSymbols
	}

	syms := make([]Symbol, 0, len(raw))
	for _, s := range raw {
		if s.Value == 0 || s.Name == "" || elf.ST_TYPE(s.Info) != elf.STT_FUNC {
			continue
		}
		syms = append(syms, Symbol{Start: s.Value - bias, Size: s.Size, Name: s.Name})
	}
	return syms, nil
}
