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

// Package reporter turns sampled events into reports: it resolves raw
// callchains against an address-space model and renders the result either
// as indented text or as a length-prefixed binary stream that can be dumped
// back later.
package reporter

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/parca-dev/perf-report/pkg/addrspace"
	"github.com/parca-dev/perf-report/pkg/capture"
)

// Frame is one resolved callchain entry.
type Frame struct {
	IP     uint64
	DSO    string
	Symbol string
}

// AddressSpace is the capability the resolver needs from the thread and
// mapping model. addrspace.Table implements it; tests substitute doubles
// with fixed mappings.
type AddressSpace interface {
	FindThreadOrNew(pid, tid uint32) *addrspace.Thread
	FindMap(th *addrspace.Thread, addr uint64, inKernel bool) *addrspace.Mapping
	FindSymbol(m *addrspace.Mapping, addr uint64) *addrspace.Symbol
}

// Resolver classifies and resolves the callchain of one sample at a time.
// It has no failure mode: unresolvable addresses come back with the unknown
// sentinels.
type Resolver struct {
	logger log.Logger
	space  AddressSpace
}

func NewResolver(logger log.Logger, space AddressSpace) *Resolver {
	return &Resolver{logger: logger, space: space}
}

// Resolve returns the resolved frames of a sample, leaf first. With
// includeCallchain the raw callchain is walked in capture order: context
// markers switch the kernel/user context for subsequent entries and are
// dropped, and the first genuine address is skipped when it duplicates the
// leaf. Later duplicates are kept; only the leading one is capture noise.
func (r *Resolver) Resolve(s *capture.SampleRecord, includeCallchain bool) []Frame {
	inKernel := s.InKernel()
	th := r.space.FindThreadOrNew(s.PID, s.TID)
	frames := []Frame{r.resolveFrame(th, s.IP, inKernel)}
	if !includeCallchain {
		return frames
	}

	first := true
	for _, ip := range s.Callchain {
		next, marker, known := applyContextMarker(ip, inKernel)
		inKernel = next
		if marker {
			if !known {
				level.Debug(r.logger).Log("msg", "unexpected context marker in callchain", "value", ip)
			}
			continue
		}
		if first {
			first = false
			if ip == s.IP {
				continue
			}
		}
		frames = append(frames, r.resolveFrame(th, ip, inKernel))
	}
	return frames
}

func (r *Resolver) resolveFrame(th *addrspace.Thread, ip uint64, inKernel bool) Frame {
	m := r.space.FindMap(th, ip, inKernel)
	sym := r.space.FindSymbol(m, ip)
	return Frame{IP: ip, DSO: m.Path, Symbol: sym.DemangledName()}
}

// applyContextMarker is one step of the context fold over a raw callchain:
// given the next raw value and the current kernel/user context, it returns
// the context for subsequent entries, whether the value was a marker rather
// than an address, and whether a marker was a recognized one.
func applyContextMarker(v uint64, inKernel bool) (next, marker, known bool) {
	if !capture.IsContextMarker(v) {
		return inKernel, false, true
	}
	switch v {
	case capture.ContextKernel:
		return true, true, true
	case capture.ContextUser:
		return false, true, true
	default:
		return inKernel, true, false
	}
}
