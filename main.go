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

// perf-report converts a profiling capture file into a sample report,
// resolving every instruction pointer to its owning module and symbol. The
// report is either human-readable indented text or a binary stream that can
// be dumped back with --dump-protobuf-report.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	okrun "github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/parca-dev/perf-report/flags"
	"github.com/parca-dev/perf-report/pkg/addrspace"
	"github.com/parca-dev/perf-report/pkg/capture"
	"github.com/parca-dev/perf-report/pkg/config"
	"github.com/parca-dev/perf-report/pkg/logger"
	"github.com/parca-dev/perf-report/pkg/reporter"
)

func main() {
	fl := flags.Parse()

	l := logger.NewLogger(fl.LogLevel, logger.LogFormatLogfmt, "perf-report")
	reg := prometheus.NewRegistry()

	if err := run(l, reg, fl); err != nil {
		level.Error(l).Log("err", err)
		os.Exit(1)
	}
}

type metrics struct {
	recordsRead     prometheus.Counter
	samplesReported prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		recordsRead: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "perf_report_capture_records_read_total",
			Help: "Total number of capture records decoded from the input file.",
		}),
		samplesReported: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "perf_report_samples_reported_total",
			Help: "Total number of samples written to the report.",
		}),
	}
}

func run(l log.Logger, reg *prometheus.Registry, fl flags.Flags) error {
	if fl.DumpProtobufReport != "" {
		f, err := os.Open(fl.DumpProtobufReport)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", fl.DumpProtobufReport, err)
		}
		defer f.Close()
		return reporter.Dump(f, os.Stdout)
	}

	cfg := &config.Config{}
	if fl.ConfigPath != "" {
		c, err := config.LoadFile(fl.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		cfg = c
	}

	in, err := os.Open(fl.Input)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", fl.Input, err)
	}
	defer in.Close()
	if st, err := in.Stat(); err == nil {
		level.Debug(l).Log("msg", "opened record file", "path", fl.Input, "size", humanize.Bytes(uint64(st.Size())))
	}

	rd, err := capture.NewReader(in)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", fl.Input, err)
	}

	out := io.Writer(os.Stdout)
	if fl.Output != "" {
		f, err := os.Create(fl.Output)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", fl.Output, err)
		}
		defer f.Close()
		out = f
	}

	var w reporter.Writer
	if fl.Protobuf {
		w = reporter.NewProtoWriter(out)
	} else {
		w = reporter.NewTextWriter(out, fl.ShowCallchain)
	}

	table := addrspace.NewTable(l, addrspace.WithSymbolSource(&addrspace.FileSource{
		SymFS:    cfg.SymFS,
		Kallsyms: cfg.Kallsyms,
	}))
	res := reporter.NewResolver(l, table)
	m := newMetrics(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g okrun.Group
	g.Add(func() error {
		return process(ctx, rd, table, res, w, fl.ShowCallchain, m)
	}, func(error) {
		cancel()
	})
	g.Add(okrun.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	if err := g.Run(); err != nil {
		return err
	}

	if err := w.Finish(); err != nil {
		return err
	}
	level.Info(l).Log("msg", "reported samples in all", "count", w.SampleCount())
	return nil
}

// process drains the capture one record at a time: every record updates the
// address-space model before its own addresses are resolved, and only
// sample records produce report output.
func process(
	ctx context.Context,
	rd *capture.Reader,
	table *addrspace.Table,
	res *reporter.Resolver,
	w reporter.Writer,
	showCallchain bool,
	m *metrics,
) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := rd.ReadRecord()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		m.recordsRead.Inc()

		table.Update(rec)
		if s, ok := rec.(*capture.SampleRecord); ok {
			if err := w.WriteSample(s.Time, res.Resolve(s, showCallchain)); err != nil {
				return err
			}
			m.samplesReported.Inc()
		}
	}
}
