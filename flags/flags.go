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

package flags

import (
	"errors"

	"github.com/alecthomas/kong"
)

// ErrProtobufNeedsOutput is reported before any file is touched: a binary
// report written to the default stdout would be useless.
var ErrProtobufNeedsOutput = errors.New("please specify a report filename (-o) to write protobuf data")

type Flags struct {
	LogLevel string `enum:"error,warn,info,debug" help:"Log level." default:"info"`

	Input    string `short:"i" default:"perf.data" help:"Path of the record file to report."`
	Output   string `short:"o" help:"Report file name. Defaults to stdout."`
	Protobuf bool   `help:"Output samples in the binary report format (report_sample.proto). Requires -o."`

	ShowCallchain bool `help:"Print callchain samples."`

	DumpProtobufReport string `placeholder:"FILE" help:"Dump a report previously written with --protobuf -o FILE, then exit."`

	ConfigPath string `default:"" help:"Path to config file."`
}

// Parse parses and validates the command line, exiting with usage on
// malformed input.
func Parse() Flags {
	flags := Flags{}
	kong.Parse(&flags,
		kong.Name("perf-report"),
		kong.Description("Report raw sample information from a profiling capture file."),
	)
	return flags
}

// Validate catches bad flag combinations before any I/O happens. kong
// invokes it as part of parsing.
func (f Flags) Validate() error {
	if f.Protobuf && f.Output == "" {
		return ErrProtobufNeedsOutput
	}
	return nil
}
