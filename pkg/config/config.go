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

package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrEmptyConfig = errors.New("empty config")

// Config holds the symbolization settings that have no CLI flag: where to
// find kernel symbols and where to look up the binaries referenced by the
// capture's mappings.
type Config struct {
	// Kallsyms overrides the kernel symbol file, /proc/kallsyms by default.
	Kallsyms string `yaml:"kallsyms,omitempty"`
	// SymFS is prefixed to module paths when loading user symbols, so a
	// capture can be reported on a machine other than the captured one.
	SymFS string `yaml:"symfs,omitempty"`
}

func (c Config) String() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<error creating config string: %s>", err)
	}
	return string(b)
}

// Load parses the YAML input into a Config.
func Load(b []byte) (*Config, error) {
	if len(b) == 0 {
		return nil, ErrEmptyConfig
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling YAML: %w", err)
	}
	return cfg, nil
}

// LoadFile parses the given YAML file into a Config.
func LoadFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	cfg, err := Load(content)
	if err != nil {
		return nil, fmt.Errorf("parsing YAML file %s: %w", filename, err)
	}
	return cfg, nil
}
