// Copyright (c) 2023 Palantir Technologies. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package version

import (
	"bytes"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Match is a custom file name pattern for a library. Format builds the version label from the
// pattern's capture groups, with %N standing for group N. An empty Format means "%1".
type Match struct {
	Regex  string `yaml:"regex" json:"regex"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// Library is the configuration of one monitored library.
type Library struct {
	Enabled bool `yaml:"enabled"`
	// ID groups libraries that are selected together. Empty means the library's name.
	ID    string  `yaml:"id,omitempty"`
	Match []Match `yaml:"match,omitempty"`
}

// Config maps the file name prefix of each monitored library, e.g. "log4j-core", to its settings.
type Config map[string]Library

// LoadConfig reads a monitored library configuration file. YAML and JSON are both accepted.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read monitored library configuration")
	}
	cfg, err := ParseConfig(b)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid monitored library configuration %s", path)
	}
	return cfg, nil
}

// ParseConfig decodes a configuration document. Unknown fields are rejected. Library names are
// lower cased, as they are matched against lower cased file names.
func ParseConfig(b []byte) (Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	raw := Config{}
	if err := dec.Decode(&raw); err != nil && err != io.EOF {
		return nil, errors.WithStack(err)
	}
	cfg := make(Config, len(raw))
	for name, lib := range raw {
		if name == "" {
			return nil, errors.New("library name must not be empty")
		}
		for _, m := range lib.Match {
			if m.Regex == "" {
				return nil, errors.Errorf("library %s has a match without a regex", name)
			}
		}
		lower := strings.ToLower(name)
		if _, ok := cfg[lower]; ok {
			return nil, errors.Errorf("library %s is configured more than once", lower)
		}
		cfg[lower] = lib
	}
	return cfg, nil
}

// Identifier returns the id of the named library.
func (c Config) Identifier(name string) string {
	if id := c[name].ID; id != "" {
		return id
	}
	return name
}

// Names returns every configured library name, sorted.
func (c Config) Names() []string {
	out := make([]string, 0, len(c))
	for name := range c {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Select returns the sorted names of the libraries to build tables for. With no enabled ids the
// libraries marked enabled are chosen, otherwise those whose id is listed. Libraries whose id is
// in disabled are then removed. Unknown ids are an error.
func (c Config) Select(enabled, disabled []string) ([]string, error) {
	ids := make(map[string]bool, len(c))
	for name := range c {
		ids[c.Identifier(name)] = true
	}
	var unknown []string
	for _, id := range append(append([]string{}, enabled...), disabled...) {
		if !ids[id] {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return nil, errors.Errorf("unknown monitored libraries: %s", strings.Join(unknown, ", "))
	}

	want := toSet(enabled)
	drop := toSet(disabled)
	var out []string
	for _, name := range c.Names() {
		id := c.Identifier(name)
		selected := c[name].Enabled
		if len(want) > 0 {
			selected = want[id]
		}
		if selected && !drop[id] {
			out = append(out, name)
		}
	}
	return out, nil
}

func toSet(ss []string) map[string]bool {
	out := make(map[string]bool, len(ss))
	for _, s := range ss {
		out[s] = true
	}
	return out
}
