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
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/code-genome/jaudit/pkg/log"
)

// standardSuffixes complete "^(<name>" into the default patterns for versioned jar names, such as
// name-1.2.3.jar, name-2.0-rc1.jar, name-1.0-alpha.jar and name-3.1.beta2.jar.
var standardSuffixes = []string{
	`-[0-9][0-9\.]*)\.jar$`,
	`-[0-9][0-9\.]*-?rc-?[0-9]*)\.jar$`,
	`-[0-9][0-9\.]*-?alpha-?[0-9]*)\.jar$`,
	`-[0-9][0-9\.]*-?beta-?[0-9]*)\.jar$`,
}

var groupReference = regexp.MustCompile(`%([0-9]+)`)

// StandardPatterns returns the default file name patterns of a library. Each captures the whole
// label, e.g. "log4j-core-2.14.1" from "log4j-core-2.14.1.jar".
func StandardPatterns(name string) []string {
	out := make([]string, 0, len(standardSuffixes))
	for _, suffix := range standardSuffixes {
		out = append(out, "^("+regexp.QuoteMeta(strings.ToLower(name))+suffix)
	}
	return out
}

// MatchOrder returns the library names in the order their patterns are tried: longest first, so a
// more specific library wins, then lexically.
func (c Config) MatchOrder() []string {
	return SortPrefixes(c.Names())
}

// NamePatterns returns the custom and standard patterns of every enabled library, in MatchOrder.
// Standard patterns carry no format.
func (c Config) NamePatterns() []Match {
	var out []Match
	for _, name := range c.MatchOrder() {
		lib := c[name]
		if !lib.Enabled {
			continue
		}
		out = append(out, lib.Match...)
		for _, p := range StandardPatterns(name) {
			out = append(out, Match{Regex: p})
		}
	}
	return out
}

type pattern struct {
	re     *regexp.Regexp
	format string
}

// Labeler derives version labels from archive file names.
type Labeler struct {
	config   Config
	patterns []pattern
	prefixes []string
}

// NewLabeler compiles the patterns of the enabled libraries in cfg, in the same order as
// Config.NamePatterns. Patterns that fail to compile are reported to diag once and skipped.
func NewLabeler(cfg Config, diag *log.Diagnostics) *Labeler {
	l := &Labeler{config: cfg, prefixes: cfg.MatchOrder()}
	for _, name := range l.prefixes {
		lib := cfg[name]
		if !lib.Enabled {
			continue
		}
		l.compile(lib.Match, name, diag)
		for _, p := range StandardPatterns(name) {
			l.compile([]Match{{Regex: p}}, name, diag)
		}
	}
	return l
}

// NewPatternLabeler returns a Labeler trying patterns in order. It has no library configuration,
// so AppRecord never matches.
func NewPatternLabeler(patterns []Match, diag *log.Diagnostics) *Labeler {
	l := &Labeler{}
	l.compile(patterns, "", diag)
	return l
}

func (l *Labeler) compile(matches []Match, owner string, diag *log.Diagnostics) {
	for _, m := range matches {
		// patterns match from the start of the name
		re, err := regexp.Compile("^(?:" + m.Regex + ")")
		if err != nil {
			if owner != "" {
				diag.WarnOnce("regex:"+m.Regex, "Malformed regular expression %s for %s: %v", m.Regex, owner, err)
			} else {
				diag.WarnOnce("regex:"+m.Regex, "Malformed regular expression %s: %v", m.Regex, err)
			}
			continue
		}
		l.patterns = append(l.patterns, pattern{re: re, format: m.Format})
	}
}

// Version returns the label of the archive at path, which is matched by its lower cased base name.
// The first pattern that matches and yields a non-empty label wins.
func (l *Labeler) Version(path string) (string, bool) {
	name := strings.ToLower(filepath.Base(path))
	for _, p := range l.patterns {
		groups := p.re.FindStringSubmatch(name)
		if groups == nil {
			continue
		}
		if label := expand(p.format, groups[1:]); label != "" {
			return label, true
		}
	}
	return "", false
}

// expand substitutes %N in format with the Nth group. References to missing groups expand to
// nothing.
func expand(format string, groups []string) string {
	if format == "" {
		format = "%1"
	}
	return groupReference.ReplaceAllStringFunc(format, func(ref string) string {
		n, err := strconv.Atoi(ref[1:])
		if err != nil || n < 1 || n > len(groups) {
			return ""
		}
		return groups[n-1]
	})
}

// AppRecord finds the library a version label belongs to: the longest configured name that the
// label starts with, followed by '-'.
func (l *Labeler) AppRecord(label string) (string, Library, bool) {
	for _, name := range l.prefixes {
		if len(label) > len(name) && strings.HasPrefix(label, name) && label[len(name)] == '-' {
			lib := l.config[name]
			if lib.ID == "" {
				lib.ID = name
			}
			return name, lib, true
		}
	}
	return "", Library{}, false
}

// SortPrefixes orders library name prefixes longest first, ties broken lexically, so that the first
// prefix matching a label is the most specific one.
func SortPrefixes(prefixes []string) []string {
	out := append([]string(nil), prefixes...)
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}
