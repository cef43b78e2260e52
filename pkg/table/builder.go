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

package table

import (
	"sort"
	"strings"

	"github.com/code-genome/jaudit/pkg/fingerprint"
	"github.com/code-genome/jaudit/pkg/log"
	"github.com/code-genome/jaudit/pkg/version"
	"github.com/pkg/errors"
)

const (
	DefaultJarMargin   = 2
	DefaultClassMargin = 4
)

// ErrSealed is returned by Add once a table has been built.
var ErrSealed = errors.New("table builder is sealed: records cannot be added after a table was built")

// ConfigurationError reports a builder configuration that cannot produce a table.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid table configuration: " + e.Reason
}

// Config configures a Builder.
type Config struct {
	// Prefixes are the names of the monitored libraries. Version labels are compressed against them.
	Prefixes []string
	// RequirePrefixes makes an empty Prefixes a ConfigurationError rather than disabling compression.
	RequirePrefixes bool
	// JarMargin and ClassMargin are added to the minimum key length of jar and class tables. Zero
	// selects the defaults.
	JarMargin   int
	ClassMargin int
	// NamePatterns are published by the jar-name analytic.
	NamePatterns []version.Match
	Diagnostics  *log.Diagnostics
}

// Builder collects fingerprint records of known versions and builds lookup tables from them.
type Builder struct {
	cfg      Config
	prefixes []string
	records  map[string]fingerprint.JarRecord
	sealed   bool

	prefixIDs map[string]int
	prefixMap []string
}

func NewBuilder(cfg Config) (*Builder, error) {
	if cfg.RequirePrefixes && len(cfg.Prefixes) == 0 {
		return nil, errors.WithStack(&ConfigurationError{Reason: "no monitored library prefixes are enabled"})
	}
	if cfg.JarMargin == 0 {
		cfg.JarMargin = DefaultJarMargin
	}
	if cfg.ClassMargin == 0 {
		cfg.ClassMargin = DefaultClassMargin
	}
	if cfg.JarMargin < 0 || cfg.ClassMargin < 0 {
		return nil, errors.WithStack(&ConfigurationError{Reason: "key margins must not be negative"})
	}
	return &Builder{
		cfg:       cfg,
		prefixes:  version.SortPrefixes(lowerDistinct(cfg.Prefixes)),
		records:   make(map[string]fingerprint.JarRecord),
		prefixIDs: make(map[string]int),
	}, nil
}

// lowerDistinct lower cases prefixes, since labels come from lower cased file names.
func lowerDistinct(prefixes []string) []string {
	seen := make(map[string]bool, len(prefixes))
	var out []string
	for _, p := range prefixes {
		p = strings.ToLower(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// Add ingests rec. Records are keyed by jar-digest and a later record with the same digest
// replaces the earlier one.
func (b *Builder) Add(rec fingerprint.JarRecord) error {
	if b.sealed {
		return ErrSealed
	}
	if rec.JarDigest == "" {
		return errors.Errorf("record for version %q has no jar-digest", rec.Version)
	}
	b.records[rec.JarDigest] = rec
	return nil
}

// Len returns the number of distinct records added.
func (b *Builder) Len() int {
	return len(b.records)
}

// Versions returns the distinct version labels of all records, sorted.
func (b *Builder) Versions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, rec := range b.records {
		if !seen[rec.Version] {
			seen[rec.Version] = true
			out = append(out, rec.Version)
		}
	}
	sort.Strings(out)
	return out
}

// EnabledApps returns the configured prefixes, sorted.
func (b *Builder) EnabledApps() []string {
	out := append([]string{}, b.cfg.Prefixes...)
	sort.Strings(out)
	return out
}

// seal stops further Adds and returns the records in jar-digest order.
func (b *Builder) seal() []fingerprint.JarRecord {
	b.sealed = true
	digests := make([]string, 0, len(b.records))
	for d := range b.records {
		digests = append(digests, d)
	}
	sort.Strings(digests)
	out := make([]fingerprint.JarRecord, 0, len(digests))
	for _, d := range digests {
		out = append(out, b.records[d])
	}
	return out
}

// compress splits a version label on the longest configured prefix it starts with. Prefix ids are
// assigned on first use and never change.
func (b *Builder) compress(label string) (VersionRef, bool) {
	if len(b.prefixes) == 0 {
		return VersionRef{PrefixID: -1, Remainder: label}, true
	}
	for _, p := range b.prefixes {
		if !strings.HasPrefix(label, p) {
			continue
		}
		id, ok := b.prefixIDs[p]
		if !ok {
			id = len(b.prefixMap)
			b.prefixIDs[p] = id
			b.prefixMap = append(b.prefixMap, p)
		}
		return VersionRef{PrefixID: id, Remainder: label[len(p):]}, true
	}
	b.cfg.Diagnostics.WarnOnce("prefix:"+label, "Version %s does not start with a monitored library prefix, skipping", label)
	return VersionRef{}, false
}

func (b *Builder) prefixSnapshot() []string {
	return append([]string{}, b.prefixMap...)
}

// JarFingerprintTable indexes records by jar-fingerprint.
func (b *Builder) JarFingerprintTable() *Table[VersionRef] {
	return b.jarTable(JarFingerprint, func(rec fingerprint.JarRecord) (string, bool) {
		return rec.JarFingerprint, rec.JarFingerprint != ""
	})
}

// JarDigestTable indexes records by jar-class-digest. Records without one are skipped.
func (b *Builder) JarDigestTable() *Table[VersionRef] {
	return b.jarTable(JarDigest, func(rec fingerprint.JarRecord) (string, bool) {
		if rec.JarClassDigest == nil {
			b.cfg.Diagnostics.Warn("Record %s of version %s has no jar-class-digest", rec.JarDigest, rec.Version)
			return "", false
		}
		return *rec.JarClassDigest, true
	})
}

func (b *Builder) jarTable(analytic Analytic, key func(fingerprint.JarRecord) (string, bool)) *Table[VersionRef] {
	identifiers := make(map[string][]VersionRef)
	for _, rec := range b.seal() {
		ref, ok := b.compress(rec.Version)
		if !ok {
			continue
		}
		k, ok := key(rec)
		if !ok {
			continue
		}
		identifiers[k] = append(identifiers[k], ref)
	}
	minimized, size := Minimize(identifiers, b.cfg.JarMargin)
	return &Table[VersionRef]{
		Analytic:    analytic,
		Size:        size,
		Identifiers: minimized,
		PrefixMap:   b.prefixSnapshot(),
	}
}

// ClassFingerprintTable indexes every fingerprinted class of every record by its fingerprint.
func (b *Builder) ClassFingerprintTable() *Table[ClassRef] {
	return b.classTable(ClassFingerprint, func(c fingerprint.ClassRecord) *string {
		return c.Fingerprint
	})
}

// ClassDigestTable indexes every digested class of every record by its raw digest.
func (b *Builder) ClassDigestTable() *Table[ClassRef] {
	return b.classTable(ClassDigest, func(c fingerprint.ClassRecord) *string {
		return c.Digest
	})
}

type versionClasses struct {
	classes  map[string]struct{}
	packages map[string]struct{}
}

func (b *Builder) classTable(analytic Analytic, key func(fingerprint.ClassRecord) *string) *Table[ClassRef] {
	var (
		identifiers = make(map[string][]ClassRef)
		packages    = newIndex()
		classes     = newIndex()
		perVersion  = make(map[string]*versionClasses)
	)
	for _, rec := range b.seal() {
		ref, ok := b.compress(rec.Version)
		if !ok {
			continue
		}
		info, ok := perVersion[rec.Version]
		if !ok {
			info = &versionClasses{classes: map[string]struct{}{}, packages: map[string]struct{}{}}
			perVersion[rec.Version] = info
		}
		for _, c := range rec.Classes {
			k := key(c)
			if k == nil {
				continue
			}
			pkg, simple := splitClassName(c.Class)
			info.classes[c.Class] = struct{}{}
			info.packages[pkg] = struct{}{}
			identifiers[*k] = append(identifiers[*k], ClassRef{
				PackageID:  packages.id(pkg),
				ClassID:    classes.id(simple),
				VersionRef: ref,
			})
		}
	}

	versionInfo := make(map[string]VersionInfo, len(perVersion))
	for v, info := range perVersion {
		pkgs := make([]string, 0, len(info.packages))
		for p := range info.packages {
			pkgs = append(pkgs, p)
		}
		sort.Strings(pkgs)
		versionInfo[v] = VersionInfo{ClassCount: len(info.classes), Packages: pkgs}
	}

	minimized, size := Minimize(identifiers, b.cfg.ClassMargin)
	return &Table[ClassRef]{
		Analytic:    analytic,
		Size:        size,
		Identifiers: minimized,
		PrefixMap:   b.prefixSnapshot(),
		PackageMap:  packages.values,
		ClassMap:    classes.values,
		VersionInfo: versionInfo,
	}
}

// index assigns ids to strings in order of first use.
type index struct {
	ids    map[string]int
	values []string
}

func newIndex() *index {
	return &index{ids: make(map[string]int), values: []string{}}
}

func (x *index) id(s string) int {
	if id, ok := x.ids[s]; ok {
		return id
	}
	id := len(x.values)
	x.ids[s] = id
	x.values = append(x.values, s)
	return id
}
