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
	"encoding/json"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/code-genome/jaudit/pkg/fingerprint"
	"github.com/code-genome/jaudit/pkg/log"
	"github.com/code-genome/jaudit/pkg/version"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Analytic names one kind of lookup table in a dataset.
type Analytic string

const (
	JarDigest        Analytic = "jar-digest"
	JarFingerprint   Analytic = "jar-fingerprint"
	ClassFingerprint Analytic = "class-fingerprint"
	ClassDigest      Analytic = "class-digest"
	JarName          Analytic = "jar-name"
)

var (
	AllAnalytics     = []Analytic{JarDigest, JarFingerprint, ClassFingerprint, ClassDigest, JarName}
	DefaultAnalytics = []Analytic{JarDigest, JarFingerprint}
)

func ParseAnalytic(s string) (Analytic, error) {
	for _, a := range AllAnalytics {
		if string(a) == s {
			return a, nil
		}
	}
	return "", errors.Errorf("unknown analytic %q", s)
}

// NameTable publishes the file name patterns used to label archives.
type NameTable struct {
	Analytic Analytic        `json:"analytic"`
	Patterns []version.Match `json:"patterns"`
}

// Dataset is the document holding every table built from one set of records.
type Dataset struct {
	JarDigest         *Table[VersionRef] `json:"jar-digest,omitempty"`
	JarFingerprint    *Table[VersionRef] `json:"jar-fingerprint,omitempty"`
	ClassFingerprint  *Table[ClassRef]   `json:"class-fingerprint,omitempty"`
	ClassDigest       *Table[ClassRef]   `json:"class-digest,omitempty"`
	JarName           *NameTable         `json:"jar-name,omitempty"`
	EnabledApps       []string           `json:"enabled_apps"`
	SupportedVersions []string           `json:"supported_versions"`
}

// Dataset builds the tables for analytics, or DefaultAnalytics if none are given, and seals the
// builder.
func (b *Builder) Dataset(analytics []Analytic) (*Dataset, error) {
	if len(analytics) == 0 {
		analytics = DefaultAnalytics
	}
	ds := &Dataset{
		EnabledApps:       b.EnabledApps(),
		SupportedVersions: b.Versions(),
	}
	for _, a := range analytics {
		switch a {
		case JarDigest:
			ds.JarDigest = b.JarDigestTable()
		case JarFingerprint:
			ds.JarFingerprint = b.JarFingerprintTable()
		case ClassFingerprint:
			ds.ClassFingerprint = b.ClassFingerprintTable()
		case ClassDigest:
			ds.ClassDigest = b.ClassDigestTable()
		case JarName:
			ds.JarName = &NameTable{Analytic: JarName, Patterns: append([]version.Match{}, b.cfg.NamePatterns...)}
		default:
			return nil, errors.Errorf("unknown analytic %q", a)
		}
	}
	b.sealed = true
	return ds, nil
}

// Analytics lists the analytics present in ds.
func (ds *Dataset) Analytics() []Analytic {
	var out []Analytic
	for _, a := range AllAnalytics {
		if ds.has(a) {
			out = append(out, a)
		}
	}
	return out
}

func (ds *Dataset) has(a Analytic) bool {
	switch a {
	case JarDigest:
		return ds.JarDigest != nil
	case JarFingerprint:
		return ds.JarFingerprint != nil
	case ClassFingerprint:
		return ds.ClassFingerprint != nil
	case ClassDigest:
		return ds.ClassDigest != nil
	case JarName:
		return ds.JarName != nil
	}
	return false
}

func WriteDataset(w io.Writer, ds *Dataset, pretty bool) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return errors.Wrap(enc.Encode(ds), "failed to encode dataset")
}

// WriteDatasetFile writes ds to path, zstd compressed when path ends in ".zst".
func WriteDatasetFile(path string, ds *Dataset, pretty bool) (rErr error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer func() {
		if err := f.Close(); err != nil && rErr == nil {
			rErr = errors.Wrapf(err, "failed to close %s", path)
		}
	}()
	if !strings.HasSuffix(path, ".zst") {
		return WriteDataset(f, ds, pretty)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		return errors.Wrap(err, "failed to create zstd writer")
	}
	if err := WriteDataset(zw, ds, pretty); err != nil {
		_ = zw.Close()
		return err
	}
	return errors.Wrap(zw.Close(), "failed to flush zstd stream")
}

func ReadDataset(r io.Reader) (*Dataset, error) {
	var ds Dataset
	if err := json.NewDecoder(r).Decode(&ds); err != nil {
		return nil, errors.Wrap(err, "failed to decode dataset")
	}
	return &ds, nil
}

// ReadDatasetFile reads a dataset written by WriteDatasetFile.
func ReadDatasetFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer func() {
		_ = f.Close()
	}()
	if !strings.HasSuffix(path, ".zst") {
		return ReadDataset(f)
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create zstd reader")
	}
	defer zr.Close()
	return ReadDataset(zr)
}

// Candidate is a version an archive may be. For class analytics Matched counts the archive's
// classes found in the version and Total is the version's class count.
type Candidate struct {
	Version string `json:"version"`
	Matched int    `json:"matched,omitempty"`
	Total   int    `json:"total,omitempty"`
}

// Identification is the answer of one analytic for one archive.
type Identification struct {
	Analytic   Analytic    `json:"analytic"`
	Candidates []Candidate `json:"candidates"`
}

// Best returns the candidates sharing the highest match count.
func (id Identification) Best() []Candidate {
	if len(id.Candidates) == 0 {
		return nil
	}
	top := id.Candidates[0].Matched
	n := 1
	for n < len(id.Candidates) && id.Candidates[n].Matched == top {
		n++
	}
	return id.Candidates[:n]
}

// Ambiguous reports whether the analytic could not settle on a single version.
func (id Identification) Ambiguous() bool {
	return len(id.Best()) > 1
}

// Identify looks rec up in every table of ds. filename is only used by the jar-name analytic.
// Truncated keys mean candidates are probable, not certain.
func (ds *Dataset) Identify(rec fingerprint.JarRecord, filename string, diag *log.Diagnostics) []Identification {
	var out []Identification
	if ds.JarDigest != nil && rec.JarClassDigest != nil {
		out = append(out, identifyJar(ds.JarDigest, *rec.JarClassDigest))
	}
	if ds.JarFingerprint != nil {
		out = append(out, identifyJar(ds.JarFingerprint, rec.JarFingerprint))
	}
	if ds.ClassFingerprint != nil {
		out = append(out, identifyClasses(ds.ClassFingerprint, rec, func(c fingerprint.ClassRecord) *string {
			return c.Fingerprint
		}))
	}
	if ds.ClassDigest != nil {
		out = append(out, identifyClasses(ds.ClassDigest, rec, func(c fingerprint.ClassRecord) *string {
			return c.Digest
		}))
	}
	if ds.JarName != nil && filename != "" {
		id := Identification{Analytic: JarName}
		if v, ok := version.NewPatternLabeler(ds.JarName.Patterns, diag).Version(filename); ok {
			id.Candidates = []Candidate{{Version: v}}
		}
		out = append(out, id)
	}
	return out
}

func identifyJar(t *Table[VersionRef], key string) Identification {
	id := Identification{Analytic: t.Analytic}
	seen := make(map[string]bool)
	for _, ref := range t.Lookup(key) {
		v, ok := t.ExpandVersion(ref)
		if !ok || seen[v] {
			continue
		}
		seen[v] = true
		id.Candidates = append(id.Candidates, Candidate{Version: v})
	}
	sort.Slice(id.Candidates, func(i, j int) bool {
		return id.Candidates[i].Version < id.Candidates[j].Version
	})
	return id
}

func identifyClasses(t *Table[ClassRef], rec fingerprint.JarRecord, key func(fingerprint.ClassRecord) *string) Identification {
	matched := make(map[string]int)
	for _, c := range rec.Classes {
		k := key(c)
		if k == nil {
			continue
		}
		versions := make(map[string]bool)
		for _, ref := range t.Lookup(*k) {
			// class names are not compared so relocated copies still count
			_, v, ok := t.ExpandClass(ref)
			if !ok || versions[v] {
				continue
			}
			versions[v] = true
			matched[v]++
		}
	}
	id := Identification{Analytic: t.Analytic}
	for v, n := range matched {
		id.Candidates = append(id.Candidates, Candidate{Version: v, Matched: n, Total: t.VersionInfo[v].ClassCount})
	}
	sort.Slice(id.Candidates, func(i, j int) bool {
		a, b := id.Candidates[i], id.Candidates[j]
		if a.Matched != b.Matched {
			return a.Matched > b.Matched
		}
		return a.Version < b.Version
	})
	return id
}
