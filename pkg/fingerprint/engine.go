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

package fingerprint

import (
	"encoding/hex"
	"io"
	"sort"
	"sync"

	"github.com/code-genome/jaudit/pkg/buffer"
	"github.com/code-genome/jaudit/pkg/java"
	"github.com/minio/sha256-simd"
	"github.com/pkg/errors"
)

// DefaultMaxClassSize is the largest class file an Engine reads from a stream.
const DefaultMaxClassSize = 16 << 20

type classState struct {
	features *ClassFeatures
	digest   string
}

// Engine accumulates the classes of one archive and produces its JarRecord. Classes may be added
// from multiple goroutines; the record does not depend on the order they were added in.
type Engine struct {
	// MaxClassSize bounds AddClassReader.
	MaxClassSize int

	mu      sync.Mutex
	classes map[string]classState
}

func NewEngine() *Engine {
	return &Engine{
		MaxClassSize: DefaultMaxClassSize,
		classes:      make(map[string]classState),
	}
}

// AddClass extracts the features of cf. digest is the hex SHA-256 of the raw class bytes, or empty
// when unknown. When two classes share a name the one with the smaller digest is kept.
func (e *Engine) AddClass(cf *java.ClassFile, digest string) error {
	features, err := ExtractFeatures(cf)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.classes[features.Name]; ok && !replaces(digest, existing.digest) {
		return nil
	}
	e.classes[features.Name] = classState{features: features, digest: digest}
	return nil
}

func replaces(digest, existing string) bool {
	if existing == "" {
		return digest != ""
	}
	return digest != "" && digest < existing
}

// AddClassBytes digests and decodes b. A class that fails to decode contributes nothing, and the
// returned error names entry.
func (e *Engine) AddClassBytes(entry string, b []byte) error {
	sum := sha256.Sum256(b)
	cf, err := java.ParseClassBytes(b)
	if err != nil {
		return errors.Wrapf(err, "%s", entry)
	}
	if err := e.AddClass(cf, hex.EncodeToString(sum[:])); err != nil {
		return errors.Wrapf(err, "%s", entry)
	}
	return nil
}

// AddClassReader reads a class of at most MaxClassSize bytes from r and adds it as AddClassBytes does.
func (e *Engine) AddClassReader(entry string, r io.Reader) error {
	limit := e.MaxClassSize
	if limit <= 0 {
		limit = DefaultMaxClassSize
	}
	b, err := buffer.ReadAllLimited(r, limit)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to read class", entry)
	}
	return e.AddClassBytes(entry, b)
}

// Len returns the number of distinct class names added so far.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.classes)
}

// Record hashes every class added so far. JarDigest and Version are left for the caller.
func (e *Engine) Record() JarRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.classes))
	for name := range e.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	filter := e.referenceFilter()

	rec := JarRecord{Classes: make([]ClassRecord, 0, len(names))}
	var fingerprints, digests []string
	for _, name := range names {
		state := e.classes[name]
		class := ClassRecord{Class: name}
		if state.digest != "" {
			digest := state.digest
			class.Digest = &digest
			digests = append(digests, digest)
		}
		if !state.features.Skipped {
			fp := hashStrings(state.features.Features.Tokens(filter.keep))
			class.Fingerprint = &fp
			fingerprints = append(fingerprints, fp)
		}
		rec.Classes = append(rec.Classes, class)
	}

	sort.Strings(fingerprints)
	rec.JarFingerprint = hashStrings(fingerprints)
	if len(digests) > 0 {
		sort.Strings(digests)
		d := hashStrings(digests)
		rec.JarClassDigest = &d
	}
	return rec
}

type memberSet map[Member]struct{}

func (s memberSet) add(members []Member) {
	for _, m := range members {
		s[m] = struct{}{}
	}
}

func (s memberSet) has(m Member) bool {
	_, ok := s[m]
	return ok
}

// referenceFilter holds the members declared by the classes kept in the record. Classes that lost
// a name clash contribute nothing.
type referenceFilter struct {
	syntheticFields  memberSet
	syntheticMethods memberSet
	overrides        memberSet
}

// referenceFilter must be called with e.mu held.
func (e *Engine) referenceFilter() referenceFilter {
	f := referenceFilter{syntheticFields: memberSet{}, syntheticMethods: memberSet{}, overrides: memberSet{}}
	for _, state := range e.classes {
		f.syntheticFields.add(state.features.SyntheticFields)
		f.syntheticMethods.add(state.features.SyntheticMethods)
		f.overrides.add(state.features.Overrides)
	}
	return f
}

// keep drops references whose presence depends on the compiler rather than the source: calls to
// inherited java/lang/Object methods that the archive does not override, and references to
// synthetic members. Synthetic methods match on the full descriptor, so a bridge never hides the
// method it delegates to.
func (f referenceFilter) keep(feature Feature) bool {
	m := feature.Member
	switch feature.Category {
	case MethodRef:
		if objectMethods[m.Name] {
			if !f.overrides.has(Member{Owner: m.Owner, Name: m.Name, Descriptor: java.StripReturnType(m.Descriptor)}) {
				return false
			}
		}
		return !f.syntheticMethods.has(m)
	case FieldRef:
		return !f.syntheticFields.has(m)
	}
	return true
}

// hashStrings returns the lowercase hex SHA-256 of the concatenation of ss.
func hashStrings(ss []string) string {
	h := sha256.New()
	for _, s := range ss {
		_, _ = io.WriteString(h, s)
	}
	return hex.EncodeToString(h.Sum(nil))
}
