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
)

// Table is a reverse index from truncated keys to the versions, or classes within versions, that
// produced them.
type Table[P any] struct {
	Analytic Analytic `json:"analytic"`
	// Size is the length every key was truncated to.
	Size        int            `json:"size"`
	Identifiers map[string][]P `json:"identifiers"`
	PrefixMap   []string       `json:"prefix-map"`
	// PackageMap, ClassMap and VersionInfo are only set on class tables.
	PackageMap  []string               `json:"package-map,omitempty"`
	ClassMap    []string               `json:"class-map,omitempty"`
	VersionInfo map[string]VersionInfo `json:"version_info,omitempty"`
}

// VersionInfo summarises the classes of one version in a class table.
type VersionInfo struct {
	ClassCount int      `json:"class_count"`
	Packages   []string `json:"packages"`
}

// Lookup truncates key to the table's key size and returns its payloads.
func (t *Table[P]) Lookup(key string) []P {
	return t.Identifiers[truncate(key, t.Size)]
}

// ExpandVersion restores the full label of ref. It fails for prefix ids outside the prefix map.
func (t *Table[P]) ExpandVersion(ref VersionRef) (string, bool) {
	if ref.PrefixID < 0 {
		return ref.Remainder, true
	}
	if ref.PrefixID >= len(t.PrefixMap) {
		return "", false
	}
	return t.PrefixMap[ref.PrefixID] + ref.Remainder, true
}

// ExpandClass restores the fully qualified internal class name and version label of ref.
func (t *Table[P]) ExpandClass(ref ClassRef) (class string, version string, ok bool) {
	if ref.PackageID < 0 || ref.PackageID >= len(t.PackageMap) || ref.ClassID < 0 || ref.ClassID >= len(t.ClassMap) {
		return "", "", false
	}
	if version, ok = t.ExpandVersion(ref.VersionRef); !ok {
		return "", "", false
	}
	class = t.ClassMap[ref.ClassID]
	if pkg := t.PackageMap[ref.PackageID]; pkg != "" {
		class = pkg + "/" + class
	}
	return class, version, true
}

// MinimumKeyLength returns the shortest length at which the keys are still pairwise distinct when
// truncated. Only neighbours in sorted order need comparing, and duplicate keys are ignored. The
// result is at least 1.
func MinimumKeyLength(keys []string) int {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	length := 1
	for i := 0; i+1 < len(sorted); i++ {
		a, b := sorted[i], sorted[i+1]
		if a == b {
			continue
		}
		for truncate(a, length) == truncate(b, length) {
			length++
		}
	}
	return length
}

// Minimize truncates every key of identifiers to MinimumKeyLength plus margin and returns the new
// map with the size used. Keys shorter than the size are kept whole.
func Minimize[P any](identifiers map[string][]P, margin int) (map[string][]P, int) {
	keys := make([]string, 0, len(identifiers))
	for k := range identifiers {
		keys = append(keys, k)
	}
	size := MinimumKeyLength(keys) + margin
	out := make(map[string][]P, len(identifiers))
	for k, v := range identifiers {
		out[truncate(k, size)] = v
	}
	return out, size
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// splitClassName splits an internal class name into its package and simple name.
func splitClassName(name string) (pkg, class string) {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
