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

package table_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/code-genome/jaudit/pkg/fingerprint"
	"github.com/code-genome/jaudit/pkg/log"
	"github.com/code-genome/jaudit/pkg/table"
	"github.com/code-genome/jaudit/pkg/version"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func str(s string) *string {
	return &s
}

func jar(digest, fp, label string) fingerprint.JarRecord {
	return fingerprint.JarRecord{
		JarDigest:      digest,
		JarFingerprint: fp,
		JarClassDigest: str("cd" + fp),
		Version:        label,
	}
}

func TestMinimumKeyLength(t *testing.T) {
	for _, tc := range []struct {
		name string
		keys []string
		want int
	}{
		{name: "no keys", keys: nil, want: 1},
		{name: "single key", keys: []string{"abcdef"}, want: 1},
		{name: "distinct first byte", keys: []string{"b1", "a1", "c1"}, want: 1},
		{name: "shared prefix", keys: []string{"abc", "abd", "x"}, want: 3},
		{name: "one key prefixes another", keys: []string{"ab", "abc"}, want: 3},
		{name: "duplicates ignored", keys: []string{"ab", "ab", "b"}, want: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, table.MinimumKeyLength(tc.keys))
		})
	}
}

func TestMinimize_KeysStayDistinct(t *testing.T) {
	identifiers := make(map[string][]int)
	for i := 0; i < 500; i++ {
		identifiers[fmt.Sprintf("%08x", i*7919)] = []int{i}
	}
	out, size := table.Minimize(identifiers, 2)
	assert.Len(t, out, len(identifiers))
	assert.Equal(t, table.MinimumKeyLength(keys(identifiers))+2, size)
	for k, v := range out {
		assert.LessOrEqual(t, len(k), size)
		require.Len(t, v, 1)
		assert.Equal(t, []int{v[0]}, identifiers[fmt.Sprintf("%08x", v[0]*7919)])
	}
}

func keys(m map[string][]int) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestNewBuilder_Configuration(t *testing.T) {
	t.Run("prefixes required but missing", func(t *testing.T) {
		_, err := table.NewBuilder(table.Config{RequirePrefixes: true})
		var cfgErr *table.ConfigurationError
		require.True(t, errors.As(err, &cfgErr))
		assert.Contains(t, cfgErr.Error(), "no monitored library prefixes")
	})
	t.Run("negative margin", func(t *testing.T) {
		_, err := table.NewBuilder(table.Config{JarMargin: -1})
		var cfgErr *table.ConfigurationError
		assert.True(t, errors.As(err, &cfgErr))
	})
	t.Run("prefixes present", func(t *testing.T) {
		_, err := table.NewBuilder(table.Config{RequirePrefixes: true, Prefixes: []string{"log4j"}})
		assert.NoError(t, err)
	})
}

func TestBuilder_Add(t *testing.T) {
	b, err := table.NewBuilder(table.Config{})
	require.NoError(t, err)

	require.NoError(t, b.Add(jar("d1", "f1", "lib-1")))
	require.NoError(t, b.Add(jar("d1", "f1", "lib-1")))
	require.NoError(t, b.Add(jar("d2", "f2", "lib-2")))
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, []string{"lib-1", "lib-2"}, b.Versions())

	err = b.Add(fingerprint.JarRecord{JarFingerprint: "f3", Version: "lib-3"})
	assert.EqualError(t, err, `record for version "lib-3" has no jar-digest`)

	b.JarFingerprintTable()
	assert.Equal(t, table.ErrSealed, b.Add(jar("d3", "f3", "lib-3")))
}

func TestBuilder_VersionCompression(t *testing.T) {
	var warnings bytes.Buffer
	diag := log.NewDiagnostics(log.Logger{OutputWriter: &bytes.Buffer{}, ErrorWriter: &warnings}, 10)

	b, err := table.NewBuilder(table.Config{
		Prefixes:    []string{"log4j", "log4j-core"},
		Diagnostics: diag,
	})
	require.NoError(t, err)
	require.NoError(t, b.Add(jar("b", "bbbb2222", "log4j-core-2.14.1")))
	require.NoError(t, b.Add(jar("a", "aaaa1111", "log4j-1.2.17")))
	require.NoError(t, b.Add(jar("c", "cccc3333", "commons-io-2.6")))

	tbl := b.JarFingerprintTable()
	assert.Equal(t, table.JarFingerprint, tbl.Analytic)
	assert.Equal(t, 3, tbl.Size)
	assert.Equal(t, []string{"log4j", "log4j-core"}, tbl.PrefixMap)
	assert.Equal(t, map[string][]table.VersionRef{
		"aaa": {{PrefixID: 0, Remainder: "-1.2.17"}},
		"bbb": {{PrefixID: 1, Remainder: "-2.14.1"}},
	}, tbl.Identifiers)

	v, ok := tbl.ExpandVersion(tbl.Lookup("bbbb2222")[0])
	require.True(t, ok)
	assert.Equal(t, "log4j-core-2.14.1", v)
	_, ok = tbl.ExpandVersion(table.VersionRef{PrefixID: 5})
	assert.False(t, ok)
	assert.Empty(t, tbl.Lookup("cccc3333"))

	// the same records reuse the ids of the first table
	digests := b.JarDigestTable()
	assert.Equal(t, []string{"log4j", "log4j-core"}, digests.PrefixMap)

	reported, _ := diag.Counts()
	assert.Equal(t, 1, reported)
	assert.Contains(t, warnings.String(), "commons-io-2.6")
}

func TestBuilder_PrefixesAreLowerCased(t *testing.T) {
	b, err := table.NewBuilder(table.Config{Prefixes: []string{"Log4J-Core", "log4j-core"}})
	require.NoError(t, err)
	require.NoError(t, b.Add(jar("a", "aaaa1111", "log4j-core-2.0")))

	tbl := b.JarFingerprintTable()
	assert.Equal(t, []string{"log4j-core"}, tbl.PrefixMap)
	assert.Equal(t, []table.VersionRef{{PrefixID: 0, Remainder: "-2.0"}}, tbl.Lookup("aaaa1111"))
}

func TestBuilder_NoPrefixes(t *testing.T) {
	b, err := table.NewBuilder(table.Config{})
	require.NoError(t, err)
	require.NoError(t, b.Add(jar("a", "f1", "anything-1.0")))

	tbl := b.JarFingerprintTable()
	assert.Equal(t, []table.VersionRef{{PrefixID: -1, Remainder: "anything-1.0"}}, tbl.Lookup("f1"))
	assert.Empty(t, tbl.PrefixMap)
	v, ok := tbl.ExpandVersion(tbl.Lookup("f1")[0])
	assert.True(t, ok)
	assert.Equal(t, "anything-1.0", v)
}

func TestBuilder_JarDigestTableSkipsMissingDigest(t *testing.T) {
	b, err := table.NewBuilder(table.Config{})
	require.NoError(t, err)
	withDigest := jar("a", "f1", "lib-1")
	withoutDigest := jar("b", "f2", "lib-2")
	withoutDigest.JarClassDigest = nil
	require.NoError(t, b.Add(withDigest))
	require.NoError(t, b.Add(withoutDigest))

	tbl := b.JarDigestTable()
	assert.Equal(t, table.JarDigest, tbl.Analytic)
	assert.Len(t, tbl.Identifiers, 1)
	assert.Len(t, tbl.Lookup("cdf1"), 1)
}

func classRecords() []fingerprint.JarRecord {
	return []fingerprint.JarRecord{{
		JarDigest:      "a",
		JarFingerprint: "jf1",
		Version:        "lib-1",
		Classes: []fingerprint.ClassRecord{
			{Class: "org/x/A", Fingerprint: str("f1"), Digest: str("d1")},
			{Class: "org/x/y/B", Fingerprint: str("f2")},
		},
	}, {
		JarDigest:      "b",
		JarFingerprint: "jf2",
		Version:        "lib-2",
		Classes: []fingerprint.ClassRecord{
			{Class: "org/x/A", Fingerprint: str("f1"), Digest: str("d3")},
			{Class: "C", Digest: str("d4")},
		},
	}}
}

func TestBuilder_ClassFingerprintTable(t *testing.T) {
	b, err := table.NewBuilder(table.Config{Prefixes: []string{"lib"}})
	require.NoError(t, err)
	for _, rec := range classRecords() {
		require.NoError(t, b.Add(rec))
	}

	tbl := b.ClassFingerprintTable()
	assert.Equal(t, 2+table.DefaultClassMargin, tbl.Size)
	assert.Equal(t, []string{"org/x", "org/x/y"}, tbl.PackageMap)
	assert.Equal(t, []string{"A", "B"}, tbl.ClassMap)
	assert.Equal(t, []table.ClassRef{
		{PackageID: 0, ClassID: 0, VersionRef: table.VersionRef{PrefixID: 0, Remainder: "-1"}},
		{PackageID: 0, ClassID: 0, VersionRef: table.VersionRef{PrefixID: 0, Remainder: "-2"}},
	}, tbl.Lookup("f1"))
	assert.Equal(t, map[string]table.VersionInfo{
		"lib-1": {ClassCount: 2, Packages: []string{"org/x", "org/x/y"}},
		"lib-2": {ClassCount: 1, Packages: []string{"org/x"}},
	}, tbl.VersionInfo)

	class, v, ok := tbl.ExpandClass(tbl.Lookup("f2")[0])
	require.True(t, ok)
	assert.Equal(t, "org/x/y/B", class)
	assert.Equal(t, "lib-1", v)

	_, _, ok = tbl.ExpandClass(table.ClassRef{PackageID: 9})
	assert.False(t, ok)
}

func TestBuilder_ClassDigestTable(t *testing.T) {
	b, err := table.NewBuilder(table.Config{})
	require.NoError(t, err)
	for _, rec := range classRecords() {
		require.NoError(t, b.Add(rec))
	}

	tbl := b.ClassDigestTable()
	assert.Equal(t, table.ClassDigest, tbl.Analytic)
	assert.Len(t, tbl.Identifiers, 3)
	class, v, ok := tbl.ExpandClass(tbl.Lookup("d4")[0])
	require.True(t, ok)
	assert.Equal(t, "C", class)
	assert.Equal(t, "lib-2", v)
}

func TestTable_JSON(t *testing.T) {
	b, err := table.NewBuilder(table.Config{Prefixes: []string{"log4j"}})
	require.NoError(t, err)
	require.NoError(t, b.Add(jar("a", "aaaa1111", "log4j-1.2.17")))

	out, err := json.Marshal(b.JarFingerprintTable())
	require.NoError(t, err)
	assert.Equal(t, `{"analytic":"jar-fingerprint","size":3,"identifiers":{"aaa":[[0,"-1.2.17"]]},"prefix-map":["log4j"]}`, string(out))

	var ref table.ClassRef
	require.NoError(t, json.Unmarshal([]byte(`[1,2,-1,"x-1"]`), &ref))
	assert.Equal(t, table.ClassRef{PackageID: 1, ClassID: 2, VersionRef: table.VersionRef{PrefixID: -1, Remainder: "x-1"}}, ref)

	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &ref))
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &ref))
	var vref table.VersionRef
	assert.Error(t, json.Unmarshal([]byte(`["x","y"]`), &vref))
}

func TestParseAnalytic(t *testing.T) {
	for _, a := range table.AllAnalytics {
		parsed, err := table.ParseAnalytic(string(a))
		require.NoError(t, err)
		assert.Equal(t, a, parsed)
	}
	_, err := table.ParseAnalytic("jar-size")
	assert.EqualError(t, err, `unknown analytic "jar-size"`)
}

func fullDataset(t *testing.T) *table.Dataset {
	b, err := table.NewBuilder(table.Config{
		Prefixes:     []string{"lib"},
		NamePatterns: []version.Match{{Regex: `(lib-[0-9.]+)\.jar`}},
	})
	require.NoError(t, err)
	for _, rec := range classRecords() {
		rec.JarClassDigest = str("cd" + rec.JarFingerprint)
		require.NoError(t, b.Add(rec))
	}
	ds, err := b.Dataset(table.AllAnalytics)
	require.NoError(t, err)
	return ds
}

func TestBuilder_Dataset(t *testing.T) {
	t.Run("defaults to the jar tables", func(t *testing.T) {
		b, err := table.NewBuilder(table.Config{Prefixes: []string{"lib"}})
		require.NoError(t, err)
		require.NoError(t, b.Add(jar("a", "f1", "lib-1")))
		ds, err := b.Dataset(nil)
		require.NoError(t, err)
		assert.Equal(t, table.DefaultAnalytics, ds.Analytics())
		assert.Equal(t, []string{"lib"}, ds.EnabledApps)
		assert.Equal(t, []string{"lib-1"}, ds.SupportedVersions)
		assert.Equal(t, table.ErrSealed, b.Add(jar("b", "f2", "lib-2")))
	})
	t.Run("every analytic", func(t *testing.T) {
		ds := fullDataset(t)
		assert.Equal(t, table.AllAnalytics, ds.Analytics())
		assert.Equal(t, []string{"lib-1", "lib-2"}, ds.SupportedVersions)
	})
	t.Run("unknown analytic", func(t *testing.T) {
		b, err := table.NewBuilder(table.Config{})
		require.NoError(t, err)
		_, err = b.Dataset([]table.Analytic{"jar-size"})
		assert.Error(t, err)
	})
}

func TestDatasetFile_RoundTrip(t *testing.T) {
	ds := fullDataset(t)
	for _, name := range []string{"tables.json", "tables.json.zst"} {
		for _, pretty := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s pretty=%v", name, pretty), func(t *testing.T) {
				path := filepath.Join(t.TempDir(), name)
				require.NoError(t, table.WriteDatasetFile(path, ds, pretty))
				read, err := table.ReadDatasetFile(path)
				require.NoError(t, err)
				assert.Equal(t, ds, read)
			})
		}
	}

	_, err := table.ReadDatasetFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestDataset_Identify(t *testing.T) {
	ds := fullDataset(t)

	rec := fingerprint.JarRecord{
		JarFingerprint: "jf1",
		JarClassDigest: str("cdjf1"),
		Classes:        []fingerprint.ClassRecord{{Class: "shaded/org/x/A", Fingerprint: str("f1"), Digest: str("d1")}},
	}
	ids := ds.Identify(rec, "/opt/app/lib-1.0.jar", nil)
	require.Len(t, ids, 5)
	byAnalytic := make(map[table.Analytic]table.Identification)
	for _, id := range ids {
		byAnalytic[id.Analytic] = id
	}

	assert.Equal(t, []table.Candidate{{Version: "lib-1"}}, byAnalytic[table.JarDigest].Candidates)
	assert.Equal(t, []table.Candidate{{Version: "lib-1"}}, byAnalytic[table.JarFingerprint].Candidates)

	fp := byAnalytic[table.ClassFingerprint]
	assert.Equal(t, []table.Candidate{
		{Version: "lib-1", Matched: 1, Total: 2},
		{Version: "lib-2", Matched: 1, Total: 1},
	}, fp.Candidates)
	assert.True(t, fp.Ambiguous())

	digest := byAnalytic[table.ClassDigest]
	assert.Equal(t, []table.Candidate{{Version: "lib-1", Matched: 1, Total: 1}}, digest.Candidates)
	assert.False(t, digest.Ambiguous())

	assert.Equal(t, []table.Candidate{{Version: "lib-1.0"}}, byAnalytic[table.JarName].Candidates)

	unknown := ds.Identify(fingerprint.JarRecord{JarFingerprint: "zz"}, "", nil)
	require.Len(t, unknown, 3)
	for _, id := range unknown {
		assert.Empty(t, id.Candidates)
		assert.Empty(t, id.Best())
	}
}
