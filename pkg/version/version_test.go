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

package version_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/code-genome/jaudit/pkg/log"
	"github.com/code-genome/jaudit/pkg/version"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const monitoredYAML = `
log4j-core:
  enabled: true
  id: log4j
log4j-api:
  enabled: true
  id: log4j
commons-text:
  enabled: true
  match:
    - regex: 'apache-(commons-text)_([0-9.]+)\.jar$'
      format: '%1-%2'
    - regex: '(broken'
spring:
  enabled: false
`

func loadConfig(t *testing.T) version.Config {
	cfg, err := version.ParseConfig([]byte(monitoredYAML))
	require.NoError(t, err)
	return cfg
}

func TestParseConfig(t *testing.T) {
	cfg := loadConfig(t)
	assert.Equal(t, []string{"commons-text", "log4j-api", "log4j-core", "spring"}, cfg.Names())
	assert.Equal(t, "log4j", cfg.Identifier("log4j-core"))
	assert.Equal(t, "commons-text", cfg.Identifier("commons-text"))
	assert.Equal(t, []version.Match{
		{Regex: `apache-(commons-text)_([0-9.]+)\.jar$`, Format: "%1-%2"},
		{Regex: "(broken"},
	}, cfg["commons-text"].Match)
}

func TestParseConfig_JSON(t *testing.T) {
	cfg, err := version.ParseConfig([]byte(`{"jackson-databind": {"enabled": true, "match": [{"regex": "jackson-databind-([0-9.]+)\\.jar"}]}}`))
	require.NoError(t, err)
	assert.True(t, cfg["jackson-databind"].Enabled)
	assert.Equal(t, `jackson-databind-([0-9.]+)\.jar`, cfg["jackson-databind"].Match[0].Regex)
}

func TestParseConfig_Invalid(t *testing.T) {
	for _, doc := range []string{
		"lib:\n  enabeld: true\n",
		"lib:\n  match:\n    - format: '%1'\n",
		"- not\n- a map\n",
	} {
		_, err := version.ParseConfig([]byte(doc))
		assert.Error(t, err, doc)
	}
	cfg, err := version.ParseConfig(nil)
	require.NoError(t, err)
	assert.Empty(t, cfg)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitored.yml")
	require.NoError(t, os.WriteFile(path, []byte(monitoredYAML), 0o644))
	cfg, err := version.LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg, 4)

	_, err = version.LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestConfig_Select(t *testing.T) {
	cfg := loadConfig(t)
	for _, tc := range []struct {
		name     string
		enabled  []string
		disabled []string
		want     []string
	}{
		{name: "defaults to enabled libraries", want: []string{"commons-text", "log4j-api", "log4j-core"}},
		{name: "explicit ids", enabled: []string{"log4j", "spring"}, want: []string{"log4j-api", "log4j-core", "spring"}},
		{name: "disabled ids are removed", disabled: []string{"log4j"}, want: []string{"commons-text"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := cfg.Select(tc.enabled, tc.disabled)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := cfg.Select([]string{"log4j-core"}, []string{"nope"})
	assert.EqualError(t, err, "unknown monitored libraries: log4j-core, nope")
}

func TestLabeler_Version(t *testing.T) {
	color.NoColor = true
	var errs bytes.Buffer
	diag := log.NewDiagnostics(log.Logger{ErrorWriter: &errs}, 0)
	labeler := version.NewLabeler(loadConfig(t), diag)

	for _, tc := range []struct {
		path string
		want string
		ok   bool
	}{
		{path: "/opt/app/lib/log4j-core-2.14.1.jar", want: "log4j-core-2.14.1", ok: true},
		{path: "Log4J-API-2.17.0.JAR", want: "log4j-api-2.17.0", ok: true},
		{path: "log4j-core-2.0-rc1.jar", want: "log4j-core-2.0-rc1", ok: true},
		{path: "log4j-core-2.0-beta9.jar", want: "log4j-core-2.0-beta9", ok: true},
		{path: "log4j-core-2.0.alpha2.jar", want: "log4j-core-2.0.alpha2", ok: true},
		{path: "log4j-core-2.0-alpha2.jar", want: "log4j-core-2.0-alpha2", ok: true},
		{path: "apache-commons-text_1.9.jar", want: "commons-text-1.9", ok: true},
		{path: "commons-text-1.10.0.jar", want: "commons-text-1.10.0", ok: true},
		{path: "my-commons-text-1.10.0.jar", ok: false},
		{path: "spring-5.3.1.jar", ok: false},
		{path: "log4j-core.jar", ok: false},
		{path: "log4j-core-2.14.1.war", ok: false},
	} {
		t.Run(tc.path, func(t *testing.T) {
			got, ok := labeler.Version(tc.path)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}

	reported, _ := diag.Counts()
	assert.Equal(t, 1, reported)
	assert.Contains(t, errs.String(), "Malformed regular expression (broken for commons-text")

	// the same malformed pattern is reported once however many labelers use it
	version.NewLabeler(loadConfig(t), diag)
	reported, _ = diag.Counts()
	assert.Equal(t, 1, reported)
}

func TestLabeler_FormatGroups(t *testing.T) {
	cfg := version.Config{
		"netty": {Enabled: true, Match: []version.Match{
			{Regex: `netty-all-([0-9.]+)\.final\.jar$`, Format: "netty-%1.Final"},
			{Regex: `netty_([a-z]+)_([0-9.]+)\.jar$`, Format: "netty-%2-%1-%3"},
			{Regex: `netty\.jar$`},
		}},
	}
	labeler := version.NewLabeler(cfg, nil)

	got, ok := labeler.Version("netty-all-4.1.68.final.jar")
	require.True(t, ok)
	assert.Equal(t, "netty-4.1.68.Final", got)

	got, ok = labeler.Version("netty_codec_4.1.jar")
	require.True(t, ok)
	assert.Equal(t, "netty-4.1-codec-", got)

	// no groups and no format yields an empty label, which is not a match
	_, ok = labeler.Version("netty.jar")
	assert.False(t, ok)
}

func TestLabeler_AppRecord(t *testing.T) {
	cfg := version.Config{
		"spring":      {Enabled: true},
		"spring-core": {Enabled: true, ID: "spring"},
	}
	labeler := version.NewLabeler(cfg, nil)

	name, lib, ok := labeler.AppRecord("spring-core-5.3.1")
	require.True(t, ok)
	assert.Equal(t, "spring-core", name)
	assert.Equal(t, "spring", lib.ID)

	name, lib, ok = labeler.AppRecord("spring-5.3.1")
	require.True(t, ok)
	assert.Equal(t, "spring", name)
	assert.Equal(t, "spring", lib.ID)

	for _, label := range []string{"spring", "springs-1.0", "other-1.0", "spring-core"} {
		_, _, ok = labeler.AppRecord(label)
		assert.Equal(t, label == "spring-core", ok, label)
	}
}

func TestStandardPatternsAndNamePatterns(t *testing.T) {
	assert.Equal(t, `^(jakarta\.servlet-[0-9][0-9\.]*)\.jar$`, version.StandardPatterns("jakarta.servlet")[0])

	cfg := loadConfig(t)
	patterns := cfg.NamePatterns()
	// two custom patterns plus four standard ones for each of the three enabled libraries
	assert.Len(t, patterns, 2+3*4)
	assert.Equal(t, "%1-%2", patterns[0].Format)
	assert.Equal(t, `^(commons-text-[0-9][0-9\.]*)\.jar$`, patterns[2].Regex)
}

func TestParseConfig_LowerCasesNames(t *testing.T) {
	cfg, err := version.ParseConfig([]byte("Log4J-Core:\n  enabled: true\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"log4j-core"}, cfg.Names())

	labeler := version.NewLabeler(cfg, nil)
	label, ok := labeler.Version("Log4J-Core-2.0.jar")
	require.True(t, ok)
	name, _, ok := labeler.AppRecord(label)
	require.True(t, ok)
	assert.Equal(t, "log4j-core", name)

	_, err = version.ParseConfig([]byte("lib:\n  enabled: true\nLIB:\n  enabled: false\n"))
	assert.EqualError(t, err, "library lib is configured more than once")
}

func TestNamePatterns_MatchLabelerOrder(t *testing.T) {
	cfg, err := version.ParseConfig([]byte(`
log4j:
  enabled: true
  match:
    - regex: 'log4j-(.*)\.jar$'
      format: 'any-%1'
log4j-core:
  enabled: true
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"log4j-core", "log4j"}, cfg.MatchOrder())

	for _, path := range []string{"log4j-core-2.0.jar", "log4j-api-2.0.jar"} {
		t.Run(path, func(t *testing.T) {
			want, wantOK := version.NewLabeler(cfg, nil).Version(path)
			got, gotOK := version.NewPatternLabeler(cfg.NamePatterns(), nil).Version(path)
			assert.Equal(t, wantOK, gotOK)
			assert.Equal(t, want, got)
		})
	}
	label, _ := version.NewLabeler(cfg, nil).Version("log4j-core-2.0.jar")
	assert.Equal(t, "log4j-core-2.0", label)
}

func TestSortPrefixes(t *testing.T) {
	in := []string{"a", "log4j", "log4j-core", "b", "log4j-api"}
	assert.Equal(t, []string{"log4j-core", "log4j-api", "log4j", "a", "b"}, version.SortPrefixes(in))
	assert.Equal(t, []string{"a", "log4j", "log4j-core", "b", "log4j-api"}, in)
}

func TestNewPatternLabeler(t *testing.T) {
	cfg := loadConfig(t)
	labeler := version.NewPatternLabeler(cfg.NamePatterns(), nil)
	got, ok := labeler.Version("lib/log4j-core-2.14.1.jar")
	require.True(t, ok)
	assert.Equal(t, "log4j-core-2.14.1", got)

	_, _, ok = labeler.AppRecord("log4j-core-2.14.1")
	assert.False(t, ok)
}
