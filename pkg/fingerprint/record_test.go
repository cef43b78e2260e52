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

package fingerprint_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/code-genome/jaudit/pkg/fingerprint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string {
	return &s
}

func TestWriteRecord(t *testing.T) {
	rec := fingerprint.JarRecord{
		Classes: []fingerprint.ClassRecord{
			{Class: "org/example/A<T>", Digest: strPtr("d1"), Fingerprint: strPtr("f1")},
			{Class: "module-info", Digest: strPtr("d2")},
		},
		JarDigest:      "jd",
		JarFingerprint: "jf",
		Version:        "lib-1.0",
	}
	var buf bytes.Buffer
	require.NoError(t, fingerprint.WriteRecord(&buf, rec))
	assert.Equal(t, `{"classes":[{"class":"org/example/A<T>","digest":"d1","fingerprint":"f1"},`+
		`{"class":"module-info","digest":"d2","fingerprint":null}],"jar-class-digest":null,`+
		`"jar-digest":"jd","jar-fingerprint":"jf","version":"lib-1.0"}`+"\n", buf.String())

	got, err := fingerprint.ReadRecord(&buf)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestReadRecord_Invalid(t *testing.T) {
	for _, tc := range []struct {
		name  string
		input string
	}{
		{name: "not json", input: "jar"},
		{name: "wrong shape", input: `{"classes":{}}`},
		{name: "missing fingerprint", input: `{"jar-digest":"abc","classes":[]}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fingerprint.ReadRecord(strings.NewReader(tc.input))
			assert.Error(t, err)
		})
	}
}

func TestJarRecord_ClassDigests(t *testing.T) {
	rec := fingerprint.JarRecord{Classes: []fingerprint.ClassRecord{
		{Class: "A", Digest: strPtr("1")},
		{Class: "B"},
		{Class: "C", Digest: strPtr("3")},
	}}
	assert.Equal(t, []string{"1", "3"}, rec.ClassDigests())
}
