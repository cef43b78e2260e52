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

// Package archivetest writes zip archives for tests.
package archivetest

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

// Entry is a single archive member. A name ending in "/" is written as a directory.
type Entry struct {
	Name string
	Body []byte
}

// ZipBytes encodes entries, in order, as a deflated zip archive.
func ZipBytes(t testing.TB, entries ...Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		f, err := w.Create(e.Name)
		require.NoError(t, err)
		if len(e.Body) > 0 {
			_, err = f.Write(e.Body)
			require.NoError(t, err)
		}
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// WriteZip writes entries as a zip archive to dir/name, creating dir if needed, and returns the
// path written.
func WriteZip(t testing.TB, dir, name string, entries ...Entry) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, ZipBytes(t, entries...), 0o644))
	return path
}
