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

package archive_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/code-genome/jaudit/pkg/archive"
	"github.com/code-genome/jaudit/pkg/archive/archivetest"
	"github.com/code-genome/jaudit/pkg/buffer"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpener(t *testing.T) {
	path := archivetest.WriteZip(t, t.TempDir(), "lib-1.0.jar", fixtureEntries...)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := sha256.Sum256(raw)
	expectedDigest := hex.EncodeToString(sum[:])

	for _, tc := range []struct {
		name   string
		opener archive.Opener
	}{{
		name:   "standard open",
		opener: archive.Opener{Mode: archive.StandardOpen},
	}, {
		// fixtures are smaller than one block so direct i/o falls back to a standard open
		name:   "direct i/o open of small file",
		opener: archive.Opener{Mode: archive.DirectIOOpen, Converter: buffer.InMemoryReaderAtConverter(1 << 20)},
	}} {
		t.Run(tc.name, func(t *testing.T) {
			w, err := tc.opener.Open(path)
			require.NoError(t, err)
			got := collect(t, w.Walk, archive.ClassEntries)
			assert.Len(t, got, 2)
			assert.NoError(t, w.Close())

			digest, err := tc.opener.Digest(path)
			require.NoError(t, err)
			assert.Equal(t, expectedDigest, digest)
		})
	}
}

func TestOpener_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := archive.Opener{}.Open(filepath.Join(dir, "missing.jar"))
		assert.True(t, os.IsNotExist(errors.Cause(err)))
		_, err = archive.Opener{}.Digest(filepath.Join(dir, "missing.jar"))
		assert.Error(t, err)
	})

	t.Run("not a zip", func(t *testing.T) {
		path := filepath.Join(dir, "broken.jar")
		require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
		_, err := archive.Opener{}.Open(path)
		assert.Error(t, err)

		digest, err := archive.Opener{}.Digest(path)
		require.NoError(t, err)
		assert.Len(t, digest, 64)
	})
}

func TestOpener_WalkIsRepeatable(t *testing.T) {
	path := archivetest.WriteZip(t, t.TempDir(), "a.jar", fixtureEntries...)
	w, err := archive.Opener{}.Open(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, w.Close())
	}()
	first := collect(t, w.Walk, nil)
	second := collect(t, w.Walk, nil)
	assert.Equal(t, first, second)
	require.NoError(t, w.Walk(context.Background(), archive.ClassEntries(func(context.Context, string, int64, io.Reader) (bool, error) {
		return true, nil
	})))
}
