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

// Package dataset persists fingerprint records: one JSON document per archive, sharded by the first
// two characters of the archive digest, and zip bundles of such documents.
package dataset

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/code-genome/jaudit/pkg/fingerprint"
	"github.com/code-genome/jaudit/pkg/log"
	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
)

const recordExtension = ".json"

// Store is a directory of records laid out as <Dir>/<d0>/<d1>/<jar-digest>.json.
type Store struct {
	Dir string
}

// Path returns where the record of jarDigest is stored.
func (s Store) Path(jarDigest string) (string, error) {
	if len(jarDigest) < 2 || strings.ContainsAny(jarDigest, `/\.`) {
		return "", errors.Errorf("invalid jar digest %q", jarDigest)
	}
	return filepath.Join(s.Dir, jarDigest[:1], jarDigest[1:2], jarDigest+recordExtension), nil
}

// Has reports whether a record for jarDigest exists.
func (s Store) Has(jarDigest string) bool {
	path, err := s.Path(jarDigest)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Put writes rec unless a record with the same jar digest is already stored. It returns whether
// the record was written.
func (s Store) Put(rec fingerprint.JarRecord) (bool, error) {
	path, err := s.Path(rec.JarDigest)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, errors.Wrapf(err, "failed to create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".record-*")
	if err != nil {
		return false, errors.Wrap(err, "failed to create temporary record")
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if err := fingerprint.WriteRecord(tmp, rec); err != nil {
		_ = tmp.Close()
		return false, err
	}
	if err := tmp.Close(); err != nil {
		return false, errors.Wrap(err, "failed to close temporary record")
	}
	// readers never see a partially written record
	if err := os.Rename(tmp.Name(), path); err != nil {
		return false, errors.Wrapf(err, "failed to store record %s", path)
	}
	return true, nil
}

// Get reads the record of jarDigest.
func (s Store) Get(jarDigest string) (fingerprint.JarRecord, error) {
	path, err := s.Path(jarDigest)
	if err != nil {
		return fingerprint.JarRecord{}, err
	}
	return readRecordFile(path)
}

// Digests returns the jar digests of all stored records, sorted.
func (s Store) Digests() ([]string, error) {
	var out []string
	err := filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.HasSuffix(d.Name(), recordExtension) {
			out = append(out, strings.TrimSuffix(d.Name(), recordExtension))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list records in %s", s.Dir)
	}
	sort.Strings(out)
	return out, nil
}

func readRecordFile(path string) (fingerprint.JarRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return fingerprint.JarRecord{}, errors.Wrapf(err, "failed to open %s", path)
	}
	defer func() {
		_ = f.Close()
	}()
	rec, err := fingerprint.ReadRecord(f)
	if err != nil {
		return fingerprint.JarRecord{}, errors.Wrapf(err, "failed to read %s", path)
	}
	return rec, nil
}

// RecordFn receives each loaded record. source names the file or bundle entry it came from.
type RecordFn func(source string, rec fingerprint.JarRecord) error

// Load reads every record under paths. A path is either a directory, searched recursively for
// .json records and .zip bundles, a single bundle, or a single record. Records that fail to parse
// are reported to diag and skipped. Errors returned by fn stop the load.
func Load(ctx context.Context, paths []string, diag *log.Diagnostics, fn RecordFn) error {
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			switch {
			case strings.HasSuffix(d.Name(), recordExtension):
				rec, err := readRecordFile(path)
				if err != nil {
					diag.Warn("Skipping record: %v", err)
					return nil
				}
				return fn(path, rec)
			case strings.EqualFold(filepath.Ext(d.Name()), ".zip"):
				return LoadBundle(ctx, path, diag, fn)
			}
			return nil
		})
		if err != nil {
			return errors.Wrapf(err, "failed to load records from %s", root)
		}
	}
	return nil
}

// LoadBundle reads every record in the zip bundle at path.
func LoadBundle(ctx context.Context, path string, diag *log.Diagnostics, fn RecordFn) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open bundle %s", path)
	}
	defer func() {
		_ = r.Close()
	}()
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, recordExtension) {
			continue
		}
		rec, err := readBundleEntry(f)
		if err != nil {
			diag.Warn("Skipping record %s in bundle %s: %v", f.Name, path, err)
			continue
		}
		if err := fn(path+"!"+f.Name, rec); err != nil {
			return err
		}
	}
	return nil
}

func readBundleEntry(f *zip.File) (fingerprint.JarRecord, error) {
	rc, err := f.Open()
	if err != nil {
		return fingerprint.JarRecord{}, err
	}
	defer func() {
		_ = rc.Close()
	}()
	return fingerprint.ReadRecord(rc)
}

// WriteBundle writes every record of s into a zip bundle. Entries are named by jar digest.
func (s Store) WriteBundle(w io.Writer) (int, error) {
	digests, err := s.Digests()
	if err != nil {
		return 0, err
	}
	zw := zip.NewWriter(w)
	for _, digest := range digests {
		rec, err := s.Get(digest)
		if err != nil {
			return 0, err
		}
		entry, err := zw.Create(digest + recordExtension)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to add %s to bundle", digest)
		}
		if err := fingerprint.WriteRecord(entry, rec); err != nil {
			return 0, err
		}
	}
	if err := zw.Close(); err != nil {
		return 0, errors.Wrap(err, "failed to finish bundle")
	}
	return len(digests), nil
}
