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

package archive

import (
	"context"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
)

// A WalkFn iterates through an archive, calling FileWalkFn on each member file.
type WalkFn func(ctx context.Context, walkFn FileWalkFn) error

// FileWalkFn is called by a WalkFn on each file contained in an archive. Returning proceed as false
// stops the walk without error. contents must not be used after FileWalkFn returns.
type FileWalkFn func(ctx context.Context, name string, size int64, contents io.Reader) (proceed bool, err error)

// WalkCloser is a walkable archive holding resources that must be released with Close.
type WalkCloser interface {
	Walk(ctx context.Context, walkFn FileWalkFn) error
	Close() error
}

type walkCloser struct {
	walk  WalkFn
	close func() error
}

func (w walkCloser) Walk(ctx context.Context, walkFn FileWalkFn) error {
	return w.walk(ctx, walkFn)
}

func (w walkCloser) Close() error {
	return w.close()
}

// ZipWalker returns a WalkFn over the zip archive held in r.
func ZipWalker(r io.ReaderAt, size int64) (WalkFn, error) {
	reader, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read zip central directory")
	}
	return func(ctx context.Context, walkFn FileWalkFn) error {
		return WalkZipFiles(ctx, reader, walkFn)
	}, nil
}

// WalkZipFiles calls walkFn for every non-directory entry of r in central directory order. An entry
// that cannot be opened is still passed to walkFn, with contents that fail on first read, so a
// single damaged entry does not end the walk.
func WalkZipFiles(ctx context.Context, r *zip.Reader, walkFn FileWalkFn) error {
	for _, zipFile := range r.File {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if zipFile.FileInfo().IsDir() {
			continue
		}
		proceed, err := walkZipFile(ctx, zipFile, walkFn)
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}
	}
	return nil
}

func walkZipFile(ctx context.Context, zipFile *zip.File, walkFn FileWalkFn) (bool, error) {
	rc, err := zipFile.Open()
	if err != nil {
		return walkFn(ctx, zipFile.Name, int64(zipFile.UncompressedSize64), failingReader{
			err: errors.Wrapf(err, "failed to open entry %s", zipFile.Name),
		})
	}
	defer func() {
		_ = rc.Close()
	}()
	return walkFn(ctx, zipFile.Name, int64(zipFile.UncompressedSize64), rc)
}

type failingReader struct {
	err error
}

func (f failingReader) Read([]byte) (int, error) {
	return 0, f.err
}

// ClassEntries wraps walkFn so that it only sees compiled classes: entries ending in ".class" that
// are not under META-INF/.
func ClassEntries(walkFn FileWalkFn) FileWalkFn {
	return func(ctx context.Context, name string, size int64, contents io.Reader) (bool, error) {
		if !IsClassEntry(name) {
			return true, nil
		}
		return walkFn(ctx, name, size, contents)
	}
}

// IsClassEntry reports whether an archive entry name denotes a class outside META-INF/.
func IsClassEntry(name string) bool {
	return strings.HasSuffix(name, ".class") && !strings.HasPrefix(name, "META-INF/")
}
