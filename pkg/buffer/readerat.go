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

package buffer

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// ContentsExceedLimitError is returned when converting a reader would exceed a configured size limit.
// The string value describes which limit was hit.
type ContentsExceedLimitError string

func (o ContentsExceedLimitError) Error() string {
	if o == "" {
		return "contents size exceeds limit"
	}
	return "contents size exceeds limit: " + string(o)
}

// CloseFn releases any resources held by a converted ReaderAt.
type CloseFn func() error

// ReaderAtConverter turns a sequential reader of known size into an io.ReaderAt, which random access
// formats such as zip need.
type ReaderAtConverter interface {
	ReaderAt(r io.Reader, contentSize int64) (io.ReaderAt, CloseFn, error)
}

// ReaderAtConverterFunc is a pure function ReaderAtConverter.
type ReaderAtConverterFunc func(r io.Reader, contentSize int64) (io.ReaderAt, CloseFn, error)

func (fn ReaderAtConverterFunc) ReaderAt(r io.Reader, contentSize int64) (io.ReaderAt, CloseFn, error) {
	return fn(r, contentSize)
}

// InMemoryReaderAtConverter buffers content of at most maxSize bytes in memory.
func InMemoryReaderAtConverter(maxSize int64) ReaderAtConverterFunc {
	return func(r io.Reader, contentSize int64) (io.ReaderAt, CloseFn, error) {
		if contentSize > maxSize {
			return nil, nil, ContentsExceedLimitError("over max allowed in-memory buffer size")
		}
		return inMemoryReaderAt(r, contentSize)
	}
}

// DiskOverflowReaderAtConverter buffers content up to MaxMemorySize in memory and spills anything
// larger to a temporary file in Dir. The total size of live temporary files never exceeds
// MaxDiskSpace; a conversion that would breach it fails with a ContentsExceedLimitError.
// Temporary files are removed by the returned CloseFn. Safe for concurrent use.
type DiskOverflowReaderAtConverter struct {
	Dir           string
	MaxMemorySize int64
	MaxDiskSpace  int64

	mu       sync.Mutex
	occupied int64
}

func (c *DiskOverflowReaderAtConverter) ReaderAt(r io.Reader, contentSize int64) (io.ReaderAt, CloseFn, error) {
	if contentSize <= c.MaxMemorySize {
		return inMemoryReaderAt(r, contentSize)
	}
	if !c.reserve(contentSize) {
		return nil, nil, ContentsExceedLimitError("over remaining space allowed for disk swap")
	}

	file, err := os.CreateTemp(c.Dir, "jaudit-tmp")
	if err != nil {
		c.release(contentSize)
		return nil, nil, errors.Wrap(err, "failed to create overflow file")
	}
	if err := copyExactlyN(file, r, contentSize); err != nil {
		_ = file.Close()
		if rmErr := os.Remove(file.Name()); rmErr == nil {
			c.release(contentSize)
		}
		return nil, nil, err
	}

	var once sync.Once
	var closeErr error
	return file, func() error {
		once.Do(func() {
			_ = file.Close()
			if closeErr = os.Remove(file.Name()); closeErr == nil {
				c.release(contentSize)
			}
		})
		return closeErr
	}, nil
}

func (c *DiskOverflowReaderAtConverter) reserve(n int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > c.MaxDiskSpace-c.occupied {
		return false
	}
	c.occupied += n
	return true
}

func (c *DiskOverflowReaderAtConverter) release(n int64) {
	c.mu.Lock()
	c.occupied -= n
	c.mu.Unlock()
}

func inMemoryReaderAt(r io.Reader, size int64) (io.ReaderAt, CloseFn, error) {
	var buf bytes.Buffer
	buf.Grow(int(size))
	if err := copyExactlyN(&buf, r, size); err != nil {
		return nil, nil, err
	}
	return bytes.NewReader(buf.Bytes()), func() error { return nil }, nil
}

func copyExactlyN(dst io.Writer, src io.Reader, n int64) error {
	actual, err := io.CopyN(dst, src, n)
	if err == io.EOF {
		return fmt.Errorf("expected content size to be %d but was %d", n, actual)
	}
	return err
}
