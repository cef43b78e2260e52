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
	"encoding/hex"
	"io"
	"os"

	"github.com/code-genome/jaudit/pkg/buffer"
	"github.com/minio/sha256-simd"
	"github.com/ncw/directio"
	"github.com/pkg/errors"
)

// FileOpenMode is the behaviour used when opening a file on disk.
type FileOpenMode bool

const (
	// StandardOpen opens files using read only flags.
	StandardOpen FileOpenMode = false
	// DirectIOOpen opens files using flags that allow for direct i/o, skipping filesystem cache.
	DirectIOOpen FileOpenMode = true

	// directIOIntermediateBufferSize is the intermediate buffer size used when using DirectIOOpen FileOpenMode.
	directIOIntermediateBufferSize = 8 * directio.BlockSize

	// DefaultMaxInMemoryArchive is the largest archive a default Opener buffers when a direct i/o
	// stream has to be turned into a random access reader.
	DefaultMaxInMemoryArchive = 256 << 20
)

// Opener opens archives and digests files on disk.
type Opener struct {
	Mode FileOpenMode
	// Converter buffers direct i/o streams for random access. Nil uses an in-memory converter
	// capped at DefaultMaxInMemoryArchive.
	Converter buffer.ReaderAtConverter
}

// Open opens the zip archive at path.
func (o Opener) Open(path string) (WalkCloser, error) {
	f, size, direct, err := o.openFile(path)
	if err != nil {
		return nil, err
	}
	if !direct {
		walk, err := ZipWalker(f, size)
		if err != nil {
			_ = f.Close()
			return nil, errors.Wrapf(err, "failed to open archive %s", path)
		}
		return walkCloser{walk: walk, close: f.Close}, nil
	}

	converter := o.Converter
	if converter == nil {
		converter = buffer.InMemoryReaderAtConverter(DefaultMaxInMemoryArchive)
	}
	ra, release, err := converter.ReaderAt(alignedReader(f, size), size)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "failed to buffer archive %s", path)
	}
	closeAll := func() error {
		rErr := release()
		if fErr := f.Close(); fErr != nil {
			return fErr
		}
		return rErr
	}
	walk, err := ZipWalker(ra, size)
	if err != nil {
		_ = closeAll()
		return nil, errors.Wrapf(err, "failed to open archive %s", path)
	}
	return walkCloser{walk: walk, close: closeAll}, nil
}

// Digest returns the lowercase hex SHA-256 of the whole file at path.
func (o Opener) Digest(path string) (string, error) {
	f, size, direct, err := o.openFile(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	var r io.Reader = f
	if direct {
		r = alignedReader(f, size)
	}
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", errors.Wrapf(err, "failed to read %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// openFile falls back to a standard open for files smaller than one direct i/o block.
func (o Opener) openFile(path string) (*os.File, int64, bool, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, 0, false, errors.WithStack(err)
	}
	if o.Mode == DirectIOOpen && stat.Size() >= directio.BlockSize {
		f, err := directio.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			return nil, 0, false, errors.Wrapf(err, "failed to open %s for direct i/o", path)
		}
		return f, stat.Size(), true, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, false, errors.WithStack(err)
	}
	return f, stat.Size(), false, nil
}

func alignedReader(f *os.File, size int64) io.Reader {
	return &buffer.IntermediateBufferReader{
		Reader:      f,
		ContentSize: size,
		Buffer:      directio.AlignedBlock(directIOIntermediateBufferSize),
	}
}
