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
	"io"
)

// IntermediateBufferReader serves reads from Buffer, refilling it from Reader with reads of exactly
// len(Buffer) bytes. This keeps the reads issued to Reader aligned when Buffer is, which files opened
// for direct i/o require. At most ContentSize bytes are returned.
type IntermediateBufferReader struct {
	Reader      io.Reader
	ContentSize int64
	Buffer      []byte

	start, end int
	delivered  int64
}

func (r *IntermediateBufferReader) Read(p []byte) (int, error) {
	if r.delivered >= r.ContentSize {
		return 0, io.EOF
	}
	if r.start == r.end {
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.Buffer[r.start:r.end])
	if remaining := r.ContentSize - r.delivered; int64(n) > remaining {
		n = int(remaining)
	}
	r.start += n
	r.delivered += int64(n)
	return n, nil
}

func (r *IntermediateBufferReader) fill() error {
	n, err := r.Reader.Read(r.Buffer)
	r.start, r.end = 0, n
	switch {
	case n > 0:
		return nil
	case err == io.EOF:
		// the reader ran dry before ContentSize bytes were seen
		return io.ErrUnexpectedEOF
	case err != nil:
		return err
	}
	return io.ErrNoProgress
}
