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
)

// WriteTooLargeError is returned by a SizeLimitedBuffer when a write would take it past its limit.
type WriteTooLargeError int

func (e WriteTooLargeError) Error() string {
	return fmt.Sprintf("write would exceed buffer limit of %d bytes", int(e))
}

func NewSizeLimitedBuffer(limit int) SizeLimitedBuffer {
	return SizeLimitedBuffer{limit: limit}
}

// SizeLimitedBuffer is a bytes.Buffer that rejects any write that would grow it beyond limit. A
// rejected write leaves the buffer unchanged.
type SizeLimitedBuffer struct {
	limit   int
	written int
	buffer  bytes.Buffer
}

func (c *SizeLimitedBuffer) Write(p []byte) (int, error) {
	if len(p)+c.written > c.limit {
		return 0, WriteTooLargeError(c.limit)
	}
	n, err := c.buffer.Write(p)
	c.written += n
	return n, err
}

func (c *SizeLimitedBuffer) Bytes() []byte {
	return c.buffer.Bytes()
}

func (c *SizeLimitedBuffer) Len() int {
	return c.written
}

// ReadAllLimited reads r to the end, failing with a WriteTooLargeError when r holds more than limit
// bytes.
func ReadAllLimited(r io.Reader, limit int) ([]byte, error) {
	buf := NewSizeLimitedBuffer(limit)
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
