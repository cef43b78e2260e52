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

package java

import (
	"fmt"

	"github.com/pkg/errors"
)

// MalformedInputError is returned when class file bytes cannot be decoded: a bad magic number,
// a truncated stream, an unrecognised constant pool tag or an invalid type descriptor.
type MalformedInputError struct {
	// Offset is the byte offset at which decoding failed, or -1 when not applicable.
	Offset int
	Reason string
}

func (e *MalformedInputError) Error() string {
	if e.Offset < 0 {
		return "malformed class file: " + e.Reason
	}
	return fmt.Sprintf("malformed class file at offset %d: %s", e.Offset, e.Reason)
}

// IndexResolutionError is returned when a constant pool index is out of range, refers to the
// reserved second slot of a long or double, or holds an entry of the wrong kind.
type IndexResolutionError struct {
	Index uint16
	Want  Tag
	// Got is the tag found at Index. It is zero when Index is out of range.
	Got Tag
}

func (e *IndexResolutionError) Error() string {
	msg := fmt.Sprintf("constant pool index %d", e.Index)
	switch e.Got {
	case 0:
		msg += " out of range"
	case TagReserved:
		msg += " is the reserved slot of a long or double"
	default:
		msg += " holds " + e.Got.String()
	}
	if e.Want != 0 {
		msg += ", expected " + e.Want.String()
	}
	return msg
}

// IsMalformedInput reports whether err, or any error it wraps, is a *MalformedInputError.
func IsMalformedInput(err error) bool {
	var target *MalformedInputError
	return errors.As(err, &target)
}

// IsIndexResolution reports whether err, or any error it wraps, is an *IndexResolutionError.
func IsIndexResolution(err error) bool {
	var target *IndexResolutionError
	return errors.As(err, &target)
}

func malformed(offset int, format string, args ...interface{}) error {
	return errors.WithStack(&MalformedInputError{Offset: offset, Reason: fmt.Sprintf(format, args...)})
}
