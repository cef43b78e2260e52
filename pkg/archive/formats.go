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
	"strings"
)

const (
	UnsupportedArchive FormatType = iota
	JarArchive
	WebArchive
	EnterpriseArchive
	ZipArchive
)

// FormatType is the kind of archive named by a file extension. Every supported kind is a member of
// the zip family.
type FormatType int

var extensions = map[string]FormatType{
	"jar": JarArchive,
	"par": JarArchive,
	"war": WebArchive,
	"ear": EnterpriseArchive,
	"zip": ZipArchive,
}

func (f FormatType) String() string {
	switch f {
	case JarArchive:
		return "jar"
	case WebArchive:
		return "war"
	case EnterpriseArchive:
		return "ear"
	case ZipArchive:
		return "zip"
	}
	return "unsupported"
}

// ParseArchiveFormatFromFile returns the archive format implied by the extension of filename. The
// extension is matched case insensitively.
func ParseArchiveFormatFromFile(filename string) (FormatType, bool) {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 || i == len(filename)-1 {
		return UnsupportedArchive, false
	}
	format, ok := extensions[strings.ToLower(filename[i+1:])]
	if !ok {
		return UnsupportedArchive, false
	}
	return format, true
}

// IsArchive reports whether filename has a supported archive extension.
func IsArchive(filename string) bool {
	_, ok := ParseArchiveFormatFromFile(filename)
	return ok
}
