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

package fingerprint

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// JarRecord is the persisted fingerprint of one archive. Fields are declared in key order so the
// JSON encoding has sorted keys.
type JarRecord struct {
	Classes []ClassRecord `json:"classes"`
	// JarClassDigest is the hash of the sorted raw class digests, nil when no class was digested.
	JarClassDigest *string `json:"jar-class-digest"`
	// JarDigest is the hex SHA-256 of the archive file itself.
	JarDigest      string `json:"jar-digest"`
	JarFingerprint string `json:"jar-fingerprint"`
	Version        string `json:"version"`
}

// ClassRecord is the fingerprint of one class. Fingerprint is nil for skipped classes.
type ClassRecord struct {
	Class       string  `json:"class"`
	Digest      *string `json:"digest"`
	Fingerprint *string `json:"fingerprint"`
}

// ClassDigests returns the raw digests of rec's classes, skipping classes without one.
func (rec JarRecord) ClassDigests() []string {
	var out []string
	for _, c := range rec.Classes {
		if c.Digest != nil {
			out = append(out, *c.Digest)
		}
	}
	return out
}

// WriteRecord encodes rec as a single line of compact JSON.
func WriteRecord(w io.Writer, rec JarRecord) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return errors.Wrap(enc.Encode(rec), "failed to encode record")
}

// ReadRecord decodes a record written by WriteRecord. A record without a jar-fingerprint is
// rejected.
func ReadRecord(r io.Reader) (JarRecord, error) {
	var rec JarRecord
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return JarRecord{}, errors.Wrap(err, "failed to decode record")
	}
	if rec.JarFingerprint == "" {
		return JarRecord{}, errors.New("record has no jar-fingerprint")
	}
	return rec, nil
}
