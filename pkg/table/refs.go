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

package table

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// VersionRef is a compressed version label: the id of a library prefix in the prefix map and the
// rest of the label. A PrefixID of -1 means Remainder is the whole label. It encodes as the JSON
// array [prefix-id, remainder].
type VersionRef struct {
	PrefixID  int
	Remainder string
}

func (v VersionRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{v.PrefixID, v.Remainder})
}

func (v *VersionRef) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return errors.Wrap(err, "version reference must be an array")
	}
	if len(raw) != 2 {
		return errors.Errorf("version reference must have 2 elements, got %d", len(raw))
	}
	return unmarshalAll(raw, &v.PrefixID, &v.Remainder)
}

// ClassRef locates a class within a compressed version: package and simple class name ids from
// the table's package and class maps, followed by the version. It encodes as the JSON array
// [package-id, class-id, prefix-id, remainder].
type ClassRef struct {
	PackageID int
	ClassID   int
	VersionRef
}

func (c ClassRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]interface{}{c.PackageID, c.ClassID, c.PrefixID, c.Remainder})
}

func (c *ClassRef) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return errors.Wrap(err, "class reference must be an array")
	}
	if len(raw) != 4 {
		return errors.Errorf("class reference must have 4 elements, got %d", len(raw))
	}
	return unmarshalAll(raw, &c.PackageID, &c.ClassID, &c.PrefixID, &c.Remainder)
}

func unmarshalAll(raw []json.RawMessage, targets ...interface{}) error {
	for i, target := range targets {
		if err := json.Unmarshal(raw[i], target); err != nil {
			return errors.Wrapf(err, "element %d", i)
		}
	}
	return nil
}
