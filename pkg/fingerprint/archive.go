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
	"context"
	"io"
	"sort"

	"github.com/code-genome/jaudit/pkg/archive"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/ratelimit"
)

// EntryError is a failure to fingerprint one archive entry. It never aborts the archive.
type EntryError struct {
	Entry string
	Err   error
}

func (e EntryError) Error() string {
	return e.Err.Error()
}

func (e EntryError) Unwrap() error {
	return e.Err
}

// ArchiveOptions configures FingerprintArchive.
type ArchiveOptions struct {
	// MaxClassSize bounds each class entry. Zero uses DefaultMaxClassSize.
	MaxClassSize int
	// Limiter, when set, is taken once per class entry.
	Limiter ratelimit.Limiter
}

// Result is the outcome of fingerprinting one archive.
type Result struct {
	Record   JarRecord
	Failures []EntryError
	// Entries counts the class entries seen, including failed ones.
	Entries int
}

// Err combines every entry failure into a single error, or returns nil when there were none.
func (r *Result) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, f)
	}
	return err
}

// FingerprintArchive fingerprints the class entries visited by walk. Entries that cannot be read or
// decoded are reported in Result.Failures; only a failure of the walk itself is returned as an
// error.
func FingerprintArchive(ctx context.Context, walk archive.WalkFn, opts ArchiveOptions) (*Result, error) {
	engine := NewEngine()
	if opts.MaxClassSize > 0 {
		engine.MaxClassSize = opts.MaxClassSize
	}

	result := &Result{}
	err := walk(ctx, archive.ClassEntries(func(ctx context.Context, name string, size int64, contents io.Reader) (bool, error) {
		if opts.Limiter != nil {
			opts.Limiter.Take()
		}
		result.Entries++
		if err := engine.AddClassReader(name, contents); err != nil {
			result.Failures = append(result.Failures, EntryError{Entry: name, Err: err})
		}
		return true, nil
	}))
	if err != nil {
		return nil, errors.Wrap(err, "failed to walk archive")
	}
	sort.SliceStable(result.Failures, func(i, j int) bool {
		return result.Failures[i].Entry < result.Failures[j].Entry
	})
	result.Record = engine.Record()
	return result, nil
}
