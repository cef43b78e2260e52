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

package log

import (
	"fmt"
	"sync"
)

// DefaultWarningLimit is the number of warnings a Diagnostics reports before suppressing the rest.
const DefaultWarningLimit = 100

// Diagnostics is a sink for non-fatal warnings. At most Limit warnings are written; keyed warnings
// are written at most once per key. Every method is safe on a nil *Diagnostics, which discards
// everything.
type Diagnostics struct {
	logger Logger
	limit  int

	mu         sync.Mutex
	seen       map[string]struct{}
	reported   int
	suppressed int
}

// NewDiagnostics returns a sink writing through logger. A limit of zero or less uses
// DefaultWarningLimit.
func NewDiagnostics(logger Logger, limit int) *Diagnostics {
	if limit <= 0 {
		limit = DefaultWarningLimit
	}
	return &Diagnostics{logger: logger, limit: limit, seen: make(map[string]struct{})}
}

// Warn reports a warning, subject to the limit.
func (d *Diagnostics) Warn(format string, args ...interface{}) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emit(format, args...)
}

// WarnOnce reports a warning unless one with the same key was reported before. Repeats are not
// counted as suppressed.
func (d *Diagnostics) WarnOnce(key string, format string, args ...interface{}) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return
	}
	d.seen[key] = struct{}{}
	d.emit(format, args...)
}

func (d *Diagnostics) emit(format string, args ...interface{}) {
	if d.reported >= d.limit {
		d.suppressed++
		return
	}
	d.reported++
	d.logger.Warn(format, args...)
}

// Counts returns the number of warnings written and suppressed so far.
func (d *Diagnostics) Counts() (reported, suppressed int) {
	if d == nil {
		return 0, 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reported, d.suppressed
}

// Summarize writes how many warnings were suppressed, if any.
func (d *Diagnostics) Summarize() {
	if _, suppressed := d.Counts(); suppressed > 0 {
		d.logger.Warn("%s suppressed after the first %d", plural(suppressed, "further warning"), d.limit)
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s was", noun)
	}
	return fmt.Sprintf("%d %ss were", n, noun)
}
