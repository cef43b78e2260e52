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

package crawl

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/code-genome/jaudit/pkg/archive"
	"github.com/code-genome/jaudit/pkg/log"
	"go.uber.org/ratelimit"
)

// Crawler crawls filesystems, matching and conditionally processing files.
type Crawler struct {
	// Limiter caps the rate at which directories are entered. Nil means no limit.
	Limiter ratelimit.Limiter
	// if non-nil, path errors are reported here
	Diagnostics *log.Diagnostics
	IgnoreDirs  []*regexp.Regexp
}

type Stats struct {
	// Total number of files scanned.
	FilesScanned uint64 `json:"filesScanned"`
	// Number of files passed on for processing.
	ArchivesFound uint64 `json:"archivesFound"`
	// Number of paths that were not considered due to "permission denied" errors
	PermissionDeniedCount uint64 `json:"permissionDeniedErrors"`
	// Number of paths that were attempted to be processed but encountered errors.
	PathErrorCount uint64 `json:"pathErrors"`
	// Number of paths that were skipped due to size limits
	PathSkippedCount uint64 `json:"pathsSkipped"`
}

// MatchFunc decides whether a file is processed. A skipped file is counted but not processed.
type MatchFunc func(ctx context.Context, path string, d fs.DirEntry) (matched, skipped bool, err error)

// ProcessFunc processes the given matched file.
type ProcessFunc func(ctx context.Context, path string, d fs.DirEntry)

// Crawl crawls the provided root directory. Each regular file is passed to match and, if matched,
// to process. Directories whose path matches any of IgnoreDirs are not entered.
func (c Crawler) Crawl(ctx context.Context, root string, match MatchFunc, process ProcessFunc) (Stats, error) {
	stats := Stats{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			switch {
			case os.IsPermission(err):
				stats.PermissionDeniedCount++
				return nil
			case os.IsNotExist(err):
				// Root must exist, but entries may disappear between listing a directory and
				// visiting them.
				if path == root {
					return err
				}
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.IsDir() {
			if c.includeDir(path) {
				if c.Limiter != nil {
					c.Limiter.Take()
				}
				return nil
			}
			return fs.SkipDir
		}
		if !d.Type().IsRegular() {
			return nil
		}
		stats.FilesScanned++
		matched, skipped, err := match(ctx, path, d)
		if err != nil {
			stats.PathErrorCount++
			c.Diagnostics.Warn("Error processing path %s: %v", path, err)
			return nil
		}
		if skipped {
			stats.PathSkippedCount++
			return nil
		}
		if !matched {
			return nil
		}
		stats.ArchivesFound++
		process(ctx, path, d)
		return nil
	})
	return stats, err
}

func (c Crawler) includeDir(path string) bool {
	for _, pattern := range c.IgnoreDirs {
		if pattern.MatchString(path) {
			return false
		}
	}
	return true
}

// ArchiveMatcher matches files with a supported archive extension. Archives larger than maxSize
// bytes are skipped; a maxSize of zero or less disables the limit.
func ArchiveMatcher(maxSize int64) MatchFunc {
	return func(_ context.Context, path string, d fs.DirEntry) (bool, bool, error) {
		if !archive.IsArchive(path) {
			return false, false, nil
		}
		if maxSize <= 0 {
			return true, false, nil
		}
		info, err := d.Info()
		if err != nil {
			return false, false, err
		}
		if info.Size() > maxSize {
			return false, true, nil
		}
		return true, false, nil
	}
}
