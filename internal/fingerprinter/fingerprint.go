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

package fingerprinter

import (
	"context"
	"io/fs"
	"regexp"
	"runtime"
	"sort"
	"sync"

	"github.com/code-genome/jaudit/pkg/archive"
	"github.com/code-genome/jaudit/pkg/buffer"
	"github.com/code-genome/jaudit/pkg/crawl"
	"github.com/code-genome/jaudit/pkg/dataset"
	"github.com/code-genome/jaudit/pkg/fingerprint"
	"github.com/code-genome/jaudit/pkg/log"
	"github.com/code-genome/jaudit/pkg/version"
	"github.com/pkg/errors"
	"go.uber.org/ratelimit"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	// Roots are the directories or archive files to fingerprint.
	Roots []string
	// Workers is the number of archives fingerprinted concurrently. Zero uses GOMAXPROCS.
	Workers int
	// StoreDir, if set, receives one record per archive. Archives already stored are skipped
	// unless Force is set.
	StoreDir string
	Force    bool
	// Labeler assigns version labels from archive file names. Nil leaves records unlabeled.
	Labeler *version.Labeler
	// RequireVersion skips archives the Labeler cannot label.
	RequireVersion bool
	// Maximum number of directories to scan per second, or 0 for no limit.
	DirectoriesCrawledPerSecond int
	// Maximum number of class entries to read per second, or 0 for no limit.
	ClassesPerSecond int
	// ArchiveMaxSize is the largest archive on disk that is fingerprinted, or 0 for no limit.
	ArchiveMaxSize int64
	// MaxClassSize bounds a single class entry. Zero uses fingerprint.DefaultMaxClassSize.
	MaxClassSize int
	// ArchiveOpenMode prescribes either direct-io or standard file opening.
	ArchiveOpenMode archive.FileOpenMode
	// ArchiveMaxMemorySize caps the in-memory buffer of a direct-io archive.
	ArchiveMaxMemorySize int64
	// ArchiveDiskSwapMaxSize is the total size on disk allowed for buffering direct-io archives
	// over ArchiveMaxMemorySize. Zero disables disk buffering.
	ArchiveDiskSwapMaxSize int64
	// ArchiveDiskSwapMaxDir is the directory temporary archive buffers are written to.
	ArchiveDiskSwapMaxDir string
	// Ignores specifies the regular expressions used to determine which directories to omit.
	Ignores []*regexp.Regexp
}

// Summary describes a completed run. Records holds every record produced, sorted by jar digest.
type Summary struct {
	crawl.Stats
	Fingerprinted   int `json:"fingerprinted"`
	AlreadyStored   int `json:"alreadyStored"`
	Unlabeled       int `json:"unlabeled"`
	ArchiveFailures int `json:"archiveFailures"`
	EntryFailures   int `json:"entryFailures"`

	Records []fingerprint.JarRecord `json:"-"`
}

// Fingerprint crawls every root and fingerprints each archive found on a bounded worker pool.
// Failures of single archives are reported to diag and counted; only crawl failures and
// cancellation are returned as errors.
func Fingerprint(ctx context.Context, cfg Config, logger log.Logger, diag *log.Diagnostics) (Summary, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	f := &fingerprinter{
		cfg:    cfg,
		logger: logger,
		diag:   diag,
		opener: cfg.Opener(),
		opts:   cfg.ArchiveOptions(),
	}
	if cfg.StoreDir != "" {
		f.store = &dataset.Store{Dir: cfg.StoreDir}
	}

	crawler := cfg.Crawler(diag)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	var crawlErr error
	for _, root := range cfg.Roots {
		stats, err := crawler.Crawl(groupCtx, root, crawl.ArchiveMatcher(cfg.ArchiveMaxSize), func(ctx context.Context, path string, _ fs.DirEntry) {
			group.Go(func() error {
				return f.process(ctx, path)
			})
		})
		f.addStats(stats)
		if err != nil {
			crawlErr = errors.Wrapf(err, "failed to crawl %s", root)
			break
		}
	}
	groupErr := group.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	sort.Slice(f.summary.Records, func(i, j int) bool {
		return f.summary.Records[i].JarDigest < f.summary.Records[j].JarDigest
	})
	if crawlErr != nil {
		return f.summary, crawlErr
	}
	if groupErr != nil {
		return f.summary, groupErr
	}
	return f.summary, ctx.Err()
}

type fingerprinter struct {
	cfg    Config
	logger log.Logger
	diag   *log.Diagnostics
	opener archive.Opener
	opts   fingerprint.ArchiveOptions
	store  *dataset.Store

	mu      sync.Mutex
	summary Summary
}

func (f *fingerprinter) process(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var label string
	if f.cfg.Labeler != nil {
		label, _ = f.cfg.Labeler.Version(path)
	}
	if label == "" && f.cfg.RequireVersion {
		f.logger.Trace("No version label for %s, skipping", path)
		f.update(func(s *Summary) { s.Unlabeled++ })
		return nil
	}

	digest, err := f.opener.Digest(path)
	if err != nil {
		f.archiveFailed(path, err)
		return nil
	}
	if f.store != nil && !f.cfg.Force && f.store.Has(digest) {
		f.logger.Trace("Record for %s already stored", path)
		f.update(func(s *Summary) { s.AlreadyStored++ })
		return nil
	}

	walker, err := f.opener.Open(path)
	if err != nil {
		f.archiveFailed(path, err)
		return nil
	}
	result, err := fingerprint.FingerprintArchive(ctx, walker.Walk, f.opts)
	_ = walker.Close()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		f.archiveFailed(path, err)
		return nil
	}
	for _, failure := range result.Failures {
		f.diag.Warn("Skipping entry %s of %s: %v", failure.Entry, path, failure.Err)
	}

	rec := result.Record
	rec.JarDigest = digest
	rec.Version = label
	if f.store != nil {
		if _, err := f.store.Put(rec); err != nil {
			f.archiveFailed(path, err)
			return nil
		}
	}
	f.logger.Info("Fingerprinted %s (%d classes) version=%q jar-fingerprint=%s", path, len(rec.Classes), label, rec.JarFingerprint)
	f.update(func(s *Summary) {
		s.Fingerprinted++
		s.EntryFailures += len(result.Failures)
		s.Records = append(s.Records, rec)
	})
	return nil
}

func (f *fingerprinter) archiveFailed(path string, err error) {
	f.diag.Warn("Failed to fingerprint %s: %v", path, err)
	f.update(func(s *Summary) { s.ArchiveFailures++ })
}

func (f *fingerprinter) update(fn func(*Summary)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.summary)
}

func (f *fingerprinter) addStats(stats crawl.Stats) {
	f.update(func(s *Summary) {
		s.FilesScanned += stats.FilesScanned
		s.ArchivesFound += stats.ArchivesFound
		s.PermissionDeniedCount += stats.PermissionDeniedCount
		s.PathErrorCount += stats.PathErrorCount
		s.PathSkippedCount += stats.PathSkippedCount
	})
}

// Opener returns the archive opener for the configured open mode and in-memory and disk swap
// limits.
func (cfg Config) Opener() archive.Opener {
	return archive.Opener{Mode: cfg.ArchiveOpenMode, Converter: cfg.converter()}
}

// ArchiveOptions returns the per-archive fingerprinting options.
func (cfg Config) ArchiveOptions() fingerprint.ArchiveOptions {
	return fingerprint.ArchiveOptions{
		MaxClassSize: cfg.MaxClassSize,
		Limiter:      limiterFromConfig(cfg.ClassesPerSecond),
	}
}

// Crawler returns a crawler honouring the configured ignores and directory rate.
func (cfg Config) Crawler(diag *log.Diagnostics) crawl.Crawler {
	return crawl.Crawler{
		Limiter:     limiterFromConfig(cfg.DirectoriesCrawledPerSecond),
		Diagnostics: diag,
		IgnoreDirs:  cfg.Ignores,
	}
}

func (cfg Config) converter() buffer.ReaderAtConverter {
	memory := cfg.ArchiveMaxMemorySize
	if memory <= 0 {
		memory = archive.DefaultMaxInMemoryArchive
	}
	if cfg.ArchiveDiskSwapMaxSize <= 0 {
		return buffer.InMemoryReaderAtConverter(memory)
	}
	return &buffer.DiskOverflowReaderAtConverter{
		Dir:           cfg.ArchiveDiskSwapMaxDir,
		MaxMemorySize: memory,
		MaxDiskSpace:  cfg.ArchiveDiskSwapMaxSize,
	}
}

func limiterFromConfig(limit int) ratelimit.Limiter {
	if limit > 0 {
		return ratelimit.New(limit)
	}
	return ratelimit.NewUnlimited()
}
