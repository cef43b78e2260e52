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

package cmd

import (
	"fmt"
	"io"
	"regexp"

	"github.com/code-genome/jaudit/internal/fingerprinter"
	"github.com/code-genome/jaudit/pkg/archive"
	"github.com/code-genome/jaudit/pkg/log"
	"github.com/code-genome/jaudit/pkg/version"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type crawlFlags struct {
	ignoreDirs                  []string
	archiveOpenMode             string
	archiveMaxSize              int64
	archiveMaxMemorySize        int64
	archiveDiskSwapMaxSize      int64
	archiveDiskSwapDir          string
	directoriesCrawledPerSecond int
	classesPerSecond            int
	maxClassSize                int
	workers                     int
}

func applyCrawlFlags(cmd *cobra.Command, flags *crawlFlags) {
	cmd.Flags().StringSliceVar(&flags.ignoreDirs, "ignore-dir", nil, `Specify directory pattern to ignore. Use multiple times to supply multiple patterns.
Patterns are matched against the full path of each directory.
e.g. ignore "^/proc" to ignore "/proc" when using a crawl root of "/"`)
	cmd.Flags().StringVar(&flags.archiveOpenMode, "archive-open-mode", "standard", `Supported values:
  standard - standard file opening will be used. This may cause the filesystem cache to be populated with reads from the archive opens.
  directio - direct I/O will be used when opening archives, skipping the filesystem cache where possible.
             Archives are buffered in memory, or on disk when archive-disk-swap-max-size allows it, so that their central directory can be read.
             "directio" is not supported on tmpfs filesystems and will cause tmpfs archive files to report an error.`)
	cmd.Flags().Int64Var(&flags.archiveMaxSize, "archive-max-size", 0, `The maximum size in bytes of an archive on disk that will be fingerprinted. 0 for unlimited.`)
	cmd.Flags().Int64Var(&flags.archiveMaxMemorySize, "archive-max-memory-size", archive.DefaultMaxInMemoryArchive, `The maximum size in bytes of an archive buffered in memory when using directio.`)
	cmd.Flags().Int64Var(&flags.archiveDiskSwapMaxSize, "archive-disk-swap-max-size", 0, `The maximum size in bytes of disk space allowed for buffering directio archives that are over the archive-max-memory-size.
By default no disk swap is allowed and such archives are reported as errors.`)
	cmd.Flags().StringVar(&flags.archiveDiskSwapDir, "archive-disk-swap-dir", "/tmp", `When archive-disk-swap-max-size is non-zero, this is the directory in which temporary files will be created.`)
	cmd.Flags().IntVar(&flags.directoriesCrawledPerSecond, "directories-per-second-rate-limit", 0, `The maximum number of directories to crawl per second. 0 for unlimited.`)
	cmd.Flags().IntVar(&flags.classesPerSecond, "classes-per-second-rate-limit", 0, `The maximum number of class files to read per second. 0 for unlimited.`)
	cmd.Flags().IntVar(&flags.maxClassSize, "class-max-size", 0, `The maximum size in bytes of a single class file. 0 for the default of 16MiB.`)
	cmd.Flags().IntVar(&flags.workers, "workers", 0, `The number of archives fingerprinted concurrently. 0 for one per CPU.`)
}

func createFingerprintConfig(roots []string, flags crawlFlags) (fingerprinter.Config, error) {
	ignores, err := flags.resolveIgnoreDirs()
	if err != nil {
		return fingerprinter.Config{}, err
	}

	mode, err := flags.resolveArchiveOpenMode()
	if err != nil {
		return fingerprinter.Config{}, err
	}

	return fingerprinter.Config{
		Roots:                       roots,
		Workers:                     flags.workers,
		DirectoriesCrawledPerSecond: flags.directoriesCrawledPerSecond,
		ClassesPerSecond:            flags.classesPerSecond,
		ArchiveMaxSize:              flags.archiveMaxSize,
		MaxClassSize:                flags.maxClassSize,
		ArchiveOpenMode:             mode,
		ArchiveMaxMemorySize:        flags.archiveMaxMemorySize,
		ArchiveDiskSwapMaxSize:      flags.archiveDiskSwapMaxSize,
		ArchiveDiskSwapMaxDir:       flags.archiveDiskSwapDir,
		Ignores:                     ignores,
	}, nil
}

func (fs crawlFlags) resolveArchiveOpenMode() (archive.FileOpenMode, error) {
	switch fs.archiveOpenMode {
	case "standard":
		return archive.StandardOpen, nil
	case "directio":
		return archive.DirectIOOpen, nil
	}
	return archive.StandardOpen, fmt.Errorf(`unsupported --archive-open-mode: %s. Supported values are "standard" and "directio"`, fs.archiveOpenMode)
}

func (fs crawlFlags) resolveIgnoreDirs() ([]*regexp.Regexp, error) {
	var ignores []*regexp.Regexp
	for _, pattern := range fs.ignoreDirs {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to compile ignore-dir pattern %q", pattern)
		}
		ignores = append(ignores, compiled)
	}
	return ignores, nil
}

type libraryFlags struct {
	configPath string
	enable     []string
	disable    []string
}

func applyLibraryFlags(cmd *cobra.Command, flags *libraryFlags) {
	cmd.Flags().StringVar(&flags.configPath, "config", "", `Path to the monitored library configuration, a YAML or JSON map of library name to settings, e.g.
  log4j-core:
    enabled: true
    match:
      - regex: 'log4j-core-(2\.[0-9.]+)\.jar'
        format: 'log4j-core-%1'`)
	cmd.Flags().StringSliceVar(&flags.enable, "enable", nil, `Monitored library ids to select instead of those enabled in the configuration. Use multiple times to supply multiple ids.`)
	cmd.Flags().StringSliceVar(&flags.disable, "disable", nil, `Monitored library ids to leave out. Use multiple times to supply multiple ids.`)
}

// resolve loads the configuration and returns it restricted to the selected libraries, all marked
// enabled. Without a configuration file the result is empty.
func (fs libraryFlags) resolve() (version.Config, error) {
	if fs.configPath == "" {
		if len(fs.enable) > 0 || len(fs.disable) > 0 {
			return nil, errors.New("--enable and --disable require --config")
		}
		return version.Config{}, nil
	}
	cfg, err := version.LoadConfig(fs.configPath)
	if err != nil {
		return nil, err
	}
	names, err := cfg.Select(fs.enable, fs.disable)
	if err != nil {
		return nil, err
	}
	selected := make(version.Config, len(names))
	for _, name := range names {
		lib := cfg[name]
		lib.Enabled = true
		selected[name] = lib
	}
	return selected, nil
}

type logFlags struct {
	enableTraceLogging bool
	quiet              bool
	warningLimit       int
}

func applyLogFlags(cmd *cobra.Command, flags *logFlags) {
	cmd.Flags().BoolVar(&flags.enableTraceLogging, "enable-trace-logging", false, `Enables trace logging.`)
	cmd.Flags().BoolVar(&flags.quiet, "quiet", false, `Only output warnings, errors and the final summary.`)
	cmd.Flags().IntVar(&flags.warningLimit, "warning-limit", log.DefaultWarningLimit, `The maximum number of warnings output before further warnings are only counted.`)
}

func logger(cmd *cobra.Command, flags logFlags) (log.Logger, *log.Diagnostics) {
	var outputWriter io.Writer
	if !flags.quiet {
		outputWriter = cmd.OutOrStdout()
	}
	l := log.Logger{
		OutputWriter:       outputWriter,
		ErrorWriter:        cmd.ErrOrStderr(),
		EnableTraceLogging: flags.enableTraceLogging && !flags.quiet,
	}
	return l, log.NewDiagnostics(l, flags.warningLimit)
}
