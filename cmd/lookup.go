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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/code-genome/jaudit/pkg/archive"
	"github.com/code-genome/jaudit/pkg/crawl"
	"github.com/code-genome/jaudit/pkg/fingerprint"
	"github.com/code-genome/jaudit/pkg/log"
	"github.com/code-genome/jaudit/pkg/table"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// lookupResult is the JSON output for one archive.
type lookupResult struct {
	Path            string                 `json:"path"`
	JarDigest       string                 `json:"jarDigest"`
	JarFingerprint  string                 `json:"jarFingerprint"`
	Identifications []table.Identification `json:"identifications"`
}

func lookupCmd() *cobra.Command {
	var (
		cmdCrawlFlags crawlFlags
		cmdLogFlags   logFlags
		outputJSON    bool
	)
	cmd := cobra.Command{
		Use:   "lookup <tables> <root>...",
		Args:  cobra.MinimumNArgs(2),
		Short: "Identify the versions of archives using tables built by the table command",
		Long: `Identify the versions of archives using tables built by the table command.

Each root can be a single archive or a directory, which is traversed for archives. Every archive is
fingerprinted and looked up in each table of the document. Keys are truncated in the tables, so a match is
probable rather than certain. A lookup returning more than one candidate version is reported as ambiguous.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := createFingerprintConfig(args[1:], cmdCrawlFlags)
			if err != nil {
				return err
			}
			ds, err := table.ReadDatasetFile(args[0])
			if err != nil {
				return err
			}
			logger, diag := logger(cmd, cmdLogFlags)
			defer diag.Summarize()

			l := lookup{
				dataset: ds,
				opener:  cfg.Opener(),
				opts:    cfg.ArchiveOptions(),
				diag:    diag,
				out:     cmd.OutOrStdout(),
				json:    outputJSON,
			}
			crawler := cfg.Crawler(diag)
			for _, root := range cfg.Roots {
				stats, err := crawler.Crawl(cmd.Context(), root, crawl.ArchiveMatcher(cfg.ArchiveMaxSize), l.process)
				if err != nil {
					return errors.Wrapf(err, "failed to crawl %s", root)
				}
				logger.Trace("Crawled %s: %d files scanned, %d archives found", root, stats.FilesScanned, stats.ArchivesFound)
			}
			if l.failures > 0 {
				return errors.Errorf("%d archives could not be looked up", l.failures)
			}
			return nil
		},
	}
	applyCrawlFlags(&cmd, &cmdCrawlFlags)
	applyLogFlags(&cmd, &cmdLogFlags)
	cmd.Flags().BoolVar(&outputJSON, "json", false, "If true, output will be in JSON format")
	return &cmd
}

type lookup struct {
	dataset  *table.Dataset
	opener   archive.Opener
	opts     fingerprint.ArchiveOptions
	diag     *log.Diagnostics
	out      io.Writer
	json     bool
	failures int
}

func (l *lookup) process(ctx context.Context, path string, _ fs.DirEntry) {
	result, err := l.identify(ctx, path)
	if err != nil {
		l.failures++
		l.diag.Warn("Failed to look up %s: %v", path, err)
		return
	}
	if l.json {
		if err := json.NewEncoder(l.out).Encode(result); err != nil {
			l.diag.Warn("Failed to write result for %s: %v", path, err)
		}
		return
	}
	writeLookupResult(l.out, result)
}

func (l *lookup) identify(ctx context.Context, path string) (lookupResult, error) {
	digest, err := l.opener.Digest(path)
	if err != nil {
		return lookupResult{}, err
	}
	walker, err := l.opener.Open(path)
	if err != nil {
		return lookupResult{}, err
	}
	defer func() {
		_ = walker.Close()
	}()
	res, err := fingerprint.FingerprintArchive(ctx, walker.Walk, l.opts)
	if err != nil {
		return lookupResult{}, err
	}
	for _, failure := range res.Failures {
		l.diag.Warn("Skipping entry %s of %s: %v", failure.Entry, path, failure.Err)
	}
	res.Record.JarDigest = digest
	return lookupResult{
		Path:            path,
		JarDigest:       digest,
		JarFingerprint:  res.Record.JarFingerprint,
		Identifications: l.dataset.Identify(res.Record, path, l.diag),
	}, nil
}

func writeLookupResult(w io.Writer, result lookupResult) {
	_, _ = fmt.Fprintf(w, "%s\n", result.Path)
	for _, id := range result.Identifications {
		_, _ = fmt.Fprintf(w, "  %s: %s\n", id.Analytic, describeCandidates(id))
	}
}

func describeCandidates(id table.Identification) string {
	if len(id.Candidates) == 0 {
		return "no match"
	}
	parts := make([]string, 0, len(id.Candidates))
	for _, c := range id.Best() {
		if c.Matched > 0 {
			parts = append(parts, fmt.Sprintf("%s (%d/%d classes)", c.Version, c.Matched, c.Total))
		} else {
			parts = append(parts, c.Version)
		}
	}
	s := strings.Join(parts, ", ")
	if id.Ambiguous() {
		s += " [ambiguous]"
	}
	if others := len(id.Candidates) - len(id.Best()); others > 0 {
		s += fmt.Sprintf(" (+%d weaker candidates)", others)
	}
	return s
}
