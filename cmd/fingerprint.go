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
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/code-genome/jaudit/internal/fingerprinter"
	"github.com/code-genome/jaudit/pkg/dataset"
	"github.com/code-genome/jaudit/pkg/version"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func fingerprintCmd() *cobra.Command {
	var (
		cmdCrawlFlags   crawlFlags
		cmdLibraryFlags libraryFlags
		cmdLogFlags     logFlags
		storeDir        string
		bundlePath      string
		requireVersion  bool
		force           bool
		outputJSON      bool
	)
	cmd := cobra.Command{
		Use:   "fingerprint <root>...",
		Args:  cobra.MinimumNArgs(1),
		Short: "Fingerprint the archives beneath each root into a record store",
		Long: `Fingerprint the archives beneath each root into a record store.

Each root can be a single archive or a directory, which is traversed for jar, war, ear, par and zip files.
One record is written per distinct archive to <store>/<d0>/<d1>/<jar-digest>.json, where the jar digest is the
SHA-256 of the archive file. Archives that already have a record are skipped unless --force is set.

When a monitored library configuration is given, each record is labeled with the version derived from the
archive's file name. Records of known versions are the input of the table command.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := createFingerprintConfig(args, cmdCrawlFlags)
			if err != nil {
				return err
			}
			libs, err := cmdLibraryFlags.resolve()
			if err != nil {
				return err
			}
			if requireVersion && len(libs) == 0 {
				return errors.New("--require-version requires at least one monitored library from --config")
			}
			if bundlePath != "" && storeDir == "" {
				return errors.New("--bundle requires --store")
			}

			logger, diag := logger(cmd, cmdLogFlags)
			if len(libs) > 0 {
				cfg.Labeler = version.NewLabeler(libs, diag)
			}
			cfg.StoreDir = storeDir
			cfg.Force = force
			cfg.RequireVersion = requireVersion

			summary, err := fingerprinter.Fingerprint(cmd.Context(), cfg, logger, diag)
			diag.Summarize()
			if err != nil {
				return err
			}
			if bundlePath != "" {
				if err := writeBundle(dataset.Store{Dir: storeDir}, bundlePath); err != nil {
					return err
				}
			}
			return printFingerprintSummary(cmd.OutOrStdout(), summary, outputJSON)
		},
	}
	applyCrawlFlags(&cmd, &cmdCrawlFlags)
	applyLibraryFlags(&cmd, &cmdLibraryFlags)
	applyLogFlags(&cmd, &cmdLogFlags)
	cmd.Flags().StringVar(&storeDir, "store", "", `Directory the records are written to. When empty, records are only summarised.`)
	cmd.Flags().StringVar(&bundlePath, "bundle", "", `When set, every record in the store is also written to this zip bundle once fingerprinting completes.`)
	cmd.Flags().BoolVar(&requireVersion, "require-version", false, `Skip archives whose file name does not yield a version label.`)
	cmd.Flags().BoolVar(&force, "force", false, `Fingerprint archives again even if the store already holds their record.`)
	cmd.Flags().BoolVar(&outputJSON, "json", false, `If true, the summary will be in JSON format`)
	return &cmd
}

func writeBundle(store dataset.Store, path string) (rErr error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create bundle %s", path)
	}
	defer func() {
		if err := f.Close(); err != nil && rErr == nil {
			rErr = errors.Wrapf(err, "failed to close bundle %s", path)
		}
	}()
	_, err = store.WriteBundle(f)
	return err
}

func printFingerprintSummary(w io.Writer, summary fingerprinter.Summary, outputJSON bool) error {
	if outputJSON {
		return errors.Wrap(json.NewEncoder(w).Encode(summary), "failed to encode summary")
	}
	_, err := fmt.Fprintf(w, "Files scanned: %d, archives found: %d, fingerprinted: %d, already stored: %d, unlabeled: %d, failed: %d, class entry failures: %d, skipped paths: %d, permission denied: %d, path errors: %d\n",
		summary.FilesScanned, summary.ArchivesFound, summary.Fingerprinted, summary.AlreadyStored, summary.Unlabeled,
		summary.ArchiveFailures, summary.EntryFailures, summary.PathSkippedCount, summary.PermissionDeniedCount, summary.PathErrorCount)
	return err
}
