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
	"strings"

	"github.com/code-genome/jaudit/pkg/dataset"
	"github.com/code-genome/jaudit/pkg/fingerprint"
	"github.com/code-genome/jaudit/pkg/table"
	"github.com/spf13/cobra"
)

func tableCmd() *cobra.Command {
	var (
		cmdLibraryFlags libraryFlags
		cmdLogFlags     logFlags
		analytics       []string
		requirePrefixes bool
		pretty          bool
		outputPath      string
		jarMargin       int
		classMargin     int
	)
	cmd := cobra.Command{
		Use:   "table <records>...",
		Args:  cobra.MinimumNArgs(1),
		Short: "Build lookup tables from fingerprint records of known versions",
		Long: `Build lookup tables from fingerprint records of known versions.

Each argument is a record store directory, a zip bundle of records or a single record file. Records without a
version label are skipped. Version labels are compressed against the names of the selected monitored
libraries, and records whose label does not start with one of them are skipped with a warning.

The tables are written as one JSON document, zstd compressed when the output name ends in ".zst".
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			selected, err := resolveAnalytics(analytics)
			if err != nil {
				return err
			}
			libs, err := cmdLibraryFlags.resolve()
			if err != nil {
				return err
			}
			logger, diag := logger(cmd, cmdLogFlags)
			defer diag.Summarize()

			builder, err := table.NewBuilder(table.Config{
				Prefixes:        libs.Names(),
				RequirePrefixes: requirePrefixes,
				JarMargin:       jarMargin,
				ClassMargin:     classMargin,
				NamePatterns:    libs.NamePatterns(),
				Diagnostics:     diag,
			})
			if err != nil {
				return err
			}

			unlabeled := 0
			err = dataset.Load(cmd.Context(), args, diag, func(source string, rec fingerprint.JarRecord) error {
				if rec.Version == "" {
					unlabeled++
					logger.Trace("Skipping unlabeled record %s", source)
					return nil
				}
				if err := builder.Add(rec); err != nil {
					diag.Warn("Skipping record %s: %v", source, err)
				}
				return nil
			})
			if err != nil {
				return err
			}

			ds, err := builder.Dataset(selected)
			if err != nil {
				return err
			}
			if err := table.WriteDatasetFile(outputPath, ds, pretty); err != nil {
				return err
			}
			logger.Info("Wrote %s tables for %d records of %d versions to %s (%d unlabeled records skipped)",
				joinAnalytics(ds.Analytics()), builder.Len(), len(ds.SupportedVersions), outputPath, unlabeled)
			return nil
		},
	}
	applyLibraryFlags(&cmd, &cmdLibraryFlags)
	applyLogFlags(&cmd, &cmdLogFlags)
	cmd.Flags().StringSliceVar(&analytics, "analytic", analyticNames(table.DefaultAnalytics), `Analytics to build tables for. Supported values are `+joinAnalytics(table.AllAnalytics)+`.`)
	cmd.Flags().BoolVar(&requirePrefixes, "require-prefixes", false, `Fail unless at least one monitored library is selected. Without it and without libraries, version labels are stored uncompressed.`)
	cmd.Flags().BoolVar(&pretty, "pretty", false, `Indent the JSON output.`)
	cmd.Flags().StringVarP(&outputPath, "output", "o", "tables.json", `Path of the table document. A ".zst" suffix compresses it with zstd.`)
	cmd.Flags().IntVar(&jarMargin, "jar-margin", 0, `Characters kept beyond the shortest distinguishing key length in jar tables. 0 for the default of 2.`)
	cmd.Flags().IntVar(&classMargin, "class-margin", 0, `Characters kept beyond the shortest distinguishing key length in class tables. 0 for the default of 4.`)
	return &cmd
}

func resolveAnalytics(names []string) ([]table.Analytic, error) {
	out := make([]table.Analytic, 0, len(names))
	for _, name := range names {
		a, err := table.ParseAnalytic(name)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func analyticNames(analytics []table.Analytic) []string {
	out := make([]string, 0, len(analytics))
	for _, a := range analytics {
		out = append(out, string(a))
	}
	return out
}

func joinAnalytics(analytics []table.Analytic) string {
	return strings.Join(analyticNames(analytics), ", ")
}
