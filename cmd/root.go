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
	"github.com/palantir/pkg/cobracli"
	"github.com/spf13/cobra"
)

var Version = "unspecified"

func rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jaudit",
		Short: "Identify the Java libraries and versions embedded in archives from their bytecode",
		Long: `Identify the Java libraries and versions embedded in archives from their bytecode.

Archives of known versions are fingerprinted into records with "fingerprint", the records are
aggregated into lookup tables with "table", and unknown archives are identified against the tables
with "lookup".`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(fingerprintCmd())
	rootCmd.AddCommand(tableCmd())
	rootCmd.AddCommand(lookupCmd())
	rootCmd.AddCommand(describeCmd())
	return rootCmd
}

func Execute() int {
	return cobracli.ExecuteWithDefaultParams(rootCmd(), cobracli.VersionFlagParam(Version))
}
