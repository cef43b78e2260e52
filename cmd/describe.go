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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/code-genome/jaudit/pkg/archive"
	"github.com/code-genome/jaudit/pkg/buffer"
	"github.com/code-genome/jaudit/pkg/fingerprint"
	"github.com/code-genome/jaudit/pkg/java"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func describeCmd() *cobra.Command {
	var (
		classFilter  string
		showFeatures bool
	)
	cmd := cobra.Command{
		Use:   "describe <class-or-archive>",
		Args:  cobra.ExactArgs(1),
		Short: "Print the decoded structure and fingerprint features of class files",
		Long: `Print the decoded structure and fingerprint features of class files.

The argument is either a single .class file or an archive, in which case every class entry is described.
Features are listed before the archive-wide filtering of references that the fingerprint applies.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := args[0]
			if !archive.IsArchive(path) {
				b, err := os.ReadFile(path)
				if err != nil {
					return errors.Wrapf(err, "failed to read %s", path)
				}
				return describeClass(out, path, b, showFeatures)
			}

			walker, err := archive.Opener{}.Open(path)
			if err != nil {
				return err
			}
			defer func() {
				_ = walker.Close()
			}()
			return walker.Walk(cmd.Context(), archive.ClassEntries(func(ctx context.Context, name string, size int64, contents io.Reader) (bool, error) {
				if classFilter != "" && !strings.Contains(name, classFilter) {
					return true, nil
				}
				b, err := buffer.ReadAllLimited(contents, fingerprint.DefaultMaxClassSize)
				if err == nil {
					err = describeClass(out, name, b, showFeatures)
				}
				if err != nil {
					_, _ = fmt.Fprintf(out, "%s: %v\n", name, err)
				}
				return true, nil
			}))
		},
	}
	cmd.Flags().StringVar(&classFilter, "class", "", `Only describe archive entries whose name contains this value.`)
	cmd.Flags().BoolVar(&showFeatures, "features", true, `List the fingerprint features of each class.`)
	return &cmd
}

func describeClass(w io.Writer, source string, b []byte, showFeatures bool) error {
	cf, err := java.ParseClassBytes(b)
	if err != nil {
		return err
	}
	name, err := cf.ClassName()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "%s (%s)\n", name, source)
	_, _ = fmt.Fprintf(w, "  version: %d.%d\n", cf.MajorVersion, cf.MinorVersion)
	_, _ = fmt.Fprintf(w, "  flags: %s\n", java.FormatAccessFlags(cf.AccessFlags, java.ClassMember))
	if super, ok, err := cf.SuperClassName(); err != nil {
		return err
	} else if ok {
		_, _ = fmt.Fprintf(w, "  super: %s\n", super)
	}
	interfaces, err := cf.InterfaceNames()
	if err != nil {
		return err
	}
	for _, i := range interfaces {
		_, _ = fmt.Fprintf(w, "  implements: %s\n", i)
	}

	fields, err := cf.Fields()
	if err != nil {
		return err
	}
	for _, f := range fields {
		if err := describeMember(w, "field", f, java.FieldMember); err != nil {
			return err
		}
	}
	methods, err := cf.Methods()
	if err != nil {
		return err
	}
	for _, m := range methods {
		if err := describeMember(w, "method", m, java.MethodMember); err != nil {
			return err
		}
	}

	if !showFeatures {
		return nil
	}
	features, err := fingerprint.ExtractFeatures(cf)
	if err != nil {
		return err
	}
	if features.Skipped {
		_, _ = fmt.Fprintln(w, "  features: none, class is not fingerprinted")
		return nil
	}
	_, _ = fmt.Fprintln(w, "  features:")
	for _, token := range features.Features.Tokens(nil) {
		_, _ = fmt.Fprintf(w, "    %s\n", token)
	}
	return nil
}

func describeMember(w io.Writer, kind string, d java.Declaration, memberKind java.MemberKind) error {
	signature, err := java.FormatDescriptor(d.Descriptor, d.Name)
	if err != nil {
		return err
	}
	if flags := java.FormatAccessFlags(d.AccessFlags, memberKind); flags != "" {
		signature = flags + " " + signature
	}
	_, _ = fmt.Fprintf(w, "  %s: %s\n", kind, signature)
	return nil
}
