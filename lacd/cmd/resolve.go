// Copyright 2024 The gVisor Authors.
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
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"gvisor.dev/lacd/lacd/cmd/util"
	"gvisor.dev/lacd/lacd/config"
	"gvisor.dev/lacd/pkg/sentry/pathmap"
)

// Resolve implements subcommands.Command for the "resolve" command.
type Resolve struct {
	rules bool
}

// Name implements subcommands.Command.Name.
func (*Resolve) Name() string {
	return "resolve"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Resolve) Synopsis() string {
	return "show which host namespace guest paths map to"
}

// Usage implements subcommands.Command.Usage.
func (*Resolve) Usage() string {
	return `resolve [flags] <guest path>... - resolve guest paths with the configured path mappings.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Resolve) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.rules, "rules", false, "print the mapping rules in resolution order.")
}

// Execute implements subcommands.Command.Execute.
func (r *Resolve) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 && !r.rules {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	m, err := pathmap.New(conf.Rules())
	if err != nil {
		util.Fatalf("invalid path mappings: %v", err)
	}
	if r.rules {
		printRules(os.Stdout, m)
	}
	printResolutions(os.Stdout, m, f.Args())
	return subcommands.ExitSuccess
}

func printRules(w io.Writer, m *pathmap.Mapper) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "GUEST\tHOST\tPRIORITY\tMODE\n")
	for _, rule := range m.Rules() {
		mode := "rw"
		if rule.ReadOnly {
			mode = "ro"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", rule.Guest, rule.Host, rule.Priority, mode)
	}
	tw.Flush()
}

func printResolutions(w io.Writer, m *pathmap.Mapper, paths []string) {
	for _, p := range paths {
		res := m.Resolve(p)
		fmt.Fprintf(w, "%s -> %s (rule %s)\n", pathmap.Clean(p), res.Host(), res.Rule.Guest)
	}
}
