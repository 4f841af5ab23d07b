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
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
	"gvisor.dev/lacd/lacd/cmd/util"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/hosterr"
)

// Errno implements subcommands.Command for the "errno" command.
type Errno struct {
	output string
}

// ErrnoDoc describes how one guest errno maps to the host.
type ErrnoDoc struct {
	Guest     uint32 `json:"guest" yaml:"guest"`
	Name      string `json:"name" yaml:"name"`
	Host      uint32 `json:"host" yaml:"host"`
	HostName  string `json:"host_name" yaml:"host_name"`
	Kind      string `json:"kind" yaml:"kind"`
	Message   string `json:"message" yaml:"message"`
	RoundTrip bool   `json:"round_trip" yaml:"round_trip"`
}

// Name implements subcommands.Command.Name.
func (*Errno) Name() string {
	return "errno"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Errno) Synopsis() string {
	return "print the guest/host errno translation table"
}

// Usage implements subcommands.Command.Usage.
func (*Errno) Usage() string {
	return `errno [-o table|json|yaml] - print the guest/host errno translation table.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (e *Errno) SetFlags(f *flag.FlagSet) {
	f.StringVar(&e.output, "o", "table", "Output format (table, json, yaml).")
}

// Execute implements subcommands.Command.Execute.
func (e *Errno) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	docs := errnoTable()
	var err error
	switch e.output {
	case "table":
		err = writeErrnoTable(os.Stdout, docs)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		err = enc.Encode(docs)
	case "yaml":
		err = yaml.NewEncoder(os.Stdout).Encode(docs)
	default:
		return util.Errorf("Unsupported output format %q", e.output)
	}
	if err != nil {
		util.Fatalf("Error writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

// errnoTable returns the translation of every guest errno, in errno order.
func errnoTable() []ErrnoDoc {
	all := linuxerr.All()
	docs := make([]ErrnoDoc, 0, len(all))
	for _, e := range all {
		h := hosterr.ToHost(e)
		docs = append(docs, ErrnoDoc{
			Guest:     uint32(e.Errno()),
			Name:      unix.ErrnoName(unix.Errno(e.Errno())),
			Host:      uint32(h),
			HostName:  unix.ErrnoName(h),
			Kind:      hosterr.Classify(e).String(),
			Message:   e.Error(),
			RoundTrip: hosterr.FromHostErrno(h) == e,
		})
	}
	return docs
}

func writeErrnoTable(w io.Writer, docs []ErrnoDoc) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "GUEST\tNAME\tHOST\tKIND\tMESSAGE\n")
	for _, d := range docs {
		host := fmt.Sprintf("%d", d.Host)
		if !d.RoundTrip {
			host += " (lossy)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", d.Guest, d.Name, host, d.Kind, d.Message)
	}
	return tw.Flush()
}
