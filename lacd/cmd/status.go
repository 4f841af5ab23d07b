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
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/lacd/lacd/cmd/util"
	"gvisor.dev/lacd/lacd/config"
	"gvisor.dev/lacd/pkg/metric"
)

// Status implements subcommands.Command for the "status" command.
type Status struct {
	addr    string
	filter  string
	timeout time.Duration
}

// Name implements subcommands.Command.Name.
func (*Status) Name() string {
	return "status"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Status) Synopsis() string {
	return "print the metrics of a running daemon"
}

// Usage implements subcommands.Command.Usage.
func (*Status) Usage() string {
	return `status [-addr host:port] [-filter prefix] - fetch and print the metrics
exported by a daemon started with --metrics-addr.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Status) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.addr, "addr", "", "Metrics address of the daemon. Defaults to --metrics-addr.")
	f.StringVar(&s.filter, "filter", "", "Only print metrics whose name starts with this prefix.")
	f.DurationVar(&s.timeout, "timeout", 5*time.Second, "HTTP request timeout.")
}

// Execute implements subcommands.Command.Execute.
func (s *Status) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	addr := s.addr
	if addr == "" {
		addr = conf.MetricsAddr
	}
	if addr == "" {
		return util.Errorf("No metrics address: pass -addr or --metrics-addr")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	samples, err := fetchMetrics(ctx, "http://"+addr+"/metrics")
	if err != nil {
		return util.Errorf("Fetching metrics from %q: %v", addr, err)
	}
	if err := writeSamples(os.Stdout, samples, s.filter); err != nil {
		util.Fatalf("Error writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

func fetchMetrics(ctx context.Context, url string) ([]metric.Sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %q", resp.Status)
	}
	return metric.ParsePrometheus(resp.Body)
}

func writeSamples(w io.Writer, samples []metric.Sample, filter string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "METRIC\tLABELS\tVALUE\n")
	for _, s := range samples {
		if !strings.HasPrefix(s.Name, filter) {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\n", s.Name, formatLabels(s.Labels), s.Value)
	}
	return tw.Flush()
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return "-"
	}
	kv := make([]string, 0, len(labels))
	for k, v := range labels {
		kv = append(kv, k+"="+v)
	}
	sort.Strings(kv)
	return strings.Join(kv, ",")
}
