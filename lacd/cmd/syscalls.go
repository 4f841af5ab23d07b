// Copyright 2018 The gVisor Authors.
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
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"
	"gvisor.dev/lacd/lacd/cmd/util"
	"gvisor.dev/lacd/pkg/sentry/kernel"
)

// Syscalls implements subcommands.Command for the "syscalls" command.
type Syscalls struct {
	output   string
	os       string
	arch     string
	category string
}

// CompatibilityInfo is a map of system and architecture to compatibility doc.
// Maps operating system to architecture to ArchInfo.
type CompatibilityInfo map[string]map[string]ArchInfo

// ArchInfo is compatibility doc for an architecture.
type ArchInfo struct {
	// Syscalls maps syscall number for the architecture to the doc.
	Syscalls map[uintptr]SyscallDoc `json:"syscalls" yaml:"syscalls"`
}

// SyscallDoc represents a single item of syscall documentation.
type SyscallDoc struct {
	Name string `json:"name" yaml:"name"`
	num  uintptr

	Category string `json:"category" yaml:"category"`
	ArgCount int    `json:"args" yaml:"args"`
	Support  string `json:"support" yaml:"support"`
	Note     string `json:"note,omitempty" yaml:"note,omitempty"`
}

type outputFunc func(io.Writer, CompatibilityInfo) error

var (
	// The string name to use for printing compatibility for all OSes.
	osAll = "all"

	// The string name to use for printing compatibility for all architectures.
	archAll = "all"

	// A map of output type names to output functions.
	outputMap = map[string]outputFunc{
		"table": outputTable,
		"json":  outputJSON,
		"yaml":  outputYAML,
		"csv":   outputCSV,
	}
)

// Name implements subcommands.Command.Name.
func (*Syscalls) Name() string {
	return "syscalls"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Syscalls) Synopsis() string {
	return "Print compatibility information for syscalls."
}

// Usage implements subcommands.Command.Usage.
func (*Syscalls) Usage() string {
	return `syscalls [options] - Print compatibility information for syscalls.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Syscalls) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.output, "o", "table", "Output format (table, csv, json, yaml).")
	f.StringVar(&s.os, "os", osAll, "The OS (e.g. linux)")
	f.StringVar(&s.arch, "arch", archAll, "The CPU architecture (e.g. amd64).")
	f.StringVar(&s.category, "category", "", "Only print syscalls of this category (e.g. file, ipc).")
}

// Execute implements subcommands.Command.Execute.
func (s *Syscalls) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	out, ok := outputMap[s.output]
	if !ok {
		util.Fatalf("Unsupported output format %q", s.output)
	}

	info, err := getCompatibilityInfo(kernel.SyscallTables(), s.os, s.arch, s.category)
	if err != nil {
		util.Fatalf("%v", err)
	}

	if err := out(os.Stdout, info); err != nil {
		util.Fatalf("Error writing output: %v", err)
	}

	return subcommands.ExitSuccess
}

// getCompatibilityInfo returns compatibility info for the given OS name and
// architecture name. Supports the special name 'all' for OS and architecture
// that specifies that all supported OSes or architectures should be included.
// A non-empty category restricts the syscalls listed.
func getCompatibilityInfo(tables []*kernel.SyscallTable, osName, archName, category string) (CompatibilityInfo, error) {
	info := make(CompatibilityInfo)
	for _, t := range tables {
		tOS, tArch := t.OS.String(), t.Arch.String()
		if (osName != osAll && osName != tOS) || (archName != archAll && archName != tArch) {
			continue
		}
		if info[tOS] == nil {
			info[tOS] = make(map[string]ArchInfo)
		}
		info[tOS][tArch] = getArchInfo(t, category)
	}
	if len(info) == 0 {
		return nil, fmt.Errorf("syscall table for %s/%s not found", osName, archName)
	}
	return info, nil
}

// getArchInfo returns compatibility info for a specific table.
func getArchInfo(t *kernel.SyscallTable, category string) ArchInfo {
	info := ArchInfo{Syscalls: make(map[uintptr]SyscallDoc)}
	for num, sc := range t.Table {
		if category != "" && sc.Category.String() != category {
			continue
		}
		info.Syscalls[num] = SyscallDoc{
			Name:     sc.Name,
			num:      num,
			Category: sc.Category.String(),
			ArgCount: sc.ArgCount,
			Support:  sc.SupportLevel.String(),
			Note:     sc.Note,
		}
	}
	return info
}

// sortedCalls returns the syscalls of info ordered by number.
func sortedCalls(info ArchInfo) []SyscallDoc {
	calls := make([]SyscallDoc, 0, len(info.Syscalls))
	for _, sc := range info.Syscalls {
		calls = append(calls, sc)
	}
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].num < calls[j].num
	})
	return calls
}

// sortedKeys returns the keys of m in order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// outputTable outputs the syscall info in tabular format.
func outputTable(w io.Writer, info CompatibilityInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	for _, osName := range sortedKeys(info) {
		osInfo := info[osName]
		for _, archName := range sortedKeys(osInfo) {
			// Print the OS/arch
			fmt.Fprintf(w, "%s/%s:\n\n", osName, archName)

			// Write the header
			if _, err := fmt.Fprintf(tw, "NUM\tNAME\tCATEGORY\tSUPPORT\tNOTE\n"); err != nil {
				return err
			}

			// Write each syscall entry
			for _, sc := range sortedCalls(osInfo[archName]) {
				_, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					strconv.FormatInt(int64(sc.num), 10),
					sc.Name,
					sc.Category,
					sc.Support,
					sc.Note,
				)
				if err != nil {
					return err
				}
			}

			if err := tw.Flush(); err != nil {
				return err
			}
		}
	}

	return nil
}

// outputJSON outputs the syscall info in JSON format.
func outputJSON(w io.Writer, info CompatibilityInfo) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(info)
}

// outputYAML outputs the syscall info in YAML format.
func outputYAML(w io.Writer, info CompatibilityInfo) error {
	e := yaml.NewEncoder(w)
	e.SetIndent(2)
	if err := e.Encode(info); err != nil {
		return err
	}
	return e.Close()
}

// outputCSV outputs the syscall info in CSV format.
func outputCSV(w io.Writer, info CompatibilityInfo) error {
	csvWriter := csv.NewWriter(w)

	// Write the header
	if err := csvWriter.Write([]string{"OS", "Arch", "Num", "Name", "Category", "Args", "Support", "Note"}); err != nil {
		return err
	}
	for _, osName := range sortedKeys(info) {
		osInfo := info[osName]
		for _, archName := range sortedKeys(osInfo) {
			for _, sc := range sortedCalls(osInfo[archName]) {
				err := csvWriter.Write([]string{
					osName,
					archName,
					strconv.FormatInt(int64(sc.num), 10),
					sc.Name,
					sc.Category,
					strconv.Itoa(sc.ArgCount),
					sc.Support,
					sc.Note,
				})
				if err != nil {
					return err
				}
			}
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}
