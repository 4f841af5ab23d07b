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
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"
	"gvisor.dev/lacd/lacd/cmd/util"
	"gvisor.dev/lacd/pkg/sentry/loader"
	"gvisor.dev/lacd/pkg/sentry/mm"
)

// Inspect implements subcommands.Command for the "inspect" command.
type Inspect struct {
	root   string
	output string
}

// ImageDoc is the printable form of loader.ImageInfo.
type ImageDoc struct {
	Path            string   `json:"path" yaml:"path"`
	Arch            string   `json:"arch" yaml:"arch"`
	Entry           uint64   `json:"entry" yaml:"entry"`
	ImageEntry      uint64   `json:"image_entry" yaml:"image_entry"`
	Start           uint64   `json:"start" yaml:"start"`
	Brk             uint64   `json:"brk" yaml:"brk"`
	Interpreter     string   `json:"interpreter,omitempty" yaml:"interpreter,omitempty"`
	InterpreterBase uint64   `json:"interpreter_base,omitempty" yaml:"interpreter_base,omitempty"`
	Phdr            uint64   `json:"phdr" yaml:"phdr"`
	PhdrNum         int      `json:"phdr_num" yaml:"phdr_num"`
	Dynamic         uint64   `json:"dynamic,omitempty" yaml:"dynamic,omitempty"`
	ExecStack       bool     `json:"exec_stack" yaml:"exec_stack"`
	Mapped          uint64   `json:"mapped" yaml:"mapped"`
	Maps            []string `json:"maps" yaml:"maps"`
}

// Name implements subcommands.Command.Name.
func (*Inspect) Name() string {
	return "inspect"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Inspect) Synopsis() string {
	return "load an ELF executable and print its guest memory layout"
}

// Usage implements subcommands.Command.Usage.
func (*Inspect) Usage() string {
	return `inspect [-root dir] [-o table|json|yaml] <path> - load an executable into an
empty address space and print the resulting layout. Interpreters named by
PT_INTERP are opened relative to -root.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (i *Inspect) SetFlags(f *flag.FlagSet) {
	f.StringVar(&i.root, "root", "/", "Host directory that interpreter paths are resolved against.")
	f.StringVar(&i.output, "o", "table", "Output format (table, json, yaml).")
}

// Execute implements subcommands.Command.Execute.
func (i *Inspect) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	doc, err := inspectImage(f.Arg(0), i.root)
	if err != nil {
		return util.Errorf("Loading %q: %v", f.Arg(0), err)
	}
	switch i.output {
	case "table":
		err = writeImage(os.Stdout, doc)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		err = enc.Encode(doc)
	case "yaml":
		err = yaml.NewEncoder(os.Stdout).Encode(doc)
	default:
		return util.Errorf("Unsupported output format %q", i.output)
	}
	if err != nil {
		util.Fatalf("Error writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

// hostFile adapts an *os.File to loader.File.
type hostFile struct {
	*os.File
	size int64
}

// Size implements loader.File.Size.
func (f hostFile) Size() int64 {
	return f.size
}

func openHost(path string) (hostFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return hostFile{}, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return hostFile{}, err
	}
	return hostFile{File: f, size: st.Size()}, nil
}

// inspectImage loads path into a fresh, unlimited address space.
func inspectImage(path, root string) (ImageDoc, error) {
	f, err := openHost(path)
	if err != nil {
		return ImageDoc{}, err
	}
	defer f.Close()

	var opened []hostFile
	defer func() {
		for _, o := range opened {
			o.Close()
		}
	}()
	open := func(p string) (loader.File, error) {
		o, err := openHost(filepath.Join(root, p))
		if err != nil {
			return nil, err
		}
		opened = append(opened, o)
		return o, nil
	}

	m := mm.NewMemoryManager(0)
	defer m.DecUsers()
	info, err := loader.LoadELF(m, f, path, open)
	if err != nil {
		return ImageDoc{}, err
	}
	doc := ImageDoc{
		Path:            path,
		Arch:            info.Arch.String(),
		Entry:           uint64(info.Entry),
		ImageEntry:      uint64(info.ImageEntry),
		Start:           uint64(info.Start),
		Brk:             uint64(info.End),
		Interpreter:     info.Interpreter,
		InterpreterBase: uint64(info.InterpreterBase),
		Phdr:            uint64(info.PhdrAddr),
		PhdrNum:         info.PhdrNum,
		Dynamic:         uint64(info.Dynamic),
		ExecStack:       info.ExecStack,
		Mapped:          m.VirtualMemorySize(),
	}
	if maps := strings.TrimSuffix(string(m.MapsText()), "\n"); maps != "" {
		doc.Maps = strings.Split(maps, "\n")
	}
	return doc, nil
}

func writeImage(w io.Writer, doc ImageDoc) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Path:\t%s\n", doc.Path)
	fmt.Fprintf(tw, "Arch:\t%s\n", doc.Arch)
	fmt.Fprintf(tw, "Entry:\t%#x\n", doc.Entry)
	fmt.Fprintf(tw, "Image entry:\t%#x\n", doc.ImageEntry)
	fmt.Fprintf(tw, "Image range:\t%#x-%#x\n", doc.Start, doc.Brk)
	if doc.Interpreter != "" {
		fmt.Fprintf(tw, "Interpreter:\t%s @ %#x\n", doc.Interpreter, doc.InterpreterBase)
	}
	fmt.Fprintf(tw, "Program headers:\t%d @ %#x\n", doc.PhdrNum, doc.Phdr)
	if doc.Dynamic != 0 {
		fmt.Fprintf(tw, "Dynamic:\t%#x\n", doc.Dynamic)
	}
	fmt.Fprintf(tw, "Executable stack:\t%t\n", doc.ExecStack)
	fmt.Fprintf(tw, "Mapped bytes:\t%d\n", doc.Mapped)
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	for _, l := range doc.Maps {
		fmt.Fprintln(w, l)
	}
	return nil
}
