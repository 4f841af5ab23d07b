// Copyright 2019 The gVisor Authors.
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

package proc

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/log"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

// selfName is the name of the link to the caller's own directory. Process
// path resolution replaces it with the caller's pid before a lookup reaches
// this package, so only callers that are not guest processes see it here.
const selfName = "self"

// rootFiles returns the generators for the regular files in /proc.
func (fs *Filesystem) rootFiles() map[string]generator {
	return map[string]generator{
		"loadavg": fs.loadavg,
		"meminfo": meminfo,
		"uptime":  fs.uptime,
		"version": fs.version,
	}
}

func (fs *Filesystem) lookupRoot(name string) (*node, error) {
	if name == selfName {
		return &node{
			kind: kindSymlink,
			path: "/" + selfName,
			target: func() (string, error) {
				return "", linuxerr.ENOENT
			},
		}, nil
	}
	gen, ok := fs.rootFiles()[name]
	if !ok {
		return nil, linuxerr.ENOENT
	}
	return &node{kind: kindFile, path: "/" + name, contents: gen}, nil
}

func (fs *Filesystem) rootEntries() []vfs.Dirent {
	entries := []vfs.Dirent{
		{Name: ".", Type: linux.DT_DIR},
		{Name: "..", Type: linux.DT_DIR},
	}
	files := fs.rootFiles()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		entries = append(entries, vfs.Dirent{Name: name, Type: linux.DT_REG})
	}
	entries = append(entries, vfs.Dirent{Name: selfName, Type: linux.DT_LNK})
	for _, p := range fs.k.Processes() {
		entries = append(entries, vfs.Dirent{Name: strconv.Itoa(int(p.PID())), Type: linux.DT_DIR})
	}
	for i := range entries {
		n := node{path: "/" + entries[i].Name}
		entries[i].Ino = n.ino()
	}
	return entries
}

// loadavg backs /proc/loadavg. The load figures are the host's.
func (fs *Filesystem) loadavg(buf *bytes.Buffer) error {
	var l1, l5, l15 float64
	if avg, err := load.Avg(); err == nil {
		l1, l5, l15 = avg.Load1, avg.Load5, avg.Load15
	} else {
		log.Debugf("Failed to read host load average: %v", err)
	}
	ps := fs.k.Processes()
	var running int
	var last kernel.ThreadID
	for _, p := range ps {
		if p.State() == kernel.ProcessRunning {
			running++
		}
		last = max(last, p.PID())
	}
	// Column 1-3: load over the last 1, 5, and 15 minute periods.
	// Column 4-5: currently running processes and the total number of processes.
	// Column 6: the last process ID used.
	fmt.Fprintf(buf, "%.2f %.2f %.2f %d/%d %d\n", l1, l5, l15, running, len(ps), last)
	return nil
}

// meminfo backs /proc/meminfo with host memory statistics.
func meminfo(buf *bytes.Buffer) error {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return linuxerr.EIO
	}
	fmt.Fprintf(buf, "MemTotal:       %8d kB\n", vm.Total>>10)
	fmt.Fprintf(buf, "MemFree:        %8d kB\n", vm.Free>>10)
	fmt.Fprintf(buf, "MemAvailable:   %8d kB\n", vm.Available>>10)
	fmt.Fprintf(buf, "Buffers:        %8d kB\n", vm.Buffers>>10)
	fmt.Fprintf(buf, "Cached:         %8d kB\n", vm.Cached>>10)
	fmt.Fprintf(buf, "Shmem:          %8d kB\n", vm.Shared>>10)
	if swap, err := mem.SwapMemory(); err == nil {
		fmt.Fprintf(buf, "SwapTotal:      %8d kB\n", swap.Total>>10)
		fmt.Fprintf(buf, "SwapFree:       %8d kB\n", swap.Free>>10)
	}
	return nil
}

// uptime backs /proc/uptime. Idle time is not tracked and reads as zero.
func (fs *Filesystem) uptime(buf *bytes.Buffer) error {
	up := time.Since(fs.k.BootTime()).Seconds()
	fmt.Fprintf(buf, "%.2f %.2f\n", up, 0.0)
	return nil
}

// version backs /proc/version.
func (fs *Filesystem) version(buf *bytes.Buffer) error {
	// /proc/version takes the form:
	//
	// "SYSNAME version RELEASE (COMPILE_USER@COMPILE_HOST)
	// (COMPILER_VERSION) VERSION"
	//
	// Build information is omitted.
	ver := fs.k.SyscallTable().Version
	fmt.Fprintf(buf, "%s version %s %s\n", ver.Sysname, ver.Release, ver.Version)
	return nil
}
