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
	"bytes"
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/lacd/lacd/config"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/metric"
	"gvisor.dev/lacd/pkg/sentry/fsimpl/testutil"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	"gvisor.dev/lacd/pkg/sentry/pathmap"
	"gvisor.dev/lacd/pkg/trap"
)

func TestCompatibilityInfo(t *testing.T) {
	info, err := getCompatibilityInfo(kernel.SyscallTables(), "linux", "amd64", "process")
	if err != nil {
		t.Fatalf("getCompatibilityInfo() failed: %v", err)
	}
	calls := info["linux"]["amd64"].Syscalls
	if got := calls[39].Name; got != "getpid" {
		t.Errorf("syscall 39 got %q, want getpid", got)
	}
	for num, sc := range calls {
		if sc.Category != "process" {
			t.Errorf("syscall %d (%s) has category %q, want process", num, sc.Name, sc.Category)
		}
	}
	if _, ok := calls[0]; ok {
		t.Errorf("read is not a process syscall but was listed")
	}

	if _, err := getCompatibilityInfo(kernel.SyscallTables(), "linux", "arm64", ""); err == nil {
		t.Errorf("getCompatibilityInfo(arm64) succeeded, want error")
	}
}

func TestOutputCSV(t *testing.T) {
	info, err := getCompatibilityInfo(kernel.SyscallTables(), osAll, archAll, "")
	if err != nil {
		t.Fatalf("getCompatibilityInfo() failed: %v", err)
	}
	var buf bytes.Buffer
	if err := outputCSV(&buf, info); err != nil {
		t.Fatalf("outputCSV() failed: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("reading CSV: %v", err)
	}
	want := []string{"OS", "Arch", "Num", "Name", "Category", "Args", "Support", "Note"}
	if diff := cmp.Diff(want, records[0]); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	// Rows are in syscall number order.
	if got := records[1]; got[2] != "0" || got[3] != "read" {
		t.Errorf("first row got %v, want syscall 0 read", got)
	}
}

func TestErrnoTable(t *testing.T) {
	docs := errnoTable()
	if len(docs) == 0 {
		t.Fatalf("errnoTable() is empty")
	}
	byName := make(map[string]ErrnoDoc)
	for _, d := range docs {
		byName[d.Name] = d
	}
	enoent, ok := byName["ENOENT"]
	if !ok {
		t.Fatalf("ENOENT missing from %v", docs)
	}
	if enoent.Guest != uint32(linuxerr.ENOENT.Errno()) || enoent.Host != enoent.Guest || !enoent.RoundTrip {
		t.Errorf("ENOENT got %+v, want an identity round trip", enoent)
	}

	var buf bytes.Buffer
	if err := writeErrnoTable(&buf, docs); err != nil {
		t.Fatalf("writeErrnoTable() failed: %v", err)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != len(docs)+1 {
		t.Errorf("table has %d lines, want %d", lines, len(docs)+1)
	}
}

func TestResolveOutput(t *testing.T) {
	m := pathmap.MustNew(pathmap.DefaultRules())
	var buf bytes.Buffer
	printResolutions(&buf, m, []string{"/tmp/../etc/passwd", "/proc/self/maps", "/sys/devices"})
	want := "/etc/passwd -> file:/etc/passwd (rule /)\n" +
		"/proc/self/maps -> proc:/self/maps (rule /proc)\n" +
		"/sys/devices -> sys:/devices (rule /sys)\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("printResolutions() mismatch (-want +got):\n%s", diff)
	}

	buf.Reset()
	printRules(&buf, m)
	if !strings.Contains(buf.String(), "/sys") || !strings.Contains(buf.String(), "ro") {
		t.Errorf("printRules() got %q, want the read-only /sys rule", buf.String())
	}
}

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "true")
	if err := os.WriteFile(path, testutil.Executable(), 0755); err != nil {
		t.Fatal(err)
	}
	doc, err := inspectImage(path, "/")
	if err != nil {
		t.Fatalf("inspectImage() failed: %v", err)
	}
	if doc.Arch != "amd64" || doc.Entry != testutil.Entry || doc.ImageEntry != testutil.Entry {
		t.Errorf("got arch %s entry %#x image entry %#x, want amd64 %#x", doc.Arch, doc.Entry, doc.ImageEntry, testutil.Entry)
	}
	if doc.Start != 0x400000 || doc.Interpreter != "" || doc.Dynamic != 0 {
		t.Errorf("got %+v, want a static image at 0x400000", doc)
	}
	if len(doc.Maps) != 1 || !strings.Contains(doc.Maps[0], path) {
		t.Errorf("Maps got %q, want one mapping of %q", doc.Maps, path)
	}

	if _, err := inspectImage(filepath.Join(t.TempDir(), "missing"), "/"); err == nil {
		t.Errorf("inspectImage(missing) succeeded")
	}
}

func TestStatus(t *testing.T) {
	const body = `# HELP lacd_trap_connections Open trap connections.
# TYPE lacd_trap_connections gauge
lacd_trap_connections 2
# HELP lacd_trap_requests Trap requests by kind.
# TYPE lacd_trap_requests counter
lacd_trap_requests{kind="syscall"} 5
lacd_trap_requests{kind="spawn"} 1
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metrics" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	samples, err := fetchMetrics(context.Background(), srv.URL+"/metrics")
	if err != nil {
		t.Fatalf("fetchMetrics() failed: %v", err)
	}
	want := []metric.Sample{
		{Name: "lacd_trap_connections", Description: "Open trap connections.", Kind: metric.Gauge, Value: 2},
		{Name: "lacd_trap_requests", Description: "Trap requests by kind.", Kind: metric.Counter, Labels: map[string]string{"kind": "syscall"}, Value: 5},
		{Name: "lacd_trap_requests", Description: "Trap requests by kind.", Kind: metric.Counter, Labels: map[string]string{"kind": "spawn"}, Value: 1},
	}
	if diff := cmp.Diff(want, samples); diff != "" {
		t.Errorf("fetchMetrics() mismatch (-want +got):\n%s", diff)
	}

	var buf bytes.Buffer
	if err := writeSamples(&buf, samples, "lacd_trap_req"); err != nil {
		t.Fatalf("writeSamples() failed: %v", err)
	}
	if out := buf.String(); strings.Contains(out, "connections") || !strings.Contains(out, "kind=spawn") {
		t.Errorf("filtered output got %q", out)
	}

	if _, err := fetchMetrics(context.Background(), srv.URL+"/other"); err == nil {
		t.Errorf("fetchMetrics() of a 404 succeeded")
	}
}

func TestServe(t *testing.T) {
	dir := t.TempDir()
	fileRoot := filepath.Join(dir, "root")
	if err := os.MkdirAll(filepath.Join(fileRoot, "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(fileRoot, "bin", "true"), testutil.Executable(), 0755); err != nil {
		t.Fatal(err)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse([]string{
		"--root=" + dir,
		"--file-root=" + fileRoot,
		"--sys-root=" + dir,
		"--hostname=guest",
	}); err != nil {
		t.Fatal(err)
	}
	conf, err := config.NewFromFlags(fs)
	if err != nil {
		t.Fatalf("NewFromFlags() failed: %v", err)
	}
	k, err := newKernel(conf)
	if err != nil {
		t.Fatalf("newKernel() failed: %v", err)
	}
	defer k.Kill()
	if k.Hostname() != "guest" {
		t.Errorf("Hostname() got %q, want guest", k.Hostname())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, conf, k) }()

	c, err := dialRetry(ctx, conf.SocketPath(), 5*time.Second)
	if err != nil {
		t.Fatalf("dialRetry() failed: %v", err)
	}
	resp, err := c.Spawn(&trap.SpawnRequest{Filename: "/bin/true", Argv: []string{"true"}, WorkingDirectory: "/"})
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}
	if kernel.ThreadID(resp.PID) != kernel.FirstPID || resp.Regs.Rip != testutil.Entry {
		t.Errorf("Spawn() got pid %d rip %#x, want %d %#x", resp.PID, resp.Regs.Rip, kernel.FirstPID, testutil.Entry)
	}
	c.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve() got %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("serve() did not return after cancel")
	}
	if _, err := os.Stat(conf.SocketPath()); !os.IsNotExist(err) {
		t.Errorf("socket %q left behind: %v", conf.SocketPath(), err)
	}
}
