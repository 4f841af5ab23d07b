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
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"gvisor.dev/lacd/lacd/cmd/util"
	"gvisor.dev/lacd/lacd/config"
	"gvisor.dev/lacd/pkg/log"
	"gvisor.dev/lacd/pkg/metric"
	"gvisor.dev/lacd/pkg/sentry/fsimpl/host"
	"gvisor.dev/lacd/pkg/sentry/fsimpl/proc"
	"gvisor.dev/lacd/pkg/sentry/fsimpl/sys"
	"gvisor.dev/lacd/pkg/sentry/fsimpl/tmpfs"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	"gvisor.dev/lacd/pkg/sentry/pathmap"
	"gvisor.dev/lacd/pkg/sentry/strace"
	slinux "gvisor.dev/lacd/pkg/sentry/syscalls/linux"
	"gvisor.dev/lacd/pkg/sentry/vfs"
	"gvisor.dev/lacd/pkg/trap"
)

// shutdownTimeout bounds how long the metrics server is given to drain.
const shutdownTimeout = 5 * time.Second

// Serve implements subcommands.Command for the "serve" command.
type Serve struct{}

// Name implements subcommands.Command.Name.
func (*Serve) Name() string {
	return "serve"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Serve) Synopsis() string {
	return "run the daemon and accept trapped syscalls on the trap socket"
}

// Usage implements subcommands.Command.Usage.
func (*Serve) Usage() string {
	return `serve - run the daemon in the foreground until SIGINT or SIGTERM.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Serve) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Serve) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	if err := os.MkdirAll(conf.RootDir, 0711); err != nil {
		return util.Errorf("Creating root directory %q: %v", conf.RootDir, err)
	}
	lock := flock.New(conf.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return util.Errorf("Locking %q: %v", conf.LockPath(), err)
	}
	if !locked {
		return util.Errorf("Another daemon holds %q", conf.LockPath())
	}
	defer lock.Unlock()

	k, err := newKernel(conf)
	if err != nil {
		return util.Errorf("Creating kernel: %v", err)
	}
	defer k.Kill()

	ctx, stop := signal.NotifyContext(ctx, unix.SIGINT, unix.SIGTERM)
	defer stop()
	if err := serve(ctx, conf, k); err != nil {
		return util.Errorf("Serving: %v", err)
	}
	log.Infof("Daemon stopped")
	return subcommands.ExitSuccess
}

// newKernel builds the virtual filesystem and the kernel described by conf.
func newKernel(conf *config.Config) (*kernel.Kernel, error) {
	mapper, err := pathmap.New(conf.Rules())
	if err != nil {
		return nil, err
	}
	v := vfs.New(mapper)

	files, err := host.New(conf.FileRoot)
	if err != nil {
		return nil, fmt.Errorf("file namespace: %w", err)
	}
	v.RegisterFilesystem(host.Name, files)
	v.RegisterFilesystem(tmpfs.Name, tmpfs.New())
	if sysfs, err := sys.New(conf.SysRoot); err != nil {
		log.Warningf("Not serving the %q namespace: %v", sys.Name, err)
	} else {
		v.RegisterFilesystem(sys.Name, sysfs)
	}

	hostname := conf.Hostname
	if hostname == "" {
		if hostname, err = os.Hostname(); err != nil {
			return nil, fmt.Errorf("hostname: %w", err)
		}
	}
	k, err := kernel.New(kernel.InitKernelArgs{
		SyscallTable:     slinux.AMD64,
		VFS:              v,
		MaxProcesses:     conf.MaxProcesses,
		DefaultStackSize: conf.DefaultStackSize,
		MemoryBudget:     conf.MemoryBudget,
		Hostname:         hostname,
	})
	if err != nil {
		return nil, err
	}
	v.RegisterFilesystem(proc.Name, proc.New(k))

	if conf.Strace {
		strace.LogMaximumSize = conf.StraceLogSize
		var names []string
		if conf.StraceSyscalls != "" {
			names = strings.Split(conf.StraceSyscalls, ",")
		}
		if err := strace.Filter(names); err != nil {
			return nil, fmt.Errorf("strace: %w", err)
		}
		k.SetStrace(true)
	}
	metric.Initialize()
	return k, nil
}

// serve runs the trap server, and the metrics server if configured, until
// ctx is cancelled or either server fails.
func serve(ctx context.Context, conf *config.Config, k *kernel.Kernel) error {
	path := conf.SocketPath()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	defer os.Remove(path)
	log.Infof("Listening for trapped syscalls on %q", path)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return trap.NewServer(k).Serve(ctx, ln)
	})
	if conf.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; version=0.0.4")
			if err := metric.WritePrometheus(w); err != nil {
				log.Warningf("Writing metrics: %v", err)
			}
		})
		srv := &http.Server{Addr: conf.MetricsAddr, Handler: mux}
		g.Go(func() error {
			log.Infof("Serving metrics on %q", conf.MetricsAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	return g.Wait()
}
