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
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/subcommands"
	"gvisor.dev/lacd/lacd/cmd/util"
	"gvisor.dev/lacd/lacd/config"
	"gvisor.dev/lacd/pkg/log"
	"gvisor.dev/lacd/pkg/trap"
)

// Exec implements subcommands.Command for the "exec" command.
type Exec struct {
	env     stringSlice
	cwd     string
	timeout time.Duration
}

// Name implements subcommands.Command.Name.
func (*Exec) Name() string {
	return "exec"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Exec) Synopsis() string {
	return "create a guest process in a running daemon"
}

// Usage implements subcommands.Command.Usage.
func (*Exec) Usage() string {
	return `exec [flags] <path> [args...] - ask the daemon listening on the trap socket
to load path and create a process for it. The new process id and its initial
registers are printed.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (e *Exec) SetFlags(f *flag.FlagSet) {
	f.Var(&e.env, "env", "Set an environment variable (KEY=VALUE). Can be repeated.")
	f.StringVar(&e.cwd, "cwd", "/", "Guest working directory of the new process.")
	f.DurationVar(&e.timeout, "timeout", 5*time.Second, "How long to wait for the daemon socket.")
}

// Execute implements subcommands.Command.Execute.
func (e *Exec) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	c, err := dialRetry(ctx, conf.SocketPath(), e.timeout)
	if err != nil {
		return util.Errorf("Connecting to %q: %v", conf.SocketPath(), err)
	}
	defer c.Close()

	resp, err := c.Spawn(&trap.SpawnRequest{
		Filename:         f.Arg(0),
		Argv:             f.Args(),
		Envv:             e.env,
		WorkingDirectory: e.cwd,
	})
	if err != nil {
		return util.Errorf("Spawning %q: %v", f.Arg(0), err)
	}
	fmt.Fprintf(os.Stdout, "pid: %d\nentry: %#x\nsp: %#x\n", resp.PID, resp.Regs.Rip, resp.Regs.Rsp)
	return subcommands.ExitSuccess
}

// dialRetry connects to the trap socket, retrying until timeout elapses so
// that a daemon that is still starting up can be reached.
func dialRetry(ctx context.Context, path string, timeout time.Duration) (*trap.Client, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = timeout

	var c *trap.Client
	op := func() error {
		var err error
		c, err = trap.Dial(path)
		if err != nil {
			log.Debugf("Dialing %q: %v", path, err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return c, nil
}

// stringSlice allows a flag to be used multiple times, where each occurrence
// adds a value to the flag.
type stringSlice []string

// String implements flag.Value.String.
func (ss *stringSlice) String() string {
	return fmt.Sprintf("%v", *ss)
}

// Get implements flag.Value.Get.
func (ss *stringSlice) Get() any {
	return ss
}

// Set implements flag.Value.Set.
func (ss *stringSlice) Set(s string) error {
	*ss = append(*ss, s)
	return nil
}
