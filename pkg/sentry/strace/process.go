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

package strace

import (
	"fmt"
	"strconv"
	"strings"

	"gvisor.dev/lacd/pkg/abi"
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/mm"
)

// CloneFlagSet is the set of clone(2) flags, excluding the exit signal in
// the CSIGNAL bits.
var CloneFlagSet = abi.FlagSet{
	{linux.CLONE_VM, "CLONE_VM"},
	{linux.CLONE_FS, "CLONE_FS"},
	{linux.CLONE_FILES, "CLONE_FILES"},
	{linux.CLONE_SIGHAND, "CLONE_SIGHAND"},
	{linux.CLONE_PIDFD, "CLONE_PIDFD"},
	{linux.CLONE_PTRACE, "CLONE_PTRACE"},
	{linux.CLONE_VFORK, "CLONE_VFORK"},
	{linux.CLONE_PARENT, "CLONE_PARENT"},
	{linux.CLONE_THREAD, "CLONE_THREAD"},
	{linux.CLONE_NEWNS, "CLONE_NEWNS"},
	{linux.CLONE_SYSVSEM, "CLONE_SYSVSEM"},
	{linux.CLONE_SETTLS, "CLONE_SETTLS"},
	{linux.CLONE_PARENT_SETTID, "CLONE_PARENT_SETTID"},
	{linux.CLONE_CHILD_CLEARTID, "CLONE_CHILD_CLEARTID"},
	{linux.CLONE_DETACHED, "CLONE_DETACHED"},
	{linux.CLONE_UNTRACED, "CLONE_UNTRACED"},
	{linux.CLONE_CHILD_SETTID, "CLONE_CHILD_SETTID"},
	{linux.CLONE_NEWCGROUP, "CLONE_NEWCGROUP"},
	{linux.CLONE_NEWUTS, "CLONE_NEWUTS"},
	{linux.CLONE_NEWIPC, "CLONE_NEWIPC"},
	{linux.CLONE_NEWUSER, "CLONE_NEWUSER"},
	{linux.CLONE_NEWPID, "CLONE_NEWPID"},
	{linux.CLONE_NEWNET, "CLONE_NEWNET"},
	{linux.CLONE_IO, "CLONE_IO"},
}

// cloneFlags formats clone flags the way strace(1) does, with the exit
// signal last: "CLONE_VM|CLONE_FS|SIGCHLD".
func cloneFlags(val uint64) string {
	sig := val & linux.CSIGNAL
	flags := CloneFlagSet.Parse(val &^ linux.CSIGNAL)
	switch {
	case sig == 0:
		return flags
	case flags == "0x0":
		return signalName(sig)
	default:
		return flags + "|" + signalName(sig)
	}
}

// signalName names valid signals and leaves everything else in decimal, so
// that kill(pid, 0) prints as 0.
func signalName(val uint64) string {
	if sig := linux.Signal(val); val <= linux.SignalMaximum && sig.IsValid() {
		return sig.String()
	}
	return strconv.FormatUint(val, 10)
}

var signalMaskActions = abi.ValueSet{
	linux.SIG_BLOCK:   "SIG_BLOCK",
	linux.SIG_UNBLOCK: "SIG_UNBLOCK",
	linux.SIG_SETMASK: "SIG_SETMASK",
}

var sigActionFlags = abi.FlagSet{
	{linux.SA_NOCLDSTOP, "SA_NOCLDSTOP"},
	{linux.SA_NOCLDWAIT, "SA_NOCLDWAIT"},
	{linux.SA_SIGINFO, "SA_SIGINFO"},
	{linux.SA_RESTORER, "SA_RESTORER"},
	{linux.SA_ONSTACK, "SA_ONSTACK"},
	{linux.SA_RESTART, "SA_RESTART"},
	{linux.SA_NODEFER, "SA_NODEFER"},
	{linux.SA_RESETHAND, "SA_RESETHAND"},
}

func formatSigSet(set linux.SignalSet) string {
	var names []string
	linux.ForEachSignal(set, func(sig linux.Signal) {
		names = append(names, sig.String())
	})
	return "[" + strings.Join(names, " ") + "]"
}

func sigSet(m *mm.MemoryManager, addr hostarch.Addr) string {
	if addr == 0 {
		return "null"
	}
	var b [linux.SignalSetSize]byte
	if _, err := m.CopyInBytes(addr, b[:]); err != nil {
		return fmt.Sprintf("%v (error copying sigset: %v)", addr, err)
	}
	return fmt.Sprintf("%v %s", addr, formatSigSet(linux.SignalSet(hostarch.ByteOrder.Uint64(b[:]))))
}

func sigAction(m *mm.MemoryManager, addr hostarch.Addr) string {
	if addr == 0 {
		return "null"
	}
	var sa linux.SignalAct
	b := make([]byte, sa.SizeBytes())
	if _, err := m.CopyInBytes(addr, b); err != nil {
		return fmt.Sprintf("%v (error copying sigaction: %v)", addr, err)
	}
	sa.UnmarshalBytes(b)

	handler := fmt.Sprintf("%#x", sa.Handler)
	switch sa.Handler {
	case linux.SIG_IGN:
		handler = "SIG_IGN"
	case linux.SIG_DFL:
		handler = "SIG_DFL"
	}
	return fmt.Sprintf("%v {Handler: %s, Flags: %s, Restorer: %#x, Mask: %s}", addr, handler, sigActionFlags.Parse(sa.Flags), sa.Restorer, formatSigSet(sa.Mask))
}
