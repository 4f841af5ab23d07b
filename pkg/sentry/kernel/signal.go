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

package kernel

import (
	"gvisor.dev/lacd/pkg/abi/linux"
)

// SignalAction is an internal signal action.
type SignalAction int

// Available signal actions.
// Note that although we refer the complete set internally,
// the application is only capable of using the Default and
// Ignore actions from the system call interface.
const (
	SignalActionTerm SignalAction = iota
	SignalActionCore
	SignalActionStop
	SignalActionIgnore
	SignalActionContinue
)

var signalActionNames = map[SignalAction]string{
	SignalActionTerm:     "terminate",
	SignalActionCore:     "coredump",
	SignalActionStop:     "stop",
	SignalActionIgnore:   "ignore",
	SignalActionContinue: "continue",
}

// String implements fmt.Stringer.
func (a SignalAction) String() string {
	return signalActionNames[a]
}

// defaultActions contains the default actions taken.
//
// Standard Signals:
//
//	SIGHUP        1       Term    Hangup detected on controlling terminal
//	                              or death of controlling process
//	SIGINT        2       Term    Interrupt from keyboard
//	SIGQUIT       3       Core    Quit from keyboard
//	SIGILL        4       Core    Illegal Instruction
//	SIGTRAP       5       Core    Trace/breakpoint trap
//	SIGABRT       6       Core    Abort signal from abort(3)
//	SIGIOT        6               IOT trap. A synonym for SIGABRT
//	SIGEMT        -       Term    Emulator trap
//	SIGBUS        7       Core    Bus error (bad memory access)
//	SIGFPE        8       Core    Floating point exception
//	SIGKILL       9       Term    Kill signal
//	SIGUSR1      10       Term    User-defined signal 1
//	SIGSEGV      11       Core    Invalid memory reference
//	SIGUSR2      12       Term    User-defined signal 2
//	SIGPIPE      13       Term    Broken pipe: write to pipe with no readers
//	SIGALRM      14       Term    Timer signal from alarm(2)
//	SIGTERM      15       Term    Termination signal
//	SIGSTKFLT    16       Term    Stack fault on coprocessor (unused)
//	SIGCHLD      17       Ign     Child stopped or terminated
//	SIGCONT      18       Cont    Continue if stopped
//	SIGSTOP      19       Stop    Stop process
//	SIGTSTP      20       Stop    Stop typed at terminal
//	SIGTTIN      21       Stop    Terminal input for background process
//	SIGTTOU      22       Stop    Terminal output for background process
//	SIGURG       23       Ign     Urgent condition on socket (4.2BSD)
//	SIGXCPU      24       Core    CPU time limit exceeded (4.2BSD)
//	SIGXFSZ      25       Core    File size limit exceeded (4.2BSD)
//	SIGVTALRM    26       Term    Virtual alarm clock (4.2BSD)
//	SIGPROF      27       Term    Profiling timer expired
//	SIGWINCH     28       Ign     Window resize signal (4.3BSD, Sun)
//	SIGIO        29       Term    I/O now possible (4.2BSD)
//	SIGPOLL                       Pollable event (Sys V). Synonym for SIGIO
//	SIGPWR       30       Term    Power failure (System V)
//	SIGSYS       31       Core    Bad argument to routine (SVr4)
//
// Signals not listed above (the realtime signals) default to Term.
var defaultActions = map[linux.Signal]SignalAction{
	linux.SIGHUP:    SignalActionTerm,
	linux.SIGINT:    SignalActionTerm,
	linux.SIGQUIT:   SignalActionCore,
	linux.SIGILL:    SignalActionCore,
	linux.SIGTRAP:   SignalActionCore,
	linux.SIGABRT:   SignalActionCore,
	linux.SIGBUS:    SignalActionCore,
	linux.SIGFPE:    SignalActionCore,
	linux.SIGKILL:   SignalActionTerm,
	linux.SIGUSR1:   SignalActionTerm,
	linux.SIGSEGV:   SignalActionCore,
	linux.SIGUSR2:   SignalActionTerm,
	linux.SIGPIPE:   SignalActionTerm,
	linux.SIGALRM:   SignalActionTerm,
	linux.SIGTERM:   SignalActionTerm,
	linux.SIGSTKFLT: SignalActionTerm,
	linux.SIGCHLD:   SignalActionIgnore,
	linux.SIGCONT:   SignalActionContinue,
	linux.SIGSTOP:   SignalActionStop,
	linux.SIGTSTP:   SignalActionStop,
	linux.SIGTTIN:   SignalActionStop,
	linux.SIGTTOU:   SignalActionStop,
	linux.SIGURG:    SignalActionIgnore,
	linux.SIGXCPU:   SignalActionCore,
	linux.SIGXFSZ:   SignalActionCore,
	linux.SIGVTALRM: SignalActionTerm,
	linux.SIGPROF:   SignalActionTerm,
	linux.SIGWINCH:  SignalActionIgnore,
	linux.SIGIO:     SignalActionTerm,
	linux.SIGPWR:    SignalActionTerm,
	linux.SIGSYS:    SignalActionCore,
}

// DefaultAction returns the default action for sig.
func DefaultAction(sig linux.Signal) SignalAction {
	if a, ok := defaultActions[sig]; ok {
		return a
	}
	return SignalActionTerm
}

// isStopSignal returns true if sig's default action is to stop the process.
func isStopSignal(sig linux.Signal) bool {
	return DefaultAction(sig) == SignalActionStop
}

// stopSignals is the set of signals whose default action is stop.
var stopSignals = linux.MakeSignalSet(linux.SIGSTOP, linux.SIGTSTP, linux.SIGTTIN, linux.SIGTTOU)

// SignalInfoPriv returns a SignalInfo equivalent to Linux's SEND_SIG_PRIV.
func SignalInfoPriv(sig linux.Signal) *linux.SignalInfo {
	return &linux.SignalInfo{
		Signo: int32(sig),
		Code:  linux.SI_KERNEL,
	}
}

// SignalInfoNoInfo returns a SignalInfo equivalent to Linux's
// SEND_SIG_NOINFO, sent by sender. A nil sender is the daemon itself.
func SignalInfoNoInfo(sig linux.Signal, sender *Process) *linux.SignalInfo {
	info := &linux.SignalInfo{
		Signo: int32(sig),
		Code:  linux.SI_USER,
	}
	if sender != nil {
		info.SetPID(int32(sender.PID()))
		info.SetUID(int32(sender.Credentials().RealKUID))
	}
	return info
}
