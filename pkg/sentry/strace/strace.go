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

// Package strace implements the logic to print out the input and the return
// value of each traced syscall.
package strace

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"gvisor.dev/lacd/pkg/abi"
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/log"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/hosterr"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	"gvisor.dev/lacd/pkg/sentry/mm"
)

// DefaultLogMaximumSize is the default LogMaximumSize.
const DefaultLogMaximumSize = 1024

// LogMaximumSize determines the maximum display size for data blobs (read,
// write, etc.).
var LogMaximumSize uint = DefaultLogMaximumSize

// EventMaximumSize determines the maximum size of a single argument
// formatted by strace.
var EventMaximumSize uint

// ItimerTypes are the possible itimer types.
var ItimerTypes = abi.ValueSet{
	linux.ITIMER_REAL:    "ITIMER_REAL",
	linux.ITIMER_VIRTUAL: "ITIMER_VIRTUAL",
	linux.ITIMER_PROF:    "ITIMER_PROF",
}

func hexNum(num uint64) string {
	return "0x" + strconv.FormatUint(num, 16)
}

func hexArg(arg arch.SyscallArgument) string {
	return hexNum(uint64(arg.Value))
}

func iovecs(m *mm.MemoryManager, addr hostarch.Addr, iovcnt int, printContent bool, maxBytes uint64) string {
	if iovcnt < 0 || iovcnt > linux.UIO_MAXIOV {
		return fmt.Sprintf("%v (error decoding iovecs: invalid iovcnt)", addr)
	}
	ars, err := m.CopyInIovecs(addr, iovcnt)
	if err != nil {
		return fmt.Sprintf("%v (error decoding iovecs: %v)", addr, err)
	}

	var totalBytes uint64
	var truncated bool
	iovs := make([]string, len(ars))
	for i, ar := range ars {
		size := uint64(ar.Length())
		if truncated || size == 0 {
			iovs[i] = fmt.Sprintf("{base=%v, len=%d}", ar.Start, size)
			continue
		}
		if !printContent {
			iovs[i] = fmt.Sprintf("{base=%v, len=%d}", ar.Start, size)
			continue
		}
		if totalBytes+size > maxBytes {
			truncated = true
			size = maxBytes - totalBytes
		} else {
			totalBytes += size
		}
		b := make([]byte, size)
		amt, err := m.CopyInBytes(ar.Start, b)
		if err != nil {
			iovs[i] = fmt.Sprintf("{base=%v, len=%d, %q..., error decoding string: %v}", ar.Start, ar.Length(), b[:amt], err)
			continue
		}
		dot := ""
		if truncated {
			// Indicate truncation.
			dot = "..."
		}
		iovs[i] = fmt.Sprintf("{base=%v, len=%d, %q%s}", ar.Start, ar.Length(), b[:amt], dot)
	}

	return fmt.Sprintf("%v %s", addr, strings.Join(iovs, ", "))
}

func dump(m *mm.MemoryManager, addr hostarch.Addr, size uint, maximumBlobSize uint, printContent bool) string {
	if !printContent {
		return fmt.Sprintf("{base=%v, len=%d}", addr, size)
	}
	origSize := size
	if size > maximumBlobSize {
		size = maximumBlobSize
	}
	if size == 0 {
		return ""
	}

	b := make([]byte, size)
	amt, err := m.CopyInBytes(addr, b)
	if err != nil {
		return fmt.Sprintf("%v (error decoding string: %s)", addr, err)
	}

	dot := ""
	if uint(amt) < origSize {
		// ... if we truncated the dump.
		dot = "..."
	}

	return fmt.Sprintf("%v %q%s", addr, b[:amt], dot)
}

func path(m *mm.MemoryManager, addr hostarch.Addr) string {
	if addr == 0 {
		return "<null>"
	}
	path, err := m.CopyInString(addr, linux.PATH_MAX)
	if err != nil {
		return fmt.Sprintf("%v (error decoding path: %s)", addr, err)
	}
	return fmt.Sprintf("%v %s", addr, path)
}

func fd(p *kernel.Process, fd int32) string {
	fdt := p.FDTable()
	if fdt == nil {
		return fmt.Sprintf("%#x (exited)", fd)
	}
	if fd == linux.AT_FDCWD {
		return "AT_FDCWD " + p.FSContext().WorkingDirectory()
	}
	file, _ := fdt.Get(fd)
	if file == nil {
		// Cast FD to uint64 to avoid printing negative hex.
		return fmt.Sprintf("%#x (bad FD)", uint64(fd))
	}
	defer file.DecRef()
	return fmt.Sprintf("%#x %s", fd, file.Path())
}

func fdpair(m *mm.MemoryManager, addr hostarch.Addr) string {
	var b [8]byte
	if _, err := m.CopyInBytes(addr, b[:]); err != nil {
		return fmt.Sprintf("%v (error decoding fds: %s)", addr, err)
	}
	return fmt.Sprintf("%v [%d %d]", addr, int32(hostarch.ByteOrder.Uint32(b[:])), int32(hostarch.ByteOrder.Uint32(b[4:])))
}

func stat(m *mm.MemoryManager, addr hostarch.Addr) string {
	b := make([]byte, linux.SizeOfStat)
	if _, err := m.CopyInBytes(addr, b); err != nil {
		return fmt.Sprintf("%v (error decoding stat: %s)", addr, err)
	}
	var s linux.Stat
	s.UnmarshalBytes(b)
	return fmt.Sprintf("%v {dev=%d, ino=%d, mode=%s, nlink=%d, uid=%d, gid=%d, rdev=%d, size=%d, blksize=%d, blocks=%d, atime=%s, mtime=%s, ctime=%s}", addr, s.Dev, s.Ino, linux.FileMode(s.Mode), s.Nlink, s.UID, s.GID, s.Rdev, s.Size, s.Blksize, s.Blocks, time.Unix(s.ATime.Sec, s.ATime.Nsec), time.Unix(s.MTime.Sec, s.MTime.Nsec), time.Unix(s.CTime.Sec, s.CTime.Nsec))
}

func timespec(m *mm.MemoryManager, addr hostarch.Addr) string {
	if addr == 0 {
		return "null"
	}
	var b [16]byte
	if _, err := m.CopyInBytes(addr, b[:]); err != nil {
		return fmt.Sprintf("%v (error decoding timespec: %s)", addr, err)
	}
	var tim linux.Timespec
	tim.UnmarshalBytes(b[:])
	return fmt.Sprintf("%v {sec=%v nsec=%v}", addr, tim.Sec, tim.Nsec)
}

func stringVector(m *mm.MemoryManager, addr hostarch.Addr) string {
	vec, err := m.CopyInVector(addr, linux.ExecMaxElemSize, linux.ExecMaxTotalSize)
	if err != nil {
		return fmt.Sprintf("%v {error copying vector: %v}", addr, err)
	}
	s := fmt.Sprintf("%v [", addr)
	for i, v := range vec {
		if i != 0 {
			s += ", "
		}
		s += fmt.Sprintf("%q", v)
	}
	s += "]"
	return s
}

func rval(p *kernel.Process, info SyscallInfo, retval uintptr, err error) string {
	if err != nil {
		e := hosterr.FromHost(err)
		return fmt.Sprintf("-1 %s (%s)", unix.ErrnoName(hosterr.ToHost(e)), e.Error())
	}
	switch info.name {
	case "brk", "mmap", "mremap", "shmat":
		return hexNum(uint64(retval))
	}
	return fmt.Sprintf("%d", int64(retval))
}

// pre fills in the pre-execution arguments for a system call. If an argument
// cannot be interpreted before the system call is executed, then a hex value
// will be used. Note that a full output slice will always be provided, that is
// len(return) == len(args).
func (i *SyscallInfo) pre(p *kernel.Process, args arch.SyscallArguments, maximumBlobSize uint) []string {
	var output []string
	m := p.MemoryManager()
	for arg := range args {
		if arg >= len(i.format) {
			break
		}
		if m == nil {
			output = append(output, hexArg(args[arg]))
			continue
		}
		switch i.format[arg] {
		case FD:
			output = append(output, fd(p, args[arg].Int()))
		case WriteBuffer:
			output = append(output, dump(m, args[arg].Pointer(), args[arg+1].SizeT(), maximumBlobSize, true))
		case WriteIOVec:
			output = append(output, iovecs(m, args[arg].Pointer(), int(args[arg+1].Int()), true, uint64(maximumBlobSize)))
		case Path:
			output = append(output, path(m, args[arg].Pointer()))
		case ExecveStringVector:
			output = append(output, stringVector(m, args[arg].Pointer()))
		case Timespec:
			output = append(output, timespec(m, args[arg].Pointer()))
		case CloneFlags:
			output = append(output, cloneFlags(args[arg].Uint64()))
		case OpenFlags:
			output = append(output, open(args[arg].Uint64()))
		case Mode:
			output = append(output, linux.FileMode(args[arg].ModeT()).String())
		case FutexOp:
			output = append(output, futex(args[arg].Uint64()))
		case MmapProt:
			output = append(output, ProtectionFlagSet.Parse(args[arg].Uint64()))
		case MmapFlags:
			output = append(output, mmapFlags(args[arg].Uint64()))
		case Signal:
			output = append(output, signalName(args[arg].Uint64()))
		case SignalMaskAction:
			output = append(output, signalMaskActions.Parse(uint64(args[arg].Int())))
		case SigSet:
			output = append(output, sigSet(m, args[arg].Pointer()))
		case SigAction:
			output = append(output, sigAction(m, args[arg].Pointer()))
		case Oct:
			output = append(output, "0o"+strconv.FormatUint(args[arg].Uint64(), 8))
		case ReadBuffer, ReadIOVec, PostPath, PipeFDs, Stat, PostTimespec, PostSigSet, PostSigAction, Hex:
			// Formatted after execution.
			fallthrough
		default:
			output = append(output, hexArg(args[arg]))
		}
	}

	return output
}

// post fills in the post-execution arguments for a system call. This modifies
// the given output slice in place with arguments that may only be interpreted
// after the system call has been executed.
func (i *SyscallInfo) post(p *kernel.Process, args arch.SyscallArguments, retval uintptr, output []string, maximumBlobSize uint) {
	m := p.MemoryManager()
	if m == nil {
		return
	}
	for arg := range output {
		if arg >= len(i.format) {
			break
		}
		switch i.format[arg] {
		case ReadBuffer:
			output[arg] = dump(m, args[arg].Pointer(), uint(retval), maximumBlobSize, true)
		case ReadIOVec:
			printLength := uint64(retval)
			if printLength > uint64(maximumBlobSize) {
				printLength = uint64(maximumBlobSize)
			}
			output[arg] = iovecs(m, args[arg].Pointer(), int(args[arg+1].Int()), true, printLength)
		case WriteIOVec, WriteBuffer:
			// Don't print the contents again.
			output[arg] = hexArg(args[arg])
		case PostPath:
			output[arg] = path(m, args[arg].Pointer())
		case PipeFDs:
			output[arg] = fdpair(m, args[arg].Pointer())
		case Stat:
			output[arg] = stat(m, args[arg].Pointer())
		case PostTimespec:
			output[arg] = timespec(m, args[arg].Pointer())
		case PostSigSet:
			output[arg] = sigSet(m, args[arg].Pointer())
		case PostSigAction:
			output[arg] = sigAction(m, args[arg].Pointer())
		}
	}
}

// SyscallEvent is the private data carried from SyscallEnter to SyscallExit.
type SyscallEvent struct {
	info  SyscallInfo
	args  arch.SyscallArguments
	start time.Time
	pre   []string
}

// printEntry prints the given system call entry.
func (i *SyscallInfo) printEnter(p *kernel.Process, args arch.SyscallArguments) []string {
	output := i.pre(p, args, LogMaximumSize)
	log.Infof("[%6d] %s E %s(%s)", p.PID(), p.Name(), i.name, strings.Join(output, ", "))
	return output
}

// printExit prints the given system call exit.
func (i *SyscallInfo) printExit(p *kernel.Process, elapsed time.Duration, output []string, args arch.SyscallArguments, retval uintptr, err error) {
	i.post(p, args, retval, output, LogMaximumSize)
	log.Infof("[%6d] %s X %s(%s) = %s (%v)", p.PID(), p.Name(), i.name, strings.Join(output, ", "), rval(p, *i, retval, err), elapsed)
}

// lookup returns the SyscallInfo for sysno, falling back to the descriptor
// in the syscall table: its name and ArgCount arguments in hex.
func (s SyscallMap) lookup(p *kernel.Process, sysno uintptr) SyscallInfo {
	if info, ok := s[sysno]; ok {
		return info
	}
	if sc, ok := p.Kernel().SyscallTable().Lookup(sysno); ok {
		return SyscallInfo{
			name:   sc.Name,
			format: defaultFormat[:sc.ArgCount],
		}
	}
	return SyscallInfo{
		name:   p.Kernel().SyscallTable().LookupName(sysno),
		format: defaultFormat,
	}
}

// SyscallEnter implements kernel.Stracer.SyscallEnter.
func (s SyscallMap) SyscallEnter(p *kernel.Process, sysno uintptr, args arch.SyscallArguments) any {
	info := s.lookup(p, sysno)
	return &SyscallEvent{
		info:  info,
		args:  args,
		start: time.Now(),
		pre:   info.printEnter(p, args),
	}
}

// SyscallExit implements kernel.Stracer.SyscallExit.
func (s SyscallMap) SyscallExit(context any, p *kernel.Process, sysno, retval uintptr, err error) {
	ev, ok := context.(*SyscallEvent)
	if !ok {
		return
	}
	ev.info.printExit(p, time.Since(ev.start), ev.pre, ev.args, retval, err)
}

// Initialize prepares all syscall tables for use by this package.
//
// N.B. This is not in an init function because we can't be sure all syscall
// tables are registered with the kernel when init runs.
func Initialize() {
	for _, table := range kernel.SyscallTables() {
		// Is this known?
		sys, ok := Lookup(table.OS, table.Arch)
		if !ok {
			continue
		}
		table.Stracer = sys
	}
}

// filteredMap traces only the syscalls in allowed.
type filteredMap struct {
	SyscallMap
	allowed map[uintptr]struct{}
}

// SyscallEnter implements kernel.Stracer.SyscallEnter.
func (f filteredMap) SyscallEnter(p *kernel.Process, sysno uintptr, args arch.SyscallArguments) any {
	if _, ok := f.allowed[sysno]; !ok {
		return nil
	}
	return f.SyscallMap.SyscallEnter(p, sysno, args)
}

// Filter limits tracing in every known table to the named syscalls. An empty
// list traces all syscalls. Filter replaces the effect of Initialize.
func Filter(names []string) error {
	for _, table := range kernel.SyscallTables() {
		sys, ok := Lookup(table.OS, table.Arch)
		if !ok {
			continue
		}
		if len(names) == 0 {
			table.Stracer = sys
			continue
		}
		allowed := make(map[uintptr]struct{}, len(names))
		for _, name := range names {
			sysno, err := table.LookupNo(name)
			if err != nil {
				return fmt.Errorf("%s/%s: %w", table.OS, table.Arch, err)
			}
			allowed[sysno] = struct{}{}
		}
		table.Stracer = filteredMap{SyscallMap: sys, allowed: allowed}
	}
	return nil
}
