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

// Package kernel emulates the process model of the Linux kernel for guest
// processes whose syscalls are trapped and forwarded to the daemon.
//
// Lock order (outermost locks must be taken first):
//
//	Process.dispatchMu
//	  Kernel.mu
//	    Process.mu (parent before child)
//	      SignalHandlers.mu
//
// Registry locks in the IPC packages are leaves: no kernel lock is taken
// while holding one.
package kernel

import (
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/log"
	"gvisor.dev/lacd/pkg/metric"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel/auth"
	"gvisor.dev/lacd/pkg/sentry/kernel/futex"
	"gvisor.dev/lacd/pkg/sentry/kernel/msgqueue"
	"gvisor.dev/lacd/pkg/sentry/kernel/semaphore"
	"gvisor.dev/lacd/pkg/sentry/kernel/shm"
	"gvisor.dev/lacd/pkg/sentry/limits"
	"gvisor.dev/lacd/pkg/sentry/loader"
	"gvisor.dev/lacd/pkg/sentry/mm"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

const (
	// InitPID is the pid of the virtual init process, the parent of every
	// process created by CreateProcess. It has no Process of its own.
	InitPID ThreadID = 1

	// FirstPID is the first pid handed out to guest processes.
	FirstPID ThreadID = 1000

	// DefaultPIDMax is the default value of InitKernelArgs.PIDMax, as
	// Linux's /proc/sys/kernel/pid_max.
	DefaultPIDMax ThreadID = 1 << 22

	// DefaultMaxProcesses is the default value of
	// InitKernelArgs.MaxProcesses.
	DefaultMaxProcesses = 1024
)

var (
	processCount   = metric.MustCreateNewUint64Metric("/kernel/processes", metric.Gauge, "Number of processes in the process registry, including zombies.")
	processStarts  = metric.MustCreateNewUint64Metric("/kernel/process_starts", metric.Counter, "Number of processes created.")
	processExits   = metric.MustCreateNewUint64Metric("/kernel/process_exits", metric.Counter, "Number of processes that exited, by cause.", metric.NewField("cause", []string{"exit", "signal"}))
	execsAttempted = metric.MustCreateNewUint64Metric("/kernel/execs", metric.Counter, "Number of images loaded by CreateProcess and execve.")
)

// SyscallRestartBlock represents the restart block for a syscall restartable
// with a custom function. It encapsulates the state required to restart a
// syscall across a signal handler invocation.
type SyscallRestartBlock interface {
	Restart(p *Process) (uintptr, error)
}

// InitKernelArgs holds arguments to New.
type InitKernelArgs struct {
	// SyscallTable is the table used to dispatch guest syscalls.
	SyscallTable *SyscallTable

	// VFS resolves guest paths. It must have its filesystems registered.
	VFS *vfs.VirtualFilesystem

	// MaxProcesses is the maximum number of processes, including zombies.
	// Zero means DefaultMaxProcesses.
	MaxProcesses int

	// DefaultStackSize is the initial stack size of new images. Zero means
	// loader.DefaultStackSize.
	DefaultStackSize uint64

	// MemoryBudget is the per-process mapped-bytes budget. Zero is
	// unlimited.
	MemoryBudget uint64

	// PIDMax bounds allocated pids. Zero means DefaultPIDMax.
	PIDMax ThreadID

	// Hostname is reported by uname(2).
	Hostname string
}

// Kernel is the process registry and owner of the objects shared between
// guest processes.
type Kernel struct {
	// The following fields are immutable after New.
	syscalls         *SyscallTable
	vfs              *vfs.VirtualFilesystem
	maxProcesses     int
	defaultStackSize uint64
	memoryBudget     uint64
	pidMax           ThreadID
	hostname         string
	bootTime         time.Time

	// futexes is the futex manager shared by all processes, so that shared
	// futexes in SysV shared memory are coherent across address spaces.
	futexes *futex.Manager

	// SysV IPC registries.
	shm      *shm.Registry
	sem      *semaphore.Registry
	msgqueue *msgqueue.Registry

	// strace is true if syscalls are logged.
	strace atomic.Bool

	// mu protects the process registry and the process tree: processes,
	// lastPID, wrapped and every Process.parent and Process.children.
	mu sync.RWMutex

	processes map[ThreadID]*Process

	// lastPID is the most recently allocated pid.
	lastPID ThreadID

	// wrapped is true once pid allocation has reached pidMax. After that,
	// the lowest free pid is reused.
	wrapped bool
}

// New returns a kernel with an empty process registry.
func New(args InitKernelArgs) (*Kernel, error) {
	if args.SyscallTable == nil {
		return nil, fmt.Errorf("syscall table is required")
	}
	if args.VFS == nil {
		return nil, fmt.Errorf("virtual filesystem is required")
	}
	k := &Kernel{
		syscalls:         args.SyscallTable,
		vfs:              args.VFS,
		maxProcesses:     args.MaxProcesses,
		defaultStackSize: args.DefaultStackSize,
		memoryBudget:     args.MemoryBudget,
		pidMax:           args.PIDMax,
		hostname:         args.Hostname,
		bootTime:         time.Now(),
		futexes:          futex.NewManager(),
		shm:              shm.NewRegistry(),
		sem:              semaphore.NewRegistry(),
		msgqueue:         msgqueue.NewRegistry(),
		processes:        make(map[ThreadID]*Process),
		lastPID:          FirstPID - 1,
	}
	if k.maxProcesses <= 0 {
		k.maxProcesses = DefaultMaxProcesses
	}
	if k.defaultStackSize == 0 {
		k.defaultStackSize = loader.DefaultStackSize
	}
	if k.pidMax == 0 {
		k.pidMax = DefaultPIDMax
	}
	if k.pidMax <= FirstPID {
		return nil, fmt.Errorf("pid max %d must be above %d", k.pidMax, FirstPID)
	}
	if k.hostname == "" {
		k.hostname = "lacd"
	}
	return k, nil
}

// SyscallTable returns the syscall table used by k.
func (k *Kernel) SyscallTable() *SyscallTable {
	return k.syscalls
}

// VFS returns the virtual filesystem used by k.
func (k *Kernel) VFS() *vfs.VirtualFilesystem {
	return k.vfs
}

// Futexes returns the futex manager shared by all processes.
func (k *Kernel) Futexes() *futex.Manager {
	return k.futexes
}

// ShmRegistry returns the SysV shared memory registry.
func (k *Kernel) ShmRegistry() *shm.Registry {
	return k.shm
}

// SemaphoreRegistry returns the SysV semaphore registry.
func (k *Kernel) SemaphoreRegistry() *semaphore.Registry {
	return k.sem
}

// MsgQueueRegistry returns the SysV message queue registry.
func (k *Kernel) MsgQueueRegistry() *msgqueue.Registry {
	return k.msgqueue
}

// Hostname returns the hostname reported to guests.
func (k *Kernel) Hostname() string {
	return k.hostname
}

// BootTime returns the time k was created.
func (k *Kernel) BootTime() time.Time {
	return k.bootTime
}

// MaxProcesses returns the size of the process table.
func (k *Kernel) MaxProcesses() int {
	return k.maxProcesses
}

// SetStrace enables or disables syscall logging.
func (k *Kernel) SetStrace(enabled bool) {
	k.strace.Store(enabled)
}

// ProcessWithID returns the process with the given pid, or nil if there is
// none. Zombies are returned until reaped.
func (k *Kernel) ProcessWithID(pid ThreadID) *Process {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.processes[pid]
}

// Processes returns all registered processes, sorted by pid.
func (k *Kernel) Processes() []*Process {
	k.mu.RLock()
	ps := make([]*Process, 0, len(k.processes))
	for _, p := range k.processes {
		ps = append(ps, p)
	}
	k.mu.RUnlock()
	slices.SortFunc(ps, func(a, b *Process) int { return int(a.pid - b.pid) })
	return ps
}

// ProcessCount returns the number of registered processes.
func (k *Kernel) ProcessCount() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.processes)
}

// allocatePIDLocked returns an unused pid. Pids are handed out in increasing
// order until pidMax is reached, after which the lowest free pid is reused.
//
// Preconditions: k.mu must be locked.
func (k *Kernel) allocatePIDLocked() (ThreadID, error) {
	if len(k.processes) >= k.maxProcesses {
		return 0, linuxerr.EAGAIN
	}
	if !k.wrapped {
		if k.lastPID+1 < k.pidMax {
			k.lastPID++
			return k.lastPID, nil
		}
		k.wrapped = true
		log.Infof("Pid space exhausted at %d, reusing free pids", k.pidMax)
	}
	for pid := FirstPID; pid < k.pidMax; pid++ {
		if _, ok := k.processes[pid]; !ok {
			k.lastPID = pid
			return pid, nil
		}
	}
	return 0, linuxerr.EAGAIN
}

func (k *Kernel) processStarted(p *Process) {
	processStarts.Increment()
}

func (k *Kernel) processExited(p *Process) {
	if status, _ := p.ExitStatus(); status.Signaled() {
		processExits.Increment("signal")
	} else {
		processExits.Increment("exit")
	}
}

// CreateProcessArgs holds arguments to Kernel.CreateProcess.
type CreateProcessArgs struct {
	// Filename is the guest path of the executable.
	Filename string

	// Argv is the argument vector. If empty, it defaults to [Filename].
	Argv []string

	// Envv is the environment.
	Envv []string

	// WorkingDirectory is the initial guest working directory. It defaults
	// to "/".
	WorkingDirectory string

	// Credentials are the process credentials. They default to the
	// unprivileged guest user.
	Credentials *auth.Credentials

	// Umask is the initial file mode creation mask.
	Umask uint

	// Limits are the resource limits. If nil, guest defaults are used.
	Limits *limits.LimitSet

	// Stdio are installed as fds 0, 1 and 2. Nil entries are skipped. The
	// process takes its own references.
	Stdio []*vfs.FileDescription
}

// CreateProcess loads the executable at args.Filename into a new process
// whose parent is the virtual init process, and starts it. The returned
// process is Running; its registers hold the image entry point and initial
// stack pointer for the trap layer to resume.
func (k *Kernel) CreateProcess(args CreateProcessArgs) (*Process, error) {
	creds := args.Credentials
	if creds == nil {
		creds = auth.NewUserCredentials(auth.DefaultUID, auth.DefaultGID)
	}
	ls := args.Limits
	if ls == nil {
		var err error
		ls, err = limits.NewGuestLimitSet(k.defaultStackSize, k.maxProcesses)
		if err != nil {
			return nil, err
		}
	}
	cwd := args.WorkingDirectory
	if cwd == "" {
		cwd = "/"
	}
	argv := args.Argv
	if len(argv) == 0 {
		argv = []string{args.Filename}
	}
	fsc := NewFSContext(cwd, args.Umask)
	path := fsc.Resolve(args.Filename)

	m := mm.NewMemoryManager(k.memoryBudget)
	res, err := k.loadImage(m, path, argv, args.Envv, creds, ls)
	if err != nil {
		m.DecUsers()
		fsc.DecRef()
		return nil, err
	}

	fdt := NewFDTable()
	for i, fd := range args.Stdio {
		if fd == nil {
			continue
		}
		fd.IncRef()
		if err := fdt.NewFDAt(ls, int32(i), fd, FDFlags{}); err != nil {
			fd.DecRef()
			m.DecUsers()
			fdt.DecRef()
			fsc.DecRef()
			return nil, err
		}
	}

	p := newProcess(k, res.Name, m, arch.NewContext64(res.Entry, res.StackPointer), fdt, fsc, creds, ls, NewSignalHandlers())

	k.mu.Lock()
	pid, err := k.allocatePIDLocked()
	if err != nil {
		k.mu.Unlock()
		m.DecUsers()
		fdt.DecRef()
		fsc.DecRef()
		return nil, err
	}
	p.pid = pid
	p.pgid = pid
	p.sid = pid
	p.Start()
	k.processes[pid] = p
	processCount.Set(uint64(len(k.processes)))
	k.mu.Unlock()

	k.processStarted(p)
	log.Infof("Created process %d for %q (entry %v, sp %v)", pid, path, res.Entry, res.StackPointer)
	return p, nil
}

// loadImage opens the executable at path and loads it into m.
func (k *Kernel) loadImage(m *mm.MemoryManager, path string, argv, envv []string, creds *auth.Credentials, ls *limits.LimitSet) (loader.LoadResult, error) {
	execsAttempted.Increment()

	// Interpreters opened by the loader are released once it is done.
	var opened []*vfs.FileDescription
	defer func() {
		for _, fd := range opened {
			fd.DecRef()
		}
	}()
	open := func(p string) (loader.File, error) {
		fd, err := k.openExecutable(p)
		if err != nil {
			return nil, err
		}
		opened = append(opened, fd)
		return execFile{fd}, nil
	}

	f, err := open(path)
	if err != nil {
		return loader.LoadResult{}, err
	}
	stackSize := k.defaultStackSize
	if ls != nil {
		if cur := ls.Get(limits.Stack).Cur; cur != limits.Infinity && cur > 0 {
			stackSize = cur
		}
	}
	return loader.Load(loader.LoadArgs{
		MemoryManager: m,
		Filename:      path,
		File:          f,
		Open:          open,
		Argv:          argv,
		Envv:          envv,
		StackSize:     stackSize,
		Credentials:   creds,
	})
}

// openExecutable opens the guest file at path for loading. It must be a
// regular file with an execute bit set.
func (k *Kernel) openExecutable(path string) (*vfs.FileDescription, error) {
	stat, err := k.vfs.StatAt(path, true /* follow */)
	if err != nil {
		return nil, err
	}
	if stat.Mode&linux.S_IFMT != linux.S_IFREG || stat.Mode&0111 == 0 {
		return nil, linuxerr.EACCES
	}
	return k.vfs.OpenAt(path, linux.O_RDONLY, 0)
}

// execFile adapts a FileDescription to loader.File.
type execFile struct {
	fd *vfs.FileDescription
}

// ReadAt implements io.ReaderAt.ReadAt.
func (f execFile) ReadAt(p []byte, off int64) (int, error) {
	total := 0
	for total < len(p) {
		n, err := f.fd.PRead(p[total:], off+int64(total))
		total += n
		if err != nil {
			if err == io.EOF {
				break
			}
			return total, err
		}
		if n == 0 {
			break
		}
	}
	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

// Size implements loader.File.Size.
func (f execFile) Size() int64 {
	stat, err := f.fd.Stat()
	if err != nil {
		return 0
	}
	return int64(stat.Size)
}

// Kill sends SIGKILL to every process. It is used on daemon shutdown.
func (k *Kernel) Kill() {
	for _, p := range k.Processes() {
		p.SendSignal(SignalInfoPriv(linux.SIGKILL))
	}
}
