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

// Package linux provides syscall tables for amd64 Linux.
package linux

import (
	"gvisor.dev/lacd/pkg/abi"
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	"gvisor.dev/lacd/pkg/sentry/syscalls"
)

const (
	networkNote = "Networking is not emulated."
	threadNote  = "CLONE_THREAD and namespace flags are not supported."
)

// AMD64 is a table of Linux amd64 syscall API with the corresponding syscall
// numbers from Linux 5.15. Syscalls not listed return ENOSYS.
var AMD64 = &kernel.SyscallTable{
	OS:   abi.Linux,
	Arch: arch.AMD64,
	Version: kernel.Version{
		Sysname: "Linux",
		Release: "5.15.0-lacd",
		Version: "#1 SMP Sun Jan 10 15:06:54 PST 2016",
	},
	Table: map[uintptr]kernel.Syscall{
		0:   syscalls.Supported("read", 3, Read),
		1:   syscalls.Supported("write", 3, Write),
		2:   syscalls.Supported("open", 3, Open),
		3:   syscalls.Supported("close", 1, Close),
		4:   syscalls.Supported("stat", 2, Stat),
		5:   syscalls.Supported("fstat", 2, Fstat),
		6:   syscalls.Supported("lstat", 2, Lstat),
		7:   syscalls.NotImplemented("poll", 3, ""),
		8:   syscalls.Supported("lseek", 3, Lseek),
		9:   syscalls.PartiallySupported("mmap", 6, Mmap, "MAP_SHARED file mappings are private snapshots of the file."),
		10:  syscalls.Supported("mprotect", 3, Mprotect),
		11:  syscalls.Supported("munmap", 2, Munmap),
		12:  syscalls.Supported("brk", 1, Brk),
		13:  syscalls.Supported("rt_sigaction", 4, RtSigaction),
		14:  syscalls.Supported("rt_sigprocmask", 4, RtSigprocmask),
		15:  syscalls.Supported("rt_sigreturn", 0, RtSigreturn),
		16:  syscalls.PartiallySupported("ioctl", 3, Ioctl, "No terminal ioctls; TCGETS returns ENOTTY."),
		17:  syscalls.Supported("pread64", 4, Pread64),
		18:  syscalls.Supported("pwrite64", 4, Pwrite64),
		19:  syscalls.Supported("readv", 3, Readv),
		20:  syscalls.Supported("writev", 3, Writev),
		21:  syscalls.Supported("access", 2, Access),
		22:  syscalls.Supported("pipe", 1, Pipe),
		23:  syscalls.NotImplemented("select", 5, ""),
		24:  syscalls.Supported("sched_yield", 0, SchedYield),
		25:  syscalls.NotImplemented("mremap", 5, ""),
		26:  syscalls.NotImplemented("msync", 3, ""),
		27:  syscalls.NotImplemented("mincore", 3, ""),
		28:  syscalls.PartiallySupported("madvise", 3, Madvise, "Options are accepted and ignored, except MADV_DONTNEED which zeroes anonymous memory."),
		29:  syscalls.Supported("shmget", 3, Shmget),
		30:  syscalls.Supported("shmat", 3, Shmat),
		31:  syscalls.PartiallySupported("shmctl", 3, Shmctl, "IPC_INFO, SHM_INFO and SHM_STAT are not supported."),
		32:  syscalls.Supported("dup", 1, Dup),
		33:  syscalls.Supported("dup2", 2, Dup2),
		34:  syscalls.Supported("pause", 0, Pause),
		35:  syscalls.Supported("nanosleep", 2, Nanosleep),
		36:  syscalls.NotImplemented("getitimer", 2, ""),
		37:  syscalls.NotImplemented("alarm", 1, ""),
		38:  syscalls.NotImplemented("setitimer", 3, ""),
		39:  syscalls.Supported("getpid", 0, Getpid),
		40:  syscalls.NotImplemented("sendfile", 4, ""),
		41:  syscalls.Error("socket", 3, linuxerr.ENOSYS, networkNote),
		42:  syscalls.Error("connect", 3, linuxerr.ENOSYS, networkNote),
		43:  syscalls.Error("accept", 3, linuxerr.ENOSYS, networkNote),
		44:  syscalls.Error("sendto", 6, linuxerr.ENOSYS, networkNote),
		45:  syscalls.Error("recvfrom", 6, linuxerr.ENOSYS, networkNote),
		46:  syscalls.Error("sendmsg", 3, linuxerr.ENOSYS, networkNote),
		47:  syscalls.Error("recvmsg", 3, linuxerr.ENOSYS, networkNote),
		48:  syscalls.Error("shutdown", 2, linuxerr.ENOSYS, networkNote),
		49:  syscalls.Error("bind", 3, linuxerr.ENOSYS, networkNote),
		50:  syscalls.Error("listen", 2, linuxerr.ENOSYS, networkNote),
		51:  syscalls.Error("getsockname", 3, linuxerr.ENOSYS, networkNote),
		52:  syscalls.Error("getpeername", 3, linuxerr.ENOSYS, networkNote),
		53:  syscalls.Error("socketpair", 4, linuxerr.ENOSYS, networkNote),
		54:  syscalls.Error("setsockopt", 5, linuxerr.ENOSYS, networkNote),
		55:  syscalls.Error("getsockopt", 5, linuxerr.ENOSYS, networkNote),
		56:  syscalls.PartiallySupported("clone", 5, Clone, threadNote),
		57:  syscalls.Supported("fork", 0, Fork),
		58:  syscalls.Supported("vfork", 0, Vfork),
		59:  syscalls.Supported("execve", 3, Execve),
		60:  syscalls.Supported("exit", 1, Exit),
		61:  syscalls.PartiallySupported("wait4", 4, Wait4, "The rusage argument is zeroed."),
		62:  syscalls.Supported("kill", 2, Kill),
		63:  syscalls.Supported("uname", 1, Uname),
		64:  syscalls.Supported("semget", 3, Semget),
		65:  syscalls.PartiallySupported("semop", 3, Semop, "SEM_UNDO is accepted but adjustments are not reverted at exit."),
		66:  syscalls.PartiallySupported("semctl", 4, Semctl, "IPC_INFO, SEM_INFO and SEM_STAT are not supported."),
		67:  syscalls.Supported("shmdt", 1, Shmdt),
		68:  syscalls.Supported("msgget", 2, Msgget),
		69:  syscalls.Supported("msgsnd", 4, Msgsnd),
		70:  syscalls.PartiallySupported("msgrcv", 5, Msgrcv, "MSG_COPY is not supported."),
		71:  syscalls.PartiallySupported("msgctl", 3, Msgctl, "IPC_INFO, MSG_INFO and MSG_STAT are not supported."),
		72:  syscalls.Supported("fcntl", 3, Fcntl),
		73:  syscalls.NotImplemented("flock", 2, ""),
		74:  syscalls.Supported("fsync", 1, Fsync),
		75:  syscalls.Supported("fdatasync", 1, Fdatasync),
		76:  syscalls.Supported("truncate", 2, Truncate),
		77:  syscalls.Supported("ftruncate", 2, Ftruncate),
		78:  syscalls.NotImplemented("getdents", 3, "Use getdents64."),
		79:  syscalls.Supported("getcwd", 2, Getcwd),
		80:  syscalls.Supported("chdir", 1, Chdir),
		81:  syscalls.Supported("fchdir", 1, Fchdir),
		82:  syscalls.Supported("rename", 2, Rename),
		83:  syscalls.Supported("mkdir", 2, Mkdir),
		84:  syscalls.Supported("rmdir", 1, Rmdir),
		85:  syscalls.Supported("creat", 2, Creat),
		86:  syscalls.NotImplemented("link", 2, ""),
		87:  syscalls.Supported("unlink", 1, Unlink),
		88:  syscalls.NotImplemented("symlink", 2, ""),
		89:  syscalls.Supported("readlink", 3, Readlink),
		90:  syscalls.NotImplemented("chmod", 2, ""),
		91:  syscalls.NotImplemented("fchmod", 2, ""),
		92:  syscalls.NotImplemented("chown", 3, ""),
		93:  syscalls.NotImplemented("fchown", 3, ""),
		94:  syscalls.NotImplemented("lchown", 3, ""),
		95:  syscalls.Supported("umask", 1, Umask),
		96:  syscalls.Supported("gettimeofday", 2, Gettimeofday),
		97:  syscalls.Supported("getrlimit", 2, Getrlimit),
		98:  syscalls.PartiallySupported("getrusage", 2, Getrusage, "Only ru_utime and ru_maxrss are reported, and CPU time is approximated by elapsed time."),
		99:  syscalls.PartiallySupported("sysinfo", 1, Sysinfo, "Memory and load figures describe the host."),
		100: syscalls.NotImplemented("times", 1, ""),
		101: syscalls.CapError("ptrace", 4, linux.CAP_SYS_PTRACE, ""),
		102: syscalls.Supported("getuid", 0, Getuid),
		103: syscalls.Error("syslog", 3, linuxerr.EPERM, ""),
		104: syscalls.Supported("getgid", 0, Getgid),
		105: syscalls.Supported("setuid", 1, Setuid),
		106: syscalls.Supported("setgid", 1, Setgid),
		107: syscalls.Supported("geteuid", 0, Geteuid),
		108: syscalls.Supported("getegid", 0, Getegid),
		109: syscalls.Supported("setpgid", 2, Setpgid),
		110: syscalls.Supported("getppid", 0, Getppid),
		111: syscalls.Supported("getpgrp", 0, Getpgrp),
		112: syscalls.Supported("setsid", 0, Setsid),
		113: syscalls.Supported("setreuid", 2, Setreuid),
		114: syscalls.Supported("setregid", 2, Setregid),
		115: syscalls.Supported("getgroups", 2, Getgroups),
		116: syscalls.Supported("setgroups", 2, Setgroups),
		117: syscalls.Supported("setresuid", 3, Setresuid),
		118: syscalls.Supported("getresuid", 3, Getresuid),
		119: syscalls.Supported("setresgid", 3, Setresgid),
		120: syscalls.Supported("getresgid", 3, Getresgid),
		121: syscalls.Supported("getpgid", 1, Getpgid),
		122: syscalls.NotImplemented("setfsuid", 1, ""),
		123: syscalls.NotImplemented("setfsgid", 1, ""),
		124: syscalls.Supported("getsid", 1, Getsid),
		125: syscalls.NotImplemented("capget", 2, ""),
		126: syscalls.NotImplemented("capset", 2, ""),
		127: syscalls.Supported("rt_sigpending", 2, RtSigpending),
		128: syscalls.Supported("rt_sigtimedwait", 4, RtSigtimedwait),
		129: syscalls.Supported("rt_sigqueueinfo", 3, RtSigqueueinfo),
		130: syscalls.Supported("rt_sigsuspend", 2, RtSigsuspend),
		131: syscalls.Supported("sigaltstack", 2, Sigaltstack),
		132: syscalls.NotImplemented("utime", 2, ""),
		133: syscalls.NotImplemented("mknod", 3, ""),
		135: syscalls.NotImplemented("personality", 1, ""),
		137: syscalls.NotImplemented("statfs", 2, ""),
		138: syscalls.NotImplemented("fstatfs", 2, ""),
		140: syscalls.NotImplemented("getpriority", 2, ""),
		141: syscalls.NotImplemented("setpriority", 3, ""),
		157: syscalls.PartiallySupported("prctl", 5, Prctl, "Only name, parent death signal and dumpable options are supported."),
		158: syscalls.PartiallySupported("arch_prctl", 2, ArchPrctl, "Only the FS and GS base options are supported."),
		160: syscalls.Supported("setrlimit", 2, Setrlimit),
		161: syscalls.CapError("chroot", 1, linux.CAP_SYS_CHROOT, ""),
		162: syscalls.NotImplemented("sync", 0, ""),
		165: syscalls.CapError("mount", 5, linux.CAP_SYS_ADMIN, ""),
		166: syscalls.CapError("umount2", 2, linux.CAP_SYS_ADMIN, ""),
		170: syscalls.PartiallySupported("sethostname", 2, Sethostname, "The hostname is fixed; returns EPERM."),
		171: syscalls.Error("setdomainname", 2, linuxerr.EPERM, ""),
		186: syscalls.Supported("gettid", 0, Gettid),
		200: syscalls.Supported("tkill", 2, Tkill),
		201: syscalls.Supported("time", 1, Time),
		202: syscalls.PartiallySupported("futex", 6, Futex, "Priority-inheritance futexes are not supported."),
		203: syscalls.NotImplemented("sched_setaffinity", 3, ""),
		204: syscalls.NotImplemented("sched_getaffinity", 3, ""),
		217: syscalls.Supported("getdents64", 3, Getdents64),
		218: syscalls.Supported("set_tid_address", 1, SetTidAddress),
		219: syscalls.Supported("restart_syscall", 0, RestartSyscall),
		220: syscalls.PartiallySupported("semtimedop", 4, Semtimedop, "SEM_UNDO is accepted but adjustments are not reverted at exit."),
		227: syscalls.PartiallySupported("clock_settime", 2, ClockSettime, "Clocks cannot be set; returns EPERM."),
		228: syscalls.PartiallySupported("clock_gettime", 2, ClockGettime, "CPU-time clocks report elapsed time since process start."),
		229: syscalls.Supported("clock_getres", 2, ClockGetres),
		230: syscalls.Supported("clock_nanosleep", 4, ClockNanosleep),
		231: syscalls.Supported("exit_group", 1, ExitGroup),
		234: syscalls.Supported("tgkill", 3, Tgkill),
		247: syscalls.Supported("waitid", 5, Waitid),
		257: syscalls.Supported("openat", 4, Openat),
		258: syscalls.Supported("mkdirat", 3, Mkdirat),
		262: syscalls.Supported("newfstatat", 4, Newfstatat),
		263: syscalls.Supported("unlinkat", 3, Unlinkat),
		264: syscalls.Supported("renameat", 4, Renameat),
		267: syscalls.Supported("readlinkat", 4, Readlinkat),
		269: syscalls.Supported("faccessat", 3, Faccessat),
		273: syscalls.Error("set_robust_list", 2, linuxerr.ENOSYS, "Robust futexes are not modelled."),
		274: syscalls.Error("get_robust_list", 3, linuxerr.ENOSYS, "Robust futexes are not modelled."),
		292: syscalls.Supported("dup3", 3, Dup3),
		293: syscalls.Supported("pipe2", 2, Pipe2),
		295: syscalls.Supported("preadv", 4, Preadv),
		296: syscalls.Supported("pwritev", 4, Pwritev),
		302: syscalls.Supported("prlimit64", 4, Prlimit64),
		316: syscalls.Supported("renameat2", 5, Renameat2),
		318: syscalls.Supported("getrandom", 3, GetRandom),
		322: syscalls.Supported("execveat", 5, Execveat),
		334: syscalls.Error("rseq", 4, linuxerr.ENOSYS, "Restartable sequences are not modelled."),
		435: syscalls.Error("clone3", 2, linuxerr.ENOSYS, "Callers fall back to clone."),
		439: syscalls.Supported("faccessat2", 4, Faccessat2),
		449: syscalls.Supported("futex_waitv", 5, FutexWaitv),
	},
}

func init() {
	kernel.RegisterSyscallTable(AMD64)
}
