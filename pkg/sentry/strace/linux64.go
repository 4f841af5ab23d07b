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

// linuxAMD64 provides a mapping of the Linux amd64 syscalls and their argument
// types for display / formatting. Syscalls without an entry are printed with
// their name from the syscall table and hex arguments.
var linuxAMD64 = SyscallMap{
	0:   makeSyscallInfo("read", FD, ReadBuffer, Hex),
	1:   makeSyscallInfo("write", FD, WriteBuffer, Hex),
	2:   makeSyscallInfo("open", Path, OpenFlags, Mode),
	3:   makeSyscallInfo("close", FD),
	4:   makeSyscallInfo("stat", Path, Stat),
	5:   makeSyscallInfo("fstat", FD, Stat),
	6:   makeSyscallInfo("lstat", Path, Stat),
	7:   makeSyscallInfo("poll", Hex, Hex, Hex),
	8:   makeSyscallInfo("lseek", FD, Hex, Hex),
	9:   makeSyscallInfo("mmap", Hex, Hex, MmapProt, MmapFlags, FD, Hex),
	10:  makeSyscallInfo("mprotect", Hex, Hex, MmapProt),
	11:  makeSyscallInfo("munmap", Hex, Hex),
	12:  makeSyscallInfo("brk", Hex),
	13:  makeSyscallInfo("rt_sigaction", Signal, SigAction, PostSigAction, Hex),
	14:  makeSyscallInfo("rt_sigprocmask", SignalMaskAction, SigSet, PostSigSet, Hex),
	15:  makeSyscallInfo("rt_sigreturn"),
	16:  makeSyscallInfo("ioctl", FD, Hex, Hex),
	17:  makeSyscallInfo("pread64", FD, ReadBuffer, Hex, Hex),
	18:  makeSyscallInfo("pwrite64", FD, WriteBuffer, Hex, Hex),
	19:  makeSyscallInfo("readv", FD, ReadIOVec, Hex),
	20:  makeSyscallInfo("writev", FD, WriteIOVec, Hex),
	21:  makeSyscallInfo("access", Path, Oct),
	22:  makeSyscallInfo("pipe", PipeFDs),
	24:  makeSyscallInfo("sched_yield"),
	25:  makeSyscallInfo("mremap", Hex, Hex, Hex, Hex, Hex),
	28:  makeSyscallInfo("madvise", Hex, Hex, Hex),
	29:  makeSyscallInfo("shmget", Hex, Hex, Hex),
	30:  makeSyscallInfo("shmat", Hex, Hex, Hex),
	31:  makeSyscallInfo("shmctl", Hex, Hex, Hex),
	32:  makeSyscallInfo("dup", FD),
	33:  makeSyscallInfo("dup2", FD, FD),
	34:  makeSyscallInfo("pause"),
	35:  makeSyscallInfo("nanosleep", Timespec, PostTimespec),
	37:  makeSyscallInfo("alarm", Hex),
	39:  makeSyscallInfo("getpid"),
	56:  makeSyscallInfo("clone", CloneFlags, Hex, Hex, Hex, Hex),
	57:  makeSyscallInfo("fork"),
	58:  makeSyscallInfo("vfork"),
	59:  makeSyscallInfo("execve", Path, ExecveStringVector, ExecveStringVector),
	60:  makeSyscallInfo("exit", Hex),
	61:  makeSyscallInfo("wait4", Hex, Hex, Hex, Hex),
	62:  makeSyscallInfo("kill", Hex, Signal),
	63:  makeSyscallInfo("uname", Hex),
	64:  makeSyscallInfo("semget", Hex, Hex, Hex),
	65:  makeSyscallInfo("semop", Hex, Hex, Hex),
	66:  makeSyscallInfo("semctl", Hex, Hex, Hex, Hex),
	67:  makeSyscallInfo("shmdt", Hex),
	68:  makeSyscallInfo("msgget", Hex, Hex),
	69:  makeSyscallInfo("msgsnd", Hex, Hex, Hex, Hex),
	70:  makeSyscallInfo("msgrcv", Hex, Hex, Hex, Hex, Hex),
	71:  makeSyscallInfo("msgctl", Hex, Hex, Hex),
	72:  makeSyscallInfo("fcntl", FD, Hex, Hex),
	74:  makeSyscallInfo("fsync", FD),
	75:  makeSyscallInfo("fdatasync", FD),
	76:  makeSyscallInfo("truncate", Path, Hex),
	77:  makeSyscallInfo("ftruncate", FD, Hex),
	78:  makeSyscallInfo("getdents", FD, Hex, Hex),
	79:  makeSyscallInfo("getcwd", PostPath, Hex),
	80:  makeSyscallInfo("chdir", Path),
	81:  makeSyscallInfo("fchdir", FD),
	82:  makeSyscallInfo("rename", Path, Path),
	83:  makeSyscallInfo("mkdir", Path, Oct),
	84:  makeSyscallInfo("rmdir", Path),
	85:  makeSyscallInfo("creat", Path, Oct),
	86:  makeSyscallInfo("link", Path, Path),
	87:  makeSyscallInfo("unlink", Path),
	88:  makeSyscallInfo("symlink", Path, Path),
	89:  makeSyscallInfo("readlink", Path, ReadBuffer, Hex),
	90:  makeSyscallInfo("chmod", Path, Mode),
	91:  makeSyscallInfo("fchmod", FD, Mode),
	95:  makeSyscallInfo("umask", Oct),
	96:  makeSyscallInfo("gettimeofday", Hex, Hex),
	97:  makeSyscallInfo("getrlimit", Hex, Hex),
	98:  makeSyscallInfo("getrusage", Hex, Hex),
	99:  makeSyscallInfo("sysinfo", Hex),
	102: makeSyscallInfo("getuid"),
	104: makeSyscallInfo("getgid"),
	105: makeSyscallInfo("setuid", Hex),
	106: makeSyscallInfo("setgid", Hex),
	107: makeSyscallInfo("geteuid"),
	108: makeSyscallInfo("getegid"),
	109: makeSyscallInfo("setpgid", Hex, Hex),
	110: makeSyscallInfo("getppid"),
	111: makeSyscallInfo("getpgrp"),
	112: makeSyscallInfo("setsid"),
	121: makeSyscallInfo("getpgid", Hex),
	124: makeSyscallInfo("getsid", Hex),
	127: makeSyscallInfo("rt_sigpending", Hex),
	128: makeSyscallInfo("rt_sigtimedwait", SigSet, Hex, Timespec, Hex),
	129: makeSyscallInfo("rt_sigqueueinfo", Hex, Signal, Hex),
	130: makeSyscallInfo("rt_sigsuspend", Hex),
	131: makeSyscallInfo("sigaltstack", Hex, Hex),
	158: makeSyscallInfo("arch_prctl", Hex, Hex),
	160: makeSyscallInfo("setrlimit", Hex, Hex),
	186: makeSyscallInfo("gettid"),
	200: makeSyscallInfo("tkill", Hex, Signal),
	201: makeSyscallInfo("time", Hex),
	202: makeSyscallInfo("futex", Hex, FutexOp, Hex, Timespec, Hex, Hex),
	217: makeSyscallInfo("getdents64", FD, Hex, Hex),
	218: makeSyscallInfo("set_tid_address", Hex),
	228: makeSyscallInfo("clock_gettime", Hex, PostTimespec),
	229: makeSyscallInfo("clock_getres", Hex, PostTimespec),
	230: makeSyscallInfo("clock_nanosleep", Hex, Hex, Timespec, PostTimespec),
	231: makeSyscallInfo("exit_group", Hex),
	234: makeSyscallInfo("tgkill", Hex, Hex, Signal),
	247: makeSyscallInfo("waitid", Hex, Hex, Hex, Hex, Hex),
	257: makeSyscallInfo("openat", FD, Path, OpenFlags, Mode),
	258: makeSyscallInfo("mkdirat", FD, Path, Oct),
	262: makeSyscallInfo("newfstatat", FD, Path, Stat, Hex),
	263: makeSyscallInfo("unlinkat", FD, Path, Hex),
	264: makeSyscallInfo("renameat", FD, Path, Hex, Path),
	266: makeSyscallInfo("symlinkat", Path, FD, Path),
	267: makeSyscallInfo("readlinkat", FD, Path, ReadBuffer, Hex),
	269: makeSyscallInfo("faccessat", FD, Path, Oct, Hex),
	273: makeSyscallInfo("set_robust_list", Hex, Hex),
	293: makeSyscallInfo("pipe2", PipeFDs, Hex),
	295: makeSyscallInfo("preadv", FD, ReadIOVec, Hex, Hex),
	296: makeSyscallInfo("pwritev", FD, WriteIOVec, Hex, Hex),
	302: makeSyscallInfo("prlimit64", Hex, Hex, Hex, Hex),
	316: makeSyscallInfo("renameat2", FD, Path, Hex, Path, Hex),
	318: makeSyscallInfo("getrandom", Hex, Hex, Hex),
	322: makeSyscallInfo("execveat", FD, Path, ExecveStringVector, ExecveStringVector, Hex),
	334: makeSyscallInfo("rseq", Hex, Hex, Hex, Hex),
	435: makeSyscallInfo("clone3", Hex, Hex),
	439: makeSyscallInfo("faccessat2", FD, Path, Oct, Hex),
}
