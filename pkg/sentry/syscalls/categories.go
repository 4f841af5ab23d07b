// Copyright 2023 The gVisor Authors.
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

package syscalls

import "gvisor.dev/lacd/pkg/sentry/kernel"

// categories lists syscalls by subsystem. Syscalls not listed are
// kernel.CategoryMisc.
var categories = map[kernel.Category][]string{
	kernel.CategoryFile: {
		"read", "write", "open", "close", "stat", "fstat", "lstat", "poll", "lseek",
		"ioctl", "pread64", "pwrite64", "readv", "writev", "access", "select",
		"dup", "dup2", "sendfile", "fcntl", "flock", "fsync", "fdatasync",
		"truncate", "ftruncate", "getdents", "getcwd", "chdir", "fchdir", "rename",
		"mkdir", "rmdir", "creat", "link", "unlink", "symlink", "readlink", "chmod",
		"fchmod", "chown", "fchown", "lchown", "umask", "mknod", "uselib",
		"statfs", "fstatfs", "sysfs", "chroot", "sync", "mount", "umount2",
		"readahead", "setxattr", "lsetxattr", "fsetxattr", "getxattr", "lgetxattr",
		"fgetxattr", "listxattr", "llistxattr", "flistxattr", "removexattr",
		"lremovexattr", "fremovexattr", "io_setup", "io_destroy", "io_getevents",
		"io_submit", "io_cancel", "lookup_dcookie", "epoll_create", "getdents64",
		"fadvise64", "epoll_wait", "epoll_ctl", "utimes", "inotify_init",
		"inotify_add_watch", "inotify_rm_watch", "openat", "mkdirat", "mknodat",
		"fchownat", "futimesat", "newfstatat", "unlinkat", "renameat", "linkat",
		"symlinkat", "readlinkat", "fchmodat", "faccessat", "pselect6", "ppoll",
		"splice", "tee", "sync_file_range", "vmsplice", "utimensat", "epoll_pwait",
		"eventfd", "fallocate", "eventfd2", "epoll_create1", "dup3", "inotify_init1",
		"preadv", "pwritev", "fanotify_init", "fanotify_mark", "name_to_handle_at",
		"open_by_handle_at", "syncfs", "renameat2", "memfd_create", "copy_file_range",
		"preadv2", "pwritev2", "statx", "io_pgetevents", "io_uring_setup",
		"io_uring_enter", "io_uring_register", "open_tree", "move_mount", "fsopen",
		"fsconfig", "fsmount", "fspick", "openat2", "close_range", "faccessat2",
		"epoll_pwait2", "mount_setattr", "quotactl_fd", "landlock_create_ruleset",
		"landlock_add_rule", "landlock_restrict_self", "utime", "quotactl",
		"pivot_root", "ustat", "timerfd_create", "timerfd_settime",
		"timerfd_gettime", "signalfd", "signalfd4", "pipe", "pipe2",
	},
	kernel.CategoryMemory: {
		"mmap", "mprotect", "munmap", "brk", "mremap", "msync", "mincore", "madvise",
		"mlock", "munlock", "mlockall", "munlockall", "remap_file_pages", "mbind",
		"set_mempolicy", "get_mempolicy", "migrate_pages", "move_pages", "mlock2",
		"pkey_mprotect", "pkey_alloc", "pkey_free", "membarrier", "process_madvise",
		"memfd_secret", "process_mrelease", "process_vm_readv", "process_vm_writev",
	},
	kernel.CategoryProcess: {
		"clone", "fork", "vfork", "execve", "exit", "wait4", "exit_group", "waitid",
		"getpid", "getppid", "gettid", "set_tid_address", "setpgid", "getpgrp",
		"setsid", "getpgid", "getsid", "prctl", "arch_prctl", "ptrace",
		"sched_yield", "sched_setparam", "sched_getparam", "sched_setscheduler",
		"sched_getscheduler", "sched_get_priority_max", "sched_get_priority_min",
		"sched_rr_get_interval", "sched_setaffinity", "sched_getaffinity",
		"sched_setattr", "sched_getattr", "getpriority", "setpriority",
		"getrlimit", "setrlimit", "prlimit64", "getrusage", "times", "unshare",
		"setns", "set_robust_list", "get_robust_list", "execveat", "getcpu",
		"futex", "futex_waitv", "kcmp", "seccomp", "rseq", "clone3",
		"pidfd_open", "pidfd_send_signal", "pidfd_getfd", "personality",
		"ioprio_set", "ioprio_get", "acct", "vhangup", "modify_ldt", "iopl", "ioperm",
	},
	kernel.CategorySignal: {
		"rt_sigaction", "rt_sigprocmask", "rt_sigreturn", "pause", "kill", "tkill",
		"tgkill", "rt_sigpending", "rt_sigtimedwait", "rt_sigqueueinfo",
		"rt_sigsuspend", "sigaltstack", "rt_tgsigqueueinfo", "restart_syscall",
	},
	kernel.CategoryIPC: {
		"shmget", "shmat", "shmctl", "shmdt", "semget", "semop", "semctl",
		"semtimedop", "msgget", "msgsnd", "msgrcv", "msgctl", "mq_open",
		"mq_unlink", "mq_timedsend", "mq_timedreceive", "mq_notify", "mq_getsetattr",
	},
	kernel.CategoryTime: {
		"nanosleep", "getitimer", "alarm", "setitimer", "gettimeofday",
		"settimeofday", "adjtimex", "time", "timer_create", "timer_settime",
		"timer_gettime", "timer_getoverrun", "timer_delete", "clock_settime",
		"clock_gettime", "clock_getres", "clock_nanosleep", "clock_adjtime",
	},
	kernel.CategoryIdentity: {
		"getuid", "getgid", "setuid", "setgid", "geteuid", "getegid", "setreuid",
		"setregid", "getgroups", "setgroups", "setresuid", "getresuid", "setresgid",
		"getresgid", "setfsuid", "setfsgid", "capget", "capset", "uname",
		"sethostname", "setdomainname", "sysinfo", "syslog", "getrandom",
		"add_key", "request_key", "keyctl",
	},
	kernel.CategoryNetwork: {
		"socket", "connect", "accept", "sendto", "recvfrom", "sendmsg", "recvmsg",
		"shutdown", "bind", "listen", "getsockname", "getpeername", "socketpair",
		"setsockopt", "getsockopt", "accept4", "recvmmsg", "sendmmsg",
	},
}

var categoryByName = func() map[string]kernel.Category {
	m := make(map[string]kernel.Category)
	for c, names := range categories {
		for _, name := range names {
			m[name] = c
		}
	}
	return m
}()

// CategoryOf returns the subsystem of the named syscall.
func CategoryOf(name string) kernel.Category {
	return categoryByName[name]
}
