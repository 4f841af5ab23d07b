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

package linux

import (
	"testing"
)

type sized interface {
	SizeBytes() int
	MarshalBytes([]byte) []byte
}

func TestLayoutSizes(t *testing.T) {
	for _, tc := range []struct {
		name string
		v    sized
		want int
	}{
		{"stat", &Stat{}, 144},
		{"sigaction", &SignalAct{}, 32},
		{"stack_t", &SignalStack{}, 24},
		{"siginfo", &SignalInfo{}, 128},
		{"timespec", &Timespec{}, 16},
		{"timeval", &Timeval{}, 16},
		{"utsname", &UtsName{}, 390},
		{"sysinfo", &Sysinfo{}, 112},
		{"rlimit", &Rlimit{}, 16},
		{"rusage", &Rusage{}, 144},
		{"sembuf", &Sembuf{}, 6},
		{"semid64_ds", &SemidDS{}, 88},
		{"msqid64_ds", &MsqidDS{}, 120},
		{"shmid64_ds", &ShmidDS{}, 112},
		{"futex_waitv", &FutexWaitv{}, 24},
	} {
		if got := tc.v.SizeBytes(); got != tc.want {
			t.Errorf("%s: SizeBytes() got %d, want %d", tc.name, got, tc.want)
		}
		buf := make([]byte, tc.want)
		if rest := tc.v.MarshalBytes(buf); len(rest) != 0 {
			t.Errorf("%s: MarshalBytes left %d bytes", tc.name, len(rest))
		}
	}
}

func TestStatFieldOffsets(t *testing.T) {
	s := Stat{Mode: S_IFREG | 0644, Size: 0x1122, MTime: Timespec{Sec: 7}}
	buf := make([]byte, SizeOfStat)
	s.MarshalBytes(buf)
	if got := buf[24]; got != 0xa4 {
		t.Errorf("st_mode low byte got %#x, want 0xa4", got)
	}
	if got := buf[48]; got != 0x22 {
		t.Errorf("st_size low byte got %#x, want 0x22", got)
	}
	if got := buf[88]; got != 7 {
		t.Errorf("st_mtime got %d, want 7", got)
	}
}

func TestWaitStatus(t *testing.T) {
	ws := WaitStatusExit(7)
	if !ws.Exited() || ws.ExitStatus() != 7 || ws.Signaled() {
		t.Errorf("WaitStatusExit(7) = %#x decoded wrongly", uint32(ws))
	}
	ws = WaitStatusTerminationSignal(SIGKILL)
	if ws.Exited() || !ws.Signaled() || ws.TerminationSignal() != SIGKILL {
		t.Errorf("WaitStatusTerminationSignal(SIGKILL) = %#x decoded wrongly", uint32(ws))
	}
}

func TestSignalSet(t *testing.T) {
	set := MakeSignalSet(SIGUSR2, SIGHUP, Signal(40))
	var got []Signal
	ForEachSignal(set, func(s Signal) { got = append(got, s) })
	want := []Signal{SIGHUP, SIGUSR2, Signal(40)}
	if len(got) != len(want) {
		t.Fatalf("ForEachSignal got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ForEachSignal[%d] got %v, want %v", i, got[i], want[i])
		}
	}
	if set.Lowest() != SIGHUP {
		t.Errorf("Lowest() got %v, want SIGHUP", set.Lowest())
	}
	if Signal(34).String() != "SIGRT2" {
		t.Errorf("Signal(34).String() got %q", Signal(34).String())
	}
}

func TestDirent64(t *testing.T) {
	d := Dirent64{Ino: 3, Off: 1, Type: DT_REG, Name: "hello"}
	if got, want := d.RecLen(), 32; got != want {
		t.Errorf("RecLen() got %d, want %d", got, want)
	}
	buf := make([]byte, d.RecLen())
	d.MarshalBytes(buf)
	var back Dirent64
	back.UnmarshalBytes(buf)
	if back != d {
		t.Errorf("UnmarshalBytes got %+v, want %+v", back, d)
	}
}
