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

// Package trap implements the request channel between guest runtimes and
// the daemon.
//
// Every message is a frame: a 12-byte little-endian header {magic, kind,
// length} followed by length bytes of payload. A connection carries one
// request at a time; each request frame is answered by exactly one response
// frame, which is either the kind's response or an error frame.
package trap

import (
	"errors"
	"fmt"
	"io"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/binary"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
)

// Magic starts every frame ("lacd" in little-endian byte order).
const Magic uint32 = 0x6463616c

const (
	headerSize = 12

	// MaxPayload bounds the payload of a single frame.
	MaxPayload = 1 << 20
)

var order = hostarch.ByteOrder

// Kind identifies the payload of a frame.
type Kind uint32

// Frame kinds. Responses have the high bit set.
const (
	KindSyscall Kind = 1
	KindSpawn   Kind = 2
	KindFault   Kind = 3
	KindResume  Kind = 4

	KindSyscallResponse Kind = 0x81
	KindSpawnResponse   Kind = 0x82
	KindError           Kind = 0xff
)

func (k Kind) String() string {
	switch k {
	case KindSyscall:
		return "syscall"
	case KindSpawn:
		return "spawn"
	case KindFault:
		return "fault"
	case KindResume:
		return "resume"
	case KindSyscallResponse:
		return "syscall-response"
	case KindSpawnResponse:
		return "spawn-response"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("Kind(%#x)", uint32(k))
	}
}

var (
	// ErrBadMagic is returned for a frame that does not start with Magic.
	ErrBadMagic = errors.New("bad frame magic")

	// ErrFrameTooLarge is returned for a frame longer than MaxPayload.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrShortPayload is returned when a payload is truncated.
	ErrShortPayload = errors.New("short payload")
)

type header struct {
	Magic  uint32
	Kind   Kind
	Length uint32
}

// writeFrame writes a single frame to w.
func writeFrame(w io.Writer, kind Kind, payload []byte) error {
	if len(payload) > MaxPayload {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 0, headerSize+len(payload))
	buf = binary.Marshal(buf, order, &header{Magic: Magic, Kind: kind, Length: uint32(len(payload))})
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// readFrame reads a single frame from r. It returns io.EOF only if r ends
// before the first header byte.
func readFrame(r io.Reader) (Kind, []byte, error) {
	var hb [headerSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return 0, nil, err
	}
	var h header
	binary.Unmarshal(hb[:], order, &h)
	if h.Magic != Magic {
		return 0, nil, ErrBadMagic
	}
	if h.Length > MaxPayload {
		return 0, nil, ErrFrameTooLarge
	}
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	return h.Kind, payload, nil
}

// Request flags.
const (
	// FlagRegsValid marks a syscall request or response that carries a
	// complete register file.
	FlagRegsValid uint32 = 1 << iota

	// FlagExited marks a response for a process that no longer runs.
	FlagExited

	// FlagSignal marks a response that resumes in a signal handler.
	FlagSignal
)

// syscallRequest is the payload of KindSyscall.
type syscallRequest struct {
	PID   int32
	Flags uint32
	Sysno uint64
	Args  [6]uint64
	Regs  arch.Registers
}

func encodeSyscallRequest(req *kernel.Request) []byte {
	w := syscallRequest{
		PID:   int32(req.PID),
		Sysno: uint64(req.Sysno),
		Regs:  req.Regs,
	}
	for i, a := range req.Args {
		w.Args[i] = uint64(a.Value)
	}
	if req.HaveRegs {
		w.Flags |= FlagRegsValid
	}
	return binary.Marshal(nil, order, &w)
}

func decodeSyscallRequest(payload []byte) (*kernel.Request, error) {
	var w syscallRequest
	if uintptr(len(payload)) != binary.Size(&w) {
		return nil, ErrShortPayload
	}
	binary.Unmarshal(payload, order, &w)
	req := &kernel.Request{
		PID:      kernel.ThreadID(w.PID),
		Sysno:    uintptr(w.Sysno),
		Regs:     w.Regs,
		HaveRegs: w.Flags&FlagRegsValid != 0,
	}
	for i, a := range w.Args {
		req.Args[i].Value = uintptr(a)
	}
	return req, nil
}

// responseHeader is the fixed part of KindSyscallResponse. The register
// file follows it if FlagRegsValid is set.
type responseHeader struct {
	Return     uint64
	Flags      uint32
	ExitStatus uint32
	Signal     int32
	_          uint32
	Handler    uint64
	Frame      uint64
}

func encodeResponse(resp *kernel.Response) []byte {
	h := responseHeader{
		Return:     uint64(resp.Return),
		ExitStatus: uint32(resp.ExitStatus),
	}
	if resp.Exited {
		h.Flags |= FlagExited
	} else {
		h.Flags |= FlagRegsValid
	}
	if r := resp.Signal; r != nil {
		h.Flags |= FlagSignal
		h.Signal = int32(r.Signal)
		h.Handler = uint64(r.Handler)
		h.Frame = uint64(r.Frame)
	}
	buf := binary.Marshal(nil, order, &h)
	if h.Flags&FlagRegsValid != 0 {
		buf = binary.Marshal(buf, order, &resp.Regs)
	}
	return buf
}

func decodeResponse(payload []byte) (*kernel.Response, error) {
	var h responseHeader
	n := int(binary.Size(&h))
	if len(payload) < n {
		return nil, ErrShortPayload
	}
	binary.Unmarshal(payload[:n], order, &h)
	resp := &kernel.Response{
		Return:     uintptr(h.Return),
		Exited:     h.Flags&FlagExited != 0,
		ExitStatus: linux.WaitStatus(h.ExitStatus),
	}
	if h.Flags&FlagSignal != 0 {
		resp.Signal = &kernel.Resumption{
			Signal:  linux.Signal(h.Signal),
			Handler: hostarch.Addr(h.Handler),
			Frame:   hostarch.Addr(h.Frame),
		}
	}
	rest := payload[n:]
	if h.Flags&FlagRegsValid != 0 {
		if len(rest) != arch.RegistersSize {
			return nil, ErrShortPayload
		}
		binary.Unmarshal(rest, order, &resp.Regs)
	} else if len(rest) != 0 {
		return nil, fmt.Errorf("%d trailing bytes in response", len(rest))
	}
	return resp, nil
}

// SpawnRequest asks the daemon to create a process.
type SpawnRequest struct {
	Filename         string
	Argv             []string
	Envv             []string
	WorkingDirectory string
}

func (r *SpawnRequest) encode() []byte {
	buf := binary.AppendString(nil, order, r.Filename)
	buf = binary.AppendStrings(buf, order, r.Argv)
	buf = binary.AppendStrings(buf, order, r.Envv)
	return binary.AppendString(buf, order, r.WorkingDirectory)
}

func decodeSpawnRequest(payload []byte) (*SpawnRequest, error) {
	d := binary.NewDecoder(payload, order)
	r := &SpawnRequest{
		Filename: d.String(),
		Argv:     d.Strings(),
		Envv:     d.Strings(),
	}
	r.WorkingDirectory = d.String()
	if err := d.Finish(); err == binary.ErrShortBuffer {
		return nil, ErrShortPayload
	} else if err != nil {
		return nil, err
	}
	return r, nil
}

// SpawnResponse is the result of a successful spawn: the new pid and the
// registers to start it with.
type SpawnResponse struct {
	PID  int32
	_    uint32
	Regs arch.Registers
}

// faultRequest is the payload of KindFault.
type faultRequest struct {
	PID   int32
	Signo int32
	Addr  uint64
}

// resumeRequest is the payload of KindResume: a process regained control
// outside a syscall, with the given registers.
type resumeRequest struct {
	PID  int32
	_    uint32
	Regs arch.Registers
}

// errorResponse is the fixed part of KindError. The error message follows.
type errorResponse struct {
	Errno uint32
}
