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

package trap

import (
	"fmt"
	"net"
	"sync"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/abi/linux/errno"
	"gvisor.dev/lacd/pkg/binary"
	lerrors "gvisor.dev/lacd/pkg/errors"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
)

// Client issues requests over a single trap connection. Requests are
// serialized.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

// NewClient returns a Client using conn.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn}
}

// Dial connects to the trap socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call sends one request and returns the response payload. Error frames
// are returned as *errors.Error values.
func (c *Client) call(kind, want Kind, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := writeFrame(c.conn, kind, payload); err != nil {
		return nil, err
	}
	got, resp, err := readFrame(c.conn)
	if err != nil {
		return nil, err
	}
	switch got {
	case want:
		return resp, nil
	case KindError:
		return nil, decodeError(resp)
	default:
		return nil, fmt.Errorf("unexpected %v frame in response to %v", got, kind)
	}
}

func decodeError(payload []byte) error {
	var h errorResponse
	n := int(binary.Size(&h))
	if len(payload) < n {
		return ErrShortPayload
	}
	binary.Unmarshal(payload[:n], order, &h)
	msg := string(payload[n:])
	if e, ok := linuxerr.Lookup(errno.Errno(h.Errno)); ok {
		if msg == "" || msg == e.Error() {
			return e
		}
		return &RemoteError{Err: e, Message: msg}
	}
	return fmt.Errorf("errno %d: %s", h.Errno, msg)
}

// RemoteError is a failed request whose message carries more detail than
// its errno.
type RemoteError struct {
	Err     *lerrors.Error
	Message string
}

// Error implements error.Error.
func (e *RemoteError) Error() string { return e.Message }

// Unwrap returns the errno.
func (e *RemoteError) Unwrap() error { return e.Err }

// Syscall forwards a trapped syscall.
func (c *Client) Syscall(req *kernel.Request) (*kernel.Response, error) {
	resp, err := c.call(KindSyscall, KindSyscallResponse, encodeSyscallRequest(req))
	if err != nil {
		return nil, err
	}
	return decodeResponse(resp)
}

// Spawn creates a process.
func (c *Client) Spawn(req *SpawnRequest) (*SpawnResponse, error) {
	payload, err := c.call(KindSpawn, KindSpawnResponse, req.encode())
	if err != nil {
		return nil, err
	}
	var resp SpawnResponse
	if uintptr(len(payload)) != binary.Size(&resp) {
		return nil, ErrShortPayload
	}
	binary.Unmarshal(payload, order, &resp)
	return &resp, nil
}

// Fault reports a hardware fault in process pid.
func (c *Client) Fault(pid kernel.ThreadID, sig linux.Signal, addr hostarch.Addr) (*kernel.Response, error) {
	f := faultRequest{PID: int32(pid), Signo: int32(sig), Addr: uint64(addr)}
	resp, err := c.call(KindFault, KindSyscallResponse, binary.Marshal(nil, order, &f))
	if err != nil {
		return nil, err
	}
	return decodeResponse(resp)
}

// Resume reports that process pid regained control outside a syscall, for
// example on a timer tick, so that pending signals are delivered before it
// runs further guest code.
func (c *Client) Resume(pid kernel.ThreadID, regs arch.Registers) (*kernel.Response, error) {
	r := resumeRequest{PID: int32(pid), Regs: regs}
	resp, err := c.call(KindResume, KindSyscallResponse, binary.Marshal(nil, order, &r))
	if err != nil {
		return nil, err
	}
	return decodeResponse(resp)
}
