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
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/binary"
	lerrors "gvisor.dev/lacd/pkg/errors"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/log"
	"gvisor.dev/lacd/pkg/metric"
	"gvisor.dev/lacd/pkg/sentry/hosterr"
	"gvisor.dev/lacd/pkg/sentry/kernel"
)

var (
	connections = metric.MustCreateNewUint64Metric("/trap/connections", metric.Gauge, "Number of open trap connections.")
	requests    = metric.MustCreateNewUint64Metric("/trap/requests", metric.Counter, "Number of trap requests, by kind.",
		metric.NewField("kind", []string{"syscall", "spawn", "fault", "resume", "invalid"}))
)

// Server serves trap connections for a Kernel.
type Server struct {
	k *kernel.Kernel

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	stopped bool
}

// NewServer returns a Server dispatching to k.
func NewServer(k *kernel.Kernel) *Server {
	return &Server{
		k:     k,
		conns: make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections from ln until ctx is done or Stop is called,
// handling each on its own goroutine. It closes ln and returns after every
// connection has been closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		ln.Close()
		s.Stop()
		return nil
	})
	g.Go(func() error {
		defer cancel()
		for {
			c, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
			if !s.register(c) {
				c.Close()
				return nil
			}
			g.Go(func() error {
				defer s.unregister(c)
				s.Handle(c)
				return nil
			})
		}
	})
	return g.Wait()
}

// Stop closes all connections. Requests in progress complete, but their
// responses are lost.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for c := range s.conns {
		c.Close()
	}
}

func (s *Server) register(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.conns[c] = struct{}{}
	connections.Set(uint64(len(s.conns)))
	return true
}

func (s *Server) unregister(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
	connections.Set(uint64(len(s.conns)))
	c.Close()
}

// Handle serves requests from rw until it is closed or sends a malformed
// frame.
func (s *Server) Handle(rw io.ReadWriter) {
	for {
		kind, payload, err := readFrame(rw)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				log.Warningf("trap: dropping connection: %v", err)
			}
			return
		}
		respKind, resp := s.handleOne(kind, payload)
		if err := writeFrame(rw, respKind, resp); err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Warningf("trap: writing %v: %v", respKind, err)
			}
			return
		}
	}
}

// handleOne executes a single request and returns the response frame. A
// panic while handling the request is reported to the client as EIO.
func (s *Server) handleOne(kind Kind, payload []byte) (respKind Kind, resp []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Traceback("trap: panic handling %v request: %v", kind, r)
			respKind, resp = errorFrame(linuxerr.EIO, fmt.Errorf("internal error: %v", r))
		}
	}()
	switch kind {
	case KindSyscall:
		requests.Increment("syscall")
		req, err := decodeSyscallRequest(payload)
		if err != nil {
			return errorFrame(linuxerr.EINVAL, err)
		}
		resp, err := s.k.Dispatch(req)
		if err != nil {
			return errorFrame(linuxerr.ESRCH, err)
		}
		return KindSyscallResponse, encodeResponse(resp)

	case KindSpawn:
		requests.Increment("spawn")
		req, err := decodeSpawnRequest(payload)
		if err != nil {
			return errorFrame(linuxerr.EINVAL, err)
		}
		p, err := s.k.CreateProcess(kernel.CreateProcessArgs{
			Filename:         req.Filename,
			Argv:             req.Argv,
			Envv:             req.Envv,
			WorkingDirectory: req.WorkingDirectory,
		})
		if err != nil {
			return errorFrame(linuxerr.ENOEXEC, err)
		}
		resp := SpawnResponse{PID: int32(p.PID()), Regs: p.Arch().Regs}
		return KindSpawnResponse, binary.Marshal(nil, order, &resp)

	case KindFault:
		requests.Increment("fault")
		var f faultRequest
		if uintptr(len(payload)) != binary.Size(&f) {
			return errorFrame(linuxerr.EINVAL, ErrShortPayload)
		}
		binary.Unmarshal(payload, order, &f)
		resp, err := s.k.Fault(kernel.ThreadID(f.PID), linux.Signal(f.Signo), hostarch.Addr(f.Addr))
		if err != nil {
			return errorFrame(linuxerr.EINVAL, err)
		}
		return KindSyscallResponse, encodeResponse(resp)

	case KindResume:
		requests.Increment("resume")
		var r resumeRequest
		if uintptr(len(payload)) != binary.Size(&r) {
			return errorFrame(linuxerr.EINVAL, ErrShortPayload)
		}
		binary.Unmarshal(payload, order, &r)
		resp, err := s.k.Resume(kernel.ThreadID(r.PID), r.Regs)
		if err != nil {
			return errorFrame(linuxerr.ESRCH, err)
		}
		return KindSyscallResponse, encodeResponse(resp)

	default:
		requests.Increment("invalid")
		return errorFrame(linuxerr.EINVAL, errors.New("unknown request kind "+kind.String()))
	}
}

// errorFrame builds a KindError response for err. Guest errors keep their
// errno; other errors are reported with fallback.
func errorFrame(fallback *lerrors.Error, err error) (Kind, []byte) {
	e := fallback
	var le *lerrors.Error
	var he unix.Errno
	switch {
	case errors.As(err, &le):
		e = le
	case errors.As(err, &he):
		e = hosterr.FromHostErrno(he)
	}
	buf := binary.Marshal(nil, order, &errorResponse{Errno: uint32(e.Errno())})
	return KindError, append(buf, err.Error()...)
}
