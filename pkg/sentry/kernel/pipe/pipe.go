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

// Package pipe provides a pipe implementation.
//
// The goal of this pipe is to emulate the pipe syscall in all of its
// edge cases and guarantees of atomic IO.
package pipe

import (
	"fmt"
	"sync"
	"sync/atomic"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/waiter"
)

const (
	// MinimumPipeSize is a hard limit of the minimum size of a pipe.
	// It corresponds to fs/pipe.c:pipe_min_size.
	MinimumPipeSize = hostarch.PageSize

	// MaximumPipeSize is a hard limit on the maximum size of a pipe.
	// It corresponds to fs/pipe.c:pipe_max_size.
	MaximumPipeSize = 1048576

	// DefaultPipeSize is the system-wide default size of a pipe in bytes.
	// It corresponds to pipe_fs_i.h:PIPE_DEF_BUFFERS.
	DefaultPipeSize = 16 * hostarch.PageSize

	// atomicIOBytes is the maximum number of bytes that the pipe will
	// guarantee atomic reads or writes atomically.
	// It corresponds to limits.h:PIPE_BUF.
	atomicIOBytes = linux.PIPE_BUF
)

// lastIno is the last inode number handed out to a pipe.
var lastIno atomic.Uint64

// Pipe is an encapsulation of a platform-independent pipe.
// It manages a buffered byte queue shared between a reader/writer
// pair.
type Pipe struct {
	// queue is the waiter queue.
	queue waiter.Queue

	// ino is the pipe's inode number. Immutable.
	ino uint64

	// mu protects all pipe internal state below.
	mu sync.Mutex

	// buf is a ring buffer holding the pipe's contents. len(buf) is the
	// pipe's capacity.
	buf []byte

	// off is the offset of the first unread byte in buf.
	off int

	// size is the number of unread bytes in buf.
	size int

	// The number of active readers for this pipe.
	readers int32

	// The number of active writes for this pipe.
	writers int32

	// This flag indicates if this pipe ever had a writer. Note that this
	// does not necessarily indicate there is *currently* a writer, just that
	// there has been a writer at some point since the pipe was created.
	hadWriter bool
}

// NewPipe returns an unconnected pipe with the given capacity, clamped to
// [MinimumPipeSize, MaximumPipeSize].
func NewPipe(sizeBytes int64) *Pipe {
	if sizeBytes < MinimumPipeSize {
		sizeBytes = MinimumPipeSize
	}
	if sizeBytes > MaximumPipeSize {
		sizeBytes = MaximumPipeSize
	}
	return &Pipe{
		ino: lastIno.Add(1),
		buf: make([]byte, sizeBytes),
	}
}

// read reads data from the pipe into dst and returns the number of bytes
// read, or returns ErrWouldBlock if the pipe is empty.
func (p *Pipe) read(dst []byte) (int, error) {
	p.mu.Lock()
	n, err := p.readLocked(dst)
	p.mu.Unlock()
	if n > 0 {
		p.queue.Notify(waiter.WritableEvents)
	}
	return n, err
}

// Preconditions: p.mu must be locked.
func (p *Pipe) readLocked(dst []byte) (int, error) {
	// Don't block for a zero-length read even if the pipe is empty.
	if len(dst) == 0 {
		return 0, nil
	}

	// If there is nothing to read at the moment but there is a writer, tell
	// the caller to block.
	if p.size == 0 {
		if !p.hadWriter || p.writers > 0 {
			return 0, linuxerr.ErrWouldBlock
		}
		// There are no writers, return EOF.
		return 0, nil
	}

	want := min(len(dst), p.size)
	n := 0
	for n < want {
		end := min(p.off+want-n, len(p.buf))
		c := copy(dst[n:], p.buf[p.off:end])
		n += c
		p.off = (p.off + c) % len(p.buf)
	}
	p.size -= n
	if p.size == 0 {
		p.off = 0
	}
	return n, nil
}

// write writes data from src into the pipe and returns the number of bytes
// written. If no bytes are written because the pipe is full (or has less
// than atomicIOBytes free capacity for a write of at most that size), write
// returns ErrWouldBlock. A partial write returns the count written together
// with ErrWouldBlock.
func (p *Pipe) write(src []byte) (int, error) {
	p.mu.Lock()
	n, err := p.writeLocked(src)
	p.mu.Unlock()
	if n > 0 {
		p.queue.Notify(waiter.ReadableEvents)
	}
	return n, err
}

// Preconditions: p.mu must be locked.
func (p *Pipe) writeLocked(src []byte) (int, error) {
	// Can't write to a pipe with no readers.
	if p.readers == 0 {
		return 0, linuxerr.EPIPE
	}
	if len(src) == 0 {
		return 0, nil
	}

	avail := len(p.buf) - p.size
	if avail == 0 {
		return 0, linuxerr.ErrWouldBlock
	}
	// POSIX requires that a write smaller than atomicIOBytes (PIPE_BUF) be
	// atomic, but requires no atomicity for writes larger than this.
	if len(src) <= atomicIOBytes && avail < len(src) {
		return 0, linuxerr.ErrWouldBlock
	}

	want := min(len(src), avail)
	n := 0
	for n < want {
		start := (p.off + p.size) % len(p.buf)
		end := min(start+want-n, len(p.buf))
		c := copy(p.buf[start:end], src[n:])
		n += c
		p.size += c
	}
	if n < len(src) {
		// Partial write due to full pipe.
		return n, linuxerr.ErrWouldBlock
	}
	return n, nil
}

// rOpen signals a new reader of the pipe.
func (p *Pipe) rOpen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readers++
}

// wOpen signals a new writer of the pipe.
func (p *Pipe) wOpen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hadWriter = true
	p.writers++
}

// rClose signals that a reader has closed their end of the pipe.
func (p *Pipe) rClose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readers--
	if p.readers < 0 {
		panic(fmt.Sprintf("Refcounting bug, pipe has negative readers: %v", p.readers))
	}
}

// wClose signals that a writer has closed their end of the pipe.
func (p *Pipe) wClose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writers--
	if p.writers < 0 {
		panic(fmt.Sprintf("Refcounting bug, pipe has negative writers: %v.", p.writers))
	}
}

// HasReaders returns whether the pipe has any active readers.
func (p *Pipe) HasReaders() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readers > 0
}

// HasWriters returns whether the pipe has any active writers.
func (p *Pipe) HasWriters() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writers > 0
}

// rReadinessLocked calculates the read readiness.
//
// Precondition: mu must be held.
func (p *Pipe) rReadinessLocked() waiter.EventMask {
	ready := waiter.EventMask(0)
	if p.readers > 0 && p.size > 0 {
		ready |= waiter.ReadableEvents
	}
	if p.writers == 0 && p.hadWriter {
		// POLLHUP must be suppressed until the pipe has had at least one
		// writer at some point. Otherwise a reader thread may poll and
		// immediately get a POLLHUP before the writer ever opens the pipe,
		// which the reader may interpret as the writer opening then closing
		// the pipe.
		ready |= waiter.EventHUp
	}
	return ready
}

// wReadinessLocked calculates the write readiness.
//
// Precondition: mu must be held.
func (p *Pipe) wReadinessLocked() waiter.EventMask {
	ready := waiter.EventMask(0)
	if p.writers > 0 && len(p.buf)-p.size >= atomicIOBytes {
		ready |= waiter.WritableEvents
	}
	if p.readers == 0 {
		ready |= waiter.EventErr
	}
	return ready
}

// rwReadiness returns a mask that states whether the pipe is ready for
// reading and writing, restricted to the ends the caller holds.
func (p *Pipe) rwReadiness(readable, writable bool) waiter.EventMask {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ready waiter.EventMask
	if readable {
		ready |= p.rReadinessLocked()
	}
	if writable {
		ready |= p.wReadinessLocked()
	}
	return ready
}

// queued returns the amount of queued data.
func (p *Pipe) queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// setSize resizes the pipe to size, rounded up to a page and clamped to
// [MinimumPipeSize, MaximumPipeSize]. It fails with EBUSY if more data is
// queued than would fit.
func (p *Pipe) setSize(size int64) (int64, error) {
	if size < 0 {
		return 0, linuxerr.EINVAL
	}
	if size < MinimumPipeSize {
		size = MinimumPipeSize
	}
	if size > MaximumPipeSize {
		return 0, linuxerr.EPERM
	}
	rounded, _ := hostarch.PageRoundUp(uint64(size))
	size = int64(rounded)

	p.mu.Lock()
	defer p.mu.Unlock()
	if size < int64(p.size) {
		return 0, linuxerr.EBUSY
	}
	buf := make([]byte, size)
	n := 0
	for n < p.size {
		end := min(p.off+p.size-n, len(p.buf))
		c := copy(buf[n:], p.buf[p.off:end])
		n += c
		p.off = (p.off + c) % len(p.buf)
	}
	p.buf = buf
	p.off = 0
	return size, nil
}

// capacity returns the pipe's capacity.
func (p *Pipe) capacity() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(len(p.buf))
}
