//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 Tencent.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

// Package buffer provides the contiguous read/write buffer used by a
// Connection to stage bytes between the kernel socket and user callbacks.
package buffer

import (
	"os"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/go-reactor/reactor/internal/iovec"
)

const (
	// prependSize is the reserved region at the front of the buffer that
	// allows a caller to cheaply prepend a fixed-size header (e.g. a length
	// prefix) without shifting the payload that already sits in the buffer.
	prependSize = 8
	// initialSize is the default payload capacity of a newly allocated buffer.
	initialSize = 1024
	// scratchSize is the size of the on-stack scratch segment used by ReadFd
	// when the buffer's own writable tail is too small to take a full read.
	scratchSize = 64 * 1024
)

var (
	// ErrNoEnoughData denotes that the buffer does not hold as many bytes as requested.
	ErrNoEnoughData = errors.New("buffer: not enough data")
	// ErrInvalidParam denotes that a negative or otherwise invalid length was requested.
	ErrInvalidParam = errors.New("buffer: invalid parameter")
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return &Buffer{}
	},
}

// Buffer is a contiguous byte buffer with a prepend region, modeled after
// muduo's Buffer: 0 <= prependIndex <= readIndex <= writeIndex <= len(buf).
// A single Buffer is owned by the Reactor goroutine driving the Connection
// it belongs to and is not safe for concurrent use.
type Buffer struct {
	buf        []byte
	readIndex  int
	writeIndex int
}

// New allocates a Buffer from the pool, ready for use.
func New() *Buffer {
	b := bufferPool.Get().(*Buffer)
	if b.buf == nil {
		b.buf = make([]byte, prependSize+initialSize)
	}
	b.readIndex = prependSize
	b.writeIndex = prependSize
	return b
}

// Free resets the buffer and returns it to the pool.
func Free(b *Buffer) {
	b.readIndex = prependSize
	b.writeIndex = prependSize
	bufferPool.Put(b)
}

// ReadableBytes returns the number of bytes available to read.
func (b *Buffer) ReadableBytes() int {
	return b.writeIndex - b.readIndex
}

// WritableBytes returns the number of bytes that can be appended before a grow is needed.
func (b *Buffer) WritableBytes() int {
	return len(b.buf) - b.writeIndex
}

// PrependableBytes returns the number of bytes currently free in the prepend region.
func (b *Buffer) PrependableBytes() int {
	return b.readIndex
}

// Peek returns the readable region without advancing the read index.
// The returned slice aliases the buffer's storage and is only valid until
// the next mutating call.
func (b *Buffer) Peek() []byte {
	return b.buf[b.readIndex:b.writeIndex]
}

// PeekN returns the next n readable bytes without advancing the read index.
func (b *Buffer) PeekN(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrInvalidParam
	}
	if b.ReadableBytes() < n {
		return nil, ErrNoEnoughData
	}
	return b.buf[b.readIndex : b.readIndex+n], nil
}

// Discard advances the read index by n bytes, reclaiming the space once the
// buffer becomes empty.
func (b *Buffer) Discard(n int) error {
	if n < 0 {
		return ErrInvalidParam
	}
	if n < b.ReadableBytes() {
		b.readIndex += n
		return nil
	}
	if n > b.ReadableBytes() {
		return ErrNoEnoughData
	}
	b.readIndex = prependSize
	b.writeIndex = prependSize
	return nil
}

// ReadN returns and discards the next n readable bytes. The returned slice
// is a copy and remains valid after further buffer mutation.
func (b *Buffer) ReadN(n int) ([]byte, error) {
	s, err := b.PeekN(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, s)
	_ = b.Discard(n)
	return out, nil
}

// ReadAll returns and discards every readable byte.
func (b *Buffer) ReadAll() []byte {
	out := make([]byte, b.ReadableBytes())
	copy(out, b.Peek())
	b.readIndex = prependSize
	b.writeIndex = prependSize
	return out
}

// Write appends p to the writable region, growing the buffer as needed.
func (b *Buffer) Write(p []byte) {
	b.ensureWritable(len(p))
	b.writeIndex += copy(b.buf[b.writeIndex:], p)
}

// Prepend writes p immediately before the current readable region. It
// panics if p is larger than PrependableBytes, mirroring the precondition
// muduo's Buffer::prepend documents: callers reserve the header size ahead
// of time.
func (b *Buffer) Prepend(p []byte) {
	if len(p) > b.PrependableBytes() {
		panic("buffer: prepend does not fit in prepend region")
	}
	b.readIndex -= len(p)
	copy(b.buf[b.readIndex:], p)
}

// ensureWritable grows the backing array, compacting the already-consumed
// prefix first, so that WritableBytes() >= n afterward.
func (b *Buffer) ensureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	if b.PrependableBytes()-prependSize+b.WritableBytes() >= n {
		// Enough room once we slide the readable region back to the start
		// of the payload area instead of growing.
		readable := b.ReadableBytes()
		copy(b.buf[prependSize:], b.buf[b.readIndex:b.writeIndex])
		b.readIndex = prependSize
		b.writeIndex = prependSize + readable
		return
	}
	newCap := len(b.buf) * 2
	for newCap < len(b.buf)+n {
		newCap *= 2
	}
	grown := make([]byte, newCap)
	readable := b.ReadableBytes()
	copy(grown[prependSize:], b.buf[b.readIndex:b.writeIndex])
	b.buf = grown
	b.readIndex = prependSize
	b.writeIndex = prependSize + readable
}

// Reader is the source ReadFd fills the buffer from; satisfied by a raw
// connected socket fd wrapper.
type Reader interface {
	Fd() int
}

// ReadFd fills the buffer with whatever is available on fd using a single
// readv(2) across two segments: the buffer's own writable tail, and a
// scratch array on the stack, so that one read can absorb more than the
// buffer currently has room for without an extra copy on the common path.
// It returns the number of bytes appended to the buffer and, separately,
// whether the socket reported EOF.
func (b *Buffer) ReadFd(r Reader) (int, bool, error) {
	var scratch [scratchSize]byte
	tailCap := len(b.buf) - b.writeIndex

	data := iovec.NewIOData(iovec.WithLength(2))
	segments := 0
	if tailCap > 0 {
		data.ByteVec[segments] = b.buf[b.writeIndex:]
		segments++
	}
	data.ByteVec[segments] = scratch[:]
	segments++
	data.SetIOVec(segments)
	defer data.Release(segments)

	n, err := readv(r.Fd(), data.IOVec)
	if err != nil {
		return 0, false, errors.Wrap(err, "buffer: readv")
	}
	if n == 0 {
		return 0, true, nil
	}
	if n <= tailCap {
		b.writeIndex += n
		return n, false, nil
	}
	b.writeIndex = len(b.buf)
	spill := n - tailCap
	b.Write(scratch[:spill])
	return n, false, nil
}

// readv issues a readv(2) syscall across the given iovec slice.
func readv(fd int, iovs []unix.Iovec) (int, error) {
	if len(iovs) == 0 {
		return 0, nil
	}
	n, _, errno := unix.Syscall(unix.SYS_READV, uintptr(fd), uintptr(unsafe.Pointer(&iovs[0])), uintptr(len(iovs)))
	if errno != 0 {
		return int(n), os.NewSyscallError("readv", errno)
	}
	return int(n), nil
}
