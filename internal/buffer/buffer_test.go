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

package buffer_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-reactor/reactor/internal/buffer"
)

func TestWriteAndPeek(t *testing.T) {
	b := buffer.New()
	defer buffer.Free(b)

	assert.Equal(t, 0, b.ReadableBytes())
	b.Write([]byte("hello"))
	assert.Equal(t, 5, b.ReadableBytes())
	assert.Equal(t, []byte("hello"), b.Peek())
	// Peek does not advance the read index.
	assert.Equal(t, []byte("hello"), b.Peek())
}

func TestDiscardAndReadAll(t *testing.T) {
	b := buffer.New()
	defer buffer.Free(b)

	b.Write([]byte("hello world"))
	require.NoError(t, b.Discard(6))
	assert.Equal(t, []byte("world"), b.Peek())

	all := b.ReadAll()
	assert.Equal(t, []byte("world"), all)
	assert.Equal(t, 0, b.ReadableBytes())
}

func TestReadNNotEnoughData(t *testing.T) {
	b := buffer.New()
	defer buffer.Free(b)

	b.Write([]byte("ab"))
	_, err := b.ReadN(3)
	assert.ErrorIs(t, err, buffer.ErrNoEnoughData)

	got, err := b.ReadN(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), got)
	assert.Equal(t, 0, b.ReadableBytes())
}

func TestDiscardInvalidParam(t *testing.T) {
	b := buffer.New()
	defer buffer.Free(b)
	assert.ErrorIs(t, b.Discard(-1), buffer.ErrInvalidParam)
}

func TestPrepend(t *testing.T) {
	b := buffer.New()
	defer buffer.Free(b)

	b.Write([]byte("world"))
	b.Prepend([]byte("hi-"))
	assert.Equal(t, []byte("hi-world"), b.Peek())
}

func TestGrowBeyondInitialCapacity(t *testing.T) {
	b := buffer.New()
	defer buffer.Free(b)

	payload := make([]byte, 8192)
	for i := range payload {
		payload[i] = byte(i)
	}
	b.Write(payload)
	assert.Equal(t, len(payload), b.ReadableBytes())
	assert.Equal(t, payload, b.Peek())
}

// connReader adapts a raw fd to buffer.Reader for ReadFd.
type connReader struct {
	fd int
}

func (c connReader) Fd() int { return c.fd }

func TestReadFdFromLoopbackSocket(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	payload := []byte("the quick brown fox jumps over the lazy dog")
	go func() {
		conn, dialErr := net.Dial("tcp", ln.Addr().String())
		if dialErr != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write(payload)
	}()

	serverConn, err := ln.Accept()
	require.NoError(t, err)
	defer serverConn.Close()

	tcpConn, ok := serverConn.(*net.TCPConn)
	require.True(t, ok)
	rawConn, err := tcpConn.SyscallConn()
	require.NoError(t, err)

	b := buffer.New()
	defer buffer.Free(b)

	var n int
	var eof bool
	var readErr error
	err = rawConn.Read(func(fd uintptr) bool {
		n, eof, readErr = b.ReadFd(connReader{fd: int(fd)})
		return true
	})
	require.NoError(t, err)
	require.NoError(t, readErr)
	assert.False(t, eof)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, b.Peek())
}
