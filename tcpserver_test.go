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

package reactor_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	reactor "github.com/go-reactor/reactor"
	"github.com/go-reactor/reactor/internal/buffer"
)

func newRunningEchoServer(t *testing.T) *reactor.TcpServer {
	t.Helper()
	addr := reactor.NewAddress(net.ParseIP("127.0.0.1"), 0)
	srv, err := reactor.NewTcpServer(addr, 2)
	require.NoError(t, err)
	srv.SetMessageCallback(func(conn *reactor.Connection, buf *buffer.Buffer, t time.Time) {
		conn.Send(buf.ReadAll())
	})
	require.NoError(t, srv.Run())
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestTcpServerEchoRoundTrip(t *testing.T) {
	connected := make(chan struct{}, 1)
	closed := make(chan struct{}, 1)

	addr := reactor.NewAddress(net.ParseIP("127.0.0.1"), 0)
	srv, err := reactor.NewTcpServer(addr, 2)
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	srv.SetConnectCallback(func(conn *reactor.Connection, ok bool) {
		if ok {
			connected <- struct{}{}
		} else {
			closed <- struct{}{}
		}
	})
	srv.SetMessageCallback(func(conn *reactor.Connection, buf *buffer.Buffer, t time.Time) {
		conn.Send(buf.ReadAll())
	})
	require.NoError(t, srv.Run())

	client, err := net.DialTimeout("tcp", srv.LocalAddr().String(), time.Second)
	require.NoError(t, err)
	defer client.Close()

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("server never reported a connection")
	}

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 4)
	_, err = client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
	assert.EqualValues(t, 1, srv.ConnectionCount())

	client.Close()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("server never reported the connection closing")
	}
}

func TestTcpServerMultipleConnections(t *testing.T) {
	srv := newRunningEchoServer(t)

	const n = 5
	clients := make([]net.Conn, n)
	for i := range clients {
		c, err := net.DialTimeout("tcp", srv.LocalAddr().String(), time.Second)
		require.NoError(t, err)
		clients[i] = c
		defer c.Close()
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && srv.ConnectionCount() < n {
		time.Sleep(10 * time.Millisecond)
	}
	assert.EqualValues(t, n, srv.ConnectionCount())

	for i, c := range clients {
		msg := []byte{byte('a' + i)}
		_, err := c.Write(msg)
		require.NoError(t, err)
		require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))
		buf := make([]byte, 1)
		_, err = c.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, msg, buf)
	}
}

func TestTcpServerShutdownClosesConnections(t *testing.T) {
	addr := reactor.NewAddress(net.ParseIP("127.0.0.1"), 0)
	srv, err := reactor.NewTcpServer(addr, 1)
	require.NoError(t, err)
	require.NoError(t, srv.Run())

	client, err := net.DialTimeout("tcp", srv.LocalAddr().String(), time.Second)
	require.NoError(t, err)
	defer client.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && srv.ConnectionCount() < 1 {
		time.Sleep(10 * time.Millisecond)
	}

	srv.Shutdown()
	srv.Shutdown() // idempotent

	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 1)
	_, err = client.Read(buf)
	assert.Error(t, err)
}

func TestTcpServerReusePort(t *testing.T) {
	addr := reactor.NewAddress(net.ParseIP("127.0.0.1"), 0)
	srv, err := reactor.NewTcpServer(addr, 1, reactor.WithReusePort(true))
	require.NoError(t, err)
	defer srv.Shutdown()
	require.NoError(t, srv.Run())
	assert.NotEqual(t, 0, srv.LocalAddr().Port())
}
