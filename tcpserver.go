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

package reactor

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/go-reactor/reactor/internal/safejob"
	"github.com/go-reactor/reactor/log"
)

// TcpServer composes a ReactorPool, an Acceptor pinned to the pool's
// acceptor reactor, and the connection map, which is single-threaded on
// that same acceptor reactor for its entire life.
type TcpServer struct {
	opts options

	addr      Address
	pool      *ReactorPool
	acceptor  *Acceptor
	started   atomic.Bool
	shutdown  safejob.OnceJob
	connCount atomic.Int64

	connections map[string]*Connection

	connectCb       ConnectCallback
	messageCb       MessageCallback
	writeCompleteCb WriteCompleteCallback
	highWaterMarkCb HighWaterMarkCallback
}

// NewTcpServer constructs a server listening on addr with the given
// worker reactor count (0 means the acceptor reactor also serves
// connections).
func NewTcpServer(addr Address, workerCount int, opts ...Option) (*TcpServer, error) {
	o := options{}
	o.setDefault()
	for _, opt := range opts {
		opt.f(&o)
	}
	pool, err := NewReactorPool(workerCount, o.reactorInitHook)
	if err != nil {
		return nil, errors.Wrap(err, "tcpserver: start reactor pool")
	}
	s := &TcpServer{
		opts:        o,
		addr:        addr,
		pool:        pool,
		connections: make(map[string]*Connection),
	}
	s.acceptor = NewAcceptor(pool.AcceptorReactor(), addr, o.reusePort)
	return s, nil
}

// SetConnectCallback registers the server-wide connect/disconnect callback.
func (s *TcpServer) SetConnectCallback(cb ConnectCallback) { s.connectCb = cb }

// SetMessageCallback registers the server-wide message callback.
func (s *TcpServer) SetMessageCallback(cb MessageCallback) { s.messageCb = cb }

// SetWriteCompleteCallback registers the server-wide write-complete callback.
func (s *TcpServer) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	s.writeCompleteCb = cb
}

// SetHighWaterMarkCallback registers the server-wide backpressure callback.
func (s *TcpServer) SetHighWaterMarkCallback(cb HighWaterMarkCallback) {
	s.highWaterMarkCb = cb
}

// ConnectionCount returns the number of currently tracked connections.
func (s *TcpServer) ConnectionCount() int64 { return s.connCount.Load() }

// LocalAddr returns the address the server is listening on. Only
// meaningful once Run has returned successfully; before that it echoes
// back the address NewTcpServer was constructed with.
func (s *TcpServer) LocalAddr() Address { return s.acceptor.LocalAddr() }

// Run starts accepting connections. Idempotent: calling it a second time
// is a no-op.
func (s *TcpServer) Run() error {
	if !s.started.CAS(false, true) {
		return nil
	}
	s.acceptor.SetNewConnectionCallback(s.onNewConnection)
	var listenErr error
	done := make(chan struct{})
	s.pool.AcceptorReactor().Run(func() {
		listenErr = s.acceptor.listen()
		close(done)
	})
	<-done
	if listenErr != nil {
		s.started.Store(false)
		return errors.Wrap(listenErr, "tcpserver: listen")
	}
	return nil
}

// onNewConnection assigns a worker reactor, wires callbacks, inserts the
// connection into the map on the acceptor reactor, and posts open() onto
// the worker reactor. Runs on the acceptor reactor's thread.
func (s *TcpServer) onNewConnection(sock *Socket, t time.Time) {
	worker := s.pool.nextWorker()
	conn := NewConnection(worker.Reactor(), sock)
	conn.SetConnectCallback(s.connectCb)
	conn.SetMessageCallback(s.messageCb)
	conn.SetWriteCompleteCallback(s.writeCompleteCb)
	conn.SetHighWaterMarkCallback(s.highWaterMarkCb)
	if s.opts.readIdleTimeout > 0 {
		conn.SetReadIdleTimeout(s.opts.readIdleTimeout)
	}
	if s.opts.writeIdleTimeout > 0 {
		conn.SetWriteIdleTimeout(s.opts.writeIdleTimeout)
	}
	conn.SetCloseCallback(s.onConnectionClosed)

	s.connections[conn.ID()] = conn
	s.connCount.Inc()

	worker.Reactor().Run(conn.open)
}

// onConnectionClosed removes conn from the map. The Connection's own
// handleClose already ran on its worker reactor by the time this fires
// (it is the closeCb), but the map itself is only ever touched on the
// acceptor reactor, so the removal is posted there.
func (s *TcpServer) onConnectionClosed(conn *Connection) {
	s.pool.AcceptorReactor().Run(func() {
		delete(s.connections, conn.ID())
		s.connCount.Dec()
	})
}

// Shutdown closes every tracked connection and stops every reactor
// thread. Idempotent.
func (s *TcpServer) Shutdown() {
	if !s.shutdown.Begin() {
		return
	}
	done := make(chan struct{})
	s.pool.AcceptorReactor().Run(func() {
		for _, conn := range s.connections {
			conn.Close(0)
		}
		s.connections = make(map[string]*Connection)
		close(done)
	})
	<-done
	s.pool.Quit()
	log.Infof("tcpserver: shutdown complete for %s", s.addr)
}
