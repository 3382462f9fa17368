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
	"errors"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/go-reactor/reactor/internal/buffer"
	"github.com/go-reactor/reactor/internal/safejob"
	"github.com/go-reactor/reactor/log"
	"github.com/go-reactor/reactor/metrics"
)

// ConnState is the Connection lifecycle state machine:
// Closed -> Connected -> Disconnected -> Closed.
type ConnState int32

const (
	StateClosed ConnState = iota
	StateConnected
	StateDisconnected
)

// defaultHighWaterMark matches spec.md's default outbound backpressure
// threshold.
const defaultHighWaterMark = 64 << 20

// ConnectCallback fires whenever a Connection transitions open or closed;
// connected reports which direction.
type ConnectCallback func(conn *Connection, connected bool)

// CloseCallback fires once a Connection has fully entered StateClosed.
type CloseCallback func(conn *Connection)

// MessageCallback fires when bytes are available in conn's inbound
// buffer. The callback is responsible for consuming what it wants from
// buf; unread bytes remain for the next call.
type MessageCallback func(conn *Connection, buf *buffer.Buffer, t time.Time)

// WriteCompleteCallback fires once every byte queued for send has left
// the Connection's outbound buffer.
type WriteCompleteCallback func(conn *Connection)

// HighWaterMarkCallback fires at most once per low-to-high crossing of
// the outbound buffer's high water mark.
type HighWaterMarkCallback func(conn *Connection, queuedBytes int)

// Connection is the user-facing handle for one bidirectional TCP stream.
// Every method that touches socket, channel, or buffer state must run on
// the owning worker Reactor's thread; cross-thread callers are routed
// through Reactor.Run/Post internally.
type Connection struct {
	id      string
	socket  *Socket
	channel *Channel
	reactor *Reactor

	inBuf  *buffer.Buffer
	outBuf *buffer.Buffer

	highWaterMark int
	hwmTripped    bool

	state atomic.Int32

	connectCb       ConnectCallback
	closeCb         CloseCallback
	messageCb       MessageCallback
	writeCompleteCb WriteCompleteCallback
	highWaterMarkCb HighWaterMarkCallback

	closeJob safejob.OnceJob

	readIdleTimeout  time.Duration
	writeIdleTimeout time.Duration
	readIdleTimer    TimerID
	writeIdleTimer   TimerID
	readSinceTick    bool
	writeSinceTick   bool
}

func connectionID(local, peer Address) string {
	return local.String() + "-" + peer.String()
}

// NewConnection constructs a Connection bound to sock and pinned to r.
// Call open() to actually register it and transition to Connected.
func NewConnection(r *Reactor, sock *Socket) *Connection {
	return &Connection{
		id:            connectionID(sock.LocalAddr(), sock.PeerAddr()),
		socket:        sock,
		reactor:       r,
		inBuf:         buffer.New(),
		outBuf:        buffer.New(),
		highWaterMark: defaultHighWaterMark,
	}
}

// ID returns "local-peer", the connection's stable identity.
func (c *Connection) ID() string { return c.id }

// LocalAddr returns the connection's local endpoint.
func (c *Connection) LocalAddr() Address { return c.socket.LocalAddr() }

// PeerAddr returns the connection's remote endpoint.
func (c *Connection) PeerAddr() Address { return c.socket.PeerAddr() }

// Reactor returns the worker Reactor this connection is pinned to.
func (c *Connection) Reactor() *Reactor { return c.reactor }

// State returns the current lifecycle state.
func (c *Connection) State() ConnState { return ConnState(c.state.Load()) }

// SetHighWaterMark overrides the default 64MiB outbound backpressure
// threshold. Must be called before open().
func (c *Connection) SetHighWaterMark(n int) { c.highWaterMark = n }

// SetConnectCallback registers the connect/disconnect callback.
func (c *Connection) SetConnectCallback(cb ConnectCallback) { c.connectCb = cb }

// SetCloseCallback registers the terminal close callback.
func (c *Connection) SetCloseCallback(cb CloseCallback) { c.closeCb = cb }

// SetMessageCallback registers the inbound data callback.
func (c *Connection) SetMessageCallback(cb MessageCallback) { c.messageCb = cb }

// SetWriteCompleteCallback registers the outbound drain callback.
func (c *Connection) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	c.writeCompleteCb = cb
}

// SetHighWaterMarkCallback registers the backpressure callback.
func (c *Connection) SetHighWaterMarkCallback(cb HighWaterMarkCallback) {
	c.highWaterMarkCb = cb
}

// SetTCPNoDelay toggles TCP_NODELAY on the underlying socket.
func (c *Connection) SetTCPNoDelay(b bool) error { return c.socket.SetTCPNoDelay(b) }

// SetKeepAlive toggles TCP keepalive on the underlying socket.
func (c *Connection) SetKeepAlive(b bool) error { return c.socket.SetKeepAlive(b) }

// SetReadIdleTimeout arms a repeating timer that closes the connection if
// no bytes are read within d. Zero disables it. Must be called before
// open().
func (c *Connection) SetReadIdleTimeout(d time.Duration) { c.readIdleTimeout = d }

// SetWriteIdleTimeout arms a repeating timer that closes the connection
// if no bytes are written within d. Zero disables it. Must be called
// before open().
func (c *Connection) SetWriteIdleTimeout(d time.Duration) { c.writeIdleTimeout = d }

// open installs the Channel, opens it for Read, transitions to Connected
// and fires connectCb(self, true). Requires Closed.
func (c *Connection) open() {
	if ConnState(c.state.Load()) != StateClosed {
		log.Errorf("connection %s: open called in state %v", c.id, c.state.Load())
		return
	}
	c.channel = c.reactor.newChannel(c.socket.Fd())
	c.channel.SetCallback(Read, c.handleRead)
	c.channel.SetCallback(Write, c.handleWrite)
	c.channel.SetCallback(Close, c.handleClose)
	c.channel.SetCallback(Err, c.handleError)
	c.channel.Open(Read)
	c.state.Store(int32(StateConnected))
	metrics.Add(metrics.ConnsCreate, 1)

	if c.readIdleTimeout > 0 {
		c.readIdleTimer = c.reactor.timerQueue.addAt(time.Now().Add(c.readIdleTimeout), c.readIdleTimeout, c.checkReadIdle)
	}
	if c.writeIdleTimeout > 0 {
		c.writeIdleTimer = c.reactor.timerQueue.addAt(time.Now().Add(c.writeIdleTimeout), c.writeIdleTimeout, c.checkWriteIdle)
	}

	if c.connectCb != nil {
		c.connectCb(c, true)
	}
}

func (c *Connection) checkReadIdle(time.Time) {
	if ConnState(c.state.Load()) != StateConnected {
		return
	}
	if !c.readSinceTick {
		log.Debugf("connection %s: read idle timeout exceeded", c.id)
		c.handleClose(time.Now())
		return
	}
	c.readSinceTick = false
}

func (c *Connection) checkWriteIdle(time.Time) {
	if ConnState(c.state.Load()) != StateConnected {
		return
	}
	if !c.writeSinceTick {
		log.Debugf("connection %s: write idle timeout exceeded", c.id)
		c.handleClose(time.Now())
		return
	}
	c.writeSinceTick = false
}

// Send queues data for the connection. Safe from any thread; cross-thread
// callers have their slice copied before handoff since the caller may
// reuse it immediately after return.
func (c *Connection) Send(data []byte) {
	if c.reactor.inLoopThread() {
		c.sendInLoop(data)
		return
	}
	cp := append([]byte(nil), data...)
	c.reactor.Run(func() { c.sendInLoop(cp) })
}

func (c *Connection) sendInLoop(data []byte) {
	if ConnState(c.state.Load()) != StateConnected {
		return
	}
	remaining := data
	if c.outBuf.ReadableBytes() == 0 && !c.channel.IsWriting() {
		n, err := unix.Write(c.socket.Fd(), data)
		if n > 0 {
			metrics.Add(metrics.ConnBytesWritten, uint64(n))
			c.writeSinceTick = true
		}
		if err != nil && !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
			c.handleErrorFrom(err)
			return
		}
		if n < 0 {
			n = 0
		}
		if n == len(data) {
			if c.writeCompleteCb != nil {
				c.writeCompleteCb(c)
			}
			return
		}
		remaining = data[n:]
	}
	c.outBuf.Write(remaining)
	c.channel.EnableWriting()
	if queued := c.outBuf.ReadableBytes(); queued >= c.highWaterMark {
		if !c.hwmTripped {
			c.hwmTripped = true
			metrics.Add(metrics.ConnHighWaterMarkHit, 1)
			if c.highWaterMarkCb != nil {
				c.highWaterMarkCb(c, queued)
			}
		}
	} else {
		c.hwmTripped = false
	}
}

func (c *Connection) handleRead(t time.Time) {
	n, eof, err := c.inBuf.ReadFd(c.socket)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return
		}
		c.handleErrorFrom(err)
		return
	}
	if eof {
		c.handleClose(t)
		return
	}
	if n > 0 {
		metrics.Add(metrics.ConnBytesRead, uint64(n))
		c.readSinceTick = true
		if c.messageCb != nil {
			c.messageCb(c, c.inBuf, t)
		}
	}
}

func (c *Connection) handleWrite(t time.Time) {
	if !c.channel.IsWriting() {
		return
	}
	n, err := unix.Write(c.socket.Fd(), c.outBuf.Peek())
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return
		}
		c.handleErrorFrom(err)
		return
	}
	if n <= 0 {
		return
	}
	metrics.Add(metrics.ConnBytesWritten, uint64(n))
	c.writeSinceTick = true
	_ = c.outBuf.Discard(n)
	if c.outBuf.ReadableBytes() < c.highWaterMark {
		c.hwmTripped = false
	}
	if c.outBuf.ReadableBytes() == 0 {
		c.channel.DisableWriting()
		if c.writeCompleteCb != nil {
			c.writeCompleteCb(c)
		}
		if ConnState(c.state.Load()) == StateDisconnected {
			_ = c.socket.Shutdown(ShutdownWr)
		}
	}
}

// handleClose transitions to Closed, disables all events and fires
// connectCb(self, false) then closeCb(self). Idempotent.
func (c *Connection) handleClose(t time.Time) {
	if !c.closeJob.Begin() {
		return
	}
	c.state.Store(int32(StateClosed))
	if c.channel != nil {
		c.channel.Close()
	}
	if c.readIdleTimeout > 0 {
		c.reactor.timerQueue.cancel(c.readIdleTimer)
	}
	if c.writeIdleTimeout > 0 {
		c.reactor.timerQueue.cancel(c.writeIdleTimer)
	}
	if c.connectCb != nil {
		c.connectCb(c, false)
	}
	if c.closeCb != nil {
		c.closeCb(c)
	}
	metrics.Add(metrics.ConnsClose, 1)
	buffer.Free(c.inBuf)
	buffer.Free(c.outBuf)
	_ = c.socket.Close()
}

func (c *Connection) handleError(t time.Time) {
	c.handleErrorFrom(errors.New("connection: socket error event"))
}

func (c *Connection) handleErrorFrom(err error) {
	log.Errorf("connection %s: %v", c.id, err)
	c.handleClose(time.Now())
}

// Shutdown half-closes the write side. If the outbound buffer is already
// empty, the shutdown happens immediately; otherwise handleWrite performs
// it once the buffer drains. Requires Connected.
func (c *Connection) Shutdown() {
	if !c.reactor.inLoopThread() {
		c.reactor.Run(c.shutdownInLoop)
		return
	}
	c.shutdownInLoop()
}

func (c *Connection) shutdownInLoop() {
	if ConnState(c.state.Load()) != StateConnected {
		return
	}
	if c.outBuf.ReadableBytes() == 0 {
		_ = c.socket.Shutdown(ShutdownWr)
		return
	}
	c.state.Store(int32(StateDisconnected))
}

// Close requests the connection be closed, after an optional delay.
func (c *Connection) Close(delay time.Duration) {
	if delay <= 0 {
		c.reactor.Run(func() { c.handleClose(time.Now()) })
		return
	}
	c.reactor.AddTimerAfter(delay, 0, c.handleClose)
}

// EnableRead re-enables Read on the connection's channel.
func (c *Connection) EnableRead() {
	c.reactor.Run(func() { c.channel.EnableReading() })
}

// DisableRead disables Read on the connection's channel.
func (c *Connection) DisableRead() {
	c.reactor.Run(func() { c.channel.DisableReading() })
}
