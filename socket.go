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
	"net"
	"os"

	reuseport "github.com/kavu/go_reuseport"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/go-reactor/reactor/internal/netutil"
)

// ShutdownHow selects which half of a duplex stream to shut down.
type ShutdownHow int

const (
	ShutdownRd ShutdownHow = iota
	ShutdownWr
	ShutdownRdWr
)

const defaultKeepAliveSecs = 15

// Socket wraps one OS socket fd. It owns the fd: Close is idempotent and
// safe to call from any thread, but every other method must only be
// called from the Reactor thread that currently owns the Socket.
type Socket struct {
	fd     int
	local  Address
	peer   Address
	closed atomic.Bool
}

func newSocket(fd int, local, peer Address) *Socket {
	return &Socket{fd: fd, local: local, peer: peer}
}

// ListenSocket creates, binds and listens a TCP socket on addr. When
// reusePort is requested, go_reuseport.Listen is used to obtain the fd so
// this path exercises the library the way SPEC_FULL's domain stack
// prescribes, rather than raw setsockopt(SO_REUSEPORT).
func ListenSocket(addr Address, reusePort bool) (*Socket, error) {
	if reusePort {
		return listenSocketReuseport(addr)
	}
	return listenSocketRaw(addr)
}

func listenSocketReuseport(addr Address) (*Socket, error) {
	ln, err := reuseport.Listen("tcp", addr.String())
	if err != nil {
		return nil, errors.Wrap(err, "socket: reuseport listen")
	}
	fd, err := netutil.GetFD(ln)
	if err != nil {
		_ = ln.Close()
		return nil, errors.Wrap(err, "socket: reuseport get fd")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, errors.Wrap(os.NewSyscallError("setnonblock", err), "socket: reuseport nonblock")
	}
	local := addr
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		local = NewAddress(tcpAddr.IP, tcpAddr.Port)
	}
	sock := newSocket(fd, local, Address{})
	return sock, nil
}

func listenSocketRaw(addr Address) (*Socket, error) {
	domain := unix.AF_INET
	if addr.Family() == FamilyIPv6 {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(os.NewSyscallError("socket", err), "socket: create")
	}
	sock := newSocket(fd, addr, Address{})
	if err := sock.SetReuseAddr(true); err != nil {
		sock.Close()
		return nil, err
	}
	sa, err := addr.toSockaddr()
	if err != nil {
		sock.Close()
		return nil, errors.Wrap(err, "socket: resolve bind address")
	}
	if err := unix.Bind(fd, sa); err != nil {
		sock.Close()
		return nil, errors.Wrap(os.NewSyscallError("bind", err), "socket: bind")
	}
	if bound, err := unix.Getsockname(fd); err == nil {
		sock.local = sockaddrToAddress(bound)
	}
	return sock, nil
}

// Listen marks the socket as a listening socket with the given backlog.
func (s *Socket) Listen(backlog int) error {
	if err := unix.Listen(s.fd, backlog); err != nil {
		return errors.Wrap(os.NewSyscallError("listen", err), "socket: listen")
	}
	return nil
}

// Fd returns the underlying file descriptor.
func (s *Socket) Fd() int { return s.fd }

// LocalAddr returns the socket's local endpoint.
func (s *Socket) LocalAddr() Address { return s.local }

// PeerAddr returns the socket's remote endpoint, valid only once connected.
func (s *Socket) PeerAddr() Address { return s.peer }

// Accept accepts one pending connection, propagating CLOEXEC and
// non-blocking to the new fd via netutil.Accept (accept4-based).
func (s *Socket) Accept() (*Socket, error) {
	fd, sa, err := netutil.Accept(s.fd)
	if err != nil {
		return nil, err
	}
	return newSocket(fd, s.local, sockaddrToAddress(sa)), nil
}

// Connect issues a non-blocking connect(2) to peer. The caller must poll
// for writability to learn completion, per the non-blocking socket model
// this runtime uses throughout.
func (s *Socket) Connect(peer Address) error {
	sa, err := peer.toSockaddr()
	if err != nil {
		return errors.Wrap(err, "socket: resolve connect address")
	}
	s.peer = peer
	if err := unix.Connect(s.fd, sa); err != nil && err != unix.EINPROGRESS {
		return errors.Wrap(os.NewSyscallError("connect", err), "socket: connect")
	}
	return nil
}

// Shutdown shuts down one or both halves of the duplex stream.
func (s *Socket) Shutdown(how ShutdownHow) error {
	var sysHow int
	switch how {
	case ShutdownRd:
		sysHow = unix.SHUT_RD
	case ShutdownWr:
		sysHow = unix.SHUT_WR
	default:
		sysHow = unix.SHUT_RDWR
	}
	if err := unix.Shutdown(s.fd, sysHow); err != nil {
		return errors.Wrap(os.NewSyscallError("shutdown", err), "socket: shutdown")
	}
	return nil
}

// SetReuseAddr toggles SO_REUSEADDR.
func (s *Socket) SetReuseAddr(b bool) error {
	return setsockoptBool(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, b, "SO_REUSEADDR")
}

// SetReusePort toggles SO_REUSEPORT.
func (s *Socket) SetReusePort(b bool) error {
	return setsockoptBool(s.fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, b, "SO_REUSEPORT")
}

// SetTCPNoDelay toggles TCP_NODELAY.
func (s *Socket) SetTCPNoDelay(b bool) error {
	return setsockoptBool(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, b, "TCP_NODELAY")
}

// SetKeepAlive enables TCP keepalive with the default probe interval when
// b is true, and disables it otherwise.
func (s *Socket) SetKeepAlive(b bool) error {
	if !b {
		return setsockoptBool(s.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, false, "SO_KEEPALIVE")
	}
	if err := netutil.SetKeepAlive(s.fd, defaultKeepAliveSecs); err != nil {
		return errors.Wrap(err, "socket: set keepalive")
	}
	return nil
}

// SetNonBlocking toggles O_NONBLOCK.
func (s *Socket) SetNonBlocking(b bool) error {
	if err := unix.SetNonblock(s.fd, b); err != nil {
		return errors.Wrap(os.NewSyscallError("setnonblock", err), "socket: set nonblocking")
	}
	return nil
}

// SetCloseOnExec toggles FD_CLOEXEC.
func (s *Socket) SetCloseOnExec(b bool) error {
	flag := 0
	if b {
		flag = unix.FD_CLOEXEC
	}
	if _, err := unix.FcntlInt(uintptr(s.fd), unix.F_SETFD, flag); err != nil {
		return errors.Wrap(os.NewSyscallError("fcntl", err), "socket: set close-on-exec")
	}
	return nil
}

// Close releases the fd. Safe to call more than once and from any thread.
func (s *Socket) Close() error {
	if !s.closed.CAS(false, true) {
		return nil
	}
	return os.NewSyscallError("close", unix.Close(s.fd))
}

func setsockoptBool(fd, level, opt int, b bool, name string) error {
	v := 0
	if b {
		v = 1
	}
	if err := unix.SetsockoptInt(fd, level, opt, v); err != nil {
		return errors.Wrap(os.NewSyscallError("setsockopt", err), "socket: set "+name)
	}
	return nil
}
