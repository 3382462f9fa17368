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
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/go-reactor/reactor/log"
)

const defaultListenBacklog = 1024

// NewConnectionCallback is invoked on the acceptor Reactor's thread for
// every accepted connection.
type NewConnectionCallback func(sock *Socket, t time.Time)

// Acceptor owns the listening Socket and the idle fd used to recover from
// EMFILE without busy-looping. It must be driven entirely from its
// reactor's thread.
type Acceptor struct {
	addr      Address
	reusePort bool
	reactor   *Reactor
	socket    *Socket
	channel   *Channel
	idleFd    int
	onConn    NewConnectionCallback
}

// NewAcceptor constructs an Acceptor bound to the given reactor. listen
// must be called before it starts accepting.
func NewAcceptor(r *Reactor, addr Address, reusePort bool) *Acceptor {
	return &Acceptor{addr: addr, reusePort: reusePort, reactor: r, idleFd: -1}
}

// SetNewConnectionCallback registers the callback fired for each accepted
// connection.
func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) {
	a.onConn = cb
}

// LocalAddr returns the listening socket's bound address. Only valid after
// listen has run; in particular it reflects the real ephemeral port when
// the Acceptor was constructed with port 0.
func (a *Acceptor) LocalAddr() Address {
	if a.socket == nil {
		return a.addr
	}
	return a.socket.LocalAddr()
}

// listen binds and starts listening, opening the read-readiness channel
// on the acceptor reactor.
func (a *Acceptor) listen() error {
	sock, err := ListenSocket(a.addr, a.reusePort)
	if err != nil {
		return errors.Wrap(err, "acceptor: create listen socket")
	}
	if !a.reusePort {
		if err := sock.SetReuseAddr(true); err != nil {
			sock.Close()
			return err
		}
	}
	if a.reusePort {
		if err := sock.SetReusePort(true); err != nil {
			log.Errorf("acceptor: set reuseport: %v", err)
		}
	}
	if err := sock.Listen(defaultListenBacklog); err != nil {
		sock.Close()
		return err
	}
	a.socket = sock

	idleFd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		sock.Close()
		return errors.Wrap(os.NewSyscallError("open", err), "acceptor: open idle fd")
	}
	a.idleFd = idleFd

	a.channel = a.reactor.newChannel(sock.Fd())
	a.channel.SetCallback(Read, a.handleRead)
	a.channel.Open(Read)
	return nil
}

// handleRead loop-accepts until EAGAIN, recovering from EMFILE by the
// classic "close idle fd, accept, drop, reopen idle fd" trick so the
// acceptor never busy-spins when the process is out of file descriptors.
func (a *Acceptor) handleRead(t time.Time) {
	for {
		sock, err := a.socket.Accept()
		if err == nil {
			if a.onConn != nil {
				a.onConn(sock, t)
			}
			continue
		}
		switch err {
		case unix.EMFILE, unix.ENFILE:
			a.recoverFromFdExhaustion()
			return
		case unix.EINTR, unix.EAGAIN:
			return
		default:
			log.Errorf("acceptor: accept error: %v", err)
			return
		}
	}
}

func (a *Acceptor) recoverFromFdExhaustion() {
	if a.idleFd >= 0 {
		_ = unix.Close(a.idleFd)
	}
	fd, _, err := unix.Accept(a.socket.Fd())
	if err == nil {
		_ = unix.Close(fd)
	}
	idleFd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		log.Errorf("acceptor: reopen idle fd after EMFILE: %v", err)
		a.idleFd = -1
		return
	}
	a.idleFd = idleFd
}

// close tears down the listening socket and idle fd.
func (a *Acceptor) close() {
	if a.channel != nil {
		a.channel.Close()
	}
	if a.socket != nil {
		a.socket.Close()
	}
	if a.idleFd >= 0 {
		_ = unix.Close(a.idleFd)
		a.idleFd = -1
	}
}
