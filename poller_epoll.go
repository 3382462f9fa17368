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

//go:build linux && (amd64 || arm64 || riscv64 || loong64)
// +build linux
// +build amd64 arm64 riscv64 loong64

package reactor

import (
	"os"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/go-reactor/reactor/metrics"
)

// epollEvent mirrors struct epoll_event from <sys/epoll.h>. x/sys/unix's
// own EpollEvent only exposes a 32-bit Fd inside the data union, which is
// too small to carry a *Channel pointer on 64-bit platforms, so the raw
// layout is reproduced here the way the Go runtime's netpoll does.
type epollEvent struct {
	events uint32
	_      uint32 // padding to align the 8-byte data union
	data   unsafe.Pointer
}

const (
	readFlags  = unix.EPOLLIN | unix.EPOLLPRI | unix.EPOLLRDHUP
	writeFlags = unix.EPOLLOUT
	hupFlags   = unix.EPOLLHUP
	errFlags   = unix.EPOLLERR
	// EPOLLNVAL has no exported constant in x/sys/unix; its numeric value
	// is used directly, matching <sys/epoll.h>.
	nvalFlag          = 0x20
	defaultEventCount = 64
)

type epollPoller struct {
	epfd   int
	events []epollEvent
}

func newPoller() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(os.NewSyscallError("epoll_create1", err), "poller: create epoll")
	}
	return &epollPoller{
		epfd:   fd,
		events: make([]epollEvent, defaultEventCount),
	}, nil
}

func (p *epollPoller) poll(timeoutMs int) (time.Time, []activeEvent, error) {
	n, err := epollWait(p.epfd, p.events, timeoutMs)
	now := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return now, nil, nil
		}
		return now, nil, errors.Wrap(os.NewSyscallError("epoll_wait", err), "poller: wait")
	}
	if n == len(p.events) {
		p.events = make([]epollEvent, len(p.events)*2)
	}
	actives := make([]activeEvent, 0, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		ch := (*Channel)(ev.data)
		actives = append(actives, activeEvent{channel: ch, mask: epollToEventMask(ev.events)})
	}
	return now, actives, nil
}

func epollToEventMask(events uint32) EventMask {
	var m EventMask
	if events&readFlags != 0 {
		m |= Read
	}
	if events&writeFlags != 0 {
		m |= Write
	}
	if events&(hupFlags|nvalFlag) != 0 {
		m |= Close
	}
	if events&errFlags != 0 {
		m |= Err
	}
	return m
}

func eventMaskToEpoll(mask EventMask) uint32 {
	var e uint32
	if mask&Read != 0 {
		e |= readFlags
	}
	if mask&Write != 0 {
		e |= writeFlags
	}
	return e
}

func (p *epollPoller) updateChannel(ch *Channel) error {
	if ch.listenMask == None {
		if ch.state == Pending {
			return nil
		}
		if err := p.epollCtl(unix.EPOLL_CTL_DEL, ch, 0); err != nil {
			return err
		}
		ch.state = NotInLoop
		return nil
	}
	op := unix.EPOLL_CTL_MOD
	if ch.state == Pending {
		op = unix.EPOLL_CTL_ADD
	}
	if err := p.epollCtl(op, ch, eventMaskToEpoll(ch.listenMask)); err != nil {
		return err
	}
	ch.state = InLoop
	return nil
}

func (p *epollPoller) removeChannel(ch *Channel) error {
	if ch.state == Pending {
		return nil
	}
	if err := p.epollCtl(unix.EPOLL_CTL_DEL, ch, 0); err != nil {
		return err
	}
	ch.state = Pending
	return nil
}

func (p *epollPoller) epollCtl(op int, ch *Channel, events uint32) error {
	ev := epollEvent{events: events, data: unsafe.Pointer(ch)}
	_, _, errno := unix.RawSyscall6(unix.SYS_EPOLL_CTL,
		uintptr(p.epfd), uintptr(op), uintptr(ch.fd), uintptr(unsafe.Pointer(&ev)), 0, 0)
	if errno != 0 {
		return errors.Wrap(os.NewSyscallError("epoll_ctl", errno), "poller: control")
	}
	return nil
}

func (p *epollPoller) close() error {
	return os.NewSyscallError("close", unix.Close(p.epfd))
}

func epollWait(epfd int, events []epollEvent, msec int) (int, error) {
	var n uintptr
	var errno unix.Errno
	if len(events) == 0 {
		return 0, nil
	}
	if msec == 0 {
		n, _, errno = unix.RawSyscall6(unix.SYS_EPOLL_PWAIT,
			uintptr(epfd), uintptr(unsafe.Pointer(&events[0])), uintptr(len(events)), 0, 0, 0)
		metrics.Add(metrics.EpollNoWait, 1)
	} else {
		n, _, errno = unix.Syscall6(unix.SYS_EPOLL_PWAIT,
			uintptr(epfd), uintptr(unsafe.Pointer(&events[0])), uintptr(len(events)), uintptr(msec), 0, 0)
	}
	metrics.Add(metrics.EpollWait, 1)
	if errno != 0 {
		return 0, errno
	}
	metrics.Add(metrics.EpollEvents, uint64(n))
	return int(n), nil
}
