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

//go:build !linux || (linux && !(amd64 || arm64 || riscv64 || loong64))
// +build !linux linux,!amd64,!arm64,!riscv64,!loong64

package reactor

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const pollReadFlags = unix.POLLIN | unix.POLLPRI
const pollWriteFlags = unix.POLLOUT
const pollCloseFlags = unix.POLLHUP | unix.POLLNVAL
const pollErrFlags = unix.POLLERR

// pollPoller implements Poller on top of poll(2). It is the fallback used
// on platforms without the Linux epoll backend.
type pollPoller struct {
	fds      []unix.PollFd
	channels map[int]*Channel
}

func newPoller() (Poller, error) {
	return &pollPoller{channels: make(map[int]*Channel)}, nil
}

func (p *pollPoller) poll(timeoutMs int) (time.Time, []activeEvent, error) {
	n, err := unix.Poll(p.fds, timeoutMs)
	now := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return now, nil, nil
		}
		return now, nil, errors.Wrap(os.NewSyscallError("poll", err), "poller: wait")
	}
	if n == 0 {
		return now, nil, nil
	}
	actives := make([]activeEvent, 0, n)
	for _, pfd := range p.fds {
		if pfd.Revents == 0 {
			continue
		}
		ch, ok := p.channels[int(pfd.Fd)]
		if !ok {
			continue
		}
		actives = append(actives, activeEvent{channel: ch, mask: pollToEventMask(pfd.Revents)})
	}
	return now, actives, nil
}

func pollToEventMask(revents int16) EventMask {
	var m EventMask
	if revents&pollReadFlags != 0 {
		m |= Read
	}
	if revents&pollWriteFlags != 0 {
		m |= Write
	}
	if revents&pollCloseFlags != 0 {
		m |= Close
	}
	if revents&pollErrFlags != 0 {
		m |= Err
	}
	return m
}

func eventMaskToPoll(mask EventMask) int16 {
	var e int16
	if mask&Read != 0 {
		e |= pollReadFlags
	}
	if mask&Write != 0 {
		e |= pollWriteFlags
	}
	return e
}

// updateChannel registers or modifies ch's interest set. A listenMask of
// None demotes an already-registered channel to NotInLoop (Events=0) but
// keeps its pollfd slot, matching the epoll backend's DEL-vs-full-removal
// distinction: only removeChannel erases the index entry outright.
func (p *pollPoller) updateChannel(ch *Channel) error {
	for i := range p.fds {
		if int(p.fds[i].Fd) == ch.fd {
			p.fds[i].Events = eventMaskToPoll(ch.listenMask)
			if ch.listenMask == None {
				ch.state = NotInLoop
			} else {
				ch.state = InLoop
			}
			return nil
		}
	}
	p.fds = append(p.fds, unix.PollFd{Fd: int32(ch.fd), Events: eventMaskToPoll(ch.listenMask)})
	p.channels[ch.fd] = ch
	if ch.listenMask == None {
		ch.state = NotInLoop
	} else {
		ch.state = InLoop
	}
	return nil
}

func (p *pollPoller) removeChannel(ch *Channel) error {
	for i := range p.fds {
		if int(p.fds[i].Fd) == ch.fd {
			p.fds = append(p.fds[:i], p.fds[i+1:]...)
			break
		}
	}
	delete(p.channels, ch.fd)
	ch.state = Pending
	return nil
}

func (p *pollPoller) close() error {
	return nil
}
