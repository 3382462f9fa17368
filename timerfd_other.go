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

//go:build !linux
// +build !linux

package reactor

import (
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// timerFdEmu emulates a Linux timerfd with a self-pipe and a time.Timer:
// arming schedules a goroutine that writes one byte to the pipe's write
// end when the duration elapses, waking up whichever Poller is watching
// the read end exactly like a real timerfd would.
type timerFdEmu struct {
	mu       sync.Mutex
	readFd   int
	writeFd  int
	timer    *time.Timer
}

var timerFdRegistry sync.Map // read fd -> *timerFdEmu

func newTimerFd() (int, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return -1, os.NewSyscallError("pipe2", err)
	}
	emu := &timerFdEmu{readFd: p[0], writeFd: p[1]}
	timerFdRegistry.Store(p[0], emu)
	return p[0], nil
}

func armTimerFd(fd int, d time.Duration) error {
	v, ok := timerFdRegistry.Load(fd)
	if !ok {
		return nil
	}
	emu := v.(*timerFdEmu)
	emu.mu.Lock()
	defer emu.mu.Unlock()
	if emu.timer != nil {
		emu.timer.Stop()
	}
	emu.timer = time.AfterFunc(d, func() {
		var b [8]byte
		b[0] = 1
		_, _ = unix.Write(emu.writeFd, b[:])
	})
	return nil
}

func disarmTimerFd(fd int) error {
	v, ok := timerFdRegistry.Load(fd)
	if !ok {
		return nil
	}
	emu := v.(*timerFdEmu)
	emu.mu.Lock()
	defer emu.mu.Unlock()
	if emu.timer != nil {
		emu.timer.Stop()
		emu.timer = nil
	}
	return nil
}

func drainTimerFd(fd int) error {
	var buf [8]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err == nil {
			continue
		}
		if err == unix.EAGAIN {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		return os.NewSyscallError("read", err)
	}
}

func closeTimerFd(fd int) error {
	v, ok := timerFdRegistry.LoadAndDelete(fd)
	if ok {
		emu := v.(*timerFdEmu)
		emu.mu.Lock()
		if emu.timer != nil {
			emu.timer.Stop()
		}
		emu.mu.Unlock()
		_ = unix.Close(emu.writeFd)
	}
	return os.NewSyscallError("close", unix.Close(fd))
}
