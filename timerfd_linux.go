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

//go:build linux
// +build linux

package reactor

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func newTimerFd() (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return -1, errors.Wrap(os.NewSyscallError("timerfd_create", err), "timerqueue: create timerfd")
	}
	return fd, nil
}

func armTimerFd(fd int, d time.Duration) error {
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		return errors.Wrap(os.NewSyscallError("timerfd_settime", err), "timerqueue: arm")
	}
	return nil
}

func disarmTimerFd(fd int) error {
	var spec unix.ItimerSpec
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		return errors.Wrap(os.NewSyscallError("timerfd_settime", err), "timerqueue: disarm")
	}
	return nil
}

func drainTimerFd(fd int) error {
	var buf [8]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err == nil {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return nil
		}
		return os.NewSyscallError("read", err)
	}
}

func closeTimerFd(fd int) error {
	return os.NewSyscallError("close", unix.Close(fd))
}
