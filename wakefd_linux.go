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

	"golang.org/x/sys/unix"

	"github.com/go-reactor/reactor/log"
)

func newWakeFd() (int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return -1, os.NewSyscallError("eventfd", err)
	}
	return fd, nil
}

// wakeupWrite writes the eventfd counter increment that unblocks a poll
// on the read side. A short write on eventfd cannot happen; it is only
// logged here, not propagated, mirroring how this family of reactors
// treats the wakeup path.
func wakeupWrite(fd int) {
	one := [8]byte{1}
	if n, err := unix.Write(fd, one[:]); err != nil || n < len(one) {
		log.Debugf("reactor: wakeup write incomplete, n=%d err=%v", n, err)
	}
}

func wakeupDrain(fd int) {
	var buf [8]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err == nil || err == unix.EAGAIN {
			return
		}
		if err == unix.EINTR {
			continue
		}
		return
	}
}

func closeWakeFd(fd int) error {
	return os.NewSyscallError("close", unix.Close(fd))
}
