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

	"golang.org/x/sys/unix"

	"github.com/go-reactor/reactor/log"
)

var wakeWriteFds sync.Map // read fd -> write fd

func newWakeFd() (int, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return -1, os.NewSyscallError("pipe2", err)
	}
	wakeWriteFds.Store(p[0], p[1])
	return p[0], nil
}

func wakeupWrite(fd int) {
	v, ok := wakeWriteFds.Load(fd)
	if !ok {
		return
	}
	one := [1]byte{1}
	if n, err := unix.Write(v.(int), one[:]); err != nil || n < len(one) {
		log.Debugf("reactor: wakeup write incomplete, n=%d err=%v", n, err)
	}
}

func wakeupDrain(fd int) {
	var buf [64]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err == nil {
			continue
		}
		return
	}
}

func closeWakeFd(fd int) error {
	v, ok := wakeWriteFds.LoadAndDelete(fd)
	if ok {
		_ = unix.Close(v.(int))
	}
	return os.NewSyscallError("close", unix.Close(fd))
}
