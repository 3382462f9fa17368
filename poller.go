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

import "time"

// activeEvent pairs a Channel with the subset of its listen mask that
// became ready during one poll return.
type activeEvent struct {
	channel *Channel
	mask    EventMask
}

// Poller waits for readiness on a set of registered fds and reports the
// subset that became active. Every method must be called from the owning
// Reactor's thread. Two implementations exist behind this interface: epoll
// (default, Linux) and poll (fallback for other POSIX targets).
type Poller interface {
	// poll blocks up to timeoutMs milliseconds (-1 = indefinitely) and
	// returns the wall-clock time at return plus the channels that became
	// active. A transient error (EINTR) is reported as an empty active list
	// with a nil error, so the Reactor loop treats it as a non-fatal return.
	poll(timeoutMs int) (time.Time, []activeEvent, error)
	// updateChannel registers or modifies a channel's interest set.
	updateChannel(ch *Channel) error
	// removeChannel forces full removal of a channel's registration.
	removeChannel(ch *Channel) error
	// close releases the poller's own fds (e.g. the epoll fd).
	close() error
}
