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

const defaultReadIdleTimeout, defaultWriteIdleTimeout time.Duration = 0, 0

// Option configures a TcpServer at construction time.
type Option struct {
	f func(*options)
}

type options struct {
	reusePort        bool
	readIdleTimeout  time.Duration
	writeIdleTimeout time.Duration
	reactorInitHook  InitHook
}

func (o *options) setDefault() {
	o.readIdleTimeout = defaultReadIdleTimeout
	o.writeIdleTimeout = defaultWriteIdleTimeout
}

// WithReusePort binds the listening socket with SO_REUSEPORT, via
// go_reuseport.Listen.
func WithReusePort(reusePort bool) Option {
	return Option{func(o *options) {
		o.reusePort = reusePort
	}}
}

// WithReadIdleTimeout closes a connection that has not read anything
// within d. Zero (the default) disables the check.
func WithReadIdleTimeout(d time.Duration) Option {
	return Option{func(o *options) {
		o.readIdleTimeout = d
	}}
}

// WithWriteIdleTimeout closes a connection that has not written anything
// within d. Zero (the default) disables the check.
func WithWriteIdleTimeout(d time.Duration) Option {
	return Option{func(o *options) {
		o.writeIdleTimeout = d
	}}
}

// WithReactorInitHook runs hook once on every reactor thread's own
// goroutine, right after the Reactor is initialized and before it starts
// looping. Useful for per-thread setup such as pinning CPU affinity.
func WithReactorInitHook(hook InitHook) Option {
	return Option{func(o *options) {
		o.reactorInitHook = hook
	}}
}
