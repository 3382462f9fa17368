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
	"runtime"
	"time"

	"github.com/pkg/errors"

	"github.com/go-reactor/reactor/log"
)

// quitWait bounds how long a cross-thread Quit waits for the loop
// goroutine to actually exit before giving up.
const quitWait = 3 * time.Second

// InitHook runs once on a ReactorThread's own goroutine, after the
// Reactor is constructed and initialized but before loop() starts.
type InitHook func(r *Reactor) error

// ReactorThread pins exactly one Reactor to exactly one OS thread for its
// entire life.
type ReactorThread struct {
	reactor *Reactor
	done    chan struct{}
	initErr error
}

// StartReactorThread spawns the thread, blocks until the Reactor has been
// constructed and its init hook has run, and returns the handle.
func StartReactorThread(id int, hook InitHook) (*ReactorThread, error) {
	t := &ReactorThread{
		reactor: NewReactor(id),
		done:    make(chan struct{}),
	}
	ready := make(chan struct{})
	go t.run(hook, ready)
	<-ready
	if t.initErr != nil {
		return nil, t.initErr
	}
	return t, nil
}

func (t *ReactorThread) run(hook InitHook, ready chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.done)

	if err := t.reactor.Init(); err != nil {
		t.initErr = errors.Wrap(err, "reactorthread: init reactor")
		close(ready)
		return
	}
	if hook != nil {
		if err := hook(t.reactor); err != nil {
			t.initErr = errors.Wrap(err, "reactorthread: init hook")
			close(ready)
			return
		}
	}
	close(ready)

	if err := t.reactor.Loop(); err != nil {
		log.Errorf("reactorthread %d: loop exited with error: %v", t.reactor.ID(), err)
	}
	if err := t.reactor.Close(); err != nil {
		log.Errorf("reactorthread %d: close reactor: %v", t.reactor.ID(), err)
	}
}

// Reactor returns the thread's Reactor. Safe from any thread; callers
// must still route mutation through Post/Run.
func (t *ReactorThread) Reactor() *Reactor { return t.reactor }

// Quit asks the Reactor to stop and waits up to quitWait for the loop
// goroutine to exit. Safe to call more than once.
func (t *ReactorThread) Quit() {
	t.reactor.Quit()
	select {
	case <-t.done:
	case <-time.After(quitWait):
		log.Errorf("reactorthread %d: loop did not exit within %s", t.reactor.ID(), quitWait)
	}
}

// Done returns a channel closed once the loop goroutine has returned.
func (t *ReactorThread) Done() <-chan struct{} { return t.done }
