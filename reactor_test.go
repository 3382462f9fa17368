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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestReactor(t *testing.T) (*Reactor, func()) {
	t.Helper()
	th, err := StartReactorThread(99, nil)
	require.NoError(t, err)
	return th.Reactor(), th.Quit
}

func TestReactorRunFromOtherThread(t *testing.T) {
	r, stop := startTestReactor(t)
	defer stop()

	var ran bool
	var wg sync.WaitGroup
	wg.Add(1)
	r.Run(func() {
		ran = true
		wg.Done()
	})
	wg.Wait()
	assert.True(t, ran)
}

func TestReactorPostOrdering(t *testing.T) {
	r, stop := startTestReactor(t)
	defer stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(2)

	// Both appends happen under the same taskMu critical section so they
	// land in a single batch ahead of anything runPendingTasks can drain
	// in between, making the relative order deterministic.
	r.taskMu.Lock()
	r.taskQueue = append(r.taskQueue, func() {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		wg.Done()
	})
	r.taskQueue = append([]task{func() {
		mu.Lock()
		order = append(order, 0)
		mu.Unlock()
		wg.Done()
	}}, r.taskQueue...)
	r.taskMu.Unlock()
	wakeupWrite(r.wakeFd)

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, 0, order[0])
	assert.Equal(t, 1, order[1])
}

func TestReactorChannelReadEvent(t *testing.T) {
	r, stop := startTestReactor(t)
	defer stop()

	rd, wr, err := os.Pipe()
	require.NoError(t, err)
	defer rd.Close()
	defer wr.Close()

	fired := make(chan struct{}, 1)
	var ch *Channel
	installed := make(chan struct{})
	r.Run(func() {
		ch = r.newChannel(int(rd.Fd()))
		ch.SetCallback(Read, func(time.Time) {
			var buf [16]byte
			rd.Read(buf[:])
			select {
			case fired <- struct{}{}:
			default:
			}
		})
		ch.Open(Read)
		close(installed)
	})
	<-installed

	_, err = wr.Write([]byte("x"))
	require.NoError(t, err)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("channel read callback did not fire")
	}

	r.Run(func() { ch.Close() })
}

func TestReactorTimerFiresOnce(t *testing.T) {
	r, stop := startTestReactor(t)
	defer stop()

	fired := make(chan time.Time, 1)
	r.AddTimerAfter(20*time.Millisecond, 0, func(t time.Time) { fired <- t })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("one-shot timer did not fire")
	}
}

func TestReactorTimerCancel(t *testing.T) {
	r, stop := startTestReactor(t)
	defer stop()

	fired := make(chan struct{}, 1)
	id := r.AddTimerAfter(50*time.Millisecond, 0, func(time.Time) { fired <- struct{}{} })
	r.CancelTimer(id)

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReactorTimerRepeats(t *testing.T) {
	r, stop := startTestReactor(t)
	defer stop()

	var mu sync.Mutex
	count := 0
	id := r.AddTimerAfter(10*time.Millisecond, 10*time.Millisecond, func(time.Time) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	time.Sleep(80 * time.Millisecond)
	r.CancelTimer(id)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, count, 2)
}

func TestReactorInLoopThread(t *testing.T) {
	r, stop := startTestReactor(t)
	defer stop()

	assert.False(t, r.inLoopThread())
	var inside bool
	done := make(chan struct{})
	r.Run(func() {
		inside = r.inLoopThread()
		close(done)
	})
	<-done
	assert.True(t, inside)
}
