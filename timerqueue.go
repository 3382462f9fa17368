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
	"container/heap"
	"sync/atomic"
	"time"

	"github.com/go-reactor/reactor/metrics"
)

// TimerID identifies a scheduled TimerTask for cancellation.
type TimerID uint64

// TimerCallback is invoked when a TimerTask fires. It runs on the owning
// Reactor's thread.
type TimerCallback func(t time.Time)

// timerTask is one entry in the TimerQueue's ordered set, ordered by
// (expiresAt, id).
type timerTask struct {
	id         TimerID
	callback   TimerCallback
	expiresAt  time.Time
	interval   time.Duration
	repeat     bool
	index      int // heap index, maintained by container/heap
}

type timerHeap []*timerTask

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].expiresAt.Equal(h[j].expiresAt) {
		return h[i].id < h[j].id
	}
	return h[i].expiresAt.Before(h[j].expiresAt)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x interface{}) {
	task := x.(*timerTask)
	task.index = len(*h)
	*h = append(*h, task)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[:n-1]
	return task
}

// epsilon bounds how far past "now" an expiry may be and still be treated
// as due, per the at-most-1ms coalescing window spec.md requires.
const epsilon = time.Millisecond

// TimerQueue implements "one timer-fd drives all timers": a min-heap
// ordered by (expiresAt, id), backed by a single timer file descriptor
// wrapped in a Channel on the owning Reactor. It is only safe to call
// add/cancel from the owning Reactor's thread directly; cross-thread
// callers go through Reactor.AddTimerAt/CancelTimer, which post.
type TimerQueue struct {
	reactor   *Reactor
	channel   *Channel
	fd        int
	tasks     timerHeap
	cancelSet map[TimerID]struct{}
	handling  bool
	nextID    uint64
}

func newTimerQueue(r *Reactor) (*TimerQueue, error) {
	fd, err := newTimerFd()
	if err != nil {
		return nil, err
	}
	tq := &TimerQueue{
		reactor:   r,
		fd:        fd,
		cancelSet: make(map[TimerID]struct{}),
	}
	heap.Init(&tq.tasks)
	tq.channel = r.newChannel(fd)
	tq.channel.SetCallback(Read, tq.handleExpire)
	tq.channel.Open(Read)
	return tq, nil
}

func (tq *TimerQueue) allocID() TimerID {
	return TimerID(atomic.AddUint64(&tq.nextID, 1))
}

// addAt schedules a task at ts, repeating every interval when interval > 0.
// Must run on the owning Reactor.
func (tq *TimerQueue) addAt(ts time.Time, interval time.Duration, cb TimerCallback) TimerID {
	return tq.insert(tq.allocID(), ts, interval, cb)
}

// insert adds a task under an already-allocated id. Must run on the
// owning Reactor; id is allocated separately (via allocID, safe from any
// thread) so a cross-thread caller can hand back a TimerID immediately
// without waiting for this insertion to run.
func (tq *TimerQueue) insert(id TimerID, ts time.Time, interval time.Duration, cb TimerCallback) TimerID {
	task := &timerTask{
		id:        id,
		callback:  cb,
		expiresAt: ts,
		interval:  interval,
		repeat:    interval > 0,
	}
	heap.Push(&tq.tasks, task)
	if tq.tasks[0] == task {
		tq.rearm()
	}
	return task.id
}

// cancel removes a task by id. Must run on the owning Reactor. While
// expired tasks are being handled, an id that is no longer in the heap is
// recorded in cancelSet so a repeating task is not re-inserted.
func (tq *TimerQueue) cancel(id TimerID) {
	metrics.Add(metrics.TimerCancel, 1)
	for i, task := range tq.tasks {
		if task.id == id {
			heap.Remove(&tq.tasks, i)
			if i == 0 && !tq.handling {
				tq.rearm()
			}
			return
		}
	}
	if tq.handling {
		tq.cancelSet[id] = struct{}{}
	}
}

func (tq *TimerQueue) handleExpire(t time.Time) {
	if err := drainTimerFd(tq.fd); err != nil {
		return
	}
	tq.handling = true
	now := time.Now()
	cutoff := now.Add(epsilon)
	var expired []*timerTask
	for len(tq.tasks) > 0 && tq.tasks[0].expiresAt.Before(cutoff) {
		expired = append(expired, heap.Pop(&tq.tasks).(*timerTask))
	}
	for _, task := range expired {
		if _, cancelled := tq.cancelSet[task.id]; cancelled {
			continue
		}
		metrics.Add(metrics.TimerFire, 1)
		task.callback(t)
		if task.repeat {
			if _, cancelled := tq.cancelSet[task.id]; !cancelled {
				task.expiresAt = task.expiresAt.Add(task.interval)
				heap.Push(&tq.tasks, task)
			}
		}
	}
	tq.cancelSet = make(map[TimerID]struct{})
	tq.handling = false
	tq.rearm()
}

func (tq *TimerQueue) rearm() {
	metrics.Add(metrics.TimerRearm, 1)
	if len(tq.tasks) == 0 {
		_ = disarmTimerFd(tq.fd)
		return
	}
	d := time.Until(tq.tasks[0].expiresAt)
	if d <= 0 {
		d = time.Nanosecond
	}
	_ = armTimerFd(tq.fd, d)
}

func (tq *TimerQueue) close() error {
	tq.channel.Close()
	return closeTimerFd(tq.fd)
}
