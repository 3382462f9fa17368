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

// Package reactor implements a single-machine, multi-reactor TCP server
// runtime following the "one loop per thread + thread pool" pattern: one
// Reactor event loop pinned to an OS thread, a Channel/Poller pair per
// registered fd, a TimerQueue driven by a single timer fd, and a
// Connection layer composed into a TcpServer.
package reactor

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/go-reactor/reactor/internal/locker"
	"github.com/go-reactor/reactor/log"
)

// runState is the Reactor's lifecycle state machine: Uninit -> Initialized
// -> Running -> Quit.
type runState int32

const (
	stateUninit runState = iota
	stateInitialized
	stateRunning
	stateQuit
)

// defaultPollTimeout bounds how long poll() blocks when there is no
// pending timer to shorten the wait, so quit() is always noticed promptly
// even without an explicit wakeup.
const defaultPollTimeout = 10 * time.Second

// task is one unit of work posted to a Reactor's task queue.
type task func()

// Reactor is a single-thread scheduler combining a Poller, a FIFO of
// pending tasks, and a TimerQueue. Exactly one goroutine -- the one that
// calls loop() -- may mutate Channels, Connection state, or the task
// queue's contents; every other caller must go through post/run.
type Reactor struct {
	id int

	state        atomic.Int32
	ownerGoID    atomic.Int64
	running      atomic.Bool
	waiting      atomic.Bool

	poller     Poller
	wakeFd     int
	wakeChan   *Channel
	timerQueue *TimerQueue

	taskMu    locker.Locker
	taskQueue []task

	channelsMu sync.Mutex
	channels   map[int]*Channel
	generation map[int]uint64
}

// NewReactor constructs an uninitialized Reactor. Call Init before Loop.
func NewReactor(id int) *Reactor {
	r := &Reactor{
		id:         id,
		channels:   make(map[int]*Channel),
		generation: make(map[int]uint64),
	}
	r.ownerGoID.Store(-1)
	return r
}

// ID returns the reactor's configured identifier.
func (r *Reactor) ID() int { return r.id }

// Init creates the wakeup channel, the TimerQueue, and the Poller. It must
// be called exactly once, before the first call to Loop.
func (r *Reactor) Init() error {
	if !r.state.CAS(int32(stateUninit), int32(stateInitialized)) {
		return errors.New("reactor: init called more than once")
	}
	p, err := newPoller()
	if err != nil {
		return errors.Wrap(err, "reactor: create poller")
	}
	r.poller = p

	wfd, err := newWakeFd()
	if err != nil {
		return errors.Wrap(err, "reactor: create wake fd")
	}
	r.wakeFd = wfd
	r.wakeChan = r.newChannel(wfd)
	r.wakeChan.SetCallback(Read, func(time.Time) { wakeupDrain(r.wakeFd) })
	r.wakeChan.Open(Read)

	tq, err := newTimerQueue(r)
	if err != nil {
		return errors.Wrap(err, "reactor: create timer queue")
	}
	r.timerQueue = tq
	return nil
}

// newChannel allocates a Channel bound to fd on this Reactor and records
// it in the channel arena, bumping fd's generation token.
func (r *Reactor) newChannel(fd int) *Channel {
	r.channelsMu.Lock()
	defer r.channelsMu.Unlock()
	r.generation[fd]++
	ch := &Channel{fd: fd, ownerReactor: r, gen: r.generation[fd]}
	r.channels[fd] = ch
	return ch
}

// forgetChannel drops the bookkeeping entry for a Channel whose fd has
// been closed. The fd's generation counter is kept, so a Channel later
// created on the same fd gets a new generation; no posted task compares
// generations, so a stale task still acts on the Channel it captured.
func (r *Reactor) forgetChannel(fd int) {
	r.channelsMu.Lock()
	defer r.channelsMu.Unlock()
	delete(r.channels, fd)
}

// inLoopThread reports whether the caller is running on this Reactor's
// own goroutine.
func (r *Reactor) inLoopThread() bool {
	return r.ownerGoID.Load() == currentThreadID()
}

// Loop records the owning thread and runs the event loop until Quit is
// called. It returns a non-nil error only on a fatal poller failure.
func (r *Reactor) Loop() error {
	r.ownerGoID.Store(currentThreadID())
	r.state.Store(int32(stateRunning))
	defer r.state.Store(int32(stateQuit))
	r.running.Store(true)
	defer r.running.Store(false)

	for r.running.Load() {
		r.waiting.Store(true)
		timeoutMs := int(defaultPollTimeout / time.Millisecond)
		now, actives, err := r.poller.poll(timeoutMs)
		r.waiting.Store(false)
		if err != nil {
			log.Errorf("reactor %d: poller fatal error: %v", r.id, err)
			return err
		}
		for _, ev := range actives {
			ev.channel.handleEvent(ev.mask, now)
		}
		r.runPendingTasks()
		if !r.running.Load() {
			break
		}
	}
	return nil
}

func (r *Reactor) runPendingTasks() {
	r.taskMu.Lock()
	pending := r.taskQueue
	r.taskQueue = nil
	r.taskMu.Unlock()

	for _, t := range pending {
		t()
	}
}

// Quit stops the loop. Safe from any thread.
func (r *Reactor) Quit() {
	r.running.Store(false)
	if !r.inLoopThread() || r.waiting.Load() {
		wakeupWrite(r.wakeFd)
	}
}

// Post appends task to the queue. If highPriority, it jumps to the front.
// If the caller is not on the owning thread, or the Reactor is currently
// blocked in poll, the wakeup fd is signalled so the task runs promptly.
func (r *Reactor) Post(t task, highPriority bool) {
	r.taskMu.Lock()
	if highPriority {
		r.taskQueue = append([]task{t}, r.taskQueue...)
	} else {
		r.taskQueue = append(r.taskQueue, t)
	}
	r.taskMu.Unlock()

	if !r.inLoopThread() || r.waiting.Load() {
		wakeupWrite(r.wakeFd)
	}
}

// Run executes t inline if called from the owning thread, else posts it
// with high priority.
func (r *Reactor) Run(t task) {
	if r.inLoopThread() {
		t()
		return
	}
	r.Post(t, true)
}

// updateChannel delegates to the Poller after verifying the Channel
// belongs to this Reactor, posting to self if called cross-thread.
func (r *Reactor) updateChannel(ch *Channel) {
	if ch.ownerReactor != r {
		log.Errorf("reactor %d: updateChannel called for a channel owned by another reactor", r.id)
		return
	}
	if !r.inLoopThread() {
		r.Run(func() { r.updateChannel(ch) })
		return
	}
	if err := r.poller.updateChannel(ch); err != nil {
		log.Errorf("reactor %d: updateChannel fd=%d: %v", r.id, ch.fd, err)
	}
}

func (r *Reactor) removeChannel(ch *Channel) {
	if ch.ownerReactor != r {
		log.Errorf("reactor %d: removeChannel called for a channel owned by another reactor", r.id)
		return
	}
	if !r.inLoopThread() {
		r.Run(func() { r.removeChannel(ch) })
		return
	}
	if err := r.poller.removeChannel(ch); err != nil {
		log.Errorf("reactor %d: removeChannel fd=%d: %v", r.id, ch.fd, err)
	}
	r.forgetChannel(ch.fd)
}

// AddTimerAt schedules a one-shot (interval==0) or repeating TimerTask.
// Safe from any thread, and never blocks the caller: the id is allocated
// synchronously (allocID is a bare atomic increment, safe from any
// thread), and the heap insertion is posted fire-and-forget, matching
// CancelTimer's pattern and spec.md §5's "no task or callback may block"
// rule.
func (r *Reactor) AddTimerAt(ts time.Time, interval time.Duration, cb TimerCallback) TimerID {
	id := r.timerQueue.allocID()
	r.Run(func() { r.timerQueue.insert(id, ts, interval, cb) })
	return id
}

// AddTimerAfter schedules a task to fire after delay, optionally repeating
// every interval thereafter. Safe from any thread.
func (r *Reactor) AddTimerAfter(delay, interval time.Duration, cb TimerCallback) TimerID {
	return r.AddTimerAt(time.Now().Add(delay), interval, cb)
}

// CancelTimer cancels a previously scheduled TimerTask. Safe from any
// thread; a no-op if the id is unknown or already fired.
func (r *Reactor) CancelTimer(id TimerID) {
	cancel := func() { r.timerQueue.cancel(id) }
	if r.inLoopThread() {
		cancel()
		return
	}
	// Normal priority, so it queues behind a high-priority insertion that
	// the same caller posted earlier through AddTimerAt.
	r.Post(cancel, false)
}

// Close releases the Reactor's own fds. Call only after Loop has returned.
func (r *Reactor) Close() error {
	if err := r.timerQueue.close(); err != nil {
		log.Errorf("reactor %d: close timer queue: %v", r.id, err)
	}
	if err := closeWakeFd(r.wakeFd); err != nil {
		log.Errorf("reactor %d: close wake fd: %v", r.id, err)
	}
	return r.poller.close()
}
