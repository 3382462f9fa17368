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
	"time"

	"github.com/go-reactor/reactor/log"
)

// EventMask is a bit set over {Read, Write, Close, Error}.
type EventMask uint32

// None is the empty mask.
const (
	None  EventMask = 0
	Read  EventMask = 1 << 0
	Write EventMask = 1 << 1
	Close EventMask = 1 << 2
	Err   EventMask = 1 << 3
)

// ChannelState describes a Channel's registration state with a Poller.
type ChannelState int32

const (
	// Pending means the channel has never been registered with a Poller.
	Pending ChannelState = iota
	// InLoop means the channel is registered with a non-empty listen mask.
	InLoop
	// NotInLoop means the channel was registered but its listen mask has
	// been reduced to None; the fd index entry is kept until Close.
	NotInLoop
)

// EventCallback handles one event kind surfaced for a Channel.
type EventCallback func(t time.Time)

// Channel is the Reactor-side representation of one fd. It never owns the
// fd -- the Socket does. Every method must be called from the owning
// Reactor's thread; the Reactor enforces this by routing cross-thread
// calls through post.
type Channel struct {
	fd           int
	ownerReactor *Reactor
	gen          uint64

	state     ChannelState
	listenMask EventMask

	onRead  EventCallback
	onWrite EventCallback
	onClose EventCallback
	onError EventCallback
}

// Fd returns the channel's file descriptor.
func (c *Channel) Fd() int { return c.fd }

// Reactor returns the owning Reactor.
func (c *Channel) Reactor() *Reactor { return c.ownerReactor }

// State returns the current registration state.
func (c *Channel) State() ChannelState { return c.state }

// ListenMask returns the currently registered interest mask.
func (c *Channel) ListenMask() EventMask { return c.listenMask }

// SetCallback stores the callback for one event kind. Valid kinds are
// Read, Write, Close, Err.
func (c *Channel) SetCallback(kind EventMask, fn EventCallback) {
	switch kind {
	case Read:
		c.onRead = fn
	case Write:
		c.onWrite = fn
	case Close:
		c.onClose = fn
	case Err:
		c.onError = fn
	default:
		log.Errorf("channel: setCallback with unsupported kind %v", kind)
	}
}

// Open transitions Pending -> InLoop with the given listen mask. The
// Poller sets the authoritative state once the kernel registration
// succeeds.
func (c *Channel) Open(mask EventMask) {
	if c.state != Pending {
		log.Errorf("channel: open called in state %v, fd=%d", c.state, c.fd)
		return
	}
	c.listenMask = mask
	c.ownerReactor.updateChannel(c)
}

// Update changes the listen mask of an already-registered channel.
func (c *Channel) Update(mask EventMask) {
	if c.state == Pending {
		log.Errorf("channel: update called while pending, fd=%d", c.fd)
		return
	}
	c.listenMask = mask
	c.ownerReactor.updateChannel(c)
}

// EnableReading adds Read to the listen mask.
func (c *Channel) EnableReading() { c.Update(c.listenMask | Read) }

// DisableReading removes Read from the listen mask.
func (c *Channel) DisableReading() { c.Update(c.listenMask &^ Read) }

// EnableWriting adds Write to the listen mask.
func (c *Channel) EnableWriting() { c.Update(c.listenMask | Write) }

// DisableWriting removes Write from the listen mask.
func (c *Channel) DisableWriting() { c.Update(c.listenMask &^ Write) }

// IsWriting reports whether Write is currently in the listen mask.
func (c *Channel) IsWriting() bool { return c.listenMask&Write != 0 }

// Close detaches the channel from the poller. A no-op if still Pending.
func (c *Channel) Close() {
	if c.state == Pending {
		return
	}
	c.listenMask = None
	c.ownerReactor.removeChannel(c)
}

// handleEvent dispatches activeMask by priority Close > Error > Read > Write.
// Read and Write only fire if still present in the listen mask; Close and
// Error are delivered regardless, since the kernel can report them even
// when only Read was requested.
func (c *Channel) handleEvent(activeMask EventMask, t time.Time) {
	if activeMask&Close != 0 && c.onClose != nil {
		c.onClose(t)
		return
	}
	if activeMask&Err != 0 && c.onError != nil {
		c.onError(t)
		return
	}
	if activeMask&c.listenMask&Read != 0 && c.onRead != nil {
		c.onRead(t)
	}
	if activeMask&c.listenMask&Write != 0 && c.onWrite != nil {
		c.onWrite(t)
	}
}
