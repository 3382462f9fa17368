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
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// ReactorPool owns one acceptor ReactorThread plus N worker
// ReactorThreads. If N is 0, the acceptor reactor also serves as the
// sole worker, matching the teacher's single-poller round-robin
// degenerate case.
type ReactorPool struct {
	acceptor *ReactorThread
	workers  []*ReactorThread
	nextIdx  atomic.Uint64
}

// NewReactorPool starts workerCount worker reactor threads plus one
// acceptor reactor thread, running hook on every one of them.
func NewReactorPool(workerCount int, hook InitHook) (*ReactorPool, error) {
	if workerCount < 0 {
		return nil, errors.New("reactorpool: workerCount must be >= 0")
	}
	acceptor, err := StartReactorThread(0, hook)
	if err != nil {
		return nil, errors.Wrap(err, "reactorpool: start acceptor reactor")
	}
	pool := &ReactorPool{acceptor: acceptor}
	if workerCount == 0 {
		pool.workers = []*ReactorThread{acceptor}
		return pool, nil
	}
	workers := make([]*ReactorThread, 0, workerCount)
	for i := 1; i <= workerCount; i++ {
		w, err := StartReactorThread(i, hook)
		if err != nil {
			acceptor.Quit()
			for _, started := range workers {
				started.Quit()
			}
			return nil, errors.Wrapf(err, "reactorpool: start worker reactor %d", i)
		}
		workers = append(workers, w)
	}
	pool.workers = workers
	return pool, nil
}

// AcceptorReactor returns the reactor the Acceptor must run on.
func (p *ReactorPool) AcceptorReactor() *Reactor { return p.acceptor.Reactor() }

// AcceptorThread returns the acceptor's ReactorThread handle.
func (p *ReactorPool) AcceptorThread() *ReactorThread { return p.acceptor }

// NumWorkers returns the number of reactor threads that serve
// connections: the configured worker count, or 1 when the pool was built
// with zero workers and the acceptor reactor serves them itself.
func (p *ReactorPool) NumWorkers() int { return len(p.workers) }

// nextWorker round-robins across worker reactor threads, grounded on the
// same atomic-counter-modulo scheme as an epoll poller pool's load
// balancer, generalized from picking a Poller to picking a ReactorThread.
func (p *ReactorPool) nextWorker() *ReactorThread {
	idx := int(p.nextIdx.Add(1)) % len(p.workers)
	return p.workers[idx]
}

// NextWorker exposes round-robin worker selection to callers outside the
// package boundary of a single TcpServer (e.g. a custom acceptor).
func (p *ReactorPool) NextWorker() *ReactorThread { return p.nextWorker() }

// Quit stops every reactor thread in the pool, acceptor last so pending
// connection handoffs from workers to the acceptor can still be posted
// while workers wind down.
func (p *ReactorPool) Quit() {
	seen := make(map[*ReactorThread]bool, len(p.workers)+1)
	for _, w := range p.workers {
		if w == p.acceptor || seen[w] {
			continue
		}
		seen[w] = true
		w.Quit()
	}
	p.acceptor.Quit()
}
