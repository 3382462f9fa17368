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
	"github.com/panjf2000/ants/v2"

	"github.com/go-reactor/reactor/metrics"
)

// maxRoutines == 0 means unbounded (ants treats it as INT32_MAX).
const maxRoutines = 0

var userPool, _ = ants.NewPool(maxRoutines)

// Submit runs task on the package-level user goroutine pool, off any
// Reactor thread. Use this from a message/connect callback to offload
// CPU-bound work instead of blocking the owning Reactor; post the result
// back with Reactor.Run when it needs to touch connection state again.
func Submit(task func()) error {
	metrics.Add(metrics.TaskAssigned, 1)
	return userPool.Submit(task)
}
