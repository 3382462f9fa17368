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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOptionsDefault(t *testing.T) {
	o := options{}
	o.setDefault()
	assert.Equal(t, time.Duration(0), o.readIdleTimeout)
	assert.Equal(t, time.Duration(0), o.writeIdleTimeout)
	assert.False(t, o.reusePort)
	assert.Nil(t, o.reactorInitHook)
}

func TestOptionsApply(t *testing.T) {
	o := options{}
	o.setDefault()
	hook := func(r *Reactor) error { return nil }

	for _, opt := range []Option{
		WithReusePort(true),
		WithReadIdleTimeout(5 * time.Second),
		WithWriteIdleTimeout(7 * time.Second),
		WithReactorInitHook(hook),
	} {
		opt.f(&o)
	}

	assert.True(t, o.reusePort)
	assert.Equal(t, 5*time.Second, o.readIdleTimeout)
	assert.Equal(t, 7*time.Second, o.writeIdleTimeout)
	assert.NotNil(t, o.reactorInitHook)
}
