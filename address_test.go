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

package reactor_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	reactor "github.com/go-reactor/reactor"
)

func TestNewAddressFamily(t *testing.T) {
	v4 := reactor.NewAddress(net.ParseIP("127.0.0.1"), 8080)
	assert.Equal(t, reactor.FamilyIPv4, v4.Family())
	assert.Equal(t, "127.0.0.1:8080", v4.String())

	v6 := reactor.NewAddress(net.ParseIP("::1"), 8080)
	assert.Equal(t, reactor.FamilyIPv6, v6.Family())
	assert.Equal(t, "[::1]:8080", v6.String())
}

func TestResolveAddress(t *testing.T) {
	addr, err := reactor.ResolveAddress("127.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, 9000, addr.Port())
	assert.True(t, addr.Valid())

	_, err = reactor.ResolveAddress("not-an-address")
	assert.Error(t, err)
}

func TestAddressValid(t *testing.T) {
	assert.False(t, reactor.Address{}.Valid())
	assert.False(t, reactor.NewAddress(net.ParseIP("0.0.0.0"), 80).Valid())
	assert.False(t, reactor.NewAddress(net.ParseIP("127.0.0.1"), 0).Valid())
	assert.True(t, reactor.NewAddress(net.ParseIP("127.0.0.1"), 80).Valid())
}
