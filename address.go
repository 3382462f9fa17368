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
	"net"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// AddressFamily distinguishes IPv4 from IPv6 endpoints.
type AddressFamily int

const (
	FamilyIPv4 AddressFamily = iota
	FamilyIPv6
)

// Address is an abstract TCP endpoint, host-order IP plus port.
type Address struct {
	family AddressFamily
	ip     net.IP
	port   int
}

// NewAddress builds an Address from an IP and a port. The IP's effective
// length decides the family: a 4-byte or 4-in-6 address is IPv4.
func NewAddress(ip net.IP, port int) Address {
	family := FamilyIPv6
	if ip4 := ip.To4(); ip4 != nil {
		family = FamilyIPv4
		ip = ip4
	}
	return Address{family: family, ip: ip, port: port}
}

// ResolveAddress parses a "host:port" string into an Address.
func ResolveAddress(hostport string) (Address, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", hostport)
	if err != nil {
		return Address{}, errors.Wrapf(err, "address: resolve %q", hostport)
	}
	return NewAddress(tcpAddr.IP, tcpAddr.Port), nil
}

// Family returns whether the address is IPv4 or IPv6.
func (a Address) Family() AddressFamily { return a.family }

// IP returns the host-order IP.
func (a Address) IP() net.IP { return a.ip }

// Port returns the host-order port.
func (a Address) Port() int { return a.port }

// String renders "ip:port".
func (a Address) String() string {
	if a.ip == nil {
		return ":" + strconv.Itoa(a.port)
	}
	return net.JoinHostPort(a.ip.String(), strconv.Itoa(a.port))
}

// Valid rejects a zero IP, the all-zeros wildcard address used only for
// binding, and a zero port.
func (a Address) Valid() bool {
	if a.port == 0 {
		return false
	}
	if a.ip == nil || a.ip.IsUnspecified() {
		return false
	}
	return true
}

func (a Address) toSockaddr() (unix.Sockaddr, error) {
	switch a.family {
	case FamilyIPv4:
		ip := a.ip
		if ip == nil {
			ip = net.IPv4zero
		}
		ip4 := ip.To4()
		if ip4 == nil {
			return nil, errors.Errorf("address: %s is not a valid IPv4 address", a.ip)
		}
		sa := &unix.SockaddrInet4{Port: a.port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	case FamilyIPv6:
		ip := a.ip
		if ip == nil {
			ip = net.IPv6zero
		}
		ip6 := ip.To16()
		if ip6 == nil {
			return nil, errors.Errorf("address: %s is not a valid IPv6 address", a.ip)
		}
		sa := &unix.SockaddrInet6{Port: a.port}
		copy(sa.Addr[:], ip6)
		return sa, nil
	default:
		return nil, errors.Errorf("address: unknown family %d", a.family)
	}
}

func sockaddrToAddress(sa unix.Sockaddr) Address {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return NewAddress(net.IP(sa.Addr[:]), sa.Port)
	case *unix.SockaddrInet6:
		return NewAddress(net.IP(sa.Addr[:]), sa.Port)
	default:
		return Address{}
	}
}
