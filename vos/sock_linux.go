/*
Copyright (c) The TRDP-Go Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

//go:build linux

package vos

import (
	"net"

	"golang.org/x/sys/unix"
)

// setSockOptions applies the socket options in opts using raw setsockopt
// calls, the same pattern ptp/sptp/client/dscp.go and
// timestamp_linux.go's EnableHWTimestampsSocket use (unix.SetsockoptInt
// against a bare fd rather than a net.Conn method, since the stdlib
// exposes none of these).
func setSockOptions(fd int, opts SockOptions) error {
	if opts.ReuseAddr {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return NewError(KindSock, "setSockOptions.SO_REUSEADDR", err)
		}
	}
	if opts.QoS > 0 {
		// DSCP occupies the top 6 bits of the TOS octet, same shift
		// ptp/sptp/client/dscp.go uses (dscp<<2).
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, opts.QoS<<2); err != nil {
			return NewError(KindSock, "setSockOptions.IP_TOS", err)
		}
	}
	if opts.TTL > 0 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, opts.TTL); err != nil {
			return NewError(KindSock, "setSockOptions.IP_MULTICAST_TTL", err)
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TTL, opts.TTL); err != nil {
			return NewError(KindSock, "setSockOptions.IP_TTL", err)
		}
	}
	if err := unix.SetNonblock(fd, opts.NonBlocking); err != nil {
		return NewError(KindSock, "setSockOptions.SetNonblock", err)
	}
	return nil
}

func joinMulticast(fd int, group net.IP, iface *net.Interface) error {
	ip4 := group.To4()
	if ip4 == nil {
		return NewError(KindParam, "joinMulticast", nil)
	}
	mreq := &unix.IPMreqn{
		Multiaddr: [4]byte{ip4[0], ip4[1], ip4[2], ip4[3]},
	}
	if iface != nil {
		mreq.Ifindex = int32(iface.Index)
	}
	if err := unix.SetsockoptIPMreqn(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
		return NewError(KindSock, "joinMulticast", err)
	}
	return nil
}

func leaveMulticast(fd int, group net.IP, iface *net.Interface) error {
	ip4 := group.To4()
	if ip4 == nil {
		return NewError(KindParam, "leaveMulticast", nil)
	}
	mreq := &unix.IPMreqn{
		Multiaddr: [4]byte{ip4[0], ip4[1], ip4[2], ip4[3]},
	}
	if iface != nil {
		mreq.Ifindex = int32(iface.Index)
	}
	if err := unix.SetsockoptIPMreqn(fd, unix.IPPROTO_IP, unix.IP_DROP_MEMBERSHIP, mreq); err != nil {
		return NewError(KindSock, "leaveMulticast", err)
	}
	return nil
}

// setMulticastIf pins the outgoing interface for multicast sends.
func setMulticastIf(fd int, iface *net.Interface) error {
	mreq := &unix.IPMreqn{Ifindex: int32(iface.Index)}
	if err := unix.SetsockoptIPMreqn(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_IF, mreq); err != nil {
		return NewError(KindSock, "setMulticastIf", err)
	}
	return nil
}
