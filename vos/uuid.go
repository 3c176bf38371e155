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

package vos

import (
	"fmt"
	"net"
	"sync/atomic"
)

// UUID is a 16-byte TRDP session identifier.
type UUID [16]byte

// String formats u the standard dashed hex way.
func (u UUID) String() string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", u[0:4], u[4:6], u[6:8], u[8:10], u[10:16])
}

var sessionCounter uint32

// PrimaryMAC returns the hardware address of the first non-loopback
// interface with a 6-byte MAC, the same lookup ptp.NewClockIdentity's caller
// (net.InterfaceByName + iface.HardwareAddr) performs in
// ptp/ptp4u/server/server.go, generalized here to scan every interface
// since a TRDP host isn't necessarily told which NIC to use. Whether the
// interface is up is not checked.
func PrimaryMAC() (net.HardwareAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, NewError(KindSock, "PrimaryMAC", err)
	}
	for _, iface := range ifaces {
		if len(iface.HardwareAddr) == 6 && iface.Flags&net.FlagLoopback == 0 {
			return iface.HardwareAddr, nil
		}
	}
	return nil, NewError(KindSock, "PrimaryMAC", fmt.Errorf("no suitable network interface found"))
}

// NewSessionUUID builds an RFC 4122 time-based (version 1 shaped) UUID:
// bytes 0-7 from the clock, bytes 8-9 a rolling per-process counter, bytes
// 10-15 the primary interface's MAC — the same "stamp an id from the NIC
// hardware address" idiom as ptp.NewClockIdentity(iface.HardwareAddr) in
// ptp/protocol/types.go, extended with the clock prefix and counter spec
// §4.1 requires.
func NewSessionUUID(now TimeSpec, mac net.HardwareAddr) (UUID, error) {
	if len(mac) != 6 {
		return UUID{}, NewError(KindParam, "NewSessionUUID", fmt.Errorf("MAC must be 6 bytes, got %d", len(mac)))
	}
	var u UUID
	sec := uint32(now.Sec)
	usec := uint32(now.Micros)
	u[0] = byte(sec >> 24)
	u[1] = byte(sec >> 16)
	u[2] = byte(sec >> 8)
	u[3] = byte(sec)
	u[4] = byte(usec >> 24)
	u[5] = byte(usec >> 16)
	u[6] = byte(usec >> 8)
	u[7] = byte(usec)
	// stamp the RFC 4122 version nibble (1, time-based) into the top
	// nibble of byte 7, matching the spec's "version nibble stamped into
	// byte 7" wording.
	u[7] = (u[7] & 0x0f) | 0x10

	count := atomic.AddUint32(&sessionCounter, 1)
	u[8] = byte(count >> 8)
	u[9] = byte(count)

	copy(u[10:16], mac)
	return u, nil
}
