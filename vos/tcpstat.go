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
	"net"
	"time"

	"github.com/mikioh/tcp"
	"github.com/mikioh/tcpinfo"
	log "github.com/sirupsen/logrus"
)

// TCPConnStats is a point-in-time snapshot of TCP_INFO for one MD TCP
// connection, feeding getTcpMdStatistics (spec §4.8). Grounded on
// runZeroInc/sockstats.Conn and runZeroInc/conniver.Conn, which wrap a
// net.Conn to sample TCP_INFO on open/close; here the sampling is pulled
// out into a function the TCP MD transport calls directly rather than a
// wrapping net.Conn, since the MD transport already owns the *net.TCPConn
// lifecycle.
type TCPConnStats struct {
	RTT               time.Duration
	RTTVar            time.Duration
	RetransmittedSegs uint64
	SampledAt         time.Time
}

// SampleTCPInfo reads TCP_INFO off conn via github.com/mikioh/tcpinfo. A
// failure (e.g. platform without TCP_INFO support) is logged and reported
// as a zero-value sample rather than propagated — TCP statistics are a
// best-effort enrichment, never allowed to abort an MD transaction per the
// §7 propagation policy.
func SampleTCPInfo(conn *net.TCPConn) TCPConnStats {
	tc, err := tcp.NewConn(conn)
	if err != nil {
		log.Debugf("SampleTCPInfo: %v", err)
		return TCPConnStats{SampledAt: time.Now()}
	}
	var o tcpinfo.Info
	var buf [256]byte
	raw, err := tc.Option(o.Level(), o.Name(), buf[:])
	if err != nil {
		log.Debugf("SampleTCPInfo: %v", err)
		return TCPConnStats{SampledAt: time.Now()}
	}
	info, ok := raw.(*tcpinfo.Info)
	if !ok {
		return TCPConnStats{SampledAt: time.Now()}
	}
	return TCPConnStats{
		RTT:               info.RTT,
		RTTVar:            info.RTTVar,
		RetransmittedSegs: uint64(info.Retransmits),
		SampledAt:         time.Now(),
	}
}
