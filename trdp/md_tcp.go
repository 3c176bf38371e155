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

package trdp

import (
	"net"

	"github.com/tcnopen/trdp-go/frame"
	"github.com/tcnopen/trdp-go/vos"
)

// mdConn is one MD TCP connection: the raw conn, a growing receive
// buffer for stream framing, and the last sampled TCP_INFO snapshot
// (spec §4.6 "[DOMAIN] TCP session statistics").
type mdConn struct {
	conn *net.TCPConn
	buf  []byte
	last vos.TCPConnStats
}

// dialMDTCPLocked opens a new MD TCP connection to destIP, registers it
// in the session's connection table, and samples its initial TCP_INFO.
func (s *Session) dialMDTCPLocked(destIP net.IP) (*mdConn, error) {
	raddr := &net.TCPAddr{IP: destIP, Port: s.mdCfg.TCPPort}
	tc, err := vos.OpenTCPClient(nil, raddr)
	if err != nil {
		return nil, err
	}
	c := &mdConn{conn: tc, last: vos.SampleTCPInfo(tc)}
	s.mdConns[tc.RemoteAddr().String()] = c
	return c, nil
}

// acceptMDTCP accepts one pending connection off the MD TCP listener and
// registers it, for the event loop's accept goroutine to call.
func (s *Session) acceptMDTCP() (*mdConn, error) {
	tc, err := s.mdTCPListener.Accept()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	c := &mdConn{conn: tc, last: vos.SampleTCPInfo(tc)}
	s.mdConns[tc.RemoteAddr().String()] = c
	s.mu.Unlock()
	return c, nil
}

// feedMDTCP appends freshly read bytes from conn's stream and extracts as
// many complete MD frames as are buffered, per spec §4.6: a frame's total
// length is header size + datasetLength (padded to 4) + payload CRC,
// which isn't known until the common header's datasetLength field has
// arrived.
func (s *Session) feedMDTCP(c *mdConn, chunk []byte) {
	c.buf = append(c.buf, chunk...)

	for {
		if len(c.buf) < frame.MDHeaderSize {
			return
		}
		dlen := int(frameDatasetLength(c.buf))
		pad := (4 - dlen%4) % 4
		total := frame.MDHeaderSize + dlen + pad + 4
		if len(c.buf) < total {
			return
		}
		frameBytes := c.buf[:total]
		c.buf = append([]byte(nil), c.buf[total:]...)

		s.mu.Lock()
		h, payload, err := frame.ParseMD(frameBytes, s.topo, s.comIDKnown)
		if err != nil {
			s.countPDRejection(err)
			s.mu.Unlock()
			continue
		}
		s.stats.incMDTCPReceived()
		s.dispatchMDLocked(h, payload, c.conn.RemoteAddr(), transportTCP)
		s.mu.Unlock()
	}
}

// frameDatasetLength reads the common header's datasetLength field
// (offset 20, spec §3.3) without fully decoding the header, since the
// frame isn't known to be complete yet.
func frameDatasetLength(b []byte) uint32 {
	return uint32(b[20])<<24 | uint32(b[21])<<16 | uint32(b[22])<<8 | uint32(b[23])
}

// closeMDConn tears down a TCP connection and aborts every session on it
// (spec §7: "transport errors abort only the affected transaction[s]").
func (s *Session) closeMDConn(c *mdConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = c.conn.Close()
	delete(s.mdConns, c.conn.RemoteAddr().String())
	for id, tr := range s.mdSessions {
		if tr.peer != nil && tr.peer.String() == c.conn.RemoteAddr().String() {
			s.deliverMDLocked(tr, EventMDTerminated, vos.NewError(vos.KindIO, "closeMDConn", nil))
			tr.state = mdAborted
			delete(s.mdSessions, id)
			s.deadlines.removeMD(id)
		}
	}
}

// getTCPMDStatistics returns the last sampled TCP_INFO for the connection
// to peer, if one is open (spec §4.8, §4.6 "[DOMAIN] TCP session statistics").
func (s *Session) getTCPMDStatistics(peer string) (vos.TCPConnStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.mdConns[peer]
	if !ok {
		return vos.TCPConnStats{}, false
	}
	c.last = vos.SampleTCPInfo(c.conn)
	return c.last, true
}
