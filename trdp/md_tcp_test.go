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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tcnopen/trdp-go/frame"
	"github.com/tcnopen/trdp-go/vos"
)

// newTCPConnPair returns two ends of a real loopback TCP connection, since
// mdConn embeds a *net.TCPConn rather than the net.Conn interface.
func newTCPConnPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptedCh := make(chan *net.TCPConn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			acceptedCh <- c.(*net.TCPConn)
		}
	}()

	dialed, err := net.DialTCP("tcp", nil, ln.Addr().(*net.TCPAddr))
	require.NoError(t, err)
	accepted := <-acceptedCh
	return dialed, accepted
}

func packTestMD(t *testing.T, comID uint32, msgType frame.MsgType, sessID vos.UUID, payload []byte) []byte {
	t.Helper()
	h := &frame.MDHeader{CommonHeader: frame.CommonHeader{MsgType: msgType, ComId: comID}, SessionID: sessID}
	buf, err := frame.PackMD(h, payload)
	require.NoError(t, err)
	return buf
}

func TestFeedMDTCPDeliversOneCompleteFrame(t *testing.T) {
	s := newTestSession(t)
	var heard Event
	s.AddListener(200, "", func(e Event) { heard = e })

	client, server := newTCPConnPair(t)
	defer client.Close()
	defer server.Close()
	c := &mdConn{conn: server}

	buf := packTestMD(t, 200, frame.MsgMn, vos.UUID{1}, []byte("payload"))
	s.feedMDTCP(c, buf)

	require.Equal(t, EventMDReceived, heard.Kind)
	require.Equal(t, []byte("payload"), heard.MDPayload)
	require.Empty(t, c.buf, "a fully consumed frame leaves no residue")
}

func TestFeedMDTCPReassemblesSplitFrame(t *testing.T) {
	s := newTestSession(t)
	var heard Event
	s.AddListener(200, "", func(e Event) { heard = e })

	client, server := newTCPConnPair(t)
	defer client.Close()
	defer server.Close()
	c := &mdConn{conn: server}

	buf := packTestMD(t, 200, frame.MsgMn, vos.UUID{1}, []byte("split-me"))
	mid := len(buf) / 2

	s.feedMDTCP(c, buf[:mid])
	require.Equal(t, EventKind(0), heard.Kind, "nothing delivered before the frame is complete")
	require.NotEmpty(t, c.buf)

	s.feedMDTCP(c, buf[mid:])
	require.Equal(t, EventMDReceived, heard.Kind)
	require.Equal(t, []byte("split-me"), heard.MDPayload)
}

func TestFeedMDTCPHandlesTwoFramesInOneChunk(t *testing.T) {
	s := newTestSession(t)
	var heard []Event
	s.AddListener(200, "", func(e Event) { heard = append(heard, e) })

	client, server := newTCPConnPair(t)
	defer client.Close()
	defer server.Close()
	c := &mdConn{conn: server}

	first := packTestMD(t, 200, frame.MsgMn, vos.UUID{1}, []byte("one"))
	second := packTestMD(t, 200, frame.MsgMn, vos.UUID{2}, []byte("two"))
	s.feedMDTCP(c, append(first, second...))

	require.Len(t, heard, 2)
	require.Equal(t, []byte("one"), heard[0].MDPayload)
	require.Equal(t, []byte("two"), heard[1].MDPayload)
}

func TestCloseMDConnAbortsTransactionsOnThatConnection(t *testing.T) {
	s := newTestSession(t)
	client, server := newTCPConnPair(t)
	defer client.Close()

	s.mu.Lock()
	c := &mdConn{conn: server}
	s.mdConns[server.RemoteAddr().String()] = c
	tr := &mdTransaction{id: vos.UUID{5}, role: roleRequester, state: mdSentRequest, transport: transportTCP, peer: server.RemoteAddr()}
	s.mdSessions[tr.id] = tr
	s.mu.Unlock()

	var gotTerminated bool
	tr.callback = func(e Event) {
		if e.Kind == EventMDTerminated {
			gotTerminated = true
		}
	}

	s.closeMDConn(c)

	s.mu.Lock()
	_, stillThere := s.mdSessions[tr.id]
	_, connStillThere := s.mdConns[server.RemoteAddr().String()]
	s.mu.Unlock()
	require.False(t, stillThere)
	require.False(t, connStillThere)
	require.True(t, gotTerminated)
}

func TestGetTCPMDStatisticsUnknownPeer(t *testing.T) {
	s := newTestSession(t)
	_, ok := s.getTCPMDStatistics("127.0.0.1:1")
	require.False(t, ok)
}

func TestGetTCPMDStatisticsKnownPeer(t *testing.T) {
	s := newTestSession(t)
	client, server := newTCPConnPair(t)
	defer client.Close()
	defer server.Close()

	s.mu.Lock()
	s.mdConns[server.RemoteAddr().String()] = &mdConn{conn: server}
	s.mu.Unlock()

	_, ok := s.getTCPMDStatistics(server.RemoteAddr().String())
	require.True(t, ok)
}
