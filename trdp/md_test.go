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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcnopen/trdp-go/frame"
	"github.com/tcnopen/trdp-go/vos"
)

func TestMDNotifyDoesNotOpenASession(t *testing.T) {
	s := newTestSession(t)
	err := s.Notify(NotifyParams{ComID: 200, DestIP: net.ParseIP("127.0.0.1"), Payload: []byte("hi")})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.stats.Snapshot().MDUDPSent)
	assert.Empty(t, s.mdSessions)
}

func TestMDRequestReplyConfirmFlow(t *testing.T) {
	s := newTestSession(t)
	var events []Event
	id, err := s.Request(RequestParams{
		ComID: 200, DestIP: net.ParseIP("127.0.0.1"), Payload: []byte("req"),
		Callback: func(e Event) { events = append(events, e) },
	})
	require.NoError(t, err)

	s.mu.Lock()
	tr, ok := s.mdSessions[id]
	require.True(t, ok)
	assert.Equal(t, mdSentRequest, tr.state)
	s.mu.Unlock()

	replyHdr := &frame.MDHeader{CommonHeader: frame.CommonHeader{MsgType: frame.MsgMq, ComId: 200}, SessionID: id}
	s.mu.Lock()
	s.dispatchMDLocked(replyHdr, []byte("reply"), &net.UDPAddr{IP: net.ParseIP("127.0.0.1")}, transportUDP)
	s.mu.Unlock()

	require.Len(t, events, 1)
	assert.Equal(t, EventMDReceived, events[0].Kind)
	assert.Equal(t, mdReceivedReply, tr.state)

	require.NoError(t, s.Confirm(id, 0))
	assert.Equal(t, mdDone, tr.state)
	s.mu.Lock()
	_, stillThere := s.mdSessions[id]
	s.mu.Unlock()
	assert.False(t, stillThere)
}

func TestMDReplierFlowWithoutConfirm(t *testing.T) {
	s := newTestSession(t)
	var heard Event
	s.AddListener(200, "", func(e Event) { heard = e })

	reqHdr := &frame.MDHeader{CommonHeader: frame.CommonHeader{MsgType: frame.MsgMr, ComId: 200}, SessionID: vos.UUID{1}}
	s.mu.Lock()
	s.dispatchMDLocked(reqHdr, []byte("req"), &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: s.mdCfg.UDPPort}, transportUDP)
	s.mu.Unlock()

	assert.Equal(t, EventMDReceived, heard.Kind)
	require.NoError(t, s.Reply(ReplyParams{SessionID: vos.UUID{1}, Payload: []byte("resp")}))

	s.mu.Lock()
	_, stillThere := s.mdSessions[vos.UUID{1}]
	s.mu.Unlock()
	assert.False(t, stillThere, "Reply without confirm closes the transaction immediately")
}

func TestMDReplierFlowWithConfirm(t *testing.T) {
	s := newTestSession(t)
	sessID := vos.UUID{2}
	reqHdr := &frame.MDHeader{CommonHeader: frame.CommonHeader{MsgType: frame.MsgMr, ComId: 200}, SessionID: sessID}
	s.mu.Lock()
	s.dispatchMDLocked(reqHdr, []byte("req"), &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: s.mdCfg.UDPPort}, transportUDP)
	s.mu.Unlock()

	require.NoError(t, s.ReplyQuery(ReplyParams{SessionID: sessID, Payload: []byte("resp")}))
	s.mu.Lock()
	tr, ok := s.mdSessions[sessID]
	require.True(t, ok)
	assert.Equal(t, mdSentReply, tr.state)
	s.mu.Unlock()

	confirmHdr := &frame.MDHeader{CommonHeader: frame.CommonHeader{MsgType: frame.MsgMc, ComId: 200}, SessionID: sessID}
	s.mu.Lock()
	s.dispatchMDLocked(confirmHdr, nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1")}, transportUDP)
	_, stillThere := s.mdSessions[sessID]
	s.mu.Unlock()
	assert.False(t, stillThere)
	assert.Equal(t, mdDone, tr.state)
}

// TestMDRequestRetriesProducesAtMostNPlusOneTransmissions exercises spec
// §8.1's "retries=n produces at most n+1 transmissions" bound: with
// Retries=2, the initial Mr plus two resends must all time out before the
// transaction fails with REPLYTO.
func TestMDRequestRetriesProducesAtMostNPlusOneTransmissions(t *testing.T) {
	s := newTestSession(t)
	var events []Event
	id, err := s.Request(RequestParams{
		ComID: 200, DestIP: net.ParseIP("127.0.0.1"), Payload: []byte("req"),
		Retries:  2,
		Callback: func(e Event) { events = append(events, e) },
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.stats.Snapshot().MDUDPSent, "the initial Mr")

	expireAndSweep := func() {
		s.mu.Lock()
		s.mdSessions[id].replyTimeout = vos.TimeSpecFromDuration(s.Now().Duration() - time.Second)
		s.mu.Unlock()
		s.sweepMDDeadlines()
	}

	expireAndSweep()
	assert.Equal(t, uint64(1), s.stats.Snapshot().MDRetries, "first timeout retries rather than failing")
	s.mu.Lock()
	_, stillThere := s.mdSessions[id]
	s.mu.Unlock()
	assert.True(t, stillThere)

	expireAndSweep()
	assert.Equal(t, uint64(2), s.stats.Snapshot().MDRetries, "second timeout retries again: retries=2 allows two resends")
	assert.Equal(t, uint64(3), s.stats.Snapshot().MDUDPSent, "initial + two retries = three Mr on the wire")
	s.mu.Lock()
	_, stillThere = s.mdSessions[id]
	s.mu.Unlock()
	assert.True(t, stillThere)

	expireAndSweep()
	require.Len(t, events, 1)
	assert.Equal(t, EventMDTerminated, events[0].Kind)
	assert.True(t, vos.IsKind(events[0].Err, vos.KindReplyTo))
	assert.Equal(t, uint64(1), s.stats.Snapshot().MDReplyTimeouts)
	assert.Equal(t, uint64(2), s.stats.Snapshot().MDRetries, "no further retry once retriesLeft is exhausted")
}

func TestMDRequestDefaultRetriesIsZero(t *testing.T) {
	s := newTestSession(t)
	var events []Event
	id, err := s.Request(RequestParams{
		ComID: 200, DestIP: net.ParseIP("127.0.0.1"), Payload: []byte("req"),
		Callback: func(e Event) { events = append(events, e) },
	})
	require.NoError(t, err)

	s.mu.Lock()
	s.mdSessions[id].replyTimeout = vos.TimeSpecFromDuration(s.Now().Duration() - time.Second)
	s.mu.Unlock()
	s.sweepMDDeadlines()

	require.Len(t, events, 1)
	assert.Equal(t, EventMDTerminated, events[0].Kind)
	assert.True(t, vos.IsKind(events[0].Err, vos.KindReplyTo))
	assert.Equal(t, uint64(0), s.stats.Snapshot().MDRetries, "an unset Retries means a single transmission, no retries")
}

func TestMDRequestReceivedReplyAppConfirmTimeoutAborts(t *testing.T) {
	s := newTestSession(t)
	var events []Event
	id, err := s.Request(RequestParams{
		ComID: 200, DestIP: net.ParseIP("127.0.0.1"), Payload: []byte("req"),
		ConfirmTimeout: time.Second,
		Callback:       func(e Event) { events = append(events, e) },
	})
	require.NoError(t, err)

	replyHdr := &frame.MDHeader{CommonHeader: frame.CommonHeader{MsgType: frame.MsgMq, ComId: 200}, SessionID: id}
	s.mu.Lock()
	s.dispatchMDLocked(replyHdr, []byte("reply"), &net.UDPAddr{IP: net.ParseIP("127.0.0.1")}, transportUDP)
	tr := s.mdSessions[id]
	require.Equal(t, mdReceivedReply, tr.state)
	tr.confirmDue = vos.TimeSpecFromDuration(s.Now().Duration() - time.Second)
	s.mu.Unlock()

	s.sweepMDDeadlines()

	require.Len(t, events, 2, "one EventMDReceived for the reply, one EventMDTerminated for the app-confirm timeout")
	assert.Equal(t, EventMDTerminated, events[1].Kind)
	assert.True(t, vos.IsKind(events[1].Err, vos.KindAppConfirmTo))
	s.mu.Lock()
	_, stillThere := s.mdSessions[id]
	s.mu.Unlock()
	assert.False(t, stillThere, "an app that never confirms must not leak the transaction")
}

func TestMDConfirmTimeoutAbortsReplierSession(t *testing.T) {
	s := newTestSession(t)
	sessID := vos.UUID{3}
	reqHdr := &frame.MDHeader{CommonHeader: frame.CommonHeader{MsgType: frame.MsgMr, ComId: 200}, SessionID: sessID}
	s.mu.Lock()
	s.dispatchMDLocked(reqHdr, []byte("req"), &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: s.mdCfg.UDPPort}, transportUDP)
	s.mu.Unlock()
	require.NoError(t, s.ReplyQuery(ReplyParams{SessionID: sessID, Payload: []byte("resp")}))

	s.mu.Lock()
	tr := s.mdSessions[sessID]
	tr.confirmDue = vos.TimeSpecFromDuration(s.Now().Duration() - time.Second)
	s.mu.Unlock()

	s.sweepMDDeadlines()
	assert.Equal(t, uint64(1), s.stats.Snapshot().MDConfirmTimeout)
	s.mu.Lock()
	_, stillThere := s.mdSessions[sessID]
	s.mu.Unlock()
	assert.False(t, stillThere)
}

func TestAbortSessionRemovesTransaction(t *testing.T) {
	s := newTestSession(t)
	id, err := s.Request(RequestParams{ComID: 200, DestIP: net.ParseIP("127.0.0.1"), Payload: []byte("req")})
	require.NoError(t, err)
	require.NoError(t, s.AbortSession(id))
	s.mu.Lock()
	_, stillThere := s.mdSessions[id]
	s.mu.Unlock()
	assert.False(t, stillThere)
}
