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

	"github.com/tcnopen/trdp-go/dataset"
	"github.com/tcnopen/trdp-go/frame"
	"github.com/tcnopen/trdp-go/vos"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	pdCfg := DefaultPDConfig()
	pdCfg.Port = 0 // let the kernel pick, so parallel test runs never collide
	mdCfg := DefaultMDConfig()
	mdCfg.UDPPort = 0
	mdCfg.TCPPort = 0

	s, err := OpenSession(
		ProcessConfig{HostName: "test"},
		net.ParseIP("127.0.0.1"), nil,
		pdCfg, mdCfg,
		dataset.NewRegistry(), dataset.ComIDMap{},
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.CloseSession() })
	return s
}

func packTestPD(t *testing.T, comID uint32, seq uint32, payload []byte) []byte {
	t.Helper()
	h := &frame.PDHeader{CommonHeader: frame.CommonHeader{SequenceCounter: seq, MsgType: frame.MsgPd, ComId: comID}}
	buf, err := frame.PackPD(h, payload)
	require.NoError(t, err)
	return buf
}

func TestPDReceiveDeliversToSubscriberCallback(t *testing.T) {
	s := newTestSession(t)
	var got Event
	_, err := s.Subscribe(SubscribeParams{
		ComID: 100, Timeout: time.Second,
		Callback: func(e Event) { got = e },
	})
	require.NoError(t, err)

	buf := packTestPD(t, 100, 1, []byte("hello"))
	s.receivePD(buf, &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})

	assert.Equal(t, EventPDReceived, got.Kind)
	assert.Equal(t, []byte("hello"), got.Payload)
}

func TestPDReceiveIgnoresUnknownComID(t *testing.T) {
	s := newTestSession(t)
	var called bool
	_, err := s.Subscribe(SubscribeParams{ComID: 100, Timeout: time.Second, Callback: func(Event) { called = true }})
	require.NoError(t, err)

	buf := packTestPD(t, 999, 1, []byte("x"))
	s.receivePD(buf, &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	assert.False(t, called)
	assert.Equal(t, uint64(1), s.stats.Snapshot().PDNoSubscriber)
}

func TestPDSequenceOrderingDropsStaleFrames(t *testing.T) {
	s := newTestSession(t)
	var payloads [][]byte
	_, err := s.Subscribe(SubscribeParams{
		ComID: 100, Timeout: time.Second,
		Callback: func(e Event) { payloads = append(payloads, e.Payload) },
	})
	require.NoError(t, err)

	src := &net.UDPAddr{IP: net.ParseIP("127.0.0.1")}
	s.receivePD(packTestPD(t, 100, 5, []byte("five")), src)
	s.receivePD(packTestPD(t, 100, 3, []byte("three")), src) // older, must be dropped
	s.receivePD(packTestPD(t, 100, 5, []byte("dup")), src)   // duplicate, must be dropped
	s.receivePD(packTestPD(t, 100, 6, []byte("six")), src)

	require.Len(t, payloads, 2)
	assert.Equal(t, []byte("five"), payloads[0])
	assert.Equal(t, []byte("six"), payloads[1])
}

func TestPDSequenceOrderingToleratesWraparound(t *testing.T) {
	s := newTestSession(t)
	var payloads [][]byte
	_, err := s.Subscribe(SubscribeParams{
		ComID: 100, Timeout: time.Second,
		Callback: func(e Event) { payloads = append(payloads, e.Payload) },
	})
	require.NoError(t, err)

	src := &net.UDPAddr{IP: net.ParseIP("127.0.0.1")}
	s.receivePD(packTestPD(t, 100, 0xFFFFFFFF, []byte("last")), src)
	s.receivePD(packTestPD(t, 100, 0, []byte("wrapped")), src)

	require.Len(t, payloads, 2)
	assert.Equal(t, []byte("wrapped"), payloads[1])
}

func TestPDTimeoutZeroClearsPayload(t *testing.T) {
	s := newTestSession(t)
	var events []Event
	sub, err := s.Subscribe(SubscribeParams{
		ComID: 100, Timeout: time.Second, Behaviour: TimeoutZero,
		Callback: func(e Event) { events = append(events, e) },
	})
	require.NoError(t, err)

	s.receivePD(packTestPD(t, 100, 1, []byte("hello")), &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.Equal(t, []byte("hello"), sub.lastPayload)

	s.mu.Lock()
	sub.deadline = vos.TimeSpecFromDuration(s.Now().Duration() - time.Second)
	s.mu.Unlock()

	s.sweepPDTimeouts()
	require.Len(t, events, 2)
	assert.Equal(t, EventPDTimeout, events[1].Kind)
	assert.Equal(t, []byte{0, 0, 0, 0, 0}, sub.lastPayload)

	events = nil
	s.sweepPDTimeouts()
	assert.Empty(t, events, "must fire exactly one TIMEOUT notification per timeout event")
}

func TestPDTimeoutKeepLastPreservesPayload(t *testing.T) {
	s := newTestSession(t)
	sub, err := s.Subscribe(SubscribeParams{ComID: 100, Timeout: time.Second, Behaviour: TimeoutKeepLast})
	require.NoError(t, err)
	s.receivePD(packTestPD(t, 100, 1, []byte("hello")), &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})

	s.mu.Lock()
	sub.deadline = vos.TimeSpecFromDuration(s.Now().Duration() - time.Second)
	s.mu.Unlock()
	s.sweepPDTimeouts()

	assert.Equal(t, []byte("hello"), sub.lastPayload)
}

func TestRedundantFollowerSuppressesSend(t *testing.T) {
	s := newTestSession(t)
	pub, err := s.Publish(PublishParams{
		ComID: 100, SrcIP: net.ParseIP("127.0.0.1"), DestIP: net.ParseIP("127.0.0.1"),
		Interval: 10 * time.Millisecond, RedID: 1, Payload: []byte("x"),
	})
	require.NoError(t, err)
	s.SetRedundant(1, true)
	assert.Equal(t, Follower, s.GetRedundant(1))

	s.mu.Lock()
	pub.deadline = vos.TimeSpecFromDuration(s.Now().Duration() - time.Second)
	s.mu.Unlock()

	s.processSendSide()
	assert.Equal(t, uint32(0), pub.seq, "a follower publisher must not transmit")
	assert.Equal(t, uint64(0), s.stats.Snapshot().PDSent)
}

func TestPublisherOverdueResync(t *testing.T) {
	s := newTestSession(t)
	pub, err := s.Publish(PublishParams{
		ComID: 100, SrcIP: net.ParseIP("127.0.0.1"), DestIP: net.ParseIP("127.0.0.1"),
		Interval: time.Millisecond, Payload: []byte("x"),
	})
	require.NoError(t, err)

	s.mu.Lock()
	pub.deadline = vos.TimeSpecFromDuration(s.Now().Duration() - time.Second)
	s.mu.Unlock()

	s.processSendSide()
	assert.Equal(t, uint32(1), pub.seq, "exactly one frame is sent even after a long overdue gap")
	assert.Equal(t, uint64(1), s.stats.Snapshot().PDCyclicMiss)
}

func TestPutWithoutPushOnChangeKeepsSchedule(t *testing.T) {
	s := newTestSession(t)
	pub, err := s.Publish(PublishParams{
		ComID: 100, SrcIP: net.ParseIP("127.0.0.1"), DestIP: net.ParseIP("127.0.0.1"),
		Interval: time.Hour, Payload: []byte("x"),
	})
	require.NoError(t, err)
	before := pub.deadline

	require.NoError(t, s.Put(pub, []byte("y")))
	assert.Equal(t, before, pub.deadline)
	assert.Equal(t, []byte("y"), pub.payload)
}

func TestPutWithPushOnChangeResetsDeadline(t *testing.T) {
	s := newTestSession(t)
	pub, err := s.Publish(PublishParams{
		ComID: 100, SrcIP: net.ParseIP("127.0.0.1"), DestIP: net.ParseIP("127.0.0.1"),
		Interval: time.Hour, Payload: []byte("x"), PushOnChange: true,
	})
	require.NoError(t, err)
	before := pub.deadline

	time.Sleep(time.Millisecond)
	require.NoError(t, s.Put(pub, []byte("y")))
	assert.True(t, pub.deadline.Compare(before) > 0)
}
