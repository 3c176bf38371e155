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
)

func TestDeadlineQueueOrdering(t *testing.T) {
	q := newDeadlineQueue()
	q.upsertPublisher(1, 30*time.Second)
	q.upsertPublisher(2, 10*time.Second)
	q.upsertSubscriber(1, 20*time.Second)

	at, ok := q.earliest()
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, at)

	q.removePublisher(2)
	at, ok = q.earliest()
	require.True(t, ok)
	assert.Equal(t, 20*time.Second, at)

	q.upsertPublisher(1, 5*time.Second)
	at, ok = q.earliest()
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, at, "upsert on an existing key must re-heapify, not duplicate")
}

func TestDeadlineQueueEmpty(t *testing.T) {
	q := newDeadlineQueue()
	_, ok := q.earliest()
	assert.False(t, ok)
}

func TestGetIntervalReflectsEarliestPublisherDeadline(t *testing.T) {
	s := newTestSession(t)
	assert.Equal(t, time.Second, s.GetInterval(time.Second), "no deadlines queued: fall back to maxWait")

	_, err := s.Publish(PublishParams{
		ComID: 100, SrcIP: net.ParseIP("127.0.0.1"), DestIP: net.ParseIP("127.0.0.1"),
		Interval: time.Millisecond, Payload: []byte("x"),
	})
	require.NoError(t, err)

	wait := s.GetInterval(time.Second)
	assert.LessOrEqual(t, wait, time.Millisecond)
}

func TestGetIntervalNeverNegative(t *testing.T) {
	s := newTestSession(t)
	_, err := s.Publish(PublishParams{
		ComID: 100, SrcIP: net.ParseIP("127.0.0.1"), DestIP: net.ParseIP("127.0.0.1"),
		Interval: time.Millisecond, Payload: []byte("x"),
	})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, time.Duration(0), s.GetInterval(time.Second))
}

func TestProcessSweepsSubscriberTimeouts(t *testing.T) {
	s := newTestSession(t)
	sub, err := s.Subscribe(SubscribeParams{ComID: 100, Timeout: time.Millisecond})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	events := s.Process(time.Millisecond)
	require.NotEmpty(t, events)
	assert.Equal(t, EventPDTimeout, events[0].Kind)
	assert.Equal(t, sub.ComID, events[0].ComID)
}
