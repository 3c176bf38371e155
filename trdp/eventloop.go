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
	"container/heap"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

// recvQueueDepth bounds each reader goroutine's channel; a full channel
// means Process isn't keeping up, and the reader drops the newest
// datagram rather than block the kernel's receive buffer indefinitely.
const recvQueueDepth = 256

type pdDatagram struct {
	data []byte
	src  *net.UDPAddr
}

type mdStreamChunk struct {
	conn *mdConn
	data []byte
}

// deadlineKind distinguishes which vector a deadlineEntry indexes into.
type deadlineKind int

const (
	deadlinePublisher deadlineKind = iota
	deadlineSubscriber
	deadlineMD
)

type deadlineKey struct {
	kind deadlineKind
	id   int
	uuid SessionUUID
}

// deadlineEntry is one item of the deadline min-heap (spec §4.7, §9
// "deadline min-heap" redesign flag).
type deadlineEntry struct {
	key   deadlineKey
	at    time.Duration // session-clock offset, comparable via time.Duration subtraction
	index int
}

// deadlineQueue is a container/heap-backed min-heap over every publisher's
// next-send deadline, every subscriber's timeout deadline, and every MD
// session's active deadline. It exists to answer GetInterval's "how long
// until the next thing is due" query in O(log n) instead of a linear scan;
// Process always performs the authoritative O(n) sweep over the
// publisher/subscriber/MD-session tables regardless of what GetInterval
// predicted, so a heap entry that is briefly stale (updated out of order)
// only costs a slightly suboptimal sleep, never a missed or duplicated
// delivery.
type deadlineQueue struct {
	items []*deadlineEntry
	index map[deadlineKey]*deadlineEntry
}

func newDeadlineQueue() *deadlineQueue {
	return &deadlineQueue{index: make(map[deadlineKey]*deadlineEntry)}
}

func (q *deadlineQueue) Len() int { return len(q.items) }
func (q *deadlineQueue) Less(i, j int) bool { return q.items[i].at < q.items[j].at }
func (q *deadlineQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *deadlineQueue) Push(x interface{}) {
	e := x.(*deadlineEntry)
	e.index = len(q.items)
	q.items = append(q.items, e)
}

func (q *deadlineQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return e
}

func (q *deadlineQueue) upsert(key deadlineKey, at time.Duration) {
	if e, ok := q.index[key]; ok {
		e.at = at
		heap.Fix(q, e.index)
		return
	}
	e := &deadlineEntry{key: key, at: at}
	q.index[key] = e
	heap.Push(q, e)
}

func (q *deadlineQueue) remove(key deadlineKey) {
	e, ok := q.index[key]
	if !ok {
		return
	}
	heap.Remove(q, e.index)
	delete(q.index, key)
}

func (q *deadlineQueue) upsertPublisher(id int, at time.Duration) {
	q.upsert(deadlineKey{kind: deadlinePublisher, id: id}, at)
}
func (q *deadlineQueue) removePublisher(id int) {
	q.remove(deadlineKey{kind: deadlinePublisher, id: id})
}
func (q *deadlineQueue) upsertSubscriber(id int, at time.Duration) {
	q.upsert(deadlineKey{kind: deadlineSubscriber, id: id}, at)
}
func (q *deadlineQueue) removeSubscriber(id int) {
	q.remove(deadlineKey{kind: deadlineSubscriber, id: id})
}

// upsertMD/removeMD take a TimeSpec-derived offset; SessionUUID keys the
// entry since MD sessions don't have a stable int id.
func (q *deadlineQueue) upsertMD(id SessionUUID, at interface{ Duration() time.Duration }) {
	q.upsert(deadlineKey{kind: deadlineMD, uuid: id}, at.Duration())
}
func (q *deadlineQueue) removeMD(id SessionUUID) {
	q.remove(deadlineKey{kind: deadlineMD, uuid: id})
}

// earliest returns the smallest deadline currently queued.
func (q *deadlineQueue) earliest() (time.Duration, bool) {
	if len(q.items) == 0 {
		return 0, false
	}
	return q.items[0].at, true
}

// GetInterval returns how long the caller may block before the next
// deadline (publisher send, subscriber timeout, or MD session timeout)
// needs servicing, capped at maxWait (spec §4.7).
func (s *Session) GetInterval(maxWait time.Duration) time.Duration {
	s.mu.Lock()
	at, ok := s.deadlines.earliest()
	now := s.Now().Duration()
	s.mu.Unlock()
	if !ok {
		return maxWait
	}
	wait := at - now
	if wait < 0 {
		return 0
	}
	if wait > maxWait {
		return maxWait
	}
	return wait
}

// Start launches the reader goroutines backing Process: one per socket,
// each feeding a bounded channel so a slow consumer never blocks the
// kernel's receive path for the others (spec §4.7, adapting the teacher's
// per-peer goroutine model in ptp/sptp/client/sptp.go to a single shared
// event loop). Start is idempotent. Process called without Start receives
// no frames but still runs the send side and the timeout sweeps.
func (s *Session) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.pdRecvCh = make(chan pdDatagram, recvQueueDepth)
	s.mdUDPRecvCh = make(chan pdDatagram, recvQueueDepth)
	s.mdTCPRecvCh = make(chan mdStreamChunk, recvQueueDepth)
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	go s.readUDPLoop(s.pdSocket.ReceiveUDP, s.pdRecvCh)
	go s.readUDPLoop(s.mdUDPSocket.ReceiveUDP, s.mdUDPRecvCh)
	go s.acceptMDTCPLoop()
}

func (s *Session) readUDPLoop(receive func([]byte) (int, *net.UDPAddr, error), out chan<- pdDatagram) {
	for {
		buf := make([]byte, 64*1024)
		n, src, err := receive(buf)
		select {
		case <-s.stopCh:
			return
		default:
		}
		if err != nil {
			log.Debugf("trdp: socket read: %v", err)
			continue
		}
		select {
		case out <- pdDatagram{data: buf[:n], src: src}:
		default:
			log.Warnf("trdp: receive queue full, dropping datagram from %s", src)
		}
	}
}

func (s *Session) acceptMDTCPLoop() {
	for {
		c, err := s.acceptMDTCP()
		select {
		case <-s.stopCh:
			return
		default:
		}
		if err != nil {
			log.Debugf("trdp: MD TCP accept: %v", err)
			continue
		}
		go s.readMDTCPLoop(c)
	}
}

func (s *Session) readMDTCPLoop(c *mdConn) {
	for {
		buf := make([]byte, 4096)
		n, err := c.conn.Read(buf)
		select {
		case <-s.stopCh:
			return
		default:
		}
		if err != nil {
			s.closeMDConn(c)
			return
		}
		select {
		case s.mdTCPRecvCh <- mdStreamChunk{conn: c, data: buf[:n]}:
		default:
			log.Warnf("trdp: MD TCP receive queue full, dropping %d bytes from %s", n, c.conn.RemoteAddr())
		}
	}
}

// Process drains whatever is ready on the session's sockets (up to a
// small batch, so one noisy source can't starve the others), advances
// the send-side scheduler, and fires any expired PD/MD deadlines,
// returning the events accumulated for subscribers/listeners registered
// without a callback (spec §4.7, §9 "Callbacks").
func (s *Session) Process(maxWait time.Duration) []Event {
	wait := s.GetInterval(maxWait)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	const batch = 32
drain:
	for i := 0; i < batch; i++ {
		select {
		case d := <-s.pdRecvCh:
			s.receivePD(d.data, d.src)
		case d := <-s.mdUDPRecvCh:
			s.receiveMDUDP(d.data, d.src)
		case c := <-s.mdTCPRecvCh:
			s.feedMDTCP(c.conn, c.data)
		case <-timer.C:
			break drain
		default:
			break drain
		}
	}

	s.processSendSide()
	s.sweepPDTimeouts()
	s.sweepMDDeadlines()

	s.mu.Lock()
	events := s.pendingEvents
	s.pendingEvents = nil
	s.mu.Unlock()
	return events
}

// Run calls Process in a loop until ctx-like stop is requested via Stop,
// the convenience entry point for hosts that don't want to drive the
// event loop themselves (spec §9 "Callbacks" — this is the callback-only
// usage mode).
func (s *Session) Run(cycleTime time.Duration) {
	s.Start()
	for {
		select {
		case <-s.stopCh:
			return
		default:
			s.Process(cycleTime)
		}
	}
}

// Stop ends a Run loop and the reader goroutines started by Start.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	close(s.stopCh)
	s.started = false
}
