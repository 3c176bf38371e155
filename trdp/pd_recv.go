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

// comIDKnown reports whether comID names either a registered dataset or
// an active subscriber/listener — used by the frame codec's COMID check.
func (s *Session) comIDKnown(comID uint32) bool {
	if s.comIDMap != nil {
		if _, ok := s.comIDMap.Resolve(comID); ok {
			return true
		}
	}
	if isStatsComID(comID) {
		return true
	}
	for _, sub := range s.subscribers {
		if sub.ComID == comID {
			return true
		}
	}
	for _, l := range s.listeners {
		if l.ComID == comID {
			return true
		}
	}
	return false
}

// matchesFilter reports whether srcIP satisfies filter, where a nil or
// unspecified filter is a wildcard (spec §4.5 "filter value 0 = wildcard").
func matchesFilter(filter, srcIP net.IP) bool {
	if filter == nil || filter.IsUnspecified() {
		return true
	}
	return filter.Equal(srcIP)
}

// newer reports whether seq is strictly newer than last in the 32-bit
// signed-difference sense spec §4.5 "Ordering" requires, tolerant of
// wraparound.
func newer(seq, last uint32) bool {
	return int32(seq-last) > 0
}

// receivePD handles one PD datagram from src (spec §4.5 "Receive side").
// Frame-level rejections are counted and dropped silently, per §7's
// propagation policy; they never reach the caller as an error.
func (s *Session) receivePD(data []byte, src *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, payload, err := frame.ParsePD(data, s.topo, s.comIDKnown)
	if err != nil {
		if vos.IsKind(err, vos.KindComID) {
			s.stats.incPDNoSubscriber()
			return
		}
		s.countPDRejection(err)
		return
	}
	s.stats.incPDReceived()

	now := s.Now()
	delivered := false
	for _, sub := range s.subscribers {
		if sub.ComID != h.ComId {
			continue
		}
		if !(matchesFilter(sub.SrcIP1, src.IP) || matchesFilter(sub.SrcIP2, src.IP)) {
			continue
		}
		if sub.hasLastSeq && !newer(h.SequenceCounter, sub.lastSeq) {
			continue // strictly-older or duplicate, spec §4.5 "Ordering"
		}
		sub.lastSeq = h.SequenceCounter
		sub.hasLastSeq = true
		sub.lastPayload = append([]byte(nil), payload...)
		sub.deadline = vos.TimeSpecFromDuration(now.Duration() + sub.Timeout)
		sub.timedOut = false
		s.deadlines.upsertSubscriber(sub.ID, sub.deadline.Duration())
		delivered = true

		ev := Event{Kind: EventPDReceived, ComID: h.ComId, SrcIP: src.IP, Payload: sub.lastPayload, SubscriberID: sub.ID}
		if sub.Callback != nil {
			sub.Callback(ev)
		} else {
			s.pendingEvents = append(s.pendingEvents, ev)
		}
	}
	if !delivered {
		s.stats.incPDNoSubscriber()
	}
}

// countPDRejection classifies a ParsePD failure into the matching
// statistics counter (spec §7 propagation policy, §4.8).
func (s *Session) countPDRejection(err error) {
	switch {
	case vos.IsKind(err, vos.KindCRC):
		s.stats.incPDCRCError()
	case vos.IsKind(err, vos.KindTopo):
		s.stats.incPDTopoError()
	default:
		s.stats.incPDProtocolError()
	}
}

// sweepPDTimeouts delivers exactly one TIMEOUT notification per
// subscriber whose deadline has passed since its last accepted frame
// (spec §4.5 "Timeout", §8.1 "Timeout exactness").
func (s *Session) sweepPDTimeouts() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	for _, sub := range s.subscribers {
		if sub.timedOut || now.Compare(sub.deadline) < 0 {
			continue
		}
		sub.timedOut = true
		s.deadlines.removeSubscriber(sub.ID)
		if sub.Behaviour == TimeoutZero {
			sub.lastPayload = make([]byte, len(sub.lastPayload))
		}
		s.stats.incPDTimeout()
		ev := Event{Kind: EventPDTimeout, ComID: sub.ComID, Payload: sub.lastPayload, SubscriberID: sub.ID, Err: vos.NewError(vos.KindTimeout, "sweepPDTimeouts", nil)}
		if sub.Callback != nil {
			sub.Callback(ev)
		} else {
			s.pendingEvents = append(s.pendingEvents, ev)
		}
	}
}
