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

	log "github.com/sirupsen/logrus"

	"github.com/tcnopen/trdp-go/frame"
	"github.com/tcnopen/trdp-go/vos"
)

// overdueFactor is how many interval-lengths a publisher may run behind
// before its deadline is abandoned and rescheduled from now, rather than
// walked forward one interval at a time (spec §4.5, resolving the open
// question in spec §9 to enforce the constant unconditionally).
const overdueFactor = 10

// processSendSide walks the publisher list, transmitting every publisher
// whose deadline has passed and whose redundancy group currently leads
// (spec §4.5 "Send side").
func (s *Session) processSendSide() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	for _, pub := range s.publishers {
		if now.Compare(pub.deadline) < 0 {
			continue
		}
		if pub.RedID != 0 && s.redundancy[pub.RedID] == Follower {
			pub.deadline = vos.TimeSpecFromDuration(now.Duration() + pub.Interval)
			s.deadlines.upsertPublisher(pub.ID, pub.deadline.Duration())
			continue
		}
		s.sendPublisherFrame(pub, now)

		overdueBy := now.Duration() - pub.deadline.Duration()
		if overdueBy > pub.Interval*overdueFactor {
			log.Warnf("trdp: publisher comId=%d missed %d+ cycles, resyncing", pub.ComID, overdueFactor)
			s.stats.incPDCyclicMiss()
			pub.deadline = vos.TimeSpecFromDuration(now.Duration() + pub.Interval)
		} else {
			pub.deadline = vos.TimeSpecFromDuration(pub.deadline.Duration() + pub.Interval)
		}
		s.deadlines.upsertPublisher(pub.ID, pub.deadline.Duration())
	}
}

func (s *Session) sendPublisherFrame(pub *Publisher, now vos.TimeSpec) {
	h := &frame.PDHeader{
		CommonHeader: frame.CommonHeader{
			SequenceCounter: pub.seq,
			MsgType:         frame.MsgPd,
			ComId:           pub.ComID,
			Topo:            s.topo,
		},
	}
	pub.seq++

	buf, err := frame.PackPD(h, pub.payload)
	if err != nil {
		log.Errorf("trdp: pack PD comId=%d: %v", pub.ComID, err)
		return
	}
	dst := &net.UDPAddr{IP: pub.DestIP, Port: s.pdCfg.Port}
	if err := s.pdSocket.SendUDP(buf, dst); err != nil {
		log.Errorf("trdp: send PD comId=%d: %v", pub.ComID, err)
		return
	}
	s.stats.incPDSent()
}
