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

// receiveMDUDP handles one MD datagram arriving on the UDP socket (spec
// §4.6). Frame-level rejections are counted and dropped, matching the PD
// side's propagation policy (spec §7).
func (s *Session) receiveMDUDP(data []byte, src *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, payload, err := frame.ParseMD(data, s.topo, s.comIDKnown)
	if err != nil {
		s.countPDRejection(err) // shares the PD counters' CRC/TOPO/protocol split
		return
	}
	s.stats.incMDUDPReceived()
	s.dispatchMDLocked(h, payload, src, transportUDP)
}

// dispatchMDLocked advances the session table (or creates a new
// replier-role entry) from a decoded MD header, per the spec §4.6 state
// table. peer is used for the UDP reply path; TCP replies reuse the
// connection the request arrived on.
func (s *Session) dispatchMDLocked(h *frame.MDHeader, payload []byte, peer net.Addr, transport mdTransport) {
	switch h.MsgType {
	case frame.MsgMn:
		s.deliverIncomingRequestLocked(h, payload, peer, transport, false)

	case frame.MsgMr:
		s.deliverIncomingRequestLocked(h, payload, peer, transport, true)

	case frame.MsgMp, frame.MsgMq:
		tr, ok := s.mdSessions[h.SessionID]
		if !ok || tr.role != roleRequester || tr.state != mdSentRequest {
			return // stale or unmatched reply, drop silently (spec §7)
		}
		tr.numReplies++
		tr.payload = append([]byte(nil), payload...)
		if h.MsgType == frame.MsgMq {
			tr.state = mdReceivedReply
			tr.confirmDue = vos.TimeSpecFromDuration(s.Now().Duration() + tr.confirmTimeoutDur)
			s.deadlines.upsertMD(tr.id, tr.confirmDue)
			s.deliverMDLocked(tr, EventMDReceived, nil)
			return
		}
		// Mp: no confirm expected. A multicast request keeps waiting for
		// more replies until numExpReplies is reached or it times out.
		s.deliverMDLocked(tr, EventMDReceived, nil)
		if tr.numReplies >= tr.numExpReplies {
			tr.state = mdDone
			delete(s.mdSessions, tr.id)
			s.deadlines.removeMD(tr.id)
		}

	case frame.MsgMc:
		tr, ok := s.mdSessions[h.SessionID]
		if !ok || tr.role != roleReplier || tr.state != mdSentReply {
			return
		}
		tr.state = mdReceivedConfirm
		s.deliverMDLocked(tr, EventMDReceived, nil)
		tr.state = mdDone
		delete(s.mdSessions, tr.id)
		s.deadlines.removeMD(tr.id)

	case frame.MsgMe:
		if tr, ok := s.mdSessions[h.SessionID]; ok {
			s.deliverMDLocked(tr, EventMDTerminated, vos.NewError(vos.KindSessionAbort, "dispatchMD", nil))
			tr.state = mdAborted
			delete(s.mdSessions, tr.id)
			s.deadlines.removeMD(tr.id)
		}
	}
}

// deliverIncomingRequestLocked handles a freshly received Mn/Mr: it finds
// the matching listener (if any), records a replier-role transaction for
// a request (so Reply/ReplyQuery can find it), and hands the payload to
// the listener's callback or the pending-events queue.
func (s *Session) deliverIncomingRequestLocked(h *frame.MDHeader, payload []byte, peer net.Addr, transport mdTransport, expectsReply bool) {
	var cb Callback
	for _, l := range s.listeners {
		if l.ComID == h.ComId {
			cb = l.Callback
			break
		}
	}

	if cb == nil && expectsReply && isStatsComID(h.ComId) {
		s.replyStatsRequestLocked(h, peer, transport)
		return
	}

	if expectsReply {
		tr := &mdTransaction{
			id:        h.SessionID,
			role:      roleReplier,
			state:     mdReceivedRequest,
			transport: transport,
			peer:      peer,
			comID:     h.ComId,
			payload:   append([]byte(nil), payload...),
			callback:  cb,
		}
		s.mdSessions[tr.id] = tr
	}

	ev := Event{Kind: EventMDReceived, SessionID: h.SessionID, MDComID: h.ComId, MDPayload: payload}
	if cb != nil {
		cb(ev)
	} else {
		s.pendingEvents = append(s.pendingEvents, ev)
	}
}
