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
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tcnopen/trdp-go/frame"
	"github.com/tcnopen/trdp-go/vos"
)

// SessionUUID identifies one MD transaction end to end (spec §3.1, §4.6).
type SessionUUID = vos.UUID

// mdRole distinguishes which end of a transaction this host plays.
type mdRole int

const (
	roleRequester mdRole = iota
	roleReplier
)

// mdTransport is the socket family a transaction travels over (spec §4.6).
type mdTransport int

const (
	transportUDP mdTransport = iota
	transportTCP
)

// mdState is the explicit transaction state enum spec §4.6/§9 calls for,
// replacing any coroutine/goroutine-per-session model: transitions happen
// under Session.mu, from Session.Process (received frames, expired
// deadlines) or from the API call acting on the transaction. One
// background goroutine does advance it: when a TCP MD connection fails,
// that connection's reader goroutine calls closeMDConn, which aborts the
// connection's transactions and runs their callbacks on that goroutine.
type mdState int

const (
	mdIdle mdState = iota
	mdSentRequest
	mdReceivedReply
	mdSentConfirm
	mdSentNotify
	mdReceivedRequest
	mdSentReply
	mdReceivedConfirm
	mdDone
	mdAborted
)

// mdTransaction is one entry of the session's MD session table (spec §4.6).
type mdTransaction struct {
	id    SessionUUID
	role  mdRole
	state mdState

	transport mdTransport
	peer      net.Addr
	comID     uint32

	payload      []byte
	replyTimeout vos.TimeSpec
	confirmDue   vos.TimeSpec

	// replyTimeoutDur and confirmTimeoutDur are the per-transaction
	// durations a requester's deadlines are (re)armed from: request-time
	// overrides if given, else the session's MD defaults (spec §4.6,
	// scenario §8.2.4).
	replyTimeoutDur   time.Duration
	confirmTimeoutDur time.Duration

	retriesLeft     int
	numExpReplies   int
	numReplies      int
	numConfirms     int
	wantConfirm     bool

	listener *Listener
	callback Callback
	userRef  interface{}
}

// NotifyParams is the argument bundle for Notify (spec §4.6, §6.2).
type NotifyParams struct {
	ComID   uint32
	DestIP  net.IP
	Payload []byte
}

// Notify sends a fire-and-forget MD telegram (Mn): no reply is expected
// and no session table entry is kept once sent (spec §4.6).
func (s *Session) Notify(p NotifyParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	uuid, err := vos.NewSessionUUID(now, s.mac)
	if err != nil {
		return err
	}
	h := &frame.MDHeader{
		CommonHeader: frame.CommonHeader{MsgType: frame.MsgMn, ComId: p.ComID, Topo: s.topo},
		SessionID:    uuid,
	}
	buf, err := frame.PackMD(h, p.Payload)
	if err != nil {
		return vos.NewError(vos.KindWire, "Notify", err)
	}
	dst := &net.UDPAddr{IP: p.DestIP, Port: s.mdCfg.UDPPort}
	if err := s.mdUDPSocket.SendUDP(buf, dst); err != nil {
		return err
	}
	s.stats.incMDUDPSent()
	return nil
}

// RequestParams is the argument bundle for Request (spec §4.6, §6.2).
type RequestParams struct {
	ComID         uint32
	DestIP        net.IP
	Payload       []byte
	NumExpReplies int // 0 means "exactly one"
	UseTCP        bool
	Callback      Callback
	UserRef       interface{}

	// Retries is the number of retransmissions to attempt after the
	// initial Mr before failing with REPLYTO: at most Retries+1
	// transmissions total (spec §4.6, §8.1, scenario §8.2.5).
	Retries int
	// ReplyTimeout and ConfirmTimeout override the session's MD defaults
	// for this transaction (scenario §8.2.4). Zero means "use the
	// session default".
	ReplyTimeout   time.Duration
	ConfirmTimeout time.Duration
}

// Request opens a new requester-role transaction and sends the initial Mr
// frame (spec §4.6). The reply (or replies, for a multicast request) is
// delivered through Callback or, if nil, via Process's returned events.
func (s *Session) Request(p RequestParams) (SessionUUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.mdSessions) >= s.mdCfg.MaxSessions {
		return SessionUUID{}, vos.NewError(vos.KindMem, "Request", fmt.Errorf("MD session table full (%d)", s.mdCfg.MaxSessions))
	}
	now := s.Now()
	uuid, err := vos.NewSessionUUID(now, s.mac)
	if err != nil {
		return SessionUUID{}, err
	}

	expReplies := p.NumExpReplies
	if expReplies <= 0 {
		expReplies = 1
	}
	replyTimeoutDur := p.ReplyTimeout
	if replyTimeoutDur <= 0 {
		replyTimeoutDur = s.mdCfg.ReplyTimeout
	}
	confirmTimeoutDur := p.ConfirmTimeout
	if confirmTimeoutDur <= 0 {
		confirmTimeoutDur = s.mdCfg.ConfirmTimeout
	}
	tr := &mdTransaction{
		id:                uuid,
		role:              roleRequester,
		state:             mdSentRequest,
		comID:             p.ComID,
		payload:           append([]byte(nil), p.Payload...),
		replyTimeout:      vos.TimeSpecFromDuration(now.Duration() + replyTimeoutDur),
		replyTimeoutDur:   replyTimeoutDur,
		confirmTimeoutDur: confirmTimeoutDur,
		retriesLeft:       p.Retries,
		numExpReplies:     expReplies,
		callback:          p.Callback,
		userRef:           p.UserRef,
	}
	if p.UseTCP {
		tr.transport = transportTCP
		conn, err := s.dialMDTCPLocked(p.DestIP)
		if err != nil {
			return SessionUUID{}, err
		}
		tr.peer = conn.conn.RemoteAddr()
	} else {
		tr.peer = &net.UDPAddr{IP: p.DestIP, Port: s.mdCfg.UDPPort}
	}

	if err := s.sendMDFrameLocked(tr, frame.MsgMr); err != nil {
		return SessionUUID{}, err
	}
	s.mdSessions[uuid] = tr
	s.deadlines.upsertMD(uuid, tr.replyTimeout)
	return uuid, nil
}

// ReplyParams is the argument bundle for Reply/ReplyQuery (spec §4.6).
type ReplyParams struct {
	SessionID    SessionUUID
	Payload      []byte
	ReplyStatus  int32
	WantConfirm  bool
}

// Reply answers a received request with Mp (no confirm expected).
func (s *Session) Reply(p ReplyParams) error {
	return s.replyLocked(p, frame.MsgMp)
}

// ReplyQuery answers a received request with Mq, expecting an Mc confirm
// within the session's confirm timeout (spec §4.6).
func (s *Session) ReplyQuery(p ReplyParams) error {
	return s.replyLocked(p, frame.MsgMq)
}

func (s *Session) replyLocked(p ReplyParams, msgType frame.MsgType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr, ok := s.mdSessions[p.SessionID]
	if !ok || tr.role != roleReplier || tr.state != mdReceivedRequest {
		return vos.NewError(vos.KindNoSession, "Reply", fmt.Errorf("no pending request for session %s", p.SessionID))
	}
	tr.payload = append([]byte(nil), p.Payload...)
	tr.wantConfirm = msgType == frame.MsgMq
	if err := s.sendMDFrameLocked(tr, msgType); err != nil {
		return err
	}
	if tr.wantConfirm {
		tr.state = mdSentReply
		tr.confirmDue = vos.TimeSpecFromDuration(s.Now().Duration() + s.mdCfg.ConfirmTimeout)
		s.deadlines.upsertMD(tr.id, tr.confirmDue)
	} else {
		tr.state = mdDone
		delete(s.mdSessions, tr.id)
		s.deadlines.removeMD(tr.id)
	}
	return nil
}

// Confirm sends Mc, closing out a requester-role transaction that
// received an Mq reply (spec §4.6).
func (s *Session) Confirm(sessionID SessionUUID, replyStatus int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr, ok := s.mdSessions[sessionID]
	if !ok || tr.role != roleRequester || tr.state != mdReceivedReply {
		return vos.NewError(vos.KindNoSession, "Confirm", fmt.Errorf("no reply pending confirm for session %s", sessionID))
	}
	if err := s.sendMDFrameLocked(tr, frame.MsgMc); err != nil {
		return err
	}
	tr.state = mdDone
	delete(s.mdSessions, sessionID)
	s.deadlines.removeMD(sessionID)
	return nil
}

// AddListener registers a replier for comID (spec §4.6, §6.2).
func (s *Session) AddListener(comID uint32, destURI string, cb Callback) *Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextListenerID++
	l := &Listener{ID: s.nextListenerID, ComID: comID, DestURI: destURI, Callback: cb}
	s.listeners = append(s.listeners, l)
	return l
}

// DelListener removes l.
func (s *Session) DelListener(l *Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, lc := range s.listeners {
		if lc == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return nil
		}
	}
	return vos.NewError(vos.KindNoList, "DelListener", fmt.Errorf("listener not registered"))
}

// AbortSession forcibly ends an MD transaction (spec §4.6 "ABORTED" state).
func (s *Session) AbortSession(sessionID SessionUUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.mdSessions[sessionID]
	if !ok {
		return vos.NewError(vos.KindNoSession, "AbortSession", fmt.Errorf("unknown session %s", sessionID))
	}
	tr.state = mdAborted
	delete(s.mdSessions, sessionID)
	s.deadlines.removeMD(sessionID)
	return nil
}

func (s *Session) sendMDFrameLocked(tr *mdTransaction, msgType frame.MsgType) error {
	h := &frame.MDHeader{
		CommonHeader: frame.CommonHeader{MsgType: msgType, ComId: tr.comID, Topo: s.topo},
		SessionID:    tr.id,
	}
	buf, err := frame.PackMD(h, tr.payload)
	if err != nil {
		return vos.NewError(vos.KindWire, "sendMDFrame", err)
	}
	if tr.transport == transportTCP {
		conn := s.mdConns[tr.peer.String()]
		if conn == nil {
			return vos.NewError(vos.KindNoSession, "sendMDFrame", fmt.Errorf("no TCP connection to %s", tr.peer))
		}
		if _, err := conn.conn.Write(buf); err != nil {
			return vos.NewError(vos.KindIO, "sendMDFrame", err)
		}
		s.stats.incMDTCPSent()
		return nil
	}
	udpAddr, ok := tr.peer.(*net.UDPAddr)
	if !ok {
		return vos.NewError(vos.KindParam, "sendMDFrame", fmt.Errorf("peer %v is not a UDP address", tr.peer))
	}
	if err := s.mdUDPSocket.SendUDP(buf, udpAddr); err != nil {
		return err
	}
	s.stats.incMDUDPSent()
	return nil
}

// sweepMDDeadlines retries or fails transactions whose reply/confirm
// deadline has passed (spec §4.6 "Retry and timeout").
func (s *Session) sweepMDDeadlines() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	for id, tr := range s.mdSessions {
		switch tr.state {
		case mdSentRequest:
			if now.Compare(tr.replyTimeout) < 0 {
				continue
			}
			if tr.numReplies > 0 {
				// multicast request: at least one reply arrived before the
				// rest timed out — a partial success, not a hard failure.
				s.deliverMDLocked(tr, EventMDTerminated, vos.NewError(vos.KindNotAllReplies, "sweepMDDeadlines", nil))
				tr.state = mdDone
				delete(s.mdSessions, id)
				s.deadlines.removeMD(id)
				continue
			}
			if tr.retriesLeft > 0 {
				tr.retriesLeft--
				s.stats.incMDRetry()
				if err := s.sendMDFrameLocked(tr, frame.MsgMr); err != nil {
					log.Warnf("trdp: MD retry session=%s: %v", tr.id, err)
				}
				tr.replyTimeout = vos.TimeSpecFromDuration(now.Duration() + tr.replyTimeoutDur)
				s.deadlines.upsertMD(id, tr.replyTimeout)
				continue
			}
			s.stats.incMDReplyTimeout()
			s.deliverMDLocked(tr, EventMDTerminated, vos.NewError(vos.KindReplyTo, "sweepMDDeadlines", nil))
			tr.state = mdAborted
			delete(s.mdSessions, id)
			s.deadlines.removeMD(id)

		case mdSentReply:
			if now.Compare(tr.confirmDue) < 0 {
				continue
			}
			s.stats.incMDConfirmTimeout()
			s.deliverMDLocked(tr, EventMDTerminated, vos.NewError(vos.KindConfirmTo, "sweepMDDeadlines", nil))
			tr.state = mdAborted
			delete(s.mdSessions, id)
			s.deadlines.removeMD(id)

		case mdReceivedReply:
			// the reply arrived but the app never called Confirm before
			// its own confirm-send deadline (spec §4.6, "RECEIVED_REPLY |
			// app-confirm timeout | ABORTED(APP_CONFIRMTO)").
			if now.Compare(tr.confirmDue) < 0 {
				continue
			}
			s.stats.incMDAppConfirmTimeout()
			s.deliverMDLocked(tr, EventMDTerminated, vos.NewError(vos.KindAppConfirmTo, "sweepMDDeadlines", nil))
			tr.state = mdAborted
			delete(s.mdSessions, id)
			s.deadlines.removeMD(id)
		}
	}
}

func (s *Session) deliverMDLocked(tr *mdTransaction, kind EventKind, err error) {
	ev := Event{Kind: kind, SessionID: tr.id, MDComID: tr.comID, MDPayload: tr.payload, Err: err}
	if tr.callback != nil {
		tr.callback(ev)
	} else {
		s.pendingEvents = append(s.pendingEvents, ev)
	}
}
