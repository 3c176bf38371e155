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

	"github.com/tcnopen/trdp-go/vos"
)

// Publisher is a registered PD source (spec §3.4).
type Publisher struct {
	ID       int
	ComID    uint32
	SrcIP    net.IP
	DestIP   net.IP
	Interval time.Duration
	RedID    uint32
	Flags    uint32
	QoS      int
	TTL      int

	// PushOnChange resolves the spec §9 put() ambiguity: when set, Put
	// resets the next-send deadline; when clear, Put only replaces the
	// cached payload.
	PushOnChange bool

	payload  []byte
	seq      uint32
	deadline vos.TimeSpec
}

// PublishParams is the argument bundle for Publish (spec §4.5, §6.2).
type PublishParams struct {
	ComID        uint32
	SrcIP        net.IP
	DestIP       net.IP
	Interval     time.Duration
	RedID        uint32
	Flags        uint32
	Payload      []byte
	PushOnChange bool
	// QoS and TTL of zero fall back to the session's PD defaults.
	QoS int
	TTL int
}

// Publish registers a publisher with the initial payload and schedules
// its first transmission at now + interval (spec §4.5).
func (s *Session) Publish(p PublishParams) (*Publisher, error) {
	if p.Interval <= 0 {
		return nil, vos.NewError(vos.KindParam, "Publish", fmt.Errorf("interval must be positive"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	qos, ttl := p.QoS, p.TTL
	if qos == 0 {
		qos = s.pdCfg.QoS
	}
	if ttl == 0 {
		ttl = s.pdCfg.TTL
	}

	s.nextPublisherID++
	pub := &Publisher{
		ID:           s.nextPublisherID,
		ComID:        p.ComID,
		SrcIP:        p.SrcIP,
		DestIP:       p.DestIP,
		Interval:     p.Interval,
		RedID:        p.RedID,
		Flags:        p.Flags,
		QoS:          qos,
		TTL:          ttl,
		PushOnChange: p.PushOnChange,
		payload:      append([]byte(nil), p.Payload...),
		deadline:     vos.TimeSpecFromDuration(s.Now().Duration() + p.Interval),
	}
	s.publishers = append(s.publishers, pub)
	s.deadlines.upsertPublisher(pub.ID, pub.deadline.Duration())
	if _, ok := s.redundancy[p.RedID]; !ok && p.RedID != 0 {
		s.redundancy[p.RedID] = Leader
	}
	return pub, nil
}

// Unpublish removes pub (spec §4.5).
func (s *Session) Unpublish(pub *Publisher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.publishers {
		if p == pub {
			s.publishers = append(s.publishers[:i], s.publishers[i+1:]...)
			s.deadlines.removePublisher(pub.ID)
			return nil
		}
	}
	return vos.NewError(vos.KindNoPub, "Unpublish", fmt.Errorf("publisher not registered"))
}

// Put replaces pub's cached payload. Per pub.PushOnChange, it also resets
// the next-send deadline to now + interval; otherwise only the payload
// changes (spec §4.5, §9).
func (s *Session) Put(pub *Publisher, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pub.payload = append([]byte(nil), payload...)
	if pub.PushOnChange {
		pub.deadline = vos.TimeSpecFromDuration(s.Now().Duration() + pub.Interval)
		s.deadlines.upsertPublisher(pub.ID, pub.deadline.Duration())
	}
	return nil
}

// Subscriber is a registered PD sink (spec §3.4).
type Subscriber struct {
	ID        int
	ComID     uint32
	SrcIP1    net.IP
	SrcIP2    net.IP
	DestIP    net.IP
	Timeout   time.Duration
	Behaviour TimeoutBehaviour
	Callback  Callback

	lastPayload []byte
	hasLastSeq  bool
	lastSeq     uint32
	deadline    vos.TimeSpec
	timedOut    bool
}

// SubscribeParams is the argument bundle for Subscribe (spec §4.5, §6.2).
type SubscribeParams struct {
	ComID     uint32
	SrcIP1    net.IP
	SrcIP2    net.IP
	DestIP    net.IP
	Timeout   time.Duration
	Behaviour TimeoutBehaviour
	Callback  Callback
}

// Subscribe registers a subscriber, joining the destIP multicast group
// on the PD socket if destIP is multicast (spec §4.5).
func (s *Session) Subscribe(p SubscribeParams) (*Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.DestIP != nil && p.DestIP.IsMulticast() {
		if err := s.pdSocket.JoinMC(p.DestIP, nil); err != nil {
			return nil, err
		}
	}

	s.nextSubscriberID++
	sub := &Subscriber{
		ID:        s.nextSubscriberID,
		ComID:     p.ComID,
		SrcIP1:    p.SrcIP1,
		SrcIP2:    p.SrcIP2,
		DestIP:    p.DestIP,
		Timeout:   p.Timeout,
		Behaviour: p.Behaviour,
		Callback:  p.Callback,
		deadline:  vos.TimeSpecFromDuration(s.Now().Duration() + p.Timeout),
	}
	s.subscribers = append(s.subscribers, sub)
	s.deadlines.upsertSubscriber(sub.ID, sub.deadline.Duration())
	return sub, nil
}

// Unsubscribe removes sub, leaving its multicast group if it was the
// last subscriber using it.
func (s *Session) Unsubscribe(sub *Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sc := range s.subscribers {
		if sc == sub {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			s.deadlines.removeSubscriber(sub.ID)
			if sub.DestIP != nil && sub.DestIP.IsMulticast() && !s.hasMulticastSubscriberLocked(sub.DestIP) {
				_ = s.pdSocket.LeaveMC(sub.DestIP, nil)
			}
			return nil
		}
	}
	return vos.NewError(vos.KindNoSub, "Unsubscribe", fmt.Errorf("subscriber not registered"))
}

func (s *Session) hasMulticastSubscriberLocked(ip net.IP) bool {
	for _, sc := range s.subscribers {
		if sc.DestIP.Equal(ip) {
			return true
		}
	}
	return false
}

// GetSubs returns a snapshot of the registered subscribers (spec §6.2).
func (s *Session) GetSubs() []*Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Subscriber, len(s.subscribers))
	copy(out, s.subscribers)
	return out
}

// Listener is a replier's registration for incoming MD requests (spec
// §3.4, GLOSSARY).
type Listener struct {
	ID       int
	ComID    uint32
	DestURI  string
	Callback Callback
}

// SetRedundant sets group's arbitration flag (spec §3.5, §5). Writes are
// serialised by the session mutex; the send loop takes a consistent
// snapshot per publisher on each cycle.
func (s *Session) SetRedundant(groupID uint32, follower bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if follower {
		s.redundancy[groupID] = Follower
	} else {
		s.redundancy[groupID] = Leader
	}
}

// GetRedundant returns group's current arbitration flag.
func (s *Session) GetRedundant(groupID uint32) RedundancyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redundancy[groupID]
}
