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
	"encoding/json"
	"net"
	"net/http"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tcnopen/trdp-go/frame"
)

// Stats is the session's counter block (spec §4.8). Every field is
// updated with sync/atomic so API callers can read a snapshot without
// taking the session mutex, the same separation the teacher's ptp4u
// stats package keeps between the hot path and monitoring.
type Stats struct {
	pdSent         uint64
	pdReceived     uint64
	pdCRCErrors    uint64
	pdProtoErrors  uint64
	pdTopoErrors   uint64
	pdNoSubscriber uint64
	pdNoPublisher  uint64
	pdTimeouts     uint64
	pdCyclicMiss   uint64

	mdUDPSent        uint64
	mdUDPReceived    uint64
	mdTCPSent        uint64
	mdTCPReceived    uint64
	mdReplyTimeouts     uint64
	mdConfirmTimeout    uint64
	mdAppConfirmTimeout uint64
	mdRetries           uint64

	memAllocCount uint64
	memFreeCount  uint64
	memErrors     uint64
}

func newStats() *Stats { return &Stats{} }

func (s *Stats) incPDSent()         { atomic.AddUint64(&s.pdSent, 1) }
func (s *Stats) incPDReceived()     { atomic.AddUint64(&s.pdReceived, 1) }
func (s *Stats) incPDCRCError()     { atomic.AddUint64(&s.pdCRCErrors, 1) }
func (s *Stats) incPDProtocolError() { atomic.AddUint64(&s.pdProtoErrors, 1) }
func (s *Stats) incPDTopoError()    { atomic.AddUint64(&s.pdTopoErrors, 1) }
func (s *Stats) incPDNoSubscriber() { atomic.AddUint64(&s.pdNoSubscriber, 1) }
func (s *Stats) incPDNoPublisher()  { atomic.AddUint64(&s.pdNoPublisher, 1) }
func (s *Stats) incPDTimeout()      { atomic.AddUint64(&s.pdTimeouts, 1) }
func (s *Stats) incPDCyclicMiss()   { atomic.AddUint64(&s.pdCyclicMiss, 1) }

func (s *Stats) incMDUDPSent()           { atomic.AddUint64(&s.mdUDPSent, 1) }
func (s *Stats) incMDUDPReceived()       { atomic.AddUint64(&s.mdUDPReceived, 1) }
func (s *Stats) incMDTCPSent()           { atomic.AddUint64(&s.mdTCPSent, 1) }
func (s *Stats) incMDTCPReceived()       { atomic.AddUint64(&s.mdTCPReceived, 1) }
func (s *Stats) incMDReplyTimeout()      { atomic.AddUint64(&s.mdReplyTimeouts, 1) }
func (s *Stats) incMDConfirmTimeout()    { atomic.AddUint64(&s.mdConfirmTimeout, 1) }
func (s *Stats) incMDAppConfirmTimeout() { atomic.AddUint64(&s.mdAppConfirmTimeout, 1) }
func (s *Stats) incMDRetry()             { atomic.AddUint64(&s.mdRetries, 1) }

func (s *Stats) incMemAlloc() { atomic.AddUint64(&s.memAllocCount, 1) }
func (s *Stats) incMemFree()  { atomic.AddUint64(&s.memFreeCount, 1) }
func (s *Stats) incMemError() { atomic.AddUint64(&s.memErrors, 1) }

// Snapshot is a point-in-time copy of Stats suitable for JSON encoding
// (spec §4.8 "local API"), grounded on ptp4u/stats.JSONStats.
type Snapshot struct {
	PDSent         uint64 `json:"pd_sent"`
	PDReceived     uint64 `json:"pd_received"`
	PDCRCErrors    uint64 `json:"pd_crc_errors"`
	PDProtoErrors  uint64 `json:"pd_protocol_errors"`
	PDTopoErrors   uint64 `json:"pd_topo_errors"`
	PDNoSubscriber uint64 `json:"pd_no_subscriber"`
	PDNoPublisher  uint64 `json:"pd_no_publisher"`
	PDTimeouts     uint64 `json:"pd_timeouts"`
	PDCyclicMiss   uint64 `json:"pd_cyclic_miss"`

	MDUDPSent        uint64 `json:"md_udp_sent"`
	MDUDPReceived    uint64 `json:"md_udp_received"`
	MDTCPSent        uint64 `json:"md_tcp_sent"`
	MDTCPReceived    uint64 `json:"md_tcp_received"`
	MDReplyTimeouts     uint64 `json:"md_reply_timeouts"`
	MDConfirmTimeout    uint64 `json:"md_confirm_timeouts"`
	MDAppConfirmTimeout uint64 `json:"md_app_confirm_timeouts"`
	MDRetries           uint64 `json:"md_retries"`

	MemAllocCount uint64 `json:"mem_alloc_count"`
	MemFreeCount  uint64 `json:"mem_free_count"`
	MemErrors     uint64 `json:"mem_errors"`
}

// Snapshot returns an atomic-consistent-per-field copy of the counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		PDSent:           atomic.LoadUint64(&s.pdSent),
		PDReceived:       atomic.LoadUint64(&s.pdReceived),
		PDCRCErrors:      atomic.LoadUint64(&s.pdCRCErrors),
		PDProtoErrors:    atomic.LoadUint64(&s.pdProtoErrors),
		PDTopoErrors:     atomic.LoadUint64(&s.pdTopoErrors),
		PDNoSubscriber:   atomic.LoadUint64(&s.pdNoSubscriber),
		PDNoPublisher:    atomic.LoadUint64(&s.pdNoPublisher),
		PDTimeouts:       atomic.LoadUint64(&s.pdTimeouts),
		PDCyclicMiss:     atomic.LoadUint64(&s.pdCyclicMiss),
		MDUDPSent:        atomic.LoadUint64(&s.mdUDPSent),
		MDUDPReceived:    atomic.LoadUint64(&s.mdUDPReceived),
		MDTCPSent:        atomic.LoadUint64(&s.mdTCPSent),
		MDTCPReceived:    atomic.LoadUint64(&s.mdTCPReceived),
		MDReplyTimeouts:     atomic.LoadUint64(&s.mdReplyTimeouts),
		MDConfirmTimeout:    atomic.LoadUint64(&s.mdConfirmTimeout),
		MDAppConfirmTimeout: atomic.LoadUint64(&s.mdAppConfirmTimeout),
		MDRetries:           atomic.LoadUint64(&s.mdRetries),
		MemAllocCount:    atomic.LoadUint64(&s.memAllocCount),
		MemFreeCount:     atomic.LoadUint64(&s.memFreeCount),
		MemErrors:        atomic.LoadUint64(&s.memErrors),
	}
}

// Stats returns the session's statistics block (spec §4.8 "local API").
func (s *Session) Stats() Snapshot { return s.stats.Snapshot() }

// replyStatsRequestLocked answers one of the reserved statistics ComIDs
// (spec §4.8, "31-45 ... local API") inline, without going through the
// public Reply API: these are host-internal diagnostic telegrams, not
// something application code registers a listener for.
func (s *Session) replyStatsRequestLocked(h *frame.MDHeader, peer net.Addr, transport mdTransport) {
	var (
		payload []byte
		replyID uint32
		err     error
	)
	switch h.ComId {
	case ComIDStatisticsRequest:
		payload, err = json.Marshal(s.stats.Snapshot())
		replyID = ComIDStatisticsReply
	case ComIDSubscribersRequest:
		payload, err = json.Marshal(s.subscriberSummaryLocked())
		replyID = ComIDSubscribersReply
	case ComIDPublishersRequest:
		payload, err = json.Marshal(s.publisherSummaryLocked())
		replyID = ComIDPublishersReply
	case ComIDEchoRequest:
		payload, replyID = []byte{}, ComIDEchoReply
	case ComIDResetStatsRequest:
		s.stats = newStats()
		payload, replyID = []byte{}, ComIDResetStatsReply
	default:
		return
	}
	if err != nil {
		log.Warnf("trdp: marshal stats reply for comId=%d: %v", h.ComId, err)
		return
	}

	tr := &mdTransaction{id: h.SessionID, role: roleReplier, state: mdReceivedRequest, transport: transport, peer: peer, comID: replyID, payload: payload}
	if err := s.sendMDFrameLocked(tr, frame.MsgMp); err != nil {
		log.Warnf("trdp: send stats reply comId=%d: %v", replyID, err)
	}
}

type subscriberSummary struct {
	ComID   uint32 `json:"com_id"`
	TimedOut bool  `json:"timed_out"`
}

func (s *Session) subscriberSummaryLocked() []subscriberSummary {
	out := make([]subscriberSummary, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		out = append(out, subscriberSummary{ComID: sub.ComID, TimedOut: sub.timedOut})
	}
	return out
}

type publisherSummary struct {
	ComID    uint32 `json:"com_id"`
	Interval string `json:"interval"`
}

func (s *Session) publisherSummaryLocked() []publisherSummary {
	out := make([]publisherSummary, 0, len(s.publishers))
	for _, pub := range s.publishers {
		out = append(out, publisherSummary{ComID: pub.ComID, Interval: pub.Interval.String()})
	}
	return out
}

// ResetStats zeroes every counter, answering ComIDResetStatsRequest.
func (s *Session) ResetStats() {
	s.stats = newStats()
}

// JSONHandler serves a Snapshot as JSON, grounded on ptp4u/stats.JSONStats.
func (s *Session) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.Stats())
	})
}

// promCollector adapts a Session's Stats to prometheus.Collector, grounded
// on ptp/sptp/stats/prom_exporter.go's pattern of one gauge per counter,
// refreshed from a Collect call rather than pushed.
type promCollector struct {
	s     *Session
	descs map[string]*prometheus.Desc
}

// NewPrometheusCollector returns a prometheus.Collector exposing s's
// statistics, for registration with a prometheus.Registry.
func NewPrometheusCollector(s *Session) prometheus.Collector {
	mk := func(name string) *prometheus.Desc {
		return prometheus.NewDesc("trdp_"+name, "TRDP counter "+name, nil, nil)
	}
	return &promCollector{s: s, descs: map[string]*prometheus.Desc{
		"pd_sent":           mk("pd_sent"),
		"pd_received":       mk("pd_received"),
		"pd_crc_errors":     mk("pd_crc_errors"),
		"pd_protocol_errors": mk("pd_protocol_errors"),
		"pd_topo_errors":    mk("pd_topo_errors"),
		"pd_timeouts":       mk("pd_timeouts"),
		"pd_cyclic_miss":    mk("pd_cyclic_miss"),
		"md_udp_sent":       mk("md_udp_sent"),
		"md_udp_received":   mk("md_udp_received"),
		"md_tcp_sent":       mk("md_tcp_sent"),
		"md_tcp_received":   mk("md_tcp_received"),
		"md_reply_timeouts": mk("md_reply_timeouts"),
		"md_retries":        mk("md_retries"),
	}}
}

func (c *promCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *promCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.s.Stats()
	emit := func(name string, v uint64) {
		ch <- prometheus.MustNewConstMetric(c.descs[name], prometheus.CounterValue, float64(v))
	}
	emit("pd_sent", snap.PDSent)
	emit("pd_received", snap.PDReceived)
	emit("pd_crc_errors", snap.PDCRCErrors)
	emit("pd_protocol_errors", snap.PDProtoErrors)
	emit("pd_topo_errors", snap.PDTopoErrors)
	emit("pd_timeouts", snap.PDTimeouts)
	emit("pd_cyclic_miss", snap.PDCyclicMiss)
	emit("md_udp_sent", snap.MDUDPSent)
	emit("md_udp_received", snap.MDUDPReceived)
	emit("md_tcp_sent", snap.MDTCPSent)
	emit("md_tcp_received", snap.MDTCPReceived)
	emit("md_reply_timeouts", snap.MDReplyTimeouts)
	emit("md_retries", snap.MDRetries)
}

// PrometheusHandler returns an http.Handler serving s's metrics in the
// Prometheus exposition format, for cmd/trdpstat's --stats-format=prometheus.
func PrometheusHandler(s *Session) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewPrometheusCollector(s))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
