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

// Package trdp implements the TRDP transport engine: the session handle,
// the PD send/receive scheduler, the MD request/reply state machine, the
// cooperative event loop, and session statistics.
package trdp

import "net"

// RedundancyState is a publisher redundancy group's arbitration flag
// (spec §3.5). Arbitration itself is external; the engine only honours
// the current value.
type RedundancyState int

const (
	Leader RedundancyState = iota
	Follower
)

// TimeoutBehaviour controls what happens to a subscriber's cached
// payload when its liveness timeout fires (spec §4.5).
type TimeoutBehaviour int

const (
	TimeoutZero TimeoutBehaviour = iota
	TimeoutKeepLast
)

// PD flags (spec §4.5, §6.2).
const (
	FlagCallback uint32 = 1 << iota
	FlagPull
)

// EventKind distinguishes the delivery events process() can produce for
// hosts that prefer a pull model over callbacks (spec §9 "Callbacks").
type EventKind int

const (
	EventPDReceived EventKind = iota
	EventPDTimeout
	EventMDReceived
	EventMDTerminated
)

// Event is a single delivery notification: either dispatched inline to a
// registered callback, or returned from Process for a host driving a
// pull model. Exactly one of the PD/MD payload fields is meaningful,
// selected by Kind.
type Event struct {
	Kind EventKind

	// PD fields; Err is also set on MD events.
	ComID       uint32
	SrcIP       net.IP
	Payload     []byte
	SubscriberID int
	Err         error

	// MD fields.
	SessionID SessionUUID
	MDComID   uint32
	MDPayload []byte
}

// Callback is invoked inline, on the process() goroutine, for a
// subscriber or listener registered with a callback (spec §9). The
// exception is a failed TCP MD connection: the callbacks of the
// transactions it aborts run on that connection's reader goroutine. It
// must not call Process.
type Callback func(Event)
