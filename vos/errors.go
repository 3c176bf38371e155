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

// Package vos provides the OS-abstraction primitives (clock, allocator,
// queue, mutex, semaphore, UUID, sockets) the rest of the stack builds on.
package vos

import (
	"errors"
	"fmt"
)

// Kind is the abstract error taxonomy from the TRDP error handling design.
type Kind string

// Error kinds, see spec §7.
const (
	KindParam          Kind = "PARAM"
	KindInit           Kind = "INIT"
	KindNoInit         Kind = "NOINIT"
	KindTimeout        Kind = "TIMEOUT"
	KindAppTimeout     Kind = "APP_TIMEOUT"
	KindAppReplyTo     Kind = "APP_REPLYTO"
	KindAppConfirmTo   Kind = "APP_CONFIRMTO"
	KindReplyTo        Kind = "REPLYTO"
	KindConfirmTo      Kind = "CONFIRMTO"
	KindReqConfirmTo   Kind = "REQCONFIRMTO"
	KindNoData         Kind = "NODATA"
	KindBlock          Kind = "BLOCK"
	KindSock           Kind = "SOCK"
	KindIO             Kind = "IO"
	KindMem            Kind = "MEM"
	KindSema           Kind = "SEMA"
	KindMutex          Kind = "MUTEX"
	KindQueue          Kind = "QUEUE"
	KindQueueFull      Kind = "QUEUE_FULL"
	KindThread         Kind = "THREAD"
	KindCRC            Kind = "CRC"
	KindWire           Kind = "WIRE"
	KindTopo           Kind = "TOPO"
	KindComID          Kind = "COMID"
	KindNoSession      Kind = "NOSESSION"
	KindSessionAbort   Kind = "SESSION_ABORT"
	KindNoSub          Kind = "NOSUB"
	KindNoPub          Kind = "NOPUB"
	KindNoList         Kind = "NOLIST"
	KindState          Kind = "STATE"
	KindIntegration    Kind = "INTEGRATION"
	KindNotAllReplies  Kind = "NOT_ALL_REPLIES"
	KindUnknown        Kind = "UNKNOWN"
)

// Error is the typed error carried through the stack so callers can recover
// the abstract Kind via errors.As without string matching.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error, the only constructor the rest of the stack uses.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether err is, or wraps, a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
