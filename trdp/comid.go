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

// Reserved ComID ranges (spec §4.8, GLOSSARY "ComID"). The XML dataset/
// ComID configuration table itself is out of scope; these constants exist
// so the stats responder and frame codec recognise the reserved range
// without it.
const (
	ComIDReservedFirst = 1
	ComIDReservedLast  = 999
	ComIDTest          = 1000

	// Statistics request/reply ComIDs, spec §4.8.
	ComIDStatisticsRequest     = 31
	ComIDStatisticsReply       = 32
	ComIDSubscribersRequest    = 33
	ComIDSubscribersReply      = 34
	ComIDPublishersRequest     = 35
	ComIDPublishersReply       = 36
	ComIDRedundancyRequest     = 37
	ComIDRedundancyReply       = 38
	ComIDJoinRequest           = 39
	ComIDJoinReply             = 40
	ComIDEchoRequest           = 41
	ComIDEchoReply             = 42
	ComIDResetStatsRequest     = 43
	ComIDResetStatsReply       = 44
	ComIDUICAuxiliaryRequest   = 45
)

// isStatsComID reports whether comID is one of the reserved statistics
// ComIDs the session answers locally (spec §4.8).
func isStatsComID(comID uint32) bool {
	switch comID {
	case ComIDStatisticsRequest, ComIDStatisticsReply,
		ComIDSubscribersRequest, ComIDSubscribersReply,
		ComIDPublishersRequest, ComIDPublishersReply,
		ComIDRedundancyRequest, ComIDRedundancyReply,
		ComIDJoinRequest, ComIDJoinReply,
		ComIDEchoRequest, ComIDEchoReply,
		ComIDResetStatsRequest, ComIDResetStatsReply,
		ComIDUICAuxiliaryRequest:
		return true
	default:
		return false
	}
}

// isReservedComID reports whether comID falls in the 1-999 range spec §4.8
// reserves for statistics, echo, and UIC auxiliary telegrams.
func isReservedComID(comID uint32) bool {
	return comID >= ComIDReservedFirst && comID <= ComIDReservedLast
}
