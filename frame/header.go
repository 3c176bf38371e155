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

// Package frame implements the wire frame layout shared by PD and MD
// traffic: the common header, the PD and MD tails, and CRC32 framing
// over header and payload (spec §3.3).
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/tcnopen/trdp-go/vos"
)

// protocol version this stack speaks: major.minor, packed into the high
// and low byte of the 16-bit protocolVersion wire field.
const (
	VersionMajor uint8 = 1
	VersionMinor uint8 = 0
)

// CurrentVersion is the protocolVersion value this implementation sends
// and, on receive, requires an exact match for.
func CurrentVersion() uint16 {
	return uint16(VersionMajor)<<8 | uint16(VersionMinor)
}

// MsgType is the two-ASCII-character message type carried at offset 6 of
// the common header.
type MsgType string

// Message types, spec §3.3.
const (
	MsgPd MsgType = "Pd" // process data
	MsgPr MsgType = "Pr" // pull request
	MsgPp MsgType = "Pp" // pull reply
	MsgPe MsgType = "Pe" // PD error
	MsgMn MsgType = "Mn" // notify
	MsgMr MsgType = "Mr" // request
	MsgMp MsgType = "Mp" // reply without confirm
	MsgMq MsgType = "Mq" // reply with confirm expected
	MsgMc MsgType = "Mc" // confirm
	MsgMe MsgType = "Me" // MD error
)

func (m MsgType) valid() bool {
	switch m {
	case MsgPd, MsgPr, MsgPp, MsgPe, MsgMn, MsgMr, MsgMp, MsgMq, MsgMc, MsgMe:
		return true
	default:
		return false
	}
}

// TopoCounts is the (etbTopoCnt, opTrnTopoCnt) pair identifying a train
// inauguration generation (spec §2).
type TopoCounts struct {
	EtbTopoCnt   uint32
	OpTrnTopoCnt uint32
}

// agrees reports whether a received pair matches every non-zero local
// expectation, per spec §3.3: "a received frame whose topo counts disagree
// with the local non-zero expected values must be rejected as TOPO."
func (local TopoCounts) agrees(recv TopoCounts) bool {
	if local.EtbTopoCnt != 0 && local.EtbTopoCnt != recv.EtbTopoCnt {
		return false
	}
	if local.OpTrnTopoCnt != 0 && local.OpTrnTopoCnt != recv.OpTrnTopoCnt {
		return false
	}
	return true
}

// ComIDKnown decides whether comId is a registered telegram, used by
// Parse to produce KindComID. A nil ComIDKnown accepts every comId.
type ComIDKnown func(comID uint32) bool

// CommonHeader is the 24-byte prefix shared by PD and MD frames.
type CommonHeader struct {
	SequenceCounter uint32
	MsgType         MsgType
	ComId           uint32
	Topo            TopoCounts
	DatasetLength   uint32
}

const commonHeaderSize = 24

func (h *CommonHeader) marshalTo(b []byte) {
	binary.BigEndian.PutUint32(b[0:], h.SequenceCounter)
	binary.BigEndian.PutUint16(b[4:], CurrentVersion())
	b[6] = h.MsgType[0]
	b[7] = h.MsgType[1]
	binary.BigEndian.PutUint32(b[8:], h.ComId)
	binary.BigEndian.PutUint32(b[12:], h.Topo.EtbTopoCnt)
	binary.BigEndian.PutUint32(b[16:], h.Topo.OpTrnTopoCnt)
	binary.BigEndian.PutUint32(b[20:], h.DatasetLength)
}

// unmarshalCommonHeader reads the common prefix and validates version and
// msgType, returning the parsed header.
func unmarshalCommonHeader(b []byte) (CommonHeader, error) {
	var h CommonHeader
	h.SequenceCounter = binary.BigEndian.Uint32(b[0:])
	version := binary.BigEndian.Uint16(b[4:])
	h.MsgType = MsgType([]byte{b[6], b[7]})
	h.ComId = binary.BigEndian.Uint32(b[8:])
	h.Topo.EtbTopoCnt = binary.BigEndian.Uint32(b[12:])
	h.Topo.OpTrnTopoCnt = binary.BigEndian.Uint32(b[16:])
	h.DatasetLength = binary.BigEndian.Uint32(b[20:])
	if version != CurrentVersion() {
		return h, vos.NewError(vos.KindWire, "unmarshalCommonHeader", fmt.Errorf("protocol version %#04x != %#04x", version, CurrentVersion()))
	}
	if !h.MsgType.valid() {
		return h, vos.NewError(vos.KindWire, "unmarshalCommonHeader", fmt.Errorf("unknown msgType %q", string(h.MsgType)))
	}
	return h, nil
}

// PDHeader is a process-data frame's header (common prefix + PD tail).
// The reserved field and both CRCs are not kept as struct fields: they
// are always zero/recomputed, never meaningful to a caller.
type PDHeader struct {
	CommonHeader
	ReplyComId  uint32
	ReplyIPAddr uint32
}

// pdTailSize is reserved(4) + replyComId(4) + replyIpAddr(4) + headerCRC32(4).
const pdTailSize = 16

// PDHeaderSize is the full PD header length, header CRC included.
const PDHeaderSize = commonHeaderSize + pdTailSize

// MDHeader is a message-data frame's header (common prefix + MD tail).
type MDHeader struct {
	CommonHeader
	ReplyStatus  int32
	SessionID    [16]byte
	ReplyTimeout uint32
	SrcURI       [32]byte
	DestURI      [32]byte
}

// mdTailSize is replyStatus(4) + sessionId(16) + replyTimeout(4) +
// srcURI(32) + destURI(32) + headerCRC32(4).
const mdTailSize = 92

// MDHeaderSize is the full MD header length, header CRC included.
const MDHeaderSize = commonHeaderSize + mdTailSize

// PackPD assembles a complete PD frame: header, payload padded to a
// 4-byte boundary, and both CRCs (spec §3.3, §4.2).
func PackPD(h *PDHeader, payload []byte) ([]byte, error) {
	h.DatasetLength = uint32(len(payload))
	pad := padLen4(len(payload))
	buf := make([]byte, PDHeaderSize+len(payload)+pad+4)

	h.CommonHeader.marshalTo(buf)
	n := commonHeaderSize
	binary.BigEndian.PutUint32(buf[n:], 0) // reserved
	binary.BigEndian.PutUint32(buf[n+4:], h.ReplyComId)
	binary.BigEndian.PutUint32(buf[n+8:], h.ReplyIPAddr)
	headerCRC := crc32Of(buf[:n+12])
	binary.BigEndian.PutUint32(buf[n+12:], headerCRC)

	body := buf[PDHeaderSize:]
	copy(body, payload)
	payloadCRC := crc32Of(body[:len(payload)+pad])
	binary.BigEndian.PutUint32(body[len(payload)+pad:], payloadCRC)
	return buf, nil
}

// ParsePD verifies and decodes a PD frame. localTopo pins the locally
// expected topo counts (zero fields mean "don't care"); comIDKnown
// reports whether the comId is registered (nil accepts any). Returns the
// header and a slice over the (unpadded) payload.
func ParsePD(b []byte, localTopo TopoCounts, comIDKnown ComIDKnown) (*PDHeader, []byte, error) {
	if len(b) < PDHeaderSize+4 {
		return nil, nil, vos.NewError(vos.KindWire, "ParsePD", fmt.Errorf("frame too short: %d bytes", len(b)))
	}
	common, err := unmarshalCommonHeader(b)
	if err != nil {
		return nil, nil, err
	}
	n := commonHeaderSize
	h := &PDHeader{
		CommonHeader: common,
		ReplyComId:   binary.BigEndian.Uint32(b[n+4:]),
		ReplyIPAddr:  binary.BigEndian.Uint32(b[n+8:]),
	}
	wantCRC := binary.BigEndian.Uint32(b[n+12:])
	if got := crc32Of(b[:n+12]); got != wantCRC {
		return nil, nil, vos.NewError(vos.KindCRC, "ParsePD", fmt.Errorf("header CRC mismatch: got %#08x want %#08x", got, wantCRC))
	}
	if !localTopo.agrees(common.Topo) {
		return nil, nil, vos.NewError(vos.KindTopo, "ParsePD", fmt.Errorf("topo mismatch: local %+v recv %+v", localTopo, common.Topo))
	}
	if comIDKnown != nil && !comIDKnown(common.ComId) {
		return nil, nil, vos.NewError(vos.KindComID, "ParsePD", fmt.Errorf("unknown comId %d", common.ComId))
	}

	dlen := int(common.DatasetLength)
	pad := padLen4(dlen)
	want := PDHeaderSize + dlen + pad + 4
	if len(b) < want {
		return nil, nil, vos.NewError(vos.KindWire, "ParsePD", fmt.Errorf("short payload: need %d bytes, have %d", want, len(b)))
	}
	if dlen > 0 {
		body := b[PDHeaderSize:want]
		wantPayloadCRC := binary.BigEndian.Uint32(body[dlen+pad:])
		if got := crc32Of(body[:dlen+pad]); got != wantPayloadCRC {
			return nil, nil, vos.NewError(vos.KindCRC, "ParsePD", fmt.Errorf("payload CRC mismatch: got %#08x want %#08x", got, wantPayloadCRC))
		}
	}
	return h, b[PDHeaderSize : PDHeaderSize+dlen], nil
}

// PackMD assembles a complete MD frame, mirroring PackPD.
func PackMD(h *MDHeader, payload []byte) ([]byte, error) {
	h.DatasetLength = uint32(len(payload))
	pad := padLen4(len(payload))
	buf := make([]byte, MDHeaderSize+len(payload)+pad+4)

	h.CommonHeader.marshalTo(buf)
	n := commonHeaderSize
	binary.BigEndian.PutUint32(buf[n:], uint32(h.ReplyStatus))
	copy(buf[n+4:], h.SessionID[:])
	binary.BigEndian.PutUint32(buf[n+20:], h.ReplyTimeout)
	copy(buf[n+24:], h.SrcURI[:])
	copy(buf[n+56:], h.DestURI[:])
	headerCRC := crc32Of(buf[:n+88])
	binary.BigEndian.PutUint32(buf[n+88:], headerCRC)

	body := buf[MDHeaderSize:]
	copy(body, payload)
	payloadCRC := crc32Of(body[:len(payload)+pad])
	binary.BigEndian.PutUint32(body[len(payload)+pad:], payloadCRC)
	return buf, nil
}

// ParseMD verifies and decodes an MD frame, mirroring ParsePD.
func ParseMD(b []byte, localTopo TopoCounts, comIDKnown ComIDKnown) (*MDHeader, []byte, error) {
	if len(b) < MDHeaderSize+4 {
		return nil, nil, vos.NewError(vos.KindWire, "ParseMD", fmt.Errorf("frame too short: %d bytes", len(b)))
	}
	common, err := unmarshalCommonHeader(b)
	if err != nil {
		return nil, nil, err
	}
	n := commonHeaderSize
	h := &MDHeader{
		CommonHeader: common,
		ReplyStatus:  int32(binary.BigEndian.Uint32(b[n:])),
		ReplyTimeout: binary.BigEndian.Uint32(b[n+20:]),
	}
	copy(h.SessionID[:], b[n+4:n+20])
	copy(h.SrcURI[:], b[n+24:n+56])
	copy(h.DestURI[:], b[n+56:n+88])

	wantCRC := binary.BigEndian.Uint32(b[n+88:])
	if got := crc32Of(b[:n+88]); got != wantCRC {
		return nil, nil, vos.NewError(vos.KindCRC, "ParseMD", fmt.Errorf("header CRC mismatch: got %#08x want %#08x", got, wantCRC))
	}
	if !localTopo.agrees(common.Topo) {
		return nil, nil, vos.NewError(vos.KindTopo, "ParseMD", fmt.Errorf("topo mismatch: local %+v recv %+v", localTopo, common.Topo))
	}
	if comIDKnown != nil && !comIDKnown(common.ComId) {
		return nil, nil, vos.NewError(vos.KindComID, "ParseMD", fmt.Errorf("unknown comId %d", common.ComId))
	}

	dlen := int(common.DatasetLength)
	pad := padLen4(dlen)
	want := MDHeaderSize + dlen + pad + 4
	if len(b) < want {
		return nil, nil, vos.NewError(vos.KindWire, "ParseMD", fmt.Errorf("short payload: need %d bytes, have %d", want, len(b)))
	}
	if dlen > 0 {
		body := b[MDHeaderSize:want]
		wantPayloadCRC := binary.BigEndian.Uint32(body[dlen+pad:])
		if got := crc32Of(body[:dlen+pad]); got != wantPayloadCRC {
			return nil, nil, vos.NewError(vos.KindCRC, "ParseMD", fmt.Errorf("payload CRC mismatch: got %#08x want %#08x", got, wantPayloadCRC))
		}
	}
	return h, b[MDHeaderSize : MDHeaderSize+dlen], nil
}
