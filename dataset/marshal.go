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

package dataset

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tcnopen/trdp-go/vos"
)

// maxDynamicElements bounds a dynamic array's wire-prefixed count. The
// prefix is a uint16 (wire ceiling 65535), but no real TRDP telegram
// declares anything close to that many elements; capping well below the
// wire maximum turns a corrupt or hostile count into a destination-capacity
// error (KindMem, per spec §4.2) instead of a multi-hundred-kilobyte
// allocation attempt.
const maxDynamicElements = 8192

// Marshal walks datasetID's schema in reg and serialises inst to wire
// bytes, network byte order, per spec §4.2.
func Marshal(reg *Registry, datasetID uint32, inst *Instance) ([]byte, error) {
	ds, err := reg.Lookup(datasetID)
	if err != nil {
		return nil, err
	}
	w := &writer{}
	if err := marshalDataset(reg, ds, inst, w, 1); err != nil {
		return nil, err
	}
	return w.buf, nil
}

// Unmarshal parses data against datasetID's schema in reg, per spec §4.2.
func Unmarshal(reg *Registry, datasetID uint32, data []byte) (*Instance, error) {
	ds, err := reg.Lookup(datasetID)
	if err != nil {
		return nil, err
	}
	r := &reader{buf: data}
	inst, err := unmarshalDataset(reg, ds, r, 1)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

type writer struct{ buf []byte }

func (w *writer) bytes(b []byte)     { w.buf = append(w.buf, b...) }
func (w *writer) u8(v uint8)         { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16)       { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32)       { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64)       { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }

type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, vos.NewError(vos.KindWire, "reader.take", fmt.Errorf("need %d bytes, have %d", n, r.remaining()))
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) u8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func marshalDataset(reg *Registry, ds *Dataset, inst *Instance, w *writer, depth int) error {
	if depth > maxNestingDepth {
		return vos.NewError(vos.KindParam, "marshalDataset", fmt.Errorf("nesting depth %d exceeds %d", depth, maxNestingDepth))
	}
	if inst == nil || len(inst.Fields) != len(ds.Elements) {
		return vos.NewError(vos.KindParam, "marshalDataset", fmt.Errorf("instance has %d fields, schema %d has %d elements", fieldCount(inst), ds.ID, len(ds.Elements)))
	}
	for i, el := range ds.Elements {
		if err := marshalElement(reg, el, inst.Fields[i], w, depth); err != nil {
			return err
		}
	}
	return nil
}

func fieldCount(inst *Instance) int {
	if inst == nil {
		return 0
	}
	return len(inst.Fields)
}

func unmarshalDataset(reg *Registry, ds *Dataset, r *reader, depth int) (*Instance, error) {
	if depth > maxNestingDepth {
		return nil, vos.NewError(vos.KindParam, "unmarshalDataset", fmt.Errorf("nesting depth %d exceeds %d", depth, maxNestingDepth))
	}
	inst := &Instance{DatasetID: ds.ID, Fields: make([]any, len(ds.Elements))}
	for i, el := range ds.Elements {
		v, err := unmarshalElement(reg, el, r, depth)
		if err != nil {
			return nil, err
		}
		inst.Fields[i] = v
	}
	return inst, nil
}

// marshalElement writes one schema element. For dynamic elements
// (el.Size == 0) a uint16 count precedes the values, except char8/utf16
// strings where the count is implied by the string length plus its
// zero terminator.
func marshalElement(reg *Registry, el Element, val any, w *writer, depth int) error {
	if isNested(el.Type) {
		return marshalNested(reg, el, val, w, depth)
	}
	switch el.Type {
	case TypeChar8:
		return marshalChar8(el, val, w)
	case TypeUtf16:
		return marshalUtf16(el, val, w)
	default:
		return marshalFixedPrimitive(el, val, w)
	}
}

func marshalNested(reg *Registry, el Element, val any, w *writer, depth int) error {
	elems, ok := val.([]*Instance)
	if !ok {
		return vos.NewError(vos.KindParam, "marshalNested", fmt.Errorf("expected []*Instance, got %T", val))
	}
	if err := checkCount(el, len(elems)); err != nil {
		return err
	}
	nds, err := reg.Lookup(el.Type)
	if err != nil {
		return err
	}
	if el.Size == 0 {
		w.u16(uint16(len(elems)))
	}
	for _, e := range elems {
		if err := marshalDataset(reg, nds, e, w, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func marshalChar8(el Element, val any, w *writer) error {
	s, ok := val.(string)
	if !ok {
		return vos.NewError(vos.KindParam, "marshalChar8", fmt.Errorf("expected string, got %T", val))
	}
	if el.Size == 0 {
		w.bytes([]byte(s))
		w.u8(0) // zero terminator, counted in the transmitted length
		return nil
	}
	if err := checkCount(el, len(s)); err != nil {
		return err
	}
	w.bytes([]byte(s))
	return nil
}

func marshalUtf16(el Element, val any, w *writer) error {
	units, ok := val.([]uint16)
	if !ok {
		return vos.NewError(vos.KindParam, "marshalUtf16", fmt.Errorf("expected []uint16, got %T", val))
	}
	if el.Size == 0 {
		for _, u := range units {
			w.u16(u)
		}
		w.u16(0)
		return nil
	}
	if err := checkCount(el, len(units)); err != nil {
		return err
	}
	for _, u := range units {
		w.u16(u)
	}
	return nil
}

func marshalFixedPrimitive(el Element, val any, w *writer) error {
	if _, err := width(el.Type); err != nil {
		return vos.NewError(vos.KindParam, "marshalFixedPrimitive", err)
	}
	n, writeOne, err := primitiveWriter(el.Type, val, w)
	if err != nil {
		return err
	}
	if err := checkCount(el, n); err != nil {
		return err
	}
	if el.Size == 0 {
		w.u16(uint16(n))
	}
	for i := 0; i < n; i++ {
		writeOne(i)
	}
	return nil
}

// primitiveWriter returns the element count held in val and a function
// that writes the i-th value, dispatching on el.Type's Go representation.
func primitiveWriter(typ uint32, val any, w *writer) (int, func(i int), error) {
	switch typ {
	case TypeBool8:
		v, ok := val.([]bool)
		if !ok {
			return 0, nil, badType(typ, val)
		}
		return len(v), func(i int) {
			if v[i] {
				w.u8(1)
			} else {
				w.u8(0)
			}
		}, nil
	case TypeInt8:
		v, ok := val.([]int8)
		if !ok {
			return 0, nil, badType(typ, val)
		}
		return len(v), func(i int) { w.u8(uint8(v[i])) }, nil
	case TypeUint8:
		v, ok := val.([]uint8)
		if !ok {
			return 0, nil, badType(typ, val)
		}
		return len(v), func(i int) { w.u8(v[i]) }, nil
	case TypeInt16:
		v, ok := val.([]int16)
		if !ok {
			return 0, nil, badType(typ, val)
		}
		return len(v), func(i int) { w.u16(uint16(v[i])) }, nil
	case TypeUint16:
		v, ok := val.([]uint16)
		if !ok {
			return 0, nil, badType(typ, val)
		}
		return len(v), func(i int) { w.u16(v[i]) }, nil
	case TypeInt32:
		v, ok := val.([]int32)
		if !ok {
			return 0, nil, badType(typ, val)
		}
		return len(v), func(i int) { w.u32(uint32(v[i])) }, nil
	case TypeUint32:
		v, ok := val.([]uint32)
		if !ok {
			return 0, nil, badType(typ, val)
		}
		return len(v), func(i int) { w.u32(v[i]) }, nil
	case TypeInt64:
		v, ok := val.([]int64)
		if !ok {
			return 0, nil, badType(typ, val)
		}
		return len(v), func(i int) { w.u64(uint64(v[i])) }, nil
	case TypeUint64:
		v, ok := val.([]uint64)
		if !ok {
			return 0, nil, badType(typ, val)
		}
		return len(v), func(i int) { w.u64(v[i]) }, nil
	case TypeReal32:
		v, ok := val.([]float32)
		if !ok {
			return 0, nil, badType(typ, val)
		}
		return len(v), func(i int) { w.u32(math.Float32bits(v[i])) }, nil
	case TypeReal64:
		v, ok := val.([]float64)
		if !ok {
			return 0, nil, badType(typ, val)
		}
		return len(v), func(i int) { w.u64(math.Float64bits(v[i])) }, nil
	case TypeTimeDate32:
		v, ok := val.([]uint32)
		if !ok {
			return 0, nil, badType(typ, val)
		}
		return len(v), func(i int) { w.u32(v[i]) }, nil
	case TypeTimeDate48:
		v, ok := val.([]TimeDate48)
		if !ok {
			return 0, nil, badType(typ, val)
		}
		return len(v), func(i int) { w.u32(v[i].Sec); w.u16(v[i].Ticks) }, nil
	case TypeTimeDate64:
		v, ok := val.([]TimeDate64)
		if !ok {
			return 0, nil, badType(typ, val)
		}
		return len(v), func(i int) { w.u32(v[i].Sec); w.u32(v[i].Ticks) }, nil
	default:
		return 0, nil, vos.NewError(vos.KindParam, "primitiveWriter", fmt.Errorf("unhandled primitive type %d", typ))
	}
}

func badType(typ uint32, val any) error {
	return vos.NewError(vos.KindParam, "primitiveWriter", fmt.Errorf("type %d: unexpected Go value %T", typ, val))
}

func checkCount(el Element, n int) error {
	if el.Size != 0 && int(el.Size) != n {
		return vos.NewError(vos.KindParam, "checkCount", fmt.Errorf("element expects %d values, got %d", el.Size, n))
	}
	if n > maxDynamicElements {
		return vos.NewError(vos.KindMem, "checkCount", fmt.Errorf("%d values exceeds destination capacity %d", n, maxDynamicElements))
	}
	return nil
}

func unmarshalElement(reg *Registry, el Element, r *reader, depth int) (any, error) {
	if isNested(el.Type) {
		return unmarshalNested(reg, el, r, depth)
	}
	switch el.Type {
	case TypeChar8:
		return unmarshalChar8(el, r)
	case TypeUtf16:
		return unmarshalUtf16(el, r)
	default:
		return unmarshalFixedPrimitive(el, r)
	}
}

func unmarshalNested(reg *Registry, el Element, r *reader, depth int) (any, error) {
	nds, err := reg.Lookup(el.Type)
	if err != nil {
		return nil, err
	}
	n, err := elementCount(el, r)
	if err != nil {
		return nil, err
	}
	out := make([]*Instance, 0, n)
	for i := 0; i < n; i++ {
		inst, err := unmarshalDataset(reg, nds, r, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

func unmarshalChar8(el Element, r *reader) (any, error) {
	if el.Size == 0 {
		var b []byte
		for {
			c, err := r.u8()
			if err != nil {
				return nil, err
			}
			if c == 0 {
				break
			}
			b = append(b, c)
			if len(b) > maxDynamicElements {
				return nil, vos.NewError(vos.KindMem, "unmarshalChar8", fmt.Errorf("dynamic char8 exceeds %d bytes", maxDynamicElements))
			}
		}
		return string(b), nil
	}
	b, err := r.take(int(el.Size))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalUtf16(el Element, r *reader) (any, error) {
	if el.Size == 0 {
		var units []uint16
		for {
			u, err := r.u16()
			if err != nil {
				return nil, err
			}
			if u == 0 {
				break
			}
			units = append(units, u)
			if len(units) > maxDynamicElements {
				return nil, vos.NewError(vos.KindMem, "unmarshalUtf16", fmt.Errorf("dynamic utf16 exceeds %d units", maxDynamicElements))
			}
		}
		return units, nil
	}
	units := make([]uint16, el.Size)
	for i := range units {
		u, err := r.u16()
		if err != nil {
			return nil, err
		}
		units[i] = u
	}
	return units, nil
}

// elementCount returns the element count for el: el.Size if fixed, or
// the wire-prefixed uint16 (bounds-checked against maxDynamicElements) if
// dynamic.
func elementCount(el Element, r *reader) (int, error) {
	if el.Size != 0 {
		return int(el.Size), nil
	}
	n, err := r.u16()
	if err != nil {
		return 0, err
	}
	if int(n) > maxDynamicElements {
		return 0, vos.NewError(vos.KindMem, "elementCount", fmt.Errorf("dynamic count %d exceeds destination capacity %d", n, maxDynamicElements))
	}
	return int(n), nil
}

func unmarshalFixedPrimitive(el Element, r *reader) (any, error) {
	n, err := elementCount(el, r)
	if err != nil {
		return nil, err
	}
	switch el.Type {
	case TypeBool8:
		out := make([]bool, n)
		for i := range out {
			v, err := r.u8()
			if err != nil {
				return nil, err
			}
			out[i] = v != 0
		}
		return out, nil
	case TypeInt8:
		out := make([]int8, n)
		for i := range out {
			v, err := r.u8()
			if err != nil {
				return nil, err
			}
			out[i] = int8(v)
		}
		return out, nil
	case TypeUint8:
		out := make([]uint8, n)
		for i := range out {
			v, err := r.u8()
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case TypeInt16:
		out := make([]int16, n)
		for i := range out {
			v, err := r.u16()
			if err != nil {
				return nil, err
			}
			out[i] = int16(v)
		}
		return out, nil
	case TypeUint16:
		out := make([]uint16, n)
		for i := range out {
			v, err := r.u16()
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case TypeInt32:
		out := make([]int32, n)
		for i := range out {
			v, err := r.u32()
			if err != nil {
				return nil, err
			}
			out[i] = int32(v)
		}
		return out, nil
	case TypeUint32:
		out := make([]uint32, n)
		for i := range out {
			v, err := r.u32()
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case TypeInt64:
		out := make([]int64, n)
		for i := range out {
			v, err := r.u64()
			if err != nil {
				return nil, err
			}
			out[i] = int64(v)
		}
		return out, nil
	case TypeUint64:
		out := make([]uint64, n)
		for i := range out {
			v, err := r.u64()
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case TypeReal32:
		out := make([]float32, n)
		for i := range out {
			v, err := r.u32()
			if err != nil {
				return nil, err
			}
			out[i] = math.Float32frombits(v)
		}
		return out, nil
	case TypeReal64:
		out := make([]float64, n)
		for i := range out {
			v, err := r.u64()
			if err != nil {
				return nil, err
			}
			out[i] = math.Float64frombits(v)
		}
		return out, nil
	case TypeTimeDate32:
		out := make([]uint32, n)
		for i := range out {
			v, err := r.u32()
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case TypeTimeDate48:
		out := make([]TimeDate48, n)
		for i := range out {
			sec, err := r.u32()
			if err != nil {
				return nil, err
			}
			ticks, err := r.u16()
			if err != nil {
				return nil, err
			}
			out[i] = TimeDate48{Sec: sec, Ticks: ticks}
		}
		return out, nil
	case TypeTimeDate64:
		out := make([]TimeDate64, n)
		for i := range out {
			sec, err := r.u32()
			if err != nil {
				return nil, err
			}
			ticks, err := r.u32()
			if err != nil {
				return nil, err
			}
			out[i] = TimeDate64{Sec: sec, Ticks: ticks}
		}
		return out, nil
	default:
		return nil, vos.NewError(vos.KindParam, "unmarshalFixedPrimitive", fmt.Errorf("unknown primitive type %d", el.Type))
	}
}
