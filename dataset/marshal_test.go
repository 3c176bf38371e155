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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcnopen/trdp-go/vos"
)

// TestDynamicInt32ArrayWireBytes is the concrete dynamic-array scenario:
// schema `int32 v[]` with value [-1, 0, 1] must produce
// 00 03 | FF FF FF FF | 00 00 00 00 | 00 00 00 01.
func TestDynamicInt32ArrayWireBytes(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Dataset{ID: 1000, Elements: []Element{{Type: TypeInt32, Size: 0}}}))

	inst := &Instance{DatasetID: 1000, Fields: []any{[]int32{-1, 0, 1}}}
	b, err := Marshal(reg, 1000, inst)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x03, 0xFF, 0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01}, b)

	got, err := Unmarshal(reg, 1000, b)
	require.NoError(t, err)
	assert.Equal(t, []int32{-1, 0, 1}, got.Fields[0])
}

func TestFixedPrimitiveRoundTrip(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Dataset{
		ID: 2000,
		Elements: []Element{
			{Type: TypeBool8, Size: 1},
			{Type: TypeUint8, Size: 2},
			{Type: TypeInt16, Size: 1},
			{Type: TypeUint32, Size: 1},
			{Type: TypeReal32, Size: 1},
			{Type: TypeReal64, Size: 1},
			{Type: TypeTimeDate64, Size: 1},
		},
	}))
	inst := &Instance{
		DatasetID: 2000,
		Fields: []any{
			[]bool{true},
			[]uint8{1, 2},
			[]int16{-7},
			[]uint32{123456},
			[]float32{1.5},
			[]float64{2.25},
			[]TimeDate64{{Sec: 100, Ticks: 7}},
		},
	}
	b, err := Marshal(reg, 2000, inst)
	require.NoError(t, err)

	got, err := Unmarshal(reg, 2000, b)
	require.NoError(t, err)
	assert.Equal(t, inst.Fields, got.Fields)
}

func TestChar8FixedAndDynamic(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Dataset{
		ID: 3000,
		Elements: []Element{
			{Type: TypeChar8, Size: 4},
			{Type: TypeChar8, Size: 0},
		},
	}))
	inst := &Instance{DatasetID: 3000, Fields: []any{"abcd", "hello"}}
	b, err := Marshal(reg, 3000, inst)
	require.NoError(t, err)
	// fixed part: 4 raw bytes, then dynamic: "hello\x00"
	assert.Equal(t, []byte("abcdhello\x00"), b)

	got, err := Unmarshal(reg, 3000, b)
	require.NoError(t, err)
	assert.Equal(t, "abcd", got.Fields[0])
	assert.Equal(t, "hello", got.Fields[1])
}

func TestNestedDatasetRoundTrip(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Dataset{
		ID:       1001,
		Elements: []Element{{Type: TypeUint16, Size: 1}},
	}))
	require.NoError(t, reg.Register(&Dataset{
		ID:       1000,
		Elements: []Element{{Type: TypeUint32, Size: 1}, {Type: 1001, Size: 0}},
	}))

	inst := &Instance{
		DatasetID: 1000,
		Fields: []any{
			[]uint32{42},
			[]*Instance{
				{DatasetID: 1001, Fields: []any{[]uint16{1}}},
				{DatasetID: 1001, Fields: []any{[]uint16{2}}},
			},
		},
	}
	b, err := Marshal(reg, 1000, inst)
	require.NoError(t, err)

	got, err := Unmarshal(reg, 1000, b)
	require.NoError(t, err)
	nested, ok := got.Fields[1].([]*Instance)
	require.True(t, ok)
	require.Len(t, nested, 2)
	assert.Equal(t, []uint16{1}, nested[0].Fields[0])
	assert.Equal(t, []uint16{2}, nested[1].Fields[0])
}

func TestNestingDepthExceeded(t *testing.T) {
	reg := NewRegistry()
	// six datasets nested inside one another: depth 6 on unmarshal/marshal.
	ids := []uint32{1000, 1001, 1002, 1003, 1004, 1005}
	for i, id := range ids {
		el := Element{Type: TypeUint8, Size: 1}
		if i+1 < len(ids) {
			el = Element{Type: ids[i+1], Size: 1}
		}
		require.NoError(t, reg.Register(&Dataset{ID: id, Elements: []Element{el}}))
	}

	// Build an instance 6 levels deep by hand.
	leaf := &Instance{DatasetID: ids[5], Fields: []any{[]uint8{1}}}
	l4 := &Instance{DatasetID: ids[4], Fields: []any{[]*Instance{leaf}}}
	l3 := &Instance{DatasetID: ids[3], Fields: []any{[]*Instance{l4}}}
	l2 := &Instance{DatasetID: ids[2], Fields: []any{[]*Instance{l3}}}
	l1 := &Instance{DatasetID: ids[1], Fields: []any{[]*Instance{l2}}}
	root := &Instance{DatasetID: ids[0], Fields: []any{[]*Instance{l1}}}

	_, err := Marshal(reg, ids[0], root)
	assert.True(t, vos.IsKind(err, vos.KindParam))
}

func TestUnmarshalFailsOnShortData(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Dataset{ID: 4000, Elements: []Element{{Type: TypeUint32, Size: 1}}}))
	_, err := Unmarshal(reg, 4000, []byte{0, 1})
	assert.True(t, vos.IsKind(err, vos.KindWire))
}

func TestUnmarshalRejectsOversizedDynamicCount(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Dataset{ID: 5000, Elements: []Element{{Type: TypeUint8, Size: 0}}}))
	// count prefix larger than maxDynamicElements
	data := []byte{0xFF, 0xFF}
	_, err := Unmarshal(reg, 5000, data)
	assert.True(t, vos.IsKind(err, vos.KindMem))
}

func TestFieldCountMismatchIsParamError(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Dataset{ID: 6000, Elements: []Element{{Type: TypeUint8, Size: 1}, {Type: TypeUint8, Size: 1}}}))
	_, err := Marshal(reg, 6000, &Instance{DatasetID: 6000, Fields: []any{[]uint8{1}}})
	assert.True(t, vos.IsKind(err, vos.KindParam))
}
