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

// Package dataset implements the schema-driven marshaller (spec §3.2,
// §4.2): walking an ordered list of typed elements to serialise an
// application payload to, and parse one from, network byte order.
//
// The XML loader that would normally populate schemas and the
// ComID-to-DatasetID table is an external collaborator (out of scope);
// this package only consumes an already-built Registry and ComIDMap.
package dataset

import (
	"fmt"
	"sync"

	"github.com/tcnopen/trdp-go/vos"
)

// Primitive type codes, spec §3.2.
const (
	TypeBool8     uint32 = 1
	TypeChar8     uint32 = 2
	TypeUtf16     uint32 = 3
	TypeInt8      uint32 = 4
	TypeInt16     uint32 = 5
	TypeInt32     uint32 = 6
	TypeInt64     uint32 = 7
	TypeUint8     uint32 = 8
	TypeUint16    uint32 = 9
	TypeUint32    uint32 = 10
	TypeUint64    uint32 = 11
	TypeReal32    uint32 = 12
	TypeReal64    uint32 = 13
	TypeTimeDate32 uint32 = 14
	TypeTimeDate48 uint32 = 15
	TypeTimeDate64 uint32 = 16
)

// firstDatasetID is the smallest value a Type field may hold to mean
// "nested dataset" rather than a primitive code.
const firstDatasetID uint32 = 1000

// isNested reports whether typ names a nested dataset rather than a
// primitive.
func isNested(typ uint32) bool { return typ >= firstDatasetID }

// width returns the wire width in bytes of a fixed-width primitive type.
func width(typ uint32) (int, error) {
	switch typ {
	case TypeBool8, TypeChar8, TypeInt8, TypeUint8:
		return 1, nil
	case TypeUtf16, TypeInt16, TypeUint16:
		return 2, nil
	case TypeInt32, TypeUint32, TypeReal32, TypeTimeDate32:
		return 4, nil
	case TypeTimeDate48:
		return 6, nil
	case TypeInt64, TypeUint64, TypeReal64, TypeTimeDate64:
		return 8, nil
	default:
		return 0, fmt.Errorf("unknown primitive type %d", typ)
	}
}

// Element is one field of a dataset schema (spec §3.2). Scale and Offset
// are carried for numeric display purposes only; they play no part in
// the wire form.
type Element struct {
	Type   uint32 // primitive code 1..16, or a dataset id >= 1000
	Size   uint16 // fixed element count, or 0 for "dynamic"
	Scale  float64
	Offset float64
}

// Dataset is an ordered list of elements identified by a dataset id.
type Dataset struct {
	ID       uint32
	Elements []Element
}

// Registry resolves dataset ids to schemas. Populated by the
// configuration collaborator at startup; read concurrently by the
// marshaller and the session's receive path thereafter.
type Registry struct {
	mu       sync.RWMutex
	datasets map[uint32]*Dataset
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{datasets: make(map[uint32]*Dataset)}
}

// Register adds or replaces ds in the registry.
func (r *Registry) Register(ds *Dataset) error {
	if ds == nil || ds.ID == 0 {
		return vos.NewError(vos.KindParam, "Registry.Register", fmt.Errorf("dataset must have a non-zero id"))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.datasets[ds.ID] = ds
	return nil
}

// Lookup returns the dataset registered under id.
func (r *Registry) Lookup(id uint32) (*Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ds, ok := r.datasets[id]
	if !ok {
		return nil, vos.NewError(vos.KindParam, "Registry.Lookup", fmt.Errorf("dataset %d not registered", id))
	}
	return ds, nil
}

// ComIDMap resolves a telegram's ComID to the dataset id describing its
// payload (spec §3.2's "ComID-to-DatasetID mapping table").
type ComIDMap map[uint32]uint32

// Resolve looks up the dataset id for comID.
func (m ComIDMap) Resolve(comID uint32) (uint32, bool) {
	id, ok := m[comID]
	return id, ok
}

// TimeDate48 is a 48-bit timestamp: whole seconds plus a tick counter.
type TimeDate48 struct {
	Sec   uint32
	Ticks uint16
}

// TimeDate64 is a 64-bit timestamp: whole seconds plus a tick counter.
type TimeDate64 struct {
	Sec   uint32
	Ticks uint32
}

// maxNestingDepth is the deepest a nested dataset may recurse (spec §4.2).
const maxNestingDepth = 5

// Instance is a schema-conformant value: one entry per Dataset.Elements,
// in order. The concrete type held at Fields[i] depends on
// Dataset.Elements[i].Type:
//
//	bool8            []bool
//	char8            string (fixed: exactly Size bytes; dynamic: any length)
//	utf16            []uint16 (fixed: exactly Size code units; dynamic: any length)
//	int8/16/32/64    []int8 / []int16 / []int32 / []int64
//	uint8/16/32/64   []uint8 / []uint16 / []uint32 / []uint64
//	real32/64        []float32 / []float64
//	timedate32       []uint32
//	timedate48       []TimeDate48
//	timedate64       []TimeDate64
//	nested dataset   []*Instance
type Instance struct {
	DatasetID uint32
	Fields    []any
}
