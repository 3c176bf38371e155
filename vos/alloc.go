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

package vos

import "sync"

// minBlockSize and maxBlockSize bound the 15 power-of-two size classes the
// arena allocator serves: 32 .. 524288 bytes.
const (
	minBlockSize = 32
	maxBlockSize = 524288
	numClasses   = 15
)

// Block is a handle to an allocation. Callers read/write Data; Free must be
// called exactly once per Block.
type Block struct {
	Data  []byte
	class int
	freed bool
}

// AllocStats mirrors the counters spec §4.1/§4.8 requires from the
// allocator: current/minimum free bytes, per-class allocation counts, and
// error counts.
type AllocStats struct {
	FreeBytes    int64
	MinFreeBytes int64
	AllocCount   [numClasses]uint32
	FreeCount    [numClasses]uint32
	WasteCount   uint32
	AllocErrors  uint32
	FreeErrors   uint32
}

// Arena is the bounded-block allocator described in spec §4.1. A zero-size
// Arena falls through to the platform heap, as the spec allows.
type Arena struct {
	mu sync.Mutex

	size      int64
	cursor    int64 // bytes carved out of the arena so far
	classes   [numClasses]int64
	freeLists [numClasses][][]byte

	stats AllocStats
}

func init() {
	// sanity-checked once: classes are 32, 64, ..., 524288.
	sz := int64(minBlockSize)
	for i := 0; i < numClasses; i++ {
		if sz > maxBlockSize && i != numClasses-1 {
			panic("vos: size class table misconfigured")
		}
		sz <<= 1
	}
}

// NewArena creates an allocator over a contiguous arena of size bytes. size
// == 0 means "use the platform heap" (spec §4.1).
func NewArena(size int64) *Arena {
	a := &Arena{size: size}
	for i := range a.classes {
		a.classes[i] = int64(minBlockSize) << uint(i)
	}
	a.stats.FreeBytes = size
	a.stats.MinFreeBytes = size
	return a
}

// Preseed carves count blocks of each requested class up front, so a
// steady-state workload never pays the "carve from arena tail" cost after
// startup (recommended by spec §4.1 to avoid late fragmentation).
func (a *Arena) Preseed(counts map[int]int) error {
	if a.size == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for classSize, n := range counts {
		idx := a.classIndexLocked(int64(classSize))
		if idx < 0 {
			return NewError(KindParam, "Arena.Preseed", nil)
		}
		for i := 0; i < n; i++ {
			blk, err := a.carveLocked(idx)
			if err != nil {
				return err
			}
			a.freeLists[idx] = append(a.freeLists[idx], blk)
			a.stats.FreeBytes = (a.size - a.cursor) + a.freeListBytesLocked()
		}
	}
	return nil
}

func (a *Arena) classIndexLocked(want int64) int {
	for i, sz := range a.classes {
		if sz >= want {
			return i
		}
	}
	return -1
}

// carveLocked cuts a new block of a.classes[idx] bytes from the arena tail.
func (a *Arena) carveLocked(idx int) ([]byte, error) {
	sz := a.classes[idx]
	if a.cursor+sz > a.size {
		return nil, NewError(KindMem, "Arena.carve", nil)
	}
	blk := make([]byte, sz)
	a.cursor += sz
	a.stats.FreeBytes = (a.size - a.cursor) + a.freeListBytesLocked()
	if a.stats.FreeBytes < a.stats.MinFreeBytes {
		a.stats.MinFreeBytes = a.stats.FreeBytes
	}
	return blk, nil
}

func (a *Arena) freeListBytesLocked() int64 {
	var n int64
	for i, fl := range a.freeLists {
		n += int64(len(fl)) * a.classes[i]
	}
	return n
}

// Alloc requests a block able to hold at least n bytes.
func (a *Arena) Alloc(n int) (*Block, error) {
	if n < 0 {
		return nil, NewError(KindParam, "Arena.Alloc", nil)
	}
	if a.size == 0 {
		return &Block{Data: make([]byte, n), class: -1}, nil
	}
	// round up to 4 bytes per spec §4.1.
	want := int64((n + 3) &^ 3)
	if want < minBlockSize {
		want = minBlockSize
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	idx := a.classIndexLocked(want)
	if idx < 0 {
		a.stats.AllocErrors++
		return nil, NewError(KindMem, "Arena.Alloc", nil)
	}

	used := idx
	var blk []byte
	if fl := a.freeLists[idx]; len(fl) > 0 {
		blk = fl[len(fl)-1]
		a.freeLists[idx] = fl[:len(fl)-1]
	} else {
		var err error
		blk, err = a.carveLocked(idx)
		if err != nil {
			// arena tail exhausted: fall back to a larger class's free list.
			for j := idx + 1; j < numClasses; j++ {
				if fl := a.freeLists[j]; len(fl) > 0 {
					blk = fl[len(fl)-1]
					a.freeLists[j] = fl[:len(fl)-1]
					used = j
					a.stats.WasteCount++
					break
				}
			}
			if blk == nil {
				a.stats.AllocErrors++
				return nil, NewError(KindMem, "Arena.Alloc", nil)
			}
		}
	}

	a.stats.FreeBytes = (a.size - a.cursor) + a.freeListBytesLocked()
	if a.stats.FreeBytes < a.stats.MinFreeBytes {
		a.stats.MinFreeBytes = a.stats.FreeBytes
	}
	a.stats.AllocCount[used]++
	return &Block{Data: blk[:n], class: used}, nil
}

// Free returns b to its size class's free list. Freeing a nil or
// already-freed Block is a counted error, not a panic (spec §7 propagation
// policy: allocator failures never tear down the session).
func (a *Arena) Free(b *Block) error {
	if b == nil || b.freed {
		a.mu.Lock()
		a.stats.FreeErrors++
		a.mu.Unlock()
		return NewError(KindParam, "Arena.Free", nil)
	}
	b.freed = true
	if b.class < 0 {
		return nil // heap fallback block, nothing to recycle.
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	full := b.Data[:cap(b.Data)]
	a.freeLists[b.class] = append(a.freeLists[b.class], full)
	a.stats.FreeBytes = (a.size - a.cursor) + a.freeListBytesLocked()
	a.stats.FreeCount[b.class]++
	return nil
}

// Stats returns a snapshot of the allocator counters.
func (a *Arena) Stats() AllocStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Size returns the arena's total byte capacity (0 for heap fallback).
func (a *Arena) Size() int64 { return a.size }
