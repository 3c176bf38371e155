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

// Mutex is a recursive mutex: the owner token that holds it may Lock it
// again without deadlocking, and TryLock never blocks. Plain sync.Mutex
// supports neither.
type Mutex struct {
	gate  sync.Mutex
	free  *sync.Cond
	owner int64 // goroutine identity surrogate, 0 means unlocked
	depth int
}

// NewMutex returns a ready-to-use recursive Mutex.
func NewMutex() *Mutex {
	m := &Mutex{}
	m.free = sync.NewCond(&m.gate)
	return m
}

// Lock acquires the mutex for owner, blocking if another owner holds it.
// Re-entrant calls from the same owner succeed immediately. Callers pass a
// stable token identifying their logical owner (e.g. a session or worker
// id); spec's VOS layer treats this the same as a thread id.
func (m *Mutex) Lock(owner int64) {
	m.gate.Lock()
	defer m.gate.Unlock()
	for m.owner != 0 && m.owner != owner {
		m.free.Wait()
	}
	m.owner = owner
	m.depth++
}

// TryLock attempts to acquire the mutex without blocking, returning a
// KindMutex error if another owner currently holds it.
func (m *Mutex) TryLock(owner int64) error {
	m.gate.Lock()
	defer m.gate.Unlock()
	if m.owner != 0 && m.owner != owner {
		return NewError(KindMutex, "Mutex.TryLock", nil)
	}
	m.owner = owner
	m.depth++
	return nil
}

// Unlock releases one level of ownership; the mutex is only actually
// released once Unlock has been called as many times as Lock/TryLock.
func (m *Mutex) Unlock(owner int64) error {
	m.gate.Lock()
	defer m.gate.Unlock()
	if m.owner != owner {
		return NewError(KindMutex, "Mutex.Unlock", nil)
	}
	m.depth--
	if m.depth == 0 {
		m.owner = 0
		m.free.Broadcast()
	}
	return nil
}
