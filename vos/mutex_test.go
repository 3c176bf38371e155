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

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutexReentrant(t *testing.T) {
	m := NewMutex()
	m.Lock(1)
	m.Lock(1) // same owner: must not deadlock
	require.NoError(t, m.Unlock(1))
	require.NoError(t, m.Unlock(1))
}

func TestMutexTryLockInUse(t *testing.T) {
	m := NewMutex()
	m.Lock(1)
	err := m.TryLock(2)
	assert.True(t, IsKind(err, KindMutex))
	require.NoError(t, m.Unlock(1))
	require.NoError(t, m.TryLock(2))
}

func TestMutexUnlockWrongOwner(t *testing.T) {
	m := NewMutex()
	m.Lock(1)
	err := m.Unlock(2)
	assert.True(t, IsKind(err, KindMutex))
}

func TestMutexBlocksOtherOwner(t *testing.T) {
	m := NewMutex()
	m.Lock(1)
	unlocked := make(chan struct{})
	go func() {
		m.Lock(2)
		close(unlocked)
		_ = m.Unlock(2)
	}()
	select {
	case <-unlocked:
		t.Fatal("owner 2 should not have acquired the mutex yet")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, m.Unlock(1))
	select {
	case <-unlocked:
	case <-time.After(time.Second):
		t.Fatal("owner 2 never acquired the mutex")
	}
}
