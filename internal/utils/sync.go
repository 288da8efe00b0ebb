package utils

import (
	"sync"
	"sync/atomic"
)

// OptionalMutex is a mutex that can be switched off for externally-synchronized consumers. It
// also counts how often Lock found the mutex already held.
type OptionalMutex struct {
	mutex     sync.Mutex
	useMutex  bool
	contended atomic.Uint64
}

func (m *OptionalMutex) Init(useMutex bool) {
	m.useMutex = useMutex
	m.contended.Store(0)
}

func (m *OptionalMutex) UsesMutex() bool {
	return m.useMutex
}

func (m *OptionalMutex) Lock() {
	if !m.useMutex {
		return
	}

	if m.mutex.TryLock() {
		return
	}

	m.contended.Add(1)
	m.mutex.Lock()
}

func (m *OptionalMutex) TryLock() bool {
	if m.useMutex {
		return m.mutex.TryLock()
	}

	return true
}

func (m *OptionalMutex) Unlock() {
	if m.useMutex {
		m.mutex.Unlock()
	}
}

// Contended returns the number of Lock calls that had to wait for another holder
func (m *OptionalMutex) Contended() uint64 {
	return m.contended.Load()
}
