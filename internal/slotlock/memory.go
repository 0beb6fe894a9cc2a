// internal/slotlock/memory.go
package slotlock

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	ch    chan struct{}
	refs  int
	token string
}

// MemoryLocker is a per-key mutex map. It only serializes callers inside one process.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{entries: make(map[string]*memoryEntry)}
}

func (m *MemoryLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (Handle, error) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if !ok {
		entry = &memoryEntry{ch: make(chan struct{}, 1)}
		m.entries[key] = entry
	}
	entry.refs++
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case entry.ch <- struct{}{}:
		token := newToken()
		m.mu.Lock()
		entry.token = token
		m.mu.Unlock()
		return Handle{Key: key, Token: token}, nil
	case <-ctx.Done():
		m.unref(key, entry)
		return Handle{}, ctx.Err()
	case <-timer.C:
		m.unref(key, entry)
		return Handle{}, ErrTimeout
	}
}

func (m *MemoryLocker) Release(_ context.Context, h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[h.Key]
	if !ok || entry.token == "" || entry.token != h.Token {
		return ErrNotHeld
	}
	entry.token = ""
	<-entry.ch
	entry.refs--
	if entry.refs == 0 {
		delete(m.entries, h.Key)
	}
	return nil
}

func (m *MemoryLocker) unref(key string, entry *memoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(m.entries, key)
	}
}

// Len reports the number of keys currently held or awaited.
func (m *MemoryLocker) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
