package store

import (
	"bytes"
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

type memEntry struct {
	value   []byte
	set     map[string]struct{}
	expires time.Time
}

// MemoryKV is a process-local KV for tests and single-instance deployments.
// Expired keys are dropped lazily on access.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	now     func() time.Time
}

// NewMemoryKV creates an empty in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
}

// SetClock replaces the time source; used by tests to move past expiries.
func (m *MemoryKV) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// lookup returns the live entry for key, evicting it if expired. Callers hold mu.
func (m *MemoryKV) lookup(key string) *memEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func (m *MemoryKV) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil || e.set != nil {
		return nil, ErrNotFound
	}
	return bytes.Clone(e.value), nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = &memEntry{value: bytes.Clone(value), expires: m.expiry(ttl)}
	return nil
}

func (m *MemoryKV) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookup(key) != nil {
		return false, nil
	}
	m.entries[key] = &memEntry{value: bytes.Clone(value), expires: m.expiry(ttl)}
	return true, nil
}

func (m *MemoryKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *MemoryKV) CompareAndDelete(_ context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil || !bytes.Equal(e.value, value) {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *MemoryKV) CompareAndExpire(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil || !bytes.Equal(e.value, value) {
		return false, nil
	}
	e.expires = m.expiry(ttl)
	return true, nil
}

func (m *MemoryKV) SAdd(_ context.Context, key, member string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil || e.set == nil {
		e = &memEntry{set: make(map[string]struct{})}
		m.entries[key] = e
	}
	e.set[member] = struct{}{}
	e.expires = m.expiry(ttl)
	return nil
}

func (m *MemoryKV) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil || e.set == nil {
		return nil
	}
	for _, member := range members {
		delete(e.set, member)
	}
	if len(e.set) == 0 {
		delete(m.entries, key)
	}
	return nil
}

func (m *MemoryKV) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil || e.set == nil {
		return nil, nil
	}
	members := make([]string, 0, len(e.set))
	for member := range e.set {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

func (m *MemoryKV) Scan(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.entries {
		if m.lookup(k) == nil {
			continue
		}
		ok, err := path.Match(pattern, k)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryKV) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil {
		return 0, ErrNotFound
	}
	if e.expires.IsZero() {
		return NoExpiry, nil
	}
	return e.expires.Sub(m.now()), nil
}

func (m *MemoryKV) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil {
		return false, nil
	}
	e.expires = m.expiry(ttl)
	return true, nil
}

func (m *MemoryKV) Close() error { return nil }
