package cache

import (
	"context"
	"sync"
	"time"
)

// Cache stores serialized payloads under namespaced keys with per-entry
// expiry. Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the payload for key, or found=false on a miss or an
	// expired entry.
	Get(ctx context.Context, ns Namespace, key string) (payload []byte, found bool, err error)

	// Set stores payload under key for the given ttl.
	Set(ctx context.Context, ns Namespace, key string, payload []byte, ttl time.Duration) error

	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, ns Namespace, key string) error
}

type memEntry struct {
	payload   []byte
	expiresAt time.Time
}

// Memory is an in-process Cache bounded by entry count. Eviction is
// lazy on read plus oldest-expiry eviction when full.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]memEntry
	maxEntries int

	nowFunc func() time.Time
}

// NewMemory creates an in-memory cache holding at most maxEntries items.
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Memory{
		entries:    make(map[string]memEntry),
		maxEntries: maxEntries,
		nowFunc:    time.Now,
	}
}

func (m *Memory) Get(_ context.Context, ns Namespace, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := string(ns) + ":" + key
	e, ok := m.entries[k]
	if !ok {
		return nil, false, nil
	}
	if !m.nowFunc().Before(e.expiresAt) {
		delete(m.entries, k)
		return nil, false, nil
	}
	return e.payload, true, nil
}

func (m *Memory) Set(_ context.Context, ns Namespace, key string, payload []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := string(ns) + ":" + key
	if _, exists := m.entries[k]; !exists && len(m.entries) >= m.maxEntries {
		m.evictOne()
	}
	m.entries[k] = memEntry{
		payload:   payload,
		expiresAt: m.nowFunc().Add(ttl),
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, ns Namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, string(ns)+":"+key)
	return nil
}

// evictOne drops the entry closest to expiry. Caller holds the lock.
func (m *Memory) evictOne() {
	var victim string
	var earliest time.Time
	for k, e := range m.entries {
		if victim == "" || e.expiresAt.Before(earliest) {
			victim = k
			earliest = e.expiresAt
		}
	}
	if victim != "" {
		delete(m.entries, victim)
	}
}
