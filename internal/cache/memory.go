package cache

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/NikhilSetiya/recovery-orchestrator/pkg/errors"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is a process-local Store used when Redis is not configured
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty store. now defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}

// Get returns the value of key, or a not-found error
func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return "", errors.NewNotFoundError("key")
	}
	if entry.expired(m.now()) {
		delete(m.entries, key)
		return "", errors.NewNotFoundError("key")
	}
	return entry.value, nil
}

// Set stores value under key. A zero expiration never expires.
func (m *MemoryStore) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{value: value}
	if expiration > 0 {
		entry.expiresAt = m.now().Add(expiration)
	}
	m.entries[key] = entry
	return nil
}

// Del deletes keys and reports how many existed
func (m *MemoryStore) Del(ctx context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	now := m.now()
	for _, key := range keys {
		if entry, ok := m.entries[key]; ok {
			if !entry.expired(now) {
				count++
			}
			delete(m.entries, key)
		}
	}
	return count, nil
}

// Keys returns the live keys matching a glob pattern
func (m *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var keys []string
	for key, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, key)
			continue
		}
		matched, err := path.Match(pattern, key)
		if err != nil {
			return nil, errors.NewValidationError("invalid key pattern").WithCause(err)
		}
		if matched {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// TTL mirrors go-redis: -2 for a missing key and -1 for a key without expiry
func (m *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	now := m.now()
	if !ok || entry.expired(now) {
		return -2, nil
	}
	if entry.expiresAt.IsZero() {
		return -1, nil
	}
	return entry.expiresAt.Sub(now), nil
}
