package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
)

// entry wraps a cached value with its expiration time.
type entry struct {
	data      []byte
	expiresAt time.Time
}

// Memory is an in-memory W-TinyLFU cache backed by otter.
type Memory struct {
	cache      *otter.Cache[string, entry]
	defaultTTL time.Duration
	now        func() time.Time
}

// NewMemory creates an in-memory cache with the given max entry count and default TTL.
func NewMemory(maxSize int, defaultTTL time.Duration) (*Memory, error) {
	if defaultTTL <= 0 {
		return nil, fmt.Errorf("create cache: default ttl must be positive, got %s", defaultTTL)
	}
	m := &Memory{defaultTTL: defaultTTL, now: time.Now}
	c, err := otter.New(&otter.Options[string, entry]{
		MaximumSize: maxSize,
		// otter drops the entry on its own once the per-entry deadline passes;
		// Get still checks expiresAt so reads never observe a stale value.
		ExpiryCalculator: otter.ExpiryWritingFunc(func(e otter.Entry[string, entry]) time.Duration {
			return max(e.Value.expiresAt.Sub(m.now()), time.Nanosecond)
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	m.cache = c
	return m, nil
}

// Get retrieves a value from the cache if present and not expired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	e, ok := m.cache.GetIfPresent(key)
	if !ok {
		return nil, false
	}
	if !m.now().Before(e.expiresAt) {
		m.cache.Invalidate(key)
		return nil, false
	}
	return e.data, true
}

// Set stores a value with per-entry TTL. A non-positive ttl uses the default.
func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	m.cache.Set(key, entry{
		data:      val,
		expiresAt: m.now().Add(ttl),
	})
}

// Flush removes all values from the cache.
func (m *Memory) Flush(_ context.Context) {
	m.cache.InvalidateAll()
}

// Len returns the approximate number of live entries.
func (m *Memory) Len() int {
	return m.cache.EstimatedSize()
}
