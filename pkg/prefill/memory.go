package prefill

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Expired items are dropped lazily on
// read and by a background sweep.
type MemoryStore struct {
	mu        sync.RWMutex
	items     map[string]memoryItem
	closed    bool
	cleanupCh chan struct{}
	now       func() time.Time
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore creates a store and starts its sweep goroutine; Close stops it.
func NewMemoryStore() *MemoryStore {
	ms := &MemoryStore{
		items:     make(map[string]memoryItem),
		cleanupCh: make(chan struct{}),
		now:       time.Now,
	}
	go ms.cleanupLoop()
	return ms
}

func (ms *MemoryStore) expired(item memoryItem) bool {
	return !item.expiresAt.IsZero() && ms.now().After(item.expiresAt)
}

func (ms *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if ms.closed {
		return nil, ErrStoreClosed
	}
	item, ok := ms.items[key]
	if !ok || ms.expired(item) {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), item.value...), nil
}

func (ms *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return ErrStoreClosed
	}
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = ms.now().Add(ttl)
	}
	ms.items[key] = item
	return nil
}

func (ms *MemoryStore) Delete(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return ErrStoreClosed
	}
	delete(ms.items, key)
	return nil
}

// Len returns the number of stored items, expired ones included.
func (ms *MemoryStore) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.items)
}

func (ms *MemoryStore) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return nil
	}
	ms.closed = true
	close(ms.cleanupCh)
	return nil
}

func (ms *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ms.cleanup()
		case <-ms.cleanupCh:
			return
		}
	}
}

func (ms *MemoryStore) cleanup() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for key, item := range ms.items {
		if ms.expired(item) {
			delete(ms.items, key)
		}
	}
}
