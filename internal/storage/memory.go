package storage

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore keeps everything in a map. Update transactions are serialized
// by a single lock, so they never conflict.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string]memoryEntry
	clock   clock.Clock
	opts    Options
	commits int
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(opts Options) *MemoryStore {
	return NewMemoryStoreWithClock(clock.New(), opts)
}

// NewMemoryStoreWithClock creates a store whose TTLs run on c.
func NewMemoryStoreWithClock(c clock.Clock, opts Options) *MemoryStore {
	return &MemoryStore{
		data:  make(map[string]memoryEntry),
		clock: c,
		opts:  opts.withDefaults(),
	}
}

// Backend implements Store.
func (s *MemoryStore) Backend() string { return BackendMemory }

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, now: s.clock.Now(), buf: newWriteBuffer()}
	if err := fn(tx); err != nil {
		return err
	}

	for _, w := range tx.buf.writes() {
		if w.delete {
			delete(s.data, w.key)
			continue
		}
		entry := memoryEntry{value: w.value}
		if w.ttl > 0 {
			entry.expiresAt = tx.now.Add(w.ttl)
		}
		s.data[w.key] = entry
	}

	s.commits++
	if s.commits%1024 == 0 {
		s.sweep(tx.now)
	}
	return nil
}

// View implements Store.
func (s *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memoryTx{store: s, now: s.clock.Now(), readOnly: true})
}

// sweep drops expired entries; the caller holds the write lock.
func (s *MemoryStore) sweep(now time.Time) {
	for k, e := range s.data {
		if e.expired(now) {
			delete(s.data, k)
		}
	}
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type memoryTx struct {
	store    *MemoryStore
	now      time.Time
	buf      *writeBuffer
	readOnly bool
}

func (t *memoryTx) Get(key string) ([]byte, error) {
	if t.buf != nil {
		if v, ok := t.buf.lookup(key); ok {
			if v == nil {
				return nil, ErrNotFound
			}
			return append([]byte(nil), v...), nil
		}
	}

	e, ok := t.store.data[key]
	if !ok || e.expired(t.now) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (t *memoryTx) Set(key string, value []byte, ttl time.Duration) error {
	if t.readOnly {
		return errReadOnly
	}
	t.buf.put(pendingWrite{key: key, value: value, ttl: ttl})
	return nil
}

func (t *memoryTx) Delete(key string) error {
	if t.readOnly {
		return errReadOnly
	}
	t.buf.put(pendingWrite{key: key, delete: true})
	return nil
}
