package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/holocron-labs/holocron/internal/logging"
	"github.com/holocron-labs/holocron/internal/metrics"
	"github.com/holocron-labs/holocron/storage"
	"github.com/holocron-labs/holocron/swapi"
)

// Store is a thread-safe TTL cache persisted to a storage.Medium.
// With a capacity set it also evicts the least recently used entry.
type Store struct {
	mu        sync.Mutex
	persistMu sync.Mutex // orders snapshot writes

	medium    storage.Medium
	namespace string
	ttl       time.Duration
	capacity  int
	now       func() time.Time
	log       *slog.Logger

	items     map[string]*list.Element
	evictList *list.List
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the default time-to-live used by Set when ttl <= 0.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithNamespace sets the medium key holding the snapshot.
func WithNamespace(ns string) Option {
	return func(s *Store) {
		if ns != "" {
			s.namespace = ns
		}
	}
}

// WithCapacity bounds the number of entries; 0 means unbounded.
func WithCapacity(n int) Option {
	return func(s *Store) { s.capacity = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used for degraded-storage warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a Store backed by medium. A nil medium selects an in-process
// storage.Memory with the default quota.
func New(medium storage.Medium, opts ...Option) *Store {
	if medium == nil {
		medium = storage.NewMemory(0)
	}
	s := &Store{
		medium:    medium,
		namespace: DefaultNamespace,
		ttl:       DefaultTTL,
		now:       time.Now,
		log:       logging.Component("cache"),
		items:     make(map[string]*list.Element),
		evictList: list.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the cached body for key, or false if missing or expired.
// An expired entry is evicted as a side effect.
func (s *Store) Get(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	elem, ok := s.items[key]
	if !ok {
		s.mu.Unlock()
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}

	entry := elem.Value.(*Entry)
	if entry.Expired(s.now()) {
		s.removeElement(elem)
		s.mu.Unlock()
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		s.log.Debug("evicted expired entry", "key", key)
		_ = s.persist(context.Background())
		return nil, false
	}

	s.evictList.MoveToFront(elem)
	data := entry.Data
	s.mu.Unlock()
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return data, true
}

// Set stores data under key for ttl (the default TTL when ttl <= 0) and
// persists the full snapshot. It returns false when the medium rejects the
// write; the entry stays readable from memory in that case.
func (s *Store) Set(ctx context.Context, key string, data json.RawMessage, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now()
	entry := &Entry{
		Key:       key,
		Data:      append(json.RawMessage(nil), data...),
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	s.mu.Lock()
	if elem, ok := s.items[key]; ok {
		elem.Value = entry
		s.evictList.MoveToFront(elem)
	} else {
		if s.capacity > 0 && s.evictList.Len() >= s.capacity {
			s.removeOldest()
		}
		s.items[key] = s.evictList.PushFront(entry)
	}
	s.mu.Unlock()

	if err := s.persist(ctx); err != nil {
		metrics.CacheWriteFailures.Inc()
		s.log.Warn("failed to persist cache entry", "key", key, "error", err)
		return false
	}
	return true
}

// Remove deletes key. Removing a missing key succeeds.
func (s *Store) Remove(ctx context.Context, key string) bool {
	s.mu.Lock()
	elem, ok := s.items[key]
	if ok {
		s.removeElement(elem)
	}
	s.mu.Unlock()
	if !ok {
		return true
	}

	if err := s.persist(ctx); err != nil {
		s.log.Warn("failed to persist cache removal", "key", key, "error", err)
		return false
	}
	return true
}

// ClearAll drops every entry and deletes the persisted snapshot.
func (s *Store) ClearAll(ctx context.Context) bool {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.items = make(map[string]*list.Element)
	s.evictList.Init()
	s.mu.Unlock()

	if err := s.medium.Delete(ctx, s.namespace); err != nil {
		s.log.Warn("failed to clear persisted cache", "error", &swapi.StorageError{Op: "delete", Key: s.namespace, Err: err})
		return false
	}
	return true
}

// Load replaces the in-memory contents with the persisted snapshot,
// discarding entries that are already expired. It returns the number of
// live entries restored. A missing snapshot restores nothing.
func (s *Store) Load(ctx context.Context) (int, error) {
	raw, err := s.medium.Load(ctx, s.namespace)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, &swapi.StorageError{Op: "load", Key: s.namespace, Err: err}
	}

	var pairs []pair
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return 0, &swapi.StorageError{Op: "decode", Key: s.namespace, Err: err}
	}

	now := s.now()
	items := make(map[string]*list.Element, len(pairs))
	evictList := list.New()
	// Snapshots are written least recently used first.
	for _, p := range pairs {
		if p.entry == nil || p.entry.Expired(now) {
			continue
		}
		p.entry.Key = p.key
		if elem, ok := items[p.key]; ok {
			evictList.Remove(elem)
		}
		items[p.key] = evictList.PushFront(p.entry)
	}

	s.mu.Lock()
	s.items = items
	s.evictList = evictList
	for s.capacity > 0 && s.evictList.Len() > s.capacity {
		s.removeOldest()
	}
	n := s.evictList.Len()
	s.mu.Unlock()
	return n, nil
}

// Prune evicts every expired entry and persists the result when anything
// was removed. It returns the number of entries evicted.
func (s *Store) Prune(ctx context.Context) int {
	now := s.now()
	s.mu.Lock()
	n := 0
	for elem := s.evictList.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*Entry).Expired(now) {
			s.removeElement(elem)
			n++
		}
		elem = prev
	}
	s.mu.Unlock()

	if n > 0 {
		if err := s.persist(ctx); err != nil {
			metrics.CacheWriteFailures.Inc()
			s.log.Warn("failed to persist pruned cache", "error", err)
		}
	}
	return n
}

// Len returns the number of entries held in memory, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictList.Len()
}

// Stats returns the entry count and the total size of keys and bodies.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Items: s.evictList.Len()}
	for elem := s.evictList.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*Entry)
		st.SizeBytes += len(entry.Key) + len(entry.Data)
	}
	return st
}

// Close closes the underlying medium.
func (s *Store) Close() error {
	return s.medium.Close()
}

func (s *Store) persist(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	pairs := make([]pair, 0, s.evictList.Len())
	for elem := s.evictList.Back(); elem != nil; elem = elem.Prev() {
		entry := elem.Value.(*Entry)
		pairs = append(pairs, pair{key: entry.Key, entry: entry})
	}
	raw, err := json.Marshal(pairs)
	s.mu.Unlock()
	if err != nil {
		return &swapi.StorageError{Op: "encode", Key: s.namespace, Err: err}
	}

	if err := s.medium.Save(ctx, s.namespace, raw); err != nil {
		return &swapi.StorageError{Op: "save", Key: s.namespace, Err: err}
	}
	return nil
}

// removeOldest and removeElement must be called with s.mu held.
func (s *Store) removeOldest() {
	if elem := s.evictList.Back(); elem != nil {
		s.removeElement(elem)
	}
}

func (s *Store) removeElement(elem *list.Element) {
	s.evictList.Remove(elem)
	entry := elem.Value.(*Entry)
	delete(s.items, entry.Key)
}
