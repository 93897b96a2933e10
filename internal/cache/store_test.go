package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/holocron-labs/holocron/storage"
	"github.com/holocron-labs/holocron/swapi"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// brokenMedium fails every operation.
type brokenMedium struct{}

func (brokenMedium) Load(context.Context, string) ([]byte, error) { return nil, errors.New("disk gone") }
func (brokenMedium) Save(context.Context, string, []byte) error   { return errors.New("disk gone") }
func (brokenMedium) Delete(context.Context, string) error         { return errors.New("disk gone") }
func (brokenMedium) Close() error                                 { return nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(m storage.Medium, clock *fakeClock, opts ...Option) *Store {
	opts = append([]Option{WithClock(clock.Now), WithLogger(quietLogger())}, opts...)
	return New(m, opts...)
}

var ctx = context.Background()

func TestStore_SetAndGet(t *testing.T) {
	s := newTestStore(storage.NewMemory(-1), newFakeClock())

	if !s.Set(ctx, "https://swapi.dev/api/people/1/", json.RawMessage(`{"name":"Luke"}`), 0) {
		t.Fatal("expected Set to succeed")
	}
	got, ok := s.Get("https://swapi.dev/api/people/1/")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(got) != `{"name":"Luke"}` {
		t.Errorf("got %s", got)
	}
	if _, ok := s.Get("https://swapi.dev/api/people/2/"); ok {
		t.Error("expected cache miss")
	}
}

func TestStore_TTLExpiration(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(storage.NewMemory(-1), clock)

	s.Set(ctx, "k", json.RawMessage(`1`), time.Hour)

	clock.Advance(time.Hour)
	if _, ok := s.Get("k"); !ok {
		t.Fatal("entry must still be valid at exactly expiresAt")
	}

	clock.Advance(time.Nanosecond)
	if _, ok := s.Get("k"); ok {
		t.Fatal("expected miss after TTL")
	}
	if s.Len() != 0 {
		t.Errorf("expired entry should be evicted on read, len=%d", s.Len())
	}
}

func TestStore_DefaultTTL(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(storage.NewMemory(-1), clock)
	s.Set(ctx, "k", json.RawMessage(`1`), 0)

	clock.Advance(DefaultTTL - time.Minute)
	if _, ok := s.Get("k"); !ok {
		t.Fatal("expected hit before default TTL elapses")
	}
	clock.Advance(2 * time.Minute)
	if _, ok := s.Get("k"); ok {
		t.Fatal("expected miss after default TTL")
	}
}

func TestStore_WithTTLOverridesDefault(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(storage.NewMemory(-1), clock, WithTTL(time.Minute))
	s.Set(ctx, "k", json.RawMessage(`1`), 0)
	clock.Advance(2 * time.Minute)
	if _, ok := s.Get("k"); ok {
		t.Fatal("expected miss after configured TTL")
	}
}

func TestStore_SetOverwrites(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(storage.NewMemory(-1), clock)
	s.Set(ctx, "k", json.RawMessage(`"old"`), time.Minute)
	clock.Advance(30 * time.Second)
	s.Set(ctx, "k", json.RawMessage(`"new"`), time.Minute)
	clock.Advance(45 * time.Second)

	got, ok := s.Get("k")
	if !ok {
		t.Fatal("refetch should restart the TTL")
	}
	if string(got) != `"new"` {
		t.Errorf("got %s, want new", got)
	}
	if s.Len() != 1 {
		t.Errorf("len = %d, want 1", s.Len())
	}
}

func TestStore_SetReportsQuotaFailure(t *testing.T) {
	s := newTestStore(storage.NewMemory(16), newFakeClock())

	if s.Set(ctx, "k", json.RawMessage(`{"name":"a very long body that does not fit"}`), 0) {
		t.Fatal("expected Set to report the rejected write")
	}
	if _, ok := s.Get("k"); !ok {
		t.Error("entry should remain readable from memory after a failed persist")
	}
}

func TestStore_SnapshotFormat(t *testing.T) {
	m := storage.NewMemory(-1)
	s := newTestStore(m, newFakeClock())
	s.Set(ctx, "a", json.RawMessage(`{"n":1}`), 0)
	s.Set(ctx, "b", json.RawMessage(`{"n":2}`), 0)

	raw, err := m.Load(ctx, DefaultNamespace)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	var pairs [][]json.RawMessage
	if err := json.Unmarshal(raw, &pairs); err != nil {
		t.Fatalf("snapshot is not an array of pairs: %v", err)
	}
	if len(pairs) != 2 || len(pairs[0]) != 2 {
		t.Fatalf("unexpected snapshot shape: %s", raw)
	}
	var key string
	_ = json.Unmarshal(pairs[0][0], &key)
	if key != "a" {
		t.Errorf("first pair key = %q, want a (least recently used first)", key)
	}
	var entry Entry
	if err := json.Unmarshal(pairs[0][1], &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry.ExpiresAt.Sub(entry.CachedAt) != DefaultTTL {
		t.Errorf("expiresAt - cachedAt = %v, want %v", entry.ExpiresAt.Sub(entry.CachedAt), DefaultTTL)
	}
}

func TestStore_LoadRestoresAndDropsExpired(t *testing.T) {
	m := storage.NewMemory(-1)
	clock := newFakeClock()
	writer := newTestStore(m, clock)
	writer.Set(ctx, "short", json.RawMessage(`1`), time.Minute)
	writer.Set(ctx, "long", json.RawMessage(`2`), time.Hour)

	clock.Advance(10 * time.Minute)
	reader := newTestStore(m, clock)
	n, err := reader.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 1 {
		t.Fatalf("restored %d entries, want 1", n)
	}
	if _, ok := reader.Get("short"); ok {
		t.Error("expired entry should be discarded at load")
	}
	if got, ok := reader.Get("long"); !ok || string(got) != "2" {
		t.Errorf("expected long=2 after load, got (%s, %v)", got, ok)
	}
}

func TestStore_LoadMissingSnapshot(t *testing.T) {
	s := newTestStore(storage.NewMemory(-1), newFakeClock())
	n, err := s.Load(ctx)
	if err != nil || n != 0 {
		t.Fatalf("Load() = (%d, %v), want (0, nil)", n, err)
	}
}

func TestStore_LoadCorruptSnapshot(t *testing.T) {
	m := storage.NewMemory(-1)
	_ = m.Save(ctx, DefaultNamespace, []byte(`{not json`))
	s := newTestStore(m, newFakeClock())

	_, err := s.Load(ctx)
	var se *swapi.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if se.Op != "decode" {
		t.Errorf("op = %q, want decode", se.Op)
	}
}

func TestStore_LoadMediumFailure(t *testing.T) {
	s := newTestStore(brokenMedium{}, newFakeClock())
	_, err := s.Load(ctx)
	var se *swapi.StorageError
	if !errors.As(err, &se) || se.Op != "load" {
		t.Fatalf("expected load StorageError, got %v", err)
	}
}

func TestStore_ClearAllIdempotent(t *testing.T) {
	m := storage.NewMemory(-1)
	s := newTestStore(m, newFakeClock())
	s.Set(ctx, "a", json.RawMessage(`1`), 0)
	s.Set(ctx, "b", json.RawMessage(`2`), 0)

	if !s.ClearAll(ctx) {
		t.Fatal("first ClearAll failed")
	}
	if !s.ClearAll(ctx) {
		t.Fatal("second ClearAll failed")
	}
	if s.Len() != 0 {
		t.Errorf("len = %d after clear, want 0", s.Len())
	}
	if _, err := m.Load(ctx, DefaultNamespace); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected persisted snapshot to be deleted, got %v", err)
	}
}

func TestStore_BrokenMediumNeverPanics(t *testing.T) {
	s := newTestStore(brokenMedium{}, newFakeClock())
	if s.Set(ctx, "k", json.RawMessage(`1`), 0) {
		t.Error("Set should report failure")
	}
	if s.Remove(ctx, "k") {
		t.Error("Remove should report failure when the snapshot cannot be rewritten")
	}
	if s.ClearAll(ctx) {
		t.Error("ClearAll should report failure")
	}
}

func TestStore_RemoveIdempotent(t *testing.T) {
	s := newTestStore(storage.NewMemory(-1), newFakeClock())
	s.Set(ctx, "k", json.RawMessage(`1`), 0)
	if !s.Remove(ctx, "k") || !s.Remove(ctx, "k") {
		t.Fatal("Remove should succeed twice")
	}
	if _, ok := s.Get("k"); ok {
		t.Error("expected miss after remove")
	}
}

func TestStore_CapacityEvictsLRU(t *testing.T) {
	s := newTestStore(storage.NewMemory(-1), newFakeClock(), WithCapacity(2))
	s.Set(ctx, "a", json.RawMessage(`1`), 0)
	s.Set(ctx, "b", json.RawMessage(`2`), 0)
	s.Get("a") // "b" becomes least recently used
	s.Set(ctx, "c", json.RawMessage(`3`), 0)

	if _, ok := s.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := s.Get("a"); !ok {
		t.Error("expected a to be present")
	}
	if _, ok := s.Get("c"); !ok {
		t.Error("expected c to be present")
	}
}

func TestStore_PruneEvictsExpired(t *testing.T) {
	clock := newFakeClock()
	m := storage.NewMemory(-1)
	s := newTestStore(m, clock)
	s.Set(ctx, "short", json.RawMessage(`1`), time.Minute)
	s.Set(ctx, "long", json.RawMessage(`2`), time.Hour)

	clock.Advance(2 * time.Minute)
	if n := s.Prune(ctx); n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}

	reloaded := newTestStore(m, clock)
	if n, err := reloaded.Load(ctx); err != nil || n != 1 {
		t.Fatalf("reload = (%d, %v), want (1, nil)", n, err)
	}
	if n := s.Prune(ctx); n != 0 {
		t.Fatalf("second prune removed %d, want 0", n)
	}
}

func TestStore_Stats(t *testing.T) {
	s := newTestStore(storage.NewMemory(-1), newFakeClock())
	s.Set(ctx, "ab", json.RawMessage(`123`), 0)
	s.Set(ctx, "c", json.RawMessage(`4`), 0)

	st := s.Stats()
	if st.Items != 2 {
		t.Errorf("items = %d, want 2", st.Items)
	}
	if st.SizeBytes != 2+3+1+1 {
		t.Errorf("size = %d, want 7", st.SizeBytes)
	}
}

func TestStore_Concurrent(_ *testing.T) {
	s := New(storage.NewMemory(-1), WithLogger(quietLogger()))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%10)
			s.Set(ctx, key, json.RawMessage(`{}`), 0)
			s.Get(key)
			s.Stats()
		}(i)
	}
	wg.Wait()
}
