package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeStore is an in-memory Store with optional fault injection.
type fakeStore struct {
	mu    sync.Mutex
	data  map[string]string
	fail  bool
	gets  int
	sets  int
	drops int
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (s *fakeStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.fail {
		return "", false, errors.New("store down")
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *fakeStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.fail {
		return errors.New("store down")
	}
	s.data[key] = value
	return nil
}

func (s *fakeStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops++
	if s.fail {
		return errors.New("store down")
	}
	delete(s.data, key)
	return nil
}

func (s *fakeStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

func TestDurableSetGet(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	d := NewDurable(store, time.Hour, 10, "test", zap.NewNop())

	d.Set(ctx, "k1", "value-1")

	got, hit := d.Get(ctx, "k1")
	if !hit || got != "value-1" {
		t.Fatalf("expected hit with value-1, got %q hit=%v", got, hit)
	}
	if _, hit := d.Get(ctx, "nope"); hit {
		t.Fatalf("expected miss for absent key")
	}
}

func TestDurableTTLExpiry(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	d := NewDurable(store, 50*time.Millisecond, 10, "test", zap.NewNop())

	now := time.Now()
	d.now = func() time.Time { return now }

	d.Set(ctx, "k1", "v")

	now = now.Add(100 * time.Millisecond)

	if _, hit := d.Get(ctx, "k1"); hit {
		t.Fatalf("expected miss after TTL")
	}
	// Entry and index row must be deleted together.
	if store.has("test:e:k1") {
		t.Fatalf("expired entry should be removed from the store")
	}
	if d.Len(ctx) != 0 {
		t.Fatalf("expired entry should leave the index, len=%d", d.Len(ctx))
	}
}

func TestDurableIndexCapEvictsOldest(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	d := NewDurable(store, time.Hour, 3, "test", zap.NewNop())

	d.Set(ctx, "a", "1")
	d.Set(ctx, "b", "2")
	d.Set(ctx, "c", "3")

	// Reinsert "a": move-to-end, so "b" is now the oldest.
	d.Set(ctx, "a", "1v2")
	d.Set(ctx, "d", "4")

	if _, hit := d.Get(ctx, "b"); hit {
		t.Fatalf("expected oldest key b to be evicted")
	}
	if store.has("test:e:b") {
		t.Fatalf("evicted entry should be removed from the store")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, hit := d.Get(ctx, k); !hit {
			t.Fatalf("expected %s to survive", k)
		}
	}
	if d.Len(ctx) != 3 {
		t.Fatalf("index should hold exactly the cap, len=%d", d.Len(ctx))
	}
}

func TestDurableIndexSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()

	d1 := NewDurable(store, time.Hour, 5, "test", zap.NewNop())
	d1.Set(ctx, "a", "1")
	d1.Set(ctx, "b", "2")

	// A second Durable over the same store simulates process restart.
	d2 := NewDurable(store, time.Hour, 5, "test", zap.NewNop())
	if got, hit := d2.Get(ctx, "a"); !hit || got != "1" {
		t.Fatalf("expected a=1 after restart, got %q hit=%v", got, hit)
	}
	if d2.Len(ctx) != 2 {
		t.Fatalf("expected index of 2 after restart, len=%d", d2.Len(ctx))
	}
}

func TestDurableStoreFailureIsAMiss(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	d := NewDurable(store, time.Hour, 5, "test", zap.NewNop())

	d.Set(ctx, "a", "1")
	store.fail = true

	if _, hit := d.Get(ctx, "a"); hit {
		t.Fatalf("store failure must read as a miss")
	}
	// Set under failure must not panic and must stay best-effort.
	d.Set(ctx, "b", "2")
}

func TestDurableCorruptEntryDropped(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	d := NewDurable(store, time.Hour, 5, "test", zap.NewNop())

	d.Set(ctx, "a", "1")
	store.mu.Lock()
	store.data["test:e:a"] = "{not json"
	store.mu.Unlock()

	if _, hit := d.Get(ctx, "a"); hit {
		t.Fatalf("corrupt entry must read as a miss")
	}
	if store.has("test:e:a") {
		t.Fatalf("corrupt entry should be dropped from the store")
	}
}
