package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// envelope is the stored form of one durable entry. The timestamp travels
// with the value so TTL can be checked on read without consulting the index.
type envelope struct {
	Value    string    `json:"v"`
	StoredAt time.Time `json:"t"`
}

// indexEntry is one row of the persisted recency index.
type indexEntry struct {
	Key      string    `json:"k"`
	StoredAt time.Time `json:"t"`
}

// Durable is the second cache tier. It layers TTL-on-read expiry and a
// bounded recency index on top of an opaque Store, so entries survive
// process restarts regardless of backend. Store failures are logged and
// treated as misses; caching stays best-effort.
type Durable struct {
	store      Store
	ttl        time.Duration
	maxEntries int
	prefix     string
	logger     *zap.Logger

	// index mirrors the persisted row list; oldest first. Loaded lazily
	// once per process on first access. mu guards index and loaded.
	mu     sync.Mutex
	index  []indexEntry
	loaded bool

	now func() time.Time
}

// NewDurable creates the durable tier over store. maxEntries bounds the
// index independently of the memory tier's capacity.
func NewDurable(store Store, ttl time.Duration, maxEntries int, prefix string, logger *zap.Logger) *Durable {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 200
	}
	if prefix == "" {
		prefix = "gridprompt"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Durable{
		store:      store,
		ttl:        ttl,
		maxEntries: maxEntries,
		prefix:     prefix,
		logger:     logger.Named("durable"),
		now:        time.Now,
	}
}

func (d *Durable) entryKey(key string) string { return d.prefix + ":e:" + key }
func (d *Durable) indexKey() string           { return d.prefix + ":index" }

// Get returns the stored value for key, expiring it on read when older than
// the tier's TTL. Both the entry and its index row are deleted together so
// the two never drift apart.
func (d *Durable) Get(ctx context.Context, key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loadIndex(ctx)

	raw, ok, err := d.store.Get(ctx, d.entryKey(key))
	if err != nil {
		d.logger.Warn("durable get failed, treating as miss",
			zap.String("key", key), zap.Error(err))
		return "", false
	}
	if !ok {
		return "", false
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		d.logger.Warn("durable entry corrupt, dropping",
			zap.String("key", key), zap.Error(err))
		d.drop(ctx, key)
		return "", false
	}

	if d.now().Sub(env.StoredAt) > d.ttl {
		d.drop(ctx, key)
		return "", false
	}

	return env.Value, true
}

// Set stores value under key, moves the key to the recent end of the index,
// evicts the oldest rows past maxEntries, and persists the index.
func (d *Durable) Set(ctx context.Context, key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loadIndex(ctx)

	now := d.now()
	raw, err := json.Marshal(envelope{Value: value, StoredAt: now})
	if err != nil {
		return
	}
	if err := d.store.Set(ctx, d.entryKey(key), string(raw)); err != nil {
		d.logger.Warn("durable set failed",
			zap.String("key", key), zap.Error(err))
		return
	}

	// Move-to-end on reinsert; append otherwise.
	kept := d.index[:0]
	for _, row := range d.index {
		if row.Key != key {
			kept = append(kept, row)
		}
	}
	d.index = append(kept, indexEntry{Key: key, StoredAt: now})

	for len(d.index) > d.maxEntries {
		oldest := d.index[0]
		d.index = d.index[1:]
		if err := d.store.Remove(ctx, d.entryKey(oldest.Key)); err != nil {
			d.logger.Warn("durable evict failed",
				zap.String("key", oldest.Key), zap.Error(err))
		}
	}

	d.persistIndex(ctx)
}

// Len reports the current index size.
func (d *Durable) Len(ctx context.Context) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loadIndex(ctx)
	return len(d.index)
}

// drop removes an entry and its index row together.
func (d *Durable) drop(ctx context.Context, key string) {
	if err := d.store.Remove(ctx, d.entryKey(key)); err != nil {
		d.logger.Warn("durable remove failed",
			zap.String("key", key), zap.Error(err))
	}
	kept := d.index[:0]
	for _, row := range d.index {
		if row.Key != key {
			kept = append(kept, row)
		}
	}
	d.index = kept
	d.persistIndex(ctx)
}

func (d *Durable) loadIndex(ctx context.Context) {
	if d.loaded {
		return
	}
	d.loaded = true

	raw, ok, err := d.store.Get(ctx, d.indexKey())
	if err != nil {
		d.logger.Warn("durable index load failed, starting empty", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	var idx []indexEntry
	if err := json.Unmarshal([]byte(raw), &idx); err != nil {
		d.logger.Warn("durable index corrupt, starting empty", zap.Error(err))
		return
	}
	d.index = idx
}

func (d *Durable) persistIndex(ctx context.Context) {
	raw, err := json.Marshal(d.index)
	if err != nil {
		return
	}
	if err := d.store.Set(ctx, d.indexKey(), string(raw)); err != nil {
		d.logger.Warn("durable index persist failed", zap.Error(err))
	}
}
