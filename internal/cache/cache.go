// Package cache mirrors the last known records of each remote collection on
// the device. It is consulted when the remote store cannot be read and is
// never authoritative while online.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"healthtrack/syncd/internal/document"
	"healthtrack/syncd/internal/storage"
)

const keyPrefix = "cache:"

// Snapshot is the cached state of one collection.
type Snapshot struct {
	Records      []document.Doc `json:"records"`
	LastSyncedAt time.Time      `json:"lastSyncedAt"`
}

type Cache struct {
	store storage.Store
	now   func() time.Time
	mu    sync.Mutex
}

func New(store storage.Store) *Cache {
	return &Cache{store: store, now: time.Now}
}

// WithClock overrides the lastSyncedAt source.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Store replaces the cached records of collection.
func (c *Cache) Store(ctx context.Context, collection string, records []document.Doc) error {
	if collection == "" {
		return errors.New("collection is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.save(ctx, collection, records)
}

// Get returns the cached records of collection, or an empty slice if the
// collection was never stored.
func (c *Cache) Get(ctx context.Context, collection string) ([]document.Doc, error) {
	snapshot, err := c.Snapshot(ctx, collection)
	if err != nil {
		return nil, err
	}
	return snapshot.Records, nil
}

func (c *Cache) Snapshot(ctx context.Context, collection string) (Snapshot, error) {
	if collection == "" {
		return Snapshot{}, errors.New("collection is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx, collection)
}

// Update applies fn to the cached records of collection and stores the
// result. Offline writes use it to keep the mirror in line with local intent.
func (c *Cache) Update(ctx context.Context, collection string, fn func([]document.Doc) []document.Doc) error {
	if collection == "" {
		return errors.New("collection is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot, err := c.load(ctx, collection)
	if err != nil {
		return err
	}
	return c.save(ctx, collection, fn(snapshot.Records))
}

func (c *Cache) Clear(ctx context.Context, collection string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Remove(ctx, keyPrefix+collection); err != nil {
		return fmt.Errorf("clear cache %s: %w", collection, err)
	}
	return nil
}

func (c *Cache) load(ctx context.Context, collection string) (Snapshot, error) {
	raw, ok, err := c.store.Get(ctx, keyPrefix+collection)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load cache %s: %w", collection, err)
	}
	snapshot := Snapshot{Records: []document.Doc{}}
	if !ok || raw == "" {
		return snapshot, nil
	}
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		glog.Warningf("[cache]discarding unreadable snapshot collection=%s: %v\n", collection, err)
		return Snapshot{Records: []document.Doc{}}, nil
	}
	if snapshot.Records == nil {
		snapshot.Records = []document.Doc{}
	}
	return snapshot, nil
}

func (c *Cache) save(ctx context.Context, collection string, records []document.Doc) error {
	if records == nil {
		records = []document.Doc{}
	}
	data, err := json.Marshal(Snapshot{Records: records, LastSyncedAt: c.now()})
	if err != nil {
		return fmt.Errorf("encode cache %s: %w", collection, err)
	}
	if err := c.store.Set(ctx, keyPrefix+collection, string(data)); err != nil {
		return fmt.Errorf("save cache %s: %w", collection, err)
	}
	return nil
}
