// Package offline makes remote reads and writes usable without a network.
// Writes that cannot reach the remote store are queued; reads that cannot
// reach it are served from the local cache.
package offline

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang/glog"

	"healthtrack/syncd/internal/cache"
	"healthtrack/syncd/internal/document"
	"healthtrack/syncd/internal/queue"
)

// PlaceholderPrefix tags ids synthesized for records created offline. Remote
// stores never issue ids with this prefix.
const PlaceholderPrefix = "offline_"

type Connectivity interface {
	IsOnline() bool
}

type Enqueuer interface {
	Enqueue(ctx context.Context, intent queue.Intent) (queue.Operation, error)
}

// WriteFunc performs a write against the remote store and returns the
// resulting record.
type WriteFunc func(ctx context.Context, payload document.Doc) (document.Doc, error)

// ReadFunc fetches a whole collection from the remote store.
type ReadFunc func(ctx context.Context) ([]document.Doc, error)

type Wrapper struct {
	conn  Connectivity
	queue Enqueuer
	cache *cache.Cache
}

func New(conn Connectivity, queue Enqueuer, cache *cache.Cache) *Wrapper {
	return &Wrapper{conn: conn, queue: queue, cache: cache}
}

// Placeholder returns the placeholder id for a queued operation id.
func Placeholder(opID string) string {
	return PlaceholderPrefix + opID
}

func IsPlaceholder(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}

// Write runs fn when online. If fn fails the payload is queued and fn's error
// is returned. When offline the payload is queued and an optimistic record is
// returned; its id is a placeholder unless the payload already carries one.
func (w *Wrapper) Write(ctx context.Context, kind queue.Kind, resource string, payload document.Doc, fn WriteFunc) (document.Doc, error) {
	intent := queue.Intent{Kind: kind, Resource: resource, Payload: payload}
	if w.conn.IsOnline() {
		result, err := fn(ctx, payload)
		if err == nil {
			return result, nil
		}
		op, qerr := w.queue.Enqueue(ctx, intent)
		if qerr != nil {
			glog.Errorf("[offline]queue after failed %s resource=%s: %v\n", kind, resource, qerr)
		} else {
			glog.Infof("[offline]%s resource=%s failed online, queued id=%s: %v\n", kind, resource, op.ID, err)
		}
		return nil, err
	}

	op, err := w.queue.Enqueue(ctx, intent)
	if err != nil {
		return nil, fmt.Errorf("queue offline %s: %w", kind, err)
	}
	result := payload.Clone()
	if result == nil {
		result = document.Doc{}
	}
	if _, ok := result.ID(); !ok {
		result[document.IDField] = Placeholder(op.ID)
	}
	if err := w.patchCache(ctx, kind, resource, result); err != nil {
		glog.Warningf("[offline]patch cache resource=%s: %v\n", resource, err)
	}
	return result, nil
}

// Read fetches the collection when online and refreshes the cache. It serves
// the cache when offline, or when the fetch fails and the cache has records.
func (w *Wrapper) Read(ctx context.Context, collection string, fn ReadFunc) ([]document.Doc, error) {
	if !w.conn.IsOnline() {
		return w.cache.Get(ctx, collection)
	}
	records, err := fn(ctx)
	if err == nil {
		if err := w.cache.Store(ctx, collection, records); err != nil {
			glog.Warningf("[offline]refresh cache collection=%s: %v\n", collection, err)
		}
		return records, nil
	}
	cached, cerr := w.cache.Get(ctx, collection)
	if cerr == nil && len(cached) > 0 {
		glog.Infof("[offline]serving cached collection=%s records=%d: %v\n", collection, len(cached), err)
		return cached, nil
	}
	return nil, err
}

// patchCache mirrors an offline write into the cached collection.
func (w *Wrapper) patchCache(ctx context.Context, kind queue.Kind, collection string, record document.Doc) error {
	id, _ := record.ID()
	return w.cache.Update(ctx, collection, func(records []document.Doc) []document.Doc {
		switch kind {
		case queue.KindCreate:
			return append(records, record.Clone())
		case queue.KindUpdate:
			for i, existing := range records {
				if existingID, _ := existing.ID(); existingID == id {
					records[i] = existing.Merge(record)
				}
			}
			return records
		case queue.KindDelete:
			kept := records[:0]
			for _, existing := range records {
				if existingID, _ := existing.ID(); existingID != id {
					kept = append(kept, existing)
				}
			}
			return kept
		}
		return records
	})
}
