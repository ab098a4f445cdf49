// Package queue persists pending mutations while the remote store is
// unreachable. The whole list lives under one storage key and every mutation
// is a read-modify-write of that list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"healthtrack/syncd/internal/document"
	"healthtrack/syncd/internal/storage"
)

// DefaultKey is the storage key holding the serialized queue.
const DefaultKey = "offline_queue"

var ErrNotFound = errors.New("operation not found")

type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

func (k Kind) Valid() bool {
	switch k {
	case KindCreate, KindUpdate, KindDelete:
		return true
	}
	return false
}

// Intent is a mutation before it is queued. The queue assigns the id,
// timestamp and retry count.
type Intent struct {
	Kind     Kind
	Resource string
	Payload  document.Doc
}

// Operation is a queued mutation.
type Operation struct {
	ID         string       `json:"id"`
	Kind       Kind         `json:"kind"`
	Resource   string       `json:"resource"`
	Payload    document.Doc `json:"payload"`
	EnqueuedAt time.Time    `json:"enqueuedAt"`
	RetryCount int          `json:"retryCount"`
}

type Queue struct {
	store storage.Store
	key   string
	now   func() time.Time

	// serializes read-modify-write cycles within this process
	mu sync.Mutex
}

type Option func(*Queue)

// WithKey stores the queue under a different storage key.
func WithKey(key string) Option {
	return func(q *Queue) { q.key = key }
}

// WithClock overrides the enqueue timestamp source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(store storage.Store, opts ...Option) *Queue {
	q := &Queue{
		store: store,
		key:   DefaultKey,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends intent to the end of the queue and returns the stored
// operation with its assigned id.
func (q *Queue) Enqueue(ctx context.Context, intent Intent) (Operation, error) {
	if !intent.Kind.Valid() {
		return Operation{}, fmt.Errorf("invalid operation kind %q", intent.Kind)
	}
	if intent.Resource == "" {
		return Operation{}, errors.New("operation resource is required")
	}
	payload := intent.Payload.Clone()
	if payload == nil {
		payload = document.Doc{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.load(ctx)
	if err != nil {
		return Operation{}, err
	}
	op := Operation{
		ID:         ulid.Make().String(),
		Kind:       intent.Kind,
		Resource:   intent.Resource,
		Payload:    payload,
		EnqueuedAt: q.now(),
		RetryCount: 0,
	}
	ops = append(ops, op)
	if err := q.save(ctx, ops); err != nil {
		return Operation{}, err
	}
	glog.V(1).Infof("[queue]enqueue id=%s kind=%s resource=%s depth=%d\n", op.ID, op.Kind, op.Resource, len(ops))
	return op, nil
}

// List returns the queued operations in enqueue order.
func (q *Queue) List(ctx context.Context) ([]Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	ops, err := q.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

// Remove drops the operation with the given id. Removing an id that is not
// queued is a no-op.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.load(ctx)
	if err != nil {
		return err
	}
	kept := ops[:0]
	for _, op := range ops {
		if op.ID != id {
			kept = append(kept, op)
		}
	}
	if len(kept) == len(ops) {
		return nil
	}
	return q.save(ctx, kept)
}

// Replace substitutes the queued operation that has op.ID, keeping its
// position in the queue.
func (q *Queue) Replace(ctx context.Context, op Operation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.load(ctx)
	if err != nil {
		return err
	}
	for i := range ops {
		if ops[i].ID == op.ID {
			ops[i] = op
			return q.save(ctx, ops)
		}
	}
	return fmt.Errorf("replace %s: %w", op.ID, ErrNotFound)
}

// Clear drops every queued operation.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.store.Remove(ctx, q.key); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

// load treats a missing or unparsable value as an empty queue. Storage read
// errors are returned so a failed read never turns into an overwrite.
func (q *Queue) load(ctx context.Context) ([]Operation, error) {
	raw, ok, err := q.store.Get(ctx, q.key)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	if !ok || raw == "" {
		return []Operation{}, nil
	}
	var ops []Operation
	if err := json.Unmarshal([]byte(raw), &ops); err != nil {
		glog.Warningf("[queue]discarding unreadable queue key=%s: %v\n", q.key, err)
		return []Operation{}, nil
	}
	if ops == nil {
		ops = []Operation{}
	}
	return ops, nil
}

func (q *Queue) save(ctx context.Context, ops []Operation) error {
	data, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := q.store.Set(ctx, q.key, string(data)); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	return nil
}
