package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"healthtrack/syncd/internal/document"
)

// MemoryStore is an in-process document store for tests and local demos.
// Records of a collection are listed in insertion order.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]memoryRecord
	seq         int64
}

type memoryRecord struct {
	seq int64
	doc document.Doc
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]memoryRecord)}
}

func (s *MemoryStore) Create(ctx context.Context, collection string, doc document.Doc) (string, error) {
	if collection == "" {
		return "", Permanent(errors.New("collection is required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records, ok := s.collections[collection]
	if !ok {
		records = make(map[string]memoryRecord)
		s.collections[collection] = records
	}
	id, ok := doc.ID()
	if !ok {
		id = uuid.NewString()
	}
	if _, exists := records[id]; exists {
		return "", Permanent(fmt.Errorf("%s/%s already exists", collection, id))
	}
	stored := doc.Clone()
	if stored == nil {
		stored = document.Doc{}
	}
	stored[document.IDField] = id
	s.seq++
	records[id] = memoryRecord{seq: s.seq, doc: stored}
	return id, nil
}

func (s *MemoryStore) Update(ctx context.Context, collection string, id string, fields document.Doc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.collections[collection][id]
	if !ok {
		return Permanent(fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound))
	}
	record.doc = record.doc.Merge(fields)
	record.doc[document.IDField] = id
	s.collections[collection][id] = record
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection][id]; !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	delete(s.collections[collection], id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, collection string) ([]document.Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]memoryRecord, 0, len(s.collections[collection]))
	for _, record := range s.collections[collection] {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].seq < records[j].seq })
	docs := make([]document.Doc, len(records))
	for i, record := range records {
		docs[i] = record.doc.Clone()
	}
	return docs, nil
}

// Get returns one record, mainly for assertions in tests.
func (s *MemoryStore) Get(ctx context.Context, collection string, id string) (document.Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return record.doc.Clone(), nil
}
