package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryDocumentStore keeps documents in process. Values are stored in their
// JSON-encoded form, so reads see the same loose typing a database returns.
type MemoryDocumentStore struct {
	mu          sync.RWMutex
	documents   map[string][]byte
	collections map[string]map[string]memoryRecord
	now         func() time.Time
}

type memoryRecord struct {
	data      []byte
	createdAt time.Time
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		documents:   make(map[string][]byte),
		collections: make(map[string]map[string]memoryRecord),
		now:         time.Now,
	}
}

func (s *MemoryDocumentStore) GetDocument(ctx context.Context, path string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	raw, ok := s.documents[path]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeDocument(raw)
}

func (s *MemoryDocumentStore) SetDocument(ctx context.Context, path string, doc map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.documents[path] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryDocumentStore) QueryCollection(ctx context.Context, collection string, filter *Filter) ([]CollectionDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []CollectionDocument
	for id, rec := range s.collections[collection] {
		data, err := decodeDocument(rec.data)
		if err != nil {
			return nil, err
		}
		if filter != nil {
			if v, ok := data[filter.Field].(string); !ok || v != filter.Value {
				continue
			}
		}
		docs = append(docs, CollectionDocument{ID: id, Data: data, CreatedAt: rec.createdAt})
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

func (s *MemoryDocumentStore) AddDocument(ctx context.Context, collection string, data map[string]any) (CollectionDocument, error) {
	if err := ctx.Err(); err != nil {
		return CollectionDocument{}, err
	}
	createdAt := s.now().UTC()
	stamped := stampCreatedAt(data, createdAt)
	raw, err := encodeDocument(stamped)
	if err != nil {
		return CollectionDocument{}, err
	}
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]memoryRecord)
	}
	s.collections[collection][id] = memoryRecord{data: raw, createdAt: createdAt}
	return CollectionDocument{ID: id, Data: stamped, CreatedAt: createdAt}, nil
}

func (s *MemoryDocumentStore) UpdateDocument(ctx context.Context, collection, id string, patch map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.collections[collection][id]
	if !ok {
		return ErrDocumentNotFound
	}
	data, err := decodeDocument(rec.data)
	if err != nil {
		return err
	}
	for k, v := range patch {
		data[k] = v
	}
	raw, err := encodeDocument(data)
	if err != nil {
		return err
	}
	rec.data = raw
	s.collections[collection][id] = rec
	return nil
}

func (s *MemoryDocumentStore) DeleteDocument(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collection][id]; !ok {
		return ErrDocumentNotFound
	}
	delete(s.collections[collection], id)
	return nil
}

// RunAtomic holds the store's write lock for the whole callback, so
// transactions never interleave with each other or with plain writes.
func (s *MemoryDocumentStore) RunAtomic(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, writes: make(map[string][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	for path, raw := range tx.writes {
		s.documents[path] = raw
	}
	return nil
}

type memoryTx struct {
	store  *MemoryDocumentStore
	writes map[string][]byte
}

func (t *memoryTx) Get(ctx context.Context, path string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if raw, ok := t.writes[path]; ok {
		return decodeDocument(raw)
	}
	raw, ok := t.store.documents[path]
	if !ok {
		return nil, nil
	}
	return decodeDocument(raw)
}

func (t *memoryTx) Set(ctx context.Context, path string, doc map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	t.writes[path] = raw
	return nil
}
