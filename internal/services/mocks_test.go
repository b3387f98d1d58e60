package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"labstock/internal/caching"
	"labstock/internal/logger"
	"labstock/internal/models"
	"labstock/internal/repositories"
	"labstock/internal/tree"

	"github.com/stretchr/testify/mock"
)

func init() {
	logger.Init("test")
}

type MockMinioService struct {
	mock.Mock
}

func (m *MockMinioService) UploadImage(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) error {
	args := m.Called(ctx, bucket, key, reader, size, contentType)
	return args.Error(0)
}

func (m *MockMinioService) GetPresignedURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, bucket, key, expiry)
	return args.String(0), args.Error(1)
}

func (m *MockMinioService) DeleteImage(ctx context.Context, bucket, key string) error {
	args := m.Called(ctx, bucket, key)
	return args.Error(0)
}

func (m *MockMinioService) EnsureBucketExists(ctx context.Context, bucket string) error {
	args := m.Called(ctx, bucket)
	return args.Error(0)
}

func (m *MockMinioService) BucketExists(ctx context.Context, bucket string) (bool, error) {
	args := m.Called(ctx, bucket)
	return args.Bool(0), args.Error(1)
}

type MockBlobStore struct {
	mock.Mock
}

func (m *MockBlobStore) Upload(ctx context.Context, name string, reader io.Reader, size int64, contentType string) (string, error) {
	args := m.Called(ctx, name, reader, size, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockBlobStore) Delete(ctx context.Context, imageURL string) error {
	args := m.Called(ctx, imageURL)
	return args.Error(0)
}

func (m *MockBlobStore) Check(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockCacheService struct {
	mock.Mock
}

func (m *MockCacheService) ItemsVersion(ctx context.Context, collection string) (int64, error) {
	args := m.Called(ctx, collection)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCacheService) GetItems(ctx context.Context, collection string, version int64, filter string) ([]models.Item, error) {
	args := m.Called(ctx, collection, version, filter)
	items, _ := args.Get(0).([]models.Item)
	return items, args.Error(1)
}

func (m *MockCacheService) SetItems(ctx context.Context, collection string, version int64, filter string, items []models.Item, ttl time.Duration) error {
	args := m.Called(ctx, collection, version, filter, items, ttl)
	return args.Error(0)
}

func (m *MockCacheService) InvalidateItems(ctx context.Context, collection string) error {
	args := m.Called(ctx, collection)
	return args.Error(0)
}

func (m *MockCacheService) AcquireLock(ctx context.Context, name string, ttl time.Duration) (caching.ReleaseFunc, bool, error) {
	args := m.Called(ctx, name, ttl)
	release, _ := args.Get(0).(caching.ReleaseFunc)
	return release, args.Bool(1), args.Error(2)
}

func (m *MockCacheService) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockTreeSynchronizer struct {
	mock.Mock
}

func (m *MockTreeSynchronizer) LoadTree(ctx context.Context) (*tree.Tree, error) {
	args := m.Called(ctx)
	t, _ := args.Get(0).(*tree.Tree)
	return t, args.Error(1)
}

func (m *MockTreeSynchronizer) SaveTree(ctx context.Context, t *tree.Tree) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockTreeSynchronizer) Catalog() Catalog {
	return Catalog{Name: "materials", TreePath: "materials/data"}
}

// faultyStore is a memory store with switchable failures and a count of
// document writes, including those made inside transactions.
type faultyStore struct {
	*repositories.MemoryDocumentStore

	mu        sync.Mutex
	getErr    error
	setErr    error
	queryErr  error
	addErr    error
	atomicErr error
	block     bool
	writes    map[string]int
}

func newFaultyStore() *faultyStore {
	return &faultyStore{
		MemoryDocumentStore: repositories.NewMemoryDocumentStore(),
		writes:              make(map[string]int),
	}
}

func (s *faultyStore) fail(field *error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *field
}

func (s *faultyStore) recordWrite(path string) {
	s.mu.Lock()
	s.writes[path]++
	s.mu.Unlock()
}

func (s *faultyStore) writeCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[path]
}

func (s *faultyStore) wait(ctx context.Context) error {
	s.mu.Lock()
	block := s.block
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (s *faultyStore) GetDocument(ctx context.Context, path string) (map[string]any, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if err := s.fail(&s.getErr); err != nil {
		return nil, err
	}
	return s.MemoryDocumentStore.GetDocument(ctx, path)
}

func (s *faultyStore) SetDocument(ctx context.Context, path string, doc map[string]any) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	if err := s.fail(&s.setErr); err != nil {
		return err
	}
	s.recordWrite(path)
	return s.MemoryDocumentStore.SetDocument(ctx, path, doc)
}

func (s *faultyStore) QueryCollection(ctx context.Context, collection string, filter *repositories.Filter) ([]repositories.CollectionDocument, error) {
	if err := s.fail(&s.queryErr); err != nil {
		return nil, err
	}
	return s.MemoryDocumentStore.QueryCollection(ctx, collection, filter)
}

func (s *faultyStore) AddDocument(ctx context.Context, collection string, data map[string]any) (repositories.CollectionDocument, error) {
	if err := s.fail(&s.addErr); err != nil {
		return repositories.CollectionDocument{}, err
	}
	return s.MemoryDocumentStore.AddDocument(ctx, collection, data)
}

func (s *faultyStore) RunAtomic(ctx context.Context, fn func(tx repositories.Tx) error) error {
	if err := s.fail(&s.atomicErr); err != nil {
		return err
	}
	return s.MemoryDocumentStore.RunAtomic(ctx, func(tx repositories.Tx) error {
		return fn(&countingTx{Tx: tx, store: s})
	})
}

type countingTx struct {
	repositories.Tx
	store *faultyStore
}

func (t *countingTx) Set(ctx context.Context, path string, doc map[string]any) error {
	t.store.recordWrite(path)
	return t.Tx.Set(ctx, path, doc)
}

// interleavingStore runs afterQuery once, after a collection query has read
// its rows and before the caller sees them.
type interleavingStore struct {
	*faultyStore
	afterQuery func()
}

func (s *interleavingStore) QueryCollection(ctx context.Context, collection string, filter *repositories.Filter) ([]repositories.CollectionDocument, error) {
	docs, err := s.faultyStore.QueryCollection(ctx, collection, filter)
	if hook := s.afterQuery; hook != nil {
		s.afterQuery = nil
		hook()
	}
	return docs, err
}

// memoryCache is an in-process CacheService keyed the way the redis one is.
type memoryCache struct {
	mu       sync.Mutex
	versions map[string]int64
	lists    map[string][]models.Item
	locks    map[string]bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		versions: make(map[string]int64),
		lists:    make(map[string][]models.Item),
		locks:    make(map[string]bool),
	}
}

func listKey(collection string, version int64, filter string) string {
	return fmt.Sprintf("%s/%d/%s", collection, version, filter)
}

func (c *memoryCache) ItemsVersion(ctx context.Context, collection string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[collection], nil
}

func (c *memoryCache) GetItems(ctx context.Context, collection string, version int64, filter string) ([]models.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, ok := c.lists[listKey(collection, version, filter)]
	if !ok {
		return nil, nil
	}
	return append([]models.Item{}, items...), nil
}

func (c *memoryCache) SetItems(ctx context.Context, collection string, version int64, filter string, items []models.Item, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[listKey(collection, version, filter)] = append([]models.Item{}, items...)
	return nil
}

func (c *memoryCache) InvalidateItems(ctx context.Context, collection string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[collection]++
	return nil
}

func (c *memoryCache) AcquireLock(ctx context.Context, name string, ttl time.Duration) (caching.ReleaseFunc, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[name] {
		return nil, false, nil
	}
	c.locks[name] = true
	return func(context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.locks, name)
		return nil
	}, true, nil
}

func (c *memoryCache) Ping(ctx context.Context) error { return nil }
