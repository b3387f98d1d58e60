package repositories

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to TEST_DATABASE_URL, skipping the test when unset.
// Every test gets its own path prefix, so runs do not interfere.
func setupTestDB(t *testing.T) (*PostgresDocumentStore, string) {
	t.Helper()

	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	pool, err := pgxpool.New(context.Background(), connString)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := NewPostgresDocumentStore(pool)
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store, "it-" + uuid.NewString()
}

func TestPostgresIntegration_DocumentRoundTrip(t *testing.T) {
	store, prefix := setupTestDB(t)
	ctx := context.Background()
	path := prefix + "/data"

	doc, err := store.GetDocument(ctx, path)
	require.NoError(t, err)
	assert.Nil(t, doc)

	require.NoError(t, store.SetDocument(ctx, path, map[string]any{"directories": []any{}}))
	require.NoError(t, store.SetDocument(ctx, path, map[string]any{"directories": []any{map[string]any{"id": "a"}}}))

	doc, err = store.GetDocument(ctx, path)
	require.NoError(t, err)
	assert.Len(t, doc["directories"], 1)
}

func TestPostgresIntegration_CollectionFilter(t *testing.T) {
	store, prefix := setupTestDB(t)
	ctx := context.Background()
	collection := prefix + "-items"

	_, err := store.AddDocument(ctx, collection, map[string]any{"name": "Lens", "category": "optics"})
	require.NoError(t, err)
	added, err := store.AddDocument(ctx, collection, map[string]any{"name": "Probe", "category": "electrical"})
	require.NoError(t, err)
	id := added.ID

	docs, err := store.QueryCollection(ctx, collection, &Filter{Field: "category", Value: "optics"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Lens", docs[0].Data["name"])

	require.NoError(t, store.UpdateDocument(ctx, collection, id, map[string]any{"quantity": 4}))
	require.NoError(t, store.DeleteDocument(ctx, collection, id))
	assert.ErrorIs(t, store.DeleteDocument(ctx, collection, id), ErrDocumentNotFound)
}

func TestPostgresIntegration_RunAtomicSerializesCheckAndSet(t *testing.T) {
	store, prefix := setupTestDB(t)
	ctx := context.Background()
	flag := prefix + "/seed"

	var wg sync.WaitGroup
	var mu sync.Mutex
	writers := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.RunAtomic(ctx, func(tx Tx) error {
				doc, err := tx.Get(ctx, flag)
				if err != nil || doc != nil {
					return err
				}
				mu.Lock()
				writers++
				mu.Unlock()
				return tx.Set(ctx, flag, map[string]any{"isSeeded": true})
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, writers)
}
