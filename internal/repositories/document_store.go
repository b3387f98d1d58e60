package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrDocumentNotFound is returned when updating or deleting a collection
// document that does not exist.
var ErrDocumentNotFound = errors.New("document not found")

// FieldCreatedAt is stamped on every document added to a collection.
const FieldCreatedAt = "createdAt"

// CollectionDocument is one record of a collection with its store-assigned id.
type CollectionDocument struct {
	ID        string
	Data      map[string]any
	CreatedAt time.Time
}

// Filter restricts a collection query to documents whose string field equals
// Value.
type Filter struct {
	Field string
	Value string
}

// Tx is the read/write view handed to RunAtomic callbacks. Writes become
// visible only if the callback returns nil.
type Tx interface {
	Get(ctx context.Context, path string) (map[string]any, error)
	Set(ctx context.Context, path string, doc map[string]any) error
}

// DocumentStore is the persistence boundary: single documents addressed by
// path, and collections of independent documents addressed by id.
type DocumentStore interface {
	// GetDocument returns nil with no error when the document does not exist.
	GetDocument(ctx context.Context, path string) (map[string]any, error)
	// SetDocument overwrites the whole document.
	SetDocument(ctx context.Context, path string, doc map[string]any) error
	QueryCollection(ctx context.Context, collection string, filter *Filter) ([]CollectionDocument, error)
	// AddDocument stores data under a new id and stamps createdAt. The
	// returned document is what was written.
	AddDocument(ctx context.Context, collection string, data map[string]any) (CollectionDocument, error)
	// UpdateDocument merges patch into the existing document.
	UpdateDocument(ctx context.Context, collection, id string, patch map[string]any) error
	DeleteDocument(ctx context.Context, collection, id string) error
	RunAtomic(ctx context.Context, fn func(tx Tx) error) error
}

func encodeDocument(doc map[string]any) ([]byte, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return data, nil
}

func decodeDocument(data []byte) (map[string]any, error) {
	doc := map[string]any{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}

func stampCreatedAt(data map[string]any, at time.Time) map[string]any {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out[FieldCreatedAt] = at.UTC().Format(time.RFC3339Nano)
	return out
}
