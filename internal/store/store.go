// Package store defines the document-store port the balance flows write
// through, plus its three backends: an in-memory transactional store for
// tests and development, a SQLite store for single-host deployments, and
// Firestore, the hosted server-of-record.
//
// Documents are schemaless JSON keyed "{collection}/{id}". The transaction
// primitive is the only concurrency control the ledger relies on: reads and
// writes inside RunTransaction commit atomically or not at all.
package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Document is one stored record. Data is the raw JSON body; decode it with
// As.
type Document struct {
	ID   string
	Data json.RawMessage
}

// As decodes the document body into v.
func (d Document) As(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return nil
}

// Filter is a single field predicate. Op is one of "==", "<", "<=", ">",
// ">=".
type Filter struct {
	Field string
	Op    string
	Value any
}

// Query selects documents from a collection.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// Tx is the capability handed to a transaction function. All operations are
// staged and commit together when the function returns nil.
type Tx interface {
	Get(collection, id string) (Document, bool, error)
	Set(collection, id string, data any) error
	Update(collection, id string, patch map[string]any) error
}

// Store is the backend contract. Get reports found=false for a missing
// document rather than an error; every other failure is a real error.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, bool, error)
	Set(ctx context.Context, collection, id string, data any) error
	Update(ctx context.Context, collection, id string, patch map[string]any) error
	Query(ctx context.Context, collection string, q Query) ([]Document, error)

	// RunTransaction executes fn against an isolated view of the store.
	// If fn returns an error nothing is committed.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error

	// Subscribe invokes fn with the document's current state whenever it
	// changes. The returned function cancels the subscription.
	Subscribe(collection, id string, fn func(Document)) (func(), error)

	Close() error
}

func marshal(data any) (json.RawMessage, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return b, nil
}
