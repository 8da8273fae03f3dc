package store

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore adapts the hosted document database to the Store port.
// Document bodies travel as JSON on our side and as Firestore maps on the
// wire; decimals are stored as strings, which the mobile client also does.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore connects to a Firestore project. credentialsFile may be
// empty, in which case application default credentials apply.
func NewFirestoreStore(ctx context.Context, projectID, credentialsFile string) (*FirestoreStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

func toFields(data any) (map[string]any, error) {
	raw, err := marshal(data)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode document fields: %w", err)
	}
	return fields, nil
}

func fromSnapshot(snap *firestore.DocumentSnapshot) (Document, error) {
	raw, err := json.Marshal(snap.Data())
	if err != nil {
		return Document{}, fmt.Errorf("encode document %s: %w", snap.Ref.ID, err)
	}
	return Document{ID: snap.Ref.ID, Data: raw}, nil
}

func (s *FirestoreStore) Get(ctx context.Context, collection, id string) (Document, bool, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	doc, err := fromSnapshot(snap)
	return doc, err == nil, err
}

func (s *FirestoreStore) Set(ctx context.Context, collection, id string, data any) error {
	fields, err := toFields(data)
	if err != nil {
		return err
	}
	if _, err := s.client.Collection(collection).Doc(id).Set(ctx, fields); err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *FirestoreStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	updates := make([]firestore.Update, 0, len(patch))
	for k, v := range patch {
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}
	if _, err := s.client.Collection(collection).Doc(id).Update(ctx, updates); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *FirestoreStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	fq := s.client.Collection(collection).Query
	for _, f := range q.Filters {
		fq = fq.Where(f.Field, f.Op, f.Value)
	}
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Desc {
			dir = firestore.Desc
		}
		fq = fq.OrderBy(q.OrderBy, dir)
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}

	it := fq.Documents(ctx)
	defer it.Stop()

	var docs []Document
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", collection, err)
		}
		doc, err := fromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

type firestoreTx struct {
	ctx    context.Context
	client *firestore.Client
	tx     *firestore.Transaction
}

func (t *firestoreTx) Get(collection, id string) (Document, bool, error) {
	snap, err := t.tx.Get(t.client.Collection(collection).Doc(id))
	if status.Code(err) == codes.NotFound {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("tx get %s/%s: %w", collection, id, err)
	}
	doc, err := fromSnapshot(snap)
	return doc, err == nil, err
}

func (t *firestoreTx) Set(collection, id string, data any) error {
	fields, err := toFields(data)
	if err != nil {
		return err
	}
	if err := t.tx.Set(t.client.Collection(collection).Doc(id), fields); err != nil {
		return fmt.Errorf("tx set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (t *firestoreTx) Update(collection, id string, patch map[string]any) error {
	updates := make([]firestore.Update, 0, len(patch))
	for k, v := range patch {
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}
	if err := t.tx.Update(t.client.Collection(collection).Doc(id), updates); err != nil {
		return fmt.Errorf("tx update %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *FirestoreStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(&firestoreTx{ctx: ctx, client: s.client, tx: tx})
	})
}

func (s *FirestoreStore) Subscribe(collection, id string, fn func(Document)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	it := s.client.Collection(collection).Doc(id).Snapshots(ctx)
	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				return
			}
			if !snap.Exists() {
				continue
			}
			doc, err := fromSnapshot(snap)
			if err != nil {
				continue
			}
			fn(doc)
		}
	}()
	return cancel, nil
}

func (s *FirestoreStore) Close() error { return s.client.Close() }
