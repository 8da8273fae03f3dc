package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/franciscozunigap/sofinance/internal/errs"
)

// MemoryStore is an in-process Store. Transactions take the store-wide lock,
// so they are fully serialized; that is exactly the isolation the ledger
// assumes from the real backend.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte

	subMu   sync.Mutex
	nextSub int
	subs    map[string]map[int]func(Document)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string][]byte),
		subs:        make(map[string]map[int]func(Document)),
	}
}

func (s *MemoryStore) Get(_ context.Context, collection, id string) (Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(collection, id)
}

func (s *MemoryStore) getLocked(collection, id string) (Document, bool, error) {
	data, ok := s.collections[collection][id]
	if !ok {
		return Document{}, false, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return Document{ID: id, Data: cp}, true, nil
}

func (s *MemoryStore) Set(_ context.Context, collection, id string, data any) error {
	raw, err := marshal(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.setLocked(collection, id, raw)
	s.mu.Unlock()
	s.notify(collection, id, raw)
	return nil
}

func (s *MemoryStore) setLocked(collection, id string, raw []byte) {
	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string][]byte)
		s.collections[collection] = coll
	}
	coll[id] = raw
}

func (s *MemoryStore) Update(_ context.Context, collection, id string, patch map[string]any) error {
	s.mu.Lock()
	raw, err := s.updateLocked(collection, id, patch)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(collection, id, raw)
	return nil
}

func (s *MemoryStore) updateLocked(collection, id string, patch map[string]any) ([]byte, error) {
	data, ok := s.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("update %s/%s: %w", collection, id, errs.ErrNotFound)
	}
	merged, err := applyPatch(data, patch)
	if err != nil {
		return nil, err
	}
	s.collections[collection][id] = merged
	return merged, nil
}

func (s *MemoryStore) Query(_ context.Context, collection string, q Query) ([]Document, error) {
	s.mu.RLock()
	var docs []Document
	for id, data := range s.collections[collection] {
		ok, err := matchDocument(data, q.Filters)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		if ok {
			cp := make([]byte, len(data))
			copy(cp, data)
			docs = append(docs, Document{ID: id, Data: cp})
		}
	}
	s.mu.RUnlock()
	return sortAndLimit(docs, q), nil
}

// memoryTx stages writes against a snapshot-consistent view: reads see
// staged writes first, then the underlying store. Nothing touches the store
// until commit.
type memoryTx struct {
	store  *MemoryStore
	staged map[string]map[string][]byte
}

func (t *memoryTx) Get(collection, id string) (Document, bool, error) {
	if raw, ok := t.staged[collection][id]; ok {
		cp := make([]byte, len(raw))
		copy(cp, raw)
		return Document{ID: id, Data: cp}, true, nil
	}
	return t.store.getLocked(collection, id)
}

func (t *memoryTx) Set(collection, id string, data any) error {
	raw, err := marshal(data)
	if err != nil {
		return err
	}
	t.stage(collection, id, raw)
	return nil
}

func (t *memoryTx) Update(collection, id string, patch map[string]any) error {
	doc, ok, err := t.Get(collection, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("update %s/%s: %w", collection, id, errs.ErrNotFound)
	}
	merged, err := applyPatch(doc.Data, patch)
	if err != nil {
		return err
	}
	t.stage(collection, id, merged)
	return nil
}

func (t *memoryTx) stage(collection, id string, raw []byte) {
	coll, ok := t.staged[collection]
	if !ok {
		coll = make(map[string][]byte)
		t.staged[collection] = coll
	}
	coll[id] = raw
}

func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	tx := &memoryTx{store: s, staged: make(map[string]map[string][]byte)}
	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return err
	}
	for collection, docs := range tx.staged {
		for id, raw := range docs {
			s.setLocked(collection, id, raw)
		}
	}
	s.mu.Unlock()
	for collection, docs := range tx.staged {
		for id, raw := range docs {
			s.notify(collection, id, raw)
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(collection, id string, fn func(Document)) (func(), error) {
	key := collection + "/" + id
	s.subMu.Lock()
	s.nextSub++
	subID := s.nextSub
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]func(Document))
	}
	s.subs[key][subID] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs[key], subID)
		s.subMu.Unlock()
	}, nil
}

func (s *MemoryStore) notify(collection, id string, raw []byte) {
	key := collection + "/" + id
	s.subMu.Lock()
	fns := make([]func(Document), 0, len(s.subs[key]))
	for _, fn := range s.subs[key] {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		cp := make([]byte, len(raw))
		copy(cp, raw)
		fn(Document{ID: id, Data: cp})
	}
}

func (s *MemoryStore) Close() error { return nil }
