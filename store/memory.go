package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryHooks inject failures or side effects into a MemoryStore.
// Hooks run without the store lock held, so they may call back into the store.
type MemoryHooks struct {
	// BeforeBatch runs before the n-th UpdateBatch call (1-based).
	// A non-nil error rejects the whole batch.
	BeforeBatch func(n int, updates []FieldUpdate) error

	// BeforeQuery runs before QueryEqual and CountEqual.
	BeforeQuery func(collection, field, value string) error

	// BeforeDelete runs before Delete.
	BeforeDelete func(collection, id string) error

	// BeforePage runs before QueryPage.
	BeforePage func(q PageQuery) error
}

// MemoryStore is an in-process document store.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*Document
	batchLimit  int
	batchCalls  int
	hooks       MemoryHooks
}

// NewMemoryStore creates an empty MemoryStore with the given atomic batch limit.
// A limit below 1 uses MaxTransactItems.
func NewMemoryStore(batchLimit int) *MemoryStore {
	if batchLimit < 1 {
		batchLimit = MaxTransactItems
	}
	return &MemoryStore{
		collections: make(map[string]map[string]*Document),
		batchLimit:  batchLimit,
	}
}

// SetHooks replaces the store's hooks.
func (m *MemoryStore) SetHooks(h MemoryHooks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = h
}

// BatchCalls returns the number of UpdateBatch calls made so far.
func (m *MemoryStore) BatchCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batchCalls
}

// MaxBatchSize returns the maximum number of updates accepted by UpdateBatch.
func (m *MemoryStore) MaxBatchSize() int {
	return m.batchLimit
}

// Get retrieves a document by id, returning ErrNotFound if missing.
func (m *MemoryStore) Get(_ context.Context, collection, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

// Put creates a document, returning ErrAlreadyExists if the id is taken.
// A zero CreatedAt is set to the current time.
func (m *MemoryStore) Put(_ context.Context, doc *Document) error {
	if err := prepare(doc); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	coll, ok := m.collections[doc.Collection]
	if !ok {
		coll = make(map[string]*Document)
		m.collections[doc.Collection] = coll
	}
	if _, exists := coll[doc.ID]; exists {
		return ErrAlreadyExists
	}
	coll[doc.ID] = doc.Clone()
	return nil
}

// QueryEqual returns every document in collection whose field equals value,
// ordered by id.
func (m *MemoryStore) QueryEqual(_ context.Context, collection, field, value string) ([]*Document, error) {
	if err := m.beforeQuery(collection, field, value); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var docs []*Document
	for _, doc := range m.collections[collection] {
		if v, ok := doc.Fields[field].(string); ok && v == value {
			docs = append(docs, doc.Clone())
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// CountEqual returns the number of documents in collection whose field equals value.
func (m *MemoryStore) CountEqual(_ context.Context, collection, field, value string) (int, error) {
	if err := m.beforeQuery(collection, field, value); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, doc := range m.collections[collection] {
		if v, ok := doc.Fields[field].(string); ok && v == value {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) beforeQuery(collection, field, value string) error {
	if !validField(field) {
		return fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
	m.mu.RLock()
	hook := m.hooks.BeforeQuery
	m.mu.RUnlock()
	if hook != nil {
		return hook(collection, field, value)
	}
	return nil
}

// UpdateBatch applies all updates or none.
func (m *MemoryStore) UpdateBatch(_ context.Context, updates []FieldUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	if len(updates) > m.batchLimit {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(updates), m.batchLimit)
	}

	m.mu.Lock()
	m.batchCalls++
	n := m.batchCalls
	hook := m.hooks.BeforeBatch
	m.mu.Unlock()

	if hook != nil {
		if err := hook(n, updates); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate everything first so a bad item leaves the store untouched.
	seen := make(map[string]bool, len(updates))
	for _, u := range updates {
		if err := checkUpdate(u); err != nil {
			return err
		}
		doc, ok := m.collections[u.Collection][u.ID]
		if !ok {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, u.Collection, u.ID)
		}
		if !u.accepts(doc.Fields[u.Field]) {
			return fmt.Errorf("%w: %s/%s.%s", ErrValueChanged, u.Collection, u.ID, u.Field)
		}
		key := u.Collection + "/" + u.ID
		if seen[key] {
			return fmt.Errorf("%w: duplicate target %s", ErrConflict, key)
		}
		seen[key] = true
	}
	for _, u := range updates {
		m.collections[u.Collection][u.ID].Fields[u.Field] = u.Value
	}
	return nil
}

// Delete removes a document, returning ErrNotFound if it doesn't exist.
func (m *MemoryStore) Delete(_ context.Context, collection, id string) error {
	m.mu.RLock()
	hook := m.hooks.BeforeDelete
	m.mu.RUnlock()
	if hook != nil {
		if err := hook(collection, id); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[collection][id]; !ok {
		return ErrNotFound
	}
	delete(m.collections[collection], id)
	return nil
}

// QueryPage returns up to q.Limit documents in (created_at DESC, id DESC)
// order, starting strictly after q.After.
func (m *MemoryStore) QueryPage(_ context.Context, q PageQuery) ([]*Document, error) {
	m.mu.RLock()
	hook := m.hooks.BeforePage
	m.mu.RUnlock()
	if hook != nil {
		if err := hook(q); err != nil {
			return nil, err
		}
	}
	if q.Limit < 1 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]*Document, 0, len(m.collections[q.Collection]))
	for _, doc := range m.collections[q.Collection] {
		if q.follows(doc.Position()) {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].Position().Compare(docs[j].Position()) > 0
	})
	if len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}

	out := make([]*Document, len(docs))
	for i, doc := range docs {
		out[i] = doc.Clone()
	}
	return out, nil
}
