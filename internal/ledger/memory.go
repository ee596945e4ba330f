package ledger

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"slices"
	"sync"
)

type collection struct {
	order []string
	docs  map[string]Document
}

// MemoryStore is an in-process Store. Every operation runs under one mutex,
// which is what makes Increment and Append atomic.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]*collection
	applied     map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*collection),
		applied:     make(map[string]struct{}),
	}
}

func (m *MemoryStore) coll(name string) *collection {
	c, ok := m.collections[name]
	if !ok {
		c = &collection{docs: make(map[string]Document)}
		m.collections[name] = c
	}
	return c
}

func (m *MemoryStore) Put(ctx context.Context, collection, id string, fields Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.coll(collection)
	if _, exists := c.docs[id]; !exists {
		c.order = append(c.order, id)
	}
	doc := clone(fields)
	delete(doc, KeyField)
	c.docs[id] = doc
	return nil
}

func (m *MemoryStore) Insert(ctx context.Context, collection, id string, fields Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.coll(collection)
	if _, exists := c.docs[id]; exists {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrAlreadyExists)
	}
	doc := clone(fields)
	delete(doc, KeyField)
	c.order = append(c.order, id)
	c.docs[id] = doc
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.coll(collection)
	if _, exists := c.docs[id]; !exists {
		return nil
	}
	delete(c.docs, id)
	c.order = slices.DeleteFunc(c.order, func(k string) bool { return k == id })
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.coll(collection).docs[id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return keyed(doc, id), nil
}

func (m *MemoryStore) Update(ctx context.Context, collection, id string, partial Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.coll(collection).docs[id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	for k, v := range clone(partial) {
		if k != KeyField {
			doc[k] = v
		}
	}
	return nil
}

func (m *MemoryStore) ScanAll(ctx context.Context, collection string) iter.Seq2[Document, error] {
	return m.scan(ctx, collection, func(Document) bool { return true })
}

func (m *MemoryStore) ScanWhere(ctx context.Context, collection, field string, value any) iter.Seq2[Document, error] {
	return m.scan(ctx, collection, func(d Document) bool {
		return equal(d[field], value)
	})
}

// scan snapshots the matching documents before yielding so the consumer can
// call back into the store from the loop body.
func (m *MemoryStore) scan(ctx context.Context, collection string, match func(Document) bool) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}

		m.mu.Lock()
		c := m.coll(collection)
		snapshot := make([]Document, 0, len(c.order))
		for _, id := range c.order {
			if doc := c.docs[id]; match(doc) {
				snapshot = append(snapshot, keyed(doc, id))
			}
		}
		m.mu.Unlock()

		for _, doc := range snapshot {
			if !yield(doc, nil) {
				return
			}
		}
	}
}

func (m *MemoryStore) Append(ctx context.Context, collection, id, field string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.coll(collection).docs[id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}

	var list []any
	switch v := doc[field].(type) {
	case nil:
	case []any:
		list = v
	default:
		return fmt.Errorf("%s/%s.%s: %w", collection, id, field, ErrBadField)
	}
	for _, e := range list {
		if equal(e, value) {
			return nil
		}
	}
	doc[field] = append(list, value)
	return nil
}

func (m *MemoryStore) Increment(ctx context.Context, collection, id, field string, delta int64, dedupKey string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.coll(collection)
	doc, ok := c.docs[id]
	if !ok {
		doc = Document{}
		c.docs[id] = doc
		c.order = append(c.order, id)
	}
	current, err := doc.Int(field)
	if err != nil {
		return 0, fmt.Errorf("%s/%s.%s: %w", collection, id, field, err)
	}

	if dedupKey != "" {
		key := collection + "\x00" + id + "\x00" + dedupKey
		if _, seen := m.applied[key]; seen {
			return current, nil
		}
		m.applied[key] = struct{}{}
	}

	current += delta
	doc[field] = current
	return current, nil
}

func (m *MemoryStore) Close() error { return nil }

// equal compares scalar values across numeric representations so that an int
// filter matches a value stored as int64 or float64.
func equal(a, b any) bool {
	if x, ok := asFloat(a); ok {
		y, ok := asFloat(b)
		return ok && x == y
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func keyed(d Document, id string) Document {
	out := clone(d)
	out[KeyField] = id
	return out
}

func clone(d Document) Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		c := make([]any, len(t))
		for i, e := range t {
			c[i] = cloneValue(e)
		}
		return c
	case []string:
		c := make([]any, len(t))
		for i, e := range t {
			c[i] = e
		}
		return c
	case map[string]any:
		return map[string]any(clone(Document(t)))
	case Document:
		return map[string]any(clone(t))
	default:
		return v
	}
}
