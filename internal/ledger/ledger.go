// Package ledger is the document store the rest of the service persists to.
//
// A Store keeps schemaless documents grouped in collections. It guarantees
// per-document consistency only; callers that touch several documents must
// cope with partial completion. Shared counters and per-user indexes go
// through the atomic Increment and Append primitives instead of a
// read-modify-write.
package ledger

import (
	"context"
	"errors"
	"iter"
	"time"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrBadField      = errors.New("field has unexpected type")

	// CallTimeout bounds a single store call when the caller has not set a
	// tighter deadline.
	CallTimeout = time.Second * 5
)

// Document is a single record. Values are the JSON-compatible types the
// backends round-trip: string, bool, float64/int64, []any and map[string]any.
//
// Documents read back from a Store carry their id under KeyField. The key is
// stripped on write.
type Document map[string]any

const KeyField = "_id"

type Store interface {
	// Put creates or overwrites the document.
	Put(ctx context.Context, collection, id string, fields Document) error
	// Insert creates the document and fails with ErrAlreadyExists when the id
	// is taken, leaving the stored document untouched.
	Insert(ctx context.Context, collection, id string, fields Document) error
	// Get returns ErrNotFound when the document does not exist.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Update merges partial into an existing document and fails with
	// ErrNotFound if it is absent.
	Update(ctx context.Context, collection, id string, partial Document) error
	// Delete removes the document. A missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
	// ScanAll yields every document of the collection in insertion order. The
	// sequence can be ranged over more than once; each pass re-reads the store.
	ScanAll(ctx context.Context, collection string) iter.Seq2[Document, error]
	// ScanWhere is ScanAll restricted to documents whose field equals value.
	ScanWhere(ctx context.Context, collection, field string, value any) iter.Seq2[Document, error]

	// Append adds value to the array field of an existing document unless it is
	// already present.
	Append(ctx context.Context, collection, id, field string, value any) error
	// Increment atomically adds delta to the integer field, creating the
	// document with field = delta when absent. A dedupKey that was already
	// applied to this document is ignored and the current value returned.
	Increment(ctx context.Context, collection, id, field string, delta int64, dedupKey string) (int64, error)

	Close() error
}

// WithTimeout derives a context bounded by CallTimeout.
func WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, CallTimeout)
}

// Collect drains a scan into a slice, stopping at the first error.
func Collect(seq iter.Seq2[Document, error]) ([]Document, error) {
	var docs []Document
	for doc, err := range seq {
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Key returns the id the document is stored under.
func (d Document) Key() string {
	return d.String(KeyField)
}

// String reads a string field, returning "" when it is missing.
func (d Document) String(field string) string {
	s, _ := d[field].(string)
	return s
}

// Int reads an integer field regardless of which numeric type the backend
// decoded it as.
func (d Document) Int(field string) (int64, error) {
	switch v := d[field].(type) {
	case nil:
		return 0, nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, ErrBadField
	}
}

// Strings reads an array-of-strings field.
func (d Document) Strings(field string) []string {
	switch v := d[field].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}
