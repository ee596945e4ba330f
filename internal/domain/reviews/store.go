package reviews

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"bites/internal/ledger"
)

type Store interface {
	CreateReview(context.Context, *Review) error
	GetReview(context.Context, string) (*Review, error)
	// Reviews yields every stored review in insertion order.
	Reviews(context.Context) iter.Seq2[Review, error]
}

type Repository struct {
	db ledger.Store
}

func NewRepository(db ledger.Store) Store {
	return &Repository{db: db}
}

func (r *Repository) CreateReview(ctx context.Context, review *Review) error {
	ctx, cancel := ledger.WithTimeout(ctx)
	defer cancel()

	if err := r.db.Put(ctx, Collection, review.ID, review.document()); err != nil {
		return fmt.Errorf("create review %s: %w", review.ID, err)
	}
	return nil
}

func (r *Repository) GetReview(ctx context.Context, reviewID string) (*Review, error) {
	ctx, cancel := ledger.WithTimeout(ctx)
	defer cancel()

	doc, err := r.db.Get(ctx, Collection, reviewID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	review, err := fromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("decode review %s: %w", reviewID, err)
	}
	return &review, nil
}

// Reviews does not apply ledger.CallTimeout: a full scan is bounded by the
// caller's context instead.
func (r *Repository) Reviews(ctx context.Context) iter.Seq2[Review, error] {
	return func(yield func(Review, error) bool) {
		for doc, err := range r.db.ScanAll(ctx, Collection) {
			if err != nil {
				yield(Review{}, err)
				return
			}
			review, err := fromDocument(doc)
			if err != nil {
				yield(Review{}, fmt.Errorf("decode review %s: %w", doc.String(FieldID), err))
				return
			}
			if !yield(review, nil) {
				return
			}
		}
	}
}
