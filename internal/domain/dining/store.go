package dining

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"bites/internal/ledger"
)

type Store interface {
	CreateEvent(context.Context, *Event) error
	GetEvent(context.Context, string) (*Event, error)
	Events(context.Context) iter.Seq2[Event, error]

	// IncrementTotal counts eventID towards the venue's total exactly once.
	IncrementTotal(ctx context.Context, venueID, eventID string) (int64, error)
	GetTotal(ctx context.Context, venueID string) (int64, error)
	Totals(context.Context) iter.Seq2[VenueTotal, error]
}

type Repository struct {
	db ledger.Store
}

func NewRepository(db ledger.Store) Store {
	return &Repository{db: db}
}

func (r *Repository) CreateEvent(ctx context.Context, event *Event) error {
	ctx, cancel := ledger.WithTimeout(ctx)
	defer cancel()

	if err := r.db.Put(ctx, Collection, event.ID, event.document()); err != nil {
		return fmt.Errorf("create dining event %s: %w", event.ID, err)
	}
	return nil
}

func (r *Repository) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	ctx, cancel := ledger.WithTimeout(ctx)
	defer cancel()

	doc, err := r.db.Get(ctx, Collection, eventID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	event := eventFromDocument(doc)
	return &event, nil
}

func (r *Repository) Events(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for doc, err := range r.db.ScanAll(ctx, Collection) {
			if err != nil {
				yield(Event{}, err)
				return
			}
			if !yield(eventFromDocument(doc), nil) {
				return
			}
		}
	}
}

func (r *Repository) IncrementTotal(ctx context.Context, venueID, eventID string) (int64, error) {
	ctx, cancel := ledger.WithTimeout(ctx)
	defer cancel()

	total, err := r.db.Increment(ctx, TotalsCollection, venueID, FieldTotal, 1, eventID)
	if err != nil {
		return 0, fmt.Errorf("increment total for %s: %w", venueID, err)
	}
	return total, nil
}

// GetTotal returns 0 for a venue nobody has visited yet.
func (r *Repository) GetTotal(ctx context.Context, venueID string) (int64, error) {
	ctx, cancel := ledger.WithTimeout(ctx)
	defer cancel()

	doc, err := r.db.Get(ctx, TotalsCollection, venueID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return doc.Int(FieldTotal)
}

func (r *Repository) Totals(ctx context.Context) iter.Seq2[VenueTotal, error] {
	return func(yield func(VenueTotal, error) bool) {
		for doc, err := range r.db.ScanAll(ctx, TotalsCollection) {
			if err != nil {
				yield(VenueTotal{}, err)
				return
			}
			total, err := doc.Int(FieldTotal)
			if err != nil {
				yield(VenueTotal{}, fmt.Errorf("decode total %s: %w", doc.Key(), err))
				return
			}
			if !yield(VenueTotal{VenueID: doc.Key(), Total: total}, nil) {
				return
			}
		}
	}
}
