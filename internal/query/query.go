// Package query rebuilds the visible state from the raw collections. Every
// call scans the full collection and filters in process, so results always
// reflect the store as it is and keep insertion order.
package query

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"

	"bites/internal/domain/dining"
	"bites/internal/domain/reviews"
	"bites/internal/domain/storage"
	"bites/internal/ledger"
)

var ErrQueryFailed = errors.New("query failed")

type Service struct {
	store *storage.Container
}

func NewService(store *storage.Container) *Service {
	return &Service{store: store}
}

// VenueSummary aggregates what is known about one venue.
type VenueSummary struct {
	VenueID       string  `json:"venue_id"`
	ReviewCount   int     `json:"review_count"`
	AverageRating float64 `json:"average_rating"`
	Visits        int64   `json:"visits"`
}

func (s *Service) AllReviews(ctx context.Context) ([]reviews.Review, error) {
	return collect(ctx, s.store.Reviews.Reviews, "reviews", func(reviews.Review) bool { return true })
}

func (s *Service) ReviewsByVenue(ctx context.Context, venueID string) ([]reviews.Review, error) {
	return collect(ctx, s.store.Reviews.Reviews, "reviews by venue", func(r reviews.Review) bool {
		return r.VenueID == venueID
	})
}

func (s *Service) ReviewsByAuthor(ctx context.Context, authorID string) ([]reviews.Review, error) {
	return collect(ctx, s.store.Reviews.Reviews, "reviews by author", func(r reviews.Review) bool {
		return r.AuthorID == authorID
	})
}

func (s *Service) ReviewsByRating(ctx context.Context, rating int) ([]reviews.Review, error) {
	return collect(ctx, s.store.Reviews.Reviews, "reviews by rating", func(r reviews.Review) bool {
		return r.Rating == rating
	})
}

func (s *Service) VisitsByAuthor(ctx context.Context, authorID string) ([]dining.Event, error) {
	return collect(ctx, s.store.Dining.Events, "visits by author", func(e dining.Event) bool {
		return e.AuthorID == authorID
	})
}

func (s *Service) VenueTotals(ctx context.Context) ([]dining.VenueTotal, error) {
	return collect(ctx, s.store.Dining.Totals, "venue totals", func(dining.VenueTotal) bool { return true })
}

func (s *Service) VenueSummary(ctx context.Context, venueID string) (*VenueSummary, error) {
	venueReviews, err := s.ReviewsByVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}

	summary := &VenueSummary{VenueID: venueID, ReviewCount: len(venueReviews)}
	if len(venueReviews) > 0 {
		sum := 0
		for _, r := range venueReviews {
			sum += r.Rating
		}
		avg := float64(sum) / float64(len(venueReviews))
		summary.AverageRating = math.Round(avg*10) / 10
	}

	summary.Visits, err = s.store.Dining.GetTotal(ctx, venueID)
	if err != nil {
		return nil, fmt.Errorf("%w: venue total %s: %w", ErrQueryFailed, venueID, err)
	}
	return summary, nil
}

// collect runs scan under ledger.CallTimeout and keeps the elements keep
// accepts. The result is never nil so handlers encode an empty match as [].
func collect[T any](ctx context.Context, scan func(context.Context) iter.Seq2[T, error], what string, keep func(T) bool) ([]T, error) {
	ctx, cancel := ledger.WithTimeout(ctx)
	defer cancel()

	out := []T{}
	for v, err := range scan(ctx) {
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrQueryFailed, what, err)
		}
		if keep(v) {
			out = append(out, v)
		}
	}
	return out, nil
}
