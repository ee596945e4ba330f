// Package ingest records reviews and visits and propagates them into the
// derived per-user index, the per-user meal period tag and the per-venue
// visit counter.
//
// Each operation is a short sequence of single-document writes. The event
// document is always written first and the user's index is only touched once
// that write succeeded, so an index never references a missing event. A
// failure part way through leaves the earlier writes in place; calling again
// with the same event id finishes the remaining steps without duplicating
// the event or counting it twice.
package ingest

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"slices"
	"strings"
	"time"

	"bites/internal/domain/dining"
	"bites/internal/domain/reviews"
	"bites/internal/domain/storage"
	"bites/internal/domain/users"
	"bites/internal/mealperiod"

	"go.uber.org/zap"
)

var (
	ErrIngestionFailed = errors.New("ingestion failed")
	ErrInvalidInput    = errors.New("invalid ingestion input")
	// ErrIDConflict is wrapped in ErrIngestionFailed when a retried id
	// belongs to another author or to an event of the other kind.
	ErrIDConflict = errors.New("event id already in use")
)

var stats = expvar.NewMap("ingest")

// IDSource mints event ids and recovers the time an id was minted at.
// *idgen.Generator satisfies it.
type IDSource interface {
	Next() (string, error)
	Decode(id string) (time.Time, error)
}

type Service struct {
	store  *storage.Container
	ids    IDSource
	logger *zap.SugaredLogger
	now    func() time.Time
	loc    *time.Location
}

type Option func(*Service)

// WithClock replaces time.Now as the source of event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the zone event timestamps are written in. Without it the
// clock's own zone is used.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

func NewService(store *storage.Container, ids IDSource, logger *zap.SugaredLogger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		ids:    ids,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type ReviewInput struct {
	// ID is optional. A client retrying a request passes the id returned by
	// the first attempt so the retry resolves to the same review.
	ID         string
	Title      string
	Body       string
	Rating     int
	AuthorID   string
	AuthorName string
	VenueID    string
}

type AttendanceInput struct {
	ID       string
	AuthorID string
	VenueID  string
}

// PostReview stores a review and appends it to its author's index.
func (s *Service) PostReview(ctx context.Context, in ReviewInput) (*reviews.Review, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	author, err := s.store.Users.GetByID(ctx, in.AuthorID)
	if err != nil {
		return nil, s.fail("load author", in.AuthorID, err)
	}
	if in.AuthorName == "" {
		in.AuthorName = author.Name
	}

	id, err := s.eventID(ctx, in.ID, s.visitExists)
	if err != nil {
		return nil, err
	}

	existed := false
	review, err := s.store.Reviews.GetReview(ctx, id)
	switch {
	case err == nil:
		if review.AuthorID != in.AuthorID {
			return nil, s.fail("reuse review", id, fmt.Errorf("%w: owned by another author", ErrIDConflict))
		}
		existed = true
	case errors.Is(err, reviews.ErrNotFound):
		review = &reviews.Review{
			ID:         id,
			Title:      in.Title,
			Body:       in.Body,
			Rating:     in.Rating,
			AuthorName: in.AuthorName,
			AuthorID:   in.AuthorID,
			VenueID:    in.VenueID,
			CreatedAt:  s.timestamp(),
		}
		if err := s.store.Reviews.CreateReview(ctx, review); err != nil {
			return nil, s.fail("create review", id, err)
		}
	default:
		return nil, s.fail("lookup review", id, err)
	}

	period, err := mealperiod.Classify(review.CreatedAt)
	if err != nil {
		return nil, s.fail("classify", id, err)
	}
	if err := s.store.Users.AppendReview(ctx, review.AuthorID, review.ID); err != nil {
		return nil, s.fail("index review", id, err)
	}
	if !existed || s.newest(author, review.ID) {
		if err := s.store.Users.SetLastMealPeriod(ctx, review.AuthorID, period); err != nil {
			return nil, s.fail("set meal period", id, err)
		}
	}

	stats.Add("reviews", 1)
	s.logger.Infow("review ingested", "review_id", review.ID, "author_id", review.AuthorID, "venue_id", review.VenueID)
	return review, nil
}

// LogVisit stores a visit, counts it towards the venue total and appends it
// to its author's index.
func (s *Service) LogVisit(ctx context.Context, in AttendanceInput) (*dining.Event, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	author, err := s.store.Users.GetByID(ctx, in.AuthorID)
	if err != nil {
		return nil, s.fail("load author", in.AuthorID, err)
	}

	id, err := s.eventID(ctx, in.ID, s.reviewExists)
	if err != nil {
		return nil, err
	}

	existed := false
	event, err := s.store.Dining.GetEvent(ctx, id)
	switch {
	case err == nil:
		if event.AuthorID != in.AuthorID {
			return nil, s.fail("reuse visit", id, fmt.Errorf("%w: owned by another author", ErrIDConflict))
		}
		existed = true
	case errors.Is(err, dining.ErrNotFound):
		event = &dining.Event{
			ID:        id,
			AuthorID:  in.AuthorID,
			VenueID:   in.VenueID,
			CreatedAt: s.timestamp(),
		}
		if err := s.store.Dining.CreateEvent(ctx, event); err != nil {
			return nil, s.fail("create visit", id, err)
		}
	default:
		return nil, s.fail("lookup visit", id, err)
	}

	// the event id is the dedup key, so a retry never counts twice
	total, err := s.store.Dining.IncrementTotal(ctx, event.VenueID, event.ID)
	if err != nil {
		return nil, s.fail("increment total", id, err)
	}

	period, err := mealperiod.Classify(event.CreatedAt)
	if err != nil {
		return nil, s.fail("classify", id, err)
	}
	if err := s.store.Users.AppendAttendance(ctx, event.AuthorID, event.ID); err != nil {
		return nil, s.fail("index visit", id, err)
	}
	if !existed || s.newest(author, event.ID) {
		if err := s.store.Users.SetLastMealPeriod(ctx, event.AuthorID, period); err != nil {
			return nil, s.fail("set meal period", id, err)
		}
	}

	stats.Add("visits", 1)
	s.logger.Infow("visit ingested", "visit_id", event.ID, "author_id", event.AuthorID, "venue_id", event.VenueID, "venue_total", total)
	return event, nil
}

// eventID mints a fresh id, or vets the one a retrying client passed back:
// it must be one the id source minted and must not name an event of the
// other kind.
func (s *Service) eventID(ctx context.Context, requested string, otherKind func(context.Context, string) (bool, error)) (string, error) {
	if requested == "" {
		id, err := s.ids.Next()
		if err != nil {
			return "", s.fail("generate id", "", err)
		}
		return id, nil
	}

	if _, err := s.ids.Decode(requested); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	taken, err := otherKind(ctx, requested)
	if err != nil {
		return "", s.fail("check id", requested, err)
	}
	if taken {
		return "", s.fail("check id", requested, fmt.Errorf("%w: names an event of another kind", ErrIDConflict))
	}
	return requested, nil
}

func (s *Service) reviewExists(ctx context.Context, id string) (bool, error) {
	_, err := s.store.Reviews.GetReview(ctx, id)
	if errors.Is(err, reviews.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Service) visitExists(ctx context.Context, id string) (bool, error) {
	_, err := s.store.Dining.GetEvent(ctx, id)
	if errors.Is(err, dining.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Service) timestamp() string {
	t := s.now()
	if s.loc != nil {
		t = t.In(s.loc)
	}
	return mealperiod.Format(t)
}

// newest reports whether a retried event is at least as recent as the
// latest events already indexed for the user, so its meal period may
// replace the current one. user is the snapshot read before indexing.
func (s *Service) newest(user *users.User, id string) bool {
	minted, err := s.ids.Decode(id)
	if err != nil {
		return true
	}
	for _, index := range [][]string{user.ReviewIDs, user.AttendanceIDs} {
		others := slices.DeleteFunc(slices.Clone(index), func(e string) bool { return e == id })
		if len(others) == 0 {
			continue
		}
		latest, err := s.ids.Decode(others[len(others)-1])
		if err == nil && latest.After(minted) {
			return false
		}
	}
	return true
}

func (s *Service) fail(step, id string, err error) error {
	stats.Add("failures", 1)
	s.logger.Errorw("ingestion step failed", "step", step, "id", id, "error", err)
	return fmt.Errorf("%w: %s %s: %w", ErrIngestionFailed, step, id, err)
}

func (in ReviewInput) validate() error {
	var missing []string
	if in.AuthorID == "" {
		missing = append(missing, "author_id")
	}
	if in.VenueID == "" {
		missing = append(missing, "venue_id")
	}
	if strings.TrimSpace(in.Title) == "" {
		missing = append(missing, "title")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidInput, strings.Join(missing, ", "))
	}
	if in.Rating < 1 || in.Rating > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5, got %d", ErrInvalidInput, in.Rating)
	}
	return nil
}

func (in AttendanceInput) validate() error {
	if in.AuthorID == "" || in.VenueID == "" {
		return fmt.Errorf("%w: author_id and venue_id are required", ErrInvalidInput)
	}
	return nil
}
