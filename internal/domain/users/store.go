package users

import (
	"context"
	"errors"
	"fmt"

	"bites/internal/ledger"
)

type Store interface {
	Create(context.Context, *User) error
	GetByID(context.Context, string) (*User, error)
	GetByEmail(context.Context, string) (*User, error)
	FindByExternalID(context.Context, string) (*User, error)
	UpdateProfile(ctx context.Context, userID string, updates map[string]string) error
	AppendReview(ctx context.Context, userID, reviewID string) error
	AppendAttendance(ctx context.Context, userID, attendanceID string) error
	SetLastMealPeriod(ctx context.Context, userID, period string) error
}

type Repository struct {
	db ledger.Store
}

func NewRepository(db ledger.Store) Store {
	return &Repository{db: db}
}

// Create inserts a new user and fails with ErrAlreadyExists if the id is
// taken. Local accounts claim their email first, so two of them can never
// share one.
func (r *Repository) Create(ctx context.Context, user *User) error {
	ctx, cancel := ledger.WithTimeout(ctx)
	defer cancel()

	claimed := user.AuthProvider == ProviderLocal && user.Email != ""
	if claimed {
		err := r.db.Insert(ctx, EmailCollection, user.Email, ledger.Document{fieldClaimOwner: user.ID})
		if errors.Is(err, ledger.ErrAlreadyExists) {
			return ErrDuplicateEmail
		}
		if err != nil {
			return fmt.Errorf("claim email: %w", err)
		}
	}

	err := r.db.Insert(ctx, Collection, user.ID, user.document())
	if err == nil {
		return nil
	}
	if claimed {
		if derr := r.db.Delete(ctx, EmailCollection, user.Email); derr != nil {
			err = errors.Join(err, fmt.Errorf("release email: %w", derr))
		}
	}
	if errors.Is(err, ledger.ErrAlreadyExists) {
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	}
	return err
}

func (r *Repository) GetByID(ctx context.Context, userID string) (*User, error) {
	ctx, cancel := ledger.WithTimeout(ctx)
	defer cancel()

	doc, err := r.db.Get(ctx, Collection, userID)
	if err != nil {
		return nil, notFound(err)
	}
	return fromDocument(doc), nil
}

// GetByEmail prefers the local account that claimed the email and falls
// back to any user carrying it.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	claim, err := r.getClaim(ctx, email)
	switch {
	case err == nil:
		return r.GetByID(ctx, claim.String(fieldClaimOwner))
	case !errors.Is(err, ledger.ErrNotFound):
		return nil, err
	}
	return r.first(ctx, FieldEmail, email)
}

func (r *Repository) getClaim(ctx context.Context, email string) (ledger.Document, error) {
	ctx, cancel := ledger.WithTimeout(ctx)
	defer cancel()

	return r.db.Get(ctx, EmailCollection, email)
}

// FindByExternalID looks a user up by the id an identity provider assigned
// them, which is also the document id.
func (r *Repository) FindByExternalID(ctx context.Context, uid string) (*User, error) {
	return r.first(ctx, FieldID, uid)
}

func (r *Repository) first(ctx context.Context, field, value string) (*User, error) {
	ctx, cancel := ledger.WithTimeout(ctx)
	defer cancel()

	for doc, err := range r.db.ScanWhere(ctx, Collection, field, value) {
		if err != nil {
			return nil, err
		}
		return fromDocument(doc), nil
	}
	return nil, ErrNotFound
}

func (r *Repository) UpdateProfile(ctx context.Context, userID string, updates map[string]string) error {
	if len(updates) == 0 {
		return fmt.Errorf("no fields to update")
	}

	partial := make(ledger.Document, len(updates))
	for field, value := range updates {
		if !isValidField(field) {
			return fmt.Errorf("invalid field name: %s", field)
		}
		partial[field] = value
	}

	ctx, cancel := ledger.WithTimeout(ctx)
	defer cancel()

	return notFound(r.db.Update(ctx, Collection, userID, partial))
}

// Helper function to validate field names
func isValidField(field string) bool {
	validFields := map[string]bool{
		FieldBio:            true,
		FieldAvatarURL:      true,
		FieldFavoriteVenue1: true,
		FieldFavoriteVenue2: true,
	}
	return validFields[field]
}

func (r *Repository) AppendReview(ctx context.Context, userID, reviewID string) error {
	ctx, cancel := ledger.WithTimeout(ctx)
	defer cancel()

	return notFound(r.db.Append(ctx, Collection, userID, FieldReviewIDs, reviewID))
}

func (r *Repository) AppendAttendance(ctx context.Context, userID, attendanceID string) error {
	ctx, cancel := ledger.WithTimeout(ctx)
	defer cancel()

	return notFound(r.db.Append(ctx, Collection, userID, FieldAttendanceIDs, attendanceID))
}

func (r *Repository) SetLastMealPeriod(ctx context.Context, userID, period string) error {
	ctx, cancel := ledger.WithTimeout(ctx)
	defer cancel()

	return notFound(r.db.Update(ctx, Collection, userID, ledger.Document{FieldLastMealPeriod: period}))
}

func notFound(err error) error {
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
