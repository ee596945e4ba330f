// Package profile edits user-controlled profile fields and manages accounts.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bites/internal/domain/storage"
	"bites/internal/domain/users"
	"bites/internal/mailer"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotFound wraps users.ErrNotFound, which wraps ledger.ErrNotFound.
	ErrNotFound        = users.ErrNotFound
	ErrInvalidSlot     = errors.New("favorite venue slot must be 1 or 2")
	ErrInvalidLogin    = errors.New("invalid email or password")
	ErrDuplicateEmail  = users.ErrDuplicateEmail
	ErrMissingIdentity = errors.New("federated identity requires a uid")
)

type Service struct {
	store  *storage.Container
	mailer mailer.Client
	logger *zap.SugaredLogger
}

func NewService(store *storage.Container, mail mailer.Client, logger *zap.SugaredLogger) *Service {
	return &Service{store: store, mailer: mail, logger: logger}
}

func (s *Service) Get(ctx context.Context, userID string) (*users.User, error) {
	return s.store.Users.GetByID(ctx, userID)
}

func (s *Service) EditBio(ctx context.Context, userID, bio string) error {
	return s.edit(ctx, userID, users.FieldBio, bio)
}

func (s *Service) EditAvatar(ctx context.Context, userID, url string) error {
	return s.edit(ctx, userID, users.FieldAvatarURL, url)
}

func (s *Service) EditFavoriteVenue(ctx context.Context, userID string, slot int, venueID string) error {
	var field string
	switch slot {
	case 1:
		field = users.FieldFavoriteVenue1
	case 2:
		field = users.FieldFavoriteVenue2
	default:
		return fmt.Errorf("%w: got %d", ErrInvalidSlot, slot)
	}
	return s.edit(ctx, userID, field, venueID)
}

// edit ignores empty values: clearing a field is not supported.
func (s *Service) edit(ctx context.Context, userID, field, value string) error {
	if value == "" {
		return nil
	}
	return s.store.Users.UpdateProfile(ctx, userID, map[string]string{field: value})
}

// Register creates a local account. The welcome mail is best effort.
func (s *Service) Register(ctx context.Context, name, email, password string) (*users.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user := &users.User{
		ID:           uuid.New().String(),
		Name:         name,
		AuthProvider: users.ProviderLocal,
		Email:        email,
		CreatedAt:    time.Now().UTC(),
	}
	if err := user.Password.Set(password); err != nil {
		return nil, err
	}
	if err := s.store.Users.Create(ctx, user); err != nil {
		return nil, err
	}

	vars := struct {
		Username string
	}{
		Username: user.Name,
	}
	status, err := s.mailer.Send(mailer.UserWelcomeTemplate, user.Name, user.Email, vars)
	if err != nil {
		s.logger.Errorw("error sending welcome email", "user_id", user.ID, "error", err)
	} else {
		s.logger.Infow("Email sent", "status code", status)
	}

	return user, nil
}

func (s *Service) Authenticate(ctx context.Context, email, password string) (*users.User, error) {
	user, err := s.store.Users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrInvalidLogin
		}
		return nil, err
	}
	if !user.Password.IsSet() {
		return nil, ErrInvalidLogin
	}
	if err := user.Password.Compare(password); err != nil {
		return nil, ErrInvalidLogin
	}
	return user, nil
}

// FederatedIdentity is what a trusted identity provider tells us about a
// signed-in user.
type FederatedIdentity struct {
	UID      string
	Name     string
	Email    string
	PhotoURL string
}

// SignInFederated returns the user the provider's uid maps to, creating a
// google account on first sign-in.
func (s *Service) SignInFederated(ctx context.Context, id FederatedIdentity) (*users.User, bool, error) {
	if id.UID == "" {
		return nil, false, ErrMissingIdentity
	}

	user, err := s.store.Users.FindByExternalID(ctx, id.UID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, users.ErrNotFound) {
		return nil, false, err
	}

	user = &users.User{
		ID:           id.UID,
		Name:         id.Name,
		AuthProvider: users.ProviderGoogle,
		Email:        strings.ToLower(strings.TrimSpace(id.Email)),
		AvatarURL:    id.PhotoURL,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.Users.Create(ctx, user); err != nil {
		if !errors.Is(err, users.ErrAlreadyExists) {
			return nil, false, err
		}
		// a concurrent first sign-in won the race
		existing, err := s.store.Users.GetByID(ctx, id.UID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	s.logger.Infow("federated user created", "user_id", user.ID)
	return user, true, nil
}
