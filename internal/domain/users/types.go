package users

import (
	"errors"
	"time"

	"bites/internal/ledger"

	"golang.org/x/crypto/bcrypt"
)

const Collection = "users"

// EmailCollection maps a local account's email to its user id.
const EmailCollection = "user_emails"

const (
	ProviderLocal  = "local"
	ProviderGoogle = "google"
)

// document field names
const (
	FieldID             = "id"
	FieldName           = "name"
	FieldAuthProvider   = "auth_provider"
	FieldEmail          = "email"
	FieldBio            = "bio"
	FieldAvatarURL      = "avatar_url"
	FieldFavoriteVenue1 = "favorite_venue_1"
	FieldFavoriteVenue2 = "favorite_venue_2"
	FieldLastMealPeriod = "last_meal_period"
	FieldReviewIDs      = "review_ids"
	FieldAttendanceIDs  = "attendance_ids"
	FieldPasswordHash   = "password_hash"
	FieldCreatedAt      = "created_at"

	fieldClaimOwner = "user_id"
)

var (
	ErrNotFound       = errors.New("resource not found")
	ErrDuplicateEmail = errors.New("a user with that email already exists")
	ErrAlreadyExists  = errors.New("user already exists")
)

type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	AuthProvider   string    `json:"auth_provider"`
	Email          string    `json:"email"`
	Bio            string    `json:"bio"`
	AvatarURL      string    `json:"avatar_url"`
	FavoriteVenue1 string    `json:"favorite_venue_1"`
	FavoriteVenue2 string    `json:"favorite_venue_2"`
	LastMealPeriod string    `json:"last_meal_period"`
	ReviewIDs      []string  `json:"review_ids"`
	AttendanceIDs  []string  `json:"attendance_ids"`
	Password       password  `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// Password struct to store plain text and hash
type password struct {
	text *string
	hash []byte
}

func (p *password) Set(text string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(text), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	p.text = &text
	p.hash = hash

	return nil
}

func (p *password) Compare(text string) error {
	return bcrypt.CompareHashAndPassword(p.hash, []byte(text))
}

// IsSet reports whether the account has a local password at all.
func (p *password) IsSet() bool {
	return len(p.hash) > 0
}

func (u *User) document() ledger.Document {
	reviewIDs := u.ReviewIDs
	if reviewIDs == nil {
		reviewIDs = []string{}
	}
	attendanceIDs := u.AttendanceIDs
	if attendanceIDs == nil {
		attendanceIDs = []string{}
	}

	return ledger.Document{
		FieldID:             u.ID,
		FieldName:           u.Name,
		FieldAuthProvider:   u.AuthProvider,
		FieldEmail:          u.Email,
		FieldBio:            u.Bio,
		FieldAvatarURL:      u.AvatarURL,
		FieldFavoriteVenue1: u.FavoriteVenue1,
		FieldFavoriteVenue2: u.FavoriteVenue2,
		FieldLastMealPeriod: u.LastMealPeriod,
		FieldReviewIDs:      reviewIDs,
		FieldAttendanceIDs:  attendanceIDs,
		FieldPasswordHash:   string(u.Password.hash),
		FieldCreatedAt:      u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func fromDocument(doc ledger.Document) *User {
	u := &User{
		ID:             doc.String(FieldID),
		Name:           doc.String(FieldName),
		AuthProvider:   doc.String(FieldAuthProvider),
		Email:          doc.String(FieldEmail),
		Bio:            doc.String(FieldBio),
		AvatarURL:      doc.String(FieldAvatarURL),
		FavoriteVenue1: doc.String(FieldFavoriteVenue1),
		FavoriteVenue2: doc.String(FieldFavoriteVenue2),
		LastMealPeriod: doc.String(FieldLastMealPeriod),
		ReviewIDs:      doc.Strings(FieldReviewIDs),
		AttendanceIDs:  doc.Strings(FieldAttendanceIDs),
	}
	if hash := doc.String(FieldPasswordHash); hash != "" {
		u.Password.hash = []byte(hash)
	}
	if created, err := time.Parse(time.RFC3339, doc.String(FieldCreatedAt)); err == nil {
		u.CreatedAt = created
	}
	return u
}
