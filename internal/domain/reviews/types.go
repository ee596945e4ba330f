package reviews

import (
	"errors"

	"bites/internal/ledger"
)

const Collection = "reviews"

const (
	FieldID         = "id"
	FieldTitle      = "title"
	FieldBody       = "body"
	FieldRating     = "rating"
	FieldAuthorName = "author_name"
	FieldAuthorID   = "author_id"
	FieldVenueID    = "venue_id"
	FieldCreatedAt  = "created_at"
)

var ErrNotFound = errors.New("review not found")

// Review is immutable once stored. CreatedAt holds the formatted timestamp
// produced by mealperiod.Format.
type Review struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	Rating     int    `json:"rating"` // 1-5
	AuthorName string `json:"author_name"`
	AuthorID   string `json:"author_id"`
	VenueID    string `json:"venue_id"`
	CreatedAt  string `json:"created_at"`
}

func (r *Review) document() ledger.Document {
	return ledger.Document{
		FieldID:         r.ID,
		FieldTitle:      r.Title,
		FieldBody:       r.Body,
		FieldRating:     r.Rating,
		FieldAuthorName: r.AuthorName,
		FieldAuthorID:   r.AuthorID,
		FieldVenueID:    r.VenueID,
		FieldCreatedAt:  r.CreatedAt,
	}
}

func fromDocument(doc ledger.Document) (Review, error) {
	rating, err := doc.Int(FieldRating)
	if err != nil {
		return Review{}, err
	}
	return Review{
		ID:         doc.String(FieldID),
		Title:      doc.String(FieldTitle),
		Body:       doc.String(FieldBody),
		Rating:     int(rating),
		AuthorName: doc.String(FieldAuthorName),
		AuthorID:   doc.String(FieldAuthorID),
		VenueID:    doc.String(FieldVenueID),
		CreatedAt:  doc.String(FieldCreatedAt),
	}, nil
}
