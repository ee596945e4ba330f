package dining

import (
	"errors"

	"bites/internal/ledger"
)

const (
	Collection       = "dining"
	TotalsCollection = "diningTotals"
)

const (
	FieldID        = "id"
	FieldAuthorID  = "author_id"
	FieldVenueID   = "venue_id"
	FieldCreatedAt = "created_at"
	FieldTotal     = "total"
)

var ErrNotFound = errors.New("dining record not found")

// Event is one logged visit to a venue. Immutable once stored.
type Event struct {
	ID        string `json:"id"`
	AuthorID  string `json:"author_id"`
	VenueID   string `json:"venue_id"`
	CreatedAt string `json:"created_at"`
}

// VenueTotal is the denormalized visit count of one venue.
type VenueTotal struct {
	VenueID string `json:"venue_id"`
	Total   int64  `json:"total"`
}

func (e *Event) document() ledger.Document {
	return ledger.Document{
		FieldID:        e.ID,
		FieldAuthorID:  e.AuthorID,
		FieldVenueID:   e.VenueID,
		FieldCreatedAt: e.CreatedAt,
	}
}

func eventFromDocument(doc ledger.Document) Event {
	return Event{
		ID:        doc.String(FieldID),
		AuthorID:  doc.String(FieldAuthorID),
		VenueID:   doc.String(FieldVenueID),
		CreatedAt: doc.String(FieldCreatedAt),
	}
}
