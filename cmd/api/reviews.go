package main

import (
	"errors"
	"net/http"
	"strconv"

	"bites/internal/domain/reviews"
	"bites/internal/ingest"

	"github.com/go-chi/chi/v5"
)

type createReviewPayload struct {
	// ID is only sent when retrying a request whose response was lost.
	ID      string `json:"id" validate:"omitempty,max=64"`
	VenueID string `json:"venue_id" validate:"required,venueid"`
	Title   string `json:"title" validate:"required,max=120"`
	Body    string `json:"body" validate:"max=2000"`
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
}

// createReviewHandler godoc
//
//	@Summary		Post a review
//	@Description	Stores a review of a venue and adds it to the author's profile. Retrying with the id of an earlier attempt completes that attempt instead of creating a new review.
//	@Tags			reviews
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		createReviewPayload	true	"Review"
//	@Success		201		{object}	reviews.Review
//	@Failure		400		{object}	ErrorBadRequestResponse
//	@Failure		401		{object}	error
//	@Failure		409		{object}	error
//	@Failure		500		{object}	ErrorInternalServerResponse
//	@Security		ApiKeyAuth
//	@Router			/reviews [post]
func (app *application) createReviewHandler(w http.ResponseWriter, r *http.Request) {
	var payload createReviewPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	user := getUserFromContext(r)

	review, err := app.ingest.PostReview(r.Context(), ingest.ReviewInput{
		ID:         payload.ID,
		Title:      payload.Title,
		Body:       payload.Body,
		Rating:     payload.Rating,
		AuthorID:   user.ID,
		AuthorName: user.Name,
		VenueID:    payload.VenueID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrInvalidInput):
			app.badRequestResponse(w, r, err)
		case errors.Is(err, ingest.ErrIDConflict):
			app.conflictResponse(w, r, err)
		default:
			app.internalServerError(w, r, err)
		}
		return
	}

	if err := app.jsonResponse(w, http.StatusCreated, review); err != nil {
		app.internalServerError(w, r, err)
	}
}

// listReviewsHandler godoc
//
//	@Summary		List reviews
//	@Description	Lists every review in the order it was posted, optionally only those with the given rating.
//	@Tags			reviews
//	@Produce		json
//	@Param			rating	query		int	false	"Exact rating (1-5)"
//	@Success		200		{array}		reviews.Review
//	@Failure		400		{object}	ErrorBadRequestResponse
//	@Failure		500		{object}	ErrorInternalServerResponse
//	@Router			/reviews [get]
func (app *application) listReviewsHandler(w http.ResponseWriter, r *http.Request) {
	var (
		list []reviews.Review
		err  error
	)

	if raw := r.URL.Query().Get("rating"); raw != "" {
		rating, convErr := strconv.Atoi(raw)
		if convErr != nil || rating < 1 || rating > 5 {
			app.badRequestResponse(w, r, errors.New("rating must be an integer between 1 and 5"))
			return
		}
		list, err = app.query.ReviewsByRating(r.Context(), rating)
	} else {
		list, err = app.query.AllReviews(r.Context())
	}
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, list); err != nil {
		app.internalServerError(w, r, err)
	}
}

// getVenueReviewsHandler godoc
//
//	@Summary		Reviews of a venue
//	@Tags			venues
//	@Produce		json
//	@Param			venueID	path		string	true	"Venue ID"
//	@Success		200		{array}		reviews.Review
//	@Failure		500		{object}	ErrorInternalServerResponse
//	@Router			/venues/{venueID}/reviews [get]
func (app *application) getVenueReviewsHandler(w http.ResponseWriter, r *http.Request) {
	venueID := chi.URLParam(r, "venueID")

	list, err := app.query.ReviewsByVenue(r.Context(), venueID)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, list); err != nil {
		app.internalServerError(w, r, err)
	}
}
