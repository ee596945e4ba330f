package main

import (
	"errors"
	"net/http"

	"bites/internal/ingest"

	"github.com/go-chi/chi/v5"
)

type logVisitPayload struct {
	ID string `json:"id" validate:"omitempty,max=64"`
}

// logVisitHandler godoc
//
//	@Summary		Log a visit
//	@Description	Records that the current user ate at the venue and counts it towards the venue total. Retrying with the id of an earlier attempt never counts the visit twice.
//	@Tags			venues
//	@Accept			json
//	@Produce		json
//	@Param			venueID	path		string			true	"Venue ID"
//	@Param			payload	body		logVisitPayload	false	"Retry key"
//	@Success		201		{object}	dining.Event
//	@Failure		400		{object}	ErrorBadRequestResponse
//	@Failure		401		{object}	error
//	@Failure		409		{object}	error
//	@Failure		500		{object}	ErrorInternalServerResponse
//	@Security		ApiKeyAuth
//	@Router			/venues/{venueID}/visits [post]
func (app *application) logVisitHandler(w http.ResponseWriter, r *http.Request) {
	venueID := chi.URLParam(r, "venueID")
	if err := Validate.Var(venueID, "venueid"); err != nil {
		app.badRequestResponse(w, r, errors.New("invalid venue ID"))
		return
	}

	var payload logVisitPayload
	if r.ContentLength > 0 {
		if err := readJSON(w, r, &payload); err != nil {
			app.badRequestResponse(w, r, err)
			return
		}
		if err := Validate.Struct(payload); err != nil {
			app.badRequestResponse(w, r, err)
			return
		}
	}

	user := getUserFromContext(r)

	event, err := app.ingest.LogVisit(r.Context(), ingest.AttendanceInput{
		ID:       payload.ID,
		AuthorID: user.ID,
		VenueID:  venueID,
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

	if err := app.jsonResponse(w, http.StatusCreated, event); err != nil {
		app.internalServerError(w, r, err)
	}
}

// venueSummaryHandler godoc
//
//	@Summary		Venue summary
//	@Description	Review count, average rating rounded to one decimal and visit total of a venue.
//	@Tags			venues
//	@Produce		json
//	@Param			venueID	path		string	true	"Venue ID"
//	@Success		200		{object}	query.VenueSummary
//	@Failure		500		{object}	ErrorInternalServerResponse
//	@Router			/venues/{venueID}/summary [get]
func (app *application) venueSummaryHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := app.query.VenueSummary(r.Context(), chi.URLParam(r, "venueID"))
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, summary); err != nil {
		app.internalServerError(w, r, err)
	}
}

// venueTotalsHandler godoc
//
//	@Summary		Visit totals
//	@Description	Visit total of every venue that has been visited at least once.
//	@Tags			venues
//	@Produce		json
//	@Success		200	{array}		dining.VenueTotal
//	@Failure		500	{object}	ErrorInternalServerResponse
//	@Router			/venues/totals [get]
func (app *application) venueTotalsHandler(w http.ResponseWriter, r *http.Request) {
	totals, err := app.query.VenueTotals(r.Context())
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, totals); err != nil {
		app.internalServerError(w, r, err)
	}
}
