package main

import (
	"errors"
	"fmt"
	"net/http"

	"bites/internal/domain/users"
	"bites/internal/profile"

	"github.com/go-chi/chi/v5"
)

type userKey string

const userCtx userKey = "user"

func getUserFromContext(r *http.Request) *users.User {
	user, _ := r.Context().Value(userCtx).(*users.User)
	return user
}

// publicUser is what other users can see of a profile.
type publicUser struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Bio            string `json:"bio"`
	AvatarURL      string `json:"avatar_url"`
	FavoriteVenue1 string `json:"favorite_venue_1"`
	FavoriteVenue2 string `json:"favorite_venue_2"`
	LastMealPeriod string `json:"last_meal_period"`
	ReviewCount    int    `json:"review_count"`
	VisitCount     int    `json:"visit_count"`
}

func toPublicUser(u *users.User) publicUser {
	return publicUser{
		ID:             u.ID,
		Name:           u.Name,
		Bio:            u.Bio,
		AvatarURL:      u.AvatarURL,
		FavoriteVenue1: u.FavoriteVenue1,
		FavoriteVenue2: u.FavoriteVenue2,
		LastMealPeriod: u.LastMealPeriod,
		ReviewCount:    len(u.ReviewIDs),
		VisitCount:     len(u.AttendanceIDs),
	}
}

// getUserHandler godoc
//
//	@Summary		Fetch a user profile
//	@Tags			users
//	@Produce		json
//	@Param			userID	path		string	true	"User ID"
//	@Success		200		{object}	publicUser
//	@Failure		404		{object}	error
//	@Failure		500		{object}	ErrorInternalServerResponse
//	@Router			/users/{userID} [get]
func (app *application) getUserHandler(w http.ResponseWriter, r *http.Request) {
	user, err := app.profile.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		switch {
		case errors.Is(err, profile.ErrNotFound):
			app.notFoundResponse(w, r, err)
		default:
			app.internalServerError(w, r, err)
		}
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, toPublicUser(user)); err != nil {
		app.internalServerError(w, r, err)
	}
}

// getCurrentUserHandler godoc
//
//	@Summary		Fetch the signed-in user
//	@Tags			users
//	@Produce		json
//	@Success		200	{object}	users.User
//	@Failure		401	{object}	error
//	@Security		ApiKeyAuth
//	@Router			/users/me [get]
func (app *application) getCurrentUserHandler(w http.ResponseWriter, r *http.Request) {
	if err := app.jsonResponse(w, http.StatusOK, getUserFromContext(r)); err != nil {
		app.internalServerError(w, r, err)
	}
}

// getUserReviewsHandler godoc
//
//	@Summary		Reviews written by a user
//	@Tags			users
//	@Produce		json
//	@Param			userID	path		string	true	"User ID"
//	@Success		200		{array}		reviews.Review
//	@Failure		500		{object}	ErrorInternalServerResponse
//	@Router			/users/{userID}/reviews [get]
func (app *application) getUserReviewsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := app.query.ReviewsByAuthor(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, list); err != nil {
		app.internalServerError(w, r, err)
	}
}

// getUserVisitsHandler godoc
//
//	@Summary		Visits logged by a user
//	@Tags			users
//	@Produce		json
//	@Param			userID	path		string	true	"User ID"
//	@Success		200		{array}		dining.Event
//	@Failure		500		{object}	ErrorInternalServerResponse
//	@Router			/users/{userID}/visits [get]
func (app *application) getUserVisitsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := app.query.VisitsByAuthor(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, list); err != nil {
		app.internalServerError(w, r, err)
	}
}

type updateUserPayload struct {
	Bio            *string `json:"bio" validate:"omitempty,max=300"`
	FavoriteVenue1 *string `json:"favorite_venue_1" validate:"omitempty,venueid"`
	FavoriteVenue2 *string `json:"favorite_venue_2" validate:"omitempty,venueid"`
}

// updateUserHandler godoc
//
//	@Summary		Update the signed-in user's profile
//	@Description	Only the fields present and non-empty are changed.
//	@Tags			users
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		updateUserPayload	true	"Fields to change"
//	@Success		200		{object}	users.User
//	@Failure		400		{object}	ErrorBadRequestResponse
//	@Failure		401		{object}	error
//	@Failure		500		{object}	ErrorInternalServerResponse
//	@Security		ApiKeyAuth
//	@Router			/users/me [patch]
func (app *application) updateUserHandler(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)

	var payload updateUserPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	ctx := r.Context()

	if payload.Bio != nil {
		if err := app.profile.EditBio(ctx, user.ID, *payload.Bio); err != nil {
			app.profileError(w, r, err)
			return
		}
	}
	if payload.FavoriteVenue1 != nil {
		if err := app.profile.EditFavoriteVenue(ctx, user.ID, 1, *payload.FavoriteVenue1); err != nil {
			app.profileError(w, r, err)
			return
		}
	}
	if payload.FavoriteVenue2 != nil {
		if err := app.profile.EditFavoriteVenue(ctx, user.ID, 2, *payload.FavoriteVenue2); err != nil {
			app.profileError(w, r, err)
			return
		}
	}

	updated, err := app.profile.Get(ctx, user.ID)
	if err != nil {
		app.profileError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, updated); err != nil {
		app.internalServerError(w, r, err)
	}
}

// uploadAvatarHandler godoc
//
//	@Summary		Upload avatar
//	@Description	Uploads the signed-in user's avatar and saves its URL on the profile
//	@Tags			users
//	@Accept			mpfd
//	@Produce		json
//	@Param			avatar	formData	file	true	"Avatar file size limit is 2MB"
//	@Success		200		{object}	users.User
//	@Failure		400		{object}	ErrorBadRequestResponse
//	@Failure		500		{object}	ErrorInternalServerResponse
//	@Security		ApiKeyAuth
//	@Router			/users/me/avatar [post]
func (app *application) uploadAvatarHandler(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)

	// Parse the multipart form
	if err := r.ParseMultipartForm(2 << 20); err != nil { // 2 MB
		app.badRequestResponse(w, r, fmt.Errorf("unable to parse form, file size limit is 2MB"))
		return
	}

	file, fileHeader, err := r.FormFile("avatar")
	if err != nil {
		app.badRequestResponse(w, r, fmt.Errorf("unable to retrieve file"))
		return
	}
	defer file.Close()

	// Validate file type (allow only JPEG & PNG)
	contentType := fileHeader.Header.Get("Content-Type")
	if contentType != "image/jpeg" && contentType != "image/png" {
		app.badRequestResponse(w, r, fmt.Errorf("only JPEG and PNG images are allowed"))
		return
	}

	url, err := app.uploader.UploadAvatar(r.Context(), file, user.ID)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := app.profile.EditAvatar(r.Context(), user.ID, url); err != nil {
		app.profileError(w, r, err)
		return
	}

	updated, err := app.profile.Get(r.Context(), user.ID)
	if err != nil {
		app.profileError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, updated); err != nil {
		app.internalServerError(w, r, err)
	}
}

func (app *application) profileError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, profile.ErrNotFound):
		app.notFoundResponse(w, r, err)
	case errors.Is(err, profile.ErrInvalidSlot):
		app.badRequestResponse(w, r, err)
	default:
		app.internalServerError(w, r, err)
	}
}
