package main

import (
	"errors"
	"fmt"
	"net/http"

	"bites/internal/auth"
	"bites/internal/domain/users"
	"bites/internal/profile"
)

// ErrorBadRequestResponse represents the standard error format for bad request API responses.
//
//	@name			ErrorBadRequestResponse
//	@description	Standard error response format returned by all bad request API endpoints
type ErrorBadRequestResponse struct {
	Success bool   `json:"success" example:"false"`
	Message string `json:"message" example:"It show error from err.Error()"`
	Status  int    `json:"status" example:"400"`
}

// ErrorInternalServerResponse represents the standard error format for internal server API responses.
//
//	@name			ErrorInternalServerResponse
//	@description	Standard error response format returned by all internal server error API endpoints
type ErrorInternalServerResponse struct {
	Success bool   `json:"success" example:"false"`
	Message string `json:"message" example:"the server encountered a problem"`
	Status  int    `json:"status" example:"500"`
}

type RegisterUserPayload struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// TokenResponse represents the structure of the tokens in the response. made for swagger doc success output
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
}

type UserWithTokens struct {
	User   *users.User   `json:"user"`
	Tokens TokenResponse `json:"tokens"`
}

// registerUserHandler godoc
//
//	@Summary		Registers a user
//	@Description	Creates a local account and sends a welcome email
//	@Tags			authentication
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		RegisterUserPayload			true	"User credentials"
//	@Success		201		{object}	UserWithTokens				"User registered"
//	@Failure		400		{object}	ErrorBadRequestResponse		"Bad request"
//	@Failure		500		{object}	ErrorInternalServerResponse	"Internal Server Error"
//	@Router			/authentication/user [post]
func (app *application) registerUserHandler(w http.ResponseWriter, r *http.Request) {
	var payload RegisterUserPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	user, err := app.profile.Register(r.Context(), payload.Name, payload.Email, payload.Password)
	if err != nil {
		switch {
		case errors.Is(err, profile.ErrDuplicateEmail):
			app.badRequestResponse(w, r, err)
		default:
			app.internalServerError(w, r, err)
		}
		return
	}

	tokens, err := app.issueTokens(user)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusCreated, UserWithTokens{User: user, Tokens: tokens}); err != nil {
		app.internalServerError(w, r, err)
	}
}

type CreateUserTokenPayload struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=3,max=72"`
}

// createTokenHandler godoc
//
//	@Summary		Login to get Token
//	@Description	Creates a token pair for a user with a local password.
//	@Tags			authentication
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		CreateUserTokenPayload	true	"User credentials"
//	@Success		200		{object}	TokenResponse
//	@Failure		400		{object}	ErrorBadRequestResponse
//	@Failure		401		{object}	error
//	@Failure		500		{object}	ErrorInternalServerResponse
//	@Router			/authentication/token [post]
func (app *application) createTokenHandler(w http.ResponseWriter, r *http.Request) {
	var payload CreateUserTokenPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	user, err := app.profile.Authenticate(r.Context(), payload.Email, payload.Password)
	if err != nil {
		switch {
		case errors.Is(err, profile.ErrInvalidLogin):
			app.unauthorizedErrorResponse(w, r, err)
		default:
			app.internalServerError(w, r, err)
		}
		return
	}

	tokens, err := app.issueTokens(user)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, tokens); err != nil {
		app.internalServerError(w, r, err)
	}
}

// refreshTokenHandler godoc
//
//	@Summary		Refresh tokens
//	@Description	Exchanges a valid refresh token for a new token pair.
//	@Tags			authentication
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		object{refresh_token=string}	true	"Refresh token"
//	@Success		200		{object}	TokenResponse
//	@Failure		400		{object}	ErrorBadRequestResponse
//	@Failure		401		{object}	error
//	@Router			/authentication/refresh [post]
func (app *application) refreshTokenHandler(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	token, err := app.authenticator.ValidateRefreshToken(payload.RefreshToken)
	if err != nil || !token.Valid {
		app.unauthorizedErrorResponse(w, r, fmt.Errorf("invalid refresh token"))
		return
	}

	userID, err := auth.Subject(token)
	if err != nil {
		app.unauthorizedErrorResponse(w, r, err)
		return
	}

	user, err := app.profile.Get(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, profile.ErrNotFound):
			app.unauthorizedErrorResponse(w, r, err)
		default:
			app.internalServerError(w, r, err)
		}
		return
	}

	tokens, err := app.issueTokens(user)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, tokens); err != nil {
		app.internalServerError(w, r, err)
	}
}

type FederatedSignInPayload struct {
	UID      string `json:"uid" validate:"required,max=128"`
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"omitempty,email,max=255"`
	PhotoURL string `json:"photo_url" validate:"omitempty,url"`
}

// federatedSignInHandler godoc
//
//	@Summary		Sign in through an identity provider
//	@Description	Called by the trusted sign-in bridge after the provider verified the user. Creates the account on first sign-in.
//	@Tags			authentication
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		FederatedSignInPayload	true	"Verified identity"
//	@Success		200		{object}	UserWithTokens			"Existing user"
//	@Success		201		{object}	UserWithTokens			"User created"
//	@Failure		400		{object}	ErrorBadRequestResponse
//	@Failure		401		{object}	error
//	@Failure		500		{object}	ErrorInternalServerResponse
//	@Security		BasicAuth
//	@Router			/authentication/federated [post]
func (app *application) federatedSignInHandler(w http.ResponseWriter, r *http.Request) {
	var payload FederatedSignInPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	user, created, err := app.profile.SignInFederated(r.Context(), profile.FederatedIdentity{
		UID:      payload.UID,
		Name:     payload.Name,
		Email:    payload.Email,
		PhotoURL: payload.PhotoURL,
	})
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	tokens, err := app.issueTokens(user)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	if err := app.jsonResponse(w, status, UserWithTokens{User: user, Tokens: tokens}); err != nil {
		app.internalServerError(w, r, err)
	}
}

func (app *application) issueTokens(user *users.User) (TokenResponse, error) {
	access, refresh, err := app.authenticator.GenerateTokens(user.ID, user.AuthProvider)
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{AccessToken: access, RefreshToken: refresh, UserID: user.ID}, nil
}
