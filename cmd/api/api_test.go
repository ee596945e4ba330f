package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"bites/internal/auth"
	"bites/internal/domain/storage"
	"bites/internal/idgen"
	"bites/internal/ingest"
	"bites/internal/ledger"
	"bites/internal/mailer"
	"bites/internal/profile"
	"bites/internal/query"
	"bites/internal/ratelimiter"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeUploader struct {
	mu      sync.Mutex
	uploads map[string]int
}

func (f *fakeUploader) UploadAvatar(_ context.Context, file io.Reader, userID string) (string, error) {
	b, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploads == nil {
		f.uploads = map[string]int{}
	}
	f.uploads[userID] = len(b)
	return "https://res.cloudinary.test/avatars/" + userID, nil
}

func newTestApplication(t *testing.T, cfg config) *application {
	t.Helper()

	logger := zap.NewNop().Sugar()
	store := storage.NewContainer(ledger.NewMemoryStore())
	clock := func() time.Time { return time.Date(2026, time.October, 18, 19, 5, 0, 0, time.UTC) }

	ids, err := idgen.New("api-test", clock)
	require.NoError(t, err)

	if cfg.auth.basic.user == "" {
		cfg.auth.basic = basicConfig{user: "ops", pass: "secret"}
	}
	cfg.env = "test"
	cfg.ledger.backend = "memory"

	limiter := ratelimiter.NewFixedWindowLimiter(cfg.rateLimiter.RequestsPerTimeFrame, time.Minute)
	t.Cleanup(limiter.Stop)

	return &application{
		config:        cfg,
		store:         store,
		ingest:        ingest.NewService(store, ids, logger, ingest.WithClock(clock)),
		query:         query.NewService(store),
		profile:       profile.NewService(store, mailer.NopClient{}, logger),
		logger:        logger,
		uploader:      &fakeUploader{},
		authenticator: auth.NewJWTAuthenticator("access", "refresh", "Bites", "Bites"),
		rateLimiter:   limiter,
	}
}

func executeRequest(req *http.Request, mux http.Handler) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, v))
}

// register creates an account through the API and returns its access token.
func register(t *testing.T, mux http.Handler, name, email string) (string, string) {
	t.Helper()
	rr := executeRequest(jsonRequest(t, http.MethodPost, "/v1/authentication/user", RegisterUserPayload{
		Name: name, Email: email, Password: "correct-horse",
	}), mux)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp struct {
		User   struct{ ID string } `json:"user"`
		Tokens TokenResponse       `json:"tokens"`
	}
	decodeData(t, rr, &resp)
	require.NotEmpty(t, resp.Tokens.AccessToken)
	return resp.User.ID, resp.Tokens.AccessToken
}

func withBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestHealthRequiresBasicAuth(t *testing.T) {
	app := newTestApplication(t, config{})
	mux := app.mount()

	req, _ := http.NewRequest(http.MethodGet, "/v1/health", nil)
	rr := executeRequest(req, mux)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))

	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("ops:secret")))
	rr = executeRequest(req, mux)
	require.Equal(t, http.StatusOK, rr.Code)

	var data map[string]string
	decodeData(t, rr, &data)
	require.Equal(t, "ok", data["status"])
	require.Equal(t, "memory", data["ledger"])
}

func TestAuthenticationFlow(t *testing.T) {
	app := newTestApplication(t, config{})
	mux := app.mount()

	userID, _ := register(t, mux, "Ana", "ana@example.edu")

	rr := executeRequest(jsonRequest(t, http.MethodPost, "/v1/authentication/user", RegisterUserPayload{
		Name: "Ana", Email: "ana@example.edu", Password: "correct-horse",
	}), mux)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = executeRequest(jsonRequest(t, http.MethodPost, "/v1/authentication/token", CreateUserTokenPayload{
		Email: "ana@example.edu", Password: "wrong-horse",
	}), mux)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = executeRequest(jsonRequest(t, http.MethodPost, "/v1/authentication/token", CreateUserTokenPayload{
		Email: "ana@example.edu", Password: "correct-horse",
	}), mux)
	require.Equal(t, http.StatusOK, rr.Code)
	var tokens TokenResponse
	decodeData(t, rr, &tokens)
	require.Equal(t, userID, tokens.UserID)

	rr = executeRequest(jsonRequest(t, http.MethodPost, "/v1/authentication/refresh", map[string]string{
		"refresh_token": tokens.RefreshToken,
	}), mux)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = executeRequest(jsonRequest(t, http.MethodPost, "/v1/authentication/refresh", map[string]string{
		"refresh_token": tokens.AccessToken,
	}), mux)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestFederatedSignIn(t *testing.T) {
	app := newTestApplication(t, config{})
	mux := app.mount()

	payload := FederatedSignInPayload{UID: "g-42", Name: "Bo", Email: "bo@example.edu"}

	rr := executeRequest(jsonRequest(t, http.MethodPost, "/v1/authentication/federated", payload), mux)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	basic := "Basic " + base64.StdEncoding.EncodeToString([]byte("ops:secret"))

	req := jsonRequest(t, http.MethodPost, "/v1/authentication/federated", payload)
	req.Header.Set("Authorization", basic)
	rr = executeRequest(req, mux)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	req = jsonRequest(t, http.MethodPost, "/v1/authentication/federated", payload)
	req.Header.Set("Authorization", basic)
	rr = executeRequest(req, mux)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestReviewEndpoints(t *testing.T) {
	app := newTestApplication(t, config{})
	mux := app.mount()

	userID, token := register(t, mux, "Ana", "ana@example.edu")

	rr := executeRequest(jsonRequest(t, http.MethodPost, "/v1/reviews", createReviewPayload{
		VenueID: "north-hall", Title: "Pasta night", Rating: 4,
	}), mux)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = executeRequest(withBearer(jsonRequest(t, http.MethodPost, "/v1/reviews", createReviewPayload{
		VenueID: "north-hall", Title: "Pasta night", Rating: 9,
	}), token), mux)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = executeRequest(withBearer(jsonRequest(t, http.MethodPost, "/v1/reviews", createReviewPayload{
		VenueID: "north-hall", Title: "Pasta night", Body: "Generous portions", Rating: 4,
	}), token), mux)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created struct {
		ID         string `json:"id"`
		AuthorID   string `json:"author_id"`
		AuthorName string `json:"author_name"`
		CreatedAt  string `json:"created_at"`
	}
	decodeData(t, rr, &created)
	require.Equal(t, userID, created.AuthorID)
	require.Equal(t, "Ana", created.AuthorName)
	require.Equal(t, "07:05 PM -- Oct 18, 2026", created.CreatedAt)

	// retrying with the returned id does not create a second review
	rr = executeRequest(withBearer(jsonRequest(t, http.MethodPost, "/v1/reviews", createReviewPayload{
		ID: created.ID, VenueID: "north-hall", Title: "Pasta night", Body: "Generous portions", Rating: 4,
	}), token), mux)
	require.Equal(t, http.StatusCreated, rr.Code)

	for _, path := range []string{"/v1/reviews", "/v1/reviews?rating=4", "/v1/venues/north-hall/reviews", "/v1/users/" + userID + "/reviews"} {
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		rr = executeRequest(req, mux)
		require.Equal(t, http.StatusOK, rr.Code, path)

		var list []struct{ ID string }
		decodeData(t, rr, &list)
		require.Len(t, list, 1, path)
		require.Equal(t, created.ID, list[0].ID)
	}

	req, _ := http.NewRequest(http.MethodGet, "/v1/reviews?rating=2", nil)
	rr = executeRequest(req, mux)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"data":[]}`, rr.Body.String())

	req, _ = http.NewRequest(http.MethodGet, "/v1/reviews?rating=six", nil)
	rr = executeRequest(req, mux)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = executeRequest(withBearer(jsonRequest(t, http.MethodGet, "/v1/users/me", nil), token), mux)
	require.Equal(t, http.StatusOK, rr.Code)
	var me struct {
		ReviewIDs      []string `json:"review_ids"`
		LastMealPeriod string   `json:"last_meal_period"`
		Email          string   `json:"email"`
	}
	decodeData(t, rr, &me)
	require.Equal(t, []string{created.ID}, me.ReviewIDs)
	require.Equal(t, "DOct 18, 2026", me.LastMealPeriod)
	require.NotContains(t, rr.Body.String(), "password")
}

func TestVisitEndpoints(t *testing.T) {
	app := newTestApplication(t, config{})
	mux := app.mount()

	userID, token := register(t, mux, "Ana", "ana@example.edu")

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodPost, "/v1/venues/north-hall/visits", nil)
		rr := executeRequest(withBearer(req, token), mux)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}

	// resending the id of the first attempt counts once
	req, _ := http.NewRequest(http.MethodPost, "/v1/venues/south-hall/visits", nil)
	rr := executeRequest(withBearer(req, token), mux)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var first struct {
		ID string `json:"id"`
	}
	decodeData(t, rr, &first)
	for i := 0; i < 2; i++ {
		rr := executeRequest(withBearer(jsonRequest(t, http.MethodPost, "/v1/venues/south-hall/visits", logVisitPayload{ID: first.ID}), token), mux)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}

	// ids the server never handed out are rejected
	rr = executeRequest(withBearer(jsonRequest(t, http.MethodPost, "/v1/venues/south-hall/visits", logVisitPayload{ID: "visit-abc"}), token), mux)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	// a visit id cannot be reused for a review
	rr = executeRequest(withBearer(jsonRequest(t, http.MethodPost, "/v1/reviews", createReviewPayload{
		ID: first.ID, VenueID: "south-hall", Title: "Fine", Rating: 3,
	}), token), mux)
	require.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())

	req, _ = http.NewRequest(http.MethodPost, "/v1/venues/Not%20A%20Slug/visits", nil)
	rr = executeRequest(withBearer(req, token), mux)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	req, _ = http.NewRequest(http.MethodGet, "/v1/venues/totals", nil)
	rr = executeRequest(req, mux)
	require.Equal(t, http.StatusOK, rr.Code)
	var totals []struct {
		VenueID string `json:"venue_id"`
		Total   int64  `json:"total"`
	}
	decodeData(t, rr, &totals)
	require.Len(t, totals, 2)
	require.Equal(t, "north-hall", totals[0].VenueID)
	require.Equal(t, int64(3), totals[0].Total)
	require.Equal(t, "south-hall", totals[1].VenueID)
	require.Equal(t, int64(1), totals[1].Total)

	req, _ = http.NewRequest(http.MethodGet, "/v1/users/"+userID+"/visits", nil)
	rr = executeRequest(req, mux)
	require.Equal(t, http.StatusOK, rr.Code)
	var visits []struct{ ID string }
	decodeData(t, rr, &visits)
	require.Len(t, visits, 4)

	req, _ = http.NewRequest(http.MethodGet, "/v1/venues/north-hall/summary", nil)
	rr = executeRequest(req, mux)
	require.Equal(t, http.StatusOK, rr.Code)
	var summary query.VenueSummary
	decodeData(t, rr, &summary)
	require.Equal(t, int64(3), summary.Visits)
	require.Zero(t, summary.ReviewCount)
}

func TestProfileEndpoints(t *testing.T) {
	app := newTestApplication(t, config{})
	mux := app.mount()

	userID, token := register(t, mux, "Ana", "ana@example.edu")

	rr := executeRequest(withBearer(jsonRequest(t, http.MethodPatch, "/v1/users/me", map[string]string{
		"bio":              "Breakfast person",
		"favorite_venue_1": "north-hall",
	}), token), mux)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// empty values leave the profile alone
	rr = executeRequest(withBearer(jsonRequest(t, http.MethodPatch, "/v1/users/me", map[string]string{
		"bio": "",
	}), token), mux)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = executeRequest(withBearer(jsonRequest(t, http.MethodPatch, "/v1/users/me", map[string]string{
		"favorite_venue_2": "Bad Venue!",
	}), token), mux)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	req, _ := http.NewRequest(http.MethodGet, "/v1/users/"+userID, nil)
	rr = executeRequest(req, mux)
	require.Equal(t, http.StatusOK, rr.Code)
	var public publicUser
	decodeData(t, rr, &public)
	require.Equal(t, "Breakfast person", public.Bio)
	require.Equal(t, "north-hall", public.FavoriteVenue1)
	require.NotContains(t, rr.Body.String(), "ana@example.edu")

	req, _ = http.NewRequest(http.MethodGet, "/v1/users/nobody", nil)
	rr = executeRequest(req, mux)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUploadAvatar(t *testing.T) {
	app := newTestApplication(t, config{})
	mux := app.mount()

	userID, token := register(t, mux, "Ana", "ana@example.edu")

	newUpload := func(contentType string) *http.Request {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="avatar"; filename="me.png"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte("\x89PNG fake image bytes"))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req, err := http.NewRequest(http.MethodPost, "/v1/users/me/avatar", &buf)
		require.NoError(t, err)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return withBearer(req, token)
	}

	rr := executeRequest(newUpload("text/plain"), mux)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = executeRequest(newUpload("image/png"), mux)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.True(t, strings.Contains(rr.Body.String(), "https://res.cloudinary.test/avatars/"+userID))
}

func TestRateLimiter(t *testing.T) {
	app := newTestApplication(t, config{
		rateLimiter: ratelimiter.Config{RequestsPerTimeFrame: 2, TimeFrame: time.Minute, Enabled: true},
	})
	mux := app.mount()

	// each request arrives on a fresh connection
	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, "/v1/venues/totals", nil)
		req.RemoteAddr = fmt.Sprintf("192.0.2.1:%d", 40000+i)
		require.Equal(t, http.StatusOK, executeRequest(req, mux).Code)
	}

	req, _ := http.NewRequest(http.MethodGet, "/v1/venues/totals", nil)
	req.RemoteAddr = "192.0.2.1:40002"
	rr := executeRequest(req, mux)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.NotEmpty(t, rr.Header().Get("Retry-After"))

	// another host has its own window
	req, _ = http.NewRequest(http.MethodGet, "/v1/venues/totals", nil)
	req.RemoteAddr = "198.51.100.7:40000"
	require.Equal(t, http.StatusOK, executeRequest(req, mux).Code)
}

func TestClientIP(t *testing.T) {
	for remote, want := range map[string]string{
		"192.0.2.1:1234":    "192.0.2.1",
		"[2001:db8::1]:443": "2001:db8::1",
		"192.0.2.1":         "192.0.2.1",
		"2001:db8::1":       "2001:db8::1",
	} {
		req, _ := http.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		require.Equal(t, want, clientIP(req), remote)
	}
}
