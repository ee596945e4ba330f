package profile_test

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"

	"bites/internal/domain/storage"
	"bites/internal/domain/users"
	"bites/internal/ledger"
	"bites/internal/profile"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentMail struct {
	template, username, email string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) Send(templateFile, username, email string, data any) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return -1, f.err
	}
	f.sent = append(f.sent, sentMail{templateFile, username, email})
	return 200, nil
}

func newService(t *testing.T) (*profile.Service, *storage.Container, *fakeMailer) {
	t.Helper()
	container := storage.NewContainer(ledger.NewMemoryStore())
	mail := &fakeMailer{}
	require.NoError(t, container.Users.Create(context.Background(), &users.User{ID: "u1", Name: "Ana"}))
	return profile.NewService(container, mail, zap.NewNop().Sugar()), container, mail
}

func TestEditFields(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.EditBio(ctx, "u1", "vegetarian, night owl"))
	require.NoError(t, svc.EditAvatar(ctx, "u1", "https://img.example/ana.png"))
	require.NoError(t, svc.EditFavoriteVenue(ctx, "u1", 1, "north-hall"))
	require.NoError(t, svc.EditFavoriteVenue(ctx, "u1", 2, "south-hall"))

	user, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "vegetarian, night owl", user.Bio)
	require.Equal(t, "https://img.example/ana.png", user.AvatarURL)
	require.Equal(t, "north-hall", user.FavoriteVenue1)
	require.Equal(t, "south-hall", user.FavoriteVenue2)
}

func TestEmptyValueIsNoop(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.EditBio(ctx, "u1", "hello"))
	require.NoError(t, svc.EditBio(ctx, "u1", ""))
	require.NoError(t, svc.EditFavoriteVenue(ctx, "u1", 1, ""))

	// even for a user that does not exist
	require.NoError(t, svc.EditAvatar(ctx, "ghost", ""))

	user, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "hello", user.Bio)
}

func TestEditMissingUser(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	err := svc.EditBio(ctx, "ghost", "hi")
	require.ErrorIs(t, err, profile.ErrNotFound)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = svc.Get(ctx, "ghost")
	require.ErrorIs(t, err, profile.ErrNotFound)
}

func TestEditInvalidSlot(t *testing.T) {
	svc, _, _ := newService(t)

	for _, slot := range []int{0, 3, -1} {
		err := svc.EditFavoriteVenue(context.Background(), "u1", slot, "north-hall")
		require.ErrorIs(t, err, profile.ErrInvalidSlot)
	}
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc, _, mail := newService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Cy", " Cy@Example.edu ", "s3cret-pass")
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)
	require.Equal(t, users.ProviderLocal, user.AuthProvider)
	require.Equal(t, "cy@example.edu", user.Email)
	require.Len(t, mail.sent, 1)
	require.Equal(t, "cy@example.edu", mail.sent[0].email)

	stored, err := svc.Get(ctx, user.ID)
	require.NoError(t, err)
	require.Empty(t, stored.ReviewIDs)
	require.Empty(t, stored.AttendanceIDs)

	got, err := svc.Authenticate(ctx, "cy@example.edu", "s3cret-pass")
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)

	_, err = svc.Authenticate(ctx, "cy@example.edu", "wrong")
	require.ErrorIs(t, err, profile.ErrInvalidLogin)

	_, err = svc.Authenticate(ctx, "nobody@example.edu", "s3cret-pass")
	require.ErrorIs(t, err, profile.ErrInvalidLogin)

	_, err = svc.Register(ctx, "Cy again", "cy@example.edu", "another-pass")
	require.ErrorIs(t, err, profile.ErrDuplicateEmail)
}

func TestRegisterSurvivesMailFailure(t *testing.T) {
	svc, _, mail := newService(t)
	mail.err = errors.New("smtp down")

	user, err := svc.Register(context.Background(), "Dee", "dee@example.edu", "pass1234")
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)
}

func TestSignInFederated(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	identity := profile.FederatedIdentity{
		UID:      "google-123",
		Name:     "Eve",
		Email:    "eve@example.edu",
		PhotoURL: "https://img.example/eve.png",
	}

	user, created, err := svc.SignInFederated(ctx, identity)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "google-123", user.ID)
	require.Equal(t, users.ProviderGoogle, user.AuthProvider)

	again, created, err := svc.SignInFederated(ctx, identity)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, user.ID, again.ID)

	// federated accounts have no local password
	_, err = svc.Authenticate(ctx, "eve@example.edu", "")
	require.ErrorIs(t, err, profile.ErrInvalidLogin)

	_, _, err = svc.SignInFederated(ctx, profile.FederatedIdentity{Name: "nobody"})
	require.ErrorIs(t, err, profile.ErrMissingIdentity)
}

func TestConcurrentRegisterSameEmail(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Register(ctx, "Fay", "fay@example.edu", "pass1234")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	registered := 0
	for err := range errs {
		if err == nil {
			registered++
			continue
		}
		require.ErrorIs(t, err, profile.ErrDuplicateEmail)
	}
	require.Equal(t, 1, registered)
}

// laggingStore serves scans from before the first write, as a replica
// that has not caught up would.
type laggingStore struct {
	ledger.Store
}

func (laggingStore) ScanWhere(context.Context, string, string, any) iter.Seq2[ledger.Document, error] {
	return func(func(ledger.Document, error) bool) {}
}

func TestFederatedSignInKeepsExistingUser(t *testing.T) {
	container := storage.NewContainer(laggingStore{Store: ledger.NewMemoryStore()})
	svc := profile.NewService(container, &fakeMailer{}, zap.NewNop().Sugar())
	ctx := context.Background()
	identity := profile.FederatedIdentity{UID: "google-9", Name: "Gus"}

	_, created, err := svc.SignInFederated(ctx, identity)
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, container.Users.AppendReview(ctx, "google-9", "r1"))

	// the lookup misses, so this goes down the create path
	user, created, err := svc.SignInFederated(ctx, profile.FederatedIdentity{UID: "google-9", Name: "Someone else"})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "Gus", user.Name)
	require.Equal(t, []string{"r1"}, user.ReviewIDs)
}
