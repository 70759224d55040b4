package tokens

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/credbroker/broker/internal/store"
	"github.com/credbroker/broker/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	calls int
	token string
	ttl   time.Duration
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken, clientID, clientSecret string) (string, time.Duration, error) {
	f.calls++
	return f.token, f.ttl, f.err
}

func setup(t *testing.T, bundle *models.TokenBundle) (*store.MemoryStore, *fakeRefresher, *Resolver) {
	t.Helper()
	s := store.NewMemoryStore(nil, "")
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	require.NoError(t, s.CreateCredential(ctx, &models.Credential{ID: "cred1", Provider: models.ProviderGoogleCalendar, Name: "cal"}))
	if bundle != nil {
		bundle.CredentialID = "cred1"
		require.NoError(t, s.PutTokenBundle(ctx, bundle))
	}
	f := &fakeRefresher{token: "fresh", ttl: time.Hour}
	r := NewResolver(s, f, "cid", "secret")
	r.now = func() time.Time { return time.Unix(1_000_000, 0) }
	return s, f, r
}

func ptr(v int64) *int64 { return &v }

func TestAccessTokenStillValid(t *testing.T) {
	_, f, r := setup(t, &models.TokenBundle{AccessToken: "at", RefreshToken: "rt", Expiry: ptr(1_000_000 + 120)})
	tok, err := r.AccessToken(context.Background(), "cred1")
	require.NoError(t, err)
	assert.Equal(t, "at", tok)
	assert.Zero(t, f.calls)
}

func TestAccessTokenRefreshesWithinSkew(t *testing.T) {
	s, f, r := setup(t, &models.TokenBundle{AccessToken: "at", RefreshToken: "rt", Expiry: ptr(1_000_000 + 30)})
	tok, err := r.AccessToken(context.Background(), "cred1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.Equal(t, 1, f.calls)

	b, _ := s.GetTokenBundle(context.Background(), "cred1")
	assert.Equal(t, "fresh", b.AccessToken)
	assert.Equal(t, "rt", b.RefreshToken)
	require.NotNil(t, b.Expiry)
	assert.Equal(t, int64(1_000_000+3600), *b.Expiry)
}

func TestAccessTokenWithoutRefreshTokenIsReturnedAsIs(t *testing.T) {
	_, f, r := setup(t, &models.TokenBundle{AccessToken: "at", Expiry: ptr(1)})
	tok, err := r.AccessToken(context.Background(), "cred1")
	require.NoError(t, err)
	assert.Equal(t, "at", tok)
	assert.Zero(t, f.calls)
}

func TestAccessTokenMissingBundle(t *testing.T) {
	_, _, r := setup(t, nil)
	_, err := r.AccessToken(context.Background(), "cred1")
	var nf *store.ErrNotFound
	assert.True(t, errors.As(err, &nf))
}

func TestAccessTokenRefreshFailure(t *testing.T) {
	_, f, r := setup(t, &models.TokenBundle{AccessToken: "at", RefreshToken: "rt", Expiry: ptr(1)})
	f.err = errors.New("invalid_grant")
	_, err := r.AccessToken(context.Background(), "cred1")
	assert.ErrorContains(t, err, "invalid_grant")
}
