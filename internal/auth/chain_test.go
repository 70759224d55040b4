package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/credbroker/broker/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProvider struct {
	name string
	id   *contracts.Identity
	err  error
}

func (s *staticProvider) Name() string  { return s.name }
func (s *staticProvider) Enabled() bool { return true }
func (s *staticProvider) Authenticate(context.Context, *http.Request) (*contracts.Identity, error) {
	return s.id, s.err
}

func TestChainStopsAtFirstIdentity(t *testing.T) {
	chain := NewProviderChain(
		&staticProvider{name: "skip"},
		&staticProvider{name: "hit", id: &contracts.Identity{Subject: "svc"}},
		&staticProvider{name: "never", err: errors.New("should not run")},
	)
	id, err := chain.Authenticate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "svc", id.Subject)
	assert.Equal(t, []string{"skip", "hit", "never"}, chain.ListProviders())
}

func TestBearerProvider(t *testing.T) {
	iss := NewIssuer("secret", "app-server", time.Minute)
	p := NewBearerProvider(iss)
	tok, _, err := iss.IssueDefault("app-server")
	require.NoError(t, err)

	t.Run("no header falls through", func(t *testing.T) {
		id, err := p.Authenticate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NoError(t, err)
		assert.Nil(t, id)
	})

	t.Run("valid token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+tok)
		id, err := p.Authenticate(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, "app-server", id.Subject)
		assert.Equal(t, "jwt", id.Provider)
	})

	t.Run("bad token rejects", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "bearer garbage")
		_, err := p.Authenticate(context.Background(), r)
		var inv *InvalidTokenError
		assert.True(t, errors.As(err, &inv))
	})
}

func TestClientCredentialsMatch(t *testing.T) {
	cc := ClientCredentials{ClientID: "dummy-client", ClientSecret: "dummy-secret"}
	assert.True(t, cc.Match("dummy-client", "dummy-secret"))
	assert.False(t, cc.Match("dummy-client", "wrong"))
	assert.False(t, cc.Match("", ""))
}
