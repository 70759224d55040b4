package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/credbroker/broker/pkg/contracts"
)

// ErrMissingBearer is returned when a request carries no bearer token.
var ErrMissingBearer = errors.New("missing bearer token")

// BearerProvider authenticates `Authorization: Bearer <jwt>` headers against
// an Issuer. Requests without the header fall through to the next provider.
type BearerProvider struct {
	issuer *Issuer
}

func NewBearerProvider(issuer *Issuer) *BearerProvider {
	return &BearerProvider{issuer: issuer}
}

func (p *BearerProvider) Name() string  { return "jwt" }
func (p *BearerProvider) Enabled() bool { return p.issuer != nil }

func (p *BearerProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	token, ok := BearerToken(r)
	if !ok {
		return nil, nil
	}
	claims, err := p.issuer.Verify(token)
	if err != nil {
		return nil, err
	}
	id := &contracts.Identity{
		Subject:  claims.Subject,
		Provider: p.Name(),
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(h[7:])
	return tok, tok != ""
}

// ClientCredentials checks a client_id/client_secret pair for the token endpoint.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// Match compares in constant time.
func (c ClientCredentials) Match(id, secret string) bool {
	idOK := subtle.ConstantTimeCompare([]byte(id), []byte(c.ClientID)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(secret), []byte(c.ClientSecret)) == 1
	return idOK && secretOK
}
