// Package tokens resolves a credential's current access token, refreshing it
// through the provider's OAuth endpoint shortly before it expires.
package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/credbroker/broker/internal/store"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// RefreshSkew is how long before expiry a token is considered stale.
const RefreshSkew = 60 * time.Second

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken, clientID, clientSecret string) (accessToken string, expiresIn time.Duration, err error)
}

// Resolver looks up access tokens and refreshes stale ones.
type Resolver struct {
	store        store.TokenStore
	refresher    Refresher
	clientID     string
	clientSecret string
	now          func() time.Time
	group        singleflight.Group
}

func NewResolver(s store.TokenStore, r Refresher, clientID, clientSecret string) *Resolver {
	return &Resolver{
		store:        s,
		refresher:    r,
		clientID:     clientID,
		clientSecret: clientSecret,
		now:          time.Now,
	}
}

// AccessToken returns a usable access token for credentialID. A missing bundle
// is reported as *store.ErrNotFound. Concurrent refreshes for the same
// credential share one upstream call.
func (r *Resolver) AccessToken(ctx context.Context, credentialID string) (string, error) {
	bundle, err := r.store.GetTokenBundle(ctx, credentialID)
	if err != nil {
		return "", err
	}
	if bundle.AccessToken == "" {
		return "", &store.ErrNotFound{Entity: "token", Key: credentialID}
	}
	if bundle.Expiry == nil || bundle.RefreshToken == "" || r.refresher == nil {
		return bundle.AccessToken, nil
	}

	now := r.now()
	if now.Unix() < *bundle.Expiry-int64(RefreshSkew/time.Second) {
		return bundle.AccessToken, nil
	}

	v, err, _ := r.group.Do(credentialID, func() (any, error) {
		access, ttl, err := r.refresher.Refresh(ctx, bundle.RefreshToken, r.clientID, r.clientSecret)
		if err != nil {
			return "", fmt.Errorf("refresh access token: %w", err)
		}
		var expiry *int64
		if ttl > 0 {
			e := now.Add(ttl).Unix()
			expiry = &e
		}
		if err := r.store.UpdateAccessToken(ctx, credentialID, access, expiry); err != nil {
			return "", fmt.Errorf("store refreshed token: %w", err)
		}
		log.Info().Str("credential_id", credentialID).Msg("Access token refreshed")
		return access, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
