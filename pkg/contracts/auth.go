// Package contracts holds the interfaces shared between the broker's HTTP
// layer and its pluggable authentication providers.
package contracts

import (
	"context"
	"net/http"
	"time"
)

// ── Identity ────────────────────────────────────────────────

// Identity represents an authenticated caller. Handlers never learn which
// provider produced it.
type Identity struct {
	// Subject is the unique identifier (service name, client ID).
	Subject string `json:"subject"`

	// Provider identifies which auth provider authenticated this identity.
	Provider string `json:"provider"`

	// Claims holds raw claims from the token.
	Claims map[string]string `json:"claims,omitempty"`

	// ExpiresAt is when the presented credential expires.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// ── AuthProvider ────────────────────────────────────────────

// AuthProvider authenticates an HTTP request and returns an Identity.
//
// The chain pattern:
//   - Return (*Identity, nil) → authenticated, stop chain
//   - Return (nil, nil) → this provider doesn't handle this request, try next
//   - Return (nil, error) → authentication was attempted but failed, reject
type AuthProvider interface {
	Name() string
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	Enabled() bool
}

// ── AuthProviderChain ───────────────────────────────────────

// AuthProviderChain tries providers in priority order until one returns an Identity.
type AuthProviderChain interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	RegisterProvider(provider AuthProvider)
}
