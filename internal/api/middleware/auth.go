package middleware

import (
	"net/http"
	"strings"

	"github.com/credbroker/broker/pkg/contracts"
	pkgmw "github.com/credbroker/broker/pkg/middleware"
	"github.com/rs/zerolog/log"
)

// Auth rejects unauthenticated requests outside the public paths and stores
// the caller's Identity in the request context.
type Auth struct {
	chain contracts.AuthProviderChain
	realm string
}

func NewAuth(chain contracts.AuthProviderChain, realm string) *Auth {
	if realm == "" {
		realm = "broker"
	}
	return &Auth{chain: chain, realm: realm}
}

// Handler returns the HTTP handler middleware that authenticates requests.
func (am *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAuthPublicPath(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := am.chain.Authenticate(r.Context(), r)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("Authentication failed")
			am.reject(w, "invalid token")
			return
		}
		if identity == nil {
			am.reject(w, "missing bearer token")
			return
		}

		next.ServeHTTP(w, r.WithContext(pkgmw.SetIdentity(r.Context(), identity)))
	})
}

func (am *Auth) reject(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+am.realm+`"`)
	writeError(w, http.StatusUnauthorized, message)
}

// isAuthPublicPath returns true for paths that skip authentication.
func isAuthPublicPath(path string) bool {
	switch path {
	case "/health", "/version", "/auth/token":
		return true
	}
	return !strings.HasPrefix(path, "/api/")
}
