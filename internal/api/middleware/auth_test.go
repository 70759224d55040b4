package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/credbroker/broker/internal/auth"
	pkgmw "github.com/credbroker/broker/pkg/middleware"
)

func TestAuthHandler(t *testing.T) {
	issuer := auth.NewIssuer("secret", "app-server", time.Minute)
	good, _, err := issuer.IssueDefault("app-server")
	if err != nil {
		t.Fatalf("IssueDefault() error = %v", err)
	}
	other, _, _ := auth.NewIssuer("other", "app-server", time.Minute).IssueDefault("app-server")

	var subject string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = ""
		if id := pkgmw.GetIdentity(r.Context()); id != nil {
			subject = id.Subject
		}
		w.WriteHeader(http.StatusNoContent)
	})
	h := NewAuth(auth.NewProviderChain(auth.NewBearerProvider(issuer)), "").Handler(next)

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantError  string
	}{
		{"public health", "/health", "", http.StatusNoContent, ""},
		{"public token endpoint", "/auth/token", "", http.StatusNoContent, ""},
		{"missing bearer", "/api/v1/credentials", "", http.StatusUnauthorized, "missing bearer token"},
		{"wrong key", "/api/v1/credentials", "Bearer " + other, http.StatusUnauthorized, "invalid token"},
		{"garbage", "/api/gemini/x/generate", "Bearer not-a-jwt", http.StatusUnauthorized, "invalid token"},
		{"valid", "/api/v1/credentials", "Bearer " + good, http.StatusNoContent, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantError == "" {
				return
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != tt.wantError {
				t.Errorf("error = %q, want %q", body["error"], tt.wantError)
			}
			if got := rec.Header().Get("WWW-Authenticate"); got != `Bearer realm="broker"` {
				t.Errorf("WWW-Authenticate = %q", got)
			}
		})
	}

	if subject != "app-server" {
		t.Errorf("subject = %q, want %q", subject, "app-server")
	}
}
