package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	iss := NewIssuer("secret", "app-server", 15*time.Minute)

	tok, exp, err := iss.IssueDefault("app-server")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), exp, 2*time.Second)

	claims, err := iss.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "app-server", claims.Subject)
	assert.Equal(t, "app-server", claims.Issuer)
}

func TestVerifyRejects(t *testing.T) {
	good := NewIssuer("secret", "app-server", time.Minute)

	otherSecret, _, _ := NewIssuer("other", "app-server", time.Minute).IssueDefault("x")
	otherIssuer, _, _ := NewIssuer("secret", "someone-else", time.Minute).IssueDefault("x")

	past := NewIssuer("secret", "app-server", time.Minute)
	past.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, _, _ := past.IssueDefault("x")

	cases := map[string]struct {
		token  string
		reason string
	}{
		"bad signature": {otherSecret, "bad signature"},
		"wrong issuer":  {otherIssuer, "wrong issuer"},
		"expired":       {expired, "expired"},
		"malformed":     {"not-a-jwt", "malformed"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := good.Verify(tc.token)
			var inv *InvalidTokenError
			require.True(t, errors.As(err, &inv), "want InvalidTokenError, got %v", err)
			assert.Equal(t, tc.reason, inv.Reason)
		})
	}
}
